package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/shineum/mailkit/internal/config"
	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
	"github.com/shineum/mailkit/internal/provider/graph"
	"github.com/shineum/mailkit/internal/provider/mandrill"
	"github.com/shineum/mailkit/internal/provider/ses"
	"github.com/shineum/mailkit/internal/provider/smtp"
	"github.com/shineum/mailkit/internal/provider/stdout"
)

// selectProvider chooses the email delivery backend. name overrides the
// configured provider. With neither set, the first fully configured
// backend is used in the order smtp, mandrill, graph, ses, falling back
// to stdout.
func selectProvider(ctx context.Context, cfg *config.Config, name string, obs provider.Observer, out io.Writer, logger *slog.Logger) (provider.Sender, error) {
	if name == "" {
		name = cfg.Provider
	}

	switch strings.ToLower(name) {
	case config.ProviderSMTP:
		if !cfg.SMTPConfigured() {
			return nil, fmt.Errorf("smtp provider selected but SMTP_HOST (or SMTP_PRESET), SMTP_USERNAME and SMTP_PASSWORD are required")
		}
		return newSMTP(cfg, obs, logger)

	case config.ProviderMandrill:
		if !cfg.MandrillConfigured() {
			return nil, fmt.Errorf("mandrill provider selected but MANDRILL_API_KEY and MANDRILL_FROM are required")
		}
		return newMandrill(cfg, obs, logger)

	case config.ProviderSES:
		if !cfg.SESConfigured() {
			return nil, fmt.Errorf("ses provider selected but SES_REGION and SES_SENDER are required")
		}
		return newSES(ctx, cfg, obs, logger)

	case config.ProviderGraph:
		if !cfg.GraphConfigured() {
			return nil, fmt.Errorf("graph provider selected but GRAPH_TENANT_ID, GRAPH_CLIENT_ID, GRAPH_CLIENT_SECRET and GRAPH_SENDER are required")
		}
		return newGraph(cfg, obs, logger)

	case config.ProviderStdout:
		logger.Info("using stdout provider")
		return stdout.New(stdout.WithWriter(out), stdout.WithObserver(obs)), nil

	case "":
		switch {
		case cfg.SMTPConfigured():
			return newSMTP(cfg, obs, logger)
		case cfg.MandrillConfigured():
			return newMandrill(cfg, obs, logger)
		case cfg.GraphConfigured():
			return newGraph(cfg, obs, logger)
		case cfg.SESConfigured():
			return newSES(ctx, cfg, obs, logger)
		}
		logger.Info("no provider configured, using stdout provider")
		return stdout.New(stdout.WithWriter(out), stdout.WithObserver(obs)), nil

	default:
		return nil, fmt.Errorf("unknown provider %q", name)
	}
}

func newSMTP(cfg *config.Config, obs provider.Observer, logger *slog.Logger) (provider.Sender, error) {
	opts := smtp.Options{
		Host:     cfg.SMTP.Host,
		Port:     cfg.SMTP.Port,
		Username: cfg.SMTP.Username,
		Password: cfg.SMTP.Password,
	}
	switch strings.ToLower(cfg.SMTP.Preset) {
	case "":
	case "outlook365":
		opts = smtp.Outlook365(cfg.SMTP.Username, cfg.SMTP.Password)
	default:
		return nil, fmt.Errorf("unknown SMTP preset %q", cfg.SMTP.Preset)
	}

	if cfg.SMTP.From != "" {
		from := email.NewAddress(cfg.SMTP.From, cfg.SMTP.FromName)
		opts.From = &from
	}
	opts.TLSMode = smtp.ParseTLSMode(cfg.SMTP.TLSMode)
	opts.InsecureSkipVerify = cfg.SMTP.InsecureSkipVerify

	s, err := smtp.New(opts, smtp.WithObserver(obs))
	if err != nil {
		return nil, fmt.Errorf("failed to create SMTP provider: %w", err)
	}
	logger.Info("using SMTP provider", "options", opts)
	return s, nil
}

func newMandrill(cfg *config.Config, obs provider.Observer, logger *slog.Logger) (provider.Sender, error) {
	opts := mandrill.Options{
		APIKey:  cfg.Mandrill.APIKey,
		From:    email.NewAddress(cfg.Mandrill.From, cfg.Mandrill.FromName),
		BaseURL: cfg.Mandrill.BaseURL,
	}
	s, err := mandrill.New(opts, mandrill.WithObserver(obs))
	if err != nil {
		return nil, fmt.Errorf("failed to create Mandrill provider: %w", err)
	}
	logger.Info("using Mandrill provider", "options", opts)
	return s, nil
}

func newSES(ctx context.Context, cfg *config.Config, obs provider.Observer, logger *slog.Logger) (provider.Sender, error) {
	opts := ses.Options{
		Region:           cfg.SES.Region,
		From:             email.NewAddress(cfg.SES.Sender, cfg.SES.SenderName),
		AccessKeyID:      cfg.SES.AccessKeyID,
		SecretAccessKey:  cfg.SES.SecretAccessKey,
		ConfigurationSet: cfg.SES.ConfigurationSet,
	}
	s, err := ses.New(ctx, opts, ses.WithObserver(obs))
	if err != nil {
		return nil, fmt.Errorf("failed to create SES provider: %w", err)
	}
	logger.Info("using AWS SES provider", "options", opts)
	return s, nil
}

func newGraph(cfg *config.Config, obs provider.Observer, logger *slog.Logger) (provider.Sender, error) {
	opts := graph.Options{
		TenantID:        cfg.Graph.TenantID,
		ClientID:        cfg.Graph.ClientID,
		ClientSecret:    cfg.Graph.ClientSecret,
		From:            email.NewAddress(cfg.Graph.Sender, ""),
		SaveToSentItems: cfg.Graph.SaveToSentItems,
	}
	s, err := graph.New(opts, graph.WithObserver(obs))
	if err != nil {
		return nil, fmt.Errorf("failed to create Graph provider: %w", err)
	}
	logger.Info("using Microsoft Graph provider", "options", opts)
	return s, nil
}
