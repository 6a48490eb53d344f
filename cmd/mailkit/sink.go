package main

import (
	"github.com/spf13/cobra"

	"github.com/shineum/mailkit/internal/config"
	"github.com/shineum/mailkit/internal/sink"
	sinktls "github.com/shineum/mailkit/internal/tls"
)

func newSinkCmd(a *app) *cobra.Command {
	var (
		providerName string
		noTLS        bool
	)

	cmd := &cobra.Command{
		Use:   "sink",
		Short: "Run a capture SMTP server that relays every message it accepts",
		Long: `Run a capture SMTP server. Each accepted message is parsed and sent again
through the selected provider: the --provider flag, then the configured
provider, then stdout.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signalContext(cmd.Context())
			defer cancel()

			cfg := a.cfg
			if providerName == "" {
				providerName = cfg.Provider
			}
			if providerName == "" {
				providerName = config.ProviderStdout
			}
			s, err := a.sender(ctx, providerName)
			if err != nil {
				return err
			}

			srvCfg := sink.Config{
				Hostname:       cfg.Sink.Hostname,
				Username:       cfg.Sink.Username,
				Password:       cfg.Sink.Password,
				MaxMessageSize: cfg.Sink.MaxMessageSize,
				Logger:         a.logger,
			}
			tlsMode := "disabled"
			if !noTLS {
				srvCfg.TLSConfig, err = sinktls.ServerConfig(cfg.TLS.CertFile, cfg.TLS.KeyFile, cfg.Sink.Hostname)
				if err != nil {
					return err
				}
				tlsMode = "self-signed"
				if cfg.TLS.CertFile != "" {
					tlsMode = "file"
				}
			}

			a.serveMetrics(ctx)

			a.logger.Info("starting mailkit sink",
				"listen", cfg.Sink.Listen,
				"provider", s.Name(),
				"auth_enabled", cfg.SinkAuthEnabled(),
				"tls_mode", tlsMode,
			)

			srv := sink.New(srvCfg, sink.Relay(s, a.logger))
			if err := srv.ListenAndServe(ctx, cfg.Sink.Listen); err != nil {
				return err
			}

			a.logger.Info("mailkit sink stopped")
			return nil
		},
	}

	cmd.Flags().StringVar(&providerName, "provider", "", "provider captured mail is relayed through (default from configuration, else stdout)")
	cmd.Flags().BoolVar(&noTLS, "no-tls", false, "do not offer STARTTLS")
	return cmd
}
