// Command mailkit sends mail through any configured provider and runs a
// capture SMTP sink that relays what it receives.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/shineum/mailkit/internal/config"
	"github.com/shineum/mailkit/internal/metrics"
	"github.com/shineum/mailkit/internal/provider"
	"github.com/shineum/mailkit/internal/tracing"
)

// app holds what every subcommand needs once configuration is loaded.
type app struct {
	cfg      *config.Config
	logger   *slog.Logger
	observer provider.Observer
	tracer   trace.TracerProvider
	registry *prometheus.Registry
	stdout   io.Writer
}

func main() {
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		os.Exit(1)
	}
}

// newRootCmd builds the command tree. The stdout provider prints to out.
func newRootCmd(out io.Writer) *cobra.Command {
	var (
		configPath string
		envFiles   []string
		a          = &app{stdout: out}
	)

	root := &cobra.Command{
		Use:          "mailkit",
		Short:        "Send mail through SMTP, Mandrill, SES or Microsoft Graph",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			loadEnvFiles(envFiles)

			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			return a.init(cfg, cmd.ErrOrStderr())
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML configuration file (optional)")
	root.PersistentFlags().StringSliceVar(&envFiles, "env-file", []string{".env"}, "dotenv files loaded before configuration; missing files are skipped")

	root.AddCommand(newSendCmd(a), newSinkCmd(a))
	return root
}

// loadEnvFiles loads each file that exists. Variables already set in the
// environment win.
func loadEnvFiles(files []string) {
	for _, f := range files {
		if _, err := os.Stat(f); err != nil {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			slog.Warn("failed to load env file", "file", f, "error", err)
		}
	}
}

// loadConfig loads configuration from the specified path (YAML + env override)
// or from environment variables only if no path is given.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromFile(path)
	}
	return config.Load()
}

func (a *app) init(cfg *config.Config, logOutput io.Writer) error {
	a.cfg = cfg
	a.logger = setupLogger(logOutput, cfg.Logging.Level)
	a.logger.Debug("configuration loaded", "config", cfg)

	a.registry = prometheus.NewRegistry()
	m, err := metrics.New(a.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}
	a.observer = provider.Observers{provider.LogObserver(a.logger), m}

	if cfg.Tracing.Enabled {
		a.tracer = tracing.NewProvider(a.logger)
	} else {
		a.tracer = noop.NewTracerProvider()
	}
	return nil
}

// sender builds the configured provider wrapped in tracing.
func (a *app) sender(ctx context.Context, name string) (provider.Sender, error) {
	s, err := selectProvider(ctx, a.cfg, name, a.observer, a.stdout, a.logger)
	if err != nil {
		return nil, err
	}
	return tracing.Wrap(s, a.tracer), nil
}

// serveMetrics exposes /metrics until ctx is cancelled. It is a no-op when
// no listen address is configured.
func (a *app) serveMetrics(ctx context.Context) {
	if a.cfg.Metrics.Listen == "" {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(a.registry))
	srv := &http.Server{
		Addr:              a.cfg.Metrics.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		a.logger.Info("metrics endpoint listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()
	context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	})
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGTERM, syscall.SIGINT)
}

// setupLogger returns a JSON logger at the given level and installs it as
// the slog default.
func setupLogger(w io.Writer, level string) *slog.Logger {
	var logLevel slog.Level

	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)
	return logger
}
