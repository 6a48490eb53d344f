// Package config provides environment-variable-first configuration loading
// with optional YAML file fallback for the mailkit command.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// defaultMaxMessageSize is 25 MB in bytes.
const defaultMaxMessageSize = 26214400

// Provider names accepted in the provider field.
const (
	ProviderSMTP     = "smtp"
	ProviderMandrill = "mandrill"
	ProviderSES      = "ses"
	ProviderGraph    = "graph"
	ProviderStdout   = "stdout"
)

// Config holds the complete application configuration.
type Config struct {
	// Provider selects the delivery backend. Empty means auto-detect.
	Provider string         `yaml:"provider"`
	SMTP     SMTPConfig     `yaml:"smtp"`
	Mandrill MandrillConfig `yaml:"mandrill"`
	SES      SESConfig      `yaml:"ses"`
	Graph    GraphConfig    `yaml:"graph"`
	Sink     SinkConfig     `yaml:"sink"`
	TLS      TLSConfig      `yaml:"tls"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// SMTPConfig holds the outbound SMTP server settings.
type SMTPConfig struct {
	// Preset fills host and port for a known service. Only "outlook365"
	// is recognized.
	Preset             string `yaml:"preset"`
	Host               string `yaml:"host"`
	Port               int    `yaml:"port"`
	Username           string `yaml:"username"`
	Password           string `yaml:"password"`
	From               string `yaml:"from"`
	FromName           string `yaml:"from_name"`
	TLSMode            string `yaml:"tls_mode"`
	InsecureSkipVerify bool   `yaml:"insecure_skip_verify"`
}

// MandrillConfig holds Mandrill API settings.
type MandrillConfig struct {
	APIKey   string `yaml:"api_key"`
	From     string `yaml:"from"`
	FromName string `yaml:"from_name"`
	BaseURL  string `yaml:"base_url"`
}

// SESConfig holds AWS SES settings. Without static keys the default AWS
// credential chain is used.
type SESConfig struct {
	Region           string `yaml:"region"`
	AccessKeyID      string `yaml:"access_key_id"`
	SecretAccessKey  string `yaml:"secret_access_key"`
	Sender           string `yaml:"sender"`
	SenderName       string `yaml:"sender_name"`
	ConfigurationSet string `yaml:"configuration_set"`
}

// GraphConfig holds Microsoft Graph API configuration.
type GraphConfig struct {
	TenantID        string `yaml:"tenant_id"`
	ClientID        string `yaml:"client_id"`
	ClientSecret    string `yaml:"client_secret"`
	Sender          string `yaml:"sender"`
	SaveToSentItems bool   `yaml:"save_to_sent_items"`
}

// SinkConfig holds the capture SMTP server configuration.
type SinkConfig struct {
	Listen         string `yaml:"listen"`
	Hostname       string `yaml:"hostname"`
	Username       string `yaml:"username"`
	Password       string `yaml:"password"`
	MaxMessageSize int64  `yaml:"max_message_size"`
}

// TLSConfig holds TLS certificate file paths for the sink.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// MetricsConfig holds the Prometheus endpoint configuration. An empty
// listen address disables the endpoint.
type MetricsConfig struct {
	Listen string `yaml:"listen"`
}

// TracingConfig enables span logging at debug level.
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Load loads configuration from environment variables with sensible defaults.
// Environment variables always take precedence.
func Load() (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()
	cfg.applyEnvVars()
	return cfg, nil
}

// LoadFromFile loads configuration from a YAML file as the base layer,
// then overrides with environment variables. Returns an error if the
// specified file path does not exist.
func LoadFromFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.applyDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Environment variables always override YAML values
	cfg.applyEnvVars()
	cfg.Provider = strings.ToLower(cfg.Provider)

	return cfg, nil
}

// SMTPConfigured returns true if the SMTP host or a preset, and the
// credentials, are set.
func (c *Config) SMTPConfigured() bool {
	return (c.SMTP.Host != "" || c.SMTP.Preset != "") &&
		c.SMTP.Username != "" && c.SMTP.Password != ""
}

// MandrillConfigured returns true if the Mandrill API key and sender are set.
func (c *Config) MandrillConfigured() bool {
	return c.Mandrill.APIKey != "" && c.Mandrill.From != ""
}

// SESConfigured returns true if the SES region and sender are set.
func (c *Config) SESConfigured() bool {
	return c.SES.Region != "" && c.SES.Sender != ""
}

// GraphConfigured returns true if all four Graph API credentials are set.
func (c *Config) GraphConfigured() bool {
	return c.Graph.TenantID != "" &&
		c.Graph.ClientID != "" &&
		c.Graph.ClientSecret != "" &&
		c.Graph.Sender != ""
}

// SinkAuthEnabled returns true if both sink username and password are set.
func (c *Config) SinkAuthEnabled() bool {
	return c.Sink.Username != "" && c.Sink.Password != ""
}

// LogValue implements slog.LogValuer. Passwords, API keys and secrets are
// reported only as set or unset.
func (c *Config) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("provider", c.Provider),
		slog.Group("smtp",
			slog.String("host", c.SMTP.Host),
			slog.Int("port", c.SMTP.Port),
			slog.String("username", c.SMTP.Username),
			slog.Bool("password_set", c.SMTP.Password != ""),
			slog.String("from", c.SMTP.From),
			slog.String("tls_mode", c.SMTP.TLSMode),
		),
		slog.Group("mandrill",
			slog.String("from", c.Mandrill.From),
			slog.String("base_url", c.Mandrill.BaseURL),
			slog.Bool("api_key_set", c.Mandrill.APIKey != ""),
		),
		slog.Group("ses",
			slog.String("region", c.SES.Region),
			slog.String("sender", c.SES.Sender),
			slog.Bool("static_credentials", c.SES.AccessKeyID != ""),
		),
		slog.Group("graph",
			slog.String("tenant_id", c.Graph.TenantID),
			slog.String("client_id", c.Graph.ClientID),
			slog.String("sender", c.Graph.Sender),
			slog.Bool("client_secret_set", c.Graph.ClientSecret != ""),
		),
		slog.Group("sink",
			slog.String("listen", c.Sink.Listen),
			slog.Bool("auth_enabled", c.SinkAuthEnabled()),
			slog.Int64("max_message_size", c.Sink.MaxMessageSize),
		),
		slog.String("metrics_listen", c.Metrics.Listen),
		slog.Bool("tracing_enabled", c.Tracing.Enabled),
	)
}

// applyDefaults sets sensible default values for all configuration fields.
func (c *Config) applyDefaults() {
	c.SMTP.Port = 587
	c.SMTP.TLSMode = "starttls"
	c.Sink.Listen = ":2525"
	c.Sink.Hostname = "localhost"
	c.Sink.MaxMessageSize = defaultMaxMessageSize
	c.Logging.Level = "info"
}

// applyEnvVars overrides configuration with environment variable values.
// Only non-empty environment variables override existing values.
func (c *Config) applyEnvVars() {
	if v := os.Getenv("PROVIDER"); v != "" {
		c.Provider = strings.ToLower(v)
	}

	envString("SMTP_PRESET", &c.SMTP.Preset)
	envString("SMTP_HOST", &c.SMTP.Host)
	envInt("SMTP_PORT", &c.SMTP.Port)
	envString("SMTP_USERNAME", &c.SMTP.Username)
	envString("SMTP_PASSWORD", &c.SMTP.Password)
	envString("SMTP_FROM", &c.SMTP.From)
	envString("SMTP_FROM_NAME", &c.SMTP.FromName)
	envString("SMTP_TLS_MODE", &c.SMTP.TLSMode)
	envBool("SMTP_INSECURE_SKIP_VERIFY", &c.SMTP.InsecureSkipVerify)

	envString("MANDRILL_API_KEY", &c.Mandrill.APIKey)
	envString("MANDRILL_FROM", &c.Mandrill.From)
	envString("MANDRILL_FROM_NAME", &c.Mandrill.FromName)
	envString("MANDRILL_BASE_URL", &c.Mandrill.BaseURL)

	envString("SES_REGION", &c.SES.Region)
	envString("SES_ACCESS_KEY_ID", &c.SES.AccessKeyID)
	envString("SES_SECRET_ACCESS_KEY", &c.SES.SecretAccessKey)
	envString("SES_SENDER", &c.SES.Sender)
	envString("SES_SENDER_NAME", &c.SES.SenderName)
	envString("SES_CONFIGURATION_SET", &c.SES.ConfigurationSet)

	envString("GRAPH_TENANT_ID", &c.Graph.TenantID)
	envString("GRAPH_CLIENT_ID", &c.Graph.ClientID)
	envString("GRAPH_CLIENT_SECRET", &c.Graph.ClientSecret)
	envString("GRAPH_SENDER", &c.Graph.Sender)
	envBool("GRAPH_SAVE_TO_SENT_ITEMS", &c.Graph.SaveToSentItems)

	envString("SINK_LISTEN", &c.Sink.Listen)
	envString("SINK_HOSTNAME", &c.Sink.Hostname)
	envString("SINK_USERNAME", &c.Sink.Username)
	envString("SINK_PASSWORD", &c.Sink.Password)
	if v := os.Getenv("SINK_MAX_MESSAGE_SIZE"); v != "" {
		if size, err := strconv.ParseInt(v, 10, 64); err == nil {
			c.Sink.MaxMessageSize = size
		}
	}

	envString("TLS_CERT_FILE", &c.TLS.CertFile)
	envString("TLS_KEY_FILE", &c.TLS.KeyFile)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = strings.ToLower(v)
	}
	envString("METRICS_LISTEN", &c.Metrics.Listen)
	envBool("TRACING_ENABLED", &c.Tracing.Enabled)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

// envInt ignores values that are not integers.
func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

// envBool ignores values strconv.ParseBool rejects.
func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
