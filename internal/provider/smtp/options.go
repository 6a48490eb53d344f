package smtp

import (
	"log/slog"
	"strings"

	"github.com/shineum/mailkit/internal/email"
)

// TLSMode selects how the connection to the SMTP server is secured.
type TLSMode string

const (
	// TLSStartTLS upgrades a plaintext connection with STARTTLS when the
	// server advertises it.
	TLSStartTLS TLSMode = "starttls"
	// TLSImplicit connects with TLS from the first byte (SMTPS).
	TLSImplicit TLSMode = "ssl"
	// TLSNone never negotiates TLS.
	TLSNone TLSMode = "none"
)

// ParseTLSMode maps a configuration string to a TLSMode, defaulting to
// TLSStartTLS for empty or unknown values.
func ParseTLSMode(s string) TLSMode {
	switch TLSMode(strings.ToLower(strings.TrimSpace(s))) {
	case TLSImplicit, "smtps", "tls":
		return TLSImplicit
	case TLSNone:
		return TLSNone
	default:
		return TLSStartTLS
	}
}

// Options configures an SMTP Sender.
type Options struct {
	Host     string `validate:"required"`
	Port     int    `validate:"required,min=1,max=65535"`
	Username string `validate:"required"`
	Password string `validate:"required"`

	// From is the sender mailbox. When nil, Username is used as both the
	// address and the display name.
	From *email.Address

	TLSMode            TLSMode
	InsecureSkipVerify bool
}

// Outlook365 returns options for the Office 365 submission endpoint.
func Outlook365(username, password string) Options {
	return Options{
		Host:     "smtp.office365.com",
		Port:     587,
		Username: username,
		Password: password,
		TLSMode:  TLSStartTLS,
	}
}

// FromAddress returns the mailbox messages are sent from.
func (o Options) FromAddress() email.Address {
	if o.From == nil || o.From.Address == "" {
		return email.Address{Address: o.Username, DisplayName: o.Username}
	}
	return email.Address{Address: o.From.Address, DisplayName: o.From.Name()}
}

// LogValue implements slog.LogValuer and leaves the password out.
func (o Options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", o.Host),
		slog.Int("port", o.Port),
		slog.String("username", o.Username),
		slog.String("from", o.FromAddress().Address),
		slog.String("tls_mode", string(o.TLSMode)),
	)
}
