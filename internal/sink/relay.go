package sink

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/samber/lo"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/parser"
	"github.com/shineum/mailkit/internal/provider"
)

// Relay returns a Handler that parses each envelope and sends it again
// through s. Envelope recipients missing from the To and Cc headers are
// added as Bcc, and an empty To list falls back to the envelope.
func Relay(s provider.Sender, logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return HandlerFunc(func(ctx context.Context, env *Envelope) error {
		msg, err := ToMessage(env)
		if err != nil {
			return err
		}

		logger.Info("relaying captured mail",
			"mail_from", env.MailFrom,
			"recipients", msg.RecipientCount(),
			"provider", s.Name(),
		)
		return s.Send(ctx, msg)
	})
}

// ToMessage parses the raw data of env into a message, reconciling the
// header recipients with the envelope ones.
func ToMessage(env *Envelope) (*email.Message, error) {
	parsed, err := parser.Parse(env.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse captured message: %w", err)
	}
	msg := parsed.Message

	if len(msg.To) == 0 {
		msg.To = lo.Map(env.RcptTo, func(rcpt string, _ int) email.Address {
			return email.Address{Address: rcpt}
		})
		return &msg, nil
	}

	known := append(slices.Clone(msg.To), msg.Cc...)
	for _, rcpt := range env.RcptTo {
		addr := email.Address{Address: rcpt}
		if lo.ContainsBy(known, addr.Equal) || lo.ContainsBy(msg.Bcc, addr.Equal) {
			continue
		}
		msg.Bcc = append(msg.Bcc, addr)
	}
	return &msg, nil
}

// Recorder is a Handler that keeps every envelope in memory.
type Recorder struct {
	mu        sync.Mutex
	envelopes []*Envelope
}

// HandleEnvelope stores env.
func (r *Recorder) HandleEnvelope(_ context.Context, env *Envelope) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.envelopes = append(r.envelopes, env)
	return nil
}

// Envelopes returns a snapshot of the recorded envelopes.
func (r *Recorder) Envelopes() []*Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.envelopes)
}
