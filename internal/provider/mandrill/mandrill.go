// Package mandrill implements a Sender that delivers mail through the
// Mandrill transactional HTTP API.
package mandrill

import (
	"context"
	"log/slog"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
)

// Options configures a Mandrill Sender.
type Options struct {
	APIKey string        `validate:"required"`
	From   email.Address `validate:"required"`
	// BaseURL overrides DefaultBaseURL.
	BaseURL string
}

// LogValue implements slog.LogValuer and leaves the API key out.
func (o Options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("from", o.From.String()),
		slog.String("base_url", o.BaseURL),
		slog.Bool("api_key_set", o.APIKey != ""),
	)
}

// Sender delivers messages with one messages/send call each. It never
// returns delivery failures from Send; they are only reported to the
// observer and through SendAndReturn.
type Sender struct {
	opts     Options
	api      API
	observer provider.Observer
}

// Option customizes a Sender.
type Option func(*Sender)

// WithObserver sets the observer that receives lifecycle events.
func WithObserver(obs provider.Observer) Option {
	return func(s *Sender) { s.observer = obs }
}

// WithAPI replaces the HTTP client, used for testing.
func WithAPI(api API) Option {
	return func(s *Sender) { s.api = api }
}

// New creates a Mandrill Sender. The API key and from address are required.
func New(opts Options, fns ...Option) (*Sender, error) {
	if err := email.ValidateStruct(opts); err != nil {
		return nil, err
	}

	s := &Sender{
		opts:     opts,
		api:      NewClient(opts.BaseURL, nil),
		observer: provider.Nop,
	}
	for _, fn := range fns {
		fn(s)
	}
	return s, nil
}

// Name returns the provider name.
func (s *Sender) Name() string {
	return "mandrill"
}

// Send delivers msg. The outcome is reported to the observer only, so the
// returned error is always nil.
func (s *Sender) Send(ctx context.Context, msg *email.Message) error {
	s.SendAndReturn(ctx, msg)
	return nil
}

// SendAndReturn delivers msg and normalizes the first API result. Every
// failure, including attachment reads and HTTP errors, becomes a failed
// response.
func (s *Sender) SendAndReturn(ctx context.Context, msg *email.Message) *email.Response {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	resp := s.deliver(ctx, msg)
	t.Finish(ctx, resp)
	return resp
}

func (s *Sender) deliver(ctx context.Context, msg *email.Message) *email.Response {
	payload, err := Translate(msg, s.opts.From)
	if err != nil {
		return email.FailedWithError(err)
	}

	results, err := s.api.SendMessage(ctx, s.opts.APIKey, payload)
	if err != nil {
		return email.FailedWithError(email.TransportError("send", err))
	}
	return Normalize(results)
}
