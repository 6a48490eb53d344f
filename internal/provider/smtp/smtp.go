// Package smtp implements a Sender that delivers mail over SMTP, plus the
// translation of the message model into a MIME message.
package smtp

import (
	"context"
	"fmt"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
)

// disabledMechanism is never negotiated so that servers offering OAuth
// first still accept the configured password.
const disabledMechanism = "XOAUTH2"

// Sender delivers messages through an SMTP server, opening one connection
// per call.
type Sender struct {
	opts      Options
	newClient func(Options) Client
	observer  provider.Observer
}

// Option customizes a Sender.
type Option func(*Sender)

// WithObserver sets the observer that receives lifecycle events.
func WithObserver(obs provider.Observer) Option {
	return func(s *Sender) { s.observer = obs }
}

// WithClientFactory replaces the SMTP client, used for testing.
func WithClientFactory(fn func(Options) Client) Option {
	return func(s *Sender) { s.newClient = fn }
}

// New creates an SMTP Sender. Host, port, username and password are
// required.
func New(opts Options, fns ...Option) (*Sender, error) {
	if err := email.ValidateStruct(opts); err != nil {
		return nil, err
	}
	if opts.TLSMode == "" {
		opts.TLSMode = TLSStartTLS
	}

	s := &Sender{
		opts:      opts,
		newClient: newMailClient,
		observer:  provider.Nop,
	}
	for _, fn := range fns {
		fn(s)
	}
	return s, nil
}

// Name returns the provider name.
func (s *Sender) Name() string {
	return "smtp"
}

// Send delivers msg and returns translation and transport failures.
func (s *Sender) Send(ctx context.Context, msg *email.Message) error {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	id, err := s.deliver(ctx, msg)
	if err != nil {
		t.Failed(ctx, err)
		return err
	}

	t.Sent(ctx, id)
	return nil
}

// SendAndReturn delivers msg and reports any failure in the response.
func (s *Sender) SendAndReturn(ctx context.Context, msg *email.Message) *email.Response {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	id, err := s.deliver(ctx, msg)
	if err != nil {
		t.Failed(ctx, err)
		return email.FailedWithError(err)
	}

	t.Sent(ctx, id)
	return email.Sent(id)
}

// deliver runs one SMTP session: connect, authenticate, send, and always
// disconnect. It returns the Message-ID of the delivered message.
func (s *Sender) deliver(ctx context.Context, msg *email.Message) (string, error) {
	m, err := Translate(msg, s.opts.FromAddress())
	if err != nil {
		return "", err
	}

	client := s.newClient(s.opts)
	defer client.Disconnect(true)

	if err := client.Connect(ctx, s.opts.Host, s.opts.Port, s.opts.TLSMode == TLSImplicit); err != nil {
		return "", email.TransportError("connect", err)
	}

	client.DisableMechanism(disabledMechanism)
	if err := client.Authenticate(ctx, s.opts.Username, s.opts.Password); err != nil {
		return "", email.TransportError("authenticate", err)
	}

	if err := client.Send(ctx, m); err != nil {
		return "", email.TransportError("send", err)
	}

	return m.GetMessageID(), nil
}

// String describes the sender without credentials.
func (s *Sender) String() string {
	return fmt.Sprintf("smtp(%s:%d)", s.opts.Host, s.opts.Port)
}
