// Package tracing wraps senders with OpenTelemetry spans.
package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
)

const instrumentationName = "github.com/shineum/mailkit/internal/tracing"

// Sender decorates a provider.Sender with one span per send.
type Sender struct {
	next   provider.Sender
	tracer trace.Tracer
}

// Wrap returns next decorated with spans from tp.
func Wrap(next provider.Sender, tp trace.TracerProvider) *Sender {
	return &Sender{next: next, tracer: tp.Tracer(instrumentationName)}
}

// Name returns the name of the wrapped sender.
func (s *Sender) Name() string {
	return s.next.Name()
}

// Send implements provider.Sender.
func (s *Sender) Send(ctx context.Context, msg *email.Message) error {
	ctx, span := s.start(ctx, "mailkit.Send", msg)
	defer span.End()

	if err := s.next.Send(ctx, msg); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	return nil
}

// SendAndReturn implements provider.Sender. A failed response marks the
// span as an error.
func (s *Sender) SendAndReturn(ctx context.Context, msg *email.Message) *email.Response {
	ctx, span := s.start(ctx, "mailkit.SendAndReturn", msg)
	defer span.End()

	resp := s.next.SendAndReturn(ctx, msg)
	if !resp.OK() {
		span.SetStatus(codes.Error, resp.FailedReason)
		return resp
	}
	if resp.ID != "" {
		span.SetAttributes(attribute.String("mail.message_id", resp.ID))
	}
	return resp
}

func (s *Sender) start(ctx context.Context, name string, msg *email.Message) (context.Context, trace.Span) {
	ev := provider.NewEvent(s.next.Name(), msg)
	return s.tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("mail.provider", ev.Provider),
			attribute.Int("mail.recipients", ev.Recipients),
			attribute.Int("mail.attachments", ev.Attachments),
		),
	)
}
