// Package provider defines the interface every mail delivery backend
// implements, plus the lifecycle observer senders report to.
package provider

import (
	"context"

	"github.com/shineum/mailkit/internal/email"
)

// Sender is the capability set shared by every delivery backend. Callers
// pick a backend by constructing it and then depend only on this interface.
type Sender interface {
	// Send delivers msg. Whether delivery failures are returned or only
	// reported to the observer is defined by each backend.
	Send(ctx context.Context, msg *email.Message) error

	// SendAndReturn delivers msg and encodes every failure in the
	// returned response. It never returns nil.
	SendAndReturn(ctx context.Context, msg *email.Message) *email.Response

	// Name returns the human-readable name of this provider.
	Name() string
}

// SendText sends a plain-text message without attachments to the given
// recipients.
func SendText(ctx context.Context, s Sender, subject, content string, tos ...string) error {
	return s.Send(ctx, email.NewMessage(subject, content, tos...))
}

// SendTextAndReturn is SendText with the SendAndReturn error policy.
func SendTextAndReturn(ctx context.Context, s Sender, subject, content string, tos ...string) *email.Response {
	return s.SendAndReturn(ctx, email.NewMessage(subject, content, tos...))
}
