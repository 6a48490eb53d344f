// Package stdout implements a Sender that prints messages in a
// human-readable format, for development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
)

const separator = "========================================\n"

// Sender prints each message to a writer. Attachment content is resolved
// before anything is printed, so a message that cannot be resolved leaves
// no output behind.
type Sender struct {
	from     email.Address
	mu       sync.Mutex
	writer   io.Writer
	observer provider.Observer
}

// Option customizes a Sender.
type Option func(*Sender)

// WithWriter sets the output destination, defaulting to os.Stdout.
func WithWriter(w io.Writer) Option {
	return func(s *Sender) { s.writer = w }
}

// WithFrom sets the address printed as the sender.
func WithFrom(from email.Address) Option {
	return func(s *Sender) { s.from = from }
}

// WithObserver sets the observer that receives lifecycle events.
func WithObserver(obs provider.Observer) Option {
	return func(s *Sender) { s.observer = obs }
}

// New creates a stdout Sender.
func New(fns ...Option) *Sender {
	s := &Sender{writer: os.Stdout, observer: provider.Nop}
	for _, fn := range fns {
		fn(s)
	}
	return s
}

// Name returns the provider name.
func (s *Sender) Name() string {
	return "stdout"
}

// Send prints msg. Invalid messages, unresolvable attachments and write
// failures are returned as errors.
func (s *Sender) Send(ctx context.Context, msg *email.Message) error {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	id, err := s.deliver(msg)
	if err != nil {
		t.Failed(ctx, err)
		return err
	}
	t.Sent(ctx, id)
	return nil
}

// SendAndReturn prints msg and returns a sent response with a generated
// id.
func (s *Sender) SendAndReturn(ctx context.Context, msg *email.Message) *email.Response {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	id, err := s.deliver(msg)
	if err != nil {
		t.Failed(ctx, err)
		return email.FailedWithError(err)
	}
	t.Sent(ctx, id)
	return email.Sent(id)
}

func (s *Sender) deliver(msg *email.Message) (string, error) {
	if err := msg.Validate(); err != nil {
		return "", err
	}

	attachments, err := describeFiles(msg.Attachments)
	if err != nil {
		return "", err
	}
	resources, err := describeFiles(msg.LinkedResources)
	if err != nil {
		return "", err
	}

	id := uuid.NewString()
	out := s.format(id, msg, attachments, resources)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := io.WriteString(s.writer, out); err != nil {
		return "", email.TransportError("write", err)
	}
	return id, nil
}

func (s *Sender) format(id string, msg *email.Message, attachments, resources string) string {
	var b strings.Builder

	b.WriteString(separator)
	if s.from.Address != "" {
		fmt.Fprintf(&b, "From: %s\n", s.from)
	}
	fmt.Fprintf(&b, "To: %s\n", joinAddresses(msg.To))
	if len(msg.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", joinAddresses(msg.Cc))
	}
	if len(msg.Bcc) > 0 {
		fmt.Fprintf(&b, "Bcc: %s\n", joinAddresses(msg.Bcc))
	}
	fmt.Fprintf(&b, "Subject: %s\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\n", id)

	if msg.IsHTML {
		b.WriteString("Body (html):\n")
	} else {
		b.WriteString("Body:\n")
	}
	b.WriteString(msg.Content + "\n")

	if attachments != "" {
		fmt.Fprintf(&b, "Attachments: %s\n", attachments)
	}
	if resources != "" {
		fmt.Fprintf(&b, "Linked resources: %s\n", resources)
	}

	b.WriteString(separator)
	return b.String()
}

func joinAddresses(addrs []email.Address) string {
	return strings.Join(lo.Map(addrs, func(a email.Address, _ int) string { return a.String() }), ", ")
}

// describeFiles resolves each file and lists it with its type and size.
func describeFiles(files []email.Attachment) (string, error) {
	parts := make([]string, 0, len(files))
	for _, att := range files {
		data, err := att.Resolve()
		if err != nil {
			return "", err
		}
		name := att.Name
		if att.ContentID != "" {
			name = fmt.Sprintf("%s <cid:%s>", name, att.ContentID)
		}
		parts = append(parts, fmt.Sprintf("%s (%s, %s)", name, att.ContentType(), formatSize(len(data))))
	}
	return strings.Join(parts, ", "), nil
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}
