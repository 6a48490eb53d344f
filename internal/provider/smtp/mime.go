package smtp

import (
	"bytes"
	"fmt"
	"io"
	netmail "net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/wneessen/go-mail"

	"github.com/shineum/mailkit/internal/email"
)

// Translate converts msg into a MIME message sent as from. Attachment
// content is resolved here, so file reads happen on the calling goroutine.
//
// The body is a single text/plain or text/html part. Attachments become
// parts with disposition "attachment"; linked resources become inline
// parts carrying their Content-ID. Every part is base64 encoded.
func Translate(msg *email.Message, from email.Address) (*mail.Msg, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	m := mail.NewMsg(mail.WithEncoding(mail.EncodingB64))

	if err := m.From(mailbox(from)); err != nil {
		return nil, addressError("from", from, err)
	}

	for _, to := range msg.To {
		if err := m.AddTo(mailbox(to)); err != nil {
			return nil, addressError("to", to, err)
		}
	}
	for _, cc := range msg.Cc {
		if err := m.AddCc(mailbox(cc)); err != nil {
			return nil, addressError("cc", cc, err)
		}
	}
	for _, bcc := range msg.Bcc {
		if err := m.AddBcc(mailbox(bcc)); err != nil {
			return nil, addressError("bcc", bcc, err)
		}
	}

	m.Subject(msg.Subject)
	m.SetMessageIDWithValue(messageID(from))
	m.SetDate()

	if msg.IsHTML {
		m.SetBodyString(mail.TypeTextHTML, msg.Content)
	} else {
		m.SetBodyString(mail.TypeTextPlain, msg.Content)
	}

	for _, att := range msg.Attachments {
		data, err := att.Resolve()
		if err != nil {
			return nil, err
		}
		if err := m.AttachReader(att.Name, bytes.NewReader(data), fileOptions(att)...); err != nil {
			return nil, fmt.Errorf("failed to attach %q: %w", att.Name, err)
		}
	}

	for _, res := range msg.LinkedResources {
		data, err := res.Resolve()
		if err != nil {
			return nil, err
		}
		opts := fileOptions(res)
		if res.ContentID != "" {
			opts = append(opts, mail.WithFileContentID("<"+res.ContentID+">"))
		}
		if err := m.EmbedReader(res.Name, bytes.NewReader(data), opts...); err != nil {
			return nil, fmt.Errorf("failed to embed %q: %w", res.Name, err)
		}
	}

	return m, nil
}

// Render writes the RFC 5322 form of m to w.
func Render(w io.Writer, m *mail.Msg) error {
	if _, err := m.WriteTo(w); err != nil {
		return fmt.Errorf("failed to render message: %w", err)
	}
	return nil
}

// RenderBytes translates msg and returns the rendered message along with
// its Message-ID.
func RenderBytes(msg *email.Message, from email.Address) ([]byte, string, error) {
	m, err := Translate(msg, from)
	if err != nil {
		return nil, "", err
	}
	var buf bytes.Buffer
	if err := Render(&buf, m); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), m.GetMessageID(), nil
}

func fileOptions(att email.Attachment) []mail.FileOption {
	return []mail.FileOption{
		mail.WithFileContentType(mail.ContentType(att.ContentType())),
		mail.WithFileEncoding(mail.EncodingB64),
	}
}

// mailbox renders a as an RFC 5322 mailbox. The display name is quoted or
// RFC 2047 encoded as needed, so it survives a parse on the other side.
func mailbox(a email.Address) string {
	return (&netmail.Address{Name: a.Name(), Address: a.Address}).String()
}

func addressError(field string, addr email.Address, err error) error {
	return fmt.Errorf("%w: invalid %s address %q: %v", email.ErrValidation, field, addr.Address, err)
}

// messageID returns a unique id whose domain part is taken from the
// sender address.
func messageID(from email.Address) string {
	domain := "localhost"
	if _, d, ok := strings.Cut(from.Address, "@"); ok && d != "" {
		domain = d
	}
	return uuid.NewString() + "@" + domain
}
