package mandrill

import (
	"encoding/base64"
	"fmt"

	"github.com/samber/lo"

	"github.com/shineum/mailkit/internal/email"
)

// Recipient types. Primary recipients carry no type.
const (
	RecipientCc  = "cc"
	RecipientBcc = "bcc"
)

// Message is the message object of the messages/send call.
type Message struct {
	HTML        string      `json:"html,omitempty"`
	Text        string      `json:"text,omitempty"`
	Subject     string      `json:"subject"`
	FromEmail   string      `json:"from_email"`
	FromName    string      `json:"from_name,omitempty"`
	To          []Recipient `json:"to"`
	Attachments []File      `json:"attachments,omitempty"`
	// Images are inline images; Name is the content id referenced with
	// cid: in the HTML body.
	Images []File `json:"images,omitempty"`
}

// Recipient is one entry of the flat recipient list.
type Recipient struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
	Type  string `json:"type,omitempty"`
}

// File is an attachment or inline image with base64 content.
type File struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Content string `json:"content"`
}

// Result is the per-recipient outcome returned by messages/send.
type Result struct {
	Email        string `json:"email"`
	Status       string `json:"status"`
	RejectReason string `json:"reject_reason"`
	ID           string `json:"_id"`
}

// sendRequest is the body of the messages/send call.
type sendRequest struct {
	Key     string   `json:"key"`
	Message *Message `json:"message"`
}

// apiError is the body Mandrill returns with a non-2xx status.
type apiError struct {
	Status  string `json:"status"`
	Code    int    `json:"code"`
	Name    string `json:"name"`
	Message string `json:"message"`
}

// Translate converts msg into a messages/send payload sent as from.
// Attachment content is resolved here.
func Translate(msg *email.Message, from email.Address) (*Message, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	out := &Message{
		Subject:   msg.Subject,
		FromEmail: from.Address,
		FromName:  from.DisplayName,
	}
	if msg.IsHTML {
		out.HTML = msg.Content
	} else {
		out.Text = msg.Content
	}

	out.To = make([]Recipient, 0, msg.RecipientCount())
	out.To = append(out.To, recipients(msg.To, "")...)
	out.To = append(out.To, recipients(msg.Cc, RecipientCc)...)
	out.To = append(out.To, recipients(msg.Bcc, RecipientBcc)...)

	for _, att := range msg.Attachments {
		f, err := toFile(att, att.Name)
		if err != nil {
			return nil, err
		}
		out.Attachments = append(out.Attachments, f)
	}
	for _, res := range msg.LinkedResources {
		name := res.ContentID
		if name == "" {
			name = res.Name
		}
		f, err := toFile(res, name)
		if err != nil {
			return nil, err
		}
		out.Images = append(out.Images, f)
	}

	return out, nil
}

func recipients(addrs []email.Address, typ string) []Recipient {
	return lo.Map(addrs, func(a email.Address, _ int) Recipient {
		return Recipient{Email: a.Address, Name: a.DisplayName, Type: typ}
	})
}

func toFile(att email.Attachment, name string) (File, error) {
	data, err := att.Resolve()
	if err != nil {
		return File{}, fmt.Errorf("%s: %w", name, err)
	}
	return File{
		Type:    att.ContentType(),
		Name:    name,
		Content: base64.StdEncoding.EncodeToString(data),
	}, nil
}

// Normalize maps the results of a send to a Response. Only the first
// result is considered: none is a failure, an empty reject reason is a
// success carrying the vendor id, anything else is a failure with that
// reason.
func Normalize(results []Result) *email.Response {
	first, ok := lo.First(results)
	if !ok {
		return email.Failed("No response")
	}
	if first.RejectReason == "" {
		return email.Sent(first.ID)
	}
	return &email.Response{
		ID:           first.ID,
		Status:       email.StatusFailed,
		FailedReason: first.RejectReason,
	}
}
