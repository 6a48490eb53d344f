// Package parser reads RFC 5322 messages, including nested MIME multipart
// bodies, back into the email message model.
package parser

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/mail"
	"net/textproto"
	"strings"

	"github.com/shineum/mailkit/internal/email"
)

// Parsed is a decoded message together with the header fields that the
// message model does not carry.
type Parsed struct {
	From       email.Address
	MessageID  string
	RawHeaders map[string][]string
	Message    email.Message
}

// Parse parses a raw RFC 5322 message. Parts with an attachment
// disposition become Attachments; parts with a Content-ID or an inline
// disposition become LinkedResources. The first text/html or text/plain
// part is the body, HTML winning when both exist.
func Parse(raw []byte) (*Parsed, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	result := &Parsed{
		RawHeaders: make(map[string][]string, len(msg.Header)),
	}
	for key, values := range msg.Header {
		result.RawHeaders[key] = values
	}

	if from := parseAddressList(msg.Header.Get("From")); len(from) > 0 {
		result.From = from[0]
	}
	result.MessageID = msg.Header.Get("Message-Id")

	dec := new(mime.WordDecoder)
	subject := msg.Header.Get("Subject")
	if decoded, err := dec.DecodeHeader(subject); err == nil {
		subject = decoded
	}

	b := &bodyBuilder{}
	b.msg.Subject = subject
	b.msg.To = parseAddressList(msg.Header.Get("To"))
	b.msg.Cc = parseAddressList(msg.Header.Get("Cc"))
	b.msg.Bcc = parseAddressList(msg.Header.Get("Bcc"))

	contentType := msg.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}

	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		slog.Warn("failed to parse content type, treating as plain text",
			"content_type", contentType,
			"error", err,
		)
		mediaType = "text/plain"
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		boundary := params["boundary"]
		if boundary == "" {
			return nil, fmt.Errorf("multipart message missing boundary")
		}
		if err := b.parseMultipart(msg.Body, boundary); err != nil {
			return nil, fmt.Errorf("failed to parse multipart message: %w", err)
		}
	} else {
		content, err := decodeContent(msg.Body, msg.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			return nil, fmt.Errorf("failed to read message body: %w", err)
		}
		if mediaType != "text/plain" && mediaType != "text/html" {
			slog.Warn("unrecognized top-level content type",
				"content_type", mediaType,
			)
			mediaType = "text/plain"
		}
		b.setBody(mediaType, content)
	}

	result.Message = b.finish()
	return result, nil
}

// bodyBuilder accumulates parts while walking the MIME tree.
type bodyBuilder struct {
	msg  email.Message
	text string
	html string
}

func (b *bodyBuilder) setBody(mediaType string, content []byte) {
	switch mediaType {
	case "text/html":
		if b.html == "" {
			b.html = string(content)
		}
	default:
		if b.text == "" {
			b.text = string(content)
		}
	}
}

func (b *bodyBuilder) finish() email.Message {
	if b.html != "" {
		b.msg.Content = b.html
		b.msg.IsHTML = true
	} else {
		b.msg.Content = b.text
	}
	return b.msg
}

// parseMultipart walks a multipart body, descending into nested
// multipart parts.
func (b *bodyBuilder) parseMultipart(body io.Reader, boundary string) error {
	reader := multipart.NewReader(body, boundary)

	for {
		part, err := reader.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		partContentType := part.Header.Get("Content-Type")
		if partContentType == "" {
			partContentType = "text/plain"
		}

		mediaType, params, err := mime.ParseMediaType(partContentType)
		if err != nil {
			slog.Warn("failed to parse part content type, skipping",
				"content_type", partContentType,
				"error", err,
			)
			continue
		}

		if strings.HasPrefix(mediaType, "multipart/") {
			nestedBoundary := params["boundary"]
			if nestedBoundary == "" {
				slog.Warn("nested multipart missing boundary, skipping")
				continue
			}
			if err := b.parseMultipart(part, nestedBoundary); err != nil {
				slog.Warn("failed to parse nested multipart", "error", err)
			}
			continue
		}

		content, err := decodeContent(part, part.Header.Get("Content-Transfer-Encoding"))
		if err != nil {
			slog.Warn("failed to read part content",
				"content_type", mediaType,
				"error", err,
			)
			continue
		}

		disposition, _, _ := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
		contentID := strings.Trim(part.Header.Get("Content-Id"), "<> ")

		switch {
		case disposition == "attachment":
			b.msg.Attachments = append(b.msg.Attachments, newAttachment(part.Header, params, mediaType, content, ""))
		case contentID != "" || (disposition == "inline" && !strings.HasPrefix(mediaType, "text/")):
			b.msg.LinkedResources = append(b.msg.LinkedResources, newAttachment(part.Header, params, mediaType, content, contentID))
		case mediaType == "text/plain" || mediaType == "text/html":
			b.setBody(mediaType, content)
		default:
			if name := extractFilename(part.Header, params); name != "" {
				b.msg.Attachments = append(b.msg.Attachments, newAttachment(part.Header, params, mediaType, content, ""))
			} else {
				slog.Warn("unrecognized MIME part, skipping",
					"content_type", mediaType,
					"disposition", disposition,
				)
			}
		}
	}

	return nil
}

func newAttachment(header textproto.MIMEHeader, params map[string]string, mediaType string, content []byte, contentID string) email.Attachment {
	typ, sub, _ := strings.Cut(mediaType, "/")
	name := extractFilename(header, params)
	if name == "" {
		name = "attachment." + sub
	}
	return email.Attachment{
		Name:         name,
		ContentID:    contentID,
		Bytes:        content,
		MediaType:    typ,
		MediaSubtype: sub,
	}
}

// decodeContent reads r and reverses the given Content-Transfer-Encoding.
// multipart.Reader already undoes quoted-printable for parts.
func decodeContent(r io.Reader, encoding string) ([]byte, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "base64":
		cleaned := strings.NewReplacer("\r", "", "\n", "", " ", "").Replace(string(raw))
		decoded, err := base64.StdEncoding.DecodeString(cleaned)
		if err != nil {
			decoded, err = base64.RawStdEncoding.DecodeString(cleaned)
			if err != nil {
				return nil, fmt.Errorf("failed to decode base64 content: %w", err)
			}
		}
		return decoded, nil
	default:
		return raw, nil
	}
}

// extractFilename reads the file name from the Content-Disposition
// filename parameter, falling back to the Content-Type name parameter.
func extractFilename(header textproto.MIMEHeader, params map[string]string) string {
	if _, dparams, err := mime.ParseMediaType(header.Get("Content-Disposition")); err == nil {
		if fn := dparams["filename"]; fn != "" {
			return fn
		}
	}
	return params["name"]
}

// parseAddressList parses an address header into mailboxes, falling back
// to a comma split when the header is not RFC 5322 compliant.
func parseAddressList(raw string) []email.Address {
	if raw == "" {
		return nil
	}

	addresses, err := mail.ParseAddressList(raw)
	if err != nil {
		parts := strings.Split(raw, ",")
		result := make([]email.Address, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, email.Address{Address: trimmed})
			}
		}
		return result
	}

	result := make([]email.Address, 0, len(addresses))
	for _, addr := range addresses {
		result = append(result, email.Address{Address: addr.Address, DisplayName: addr.Name})
	}
	return result
}
