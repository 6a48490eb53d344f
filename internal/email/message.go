// Package email defines the transport-agnostic message model shared by every
// delivery provider.
package email

import (
	"strings"
)

// Address is a mailbox: an address with an optional display name.
type Address struct {
	Address     string `validate:"required"`
	DisplayName string
}

// NewAddress returns an Address with the given address and display name.
func NewAddress(address, displayName string) Address {
	return Address{Address: address, DisplayName: displayName}
}

// Name returns the display name, falling back to the address when the
// display name is empty.
func (a Address) Name() string {
	if a.DisplayName != "" {
		return a.DisplayName
	}
	return a.Address
}

// Equal reports whether both addresses refer to the same mailbox.
// Display names are not compared. The local part is case-sensitive and
// the domain is not.
func (a Address) Equal(b Address) bool {
	aLocal, aDomain := splitAddress(a.Address)
	bLocal, bDomain := splitAddress(b.Address)
	return aLocal == bLocal && strings.EqualFold(aDomain, bDomain)
}

func splitAddress(addr string) (local, domain string) {
	if i := strings.LastIndex(addr, "@"); i >= 0 {
		return addr[:i], addr[i+1:]
	}
	return addr, ""
}

// String formats the address for diagnostics.
func (a Address) String() string {
	if a.DisplayName == "" {
		return a.Address
	}
	return a.DisplayName + " <" + a.Address + ">"
}

// Message is the envelope handed to a provider. A nil slice and an empty
// slice mean the same thing everywhere in this module.
type Message struct {
	Subject string
	Content string
	IsHTML  bool

	To  []Address `validate:"min=1,dive"`
	Cc  []Address `validate:"dive"`
	Bcc []Address `validate:"dive"`

	Attachments []Attachment
	// LinkedResources are inline parts referenced from HTML content with
	// cid: URLs. Each one should carry a ContentID.
	LinkedResources []Attachment
}

// NewMessage builds a plain-text message without attachments, addressed to
// the given recipients.
func NewMessage(subject, content string, tos ...string) *Message {
	to := make([]Address, 0, len(tos))
	for _, addr := range tos {
		to = append(to, Address{Address: addr})
	}
	return &Message{
		Subject: subject,
		Content: content,
		To:      to,
	}
}

// RecipientCount returns the number of To, Cc and Bcc recipients combined.
func (m *Message) RecipientCount() int {
	return len(m.To) + len(m.Cc) + len(m.Bcc)
}

// Validate checks the message before translation. It returns an error
// wrapping ErrValidation when the message has no To recipient or an
// address is empty.
func (m *Message) Validate() error {
	if m == nil {
		return validationError("message is nil")
	}
	if len(m.To) == 0 {
		return validationError("at least one to address is required")
	}
	return validateStruct(m)
}
