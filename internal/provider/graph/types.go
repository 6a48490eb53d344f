package graph

import (
	"encoding/base64"
	"fmt"

	"github.com/samber/lo"

	"github.com/shineum/mailkit/internal/email"
)

const fileAttachmentType = "#microsoft.graph.fileAttachment"

// sendMailRequest is the request body of the sendMail action.
type sendMailRequest struct {
	Message         sendMailMessage `json:"message"`
	SaveToSentItems bool            `json:"saveToSentItems"`
}

type sendMailMessage struct {
	Subject       string            `json:"subject"`
	Body          messageBody       `json:"body"`
	From          *recipient        `json:"from,omitempty"`
	ToRecipients  []recipient       `json:"toRecipients"`
	CcRecipients  []recipient       `json:"ccRecipients,omitempty"`
	BccRecipients []recipient       `json:"bccRecipients,omitempty"`
	Attachments   []graphAttachment `json:"attachments,omitempty"`
}

type messageBody struct {
	ContentType string `json:"contentType"`
	Content     string `json:"content"`
}

type recipient struct {
	EmailAddress emailAddress `json:"emailAddress"`
}

type emailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// graphAttachment is a fileAttachment. Linked resources set IsInline and
// ContentID so HTML bodies can reference them with cid: URLs.
type graphAttachment struct {
	ODataType    string `json:"@odata.type"`
	Name         string `json:"name"`
	ContentType  string `json:"contentType"`
	ContentBytes string `json:"contentBytes"`
	IsInline     bool   `json:"isInline,omitempty"`
	ContentID    string `json:"contentId,omitempty"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	TokenType   string `json:"token_type"`
}

// oauthError is the error body of the Microsoft identity platform token
// endpoint.
type oauthError struct {
	Code        string `json:"error"`
	Description string `json:"error_description"`
}

type graphErrorResponse struct {
	Error graphError `json:"error"`
}

type graphError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// buildSendMailRequest converts msg into a sendMail request body sent as
// from. Attachment content is resolved here.
func buildSendMailRequest(msg *email.Message, from email.Address, saveToSent bool) (*sendMailRequest, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	body := messageBody{ContentType: "text", Content: msg.Content}
	if msg.IsHTML {
		body.ContentType = "html"
	}

	var attachments []graphAttachment
	for _, att := range msg.Attachments {
		ga, err := toAttachment(att)
		if err != nil {
			return nil, err
		}
		attachments = append(attachments, ga)
	}
	for _, res := range msg.LinkedResources {
		ga, err := toAttachment(res)
		if err != nil {
			return nil, err
		}
		ga.IsInline = true
		ga.ContentID = res.ContentID
		attachments = append(attachments, ga)
	}

	sender := toRecipient(from, 0)
	return &sendMailRequest{
		Message: sendMailMessage{
			Subject:       msg.Subject,
			Body:          body,
			From:          &sender,
			ToRecipients:  lo.Map(msg.To, toRecipient),
			CcRecipients:  lo.Map(msg.Cc, toRecipient),
			BccRecipients: lo.Map(msg.Bcc, toRecipient),
			Attachments:   attachments,
		},
		SaveToSentItems: saveToSent,
	}, nil
}

func toRecipient(a email.Address, _ int) recipient {
	return recipient{EmailAddress: emailAddress{Address: a.Address, Name: a.DisplayName}}
}

func toAttachment(att email.Attachment) (graphAttachment, error) {
	data, err := att.Resolve()
	if err != nil {
		return graphAttachment{}, fmt.Errorf("%s: %w", att.Name, err)
	}
	return graphAttachment{
		ODataType:    fileAttachmentType,
		Name:         att.Name,
		ContentType:  att.ContentType(),
		ContentBytes: base64.StdEncoding.EncodeToString(data),
	}, nil
}
