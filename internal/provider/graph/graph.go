// Package graph implements a Sender that delivers mail through the
// Microsoft Graph sendMail action, authenticating with OAuth2 client
// credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/shineum/mailkit/internal/email"
	"github.com/shineum/mailkit/internal/provider"
)

// Options configures a Graph Sender. From must be a mailbox the
// application is allowed to send as.
type Options struct {
	TenantID     string        `validate:"required"`
	ClientID     string        `validate:"required"`
	ClientSecret string        `validate:"required"`
	From         email.Address `validate:"required"`
	// SaveToSentItems keeps a copy in the sender's Sent Items folder.
	SaveToSentItems bool
}

// LogValue implements slog.LogValuer and leaves the client secret out.
func (o Options) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("tenant_id", o.TenantID),
		slog.String("client_id", o.ClientID),
		slog.String("from", o.From.String()),
	)
}

// Sender delivers messages with one sendMail request each.
type Sender struct {
	opts       Options
	graphURL   string
	tokenURL   string
	httpClient *http.Client
	token      *tokenCache
	observer   provider.Observer
}

// Option customizes a Sender.
type Option func(*Sender)

// WithObserver sets the observer that receives lifecycle events.
func WithObserver(obs provider.Observer) Option {
	return func(s *Sender) { s.observer = obs }
}

// WithHTTPClient replaces the HTTP client used for token and API calls.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sender) { s.httpClient = c }
}

// WithEndpoints overrides the sendMail and token URLs, used for testing.
func WithEndpoints(graphURL, tokenURL string) Option {
	return func(s *Sender) {
		s.graphURL = graphURL
		s.tokenURL = tokenURL
	}
}

// New creates a Graph Sender.
func New(opts Options, fns ...Option) (*Sender, error) {
	if err := email.ValidateStruct(opts); err != nil {
		return nil, err
	}

	s := &Sender{
		opts: opts,
		graphURL: fmt.Sprintf("https://graph.microsoft.com/v1.0/users/%s/sendMail",
			url.PathEscape(opts.From.Address)),
		tokenURL: fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token",
			url.PathEscape(opts.TenantID)),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		observer:   provider.Nop,
	}
	for _, fn := range fns {
		fn(s)
	}
	s.token = newTokenCache(s.tokenURL, opts.ClientID, opts.ClientSecret, s.httpClient)
	return s, nil
}

// Name returns the provider name.
func (s *Sender) Name() string {
	return "msgraph"
}

// Send delivers msg and returns translation and API failures.
func (s *Sender) Send(ctx context.Context, msg *email.Message) error {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	if err := s.deliver(ctx, msg); err != nil {
		t.Failed(ctx, err)
		return err
	}
	t.Sent(ctx, "")
	return nil
}

// SendAndReturn delivers msg and reports any failure in the response.
// sendMail assigns no message id, so a successful response has an empty
// ID.
func (s *Sender) SendAndReturn(ctx context.Context, msg *email.Message) *email.Response {
	t := provider.Track(ctx, s.observer, s.Name(), msg)

	if err := s.deliver(ctx, msg); err != nil {
		t.Failed(ctx, err)
		return email.FailedWithError(err)
	}
	t.Sent(ctx, "")
	return email.Sent("")
}

func (s *Sender) deliver(ctx context.Context, msg *email.Message) error {
	reqBody, err := buildSendMailRequest(msg, s.opts.From, s.opts.SaveToSentItems)
	if err != nil {
		return err
	}
	bodyJSON, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	token, err := s.token.Token(ctx)
	if err != nil {
		return email.TransportError("authenticate", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.graphURL, bytes.NewReader(bodyJSON))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return email.TransportError("send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		return nil
	}

	if resp.StatusCode == http.StatusUnauthorized {
		s.token.Invalidate()
	}
	return email.TransportError("send", apiError(resp))
}

// sendError is a non-success sendMail response.
type sendError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *sendError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func apiError(resp *http.Response) *sendError {
	body, _ := io.ReadAll(resp.Body)

	var graphErrResp graphErrorResponse
	if err := json.Unmarshal(body, &graphErrResp); err == nil && graphErrResp.Error.Message != "" {
		return &sendError{
			StatusCode: resp.StatusCode,
			Code:       graphErrResp.Error.Code,
			Message:    graphErrResp.Error.Message,
		}
	}
	return &sendError{StatusCode: resp.StatusCode, Message: string(body)}
}
