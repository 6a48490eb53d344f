package mandrill

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultBaseURL is the Mandrill API root.
const DefaultBaseURL = "https://mandrillapp.com/api/1.0"

// API is the part of the Mandrill API a Sender uses.
type API interface {
	SendMessage(ctx context.Context, apiKey string, msg *Message) ([]Result, error)
}

// Client calls the Mandrill JSON API over HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient returns a Client for baseURL, or DefaultBaseURL when empty. A
// nil httpClient uses one with a 30 second timeout.
func NewClient(baseURL string, httpClient *http.Client) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// SendMessage posts msg to messages/send and returns the per-recipient
// results.
func (c *Client) SendMessage(ctx context.Context, apiKey string, msg *Message) ([]Result, error) {
	body, err := json.Marshal(sendRequest{Key: apiKey, Message: msg})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/messages/send.json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr apiError
		if jsonErr := json.Unmarshal(respBody, &apiErr); jsonErr == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("Mandrill API error (HTTP %d, %s): %s", resp.StatusCode, apiErr.Name, apiErr.Message)
		}
		return nil, fmt.Errorf("Mandrill API error (HTTP %d): %s", resp.StatusCode, string(respBody))
	}

	var results []Result
	if err := json.Unmarshal(respBody, &results); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	return results, nil
}
