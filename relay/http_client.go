package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/veilchat/veilchat/protocol"
)

// HTTPClient implements Client against a relay's HTTP API.
type HTTPClient struct {
	baseURL   string
	authToken string
	client    *http.Client
}

// NewHTTPClient creates a relay client for baseURL, authenticating with the
// bearer token issued at login.
func NewHTTPClient(baseURL, authToken string) *HTTPClient {
	return &HTTPClient{
		baseURL:   baseURL,
		authToken: authToken,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SendMessage implements Client.SendMessage via POST /messages.
func (c *HTTPClient) SendMessage(ctx context.Context, envelope *protocol.Envelope) (*protocol.Envelope, error) {
	var persisted protocol.Envelope
	if err := c.do(ctx, http.MethodPost, "/messages", envelope, &persisted); err != nil {
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function":     "SendMessage",
		"message_id":   persisted.ID,
		"conversation": persisted.ConversationID,
	}).Debug("Envelope persisted by relay")

	return &persisted, nil
}

// FetchMessages implements Client.FetchMessages via
// GET /conversations/{id}/messages?since=... (newest-first).
func (c *HTTPClient) FetchMessages(ctx context.Context, conversationID string, since time.Time) ([]*protocol.Envelope, error) {
	path := "/messages"
	if conversationID != "" {
		path = "/conversations/" + url.PathEscape(conversationID) + "/messages"
	}
	if !since.IsZero() {
		path += "?since=" + url.QueryEscape(since.UTC().Format(time.RFC3339Nano))
	}

	var batch struct {
		Messages []*protocol.Envelope `json:"messages"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &batch); err != nil {
		return nil, err
	}
	return batch.Messages, nil
}

// MarkRead implements Client.MarkRead via POST /messages/{id}/read.
func (c *HTTPClient) MarkRead(ctx context.Context, messageID string) error {
	return c.do(ctx, http.MethodPost, "/messages/"+url.PathEscape(messageID)+"/read", nil, nil)
}

// DeleteMessage implements Client.DeleteMessage via DELETE /messages/{id}.
func (c *HTTPClient) DeleteMessage(ctx context.Context, messageID string, forEveryone bool) error {
	path := "/messages/" + url.PathEscape(messageID)
	if forEveryone {
		path += "?for_everyone=true"
	}
	return c.do(ctx, http.MethodDelete, path, nil, nil)
}

// do runs one JSON request/response cycle and maps error statuses onto the
// package sentinels.
func (c *HTTPClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.authToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("relay request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("%s %s: %w", method, path, err)
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode relay response: %w", err)
	}
	return nil
}

// statusError maps HTTP statuses onto the relay error taxonomy.
func statusError(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	case status == http.StatusForbidden:
		return ErrForbidden
	case status == http.StatusNotFound:
		return ErrNotFound
	case status == http.StatusFailedDependency:
		return ErrRecipientKeyMissing
	case status == http.StatusTooManyRequests:
		return ErrRateLimited
	default:
		return fmt.Errorf("relay returned status %d", status)
	}
}
