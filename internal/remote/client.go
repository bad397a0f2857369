// Package remote is the typed HTTP facade of the chat service.
//
// Every call returns either a payload or a *Error; transport exceptions never
// escape in any other form, so callers can decide retries with Classify alone.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message is the server representation of a chat message.
type Message struct {
	ID        string `json:"id"`
	FromUID   string `json:"fromUid"`
	ToUID     string `json:"toUid"`
	Body      string `json:"body"`
	ClientID  string `json:"clientId,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt int64  `json:"createdAt"`
	UpdatedAt int64  `json:"updatedAt,omitempty"`
}

// SendRequest is the body of POST /messages.
type SendRequest struct {
	FromUID  string `json:"fromUid"`
	ToUID    string `json:"toUid"`
	Body     string `json:"body"`
	ClientID string `json:"clientId"`
}

const maxErrorBody = 4 << 10

// Client talks to the chat service over HTTP.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *zap.Logger
}

// New creates a client for baseURL. timeout bounds each request end to end;
// its expiry surfaces as a transport fault.
func New(baseURL string, timeout time.Duration, logger *zap.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url %q: scheme must be http or https", baseURL)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}, nil
}

// Send posts a message. clientKey is the idempotency key: repeating a call with
// the same key returns the original record instead of creating another.
func (c *Client) Send(ctx context.Context, fromID, toID, body, clientKey string) (*Message, error) {
	payload, err := json.Marshal(SendRequest{FromUID: fromID, ToUID: toID, Body: body, ClientID: clientKey})
	if err != nil {
		return nil, &Error{Message: "encode request: " + err.Error()}
	}
	var out Message
	if err := c.do(ctx, http.MethodPost, c.endpoint("/messages", nil), payload, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Since returns the messages of userID created at or after sinceMs, oldest first.
func (c *Client) Since(ctx context.Context, userID string, sinceMs int64) ([]Message, error) {
	q := url.Values{}
	q.Set("since", strconv.FormatInt(sinceMs, 10))
	q.Set("uid", userID)

	var out []Message
	if err := c.do(ctx, http.MethodGet, c.endpoint("/messages/since", q), nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Reachable reports whether a TCP connection to the server can be opened.
func (c *Client) Reachable(ctx context.Context) bool {
	host := c.baseURL.Host
	if c.baseURL.Port() == "" {
		port := "80"
		if c.baseURL.Scheme == "https" {
			port = "443"
		}
		host = net.JoinHostPort(c.baseURL.Hostname(), port)
	}
	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", host)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func (c *Client) endpoint(path string, q url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func (c *Client) do(ctx context.Context, method, target string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return &Error{Message: "build request: " + err.Error()}
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Debug("request failed", zap.String("method", method), zap.String("url", target), zap.Error(err))
		return &Error{Message: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &Error{Message: errorMessage(resp.StatusCode, text), StatusCode: resp.StatusCode}
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &Error{Message: "read response: " + err.Error()}
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return &Error{Message: "empty response body", StatusCode: resp.StatusCode}
	}
	if err := json.Unmarshal(data, out); err != nil {
		return &Error{Message: "decode response: " + err.Error(), StatusCode: resp.StatusCode}
	}
	return nil
}

// errorMessage prefers the server's own text, unwrapping {"error": "..."} envelopes.
func errorMessage(code int, body []byte) string {
	text := strings.TrimSpace(string(body))
	if text == "" {
		return fmt.Sprintf("request failed with status %d (%s)", code, http.StatusText(code))
	}
	var envelope struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != "" {
		return envelope.Error
	}
	return text
}
