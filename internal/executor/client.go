// Package executor talks to the unit-of-work executor: the automation host
// that opens a sandboxed page and performs the actual scrape or portal
// submission. Its internals are out of scope here; this package only carries
// the session protocol.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNotReady marks the narrow transient condition worth retrying: the
// session exists but its listener has not finished initialising.
var ErrNotReady = errors.New("executor not ready")

// IsNotReady reports whether err is the retryable not-ready condition.
func IsNotReady(err error) bool {
	return errors.Is(err, ErrNotReady)
}

// Request asks the executor to perform one unit of work.
type Request struct {
	Kind       string          `json:"kind"`
	PropertyID string          `json:"propertyId"`
	Address    string          `json:"address"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

// Response statuses.
const (
	StatusOK      = "ok"
	StatusSkipped = "skipped"
	StatusError   = "error"
)

// Response is the executor's structured answer. "skipped" signals a policy
// skip (e.g. final submission disabled downstream), not a failure.
type Response struct {
	Status string          `json:"status"`
	Result json.RawMessage `json:"result,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

// Client manages executor sessions over HTTP.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for the executor at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// Session is one execution context, a sandboxed page on the executor side.
type Session struct {
	ID     string `json:"id"`
	client *Client
}

// Acquire opens a new execution context. Acquisition failures are terminal
// for the current job; the retry budget applies to Send, not here.
func (c *Client) Acquire(ctx context.Context) (*Session, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/sessions", nil)
	if err != nil {
		return nil, fmt.Errorf("create session request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("acquire session: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("acquire session: unexpected status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	s := &Session{client: c}
	if err := json.NewDecoder(resp.Body).Decode(s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if s.ID == "" {
		return nil, errors.New("acquire session: empty session id")
	}
	return s, nil
}

// Send delivers a work request to the session. A 503 from the execute
// endpoint means the session's listener is not ready yet and is surfaced as
// ErrNotReady so the retry policy can classify it.
func (s *Session) Send(ctx context.Context, workReq Request) (*Response, error) {
	body, err := json.Marshal(workReq)
	if err != nil {
		return nil, fmt.Errorf("encode work request: %w", err)
	}

	url := fmt.Sprintf("%s/sessions/%s/execute", s.client.baseURL, s.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create work request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send work request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, fmt.Errorf("%w: session %s", ErrNotReady, s.ID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("execute: unexpected status %d: %s", resp.StatusCode, readBody(resp.Body))
	}

	var out Response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode executor response: %w", err)
	}
	return &out, nil
}

// Close releases the execution context. Callers must close sessions on every
// exit path, success or not.
func (s *Session) Close(ctx context.Context) error {
	url := fmt.Sprintf("%s/sessions/%s", s.client.baseURL, s.ID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, nil)
	if err != nil {
		return fmt.Errorf("create close request: %w", err)
	}

	resp, err := s.client.http.Do(req)
	if err != nil {
		return fmt.Errorf("close session %s: %w", s.ID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("close session %s: unexpected status %d", s.ID, resp.StatusCode)
	}
	return nil
}

// Ping checks that the executor endpoint is reachable. Used by the startup preflight.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("create ping request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

func readBody(r io.Reader) string {
	b, _ := io.ReadAll(io.LimitReader(r, 512))
	return string(b)
}
