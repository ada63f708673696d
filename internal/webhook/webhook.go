// Package webhook posts batch completion summaries to an operator-configured
// callback URL. Delivery is fire-and-forget with retries: the batch result is
// already persisted, so a lost callback costs nothing but convenience.
package webhook

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"time"
)

// Notifier delivers payloads to one callback URL.
type Notifier struct {
	url      string
	client   *http.Client
	logger   *slog.Logger
	attempts int
	base     time.Duration
	cap      time.Duration
}

// NewNotifier validates callbackURL and returns a Notifier, or an error when
// the URL is unusable (bad scheme, private/internal address). Rejecting at
// construction time keeps a misconfigured URL from failing silently on every
// batch.
func NewNotifier(callbackURL string, logger *slog.Logger) (*Notifier, error) {
	if err := validateURL(callbackURL); err != nil {
		return nil, fmt.Errorf("callback URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		url:      callbackURL,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
		attempts: 8,
		base:     time.Second,
		cap:      5 * time.Minute,
	}, nil
}

// Notify dispatches the JSON payload asynchronously with full-jitter
// exponential backoff. ctx should be context.WithoutCancel of the batch
// context so retries survive batch cancellation but stop on server shutdown.
func (n *Notifier) Notify(ctx context.Context, payload []byte) {
	go n.send(ctx, payload)
}

func (n *Notifier) send(ctx context.Context, payload []byte) {
	for attempt := 1; attempt <= n.attempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		err := n.post(ctx, payload)
		if err == nil {
			return
		}
		n.logger.Warn("webhook attempt failed", "attempt", attempt, "url", n.url, "error", err)
		if attempt < n.attempts {
			time.Sleep(n.jitter(attempt))
		}
	}
	n.logger.Error("webhook: all retries exhausted", "url", n.url)
}

// jitter returns a random duration between 0 and min(cap, base * 2^attempt).
// Full jitter prevents synchronized retries when several notifications fail
// at the same time.
func (n *Notifier) jitter(attempt int) time.Duration {
	exp := n.base * (1 << attempt)
	if exp > n.cap {
		exp = n.cap
	}
	return time.Duration(rand.Int63n(int64(exp)))
}

func (n *Notifier) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("non-2xx status: %d", resp.StatusCode)
	}
	return nil
}

// validateURL blocks non-HTTP schemes and private/internal IP ranges.
func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "https" && u.Scheme != "http" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}

	host := u.Hostname()
	ips, err := net.LookupHost(host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed: %w", err)
	}

	for _, ipStr := range ips {
		ip := net.ParseIP(ipStr)
		if ip == nil {
			continue
		}
		if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() || ip.IsUnspecified() {
			return fmt.Errorf("private/internal IP blocked: %s", ipStr)
		}
	}

	return nil
}
