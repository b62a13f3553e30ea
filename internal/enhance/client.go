// Package enhance implements the small JSON-over-HTTP protocol the proxy
// uses to call the external enhancement backend.
package enhance

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/relayfox/interceptproxy/internal/metrics"
)

const (
	// defaultTotalTimeout bounds the entire round trip so a dead backend
	// never stalls the proxy, 500ms by default.
	defaultTotalTimeout = 500 * time.Millisecond

	// cooldown is how long the client skips the backend after a connect
	// failure.
	cooldown = 60 * time.Second

	// maxResponseBytes caps the bytes read back from the backend.
	maxResponseBytes = 2 * 1024 * 1024
)

// ErrBackendUnavailable is returned when the backend is in its cooldown
// window or the HTTP call itself failed; callers treat it identically to
// any other enhancement failure and fall back to the original response.
var ErrBackendUnavailable = errors.New("enhancement backend unavailable")

// Client calls a single fixed enhancement endpoint, tracking its
// availability across calls so a dead backend is not retried on every
// request.
type Client struct {
	addr string
	http *http.Client
	log  *zap.Logger
	m    *metrics.Collectors

	mu          sync.Mutex
	available   bool
	lastFailure time.Time
}

// NewClient returns a Client targeting addr (host:port, e.g.
// "127.0.0.1:5000"). The backend starts out assumed available.
func NewClient(addr string, log *zap.Logger, m *metrics.Collectors) *Client {
	return &Client{
		addr:      addr,
		http:      &http.Client{Timeout: defaultTotalTimeout},
		log:       log,
		m:         m,
		available: true,
	}
}

type enhanceRequest struct {
	HTMLBase64 string `json:"html_base64"`
	URL        string `json:"url"`
}

type enhanceResponse struct {
	HTMLBase64 string `json:"html_base64"`
}

// Enhance sends body and url to the backend's /enhance endpoint and returns
// the rewritten body. It returns ErrBackendUnavailable (wrapped, where
// applicable) whenever the caller should fall back to the original response:
// cooldown in effect, connect failure, non-200 status, or a malformed/oversize
// reply.
func (c *Client) Enhance(ctx context.Context, body []byte, url string) ([]byte, error) {
	if !c.shouldAttempt() {
		return nil, ErrBackendUnavailable
	}

	if c.m != nil {
		c.m.EnhancementAttemptsTotal.Inc()
	}

	out, err := c.call(ctx, body, url)
	if err != nil {
		c.markFailure()
		if c.m != nil {
			c.m.EnhancementFailuresTotal.Inc()
		}
		c.log.Debug("enhancement call failed", zap.Error(err), zap.String("url", url))
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}

	c.markSuccess()
	return out, nil
}

func (c *Client) shouldAttempt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.available {
		return true
	}
	if time.Since(c.lastFailure) >= cooldown {
		// Cooldown elapsed: let the next real call decide availability again.
		return true
	}
	return false
}

func (c *Client) markFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasAvailable := c.available
	c.available = false
	c.lastFailure = time.Now()
	if wasAvailable {
		c.transitioned()
	}
}

func (c *Client) markSuccess() {
	c.mu.Lock()
	defer c.mu.Unlock()
	wasAvailable := c.available
	c.available = true
	if !wasAvailable {
		c.transitioned()
	}
}

// transitioned must be called with mu held.
func (c *Client) transitioned() {
	if c.m != nil {
		c.m.BackendAvailableChanges.Inc()
	}
}

func (c *Client) call(ctx context.Context, body []byte, url string) ([]byte, error) {
	reqBody, err := json.Marshal(enhanceRequest{
		HTMLBase64: base64.StdEncoding.EncodeToString(body),
		URL:        url,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling enhance request: %w", err)
	}

	endpoint := "http://" + c.addr + "/enhance"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("building enhance request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Connection", "close")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("connecting to enhancement backend: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("enhancement backend returned status %d", resp.StatusCode)
	}

	limited := io.LimitReader(resp.Body, maxResponseBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("reading enhancement response: %w", err)
	}
	if len(raw) > maxResponseBytes {
		return nil, fmt.Errorf("enhancement response exceeds %d byte cap", maxResponseBytes)
	}

	var parsed enhanceResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parsing enhancement response: %w", err)
	}
	if parsed.HTMLBase64 == "" {
		return nil, fmt.Errorf("enhancement response missing html_base64 field")
	}

	decoded, err := base64.StdEncoding.DecodeString(parsed.HTMLBase64)
	if err != nil {
		return nil, fmt.Errorf("decoding enhancement response body: %w", err)
	}
	if len(decoded) > maxResponseBytes {
		return nil, fmt.Errorf("decoded enhancement body exceeds %d byte cap", maxResponseBytes)
	}

	return decoded, nil
}
