// Package transport provides the single-flight HTTP client that ships event
// batches to the collection endpoint. At most one request is outstanding at
// any time; a send attempted while busy is rejected without side effects.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/pixel/internal/observability"
	"github.com/SebastienMelki/pixel/sdk/pixel/internal/event"
)

// Header names carrying the batch context.
const (
	HeaderVisitorID = "X-Visitor-Id"
	HeaderClientID  = "X-Client-Id"
)

// DefaultUserAgent is sent when no user agent is configured.
const DefaultUserAgent = "PixelSDK/1.0.0 Go"

// Context identifies who a batch belongs to. It is attached to every batch
// and never modified by the client.
type Context struct {
	// ClientID identifies the vendor/customer account.
	ClientID string

	// VisitorID identifies the visitor, stable for the session.
	VisitorID string

	// AlterationID correlates events with a page or variant (optional).
	AlterationID string
}

// Doer executes HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// inflight is the handle held while a request is outstanding.
type inflight struct {
	started time.Time
	size    int
}

// Client sends event batches to the collection endpoint, one at a time.
type Client struct {
	httpClient Doer
	endpoint   string
	userAgent  string
	logger     *slog.Logger
	metrics    *observability.Metrics

	mu      sync.Mutex
	current *inflight
	free    chan struct{} // closed while current is nil
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP capability used to issue requests.
func WithHTTPClient(d Doer) Option {
	return func(c *Client) {
		if d != nil {
			c.httpClient = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records send counts and latency on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithUserAgent overrides the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// NewClient creates a transport client posting to endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	if endpoint == "" {
		return nil, ErrEmptyEndpoint
	}

	c := &Client{
		httpClient: http.DefaultClient,
		endpoint:   endpoint,
		userAgent:  DefaultUserAgent,
		logger:     slog.Default(),
		free:       make(chan struct{}),
	}
	close(c.free)
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "pixel-transport")

	return c, nil
}

// IsFree reports whether no request is outstanding.
func (c *Client) IsFree() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == nil
}

// acquire takes the in-flight slot. It returns false if another request
// already holds it.
func (c *Client) acquire(size int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current != nil {
		return false
	}
	c.current = &inflight{started: time.Now(), size: size}
	c.free = make(chan struct{})
	return true
}

func (c *Client) release() {
	c.mu.Lock()
	c.current = nil
	close(c.free)
	c.mu.Unlock()
}

// WaitFree blocks until no request is outstanding or ctx is done.
func (c *Client) WaitFree(ctx context.Context) error {
	c.mu.Lock()
	free := c.free
	c.mu.Unlock()

	select {
	case <-free:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SendEvent posts events as one JSON array to the endpoint.
//
// It returns (false, nil) without issuing a request when events is empty or
// another send is outstanding. Otherwise it returns (true, nil) on a 2xx
// response and a non-nil error for any other status or a network failure.
// The in-flight slot is released before SendEvent returns, whatever the
// outcome.
func (c *Client) SendEvent(ctx context.Context, events []event.Event, bctx Context) (bool, error) {
	if len(events) == 0 {
		return false, nil
	}
	if !c.acquire(len(events)) {
		c.logger.Debug("send rejected, request in flight", "events", len(events))
		return false, nil
	}
	defer c.release()

	start := time.Now()
	err := c.post(ctx, events, bctx)
	c.record(ctx, len(events), time.Since(start), err)

	if err != nil {
		c.logger.Warn("batch send failed", "events", len(events), "error", err)
		return false, err
	}

	c.logger.Debug("batch sent", "events", len(events), "duration", time.Since(start))
	return true, nil
}

func (c *Client) post(ctx context.Context, events []event.Event, bctx Context) error {
	batch := make([]event.Wire, len(events))
	for i, e := range events {
		batch[i] = e.Transport(bctx.AlterationID)
	}

	body, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set(HeaderVisitorID, bctx.VisitorID)
	req.Header.Set(HeaderClientID, bctx.ClientID)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	// Drain to allow connection reuse.
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *Client) record(ctx context.Context, size int, d time.Duration, err error) {
	if c.metrics == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	attrs := otelmetric.WithAttributes(attribute.String("result", result))
	c.metrics.BatchesSent.Add(ctx, 1, attrs)
	c.metrics.BatchSize.Record(ctx, int64(size))
	c.metrics.SendLatency.Record(ctx, float64(d.Milliseconds()), attrs)
}
