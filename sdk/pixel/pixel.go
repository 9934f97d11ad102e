// Package pixel provides a client-side telemetry pixel. Producers push events
// into a bounded buffer; a frame-driven scheduler ships them in batches to a
// collection endpoint, one request at a time, re-buffering on failure; Flush
// performs a last best-effort send when the host shuts down.
//
// Usage:
//
//	tr, err := pixel.New(pixel.Config{
//		Endpoint: "https://collect.example.com/collect",
//		ClientID: "acme",
//	})
//	if err != nil { ... }
//	if err := tr.Start(ctx); err != nil { ... }
//	tr.Track("page_view", pixel.NewPayload().Set("path", "/pricing"))
//	...
//	_ = tr.Flush(ctx) // on shutdown
package pixel

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	"github.com/SebastienMelki/pixel/internal/observability"
	"github.com/SebastienMelki/pixel/sdk/pixel/internal/buffer"
	"github.com/SebastienMelki/pixel/sdk/pixel/internal/producer"
	"github.com/SebastienMelki/pixel/sdk/pixel/internal/scheduler"
	"github.com/SebastienMelki/pixel/sdk/pixel/internal/transport"
)

// Task names registered with the scheduler.
const (
	SendTaskName      = "send"
	HeartbeatTaskName = "heartbeat"
)

// State is the tracker's scheduling state.
type State = scheduler.State

// Scheduling states.
const (
	StateStopped = scheduler.Stopped
	StateRunning = scheduler.Running
	StateKilled  = scheduler.Killed
)

// HTTPDoer issues HTTP requests. *http.Client satisfies it.
type HTTPDoer = transport.Doer

// Tracker is the pixel handle. It is owned by whatever bootstraps tracking;
// there is no package-level instance. All methods are safe for concurrent use.
type Tracker struct {
	config    Config
	batchCtx  transport.Context
	buffer    *buffer.Buffer
	client    *transport.Client
	producers *producer.Registry
	metrics   *observability.Metrics
	logger    *slog.Logger
	frames    <-chan time.Time

	mu        sync.Mutex
	sched     *scheduler.Scheduler
	started   bool
	killed    bool
	heartbeat int64
}

type options struct {
	httpClient HTTPDoer
	logger     *slog.Logger
	meter      otelmetric.Meter
	frames     <-chan time.Time
}

// Option configures a Tracker.
type Option func(*options)

// WithHTTPClient sets the HTTP capability used by the transport.
func WithHTTPClient(d HTTPDoer) Option {
	return func(o *options) { o.httpClient = d }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMeter records SDK metrics on meter instead of a noop meter.
func WithMeter(m otelmetric.Meter) Option {
	return func(o *options) { o.meter = m }
}

// WithFrames drives the scheduler from the host's frame callback instead of
// an internal ticker.
func WithFrames(frames <-chan time.Time) Option {
	return func(o *options) { o.frames = frames }
}

// New creates a stopped tracker.
func New(cfg Config, opts ...Option) (*Tracker, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	o := options{
		httpClient: http.DefaultClient,
		logger:     slog.Default(),
		meter:      noop.NewMeterProvider().Meter("pixel"),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	metrics, err := observability.NewMetrics(o.meter)
	if err != nil {
		return nil, fmt.Errorf("pixel: create metrics: %w", err)
	}

	client, err := transport.NewClient(cfg.Endpoint,
		transport.WithHTTPClient(o.httpClient),
		transport.WithLogger(o.logger),
		transport.WithMetrics(metrics),
	)
	if err != nil {
		return nil, fmt.Errorf("pixel: create transport: %w", err)
	}

	return &Tracker{
		config: cfg,
		batchCtx: transport.Context{
			ClientID:     cfg.ClientID,
			VisitorID:    cfg.VisitorID,
			AlterationID: cfg.AlterationID,
		},
		buffer:    buffer.New(cfg.BufferCapacity, o.logger),
		client:    client,
		producers: producer.NewRegistry(cfg.AllowProducerOverride, o.logger),
		metrics:   metrics,
		logger:    o.logger.With("component", "pixel", "client_id", cfg.ClientID),
		frames:    o.frames,
	}, nil
}

// VisitorID returns the visitor identifier attached to every batch.
func (t *Tracker) VisitorID() string {
	return t.config.VisitorID
}

// Start enables the buffer and starts the scheduler with the send task
// registered. After a failure policy killed the scheduler, Start builds a
// fresh one and keeps the buffered events. Start after Kill returns
// ErrKilled. Cancelling ctx stops the scheduler the same way a policy kill
// does.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.killed {
		return ErrKilled
	}
	if t.sched != nil && t.sched.State() == scheduler.Running {
		return nil
	}

	sched, err := t.newScheduler()
	if err != nil {
		return err
	}

	t.buffer.Enable()
	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("pixel: start scheduler: %w", err)
	}

	t.sched = sched
	t.started = true

	t.logger.Info("tracking started",
		"visitor_id", t.config.VisitorID,
		"send_rate_hz", t.config.SendRate,
		"buffer_capacity", t.config.BufferCapacity,
		"producers", t.producers.Names(),
	)
	return nil
}

func (t *Tracker) newScheduler() (*scheduler.Scheduler, error) {
	opts := []scheduler.Option{
		scheduler.WithFrameInterval(t.config.FrameInterval),
		scheduler.WithLogger(t.logger),
		scheduler.WithMetrics(t.metrics),
		scheduler.WithOnKill(t.onSchedulerKill),
	}
	if t.frames != nil {
		opts = append(opts, scheduler.WithFrames(t.frames))
	}
	sched := scheduler.New(opts...)

	if err := sched.Register(scheduler.Task{
		Name:   SendTaskName,
		Rate:   t.config.SendRate,
		Policy: scheduler.Retry,
		Run:    t.send,
	}); err != nil {
		return nil, fmt.Errorf("pixel: register send task: %w", err)
	}

	if t.config.HeartbeatRate > 0 {
		if err := sched.Register(scheduler.Task{
			Name:   HeartbeatTaskName,
			Rate:   t.config.HeartbeatRate,
			Policy: scheduler.Continue,
			Run:    t.beat,
		}); err != nil {
			return nil, fmt.Errorf("pixel: register heartbeat task: %w", err)
		}
	}

	return sched, nil
}

func (t *Tracker) onSchedulerKill(reason string) {
	t.logger.Warn("scheduler stopped, buffered events retained until restart or flush",
		"reason", reason,
		"buffered", t.buffer.Len(),
	)
}

// PushEvent buffers e for delivery. It returns false when the event was
// dropped because the buffer is full or the tracker was killed.
func (t *Tracker) PushEvent(e Event) bool {
	t.mu.Lock()
	killed := t.killed
	t.mu.Unlock()
	if killed {
		return false
	}

	ctx := context.Background()
	if !t.buffer.Push(e) {
		t.metrics.EventsDropped.Add(ctx, 1)
		return false
	}
	t.metrics.EventsBuffered.Add(ctx, 1)
	return true
}

// Track builds an event from name and p and buffers it.
func (t *Tracker) Track(name string, p *Payload) bool {
	return t.PushEvent(NewEvent(name, p))
}

// RegisterProducer registers fn as the producer of events named name.
func (t *Tracker) RegisterProducer(name string, fn ProducerFunc) error {
	return t.producers.Register(name, fn)
}

// Emit runs the producer registered under name and buffers its event. An
// unregistered name is a wiring error and returns ErrUnknownProducer; a
// full buffer returns false with a nil error.
func (t *Tracker) Emit(name string) (bool, error) {
	e, err := t.producers.Produce(name)
	if err != nil {
		return false, err
	}
	return t.PushEvent(e), nil
}

// Kill stops tracking for good: the scheduler is killed and buffered events
// are discarded. In-flight sends are not aborted. Kill is idempotent.
func (t *Tracker) Kill() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.killed {
		return
	}
	t.killed = true
	if t.sched != nil {
		t.sched.Kill()
	}

	dropped := t.buffer.Len()
	t.buffer.Clear()
	t.buffer.Disable()

	t.logger.Info("tracking killed", "discarded", dropped)
}

// State returns the scheduler state. A tracker that was never started
// reports StateStopped.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.killed {
		return StateKilled
	}
	if t.sched == nil {
		return StateStopped
	}
	return t.sched.State()
}

// Buffered returns the number of events waiting to be sent.
func (t *Tracker) Buffered() int {
	return t.buffer.Len()
}

// Dropped returns how many events were rejected by a full buffer.
func (t *Tracker) Dropped() int {
	return t.buffer.Dropped()
}

// SendErrors returns the send task's consecutive failure count.
func (t *Tracker) SendErrors() int {
	t.mu.Lock()
	sched := t.sched
	t.mu.Unlock()

	if sched == nil {
		return 0
	}
	n, err := sched.ErrorCount(SendTaskName)
	if err != nil {
		return 0
	}
	return n
}
