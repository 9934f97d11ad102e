// Package scheduler provides a cooperative, frame-driven task scheduler.
//
// A single driver goroutine receives frame timestamps (a ticker at the host
// frame interval by default) and evaluates every registered task on each
// frame. A task fires only when at least 1/Rate seconds have passed since it
// last fired. Outcomes feed a per-task consecutive error count, and the
// task's failure policy may kill the entire scheduler.
//
// State transitions:
//
//	Stopped --Start--> Running --Kill / policy--> Killed (terminal)
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/SebastienMelki/pixel/internal/observability"
)

// DefaultFrameInterval approximates one frame of a 60 Hz host.
const DefaultFrameInterval = 16 * time.Millisecond

// State is the scheduler's lifecycle state.
type State int

const (
	// Stopped is the initial state: tasks may be registered, none fire.
	Stopped State = iota
	// Running means the driver is evaluating tasks every frame.
	Running
	// Killed is terminal: no further ticks fire.
	Killed
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Running:
		return "running"
	case Killed:
		return "killed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// KillFunc is notified once when the scheduler is killed.
type KillFunc func(reason string)

// Scheduler drives registered tasks from a single frame source.
type Scheduler struct {
	mu     sync.Mutex
	tasks  []*entry
	byName map[string]*entry
	state  State
	stopCh chan struct{}

	frameInterval time.Duration
	frames        <-chan time.Time
	onKill        KillFunc
	logger        *slog.Logger
	metrics       *observability.Metrics

	runCtx context.Context

	// inflight counts running callbacks; idle is closed whenever it is zero.
	inflight int
	idle     chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithFrameInterval sets the interval of the default ticker frame source.
func WithFrameInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.frameInterval = d
		}
	}
}

// WithFrames drives the scheduler from frames instead of a ticker. Each
// received timestamp produces one Tick.
func WithFrames(frames <-chan time.Time) Option {
	return func(s *Scheduler) { s.frames = frames }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records task runs, failures and kills on m.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Scheduler) { s.metrics = m }
}

// WithOnKill registers fn to be called once when the scheduler is killed.
func WithOnKill(fn KillFunc) Option {
	return func(s *Scheduler) { s.onKill = fn }
}

// New creates a stopped scheduler.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		byName:        make(map[string]*entry),
		frameInterval: DefaultFrameInterval,
		logger:        slog.Default(),
		runCtx:        context.Background(),
		idle:          make(chan struct{}),
	}
	close(s.idle)
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "scheduler")
	return s
}

// Register adds a recurring task. Registration is allowed before and after
// Start, but not once the scheduler is killed.
func (s *Scheduler) Register(t Task) error {
	if t.Name == "" || t.Run == nil {
		return ErrInvalidTask
	}
	if !(t.Rate > 0) {
		return fmt.Errorf("%w: task %q rate %v", ErrInvalidRate, t.Name, t.Rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == Killed {
		return ErrKilled
	}
	if _, ok := s.byName[t.Name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateTask, t.Name)
	}

	e := newEntry(t)
	s.tasks = append(s.tasks, e)
	s.byName[t.Name] = e

	s.logger.Debug("task registered",
		"task", t.Name,
		"rate_hz", t.Rate,
		"policy", t.Policy.String(),
	)
	return nil
}

// Start launches the driver. Cancelling ctx kills the scheduler; callbacks
// already in flight are not cancelled by it. Start on a running scheduler is
// a no-op and on a killed one returns ErrKilled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Killed:
		return ErrKilled
	case Running:
		return nil
	}

	s.state = Running
	s.stopCh = make(chan struct{})
	s.runCtx = context.WithoutCancel(ctx)

	go s.drive(ctx, s.stopCh)

	s.logger.Info("scheduler started", "tasks", len(s.tasks), "frame_interval", s.frameInterval)
	return nil
}

// drive is the single frame loop shared by every task.
func (s *Scheduler) drive(ctx context.Context, stopCh <-chan struct{}) {
	frames := s.frames
	if frames == nil {
		ticker := time.NewTicker(s.frameInterval)
		defer ticker.Stop()
		frames = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			s.kill("context canceled")
			return
		case <-stopCh:
			return
		case now, ok := <-frames:
			if !ok {
				return
			}
			s.Tick(now)
		}
	}
}

// Tick evaluates every task at time now and fires those that are due. A
// fired task's last-fire time is set to now before its callback runs, so a
// slow callback never causes re-firing. Tick does nothing unless the
// scheduler is running.
func (s *Scheduler) Tick(now time.Time) {
	s.mu.Lock()
	if s.state != Running {
		s.mu.Unlock()
		return
	}

	var due []*entry
	for _, e := range s.tasks {
		if !e.due(now) {
			continue
		}
		e.lastFire = now
		e.fired = true
		e.running = true
		e.runs++
		due = append(due, e)
	}
	if len(due) > 0 {
		if s.inflight == 0 {
			s.idle = make(chan struct{})
		}
		s.inflight += len(due)
	}
	ctx := s.runCtx
	s.mu.Unlock()

	for _, e := range due {
		go s.invoke(ctx, e)
	}
}

func (s *Scheduler) invoke(ctx context.Context, e *entry) {
	defer s.release()

	outcome, err := s.run(ctx, e)
	s.settle(ctx, e, outcome, err)
}

func (s *Scheduler) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.inflight--
	if s.inflight == 0 {
		close(s.idle)
	}
}

// run calls the task, turning a panic into a failure.
func (s *Scheduler) run(ctx context.Context, e *entry) (outcome Outcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			outcome, err = Failure, fmt.Errorf("task %q panicked: %v", e.task.Name, r)
		}
	}()
	return e.task.Run(ctx)
}

// settle applies the outcome of one invocation.
func (s *Scheduler) settle(ctx context.Context, e *entry, outcome Outcome, err error) {
	if err != nil {
		outcome = Failure
	}
	name := e.task.Name

	if s.metrics != nil {
		s.metrics.TaskRuns.Add(ctx, 1, otelmetric.WithAttributes(
			attribute.String("task", name),
			attribute.String("outcome", outcome.String()),
		))
	}

	s.mu.Lock()
	e.running = false

	var killReason string
	switch outcome {
	case Success:
		e.errors = 0
	case Skip:
	case Failure:
		e.errors++
		count := e.errors

		if s.metrics != nil {
			s.metrics.TaskFailures.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("task", name)))
		}

		switch e.task.Policy {
		case Continue:
			s.logger.Warn("task failed, continuing", "task", name, "errors", count, "error", err)
		case Retry:
			if count >= RetryThreshold {
				killReason = fmt.Sprintf("task %q failed %d consecutive times", name, count)
			} else {
				s.logger.Warn("task failed, will retry", "task", name, "errors", count, "error", err)
			}
		case StopExecution:
			killReason = fmt.Sprintf("task %q failed", name)
		}
	}

	killed := false
	if killReason != "" {
		killed = s.killLocked()
	}
	s.mu.Unlock()

	if killed {
		s.logger.Error("scheduler killed by failure policy",
			"task", name,
			"policy", e.task.Policy.String(),
			"reason", killReason,
			"error", err,
		)
		if s.metrics != nil {
			s.metrics.SchedulerKills.Add(ctx, 1, otelmetric.WithAttributes(attribute.String("task", name)))
		}
		s.notifyKill(killReason)
	}
}

// Kill stops the driver. It is idempotent and safe in any state. Callbacks
// in flight finish but their tasks are never fired again.
func (s *Scheduler) Kill() {
	s.kill("killed")
}

func (s *Scheduler) kill(reason string) {
	s.mu.Lock()
	killed := s.killLocked()
	s.mu.Unlock()

	if killed {
		s.logger.Info("scheduler killed", "reason", reason)
		s.notifyKill(reason)
	}
}

// killLocked moves to Killed and reports whether this call did so.
// Caller must hold s.mu.
func (s *Scheduler) killLocked() bool {
	if s.state == Killed {
		return false
	}
	if s.stopCh != nil {
		close(s.stopCh)
	}
	s.state = Killed
	return true
}

func (s *Scheduler) notifyKill(reason string) {
	if s.onKill != nil {
		s.onKill(reason)
	}
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ErrorCount returns the consecutive error count of the named task.
func (s *Scheduler) ErrorCount(name string) (int, error) {
	st, err := s.Stats(name)
	if err != nil {
		return 0, err
	}
	return st.Errors, nil
}

// Stats returns a snapshot of the named task.
func (s *Scheduler) Stats(name string) (TaskStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.byName[name]
	if !ok {
		return TaskStats{}, fmt.Errorf("%w: %q", ErrTaskNotRegistered, name)
	}
	return e.stats(), nil
}

// Wait blocks until every callback in flight has settled or ctx is done.
// Giving up on ctx leaves nothing behind waiting for a hung callback.
func (s *Scheduler) Wait(ctx context.Context) error {
	s.mu.Lock()
	idle := s.idle
	s.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
