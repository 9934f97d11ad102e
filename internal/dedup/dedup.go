// Package dedup drops events the collector has already seen. The pixel
// re-sends a whole batch when a response is lost, so the same event id can
// arrive more than once; a sliding-window bloom filter recognises the
// repeats without keeping every id in memory.
package dedup

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
)

// Config holds the filter configuration.
//
// Environment variables (under the collector's COLLECTOR_ prefix):
//   - DEDUP_WINDOW:   how long an id is remembered (default: 10m)
//   - DEDUP_CAPACITY: expected ids per window (default: 1000000)
//   - DEDUP_FP_RATE:  false positive rate (default: 0.0001)
type Config struct {
	Window   time.Duration `env:"DEDUP_WINDOW"   envDefault:"10m"`
	Capacity uint          `env:"DEDUP_CAPACITY" envDefault:"1000000"`
	FPRate   float64       `env:"DEDUP_FP_RATE"  envDefault:"0.0001"`
}

// DefaultConfig returns a 10 minute window sized for one million ids.
func DefaultConfig() Config {
	return Config{
		Window:   10 * time.Minute,
		Capacity: 1_000_000,
		FPRate:   0.0001,
	}
}

// Filter remembers ids across two bloom filters. Ids are added to current;
// lookups check current and previous. Rotating every half window keeps an
// id visible for at least one full window.
type Filter struct {
	mu       sync.RWMutex
	current  *bloom.BloomFilter
	previous *bloom.BloomFilter

	cfg    Config
	logger *slog.Logger

	started  atomic.Bool
	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// New creates a filter. Zero config fields take their defaults.
func New(cfg Config, logger *slog.Logger) *Filter {
	def := DefaultConfig()
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.Capacity == 0 {
		cfg.Capacity = def.Capacity
	}
	if cfg.FPRate <= 0 || cfg.FPRate >= 1 {
		cfg.FPRate = def.FPRate
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &Filter{
		current:  bloom.NewWithEstimates(cfg.Capacity, cfg.FPRate),
		previous: bloom.NewWithEstimates(cfg.Capacity, cfg.FPRate),
		cfg:      cfg,
		logger:   logger.With("component", "dedup"),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Contains reports whether key was recorded in the window without recording
// it. Pair it with Add once the event is safely stored.
func (f *Filter) Contains(key string) bool {
	if key == "" {
		return false
	}
	data := []byte(key)

	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current.Test(data) || f.previous.Test(data)
}

// Add records key in the current window.
func (f *Filter) Add(key string) {
	if key == "" {
		return
	}
	f.mu.Lock()
	f.current.Add([]byte(key))
	f.mu.Unlock()
}

// Rotate retires the previous filter and starts a fresh current one.
func (f *Filter) Rotate() {
	fresh := bloom.NewWithEstimates(f.cfg.Capacity, f.cfg.FPRate)

	f.mu.Lock()
	f.previous = f.current
	f.current = fresh
	f.mu.Unlock()
}

// Window returns the configured window.
func (f *Filter) Window() time.Duration {
	return f.cfg.Window
}

// Start rotates the filter every half window until ctx is done or Stop is
// called. Later calls are no-ops.
func (f *Filter) Start(ctx context.Context) {
	if !f.started.CompareAndSwap(false, true) {
		return
	}
	every := f.cfg.Window / 2
	f.logger.Info("dedup filter started", "window", f.cfg.Window, "rotate_every", every)

	go func() {
		defer close(f.doneCh)
		ticker := time.NewTicker(every)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				f.Rotate()
				f.logger.Debug("dedup filter rotated")
			case <-ctx.Done():
				return
			case <-f.stopCh:
				return
			}
		}
	}()
}

// Stop ends the rotation loop started by Start and waits for it to exit.
func (f *Filter) Stop() {
	f.stopOnce.Do(func() { close(f.stopCh) })
	if f.started.Load() {
		<-f.doneCh
	}
}
