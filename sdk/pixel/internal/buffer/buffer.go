// Package buffer provides the bounded in-memory event buffer used by the
// pixel SDK. Pushes beyond capacity are dropped; Consume atomically swaps out
// the whole contents; failed batches are requeued at the front.
package buffer

import (
	"log/slog"
	"sync"

	"github.com/SebastienMelki/pixel/sdk/pixel/internal/event"
)

// DefaultCapacity is the buffer capacity used when none is configured.
const DefaultCapacity = 1000

// Buffer is a bounded, insertion-ordered queue of events.
// It is safe for concurrent use.
type Buffer struct {
	mu       sync.Mutex
	events   []event.Event
	capacity int
	enabled  bool

	dropped          int
	capacityExceeded bool

	logger *slog.Logger
}

// New creates a buffer holding at most capacity events. A non-positive
// capacity selects DefaultCapacity. The buffer starts disabled.
func New(capacity int, logger *slog.Logger) *Buffer {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		events:   make([]event.Event, 0, capacity),
		capacity: capacity,
		logger:   logger.With("component", "event-buffer"),
	}
}

// Push appends e. It returns false and leaves the buffer unchanged when the
// buffer already holds capacity events.
func (b *Buffer) Push(e event.Event) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.events) >= b.capacity {
		if !b.capacityExceeded {
			b.capacityExceeded = true
			b.logger.Warn("event buffer full, dropping events", "capacity", b.capacity)
		}
		b.dropped++
		return false
	}

	b.capacityExceeded = false
	b.events = append(b.events, e)
	return true
}

// Consume returns the buffered events in push order and resets the buffer
// to empty in one step. While the buffer is disabled it returns nil and
// drains nothing.
func (b *Buffer) Consume() []event.Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.enabled || len(b.events) == 0 {
		return nil
	}

	events := b.events
	b.events = make([]event.Event, 0, b.capacity)
	return events
}

// Requeue puts events back at the front of the buffer, ahead of anything
// pushed since they were consumed. The length stays within capacity: the
// newest events beyond it are dropped and counted like rejected pushes.
// Requeue returns how many events it dropped.
func (b *Buffer) Requeue(events []event.Event) int {
	if len(events) == 0 {
		return 0
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	merged := make([]event.Event, 0, max(len(events)+len(b.events), b.capacity))
	merged = append(merged, events...)
	merged = append(merged, b.events...)

	trimmed := 0
	if len(merged) > b.capacity {
		trimmed = len(merged) - b.capacity
		clear(merged[b.capacity:])
		merged = merged[:b.capacity]
		b.dropped += trimmed
		b.logger.Warn("event buffer full after requeue, dropping newest events",
			"capacity", b.capacity,
			"dropped", trimmed,
		)
	}
	b.events = merged
	return trimmed
}

// Clear discards every buffered event.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = make([]event.Event, 0, b.capacity)
	b.capacityExceeded = false
}

// Enable allows Consume to drain the buffer.
func (b *Buffer) Enable() {
	b.mu.Lock()
	b.enabled = true
	b.mu.Unlock()
}

// Disable makes Consume return nothing until Enable is called.
func (b *Buffer) Disable() {
	b.mu.Lock()
	b.enabled = false
	b.mu.Unlock()
}

// Enabled reports whether Consume may drain the buffer.
func (b *Buffer) Enabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int {
	return b.capacity
}

// Dropped returns how many pushes were rejected because the buffer was full.
func (b *Buffer) Dropped() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}
