// Package producer provides a registry of named event producers. Producers
// are the collaborators that build an event payload from page, device or
// application state; the registry maps an event name to the producer that
// builds it.
package producer

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/SebastienMelki/pixel/sdk/pixel/internal/event"
)

// Sentinel errors for the producer package.
var (
	ErrProducerExists  = errors.New("producer: already registered")
	ErrUnknownProducer = errors.New("producer: not registered")
	ErrInvalidProducer = errors.New("producer: name and function are required")
)

// Func builds the payload for one event. Returning an error aborts the event.
type Func func() (*event.Payload, error)

// Registry maps event names to producers. It is safe for concurrent use.
type Registry struct {
	mu            sync.RWMutex
	producers     map[string]Func
	allowOverride bool
	logger        *slog.Logger
}

// NewRegistry creates an empty registry. When allowOverride is false a second
// registration under the same name is rejected; when true the last
// registration wins.
func NewRegistry(allowOverride bool, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		producers:     make(map[string]Func),
		allowOverride: allowOverride,
		logger:        logger.With("component", "producer-registry"),
	}
}

// Register associates fn with name.
func (r *Registry) Register(name string, fn Func) error {
	if name == "" || fn == nil {
		return ErrInvalidProducer
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.producers[name]; exists {
		if !r.allowOverride {
			return fmt.Errorf("%w: %q", ErrProducerExists, name)
		}
		r.logger.Warn("producer replaced", "event", name)
	}
	r.producers[name] = fn
	return nil
}

// Produce runs the producer registered under name and wraps its payload in a
// new event.
func (r *Registry) Produce(name string) (event.Event, error) {
	r.mu.RLock()
	fn, ok := r.producers[name]
	r.mu.RUnlock()

	if !ok {
		return event.Event{}, fmt.Errorf("%w: %q", ErrUnknownProducer, name)
	}

	p, err := fn()
	if err != nil {
		return event.Event{}, fmt.Errorf("produce %q: %w", name, err)
	}
	return event.New(name, p), nil
}

// Names returns the registered event names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.producers))
	for name := range r.producers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
