// Package event provides the payload and event model for the pixel SDK.
// Payloads are ordered, possibly nested key/value containers; events wrap a
// cleaned payload with a name, an id and the wall-clock time of creation.
package event

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
)

// Payload is an ordered mapping from string keys to values. A value is a
// primitive, a nested *Payload, or nil. Keys keep the position of their
// first insertion; setting an existing key replaces its value in place.
//
// A Payload is not safe for concurrent mutation. Once attached to an Event it
// is treated as read-only.
type Payload struct {
	keys   []string
	values map[string]any
}

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return &Payload{values: make(map[string]any)}
}

// Set stores value under key and returns the payload for chaining.
// Last write wins. On a nil payload Set allocates a new one, so the result
// must be used.
func (p *Payload) Set(key string, value any) *Payload {
	if p == nil {
		p = NewPayload()
	}
	if p.values == nil {
		p.values = make(map[string]any)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = value
	return p
}

// Get returns the value stored under key.
func (p *Payload) Get(key string) (any, bool) {
	if p == nil {
		return nil, false
	}
	v, ok := p.values[key]
	return v, ok
}

// Keys returns the keys in insertion order.
func (p *Payload) Keys() []string {
	if p == nil {
		return nil
	}
	keys := make([]string, len(p.keys))
	copy(keys, p.keys)
	return keys
}

// Len returns the number of keys.
func (p *Payload) Len() int {
	if p == nil {
		return 0
	}
	return len(p.keys)
}

// Clean returns a new payload with every nil value removed at any depth.
// Nested payloads are cleaned recursively and kept even when cleaning leaves
// them empty: pruning acts key by key and never collapses a parent key.
// The receiver is not modified.
func (p *Payload) Clean() *Payload {
	out := NewPayload()
	if p == nil {
		return out
	}

	for _, key := range p.keys {
		value := p.values[key]
		if nested, ok := value.(*Payload); ok {
			if nested == nil {
				continue
			}
			out.Set(key, nested.Clean())
			continue
		}
		if isNil(value) {
			continue
		}
		out.Set(key, value)
	}

	return out
}

// MarshalJSON encodes the payload as a JSON object, preserving key order.
func (p *Payload) MarshalJSON() ([]byte, error) {
	if p == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, key := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(p.values[key])
		if err != nil {
			return nil, fmt.Errorf("marshal payload key %q: %w", key, err)
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

// isNil reports whether v is nil or a typed nil (pointer, map, slice,
// interface, func or chan).
func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Slice, reflect.Interface, reflect.Func, reflect.Chan:
		return rv.IsNil()
	default:
		return false
	}
}
