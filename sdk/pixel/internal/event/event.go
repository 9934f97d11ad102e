package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TimeLayout is the ISO-8601 layout used for created_at (millisecond
// precision, always UTC).
const TimeLayout = "2006-01-02T15:04:05.000Z07:00"

// Event is an immutable, named, timestamped record carrying a cleaned payload.
type Event struct {
	id        string
	name      string
	payload   *Payload
	createdAt time.Time
}

// New creates an event stamped with the current wall-clock time.
func New(name string, p *Payload) Event {
	return NewAt(name, p, time.Now())
}

// NewAt creates an event stamped with the given time. The payload is cleaned
// once here; the caller's payload is left untouched.
func NewAt(name string, p *Payload, createdAt time.Time) Event {
	return Event{
		id:        uuid.New().String(),
		name:      name,
		payload:   p.Clean(),
		createdAt: createdAt.UTC(),
	}
}

// ID returns the event's unique identifier.
func (e Event) ID() string { return e.id }

// Name returns the event name.
func (e Event) Name() string { return e.name }

// CreatedAt returns the creation time captured at construction.
func (e Event) CreatedAt() time.Time { return e.createdAt }

// Payload returns a copy of the cleaned payload.
func (e Event) Payload() *Payload { return e.payload.Clean() }

// Wire is the transport object an event serializes to.
type Wire struct {
	ID           string   `json:"id"`
	Name         string   `json:"name"`
	Payload      *Payload `json:"payload"`
	CreatedAt    string   `json:"created_at"`
	AlterationID string   `json:"alteration_id,omitempty"`
}

// Transport returns the transport object for e with the alteration
// identifier merged in. An empty alterationID is omitted from the output.
func (e Event) Transport(alterationID string) Wire {
	p := e.payload
	if p == nil {
		p = NewPayload()
	}
	return Wire{
		ID:           e.id,
		Name:         e.name,
		Payload:      p,
		CreatedAt:    e.createdAt.Format(TimeLayout),
		AlterationID: alterationID,
	}
}

// MarshalJSON encodes the event as its transport object.
func (e Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(e.Transport(""))
}
