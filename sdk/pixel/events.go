package pixel

import (
	"time"

	"github.com/SebastienMelki/pixel/sdk/pixel/internal/event"
	"github.com/SebastienMelki/pixel/sdk/pixel/internal/producer"
)

// Payload is an ordered, possibly nested key/value container describing an
// event. Nil values are pruned when the payload is attached to an event.
type Payload = event.Payload

// Event is an immutable, named, timestamped record with a cleaned payload.
type Event = event.Event

// ProducerFunc builds the payload of a named event.
type ProducerFunc = producer.Func

// NewPayload returns an empty payload.
func NewPayload() *Payload {
	return event.NewPayload()
}

// NewEvent creates an event stamped with the current time.
func NewEvent(name string, p *Payload) Event {
	return event.New(name, p)
}

// NewEventAt creates an event stamped with at.
func NewEventAt(name string, p *Payload, at time.Time) Event {
	return event.NewAt(name, p, at)
}
