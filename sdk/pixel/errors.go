package pixel

import (
	"errors"

	"github.com/SebastienMelki/pixel/sdk/pixel/internal/producer"
)

// Sentinel errors for the pixel package.
var (
	// ErrKilled is returned by Start after Kill.
	ErrKilled = errors.New("pixel: tracker killed")

	// ErrTransportBusy is returned by Flush when the final send could not
	// take the transport's single in-flight slot.
	ErrTransportBusy = errors.New("pixel: transport busy")

	// ErrUnknownProducer is returned by Emit for an unregistered event name.
	ErrUnknownProducer = producer.ErrUnknownProducer

	// ErrProducerExists is returned by RegisterProducer on a name collision
	// unless AllowProducerOverride is set.
	ErrProducerExists = producer.ErrProducerExists
)
