package transport

import (
	"errors"
	"fmt"
)

// Sentinel errors for the transport package.
var (
	ErrEmptyEndpoint = errors.New("transport: endpoint is required")
)

// StatusError reports a collection endpoint answering with a non-2xx status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("transport: unexpected status %d", e.StatusCode)
}
