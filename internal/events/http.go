package events

import (
	"time"
)

// HTTPStart is emitted when an HTTP request is received.
// The context carries the request ID.
type HTTPStart struct {
	Method string
	Path   string
}

// HTTPFinish is emitted after the handler wrote its response.
type HTTPFinish struct {
	Method   string
	Path     string
	Status   int
	Duration time.Duration
}
