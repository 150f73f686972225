package reqid

import (
	"context"
	"math/rand/v2"
	"strconv"
	"sync/atomic"
)

// Header is the HTTP header carrying the request ID.
const Header = "X-Request-Id"

// ID identifies one request across events, spans and logs.
type ID uint64

// String renders the ID as lowercase hex.
func (id ID) String() string { return strconv.FormatUint(uint64(id), 16) }

// Parse reads an ID rendered by String. Zero is rejected.
func Parse(s string) (ID, bool) {
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil || v == 0 {
		return 0, false
	}
	return ID(v), true
}

// New returns a random non-zero ID.
func New() ID {
	for {
		if v := rand.Uint64(); v != 0 {
			return ID(v)
		}
	}
}

// key is the context key for the request ID.
type key struct{}

type scope struct {
	id     ID
	serial uint64
}

var serials atomic.Uint64

// NewContext returns a copy of parent with a new random request ID stored.
// It also returns the generated ID.
func NewContext(parent context.Context) (context.Context, ID) {
	id := New()
	return WithID(parent, id), id
}

// WithID returns a copy of parent carrying id and a fresh serial.
func WithID(parent context.Context, id ID) context.Context {
	return context.WithValue(parent, key{}, scope{id: id, serial: serials.Add(1)})
}

// FromContext extracts the request ID from ctx.
// It returns the ID and whether it was present.
func FromContext(ctx context.Context) (ID, bool) {
	s, ok := ctx.Value(key{}).(scope)
	return s.id, ok
}

// Serial returns the process-local serial assigned when the ID was attached
// to ctx. Unlike the ID, which may be supplied by a client, it is unique per
// WithID call.
func Serial(ctx context.Context) (uint64, bool) {
	s, ok := ctx.Value(key{}).(scope)
	return s.serial, ok
}
