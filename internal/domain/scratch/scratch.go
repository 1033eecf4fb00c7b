// Package scratch holds request-scoped state shared between the two
// interception phases of a single inbound request.
package scratch

import "context"

// Key names a slot in the scratch space.
type Key string

// Keys used by federation.
const (
	// KeyRequest holds the captured request.Request of an eligible call.
	KeyRequest Key = "federation.request"
	// KeyOutcomes holds the []outcome.Outcome produced by the pre-phase.
	KeyOutcomes Key = "federation.peer_outcomes"
)

// Space is keyed storage that lives exactly as long as one request.
// It is written during the pre-phase and read during the response phase;
// the host orders the two, so Space is not safe for concurrent use.
type Space struct {
	values map[Key]any
}

// New creates an empty scratch space.
func New() *Space {
	return &Space{values: make(map[Key]any, 2)}
}

// Set stores a value under key.
func (s *Space) Set(key Key, v any) {
	if s == nil {
		return
	}
	s.values[key] = v
}

// Get returns the value stored under key.
func (s *Space) Get(key Key) (any, bool) {
	if s == nil {
		return nil, false
	}
	v, ok := s.values[key]
	return v, ok
}

// Delete removes key.
func (s *Space) Delete(key Key) {
	if s == nil {
		return
	}
	delete(s.values, key)
}

// Len returns the number of stored keys.
func (s *Space) Len() int {
	if s == nil {
		return 0
	}
	return len(s.values)
}

type spaceKey struct{}

// NewContext returns a context carrying the scratch space.
func NewContext(ctx context.Context, s *Space) context.Context {
	return context.WithValue(ctx, spaceKey{}, s)
}

// FromContext extracts the scratch space from context. Returns nil if not set.
func FromContext(ctx context.Context) *Space {
	s, _ := ctx.Value(spaceKey{}).(*Space)
	return s
}
