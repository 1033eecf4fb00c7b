package peer

import (
	"fmt"
	"sort"

	"github.com/kailas-cloud/fedsearch/internal/domain"
)

// Registry is the ordered, read-only set of configured peers.
// Order is ascending priority; equal priorities keep registration order.
type Registry struct {
	peers  []Endpoint
	byName map[string]int
}

// NewRegistry creates a registry. An empty registry is valid and disables fan-out.
func NewRegistry(peers ...Endpoint) (*Registry, error) {
	sorted := make([]Endpoint, len(peers))
	copy(sorted, peers)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].priority < sorted[j].priority
	})

	byName := make(map[string]int, len(sorted))
	for i, p := range sorted {
		if p.name == "" {
			return nil, fmt.Errorf("%w: peer at position %d has no name", domain.ErrInvalidPeer, i)
		}
		if _, ok := byName[p.name]; ok {
			return nil, fmt.Errorf("%w: %q", domain.ErrDuplicatePeer, p.name)
		}
		byName[p.name] = i
	}
	return &Registry{peers: sorted, byName: byName}, nil
}

// Peers returns a copy of the peers in registry order.
func (r *Registry) Peers() []Endpoint {
	if r == nil {
		return nil
	}
	out := make([]Endpoint, len(r.peers))
	copy(out, r.peers)
	return out
}

// Len returns the number of configured peers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.peers)
}

// Get looks a peer up by name.
func (r *Registry) Get(name string) (Endpoint, bool) {
	if r == nil {
		return Endpoint{}, false
	}
	i, ok := r.byName[name]
	if !ok {
		return Endpoint{}, false
	}
	return r.peers[i], true
}
