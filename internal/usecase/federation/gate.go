package federation

import (
	"strings"

	"github.com/kailas-cloud/fedsearch/internal/domain/search/request"
)

// AllTypes in the federated type list enables federation for every resource type.
const AllTypes = "*"

// Gate decides which inbound requests are subject to federation.
type Gate struct {
	all           bool
	types         map[string]struct{}
	instanceReads bool
}

// NewGate creates a gate for the given resource types. An empty list or "*" federates all types.
func NewGate(resourceTypes []string) *Gate {
	g := &Gate{types: make(map[string]struct{}, len(resourceTypes))}
	for _, t := range resourceTypes {
		t = strings.TrimSpace(t)
		if t == AllTypes {
			g.all = true
		}
		if t != "" {
			g.types[t] = struct{}{}
		}
	}
	if len(g.types) == 0 {
		g.all = true
	}
	return g
}

// WithInstanceReads also federates "/{type}/{id}" reads (served as _id searches).
func (g *Gate) WithInstanceReads(enabled bool) *Gate {
	g.instanceReads = enabled
	return g
}

// IsEligible reports whether req should be fanned out to peers. Pure and cheap.
func (g *Gate) IsEligible(req *request.Request) bool {
	if req == nil || !req.IsRead() {
		return false
	}
	rt := req.ResourceType()
	if rt == "" {
		return false
	}
	if !g.all {
		if _, ok := g.types[rt]; !ok {
			return false
		}
	}
	return g.pathAllowed(req.Segments(), rt)
}

func (g *Gate) pathAllowed(segs []string, resourceType string) bool {
	if len(segs) == 0 || segs[0] != resourceType || !request.IsResourceType(resourceType) {
		return false
	}
	switch len(segs) {
	case 1:
		return true
	case 2:
		// _history, _search and $operations are not instance reads.
		id := segs[1]
		return g.instanceReads && !strings.HasPrefix(id, "_") && !strings.HasPrefix(id, "$")
	default:
		return false
	}
}
