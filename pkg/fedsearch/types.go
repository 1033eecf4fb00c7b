package fedsearch

import (
	"context"
	"net/url"
	"time"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/domain/scratch"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/outcome"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/request"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
)

// Request is an inbound read/search call. Its path is relative to the FHIR base.
type Request = request.Request

// NewRequest captures a request whose resource type is the first path segment.
func NewRequest(method, path string, params url.Values) Request {
	return request.FromPath(method, path, params)
}

// Entry is one search result entry.
type Entry = result.Entry

// NewEntry creates an entry. Resource is the raw FHIR resource JSON.
func NewEntry(fullURL string, resource []byte, mode string, score *float64) Entry {
	return result.NewEntry(fullURL, resource, mode, score)
}

// ResultSet is an ordered list of entries plus the total reported by its origin.
type ResultSet = result.Set

// NewResultSet creates a result set.
func NewResultSet(entries []Entry, total int) ResultSet {
	return result.NewSet(entries, total)
}

// Scratch is the request-scoped space shared by OnPreHandle and OnResponse.
type Scratch = scratch.Space

// NewScratch creates an empty scratch space for one request.
func NewScratch() *Scratch { return scratch.New() }

// Peer is a configured peer FHIR server.
type Peer = peer.Endpoint

// Query is the search sent to one peer.
type Query = query.Query

// PeerSearcher runs one peer query.
type PeerSearcher interface {
	Search(ctx context.Context, q Query) (ResultSet, error)
}

// LocalSearch produces the host's own result for req.
type LocalSearch func(ctx context.Context, req *Request) (ResultSet, error)

// OutcomeKind classifies a settled peer query.
type OutcomeKind = outcome.Kind

// Outcome kinds.
const (
	KindNone        = outcome.KindNone
	KindTimeout     = outcome.KindTimeout
	KindUnavailable = outcome.KindUnavailable
	KindStatus      = outcome.KindStatus
	KindResponse    = outcome.KindResponse
	KindTranslation = outcome.KindTranslation
	KindInternal    = outcome.KindInternal
)

// PeerOutcome summarizes how one peer settled.
type PeerOutcome struct {
	Peer    string
	OK      bool
	Kind    OutcomeKind
	Entries int
	Latency time.Duration
	Err     error
}

// Outcomes reports the peer outcomes stored in s by OnPreHandle, in peer order.
// It returns nil when the request was not federated.
func Outcomes(s *Scratch) []PeerOutcome {
	v, ok := s.Get(scratch.KeyOutcomes)
	if !ok {
		return nil
	}
	stored, ok := v.([]outcome.Outcome)
	if !ok {
		return nil
	}
	out := make([]PeerOutcome, len(stored))
	for i := range stored {
		o := &stored[i]
		p := o.Peer()
		po := PeerOutcome{
			Peer:    p.Name(),
			OK:      o.IsSuccess(),
			Kind:    o.Kind(),
			Latency: o.Latency(),
			Err:     o.Err(),
		}
		if set, ok := o.Result(); ok {
			po.Entries = set.Len()
		}
		out[i] = po
	}
	return out
}
