package query

import (
	"net/url"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
)

// Query is a search translated for one peer. Transport independent.
type Query struct {
	target       peer.Endpoint
	resourceType string
	params       url.Values
}

// New creates a peer query. The parameter multimap is copied.
func New(target peer.Endpoint, resourceType string, params url.Values) Query {
	cp := make(url.Values, len(params))
	for k, v := range params {
		cp[k] = append([]string(nil), v...)
	}
	return Query{target: target, resourceType: resourceType, params: cp}
}

// Peer returns the target peer.
func (q *Query) Peer() peer.Endpoint { return q.target }

// ResourceType returns the FHIR resource type to search.
func (q *Query) ResourceType() string { return q.resourceType }

// Params returns a copy of the search parameters.
func (q *Query) Params() url.Values {
	cp := make(url.Values, len(q.params))
	for k, v := range q.params {
		cp[k] = append([]string(nil), v...)
	}
	return cp
}

// Encode renders the parameters as a query string (keys sorted, value order kept).
func (q *Query) Encode() string { return q.params.Encode() }
