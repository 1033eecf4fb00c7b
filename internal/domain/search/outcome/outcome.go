package outcome

import (
	"context"
	"errors"
	"time"

	"github.com/kailas-cloud/fedsearch/internal/domain"
	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
)

// Kind classifies a failed peer outcome.
type Kind string

// Failure kinds.
const (
	KindNone        Kind = ""
	KindTimeout     Kind = "timeout"
	KindUnavailable Kind = "unavailable"
	KindStatus      Kind = "status"
	KindResponse    Kind = "response"
	KindTranslation Kind = "translation"
	KindInternal    Kind = "internal"
)

// Outcome is the settled result of one peer query: Success(Set) or Failure(error).
type Outcome struct {
	target  peer.Endpoint
	set     result.Set
	err     error
	latency time.Duration
}

// Success creates a successful outcome.
func Success(target peer.Endpoint, set result.Set, latency time.Duration) Outcome {
	return Outcome{target: target, set: set, latency: latency}
}

// Failure creates a failed outcome. A nil error is recorded as an internal failure.
func Failure(target peer.Endpoint, err error, latency time.Duration) Outcome {
	if err == nil {
		err = errors.New("unknown peer failure")
	}
	return Outcome{target: target, err: err, latency: latency}
}

// Peer returns the peer the outcome belongs to.
func (o *Outcome) Peer() peer.Endpoint { return o.target }

// IsSuccess reports whether the peer answered with a result set.
func (o *Outcome) IsSuccess() bool { return o.err == nil }

// Result returns the peer result set and true on success.
func (o *Outcome) Result() (result.Set, bool) {
	if o.err != nil {
		return result.Set{}, false
	}
	return o.set, true
}

// Err returns the failure cause, or nil on success.
func (o *Outcome) Err() error { return o.err }

// Latency returns how long the peer took to settle.
func (o *Outcome) Latency() time.Duration { return o.latency }

// Kind classifies the failure; KindNone on success.
func (o *Outcome) Kind() Kind {
	switch {
	case o.err == nil:
		return KindNone
	case errors.Is(o.err, domain.ErrPeerTimeout), errors.Is(o.err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(o.err, domain.ErrPeerStatus):
		return KindStatus
	case errors.Is(o.err, domain.ErrPeerResponse):
		return KindResponse
	case errors.Is(o.err, domain.ErrInvalidQuery):
		return KindTranslation
	case errors.Is(o.err, domain.ErrPeerUnavailable), errors.Is(o.err, context.Canceled):
		return KindUnavailable
	default:
		return KindInternal
	}
}
