package fedsearch

import "github.com/kailas-cloud/fedsearch/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrPeerTimeout     = domain.ErrPeerTimeout
	ErrPeerUnavailable = domain.ErrPeerUnavailable
	ErrPeerStatus      = domain.ErrPeerStatus
	ErrPeerResponse    = domain.ErrPeerResponse
	ErrInvalidQuery    = domain.ErrInvalidQuery
	ErrInvalidPeer     = domain.ErrInvalidPeer
	ErrDuplicatePeer   = domain.ErrDuplicatePeer
)

// PeerStatusError carries the HTTP status a peer answered with.
type PeerStatusError = domain.PeerStatusError
