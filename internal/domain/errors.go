package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrPeerTimeout signals a peer that did not answer within its deadline.
	ErrPeerTimeout = errors.New("peer timeout")
	// ErrPeerUnavailable signals a transport-level peer failure.
	ErrPeerUnavailable = errors.New("peer unavailable")
	// ErrPeerStatus signals a peer that answered with a non-success HTTP status.
	ErrPeerStatus = errors.New("peer returned error status")
	// ErrPeerResponse signals a peer response that is not a decodable Bundle.
	ErrPeerResponse = errors.New("invalid peer response")
	// ErrInvalidQuery signals a request that cannot be translated into a peer query.
	ErrInvalidQuery = errors.New("invalid query")
	// ErrInvalidPeer signals an invalid peer endpoint definition.
	ErrInvalidPeer = errors.New("invalid peer")
	// ErrDuplicatePeer signals two peers registered under the same name.
	ErrDuplicatePeer = errors.New("duplicate peer")
)

// PeerStatusError wraps ErrPeerStatus with the peer name and HTTP status code.
type PeerStatusError struct {
	Peer       string
	StatusCode int
}

func (e *PeerStatusError) Error() string {
	return fmt.Sprintf("%s: %s answered %d", ErrPeerStatus.Error(), e.Peer, e.StatusCode)
}

func (e *PeerStatusError) Unwrap() error { return ErrPeerStatus }

// NewPeerStatus creates a peer status error.
func NewPeerStatus(peer string, statusCode int) error {
	return &PeerStatusError{Peer: peer, StatusCode: statusCode}
}
