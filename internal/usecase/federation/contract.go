package federation

import (
	"context"

	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
)

// PeerSearcher executes one translated query against its peer.
// Implementations must honour ctx cancellation; the executor does not rely on it.
type PeerSearcher interface {
	Search(ctx context.Context, q query.Query) (result.Set, error)
}
