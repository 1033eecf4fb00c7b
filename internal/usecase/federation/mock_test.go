package federation

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"testing"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
)

// --- Mocks ---

type searchFunc func(ctx context.Context, q query.Query) (result.Set, error)

// mockSearcher routes each query to the behaviour registered for its peer.
type mockSearcher struct {
	mu      sync.Mutex
	byPeer  map[string]searchFunc
	queries []query.Query
}

func newMockSearcher() *mockSearcher {
	return &mockSearcher{byPeer: make(map[string]searchFunc)}
}

func (m *mockSearcher) on(peerName string, fn searchFunc) *mockSearcher {
	m.byPeer[peerName] = fn
	return m
}

func (m *mockSearcher) Search(ctx context.Context, q query.Query) (result.Set, error) {
	m.mu.Lock()
	m.queries = append(m.queries, q)
	fn, ok := m.byPeer[q.Peer().Name()]
	m.mu.Unlock()
	if !ok {
		return result.Set{}, fmt.Errorf("no behaviour for peer %s", q.Peer().Name())
	}
	return fn(ctx, q)
}

func (m *mockSearcher) calls() []query.Query {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]query.Query, len(m.queries))
	copy(out, m.queries)
	return out
}

var _ PeerSearcher = (*mockSearcher)(nil)

// --- Helpers ---

func returns(set result.Set) searchFunc {
	return func(context.Context, query.Query) (result.Set, error) { return set, nil }
}

func fails(err error) searchFunc {
	return func(context.Context, query.Query) (result.Set, error) { return result.Set{}, err }
}

// blocksUntilCanceled honours ctx like a well-behaved transport.
func blocksUntilCanceled() searchFunc {
	return func(ctx context.Context, _ query.Query) (result.Set, error) {
		<-ctx.Done()
		return result.Set{}, ctx.Err()
	}
}

// hangs ignores ctx entirely until release is closed.
func hangs(release <-chan struct{}) searchFunc {
	return func(context.Context, query.Query) (result.Set, error) {
		<-release
		return result.Set{}, nil
	}
}

func makePeer(t *testing.T, name string, priority int) peer.Endpoint {
	t.Helper()
	p, err := peer.New(name, "http://"+name+"-fhir:8080/fhir", priority)
	if err != nil {
		t.Fatalf("peer.New: %v", err)
	}
	return p
}

func makeRegistry(t *testing.T, names ...string) *peer.Registry {
	t.Helper()
	peers := make([]peer.Endpoint, len(names))
	for i, n := range names {
		peers[i] = makePeer(t, n, i+1)
	}
	r, err := peer.NewRegistry(peers...)
	if err != nil {
		t.Fatalf("peer.NewRegistry: %v", err)
	}
	return r
}

func makeEntries(prefix string, n int) []result.Entry {
	entries := make([]result.Entry, n)
	for i := range entries {
		id := fmt.Sprintf("%s-%d", prefix, i)
		entries[i] = result.NewEntry(
			"http://"+prefix+"/fhir/Patient/"+id,
			[]byte(`{"resourceType":"Patient","id":"`+id+`"}`),
			result.ModeMatch, nil,
		)
	}
	return entries
}

func makeSet(prefix string, n, reportedTotal int) result.Set {
	return result.NewSet(makeEntries(prefix, n), reportedTotal)
}

func makeQueries(t *testing.T, names ...string) []query.Query {
	t.Helper()
	qs := make([]query.Query, len(names))
	for i, n := range names {
		qs[i] = query.New(makePeer(t, n, i), "Patient", url.Values{"name": {"smith"}})
	}
	return qs
}

func entryURLs(entries []result.Entry) []string {
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].FullURL()
	}
	return out
}
