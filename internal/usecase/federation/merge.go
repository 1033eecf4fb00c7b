package federation

import (
	"github.com/kailas-cloud/fedsearch/internal/domain/search/outcome"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
)

// Merge concatenates the local entries with the entries of every successful
// peer outcome, in outcome order. Peer entries are attributed to their peer.
// Failed outcomes contribute nothing. The merged total is the entry count,
// never the sum of upstream-reported totals.
func Merge(local result.Set, outcomes []outcome.Outcome) result.Merged {
	size := local.Len()
	for i := range outcomes {
		if set, ok := outcomes[i].Result(); ok {
			size += set.Len()
		}
	}

	entries := make([]result.Entry, 0, size)
	entries = append(entries, local.Entries()...)
	for i := range outcomes {
		set, ok := outcomes[i].Result()
		if !ok {
			continue
		}
		source := outcomes[i].Peer().Name()
		for _, e := range set.Entries() {
			entries = append(entries, e.WithSource(source))
		}
	}
	return result.NewMerged(entries)
}
