package result

import "encoding/json"

// Search entry modes as defined by FHIR Bundle.entry.search.mode.
const (
	ModeMatch   = "match"
	ModeInclude = "include"
	ModeOutcome = "outcome"
)

// Entry is a single search hit. The resource payload is opaque to federation.
type Entry struct {
	fullURL  string
	resource json.RawMessage
	mode     string
	score    *float64
	source   string
}

// NewEntry creates an entry. The resource bytes are copied.
func NewEntry(fullURL string, resource []byte, mode string, score *float64) Entry {
	e := Entry{fullURL: fullURL, mode: mode}
	if resource != nil {
		e.resource = append(json.RawMessage(nil), resource...)
	}
	if score != nil {
		s := *score
		e.score = &s
	}
	return e
}

// WithSource returns a copy of the entry attributed to the named peer.
func (e Entry) WithSource(source string) Entry {
	e.source = source
	return e
}

// FullURL returns the absolute URL of the resource.
func (e *Entry) FullURL() string { return e.fullURL }

// Resource returns the raw resource JSON.
func (e *Entry) Resource() json.RawMessage { return e.resource }

// Mode returns the search mode (match, include, outcome).
func (e *Entry) Mode() string { return e.mode }

// Score returns the relevance score, if the producer reported one.
func (e *Entry) Score() (float64, bool) {
	if e.score == nil {
		return 0, false
	}
	return *e.score, true
}

// Source returns the peer the entry came from; empty for local entries.
func (e *Entry) Source() string { return e.source }

// Set is an ordered collection of entries with the total reported by its producer.
// The reported total may exceed the entry count because of upstream paging.
type Set struct {
	entries []Entry
	total   int
}

// NewSet creates a result set. The entry slice is copied.
func NewSet(entries []Entry, reportedTotal int) Set {
	s := Set{total: reportedTotal}
	if len(entries) > 0 {
		s.entries = make([]Entry, len(entries))
		copy(s.entries, entries)
	}
	return s
}

// Entries returns a copy of the entries.
func (s *Set) Entries() []Entry {
	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// Len returns the number of entries.
func (s *Set) Len() int { return len(s.entries) }

// ReportedTotal returns the total as understood by the producer.
func (s *Set) ReportedTotal() int { return s.total }

// Merged is the federated result: local entries followed by peer entries.
type Merged struct {
	entries []Entry
}

// NewMerged creates a merged result from already ordered entries.
func NewMerged(entries []Entry) Merged {
	return Merged{entries: entries}
}

// Entries returns a copy of the merged entries.
func (m *Merged) Entries() []Entry {
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// Total returns the number of entries actually included.
func (m *Merged) Total() int { return len(m.entries) }

// Set converts the merged result into a result set whose total is the entry count.
func (m *Merged) Set() Set {
	return NewSet(m.entries, len(m.entries))
}
