package fhir

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kailas-cloud/fedsearch/internal/domain"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
)

// ContentType is the FHIR JSON media type.
const ContentType = "application/fhir+json"

const (
	resourceTypeBundle = "Bundle"
	bundleTypeSearch   = "searchset"
)

// Bundle is the part of a FHIR Bundle that search responses need. Resources
// are carried as raw JSON and never interpreted. Fields the struct does not
// model (identifier, timestamp, signature...) survive a decode/encode round trip.
type Bundle struct {
	ResourceType string  `json:"resourceType"`
	ID           string  `json:"id,omitempty"`
	Meta         *Meta   `json:"meta,omitempty"`
	Type         string  `json:"type,omitempty"`
	Total        *int    `json:"total,omitempty"`
	Link         []Link  `json:"link,omitempty"`
	Entry        []Entry `json:"entry,omitempty"`

	extra extraFields
}

// Meta is Bundle.meta. Tags, security labels and profiles are kept as is.
type Meta struct {
	LastUpdated string `json:"lastUpdated,omitempty"`

	extra extraFields
}

// Link is Bundle.link.
type Link struct {
	Relation string `json:"relation"`
	URL      string `json:"url"`
}

// Entry is Bundle.entry. Entry links, request/response and extensions are kept as is.
type Entry struct {
	FullURL  string          `json:"fullUrl,omitempty"`
	Resource json.RawMessage `json:"resource,omitempty"`
	Search   *EntrySearch    `json:"search,omitempty"`

	extra extraFields
}

// EntrySearch is Bundle.entry.search.
type EntrySearch struct {
	Mode  string   `json:"mode,omitempty"`
	Score *float64 `json:"score,omitempty"`

	extra extraFields
}

// The plain* types drop the methods below so that encoding/json handles the
// modelled fields.
type (
	plainBundle      Bundle
	plainMeta        Meta
	plainEntry       Entry
	plainEntrySearch EntrySearch
)

// UnmarshalJSON implements json.Unmarshaler.
func (b *Bundle) UnmarshalJSON(data []byte) error {
	extra, err := decodeObject(data, (*plainBundle)(b))
	b.extra = extra
	return err
}

// MarshalJSON implements json.Marshaler.
func (b Bundle) MarshalJSON() ([]byte, error) {
	return encodeObject(plainBundle(b), b.extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Meta) UnmarshalJSON(data []byte) error {
	extra, err := decodeObject(data, (*plainMeta)(m))
	m.extra = extra
	return err
}

// MarshalJSON implements json.Marshaler.
func (m Meta) MarshalJSON() ([]byte, error) {
	return encodeObject(plainMeta(m), m.extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Entry) UnmarshalJSON(data []byte) error {
	extra, err := decodeObject(data, (*plainEntry)(e))
	e.extra = extra
	return err
}

// MarshalJSON implements json.Marshaler.
func (e Entry) MarshalJSON() ([]byte, error) {
	return encodeObject(plainEntry(e), e.extra)
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *EntrySearch) UnmarshalJSON(data []byte) error {
	extra, err := decodeObject(data, (*plainEntrySearch)(s))
	s.extra = extra
	return err
}

// MarshalJSON implements json.Marshaler.
func (s EntrySearch) MarshalJSON() ([]byte, error) {
	return encodeObject(plainEntrySearch(s), s.extra)
}

// DecodeBundle parses data as a FHIR Bundle. Anything else wraps domain.ErrPeerResponse.
func DecodeBundle(data []byte) (*Bundle, error) {
	var b Bundle
	if err := json.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("%w: decode bundle: %w", domain.ErrPeerResponse, err)
	}
	if b.ResourceType != resourceTypeBundle {
		return nil, fmt.Errorf("%w: resourceType %q is not Bundle", domain.ErrPeerResponse, b.ResourceType)
	}
	return &b, nil
}

// Set converts the bundle entries into a result set. A missing total falls back
// to the number of entries.
func (b *Bundle) Set() result.Set {
	entries := make([]result.Entry, len(b.Entry))
	for i, e := range b.Entry {
		var mode string
		var score *float64
		if e.Search != nil {
			mode = e.Search.Mode
			score = e.Search.Score
		}
		entries[i] = result.NewEntry(e.FullURL, e.Resource, mode, score)
	}
	total := len(entries)
	if b.Total != nil {
		total = *b.Total
	}
	return result.NewSet(entries, total)
}

// Searchset builds a fresh searchset Bundle from set. Links, unmodelled
// bundle fields and meta tags are taken from the local bundle. Local entries
// are copied from it whole; peer entries are rebuilt from the result set and,
// with tagSource, get resource.meta.source set to the peer name.
func Searchset(local *Bundle, set result.Set, tagSource bool, now time.Time) *Bundle {
	entries := set.Entries()
	total := set.ReportedTotal()
	out := &Bundle{
		ResourceType: resourceTypeBundle,
		ID:           uuid.NewString(),
		Meta:         &Meta{LastUpdated: now.UTC().Format(time.RFC3339Nano)},
		Type:         bundleTypeSearch,
		Total:        &total,
		Entry:        make([]Entry, len(entries)),
	}
	if local != nil {
		out.Link = append([]Link(nil), local.Link...)
		out.extra = local.extra
		if local.Meta != nil {
			out.Meta.extra = local.Meta.extra
		}
	}

	for i := range entries {
		e := &entries[i]
		if orig, ok := localEntry(local, i, e); ok {
			out.Entry[i] = orig
			continue
		}
		resource := e.Resource()
		if src := e.Source(); tagSource && src != "" {
			resource = tagResource(resource, src)
		}
		entry := Entry{FullURL: e.FullURL(), Resource: resource}
		score, hasScore := e.Score()
		if e.Mode() != "" || hasScore {
			entry.Search = &EntrySearch{Mode: e.Mode()}
			if hasScore {
				entry.Search.Score = &score
			}
		}
		out.Entry[i] = entry
	}
	return out
}

// localEntry returns the local bundle entry that merged entry i was decoded
// from. Local entries lead the merged set in their original order.
func localEntry(local *Bundle, i int, e *result.Entry) (Entry, bool) {
	if local == nil || e.Source() != "" || i >= len(local.Entry) {
		return Entry{}, false
	}
	orig := local.Entry[i]
	if orig.FullURL != e.FullURL() {
		return Entry{}, false
	}
	return orig, true
}

// RebaseLinks returns links with the from prefix of every URL replaced by to.
// URLs outside from are kept unchanged.
func RebaseLinks(links []Link, from, to string) []Link {
	if len(links) == 0 {
		return links
	}
	from = strings.TrimRight(from, "/")
	to = strings.TrimRight(to, "/")
	out := make([]Link, len(links))
	for i, l := range links {
		if rest, ok := strings.CutPrefix(l.URL, from); ok && (rest == "" || rest[0] == '/' || rest[0] == '?') {
			l.URL = to + rest
		}
		out[i] = l
	}
	return out
}

// tagResource sets meta.source on a resource. Resources that are not JSON
// objects are returned untouched.
func tagResource(resource json.RawMessage, source string) json.RawMessage {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(resource, &fields); err != nil || fields == nil {
		return resource
	}
	meta := map[string]json.RawMessage{}
	if raw, ok := fields["meta"]; ok {
		if err := json.Unmarshal(raw, &meta); err != nil || meta == nil {
			return resource
		}
	}
	src, err := json.Marshal(source)
	if err != nil {
		return resource
	}
	meta["source"] = src
	if fields["meta"], err = json.Marshal(meta); err != nil {
		return resource
	}
	tagged, err := json.Marshal(fields)
	if err != nil {
		return resource
	}
	return tagged
}
