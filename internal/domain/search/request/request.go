package request

import (
	"net/http"
	"net/url"
	"strings"
)

// Request is an inbound read/search call captured at the host boundary.
// It is immutable: the constructor and accessors copy the parameter multimap.
type Request struct {
	method       string
	path         string
	resourceType string
	params       url.Values
}

// New captures a request. Path is relative to the FHIR base (e.g. "/Patient/123").
// Method is upper-cased; a missing leading slash is added to the path.
func New(method, path, resourceType string, params url.Values) Request {
	if path != "" && !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return Request{
		method:       strings.ToUpper(method),
		path:         path,
		resourceType: resourceType,
		params:       cloneValues(params),
	}
}

// FromPath captures a request whose resource type is the first path segment.
func FromPath(method, path string, params url.Values) Request {
	r := New(method, path, "", params)
	if segs := r.Segments(); len(segs) > 0 {
		r.resourceType = segs[0]
	}
	return r
}

// Method returns the HTTP method.
func (r *Request) Method() string { return r.method }

// Path returns the path relative to the FHIR base.
func (r *Request) Path() string { return r.path }

// ResourceType returns the FHIR resource type.
func (r *Request) ResourceType() string { return r.resourceType }

// Params returns a copy of the query parameters.
func (r *Request) Params() url.Values { return cloneValues(r.params) }

// Param returns the values of a single parameter in their original order.
func (r *Request) Param(name string) []string {
	v := r.params[name]
	if v == nil {
		return nil
	}
	out := make([]string, len(v))
	copy(out, v)
	return out
}

// IsRead reports whether the method is GET.
func (r *Request) IsRead() bool { return r.method == http.MethodGet }

// Segments returns the non-empty path segments.
func (r *Request) Segments() []string {
	parts := strings.Split(strings.Trim(r.path, "/"), "/")
	segs := parts[:0]
	for _, p := range parts {
		if p != "" {
			segs = append(segs, p)
		}
	}
	return segs
}

// ID returns the instance id for "/{type}/{id}" paths, or "" otherwise.
func (r *Request) ID() string {
	segs := r.Segments()
	if len(segs) != 2 {
		return ""
	}
	return segs[1]
}

// IsResourceType reports whether s has the shape of a FHIR resource type name:
// an upper-case ASCII letter followed by ASCII letters and digits. It rejects
// "metadata", ".well-known", "_search" and "$op" segments.
func IsResourceType(s string) bool {
	if s == "" || s[0] < 'A' || s[0] > 'Z' {
		return false
	}
	for i := 1; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for k, vals := range v {
		c := make([]string, len(vals))
		copy(c, vals)
		out[k] = c
	}
	return out
}
