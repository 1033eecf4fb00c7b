package peer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/kailas-cloud/fedsearch/internal/domain"
)

// Endpoint is an immutable value object identifying a remote FHIR server.
type Endpoint struct {
	name     string
	baseURL  string
	priority int
}

// New validates and creates an Endpoint.
// Name must be non-empty. Base URL must be absolute http(s); a trailing slash is dropped.
func New(name, baseURL string, priority int) (Endpoint, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Endpoint{}, fmt.Errorf("%w: name is required", domain.ErrInvalidPeer)
	}
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %s: parse base url: %w", domain.ErrInvalidPeer, name, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return Endpoint{}, fmt.Errorf("%w: %s: base url must be http or https, got %q",
			domain.ErrInvalidPeer, name, baseURL)
	}
	if u.Host == "" {
		return Endpoint{}, fmt.Errorf("%w: %s: base url has no host", domain.ErrInvalidPeer, name)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return Endpoint{
		name:     name,
		baseURL:  strings.TrimRight(u.String(), "/"),
		priority: priority,
	}, nil
}

// Name returns the peer name used in logs, metrics and entry source tags.
func (e Endpoint) Name() string { return e.name }

// BaseURL returns the FHIR base URL without a trailing slash.
func (e Endpoint) BaseURL() string { return e.baseURL }

// Priority returns the ordering key; lower values come first.
func (e Endpoint) Priority() int { return e.priority }

func (e Endpoint) String() string { return e.name + "(" + e.baseURL + ")" }
