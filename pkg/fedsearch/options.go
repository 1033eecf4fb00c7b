package fedsearch

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Option configures the Interceptor.
type Option interface {
	apply(*config)
}

// optionFunc adapts a function to the Option interface.
type optionFunc func(*config)

func (f optionFunc) apply(c *config) { f(c) }

type peerSpec struct {
	name     string
	baseURL  string
	priority int
}

type config struct {
	peers         []peerSpec
	resourceTypes []string

	peerTimeout   time.Duration
	deadline      time.Duration
	singleValue   bool
	instanceReads bool

	httpClient   *http.Client
	maxBodyBytes int64
	searcher     PeerSearcher

	logger     *zap.Logger
	metricsReg prometheus.Registerer
}

// WithPeer adds a peer FHIR server. Peers are queried in ascending priority;
// equal priorities keep registration order.
func WithPeer(name, baseURL string, priority int) Option {
	return optionFunc(func(c *config) {
		c.peers = append(c.peers, peerSpec{name: name, baseURL: baseURL, priority: priority})
	})
}

// WithResourceTypes limits federation to the given resource types.
// Default: Patient. "*" federates every type.
func WithResourceTypes(types ...string) Option {
	return optionFunc(func(c *config) {
		c.resourceTypes = types
	})
}

// WithPeerTimeout bounds a single peer query. Default: 5s.
func WithPeerTimeout(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.peerTimeout = d
	})
}

// WithDeadline bounds the whole fan-out. Default: the peer timeout.
func WithDeadline(d time.Duration) Option {
	return optionFunc(func(c *config) {
		c.deadline = d
	})
}

// WithSingleValueParams forwards only the first value of repeated parameters.
func WithSingleValueParams() Option {
	return optionFunc(func(c *config) {
		c.singleValue = true
	})
}

// WithInstanceReads also federates "/{type}/{id}" reads as _id searches.
func WithInstanceReads() Option {
	return optionFunc(func(c *config) {
		c.instanceReads = true
	})
}

// WithHTTPClient sets the client used for peer requests.
func WithHTTPClient(hc *http.Client) Option {
	return optionFunc(func(c *config) {
		c.httpClient = hc
	})
}

// WithMaxBodyBytes caps a single peer response body. Default: 10 MiB.
func WithMaxBodyBytes(n int64) Option {
	return optionFunc(func(c *config) {
		c.maxBodyBytes = n
	})
}

// WithPeerSearcher replaces the HTTP transport to peers, e.g. for in-process peers.
func WithPeerSearcher(s PeerSearcher) Option {
	return optionFunc(func(c *config) {
		c.searcher = s
	})
}

// WithLogger enables structured logging. Pass nil to disable (default).
func WithLogger(l *zap.Logger) Option {
	return optionFunc(func(c *config) {
		c.logger = l
	})
}

// WithPrometheus registers SDK metrics (operation counts and durations)
// on the given registerer. Pass nil to disable (default).
func WithPrometheus(reg prometheus.Registerer) Option {
	return optionFunc(func(c *config) {
		c.metricsReg = reg
	})
}
