package fedsearch

import (
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Results of a federated request, as counted by fedsearch_sdk_requests_total.
const (
	resultSkipped    = "skipped"     // not eligible for federation
	resultLocalOnly  = "local_only"  // no peers, or every peer failed
	resultPartial    = "partial"     // some peers failed
	resultMerged     = "merged"      // every peer answered
	resultLocalError = "local_error" // the host's own search failed
)

// sdkMetrics describes federation as seen from the embedding host.
type sdkMetrics struct {
	requests *prometheus.CounterVec   // {result}
	peers    *prometheus.CounterVec   // {peer, result}
	hooks    *prometheus.HistogramVec // {hook}
	entries  *prometheus.HistogramVec // {source}
}

func newSDKMetrics(reg prometheus.Registerer) (*sdkMetrics, error) {
	var (
		m   sdkMetrics
		err error
	)
	if m.requests, err = reuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedsearch",
		Subsystem: "sdk",
		Name:      "requests_total",
		Help:      "Requests seen by the interceptor, by federation result.",
	}, []string{"result"})); err != nil {
		return nil, err
	}
	if m.peers, err = reuse(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "fedsearch",
		Subsystem: "sdk",
		Name:      "peer_outcomes_total",
		Help:      "Settled peer queries by peer and result (success or failure kind).",
	}, []string{"peer", "result"})); err != nil {
		return nil, err
	}
	if m.hooks, err = reuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fedsearch",
		Subsystem: "sdk",
		Name:      "hook_duration_seconds",
		Help:      "Time spent inside the interceptor hooks.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"hook"})); err != nil {
		return nil, err
	}
	if m.entries, err = reuse(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "fedsearch",
		Subsystem: "sdk",
		Name:      "response_entries",
		Help:      "Entries per federated response by origin.",
		Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
	}, []string{"source"})); err != nil {
		return nil, err
	}
	return &m, nil
}

// reuse registers c, or returns the collector already registered under the
// same descriptor so that several interceptors can share one registry.
func reuse[T prometheus.Collector](reg prometheus.Registerer, c T) (T, error) {
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if !errors.As(err, &are) {
		return c, fmt.Errorf("fedsearch: register metric: %w", err)
	}
	existing, ok := are.ExistingCollector.(T)
	if !ok {
		return c, fmt.Errorf("fedsearch: metric already registered as %T", are.ExistingCollector)
	}
	return existing, nil
}

// observer records what the interceptor did with each request.
// A nil observer, or one without logger and registry, records nothing.
type observer struct {
	logger  *zap.Logger
	metrics *sdkMetrics
}

func newObserver(logger *zap.Logger, reg prometheus.Registerer) (*observer, error) {
	o := &observer{logger: logger}
	if reg != nil {
		m, err := newSDKMetrics(reg)
		if err != nil {
			return nil, err
		}
		o.metrics = m
	}
	return o, nil
}

// preHandle records the peer outcomes of one fan-out. Outcomes are nil for
// requests that were not federated.
func (o *observer) preHandle(start time.Time, outcomes []PeerOutcome) {
	if o == nil {
		return
	}
	dur := time.Since(start)
	if o.metrics != nil {
		o.metrics.hooks.WithLabelValues("pre_handle").Observe(dur.Seconds())
		for _, po := range outcomes {
			res := "success"
			if !po.OK {
				res = string(po.Kind)
			}
			o.metrics.peers.WithLabelValues(po.Peer, res).Inc()
		}
	}
	if o.logger != nil && outcomes != nil {
		o.logger.Debug("peer fan-out settled",
			zap.Int("peers", len(outcomes)),
			zap.Int("peers_failed", failedPeers(outcomes)),
			zap.Duration("duration", dur),
		)
	}
}

// response records the entry split of a merged result.
func (o *observer) response(start time.Time, local, merged ResultSet, federated bool) {
	if o == nil || o.metrics == nil {
		return
	}
	o.metrics.hooks.WithLabelValues("on_response").Observe(time.Since(start).Seconds())
	if !federated {
		return
	}
	o.metrics.entries.WithLabelValues("local").Observe(float64(local.Len()))
	o.metrics.entries.WithLabelValues("peers").Observe(float64(merged.Len() - local.Len()))
}

// request counts one request by its federation result.
func (o *observer) request(result string, err error) {
	if o == nil {
		return
	}
	if o.metrics != nil {
		o.metrics.requests.WithLabelValues(result).Inc()
	}
	if o.logger != nil && err != nil {
		o.logger.Warn("local search failed", zap.Error(err))
	}
}

// requestResult classifies a request from the outcomes its fan-out produced.
func requestResult(outcomes []PeerOutcome) string {
	if outcomes == nil {
		return resultSkipped
	}
	failed := failedPeers(outcomes)
	switch {
	case failed == len(outcomes):
		return resultLocalOnly
	case failed > 0:
		return resultPartial
	default:
		return resultMerged
	}
}

func failedPeers(outcomes []PeerOutcome) int {
	n := 0
	for _, po := range outcomes {
		if !po.OK {
			n++
		}
	}
	return n
}
