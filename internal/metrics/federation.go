package metrics

import "github.com/prometheus/client_golang/prometheus"

// Federation Prometheus metrics.
var (
	PeerRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedsearch",
			Name:      "peer_requests_total",
			Help:      "Total number of HTTP search requests sent to peers",
		},
		[]string{"peer", "status"},
	)

	PeerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedsearch",
			Name:      "peer_request_duration_seconds",
			Help:      "Peer search request duration in seconds",
			Buckets:   []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"peer"},
	)

	PeerOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedsearch",
			Name:      "peer_outcomes_total",
			Help:      "Settled peer outcomes by result (success or failure kind)",
		},
		[]string{"peer", "result"},
	)

	FederatedRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedsearch",
			Name:      "federated_requests_total",
			Help:      "Inbound requests by federation result",
		},
		[]string{"resource_type", "result"}, // "merged" / "local_only" / "recovered"
	)

	MergedEntries = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedsearch",
			Name:      "merged_entries",
			Help:      "Entries per merged response by origin",
			Buckets:   []float64{0, 1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"source"}, // "local" / "peers"
	)
)

var fedMetricsRegistered bool

// RegisterFederationMetrics registers Prometheus federation metrics. Must be called once from main.
func RegisterFederationMetrics() {
	if fedMetricsRegistered {
		return
	}
	prometheus.MustRegister(PeerRequestsTotal)
	prometheus.MustRegister(PeerRequestDuration)
	prometheus.MustRegister(PeerOutcomesTotal)
	prometheus.MustRegister(FederatedRequestsTotal)
	prometheus.MustRegister(MergedEntries)
	fedMetricsRegistered = true
}
