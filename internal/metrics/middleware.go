package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fedsearch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method", "path", "status"},
	)

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fedsearch",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(httpRequestsTotal)
}

// Middleware records HTTP request duration and count.
func Middleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}

			var pattern string
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				pattern = rctx.RoutePattern()
			}
			path := normalizePath(pattern, r.URL.Path)

			httpRequestDuration.WithLabelValues(r.Method, path, strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(status)).Inc()
		})
	}
}

// maxLabelSegments bounds how deep a catch-all path label goes.
const maxLabelSegments = 4

// knownSegments are FHIR interactions and common operations kept verbatim in
// path labels. Every other "_" or "$" segment becomes "{op}".
var knownSegments = map[string]struct{}{
	"metadata":    {},
	"_history":    {},
	"_search":     {},
	"$everything": {},
	"$export":     {},
	"$expand":     {},
	"$lookup":     {},
	"$match":      {},
	"$meta":       {},
	"$validate":   {},
}

// normalizePath keeps metric labels low-cardinality. Catch-all FHIR routes are
// reduced to resource-type granularity: instance ids become "{id}", unknown
// interactions and operations "{op}", and a first segment that names neither
// a resource type nor a known interaction "{other}".
func normalizePath(pattern, urlPath string) string {
	if pattern == "" {
		return "unknown"
	}
	prefix, isCatchAll := strings.CutSuffix(pattern, "/*")
	if !isCatchAll {
		return pattern
	}

	rest := strings.Trim(strings.TrimPrefix(urlPath, prefix), "/")
	if rest == "" {
		return prefix
	}
	segs := strings.Split(rest, "/")
	if len(segs) > maxLabelSegments {
		segs = append(segs[:maxLabelSegments], "{more}")
	}
	for i, seg := range segs {
		switch {
		case isResourceType(seg), isKnown(seg), seg == "{more}":
			// Resource types (including compartments) and known interactions stay.
		case i == 0:
			segs[i] = "{other}"
		case strings.HasPrefix(seg, "_"), strings.HasPrefix(seg, "$"):
			segs[i] = "{op}"
		default:
			segs[i] = "{id}"
		}
	}
	return prefix + "/" + strings.Join(segs, "/")
}

func isKnown(seg string) bool {
	_, ok := knownSegments[seg]
	return ok
}
