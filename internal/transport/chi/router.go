package chi

import (
	"net/http"

	chiRouter "github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/metrics"
)

const (
	healthPath  = "/health"
	metricsPath = "/metrics"
	peersPath   = "/federation/peers"
)

// RouterConfig holds the middleware settings of the HTTP router.
type RouterConfig struct {
	AllowedOrigins    []string
	CORSMaxAgeSec     int
	RequestsPerSecond float64
	Burst             int
}

// NewRouter mounts s behind the standard middleware chain.
func NewRouter(s *Server, cfg RouterConfig, logger *zap.Logger) http.Handler {
	r := chiRouter.NewRouter()
	r.Use(Recoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(WideEvent(logger))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "If-Match", "If-None-Exist", "Prefer"},
		ExposedHeaders: []string{"ETag", "Location", "Last-Modified", "X-Request-ID"},
		MaxAge:         cfg.CORSMaxAgeSec,
	}))
	r.Use(RateLimit(cfg.RequestsPerSecond, cfg.Burst, healthPath, metricsPath))
	r.Use(metrics.Middleware())

	r.Get(healthPath, s.HealthCheck)
	r.Get(metricsPath, s.Metrics)
	r.Get(peersPath, s.ListPeers)
	r.Handle(s.basePath, http.HandlerFunc(s.FHIR))
	r.Handle(s.basePath+"/*", http.HandlerFunc(s.FHIR))

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeOperationOutcome(w, http.StatusNotFound, "not-found", "unknown route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeOperationOutcome(w, http.StatusMethodNotAllowed, "not-supported", "method not allowed")
	})
	return r
}
