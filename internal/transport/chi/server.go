package chi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/domain"
	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/domain/scratch"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/outcome"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/request"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/fedsearch/internal/logger"
	"github.com/kailas-cloud/fedsearch/internal/transport/fhir"
	"github.com/kailas-cloud/fedsearch/internal/usecase/federation"
	healthuc "github.com/kailas-cloud/fedsearch/internal/usecase/health"
)

// Federator is the interception point the adapter calls around the primary request.
type Federator interface {
	Eligible(req *request.Request) bool
	OnPreHandle(ctx context.Context, space *scratch.Space, req *request.Request)
	OnResponse(ctx context.Context, space *scratch.Space, local result.Set) result.Set
	Peers() []peer.Endpoint
}

// Upstream fetches the local result from the primary server.
type Upstream interface {
	Fetch(ctx context.Context, q query.Query, header http.Header) (*fhir.Response, error)
}

// HealthChecker reports primary and peer availability.
type HealthChecker interface {
	Check(ctx context.Context) healthuc.Report
}

// Options holds adapter settings.
type Options struct {
	BasePath       string // e.g. "/fhir"
	TagSource      bool
	PrimaryTimeout time.Duration // 0 disables the bound
}

// Server fronts the primary FHIR server and federates eligible searches.
type Server struct {
	federator      Federator
	upstream       Upstream
	health         HealthChecker
	primary        peer.Endpoint
	translator     *federation.Translator
	proxy          *httputil.ReverseProxy
	basePath       string
	tagSource      bool
	primaryTimeout time.Duration
	logger         *zap.Logger
	now            func() time.Time
}

// NewServer creates the host adapter.
func NewServer(
	federator Federator,
	upstream Upstream,
	health HealthChecker,
	primary peer.Endpoint,
	opts Options,
	logger *zap.Logger,
) (*Server, error) {
	target, err := url.Parse(primary.BaseURL())
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		federator:      federator,
		upstream:       upstream,
		health:         health,
		primary:        primary,
		translator:     federation.NewTranslator(false),
		basePath:       strings.TrimRight(opts.BasePath, "/"),
		tagSource:      opts.TagSource,
		primaryTimeout: opts.PrimaryTimeout,
		logger:         logger,
		now:            time.Now,
	}
	s.proxy = s.newProxy(target)
	return s, nil
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status == healthuc.Unhealthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// ListPeers handles GET /federation/peers.
func (s *Server) ListPeers(w http.ResponseWriter, _ *http.Request) {
	peers := s.federator.Peers()
	items := make([]peerResponse, len(peers))
	for i, p := range peers {
		items[i] = peerResponse{Name: p.Name(), BaseURL: p.BaseURL(), Priority: p.Priority()}
	}
	writeJSON(w, http.StatusOK, peersResponse{Primary: s.primary.BaseURL(), Peers: items})
}

// FHIR handles every request under the base path. Eligible searches are
// federated; everything else is proxied to the primary untouched.
func (s *Server) FHIR(w http.ResponseWriter, r *http.Request) {
	rel := strings.TrimPrefix(r.URL.Path, s.basePath)
	req := request.FromPath(r.Method, rel, r.URL.Query())

	if !s.federator.Eligible(&req) {
		s.proxy.ServeHTTP(w, r)
		return
	}

	local, err := s.translator.Translate(&req, s.primary)
	if err != nil {
		logpkg.FromContextOr(r.Context(), s.logger).Debug("request not federated", zap.Error(err))
		s.proxy.ServeHTTP(w, r)
		return
	}
	s.federate(w, r, &req, local)
}

// federate runs the pre-phase alongside the primary request and merges once both are done.
func (s *Server) federate(w http.ResponseWriter, r *http.Request, req *request.Request, local query.Query) {
	log := logpkg.FromContextOr(r.Context(), s.logger)
	space := scratch.New()
	ctx := scratch.NewContext(r.Context(), space)

	pre := make(chan struct{})
	go func() {
		defer close(pre)
		defer func() {
			if rvr := recover(); rvr != nil {
				log.Error("federation pre-phase panicked", zap.Any("panic", rvr), zap.Stack("stacktrace"))
			}
		}()
		s.federator.OnPreHandle(ctx, space, req)
	}()

	resp, err := s.fetchPrimary(ctx, local, r.Header)
	if err != nil {
		log.Error("primary request failed", zap.Error(err))
		if errors.Is(err, domain.ErrPeerTimeout) {
			writeOperationOutcome(w, http.StatusGatewayTimeout, issueTimeout, "primary server did not answer in time")
			return
		}
		writeOperationOutcome(w, http.StatusBadGateway, issueTransient, "primary server unavailable")
		return
	}
	if resp.StatusCode != http.StatusOK {
		relay(w, resp)
		return
	}
	bundle, err := fhir.DecodeBundle(resp.Body)
	if err != nil {
		log.Warn("primary answered with a non-bundle body", zap.Error(err))
		relay(w, resp)
		return
	}

	<-pre
	if v, _ := space.Get(scratch.KeyOutcomes); !hasOutcomes(v) {
		// Nothing to merge: the primary answer goes out as is.
		relay(w, resp)
		return
	}

	merged := s.federator.OnResponse(ctx, space, bundle.Set())
	sb := fhir.Searchset(bundle, merged, s.tagSource, s.now())
	sb.Link = fhir.RebaseLinks(sb.Link, s.primary.BaseURL(), s.externalBase(r))
	writeFHIR(w, http.StatusOK, sb)
}

// fetchPrimary bounds the local search by the primary timeout. The pre-phase
// keeps the request context.
func (s *Server) fetchPrimary(ctx context.Context, q query.Query, header http.Header) (*fhir.Response, error) {
	if s.primaryTimeout <= 0 {
		return s.upstream.Fetch(ctx, q, header)
	}
	ctx, cancel := context.WithTimeout(ctx, s.primaryTimeout)
	defer cancel()
	resp, err := s.upstream.Fetch(ctx, q, header)
	if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrPeerTimeout) {
		err = fmt.Errorf("%w: %w", domain.ErrPeerTimeout, err)
	}
	return resp, err
}

// externalBase is the base URL clients used to reach the adapter.
func (s *Server) externalBase(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := firstValue(r.Header.Get("X-Forwarded-Proto")); p == "http" || p == "https" {
		scheme = p
	}
	host := r.Host
	if h := firstValue(r.Header.Get("X-Forwarded-Host")); h != "" {
		host = h
	}
	return scheme + "://" + host + s.basePath
}

func firstValue(v string) string {
	first, _, _ := strings.Cut(v, ",")
	return strings.TrimSpace(first)
}

func (s *Server) newProxy(target *url.URL) *httputil.ReverseProxy {
	var transport http.RoundTripper
	if s.primaryTimeout > 0 {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.ResponseHeaderTimeout = s.primaryTimeout
		transport = t
	}
	return &httputil.ReverseProxy{
		Transport: transport,
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.Out.URL.Path = strings.TrimPrefix(pr.In.URL.Path, s.basePath)
			pr.Out.URL.RawPath = ""
			pr.SetURL(target)
			pr.SetXForwarded()
			pr.Out.Host = target.Host
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logpkg.FromContextOr(r.Context(), s.logger).Error("proxy to primary failed", zap.Error(err))
			writeOperationOutcome(w, http.StatusBadGateway, issueTransient, "primary server unavailable")
		},
	}
}

func hasOutcomes(v any) bool {
	outcomes, ok := v.([]outcome.Outcome)
	return ok && len(outcomes) > 0
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

type peerResponse struct {
	Name     string `json:"name"`
	BaseURL  string `json:"base_url"`
	Priority int    `json:"priority"`
}

type peersResponse struct {
	Primary string         `json:"primary"`
	Peers   []peerResponse `json:"peers"`
}

// OperationOutcome issue codes used by the adapter.
const (
	issueTransient = "transient"
	issueTimeout   = "timeout"
	issueThrottled = "throttled"
	issueException = "exception"
)

type operationOutcome struct {
	ResourceType string         `json:"resourceType"`
	Issue        []outcomeIssue `json:"issue"`
}

type outcomeIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
}

// hopHeaders are not relayed from a buffered upstream answer.
var hopHeaders = map[string]struct{}{
	"Connection":        {},
	"Content-Length":    {},
	"Keep-Alive":        {},
	"Transfer-Encoding": {},
}

// relay writes an upstream answer unchanged.
func relay(w http.ResponseWriter, resp *fhir.Response) {
	for k, vv := range resp.Header {
		if _, hop := hopHeaders[http.CanonicalHeaderKey(k)]; hop {
			continue
		}
		for _, v := range vv {
			w.Header().Add(k, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(resp.Body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFHIR(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", fhir.ContentType+"; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeOperationOutcome(w http.ResponseWriter, status int, code, message string) {
	writeFHIR(w, status, operationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []outcomeIssue{{
			Severity:    "error",
			Code:        code,
			Diagnostics: message,
		}},
	})
}
