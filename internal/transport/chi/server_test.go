package chi

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/transport/fhir"
	"github.com/kailas-cloud/fedsearch/internal/usecase/federation"
	healthuc "github.com/kailas-cloud/fedsearch/internal/usecase/health"
)

// --- Fixtures ---

func bundleOf(host string, ids ...string) string {
	entries := make([]string, len(ids))
	for i, id := range ids {
		entries[i] = `{"fullUrl":"http://` + host + `/fhir/Patient/` + id + `",` +
			`"resource":{"resourceType":"Patient","id":"` + id + `"},"search":{"mode":"match"}}`
	}
	return `{"resourceType":"Bundle","type":"searchset","total":100,` +
		`"link":[{"relation":"self","url":"http://` + host + `/fhir/Patient"}],` +
		`"entry":[` + strings.Join(entries, ",") + `]}`
}

// fhirServer answers /metadata and searches with a fixed bundle.
type fhirServer struct {
	*httptest.Server
	hits     atomic.Int32 // every request, /metadata included
	searches atomic.Int32
	lastReq  atomic.Value // seenRequest
}

type seenRequest struct {
	method, path, query, body string
}

func newFHIRServer(t *testing.T, status int, body string) *fhirServer {
	t.Helper()
	fs := &fhirServer{}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		if strings.HasSuffix(r.URL.Path, "/metadata") {
			_, _ = w.Write([]byte(`{"resourceType":"CapabilityStatement"}`))
			return
		}
		b, _ := io.ReadAll(r.Body)
		fs.lastReq.Store(seenRequest{method: r.Method, path: r.URL.Path, query: r.URL.RawQuery, body: string(b)})
		fs.searches.Add(1)
		w.Header().Set("Content-Type", fhir.ContentType)
		w.Header().Set("ETag", `W/"1"`)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *fhirServer) seen() seenRequest {
	v, _ := fs.lastReq.Load().(seenRequest)
	return v
}

type harness struct {
	handler http.Handler
	primary *fhirServer
}

// harnessOptions overrides the defaults newHarness uses.
type harnessOptions struct {
	gate           *federation.Gate
	primaryTimeout time.Duration
}

func newHarness(t *testing.T, primary *fhirServer, peerURLs map[string]string, rps float64) *harness {
	t.Helper()
	return newHarnessWith(t, primary, peerURLs, rps, harnessOptions{})
}

func newHarnessWith(
	t *testing.T, primary *fhirServer, peerURLs map[string]string, rps float64, hopts harnessOptions,
) *harness {
	t.Helper()
	if hopts.gate == nil {
		hopts.gate = federation.NewGate([]string{"Patient"})
	}
	primaryEP, err := peer.New("primary", primary.URL+"/fhir", 0)
	if err != nil {
		t.Fatal(err)
	}

	endpoints := make([]peer.Endpoint, 0, len(peerURLs))
	prio := 1
	for _, name := range []string{"fetal", "maternal"} {
		u, ok := peerURLs[name]
		if !ok {
			continue
		}
		ep, err := peer.New(name, u, prio)
		if err != nil {
			t.Fatal(err)
		}
		endpoints = append(endpoints, ep)
		prio++
	}
	reg, err := peer.NewRegistry(endpoints...)
	if err != nil {
		t.Fatal(err)
	}

	client := fhir.NewClient(fhir.Config{})
	svc := federation.New(
		reg,
		hopts.gate,
		federation.NewTranslator(false),
		federation.NewExecutor(client, 500*time.Millisecond, nil),
		nil,
	)
	health := healthuc.New(client, primaryEP.BaseURL(), reg.Peers())

	opts := Options{BasePath: "/fhir", TagSource: true, PrimaryTimeout: hopts.primaryTimeout}
	srv, err := NewServer(svc, client, health, primaryEP, opts, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	return &harness{
		handler: NewRouter(srv, RouterConfig{AllowedOrigins: []string{"*"}, RequestsPerSecond: rps, Burst: 1}, zap.NewNop()),
		primary: primary,
	}
}

func (h *harness) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rdr)
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBundle(t *testing.T, rec *httptest.ResponseRecorder) *fhir.Bundle {
	t.Helper()
	b, err := fhir.DecodeBundle(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not a bundle: %v\n%s", err, rec.Body.String())
	}
	return b
}

// --- Tests ---

func TestFHIR_MergesPeerResults(t *testing.T) {
	primary := newFHIRServer(t, http.StatusOK, bundleOf("primary", "1", "2", "3"))
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal", "f1", "f2"))
	maternal := newFHIRServer(t, http.StatusOK, bundleOf("maternal", "m1"))

	h := newHarness(t, primary, map[string]string{"fetal": fetal.URL + "/fhir", "maternal": maternal.URL + "/fhir"}, 0)
	rec := h.do(t, http.MethodGet, "/fhir/Patient?name=smith&name=jones", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	b := decodeBundle(t, rec)
	if b.Total == nil || *b.Total != 6 {
		t.Errorf("total = %v, want 6", b.Total)
	}
	if len(b.Entry) != 6 {
		t.Fatalf("entries = %d, want 6", len(b.Entry))
	}
	if !strings.Contains(b.Entry[0].FullURL, "primary") || !strings.Contains(b.Entry[3].FullURL, "fetal") ||
		!strings.Contains(b.Entry[5].FullURL, "maternal") {
		t.Errorf("unexpected entry order: %s, %s, %s", b.Entry[0].FullURL, b.Entry[3].FullURL, b.Entry[5].FullURL)
	}
	if b.Type != "searchset" || b.ID == "" || b.Meta == nil || b.Meta.LastUpdated == "" {
		t.Errorf("bundle header = %+v", b)
	}
	if len(b.Link) != 1 || !strings.Contains(b.Link[0].URL, "primary") {
		t.Errorf("links = %+v, want primary links", b.Link)
	}

	var res struct {
		Meta struct {
			Source string `json:"source"`
		} `json:"meta"`
	}
	if err := json.Unmarshal(b.Entry[3].Resource, &res); err != nil {
		t.Fatal(err)
	}
	if res.Meta.Source != "fetal" {
		t.Errorf("peer entry meta.source = %q, want fetal", res.Meta.Source)
	}

	if got := fetal.seen(); got.path != "/fhir/Patient" || got.query != "name=smith&name=jones" {
		t.Errorf("peer saw %+v", got)
	}
	if got := primary.seen(); got.path != "/fhir/Patient" || got.query != "name=smith&name=jones" {
		t.Errorf("primary saw %+v", got)
	}
}

func TestFHIR_PeerFailureKeepsLocalResults(t *testing.T) {
	primary := newFHIRServer(t, http.StatusOK, bundleOf("primary", "1", "2", "3"))
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal", "f1", "f2"))
	broken := newFHIRServer(t, http.StatusInternalServerError, `oops`)

	h := newHarness(t, primary, map[string]string{"fetal": fetal.URL + "/fhir", "maternal": broken.URL + "/fhir"}, 0)
	rec := h.do(t, http.MethodGet, "/fhir/Patient", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	b := decodeBundle(t, rec)
	if b.Total == nil || *b.Total != 5 {
		t.Errorf("total = %v, want 5", b.Total)
	}
}

func TestFHIR_ZeroPeersRelaysPrimary(t *testing.T) {
	body := bundleOf("primary", "1", "2")
	primary := newFHIRServer(t, http.StatusOK, body)

	h := newHarness(t, primary, nil, 0)
	rec := h.do(t, http.MethodGet, "/fhir/Patient", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Body.String() != body {
		t.Errorf("body = %s, want primary body unchanged", rec.Body.String())
	}
}

func TestFHIR_IneligibleIsProxied(t *testing.T) {
	primary := newFHIRServer(t, http.StatusCreated, `{"resourceType":"Patient","id":"new"}`)
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal", "f1"))

	h := newHarness(t, primary, map[string]string{"fetal": fetal.URL + "/fhir"}, 0)

	tests := []struct {
		name, method, target, body string
	}{
		{"create", http.MethodPost, "/fhir/Patient", `{"resourceType":"Patient"}`},
		{"other type", http.MethodGet, "/fhir/Observation?code=x", ""},
		{"history", http.MethodGet, "/fhir/Patient/1/_history", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.target, tt.body)
			if rec.Code != http.StatusCreated {
				t.Errorf("status = %d, want primary status 201", rec.Code)
			}
			got := primary.seen()
			if got.method != tt.method || !strings.HasPrefix(tt.target, got.path) {
				t.Errorf("primary saw %+v for %s %s", got, tt.method, tt.target)
			}
			if got.body != tt.body {
				t.Errorf("primary body = %q, want %q", got.body, tt.body)
			}
		})
	}
	if n := fetal.searches.Load(); n != 0 {
		t.Errorf("peer queried %d times for ineligible requests", n)
	}
}

func TestFHIR_WildcardGateProxiesServerEndpoints(t *testing.T) {
	body := bundleOf("primary", "1")
	primary := newFHIRServer(t, http.StatusOK, body)
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal", "f1"))

	gate := federation.NewGate([]string{"*"}).WithInstanceReads(true)
	h := newHarnessWith(t, primary, map[string]string{"fetal": fetal.URL + "/fhir"}, 0, harnessOptions{gate: gate})

	rec := h.do(t, http.MethodGet, "/fhir/metadata", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "CapabilityStatement") {
		t.Errorf("metadata: status = %d, body %s", rec.Code, rec.Body.String())
	}

	for _, target := range []string{"/fhir/.well-known/smart-configuration", "/fhir/_search", "/fhir/$export"} {
		rec := h.do(t, http.MethodGet, target, "")
		if rec.Code != http.StatusOK || rec.Body.String() != body {
			t.Errorf("%s: status = %d, body %s", target, rec.Code, rec.Body.String())
		}
		if got := primary.seen().path; got != target {
			t.Errorf("%s: primary saw path %q", target, got)
		}
	}

	if n := fetal.hits.Load(); n != 0 {
		t.Errorf("peer received %d requests for server-level endpoints", n)
	}

	rec = h.do(t, http.MethodGet, "/fhir/Encounter?status=finished", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("search status = %d", rec.Code)
	}
	if n := fetal.searches.Load(); n != 1 {
		t.Errorf("peer searches = %d, want 1 for a wildcard resource search", n)
	}
}

func TestFHIR_LinksPointAtAdapter(t *testing.T) {
	primary := &fhirServer{}
	primary.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		base := "http://" + r.Host + "/fhir"
		w.Header().Set("Content-Type", fhir.ContentType)
		_, _ = w.Write([]byte(`{"resourceType":"Bundle","type":"searchset","total":1,"link":[` +
			`{"relation":"self","url":"` + base + `/Patient?name=smith"},` +
			`{"relation":"next","url":"` + base + `?_getpages=abc&_getpagesoffset=20"}],` +
			`"entry":[{"fullUrl":"` + base + `/Patient/1","resource":{"resourceType":"Patient","id":"1"}}]}`))
	}))
	t.Cleanup(primary.Close)
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal", "f1"))

	h := newHarness(t, primary, map[string]string{"fetal": fetal.URL + "/fhir"}, 0)

	tests := []struct {
		name   string
		header map[string]string
		want   string
	}{
		{"request host", nil, "http://example.com/fhir"},
		{
			"forwarded",
			map[string]string{"X-Forwarded-Proto": "https", "X-Forwarded-Host": "fhir.example.org, lb.internal"},
			"https://fhir.example.org/fhir",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/fhir/Patient?name=smith", nil)
			for k, v := range tt.header {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.handler.ServeHTTP(rec, req)

			if rec.Code != http.StatusOK {
				t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
			}
			b := decodeBundle(t, rec)
			if len(b.Link) != 2 {
				t.Fatalf("links = %+v", b.Link)
			}
			if b.Link[0].URL != tt.want+"/Patient?name=smith" {
				t.Errorf("self = %q", b.Link[0].URL)
			}
			if b.Link[1].URL != tt.want+"?_getpages=abc&_getpagesoffset=20" {
				t.Errorf("next = %q", b.Link[1].URL)
			}
			if len(b.Entry) != 2 || b.Entry[0].FullURL != primary.URL+"/fhir/Patient/1" {
				t.Errorf("local entry = %+v", b.Entry)
			}
		})
	}
}

func TestFHIR_PrimaryTimeout(t *testing.T) {
	release := make(chan struct{})
	primary := &fhirServer{}
	primary.Server = httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	t.Cleanup(primary.Close)
	t.Cleanup(func() { close(release) })
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal", "f1"))

	h := newHarnessWith(t, primary, map[string]string{"fetal": fetal.URL + "/fhir"}, 0,
		harnessOptions{primaryTimeout: 100 * time.Millisecond})

	start := time.Now()
	rec := h.do(t, http.MethodGet, "/fhir/Patient", "")
	if rec.Code != http.StatusGatewayTimeout {
		t.Errorf("search status = %d, want 504", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"timeout"`) {
		t.Errorf("search body = %s", rec.Body.String())
	}

	rec = h.do(t, http.MethodPost, "/fhir/Patient", `{"resourceType":"Patient"}`)
	if rec.Code != http.StatusBadGateway {
		t.Errorf("proxied status = %d, want 502", rec.Code)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("hanging primary held requests for %v", elapsed)
	}
}

func TestFHIR_PrimaryErrorIsRelayed(t *testing.T) {
	outcome := `{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"invalid"}]}`
	primary := newFHIRServer(t, http.StatusBadRequest, outcome)
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal", "f1"))

	h := newHarness(t, primary, map[string]string{"fetal": fetal.URL + "/fhir"}, 0)
	rec := h.do(t, http.MethodGet, "/fhir/Patient?birthdate=bogus", "")

	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
	if rec.Body.String() != outcome {
		t.Errorf("body = %s", rec.Body.String())
	}
	if rec.Header().Get("ETag") != `W/"1"` {
		t.Errorf("ETag not relayed: %q", rec.Header().Get("ETag"))
	}
}

func TestFHIR_PrimaryDown(t *testing.T) {
	primary := newFHIRServer(t, http.StatusOK, bundleOf("primary", "1"))
	h := newHarness(t, primary, nil, 0)
	primary.Close()

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		rec := h.do(t, method, "/fhir/Patient", "")
		if rec.Code != http.StatusBadGateway {
			t.Errorf("%s status = %d, want 502", method, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), `"OperationOutcome"`) {
			t.Errorf("%s body = %s", method, rec.Body.String())
		}
	}
}

func TestHealthCheck(t *testing.T) {
	primary := newFHIRServer(t, http.StatusOK, bundleOf("primary"))
	fetal := newFHIRServer(t, http.StatusOK, bundleOf("fetal"))
	down := newFHIRServer(t, http.StatusOK, bundleOf("maternal"))
	down.Close()

	h := newHarness(t, primary, map[string]string{"fetal": fetal.URL + "/fhir", "maternal": down.URL + "/fhir"}, 0)
	rec := h.do(t, http.MethodGet, "/health", "")

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for degraded", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != string(healthuc.Degraded) {
		t.Errorf("status = %q, want degraded", resp.Status)
	}
	if resp.Checks["peer:maternal"] != "error" || resp.Checks["primary"] != "ok" {
		t.Errorf("checks = %v", resp.Checks)
	}

	primary.Close()
	rec = h.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503 with primary down", rec.Code)
	}
}

func TestListPeers(t *testing.T) {
	primary := newFHIRServer(t, http.StatusOK, bundleOf("primary"))
	h := newHarness(t, primary, map[string]string{"fetal": "http://fetal:8080/fhir", "maternal": "http://maternal:8080/fhir"}, 0)

	rec := h.do(t, http.MethodGet, "/federation/peers", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp peersResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Peers) != 2 || resp.Peers[0].Name != "fetal" || resp.Peers[1].Priority != 2 {
		t.Errorf("peers = %+v", resp.Peers)
	}
	if resp.Primary != primary.URL+"/fhir" {
		t.Errorf("primary = %q", resp.Primary)
	}
}

func TestRateLimit(t *testing.T) {
	primary := newFHIRServer(t, http.StatusOK, bundleOf("primary", "1"))
	h := newHarness(t, primary, nil, 0.001)

	if rec := h.do(t, http.MethodGet, "/fhir/Patient", ""); rec.Code != http.StatusOK {
		t.Fatalf("first request status = %d", rec.Code)
	}
	rec := h.do(t, http.MethodGet, "/fhir/Patient", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if rec := h.do(t, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("health status = %d, want exempt", rec.Code)
	}
}

func TestUnknownRoute(t *testing.T) {
	primary := newFHIRServer(t, http.StatusOK, bundleOf("primary"))
	h := newHarness(t, primary, nil, 0)

	rec := h.do(t, http.MethodGet, "/nope", "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "OperationOutcome") {
		t.Errorf("body = %s", rec.Body.String())
	}
}
