package health

import (
	"context"
	"sync"
	"time"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
)

// Status represents the aggregated health status.
type Status string

const (
	// Healthy indicates all components are operational.
	Healthy Status = "ok"
	// Degraded indicates that at least one peer is down; local search still works.
	Degraded Status = "degraded"
	// Unhealthy indicates the primary server is down.
	Unhealthy Status = "error"
)

// CheckResult represents an individual component health check outcome.
type CheckResult string

const (
	// CheckOK indicates a passing health check.
	CheckOK CheckResult = "ok"
	// CheckError indicates a failing health check.
	CheckError CheckResult = "error"
)

// PrimaryCheck is the check key of the primary server.
const PrimaryCheck = "primary"

// DefaultTimeout bounds a full round of checks.
const DefaultTimeout = 3 * time.Second

// Report aggregates health check results.
type Report struct {
	Status Status
	Checks map[string]CheckResult
}

// Service coordinates health checks.
type Service struct {
	pinger  Pinger
	primary string
	peers   []peer.Endpoint
	timeout time.Duration
}

// New creates a Service for the primary base URL and the given peers.
func New(pinger Pinger, primary string, peers []peer.Endpoint) *Service {
	return &Service{pinger: pinger, primary: primary, peers: peers, timeout: DefaultTimeout}
}

// WithTimeout overrides the check timeout.
func (s *Service) WithTimeout(d time.Duration) *Service {
	if d > 0 {
		s.timeout = d
	}
	return s
}

// Check pings the primary and every peer concurrently.
func (s *Service) Check(ctx context.Context) Report {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	var (
		mu     sync.Mutex
		wg     sync.WaitGroup
		checks = make(map[string]CheckResult, len(s.peers)+1)
	)
	ping := func(key, baseURL string) {
		defer wg.Done()
		res := CheckOK
		if err := s.pinger.Ping(ctx, baseURL); err != nil {
			res = CheckError
		}
		mu.Lock()
		checks[key] = res
		mu.Unlock()
	}

	wg.Add(1 + len(s.peers))
	go ping(PrimaryCheck, s.primary)
	for _, p := range s.peers {
		go ping(PeerCheck(p.Name()), p.BaseURL())
	}
	wg.Wait()

	status := Healthy
	for _, v := range checks {
		if v == CheckError {
			status = Degraded
			break
		}
	}
	if checks[PrimaryCheck] == CheckError {
		status = Unhealthy
	}

	return Report{Status: status, Checks: checks}
}

// PeerCheck returns the check key of a peer.
func PeerCheck(name string) string { return "peer:" + name }
