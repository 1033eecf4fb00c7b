package fedsearch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/transport/fhir"
	"github.com/kailas-cloud/fedsearch/internal/usecase/federation"
)

// Internal interface for substitution in tests.
type federator interface {
	Eligible(req *Request) bool
	OnPreHandle(ctx context.Context, space *Scratch, req *Request)
	OnResponse(ctx context.Context, space *Scratch, local ResultSet) ResultSet
	Peers() []Peer
}

// Interceptor is the fedsearch SDK entry point.
type Interceptor struct {
	svc federator
	obs *observer
}

// New creates an Interceptor. Zero peers is valid: every hook then leaves
// the local result unchanged.
func New(opts ...Option) (*Interceptor, error) {
	cfg := &config{resourceTypes: []string{"Patient"}}
	for _, o := range opts {
		o.apply(cfg)
	}

	endpoints := make([]peer.Endpoint, 0, len(cfg.peers))
	for _, p := range cfg.peers {
		ep, err := peer.New(p.name, p.baseURL, p.priority)
		if err != nil {
			return nil, fmt.Errorf("fedsearch: %w", err)
		}
		endpoints = append(endpoints, ep)
	}
	registry, err := peer.NewRegistry(endpoints...)
	if err != nil {
		return nil, fmt.Errorf("fedsearch: %w", err)
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var searcher federation.PeerSearcher = cfg.searcher
	if cfg.searcher == nil {
		searcher = fhir.NewClient(fhir.Config{
			HTTPClient:   cfg.httpClient,
			MaxBodyBytes: cfg.maxBodyBytes,
			Logger:       logger,
		})
	}

	svc := federation.New(
		registry,
		federation.NewGate(cfg.resourceTypes).WithInstanceReads(cfg.instanceReads),
		federation.NewTranslator(cfg.singleValue),
		federation.NewExecutor(searcher, cfg.peerTimeout, logger).WithDeadline(cfg.deadline),
		logger,
	)

	obs, err := newObserver(cfg.logger, cfg.metricsReg)
	if err != nil {
		return nil, err
	}
	return &Interceptor{svc: svc, obs: obs}, nil
}

// Eligible reports whether req would be federated.
func (i *Interceptor) Eligible(req *Request) bool {
	return i.svc.Eligible(req)
}

// Peers returns the configured peers in fan-out order.
func (i *Interceptor) Peers() []Peer {
	return i.svc.Peers()
}

// OnPreHandle fans an eligible req out to every peer and stores the outcomes
// in s. It blocks until every peer settled or the deadline fired. Ineligible
// requests leave s untouched.
func (i *Interceptor) OnPreHandle(ctx context.Context, s *Scratch, req *Request) {
	start := time.Now()
	i.svc.OnPreHandle(ctx, s, req)
	i.obs.preHandle(start, Outcomes(s))
}

// OnResponse merges the outcomes stored in s into local. Without stored
// outcomes local is returned unchanged.
func (i *Interceptor) OnResponse(ctx context.Context, s *Scratch, local ResultSet) ResultSet {
	start := time.Now()
	outcomes := Outcomes(s)
	out := i.svc.OnResponse(ctx, s, local)
	i.obs.response(start, local, out, len(outcomes) > 0)
	i.obs.request(requestResult(outcomes), nil)
	return out
}

// Search runs the local search and the peer fan-out concurrently, then merges.
// Only an error from local is returned; peer failures are absorbed.
func (i *Interceptor) Search(ctx context.Context, req *Request, local LocalSearch) (ResultSet, error) {
	if local == nil {
		return ResultSet{}, errors.New("fedsearch: local search is required")
	}
	if !i.svc.Eligible(req) {
		set, err := local(ctx, req)
		i.obs.request(resultOf(resultSkipped, err), err)
		return set, err
	}

	space := NewScratch()
	pre := make(chan struct{})
	go func() {
		defer close(pre)
		i.OnPreHandle(ctx, space, req)
	}()

	set, err := local(ctx, req)
	if err != nil {
		i.obs.request(resultLocalError, err)
		return ResultSet{}, fmt.Errorf("local search: %w", err)
	}
	<-pre
	return i.OnResponse(ctx, space, set), nil
}

func resultOf(result string, err error) string {
	if err != nil {
		return resultLocalError
	}
	return result
}
