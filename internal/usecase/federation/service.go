package federation

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/domain/peer"
	"github.com/kailas-cloud/fedsearch/internal/domain/scratch"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/outcome"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/request"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
	logpkg "github.com/kailas-cloud/fedsearch/internal/logger"
	"github.com/kailas-cloud/fedsearch/internal/metrics"
)

// Service is the interception point: the two lifecycle hooks a host calls
// around its own request processing.
type Service struct {
	registry   *peer.Registry
	gate       *Gate
	translator *Translator
	executor   *Executor
	logger     *zap.Logger
}

// New creates a federation service.
func New(
	registry *peer.Registry, gate *Gate, translator *Translator,
	executor *Executor, logger *zap.Logger,
) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		registry:   registry,
		gate:       gate,
		translator: translator,
		executor:   executor,
		logger:     logger,
	}
}

// Eligible reports whether req is subject to federation.
func (s *Service) Eligible(req *request.Request) bool {
	return s.gate.IsEligible(req)
}

// Peers returns the configured peers in registry order.
func (s *Service) Peers() []peer.Endpoint {
	return s.registry.Peers()
}

// OnPreHandle fans req out to every peer and stores the outcomes in space.
// Ineligible requests leave space untouched. Nothing escapes to the host:
// an unexpected failure leaves space without outcomes (local-only response).
func (s *Service) OnPreHandle(ctx context.Context, space *scratch.Space, req *request.Request) {
	if space == nil || !s.Eligible(req) {
		return
	}

	defer func() {
		if rvr := recover(); rvr != nil {
			space.Delete(scratch.KeyOutcomes)
			s.log(ctx).Error("federation pre-phase panicked",
				zap.String("resource_type", req.ResourceType()),
				zap.Any("panic", rvr),
				zap.Stack("stacktrace"),
			)
		}
	}()

	outcomes := s.fanOut(ctx, req)
	space.Set(scratch.KeyRequest, *req)
	space.Set(scratch.KeyOutcomes, outcomes)
}

// OnResponse merges the stored peer outcomes into the host's local result.
// Without stored outcomes the local result is returned unchanged, as it is
// when the merge fails unexpectedly.
func (s *Service) OnResponse(ctx context.Context, space *scratch.Space, local result.Set) (out result.Set) {
	outcomes, ok := outcomesFrom(space)
	if !ok {
		return local
	}
	resourceType := requestFrom(space).ResourceType()
	if len(outcomes) == 0 {
		// No peers configured: the host result passes through as is.
		metrics.FederatedRequestsTotal.WithLabelValues(resourceType, "local_only").Inc()
		return local
	}

	defer func() {
		if rvr := recover(); rvr != nil {
			s.log(ctx).Error("federation merge panicked",
				zap.String("resource_type", resourceType),
				zap.Any("panic", rvr),
				zap.Stack("stacktrace"),
			)
			metrics.FederatedRequestsTotal.WithLabelValues(resourceType, "recovered").Inc()
			out = local
		}
	}()

	merged := Merge(local, outcomes)

	succeeded := 0
	for i := range outcomes {
		if outcomes[i].IsSuccess() {
			succeeded++
		}
	}
	status := "merged"
	if succeeded == 0 {
		status = "local_only"
	}
	metrics.FederatedRequestsTotal.WithLabelValues(resourceType, status).Inc()
	metrics.MergedEntries.WithLabelValues("local").Observe(float64(local.Len()))
	metrics.MergedEntries.WithLabelValues("peers").Observe(float64(merged.Total() - local.Len()))

	s.log(ctx).Debug("federated result merged",
		zap.String("resource_type", resourceType),
		zap.Int("local_entries", local.Len()),
		zap.Int("peers", len(outcomes)),
		zap.Int("peers_succeeded", succeeded),
		zap.Int("total", merged.Total()),
	)

	return merged.Set()
}

// fanOut translates req for every peer and dispatches the translatable queries.
// A translation error becomes that peer's failure; slots follow registry order.
func (s *Service) fanOut(ctx context.Context, req *request.Request) []outcome.Outcome {
	peers := s.registry.Peers()
	outcomes := make([]outcome.Outcome, len(peers))

	queries := make([]query.Query, 0, len(peers))
	slots := make([]int, 0, len(peers))
	for i, p := range peers {
		q, err := s.translator.Translate(req, p)
		if err != nil {
			outcomes[i] = outcome.Failure(p, fmt.Errorf("translate for %s: %w", p.Name(), err), 0)
			s.log(ctx).Warn("peer query translation failed",
				zap.String("peer", p.Name()),
				zap.Error(err),
			)
			continue
		}
		queries = append(queries, q)
		slots = append(slots, i)
	}

	for j, out := range s.executor.Dispatch(ctx, queries) {
		outcomes[slots[j]] = out
	}
	return outcomes
}

func (s *Service) log(ctx context.Context) *zap.Logger {
	return logpkg.FromContextOr(ctx, s.logger)
}

func outcomesFrom(space *scratch.Space) ([]outcome.Outcome, bool) {
	v, ok := space.Get(scratch.KeyOutcomes)
	if !ok {
		return nil, false
	}
	outcomes, ok := v.([]outcome.Outcome)
	return outcomes, ok
}

func requestFrom(space *scratch.Space) *request.Request {
	if v, ok := space.Get(scratch.KeyRequest); ok {
		if req, ok := v.(request.Request); ok {
			return &req
		}
	}
	return &request.Request{}
}
