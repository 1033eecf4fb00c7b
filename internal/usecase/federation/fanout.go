package federation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/fedsearch/internal/domain"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/outcome"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/metrics"
)

// DefaultPeerTimeout bounds a single peer query when none is configured.
const DefaultPeerTimeout = 5 * time.Second

// Executor dispatches peer queries concurrently, one goroutine per query.
// A failing, slow or panicking peer never affects its siblings.
type Executor struct {
	searcher    PeerSearcher
	peerTimeout time.Duration
	deadline    time.Duration
	logger      *zap.Logger
}

// NewExecutor creates an executor. The dispatch deadline defaults to the peer timeout.
func NewExecutor(searcher PeerSearcher, peerTimeout time.Duration, logger *zap.Logger) *Executor {
	if peerTimeout <= 0 {
		peerTimeout = DefaultPeerTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Executor{
		searcher:    searcher,
		peerTimeout: peerTimeout,
		deadline:    peerTimeout,
		logger:      logger,
	}
}

// WithDeadline overrides the overall dispatch deadline.
func (e *Executor) WithDeadline(d time.Duration) *Executor {
	if d > 0 {
		e.deadline = d
	}
	return e
}

// settled carries one outcome back to its slot.
type settled struct {
	idx int
	out outcome.Outcome
}

// Dispatch runs every query and returns exactly one outcome per query, in input order.
// It returns once all queries have settled or the deadline fires; unresolved
// peers are then reported as timeouts.
func (e *Executor) Dispatch(ctx context.Context, queries []query.Query) []outcome.Outcome {
	outcomes := make([]outcome.Outcome, len(queries))
	if len(queries) == 0 {
		return outcomes
	}

	ctx, cancel := context.WithTimeout(ctx, e.deadline)
	defer cancel()

	start := time.Now()
	// Buffered so goroutines that finish after the deadline never block.
	done := make(chan settled, len(queries))
	for i, q := range queries {
		go func() {
			done <- settled{idx: i, out: e.run(ctx, q)}
		}()
	}

	resolved := make([]bool, len(queries))
	for remaining := len(queries); remaining > 0; remaining-- {
		select {
		case s := <-done:
			outcomes[s.idx] = s.out
			resolved[s.idx] = true
		case <-ctx.Done():
			e.drain(done, outcomes, resolved)
			for i := range outcomes {
				if resolved[i] {
					continue
				}
				outcomes[i] = outcome.Failure(queries[i].Peer(),
					fmt.Errorf("%w: dispatch deadline: %w", domain.ErrPeerTimeout, ctx.Err()),
					time.Since(start))
			}
			e.record(outcomes)
			return outcomes
		}
	}

	e.record(outcomes)
	return outcomes
}

// drain collects outcomes that settled concurrently with the deadline.
func (e *Executor) drain(done <-chan settled, outcomes []outcome.Outcome, resolved []bool) {
	for {
		select {
		case s := <-done:
			outcomes[s.idx] = s.out
			resolved[s.idx] = true
		default:
			return
		}
	}
}

// run executes one peer query and converts every failure mode into an outcome.
func (e *Executor) run(ctx context.Context, q query.Query) (out outcome.Outcome) {
	start := time.Now()
	defer func() {
		if rvr := recover(); rvr != nil {
			e.logger.Error("peer search panicked",
				zap.String("peer", q.Peer().Name()),
				zap.Any("panic", rvr),
				zap.Stack("stacktrace"),
			)
			out = outcome.Failure(q.Peer(), fmt.Errorf("peer search panicked: %v", rvr), time.Since(start))
		}
	}()

	peerCtx, cancel := context.WithTimeout(ctx, e.peerTimeout)
	defer cancel()

	set, err := e.searcher.Search(peerCtx, q)
	if err != nil {
		if errors.Is(peerCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrPeerTimeout) {
			err = fmt.Errorf("%w: %w", domain.ErrPeerTimeout, err)
		}
		return outcome.Failure(q.Peer(), err, time.Since(start))
	}
	return outcome.Success(q.Peer(), set, time.Since(start))
}

// record logs failures and counts outcomes per peer.
func (e *Executor) record(outcomes []outcome.Outcome) {
	for i := range outcomes {
		o := &outcomes[i]
		name := o.Peer().Name()
		if o.IsSuccess() {
			metrics.PeerOutcomesTotal.WithLabelValues(name, "success").Inc()
			continue
		}
		kind := o.Kind()
		metrics.PeerOutcomesTotal.WithLabelValues(name, string(kind)).Inc()
		e.logger.Warn("peer search failed",
			zap.String("peer", name),
			zap.String("kind", string(kind)),
			zap.Duration("latency", o.Latency()),
			zap.Error(o.Err()),
		)
	}
}
