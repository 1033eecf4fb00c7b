package federation

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/kailas-cloud/fedsearch/internal/domain"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/outcome"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/query"
	"github.com/kailas-cloud/fedsearch/internal/domain/search/result"
	"github.com/kailas-cloud/fedsearch/internal/metrics"
)

func TestDispatch_OneOutcomePerQueryInOrder(t *testing.T) {
	delayed := func(d time.Duration, set result.Set) searchFunc {
		return func(context.Context, query.Query) (result.Set, error) {
			time.Sleep(d)
			return set, nil
		}
	}
	s := newMockSearcher().
		on("slow", delayed(60*time.Millisecond, makeSet("slow", 1, 1))).
		on("medium", delayed(30*time.Millisecond, makeSet("medium", 2, 2))).
		on("fast", returns(makeSet("fast", 3, 3)))

	e := NewExecutor(s, time.Second, nil)
	outs := e.Dispatch(context.Background(), makeQueries(t, "slow", "medium", "fast"))

	if len(outs) != 3 {
		t.Fatalf("got %d outcomes, want 3", len(outs))
	}
	wantSizes := []int{1, 2, 3}
	for i, name := range []string{"slow", "medium", "fast"} {
		if got := outs[i].Peer().Name(); got != name {
			t.Errorf("outcome %d peer = %q, want %q", i, got, name)
		}
		set, ok := outs[i].Result()
		if !ok {
			t.Fatalf("outcome %d failed: %v", i, outs[i].Err())
		}
		if set.Len() != wantSizes[i] {
			t.Errorf("outcome %d entries = %d, want %d", i, set.Len(), wantSizes[i])
		}
	}
}

func TestDispatch_NoQueries(t *testing.T) {
	e := NewExecutor(newMockSearcher(), time.Second, nil)
	outs := e.Dispatch(context.Background(), nil)
	if outs == nil || len(outs) != 0 {
		t.Errorf("Dispatch(nil) = %v, want empty slice", outs)
	}
}

func TestDispatch_PeerTimeoutIsIsolated(t *testing.T) {
	s := newMockSearcher().
		on("stuck", blocksUntilCanceled()).
		on("ok", returns(makeSet("ok", 2, 2)))

	e := NewExecutor(s, 50*time.Millisecond, nil).WithDeadline(time.Second)
	outs := e.Dispatch(context.Background(), makeQueries(t, "stuck", "ok"))

	if outs[0].IsSuccess() {
		t.Fatal("stuck peer succeeded")
	}
	if !errors.Is(outs[0].Err(), domain.ErrPeerTimeout) {
		t.Errorf("stuck err = %v, want ErrPeerTimeout", outs[0].Err())
	}
	if outs[0].Kind() != outcome.KindTimeout {
		t.Errorf("stuck kind = %q, want timeout", outs[0].Kind())
	}
	if !outs[1].IsSuccess() {
		t.Errorf("ok peer failed: %v", outs[1].Err())
	}
}

func TestDispatch_DeadlineBoundsUncooperativePeer(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	s := newMockSearcher().
		on("ignores-ctx", hangs(release)).
		on("ok", returns(makeSet("ok", 1, 1)))

	e := NewExecutor(s, time.Minute, nil).WithDeadline(80 * time.Millisecond)

	start := time.Now()
	outs := e.Dispatch(context.Background(), makeQueries(t, "ignores-ctx", "ok"))
	elapsed := time.Since(start)

	if elapsed > 2*time.Second {
		t.Fatalf("Dispatch took %v, deadline not enforced", elapsed)
	}
	if len(outs) != 2 {
		t.Fatalf("got %d outcomes, want 2", len(outs))
	}
	if outs[0].Kind() != outcome.KindTimeout {
		t.Errorf("hanging peer kind = %q, want timeout (err %v)", outs[0].Kind(), outs[0].Err())
	}
	if !outs[1].IsSuccess() {
		t.Errorf("ok peer failed: %v", outs[1].Err())
	}
}

func TestDispatch_PanicIsIsolated(t *testing.T) {
	s := newMockSearcher().
		on("boom", func(context.Context, query.Query) (result.Set, error) {
			panic("nil map write")
		}).
		on("ok", returns(makeSet("ok", 1, 1)))

	e := NewExecutor(s, time.Second, nil)
	outs := e.Dispatch(context.Background(), makeQueries(t, "boom", "ok"))

	if outs[0].IsSuccess() {
		t.Fatal("panicking peer succeeded")
	}
	if outs[0].Kind() != outcome.KindInternal {
		t.Errorf("kind = %q, want internal", outs[0].Kind())
	}
	if !outs[1].IsSuccess() {
		t.Errorf("ok peer failed: %v", outs[1].Err())
	}
}

func TestDispatch_FailureKinds(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want outcome.Kind
	}{
		{"unavailable", fmt.Errorf("%w: connection refused", domain.ErrPeerUnavailable), outcome.KindUnavailable},
		{"status", domain.NewPeerStatus("kind-status", 500), outcome.KindStatus},
		{"response", fmt.Errorf("%w: not a bundle", domain.ErrPeerResponse), outcome.KindResponse},
		{"other", errors.New("unexpected"), outcome.KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			name := "kind-" + tt.name
			s := newMockSearcher().on(name, fails(tt.err))
			outs := NewExecutor(s, time.Second, nil).Dispatch(context.Background(), makeQueries(t, name))
			if got := outs[0].Kind(); got != tt.want {
				t.Errorf("Kind() = %q, want %q", got, tt.want)
			}
			if !errors.Is(outs[0].Err(), tt.err) {
				t.Errorf("Err() = %v, want wrapping %v", outs[0].Err(), tt.err)
			}
		})
	}
}

func TestDispatch_RecordsOutcomeMetrics(t *testing.T) {
	okCounter := metrics.PeerOutcomesTotal.WithLabelValues("metrics-ok", "success")
	failCounter := metrics.PeerOutcomesTotal.WithLabelValues("metrics-down", string(outcome.KindUnavailable))
	okBefore := testutil.ToFloat64(okCounter)
	failBefore := testutil.ToFloat64(failCounter)

	s := newMockSearcher().
		on("metrics-ok", returns(makeSet("ok", 1, 1))).
		on("metrics-down", fails(domain.ErrPeerUnavailable))
	NewExecutor(s, time.Second, nil).Dispatch(context.Background(), makeQueries(t, "metrics-ok", "metrics-down"))

	if got := testutil.ToFloat64(okCounter) - okBefore; got != 1 {
		t.Errorf("success counter delta = %v, want 1", got)
	}
	if got := testutil.ToFloat64(failCounter) - failBefore; got != 1 {
		t.Errorf("unavailable counter delta = %v, want 1", got)
	}
}

func TestNewExecutor_Defaults(t *testing.T) {
	e := NewExecutor(newMockSearcher(), 0, nil)
	if e.peerTimeout != DefaultPeerTimeout {
		t.Errorf("peerTimeout = %v, want %v", e.peerTimeout, DefaultPeerTimeout)
	}
	if e.deadline != DefaultPeerTimeout {
		t.Errorf("deadline = %v, want %v", e.deadline, DefaultPeerTimeout)
	}
	e.WithDeadline(-time.Second)
	if e.deadline != DefaultPeerTimeout {
		t.Errorf("negative deadline applied: %v", e.deadline)
	}
}
