package ai

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"debt-negotiation-be/internal/pkg/logger"
	"debt-negotiation-be/pkg/flags"
)

type stubServices struct{ id int }

func (stubServices) GenerateReply(ctx context.Context, req ReplyRequest) (Reply, error) {
	return Reply{Content: "ok"}, nil
}

func (stubServices) Statistics(ctx context.Context) (NegotiationStats, error) {
	return NegotiationStats{}, nil
}

func newEnabledRegistry(t *testing.T) *flags.Store {
	t.Helper()
	ctx := context.Background()
	registry := flags.NewStore(ctx, flags.NewMemorySnapshotStore(), logger.NewNopLogger())
	if err := registry.SetFlag(ctx, flags.KeyModuleEnabled, true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	if err := registry.SetFlag(ctx, flags.KeySafeMode, false); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	return registry
}

func TestLoadCachesSingleInstance(t *testing.T) {
	registry := newEnabledRegistry(t)

	var calls int32
	loader := NewLoader(func() (Services, error) {
		atomic.AddInt32(&calls, 1)
		return stubServices{id: 1}, nil
	}, registry, logger.NewNopLogger())

	first := loader.Load(context.Background())
	second := loader.Load(context.Background())

	if first != second {
		t.Error("repeated loads must return the same cached bundle")
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("factory calls = %d, want 1", got)
	}
}

func TestConcurrentLoadsShareOneFactoryCall(t *testing.T) {
	registry := newEnabledRegistry(t)

	var calls int32
	release := make(chan struct{})
	loader := NewLoader(func() (Services, error) {
		atomic.AddInt32(&calls, 1)
		<-release
		return stubServices{id: 1}, nil
	}, registry, logger.NewNopLogger())

	const workers = 16
	results := make([]Services, workers)
	var started, done sync.WaitGroup
	started.Add(workers)
	done.Add(workers)
	for i := 0; i < workers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i] = loader.Load(context.Background())
		}(i)
	}
	started.Wait()
	close(release)
	done.Wait()

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("factory calls = %d, want 1 under concurrent load", got)
	}
	for i := 1; i < workers; i++ {
		if results[i] != results[0] {
			t.Fatal("all concurrent callers must receive the same bundle")
		}
	}
}

func TestDisabledModuleReturnsFallbackWithoutLoading(t *testing.T) {
	ctx := context.Background()
	registry := flags.NewStore(ctx, flags.NewMemorySnapshotStore(), logger.NewNopLogger())

	var calls int32
	loader := NewLoader(func() (Services, error) {
		atomic.AddInt32(&calls, 1)
		return stubServices{id: 1}, nil
	}, registry, logger.NewNopLogger())

	services := loader.Load(ctx)
	reply, err := services.GenerateReply(ctx, ReplyRequest{DebtorMessage: "hola"})
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if !reply.Fallback || reply.Content != FallbackReply {
		t.Errorf("expected the fixed fallback reply, got %+v", reply)
	}
	if atomic.LoadInt32(&calls) != 0 {
		t.Error("factory must not run while module-enabled is off")
	}

	// Enabling the flag afterwards still gets a real attempt; the fallback
	// short-circuit is never cached.
	if err := registry.SetFlag(ctx, flags.KeyModuleEnabled, true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}
	loader.Load(ctx)
	if atomic.LoadInt32(&calls) != 1 {
		t.Error("factory should run once the flag is enabled")
	}
}

func TestFailedLoadEntersSafeModeAndCachesFallback(t *testing.T) {
	ctx := context.Background()
	registry := newEnabledRegistry(t)

	var calls int32
	loader := NewLoader(func() (Services, error) {
		atomic.AddInt32(&calls, 1)
		return nil, errors.New("provider unreachable")
	}, registry, logger.NewNopLogger())

	services := loader.Load(ctx)
	reply, err := services.GenerateReply(ctx, ReplyRequest{DebtorMessage: "hola"})
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if !reply.Fallback {
		t.Error("failed load must hand out the fallback bundle")
	}

	if !registry.IsEnabled(flags.KeySafeMode) {
		t.Error("failed load must enable safe mode")
	}
	if registry.IsEnabled(flags.KeyModuleEnabled) {
		t.Error("safe mode must disable the module flag")
	}

	// The fallback is cached: no further factory attempts.
	loader.Load(ctx)
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("factory calls after failure = %d, want 1", got)
	}
}

func TestResetAllowsRetryAfterFailure(t *testing.T) {
	ctx := context.Background()
	registry := newEnabledRegistry(t)

	var calls int32
	loader := NewLoader(func() (Services, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("transient failure")
		}
		return stubServices{id: 2}, nil
	}, registry, logger.NewNopLogger())

	loader.Load(ctx)
	loader.Reset()

	// The failed first load flipped safe mode on; an operator re-enables.
	if err := registry.SetFlag(ctx, flags.KeyModuleEnabled, true); err != nil {
		t.Fatalf("SetFlag: %v", err)
	}

	services := loader.Load(ctx)
	reply, err := services.GenerateReply(ctx, ReplyRequest{DebtorMessage: "hola"})
	if err != nil {
		t.Fatalf("GenerateReply: %v", err)
	}
	if reply.Fallback {
		t.Error("retry after Reset should reach the real bundle")
	}
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("factory calls = %d, want 2", got)
	}
}
