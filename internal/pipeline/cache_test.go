package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/chatelio/chatelio-backend/internal/logger"
)

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New("error")
	if err != nil {
		t.Fatalf("logger.New: %v", err)
	}
	return log
}

func TestCacheSharesOneBuildAcrossConcurrentMisses(t *testing.T) {
	var builds atomic.Int64
	cache := NewCache(func(ctx context.Context, tenantID, model string) (*Handle, error) {
		builds.Add(1)
		time.Sleep(20 * time.Millisecond)
		return &Handle{TenantID: tenantID, Model: model}, nil
	}, testLogger(t))

	const callers = 16
	var wg sync.WaitGroup
	handles := make([]*Handle, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h, err := cache.Get(context.Background(), "tenant-a", "gpt-4o-mini")
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			handles[i] = h
		}(i)
	}
	wg.Wait()

	if got := builds.Load(); got != 1 {
		t.Fatalf("expected exactly 1 build for concurrent misses, got %d", got)
	}
	for i := 1; i < callers; i++ {
		if handles[i] != handles[0] {
			t.Fatalf("caller %d received a different handle", i)
		}
	}
}

func TestCacheRebuildsAfterInvalidation(t *testing.T) {
	cache := NewCache(func(ctx context.Context, tenantID, model string) (*Handle, error) {
		return &Handle{TenantID: tenantID, Model: model}, nil
	}, testLogger(t))

	ctx := context.Background()
	first, err := cache.Get(ctx, "tenant-a", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	again, err := cache.Get(ctx, "tenant-a", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if again != first {
		t.Fatalf("expected cache hit before invalidation")
	}
	if cache.BuildCount() != 1 {
		t.Fatalf("expected 1 build before invalidation, got %d", cache.BuildCount())
	}

	cache.Invalidate("tenant-a")

	rebuilt, err := cache.Get(ctx, "tenant-a", "gpt-4o-mini")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if rebuilt == first {
		t.Fatalf("expected a fresh handle after invalidation")
	}
	if cache.BuildCount() != 2 {
		t.Fatalf("expected 2 builds after invalidation, got %d", cache.BuildCount())
	}
}

func TestCacheInvalidationEvictsAllModelsOfTenant(t *testing.T) {
	cache := NewCache(func(ctx context.Context, tenantID, model string) (*Handle, error) {
		return &Handle{TenantID: tenantID, Model: model}, nil
	}, testLogger(t))

	ctx := context.Background()
	for _, model := range []string{"gpt-4o-mini", "gpt-4o", "gemini-flash"} {
		if _, err := cache.Get(ctx, "tenant-a", model); err != nil {
			t.Fatalf("Get %s: %v", model, err)
		}
	}
	if _, err := cache.Get(ctx, "tenant-b", "gpt-4o-mini"); err != nil {
		t.Fatalf("Get tenant-b: %v", err)
	}
	if cache.Len() != 4 {
		t.Fatalf("expected 4 cached handles, got %d", cache.Len())
	}

	cache.Invalidate("tenant-a")

	if cache.Len() != 1 {
		t.Fatalf("expected only tenant-b's handle to survive, got %d entries", cache.Len())
	}
	if _, err := cache.Get(ctx, "tenant-b", "gpt-4o-mini"); err != nil {
		t.Fatalf("Get tenant-b after invalidation: %v", err)
	}
	if cache.BuildCount() != 4 {
		t.Fatalf("tenant-b should not have rebuilt, got %d builds", cache.BuildCount())
	}
}

func TestCacheDoesNotStoreBuildFinishedAfterInvalidation(t *testing.T) {
	buildStarted := make(chan struct{})
	releaseBuild := make(chan struct{})
	cache := NewCache(func(ctx context.Context, tenantID, model string) (*Handle, error) {
		close(buildStarted)
		<-releaseBuild
		return &Handle{TenantID: tenantID, Model: model}, nil
	}, testLogger(t))

	type result struct {
		h   *Handle
		err error
	}
	done := make(chan result, 1)
	go func() {
		h, err := cache.Get(context.Background(), "tenant-a", "gpt-4o-mini")
		done <- result{h, err}
	}()

	<-buildStarted
	cache.Invalidate("tenant-a")
	close(releaseBuild)

	res := <-done
	if res.err != nil {
		t.Fatalf("Get: %v", res.err)
	}
	// The in-flight caller still gets its handle.
	if res.h == nil {
		t.Fatalf("expected a handle for the in-flight caller")
	}
	// But the stale result must not have been cached.
	if cache.Len() != 0 {
		t.Fatalf("stale handle was cached after invalidation")
	}
}
