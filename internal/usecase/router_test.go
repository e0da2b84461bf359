package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/V4T54L/footfall/internal/adapter/metrics"
	"github.com/V4T54L/footfall/internal/domain"
	"github.com/V4T54L/footfall/internal/domain/mocks"
)

func TestPartitionRouter_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("Caches Handles", func(t *testing.T) {
		store := mocks.NewMockPartitionStore()
		m := metrics.NewAttributionMetrics(prometheus.NewRegistry())
		router := NewPartitionRouter(store, discardLogger(), m)
		key := domain.ResourcePartition("product", "42")

		first, err := router.Resolve(ctx, key)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}
		second, err := router.Resolve(ctx, key)
		if err != nil {
			t.Fatalf("expected no error, got %v", err)
		}

		if first != second {
			t.Error("expected the cached handle to be returned")
		}
		if store.EnsureCalls != 1 {
			t.Errorf("expected 1 EnsurePartition call, got %d", store.EnsureCalls)
		}
		if router.Size() != 1 {
			t.Errorf("expected 1 cached handle, got %d", router.Size())
		}
		if got := testutil.ToFloat64(m.PartitionCacheHits); got != 1 {
			t.Errorf("expected 1 cache hit, got %v", got)
		}
	})

	t.Run("Concurrent First Creation Converges", func(t *testing.T) {
		store := mocks.NewMockPartitionStore()
		router := NewPartitionRouter(store, discardLogger(), nil)
		key := domain.ResourcePartition("product", "new-item")

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := router.Resolve(ctx, key); err != nil {
					errs <- err
				}
			}()
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Errorf("unexpected error: %v", err)
		}
		if len(store.Partitions) != 1 {
			t.Errorf("expected a single partition, got %d", len(store.Partitions))
		}
	})

	t.Run("Store Error Is Not Cached", func(t *testing.T) {
		store := mocks.NewMockPartitionStore()
		store.EnsureErr = errors.New("permission denied")
		router := NewPartitionRouter(store, discardLogger(), nil)

		if _, err := router.Resolve(ctx, domain.RootPartition()); err == nil {
			t.Fatal("expected an error, got nil")
		}
		if router.Size() != 0 {
			t.Error("expected nothing to be cached after a failure")
		}
	})
}

func TestPartitionRouter_Lookup(t *testing.T) {
	ctx := context.Background()
	store := mocks.NewMockPartitionStore()
	router := NewPartitionRouter(store, discardLogger(), nil)

	_, err := router.Lookup(ctx, domain.CatchAllPartition())
	if !errors.Is(err, domain.ErrPartitionNotFound) {
		t.Fatalf("expected ErrPartitionNotFound, got %v", err)
	}
	if store.EnsureCalls != 0 {
		t.Error("lookup must not create partitions")
	}

	if _, err := store.EnsurePartition(ctx, domain.CatchAllPartition()); err != nil {
		t.Fatalf("failed to seed partition: %v", err)
	}
	p, err := router.Lookup(ctx, domain.CatchAllPartition())
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if p.Key() != domain.CatchAllPartition() {
		t.Errorf("unexpected partition key %s", p.Key())
	}
}
