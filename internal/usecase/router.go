package usecase

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/V4T54L/footfall/internal/adapter/metrics"
	"github.com/V4T54L/footfall/internal/domain"
)

// PartitionRouter resolves partition keys to storage handles, provisioning
// partitions on first use. Handles are cached per process.
//
// The cache takes no lock around provisioning: two goroutines missing on the
// same new key both call EnsurePartition, which the store guarantees to be
// idempotent, and whichever handle is stored last wins.
type PartitionRouter struct {
	store   domain.PartitionStore
	cache   sync.Map // partition key string -> domain.Partition
	logger  *slog.Logger
	metrics *metrics.AttributionMetrics
}

// NewPartitionRouter creates a new PartitionRouter.
func NewPartitionRouter(store domain.PartitionStore, logger *slog.Logger, m *metrics.AttributionMetrics) *PartitionRouter {
	return &PartitionRouter{
		store:   store,
		logger:  logger.With("component", "partition_router"),
		metrics: m,
	}
}

// Resolve returns the handle for key, creating the partition if it does not exist yet.
func (r *PartitionRouter) Resolve(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	if p, ok := r.cached(key); ok {
		return p, nil
	}

	if r.metrics != nil {
		r.metrics.PartitionsProvisioned.WithLabelValues(string(key.Kind)).Inc()
	}
	p, err := r.store.EnsurePartition(ctx, key)
	if err != nil {
		return nil, err
	}
	r.cache.Store(key.String(), p)
	r.logger.Debug("partition handle cached", "partition", key.String(), "cached_partitions", r.Size())
	return p, nil
}

// Lookup returns the handle for an existing partition without creating it.
// It returns domain.ErrPartitionNotFound when nothing was ever written under key.
func (r *PartitionRouter) Lookup(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	if p, ok := r.cached(key); ok {
		return p, nil
	}

	p, err := r.store.OpenPartition(ctx, key)
	if err != nil {
		if !errors.Is(err, domain.ErrPartitionNotFound) {
			r.logger.Error("failed to open partition", "partition", key.String(), "error", err)
		}
		return nil, err
	}
	r.cache.Store(key.String(), p)
	return p, nil
}

// Size returns the number of cached handles.
func (r *PartitionRouter) Size() int {
	n := 0
	r.cache.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

func (r *PartitionRouter) cached(key domain.PartitionKey) (domain.Partition, bool) {
	v, ok := r.cache.Load(key.String())
	if r.metrics != nil {
		if ok {
			r.metrics.PartitionCacheHits.Inc()
		} else {
			r.metrics.PartitionCacheMisses.Inc()
		}
	}
	if !ok {
		return nil, false
	}
	return v.(domain.Partition), true
}
