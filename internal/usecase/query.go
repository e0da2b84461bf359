package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/V4T54L/footfall/internal/adapter/metrics"
	"github.com/V4T54L/footfall/internal/domain"
)

// QueryUseCase serves the reporting reads. Listings are newest first.
type QueryUseCase struct {
	router      *PartitionRouter
	aggregation *AggregationService
	logger      *slog.Logger
	metrics     *metrics.AttributionMetrics
}

// NewQueryUseCase creates a new QueryUseCase.
func NewQueryUseCase(router *PartitionRouter, aggregation *AggregationService, logger *slog.Logger, m *metrics.AttributionMetrics) *QueryUseCase {
	return &QueryUseCase{
		router:      router,
		aggregation: aggregation,
		logger:      logger.With("component", "query_usecase"),
		metrics:     m,
	}
}

// source is one partition read with a filter applied.
type source struct {
	key    domain.PartitionKey
	filter domain.Filter
}

// ListEventsByPath lists events recorded for exactly path.
func (uc *QueryUseCase) ListEventsByPath(ctx context.Context, path string, page domain.Page) ([]domain.Event, error) {
	defer uc.observe("events_by_path", time.Now())
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", domain.ErrInvalidQuery)
	}
	return uc.listMerged(ctx, pathSources(path), page)
}

// ListUniqueHashesByPath lists the distinct hashed addresses that requested path.
func (uc *QueryUseCase) ListUniqueHashesByPath(ctx context.Context, path string) ([]string, error) {
	defer uc.observe("uniques_by_path", time.Now())
	if path == "" {
		return nil, fmt.Errorf("%w: path is required", domain.ErrInvalidQuery)
	}
	return uc.hashesMerged(ctx, pathSources(path))
}

// ListEventsByResource lists the events of a resource from its own partition
// and from the shared resource event store.
func (uc *QueryUseCase) ListEventsByResource(ctx context.Context, resourceType, resourceID string, page domain.Page) ([]domain.Event, error) {
	defer uc.observe("events_by_resource", time.Now())
	if err := validateResource(resourceType, resourceID); err != nil {
		return nil, err
	}
	return uc.listMerged(ctx, resourceSources(resourceType, resourceID), page)
}

func (uc *QueryUseCase) ListUniqueHashesByResource(ctx context.Context, resourceType, resourceID string) ([]string, error) {
	defer uc.observe("uniques_by_resource", time.Now())
	if err := validateResource(resourceType, resourceID); err != nil {
		return nil, err
	}
	return uc.hashesMerged(ctx, resourceSources(resourceType, resourceID))
}

// ListEventsByResourceAction lists explicit events of one action on a resource.
func (uc *QueryUseCase) ListEventsByResourceAction(ctx context.Context, resourceType, resourceID, action string, page domain.Page) ([]domain.Event, error) {
	defer uc.observe("events_by_resource_action", time.Now())
	if err := validateResource(resourceType, resourceID); err != nil {
		return nil, err
	}
	if action == "" {
		return nil, fmt.Errorf("%w: action is required", domain.ErrInvalidQuery)
	}
	src := source{
		key: domain.ResourceEventsPartition(),
		filter: domain.Filter{
			ResourceType: domain.NormalizeToken(resourceType),
			ResourceID:   domain.NormalizeToken(resourceID),
			Action:       action,
		},
	}
	return uc.listMerged(ctx, []source{src}, page)
}

func (uc *QueryUseCase) ResourceStats(ctx context.Context, resourceType, resourceID string) (domain.ResourceStats, error) {
	defer uc.observe("resource_stats", time.Now())
	return uc.aggregation.ResourceStats(ctx, resourceType, resourceID)
}

// PartitionStats counts the events and distinct addresses of the partition
// named by key, e.g. "root" or "resource:product:42".
func (uc *QueryUseCase) PartitionStats(ctx context.Context, key string) (domain.PartitionStats, error) {
	defer uc.observe("partition_stats", time.Now())
	parsed, err := domain.ParsePartitionKey(key)
	if err != nil {
		return domain.PartitionStats{}, err
	}
	return uc.aggregation.PartitionStats(ctx, parsed)
}

func validateResource(resourceType, resourceID string) error {
	if resourceType == "" || resourceID == "" {
		return fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidQuery)
	}
	return nil
}

// pathSources returns the partitions a request for path may have landed in.
// Non-GET requests to "/" are classified as catch-all.
func pathSources(path string) []source {
	filter := domain.Filter{Path: path}
	key := domain.Classify("GET", path)
	sources := []source{{key: key, filter: filter}}
	if key.Kind == domain.KindRoot {
		sources = append(sources, source{key: domain.CatchAllPartition(), filter: filter})
	}
	return sources
}

// resourceSources returns the page-hit partition of a resource and its slice
// of the shared store. Both are addressed by the normalized type and id.
func resourceSources(resourceType, resourceID string) []source {
	key := domain.ResourcePartition(resourceType, resourceID)
	return []source{
		{key: key},
		{
			key:    domain.ResourceEventsPartition(),
			filter: domain.Filter{ResourceType: key.ResourceType, ResourceID: key.ResourceID},
		},
	}
}

// listMerged reads the first Offset+Limit events of every source, or all of
// them for an unbounded page, and merges them newest first before applying
// the page.
func (uc *QueryUseCase) listMerged(ctx context.Context, sources []source, page domain.Page) ([]domain.Event, error) {
	page = page.Normalize()
	if len(sources) == 1 {
		p, err := uc.lookup(ctx, sources[0].key)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return []domain.Event{}, nil
		}
		return p.List(ctx, sources[0].filter, page)
	}

	want := 0
	if !page.Unbounded() {
		want = page.Offset + page.Limit
	}
	var merged []domain.Event
	for _, src := range sources {
		p, err := uc.lookup(ctx, src.key)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		events, err := collect(ctx, p, src.filter, want)
		if err != nil {
			return nil, err
		}
		merged = append(merged, events...)
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].CreatedAt.After(merged[j].CreatedAt)
	})
	return domain.Slice(merged, page), nil
}

func (uc *QueryUseCase) hashesMerged(ctx context.Context, sources []source) ([]string, error) {
	seen := make(map[string]struct{})
	hashes := []string{}
	for _, src := range sources {
		p, err := uc.lookup(ctx, src.key)
		if err != nil {
			return nil, err
		}
		if p == nil {
			continue
		}
		partial, err := p.UniqueHashes(ctx, src.filter)
		if err != nil {
			return nil, err
		}
		for _, h := range partial {
			if _, ok := seen[h]; !ok {
				seen[h] = struct{}{}
				hashes = append(hashes, h)
			}
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

// lookup returns a nil partition without error when key was never created.
func (uc *QueryUseCase) lookup(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	p, err := uc.router.Lookup(ctx, key)
	if errors.Is(err, domain.ErrPartitionNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", key, err)
	}
	return p, nil
}

// collect pages through p until n events are read or the partition is
// exhausted. n == 0 reads the whole partition.
func collect(ctx context.Context, p domain.Partition, filter domain.Filter, n int) ([]domain.Event, error) {
	var out []domain.Event
	for n == 0 || len(out) < n {
		limit := domain.MaxPageLimit
		if n > 0 {
			limit = min(n-len(out), limit)
		}
		batch, err := p.List(ctx, filter, domain.Page{Offset: len(out), Limit: limit})
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < limit {
			break
		}
	}
	return out, nil
}

func (uc *QueryUseCase) observe(query string, start time.Time) {
	if uc.metrics != nil {
		uc.metrics.QueryDuration.WithLabelValues(query).Observe(time.Since(start).Seconds())
	}
}
