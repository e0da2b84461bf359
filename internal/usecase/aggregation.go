package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"

	"golang.org/x/sync/errgroup"

	"github.com/V4T54L/footfall/internal/adapter/metrics"
	"github.com/V4T54L/footfall/internal/domain"
)

// AggregationService answers count queries over partitions. Partitions that
// were never written to count as empty.
type AggregationService struct {
	router  *PartitionRouter
	logger  *slog.Logger
	metrics *metrics.AttributionMetrics
}

// NewAggregationService creates a new AggregationService.
func NewAggregationService(router *PartitionRouter, logger *slog.Logger, m *metrics.AttributionMetrics) *AggregationService {
	return &AggregationService{
		router:  router,
		logger:  logger.With("component", "aggregation_service"),
		metrics: m,
	}
}

// Count returns the number of events stored under key.
func (s *AggregationService) Count(ctx context.Context, key domain.PartitionKey) (int64, error) {
	return s.count(ctx, key, domain.Filter{}, false)
}

// UniqueCount returns the number of distinct non-null hashed addresses under key.
func (s *AggregationService) UniqueCount(ctx context.Context, key domain.PartitionKey) (int64, error) {
	return s.count(ctx, key, domain.Filter{}, true)
}

// PartitionStats returns the total and unique counts of one partition.
func (s *AggregationService) PartitionStats(ctx context.Context, key domain.PartitionKey) (domain.PartitionStats, error) {
	stats := domain.PartitionStats{Partition: key.String()}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Total, err = s.Count(gctx, key)
		return err
	})
	g.Go(func() (err error) {
		stats.Unique, err = s.UniqueCount(gctx, key)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to compute partition stats", "partition", key.String(), "error", err)
		return domain.PartitionStats{}, err
	}
	return stats, nil
}

// ResourceStats computes the view/order funnel of one resource from the shared
// resource event store.
func (s *AggregationService) ResourceStats(ctx context.Context, resourceType, resourceID string) (domain.ResourceStats, error) {
	if resourceType == "" || resourceID == "" {
		return domain.ResourceStats{}, fmt.Errorf("%w: resource type and id are required", domain.ErrInvalidQuery)
	}

	resourceType, resourceID = domain.NormalizeToken(resourceType), domain.NormalizeToken(resourceID)
	key := domain.ResourceEventsPartition()
	view := domain.Filter{ResourceType: resourceType, ResourceID: resourceID, Action: domain.ActionView}
	order := domain.Filter{ResourceType: resourceType, ResourceID: resourceID, Action: domain.ActionOrder}

	var stats domain.ResourceStats
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		stats.Views.Total, err = s.count(gctx, key, view, false)
		return err
	})
	g.Go(func() (err error) {
		stats.Views.Unique, err = s.count(gctx, key, view, true)
		return err
	})
	g.Go(func() (err error) {
		stats.Orders.Total, err = s.count(gctx, key, order, false)
		return err
	})
	g.Go(func() (err error) {
		stats.Orders.Unique, err = s.count(gctx, key, order, true)
		return err
	})
	if err := g.Wait(); err != nil {
		s.logger.Error("failed to compute resource stats", "resource_type", resourceType, "resource_id", resourceID, "error", err)
		return domain.ResourceStats{}, err
	}

	stats.ConversionRate = ConversionRate(stats.Orders.Total, stats.Views.Total)
	return stats, nil
}

// ConversionRate formats orders/views as a percentage rounded to two decimals,
// with trailing zeros dropped. No views yields "0%".
func ConversionRate(orders, views int64) string {
	if views == 0 {
		return "0%"
	}
	rate := math.Round(float64(orders)/float64(views)*100*100) / 100
	return strconv.FormatFloat(rate, 'f', -1, 64) + "%"
}

func (s *AggregationService) count(ctx context.Context, key domain.PartitionKey, filter domain.Filter, unique bool) (int64, error) {
	p, err := s.router.Lookup(ctx, key)
	if errors.Is(err, domain.ErrPartitionNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	if unique {
		return p.CountUnique(ctx, filter)
	}
	return p.Count(ctx, filter)
}
