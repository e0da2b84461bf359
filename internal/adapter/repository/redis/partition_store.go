package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"sort"

	"github.com/V4T54L/footfall/internal/domain"
	"github.com/redis/go-redis/v9"
)

const (
	keyPrefix   = "attr:"
	registryKey = keyPrefix + "partitions"
)

// PartitionStore implements domain.PartitionStore on Redis. Each partition is a
// sorted set of JSON events scored by creation time, a set of hashed addresses,
// and per-path / per-resource index sets maintained on insert.
type PartitionStore struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewPartitionStore creates a new Redis-backed partition store.
func NewPartitionStore(client redis.UniversalClient, logger *slog.Logger) *PartitionStore {
	return &PartitionStore{client: client, logger: logger.With("component", "redis_partition_store")}
}

func (s *PartitionStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// EnsurePartition registers the key in the registry set. SADD is idempotent,
// so racing first writers converge on the same partition.
func (s *PartitionStore) EnsurePartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	added, err := s.client.SAdd(ctx, registryKey, key.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to register partition %s: %w", key, wrapUnavailable(err))
	}
	if added == 1 {
		s.logger.Info("partition created", "partition", key.String())
	}
	return &Partition{client: s.client, key: key, logger: s.logger}, nil
}

func (s *PartitionStore) OpenPartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	ok, err := s.client.SIsMember(ctx, registryKey, key.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to open partition %s: %w", key, err)
	}
	if !ok {
		return nil, domain.ErrPartitionNotFound
	}
	return &Partition{client: s.client, key: key, logger: s.logger}, nil
}

// Partition is a handle to the keys of one partition.
type Partition struct {
	client redis.UniversalClient
	key    domain.PartitionKey
	logger *slog.Logger
}

func (p *Partition) Key() domain.PartitionKey { return p.key }

// Insert adds the event to every index it belongs to in one transaction.
// The member is the JSON encoding of the event, so a retried insert of the
// same event is absorbed by the sorted set.
func (p *Partition) Insert(ctx context.Context, event domain.Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	member := redis.Z{Score: float64(event.CreatedAt.UnixMicro()), Member: string(payload)}

	_, err = p.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, base := range p.indexesFor(event) {
			pipe.ZAdd(ctx, base+":events", member)
			if event.HashedIP != nil {
				pipe.SAdd(ctx, base+":hashes", *event.HashedIP)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to insert event into %s: %w", p.key, wrapUnavailable(err))
	}
	return nil
}

func (p *Partition) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.Event, error) {
	page = page.Normalize()
	base, indexed := p.indexFor(filter)
	if !indexed {
		events, err := p.scan(ctx, filter)
		if err != nil {
			return nil, err
		}
		return domain.Slice(events, page), nil
	}

	start := int64(page.Offset)
	stop := int64(-1)
	if !page.Unbounded() {
		stop = start + int64(page.Limit) - 1
	}
	payloads, err := p.client.ZRevRange(ctx, base+":events", start, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list events from %s: %w", p.key, err)
	}
	return p.decode(payloads), nil
}

func (p *Partition) Count(ctx context.Context, filter domain.Filter) (int64, error) {
	base, indexed := p.indexFor(filter)
	if !indexed {
		events, err := p.scan(ctx, filter)
		return int64(len(events)), err
	}
	n, err := p.client.ZCard(ctx, base+":events").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count events in %s: %w", p.key, err)
	}
	return n, nil
}

func (p *Partition) CountUnique(ctx context.Context, filter domain.Filter) (int64, error) {
	base, indexed := p.indexFor(filter)
	if !indexed {
		hashes, err := p.UniqueHashes(ctx, filter)
		return int64(len(hashes)), err
	}
	n, err := p.client.SCard(ctx, base+":hashes").Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count unique hashes in %s: %w", p.key, err)
	}
	return n, nil
}

func (p *Partition) UniqueHashes(ctx context.Context, filter domain.Filter) ([]string, error) {
	base, indexed := p.indexFor(filter)
	if !indexed {
		events, err := p.scan(ctx, filter)
		if err != nil {
			return nil, err
		}
		return distinctHashes(events), nil
	}
	hashes, err := p.client.SMembers(ctx, base+":hashes").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list unique hashes from %s: %w", p.key, err)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (p *Partition) base() string {
	return keyPrefix + p.key.String()
}

// indexesFor lists the key bases an event is written under.
func (p *Partition) indexesFor(event domain.Event) []string {
	bases := []string{p.base(), p.pathIndex(event.Path)}
	if event.ResourceType != nil && event.ResourceID != nil {
		res := p.resourceIndex(*event.ResourceType, *event.ResourceID)
		bases = append(bases, res)
		if event.Action != nil {
			bases = append(bases, actionIndex(res, *event.Action))
		}
	}
	return bases
}

// indexFor returns the key base answering filter, or false when no single index does.
func (p *Partition) indexFor(f domain.Filter) (string, bool) {
	hasResource := f.ResourceType != "" || f.ResourceID != "" || f.Action != ""
	switch {
	case f.Path == "" && !hasResource:
		return p.base(), true
	case f.Path != "" && !hasResource:
		return p.pathIndex(f.Path), true
	case f.Path == "" && f.ResourceType != "" && f.ResourceID != "":
		res := p.resourceIndex(f.ResourceType, f.ResourceID)
		if f.Action != "" {
			return actionIndex(res, f.Action), true
		}
		return res, true
	}
	return "", false
}

// Index key parts are query-escaped so a ':' inside a value cannot reach
// into another resource's keys.
func (p *Partition) pathIndex(path string) string {
	return p.base() + ":path:" + url.QueryEscape(path)
}

func (p *Partition) resourceIndex(resourceType, resourceID string) string {
	return p.base() + ":res:" + url.QueryEscape(resourceType) + ":" + url.QueryEscape(resourceID)
}

func actionIndex(res, action string) string {
	return res + ":action:" + url.QueryEscape(action)
}

// scan reads the whole partition and filters client side.
func (p *Partition) scan(ctx context.Context, filter domain.Filter) ([]domain.Event, error) {
	payloads, err := p.client.ZRevRange(ctx, p.base()+":events", 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to scan events in %s: %w", p.key, err)
	}
	out := []domain.Event{}
	for _, e := range p.decode(payloads) {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (p *Partition) decode(payloads []string) []domain.Event {
	events := make([]domain.Event, 0, len(payloads))
	for _, payload := range payloads {
		var event domain.Event
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			p.logger.Warn("failed to unmarshal event from partition, skipping", "partition", p.key.String(), "error", err)
			continue
		}
		events = append(events, event)
	}
	return events
}

func distinctHashes(events []domain.Event) []string {
	seen := make(map[string]struct{})
	hashes := []string{}
	for _, e := range events {
		if e.HashedIP == nil {
			continue
		}
		if _, ok := seen[*e.HashedIP]; !ok {
			seen[*e.HashedIP] = struct{}{}
			hashes = append(hashes, *e.HashedIP)
		}
	}
	sort.Strings(hashes)
	return hashes
}

func wrapUnavailable(err error) error {
	if isNetworkError(err) {
		return fmt.Errorf("%w: %w", domain.ErrStorageUnavailable, err)
	}
	return err
}

func isNetworkError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, redis.ErrClosed) || errors.Is(err, context.DeadlineExceeded)
}
