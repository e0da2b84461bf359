// Package memory keeps partitions in process memory. It backs local runs and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/V4T54L/footfall/internal/domain"
)

// PartitionStore implements domain.PartitionStore in memory.
type PartitionStore struct {
	mu         sync.Mutex
	partitions map[string]*Partition
}

func NewPartitionStore() *PartitionStore {
	return &PartitionStore{partitions: make(map[string]*Partition)}
}

// EnsurePartition is idempotent: concurrent callers for a new key get the same partition.
func (s *PartitionStore) EnsurePartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[key.String()]
	if !ok {
		p = &Partition{key: key, ids: make(map[string]struct{})}
		s.partitions[key.String()] = p
	}
	return p, nil
}

func (s *PartitionStore) OpenPartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.partitions[key.String()]
	if !ok {
		return nil, domain.ErrPartitionNotFound
	}
	return p, nil
}

func (s *PartitionStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Partition is an append-only slice of events.
type Partition struct {
	key    domain.PartitionKey
	mu     sync.RWMutex
	events []domain.Event
	ids    map[string]struct{}
}

func (p *Partition) Key() domain.PartitionKey { return p.key }

func (p *Partition) Insert(ctx context.Context, event domain.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if event.ID != "" {
		if _, dup := p.ids[event.ID]; dup {
			return nil
		}
		p.ids[event.ID] = struct{}{}
	}
	p.events = append(p.events, event)
	return nil
}

func (p *Partition) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.Event, error) {
	matched := p.matching(filter)
	// Newest first; among equal timestamps the later insert comes first.
	for i, j := 0, len(matched)-1; i < j; i, j = i+1, j-1 {
		matched[i], matched[j] = matched[j], matched[i]
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return domain.Slice(matched, page), nil
}

func (p *Partition) Count(ctx context.Context, filter domain.Filter) (int64, error) {
	return int64(len(p.matching(filter))), nil
}

func (p *Partition) CountUnique(ctx context.Context, filter domain.Filter) (int64, error) {
	hashes, err := p.UniqueHashes(ctx, filter)
	return int64(len(hashes)), err
}

func (p *Partition) UniqueHashes(ctx context.Context, filter domain.Filter) ([]string, error) {
	seen := make(map[string]struct{})
	hashes := []string{}
	for _, e := range p.matching(filter) {
		if e.HashedIP == nil {
			continue
		}
		if _, ok := seen[*e.HashedIP]; ok {
			continue
		}
		seen[*e.HashedIP] = struct{}{}
		hashes = append(hashes, *e.HashedIP)
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (p *Partition) matching(filter domain.Filter) []domain.Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]domain.Event, 0, len(p.events))
	for _, e := range p.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out
}
