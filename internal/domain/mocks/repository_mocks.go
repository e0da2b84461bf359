package mocks

import (
	"context"
	"sort"
	"sync"

	"github.com/V4T54L/footfall/internal/domain"
)

// MockPartitionStore is a mock implementation of domain.PartitionStore for testing.
// Inserts fail while InsertFailures is positive, pings while PingFailures is positive.
type MockPartitionStore struct {
	mu             sync.Mutex
	Partitions     map[string]*MockPartition
	EnsureCalls    int
	PingCalls      int
	InsertAttempts int
	InsertFailures int
	PingFailures   int
	InsertErr      error
	PingErr        error
	EnsureErr      error
	ListErr        error
}

func NewMockPartitionStore() *MockPartitionStore {
	return &MockPartitionStore{Partitions: make(map[string]*MockPartition)}
}

func (m *MockPartitionStore) EnsurePartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.EnsureCalls++
	if m.EnsureErr != nil {
		return nil, m.EnsureErr
	}
	p, ok := m.Partitions[key.String()]
	if !ok {
		p = &MockPartition{store: m, key: key}
		m.Partitions[key.String()] = p
	}
	return p, nil
}

func (m *MockPartitionStore) OpenPartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Partitions[key.String()]
	if !ok {
		return nil, domain.ErrPartitionNotFound
	}
	return p, nil
}

func (m *MockPartitionStore) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.PingCalls++
	if m.PingFailures > 0 {
		m.PingFailures--
		return m.PingErr
	}
	return nil
}

// Events returns every event persisted under key.
func (m *MockPartitionStore) Events(key domain.PartitionKey) []domain.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.Partitions[key.String()]
	if !ok {
		return nil
	}
	return append([]domain.Event(nil), p.events...)
}

// Attempts returns the number of Insert calls seen so far.
func (m *MockPartitionStore) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertAttempts
}

// MockPartition records inserted events in memory.
type MockPartition struct {
	store  *MockPartitionStore
	key    domain.PartitionKey
	events []domain.Event
}

func (p *MockPartition) Key() domain.PartitionKey { return p.key }

func (p *MockPartition) Insert(ctx context.Context, event domain.Event) error {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	p.store.InsertAttempts++
	if p.store.InsertFailures > 0 {
		p.store.InsertFailures--
		return p.store.InsertErr
	}
	p.events = append(p.events, event)
	return nil
}

func (p *MockPartition) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.Event, error) {
	matched, err := p.matching(filter)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	return domain.Slice(matched, page), nil
}

func (p *MockPartition) Count(ctx context.Context, filter domain.Filter) (int64, error) {
	matched, err := p.matching(filter)
	return int64(len(matched)), err
}

func (p *MockPartition) CountUnique(ctx context.Context, filter domain.Filter) (int64, error) {
	hashes, err := p.UniqueHashes(ctx, filter)
	return int64(len(hashes)), err
}

func (p *MockPartition) UniqueHashes(ctx context.Context, filter domain.Filter) ([]string, error) {
	matched, err := p.matching(filter)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	hashes := []string{}
	for _, e := range matched {
		if e.HashedIP == nil {
			continue
		}
		if _, ok := seen[*e.HashedIP]; !ok {
			seen[*e.HashedIP] = struct{}{}
			hashes = append(hashes, *e.HashedIP)
		}
	}
	sort.Strings(hashes)
	return hashes, nil
}

func (p *MockPartition) matching(filter domain.Filter) ([]domain.Event, error) {
	p.store.mu.Lock()
	defer p.store.mu.Unlock()
	if p.store.ListErr != nil {
		return nil, p.store.ListErr
	}
	var out []domain.Event
	for _, e := range p.events {
		if filter.Matches(e) {
			out = append(out, e)
		}
	}
	return out, nil
}
