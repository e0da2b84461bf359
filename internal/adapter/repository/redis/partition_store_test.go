package redis

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/V4T54L/footfall/internal/domain"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestPartition(key domain.PartitionKey) *Partition {
	return &Partition{key: key, logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func newTestStore(t *testing.T) *PartitionStore {
	t.Helper()
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewPartitionStore(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func testEvent(id, hash string, at time.Time) domain.Event {
	return domain.Event{
		ID:        id,
		HashedIP:  domain.StringPtr(hash),
		Method:    "GET",
		Path:      "/",
		CreatedAt: at,
	}
}

func TestPartition_IndexesFor(t *testing.T) {
	p := newTestPartition(domain.ResourceEventsPartition())

	event := domain.Event{
		Path:         "/products/42",
		ResourceType: domain.StringPtr("product"),
		ResourceID:   domain.StringPtr("42"),
		Action:       domain.StringPtr("view"),
	}
	want := []string{
		"attr:resource-events",
		"attr:resource-events:path:%2Fproducts%2F42",
		"attr:resource-events:res:product:42",
		"attr:resource-events:res:product:42:action:view",
	}
	if got := p.indexesFor(event); !reflect.DeepEqual(got, want) {
		t.Errorf("indexesFor() = %v, want %v", got, want)
	}

	plain := newTestPartition(domain.RootPartition())
	if got := plain.indexesFor(domain.Event{Path: "/"}); len(got) != 2 {
		t.Errorf("expected base and path index for a plain event, got %v", got)
	}
}

func TestPartition_IndexFor(t *testing.T) {
	p := newTestPartition(domain.ResourceEventsPartition())

	tests := []struct {
		name        string
		filter      domain.Filter
		wantBase    string
		wantIndexed bool
	}{
		{name: "all", filter: domain.Filter{}, wantBase: "attr:resource-events", wantIndexed: true},
		{name: "path", filter: domain.Filter{Path: "/"}, wantBase: "attr:resource-events:path:%2F", wantIndexed: true},
		{
			name:        "resource",
			filter:      domain.Filter{ResourceType: "product", ResourceID: "42"},
			wantBase:    "attr:resource-events:res:product:42",
			wantIndexed: true,
		},
		{
			name:        "resource action",
			filter:      domain.Filter{ResourceType: "product", ResourceID: "42", Action: "order"},
			wantBase:    "attr:resource-events:res:product:42:action:order",
			wantIndexed: true,
		},
		{name: "action only", filter: domain.Filter{Action: "view"}, wantIndexed: false},
		{name: "path and resource", filter: domain.Filter{Path: "/", ResourceType: "product", ResourceID: "1"}, wantIndexed: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			base, indexed := p.indexFor(tt.filter)
			if indexed != tt.wantIndexed {
				t.Fatalf("indexed = %v, want %v", indexed, tt.wantIndexed)
			}
			if indexed && base != tt.wantBase {
				t.Errorf("base = %q, want %q", base, tt.wantBase)
			}
		})
	}
}

func TestWrapUnavailable(t *testing.T) {
	if err := wrapUnavailable(redis.ErrClosed); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected closed client to be reported as unavailable, got %v", err)
	}
	if err := wrapUnavailable(context.DeadlineExceeded); !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected deadline to be reported as unavailable, got %v", err)
	}
	plain := errors.New("WRONGTYPE")
	if err := wrapUnavailable(plain); errors.Is(err, domain.ErrStorageUnavailable) {
		t.Error("command errors must not be reported as unavailable")
	}
}

func TestDistinctHashes(t *testing.T) {
	a, b := "b-hash", "a-hash"
	events := []domain.Event{{HashedIP: &a}, {HashedIP: &b}, {HashedIP: &a}, {}}
	if got := distinctHashes(events); !reflect.DeepEqual(got, []string{"a-hash", "b-hash"}) {
		t.Errorf("distinctHashes() = %v", got)
	}
}

func TestPartitionStore_OpenAndEnsure(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	key := domain.ResourcePartition("product", "42")

	if _, err := store.OpenPartition(ctx, key); !errors.Is(err, domain.ErrPartitionNotFound) {
		t.Fatalf("expected ErrPartitionNotFound before creation, got %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.EnsurePartition(ctx, key); err != nil {
			t.Fatalf("EnsurePartition() call %d failed: %v", i, err)
		}
	}
	p, err := store.OpenPartition(ctx, key)
	if err != nil {
		t.Fatalf("expected partition to open after creation, got %v", err)
	}
	if p.Key() != key {
		t.Errorf("Key() = %v, want %v", p.Key(), key)
	}
	if err := store.Ping(ctx); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}
}

func TestPartition_ListCountAndUniques(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p, err := store.EnsurePartition(ctx, domain.RootPartition())
	if err != nil {
		t.Fatalf("EnsurePartition() failed: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hashes := []string{"h-a", "h-b", "h-a", "h-c", "h-b"}
	for i, h := range hashes {
		if err := p.Insert(ctx, testEvent(fmt.Sprintf("evt-%d", i), h, base.Add(time.Duration(i)*time.Minute))); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	all, err := p.List(ctx, domain.Filter{}, domain.Page{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	var ids []string
	for _, e := range all {
		ids = append(ids, e.ID)
	}
	want := []string{"evt-4", "evt-3", "evt-2", "evt-1", "evt-0"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("List() = %v, want newest first %v", ids, want)
	}

	window, err := p.List(ctx, domain.Filter{Path: "/"}, domain.Page{Offset: 1, Limit: 2})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	if len(window) != 2 || window[0].ID != "evt-3" || window[1].ID != "evt-2" {
		t.Errorf("unexpected window %+v", window)
	}

	count, err := p.Count(ctx, domain.Filter{Path: "/"})
	if err != nil || count != 5 {
		t.Errorf("Count() = %d, %v; want 5", count, err)
	}
	unique, err := p.CountUnique(ctx, domain.Filter{})
	if err != nil || unique != 3 {
		t.Errorf("CountUnique() = %d, %v; want 3", unique, err)
	}
	got, err := p.UniqueHashes(ctx, domain.Filter{Path: "/"})
	if err != nil {
		t.Fatalf("UniqueHashes() failed: %v", err)
	}
	if !reflect.DeepEqual(got, []string{"h-a", "h-b", "h-c"}) {
		t.Errorf("UniqueHashes() = %v", got)
	}

	none, err := p.Count(ctx, domain.Filter{Path: "/missing"})
	if err != nil || none != 0 {
		t.Errorf("Count() for unknown path = %d, %v; want 0", none, err)
	}
}

func TestPartition_RetriedInsertIsAbsorbed(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p, err := store.EnsurePartition(ctx, domain.CatchAllPartition())
	if err != nil {
		t.Fatalf("EnsurePartition() failed: %v", err)
	}

	event := testEvent("evt-1", "h-a", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	event.Metadata = map[string]any{"b": "2", "a": "1"}
	for i := 0; i < 3; i++ {
		if err := p.Insert(ctx, event); err != nil {
			t.Fatalf("Insert() attempt %d failed: %v", i, err)
		}
	}

	count, err := p.Count(ctx, domain.Filter{})
	if err != nil || count != 1 {
		t.Errorf("Count() = %d, %v; want 1 after retries", count, err)
	}
	listed, err := p.List(ctx, domain.Filter{}, domain.Page{})
	if err != nil || len(listed) != 1 {
		t.Errorf("List() returned %d events, %v; want 1", len(listed), err)
	}
}

func TestPartition_ResourceIndexesDoNotCollide(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	p, err := store.EnsurePartition(ctx, domain.ResourceEventsPartition())
	if err != nil {
		t.Fatalf("EnsurePartition() failed: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		event := testEvent(fmt.Sprintf("evt-%d", i), "h-a", base.Add(time.Duration(i)*time.Second))
		event.Path = "/v1/resources/a/b/events"
		event.ResourceType = domain.StringPtr("a")
		event.ResourceID = domain.StringPtr("b")
		event.Action = domain.StringPtr(domain.ActionView)
		if err := p.Insert(ctx, event); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	tests := []struct {
		name   string
		filter domain.Filter
		want   int
	}{
		{"exact action", domain.Filter{ResourceType: "a", ResourceID: "b", Action: domain.ActionView}, 3},
		{"exact resource", domain.Filter{ResourceType: "a", ResourceID: "b"}, 3},
		{"id carrying an action suffix", domain.Filter{ResourceType: "a", ResourceID: "b:action:view"}, 0},
		{"type carrying the id", domain.Filter{ResourceType: "a:b", ResourceID: "action"}, 0},
		{"action only", domain.Filter{Action: domain.ActionView}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			count, err := p.Count(ctx, tt.filter)
			if err != nil {
				t.Fatalf("Count() failed: %v", err)
			}
			listed, err := p.List(ctx, tt.filter, domain.Page{})
			if err != nil {
				t.Fatalf("List() failed: %v", err)
			}
			unique, err := p.CountUnique(ctx, tt.filter)
			if err != nil {
				t.Fatalf("CountUnique() failed: %v", err)
			}
			if int(count) != tt.want || len(listed) != tt.want {
				t.Errorf("count=%d listed=%d, want %d", count, len(listed), tt.want)
			}
			if wantUnique := min(tt.want, 1); int(unique) != wantUnique {
				t.Errorf("CountUnique() = %d, want %d", unique, wantUnique)
			}
		})
	}
}

func TestPartition_ServerDownIsUnavailable(t *testing.T) {
	server := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: server.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = client.Close() })
	store := NewPartitionStore(client, slog.New(slog.NewTextHandler(io.Discard, nil)))

	server.Close()
	_, err := store.EnsurePartition(context.Background(), domain.RootPartition())
	if !errors.Is(err, domain.ErrStorageUnavailable) {
		t.Errorf("expected ErrStorageUnavailable with the server down, got %v", err)
	}
}
