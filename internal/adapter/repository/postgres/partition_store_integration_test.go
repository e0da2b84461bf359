//go:build integration

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/V4T54L/footfall/internal/domain"
	embeddedpostgres "github.com/fergusstrange/embedded-postgres"
	"github.com/google/uuid"
)

const embeddedPort = 54329

var testDB *sql.DB

// TestMain runs the package against a throwaway PostgreSQL instance.
func TestMain(m *testing.M) {
	runtimeDir, err := os.MkdirTemp("", "footfall-pg")
	if err != nil {
		fmt.Printf("failed to create runtime dir: %v\n", err)
		os.Exit(1)
	}
	ep := embeddedpostgres.NewDatabase(
		embeddedpostgres.DefaultConfig().
			Version(embeddedpostgres.V16).
			RuntimePath(runtimeDir).
			Username("footfall").
			Password("footfall").
			Database("footfall").
			Port(embeddedPort).
			Logger(io.Discard),
	)
	if err := ep.Start(); err != nil {
		fmt.Printf("failed to start embedded postgres: %v\n", err)
		os.Exit(1)
	}

	dsn := fmt.Sprintf("host=localhost port=%d user=footfall password=footfall dbname=footfall sslmode=disable", embeddedPort)
	testDB, err = sql.Open("postgres", dsn)
	if err != nil {
		fmt.Printf("failed to open database: %v\n", err)
		_ = ep.Stop()
		os.Exit(1)
	}

	code := m.Run()
	_ = testDB.Close()
	_ = ep.Stop()
	_ = os.RemoveAll(runtimeDir)
	os.Exit(code)
}

func newIntegrationStore() *PartitionStore {
	return NewPartitionStore(testDB, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestPartitionStore_EnsureConcurrently(t *testing.T) {
	store := newIntegrationStore()
	ctx := context.Background()
	key := domain.ResourcePartition("widget", "race-1")

	if _, err := store.OpenPartition(ctx, key); !errors.Is(err, domain.ErrPartitionNotFound) {
		t.Fatalf("expected ErrPartitionNotFound before creation, got %v", err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Separate stores mimic separate service instances.
			if _, err := newIntegrationStore().EnsurePartition(ctx, key); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent EnsurePartition() failed: %v", err)
	}

	if _, err := store.OpenPartition(ctx, key); err != nil {
		t.Errorf("expected partition to open after creation, got %v", err)
	}
}

func TestPartition_DataPath(t *testing.T) {
	store := newIntegrationStore()
	ctx := context.Background()
	p, err := store.EnsurePartition(ctx, domain.ResourceEventsPartition())
	if err != nil {
		t.Fatalf("EnsurePartition() failed: %v", err)
	}

	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	hashes := []string{"h-a", "h-b", "h-a"}
	var ids []string
	for i, h := range hashes {
		event := domain.Event{
			ID:           uuid.NewString(),
			HashedIP:     domain.StringPtr(h),
			Method:       "POST",
			Path:         "/v1/resources/gadget/1/events",
			ResourceType: domain.StringPtr("gadget"),
			ResourceID:   domain.StringPtr("1"),
			Action:       domain.StringPtr(domain.ActionView),
			Metadata:     map[string]any{"source": "test"},
			CreatedAt:    base.Add(time.Duration(i) * time.Minute),
		}
		// Retries carry the same ID and must not duplicate the row.
		for attempt := 0; attempt < 2; attempt++ {
			if err := p.Insert(ctx, event); err != nil {
				t.Fatalf("Insert() failed: %v", err)
			}
		}
		ids = append([]string{event.ID}, ids...)
	}

	filter := domain.Filter{ResourceType: "gadget", ResourceID: "1"}
	listed, err := p.List(ctx, filter, domain.Page{})
	if err != nil {
		t.Fatalf("List() failed: %v", err)
	}
	var got []string
	for _, e := range listed {
		got = append(got, e.ID)
	}
	if !reflect.DeepEqual(got, ids) {
		t.Errorf("List() = %v, want newest first %v", got, ids)
	}
	if len(listed) > 0 && listed[0].Metadata["source"] != "test" {
		t.Errorf("metadata did not round-trip: %+v", listed[0].Metadata)
	}

	window, err := p.List(ctx, filter, domain.Page{Offset: 1, Limit: 1})
	if err != nil || len(window) != 1 || window[0].ID != ids[1] {
		t.Errorf("List() window = %+v, %v", window, err)
	}

	count, err := p.Count(ctx, filter)
	if err != nil || count != 3 {
		t.Errorf("Count() = %d, %v; want 3", count, err)
	}
	unique, err := p.CountUnique(ctx, filter)
	if err != nil || unique != 2 {
		t.Errorf("CountUnique() = %d, %v; want 2", unique, err)
	}
	uniques, err := p.UniqueHashes(ctx, filter)
	if err != nil || !reflect.DeepEqual(uniques, []string{"h-a", "h-b"}) {
		t.Errorf("UniqueHashes() = %v, %v", uniques, err)
	}

	other, err := p.Count(ctx, domain.Filter{ResourceType: "gadget", ResourceID: "1:action:view"})
	if err != nil || other != 0 {
		t.Errorf("Count() for another id = %d, %v; want 0", other, err)
	}
}
