package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"strings"
	"sync"

	"github.com/V4T54L/footfall/internal/domain"
	"github.com/lib/pq"
)

const (
	registryTable = "attribution_partitions"
	tablePrefix   = "attr_"
	maxIdentLen   = 63
)

// Error codes returned when two sessions race on CREATE ... IF NOT EXISTS.
const (
	codeUniqueViolation = "23505"
	codeDuplicateTable  = "42P07"
	codeDuplicateObject = "42710"
	codeUndefinedTable  = "42P01"
)

const eventColumns = `id, hashed_ip, raw_ip, user_agent, method, path, resource_type, resource_id, action, metadata, created_at`

// PartitionStore implements domain.PartitionStore with one table per partition
// plus a registry table mapping partition keys to table names.
type PartitionStore struct {
	db     *sql.DB
	logger *slog.Logger

	registryMu    sync.Mutex
	registryReady bool
}

// NewPartitionStore creates a new PostgreSQL partition store.
func NewPartitionStore(db *sql.DB, logger *slog.Logger) *PartitionStore {
	return &PartitionStore{db: db, logger: logger.With("component", "postgres_partition_store")}
}

func (s *PartitionStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// EnsurePartition creates the partition table and its indexes if needed.
// Concurrent creations from several sessions converge: the catalog errors
// raised by the losing session are treated as success.
func (s *PartitionStore) EnsurePartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	if err := s.ensureRegistry(ctx); err != nil {
		return nil, err
	}

	table := TableName(key)
	ident := pq.QuoteIdentifier(table)
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS ` + ident + ` (
			id            UUID PRIMARY KEY,
			hashed_ip     TEXT,
			raw_ip        TEXT,
			user_agent    TEXT,
			method        TEXT NOT NULL,
			path          TEXT NOT NULL,
			resource_type TEXT,
			resource_id   TEXT,
			action        TEXT,
			metadata      JSONB,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(indexName(table, "created")) + ` ON ` + ident + ` (created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS ` + pq.QuoteIdentifier(indexName(table, "path")) + ` ON ` + ident + ` (path)`,
	}
	if key.Kind == domain.KindResourceEvents {
		stmts = append(stmts, `CREATE INDEX IF NOT EXISTS `+pq.QuoteIdentifier(indexName(table, "resource"))+
			` ON `+ident+` (resource_type, resource_id, action)`)
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil && !isConcurrentCreate(err) {
			return nil, fmt.Errorf("failed to provision partition %s: %w", key, err)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+registryTable+` (partition_key, table_name) VALUES ($1, $2) ON CONFLICT (partition_key) DO NOTHING`,
		key.String(), table)
	if err != nil && !isConcurrentCreate(err) {
		return nil, fmt.Errorf("failed to register partition %s: %w", key, err)
	}

	s.logger.Debug("partition ensured", "partition", key.String(), "table", table)
	return &Partition{db: s.db, key: key, table: ident}, nil
}

// OpenPartition looks the key up in the registry without creating anything.
func (s *PartitionStore) OpenPartition(ctx context.Context, key domain.PartitionKey) (domain.Partition, error) {
	var table string
	err := s.db.QueryRowContext(ctx,
		`SELECT table_name FROM `+registryTable+` WHERE partition_key = $1`, key.String()).Scan(&table)
	switch {
	case errors.Is(err, sql.ErrNoRows), pqCode(err) == codeUndefinedTable:
		return nil, domain.ErrPartitionNotFound
	case err != nil:
		return nil, fmt.Errorf("failed to open partition %s: %w", key, err)
	}
	return &Partition{db: s.db, key: key, table: pq.QuoteIdentifier(table)}, nil
}

func (s *PartitionStore) ensureRegistry(ctx context.Context) error {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	if s.registryReady {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+registryTable+` (
		partition_key TEXT PRIMARY KEY,
		table_name    TEXT NOT NULL,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`)
	if err != nil && !isConcurrentCreate(err) {
		return fmt.Errorf("failed to create partition registry: %w", err)
	}
	s.registryReady = true
	return nil
}

// TableName maps a partition key to a table identifier. Resource tables carry
// a hash suffix of the full key so that distinct keys never share a table.
func TableName(key domain.PartitionKey) string {
	switch key.Kind {
	case domain.KindRoot:
		return tablePrefix + "root"
	case domain.KindCatchAll:
		return tablePrefix + "catch_all"
	case domain.KindResourceEvents:
		return tablePrefix + "resource_events"
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	suffix := fmt.Sprintf("_%08x", h.Sum32())

	name := tablePrefix + "res_" + sanitize(key.ResourceType) + "_" + sanitize(key.ResourceID)
	// Leave room for index name suffixes.
	if limit := maxIdentLen - len(suffix) - len("_created_idx"); len(name) > limit {
		name = name[:limit]
	}
	return name + suffix
}

func indexName(table, suffix string) string {
	name := table + "_" + suffix + "_idx"
	if len(name) > maxIdentLen {
		name = name[:maxIdentLen]
	}
	return name
}

func sanitize(s string) string {
	return strings.ReplaceAll(s, "-", "_")
}

func isConcurrentCreate(err error) bool {
	switch pqCode(err) {
	case codeUniqueViolation, codeDuplicateTable, codeDuplicateObject:
		return true
	}
	return false
}

func pqCode(err error) string {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}

// Partition is a handle to one partition table.
type Partition struct {
	db    *sql.DB
	key   domain.PartitionKey
	table string // quoted identifier
}

func (p *Partition) Key() domain.PartitionKey { return p.key }

// Insert writes one event. ON CONFLICT keeps retries of the same event from duplicating it.
func (p *Partition) Insert(ctx context.Context, event domain.Event) error {
	var metadata any // NULL unless there is something to store
	if len(event.Metadata) > 0 {
		raw, err := json.Marshal(event.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal event metadata: %w", err)
		}
		metadata = string(raw)
	}

	query := `INSERT INTO ` + p.table + ` (` + eventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO NOTHING`
	_, err := p.db.ExecContext(ctx, query,
		event.ID, event.HashedIP, event.RawIP, event.UserAgent, event.Method, event.Path,
		event.ResourceType, event.ResourceID, event.Action, metadata, event.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert event into %s: %w", p.key, err)
	}
	return nil
}

func (p *Partition) List(ctx context.Context, filter domain.Filter, page domain.Page) ([]domain.Event, error) {
	page = page.Normalize()
	where, args := buildWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM %s%s ORDER BY created_at DESC, id DESC`, eventColumns, p.table, where)
	if !page.Unbounded() {
		args = append(args, page.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	args = append(args, page.Offset)
	query += fmt.Sprintf(" OFFSET $%d", len(args))

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list events from %s: %w", p.key, err)
	}
	defer rows.Close()

	events := []domain.Event{}
	for rows.Next() {
		event, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (p *Partition) Count(ctx context.Context, filter domain.Filter) (int64, error) {
	return p.count(ctx, "COUNT(*)", filter)
}

func (p *Partition) CountUnique(ctx context.Context, filter domain.Filter) (int64, error) {
	return p.count(ctx, "COUNT(DISTINCT hashed_ip)", filter)
}

func (p *Partition) UniqueHashes(ctx context.Context, filter domain.Filter) ([]string, error) {
	where, args := buildWhere(filter, "hashed_ip IS NOT NULL")
	rows, err := p.db.QueryContext(ctx,
		`SELECT DISTINCT hashed_ip FROM `+p.table+where+` ORDER BY hashed_ip`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list unique hashes from %s: %w", p.key, err)
	}
	defer rows.Close()

	hashes := []string{}
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, err
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

func (p *Partition) count(ctx context.Context, expr string, filter domain.Filter) (int64, error) {
	where, args := buildWhere(filter)
	var n int64
	if err := p.db.QueryRowContext(ctx, `SELECT `+expr+` FROM `+p.table+where, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count events in %s: %w", p.key, err)
	}
	return n, nil
}

// buildWhere renders the filter as a WHERE clause with positional arguments.
func buildWhere(filter domain.Filter, extra ...string) (string, []any) {
	conds := append([]string(nil), extra...)
	var args []any
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		conds = append(conds, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("path", filter.Path)
	add("resource_type", filter.ResourceType)
	add("resource_id", filter.ResourceID)
	add("action", filter.Action)

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func scanEvent(rows *sql.Rows) (domain.Event, error) {
	var e domain.Event
	var hashedIP, rawIP, userAgent, resType, resID, action sql.NullString
	var metadata []byte
	if err := rows.Scan(&e.ID, &hashedIP, &rawIP, &userAgent, &e.Method, &e.Path,
		&resType, &resID, &action, &metadata, &e.CreatedAt); err != nil {
		return e, fmt.Errorf("failed to scan event: %w", err)
	}
	e.HashedIP = nullable(hashedIP)
	e.RawIP = nullable(rawIP)
	e.UserAgent = nullable(userAgent)
	e.ResourceType = nullable(resType)
	e.ResourceID = nullable(resID)
	e.Action = nullable(action)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return e, fmt.Errorf("failed to decode metadata of event %s: %w", e.ID, err)
		}
	}
	return e, nil
}

func nullable(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}
