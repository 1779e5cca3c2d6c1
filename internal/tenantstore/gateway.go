// Package tenantstore resolves tenant identifiers to isolated record stores.
// Every tenant owns one Postgres schema, created on first use; handles are
// cached for the life of the process.
package tenantstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/tenantstore/migrations"
)

var (
	ErrInvalidTenantID = errors.New("invalid tenant id")
	// ErrStoreUnavailable marks transient store-level failures. Callers use
	// errors.Is on it to classify an entry as retryable.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// Tenant ids come in as UUIDs or short slugs. Anything else is rejected
// before it can reach an identifier position in SQL.
var tenantIDPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{0,62}$`)

// NormalizeTenantID lowercases and validates a tenant identifier.
func NormalizeTenantID(tenantID string) (string, error) {
	id := strings.ToLower(strings.TrimSpace(tenantID))
	if !tenantIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q", ErrInvalidTenantID, tenantID)
	}
	return id, nil
}

func schemaFor(tenantID string) string {
	return "tenant_" + strings.ReplaceAll(tenantID, "-", "_")
}

// Store is a handle bound to one tenant's schema. All table names it hands
// out are schema-qualified and built from validated identifiers only.
type Store struct {
	tenantID string
	schema   string
	pool     *pgxpool.Pool
}

func (s *Store) TenantID() string    { return s.tenantID }
func (s *Store) Schema() string      { return s.schema }
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Table returns the qualified table name for an entity kind.
func (s *Store) Table(t models.EntityType) (string, bool) {
	name, ok := entityTables[t]
	if !ok {
		return "", false
	}
	return s.schema + "." + name, true
}

// AuditTable returns the qualified name of one of the fixed audit tables.
func (s *Store) AuditTable(name string) string {
	return s.schema + "." + name
}

type Gateway struct {
	pool   *pgxpool.Pool
	logger *slog.Logger

	mu     sync.Mutex
	stores map[string]*Store
}

func NewGateway(pool *pgxpool.Pool, logger *slog.Logger) *Gateway {
	return &Gateway{
		pool:   pool,
		logger: logger,
		stores: make(map[string]*Store),
	}
}

// RunMigrations applies the embedded control-plane migrations. Called once
// at startup, before any tenant store is opened.
func (g *Gateway) RunMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(g.pool)
	defer db.Close()

	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("pgx"); err != nil {
		return fmt.Errorf("set goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db, "."); err != nil {
		return fmt.Errorf("run control-plane migrations: %w", err)
	}
	return nil
}

// Open resolves a tenant id to its store, provisioning schema and tables on
// first use. Safe for concurrent callers; the provisioning path is
// serialized behind the cache check.
func (g *Gateway) Open(ctx context.Context, tenantID string) (*Store, error) {
	id, err := NormalizeTenantID(tenantID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if s, ok := g.stores[id]; ok {
		return s, nil
	}

	schema := schemaFor(id)
	if err := g.provision(ctx, id, schema); err != nil {
		return nil, fmt.Errorf("provision tenant %s: %w: %w", id, ErrStoreUnavailable, err)
	}

	s := &Store{tenantID: id, schema: schema, pool: g.pool}
	g.stores[id] = s
	g.logger.Info("tenant store opened", "tenant_id", id, "schema", schema)
	return s, nil
}

// Ping reports whether the backing cluster is reachable.
func (g *Gateway) Ping(ctx context.Context) error {
	if err := g.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}
	return nil
}

// ListTenants returns all registered tenant ids, most recently used first.
func (g *Gateway) ListTenants(ctx context.Context) ([]string, error) {
	rows, err := g.pool.Query(ctx, `SELECT id FROM tenants ORDER BY last_accessed_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list tenants: %w: %w", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (g *Gateway) provision(ctx context.Context, tenantID, schema string) error {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	// Serialize first-use provisioning across replicas.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, schema); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO tenants (id, schema_name) VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE SET last_accessed_at = now()`,
		tenantID, schema); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, fmt.Sprintf(`CREATE SCHEMA IF NOT EXISTS %s`, schema)); err != nil {
		return err
	}

	for _, t := range models.AllEntityTypes {
		table := entityTables[t]
		ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			id TEXT PRIMARY KEY,
			data JSONB NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ
		)`, schema, table)
		if _, err := tx.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
		idx := fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_updated_at_idx ON %s.%s (updated_at)`,
			table, schema, table)
		if _, err := tx.Exec(ctx, idx); err != nil {
			return fmt.Errorf("index %s: %w", table, err)
		}
	}

	for _, ddl := range auditTableDDL {
		if _, err := tx.Exec(ctx, fmt.Sprintf(ddl, schema)); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	g.logger.Debug("tenant schema provisioned", "tenant_id", tenantID, "schema", schema)
	return nil
}

var entityTables = map[models.EntityType]string{
	models.EntityAccountGroup:        "account_groups",
	models.EntityAccount:             "accounts",
	models.EntityCategoryGroup:       "category_groups",
	models.EntityCategory:            "categories",
	models.EntityRecipient:           "recipients",
	models.EntityTag:                 "tags",
	models.EntityAutomationRule:      "automation_rules",
	models.EntityTransaction:         "transactions",
	models.EntityPlanningTransaction: "planning_transactions",
}

// Audit tables live beside the entity tables in each tenant schema. The %s
// placeholder is the validated schema name.
var auditTableDDL = []string{
	`CREATE TABLE IF NOT EXISTS %s.sync_tombstones (
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		deleted_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (entity_type, entity_id)
	)`,
	`CREATE TABLE IF NOT EXISTS %s.sync_log (
		id UUID PRIMARY KEY,
		entry_id TEXT NOT NULL,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		operation TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		retry_count INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		processed_at TIMESTAMPTZ
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sync_log_entry_idx ON %s.sync_log (entry_id)`,
	`CREATE TABLE IF NOT EXISTS %s.sync_conflicts (
		id UUID PRIMARY KEY,
		entity_type TEXT NOT NULL,
		entity_id TEXT NOT NULL,
		client_checksum TEXT NOT NULL DEFAULT '',
		server_checksum TEXT NOT NULL DEFAULT '',
		client_modified TIMESTAMPTZ,
		server_modified TIMESTAMPTZ,
		conflict_type TEXT NOT NULL,
		resolution_status TEXT NOT NULL DEFAULT 'pending',
		detected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		resolved_at TIMESTAMPTZ,
		resolved_by TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS sync_conflicts_status_idx ON %s.sync_conflicts (resolution_status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS sync_conflicts_pending_idx ON %s.sync_conflicts (entity_type, entity_id)
		WHERE resolution_status = 'pending'`,
	`CREATE TABLE IF NOT EXISTS %s.sync_metrics (
		id UUID PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ,
		processed INT NOT NULL DEFAULT 0,
		successful INT NOT NULL DEFAULT 0,
		failed INT NOT NULL DEFAULT 0,
		conflicts INT NOT NULL DEFAULT 0,
		details JSONB
	)`,
	`CREATE TABLE IF NOT EXISTS %s.sync_checkpoints (
		id UUID PRIMARY KEY,
		entity_counts JSONB NOT NULL,
		data_checksums JSONB NOT NULL,
		sync_version BIGINT NOT NULL,
		is_valid BOOLEAN NOT NULL DEFAULT true,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}
