package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/tenantstore"
)

var ErrNotFound = errors.New("not found")

// TenantStoreGateway is what the Postgres repositories need from the
// gateway; *tenantstore.Gateway satisfies it.
type TenantStoreGateway interface {
	Open(ctx context.Context, tenantID string) (*tenantstore.Store, error)
}

type PostgresEntityRepository struct {
	gateway TenantStoreGateway
}

func NewPostgresEntityRepository(gateway TenantStoreGateway) *PostgresEntityRepository {
	return &PostgresEntityRepository{gateway: gateway}
}

func (r *PostgresEntityRepository) open(ctx context.Context, tenantID string, t models.EntityType) (*tenantstore.Store, string, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, "", err
	}
	table, ok := store.Table(t)
	if !ok {
		return nil, "", fmt.Errorf("no table for entity type %q", t)
	}
	return store, table, nil
}

func (r *PostgresEntityRepository) Get(ctx context.Context, tenantID string, t models.EntityType, id string) (*StoredRecord, error) {
	store, table, err := r.open(ctx, tenantID, t)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM %s WHERE id = $1`, table)

	var rec StoredRecord
	var updatedAt *time.Time
	err = store.Pool().QueryRow(ctx, query, id).Scan(&rec.ID, &rec.Data, &rec.CreatedAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s %s: %w: %w", t, id, tenantstore.ErrStoreUnavailable, err)
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	if updatedAt != nil {
		rec.UpdatedAt = updatedAt.UTC()
	}
	return &rec, nil
}

func (r *PostgresEntityRepository) Create(ctx context.Context, tenantID string, t models.EntityType, rec *StoredRecord) error {
	store, table, err := r.open(ctx, tenantID, t)
	if err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := store.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin create: %w: %w", tenantstore.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	// Re-delivered creates overwrite; the caller has already decided the
	// write should happen. created_at of an existing row is preserved.
	query := fmt.Sprintf(`INSERT INTO %s (id, data, created_at, updated_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, table)

	if _, err := tx.Exec(ctx, query, rec.ID, rec.Data, rec.CreatedAt, nullableTime(rec.UpdatedAt)); err != nil {
		return fmt.Errorf("failed to create %s %s: %w: %w", t, rec.ID, tenantstore.ErrStoreUnavailable, err)
	}
	if err := clearTombstone(ctx, tx, store, t, rec.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresEntityRepository) Update(ctx context.Context, tenantID string, t models.EntityType, rec *StoredRecord) error {
	store, table, err := r.open(ctx, tenantID, t)
	if err != nil {
		return err
	}

	tx, err := store.Pool().Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin update: %w: %w", tenantstore.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	query := fmt.Sprintf(`UPDATE %s SET data = $2, updated_at = $3 WHERE id = $1`, table)

	result, err := tx.Exec(ctx, query, rec.ID, rec.Data, nullableTime(rec.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to update %s %s: %w: %w", t, rec.ID, tenantstore.ErrStoreUnavailable, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	if err := clearTombstone(ctx, tx, store, t, rec.ID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PostgresEntityRepository) Delete(ctx context.Context, tenantID string, t models.EntityType, id string, deletedAt time.Time) (bool, error) {
	store, table, err := r.open(ctx, tenantID, t)
	if err != nil {
		return false, err
	}
	if deletedAt.IsZero() {
		deletedAt = time.Now().UTC()
	}

	tx, err := store.Pool().Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin delete: %w: %w", tenantstore.ErrStoreUnavailable, err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s %s: %w: %w", t, id, tenantstore.ErrStoreUnavailable, err)
	}
	existed := result.RowsAffected() > 0

	// The tombstone keeps the newest delete timestamp it has ever seen.
	tombstone := fmt.Sprintf(`INSERT INTO %s (entity_type, entity_id, deleted_at)
	          VALUES ($1, $2, $3)
	          ON CONFLICT (entity_type, entity_id)
	          DO UPDATE SET deleted_at = GREATEST(%s.deleted_at, EXCLUDED.deleted_at)`,
		store.AuditTable("sync_tombstones"), "sync_tombstones")
	if _, err := tx.Exec(ctx, tombstone, string(t), id, deletedAt.UTC()); err != nil {
		return false, fmt.Errorf("failed to record tombstone for %s %s: %w: %w", t, id, tenantstore.ErrStoreUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit delete: %w: %w", tenantstore.ErrStoreUnavailable, err)
	}
	return existed, nil
}

func (r *PostgresEntityRepository) List(ctx context.Context, tenantID string, t models.EntityType) ([]StoredRecord, error) {
	store, table, err := r.open(ctx, tenantID, t)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM %s ORDER BY id`, table)
	return scanRecords(ctx, store, query, t)
}

func (r *PostgresEntityRepository) ListModifiedSince(ctx context.Context, tenantID string, t models.EntityType, since time.Time) ([]StoredRecord, error) {
	store, table, err := r.open(ctx, tenantID, t)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`SELECT id, data, created_at, updated_at FROM %s
	          WHERE updated_at > $1 ORDER BY updated_at`, table)
	return scanRecords(ctx, store, query, t, since.UTC())
}

func (r *PostgresEntityRepository) Count(ctx context.Context, tenantID string, t models.EntityType) (int, error) {
	store, table, err := r.open(ctx, tenantID, t)
	if err != nil {
		return 0, err
	}
	var n int
	err = store.Pool().QueryRow(ctx, fmt.Sprintf(`SELECT count(*) FROM %s`, table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count %s: %w: %w", t, tenantstore.ErrStoreUnavailable, err)
	}
	return n, nil
}

func (r *PostgresEntityRepository) GetTombstone(ctx context.Context, tenantID string, t models.EntityType, id string) (*models.Tombstone, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT deleted_at FROM %s WHERE entity_type = $1 AND entity_id = $2`,
		store.AuditTable("sync_tombstones"))

	var deletedAt time.Time
	err = store.Pool().QueryRow(ctx, query, string(t), id).Scan(&deletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tombstone for %s %s: %w: %w", t, id, tenantstore.ErrStoreUnavailable, err)
	}
	return &models.Tombstone{EntityType: t, EntityID: id, DeletedAt: deletedAt.UTC()}, nil
}

func scanRecords(ctx context.Context, store *tenantstore.Store, query string, t models.EntityType, args ...any) ([]StoredRecord, error) {
	rows, err := store.Pool().Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w: %w", t, tenantstore.ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var records []StoredRecord
	for rows.Next() {
		var rec StoredRecord
		var updatedAt *time.Time
		if err := rows.Scan(&rec.ID, &rec.Data, &rec.CreatedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan %s row: %w", t, err)
		}
		rec.CreatedAt = rec.CreatedAt.UTC()
		if updatedAt != nil {
			rec.UpdatedAt = updatedAt.UTC()
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func clearTombstone(ctx context.Context, tx pgx.Tx, store *tenantstore.Store, t models.EntityType, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE entity_type = $1 AND entity_id = $2`,
		store.AuditTable("sync_tombstones"))
	if _, err := tx.Exec(ctx, query, string(t), id); err != nil {
		return fmt.Errorf("failed to clear tombstone for %s %s: %w: %w", t, id, tenantstore.ErrStoreUnavailable, err)
	}
	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	utc := t.UTC()
	return &utc
}
