package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
)

type PostgresSyncLogRepository struct {
	gateway TenantStoreGateway
}

func NewPostgresSyncLogRepository(gateway TenantStoreGateway) *PostgresSyncLogRepository {
	return &PostgresSyncLogRepository{gateway: gateway}
}

// Record upserts the audit row for one change entry. A retry of the same
// entry updates status, error and retry count in place.
func (r *PostgresSyncLogRepository) Record(ctx context.Context, tenantID string, rec *models.SyncLogRecord) error {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`INSERT INTO %s
	          (id, entry_id, entity_type, entity_id, operation, status, error, retry_count, created_at, processed_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (entry_id) DO UPDATE SET
	              status = EXCLUDED.status,
	              error = EXCLUDED.error,
	              retry_count = EXCLUDED.retry_count,
	              processed_at = EXCLUDED.processed_at`,
		store.AuditTable("sync_log"))

	_, err = store.Pool().Exec(ctx, query,
		rec.ID, rec.EntryID, string(rec.EntityType), rec.EntityID, string(rec.Operation),
		string(rec.Status), rec.Error, rec.RetryCount, rec.CreatedAt, rec.ProcessedAt)
	if err != nil {
		return fmt.Errorf("failed to record sync log entry %s: %w", rec.EntryID, err)
	}
	return nil
}

func (r *PostgresSyncLogRepository) GetByEntryID(ctx context.Context, tenantID string, entryID string) (*models.SyncLogRecord, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, entry_id, entity_type, entity_id, operation, status, error, retry_count, created_at, processed_at
	          FROM %s WHERE entry_id = $1`, store.AuditTable("sync_log"))

	rec, err := scanSyncLogRow(store.Pool().QueryRow(ctx, query, entryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get sync log entry %s: %w", entryID, err)
	}
	rec.TenantID = store.TenantID()
	return rec, nil
}

func (r *PostgresSyncLogRepository) ListRecent(ctx context.Context, tenantID string, limit int) ([]models.SyncLogRecord, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT id, entry_id, entity_type, entity_id, operation, status, error, retry_count, created_at, processed_at
	          FROM %s ORDER BY created_at DESC LIMIT $1`, store.AuditTable("sync_log"))

	rows, err := store.Pool().Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync log: %w", err)
	}
	defer rows.Close()

	var records []models.SyncLogRecord
	for rows.Next() {
		rec, err := scanSyncLogRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log row: %w", err)
		}
		rec.TenantID = store.TenantID()
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanSyncLogRow(row pgx.Row) (*models.SyncLogRecord, error) {
	var rec models.SyncLogRecord
	var entityType, operation, status string
	err := row.Scan(&rec.ID, &rec.EntryID, &entityType, &rec.EntityID, &operation,
		&status, &rec.Error, &rec.RetryCount, &rec.CreatedAt, &rec.ProcessedAt)
	if err != nil {
		return nil, err
	}
	rec.EntityType = models.EntityType(entityType)
	rec.Operation = models.OperationType(operation)
	rec.Status = models.SyncStatus(status)
	return &rec, nil
}
