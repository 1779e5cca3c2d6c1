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

type PostgresConflictRepository struct {
	gateway TenantStoreGateway
}

func NewPostgresConflictRepository(gateway TenantStoreGateway) *PostgresConflictRepository {
	return &PostgresConflictRepository{gateway: gateway}
}

// Record persists a detected conflict as pending. Re-detecting the same
// still-pending conflict refreshes its checksums instead of duplicating it.
func (r *PostgresConflictRepository) Record(ctx context.Context, tenantID string, rec *models.SyncConflictRecord) error {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.DetectedAt.IsZero() {
		rec.DetectedAt = time.Now().UTC()
	}
	if rec.ResolutionStatus == "" {
		rec.ResolutionStatus = models.ResolutionPending
	}

	query := fmt.Sprintf(`INSERT INTO %s
	          (id, entity_type, entity_id, client_checksum, server_checksum,
	           client_modified, server_modified, conflict_type, resolution_status, detected_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	          ON CONFLICT (entity_type, entity_id) WHERE resolution_status = 'pending'
	          DO UPDATE SET
	              client_checksum = EXCLUDED.client_checksum,
	              server_checksum = EXCLUDED.server_checksum,
	              client_modified = EXCLUDED.client_modified,
	              server_modified = EXCLUDED.server_modified,
	              detected_at = EXCLUDED.detected_at`,
		store.AuditTable("sync_conflicts"))

	_, err = store.Pool().Exec(ctx, query,
		rec.ID, string(rec.EntityType), rec.EntityID, rec.ClientChecksum, rec.ServerChecksum,
		rec.ClientModified, rec.ServerModified, string(rec.ConflictType), string(rec.ResolutionStatus), rec.DetectedAt)
	if err != nil {
		return fmt.Errorf("failed to record conflict for %s %s: %w", rec.EntityType, rec.EntityID, err)
	}
	return nil
}

func (r *PostgresConflictRepository) Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncConflictRecord, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, entity_type, entity_id, client_checksum, server_checksum,
	           client_modified, server_modified, conflict_type, resolution_status, detected_at, resolved_at, resolved_by
	          FROM %s WHERE id = $1`, store.AuditTable("sync_conflicts"))

	rec, err := scanConflictRow(store.Pool().QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conflict %s: %w", id, err)
	}
	rec.TenantID = store.TenantID()
	return rec, nil
}

func (r *PostgresConflictRepository) ListPending(ctx context.Context, tenantID string) ([]models.SyncConflictRecord, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, entity_type, entity_id, client_checksum, server_checksum,
	           client_modified, server_modified, conflict_type, resolution_status, detected_at, resolved_at, resolved_by
	          FROM %s WHERE resolution_status = 'pending' ORDER BY detected_at`, store.AuditTable("sync_conflicts"))

	rows, err := store.Pool().Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending conflicts: %w", err)
	}
	defer rows.Close()

	var records []models.SyncConflictRecord
	for rows.Next() {
		rec, err := scanConflictRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conflict row: %w", err)
		}
		rec.TenantID = store.TenantID()
		records = append(records, *rec)
	}
	return records, rows.Err()
}

// Resolve closes a pending conflict. Conflict records are never deleted, a
// resolved one stays as audit trail.
func (r *PostgresConflictRepository) Resolve(ctx context.Context, tenantID string, id uuid.UUID, status models.ResolutionStatus, resolvedBy string) error {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET resolution_status = $2, resolved_at = now(), resolved_by = $3
	          WHERE id = $1 AND resolution_status = 'pending'`, store.AuditTable("sync_conflicts"))

	result, err := store.Pool().Exec(ctx, query, id, string(status), resolvedBy)
	if err != nil {
		return fmt.Errorf("failed to resolve conflict %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanConflictRow(row pgx.Row) (*models.SyncConflictRecord, error) {
	var rec models.SyncConflictRecord
	var entityType, conflictType, resolutionStatus string
	err := row.Scan(&rec.ID, &entityType, &rec.EntityID, &rec.ClientChecksum, &rec.ServerChecksum,
		&rec.ClientModified, &rec.ServerModified, &conflictType, &resolutionStatus,
		&rec.DetectedAt, &rec.ResolvedAt, &rec.ResolvedBy)
	if err != nil {
		return nil, err
	}
	rec.EntityType = models.EntityType(entityType)
	rec.ConflictType = models.ConflictType(conflictType)
	rec.ResolutionStatus = models.ResolutionStatus(resolutionStatus)
	return &rec, nil
}
