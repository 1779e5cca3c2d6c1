package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
)

type PostgresCheckpointRepository struct {
	gateway TenantStoreGateway
}

func NewPostgresCheckpointRepository(gateway TenantStoreGateway) *PostgresCheckpointRepository {
	return &PostgresCheckpointRepository{gateway: gateway}
}

// Save inserts a new checkpoint with the next sync version. Earlier
// checkpoints are superseded, never overwritten.
func (r *PostgresCheckpointRepository) Save(ctx context.Context, tenantID string, cp *models.SyncCheckpoint) error {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return err
	}
	if cp.ID == uuid.Nil {
		cp.ID = uuid.New()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	cp.TenantID = store.TenantID()

	counts, err := json.Marshal(cp.EntityCounts)
	if err != nil {
		return fmt.Errorf("failed to encode entity counts: %w", err)
	}
	checksums, err := json.Marshal(cp.DataChecksums)
	if err != nil {
		return fmt.Errorf("failed to encode data checksums: %w", err)
	}

	table := store.AuditTable("sync_checkpoints")
	query := fmt.Sprintf(`INSERT INTO %s (id, entity_counts, data_checksums, sync_version, is_valid, created_at)
	          SELECT $1, $2, $3, COALESCE(MAX(sync_version), 0) + 1, $4, $5 FROM %s
	          RETURNING sync_version`, table, table)

	err = store.Pool().QueryRow(ctx, query, cp.ID, counts, checksums, cp.IsValid, cp.CreatedAt).
		Scan(&cp.SyncVersion)
	if err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

func (r *PostgresCheckpointRepository) Latest(ctx context.Context, tenantID string) (*models.SyncCheckpoint, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, entity_counts, data_checksums, sync_version, is_valid, created_at
	          FROM %s ORDER BY sync_version DESC LIMIT 1`, store.AuditTable("sync_checkpoints"))

	var cp models.SyncCheckpoint
	var counts, checksums []byte
	err = store.Pool().QueryRow(ctx, query).Scan(&cp.ID, &counts, &checksums, &cp.SyncVersion, &cp.IsValid, &cp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest checkpoint: %w", err)
	}

	if err := json.Unmarshal(counts, &cp.EntityCounts); err != nil {
		return nil, fmt.Errorf("failed to decode entity counts: %w", err)
	}
	if err := json.Unmarshal(checksums, &cp.DataChecksums); err != nil {
		return nil, fmt.Errorf("failed to decode data checksums: %w", err)
	}
	cp.TenantID = store.TenantID()
	return &cp, nil
}

// Invalidate marks a checkpoint as failed verification. The row is kept for
// diagnosis.
func (r *PostgresCheckpointRepository) Invalidate(ctx context.Context, tenantID string, id uuid.UUID) error {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET is_valid = false WHERE id = $1`, store.AuditTable("sync_checkpoints"))

	result, err := store.Pool().Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to invalidate checkpoint %s: %w", id, err)
	}
	if result.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
