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

// ErrAlreadyCompleted is returned when a metrics record is completed twice.
var ErrAlreadyCompleted = errors.New("metrics record already completed")

type PostgresMetricsRepository struct {
	gateway TenantStoreGateway
}

func NewPostgresMetricsRepository(gateway TenantStoreGateway) *PostgresMetricsRepository {
	return &PostgresMetricsRepository{gateway: gateway}
}

func (r *PostgresMetricsRepository) Start(ctx context.Context, tenantID string, rec *models.SyncMetricsRecord) error {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return err
	}
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = time.Now().UTC()
	}
	rec.TenantID = store.TenantID()

	query := fmt.Sprintf(`INSERT INTO %s (id, started_at) VALUES ($1, $2)`,
		store.AuditTable("sync_metrics"))

	if _, err := store.Pool().Exec(ctx, query, rec.ID, rec.StartedAt); err != nil {
		return fmt.Errorf("failed to start metrics record: %w", err)
	}
	return nil
}

// Complete closes a metrics record exactly once.
func (r *PostgresMetricsRepository) Complete(ctx context.Context, tenantID string, rec *models.SyncMetricsRecord) error {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec.CompletedAt = &now

	query := fmt.Sprintf(`UPDATE %s SET completed_at = $2, processed = $3, successful = $4,
	           failed = $5, conflicts = $6, details = $7
	          WHERE id = $1 AND completed_at IS NULL`, store.AuditTable("sync_metrics"))

	result, err := store.Pool().Exec(ctx, query,
		rec.ID, rec.CompletedAt, rec.Processed, rec.Successful, rec.Failed, rec.Conflicts, rec.Details)
	if err != nil {
		return fmt.Errorf("failed to complete metrics record %s: %w", rec.ID, err)
	}
	if result.RowsAffected() == 0 {
		return ErrAlreadyCompleted
	}
	return nil
}

func (r *PostgresMetricsRepository) LatestCompleted(ctx context.Context, tenantID string) (*models.SyncMetricsRecord, error) {
	store, err := r.gateway.Open(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`SELECT id, started_at, completed_at, processed, successful, failed, conflicts, details
	          FROM %s WHERE completed_at IS NOT NULL ORDER BY completed_at DESC LIMIT 1`,
		store.AuditTable("sync_metrics"))

	var rec models.SyncMetricsRecord
	err = store.Pool().QueryRow(ctx, query).Scan(&rec.ID, &rec.StartedAt, &rec.CompletedAt,
		&rec.Processed, &rec.Successful, &rec.Failed, &rec.Conflicts, &rec.Details)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest metrics record: %w", err)
	}
	rec.TenantID = store.TenantID()
	return &rec, nil
}
