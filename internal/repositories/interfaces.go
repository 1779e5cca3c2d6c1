package repositories

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
)

// StoredRecord is one row of an entity table: the canonical JSON plus the
// store-side clock columns. UpdatedAt is zero when the record carries no
// last-write timestamp.
type StoredRecord struct {
	ID        string
	Data      json.RawMessage
	CreatedAt time.Time
	UpdatedAt time.Time
}

// EntityRepository is the typed CRUD surface over the per-tenant record
// stores. UpdatedAt travels as part of the record on every write; it is
// never advanced implicitly by the store. Create and Update clear any
// tombstone for the id, Delete writes one.
type EntityRepository interface {
	Get(ctx context.Context, tenantID string, t models.EntityType, id string) (*StoredRecord, error)
	Create(ctx context.Context, tenantID string, t models.EntityType, rec *StoredRecord) error
	Update(ctx context.Context, tenantID string, t models.EntityType, rec *StoredRecord) error
	// Delete reports whether a live record existed. Deleting an absent
	// record still records the tombstone.
	Delete(ctx context.Context, tenantID string, t models.EntityType, id string, deletedAt time.Time) (bool, error)
	List(ctx context.Context, tenantID string, t models.EntityType) ([]StoredRecord, error)
	ListModifiedSince(ctx context.Context, tenantID string, t models.EntityType, since time.Time) ([]StoredRecord, error)
	Count(ctx context.Context, tenantID string, t models.EntityType) (int, error)
	GetTombstone(ctx context.Context, tenantID string, t models.EntityType, id string) (*models.Tombstone, error)
}

// SyncLogRepository keeps the append-only audit trail, one row per change
// entry. Record upserts by entry id so retries update status and retry
// count instead of duplicating rows.
type SyncLogRepository interface {
	Record(ctx context.Context, tenantID string, rec *models.SyncLogRecord) error
	GetByEntryID(ctx context.Context, tenantID string, entryID string) (*models.SyncLogRecord, error)
	ListRecent(ctx context.Context, tenantID string, limit int) ([]models.SyncLogRecord, error)
}

type ConflictRepository interface {
	Record(ctx context.Context, tenantID string, rec *models.SyncConflictRecord) error
	Get(ctx context.Context, tenantID string, id uuid.UUID) (*models.SyncConflictRecord, error)
	ListPending(ctx context.Context, tenantID string) ([]models.SyncConflictRecord, error)
	Resolve(ctx context.Context, tenantID string, id uuid.UUID, status models.ResolutionStatus, resolvedBy string) error
}

type MetricsRepository interface {
	Start(ctx context.Context, tenantID string, rec *models.SyncMetricsRecord) error
	Complete(ctx context.Context, tenantID string, rec *models.SyncMetricsRecord) error
	LatestCompleted(ctx context.Context, tenantID string) (*models.SyncMetricsRecord, error)
}

type CheckpointRepository interface {
	// Save assigns the next sync version; earlier checkpoints are kept.
	Save(ctx context.Context, tenantID string, cp *models.SyncCheckpoint) error
	Latest(ctx context.Context, tenantID string) (*models.SyncCheckpoint, error)
	Invalidate(ctx context.Context, tenantID string, id uuid.UUID) error
}

// RetryStore holds, per tenant, the ordered pending queue and the
// failed-entry table the retry manager schedules from. Implementations must
// survive across requests; the Redis one survives process restarts too.
type RetryStore interface {
	Enqueue(ctx context.Context, tenantID string, entry models.SyncChangeEntry) error
	DrainPending(ctx context.Context, tenantID string, max int) ([]models.SyncChangeEntry, error)
	MarkFailed(ctx context.Context, tenantID string, rec models.RetryRecord) error
	Due(ctx context.Context, tenantID string, now time.Time) ([]models.RetryRecord, error)
	Remove(ctx context.Context, tenantID string, entryID string) error
	Tenants(ctx context.Context) ([]string, error)
	Depth(ctx context.Context, tenantID string) (pending int, failed int, err error)
}

// MaintenanceStore mirrors the advisory maintenance flag so every replica
// reports the same state.
type MaintenanceStore interface {
	SetMaintenance(ctx context.Context, enabled bool, message string) error
	GetMaintenance(ctx context.Context) (bool, string, error)
}
