package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

// ChecksumReconciler compares client and server state without shipping full
// records: per-entity canonical checksums, three-way diffs, and periodic
// checkpoints that shortcut full comparisons.
type ChecksumReconciler struct {
	entities    repositories.EntityRepository
	conflicts   repositories.ConflictRepository
	metrics     repositories.MetricsRepository
	checkpoints repositories.CheckpointRepository
	logger      *slog.Logger
}

func NewChecksumReconciler(
	entities repositories.EntityRepository,
	conflicts repositories.ConflictRepository,
	metrics repositories.MetricsRepository,
	checkpoints repositories.CheckpointRepository,
	logger *slog.Logger,
) *ChecksumReconciler {
	return &ChecksumReconciler{
		entities:    entities,
		conflicts:   conflicts,
		metrics:     metrics,
		checkpoints: checkpoints,
		logger:      logger,
	}
}

// Status computes per-entity checksums for the requested entity types, all
// known types when none are given.
func (r *ChecksumReconciler) Status(ctx context.Context, tenantID string, entityTypes []models.EntityType) (*models.DataStatusResponse, error) {
	if len(entityTypes) == 0 {
		entityTypes = models.AllEntityTypes
	}

	checksums := make(map[models.EntityType][]models.EntityChecksum, len(entityTypes))
	for _, t := range entityTypes {
		list, err := r.checksumsFor(ctx, tenantID, t)
		if err != nil {
			return nil, err
		}
		checksums[t] = list
	}

	resp := &models.DataStatusResponse{
		TenantID:        tenantID,
		EntityChecksums: checksums,
		ServerTime:      time.Now().UTC(),
	}
	if r.metrics != nil {
		if m, err := r.metrics.LatestCompleted(ctx, tenantID); err == nil && m.CompletedAt != nil {
			resp.LastSyncTime = m.CompletedAt
		}
	}
	return resp, nil
}

func (r *ChecksumReconciler) checksumsFor(ctx context.Context, tenantID string, t models.EntityType) ([]models.EntityChecksum, error) {
	records, err := r.entities.List(ctx, tenantID, t)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", t, err)
	}
	list := make([]models.EntityChecksum, 0, len(records))
	for _, rec := range records {
		sum, err := models.ComputeChecksum(rec.Data)
		if err != nil {
			r.logger.Warn("checksum failed, skipping record",
				"tenant_id", tenantID, "entity_type", t, "entity_id", rec.ID, "error", err)
			continue
		}
		list = append(list, models.EntityChecksum{
			EntityID:     rec.ID,
			Checksum:     sum,
			LastModified: epochSeconds(rec.UpdatedAt),
		})
	}
	return list, nil
}

// DetectConflicts three-way diffs the client's checksums against current
// server state. Only the entity types the client reported are compared, so a
// client reconciling a subset does not see everything else as server-only.
// Detection is read-only; RecordConflicts persists the outcome.
func (r *ChecksumReconciler) DetectConflicts(ctx context.Context, tenantID string, client map[models.EntityType][]models.EntityChecksum) (*models.ChecksumDiff, error) {
	diff := &models.ChecksumDiff{
		Conflicts:  []models.ChecksumConflict{},
		LocalOnly:  []models.EntityRef{},
		ServerOnly: []models.EntityRef{},
	}

	// Normalize reported type names before comparing, clients are not
	// consistent about casing.
	normalized := make(map[models.EntityType][]models.EntityChecksum, len(client))
	for t, list := range client {
		norm, ok := models.ParseEntityType(string(t))
		if !ok {
			return nil, fmt.Errorf("%w: unknown entity type %q", ErrInvalidPayload, t)
		}
		normalized[norm] = append(normalized[norm], list...)
	}
	types := make([]models.EntityType, 0, len(normalized))
	for t := range normalized {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })

	for _, t := range types {
		server, err := r.checksumsFor(ctx, tenantID, t)
		if err != nil {
			return nil, err
		}
		serverByID := make(map[string]models.EntityChecksum, len(server))
		for _, ec := range server {
			serverByID[ec.EntityID] = ec
		}

		clientSeen := make(map[string]bool)
		for _, ec := range normalized[t] {
			clientSeen[ec.EntityID] = true
			stored, ok := serverByID[ec.EntityID]
			if !ok {
				diff.LocalOnly = append(diff.LocalOnly, models.EntityRef{EntityType: t, EntityID: ec.EntityID})
				continue
			}
			if stored.Checksum != ec.Checksum {
				diff.Conflicts = append(diff.Conflicts, models.ChecksumConflict{
					EntityType:     t,
					EntityID:       ec.EntityID,
					ClientChecksum: ec.Checksum,
					ServerChecksum: stored.Checksum,
					ClientModified: ec.LastModified,
					ServerModified: stored.LastModified,
				})
			}
		}
		for _, ec := range server {
			if !clientSeen[ec.EntityID] {
				diff.ServerOnly = append(diff.ServerOnly, models.EntityRef{EntityType: t, EntityID: ec.EntityID})
			}
		}
	}
	return diff, nil
}

// RecordConflicts persists each detected checksum mismatch as a pending
// conflict record and returns how many were written. Local-only and
// server-only entries are missing data, not conflicts, and are not recorded.
func (r *ChecksumReconciler) RecordConflicts(ctx context.Context, tenantID string, diff *models.ChecksumDiff) (int, error) {
	recorded := 0
	for _, c := range diff.Conflicts {
		rec := &models.SyncConflictRecord{
			TenantID:         tenantID,
			EntityType:       c.EntityType,
			EntityID:         c.EntityID,
			ClientChecksum:   c.ClientChecksum,
			ServerChecksum:   c.ServerChecksum,
			ClientModified:   epochTime(c.ClientModified),
			ServerModified:   epochTime(c.ServerModified),
			ConflictType:     models.ConflictUpdate,
			ResolutionStatus: models.ResolutionPending,
		}
		if err := r.conflicts.Record(ctx, tenantID, rec); err != nil {
			return recorded, fmt.Errorf("failed to record conflict for %s %s: %w", c.EntityType, c.EntityID, err)
		}
		recorded++
	}
	return recorded, nil
}

// ListPendingConflicts returns the open conflict records for operator review.
func (r *ChecksumReconciler) ListPendingConflicts(ctx context.Context, tenantID string) ([]models.SyncConflictRecord, error) {
	return r.conflicts.ListPending(ctx, tenantID)
}

// ResolveConflict closes a pending conflict with the operator's strategy:
// local, server or manual.
func (r *ChecksumReconciler) ResolveConflict(ctx context.Context, tenantID string, id uuid.UUID, strategy, resolvedBy string) error {
	status, ok := models.ResolutionFromStrategy(strategy)
	if !ok {
		return fmt.Errorf("%w: unknown resolution strategy %q", ErrInvalidPayload, strategy)
	}
	if err := r.conflicts.Resolve(ctx, tenantID, id, status, resolvedBy); err != nil {
		return err
	}
	r.logger.Info("conflict resolved",
		"tenant_id", tenantID, "conflict_id", id, "strategy", strategy, "resolved_by", resolvedBy)
	return nil
}

// Checkpoint snapshots per-type counts and aggregate checksums under the next
// sync version.
func (r *ChecksumReconciler) Checkpoint(ctx context.Context, tenantID string) (*models.SyncCheckpoint, error) {
	counts, sums, err := r.snapshot(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	cp := &models.SyncCheckpoint{
		TenantID:      tenantID,
		EntityCounts:  counts,
		DataChecksums: sums,
		IsValid:       true,
	}
	if err := r.checkpoints.Save(ctx, tenantID, cp); err != nil {
		return nil, err
	}
	r.logger.Info("checkpoint created", "tenant_id", tenantID, "sync_version", cp.SyncVersion)
	return cp, nil
}

// VerifyCheckpoint recomputes the snapshot and compares it against the latest
// checkpoint. A stale checkpoint is marked invalid and kept for diagnosis.
func (r *ChecksumReconciler) VerifyCheckpoint(ctx context.Context, tenantID string) (*models.SyncCheckpoint, bool, error) {
	cp, err := r.checkpoints.Latest(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}

	counts, sums, err := r.snapshot(ctx, tenantID)
	if err != nil {
		return nil, false, err
	}

	valid := cp.IsValid && len(counts) == len(cp.EntityCounts)
	if valid {
		for t, n := range counts {
			if cp.EntityCounts[t] != n || cp.DataChecksums[t] != sums[t] {
				valid = false
				break
			}
		}
	}

	if !valid && cp.IsValid {
		if err := r.checkpoints.Invalidate(ctx, tenantID, cp.ID); err != nil {
			return nil, false, err
		}
		cp.IsValid = false
		r.logger.Info("checkpoint invalidated", "tenant_id", tenantID, "sync_version", cp.SyncVersion)
	}
	return cp, valid, nil
}

func (r *ChecksumReconciler) snapshot(ctx context.Context, tenantID string) (map[models.EntityType]int, map[models.EntityType]string, error) {
	counts := make(map[models.EntityType]int, len(models.AllEntityTypes))
	sums := make(map[models.EntityType]string, len(models.AllEntityTypes))
	for _, t := range models.AllEntityTypes {
		list, err := r.checksumsFor(ctx, tenantID, t)
		if err != nil {
			return nil, nil, err
		}
		counts[t] = len(list)
		sums[t] = models.AggregateChecksum(list)
	}
	return counts, sums, nil
}

// ChangesSince returns records modified strictly after the given time,
// grouped by entity type in stage order.
func (r *ChecksumReconciler) ChangesSince(ctx context.Context, tenantID string, since time.Time, entityTypes []models.EntityType) (map[models.EntityType][]json.RawMessage, error) {
	if len(entityTypes) == 0 {
		entityTypes = models.AllEntityTypes
	}
	changes := make(map[models.EntityType][]json.RawMessage, len(entityTypes))
	for _, t := range entityTypes {
		records, err := r.entities.ListModifiedSince(ctx, tenantID, t, since)
		if err != nil {
			return nil, fmt.Errorf("failed to list %s changes: %w", t, err)
		}
		rows := make([]json.RawMessage, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.Data)
		}
		changes[t] = rows
	}
	return changes, nil
}

// InitialData assembles the full dataset pushed to a freshly connected
// websocket session.
func (r *ChecksumReconciler) InitialData(ctx context.Context, tenantID string) (models.InitialDataPayload, error) {
	var payload models.InitialDataPayload
	for _, t := range models.AllEntityTypes {
		records, err := r.entities.List(ctx, tenantID, t)
		if err != nil {
			return payload, fmt.Errorf("failed to load %s records: %w", t, err)
		}
		rows := make([]json.RawMessage, 0, len(records))
		for _, rec := range records {
			rows = append(rows, rec.Data)
		}
		payload.Set(t, rows)
	}
	return payload, nil
}

func epochSeconds(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.Unix()
}

func epochTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
