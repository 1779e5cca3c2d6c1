package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

// EntryProcessor applies one change entry. Satisfied by SyncEntryProcessor.
type EntryProcessor interface {
	Apply(ctx context.Context, entry *models.SyncChangeEntry, excludeSessionID string) (*models.SyncResult, error)
}

// FailureHandler takes over entries that failed with a retryable error.
// Satisfied by RetryQueueManager.
type FailureHandler interface {
	HandleFailure(ctx context.Context, tenantID string, entry models.SyncChangeEntry, cause error)
}

// StagedSyncCoordinator applies a batch of change entries in dependency
// stages: master data first, then transactional data, then unknown kinds.
// A stage finishes completely before the next begins so a transaction never
// lands before the account it references. Entries are isolated from each
// other; one failure never aborts the batch.
type StagedSyncCoordinator struct {
	processor EntryProcessor
	failures  FailureHandler
	metrics   repositories.MetricsRepository
	logger    *slog.Logger
}

func NewStagedSyncCoordinator(
	processor EntryProcessor,
	failures FailureHandler,
	metrics repositories.MetricsRepository,
	logger *slog.Logger,
) *StagedSyncCoordinator {
	return &StagedSyncCoordinator{
		processor: processor,
		failures:  failures,
		metrics:   metrics,
		logger:    logger,
	}
}

// ApplyBatch processes all entries for one tenant and reports per-entry
// outcomes. tenantID comes from the authenticated caller and is authoritative:
// entries carrying a different tenant id fail permanently, empty ones are
// filled in. excludeSessionID is forwarded to broadcasts.
func (c *StagedSyncCoordinator) ApplyBatch(ctx context.Context, tenantID string, entries []models.SyncChangeEntry, excludeSessionID string) *models.BatchResult {
	started := time.Now()
	batch := &models.BatchResult{
		SuccessIDs: []string{},
		FailedIDs:  []string{},
		Results:    make([]models.SyncResult, 0, len(entries)),
	}

	metricsRec := &models.SyncMetricsRecord{TenantID: tenantID}
	metricsOn := c.metrics != nil
	if metricsOn {
		if err := c.metrics.Start(ctx, tenantID, metricsRec); err != nil {
			c.logger.Warn("metrics start failed", "tenant_id", tenantID, "error", err)
			metricsOn = false
		}
	}

	// Partition preserving order within each stage.
	var stages [3][]*models.SyncChangeEntry
	for i := range entries {
		e := &entries[i]
		if t, ok := models.ParseEntityType(string(e.EntityType)); ok {
			e.EntityType = t
		}
		idx := e.EntityType.Stage() - 1
		stages[idx] = append(stages[idx], e)
	}

	for _, stage := range stages {
		for _, entry := range stage {
			result := c.applyEntry(ctx, tenantID, entry, excludeSessionID)
			batch.Results = append(batch.Results, *result)
			if result.Succeeded() {
				batch.SuccessIDs = append(batch.SuccessIDs, result.EntryID)
				metricsRec.Successful++
				if result.Status == models.ResultSkipped {
					metricsRec.Conflicts++
				}
			} else {
				batch.FailedIDs = append(batch.FailedIDs, result.EntryID)
				metricsRec.Failed++
			}
			metricsRec.Processed++
		}
	}

	if metricsOn {
		metricsRec.Details, _ = json.Marshal(map[string]any{
			"durationMs": time.Since(started).Milliseconds(),
		})
		if err := c.metrics.Complete(ctx, tenantID, metricsRec); err != nil {
			c.logger.Warn("metrics complete failed", "tenant_id", tenantID, "error", err)
		}
	}

	c.logger.Info("sync batch processed",
		"tenant_id", tenantID,
		"entries", len(entries),
		"successful", metricsRec.Successful,
		"failed", metricsRec.Failed,
		"conflicts", metricsRec.Conflicts,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return batch
}

func (c *StagedSyncCoordinator) applyEntry(ctx context.Context, tenantID string, entry *models.SyncChangeEntry, excludeSessionID string) *models.SyncResult {
	switch {
	case entry.TenantID == "":
		entry.TenantID = tenantID
	case entry.TenantID != tenantID:
		return &models.SyncResult{
			EntryID:    entry.ID,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Operation:  entry.Operation,
			Status:     models.ResultFailed,
			Error:      fmt.Sprintf("entry tenant %q does not match authenticated tenant", entry.TenantID),
		}
	}

	// A cancelled batch fails the remaining entries without attempting them.
	// The failures are retryable, so they reach the retry queue.
	if err := ctx.Err(); err != nil {
		result := &models.SyncResult{
			EntryID:    entry.ID,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Operation:  entry.Operation,
			Status:     models.ResultFailed,
			Error:      err.Error(),
			Retryable:  true,
		}
		if c.failures != nil {
			c.failures.HandleFailure(context.WithoutCancel(ctx), tenantID, *entry, err)
		}
		return result
	}

	result, err := c.processor.Apply(ctx, entry, excludeSessionID)
	if err != nil && c.failures != nil {
		c.failures.HandleFailure(ctx, tenantID, *entry, err)
	}
	return result
}
