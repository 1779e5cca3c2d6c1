package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

// Broadcaster pushes a message to every websocket session of a tenant,
// optionally excluding the session that caused the change.
type Broadcaster interface {
	Broadcast(ctx context.Context, tenantID string, msg any, excludeSessionID string) error
}

// SyncEntryProcessor applies a single change entry to tenant storage using
// last-write-wins conflict resolution. All writes for the same entity are
// serialized through a per-entity lock so concurrent entries cannot interleave
// between the read and the write.
type SyncEntryProcessor struct {
	entities    repositories.EntityRepository
	syncLog     repositories.SyncLogRepository
	broadcaster Broadcaster
	logger      *slog.Logger
	locks       *keyedMutex
}

func NewSyncEntryProcessor(
	entities repositories.EntityRepository,
	syncLog repositories.SyncLogRepository,
	broadcaster Broadcaster,
	logger *slog.Logger,
) *SyncEntryProcessor {
	return &SyncEntryProcessor{
		entities:    entities,
		syncLog:     syncLog,
		broadcaster: broadcaster,
		logger:      logger,
		locks:       newKeyedMutex(),
	}
}

// Apply processes one change entry and returns its result. The returned error
// is nil for applied, skipped and deleted outcomes; a non-nil error means the
// entry failed and carries the classification sentinels for retry decisions.
// excludeSessionID names the websocket session that submitted the entry so it
// does not receive its own change echoed back.
func (p *SyncEntryProcessor) Apply(ctx context.Context, entry *models.SyncChangeEntry, excludeSessionID string) (*models.SyncResult, error) {
	result := &models.SyncResult{
		EntryID:    entry.ID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Operation:  entry.Operation,
	}

	if err := entry.Normalize(); err != nil {
		return p.fail(ctx, entry, result, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}
	result.EntryID = entry.ID
	result.EntityType = entry.EntityType
	result.EntityID = entry.EntityID
	result.Operation = entry.Operation

	if !entry.EntityType.Known() {
		return p.fail(ctx, entry, result, fmt.Errorf("%w: unknown entity type %q", ErrInvalidPayload, entry.EntityType))
	}

	unlock := p.locks.lock(entry.TenantID + "/" + string(entry.EntityType) + "/" + entry.EntityID)
	defer unlock()

	if entry.Operation == models.OpDelete {
		return p.applyDelete(ctx, entry, result, excludeSessionID)
	}
	return p.applyWrite(ctx, entry, result, excludeSessionID)
}

// applyWrite handles CREATE and UPDATE. The two converge on the same paths: a
// create against an existing record is resolved by last-write-wins like an
// update, and an update against a missing record is upserted.
func (p *SyncEntryProcessor) applyWrite(ctx context.Context, entry *models.SyncChangeEntry, result *models.SyncResult, excludeSessionID string) (*models.SyncResult, error) {
	record, err := models.DecodeEntity(entry.EntityType, entry.Payload)
	if err != nil {
		return p.fail(ctx, entry, result, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}
	if record.EntityID() == "" {
		record.SetID(entry.EntityID)
	}
	if record.EntityID() != entry.EntityID {
		return p.fail(ctx, entry, result, fmt.Errorf("%w: payload id %q does not match entry entity id %q", ErrInvalidPayload, record.EntityID(), entry.EntityID))
	}

	stored, err := p.entities.Get(ctx, entry.TenantID, entry.EntityType, entry.EntityID)
	switch {
	case err == nil:
		return p.updateStored(ctx, entry, record, stored, result, excludeSessionID)
	case errors.Is(err, repositories.ErrNotFound):
		return p.insertAbsent(ctx, entry, record, result, excludeSessionID)
	default:
		return p.fail(ctx, entry, result, err)
	}
}

// insertAbsent writes an entity that has no stored record. A delete tombstone
// still guards the id: only a write strictly newer than the recorded delete
// may resurrect the entity, anything older or equal gets the delete
// acknowledged back instead.
func (p *SyncEntryProcessor) insertAbsent(ctx context.Context, entry *models.SyncChangeEntry, record models.Entity, result *models.SyncResult, excludeSessionID string) (*models.SyncResult, error) {
	incoming := record.EntityUpdatedAt()

	tomb, err := p.entities.GetTombstone(ctx, entry.TenantID, entry.EntityType, entry.EntityID)
	if err == nil {
		if !models.NewerThan(incoming, tomb.DeletedAt) {
			result.Status = models.ResultSkipped
			result.Operation = models.OpDelete
			result.Data = models.DeleteAck(entry.EntityID)
			p.logEntry(ctx, entry, models.SyncStatusConflict, "write rejected by delete tombstone")
			return result, nil
		}
	} else if !errors.Is(err, repositories.ErrNotFound) {
		return p.fail(ctx, entry, result, err)
	}

	now := time.Now().UTC()
	createdAt := record.EntityCreatedAt()
	if createdAt.IsZero() {
		createdAt = now
		record.SetCreatedAt(createdAt)
	}
	p.projectPayee(ctx, entry.TenantID, record)

	data, err := json.Marshal(record)
	if err != nil {
		return p.fail(ctx, entry, result, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}
	stored := &repositories.StoredRecord{
		ID:        entry.EntityID,
		Data:      data,
		CreatedAt: createdAt,
		UpdatedAt: incoming,
	}
	if err := p.entities.Create(ctx, entry.TenantID, entry.EntityType, stored); err != nil {
		return p.fail(ctx, entry, result, err)
	}

	result.Status = models.ResultApplied
	result.Data = data
	p.logEntry(ctx, entry, models.SyncStatusSuccess, "")
	p.broadcast(ctx, entry.TenantID, models.NewDataUpdate(entry.TenantID, entry.EntityType, entry.Operation, data), excludeSessionID)
	return result, nil
}

// updateStored resolves an incoming write against an existing record. The
// incoming entry only wins when its updatedAt is strictly newer than the
// stored one; ties and missing timestamps keep the stored record, and the
// loser is answered with the authoritative state so the client converges.
func (p *SyncEntryProcessor) updateStored(ctx context.Context, entry *models.SyncChangeEntry, record models.Entity, stored *repositories.StoredRecord, result *models.SyncResult, excludeSessionID string) (*models.SyncResult, error) {
	incoming := record.EntityUpdatedAt()

	if !models.NewerThan(incoming, stored.UpdatedAt) {
		result.Status = models.ResultSkipped
		result.Operation = models.OpUpdate
		result.Data = stored.Data
		p.logEntry(ctx, entry, models.SyncStatusConflict, "last-write-wins kept stored record")
		p.broadcast(ctx, entry.TenantID, models.NewDataUpdate(entry.TenantID, entry.EntityType, models.OpUpdate, stored.Data), excludeSessionID)
		return result, nil
	}

	// createdAt is immutable once set
	if !stored.CreatedAt.IsZero() {
		record.SetCreatedAt(stored.CreatedAt)
	}
	p.projectPayee(ctx, entry.TenantID, record)

	data, err := json.Marshal(record)
	if err != nil {
		return p.fail(ctx, entry, result, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}
	update := &repositories.StoredRecord{
		ID:        entry.EntityID,
		Data:      data,
		CreatedAt: stored.CreatedAt,
		UpdatedAt: incoming,
	}
	if err := p.entities.Update(ctx, entry.TenantID, entry.EntityType, update); err != nil {
		return p.fail(ctx, entry, result, err)
	}

	result.Status = models.ResultApplied
	result.Operation = models.OpUpdate
	result.Data = data
	p.logEntry(ctx, entry, models.SyncStatusSuccess, "")
	p.broadcast(ctx, entry.TenantID, models.NewDataUpdate(entry.TenantID, entry.EntityType, models.OpUpdate, data), excludeSessionID)
	return result, nil
}

// applyDelete removes an entity and records a tombstone stamped with the
// entry's own timestamp. Deleting a missing entity succeeds with the same
// acknowledgement, so re-delivered deletes are idempotent.
func (p *SyncEntryProcessor) applyDelete(ctx context.Context, entry *models.SyncChangeEntry, result *models.SyncResult, excludeSessionID string) (*models.SyncResult, error) {
	deletedAt, err := entry.RecordUpdatedAt()
	if err != nil {
		return p.fail(ctx, entry, result, fmt.Errorf("%w: %w", ErrInvalidPayload, err))
	}
	if deletedAt.IsZero() {
		deletedAt = time.Now().UTC()
	}

	existed, err := p.entities.Delete(ctx, entry.TenantID, entry.EntityType, entry.EntityID, deletedAt)
	if err != nil {
		return p.fail(ctx, entry, result, err)
	}

	ack := models.DeleteAck(entry.EntityID)
	result.Status = models.ResultDeleted
	result.Data = ack
	p.logEntry(ctx, entry, models.SyncStatusSuccess, "")
	if existed {
		p.broadcast(ctx, entry.TenantID, models.NewDataUpdate(entry.TenantID, entry.EntityType, models.OpDelete, ack), excludeSessionID)
	}
	return result, nil
}

// projectPayee refreshes the cached payee name on transactions from the
// referenced recipient. The projection is best effort: a missing or unreadable
// recipient clears the field, it never fails the write.
func (p *SyncEntryProcessor) projectPayee(ctx context.Context, tenantID string, record models.Entity) {
	tx, ok := record.(*models.Transaction)
	if !ok {
		return
	}
	tx.Payee = ""
	if tx.RecipientID == nil || *tx.RecipientID == "" {
		return
	}
	stored, err := p.entities.Get(ctx, tenantID, models.EntityRecipient, *tx.RecipientID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			p.logger.Warn("payee lookup failed", "tenant_id", tenantID, "recipient_id", *tx.RecipientID, "error", err)
		}
		return
	}
	var recipient models.Recipient
	if err := json.Unmarshal(stored.Data, &recipient); err != nil {
		p.logger.Warn("payee decode failed", "tenant_id", tenantID, "recipient_id", *tx.RecipientID, "error", err)
		return
	}
	tx.Payee = recipient.Name
}

func (p *SyncEntryProcessor) fail(ctx context.Context, entry *models.SyncChangeEntry, result *models.SyncResult, err error) (*models.SyncResult, error) {
	result.Status = models.ResultFailed
	result.Error = err.Error()
	result.Retryable = Retryable(entry.Operation, err)
	p.logEntry(ctx, entry, models.SyncStatusFailed, err.Error())
	p.logger.Warn("sync entry failed",
		"tenant_id", entry.TenantID,
		"entry_id", entry.ID,
		"entity_type", entry.EntityType,
		"entity_id", entry.EntityID,
		"operation", entry.Operation,
		"retryable", result.Retryable,
		"error", err,
	)
	return result, err
}

// logEntry records the entry outcome in the tenant's sync log. The log is an
// audit trail, a write failure there is reported but never fails the entry.
func (p *SyncEntryProcessor) logEntry(ctx context.Context, entry *models.SyncChangeEntry, status models.SyncStatus, errMsg string) {
	if entry.TenantID == "" {
		return
	}
	rec := &models.SyncLogRecord{
		EntryID:    entry.ID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Operation:  entry.Operation,
		Status:     status,
		Error:      errMsg,
	}
	if err := p.syncLog.Record(ctx, entry.TenantID, rec); err != nil {
		p.logger.Warn("sync log write failed", "tenant_id", entry.TenantID, "entry_id", entry.ID, "error", err)
	}
}

func (p *SyncEntryProcessor) broadcast(ctx context.Context, tenantID string, msg models.DataUpdateMessage, excludeSessionID string) {
	if p.broadcaster == nil {
		return
	}
	if err := p.broadcaster.Broadcast(ctx, tenantID, msg, excludeSessionID); err != nil {
		p.logger.Warn("broadcast failed", "tenant_id", tenantID, "event", msg.EventType, "error", err)
	}
}
