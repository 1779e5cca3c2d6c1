package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

const (
	// MaxRetries caps recorded failures per entry. After the third failure
	// the entry is surfaced as permanently failed instead of rescheduled.
	MaxRetries = 3

	// BackoffBase is the wait after the first failure; each further failure
	// doubles it.
	BackoffBase = time.Minute

	// drainBatchSize bounds how many pending entries one worker pass takes
	// per tenant.
	drainBatchSize = 100
)

// Backoff returns the wait before the next attempt given the number of
// failures recorded so far, before the current one: 60s, 120s, 240s.
func Backoff(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	return BackoffBase << retryCount
}

// RetryQueueManager owns the per-tenant retry state: the pending queue fed by
// deferred batches and the failed-entry table scheduled with exponential
// backoff. A background worker drains both.
type RetryQueueManager struct {
	store     repositories.RetryStore
	processor EntryProcessor
	syncLog   repositories.SyncLogRepository
	logger    *slog.Logger
	interval  time.Duration
	attempts  atomic.Int64
}

func NewRetryQueueManager(
	store repositories.RetryStore,
	processor EntryProcessor,
	syncLog repositories.SyncLogRepository,
	logger *slog.Logger,
	interval time.Duration,
) *RetryQueueManager {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &RetryQueueManager{
		store:     store,
		processor: processor,
		syncLog:   syncLog,
		logger:    logger,
		interval:  interval,
	}
}

// ShouldRetry decides whether an entry that failed with err gets another
// attempt: never past the retry cap, and never for permanent failures.
func (m *RetryQueueManager) ShouldRetry(entry *models.SyncChangeEntry, retryCount int, err error) bool {
	if retryCount >= MaxRetries {
		return false
	}
	return Retryable(entry.Operation, err)
}

// Enqueue adds an entry to the tenant's pending queue for asynchronous
// processing by the worker.
func (m *RetryQueueManager) Enqueue(ctx context.Context, tenantID string, entry models.SyncChangeEntry) error {
	if err := m.store.Enqueue(ctx, tenantID, entry); err != nil {
		return fmt.Errorf("failed to enqueue entry %s: %w", entry.ID, err)
	}
	return nil
}

// HandleFailure records a freshly failed entry for retry, or drops it
// immediately when the error is permanent.
func (m *RetryQueueManager) HandleFailure(ctx context.Context, tenantID string, entry models.SyncChangeEntry, cause error) {
	if !m.ShouldRetry(&entry, 0, cause) {
		m.logger.Info("entry failed permanently, not scheduling retry",
			"tenant_id", tenantID, "entry_id", entry.ID, "error", cause)
		return
	}
	m.markFailed(ctx, tenantID, entry, 0, cause)
}

// markFailed schedules the next attempt. priorFailures is the count before
// this one, so the first failure waits Backoff(0).
func (m *RetryQueueManager) markFailed(ctx context.Context, tenantID string, entry models.SyncChangeEntry, priorFailures int, cause error) {
	now := time.Now().UTC()
	rec := models.RetryRecord{
		Entry:       entry,
		RetryCount:  priorFailures + 1,
		LastAttempt: now,
		NextRetry:   now.Add(Backoff(priorFailures)),
		LastError:   cause.Error(),
	}
	if err := m.store.MarkFailed(ctx, tenantID, rec); err != nil {
		m.logger.Error("failed to record retry state",
			"tenant_id", tenantID, "entry_id", entry.ID, "error", err)
		return
	}
	m.logger.Info("entry scheduled for retry",
		"tenant_id", tenantID,
		"entry_id", entry.ID,
		"retry_count", rec.RetryCount,
		"next_retry", rec.NextRetry,
		"error", cause,
	)
}

// Depth reports queue depths for one tenant.
func (m *RetryQueueManager) Depth(ctx context.Context, tenantID string) (pending int, failed int, err error) {
	return m.store.Depth(ctx, tenantID)
}

// Attempts returns the number of worker-side processing attempts since
// startup, pending and retried entries combined.
func (m *RetryQueueManager) Attempts() int64 {
	return m.attempts.Load()
}

// Start runs the worker until ctx is cancelled.
func (m *RetryQueueManager) Start(ctx context.Context) {
	go m.loop(ctx)
}

func (m *RetryQueueManager) loop(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	m.logger.Info("retry worker started", "interval", m.interval)
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("retry worker stopped")
			return
		case <-ticker.C:
			m.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single worker pass over every tenant with queued work:
// pending entries first, then failed entries whose backoff has elapsed.
func (m *RetryQueueManager) RunOnce(ctx context.Context) {
	tenants, err := m.store.Tenants(ctx)
	if err != nil {
		m.logger.Error("failed to list retry tenants", "error", err)
		return
	}
	for _, tenantID := range tenants {
		if ctx.Err() != nil {
			return
		}
		m.processTenant(ctx, tenantID)
	}
}

// Drain forces an immediate pass for one tenant, or for every tenant when
// tenantID is empty. Used by the admin API ahead of the regular tick.
func (m *RetryQueueManager) Drain(ctx context.Context, tenantID string) {
	if tenantID == "" {
		m.RunOnce(ctx)
		return
	}
	m.processTenant(ctx, tenantID)
}

func (m *RetryQueueManager) processTenant(ctx context.Context, tenantID string) {
	pending, err := m.store.DrainPending(ctx, tenantID, drainBatchSize)
	if err != nil {
		m.logger.Error("failed to drain pending queue", "tenant_id", tenantID, "error", err)
	}
	for i := range pending {
		entry := pending[i]
		m.attempts.Add(1)
		if _, err := m.processor.Apply(ctx, &entry, ""); err != nil {
			m.HandleFailure(ctx, tenantID, entry, err)
		}
	}

	due, err := m.store.Due(ctx, tenantID, time.Now().UTC())
	if err != nil {
		m.logger.Error("failed to list due retries", "tenant_id", tenantID, "error", err)
		return
	}
	for i := range due {
		rec := due[i]
		if rec.RetryCount >= MaxRetries {
			m.exhaust(ctx, tenantID, rec, rec.LastError)
			continue
		}
		entry := rec.Entry
		m.attempts.Add(1)
		if _, err := m.processor.Apply(ctx, &entry, ""); err != nil {
			if m.ShouldRetry(&entry, rec.RetryCount, err) {
				m.markFailed(ctx, tenantID, entry, rec.RetryCount, err)
			} else {
				m.exhaust(ctx, tenantID, rec, err.Error())
			}
			continue
		}
		if err := m.store.Remove(ctx, tenantID, entry.ID); err != nil {
			m.logger.Warn("failed to remove retried entry", "tenant_id", tenantID, "entry_id", entry.ID, "error", err)
		}
	}
}

// exhaust drops an entry from the retry table and marks its audit row as a
// permanent failure.
func (m *RetryQueueManager) exhaust(ctx context.Context, tenantID string, rec models.RetryRecord, lastError string) {
	if err := m.store.Remove(ctx, tenantID, rec.Entry.ID); err != nil {
		m.logger.Warn("failed to remove exhausted entry", "tenant_id", tenantID, "entry_id", rec.Entry.ID, "error", err)
	}
	if m.syncLog != nil {
		logRec := &models.SyncLogRecord{
			EntryID:    rec.Entry.ID,
			EntityType: rec.Entry.EntityType,
			EntityID:   rec.Entry.EntityID,
			Operation:  rec.Entry.Operation,
			Status:     models.SyncStatusFailed,
			Error:      fmt.Sprintf("retries exhausted after %d attempts: %s", rec.RetryCount, lastError),
			RetryCount: rec.RetryCount,
		}
		if err := m.syncLog.Record(ctx, tenantID, logRec); err != nil {
			m.logger.Warn("failed to record exhausted entry", "tenant_id", tenantID, "entry_id", rec.Entry.ID, "error", err)
		}
	}
	m.logger.Warn("entry retries exhausted",
		"tenant_id", tenantID,
		"entry_id", rec.Entry.ID,
		"entity_type", rec.Entry.EntityType,
		"entity_id", rec.Entry.EntityID,
		"retry_count", rec.RetryCount,
		"last_error", lastError,
	)
}
