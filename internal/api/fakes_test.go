package api

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

type batchCall struct {
	tenantID  string
	entries   []models.SyncChangeEntry
	excludeID string
}

// fakeBatchApplier records calls and answers with a scripted result, or a
// synthesized all-applied result when none is set.
type fakeBatchApplier struct {
	mu     sync.Mutex
	calls  []batchCall
	result *models.BatchResult
}

func (f *fakeBatchApplier) ApplyBatch(_ context.Context, tenantID string, entries []models.SyncChangeEntry, excludeSessionID string) *models.BatchResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, batchCall{tenantID: tenantID, entries: entries, excludeID: excludeSessionID})

	if f.result != nil {
		return f.result
	}
	result := &models.BatchResult{SuccessIDs: []string{}, FailedIDs: []string{}}
	for _, entry := range entries {
		result.SuccessIDs = append(result.SuccessIDs, entry.ID)
		result.Results = append(result.Results, models.SyncResult{
			EntryID:    entry.ID,
			EntityType: entry.EntityType,
			EntityID:   entry.EntityID,
			Status:     models.ResultApplied,
			Operation:  entry.Operation,
			Data:       entry.Payload,
		})
	}
	return result
}

func (f *fakeBatchApplier) lastCall() batchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeBatchApplier) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type resolveCall struct {
	tenantID   string
	conflictID uuid.UUID
	strategy   string
	resolvedBy string
}

// fakeReconciler scripts every reconciler operation and captures the
// arguments handlers pass through.
type fakeReconciler struct {
	mu sync.Mutex

	statusResp  *models.DataStatusResponse
	statusTypes []models.EntityType
	statusErr   error

	detectDiff   *models.ChecksumDiff
	detectClient map[models.EntityType][]models.EntityChecksum
	detectErr    error

	recorded     int
	recordedDiff *models.ChecksumDiff

	pending    []models.SyncConflictRecord
	resolveErr error
	resolved   []resolveCall

	checkpoint    *models.SyncCheckpoint
	checkpointErr error
	verifyValid   bool
	verifyErr     error

	changes      map[models.EntityType][]json.RawMessage
	changesSince time.Time
	changesTypes []models.EntityType

	initial    models.InitialDataPayload
	initialErr error
}

func (f *fakeReconciler) Status(_ context.Context, tenantID string, entityTypes []models.EntityType) (*models.DataStatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statusTypes = entityTypes
	if f.statusErr != nil {
		return nil, f.statusErr
	}
	if f.statusResp != nil {
		return f.statusResp, nil
	}
	return &models.DataStatusResponse{
		TenantID:        tenantID,
		EntityChecksums: map[models.EntityType][]models.EntityChecksum{},
		ServerTime:      time.Now().UTC(),
	}, nil
}

func (f *fakeReconciler) DetectConflicts(_ context.Context, _ string, client map[models.EntityType][]models.EntityChecksum) (*models.ChecksumDiff, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detectClient = client
	if f.detectErr != nil {
		return nil, f.detectErr
	}
	if f.detectDiff != nil {
		return f.detectDiff, nil
	}
	return &models.ChecksumDiff{
		Conflicts:  []models.ChecksumConflict{},
		LocalOnly:  []models.EntityRef{},
		ServerOnly: []models.EntityRef{},
	}, nil
}

func (f *fakeReconciler) RecordConflicts(_ context.Context, _ string, diff *models.ChecksumDiff) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recordedDiff = diff
	return f.recorded, nil
}

func (f *fakeReconciler) ListPendingConflicts(_ context.Context, _ string) ([]models.SyncConflictRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, nil
}

func (f *fakeReconciler) ResolveConflict(_ context.Context, tenantID string, conflictID uuid.UUID, strategy, resolvedBy string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resolveErr != nil {
		return f.resolveErr
	}
	f.resolved = append(f.resolved, resolveCall{
		tenantID:   tenantID,
		conflictID: conflictID,
		strategy:   strategy,
		resolvedBy: resolvedBy,
	})
	return nil
}

func (f *fakeReconciler) Checkpoint(_ context.Context, tenantID string) (*models.SyncCheckpoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.checkpointErr != nil {
		return nil, f.checkpointErr
	}
	if f.checkpoint != nil {
		return f.checkpoint, nil
	}
	return &models.SyncCheckpoint{ID: uuid.New(), TenantID: tenantID, SyncVersion: 1, IsValid: true}, nil
}

func (f *fakeReconciler) VerifyCheckpoint(_ context.Context, _ string) (*models.SyncCheckpoint, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, false, f.verifyErr
	}
	return f.checkpoint, f.verifyValid, nil
}

func (f *fakeReconciler) ChangesSince(_ context.Context, _ string, since time.Time, entityTypes []models.EntityType) (map[models.EntityType][]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changesSince = since
	f.changesTypes = entityTypes
	if f.changes != nil {
		return f.changes, nil
	}
	return map[models.EntityType][]json.RawMessage{}, nil
}

func (f *fakeReconciler) InitialData(_ context.Context, _ string) (models.InitialDataPayload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.initial, f.initialErr
}

type enqueueCall struct {
	tenantID string
	entry    models.SyncChangeEntry
}

type fakeRetryQueue struct {
	mu         sync.Mutex
	enqueued   []enqueueCall
	enqueueErr error
	drained    []string
	pending    int
	failed     int
}

func (f *fakeRetryQueue) Enqueue(_ context.Context, tenantID string, entry models.SyncChangeEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return f.enqueueErr
	}
	f.enqueued = append(f.enqueued, enqueueCall{tenantID: tenantID, entry: entry})
	return nil
}

func (f *fakeRetryQueue) Depth(_ context.Context, _ string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pending, f.failed, nil
}

func (f *fakeRetryQueue) Drain(_ context.Context, tenantID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drained = append(f.drained, tenantID)
}

func (f *fakeRetryQueue) Attempts() int64 { return 0 }

type fakeStore struct {
	err     error
	tenants []string
}

func (f *fakeStore) Ping(context.Context) error { return f.err }

func (f *fakeStore) ListTenants(context.Context) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tenants, nil
}

type fakeMaintStore struct {
	mu      sync.Mutex
	enabled bool
	message string
	setErr  error
}

var _ repositories.MaintenanceStore = (*fakeMaintStore)(nil)

func (f *fakeMaintStore) SetMaintenance(_ context.Context, enabled bool, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.enabled = enabled
	f.message = message
	return nil
}

func (f *fakeMaintStore) GetMaintenance(context.Context) (bool, string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.enabled, f.message, nil
}
