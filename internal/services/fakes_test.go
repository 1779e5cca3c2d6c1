package services

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

// memEntityRepo is an in-memory EntityRepository so the processing pipeline
// can be exercised without Postgres. Error fields, when set, are returned by
// the corresponding method to simulate store failures.
type memEntityRepo struct {
	mu         sync.Mutex
	records    map[string]repositories.StoredRecord
	tombstones map[string]models.Tombstone

	failGet    error
	failCreate error
	failUpdate error
	failDelete error
}

func newMemEntityRepo() *memEntityRepo {
	return &memEntityRepo{
		records:    make(map[string]repositories.StoredRecord),
		tombstones: make(map[string]models.Tombstone),
	}
}

func memKey(tenantID string, t models.EntityType, id string) string {
	return tenantID + "/" + string(t) + "/" + id
}

func (r *memEntityRepo) Get(_ context.Context, tenantID string, t models.EntityType, id string) (*repositories.StoredRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failGet != nil {
		return nil, r.failGet
	}
	rec, ok := r.records[memKey(tenantID, t, id)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (r *memEntityRepo) Create(_ context.Context, tenantID string, t models.EntityType, rec *repositories.StoredRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failCreate != nil {
		return r.failCreate
	}
	r.records[memKey(tenantID, t, rec.ID)] = *rec
	delete(r.tombstones, memKey(tenantID, t, rec.ID))
	return nil
}

func (r *memEntityRepo) Update(_ context.Context, tenantID string, t models.EntityType, rec *repositories.StoredRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failUpdate != nil {
		return r.failUpdate
	}
	r.records[memKey(tenantID, t, rec.ID)] = *rec
	delete(r.tombstones, memKey(tenantID, t, rec.ID))
	return nil
}

func (r *memEntityRepo) Delete(_ context.Context, tenantID string, t models.EntityType, id string, deletedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failDelete != nil {
		return false, r.failDelete
	}
	key := memKey(tenantID, t, id)
	_, existed := r.records[key]
	delete(r.records, key)
	if tomb, ok := r.tombstones[key]; !ok || deletedAt.After(tomb.DeletedAt) {
		r.tombstones[key] = models.Tombstone{EntityType: t, EntityID: id, DeletedAt: deletedAt}
	}
	return existed, nil
}

func (r *memEntityRepo) List(_ context.Context, tenantID string, t models.EntityType) ([]repositories.StoredRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prefix := tenantID + "/" + string(t) + "/"
	var out []repositories.StoredRecord
	for key, rec := range r.records {
		if len(key) > len(prefix) && key[:len(prefix)] == prefix {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memEntityRepo) ListModifiedSince(ctx context.Context, tenantID string, t models.EntityType, since time.Time) ([]repositories.StoredRecord, error) {
	all, err := r.List(ctx, tenantID, t)
	if err != nil {
		return nil, err
	}
	var out []repositories.StoredRecord
	for _, rec := range all {
		if rec.UpdatedAt.After(since) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	return out, nil
}

func (r *memEntityRepo) Count(ctx context.Context, tenantID string, t models.EntityType) (int, error) {
	all, err := r.List(ctx, tenantID, t)
	if err != nil {
		return 0, err
	}
	return len(all), nil
}

func (r *memEntityRepo) GetTombstone(_ context.Context, tenantID string, t models.EntityType, id string) (*models.Tombstone, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tomb, ok := r.tombstones[memKey(tenantID, t, id)]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := tomb
	return &out, nil
}

// memSyncLog records audit rows keyed by entry id, like the real upsert.
type memSyncLog struct {
	mu   sync.Mutex
	rows map[string]models.SyncLogRecord
}

func newMemSyncLog() *memSyncLog {
	return &memSyncLog{rows: make(map[string]models.SyncLogRecord)}
}

func (l *memSyncLog) Record(_ context.Context, tenantID string, rec *models.SyncLogRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	stored := *rec
	stored.TenantID = tenantID
	if existing, ok := l.rows[rec.EntryID]; ok {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else {
		stored.ID = uuid.New()
		stored.CreatedAt = time.Now().UTC()
	}
	now := time.Now().UTC()
	stored.ProcessedAt = &now
	l.rows[rec.EntryID] = stored
	return nil
}

func (l *memSyncLog) GetByEntryID(_ context.Context, _ string, entryID string) (*models.SyncLogRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.rows[entryID]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (l *memSyncLog) ListRecent(_ context.Context, _ string, limit int) ([]models.SyncLogRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]models.SyncLogRecord, 0, len(l.rows))
	for _, rec := range l.rows {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// memConflictRepo mirrors the partial-unique upsert of the Postgres
// implementation: one pending conflict per entity.
type memConflictRepo struct {
	mu   sync.Mutex
	rows map[uuid.UUID]models.SyncConflictRecord
}

func newMemConflictRepo() *memConflictRepo {
	return &memConflictRepo{rows: make(map[uuid.UUID]models.SyncConflictRecord)}
}

func (r *memConflictRepo) Record(_ context.Context, tenantID string, rec *models.SyncConflictRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, existing := range r.rows {
		if existing.ResolutionStatus == models.ResolutionPending &&
			existing.EntityType == rec.EntityType && existing.EntityID == rec.EntityID {
			existing.ClientChecksum = rec.ClientChecksum
			existing.ServerChecksum = rec.ServerChecksum
			existing.DetectedAt = time.Now().UTC()
			r.rows[id] = existing
			rec.ID = id
			return nil
		}
	}
	stored := *rec
	stored.ID = uuid.New()
	stored.TenantID = tenantID
	stored.DetectedAt = time.Now().UTC()
	r.rows[stored.ID] = stored
	rec.ID = stored.ID
	return nil
}

func (r *memConflictRepo) Get(_ context.Context, _ string, id uuid.UUID) (*models.SyncConflictRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	out := rec
	return &out, nil
}

func (r *memConflictRepo) ListPending(_ context.Context, _ string) ([]models.SyncConflictRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.SyncConflictRecord
	for _, rec := range r.rows {
		if rec.ResolutionStatus == models.ResolutionPending {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntityID < out[j].EntityID })
	return out, nil
}

func (r *memConflictRepo) Resolve(_ context.Context, _ string, id uuid.UUID, status models.ResolutionStatus, resolvedBy string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.rows[id]
	if !ok || rec.ResolutionStatus != models.ResolutionPending {
		return repositories.ErrNotFound
	}
	now := time.Now().UTC()
	rec.ResolutionStatus = status
	rec.ResolvedAt = &now
	rec.ResolvedBy = resolvedBy
	r.rows[id] = rec
	return nil
}

// memMetricsRepo captures batch metrics rows.
type memMetricsRepo struct {
	mu   sync.Mutex
	rows []models.SyncMetricsRecord
}

func newMemMetricsRepo() *memMetricsRepo { return &memMetricsRepo{} }

func (r *memMetricsRepo) Start(_ context.Context, tenantID string, rec *models.SyncMetricsRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec.ID = uuid.New()
	rec.TenantID = tenantID
	rec.StartedAt = time.Now().UTC()
	r.rows = append(r.rows, *rec)
	return nil
}

func (r *memMetricsRepo) Complete(_ context.Context, _ string, rec *models.SyncMetricsRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == rec.ID {
			if r.rows[i].CompletedAt != nil {
				return repositories.ErrAlreadyCompleted
			}
			now := time.Now().UTC()
			updated := *rec
			updated.StartedAt = r.rows[i].StartedAt
			updated.CompletedAt = &now
			r.rows[i] = updated
			return nil
		}
	}
	return repositories.ErrNotFound
}

func (r *memMetricsRepo) LatestCompleted(_ context.Context, _ string) (*models.SyncMetricsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := len(r.rows) - 1; i >= 0; i-- {
		if r.rows[i].CompletedAt != nil {
			out := r.rows[i]
			return &out, nil
		}
	}
	return nil, repositories.ErrNotFound
}

// memCheckpointRepo assigns monotonically increasing sync versions.
type memCheckpointRepo struct {
	mu   sync.Mutex
	rows []models.SyncCheckpoint
}

func newMemCheckpointRepo() *memCheckpointRepo { return &memCheckpointRepo{} }

func (r *memCheckpointRepo) Save(_ context.Context, tenantID string, cp *models.SyncCheckpoint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp.ID = uuid.New()
	cp.TenantID = tenantID
	cp.SyncVersion = int64(len(r.rows) + 1)
	cp.IsValid = true
	cp.CreatedAt = time.Now().UTC()
	r.rows = append(r.rows, *cp)
	return nil
}

func (r *memCheckpointRepo) Latest(_ context.Context, _ string) (*models.SyncCheckpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.rows) == 0 {
		return nil, repositories.ErrNotFound
	}
	out := r.rows[len(r.rows)-1]
	return &out, nil
}

func (r *memCheckpointRepo) Invalidate(_ context.Context, _ string, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rows {
		if r.rows[i].ID == id {
			r.rows[i].IsValid = false
			return nil
		}
	}
	return repositories.ErrNotFound
}

// captureBroadcaster records every broadcast instead of delivering it.
type captureBroadcaster struct {
	mu    sync.Mutex
	calls []broadcastCall
	err   error
}

type broadcastCall struct {
	tenantID  string
	msg       any
	excludeID string
}

func (b *captureBroadcaster) Broadcast(_ context.Context, tenantID string, msg any, excludeSessionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls = append(b.calls, broadcastCall{tenantID: tenantID, msg: msg, excludeID: excludeSessionID})
	return b.err
}

func (b *captureBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

func (b *captureBroadcaster) last() (broadcastCall, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.calls) == 0 {
		return broadcastCall{}, false
	}
	return b.calls[len(b.calls)-1], true
}

// scriptedProcessor is an EntryProcessor whose outcome per entry id is
// scripted. It records the order entries were attempted in.
type scriptedProcessor struct {
	mu       sync.Mutex
	applied  []string
	failWith map[string]error
}

func newScriptedProcessor() *scriptedProcessor {
	return &scriptedProcessor{failWith: make(map[string]error)}
}

func (p *scriptedProcessor) Apply(_ context.Context, entry *models.SyncChangeEntry, _ string) (*models.SyncResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.applied = append(p.applied, entry.ID)
	result := &models.SyncResult{
		EntryID:    entry.ID,
		EntityType: entry.EntityType,
		EntityID:   entry.EntityID,
		Operation:  entry.Operation,
	}
	if err, ok := p.failWith[entry.ID]; ok {
		result.Status = models.ResultFailed
		result.Error = err.Error()
		result.Retryable = Retryable(entry.Operation, err)
		return result, err
	}
	result.Status = models.ResultApplied
	return result, nil
}

func (p *scriptedProcessor) attempts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.applied))
	copy(out, p.applied)
	return out
}

// captureFailures records HandleFailure calls.
type captureFailures struct {
	mu      sync.Mutex
	entries []string
}

func (f *captureFailures) HandleFailure(_ context.Context, _ string, entry models.SyncChangeEntry, _ error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, entry.ID)
}

func (f *captureFailures) failed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.entries))
	copy(out, f.entries)
	return out
}
