package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
)

// MemoryRetryStore keeps the retry queues in process memory. Single-node
// deployments and tests use it; anything that must survive a restart uses
// the Redis store instead.
type MemoryRetryStore struct {
	mu      sync.Mutex
	pending map[string][]models.SyncChangeEntry
	failed  map[string]map[string]models.RetryRecord
}

func NewMemoryRetryStore() *MemoryRetryStore {
	return &MemoryRetryStore{
		pending: make(map[string][]models.SyncChangeEntry),
		failed:  make(map[string]map[string]models.RetryRecord),
	}
}

func (s *MemoryRetryStore) Enqueue(_ context.Context, tenantID string, entry models.SyncChangeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[tenantID] = append(s.pending[tenantID], entry)
	return nil
}

func (s *MemoryRetryStore) DrainPending(_ context.Context, tenantID string, max int) ([]models.SyncChangeEntry, error) {
	if max <= 0 {
		max = 100
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[tenantID]
	if len(queue) == 0 {
		return nil, nil
	}
	n := min(max, len(queue))
	drained := make([]models.SyncChangeEntry, n)
	copy(drained, queue[:n])

	rest := queue[n:]
	if len(rest) == 0 {
		delete(s.pending, tenantID)
	} else {
		s.pending[tenantID] = rest
	}
	return drained, nil
}

func (s *MemoryRetryStore) MarkFailed(_ context.Context, tenantID string, rec models.RetryRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed[tenantID] == nil {
		s.failed[tenantID] = make(map[string]models.RetryRecord)
	}
	s.failed[tenantID][rec.Entry.ID] = rec
	return nil
}

func (s *MemoryRetryStore) Due(_ context.Context, tenantID string, now time.Time) ([]models.RetryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []models.RetryRecord
	for _, rec := range s.failed[tenantID] {
		if !rec.NextRetry.After(now) {
			due = append(due, rec)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextRetry.Before(due[j].NextRetry) })
	return due, nil
}

func (s *MemoryRetryStore) Remove(_ context.Context, tenantID string, entryID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m := s.failed[tenantID]; m != nil {
		delete(m, entryID)
		if len(m) == 0 {
			delete(s.failed, tenantID)
		}
	}
	return nil
}

func (s *MemoryRetryStore) Tenants(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for tenant := range s.pending {
		seen[tenant] = struct{}{}
	}
	for tenant := range s.failed {
		seen[tenant] = struct{}{}
	}
	tenants := make([]string, 0, len(seen))
	for tenant := range seen {
		tenants = append(tenants, tenant)
	}
	sort.Strings(tenants)
	return tenants, nil
}

func (s *MemoryRetryStore) Depth(_ context.Context, tenantID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending[tenantID]), len(s.failed[tenantID]), nil
}
