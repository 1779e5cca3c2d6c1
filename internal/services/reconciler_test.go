package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

func newTestReconciler() (*ChecksumReconciler, *memEntityRepo, *memConflictRepo, *memCheckpointRepo, *memMetricsRepo) {
	entities := newMemEntityRepo()
	conflicts := newMemConflictRepo()
	checkpoints := newMemCheckpointRepo()
	metrics := newMemMetricsRepo()
	r := NewChecksumReconciler(entities, conflicts, metrics, checkpoints, testLogger())
	return r, entities, conflicts, checkpoints, metrics
}

func seedRecord(t *testing.T, repo *memEntityRepo, et models.EntityType, id string, fields map[string]any, updatedAt time.Time) {
	t.Helper()
	fields["id"] = id
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), testTenant, et, &repositories.StoredRecord{
		ID:        id,
		Data:      data,
		CreatedAt: updatedAt,
		UpdatedAt: updatedAt,
	}))
}

func checksumOf(t *testing.T, fields map[string]any) string {
	t.Helper()
	data, err := json.Marshal(fields)
	require.NoError(t, err)
	sum, err := models.ComputeChecksum(data)
	require.NoError(t, err)
	return sum
}

// TestStatus_ReportsChecksumsPerType tests the full status response shape
func TestStatus_ReportsChecksumsPerType(t *testing.T) {
	r, entities, _, _, metrics := newTestReconciler()
	ctx := context.Background()
	mod := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	seedRecord(t, entities, models.EntityAccount, "a1", map[string]any{"name": "Checking"}, mod)
	seedRecord(t, entities, models.EntityAccount, "a2", map[string]any{"name": "Savings"}, mod.Add(time.Minute))
	seedRecord(t, entities, models.EntityRecipient, "r1", map[string]any{"name": "Grocer"}, mod)

	// A completed batch supplies lastSyncTime.
	m := &models.SyncMetricsRecord{}
	require.NoError(t, metrics.Start(ctx, testTenant, m))
	require.NoError(t, metrics.Complete(ctx, testTenant, m))

	status, err := r.Status(ctx, testTenant, nil)
	require.NoError(t, err)
	assert.Equal(t, testTenant, status.TenantID)
	assert.Len(t, status.EntityChecksums, len(models.AllEntityTypes), "every known type appears, empty or not")
	assert.Len(t, status.EntityChecksums[models.EntityAccount], 2)
	assert.Len(t, status.EntityChecksums[models.EntityTransaction], 0)
	assert.NotNil(t, status.LastSyncTime)
	assert.False(t, status.ServerTime.IsZero())

	var a1 *models.EntityChecksum
	for i := range status.EntityChecksums[models.EntityAccount] {
		if status.EntityChecksums[models.EntityAccount][i].EntityID == "a1" {
			a1 = &status.EntityChecksums[models.EntityAccount][i]
		}
	}
	require.NotNil(t, a1)
	assert.Equal(t, mod.Unix(), a1.LastModified, "lastModified is epoch seconds of updatedAt")
	assert.Len(t, a1.Checksum, 64, "sha-256 hex")

	// Filtered request only computes the named types.
	filtered, err := r.Status(ctx, testTenant, []models.EntityType{models.EntityRecipient})
	require.NoError(t, err)
	assert.Len(t, filtered.EntityChecksums, 1)
}

// TestDetectConflicts_ThreeWayDiff tests the canonical case: one mismatched
// record, one record only the server knows
func TestDetectConflicts_ThreeWayDiff(t *testing.T) {
	r, entities, _, _, _ := newTestReconciler()
	ctx := context.Background()
	mod := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	serverA1 := map[string]any{"name": "Checking v2"}
	seedRecord(t, entities, models.EntityAccount, "a1", serverA1, mod)
	seedRecord(t, entities, models.EntityAccount, "a2", map[string]any{"name": "Savings"}, mod)

	clientA1 := checksumOf(t, map[string]any{"id": "a1", "name": "Checking v1"})
	diff, err := r.DetectConflicts(ctx, testTenant, map[models.EntityType][]models.EntityChecksum{
		models.EntityAccount: {
			{EntityID: "a1", Checksum: clientA1, LastModified: mod.Add(-time.Minute).Unix()},
		},
	})
	require.NoError(t, err)

	require.Len(t, diff.Conflicts, 1)
	c := diff.Conflicts[0]
	assert.Equal(t, models.EntityAccount, c.EntityType)
	assert.Equal(t, "a1", c.EntityID)
	assert.Equal(t, clientA1, c.ClientChecksum)
	assert.NotEqual(t, c.ClientChecksum, c.ServerChecksum)
	assert.Equal(t, mod.Unix(), c.ServerModified)

	require.Len(t, diff.ServerOnly, 1)
	assert.Equal(t, "a2", diff.ServerOnly[0].EntityID)
	assert.Empty(t, diff.LocalOnly)
}

// TestDetectConflicts_MatchingChecksumsAreQuiet tests that identical state
// produces an empty diff
func TestDetectConflicts_MatchingChecksumsAreQuiet(t *testing.T) {
	r, entities, _, _, _ := newTestReconciler()
	ctx := context.Background()
	fields := map[string]any{"name": "Checking"}
	seedRecord(t, entities, models.EntityAccount, "a1", fields, time.Now().UTC())

	sum := checksumOf(t, map[string]any{"id": "a1", "name": "Checking"})
	diff, err := r.DetectConflicts(ctx, testTenant, map[models.EntityType][]models.EntityChecksum{
		models.EntityAccount: {{EntityID: "a1", Checksum: sum}},
	})
	require.NoError(t, err)
	assert.Empty(t, diff.Conflicts)
	assert.Empty(t, diff.LocalOnly)
	assert.Empty(t, diff.ServerOnly)
}

// TestDetectConflicts_NormalizesTypeNames tests that the casing of reported
// type names does not affect the comparison
func TestDetectConflicts_NormalizesTypeNames(t *testing.T) {
	r, entities, _, _, _ := newTestReconciler()
	seedRecord(t, entities, models.EntityAccount, "a1", map[string]any{"name": "Checking"}, time.Now().UTC())

	sum := checksumOf(t, map[string]any{"id": "a1", "name": "Checking"})
	diff, err := r.DetectConflicts(context.Background(), testTenant, map[models.EntityType][]models.EntityChecksum{
		"account": {{EntityID: "a1", Checksum: sum}},
	})
	require.NoError(t, err)
	assert.Empty(t, diff.Conflicts)
	assert.Empty(t, diff.LocalOnly)
	assert.Empty(t, diff.ServerOnly)
}

// TestDetectConflicts_RejectsUnknownType tests that a made-up type name fails
// validation instead of reaching the store
func TestDetectConflicts_RejectsUnknownType(t *testing.T) {
	r, _, _, _, _ := newTestReconciler()

	_, err := r.DetectConflicts(context.Background(), testTenant, map[models.EntityType][]models.EntityChecksum{
		"Widget": {{EntityID: "w1", Checksum: "abc"}},
	})
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

// TestDetectConflicts_LocalOnly tests records the server never saw
func TestDetectConflicts_LocalOnly(t *testing.T) {
	r, _, _, _, _ := newTestReconciler()

	diff, err := r.DetectConflicts(context.Background(), testTenant, map[models.EntityType][]models.EntityChecksum{
		models.EntityTag: {{EntityID: "tag-9", Checksum: "abc"}},
	})
	require.NoError(t, err)
	require.Len(t, diff.LocalOnly, 1)
	assert.Equal(t, models.EntityTag, diff.LocalOnly[0].EntityType)
	assert.Equal(t, "tag-9", diff.LocalOnly[0].EntityID)
}

// TestDetectConflicts_OnlyComparesReportedTypes tests that a client
// reconciling a subset does not get unrelated types back as server-only
func TestDetectConflicts_OnlyComparesReportedTypes(t *testing.T) {
	r, entities, _, _, _ := newTestReconciler()
	seedRecord(t, entities, models.EntityTransaction, "t1", map[string]any{"amountCents": -100}, time.Now().UTC())

	diff, err := r.DetectConflicts(context.Background(), testTenant, map[models.EntityType][]models.EntityChecksum{
		models.EntityAccount: {},
	})
	require.NoError(t, err)
	assert.Empty(t, diff.ServerOnly, "unreported types stay out of the comparison")
}

// TestRecordAndResolveConflicts tests persistence and operator resolution of
// detected mismatches
func TestRecordAndResolveConflicts(t *testing.T) {
	r, entities, _, _, _ := newTestReconciler()
	ctx := context.Background()
	seedRecord(t, entities, models.EntityAccount, "a1", map[string]any{"name": "Server"}, time.Now().UTC())

	clientSum := checksumOf(t, map[string]any{"id": "a1", "name": "Client"})
	diff, err := r.DetectConflicts(ctx, testTenant, map[models.EntityType][]models.EntityChecksum{
		models.EntityAccount: {{EntityID: "a1", Checksum: clientSum}},
	})
	require.NoError(t, err)
	require.Len(t, diff.Conflicts, 1)

	n, err := r.RecordConflicts(ctx, testTenant, diff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err := r.ListPendingConflicts(ctx, testTenant)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, models.ResolutionPending, pending[0].ResolutionStatus)

	// Re-detecting does not duplicate the pending record.
	n, err = r.RecordConflicts(ctx, testTenant, diff)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	pending, err = r.ListPendingConflicts(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	require.NoError(t, r.ResolveConflict(ctx, testTenant, pending[0].ID, "server", "ops@example.com"))
	pending, err = r.ListPendingConflicts(ctx, testTenant)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// TestResolveConflict_UnknownStrategy tests strategy validation
func TestResolveConflict_UnknownStrategy(t *testing.T) {
	r, _, _, _, _ := newTestReconciler()
	err := r.ResolveConflict(context.Background(), testTenant, uuid.New(), "flip-a-coin", "ops")
	assert.ErrorIs(t, err, ErrInvalidPayload)
}

// TestResolveConflict_MissingRecord tests resolution of a conflict that does
// not exist
func TestResolveConflict_MissingRecord(t *testing.T) {
	r, _, _, _, _ := newTestReconciler()
	err := r.ResolveConflict(context.Background(), testTenant, uuid.New(), "local", "ops")
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

// TestCheckpointAndVerify tests snapshot, verification and invalidation on
// drift
func TestCheckpointAndVerify(t *testing.T) {
	r, entities, _, checkpoints, _ := newTestReconciler()
	ctx := context.Background()
	mod := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	seedRecord(t, entities, models.EntityAccount, "a1", map[string]any{"name": "Checking"}, mod)
	seedRecord(t, entities, models.EntityCategory, "c1", map[string]any{"name": "Food"}, mod)

	cp, err := r.Checkpoint(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(1), cp.SyncVersion)
	assert.True(t, cp.IsValid)
	assert.Equal(t, 1, cp.EntityCounts[models.EntityAccount])
	assert.Equal(t, 0, cp.EntityCounts[models.EntityTransaction])
	assert.NotEmpty(t, cp.DataChecksums[models.EntityAccount])

	// Untouched state verifies clean.
	got, valid, err := r.VerifyCheckpoint(ctx, testTenant)
	require.NoError(t, err)
	assert.True(t, valid)
	assert.Equal(t, cp.ID, got.ID)

	// Drift: a record changes after the checkpoint.
	seedRecord(t, entities, models.EntityAccount, "a1", map[string]any{"name": "Renamed"}, mod.Add(time.Hour))
	got, valid, err = r.VerifyCheckpoint(ctx, testTenant)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.False(t, got.IsValid)

	// The invalidated checkpoint stays around for diagnosis.
	latest, err := checkpoints.Latest(ctx, testTenant)
	require.NoError(t, err)
	assert.False(t, latest.IsValid)

	// A fresh checkpoint supersedes it.
	cp2, err := r.Checkpoint(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), cp2.SyncVersion)
	_, valid, err = r.VerifyCheckpoint(ctx, testTenant)
	require.NoError(t, err)
	assert.True(t, valid)
}

// TestVerifyCheckpoint_NoCheckpoint tests the empty case
func TestVerifyCheckpoint_NoCheckpoint(t *testing.T) {
	r, _, _, _, _ := newTestReconciler()
	_, _, err := r.VerifyCheckpoint(context.Background(), testTenant)
	assert.ErrorIs(t, err, repositories.ErrNotFound)
}

// TestChangesSince_StrictlyAfter tests the incremental change feed boundary
func TestChangesSince_StrictlyAfter(t *testing.T) {
	r, entities, _, _, _ := newTestReconciler()
	ctx := context.Background()
	cutoff := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

	seedRecord(t, entities, models.EntityAccount, "old", map[string]any{"name": "Old"}, cutoff)
	seedRecord(t, entities, models.EntityAccount, "new", map[string]any{"name": "New"}, cutoff.Add(time.Second))

	changes, err := r.ChangesSince(ctx, testTenant, cutoff, []models.EntityType{models.EntityAccount})
	require.NoError(t, err)
	require.Len(t, changes[models.EntityAccount], 1, "a record at exactly the cutoff is not a change")

	var acc models.Account
	require.NoError(t, json.Unmarshal(changes[models.EntityAccount][0], &acc))
	assert.Equal(t, "new", acc.ID)
}

// TestInitialData_CoversAllTypes tests the payload for a fresh websocket
// session
func TestInitialData_CoversAllTypes(t *testing.T) {
	r, entities, _, _, _ := newTestReconciler()
	ctx := context.Background()

	seedRecord(t, entities, models.EntityAccount, "a1", map[string]any{"name": "Checking"}, time.Now().UTC())
	seedRecord(t, entities, models.EntityTag, "g1", map[string]any{"name": "vacation"}, time.Now().UTC())

	payload, err := r.InitialData(ctx, testTenant)
	require.NoError(t, err)
	assert.Len(t, payload.Accounts, 1)
	assert.Len(t, payload.Tags, 1)
	assert.NotNil(t, payload.Transactions, "empty lists serialize as [], not null")
	assert.Empty(t, payload.Transactions)
}
