package models

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SyncStatus string

const (
	SyncStatusSuccess  SyncStatus = "success"
	SyncStatusFailed   SyncStatus = "failed"
	SyncStatusConflict SyncStatus = "conflict"
)

// SyncLogRecord is the append-only audit row for one processed change entry.
// Only status, error, retry count and processed time are ever updated.
type SyncLogRecord struct {
	ID          uuid.UUID     `json:"id"`
	TenantID    string        `json:"tenantId"`
	EntryID     string        `json:"entryId"`
	EntityType  EntityType    `json:"entityType"`
	EntityID    string        `json:"entityId"`
	Operation   OperationType `json:"operation"`
	Status      SyncStatus    `json:"status"`
	Error       string        `json:"error,omitempty"`
	RetryCount  int           `json:"retryCount"`
	CreatedAt   time.Time     `json:"createdAt"`
	ProcessedAt *time.Time    `json:"processedAt,omitempty"`
}

type ConflictType string

const (
	ConflictUpdate ConflictType = "update"
	ConflictDelete ConflictType = "delete"
)

type ResolutionStatus string

const (
	ResolutionPending        ResolutionStatus = "pending"
	ResolutionResolvedLocal  ResolutionStatus = "resolved_local"
	ResolutionResolvedServer ResolutionStatus = "resolved_server"
	ResolutionResolvedManual ResolutionStatus = "resolved_manual"
)

// ResolutionFromStrategy maps an operator-chosen strategy name to the
// terminal resolution status.
func ResolutionFromStrategy(s string) (ResolutionStatus, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return ResolutionResolvedLocal, true
	case "server":
		return ResolutionResolvedServer, true
	case "manual":
		return ResolutionResolvedManual, true
	}
	return "", false
}

// SyncConflictRecord is the persisted audit trail of a detected mismatch.
// Created pending, closed by an operator; never auto-deleted.
type SyncConflictRecord struct {
	ID               uuid.UUID        `json:"id"`
	TenantID         string           `json:"tenantId"`
	EntityType       EntityType       `json:"entityType"`
	EntityID         string           `json:"entityId"`
	ClientChecksum   string           `json:"clientChecksum"`
	ServerChecksum   string           `json:"serverChecksum"`
	ClientModified   *time.Time       `json:"clientModified,omitempty"`
	ServerModified   *time.Time       `json:"serverModified,omitempty"`
	ConflictType     ConflictType     `json:"conflictType"`
	ResolutionStatus ResolutionStatus `json:"resolutionStatus"`
	DetectedAt       time.Time        `json:"detectedAt"`
	ResolvedAt       *time.Time       `json:"resolvedAt,omitempty"`
	ResolvedBy       string           `json:"resolvedBy,omitempty"`
}

// SyncMetricsRecord covers one batch. Closed exactly once via the metrics
// repository's Complete call.
type SyncMetricsRecord struct {
	ID          uuid.UUID       `json:"id"`
	TenantID    string          `json:"tenantId"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	Processed   int             `json:"processed"`
	Successful  int             `json:"successful"`
	Failed      int             `json:"failed"`
	Conflicts   int             `json:"conflicts"`
	Details     json.RawMessage `json:"details,omitempty"`
}

// SyncCheckpoint is a point-in-time snapshot used to shortcut full
// reconciliation. Later checkpoints supersede earlier ones; invalid ones are
// kept for diagnosis.
type SyncCheckpoint struct {
	ID            uuid.UUID             `json:"id"`
	TenantID      string                `json:"tenantId"`
	EntityCounts  map[EntityType]int    `json:"entityCounts"`
	DataChecksums map[EntityType]string `json:"dataChecksums"`
	SyncVersion   int64                 `json:"syncVersion"`
	IsValid       bool                  `json:"isValid"`
	CreatedAt     time.Time             `json:"createdAt"`
}

// Tombstone records a delete with its own last-write timestamp so a stale
// post-delete write cannot silently resurrect the record.
type Tombstone struct {
	EntityType EntityType `json:"entityType"`
	EntityID   string     `json:"entityId"`
	DeletedAt  time.Time  `json:"deletedAt"`
}
