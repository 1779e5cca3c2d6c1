package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SyncChangeEntry is one proposed mutation from a client. ID identifies the
// change record itself, EntityID the record it targets. ClientTimestamp is
// informational only; the LWW key lives inside the payload as updatedAt.
type SyncChangeEntry struct {
	ID              string          `json:"id"`
	TenantID        string          `json:"tenantId"`
	EntityType      EntityType      `json:"entityType"`
	EntityID        string          `json:"entityId"`
	Operation       OperationType   `json:"operation"`
	Payload         json.RawMessage `json:"payload,omitempty"`
	ClientTimestamp Timestamp       `json:"clientTimestamp,omitempty"`
}

// Normalize fills derivable fields and checks structural validity. A nil
// payload is only valid for deletes; for creates and updates the entity id
// may come from either the entry or the payload's id field.
func (e *SyncChangeEntry) Normalize() error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	op, ok := ParseOperation(string(e.Operation))
	if !ok {
		return fmt.Errorf("unknown operation %q", e.Operation)
	}
	e.Operation = op
	if e.TenantID == "" {
		return errors.New("missing tenantId")
	}
	if e.EntityType == "" {
		return errors.New("missing entityType")
	}
	if e.EntityID == "" && e.payloadPresent() {
		var probe struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(e.Payload, &probe); err == nil {
			e.EntityID = probe.ID
		}
	}
	if e.EntityID == "" {
		return errors.New("missing entityId")
	}
	if !e.payloadPresent() && e.Operation != OpDelete {
		return fmt.Errorf("null payload is only valid for delete, got %s", e.Operation)
	}
	return nil
}

func (e *SyncChangeEntry) payloadPresent() bool {
	return len(e.Payload) > 0 && string(e.Payload) != "null"
}

// RecordUpdatedAt extracts the last-write timestamp embedded in the payload.
// The zero time means the payload carries none; a malformed timestamp is an
// error so garbage never silently loses or wins.
func (e *SyncChangeEntry) RecordUpdatedAt() (time.Time, error) {
	if !e.payloadPresent() {
		return time.Time{}, nil
	}
	var probe struct {
		UpdatedAt Timestamp `json:"updatedAt"`
	}
	if err := json.Unmarshal(e.Payload, &probe); err != nil {
		return time.Time{}, fmt.Errorf("payload updatedAt: %w", err)
	}
	return probe.UpdatedAt.Time, nil
}

type ResultStatus string

const (
	// ResultApplied: the write was committed (insert, update or resurrect).
	ResultApplied ResultStatus = "applied"
	// ResultSkipped: the write lost the last-write comparison; Data carries
	// the authoritative stored record instead of the rejected payload.
	ResultSkipped ResultStatus = "skipped"
	// ResultDeleted: delete acknowledged, whether or not the record existed.
	ResultDeleted ResultStatus = "deleted"
	ResultFailed  ResultStatus = "failed"
)

// SyncResult is the per-entry outcome: applied record, authoritative
// (rejected) record, delete acknowledgement, or failure classification.
// Operation is the effective operation as observers saw it, which may differ
// from the requested one (a duplicate create is reported as update).
type SyncResult struct {
	EntryID    string          `json:"entryId"`
	EntityType EntityType      `json:"entityType"`
	EntityID   string          `json:"entityId"`
	Status     ResultStatus    `json:"status"`
	Operation  OperationType   `json:"operation"`
	Data       json.RawMessage `json:"data,omitempty"`
	Error      string          `json:"error,omitempty"`
	Retryable  bool            `json:"retryable,omitempty"`
}

func (r *SyncResult) Succeeded() bool {
	return r.Status != ResultFailed
}

type BatchResult struct {
	SuccessIDs []string     `json:"successIds"`
	FailedIDs  []string     `json:"failedIds"`
	Results    []SyncResult `json:"results"`
}

// DeleteAck is the synthetic payload acknowledging a delete.
func DeleteAck(entityID string) json.RawMessage {
	b, _ := json.Marshal(map[string]string{"id": entityID})
	return b
}

// RetryRecord tracks one failed entry in the retry queue.
type RetryRecord struct {
	Entry       SyncChangeEntry `json:"entry"`
	RetryCount  int             `json:"retryCount"`
	LastAttempt time.Time       `json:"lastAttempt"`
	NextRetry   time.Time       `json:"nextRetry"`
	LastError   string          `json:"lastError,omitempty"`
}
