package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
)

type batchRequest struct {
	Entries []models.SyncChangeEntry `json:"entries"`
	// SessionID is the registry session id of the submitting client, used
	// to exclude it from its own change broadcasts.
	SessionID string `json:"sessionId,omitempty"`
	// Async accepts the batch into the durable pending queue instead of
	// processing it inline.
	Async bool `json:"async,omitempty"`
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if len(req.Entries) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "batch contains no entries")
		return
	}

	if req.Async {
		s.enqueueBatch(w, r, claims.TenantID, req.Entries)
		return
	}

	result := s.svc.Sync.ApplyBatch(r.Context(), claims.TenantID, req.Entries, req.SessionID)
	s.recordBatch(result)
	writeJSON(w, http.StatusOK, result)
}

// enqueueBatch feeds entries into the pending queue for the retry worker to
// drain. Entries must belong to the authenticated tenant; nothing foreign
// may slip past the coordinator's per-entry check by taking this lane.
func (s *Server) enqueueBatch(w http.ResponseWriter, r *http.Request, tenantID string, entries []models.SyncChangeEntry) {
	for i := range entries {
		if entries[i].TenantID == "" {
			entries[i].TenantID = tenantID
		}
		if entries[i].TenantID != tenantID {
			msg := fmt.Sprintf("entry %s tenant %q does not match authenticated tenant", entries[i].ID, entries[i].TenantID)
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, msg)
			return
		}
	}

	queued := make([]string, 0, len(entries))
	for _, entry := range entries {
		if err := s.svc.Retries.Enqueue(r.Context(), tenantID, entry); err != nil {
			writeServiceError(w, r, err, "failed to enqueue batch")
			return
		}
		queued = append(queued, entry.ID)
	}

	s.metrics.RecordQueued(int64(len(queued)))
	writeJSON(w, http.StatusAccepted, map[string]any{
		"queued":   len(queued),
		"entryIds": queued,
	})
}

func (s *Server) recordBatch(result *models.BatchResult) {
	var conflicted int64
	for _, res := range result.Results {
		if res.Status == models.ResultSkipped {
			conflicted++
		}
	}
	applied := int64(len(result.SuccessIDs)) - conflicted
	s.metrics.RecordBatch(applied, conflicted, int64(len(result.FailedIDs)))
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	types, err := parseEntityTypes(r.URL.Query().Get("entity_types"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	resp, err := s.svc.Reconciler.Status(r.Context(), claims.TenantID, types)
	if err != nil {
		writeServiceError(w, r, err, "failed to compute sync status")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

type detectConflictsRequest struct {
	Checksums map[string][]models.EntityChecksum `json:"checksums"`
	Persist   bool                               `json:"persist,omitempty"`
}

type detectConflictsResponse struct {
	TenantID   string                    `json:"tenantId"`
	Conflicts  []models.ChecksumConflict `json:"conflicts"`
	LocalOnly  []models.EntityRef        `json:"localOnly"`
	ServerOnly []models.EntityRef        `json:"serverOnly"`
	Recorded   int                       `json:"recorded,omitempty"`
}

func (s *Server) handleDetectConflicts(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	var req detectConflictsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	if len(req.Checksums) == 0 {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "no client checksums given")
		return
	}

	client := make(map[models.EntityType][]models.EntityChecksum, len(req.Checksums))
	for rawType, checksums := range req.Checksums {
		t, ok := models.ParseEntityType(rawType)
		if !ok {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, fmt.Sprintf("unknown entity type %q", rawType))
			return
		}
		client[t] = append(client[t], checksums...)
	}

	diff, err := s.svc.Reconciler.DetectConflicts(r.Context(), claims.TenantID, client)
	if err != nil {
		writeServiceError(w, r, err, "failed to detect conflicts")
		return
	}

	resp := detectConflictsResponse{
		TenantID:   claims.TenantID,
		Conflicts:  diff.Conflicts,
		LocalOnly:  diff.LocalOnly,
		ServerOnly: diff.ServerOnly,
	}
	if req.Persist {
		recorded, err := s.svc.Reconciler.RecordConflicts(r.Context(), claims.TenantID, diff)
		if err != nil {
			writeServiceError(w, r, err, "failed to record conflicts")
			return
		}
		resp.Recorded = recorded
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	rawSince := r.URL.Query().Get("since")
	if rawSince == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "since parameter is required")
		return
	}
	since, err := time.Parse(time.RFC3339, rawSince)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "since must be an RFC3339 timestamp")
		return
	}

	types, err := parseEntityTypes(r.URL.Query().Get("entity_types"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	changes, err := s.svc.Reconciler.ChangesSince(r.Context(), claims.TenantID, since, types)
	if err != nil {
		writeServiceError(w, r, err, "failed to list changes")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":   claims.TenantID,
		"since":      since.UTC(),
		"serverTime": time.Now().UTC(),
		"changes":    changes,
	})
}

func (s *Server) handleCreateCheckpoint(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	cp, err := s.svc.Reconciler.Checkpoint(r.Context(), claims.TenantID)
	if err != nil {
		writeServiceError(w, r, err, "failed to create checkpoint")
		return
	}
	writeJSON(w, http.StatusCreated, cp)
}

func (s *Server) handleVerifyCheckpoint(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())

	cp, valid, err := s.svc.Reconciler.VerifyCheckpoint(r.Context(), claims.TenantID)
	if err != nil {
		writeServiceError(w, r, err, "failed to verify checkpoint")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"checkpoint": cp,
		"valid":      valid,
	})
}

// parseEntityTypes turns a comma separated filter into entity types. An
// empty filter means every known type.
func parseEntityTypes(raw string) ([]models.EntityType, error) {
	if raw == "" {
		return nil, nil
	}
	var types []models.EntityType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, ok := models.ParseEntityType(part)
		if !ok {
			return nil, fmt.Errorf("unknown entity type %q", part)
		}
		types = append(types, t)
	}
	return types, nil
}
