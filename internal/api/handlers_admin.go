package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/tenantstore"
)

// adminTenant reads and validates the tenant id from the query string.
func adminTenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := r.URL.Query().Get("tenant_id")
	if raw == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "tenant_id parameter is required")
		return "", false
	}
	tenantID, err := tenantstore.NormalizeTenantID(raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return "", false
	}
	return tenantID, true
}

func (s *Server) handleAdminTenants(w http.ResponseWriter, r *http.Request) {
	tenants, err := s.svc.Store.ListTenants(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to list tenants")
		return
	}
	if tenants == nil {
		tenants = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenants": tenants,
		"count":   len(tenants),
	})
}

func (s *Server) handleAdminListConflicts(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := adminTenant(w, r)
	if !ok {
		return
	}

	conflicts, err := s.svc.Reconciler.ListPendingConflicts(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, err, "failed to list conflicts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId":  tenantID,
		"conflicts": conflicts,
		"count":     len(conflicts),
	})
}

type resolveConflictRequest struct {
	TenantID   string `json:"tenantId"`
	Strategy   string `json:"strategy"`
	ResolvedBy string `json:"resolvedBy,omitempty"`
}

func (s *Server) handleAdminResolveConflict(w http.ResponseWriter, r *http.Request) {
	conflictID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid conflict id")
		return
	}

	var req resolveConflictRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}
	tenantID, err := tenantstore.NormalizeTenantID(req.TenantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}
	if req.Strategy == "" {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "strategy is required")
		return
	}
	resolvedBy := req.ResolvedBy
	if resolvedBy == "" {
		resolvedBy = "admin"
	}

	if err := s.svc.Reconciler.ResolveConflict(r.Context(), tenantID, conflictID, req.Strategy, resolvedBy); err != nil {
		writeServiceError(w, r, err, "failed to resolve conflict")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":       conflictID,
		"tenantId": tenantID,
		"status":   "resolved",
		"strategy": req.Strategy,
	})
}

type maintenanceRequest struct {
	Enabled bool   `json:"enabled"`
	Message string `json:"message,omitempty"`
}

func (s *Server) handleAdminGetMaintenance(w http.ResponseWriter, r *http.Request) {
	enabled, message, err := s.svc.Registry.Maintenance(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "failed to read maintenance state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": enabled,
		"message": message,
	})
}

func (s *Server) handleAdminSetMaintenance(w http.ResponseWriter, r *http.Request) {
	var req maintenanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
		return
	}

	if err := s.svc.Registry.SetMaintenance(r.Context(), req.Enabled, req.Message); err != nil {
		writeServiceError(w, r, err, "failed to set maintenance state")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"enabled": req.Enabled,
		"message": req.Message,
	})
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Registry.HealthReport())
}

type retryDrainRequest struct {
	TenantID string `json:"tenantId,omitempty"`
}

func (s *Server) handleAdminRetryDrain(w http.ResponseWriter, r *http.Request) {
	var req retryDrainRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, ErrCodeBadRequest, "invalid request body")
			return
		}
	}

	if req.TenantID == "" {
		s.svc.Retries.Drain(r.Context(), "")
		writeJSON(w, http.StatusOK, map[string]any{"status": "drained"})
		return
	}

	tenantID, err := tenantstore.NormalizeTenantID(req.TenantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeBadRequest, err.Error())
		return
	}

	s.svc.Retries.Drain(r.Context(), tenantID)
	pending, failed, err := s.svc.Retries.Depth(r.Context(), tenantID)
	if err != nil {
		writeServiceError(w, r, err, "failed to read retry depth")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tenantId": tenantID,
		"pending":  pending,
		"failed":   failed,
	})
}
