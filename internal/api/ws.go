package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/registry"
)

// Client to server message kinds.
const (
	wsTypeProcessEntry = "process_sync_entry"
	wsTypeRequestData  = "request_initial_data"
)

const (
	wsEventConnected = "connected"
	wsEventAck       = "sync_ack"
)

type wsEnvelope struct {
	Type  string                  `json:"type"`
	Entry *models.SyncChangeEntry `json:"entry,omitempty"`
}

// wsAck answers a client message. For processed entries Result carries the
// per-entry outcome: applied record, authoritative record, delete ack or
// failure classification.
type wsAck struct {
	EventType string             `json:"eventType"`
	EntryID   string             `json:"entryId,omitempty"`
	Result    *models.SyncResult `json:"result,omitempty"`
	Error     string             `json:"error,omitempty"`
}

// wsConnected tells the client its registry session id. Clients pass it
// back as sessionId on HTTP batches so their own broadcasts exclude them.
type wsConnected struct {
	EventType string `json:"eventType"`
	TenantID  string `json:"tenantId"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	claims := claimsFrom(r.Context())
	log := logFor(r.Context())

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowedOrigins,
	})
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	sess := s.svc.Registry.Register(claims.TenantID, conn)
	defer s.svc.Registry.Unregister(claims.TenantID, sess.ID)
	defer conn.Close(websocket.StatusNormalClosure, "")

	log = log.With("session_id", sess.ID)
	s.metrics.RecordWSConnection()

	ctx := r.Context()
	if err := sess.Send(ctx, wsConnected{
		EventType: wsEventConnected,
		TenantID:  claims.TenantID,
		SessionID: sess.ID,
	}); err != nil {
		log.Warn("failed to send welcome", "error", err)
		return
	}

	if err := s.sendInitialData(ctx, sess, claims.TenantID); err != nil {
		log.Warn("failed to send initial data", "error", err)
		conn.Close(websocket.StatusInternalError, "failed to load initial data")
		return
	}

	if enabled, message, err := s.svc.Registry.Maintenance(ctx); err == nil && enabled {
		if err := sess.Send(ctx, models.NewMaintenanceStatus(true, message)); err != nil {
			log.Warn("failed to send maintenance status", "error", err)
		}
	}

	log.Info("session attached")
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			log.Info("session detached", "reason", err)
			return
		}
		s.handleWSMessage(ctx, sess, data)
	}
}

func (s *Server) sendInitialData(ctx context.Context, sess *registry.Session, tenantID string) error {
	payload, err := s.svc.Reconciler.InitialData(ctx, tenantID)
	if err != nil {
		return err
	}
	if err := sess.Send(ctx, models.NewInitialDataLoad(tenantID, payload)); err != nil {
		return err
	}
	s.metrics.RecordInitialDataLoad()
	return nil
}

func (s *Server) handleWSMessage(ctx context.Context, sess *registry.Session, data []byte) {
	var env wsEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.sendAck(ctx, sess, wsAck{EventType: wsEventAck, Error: "malformed message"})
		return
	}

	switch env.Type {
	case wsTypeProcessEntry:
		if env.Entry == nil {
			s.sendAck(ctx, sess, wsAck{EventType: wsEventAck, Error: "missing entry"})
			return
		}
		s.processWSEntry(ctx, sess, *env.Entry)

	case wsTypeRequestData:
		if err := s.sendInitialData(ctx, sess, sess.TenantID); err != nil {
			s.sendAck(ctx, sess, wsAck{EventType: wsEventAck, Error: "failed to load initial data"})
		}

	default:
		s.sendAck(ctx, sess, wsAck{EventType: wsEventAck, Error: fmt.Sprintf("unknown message type %q", env.Type)})
	}
}

// processWSEntry applies one entry submitted over the socket. The session's
// own id is excluded from the resulting broadcast; the submitter learns the
// outcome from the ack instead.
func (s *Server) processWSEntry(ctx context.Context, sess *registry.Session, entry models.SyncChangeEntry) {
	result := s.svc.Sync.ApplyBatch(ctx, sess.TenantID, []models.SyncChangeEntry{entry}, sess.ID)
	s.recordBatch(result)

	ack := wsAck{EventType: wsEventAck, EntryID: entry.ID}
	if len(result.Results) > 0 {
		ack.Result = &result.Results[0]
	}
	s.sendAck(ctx, sess, ack)
}

func (s *Server) sendAck(ctx context.Context, sess *registry.Session, ack wsAck) {
	if err := sess.Send(ctx, ack); err != nil {
		s.logger.Warn("failed to send ack", "error", err)
	}
}
