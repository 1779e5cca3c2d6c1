// Package registry tracks live websocket sessions per tenant and delivers
// change notifications to them. Session health is tracked through send
// failures; sessions that keep failing are evicted so broadcasts stay fast.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/repositories"
)

const (
	// maxSendFailures is the consecutive failure count after which a session
	// is evicted.
	maxSendFailures = 3

	writeTimeout = 5 * time.Second
)

// Health states, worst to best.
const (
	HealthNoConnections = "no_connections"
	HealthCritical      = "critical"
	HealthDegraded      = "degraded"
	HealthHealthy       = "healthy"
)

// Conn is the subset of the websocket connection the registry needs.
type Conn interface {
	Write(ctx context.Context, typ websocket.MessageType, data []byte) error
	Close(code websocket.StatusCode, reason string) error
}

// Session is one live websocket connection of a tenant.
type Session struct {
	ID          string
	TenantID    string
	ConnectedAt time.Time

	conn     Conn
	mu       sync.Mutex
	failures int
}

// Send marshals msg and writes it to the session under the write deadline.
// Consecutive failures accumulate; any success resets the counter.
func (s *Session) Send(ctx context.Context, msg any) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return s.send(ctx, data)
}

func (s *Session) send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := s.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		s.failures++
		return fmt.Errorf("failed to write to session %s: %w", s.ID, err)
	}
	s.failures = 0
	return nil
}

func (s *Session) healthy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures == 0
}

func (s *Session) exhausted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures >= maxSendFailures
}

// TenantStats is the per-tenant slice of a health report.
type TenantStats struct {
	Sessions int    `json:"sessions"`
	Healthy  int    `json:"healthy"`
	Status   string `json:"status"`
}

type HealthReport struct {
	OverallHealth string                 `json:"overallHealth"`
	TotalSessions int                    `json:"totalSessions"`
	Tenants       map[string]TenantStats `json:"tenants"`
}

// Registry is the connection registry and notification broadcaster. All
// methods are safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[string]*Session

	delivered atomic.Int64

	maintenance repositories.MaintenanceStore
	logger      *slog.Logger
}

func NewRegistry(maintenance repositories.MaintenanceStore, logger *slog.Logger) *Registry {
	return &Registry{
		sessions:    make(map[string]map[string]*Session),
		maintenance: maintenance,
		logger:      logger,
	}
}

// Register adds a connection and returns its session.
func (r *Registry) Register(tenantID string, conn Conn) *Session {
	sess := &Session{
		ID:          uuid.NewString(),
		TenantID:    tenantID,
		ConnectedAt: time.Now().UTC(),
		conn:        conn,
	}

	r.mu.Lock()
	if r.sessions[tenantID] == nil {
		r.sessions[tenantID] = make(map[string]*Session)
	}
	r.sessions[tenantID][sess.ID] = sess
	count := len(r.sessions[tenantID])
	r.mu.Unlock()

	r.logger.Info("session registered", "tenant_id", tenantID, "session_id", sess.ID, "tenant_sessions", count)
	return sess
}

// Unregister removes a session. The connection itself is closed by whoever
// owns its read loop.
func (r *Registry) Unregister(tenantID, sessionID string) {
	r.mu.Lock()
	if sessions, ok := r.sessions[tenantID]; ok {
		delete(sessions, sessionID)
		if len(sessions) == 0 {
			delete(r.sessions, tenantID)
		}
	}
	r.mu.Unlock()
	r.logger.Info("session unregistered", "tenant_id", tenantID, "session_id", sessionID)
}

// Broadcast delivers msg to every session of the tenant except the excluded
// one. Per-session failures are tracked and exhausted sessions evicted, but
// they never fail the broadcast: zero reachable sessions is a normal state.
func (r *Registry) Broadcast(ctx context.Context, tenantID string, msg any, excludeSessionID string) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast: %w", err)
	}

	r.mu.RLock()
	targets := make([]*Session, 0, len(r.sessions[tenantID]))
	for id, sess := range r.sessions[tenantID] {
		if id == excludeSessionID {
			continue
		}
		targets = append(targets, sess)
	}
	r.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.send(ctx, data); err != nil {
			r.logger.Warn("session send failed", "tenant_id", tenantID, "session_id", sess.ID, "error", err)
			if sess.exhausted() {
				r.evict(sess)
			}
			continue
		}
		r.delivered.Add(1)
	}
	return nil
}

// Delivered returns the number of notification messages successfully written
// to sessions since startup.
func (r *Registry) Delivered() int64 {
	return r.delivered.Load()
}

// BroadcastAll delivers msg to every session of every tenant.
func (r *Registry) BroadcastAll(ctx context.Context, msg any) error {
	r.mu.RLock()
	tenants := make([]string, 0, len(r.sessions))
	for tenantID := range r.sessions {
		tenants = append(tenants, tenantID)
	}
	r.mu.RUnlock()

	for _, tenantID := range tenants {
		if err := r.Broadcast(ctx, tenantID, msg, ""); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) evict(sess *Session) {
	r.Unregister(sess.TenantID, sess.ID)
	_ = sess.conn.Close(websocket.StatusGoingAway, "too many failed sends")
	r.logger.Warn("session evicted", "tenant_id", sess.TenantID, "session_id", sess.ID)
}

// CountForTenant returns the number of live sessions for one tenant.
func (r *Registry) CountForTenant(tenantID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[tenantID])
}

// HealthReport classifies every tenant's connection pool and the overall
// state across all sessions.
func (r *Registry) HealthReport() HealthReport {
	r.mu.RLock()
	defer r.mu.RUnlock()

	report := HealthReport{Tenants: make(map[string]TenantStats, len(r.sessions))}
	totalHealthy := 0
	for tenantID, sessions := range r.sessions {
		healthy := 0
		for _, sess := range sessions {
			if sess.healthy() {
				healthy++
			}
		}
		report.Tenants[tenantID] = TenantStats{
			Sessions: len(sessions),
			Healthy:  healthy,
			Status:   classify(len(sessions), healthy),
		}
		report.TotalSessions += len(sessions)
		totalHealthy += healthy
	}
	report.OverallHealth = classify(report.TotalSessions, totalHealthy)
	return report
}

// classify maps session counts to a health state: every session healthy is
// healthy, any unhealthy session degrades, under 80% healthy is critical.
func classify(total, healthy int) string {
	switch {
	case total == 0:
		return HealthNoConnections
	case healthy*5 < total*4:
		return HealthCritical
	case healthy < total:
		return HealthDegraded
	default:
		return HealthHealthy
	}
}

// SetMaintenance flips the advisory maintenance flag, mirrors it in the
// shared store and notifies every connected session. Processing continues
// regardless of the flag.
func (r *Registry) SetMaintenance(ctx context.Context, enabled bool, message string) error {
	if r.maintenance != nil {
		if err := r.maintenance.SetMaintenance(ctx, enabled, message); err != nil {
			return fmt.Errorf("failed to persist maintenance state: %w", err)
		}
	}
	r.logger.Info("maintenance mode changed", "enabled", enabled, "message", message)
	return r.BroadcastAll(ctx, models.NewMaintenanceStatus(enabled, message))
}

// Maintenance reports the current advisory maintenance state.
func (r *Registry) Maintenance(ctx context.Context) (bool, string, error) {
	if r.maintenance == nil {
		return false, "", nil
	}
	return r.maintenance.GetMaintenance(ctx)
}

// CloseAll disconnects every session, used during shutdown.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := make([]*Session, 0)
	for _, tenantSessions := range r.sessions {
		for _, sess := range tenantSessions {
			sessions = append(sessions, sess)
		}
	}
	r.sessions = make(map[string]map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		_ = sess.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
	if len(sessions) > 0 {
		r.logger.Info("closed all sessions", "count", len(sessions))
	}
}
