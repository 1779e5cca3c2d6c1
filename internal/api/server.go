package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/config"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/models"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/registry"
	"github.com/mlammarsch/FinWise-0.4-Backend-sub000/internal/services"
)

const maxBodyBytes = 10 << 20

// BatchApplier runs a batch of change entries through the staged pipeline.
// Implemented by services.StagedSyncCoordinator.
type BatchApplier interface {
	ApplyBatch(ctx context.Context, tenantID string, entries []models.SyncChangeEntry, excludeSessionID string) *models.BatchResult
}

// Reconciler serves checksum status, conflict detection and checkpoints.
// Implemented by services.ChecksumReconciler.
type Reconciler interface {
	Status(ctx context.Context, tenantID string, entityTypes []models.EntityType) (*models.DataStatusResponse, error)
	DetectConflicts(ctx context.Context, tenantID string, client map[models.EntityType][]models.EntityChecksum) (*models.ChecksumDiff, error)
	RecordConflicts(ctx context.Context, tenantID string, diff *models.ChecksumDiff) (int, error)
	ListPendingConflicts(ctx context.Context, tenantID string) ([]models.SyncConflictRecord, error)
	ResolveConflict(ctx context.Context, tenantID string, conflictID uuid.UUID, strategy, resolvedBy string) error
	Checkpoint(ctx context.Context, tenantID string) (*models.SyncCheckpoint, error)
	VerifyCheckpoint(ctx context.Context, tenantID string) (*models.SyncCheckpoint, bool, error)
	ChangesSince(ctx context.Context, tenantID string, since time.Time, entityTypes []models.EntityType) (map[models.EntityType][]json.RawMessage, error)
	InitialData(ctx context.Context, tenantID string) (models.InitialDataPayload, error)
}

// RetryQueue is the deferred-processing side of the pipeline.
// Implemented by services.RetryQueueManager.
type RetryQueue interface {
	Enqueue(ctx context.Context, tenantID string, entry models.SyncChangeEntry) error
	Depth(ctx context.Context, tenantID string) (pending int, failed int, err error)
	Drain(ctx context.Context, tenantID string)
	Attempts() int64
}

// TokenVerifier checks session tokens. Implemented by services.TokenService.
type TokenVerifier interface {
	Verify(token string) (*services.SessionClaims, error)
}

// StoreGateway is the slice of the tenant store the HTTP layer needs:
// liveness for health checks and the tenant registry for the admin API.
// Implemented by tenantstore.Gateway.
type StoreGateway interface {
	Ping(ctx context.Context) error
	ListTenants(ctx context.Context) ([]string, error)
}

// Services bundles everything the HTTP layer delegates to.
type Services struct {
	Tokens     TokenVerifier
	Sync       BatchApplier
	Reconciler Reconciler
	Retries    RetryQueue
	Registry   *registry.Registry
	Store      StoreGateway
	Cache      *redis.Client
}

// Server is the HTTP and websocket front of the sync engine.
type Server struct {
	cfg     *config.Config
	logger  *slog.Logger
	svc     Services
	metrics *Metrics
	http    *http.Server
}

func NewServer(cfg *config.Config, logger *slog.Logger, svc Services) *Server {
	s := &Server{
		cfg:     cfg,
		logger:  logger,
		svc:     svc,
		metrics: NewMetrics(),
	}

	// No WriteTimeout: the websocket attach route holds its connection
	// open for the session lifetime.
	s.http = &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     s.routes(),
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 120 * time.Second,
	}

	return s
}

// Start begins listening for HTTP requests (non-blocking).
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("http server", "err", err)
		}
	}()

	s.logger.Info("server listening", "addr", ln.Addr().String())
	return nil
}

// Shutdown gracefully stops the server and closes all live websocket sessions.
func (s *Server) Shutdown(ctx context.Context) error {
	s.svc.Registry.CloseAll()
	return s.http.Shutdown(ctx)
}

// routes builds the HTTP handler with all routes and middleware.
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggerMiddleware(s.logger))
	r.Use(loggingMiddleware)
	r.Use(metricsMiddleware(s.metrics))
	r.Use(recoveryMiddleware)
	r.Use(maxBytesMiddleware(maxBodyBytes))

	r.Get("/healthz", s.handleHealth)
	r.Get("/metricz", s.handleMetrics)

	r.Route("/v1/sync", func(r chi.Router) {
		r.Get("/ws", s.requireSession(s.handleWebSocket))
		r.Post("/batch", s.requireSession(s.handleBatch))
		r.Get("/status", s.requireSession(s.handleStatus))
		r.Post("/conflicts/detect", s.requireSession(s.handleDetectConflicts))
		r.Get("/changes", s.requireSession(s.handleChanges))
		r.Post("/checkpoint", s.requireSession(s.handleCreateCheckpoint))
		r.Get("/checkpoint", s.requireSession(s.handleVerifyCheckpoint))
	})

	r.Route("/v1/admin", func(r chi.Router) {
		r.Get("/tenants", s.requireAdmin(s.handleAdminTenants))
		r.Get("/conflicts", s.requireAdmin(s.handleAdminListConflicts))
		r.Post("/conflicts/{id}/resolve", s.requireAdmin(s.handleAdminResolveConflict))
		r.Get("/maintenance", s.requireAdmin(s.handleAdminGetMaintenance))
		r.Post("/maintenance", s.requireAdmin(s.handleAdminSetMaintenance))
		r.Get("/health", s.requireAdmin(s.handleAdminHealth))
		r.Post("/retry/drain", s.requireAdmin(s.handleAdminRetryDrain))
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	checks := map[string]string{"postgres": "ok"}
	healthy := true

	if err := s.svc.Store.Ping(ctx); err != nil {
		checks["postgres"] = "unreachable"
		healthy = false
	}
	if s.svc.Cache != nil {
		checks["redis"] = "ok"
		if err := s.svc.Cache.Ping(ctx).Err(); err != nil {
			checks["redis"] = "unreachable"
			healthy = false
		}
	}

	status := http.StatusOK
	state := "ok"
	if !healthy {
		status = http.StatusServiceUnavailable
		state = "degraded"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": checks})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	snap := s.metrics.Snapshot()
	snap.ActiveSessions = int64(s.svc.Registry.HealthReport().TotalSessions)
	snap.Broadcasts = s.svc.Registry.Delivered()
	snap.RetryAttempts = s.svc.Retries.Attempts()
	writeJSON(w, http.StatusOK, snap)
}
