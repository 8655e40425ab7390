package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/devrev/ringkv/internal/errors"
	"github.com/devrev/ringkv/internal/health"
	"github.com/devrev/ringkv/internal/metrics"
	"github.com/devrev/ringkv/internal/model"
	"github.com/devrev/ringkv/internal/ring"
	"github.com/devrev/ringkv/internal/service"
	"github.com/devrev/ringkv/internal/storage/diskmanager"
	"github.com/devrev/ringkv/internal/util"
	"github.com/devrev/ringkv/internal/validation"
)

// AdminServerConfig holds configuration for the admin HTTP server
type AdminServerConfig struct {
	Host string
	Port int
	// DiskStatsInterval is how often disk usage is exported as metrics
	DiskStatsInterval time.Duration
}

// AdminServer serves the administrative API, metrics and health probes of
// a storage node over HTTP
type AdminServer struct {
	router     *mux.Router
	httpServer *http.Server
	node       *service.StorageService
	checker    *health.HealthChecker
	disk       *diskmanager.DiskManager
	gatherer   prometheus.Gatherer
	metrics    *metrics.Metrics
	logger     *zap.Logger
	gossip     MemberLister
	validator  *validation.Validator
	interval   time.Duration
	stopChan   chan struct{}
}

// MemberLister reports cluster membership learned through gossip
type MemberLister interface {
	Members() []service.GossipMeta
}

// PlanRequest is the body of POST /admin/ring/plan. Exactly one of Join and
// Leave is set.
type PlanRequest struct {
	Join  *ring.Member `json:"join,omitempty"`
	Leave string       `json:"leave,omitempty"`
}

// RebalancePlan is the data movement a membership change requires: Source
// sends Range to Target with POST /admin/migrate. Nodes is the resulting
// ring.
type RebalancePlan struct {
	Range  model.HashRange        `json:"range"`
	Source string                 `json:"source"`
	Target string                 `json:"target"`
	Nodes  []model.NodeDescriptor `json:"nodes"`
}

// MigrateRequest is the body of POST /admin/migrate. Low and High are
// exclusive bounds.
type MigrateRequest struct {
	Low    util.Hash `json:"low"`
	High   util.Hash `json:"high"`
	Target string    `json:"target"`
}

type errorResponse struct {
	Status    string `json:"status"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

// NewAdminServer creates the admin server. checker and disk may be nil.
func NewAdminServer(
	cfg *AdminServerConfig,
	node *service.StorageService,
	checker *health.HealthChecker,
	disk *diskmanager.DiskManager,
	gatherer prometheus.Gatherer,
	m *metrics.Metrics,
	logger *zap.Logger,
) *AdminServer {
	router := mux.NewRouter()

	s := &AdminServer{
		router: router,
		httpServer: &http.Server{
			Addr:         net.JoinHostPort(cfg.Host, fmt.Sprint(cfg.Port)),
			Handler:      router,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		node:     node,
		checker:  checker,
		disk:     disk,
		gatherer: gatherer,
		metrics:  m,
		logger:   logger,
		validator: validation.NewValidator(),
		interval:  cfg.DiskStatsInterval,
		stopChan:  make(chan struct{}),
	}
	if s.interval <= 0 {
		s.interval = 15 * time.Second
	}
	s.setupRoutes()
	return s
}

func (s *AdminServer) setupRoutes() {
	s.router.Use(s.recovery, requestID, s.logging)

	s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	if s.checker != nil {
		s.router.HandleFunc("/health/live", s.checker.LivenessHandler).Methods(http.MethodGet)
		s.router.HandleFunc("/health/ready", s.checker.ReadinessHandler).Methods(http.MethodGet)
	}

	admin := s.router.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/status", s.statusHandler).Methods(http.MethodGet)
	admin.HandleFunc("/write-lock", s.lockWriteHandler).Methods(http.MethodPost)
	admin.HandleFunc("/write-lock", s.unlockWriteHandler).Methods(http.MethodDelete)
	admin.HandleFunc("/metadata", s.metadataHandler).Methods(http.MethodPut)
	admin.HandleFunc("/ring", s.ringHandler).Methods(http.MethodPut)
	admin.HandleFunc("/ring/plan", s.planHandler).Methods(http.MethodPost)
	admin.HandleFunc("/keys/{key}", s.locateHandler).Methods(http.MethodGet)
	admin.HandleFunc("/members", s.membersHandler).Methods(http.MethodGet)
	admin.HandleFunc("/migrate", s.migrateHandler).Methods(http.MethodPost)
	admin.HandleFunc("/cache", s.clearCacheHandler).Methods(http.MethodDelete)
	admin.HandleFunc("/storage", s.clearStorageHandler).Methods(http.MethodDelete)

	s.router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, "not_found", "endpoint not found")
	})
	s.router.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})
}

// SetGossip exposes gossip membership on /admin/members
func (s *AdminServer) SetGossip(g MemberLister) {
	s.gossip = g
}

// Handler returns the router, for tests
func (s *AdminServer) Handler() http.Handler {
	return s.router
}

// Start binds the admin port and serves in the background
func (s *AdminServer) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to bind admin server: %w", err)
	}
	s.logger.Info("Starting admin server", zap.String("addr", ln.Addr().String()))

	go s.collectDiskStats()

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Admin server failed", zap.Error(err))
		}
	}()
	return nil
}

// Stop gracefully stops the admin server
func (s *AdminServer) Stop(ctx context.Context) error {
	s.logger.Info("Stopping admin server")
	close(s.stopChan)

	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("admin server shutdown failed: %w", err)
	}
	return nil
}

func (s *AdminServer) collectDiskStats() {
	if s.disk == nil {
		return
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.updateDiskStats()
		select {
		case <-ticker.C:
		case <-s.stopChan:
			return
		}
	}
}

func (s *AdminServer) updateDiskStats() {
	usage := s.disk.Usage()
	s.metrics.UpdateDiskStats(usage.UsagePercent, usage.AvailableBytes)
}

func (s *AdminServer) statusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.node.Info())
}

func (s *AdminServer) lockWriteHandler(w http.ResponseWriter, r *http.Request) {
	s.node.LockWrite()
	writeJSON(w, http.StatusOK, map[string]bool{"write_locked": true})
}

func (s *AdminServer) unlockWriteHandler(w http.ResponseWriter, r *http.Request) {
	s.node.UnlockWrite()
	writeJSON(w, http.StatusOK, map[string]bool{"write_locked": false})
}

func (s *AdminServer) metadataHandler(w http.ResponseWriter, r *http.Request) {
	var desc model.NodeDescriptor
	if err := json.NewDecoder(r.Body).Decode(&desc); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid descriptor: %v", err))
		return
	}
	if desc.Name == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "descriptor name is required")
		return
	}
	desc.NameHash = util.HashString(desc.Name)

	s.node.UpdateMetadata(desc)
	s.logger.Info("Metadata updated", zap.Stringer("descriptor", desc))
	writeJSON(w, http.StatusOK, s.node.Info())
}

func (s *AdminServer) ringHandler(w http.ResponseWriter, r *http.Request) {
	var nodes []model.NodeDescriptor
	if err := json.NewDecoder(r.Body).Decode(&nodes); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid ring: %v", err))
		return
	}
	for i := range nodes {
		nodes[i].NameHash = util.HashString(nodes[i].Name)
	}
	rg, err := ring.New(nodes)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	s.node.UpdateRing(rg)
	s.logger.Info("Ring updated", zap.Int("nodes", rg.Len()))
	writeJSON(w, http.StatusOK, s.node.Info())
}

func (s *AdminServer) planHandler(w http.ResponseWriter, r *http.Request) {
	var req PlanRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid plan request: %v", err))
		return
	}
	if (req.Join == nil) == (req.Leave == "") {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "exactly one of join and leave is required")
		return
	}

	current := s.node.Ring()
	var plan RebalancePlan
	if req.Join != nil {
		next, rng, succ, err := current.With(*req.Join)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		plan = RebalancePlan{Range: rng, Source: succ, Target: req.Join.Name, Nodes: next.Nodes()}
	} else {
		next, rng, succ, err := current.Without(req.Leave)
		if err != nil {
			writeError(w, r, http.StatusNotFound, errors.ErrCodeUnknownNode.String(), err.Error())
			return
		}
		plan = RebalancePlan{Range: rng, Source: req.Leave, Target: succ, Nodes: next.Nodes()}
	}
	writeJSON(w, http.StatusOK, plan)
}

func (s *AdminServer) locateHandler(w http.ResponseWriter, r *http.Request) {
	key := mux.Vars(r)["key"]
	if err := s.validator.ValidateKey(key); err != nil {
		writeError(w, r, http.StatusBadRequest, errors.GetCode(err).String(), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.node.Locate(key))
}

func (s *AdminServer) membersHandler(w http.ResponseWriter, r *http.Request) {
	if s.gossip == nil {
		writeError(w, r, http.StatusServiceUnavailable, errors.ErrCodeUnavailable.String(), "gossip is not enabled")
		return
	}
	writeJSON(w, http.StatusOK, s.gossip.Members())
}

func (s *AdminServer) migrateHandler(w http.ResponseWriter, r *http.Request) {
	var req MigrateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("invalid migration request: %v", err))
		return
	}
	if req.Target == "" {
		writeError(w, r, http.StatusBadRequest, "invalid_request", "target is required")
		return
	}

	result, err := s.node.MoveData(r.Context(), model.HashRange{Low: req.Low, High: req.High}, req.Target)
	if err != nil {
		code := errors.GetCode(err)
		writeError(w, r, httpStatus(code), code.String(), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *AdminServer) clearCacheHandler(w http.ResponseWriter, r *http.Request) {
	s.node.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

func (s *AdminServer) clearStorageHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.node.ClearStorage(); err != nil {
		writeError(w, r, http.StatusInternalServerError, errors.GetCode(err).String(), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func httpStatus(code errors.ErrorCode) int {
	switch code {
	case errors.ErrCodeInvalidArgument:
		return http.StatusBadRequest
	case errors.ErrCodeUnknownNode:
		return http.StatusNotFound
	case errors.ErrCodeUnavailable:
		return http.StatusServiceUnavailable
	case errors.ErrCodeMigrationFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, message string) {
	writeJSON(w, code, errorResponse{
		Status:    "error",
		ErrorCode: errCode,
		Message:   message,
		RequestID: r.Header.Get("X-Request-ID"),
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
			r.Header.Set("X-Request-ID", id)
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *AdminServer) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)

		s.logger.Info("Admin request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rw.status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", r.Header.Get("X-Request-ID")))
	})
}

func (s *AdminServer) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("Panic in admin handler",
					zap.Any("panic", err),
					zap.String("path", r.URL.Path))
				writeError(w, r, http.StatusInternalServerError, "internal", "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
