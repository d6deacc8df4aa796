// Package httpapi exposes the fleet control operations over HTTP.
//
// Workers call the /control/workers endpoints to join the fleet, heartbeat,
// and drain; operators use the remaining endpoints for observability and
// manual intervention. All payloads are JSON.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arloliu/fleet/internal/placement"
	"github.com/arloliu/fleet/internal/rebalance"
	"github.com/arloliu/fleet/internal/registry"
	"github.com/arloliu/fleet/types"
)

// Lifecycle errors for the HTTP server.
var (
	ErrAlreadyStarted = errors.New("http server already started")
	ErrNotStarted     = errors.New("http server not started")
)

const shutdownTimeout = 5 * time.Second

// Server is the fleet control HTTP API.
type Server struct {
	registry    *registry.Service
	placement   *placement.Service
	rebalancer  *rebalance.Rebalancer
	collections types.CollectionSource
	logger      types.Logger

	addr       string
	router     *mux.Router
	httpServer *http.Server

	mu      sync.Mutex
	started bool
}

// NewServer creates the control API server listening on addr.
//
// Parameters:
//   - addr: Listen address, e.g. ":8080"
//   - reg: Worker lifecycle service
//   - place: Placement service
//   - rebal: Rebalancer (used by the on-demand rebalance endpoint)
//   - collections: Collection catalog (used to enrich assignment listings)
//   - logger: Logger
//
// Returns:
//   - *Server: A new server; call Start to begin serving
func NewServer(
	addr string,
	reg *registry.Service,
	place *placement.Service,
	rebal *rebalance.Rebalancer,
	collections types.CollectionSource,
	logger types.Logger,
) *Server {
	s := &Server{
		registry:    reg,
		placement:   place,
		rebalancer:  rebal,
		collections: collections,
		logger:      logger,
		addr:        addr,
	}
	s.router = s.buildRouter()

	return s
}

// Handler returns the server's HTTP handler, for tests and for embedding
// into an existing mux.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start begins serving in a background goroutine.
//
// Returns:
//   - error: ErrAlreadyStarted when called twice
func (s *Server) Start(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true

	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		s.logger.Info("http server listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server failed", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down, waiting up to the shutdown timeout
// for in-flight requests.
//
// Returns:
//   - error: ErrNotStarted when Start was never called, or a shutdown failure
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return ErrNotStarted
	}
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return s.httpServer.Shutdown(ctx)
}

func (s *Server) buildRouter() *mux.Router {
	r := mux.NewRouter()

	// Fixed paths are registered before the {id} patterns so "stats" and
	// "rebalance" never match as worker IDs.
	r.HandleFunc("/control/workers/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/control/workers/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/control/workers/rebalance", s.handleRebalance).Methods(http.MethodPost)
	r.HandleFunc("/control/workers/{id}/heartbeat", s.handleHeartbeat).Methods(http.MethodPost)
	r.HandleFunc("/control/workers/{id}/deregister", s.handleDeregister).Methods(http.MethodPost)
	r.HandleFunc("/control/workers/{id}/offline", s.handleOffline).Methods(http.MethodPost)
	r.HandleFunc("/control/workers/{id}/assignments", s.handleWorkerAssignments).Methods(http.MethodGet)
	r.HandleFunc("/control/workers/{id}", s.handleGetWorker).Methods(http.MethodGet)
	r.HandleFunc("/control/workers", s.handleListWorkers).Methods(http.MethodGet)

	r.HandleFunc("/control/collections/{id}/assign", s.handleAssign).Methods(http.MethodPost)
	r.HandleFunc("/control/collections/{id}/mark-ready", s.handleMarkReady).Methods(http.MethodPost)
	r.HandleFunc("/control/collections/{id}/assignments", s.handleCollectionAssignments).Methods(http.MethodGet)
	r.HandleFunc("/control/assignments/{id}/unassign", s.handleUnassign).Methods(http.MethodPost)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)

	return r
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registry.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Host == "" || req.Port <= 0 {
		s.writeErrorStatus(w, http.StatusBadRequest, "host and port are required")
		return
	}

	worker, err := s.registry.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, worker)
}

func (s *Server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req registry.HeartbeatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorStatus(w, http.StatusBadRequest, "invalid request body")
		return
	}

	worker, err := s.registry.Heartbeat(r.Context(), mux.Vars(r)["id"], req)
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, worker)
}

func (s *Server) handleDeregister(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.Deregister(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleOffline(w http.ResponseWriter, r *http.Request) {
	if err := s.registry.MarkOffline(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	var (
		workers []*types.Worker
		err     error
	)

	if status := r.URL.Query().Get("status"); status != "" {
		workers, err = s.registry.ListByStatus(r.Context(), types.WorkerStatus(status))
	} else {
		workers, err = s.registry.List(r.Context())
	}
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, workers)
}

func (s *Server) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	worker, err := s.registry.FindByID(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, worker)
}

// AssignmentView is an assignment enriched with its collection's name for
// listing endpoints.
type AssignmentView struct {
	*types.Assignment
	CollectionName string `json:"collectionName,omitempty"`
}

func (s *Server) handleWorkerAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := s.placement.FindByWorker(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.enrich(r.Context(), assignments))
}

func (s *Server) handleCollectionAssignments(w http.ResponseWriter, r *http.Request) {
	assignments, err := s.placement.FindByCollection(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, s.enrich(r.Context(), assignments))
}

func (s *Server) enrich(ctx context.Context, assignments []*types.Assignment) []AssignmentView {
	views := make([]AssignmentView, 0, len(assignments))
	names := make(map[string]string)

	for _, a := range assignments {
		name, ok := names[a.CollectionID]
		if !ok {
			if collection, err := s.collections.Collection(ctx, a.CollectionID); err == nil {
				name = collection.Name
			}
			names[a.CollectionID] = name
		}

		views = append(views, AssignmentView{Assignment: a, CollectionName: name})
	}

	return views
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.registry.Stats(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRebalance(w http.ResponseWriter, r *http.Request) {
	report, err := s.rebalancer.Rebalance(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	assignment, err := s.placement.AssignCollection(
		r.Context(), mux.Vars(r)["id"], r.URL.Query().Get("tenantId"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusCreated, assignment)
}

func (s *Server) handleMarkReady(w http.ResponseWriter, r *http.Request) {
	workerID := r.URL.Query().Get("workerId")
	if workerID == "" {
		s.writeErrorStatus(w, http.StatusBadRequest, "workerId query parameter is required")
		return
	}

	if err := s.placement.MarkReady(r.Context(), mux.Vars(r)["id"], workerID); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUnassign(w http.ResponseWriter, r *http.Request) {
	if err := s.placement.UnassignCollection(r.Context(), mux.Vars(r)["id"]); err != nil {
		s.writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Warn("failed to encode response", "error", err)
	}
}

// writeError maps domain errors to HTTP statuses: unknown resources to 404,
// exhausted capacity to 409, everything else to 500.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	switch {
	case types.IsNotFound(err):
		s.writeErrorStatus(w, http.StatusNotFound, err.Error())
	case errors.Is(err, types.ErrNoWorkersAvailable):
		s.writeErrorStatus(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("request failed", "error", err)
		s.writeErrorStatus(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeErrorStatus(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg})
}
