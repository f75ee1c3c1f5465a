package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"conveyor/internal/api"
	"conveyor/internal/config"
	"conveyor/internal/logging"
	"conveyor/internal/preflight"
	"conveyor/internal/services"
)

type apiServer struct {
	bind    string
	logger  *slog.Logger
	daemon  *Daemon
	execSvc *api.ExecutionService

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, errors.New("api bind address is empty")
	}

	srv := &apiServer{
		bind:    bind,
		logger:  logging.NewComponentLogger(logger, "api"),
		daemon:  d,
		execSvc: api.NewExecutionService(d.store),
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/executions", authMiddleware(token, srv.handleExecutions))
	mux.HandleFunc("/api/executions/", authMiddleware(token, srv.handleExecution))
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.Handle("/metrics", d.metrics.Handler())

	srv.server = &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

func (s *apiServer) start(ctx context.Context) error {
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("api server listening", logging.String("address", listener.Addr().String()))
	return nil
}

func (s *apiServer) addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// handleExecutions serves POST (trigger) and GET (list) on /api/executions.
func (s *apiServer) handleExecutions(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleTrigger(w, r)
	case http.MethodGet:
		limit := 50
		executions, err := s.execSvc.Executions(r.Context(), limit)
		if err != nil {
			s.writeError(w, http.StatusInternalServerError, err)
			return
		}
		s.writeJSON(w, http.StatusOK, executions)
	default:
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
	}
}

func (s *apiServer) handleTrigger(w http.ResponseWriter, r *http.Request) {
	var req api.TriggerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("decode trigger request: %w", err))
		return
	}

	ctx := services.WithRequestID(r.Context(), r.Header.Get("X-Request-Id"))
	execution, err := s.daemon.engine.StartExecution(ctx, req.WorkItem)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, services.ErrValidation) {
			status = http.StatusBadRequest
		}
		s.writeError(w, status, err)
		return
	}

	startedAt := execution.CreatedAt
	if execution.StartedAt != nil {
		startedAt = *execution.StartedAt
	}
	s.writeJSON(w, http.StatusAccepted, api.TriggerResponse{
		ExecutionID: execution.ID,
		StartedAt:   startedAt,
	})
}

// handleExecution serves GET /api/executions/{id} and
// GET /api/executions/{id}/submissions.
func (s *apiServer) handleExecution(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/executions/")
	id, suffix, _ := strings.Cut(rest, "/")
	if id == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("execution id is required"))
		return
	}

	switch suffix {
	case "":
		execution, err := s.execSvc.Execution(r.Context(), id)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, execution)
	case "submissions":
		submissions, err := s.execSvc.Submissions(r.Context(), id)
		if err != nil {
			s.writeLookupError(w, err)
			return
		}
		s.writeJSON(w, http.StatusOK, submissions)
	default:
		http.Error(w, `{"error":"not found"}`, http.StatusNotFound)
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, `{"error":"method not allowed"}`, http.StatusMethodNotAllowed)
		return
	}

	counts, err := s.execSvc.Counts(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}

	pools := make([]api.PoolStatus, 0, 2)
	poolCfgs := map[string]config.Pool{
		string(config.ClassLight):       s.daemon.cfg.Pools.Light,
		string(config.ClassAccelerated): s.daemon.cfg.Pools.Accelerated,
	}
	for _, p := range s.daemon.pools.Pools() {
		cfg := poolCfgs[string(p.Class())]
		pools = append(pools, api.PoolStatus{
			Class:              string(p.Class()),
			CapacityUnits:      p.Capacity(),
			InFlightUnits:      p.InFlight(),
			WaitingRequests:    p.Waiting(),
			AllocationStrategy: cfg.AllocationStrategy,
			PricingClass:       cfg.PricingClass,
		})
	}

	checks := preflight.Run(s.daemon.cfg)
	preflightViews := make([]api.PreflightCheck, 0, len(checks))
	for _, check := range checks {
		preflightViews = append(preflightViews, api.PreflightCheck{
			Name:   check.Name,
			Passed: check.Passed,
			Detail: check.Detail,
		})
	}

	s.writeJSON(w, http.StatusOK, api.StatusSummary{
		Running:    s.daemon.Running(),
		Executions: counts,
		Pools:      pools,
		Preflight:  preflightViews,
		VolumeRoot: s.daemon.cfg.Paths.VolumeRoot,
		DBPath:     s.daemon.store.Path(),
	})
}

func (s *apiServer) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, services.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	s.writeError(w, http.StatusInternalServerError, err)
}

func (s *apiServer) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Debug("encode response", logging.Error(err))
	}
}

// writeError renders the human-readable part of the error; sentinel
// classification prefixes stay server-side.
func (s *apiServer) writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": services.Message(err)})
}
