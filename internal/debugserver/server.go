// Package debugserver exposes a local ops endpoint for the shell itself:
// /healthz with the lifecycle and supervisor condition, and /metrics in
// Prometheus format. Loopback only; it is diagnostics, not an API.
package debugserver

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/Xardimods/ainomaly/internal/metrics"
	"github.com/Xardimods/ainomaly/internal/state"
	"github.com/Xardimods/ainomaly/internal/supervisor"
)

// Server is the shell's diagnostics listener.
type Server struct {
	logger  *zap.SugaredLogger
	machine *state.Machine
	sup     *supervisor.Supervisor
	httpSrv *http.Server

	mu    sync.RWMutex
	retry func() error
}

// New wires the routes. addr should be a loopback address.
func New(addr string, machine *state.Machine, sup *supervisor.Supervisor, m *metrics.Metrics, logger *zap.SugaredLogger) *Server {
	s := &Server{
		logger:  logger,
		machine: machine,
		sup:     sup,
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", s.handleHealthz)
	r.Post("/retry", s.handleRetry)
	r.Method(http.MethodGet, "/metrics", m.Handler())

	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// SetRetryHandler installs the backend relaunch callback behind POST /retry.
func (s *Server) SetRetryHandler(fn func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retry = fn
}

// Start serves in the background until Shutdown.
func (s *Server) Start() {
	go func() {
		s.logger.Infow("Debug server listening", "addr", s.httpSrv.Addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Warnw("Debug server stopped", "error", err)
		}
	}()
}

// Shutdown stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpSrv.Shutdown(ctx)
}

type healthResponse struct {
	State        state.State      `json:"state"`
	Label        string           `json:"label"`
	Backend      supervisor.State `json:"backend"`
	BackendPID   int              `json:"backend_pid,omitempty"`
	LastExitCode *int             `json:"last_exit_code,omitempty"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	_ = r
	current := s.machine.Current()
	resp := healthResponse{
		State:   current,
		Label:   current.Label(),
		Backend: s.sup.State(),
	}
	if pid := s.sup.PID(); pid != 0 {
		resp.BackendPID = pid
	}
	if exit := s.sup.LastExit(); exit != nil {
		code := exit.Code
		resp.LastExitCode = &code
	}

	w.Header().Set("Content-Type", "application/json")
	if current == state.StateSpawnError {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleRetry(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	retry := s.retry
	s.mu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	if retry == nil {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "backend is externally managed"})
		return
	}
	if err := retry(); err != nil {
		w.WriteHeader(http.StatusConflict)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
		return
	}
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "relaunching"})
}
