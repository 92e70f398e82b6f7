// Package health serves the brain's /healthz endpoint and, when enabled,
// its Prometheus metrics.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// PingTimeout bounds the Redis check inside one request.
const PingTimeout = 2 * time.Second

// Pinger is the Redis mirror as seen by the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Response is the JSON body of /healthz.
type Response struct {
	Status       string   `json:"status"`
	TasksRunning bool     `json:"tasks_running"`
	Running      []string `json:"running"`
	Threads      int      `json:"threads"`
	Links        []string `json:"links"`
	Redis        string   `json:"redis,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the server's logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l.WithComponent("health")
		}
	}
}

// WithRedis adds a Redis ping to every check. An unreachable server
// reports 503.
func WithRedis(p Pinger) Option {
	return func(s *Server) {
		s.redis = p
	}
}

// WithMetrics mounts h at /metrics.
func WithMetrics(h http.Handler) Option {
	return func(s *Server) {
		s.metrics = h
	}
}

// Server reports task, thread and link state over HTTP.
type Server struct {
	server  *http.Server
	manager *task.Manager
	sup     *thread.Supervisor
	bus     *comms.Bus
	redis   Pinger
	metrics http.Handler
	logger  *logging.Logger

	addr net.Addr
}

// NewServer creates a health server listening on addr.
func NewServer(addr string, m *task.Manager, sup *thread.Supervisor, bus *comms.Bus, opts ...Option) *Server {
	mux := http.NewServeMux()
	s := &Server{
		server: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 5 * time.Second,
		},
		manager: m,
		sup:     sup,
		bus:     bus,
		logger:  logging.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux.HandleFunc("/healthz", s.handleHealthz)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}
	return s
}

// Handler returns the server's HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start binds the listener and serves in a background goroutine. A bind
// failure is returned directly.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.addr = ln.Addr()
	s.logger.Info("health server listening", "addr", ln.Addr().String())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("health server error", "error", err)
		}
		s.logger.Debug("health server stopped")
	}()
	return nil
}

// Addr returns the bound address once Start has succeeded.
func (s *Server) Addr() net.Addr {
	return s.addr
}

// Shutdown waits for in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// Check builds the current health response and its HTTP status code.
func (s *Server) Check(ctx context.Context) (Response, int) {
	resp := Response{
		Status:       "healthy",
		TasksRunning: s.manager.TasksRunning(),
		Running:      s.manager.Running(),
		Threads:      s.sup.ThreadCount(),
		Links:        s.bus.Links(),
	}
	if resp.Running == nil {
		resp.Running = []string{}
	}

	if s.redis == nil {
		return resp, http.StatusOK
	}

	ctx, cancel := context.WithTimeout(ctx, PingTimeout)
	defer cancel()
	if err := s.redis.Ping(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Redis = "unreachable"
		resp.Error = err.Error()
		return resp, http.StatusServiceUnavailable
	}
	resp.Redis = "ok"
	return resp, http.StatusOK
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	resp, code := s.Check(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.logger.Error("failed to encode health response", "error", err)
	}
}
