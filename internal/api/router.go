// Package api serves the HTTP surface: the streamable-HTTP MCP endpoint,
// health checks and Prometheus metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/p-arndt/pyexec/internal/config"
	"github.com/p-arndt/pyexec/internal/observability"
)

const healthCheckTimeout = 5 * time.Second

// HealthCheck reports an error when a dependency is unusable.
type HealthCheck func(ctx context.Context) error

type Server struct {
	cfg     *config.Config
	mcp     *mcp.Server
	metrics *observability.MetricsCollector
	logger  *slog.Logger
	mux     *http.ServeMux

	checksMu sync.RWMutex
	checks   map[string]HealthCheck
}

// NewServer builds the HTTP surface. mcpServer may be nil, in which case
// only /healthz and /metrics are served.
func NewServer(cfg *config.Config, mcpServer *mcp.Server, metrics *observability.MetricsCollector, logger *slog.Logger) *Server {
	s := &Server{
		cfg:     cfg,
		mcp:     mcpServer,
		metrics: metrics,
		logger:  logger,
		mux:     http.NewServeMux(),
		checks:  make(map[string]HealthCheck),
	}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler {
	return s.requestIDMiddleware(s.metricsMiddleware(s.authMiddleware(s.mux)))
}

// AddCheck registers a named health check run by /healthz.
func (s *Server) AddCheck(name string, check HealthCheck) {
	s.checksMu.Lock()
	defer s.checksMu.Unlock()
	s.checks[name] = check
}

func (s *Server) routes() {
	if s.mcp != nil {
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
			return s.mcp
		}, nil)
		s.mux.Handle("/mcp", handler)
		s.mux.Handle("/mcp/", handler)
	}

	// Health and metrics (no auth)
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.Handle("GET /metrics", s.metrics.Handler())

	s.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		writeAPIError(w, http.StatusNotFound, ErrCodeNotFound, "no route for "+r.URL.Path, nil)
	})
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.checksMu.RLock()
	names := make([]string, 0, len(s.checks))
	for name := range s.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	checks := make([]HealthCheck, len(names))
	for i, name := range names {
		checks[i] = s.checks[name]
	}
	s.checksMu.RUnlock()

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	resp := healthResponse{Status: "ok"}
	if len(names) > 0 {
		resp.Checks = make(map[string]string, len(names))
	}
	for i, name := range names {
		if err := checks[i](ctx); err != nil {
			resp.Status = "degraded"
			resp.Checks[name] = err.Error()
			s.logger.Warn("health check failed", "check", name, "error", err)
			continue
		}
		resp.Checks[name] = "ok"
	}

	status := http.StatusOK
	if resp.Status != "ok" {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp)
}
