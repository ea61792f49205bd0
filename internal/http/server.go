// Package http exposes the derived ledger views and record entry over a
// JSON API, with a server-sent event stream of view updates.
package http

import (
	"context"
	"net"
	"net/http"
	"sync"
	"time"

	"registro/internal/log"
	"registro/internal/middleware/ratelimit"
	"registro/internal/middleware/security"
	"registro/internal/middleware/trace"
	"registro/internal/pipeline"
	"registro/internal/query"
	"registro/internal/services"
)

// Deps are the components the server reads from and writes to.
type Deps struct {
	Pipeline *pipeline.Orchestrator
	Ledger   *services.LedgerService
	Query    *query.Controller

	// Limiter throttles mutating routes; nil disables rate limiting.
	Limiter *ratelimit.Limiter
	// ClientIP resolves the caller behind trusted proxies; nil uses the
	// peer address.
	ClientIP *security.ClientIP
	Logger   *log.Logger
}

type Server struct {
	http.Server

	pipeline *pipeline.Orchestrator
	ledger   *services.LedgerService
	query    *query.Controller
	limiter  *ratelimit.Limiter
	trace    *trace.Middleware
	logger   *log.Logger
	clientIP func(*http.Request) string

	// closing ends open event streams so Shutdown does not wait on them.
	closing      chan struct{}
	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = log.Discard()
	}

	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		pipeline: deps.Pipeline,
		ledger:   deps.Ledger,
		query:    deps.Query,
		limiter:  deps.Limiter,
		logger:   logger.WithComponent(log.ComponentHTTP),
		clientIP: peerIP,
		closing:  make(chan struct{}),
	}
	if deps.ClientIP != nil {
		s.clientIP = deps.ClientIP.Extract
	}
	s.trace = trace.NewMiddleware(logger, s.clientIP)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	// Views
	mux.Handle("GET /api/snapshot", s.read(s.handleSnapshot))
	mux.Handle("GET /api/diff", s.read(s.handleDiff))
	mux.Handle("GET /api/status", s.read(s.handleStatus))
	mux.Handle("GET /api/windows", s.read(s.handleWindows))
	mux.Handle("GET /api/categories", s.read(s.handleCategories))
	mux.Handle("GET /api/events", s.read(s.handleEvents))
	mux.Handle("PUT /api/window", s.write(s.handleSetWindow))
	mux.Handle("PUT /api/kind", s.write(s.handleSetKind))
	mux.Handle("POST /api/refresh", s.write(s.handleRefresh))

	// Records
	mux.Handle("GET /api/records/{id}", s.read(s.handleGetRecord))
	mux.Handle("POST /api/records", s.write(s.handleCreateRecord))
	mux.Handle("PUT /api/records/{id}", s.write(s.handleUpdateRecord))
	mux.Handle("DELETE /api/records/{id}", s.write(s.handleDeleteRecord))
	mux.Handle("POST /api/calc", s.write(s.handleCalc))

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Handler = s.trace.Middleware(headers.Middleware(mux))
	return s
}

// BindContext makes ctx the base context of every request, so request
// handling stops when the application shuts down.
func (s *Server) BindContext(ctx context.Context) {
	s.BaseContext = func(net.Listener) context.Context { return ctx }
}

// Metrics returns the request counters gathered by the trace middleware.
func (s *Server) Metrics() trace.Metrics { return s.trace.GetMetrics() }

func (s *Server) read(h http.HandlerFunc) http.Handler {
	return security.NoStore(h)
}

func (s *Server) write(h http.HandlerFunc) http.Handler {
	if s.limiter == nil {
		return security.NoStore(h)
	}
	limit := s.limiter.Middleware(s.clientIP, func(w http.ResponseWriter, r *http.Request) {
		ErrorResponse(http.StatusTooManyRequests, "rate limit exceeded").Write(w)
	})
	return security.NoStore(limit(h))
}

// Shutdown closes event streams and then shuts the server down gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		close(s.closing)
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func peerIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
