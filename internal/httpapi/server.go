// Package httpapi serves the health and metrics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	logx "phrasebot/pkg/logx"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HealthFunc reports whether the process can serve. A nil error means healthy.
type HealthFunc func(ctx context.Context) error

// Server manages the lifecycle of the HTTP listener. The zero address keeps
// it stopped.
type Server struct {
	mu     sync.Mutex
	log    logx.Logger
	gather prometheus.Gatherer
	health HealthFunc

	// profiling mounts net/http/pprof under /debug when set.
	profiling bool

	srv       *http.Server
	ln        net.Listener
	addr      string
	servedDbg bool
}

func New(log logx.Logger, gather prometheus.Gatherer, health HealthFunc) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	if gather == nil {
		gather = prometheus.DefaultGatherer
	}
	return &Server{log: log.With(logx.String("comp", "http")), gather: gather, health: health}
}

// Router builds the chi router. Exposed for tests.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(15 * time.Second))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gather, promhttp.HandlerOpts{}))
	if s.profiling {
		r.Mount("/debug", middleware.Profiler())
	}
	return r
}

// SetProfiling toggles the /debug/pprof endpoints. A running listener picks
// the change up on the next Apply.
func (s *Server) SetProfiling(on bool) {
	s.mu.Lock()
	s.profiling = on
	s.mu.Unlock()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	body := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.health != nil {
		if err := s.health(r.Context()); err != nil {
			body = map[string]string{"status": "unhealthy", "error": err.Error()}
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

// Apply starts, restarts or stops the listener so it matches addr.
func (s *Server) Apply(ctx context.Context, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if addr == "" {
		s.stopLocked(ctx)
		return
	}
	if s.srv != nil && s.addr == addr && s.servedDbg == s.profiling {
		return
	}
	s.stopLocked(ctx)
	s.startLocked(addr)
}

func (s *Server) startLocked(addr string) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		s.log.Warn("http listen failed", logx.String("addr", addr), logx.Err(err))
		return
	}
	srv := &http.Server{
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
	}
	s.srv = srv
	s.ln = ln
	s.addr = addr
	s.servedDbg = s.profiling

	bound := ln.Addr().String()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Warn("http server error", logx.String("addr", bound), logx.Err(err))
		}
	}()
	s.log.Info("http server started", logx.String("addr", bound), logx.Bool("pprof", s.profiling))
}

// Stop shuts the listener down.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked(ctx)
}

func (s *Server) stopLocked(ctx context.Context) {
	if s.srv == nil {
		return
	}
	srv, ln, addr := s.srv, s.ln, s.addr
	s.srv, s.ln, s.addr = nil, nil, ""

	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn("http shutdown error", logx.String("addr", addr), logx.Err(err))
	}
	_ = ln.Close()
	s.log.Info("http server stopped", logx.String("addr", addr))
}

// Addr reports the bound listen address, or "" when stopped.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}
