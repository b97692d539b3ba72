// Package httpapi is a thin, unauthenticated network façade over
// internal/facade. It exists to demonstrate wiring the service layer to a
// transport, not to provide a production gateway: no auth middleware, no
// rate limiting, no admin routes. A real deployment fronts this with its
// own auth/routing, per spec §4.7's scope note. Route registration and the
// request-count/logging middleware are grounded on FairForge's
// internal/api/server.go (Server, chi.Router wiring, loggingMiddleware).
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/memcontext/vault/internal/facade"
)

// Server wraps a chi.Router exposing the memory store's lifecycle API.
type Server struct {
	facade     *facade.Facade
	logger     *zap.Logger
	router     chi.Router
	httpServer *http.Server

	requestCount int64
	errorCount   int64
	startTime    time.Time
}

// NewServer builds a Server bound to addr, wiring every facade operation
// to a route under /api/v1.
func NewServer(addr string, f *facade.Facade, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		facade:    f,
		logger:    logger,
		router:    chi.NewRouter(),
		startTime: time.Now(),
	}
	s.router.Use(s.loggingMiddleware)
	s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/version", s.handleVersion)
	s.router.Get("/metrics", s.handleMetrics)

	s.router.Route("/api/v1/memories", func(r chi.Router) {
		r.Post("/", s.handleCreateMemory)
		r.Get("/{id}", s.handleGetMemory)
		r.Patch("/{id}", s.handleUpdateMemory)
		r.Delete("/{id}", s.handleDeleteMemory)
		r.Get("/", s.handleSearchMemories)
		r.Post("/bulk", s.handleBulkCreate)
		r.Get("/{id}/chunks", s.handleChunkInfo)
		r.Post("/{id}/compact", s.handleCompactStorage)
	})

	s.router.Route("/api/v1/contexts", func(r chi.Router) {
		r.Post("/", s.handleCreateContext)
		r.Get("/{id}", s.handleGetContext)
		r.Delete("/{id}", s.handleDeleteContext)
		r.Get("/", s.handleListContexts)
	})

	s.router.Route("/api/v1/relations", func(r chi.Router) {
		r.Post("/", s.handleCreateRelation)
		r.Delete("/{id}", s.handleDeleteRelation)
	})

	s.router.Post("/api/v1/books", s.handleIngestBook)
	s.router.Get("/api/v1/stats", s.handleStatistics)
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&s.requestCount, 1)
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		if rec.status >= 400 {
			atomic.AddInt64(&s.errorCount, 1)
		}
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.startTime).String(),
	})
}

func (s *Server) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"go": runtime.Version()})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	body := fmt.Sprintf("memvault_requests_total %d\nmemvault_errors_total %d\n",
		atomic.LoadInt64(&s.requestCount), atomic.LoadInt64(&s.errorCount))
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte(body))
}

// Start runs the HTTP server until it errors or is shut down.
func (s *Server) Start() error {
	s.logger.Info("httpapi listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, logger *zap.Logger, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
	if status >= 500 {
		logger.Error("request failed", zap.Error(err))
	}
}
