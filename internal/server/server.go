// Package server exposes the memory service over HTTP.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/raphaelgruber/memu-go/internal/metrics"
	"github.com/raphaelgruber/memu-go/internal/models"
)

// maxBodyBytes bounds memorize and retrieve request bodies.
const maxBodyBytes = 10 << 20

// Memory is the service the HTTP layer drives.
type Memory interface {
	Memorize(ctx context.Context, raw []byte) (*models.MemorizeResult, error)
	Retrieve(ctx context.Context, q models.RetrievalQuery) (*models.RetrievalResult, error)
	Conversation(ctx context.Context, id string) (*models.ConversationRecord, error)
}

// Options configures a Server.
type Options struct {
	Addr      string
	RateLimit float64 // requests per second per client, 0 disables
	RateBurst int
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Server wraps the HTTP handler with lifecycle management.
type Server struct {
	memory  Memory
	metrics *metrics.Collector
	logger  *slog.Logger
	handler http.Handler
	http    *http.Server
}

// New creates a server for memory. Routes and middleware are ready on return.
func New(memory Memory, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		memory:  memory,
		metrics: opts.Metrics,
		logger:  logger.With("component", "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /memorize", s.handleMemorize)
	mux.HandleFunc("POST /retrieve", s.handleRetrieve)
	mux.HandleFunc("GET /conversations/{id}", s.handleConversation)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	mux.HandleFunc("GET /{$}", s.handleRoot)

	s.handler = Chain(mux,
		LoggingMiddleware(s.logger),
		RateLimitMiddleware(opts.RateLimit, opts.RateBurst, s.logger),
	)
	s.http = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // memorize waits on several model calls
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves until ctx is canceled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", s.http.Addr)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}
