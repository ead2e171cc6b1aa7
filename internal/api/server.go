// Package api is the optional local control surface of a listening trace
// client: health, subscription changes and a server-sent event stream.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/mattjoyce/tracetap/internal/client"
	"github.com/mattjoyce/tracetap/internal/subscription"
)

// Controller is the part of the trace client the API drives.
type Controller interface {
	EnableMessage(module, category string, enable bool) error
	Subscriptions() ([]subscription.Key, error)
	Stats() client.Stats
	WorkDir() string
}

var _ Controller = (*client.Client)(nil)

// Config holds API server configuration
type Config struct {
	Listen string
	// Token, when set, is required as a bearer token on every route except
	// /healthz.
	Token string
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	ctrl      Controller
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	events    *EventHub
}

// New creates a new API server instance
func New(config Config, ctrl Controller, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		ctrl:      ctrl,
		logger:    logger,
		startedAt: time.Now(),
		events:    NewEventHub(256),
	}
}

// Events is the hub behind GET /events.
func (s *Server) Events() *EventHub { return s.events }

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler { return s.setupRoutes() }

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:        s.config.Listen,
		Handler:     router,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: /events streams indefinitely.
	}

	s.logger.Info("control server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("control server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealthz)

	r.Group(func(r chi.Router) {
		if s.config.Token != "" {
			r.Use(s.authMiddleware)
		}
		r.Get("/subscriptions", s.handleListSubscriptions)
		r.Put("/subscriptions/{module}", s.handleSetSubscription)
		r.Put("/subscriptions/{module}/{category}", s.handleSetSubscription)
		r.Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
