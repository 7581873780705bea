// Package server exposes the analysis pipeline over HTTP: a trigger
// endpoint, a job status read, and the internal re-evaluation hook used by
// the task-management surface.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/beaconhq/growth-engine/internal/model"
	"github.com/beaconhq/growth-engine/internal/store"
)

// Enqueuer makes a created job claimable by the worker pool.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobID string) error
}

// Reevaluator runs the lightweight per-task re-evaluation flow.
type Reevaluator interface {
	Reevaluate(ctx context.Context, tenantID string, task model.Task) error
}

// Config holds the HTTP surface settings.
type Config struct {
	Port int
	// CompletionWindow is the rolling window within which a tenant may
	// complete at most one job.
	CompletionWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.Port == 0 {
		c.Port = 8080
	}
	if c.CompletionWindow <= 0 {
		c.CompletionWindow = 24 * time.Hour
	}
	return c
}

// Server wires the HTTP handlers to the store, queue, and re-evaluator.
type Server struct {
	store   store.Store
	jobs    Enqueuer
	reeval  Reevaluator
	cfg     Config
	nowFunc func() time.Time
	idFunc  func() string
}

// New creates a Server. reeval may be nil; the re-evaluation endpoint then
// answers 503.
func New(st store.Store, jobs Enqueuer, reeval Reevaluator, cfg Config) *Server {
	return &Server{
		store:   st,
		jobs:    jobs,
		reeval:  reeval,
		cfg:     cfg.withDefaults(),
		nowFunc: time.Now,
		idFunc:  newJobID,
	}
}

// Router builds the chi handler with the full middleware stack.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization"},
	}))

	r.Get("/health", s.handleHealth)
	r.Route("/analysis", func(r chi.Router) {
		r.Post("/", s.handleTriggerAnalysis)
		r.Get("/{job_id}", s.handleGetJob)
	})
	r.Post("/internal/reevaluate", s.handleReevaluate)

	return r
}

// ListenAndServe runs the server until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.cfg.Port),
		Handler: s.Router(),
	}

	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", s.cfg.Port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server: listen")
	}
	return nil
}
