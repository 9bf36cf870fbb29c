// Package api exposes the engine over HTTP JSON: the chat boundary plus the
// admin endpoints for rules, the email directory and the corpus index.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"doran/internal/engine"
	"doran/internal/metrics"
)

// Config holds the HTTP server settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

// NewRouter creates the API router with all routes configured.
func NewRouter(eng *engine.Engine, m *metrics.Metrics, logger zerolog.Logger, requestTimeout time.Duration) http.Handler {
	logger = logger.With().Str("component", "api").Logger()
	if requestTimeout <= 0 {
		requestTimeout = 10 * time.Second
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		snap := eng.Snapshot()
		writeJSON(w, logger, http.StatusOK, map[string]any{
			"status":  "healthy",
			"service": "doran",
			"entries": snap.Len(),
			"version": snap.Version,
		})
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	chat := &chatHandler{engine: eng, logger: logger}
	admin := &adminHandler{engine: eng, logger: logger}

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/chat", chat.Chat)
		r.Get("/sessions/{sessionID}/history", chat.History)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/", admin.ListRules)
			r.Post("/", admin.AddRule)
			r.Put("/{id}", admin.EditRule)
			r.Delete("/{id}", admin.DeleteRule)
		})

		r.Route("/emails", func(r chi.Router) {
			r.Get("/", admin.ListEmails)
			r.Post("/", admin.AddEmail)
			r.Put("/{id}", admin.UpdateEmail)
			r.Delete("/{id}", admin.DeleteEmail)
		})

		r.Post("/index/rebuild", admin.Rebuild)
	})

	return r
}

// requestLogger logs one line per request through zerolog.
func requestLogger(logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := chimiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			defer func() {
				logger.Debug().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Int("status", ww.Status()).
					Int("bytes", ww.BytesWritten()).
					Dur("elapsed", time.Since(start)).
					Str("request_id", chimiddleware.GetReqID(r.Context())).
					Msg("request")
			}()
			next.ServeHTTP(ww, r)
		})
	}
}

// Serve runs the HTTP server until ctx is cancelled, then shuts it down gracefully.
func Serve(ctx context.Context, cfg Config, handler http.Handler, logger zerolog.Logger) error {
	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      handler,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Msg("HTTP server listening")
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		logger.Info().Msg("shutdown requested")
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		return srv.Close()
	}
	logger.Info().Msg("server stopped")
	return nil
}
