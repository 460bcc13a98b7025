// Package health serves the liveness endpoints polled by the hosting platform.
package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"nuclight.org/video-relay-bot/pkg/logger"
)

// StatusText is returned by GET /.
const StatusText = "Bot is running in production mode!"

// Handler serves health check endpoints.
type Handler struct {
	started time.Time
	now     func() time.Time
}

func NewHandler() *Handler {
	return &Handler{started: time.Now(), now: time.Now}
}

// Response is the JSON body of GET /health.
type Response struct {
	Status string `json:"status"`
	Uptime string `json:"uptime"`
}

// Root handles GET / with a fixed plain text status.
func (h *Handler) Root(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(StatusText))
}

// Live handles GET /health.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(Response{
		Status: "ok",
		Uptime: h.now().Sub(h.started).Round(time.Second).String(),
	})
}

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.CleanPath)
	r.Use(middleware.Recoverer)

	r.Get("/", h.Root)
	r.Head("/", h.Root)
	r.Get("/health", h.Live)

	return r
}

// Server runs the health router until its context is cancelled.
type Server struct {
	Log  logger.Logger
	Addr string

	ShutdownTimeout time.Duration
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.Addr,
		Handler:           NewRouter(NewHandler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.Log.Info("health server listening", "addr", s.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serving health endpoint: %w", err)
	case <-ctx.Done():
	}

	timeout := s.ShutdownTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down health server: %w", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serving health endpoint: %w", err)
	}

	return nil
}
