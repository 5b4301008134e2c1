package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/maltedev/price-crawler/internal/checkpoint"
	"github.com/maltedev/price-crawler/internal/config"
	"github.com/maltedev/price-crawler/internal/status"
)

type StatusSource interface {
	Snapshot() status.Snapshot
}

type CheckpointSource interface {
	Load() (*checkpoint.Checkpoint, error)
}

// StatusResponse is the body of GET /status.
type StatusResponse struct {
	Run        status.Snapshot        `json:"run"`
	Checkpoint *checkpoint.Checkpoint `json:"checkpoint,omitempty"`
}

type Handlers struct {
	status      StatusSource
	checkpoints CheckpointSource
	started     time.Time
	logger      *slog.Logger
}

func NewHandlers(st StatusSource, checkpoints CheckpointSource, logger *slog.Logger) *Handlers {
	return &Handlers{
		status:      st,
		checkpoints: checkpoints,
		started:     time.Now(),
		logger:      logger,
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"uptime": time.Since(h.started).Round(time.Second).String(),
	})
}

func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	resp := StatusResponse{Run: h.status.Snapshot()}
	if h.checkpoints != nil {
		cp, err := h.checkpoints.Load()
		if err != nil {
			h.logger.Error("failed to load checkpoint", "error", err)
			h.respondError(w, http.StatusInternalServerError, "failed to load checkpoint")
			return
		}
		if cp != nil && !cp.IsEmpty() {
			resp.Checkpoint = cp
		}
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}

// NewRouter wires the read-only status endpoints.
func NewRouter(h *Handlers) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"http://localhost:*", "https://localhost:*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", h.Health)
	r.Get("/status", h.Status)
	return r
}

// Server serves the status API for the lifetime of a crawl.
type Server struct {
	srv             *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

func NewServer(cfg config.ServerConfig, h *Handlers, logger *slog.Logger) *Server {
	return &Server{
		srv: &http.Server{
			Addr:         cfg.Addr,
			Handler:      NewRouter(h),
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		},
		shutdownTimeout: cfg.ShutdownTimeout,
		logger:          logger.With("component", "status_api"),
	}
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("status server starting", "addr", s.srv.Addr)
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := s.srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("server shutdown failed", "error", err)
		return err
	}
	s.logger.Info("status server stopped")
	return nil
}
