package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"cfkv/pkg/config"
	"cfkv/pkg/store"
)

const (
	contentTypeJSON        = "application/json"
	defaultShutdownTimeout = time.Second * 5
)

type iTableAPI interface {
	Put(row []byte, family string, qualifier, value []byte) error
	PutIfAbsent(row []byte, family string, qualifier, value []byte) error
	Add(row []byte, family string, qualifier []byte, delta int64) error
	AddInt64(row []byte, family string, qualifier []byte, delta int64) error
	Append(row []byte, family string, qualifier, suffix []byte) error

	DeleteRow(row []byte) error
	DeleteFamily(row []byte, family string) error
	DeleteColumn(row []byte, family string, qualifier []byte) error
	DeleteLatest(row []byte, family string, qualifier []byte) error

	Get(row []byte, family string, qualifier []byte) ([]byte, bool, error)
	GetCounter(row []byte, family string, qualifier []byte) (int64, bool, error)
	GetInt64(row []byte, family string, qualifier []byte) (int64, bool, error)
	ScanRow(row []byte) ([]store.Cell, error)

	Flush() error
	Compact(ctx context.Context) (store.Report, error)
	Stats() store.Stats
	Subscribe() (<-chan store.Event, func())
}

// Server represents the HTTP server in front of one table
type Server struct {
	table      iTableAPI
	metrics    http.Handler
	httpServer *http.Server
	cfg        config.ServerConfig
	URL        string
	addr       string
}

// NewServer creates a new server instance. metrics serves /metrics and may
// be nil.
func NewServer(table iTableAPI, cfg config.ServerConfig, metrics http.Handler) *Server {
	if metrics == nil {
		metrics = http.NotFoundHandler()
	}
	port := strconv.Itoa(cfg.Port)
	return &Server{
		table:   table,
		metrics: metrics,
		cfg:     cfg,
		URL:     "http://localhost:" + port,
		addr:    ":" + port,
	}
}

// Start starts the server
func (s *Server) Start() error {
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	return nil
}

// Stop stops the server
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to shutdown HTTP server: %w", err)
		}
	}
	return nil
}

// createRouter builds chi router
func (s *Server) createRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", s.metrics)

	r.Route("/api", func(r chi.Router) {
		r.Put("/cell", s.handlePut)
		r.Get("/cell", s.handleGet)
		r.Delete("/cell", s.handleDeleteCell)
		r.Post("/cell/add", s.handleAdd)
		r.Post("/cell/append", s.handleAppend)

		r.Get("/row", s.handleScanRow)
		r.Delete("/row", s.handleDeleteRow)
		r.Delete("/family", s.handleDeleteFamily)

		r.Post("/flush", s.handleFlush)
		r.Post("/compact", s.handleCompact)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) startHTTPServer() error {
	s.httpServer = &http.Server{
		Addr:              s.addr,
		Handler:           s.createRouter(),
		ReadHeaderTimeout: s.cfg.ReadHeaderTimeout,
	}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	slog.Info("HTTP server started", "addr", s.URL)
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("Error encoding response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, store.ErrEmptyRow), errors.Is(err, store.ErrUnknownFamily):
		status = http.StatusBadRequest
	case errors.Is(err, store.ErrEntryTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, store.ErrValueTypeMismatch):
		status = http.StatusUnprocessableEntity
	case errors.Is(err, store.ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
	}
	s.writeJSON(w, status, NewErrorResponse(err.Error()))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewOKResponse())
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, NewStatsResponse(s.table.Stats()))
}

func (s *Server) handleFlush(w http.ResponseWriter, r *http.Request) {
	if err := s.table.Flush(); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewSuccessResponse())
}

func (s *Server) handleCompact(w http.ResponseWriter, r *http.Request) {
	rep, err := s.table.Compact(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, NewReportResponse(rep))
}
