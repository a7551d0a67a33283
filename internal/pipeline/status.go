package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// Progress is a point-in-time snapshot of a running conversion, served on
// the status endpoint so long conversions can be watched from outside.
type Progress struct {
	RunID     string `json:"run_id,omitempty"`
	Total     int64  `json:"total_units"`
	Completed int64  `json:"completed_units"`
}

// StatusServer exposes /healthz, /progress and, when a metrics handler is
// supplied, /metrics on the configured bind address.
type StatusServer struct {
	logger   *slog.Logger
	server   *http.Server
	progress func() Progress
	wg       sync.WaitGroup
}

func NewStatusServer(bind string, metrics http.Handler, progress func() Progress, logger *slog.Logger) *StatusServer {
	s := &StatusServer{
		logger:   logger,
		progress: progress,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/progress", s.handleProgress)
	if metrics != nil {
		mux.Handle("/metrics", metrics)
	}

	s.server = &http.Server{
		Addr:              bind,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *StatusServer) Start() {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("status server failed", slog.String("error", err.Error()))
		}
	}()
	s.logger.Info("status server started", slog.String("addr", s.server.Addr))
}

func (s *StatusServer) Shutdown(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("status server shutdown error", slog.String("error", err.Error()))
	}
	s.wg.Wait()
}

func (s *StatusServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *StatusServer) handleProgress(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.progress()); err != nil {
		s.logger.Error("failed to encode progress", slog.String("error", err.Error()))
	}
}
