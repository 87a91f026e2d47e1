// Package http serves the inbox worker's health and Prometheus endpoints.
package http

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	applog "comprobantes/internal/log"
)

// BatchStatus summarises the last inbox batch.
type BatchStatus struct {
	FinishedAt time.Time `json:"finishedAt"`
	Processed  int       `json:"processed"`
	Duplicates int       `json:"duplicates"`
	Failed     int       `json:"failed"`
}

// Tracker holds the most recent BatchStatus. The zero value is ready to use.
type Tracker struct {
	mu   sync.RWMutex
	last *BatchStatus
}

func (t *Tracker) Set(s BatchStatus) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.last = &s
}

// Last returns the recorded status and whether any batch has completed.
func (t *Tracker) Last() (BatchStatus, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.last == nil {
		return BatchStatus{}, false
	}
	return *t.last, true
}

type healthResponse struct {
	Status    string       `json:"status"`
	LastBatch *BatchStatus `json:"lastBatch,omitempty"`
}

// Server embeds the http.Server serving /healthz and /metrics.
type Server struct {
	http.Server
	tracker    *Tracker
	staleAfter time.Duration
	now        func() time.Time

	shutdownOnce sync.Once
}

// NewServer builds the router. gatherer backs /metrics; staleAfter > 0 makes
// /healthz report 503 once the last batch is older than that.
func NewServer(addr string, gatherer prometheus.Gatherer, tracker *Tracker, staleAfter time.Duration, logger *applog.Logger) *Server {
	if tracker == nil {
		tracker = &Tracker{}
	}
	s := &Server{
		Server: http.Server{
			Addr:              addr,
			ReadHeaderTimeout: 5 * time.Second,
		},
		tracker:    tracker,
		staleAfter: staleAfter,
		now:        time.Now,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	if logger != nil {
		r.Use(applog.RequestLogger(logger))
	}
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	s.Handler = r
	return s
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	code := http.StatusOK
	if last, ok := s.tracker.Last(); ok {
		resp.LastBatch = &last
		if s.staleAfter > 0 && s.now().Sub(last.FinishedAt) > s.staleAfter {
			resp.Status = "stale"
			code = http.StatusServiceUnavailable
		}
	}
	writeJSON(w, code, resp)
}

// Run serves until ctx is cancelled, then shuts down within timeout.
func (s *Server) Run(ctx context.Context, timeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown is safe to call more than once.
func (s *Server) Shutdown(ctx context.Context) error {
	var err error
	s.shutdownOnce.Do(func() {
		err = s.Server.Shutdown(ctx)
	})
	return err
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
