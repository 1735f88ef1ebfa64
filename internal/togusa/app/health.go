package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/bdobrica/Togusa/common/version"
	"github.com/bdobrica/Togusa/internal/togusa/store"
)

// HealthServer exposes /health and /status. It is optional; Togusa runs
// without it when HealthAddr is empty.
type HealthServer struct {
	addr      string
	store     statusProvider
	startedAt time.Time
	server    *http.Server
	mux       *http.ServeMux
}

// statusProvider is the minimal interface the health server needs from Store.
type statusProvider interface {
	CountMessagesByStatus(ctx context.Context) (map[store.Status]int, error)
	GetSettings(ctx context.Context) (*store.Settings, error)
	ActiveModelVersion(ctx context.Context) (*store.ModelVersion, error)
}

// healthResponse is returned by GET /health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	Commit  string `json:"commit"`
}

// modelStatus summarises the active model version for GET /status.
type modelStatus struct {
	Version  int     `json:"version"`
	Template string  `json:"template"`
	Accuracy float64 `json:"accuracy"`
	F1       float64 `json:"f1"`
}

// statusResponse is returned by GET /status.
type statusResponse struct {
	Status           string         `json:"status"`
	Version          string         `json:"version"`
	Commit           string         `json:"commit"`
	BuildTime        string         `json:"build_time"`
	StartedAt        time.Time      `json:"started_at"`
	UptimeSecs       float64        `json:"uptime_seconds"`
	Queue            map[string]int `json:"queue"`
	ActiveModel      *modelStatus   `json:"active_model,omitempty"`
	NewGold          int            `json:"new_gold_since_train"`
	RetrainThreshold int            `json:"retrain_gold_threshold"`
	AutoRetrain      bool           `json:"auto_retrain"`
}

// NewHealthServer creates and configures the HTTP server (does not start it).
func NewHealthServer(addr string, sp statusProvider) *HealthServer {
	mux := http.NewServeMux()
	hs := &HealthServer{
		addr:      addr,
		store:     sp,
		startedAt: time.Now(),
		mux:       mux,
	}
	mux.HandleFunc("/health", hs.handleHealth)
	mux.HandleFunc("/status", hs.handleStatus)
	return hs
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live network listener (e.g. with httptest.NewRecorder).
func (h *HealthServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// Start begins listening in the background. Blocks until the listener is
// established so the caller knows the port is open before returning.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return fmt.Errorf("health server: listen %s: %w", h.addr, err)
	}

	h.server = &http.Server{
		Handler:      h,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("health server listening", "addr", ln.Addr().String())
		if err := h.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("health server stopped", "err", err)
		}
	}()

	// Shutdown when ctx is cancelled.
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			slog.Warn("health server shutdown error", "err", err)
		}
	}()

	return nil
}

// Stop shuts down the HTTP server.
func (h *HealthServer) Stop() {
	if h.server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.server.Shutdown(ctx); err != nil {
		slog.Warn("health server shutdown error", "err", err)
	}
}

// handleHealth responds with a simple ok JSON payload.
func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:  "ok",
		Version: version.Version,
		Commit:  version.GitCommit,
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleStatus responds with pipeline statistics. Individual lookups that
// fail leave their field empty rather than failing the whole response.
func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	queueCounts := map[string]int{}
	if counts, err := h.store.CountMessagesByStatus(ctx); err == nil {
		for status, n := range counts {
			queueCounts[string(status)] = n
		}
	}

	resp := statusResponse{
		Status:     "ok",
		Version:    version.Version,
		Commit:     version.GitCommit,
		BuildTime:  version.BuildTime,
		StartedAt:  h.startedAt,
		UptimeSecs: time.Since(h.startedAt).Seconds(),
		Queue:      queueCounts,
	}

	if settings, err := h.store.GetSettings(ctx); err == nil {
		resp.NewGold = settings.NewGoldSinceLastTrain
		resp.RetrainThreshold = settings.RetrainGoldThreshold
		resp.AutoRetrain = settings.AutoRetrainEnabled
	}

	mv, err := h.store.ActiveModelVersion(ctx)
	if err == nil {
		resp.ActiveModel = &modelStatus{
			Version:  mv.Version,
			Template: mv.TrainTemplate,
			Accuracy: mv.Accuracy,
			F1:       mv.F1,
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Warn("status: failed to load active model", "err", err)
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON serialises v as JSON and writes it to w with the given status code.
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("health: failed to encode JSON response", "err", err)
	}
}
