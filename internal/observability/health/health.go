// Package health serves the bridge's ambient HTTP surface: liveness,
// readiness, and a Prometheus metrics scrape endpoint. This surface is
// read-only and exists purely for operators and orchestrators — all
// control of the bridge itself happens over MQTT.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Status is the bridge's overall health classification.
type Status string

const (
	StatusStarting Status = "starting"
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusStopping Status = "stopping"
)

// Checker reports whether a dependency the bridge relies on is currently up.
// Implemented by the MQTT broker wrapper and the bridge core state machine.
type Checker interface {
	IsConnected() bool
}

// Reporter serves /healthz, /readyz, and /metrics over HTTP.
//
// Thread Safety:
//   - All exported methods are safe for concurrent use.
type Reporter struct {
	startTime time.Time

	mu       sync.RWMutex
	checkers map[string]Checker
	status   Status
	reason   string

	server *http.Server
}

// New creates a Reporter bound to addr. Call Start to begin serving.
func New(addr string) *Reporter {
	r := &Reporter{
		startTime: time.Now(),
		checkers:  make(map[string]Checker),
		status:    StatusStarting,
	}

	mux := chi.NewRouter()
	mux.Get("/healthz", r.handleHealthz)
	mux.Get("/readyz", r.handleReadyz)
	mux.Handle("/metrics", promhttp.Handler())

	r.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	return r
}

// RegisterChecker adds a named dependency check consulted by /readyz.
func (r *Reporter) RegisterChecker(name string, c Checker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkers[name] = c
}

// SetStatus updates the overall health classification, e.g. when the bridge
// core state machine transitions between ONLINE, LAN_ONLY, and OFFLINE.
func (r *Reporter) SetStatus(status Status, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.status = status
	r.reason = reason
}

// Start begins serving HTTP in a background goroutine. It returns
// immediately; errors from ListenAndServe other than shutdown are sent on
// the returned channel.
func (r *Reporter) Start() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Stop gracefully shuts down the HTTP server.
func (r *Reporter) Stop(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

type healthzResponse struct {
	Status  string `json:"status"`
	Reason  string `json:"reason,omitempty"`
	Uptime  string `json:"uptime"`
}

// handleHealthz reports liveness: the process is running and serving HTTP.
// It does not consult dependency checkers — a bridge that is LAN_ONLY or
// even OFFLINE is still alive.
func (r *Reporter) handleHealthz(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	status, reason := r.status, r.reason
	r.mu.RUnlock()

	resp := healthzResponse{
		Status: string(status),
		Reason: reason,
		Uptime: time.Since(r.startTime).Round(time.Second).String(),
	}

	w.Header().Set("Content-Type", "application/json")
	if status == StatusStopping {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}

type readyzResponse struct {
	Ready    bool            `json:"ready"`
	Checkers map[string]bool `json:"checkers"`
}

// handleReadyz reports readiness: every registered dependency checker must
// report connected for the bridge to be considered ready to take traffic.
func (r *Reporter) handleReadyz(w http.ResponseWriter, req *http.Request) {
	r.mu.RLock()
	checkers := make(map[string]Checker, len(r.checkers))
	for name, c := range r.checkers {
		checkers[name] = c
	}
	r.mu.RUnlock()

	resp := readyzResponse{Ready: true, Checkers: make(map[string]bool, len(checkers))}
	for name, c := range checkers {
		up := c.IsConnected()
		resp.Checkers[name] = up
		if !up {
			resp.Ready = false
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if !resp.Ready {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_ = json.NewEncoder(w).Encode(resp)
}
