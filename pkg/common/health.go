package common

import (
	"net/http"
	"sync/atomic"
	"time"
)

// HealthServer exposes liveness and readiness probes for a service that has
// no HTTP surface of its own. Liveness always succeeds once the process is
// up; readiness flips when the service reports it has finished wiring.
type HealthServer struct {
	ready  *atomic.Bool
	server *http.Server
}

// NewHealthServer starts serving probes on addr in a background goroutine.
func NewHealthServer(addr string, ready *atomic.Bool) *HealthServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !ready.Load() {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	go func() { _ = srv.ListenAndServe() }()

	return &HealthServer{ready: ready, server: srv}
}

// Server returns the underlying HTTP server for shutdown.
func (h *HealthServer) Server() *http.Server { return h.server }
