// Package admin exposes the worker's HTTP control surface: liveness and
// readiness probes, Prometheus metrics, request submission/tracking, and
// a processor snapshot for operators, built on gorilla/mux.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lsst-qserv/worker-replicad/internal/config"
	"github.com/lsst-qserv/worker-replicad/internal/dispatch"
	"github.com/lsst-qserv/worker-replicad/internal/metrics"
	"github.com/lsst-qserv/worker-replicad/internal/processor"
)

// Server is the worker's admin/metrics HTTP surface plus the request
// submission and tracking endpoints a controller drives.
type Server struct {
	proc       *processor.Processor
	m          *metrics.Collector
	dispatcher *dispatch.Dispatcher
	httpServer *http.Server
	startTime  time.Time
	cfg        config.AdminConfig
}

// NewServer constructs an admin server. Start is called separately once
// the processor has been started. dispatcher may be nil; the /requests
// submission endpoint then refuses all submissions.
func NewServer(proc *processor.Processor, m *metrics.Collector, dispatcher *dispatch.Dispatcher, cfg config.AdminConfig) *Server {
	return &Server{proc: proc, m: m, dispatcher: dispatcher, startTime: time.Now(), cfg: cfg}
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	r := mux.NewRouter()

	r.HandleFunc("/status", s.statusHandler).Methods("GET")
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.HandleFunc("/ready", s.readyHandler).Methods("GET")
	r.HandleFunc("/processor", s.processorHandler).Methods("GET")
	r.HandleFunc("/requests", s.submitHandler).Methods("POST")
	r.HandleFunc("/requests/{id}", s.trackHandler).Methods("GET")
	r.HandleFunc("/requests/{id}", s.stopHandler).Methods("DELETE")
	r.Handle("/metrics", promhttp.HandlerFor(s.m.Registry, promhttp.HandlerOpts{}))

	addr := fmt.Sprintf("%s:%d", s.cfg.Bind, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	slog.Info("admin server listening", "addr", addr)

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin server error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the admin server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int(time.Since(s.startTime).Seconds()),
		"go_version":     runtime.Version(),
		"goroutines":     runtime.NumGoroutine(),
		"memory_mb":      float64(mem.Alloc) / 1024 / 1024,
		"service_state":  s.proc.State().String(),
	})
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	if s.proc.State() == processor.Running {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
		return
	}
	writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
}

func (s *Server) processorHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"service_state": s.proc.State().String(),
	})
}

// submitHandler decodes a request envelope, builds the concrete request
// via the dispatcher, and hands it to the processor. Payload validation
// failures are returned directly to the caller and never reach the
// queue, matching the submission-time policy: a request is either
// accepted and tracked, or rejected outright.
func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "submission is not configured"})
		return
	}

	var env dispatch.Envelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	req, err := s.dispatcher.Build(env)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.m.RequestSubmitted(env.Type.String())
	s.proc.Submit(req)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": env.ID, "status": req.Status().String()})
}

func (s *Server) trackHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, extStatus, err := s.proc.TrackRequest(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"id":              id,
		"status":          status.String(),
		"extended_status": extStatus.String(),
	})
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	status, err := s.proc.StopRequest(id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": status.String()})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
