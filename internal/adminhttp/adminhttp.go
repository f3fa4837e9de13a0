// Package adminhttp hosts the collector server's operational HTTP surface:
// health, per-session stats, and Prometheus metrics, bound to a separate
// port from the control-session TCP listener (spec §5, ambient stack).
package adminhttp

import (
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"logcollectord/internal/collector"
	"logcollectord/internal/storage"
	"logcollectord/internal/transport"
)

// StatsProvider is satisfied by the transport: it exposes enough for the
// /stats handler without adminhttp depending on transport internals
// beyond this surface.
type StatsProvider interface {
	GetConnectionCount() int
	UplinkHealthy() bool
	IsRunning() bool
}

// Server is the admin HTTP listener.
type Server struct {
	addr      string
	logger    *logrus.Logger
	transport *transport.Transport
	storage   *storage.Factory
	startTime time.Time

	httpServer *http.Server
}

// New constructs an admin server bound to addr (host:port). storage may
// be nil if no sinks are configured.
func New(addr string, t *transport.Transport, st *storage.Factory, logger *logrus.Logger) *Server {
	return &Server{addr: addr, transport: t, storage: st, logger: logger, startTime: time.Now()}
}

// Start binds the listener and serves in a background goroutine.
func (s *Server) Start() error {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/healthz", s.healthHandler).Methods("GET")
	router.HandleFunc("/stats", s.statsHandler).Methods("GET")

	s.httpServer = &http.Server{Addr: s.addr, Handler: router}

	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).WithField("component", "adminhttp").Error("admin http server stopped unexpectedly")
		}
	}()

	s.logger.WithFields(logrus.Fields{
		"component": "adminhttp",
		"addr":      s.addr,
	}).Info("admin http server started")
	return nil
}

// Stop gracefully shuts down the admin HTTP server.
func (s *Server) Stop() {
	if s.httpServer == nil {
		return
	}
	_ = s.httpServer.Close()
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthy := s.transport == nil || s.transport.IsRunning()
	status := "healthy"
	code := http.StatusOK
	if !healthy {
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	body := map[string]interface{}{
		"status":    status,
		"uptime":    time.Since(s.startTime).String(),
		"timestamp": time.Now().Unix(),
	}
	if s.transport != nil {
		body["uplink_healthy"] = s.transport.UplinkHealthy()
		body["sessions"] = s.transport.GetConnectionCount()
	}
	if s.storage != nil {
		body["storage"] = s.storage.PingAll(r.Context())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := map[string]interface{}{
		"uptime":     time.Since(s.startTime).String(),
		"goroutines": runtime.NumGoroutine(),
		"memory_mb":  mem.Alloc / 1024 / 1024,
	}
	if s.transport != nil {
		stats["sessions"] = s.transport.GetConnectionCount()
		stats["uplink_healthy"] = s.transport.UplinkHealthy()

		sessionStats := s.transport.SessionStats()
		perSession := make([]map[string]interface{}, 0, len(sessionStats))
		for id, st := range sessionStats {
			perSession = append(perSession, CollectorStatsJSON(id, st))
		}
		stats["session_stats"] = perSession
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(stats)
}

// CollectorStatsJSON renders one collector's Stats for embedding in the
// /stats response's per-session breakdown, exported so a future surface
// (e.g. a dedicated /stats/sessions/{id}) can reuse the same rendering.
func CollectorStatsJSON(id uint64, st collector.Stats) map[string]interface{} {
	return map[string]interface{}{
		"session_id": fmt.Sprintf("%d", id),
		"sent":       st.Sent,
		"filtered":   st.Filtered,
		"errors":     st.Errors,
		"queue_size": st.QueueSize,
	}
}
