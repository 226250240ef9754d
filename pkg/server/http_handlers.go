package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/aeolun/framechat/pkg/transport"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// httpHandler routes the WebSocket, metrics and health endpoints
func (s *Server) httpHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(transport.Path, s.HandleWebSocket)
	mux.Handle("/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", s.HealthHandler)
	return mux
}

// HandleWebSocket upgrades the request and serves it like a TCP connection
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := transport.Upgrade(w, r)
	if err != nil {
		log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}

	if err := s.spawn(conn, "websocket"); err != nil {
		log.WithError(err).Debug("WebSocket connection not served")
	}
}

// HealthHandler serves health check status
func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	health := map[string]interface{}{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
		"connections":    s.conns.count(),
	}

	status := http.StatusOK
	sessions, err := s.store.ActiveSessions()
	if err != nil {
		log.WithError(err).Warn("health check could not read sessions")
		health["status"] = "degraded"
		health["database_accessible"] = false
		status = http.StatusServiceUnavailable
	} else {
		health["database_accessible"] = true
		health["active_sessions"] = len(sessions)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(health); err != nil {
		log.WithError(err).Warn("Error encoding health JSON")
	}
}
