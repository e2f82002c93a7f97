package http

import (
	"net/http"
	"time"

	"github.com/marvinmvns/whispersilent-sub000/pkg/pipeline"
)

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.health == nil {
		s.writeError(w, http.StatusServiceUnavailable, "health monitor not available")
		return
	}

	report := s.health.Report()
	status := http.StatusOK
	if report.Verdict == pipeline.VerdictUnhealthy {
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, report)
}

func (s *Server) livenessHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":    "alive",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) readinessHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.pipeline == nil || !s.pipeline.Running() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	status := map[string]interface{}{
		"uptime":    time.Since(s.startTime).Round(time.Second).String(),
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	}
	if s.pipeline != nil {
		status["pipeline_running"] = s.pipeline.Running()
		status["api_sending"] = s.pipeline.APISendingEnabled()
	}
	if s.transcriber != nil {
		status["engine"] = s.transcriber.Status()
	}
	if s.store != nil {
		status["transcriptions"] = s.store.Stats()
	}
	if s.aggregator != nil {
		status["aggregator"] = s.aggregator.Status()
	}
	if s.hub != nil {
		status["websocket_clients"] = s.hub.ClientCount()
	}
	s.writeJSON(w, http.StatusOK, status)
}
