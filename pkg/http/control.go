package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/marvinmvns/whispersilent-sub000/pkg/aggregator"
	"github.com/marvinmvns/whispersilent-sub000/pkg/stt"
)

func (s *Server) aggregatorStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.aggregator == nil {
		s.writeError(w, http.StatusServiceUnavailable, "aggregator not available")
		return
	}
	s.writeJSON(w, http.StatusOK, s.aggregator.Status())
}

func (s *Server) aggregatorTextsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.aggregator == nil {
		s.writeError(w, http.StatusServiceUnavailable, "aggregator not available")
		return
	}

	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}

	blocks := s.aggregator.Blocks(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":        len(blocks),
		"partial_text": s.aggregator.PartialText(),
		"blocks":       blocks,
	})
}

func (s *Server) aggregatorFinalizeHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.aggregator == nil {
		s.writeError(w, http.StatusServiceUnavailable, "aggregator not available")
		return
	}

	block := s.aggregator.Finalize(aggregator.ReasonManual)
	if block == nil {
		s.writeJSON(w, http.StatusOK, map[string]interface{}{"finalized": false})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"finalized": true,
		"block":     block,
	})
}

func (s *Server) startHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	if err := s.pipeline.Start(); err != nil {
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": s.pipeline.Running()})
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	s.pipeline.Stop()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"running": s.pipeline.Running()})
}

func (s *Server) toggleAPISendingHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	enabled := !s.pipeline.APISendingEnabled()
	s.pipeline.SetAPISending(enabled)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"api_sending": enabled})
}

func (s *Server) sendUnsentHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.pipeline == nil {
		s.writeError(w, http.StatusServiceUnavailable, "pipeline not available")
		return
	}

	sent, failed := s.pipeline.ResendUnsent(r.Context())
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"sent":   sent,
		"failed": failed,
	})
}

func (s *Server) engineStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	if s.transcriber == nil {
		s.writeError(w, http.StatusServiceUnavailable, "transcriber not available")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  s.transcriber.Status(),
		"engines": stt.RegisteredEngines(),
	})
}

type engineSwapRequest struct {
	Engine string `json:"engine"`
	Mode   string `json:"mode,omitempty"`
}

// engineSwapHandler replaces the primary engine at runtime, or switches
// the fallback mode when only "mode" is given.
func (s *Server) engineSwapHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodPost) {
		return
	}
	if s.transcriber == nil {
		s.writeError(w, http.StatusServiceUnavailable, "transcriber not available")
		return
	}

	var req engineSwapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if req.Engine != "" {
		engine, err := stt.NewEngine(req.Engine, s.logger, s.sttCfg)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.transcriber.SwapPrimary(engine)
	}

	switch req.Mode {
	case "":
	case "ONLINE_ONLY":
		s.transcriber.ForceOnline()
	case "OFFLINE_ONLY":
		s.transcriber.ForceOffline()
	case "AUTO_FALLBACK":
		s.transcriber.EnableAutoFallback()
	default:
		s.writeError(w, http.StatusBadRequest, "unknown mode "+req.Mode)
		return
	}

	s.writeJSON(w, http.StatusOK, s.transcriber.Status())
}
