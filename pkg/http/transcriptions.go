package http

import (
	"net/http"
	"strconv"
	"strings"
)

func (s *Server) listTranscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
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

	records := s.store.All(limit)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":          len(records),
		"transcriptions": records,
	})
}

func (s *Server) searchTranscriptionsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	query := r.URL.Query().Get("q")
	if query == "" {
		s.writeError(w, http.StatusBadRequest, "query parameter q is required")
		return
	}
	caseSensitive := r.URL.Query().Get("case_sensitive") == "true"

	records := s.store.Search(query, caseSensitive)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"query":          query,
		"case_sensitive": caseSensitive,
		"count":          len(records),
		"transcriptions": records,
	})
}

func (s *Server) statisticsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}
	s.writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	hours := 24
	if raw := r.URL.Query().Get("hours"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			s.writeError(w, http.StatusBadRequest, "hours must be a positive integer")
			return
		}
		hours = parsed
	}
	s.writeJSON(w, http.StatusOK, s.store.Summarize(hours))
}

func (s *Server) exportHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", `attachment; filename="transcriptions.json"`)
	if err := s.store.ExportJSON(w); err != nil {
		s.logger.WithError(err).Error("Transcription export failed")
	}
}

func (s *Server) transcriptionByIDHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireMethod(w, r, http.MethodGet) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/transcriptions/")
	if id == "" || strings.Contains(id, "/") {
		s.writeError(w, http.StatusNotFound, "not found")
		return
	}

	record, ok := s.store.ByID(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, "transcription not found")
		return
	}
	s.writeJSON(w, http.StatusOK, record)
}
