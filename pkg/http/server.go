package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/aggregator"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
	"github.com/marvinmvns/whispersilent-sub000/pkg/pipeline"
	"github.com/marvinmvns/whispersilent-sub000/pkg/stt"
	"github.com/marvinmvns/whispersilent-sub000/pkg/transcript"
)

// PipelineController is the subset of the pipeline the control endpoints
// operate on.
type PipelineController interface {
	Start() error
	Stop()
	Running() bool
	SetAPISending(enabled bool)
	APISendingEnabled() bool
	ResendUnsent(ctx context.Context) (sent, failed int)
}

// HealthReporter supplies the health snapshot served at /health.
type HealthReporter interface {
	Report() pipeline.HealthReport
}

// WSHandler serves websocket upgrade requests.
type WSHandler interface {
	ServeWS(w http.ResponseWriter, r *http.Request)
	ClientCount() int
}

// EngineSwapper exposes the fallback transcriber's engine controls.
type EngineSwapper interface {
	Status() stt.Status
	SwapPrimary(engine stt.Engine)
	ForceOnline()
	ForceOffline()
	EnableAutoFallback()
}

// Server is the HTTP control and query surface for the transcription
// service.
type Server struct {
	logger *logrus.Logger
	cfg    config.HTTPConfig
	sttCfg *config.Config

	pipeline    PipelineController
	health      HealthReporter
	store       *transcript.Store
	aggregator  *aggregator.HourlyAggregator
	hub         WSHandler
	transcriber EngineSwapper

	httpServer *http.Server
	mux        *http.ServeMux
	startTime  time.Time
}

// NewServer wires the server and registers all routes. Any collaborator
// except the store may be nil; its routes then answer 503.
func NewServer(
	logger *logrus.Logger,
	cfg *config.Config,
	ctrl PipelineController,
	health HealthReporter,
	store *transcript.Store,
	agg *aggregator.HourlyAggregator,
	hub WSHandler,
	transcriber EngineSwapper,
) *Server {
	s := &Server{
		logger:      logger,
		cfg:         cfg.HTTP,
		sttCfg:      cfg,
		pipeline:    ctrl,
		health:      health,
		store:       store,
		aggregator:  agg,
		hub:         hub,
		transcriber: transcriber,
		startTime:   time.Now(),
	}

	mux := http.NewServeMux()
	s.mux = mux

	mux.HandleFunc("/health", s.healthHandler)
	mux.HandleFunc("/health/live", s.livenessHandler)
	mux.HandleFunc("/health/ready", s.readinessHandler)
	mux.Handle("/metrics", metrics.GetMetricsHandler())
	mux.HandleFunc("/status", s.statusHandler)

	mux.HandleFunc("/transcriptions", s.listTranscriptionsHandler)
	mux.HandleFunc("/transcriptions/search", s.searchTranscriptionsHandler)
	mux.HandleFunc("/transcriptions/statistics", s.statisticsHandler)
	mux.HandleFunc("/transcriptions/summary", s.summaryHandler)
	mux.HandleFunc("/transcriptions/export", s.exportHandler)
	mux.HandleFunc("/transcriptions/", s.transcriptionByIDHandler)

	mux.HandleFunc("/aggregator/status", s.aggregatorStatusHandler)
	mux.HandleFunc("/aggregator/texts", s.aggregatorTextsHandler)
	mux.HandleFunc("/aggregator/finalize", s.aggregatorFinalizeHandler)

	mux.HandleFunc("/control/start", s.startHandler)
	mux.HandleFunc("/control/stop", s.stopHandler)
	mux.HandleFunc("/control/api-sending/toggle", s.toggleAPISendingHandler)
	mux.HandleFunc("/control/send-unsent", s.sendUnsentHandler)

	mux.HandleFunc("/status/engine", s.engineStatusHandler)
	mux.HandleFunc("/status/engine/swap", s.engineSwapHandler)

	if hub != nil {
		mux.HandleFunc("/ws", hub.ServeWS)
	}

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}
	return s
}

// Handler exposes the route mux for tests.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Start begins serving in a background goroutine.
func (s *Server) Start() {
	go func() {
		s.logger.WithField("address", s.httpServer.Addr).Info("HTTP server starting")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.WithError(err).Error("HTTP server failed")
		}
	}()
}

// Shutdown drains in-flight requests within the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.WithError(err).Error("Failed to encode HTTP response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) requireMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method != method {
		s.writeError(w, http.StatusMethodNotAllowed, fmt.Sprintf("method %s not allowed", r.Method))
		return false
	}
	return true
}
