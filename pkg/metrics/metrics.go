package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry       *prometheus.Registry
	registryOnce   sync.Once
	metricsEnabled = true

	// Audio capture metrics
	CaptureFramesTotal   prometheus.Counter
	CaptureDroppedFrames *prometheus.CounterVec
	CaptureQueueDepth    prometheus.Gauge

	// Voice activity / segmentation metrics
	SegmentsEmitted   *prometheus.CounterVec
	SegmentDuration   prometheus.Histogram
	VADStateChanges   *prometheus.CounterVec

	// Transcription metrics
	TranscriptionsTotal   *prometheus.CounterVec
	TranscriptionLatency  *prometheus.HistogramVec
	FallbackSwitchesTotal *prometheus.CounterVec
	ActiveEngine          *prometheus.GaugeVec

	// API dispatch metrics
	APIDispatchTotal   *prometheus.CounterVec
	APIDispatchLatency prometheus.Histogram

	// Aggregator metrics
	AggregatedBlocksTotal *prometheus.CounterVec

	// Realtime hub metrics
	HubClientsConnected prometheus.Gauge
	HubEventsBroadcast  *prometheus.CounterVec

	// Connectivity metrics
	ConnectivityOnline prometheus.Gauge

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		CaptureFramesTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "whispersilent_capture_frames_total",
				Help: "Total number of audio frames captured",
			},
		)

		CaptureDroppedFrames = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_capture_dropped_frames_total",
				Help: "Total number of captured frames dropped before processing",
			},
			[]string{"reason"},
		)

		CaptureQueueDepth = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whispersilent_capture_queue_depth",
				Help: "Current number of frames waiting in the capture queue",
			},
		)

		SegmentsEmitted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_segments_emitted_total",
				Help: "Total number of speech segments emitted by the segmenter",
			},
			[]string{"flush_reason"},
		)

		SegmentDuration = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "whispersilent_segment_duration_seconds",
				Help:    "Duration of emitted speech segments",
				Buckets: prometheus.ExponentialBuckets(0.25, 2, 9), // 0.25s to ~64s
			},
		)

		VADStateChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_vad_state_changes_total",
				Help: "Total number of IDLE/SPEAKING transitions",
			},
			[]string{"to_state"},
		)

		TranscriptionsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_transcriptions_total",
				Help: "Total number of transcription attempts",
			},
			[]string{"engine", "status"},
		)

		TranscriptionLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "whispersilent_transcription_latency_seconds",
				Help:    "Latency of transcription calls per engine",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~200s
			},
			[]string{"engine"},
		)

		FallbackSwitchesTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_fallback_switches_total",
				Help: "Total number of engine switches by cause",
			},
			[]string{"cause"},
		)

		ActiveEngine = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "whispersilent_active_engine",
				Help: "Currently selected transcription engine (1 = active)",
			},
			[]string{"engine"},
		)

		APIDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_api_dispatch_total",
				Help: "Total number of downstream API dispatch attempts",
			},
			[]string{"status"},
		)

		APIDispatchLatency = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "whispersilent_api_dispatch_latency_seconds",
				Help:    "Latency of downstream API dispatches",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
			},
		)

		AggregatedBlocksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_aggregated_blocks_total",
				Help: "Total number of finalized hourly text blocks",
			},
			[]string{"reason"},
		)

		HubClientsConnected = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whispersilent_hub_clients_connected",
				Help: "Number of connected realtime clients",
			},
		)

		HubEventsBroadcast = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_hub_events_broadcast_total",
				Help: "Total number of events broadcast to realtime clients",
			},
			[]string{"event_type"},
		)

		ConnectivityOnline = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "whispersilent_connectivity_online",
				Help: "Connectivity probe result (1 = online, 0 = offline)",
			},
		)

		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "whispersilent_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"queue", "status"},
		)

		registry.MustRegister(
			CaptureFramesTotal,
			CaptureDroppedFrames,
			CaptureQueueDepth,
			SegmentsEmitted,
			SegmentDuration,
			VADStateChanges,
			TranscriptionsTotal,
			TranscriptionLatency,
			FallbackSwitchesTotal,
			ActiveEngine,
			APIDispatchTotal,
			APIDispatchLatency,
			AggregatedBlocksTotal,
			HubClientsConnected,
			HubEventsBroadcast,
			ConnectivityOnline,
			AMQPPublishedMessages,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// GetMetricsHandler returns the HTTP handler for the metrics endpoint
func GetMetricsHandler() http.Handler {
	if registry == nil {
		Init(logrus.New())
	}
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}

// RecordFrameDropped records a dropped capture frame
func RecordFrameDropped(reason string) {
	if metricsEnabled && CaptureDroppedFrames != nil {
		CaptureDroppedFrames.WithLabelValues(reason).Inc()
	}
}

// RecordSegment records an emitted speech segment
func RecordSegment(flushReason string, duration time.Duration) {
	if metricsEnabled && SegmentsEmitted != nil {
		SegmentsEmitted.WithLabelValues(flushReason).Inc()
		SegmentDuration.Observe(duration.Seconds())
	}
}

// RecordVADStateChange records a voice activity detector state transition
func RecordVADStateChange(toState string) {
	if metricsEnabled && VADStateChanges != nil {
		VADStateChanges.WithLabelValues(toState).Inc()
	}
}

// RecordTranscription records a transcription attempt result
func RecordTranscription(engine, status string) {
	if metricsEnabled && TranscriptionsTotal != nil {
		TranscriptionsTotal.WithLabelValues(engine, status).Inc()
	}
}

// ObserveTranscriptionLatency returns a timer function that records latency when called
func ObserveTranscriptionLatency(engine string) func() {
	if !metricsEnabled || TranscriptionLatency == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		TranscriptionLatency.WithLabelValues(engine).Observe(time.Since(start).Seconds())
	}
}

// RecordFallbackSwitch records an engine switch
func RecordFallbackSwitch(cause string) {
	if metricsEnabled && FallbackSwitchesTotal != nil {
		FallbackSwitchesTotal.WithLabelValues(cause).Inc()
	}
}

// SetActiveEngine marks the given engine as the active one
func SetActiveEngine(engine string) {
	if metricsEnabled && ActiveEngine != nil {
		ActiveEngine.Reset()
		ActiveEngine.WithLabelValues(engine).Set(1)
	}
}

// RecordAPIDispatch records a downstream API dispatch result
func RecordAPIDispatch(status string) {
	if metricsEnabled && APIDispatchTotal != nil {
		APIDispatchTotal.WithLabelValues(status).Inc()
	}
}

// ObserveAPIDispatchLatency returns a timer function that records dispatch latency when called
func ObserveAPIDispatchLatency() func() {
	if !metricsEnabled || APIDispatchLatency == nil {
		return func() {}
	}

	start := time.Now()
	return func() {
		APIDispatchLatency.Observe(time.Since(start).Seconds())
	}
}

// RecordAggregatedBlock records a finalized aggregation block
func RecordAggregatedBlock(reason string) {
	if metricsEnabled && AggregatedBlocksTotal != nil {
		AggregatedBlocksTotal.WithLabelValues(reason).Inc()
	}
}

// RecordHubBroadcast records an event broadcast to realtime clients
func RecordHubBroadcast(eventType string) {
	if metricsEnabled && HubEventsBroadcast != nil {
		HubEventsBroadcast.WithLabelValues(eventType).Inc()
	}
}

// SetConnectivityOnline sets the connectivity gauge
func SetConnectivityOnline(online bool) {
	if metricsEnabled && ConnectivityOnline != nil {
		if online {
			ConnectivityOnline.Set(1)
		} else {
			ConnectivityOnline.Set(0)
		}
	}
}

// RecordAMQPPublish records an AMQP publish attempt
func RecordAMQPPublish(queue, status string) {
	if metricsEnabled && AMQPPublishedMessages != nil {
		AMQPPublishedMessages.WithLabelValues(queue, status).Inc()
	}
}
