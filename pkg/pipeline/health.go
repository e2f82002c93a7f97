package pipeline

import (
	"sync"
	"time"
)

// Window sizes for the rolling health samples.
const (
	processingWindow = 100
	errorWindow      = 50
	warningWindow    = 20
)

// successStaleAfter marks the pipeline degraded when no transcription
// succeeded within this window.
const successStaleAfter = 5 * time.Minute

// SystemMetrics is a point-in-time resource sample.
type SystemMetrics struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
}

// SystemSampler supplies resource usage to the health monitor.
type SystemSampler interface {
	Sample() (SystemMetrics, error)
}

// Verdict is the overall health classification.
type Verdict string

const (
	VerdictHealthy   Verdict = "healthy"
	VerdictDegraded  Verdict = "degraded"
	VerdictUnhealthy Verdict = "unhealthy"
)

// HealthReport is the full health snapshot served over HTTP.
type HealthReport struct {
	Verdict             Verdict       `json:"status"`
	Reasons             []string      `json:"reasons,omitempty"`
	PipelineRunning     bool          `json:"pipeline_running"`
	ActiveEngine        string        `json:"active_engine"`
	ChunksProcessed     uint64        `json:"chunks_processed"`
	Successes           uint64        `json:"successes"`
	Failures            uint64        `json:"failures"`
	APISent             uint64        `json:"api_sent"`
	APIFailed           uint64        `json:"api_failed"`
	AvgProcessingTimeMs float64       `json:"avg_processing_time_ms"`
	LastSuccess         time.Time     `json:"last_success,omitempty"`
	RecentErrors        []string      `json:"recent_errors,omitempty"`
	Warnings            []string      `json:"warnings,omitempty"`
	System              SystemMetrics `json:"system"`
	Uptime              string        `json:"uptime"`
}

// HealthMonitor aggregates pipeline counters and resource samples into a
// health verdict. Pure aggregation; counters are fed by the pipeline.
type HealthMonitor struct {
	sampler SystemSampler

	mu              sync.Mutex
	startedAt       time.Time
	pipelineRunning bool
	activeEngine    string

	chunks    uint64
	successes uint64
	failures  uint64
	apiSent   uint64
	apiFailed uint64

	lastSuccess     time.Time
	processingTimes []time.Duration
	recentErrors    []string
	warnings        []string
}

// NewHealthMonitor builds a monitor around the given sampler.
func NewHealthMonitor(sampler SystemSampler) *HealthMonitor {
	return &HealthMonitor{
		sampler:   sampler,
		startedAt: time.Now(),
	}
}

// SetPipelineRunning updates the liveness flag.
func (h *HealthMonitor) SetPipelineRunning(running bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pipelineRunning = running
}

// SetActiveEngine records the engine currently serving transcriptions.
func (h *HealthMonitor) SetActiveEngine(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.activeEngine = name
}

// RecordChunk counts one processed segment.
func (h *HealthMonitor) RecordChunk() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.chunks++
}

// RecordSuccess counts a successful transcription and its duration.
func (h *HealthMonitor) RecordSuccess(duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.successes++
	h.lastSuccess = time.Now()
	h.processingTimes = appendBounded(h.processingTimes, duration, processingWindow)
}

// RecordFailure counts a failed transcription.
func (h *HealthMonitor) RecordFailure(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.failures++
	h.recentErrors = appendBounded(h.recentErrors, message, errorWindow)
}

// RecordAPISent counts a successful API dispatch.
func (h *HealthMonitor) RecordAPISent() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.apiSent++
}

// RecordAPIFailure counts a failed API dispatch.
func (h *HealthMonitor) RecordAPIFailure() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.apiFailed++
}

// AddWarning records a performance warning.
func (h *HealthMonitor) AddWarning(message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.warnings = appendBounded(h.warnings, message, warningWindow)
}

// Report computes the verdict from the current counters and a fresh
// resource sample.
func (h *HealthMonitor) Report() HealthReport {
	var system SystemMetrics
	if h.sampler != nil {
		if sample, err := h.sampler.Sample(); err == nil {
			system = sample
		}
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	report := HealthReport{
		PipelineRunning: h.pipelineRunning,
		ActiveEngine:    h.activeEngine,
		ChunksProcessed: h.chunks,
		Successes:       h.successes,
		Failures:        h.failures,
		APISent:         h.apiSent,
		APIFailed:       h.apiFailed,
		LastSuccess:     h.lastSuccess,
		RecentErrors:    append([]string(nil), h.recentErrors...),
		Warnings:        append([]string(nil), h.warnings...),
		System:          system,
		Uptime:          time.Since(h.startedAt).Round(time.Second).String(),
	}

	if len(h.processingTimes) > 0 {
		var total time.Duration
		for _, d := range h.processingTimes {
			total += d
		}
		report.AvgProcessingTimeMs = float64(total.Milliseconds()) / float64(len(h.processingTimes))
	}

	report.Verdict, report.Reasons = h.verdictLocked(system)
	return report
}

func (h *HealthMonitor) verdictLocked(system SystemMetrics) (Verdict, []string) {
	if !h.pipelineRunning {
		return VerdictUnhealthy, []string{"pipeline is not running"}
	}
	if h.activeEngine == "" {
		return VerdictUnhealthy, []string{"no transcription engine is ready"}
	}

	var reasons []string
	if system.CPUPercent > 90 {
		reasons = append(reasons, "cpu usage above 90%")
	}
	if system.MemoryPercent > 90 {
		reasons = append(reasons, "memory usage above 90%")
	}

	attempts := h.successes + h.failures
	if attempts > 0 && float64(h.failures)/float64(attempts) > 0.5 {
		reasons = append(reasons, "transcription failure rate above 50%")
	}

	apiAttempts := h.apiSent + h.apiFailed
	if apiAttempts > 0 && float64(h.apiFailed)/float64(apiAttempts) > 0.3 {
		reasons = append(reasons, "api failure rate above 30%")
	}

	if h.successes > 0 && time.Since(h.lastSuccess) > successStaleAfter {
		reasons = append(reasons, "no successful transcription in the last 5 minutes")
	}

	if len(reasons) > 0 {
		return VerdictDegraded, reasons
	}
	return VerdictHealthy, nil
}

func appendBounded[T any](window []T, value T, limit int) []T {
	window = append(window, value)
	if len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window
}
