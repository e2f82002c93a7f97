package pipeline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type stubSampler struct {
	metrics SystemMetrics
	err     error
}

func (s *stubSampler) Sample() (SystemMetrics, error) { return s.metrics, s.err }

func readyMonitor(sampler SystemSampler) *HealthMonitor {
	h := NewHealthMonitor(sampler)
	h.SetPipelineRunning(true)
	h.SetActiveEngine("mock")
	return h
}

func TestHealthUnhealthyWhenNotRunning(t *testing.T) {
	h := NewHealthMonitor(nil)
	h.SetActiveEngine("mock")

	report := h.Report()
	assert.Equal(t, VerdictUnhealthy, report.Verdict)
	assert.Contains(t, report.Reasons, "pipeline is not running")
}

func TestHealthUnhealthyWithoutEngine(t *testing.T) {
	h := NewHealthMonitor(nil)
	h.SetPipelineRunning(true)

	report := h.Report()
	assert.Equal(t, VerdictUnhealthy, report.Verdict)
	assert.Contains(t, report.Reasons, "no transcription engine is ready")
}

func TestHealthHealthyBaseline(t *testing.T) {
	h := readyMonitor(&stubSampler{metrics: SystemMetrics{CPUPercent: 20, MemoryPercent: 40}})
	h.RecordChunk()
	h.RecordSuccess(50 * time.Millisecond)

	report := h.Report()
	assert.Equal(t, VerdictHealthy, report.Verdict)
	assert.Empty(t, report.Reasons)
	assert.Equal(t, 20.0, report.System.CPUPercent)
}

func TestHealthDegradedOnHighResourceUsage(t *testing.T) {
	h := readyMonitor(&stubSampler{metrics: SystemMetrics{CPUPercent: 95, MemoryPercent: 92}})

	report := h.Report()
	assert.Equal(t, VerdictDegraded, report.Verdict)
	assert.Contains(t, report.Reasons, "cpu usage above 90%")
	assert.Contains(t, report.Reasons, "memory usage above 90%")
}

func TestHealthDegradedOnFailureRate(t *testing.T) {
	h := readyMonitor(nil)
	h.RecordSuccess(10 * time.Millisecond)
	h.RecordFailure("backend timeout")
	h.RecordFailure("backend timeout")

	report := h.Report()
	assert.Equal(t, VerdictDegraded, report.Verdict)
	assert.Contains(t, report.Reasons, "transcription failure rate above 50%")
}

func TestHealthDegradedOnAPIFailureRate(t *testing.T) {
	h := readyMonitor(nil)
	h.RecordAPISent()
	h.RecordAPIFailure()

	report := h.Report()
	assert.Equal(t, VerdictDegraded, report.Verdict)
	assert.Contains(t, report.Reasons, "api failure rate above 30%")
}

func TestHealthDegradedOnStaleSuccess(t *testing.T) {
	h := readyMonitor(nil)
	h.RecordSuccess(10 * time.Millisecond)
	h.mu.Lock()
	h.lastSuccess = time.Now().Add(-6 * time.Minute)
	h.mu.Unlock()

	report := h.Report()
	assert.Equal(t, VerdictDegraded, report.Verdict)
	assert.Contains(t, report.Reasons, "no successful transcription in the last 5 minutes")
}

func TestHealthNoStaleCheckBeforeFirstSuccess(t *testing.T) {
	h := readyMonitor(nil)
	h.RecordChunk()

	report := h.Report()
	assert.Equal(t, VerdictHealthy, report.Verdict)
}

func TestHealthSamplerErrorIgnored(t *testing.T) {
	h := readyMonitor(&stubSampler{err: assert.AnError})

	report := h.Report()
	assert.Equal(t, VerdictHealthy, report.Verdict)
	assert.Zero(t, report.System.CPUPercent)
}

func TestHealthRollingWindowsBounded(t *testing.T) {
	h := readyMonitor(nil)
	for i := 0; i < errorWindow+10; i++ {
		h.RecordFailure("err")
	}
	for i := 0; i < processingWindow+10; i++ {
		h.RecordSuccess(time.Duration(i) * time.Millisecond)
	}

	report := h.Report()
	assert.Len(t, report.RecentErrors, errorWindow)
	assert.EqualValues(t, processingWindow+10, report.Successes)
}

func TestHealthAvgProcessingTime(t *testing.T) {
	h := readyMonitor(nil)
	h.RecordSuccess(100 * time.Millisecond)
	h.RecordSuccess(200 * time.Millisecond)

	report := h.Report()
	assert.InDelta(t, 150.0, report.AvgProcessingTimeMs, 0.001)
}
