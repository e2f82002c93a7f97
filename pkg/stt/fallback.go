package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
)

// Mode controls how the transcriber selects between its engines.
type Mode string

const (
	// ModeAutoFallback follows connectivity: primary when online, the
	// offline fallback when not
	ModeAutoFallback Mode = "AUTO_FALLBACK"
	// ModeOnlineOnly pins the primary engine and never invokes the fallback
	ModeOnlineOnly Mode = "ONLINE_ONLY"
	// ModeOfflineOnly pins the fallback engine
	ModeOfflineOnly Mode = "OFFLINE_ONLY"
)

// FallbackTranscriber wraps a primary engine and an offline fallback.
// In auto mode the active engine follows connectivity transitions; a
// failed primary call is retried once against the fallback, and a
// non-empty retry result makes the fallback stick as the active engine
// until the next connectivity or manual event. Transient primary
// failures therefore do not flap the selection per call.
//
// One mutex guards all engine-selection state, shared between Transcribe
// and the connectivity callback.
type FallbackTranscriber struct {
	logger *logrus.Logger

	mu       sync.Mutex
	primary  Engine
	fallback Engine
	current  Engine
	mode     Mode
}

// Status is a point-in-time snapshot of the engine selection.
type Status struct {
	Mode           Mode   `json:"mode"`
	CurrentEngine  string `json:"current_engine"`
	PrimaryEngine  string `json:"primary_engine"`
	FallbackEngine string `json:"fallback_engine,omitempty"`
}

// NewFallbackTranscriber builds a transcriber starting on the primary
// engine in auto mode. fallback may be nil when no offline engine is
// configured.
func NewFallbackTranscriber(logger *logrus.Logger, primary, fallback Engine) *FallbackTranscriber {
	t := &FallbackTranscriber{
		logger:   logger,
		primary:  primary,
		fallback: fallback,
		current:  primary,
		mode:     ModeAutoFallback,
	}
	metrics.SetActiveEngine(primary.Name())
	return t
}

// Transcribe runs the current engine; on failure it retries once against
// the fallback unless the mode forbids it.
func (t *FallbackTranscriber) Transcribe(ctx context.Context, segment *audio.Segment) (Result, error) {
	t.mu.Lock()
	engine := t.current
	fallback := t.fallback
	mode := t.mode
	t.mu.Unlock()

	if engine == nil {
		return Result{}, errors.ErrEngineNotFound
	}

	result, err := t.run(ctx, engine, segment)
	if err == nil {
		return result, nil
	}

	if mode == ModeOnlineOnly || fallback == nil || fallback == engine {
		return Result{}, err
	}

	t.logger.WithError(err).WithFields(logrus.Fields{
		"failed_engine":   engine.Name(),
		"fallback_engine": fallback.Name(),
	}).Warn("Transcription failed, retrying with fallback engine")

	retryResult, retryErr := t.run(ctx, fallback, segment)
	if retryErr != nil {
		return Result{}, errors.Wrap(err, "both engines failed").
			WithField("fallback_error", retryErr.Error())
	}

	if retryResult.Text != "" {
		t.mu.Lock()
		if t.current == engine {
			t.current = fallback
			metrics.RecordFallbackSwitch("primary_error")
			metrics.SetActiveEngine(fallback.Name())
			t.logger.WithField("engine", fallback.Name()).Info("Fallback engine is now active")
		}
		t.mu.Unlock()
	}

	return retryResult, nil
}

func (t *FallbackTranscriber) run(ctx context.Context, engine Engine, segment *audio.Segment) (Result, error) {
	done := metrics.ObserveTranscriptionLatency(engine.Name())
	result, err := engine.Transcribe(ctx, segment)
	done()

	if err != nil {
		metrics.RecordTranscription(engine.Name(), "error")
		return Result{}, err
	}
	if result.Text == "" {
		metrics.RecordTranscription(engine.Name(), "empty")
	} else {
		metrics.RecordTranscription(engine.Name(), "success")
	}
	return result, nil
}

// OnConnectivityChange re-evaluates the active engine. Only auto mode
// reacts; manual modes pin their engine until auto mode is re-enabled.
func (t *FallbackTranscriber) OnConnectivityChange(online bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mode != ModeAutoFallback {
		return
	}

	var next Engine
	if online {
		next = t.primary
		if next == nil {
			t.logger.Warn("No primary engine configured, staying on fallback while online")
			next = t.fallback
		}
	} else {
		next = t.fallback
		if next == nil {
			t.logger.Warn("No offline fallback engine configured, staying on primary while offline")
			next = t.primary
		}
	}

	if next != nil && next != t.current {
		t.current = next
		metrics.RecordFallbackSwitch("connectivity")
		metrics.SetActiveEngine(next.Name())
		t.logger.WithFields(logrus.Fields{
			"engine": next.Name(),
			"online": online,
		}).Info("Active transcription engine changed on connectivity transition")
	}
}

// ForceOnline pins the primary engine regardless of connectivity.
func (t *FallbackTranscriber) ForceOnline() {
	t.setMode(ModeOnlineOnly, t.primaryLocked)
}

// ForceOffline pins the fallback engine.
func (t *FallbackTranscriber) ForceOffline() {
	t.setMode(ModeOfflineOnly, t.fallbackLocked)
}

// EnableAutoFallback restores connectivity-driven selection. The caller
// should follow with a connectivity evaluation.
func (t *FallbackTranscriber) EnableAutoFallback() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mode = ModeAutoFallback
	t.logger.Info("Automatic engine fallback enabled")
}

func (t *FallbackTranscriber) primaryLocked() Engine  { return t.primary }
func (t *FallbackTranscriber) fallbackLocked() Engine { return t.fallback }

func (t *FallbackTranscriber) setMode(mode Mode, pick func() Engine) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.mode = mode
	if engine := pick(); engine != nil && engine != t.current {
		t.current = engine
		metrics.RecordFallbackSwitch("manual")
		metrics.SetActiveEngine(engine.Name())
	}
	t.logger.WithField("mode", mode).Info("Engine selection mode changed")
}

// SwapPrimary replaces the primary engine at runtime. The new engine
// becomes current unless a manual offline mode pins the fallback.
func (t *FallbackTranscriber) SwapPrimary(engine Engine) {
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.primary
	t.primary = engine
	if t.mode != ModeOfflineOnly && (t.current == old || t.current == nil) {
		t.current = engine
		metrics.SetActiveEngine(engine.Name())
	}
	t.logger.WithField("engine", engine.Name()).Info("Primary transcription engine swapped")
}

// CurrentEngine returns the name of the active engine.
func (t *FallbackTranscriber) CurrentEngine() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.current == nil {
		return ""
	}
	return t.current.Name()
}

// Status snapshots the engine selection for the control surface.
func (t *FallbackTranscriber) Status() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	status := Status{Mode: t.mode}
	if t.current != nil {
		status.CurrentEngine = t.current.Name()
	}
	if t.primary != nil {
		status.PrimaryEngine = t.primary.Name()
	}
	if t.fallback != nil {
		status.FallbackEngine = t.fallback.Name()
	}
	return status
}
