package pipeline

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/stt"
	"github.com/marvinmvns/whispersilent-sub000/pkg/transcript"
)

// joinTimeout bounds how long Stop waits for the processing goroutine.
const joinTimeout = 10 * time.Second

// FrameSource supplies capture frames. Its Frames channel closes on Stop,
// which is the processing loop's termination signal.
type FrameSource interface {
	Start() error
	Stop()
	Frames() <-chan []int16
}

// Transcriber converts speech segments to text.
type Transcriber interface {
	Transcribe(ctx context.Context, segment *audio.Segment) (stt.Result, error)
	CurrentEngine() string
}

// Dispatcher delivers transcriptions to the downstream ingestion API.
type Dispatcher interface {
	Enabled() bool
	Send(ctx context.Context, transcription string, ts time.Time) error
}

// Broadcaster publishes pipeline events to realtime clients.
type Broadcaster interface {
	BroadcastTranscription(text, engine string, confidence float64, processingMs int64)
	BroadcastChunkProcessed(durationMs int64, flushReason string)
	BroadcastError(message string)
}

// Aggregator collects transcription texts into time blocks.
type Aggregator interface {
	Add(text string, ts time.Time)
}

// TranscriptionListener observes every non-empty transcription, after
// storage. Used for optional side channels like AMQP publication.
type TranscriptionListener interface {
	OnTranscription(record *transcript.Record)
}

// Pipeline drains capture frames through the segmenter and performs
// serialized transcription calls, one segment in flight at a time.
type Pipeline struct {
	logger *logrus.Logger
	cfg    *config.Config

	source      FrameSource
	segmenter   *audio.Segmenter
	transcriber Transcriber
	store       *transcript.Store
	aggregator  Aggregator
	broadcaster Broadcaster
	dispatcher  Dispatcher
	health      *HealthMonitor
	listeners   []TranscriptionListener

	apiSending int32

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// New wires a pipeline from its collaborators. aggregator, broadcaster,
// and dispatcher may be nil when the corresponding feature is disabled.
func New(
	logger *logrus.Logger,
	cfg *config.Config,
	source FrameSource,
	transcriber Transcriber,
	store *transcript.Store,
	aggregator Aggregator,
	broadcaster Broadcaster,
	dispatcher Dispatcher,
	health *HealthMonitor,
) *Pipeline {
	p := &Pipeline{
		logger:      logger,
		cfg:         cfg,
		source:      source,
		segmenter:   audio.NewSegmenter(logger, cfg.Audio.SampleRate, cfg.Processing.SilenceThreshold, cfg.Processing.SilenceDuration, cfg.MaxChunkSamples()),
		transcriber: transcriber,
		store:       store,
		aggregator:  aggregator,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		health:      health,
	}
	if dispatcher != nil && dispatcher.Enabled() {
		p.apiSending = 1
	}
	return p
}

// AddListener registers a transcription observer. Not safe after Start.
func (p *Pipeline) AddListener(listener TranscriptionListener) {
	p.listeners = append(p.listeners, listener)
}

// Start opens the capture source and launches the processing goroutine.
// Idempotent.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		p.logger.Info("Pipeline already running")
		return nil
	}

	if err := p.source.Start(); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	p.running = true

	if p.health != nil {
		p.health.SetPipelineRunning(true)
		p.health.SetActiveEngine(p.transcriber.CurrentEngine())
	}

	go p.loop(ctx)
	p.logger.Info("Transcription pipeline started")
	return nil
}

// Stop closes the capture source, which terminates the processing loop,
// then joins it with a bounded timeout. Idempotent.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	done := p.done
	cancel := p.cancel
	p.mu.Unlock()

	p.source.Stop()

	select {
	case <-done:
	case <-time.After(joinTimeout):
		p.logger.Warn("Pipeline processing goroutine did not stop in time, cancelling in-flight work")
		cancel()
		<-done
	}
	cancel()

	if p.health != nil {
		p.health.SetPipelineRunning(false)
	}
	p.logger.Info("Transcription pipeline stopped")
}

// Running reports whether the pipeline is active.
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// SetAPISending toggles downstream dispatch at runtime.
func (p *Pipeline) SetAPISending(enabled bool) {
	if enabled {
		atomic.StoreInt32(&p.apiSending, 1)
	} else {
		atomic.StoreInt32(&p.apiSending, 0)
	}
	p.logger.WithField("enabled", enabled).Info("API sending toggled")
}

// APISendingEnabled reports the runtime dispatch toggle.
func (p *Pipeline) APISendingEnabled() bool {
	return atomic.LoadInt32(&p.apiSending) == 1
}

// ResendUnsent re-dispatches stored records that never reached the API.
// Returns how many records were sent successfully.
func (p *Pipeline) ResendUnsent(ctx context.Context) (sent, failed int) {
	if p.dispatcher == nil || !p.dispatcher.Enabled() {
		return 0, 0
	}

	for _, record := range p.store.Unsent() {
		if err := p.dispatcher.Send(ctx, record.Text, record.Timestamp); err != nil {
			p.logger.WithError(err).WithField("record_id", record.ID).Warn("Resend failed")
			failed++
			continue
		}
		p.store.MarkSent(record.ID)
		if p.health != nil {
			p.health.RecordAPISent()
		}
		sent++
	}

	p.logger.WithFields(logrus.Fields{"sent": sent, "failed": failed}).Info("Resend of unsent records finished")
	return sent, failed
}

// loop drains the frame channel until the source closes it, then flushes
// any in-flight speech.
func (p *Pipeline) loop(ctx context.Context) {
	defer close(p.done)

	for frame := range p.source.Frames() {
		for _, segment := range p.segmenter.Push(frame) {
			p.process(ctx, segment)
		}
	}

	if segment := p.segmenter.Flush(); segment != nil {
		p.process(ctx, segment)
	}
}

// process transcribes one segment and fans the result out to storage,
// aggregation, realtime clients, and the ingestion API. Errors never stop
// the pipeline.
func (p *Pipeline) process(ctx context.Context, segment *audio.Segment) {
	if p.health != nil {
		p.health.RecordChunk()
	}

	start := time.Now()
	result, err := p.transcriber.Transcribe(ctx, segment)
	processingMs := time.Since(start).Milliseconds()
	durationMs := segment.Duration(p.cfg.Audio.SampleRate).Milliseconds()

	if p.health != nil {
		p.health.SetActiveEngine(p.transcriber.CurrentEngine())
	}

	if err != nil {
		p.logger.WithError(err).WithField("segment_ms", durationMs).Error("Transcription failed")
		if p.health != nil {
			p.health.RecordFailure(err.Error())
		}
		if p.broadcaster != nil {
			p.broadcaster.BroadcastError(err.Error())
		}
		return
	}

	if p.health != nil {
		p.health.RecordSuccess(time.Since(start))
	}
	if p.broadcaster != nil {
		p.broadcaster.BroadcastChunkProcessed(durationMs, string(segment.FlushReason))
	}

	if result.Text == "" {
		p.logger.WithField("segment_ms", durationMs).Debug("Segment transcribed to empty text")
		return
	}

	record := p.store.Add(transcript.Record{
		Text:             result.Text,
		Timestamp:        segment.CapturedAt,
		ProcessingTimeMs: processingMs,
		SampleCount:      len(segment.Samples),
		Engine:           p.transcriber.CurrentEngine(),
		Confidence:       result.Confidence,
		Language:         result.Language,
	})

	if p.aggregator != nil {
		p.aggregator.Add(result.Text, segment.CapturedAt)
	}
	if p.broadcaster != nil {
		p.broadcaster.BroadcastTranscription(result.Text, record.Engine, result.Confidence, processingMs)
	}
	for _, listener := range p.listeners {
		listener.OnTranscription(record)
	}

	if p.APISendingEnabled() && p.dispatcher != nil && p.dispatcher.Enabled() {
		if err := p.dispatcher.Send(ctx, result.Text, segment.CapturedAt); err != nil {
			// Record stays unsent for a later explicit resend
			p.logger.WithError(err).WithField("record_id", record.ID).Warn("API dispatch failed")
			if p.health != nil {
				p.health.RecordAPIFailure()
			}
		} else {
			p.store.MarkSent(record.ID)
			if p.health != nil {
				p.health.RecordAPISent()
			}
		}
	}
}
