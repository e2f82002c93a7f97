package pipeline

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
	"github.com/marvinmvns/whispersilent-sub000/pkg/stt"
	"github.com/marvinmvns/whispersilent-sub000/pkg/transcript"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testPipelineConfig() *config.Config {
	return &config.Config{
		Audio: config.AudioConfig{
			SampleRate:    16000,
			Channels:      1,
			BitDepth:      16,
			QueueCapacity: 64,
		},
		Processing: config.ProcessingConfig{
			SilenceThreshold: 500,
			SilenceDuration:  100 * time.Millisecond,
			ChunkDuration:    30 * time.Second,
			BufferSize:       320,
		},
	}
}

// fakeSource feeds scripted frames through a channel.
type fakeSource struct {
	frames  chan []int16
	started bool
	stopped bool
	mu      sync.Mutex
}

func newFakeSource() *fakeSource {
	return &fakeSource{frames: make(chan []int16, 256)}
}

func (s *fakeSource) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = true
	return nil
}

func (s *fakeSource) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stopped {
		s.stopped = true
		close(s.frames)
	}
}

func (s *fakeSource) Frames() <-chan []int16 { return s.frames }

func (s *fakeSource) feedSpeechThenSilence(voicedFrames, silentFrames int) {
	voiced := make([]int16, 160)
	for i := range voiced {
		voiced[i] = 2000
	}
	for i := 0; i < voicedFrames; i++ {
		s.frames <- voiced
	}
	for i := 0; i < silentFrames; i++ {
		s.frames <- make([]int16, 160)
	}
}

type fakeTranscriber struct {
	engine *stt.MockEngine
}

func (f *fakeTranscriber) Transcribe(ctx context.Context, segment *audio.Segment) (stt.Result, error) {
	return f.engine.Transcribe(ctx, segment)
}

func (f *fakeTranscriber) CurrentEngine() string { return f.engine.Name() }

type fakeDispatcher struct {
	mu      sync.Mutex
	sent    []string
	failErr error
}

func (d *fakeDispatcher) Enabled() bool { return true }

func (d *fakeDispatcher) Send(ctx context.Context, transcription string, ts time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.failErr != nil {
		return d.failErr
	}
	d.sent = append(d.sent, transcription)
	return nil
}

func (d *fakeDispatcher) sentCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sent)
}

type fakeAggregator struct {
	mu    sync.Mutex
	texts []string
}

func (a *fakeAggregator) Add(text string, ts time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.texts = append(a.texts, text)
}

type fakeBroadcaster struct {
	mu             sync.Mutex
	transcriptions []string
	chunks         int
	errors         []string
}

func (b *fakeBroadcaster) BroadcastTranscription(text, engine string, confidence float64, processingMs int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcriptions = append(b.transcriptions, text)
}

func (b *fakeBroadcaster) BroadcastChunkProcessed(durationMs int64, flushReason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chunks++
}

func (b *fakeBroadcaster) BroadcastError(message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.errors = append(b.errors, message)
}

type pipelineFixture struct {
	pipeline    *Pipeline
	source      *fakeSource
	engine      *stt.MockEngine
	store       *transcript.Store
	aggregator  *fakeAggregator
	broadcaster *fakeBroadcaster
	dispatcher  *fakeDispatcher
	health      *HealthMonitor
}

func newFixture() *pipelineFixture {
	source := newFakeSource()
	engine := stt.NewMockEngine("mock", false)
	store := transcript.NewStore(testLogger(), 100)
	aggregator := &fakeAggregator{}
	broadcaster := &fakeBroadcaster{}
	dispatcher := &fakeDispatcher{}
	health := NewHealthMonitor(nil)

	p := New(
		testLogger(),
		testPipelineConfig(),
		source,
		&fakeTranscriber{engine: engine},
		store,
		aggregator,
		broadcaster,
		dispatcher,
		health,
	)
	return &pipelineFixture{
		pipeline:    p,
		source:      source,
		engine:      engine,
		store:       store,
		aggregator:  aggregator,
		broadcaster: broadcaster,
		dispatcher:  dispatcher,
		health:      health,
	}
}

// runSegment starts the pipeline, feeds one utterance, and stops.
func (f *pipelineFixture) runSegment(t *testing.T) {
	t.Helper()
	require.NoError(t, f.pipeline.Start())
	f.source.feedSpeechThenSilence(5, 12)
	f.pipeline.Stop()
}

func TestPipelineStoresAndFansOutTranscription(t *testing.T) {
	f := newFixture()
	f.engine.Default = stt.Result{Text: "hello pipeline", Confidence: 0.92}

	f.runSegment(t)

	require.Equal(t, 1, f.store.Len())
	record := f.store.All(1)[0]
	assert.Equal(t, "hello pipeline", record.Text)
	assert.Equal(t, "mock", record.Engine)
	assert.True(t, record.APISent)

	assert.Equal(t, []string{"hello pipeline"}, f.aggregator.texts)
	assert.Equal(t, []string{"hello pipeline"}, f.broadcaster.transcriptions)
	assert.Equal(t, 1, f.broadcaster.chunks)
	assert.Equal(t, 1, f.dispatcher.sentCount())

	report := f.health.Report()
	assert.EqualValues(t, 1, report.ChunksProcessed)
	assert.EqualValues(t, 1, report.Successes)
}

func TestPipelineEmptyTextIsNotStored(t *testing.T) {
	f := newFixture()
	f.engine.Default = stt.Result{}

	f.runSegment(t)

	assert.Equal(t, 0, f.store.Len())
	assert.Empty(t, f.aggregator.texts)
	assert.Equal(t, 1, f.broadcaster.chunks, "chunk event still broadcast")
}

func TestPipelineTranscriptionFailureDoesNotStop(t *testing.T) {
	f := newFixture()
	f.engine.QueueError(errors.New("backend down"))
	f.engine.Default = stt.Result{Text: "recovered"}

	require.NoError(t, f.pipeline.Start())
	f.source.feedSpeechThenSilence(5, 12)
	f.source.feedSpeechThenSilence(5, 12)
	f.pipeline.Stop()

	require.Equal(t, 1, f.store.Len())
	assert.Equal(t, "recovered", f.store.All(1)[0].Text)
	assert.Len(t, f.broadcaster.errors, 1)

	report := f.health.Report()
	assert.EqualValues(t, 2, report.ChunksProcessed)
	assert.EqualValues(t, 1, report.Failures)
}

func TestPipelineAPIFailureLeavesRecordUnsent(t *testing.T) {
	f := newFixture()
	f.engine.Default = stt.Result{Text: "undelivered"}
	f.dispatcher.failErr = errors.New("api down")

	f.runSegment(t)

	require.Equal(t, 1, f.store.Len())
	unsent := f.store.Unsent()
	require.Len(t, unsent, 1)
	assert.Equal(t, "undelivered", unsent[0].Text)
}

func TestPipelineAPISendingToggle(t *testing.T) {
	f := newFixture()
	f.engine.Default = stt.Result{Text: "not dispatched"}
	f.pipeline.SetAPISending(false)

	f.runSegment(t)

	assert.Equal(t, 0, f.dispatcher.sentCount())
	assert.Len(t, f.store.Unsent(), 1)
	assert.False(t, f.pipeline.APISendingEnabled())
}

func TestPipelineResendUnsent(t *testing.T) {
	f := newFixture()
	f.engine.Default = stt.Result{Text: "try again later"}
	f.dispatcher.failErr = errors.New("api down")

	f.runSegment(t)
	require.Len(t, f.store.Unsent(), 1)

	f.dispatcher.mu.Lock()
	f.dispatcher.failErr = nil
	f.dispatcher.mu.Unlock()

	sent, failed := f.pipeline.ResendUnsent(context.Background())
	assert.Equal(t, 1, sent)
	assert.Equal(t, 0, failed)
	assert.Empty(t, f.store.Unsent())
}

func TestPipelineFinalFlushOnStop(t *testing.T) {
	f := newFixture()
	f.engine.Default = stt.Result{Text: "cut short"}

	require.NoError(t, f.pipeline.Start())
	// Speech with no trailing silence: only the shutdown flush emits it
	f.source.feedSpeechThenSilence(5, 0)
	f.pipeline.Stop()

	require.Equal(t, 1, f.store.Len())
	assert.Equal(t, "cut short", f.store.All(1)[0].Text)
}

func TestPipelineStartStopIdempotent(t *testing.T) {
	f := newFixture()

	require.NoError(t, f.pipeline.Start())
	require.NoError(t, f.pipeline.Start())
	assert.True(t, f.pipeline.Running())

	f.pipeline.Stop()
	f.pipeline.Stop()
	assert.False(t, f.pipeline.Running())
}
