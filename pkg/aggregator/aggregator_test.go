package aggregator

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testConfig() config.AggregatorConfig {
	return config.AggregatorConfig{
		Enabled:       true,
		SilenceGap:    5 * time.Minute,
		CheckInterval: time.Hour,
	}
}

type recordingDispatcher struct {
	mu     sync.Mutex
	blocks []*Block
	err    error
	sent   chan struct{}
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{sent: make(chan struct{}, 16)}
}

func (d *recordingDispatcher) SendBlock(block *Block) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.blocks = append(d.blocks, block)
	d.sent <- struct{}{}
	return d.err
}

func (d *recordingDispatcher) waitForSend(t *testing.T) {
	t.Helper()
	select {
	case <-d.sent:
	case <-time.After(time.Second):
		t.Fatal("dispatcher was not invoked")
	}
}

func baseTime() time.Time {
	return time.Date(2026, 8, 31, 14, 10, 0, 0, time.UTC)
}

func TestAddWithinGapStaysInOneBucket(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("first part", base)
	agg.Add("second part", base.Add(4*time.Minute))

	block := agg.Finalize(ReasonManual)
	require.NotNil(t, block)
	assert.Equal(t, "first part second part", block.FullText)
	assert.Equal(t, 2, block.TranscriptionCount)

	// A pause longer than the intra-bucket threshold is recorded even
	// when it does not split the bucket.
	require.Len(t, block.SilenceGaps, 1)
	assert.Equal(t, base, block.SilenceGaps[0].Start)
	assert.Equal(t, base.Add(4*time.Minute), block.SilenceGaps[0].End)
	assert.Equal(t, 4*time.Minute, block.SilenceGaps[0].Duration)
}

func TestAddBeyondGapSplitsBuckets(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("before the pause", base)
	agg.Add("after the pause", base.Add(6*time.Minute))

	blocks := agg.Blocks(0)
	require.Len(t, blocks, 1)
	assert.Equal(t, "before the pause", blocks[0].FullText)
	assert.Equal(t, ReasonSilenceGap, blocks[0].FinalizationReason)

	final := agg.Finalize(ReasonManual)
	require.NotNil(t, final)
	assert.Equal(t, "after the pause", final.FullText)
}

func TestHourChangeFinalizesPreviousBucket(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := time.Date(2026, 8, 31, 14, 58, 0, 0, time.UTC)

	agg.Add("late in the hour", base)
	agg.Add("new hour", base.Add(3*time.Minute))

	blocks := agg.Blocks(0)
	require.Len(t, blocks, 1)
	assert.Equal(t, ReasonHourChange, blocks[0].FinalizationReason)
	assert.Equal(t, base.Truncate(time.Hour), blocks[0].HourStart)
}

func TestIntraBucketGapsRecorded(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("one", base)
	agg.Add("two", base.Add(45*time.Second))
	agg.Add("three", base.Add(55*time.Second))

	block := agg.Finalize(ReasonManual)
	require.NotNil(t, block)
	require.Len(t, block.SilenceGaps, 1)
	assert.Equal(t, 45*time.Second, block.SilenceGaps[0].Duration)
}

func TestFinalizeEmptyBucketIsNoop(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	assert.Nil(t, agg.Finalize(ReasonManual))
	assert.Empty(t, agg.Blocks(0))
}

func TestFinalizedBlockDispatched(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	agg := New(testLogger(), testConfig(), dispatcher)

	agg.Add("dispatch me", baseTime())
	agg.Finalize(ReasonManual)
	dispatcher.waitForSend(t)

	require.Eventually(t, func() bool {
		return agg.Blocks(0)[0].SentToAPI
	}, time.Second, 10*time.Millisecond)
}

func TestDispatchFailureLeavesBlockUnsent(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	dispatcher.err = assert.AnError
	agg := New(testLogger(), testConfig(), dispatcher)

	agg.Add("will fail", baseTime())
	agg.Finalize(ReasonManual)
	dispatcher.waitForSend(t)

	assert.False(t, agg.Blocks(0)[0].SentToAPI)
	assert.Equal(t, 1, agg.Status().UnsentBlocks)
}

func TestResendUnsent(t *testing.T) {
	dispatcher := newRecordingDispatcher()
	dispatcher.err = assert.AnError
	agg := New(testLogger(), testConfig(), dispatcher)

	agg.Add("retry me", baseTime())
	agg.Finalize(ReasonManual)
	dispatcher.waitForSend(t)

	dispatcher.mu.Lock()
	dispatcher.err = nil
	dispatcher.mu.Unlock()

	assert.Equal(t, 1, agg.ResendUnsent())
	dispatcher.waitForSend(t)

	require.Eventually(t, func() bool {
		return agg.Blocks(0)[0].SentToAPI
	}, time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, agg.ResendUnsent())
}

func TestCheckStaleFinalizesSilentBucket(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("stale text", base)
	agg.checkStale(base.Add(4 * time.Minute))
	assert.Empty(t, agg.Blocks(0), "bucket within the gap must stay open")

	agg.checkStale(base.Add(6 * time.Minute))
	blocks := agg.Blocks(0)
	require.Len(t, blocks, 1)
	assert.Equal(t, ReasonStale, blocks[0].FinalizationReason)
}

func TestSetEnabledFalseStopsAggregation(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("kept", base)
	agg.SetEnabled(false)
	agg.Add("ignored", base.Add(time.Minute))

	blocks := agg.Blocks(0)
	require.Len(t, blocks, 1)
	assert.Equal(t, "kept", blocks[0].FullText)
	assert.Empty(t, agg.PartialText())
}

func TestPartialTextAndStatus(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("partial", base)
	agg.Add("text", base.Add(time.Second))

	assert.Equal(t, "partial text", agg.PartialText())

	status := agg.Status()
	assert.True(t, status.Enabled)
	assert.True(t, status.HasOpenBucket)
	assert.Equal(t, 2, status.OpenBucketCount)
	assert.Equal(t, base.Truncate(time.Hour), status.OpenBucketHour)
}

func TestBlockForHour(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("in the window", base)
	agg.Finalize(ReasonManual)

	block, found := agg.BlockForHour(base.Add(30 * time.Minute))
	require.True(t, found)
	assert.Equal(t, "in the window", block.FullText)

	_, found = agg.BlockForHour(base.Add(2 * time.Hour))
	assert.False(t, found)
}

func TestStats(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	base := baseTime()

	agg.Add("two words", base)
	agg.Finalize(ReasonManual)
	agg.Add("three more words", base.Add(10*time.Minute))
	agg.Finalize(ReasonManual)

	stats := agg.Stats()
	assert.Equal(t, 2, stats.TotalBlocks)
	assert.Equal(t, 2, stats.TotalTranscriptions)
	assert.Equal(t, 5, stats.TotalWords)
}

func TestStopFinalizesOpenBucket(t *testing.T) {
	agg := New(testLogger(), testConfig(), nil)
	agg.Start()
	agg.Add("last words", baseTime())
	agg.Stop()

	blocks := agg.Blocks(0)
	require.Len(t, blocks, 1)
	assert.Equal(t, ReasonShutdown, blocks[0].FinalizationReason)
}
