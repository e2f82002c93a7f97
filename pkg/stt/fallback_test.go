package stt

import (
	"context"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testSegment() *audio.Segment {
	return &audio.Segment{Samples: make([]int16, 1600), FlushReason: audio.FlushSilence}
}

func newTestPair() (*MockEngine, *MockEngine, *FallbackTranscriber) {
	primary := NewMockEngine("primary", false)
	fallback := NewMockEngine("fallback", true)
	return primary, fallback, NewFallbackTranscriber(testLogger(), primary, fallback)
}

func TestFallbackStartsOnPrimary(t *testing.T) {
	primary, _, tr := newTestPair()
	primary.Default = Result{Text: "hello"}

	result, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "hello", result.Text)
	assert.Equal(t, "primary", tr.CurrentEngine())
}

func TestFallbackRetriesOnPrimaryError(t *testing.T) {
	primary, fallback, tr := newTestPair()
	primary.QueueError(errors.New("engine down"))
	fallback.Default = Result{Text: "rescued"}

	result, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "rescued", result.Text)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 1, fallback.Calls())
}

func TestFallbackSticksAfterSuccessfulRetry(t *testing.T) {
	primary, fallback, tr := newTestPair()
	primary.QueueError(errors.New("engine down"))
	fallback.Default = Result{Text: "rescued"}

	_, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "fallback", tr.CurrentEngine())

	// Later calls go straight to the fallback; the recovered primary is
	// not consulted until a connectivity or manual event
	_, err = tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, 1, primary.Calls())
	assert.Equal(t, 2, fallback.Calls())
}

func TestFallbackEmptyRetryDoesNotStick(t *testing.T) {
	primary, fallback, tr := newTestPair()
	primary.QueueError(errors.New("engine down"))
	fallback.QueueResult(Result{})

	result, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Empty(t, result.Text)
	assert.Equal(t, "primary", tr.CurrentEngine())
}

func TestFallbackErrorWhenBothEnginesFail(t *testing.T) {
	primary, fallback, tr := newTestPair()
	primary.QueueError(errors.New("primary down"))
	fallback.QueueError(errors.New("fallback down"))

	_, err := tr.Transcribe(context.Background(), testSegment())
	require.Error(t, err)
	assert.Equal(t, "primary", tr.CurrentEngine())
}

func TestConnectivityTransitionSwitchesEngine(t *testing.T) {
	primary, fallback, tr := newTestPair()
	fallback.Default = Result{Text: "offline text"}

	tr.OnConnectivityChange(false)
	assert.Equal(t, "fallback", tr.CurrentEngine())

	result, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "offline text", result.Text)
	assert.Equal(t, 0, primary.Calls())

	tr.OnConnectivityChange(true)
	assert.Equal(t, "primary", tr.CurrentEngine())
}

func TestConnectivityResetsStickyFallback(t *testing.T) {
	primary, fallback, tr := newTestPair()
	primary.QueueError(errors.New("transient"))
	fallback.Default = Result{Text: "rescued"}

	_, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	require.Equal(t, "fallback", tr.CurrentEngine())

	tr.OnConnectivityChange(true)
	assert.Equal(t, "primary", tr.CurrentEngine())
}

func TestOnlineOnlyNeverInvokesFallback(t *testing.T) {
	primary, fallback, tr := newTestPair()
	primary.QueueError(errors.New("engine down"))

	tr.ForceOnline()
	_, err := tr.Transcribe(context.Background(), testSegment())
	require.Error(t, err)
	assert.Equal(t, 0, fallback.Calls())

	// Cached offline state must not override the manual mode
	tr.OnConnectivityChange(false)
	assert.Equal(t, "primary", tr.CurrentEngine())
}

func TestOfflineOnlyPinsFallback(t *testing.T) {
	primary, fallback, tr := newTestPair()
	fallback.Default = Result{Text: "offline"}

	tr.ForceOffline()
	assert.Equal(t, "fallback", tr.CurrentEngine())

	tr.OnConnectivityChange(true)
	assert.Equal(t, "fallback", tr.CurrentEngine())

	_, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, 0, primary.Calls())
}

func TestEnableAutoFallbackRestoresConnectivityDriven(t *testing.T) {
	_, _, tr := newTestPair()

	tr.ForceOffline()
	tr.EnableAutoFallback()
	tr.OnConnectivityChange(true)
	assert.Equal(t, "primary", tr.CurrentEngine())
}

func TestSwapPrimaryBecomesCurrent(t *testing.T) {
	_, _, tr := newTestPair()

	replacement := NewMockEngine("replacement", false)
	replacement.Default = Result{Text: "swapped"}
	tr.SwapPrimary(replacement)

	assert.Equal(t, "replacement", tr.CurrentEngine())
	result, err := tr.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "swapped", result.Text)
}

func TestStatusSnapshot(t *testing.T) {
	_, _, tr := newTestPair()

	status := tr.Status()
	assert.Equal(t, ModeAutoFallback, status.Mode)
	assert.Equal(t, "primary", status.CurrentEngine)
	assert.Equal(t, "primary", status.PrimaryEngine)
	assert.Equal(t, "fallback", status.FallbackEngine)
}
