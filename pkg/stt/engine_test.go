package stt

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

func TestNewEngineUnknownName(t *testing.T) {
	_, err := NewEngine("does-not-exist", testLogger(), &config.Config{})
	require.Error(t, err)
	assert.True(t, errors.IsErrorType(err, errors.ErrEngineNotFound))
}

func TestNewEngineNameIsCaseInsensitive(t *testing.T) {
	engine, err := NewEngine("  MOCK  ", testLogger(), &config.Config{})
	require.NoError(t, err)
	assert.Equal(t, "mock", engine.Name())
}

func TestRegisteredEnginesIncludeBuiltins(t *testing.T) {
	names := RegisteredEngines()
	assert.Contains(t, names, "google")
	assert.Contains(t, names, "amazon")
	assert.Contains(t, names, "openai")
	assert.Contains(t, names, "whispercpp")
	assert.Contains(t, names, "mock")
}

func TestRegisterEngineFactoryIgnoresInvalid(t *testing.T) {
	before := len(RegisteredEngines())
	RegisterEngineFactory("", func(*logrus.Logger, *config.Config) (Engine, error) { return nil, nil })
	RegisterEngineFactory("nilfactory", nil)
	assert.Len(t, RegisteredEngines(), before)
}

func TestMockEngineScript(t *testing.T) {
	engine := NewMockEngine("scripted", true)
	engine.QueueResult(Result{Text: "first"}).QueueError(errors.New("second fails"))

	result, err := engine.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "first", result.Text)

	_, err = engine.Transcribe(context.Background(), testSegment())
	require.Error(t, err)

	// Script exhausted: the default result is echoed
	result, err = engine.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "mock transcription", result.Text)
	assert.Equal(t, 3, engine.Calls())
	assert.True(t, engine.IsOffline())
}

func TestDisabledEngineFactoriesReject(t *testing.T) {
	cfg := &config.Config{}

	for _, name := range []string{"google", "amazon", "openai", "whispercpp"} {
		_, err := NewEngine(name, testLogger(), cfg)
		require.Error(t, err, name)
		assert.True(t, errors.IsErrorType(err, errors.ErrEngineDisabled), name)
		assert.Equal(t, "ENGINE_DISABLED", errors.GetErrorCode(err), name)
	}
}
