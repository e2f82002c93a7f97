package messaging

import (
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/transcript"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testRecord() *transcript.Record {
	return &transcript.Record{
		ID:         "trans_1700000000_1",
		Text:       "hello from the microphone",
		Timestamp:  time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC),
		Engine:     "google",
		Confidence: 0.87,
		Language:   "en-US",
	}
}

func TestPublisherDisabledWithoutURL(t *testing.T) {
	p := NewPublisher(testLogger(), config.AMQPConfig{QueueName: "transcriptions"})

	assert.False(t, p.Enabled())
	require.NoError(t, p.Connect())

	published := 0
	p.publish = func([]byte) error {
		published++
		return nil
	}
	p.OnTranscription(testRecord())
	assert.Zero(t, published, "disabled publisher must drop records")
}

func TestPublisherMessageBody(t *testing.T) {
	p := NewPublisher(testLogger(), config.AMQPConfig{URL: "amqp://localhost", QueueName: "transcriptions"})

	var body []byte
	p.publish = func(b []byte) error {
		body = b
		return nil
	}
	p.OnTranscription(testRecord())

	require.NotNil(t, body)
	var msg Message
	require.NoError(t, json.Unmarshal(body, &msg))
	assert.Equal(t, "trans_1700000000_1", msg.ID)
	assert.Equal(t, "hello from the microphone", msg.Transcription)
	assert.Equal(t, "google", msg.Engine)
	assert.Equal(t, 0.87, msg.Confidence)
	assert.Equal(t, "en-US", msg.Language)
	assert.True(t, msg.Timestamp.Equal(time.Date(2024, 3, 1, 14, 30, 0, 0, time.UTC)))
}

func TestPublisherFailureIsSwallowed(t *testing.T) {
	p := NewPublisher(testLogger(), config.AMQPConfig{URL: "amqp://localhost", QueueName: "transcriptions"})
	p.publish = func([]byte) error {
		return errors.New("broker unavailable")
	}

	assert.NotPanics(t, func() {
		p.OnTranscription(testRecord())
	})
}

func TestPublisherPublishWithoutConnection(t *testing.T) {
	p := NewPublisher(testLogger(), config.AMQPConfig{URL: "amqp://localhost", QueueName: "transcriptions"})

	err := p.publishAMQP([]byte("{}"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not connected")
}
