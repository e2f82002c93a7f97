package stt

import (
	"context"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

type scriptedAudioSender struct {
	sendErrs []error
	chunks   [][]byte
	closed   bool
	closeErr error
}

func (s *scriptedAudioSender) Send(_ context.Context, event types.AudioStream) error {
	audioEvent, ok := event.(*types.AudioStreamMemberAudioEvent)
	if ok {
		s.chunks = append(s.chunks, audioEvent.Value.AudioChunk)
	}
	if len(s.sendErrs) > 0 {
		err := s.sendErrs[0]
		s.sendErrs = s.sendErrs[1:]
		return err
	}
	return nil
}

func (s *scriptedAudioSender) Close() error {
	s.closed = true
	return s.closeErr
}

func recvErr(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sender result")
		return nil
	}
}

func TestSendAudioChunksAndCloses(t *testing.T) {
	sender := &scriptedAudioSender{}
	pcm := make([]byte, audioChunkSize+100)

	errs := sendAudio(context.Background(), sender, pcm)

	require.NoError(t, recvErr(t, errs))
	require.Len(t, sender.chunks, 2)
	assert.Len(t, sender.chunks[0], audioChunkSize)
	assert.Len(t, sender.chunks[1], 100)
	assert.True(t, sender.closed)
}

func TestSendAudioSendFailureDoesNotBlockClose(t *testing.T) {
	sender := &scriptedAudioSender{
		sendErrs: []error{errors.New("stream reset")},
		closeErr: errors.New("close failed"),
	}
	pcm := make([]byte, 2*audioChunkSize)

	errs := sendAudio(context.Background(), sender, pcm)

	// Both the send failure and the close result come through, so the
	// sender goroutine finishes even when the caller reads only one.
	first := recvErr(t, errs)
	require.Error(t, first)
	assert.Contains(t, first.Error(), "stream reset")

	second := recvErr(t, errs)
	require.Error(t, second)
	assert.Contains(t, second.Error(), "close failed")

	assert.True(t, sender.closed)
	assert.Len(t, sender.chunks, 1)
}
