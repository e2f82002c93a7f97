package stt

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
)

func init() {
	RegisterEngineFactory("mock", func(logger *logrus.Logger, cfg *config.Config) (Engine, error) {
		return NewMockEngine("mock", false), nil
	})
}

// MockEngine is a scripted engine for tests and dry runs. Responses are
// consumed in order; when the script is empty it echoes a fixed text.
type MockEngine struct {
	name    string
	offline bool

	mu      sync.Mutex
	script  []mockResponse
	Default Result
	calls   int
}

type mockResponse struct {
	result Result
	err    error
}

// NewMockEngine builds a mock engine with the given identity.
func NewMockEngine(name string, offline bool) *MockEngine {
	return &MockEngine{
		name:    name,
		offline: offline,
		Default: Result{Text: "mock transcription"},
	}
}

func (e *MockEngine) Name() string              { return e.name }
func (e *MockEngine) IsOffline() bool           { return e.offline }
func (e *MockEngine) RequiresCredentials() bool { return false }

// QueueResult appends a scripted successful response.
func (e *MockEngine) QueueResult(r Result) *MockEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = append(e.script, mockResponse{result: r})
	return e
}

// QueueError appends a scripted failure.
func (e *MockEngine) QueueError(err error) *MockEngine {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.script = append(e.script, mockResponse{err: err})
	return e
}

// Calls reports how many times Transcribe ran.
func (e *MockEngine) Calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *MockEngine) Transcribe(ctx context.Context, segment *audio.Segment) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++

	if len(e.script) > 0 {
		next := e.script[0]
		e.script = e.script[1:]
		return next.result, next.err
	}
	return e.Default, nil
}
