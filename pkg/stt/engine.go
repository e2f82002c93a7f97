package stt

import (
	"context"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

// Result is the outcome of transcribing one speech segment. Empty text is
// a normal result; engines return an error only for operational failures.
type Result struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence,omitempty"`
	Language   string  `json:"language,omitempty"`
}

// Engine transcribes bounded speech segments.
type Engine interface {
	// Name returns the engine identifier used in config and metrics
	Name() string

	// Transcribe converts a speech segment to text
	Transcribe(ctx context.Context, segment *audio.Segment) (Result, error)

	// IsOffline reports whether the engine works without network access
	IsOffline() bool

	// RequiresCredentials reports whether the engine needs configured secrets
	RequiresCredentials() bool
}

// EngineFactory constructs an Engine from the loaded configuration.
type EngineFactory func(logger *logrus.Logger, cfg *config.Config) (Engine, error)

var (
	engineFactoriesMu sync.RWMutex
	engineFactories   = make(map[string]EngineFactory)
)

// RegisterEngineFactory registers a factory that can build an engine by name.
func RegisterEngineFactory(name string, factory EngineFactory) {
	trimmed := strings.TrimSpace(strings.ToLower(name))
	if trimmed == "" || factory == nil {
		return
	}

	engineFactoriesMu.Lock()
	defer engineFactoriesMu.Unlock()
	engineFactories[trimmed] = factory
}

// NewEngine instantiates a registered engine by name.
func NewEngine(name string, logger *logrus.Logger, cfg *config.Config) (Engine, error) {
	trimmed := strings.TrimSpace(strings.ToLower(name))

	engineFactoriesMu.RLock()
	factory, ok := engineFactories[trimmed]
	engineFactoriesMu.RUnlock()
	if !ok {
		return nil, errors.NewEngineNotFound(name)
	}
	return factory(logger, cfg)
}

// RegisteredEngines lists every registered engine name.
func RegisteredEngines() []string {
	engineFactoriesMu.RLock()
	defer engineFactoriesMu.RUnlock()

	names := make([]string, 0, len(engineFactories))
	for name := range engineFactories {
		names = append(names, name)
	}
	return names
}
