package util

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// ShutdownStage is one resource in the staged shutdown sequence.
type ShutdownStage struct {
	Name     string
	Shutdown func(context.Context) error
	Priority int // Lower numbers shut down first
}

// ShutdownManager tears down resources sequentially in priority order.
// The outward-facing surfaces stop first so the inner stages can drain
// without accepting new work.
type ShutdownManager struct {
	mu      sync.Mutex
	stages  []ShutdownStage
	logger  *logrus.Logger
	timeout time.Duration
}

// NewShutdownManager builds a manager with a per-stage timeout.
func NewShutdownManager(logger *logrus.Logger, timeout time.Duration) *ShutdownManager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ShutdownManager{
		logger:  logger,
		timeout: timeout,
	}
}

// Register adds a stage, keeping the list sorted by priority.
func (m *ShutdownManager) Register(stage ShutdownStage) {
	m.mu.Lock()
	defer m.mu.Unlock()

	inserted := false
	for i, s := range m.stages {
		if stage.Priority < s.Priority {
			m.stages = append(m.stages[:i], append([]ShutdownStage{stage}, m.stages[i:]...)...)
			inserted = true
			break
		}
	}
	if !inserted {
		m.stages = append(m.stages, stage)
	}

	m.logger.WithFields(logrus.Fields{
		"stage":    stage.Name,
		"priority": stage.Priority,
	}).Debug("Registered shutdown stage")
}

// RegisterCloser registers an io.Closer as a stage.
func (m *ShutdownManager) RegisterCloser(name string, closer io.Closer, priority int) {
	m.Register(ShutdownStage{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error { return closer.Close() },
	})
}

// RegisterFunc registers a plain stop function as a stage.
func (m *ShutdownManager) RegisterFunc(name string, stop func(), priority int) {
	m.Register(ShutdownStage{
		Name:     name,
		Priority: priority,
		Shutdown: func(context.Context) error {
			stop()
			return nil
		},
	})
}

// Shutdown runs every stage in order. A failing or slow stage is logged
// and the sequence continues; the first error is returned.
func (m *ShutdownManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	stages := make([]ShutdownStage, len(m.stages))
	copy(stages, m.stages)
	m.mu.Unlock()

	m.logger.WithField("stages", len(stages)).Info("Starting staged shutdown")

	var firstErr error
	for _, stage := range stages {
		if err := m.runStage(ctx, stage); err != nil {
			m.logger.WithError(err).WithField("stage", stage.Name).Error("Shutdown stage failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		m.logger.WithField("stage", stage.Name).Debug("Shutdown stage completed")
	}

	if firstErr == nil {
		m.logger.Info("Staged shutdown completed")
	}
	return firstErr
}

func (m *ShutdownManager) runStage(ctx context.Context, stage ShutdownStage) error {
	stageCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic during shutdown of %s: %v", stage.Name, r)
			}
		}()
		done <- stage.Shutdown(stageCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("shutdown of %s: %w", stage.Name, err)
		}
		return nil
	case <-stageCtx.Done():
		return fmt.Errorf("shutdown of %s timed out after %s", stage.Name, m.timeout)
	}
}
