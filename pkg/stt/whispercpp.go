package stt

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

func init() {
	RegisterEngineFactory("whispercpp", func(logger *logrus.Logger, cfg *config.Config) (Engine, error) {
		return NewWhisperCPPEngine(logger, cfg)
	})
}

type whisperRunner func(ctx context.Context, cfg config.WhisperCPPSTTConfig, audioPath, outputBase string) error

// WhisperCPPEngine transcribes segments offline with a local whisper.cpp
// CLI binary. Each segment is written to a temporary WAV file and the CLI
// output is read back as text. This is the offline fallback engine.
type WhisperCPPEngine struct {
	logger     *logrus.Logger
	cfg        config.WhisperCPPSTTConfig
	runner     whisperRunner
	sampleRate int
	channels   int
}

// NewWhisperCPPEngine validates the configured binary and model paths.
func NewWhisperCPPEngine(logger *logrus.Logger, cfg *config.Config) (*WhisperCPPEngine, error) {
	if !cfg.STT.WhisperCPP.Enabled {
		return nil, errors.NewEngineDisabled("whispercpp")
	}
	if cfg.STT.WhisperCPP.BinaryPath == "" {
		return nil, errors.New("WHISPER_CPP_BINARY_PATH must be set when whispercpp STT is enabled")
	}
	if cfg.STT.WhisperCPP.ModelPath == "" {
		return nil, errors.New("WHISPER_CPP_MODEL_PATH must be set when whispercpp STT is enabled")
	}

	if _, err := exec.LookPath(cfg.STT.WhisperCPP.BinaryPath); err != nil {
		logger.WithError(err).Warn("whisper.cpp binary not found in PATH; transcription may fail at runtime")
	}
	if _, err := os.Stat(cfg.STT.WhisperCPP.ModelPath); err != nil {
		logger.WithError(err).WithField("model", cfg.STT.WhisperCPP.ModelPath).Warn("whisper.cpp model file not readable")
	}

	logger.WithFields(logrus.Fields{
		"binary":   cfg.STT.WhisperCPP.BinaryPath,
		"model":    cfg.STT.WhisperCPP.ModelPath,
		"language": cfg.STT.WhisperCPP.Language,
	}).Info("whisper.cpp engine initialized")

	return &WhisperCPPEngine{
		logger:     logger,
		cfg:        cfg.STT.WhisperCPP,
		runner:     defaultWhisperCPPRunner,
		sampleRate: cfg.Audio.SampleRate,
		channels:   cfg.Audio.Channels,
	}, nil
}

func (e *WhisperCPPEngine) Name() string              { return "whispercpp" }
func (e *WhisperCPPEngine) IsOffline() bool           { return true }
func (e *WhisperCPPEngine) RequiresCredentials() bool { return false }

// Transcribe writes the segment to a temp WAV, runs the CLI, and reads the
// text output back.
func (e *WhisperCPPEngine) Transcribe(ctx context.Context, segment *audio.Segment) (Result, error) {
	audioFile, err := os.CreateTemp("", "whispercpp-audio-*.wav")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create temporary audio file")
	}
	defer os.Remove(audioFile.Name())

	if err := audio.WriteWAV(audioFile, segment.Samples, e.sampleRate, e.channels); err != nil {
		audioFile.Close()
		return Result{}, errors.Wrap(err, "failed to write segment WAV")
	}
	if err := audioFile.Close(); err != nil {
		return Result{}, errors.Wrap(err, "failed to close temp audio file")
	}

	outputDir, err := os.MkdirTemp("", "whispercpp-output-*")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create whisper output directory")
	}
	defer os.RemoveAll(outputDir)
	outputBase := filepath.Join(outputDir, "segment")

	runCtx := ctx
	cancel := func() {}
	if e.cfg.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, e.cfg.Timeout)
	}
	err = e.runner(runCtx, e.cfg, audioFile.Name(), outputBase)
	cancel()
	if err != nil {
		return Result{}, errors.Wrap(err, "whisper.cpp transcription failed").WithField("engine", e.Name())
	}

	data, err := os.ReadFile(outputBase + ".txt")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to read whisper.cpp output")
	}

	text := strings.TrimSpace(string(data))
	e.logger.WithFields(logrus.Fields{
		"engine":   e.Name(),
		"text_len": len(text),
	}).Debug("whisper.cpp transcription completed")

	return Result{Text: text, Language: e.cfg.Language}, nil
}

func defaultWhisperCPPRunner(ctx context.Context, cfg config.WhisperCPPSTTConfig, audioPath, outputBase string) error {
	args := []string{
		"-m", cfg.ModelPath,
		"-f", audioPath,
		"-otxt",
		"-of", outputBase,
	}
	if cfg.Language != "" {
		args = append(args, "-l", cfg.Language)
	}

	cmd := exec.CommandContext(ctx, cfg.BinaryPath, args...)
	var combined bytes.Buffer
	cmd.Stdout = &combined
	cmd.Stderr = &combined
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("whisper.cpp command failed: %w: %s", err, combined.String())
	}
	return nil
}
