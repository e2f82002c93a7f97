package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

func init() {
	RegisterEngineFactory("openai", func(logger *logrus.Logger, cfg *config.Config) (Engine, error) {
		return NewOpenAIEngine(logger, cfg)
	})
}

const defaultOpenAIURL = "https://api.openai.com/v1/audio/transcriptions"

// OpenAIEngine transcribes segments with the OpenAI audio transcription
// API, uploading each segment as a WAV file.
type OpenAIEngine struct {
	logger     *logrus.Logger
	cfg        config.OpenAISTTConfig
	httpClient *http.Client
	apiURL     string
	sampleRate int
	channels   int
}

// NewOpenAIEngine builds the engine.
func NewOpenAIEngine(logger *logrus.Logger, cfg *config.Config) (*OpenAIEngine, error) {
	if !cfg.STT.OpenAI.Enabled {
		return nil, errors.NewEngineDisabled("openai")
	}
	if cfg.STT.OpenAI.APIKey == "" {
		return nil, errors.New("openai STT requires an API key")
	}

	apiURL := cfg.STT.OpenAI.BaseURL
	if apiURL == "" {
		apiURL = defaultOpenAIURL
	}

	logger.WithFields(logrus.Fields{
		"model": cfg.STT.OpenAI.Model,
		"url":   apiURL,
	}).Info("OpenAI transcription engine initialized")

	return &OpenAIEngine{
		logger:     logger,
		cfg:        cfg.STT.OpenAI,
		httpClient: &http.Client{Timeout: cfg.STT.OpenAI.Timeout},
		apiURL:     apiURL,
		sampleRate: cfg.Audio.SampleRate,
		channels:   cfg.Audio.Channels,
	}, nil
}

func (e *OpenAIEngine) Name() string              { return "openai" }
func (e *OpenAIEngine) IsOffline() bool           { return false }
func (e *OpenAIEngine) RequiresCredentials() bool { return true }

// Transcribe uploads the segment as multipart WAV and parses the JSON
// response.
func (e *OpenAIEngine) Transcribe(ctx context.Context, segment *audio.Segment) (Result, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "segment.wav")
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to build multipart request")
	}
	if err := audio.WriteWAV(part, segment.Samples, e.sampleRate, e.channels); err != nil {
		return Result{}, errors.Wrap(err, "failed to encode segment as WAV")
	}
	if err := writer.WriteField("model", e.cfg.Model); err != nil {
		return Result{}, errors.Wrap(err, "failed to build multipart request")
	}
	if err := writer.Close(); err != nil {
		return Result{}, errors.Wrap(err, "failed to build multipart request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL, &body)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to create openai request")
	}
	req.Header.Set("Authorization", "Bearer "+e.cfg.APIKey)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return Result{}, errors.Wrap(err, "openai request failed").WithField("engine", e.Name())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Result{}, errors.New(fmt.Sprintf("openai API returned status %d", resp.StatusCode)).
			WithField("engine", e.Name()).
			WithField("response", string(detail))
	}

	var payload struct {
		Text     string `json:"text"`
		Language string `json:"language"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return Result{}, errors.Wrap(err, "failed to decode openai response")
	}

	e.logger.WithFields(logrus.Fields{
		"engine":   e.Name(),
		"text_len": len(payload.Text),
	}).Debug("OpenAI transcription completed")

	return Result{Text: payload.Text, Language: payload.Language}, nil
}
