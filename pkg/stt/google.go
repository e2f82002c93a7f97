package stt

import (
	"context"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

func init() {
	RegisterEngineFactory("google", func(logger *logrus.Logger, cfg *config.Config) (Engine, error) {
		return NewGoogleEngine(logger, cfg)
	})
}

// GoogleEngine transcribes segments with Google Cloud Speech-to-Text using
// synchronous recognition. Segments are bounded well under the one-minute
// sync recognize limit.
type GoogleEngine struct {
	logger     *logrus.Logger
	client     *speech.Client
	cfg        config.GoogleSTTConfig
	sampleRate int
}

// NewGoogleEngine builds the engine and its API client.
func NewGoogleEngine(logger *logrus.Logger, cfg *config.Config) (*GoogleEngine, error) {
	if !cfg.STT.Google.Enabled {
		return nil, errors.NewEngineDisabled("google")
	}

	var clientOptions []option.ClientOption
	if cfg.STT.Google.APIKey != "" {
		clientOptions = append(clientOptions, option.WithAPIKey(cfg.STT.Google.APIKey))
		logger.Debug("Using Google STT API key authentication")
	} else if cfg.STT.Google.CredentialsFile != "" {
		clientOptions = append(clientOptions, option.WithCredentialsFile(cfg.STT.Google.CredentialsFile))
		logger.WithField("credentials_file", cfg.STT.Google.CredentialsFile).Debug("Using Google STT credentials file")
	} else {
		return nil, errors.New("google STT requires either API key or credentials file")
	}

	client, err := speech.NewClient(context.Background(), clientOptions...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Google Speech client")
	}

	logger.WithFields(logrus.Fields{
		"language": cfg.STT.Google.Language,
		"model":    cfg.STT.Google.Model,
	}).Info("Google Speech-to-Text engine initialized")

	return &GoogleEngine{
		logger:     logger,
		client:     client,
		cfg:        cfg.STT.Google,
		sampleRate: cfg.Audio.SampleRate,
	}, nil
}

func (e *GoogleEngine) Name() string              { return "google" }
func (e *GoogleEngine) IsOffline() bool           { return false }
func (e *GoogleEngine) RequiresCredentials() bool { return true }

// Transcribe sends the segment as LINEAR16 content and returns the best
// alternative across result slices.
func (e *GoogleEngine) Transcribe(ctx context.Context, segment *audio.Segment) (Result, error) {
	recognitionConfig := &speechpb.RecognitionConfig{
		Encoding:        speechpb.RecognitionConfig_LINEAR16,
		SampleRateHertz: int32(e.sampleRate),
		LanguageCode:    e.cfg.Language,
	}
	if e.cfg.Model != "" {
		recognitionConfig.Model = e.cfg.Model
	}

	resp, err := e.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: recognitionConfig,
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{
				Content: segment.PCMBytes(),
			},
		},
	})
	if err != nil {
		return Result{}, errors.Wrap(err, "google recognize failed").WithField("engine", e.Name())
	}

	var result Result
	for _, res := range resp.Results {
		if len(res.Alternatives) == 0 {
			continue
		}
		alt := res.Alternatives[0]
		if result.Text != "" {
			result.Text += " "
		}
		result.Text += alt.Transcript
		result.Confidence = float64(alt.Confidence)
		if res.LanguageCode != "" {
			result.Language = res.LanguageCode
		}
	}

	e.logger.WithFields(logrus.Fields{
		"engine":     e.Name(),
		"text_len":   len(result.Text),
		"confidence": result.Confidence,
	}).Debug("Google transcription completed")

	return result, nil
}

// Close releases the API client.
func (e *GoogleEngine) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}
