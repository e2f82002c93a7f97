package stt

import (
	"context"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming"
	"github.com/aws/aws-sdk-go-v2/service/transcribestreaming/types"
	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/audio"
	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
)

func init() {
	RegisterEngineFactory("amazon", func(logger *logrus.Logger, cfg *config.Config) (Engine, error) {
		return NewAmazonEngine(logger, cfg)
	})
}

// audioChunkSize is the PCM chunk size sent per streaming event.
const audioChunkSize = 8 * 1024

// AmazonEngine transcribes segments with Amazon Transcribe streaming.
// Each segment is streamed whole and the final (non-partial) results are
// concatenated into one text.
type AmazonEngine struct {
	logger     *logrus.Logger
	client     *transcribestreaming.Client
	cfg        config.AmazonSTTConfig
	sampleRate int
}

// NewAmazonEngine builds the engine and its streaming client.
func NewAmazonEngine(logger *logrus.Logger, cfg *config.Config) (*AmazonEngine, error) {
	if !cfg.STT.Amazon.Enabled {
		return nil, errors.NewEngineDisabled("amazon")
	}
	if cfg.STT.Amazon.AccessKeyID == "" || cfg.STT.Amazon.SecretAccessKey == "" {
		return nil, errors.New("amazon STT requires AWS access key ID and secret access key")
	}

	region := cfg.STT.Amazon.Region
	if region == "" {
		region = "us-east-1"
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
		awsconfig.WithRegion(region),
		awsconfig.WithRetryMaxAttempts(3),
		awsconfig.WithRetryMode(aws.RetryModeStandard),
		awsconfig.WithCredentialsProvider(aws.CredentialsProviderFunc(func(ctx context.Context) (aws.Credentials, error) {
			return aws.Credentials{
				AccessKeyID:     cfg.STT.Amazon.AccessKeyID,
				SecretAccessKey: cfg.STT.Amazon.SecretAccessKey,
			}, nil
		})),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load AWS configuration")
	}

	logger.WithFields(logrus.Fields{
		"region":   region,
		"language": cfg.STT.Amazon.Language,
	}).Info("Amazon Transcribe engine initialized")

	return &AmazonEngine{
		logger:     logger,
		client:     transcribestreaming.NewFromConfig(awsCfg),
		cfg:        cfg.STT.Amazon,
		sampleRate: cfg.Audio.SampleRate,
	}, nil
}

// audioSender is the send half of a transcription stream.
type audioSender interface {
	Send(ctx context.Context, event types.AudioStream) error
	Close() error
}

// sendAudio streams pcm in fixed-size chunks on its own goroutine. The
// returned channel holds both a possible send failure and the close
// result, so the goroutine never blocks even when the caller reads at
// most one value.
func sendAudio(ctx context.Context, stream audioSender, pcm []byte) <-chan error {
	errs := make(chan error, 2)
	go func() {
		defer func() { errs <- stream.Close() }()

		for offset := 0; offset < len(pcm); offset += audioChunkSize {
			end := offset + audioChunkSize
			if end > len(pcm) {
				end = len(pcm)
			}

			event := &types.AudioStreamMemberAudioEvent{
				Value: types.AudioEvent{AudioChunk: pcm[offset:end]},
			}
			if err := stream.Send(ctx, event); err != nil {
				errs <- err
				return
			}
		}
	}()
	return errs
}

func (e *AmazonEngine) Name() string              { return "amazon" }
func (e *AmazonEngine) IsOffline() bool           { return false }
func (e *AmazonEngine) RequiresCredentials() bool { return true }

// Transcribe streams the segment as PCM events and collects final results.
func (e *AmazonEngine) Transcribe(ctx context.Context, segment *audio.Segment) (Result, error) {
	input := &transcribestreaming.StartStreamTranscriptionInput{
		LanguageCode:         types.LanguageCode(e.cfg.Language),
		MediaSampleRateHertz: aws.Int32(int32(e.sampleRate)),
		MediaEncoding:        types.MediaEncodingPcm,
	}

	resp, err := e.client.StartStreamTranscription(ctx, input)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to start transcription stream").WithField("engine", e.Name())
	}

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	sendErrs := sendAudio(streamCtx, resp.GetStream(), segment.PCMBytes())

	var parts []string
	var language string
	for event := range resp.GetStream().Events() {
		transcriptEvent, ok := event.(*types.TranscriptResultStreamMemberTranscriptEvent)
		if !ok || transcriptEvent.Value.Transcript == nil {
			continue
		}

		for _, res := range transcriptEvent.Value.Transcript.Results {
			if res.IsPartial || len(res.Alternatives) == 0 {
				continue
			}
			alt := res.Alternatives[0]
			if alt.Transcript != nil && *alt.Transcript != "" {
				parts = append(parts, *alt.Transcript)
			}
			if res.LanguageCode != "" {
				language = string(res.LanguageCode)
			}
		}
	}

	if streamErr := resp.GetStream().Err(); streamErr != nil {
		return Result{}, errors.Wrap(streamErr, "amazon transcribe stream error").WithField("engine", e.Name())
	}
	if err := <-sendErrs; err != nil {
		return Result{}, errors.Wrap(err, "failed to send audio to amazon transcribe").WithField("engine", e.Name())
	}

	result := Result{
		Text:     strings.Join(parts, " "),
		Language: language,
	}
	e.logger.WithFields(logrus.Fields{
		"engine":   e.Name(),
		"text_len": len(result.Text),
	}).Debug("Amazon transcription completed")

	return result, nil
}
