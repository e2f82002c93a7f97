package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
)

// Metadata describes the capture context shipped with every payload.
type Metadata struct {
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
	Language   string `json:"language,omitempty"`
	Model      string `json:"model,omitempty"`
	Device     string `json:"device,omitempty"`
}

// Payload is the ingestion API request body.
type Payload struct {
	Transcription string   `json:"transcription"`
	Timestamp     string   `json:"timestamp"`
	Metadata      Metadata `json:"metadata"`
}

// Client posts transcriptions to the downstream ingestion API with bounded
// retries and a linearly increasing delay between attempts.
type Client struct {
	logger     *logrus.Logger
	cfg        config.APIConfig
	httpClient *http.Client
	metadata   Metadata

	// sleep is swapped in tests to observe the delay schedule
	sleep func(time.Duration)
}

// NewClient builds a client. Enabled() is false when no endpoint is
// configured.
func NewClient(logger *logrus.Logger, cfg config.APIConfig, metadata Metadata) *Client {
	return &Client{
		logger:     logger,
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		metadata:   metadata,
		sleep:      time.Sleep,
	}
}

// Enabled reports whether an endpoint is configured.
func (c *Client) Enabled() bool {
	return c.cfg.Endpoint != ""
}

// Send delivers one transcription, retrying up to the configured attempt
// count. The delay before retry n is retry_delay multiplied by n.
func (c *Client) Send(ctx context.Context, transcription string, ts time.Time) error {
	if !c.Enabled() {
		return errors.New("no API endpoint configured")
	}

	payload := Payload{
		Transcription: transcription,
		Timestamp:     ts.UTC().Format(time.RFC3339),
		Metadata:      c.metadata,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return errors.Wrap(err, "failed to encode API payload")
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		if attempt > 1 {
			c.sleep(c.cfg.RetryDelay * time.Duration(attempt-1))
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = c.post(ctx, body)
		if lastErr == nil {
			metrics.RecordAPIDispatch("success")
			return nil
		}

		c.logger.WithError(lastErr).WithFields(logrus.Fields{
			"attempt":      attempt,
			"max_attempts": c.cfg.RetryAttempts,
		}).Warn("API dispatch attempt failed")
	}

	metrics.RecordAPIDispatch("failure")
	return errors.NewDispatchFailed(c.cfg.RetryAttempts, lastErr)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	done := metrics.ObserveAPIDispatchLatency()
	defer done()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "failed to create API request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.Key != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Key)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "API request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return errors.New(fmt.Sprintf("API returned status %d", resp.StatusCode)).
			WithField("response", string(detail))
	}
	return nil
}
