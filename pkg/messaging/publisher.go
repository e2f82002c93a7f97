package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/streadway/amqp"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
	"github.com/marvinmvns/whispersilent-sub000/pkg/transcript"
)

const (
	dialTimeout      = 5 * time.Second
	reconnectBackoff = 2 * time.Second
	maxReconnects    = 5
)

// Message is the JSON body published for every transcription.
type Message struct {
	ID            string    `json:"id"`
	Transcription string    `json:"transcription"`
	Timestamp     time.Time `json:"timestamp"`
	Engine        string    `json:"engine"`
	Confidence    float64   `json:"confidence,omitempty"`
	Language      string    `json:"language,omitempty"`
}

// Publisher mirrors transcriptions to an AMQP queue. It implements the
// pipeline's TranscriptionListener; publish failures are logged and never
// surface into the pipeline.
type Publisher struct {
	logger *logrus.Logger
	cfg    config.AMQPConfig

	mu        sync.RWMutex
	conn      *amqp.Connection
	channel   *amqp.Channel
	connected bool
	stopChan  chan struct{}

	// publish is swapped in tests
	publish func(body []byte) error
}

// NewPublisher builds a publisher. Call Connect before use; a publisher
// with an empty URL stays disabled and drops everything silently.
func NewPublisher(logger *logrus.Logger, cfg config.AMQPConfig) *Publisher {
	p := &Publisher{
		logger:   logger,
		cfg:      cfg,
		stopChan: make(chan struct{}),
	}
	p.publish = p.publishAMQP
	return p
}

// Enabled reports whether an AMQP URL is configured.
func (p *Publisher) Enabled() bool {
	return p.cfg.URL != ""
}

// Connect dials the broker and declares the queue. Disabled publishers
// return nil without connecting.
func (p *Publisher) Connect() error {
	if !p.Enabled() {
		p.logger.Debug("AMQP URL not configured, transcription mirroring disabled")
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.connected {
		return nil
	}

	conn, err := p.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to AMQP server: %w", err)
	}

	channel, err := conn.Channel()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to open AMQP channel: %w", err)
	}

	if _, err := channel.QueueDeclare(p.cfg.QueueName, true, false, false, false, nil); err != nil {
		channel.Close()
		conn.Close()
		return fmt.Errorf("failed to declare queue %q: %w", p.cfg.QueueName, err)
	}

	p.conn = conn
	p.channel = channel
	p.connected = true

	go p.monitorConnection(conn.NotifyClose(make(chan *amqp.Error, 1)))

	p.logger.WithField("queue", p.cfg.QueueName).Info("Connected to AMQP server")
	return nil
}

// dial runs amqp.Dial under a timeout; the library itself has none.
func (p *Publisher) dial() (*amqp.Connection, error) {
	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	type dialResult struct {
		conn *amqp.Connection
		err  error
	}
	resultChan := make(chan dialResult, 1)

	go func() {
		conn, err := amqp.Dial(p.cfg.URL)
		select {
		case resultChan <- dialResult{conn, err}:
		case <-ctx.Done():
			if conn != nil {
				conn.Close()
			}
		}
	}()

	select {
	case result := <-resultChan:
		return result.conn, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("connection timed out after %s", dialTimeout)
	}
}

// monitorConnection reconnects with backoff when the broker drops us.
func (p *Publisher) monitorConnection(closeChan chan *amqp.Error) {
	select {
	case <-p.stopChan:
		return
	case closeErr := <-closeChan:
		if closeErr == nil {
			return
		}
		p.logger.WithError(closeErr).Warn("AMQP connection closed, attempting to reconnect")
	}

	p.mu.Lock()
	p.connected = false
	p.conn = nil
	p.channel = nil
	p.mu.Unlock()

	for attempt := 1; attempt <= maxReconnects; attempt++ {
		select {
		case <-p.stopChan:
			return
		case <-time.After(time.Duration(attempt) * reconnectBackoff):
		}

		if err := p.Connect(); err != nil {
			p.logger.WithError(err).WithField("attempt", attempt).Error("AMQP reconnect failed")
			continue
		}
		p.logger.Info("Reconnected to AMQP server")
		return
	}
	p.logger.Error("Giving up on AMQP reconnection, transcription mirroring stopped")
}

// OnTranscription publishes the record as a persistent JSON message.
// Failures are counted and logged only.
func (p *Publisher) OnTranscription(record *transcript.Record) {
	if !p.Enabled() {
		return
	}

	body, err := json.Marshal(Message{
		ID:            record.ID,
		Transcription: record.Text,
		Timestamp:     record.Timestamp,
		Engine:        record.Engine,
		Confidence:    record.Confidence,
		Language:      record.Language,
	})
	if err != nil {
		p.logger.WithError(err).Error("Failed to marshal transcription message")
		return
	}

	if err := p.publish(body); err != nil {
		metrics.RecordAMQPPublish(p.cfg.QueueName, "error")
		p.logger.WithError(err).WithField("record_id", record.ID).Warn("Failed to publish transcription to AMQP")
		return
	}
	metrics.RecordAMQPPublish(p.cfg.QueueName, "success")
}

func (p *Publisher) publishAMQP(body []byte) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.connected || p.channel == nil {
		return fmt.Errorf("not connected to AMQP server")
	}

	return p.channel.Publish("", p.cfg.QueueName, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Body:         body,
	})
}

// Close tears down the channel and connection.
func (p *Publisher) Close() {
	close(p.stopChan)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.channel != nil {
		p.channel.Close()
		p.channel = nil
	}
	if p.conn != nil {
		p.conn.Close()
		p.conn = nil
	}
	p.connected = false
}
