package audio

import (
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
)

// probeDuration is how long a candidate device is sampled before committing.
const probeDuration = 300 * time.Millisecond

// Capture streams PCM16 frames from a microphone into a bounded queue.
// The hardware callback never blocks: when the queue is full the oldest
// frame is dropped and counted.
type Capture struct {
	logger *logrus.Logger
	cfg    config.AudioConfig

	ctx    *malgo.AllocatedContext
	device *malgo.Device

	frames chan []int16

	mu      sync.Mutex
	running bool
	current *CaptureDevice
}

// NewCapture initializes the audio backend context. Call Close when done.
func NewCapture(logger *logrus.Logger, cfg config.AudioConfig) (*Capture, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize audio context")
	}

	return &Capture{
		logger: logger,
		cfg:    cfg,
		ctx:    ctx,
		frames: make(chan []int16, cfg.QueueCapacity),
	}, nil
}

// Frames returns the current capture queue. Closed by Stop; Start opens
// a fresh queue, so call Frames again after a restart.
func (c *Capture) Frames() <-chan []int16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frames
}

// resetQueue replaces a queue closed by Stop with a fresh one. Caller
// must hold c.mu.
func (c *Capture) resetQueue() {
	c.frames = make(chan []int16, c.cfg.QueueCapacity)
}

// Device returns the committed capture device, or nil before Start.
func (c *Capture) Device() *CaptureDevice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Start resolves the configured device and opens the input stream.
// Failure to open any candidate is fatal; the caller must not assume
// partial success.
func (c *Capture) Start() error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		c.logger.Info("Audio capture already running")
		return nil
	}
	// The previous queue was closed by Stop; consumers pick up the new
	// one through Frames after a restart.
	c.resetQueue()
	c.mu.Unlock()

	devices, err := enumerateCaptureDevices(c.ctx, c.logger)
	if err != nil {
		return err
	}

	candidates, err := resolveDevice(c.cfg.Device, devices, c.logger)
	if err != nil {
		return err
	}

	probe := c.cfg.Device == "auto"

	var lastErr error
	for _, candidate := range candidates {
		candidate := candidate
		if probe {
			if err := c.probeDevice(&candidate); err != nil {
				c.logger.WithError(err).WithField("device", candidate.Name).Warn("Device probe failed, trying next candidate")
				lastErr = err
				continue
			}
		}

		device, err := c.openDevice(&candidate)
		if err != nil {
			c.logger.WithError(err).WithField("device", candidate.Name).Warn("Failed to open capture device, trying next candidate")
			lastErr = err
			continue
		}

		c.mu.Lock()
		c.device = device
		c.current = &candidate
		c.running = true
		c.mu.Unlock()

		c.logger.WithFields(logrus.Fields{
			"device":      candidate.Name,
			"index":       candidate.Index,
			"sample_rate": c.cfg.SampleRate,
			"channels":    c.cfg.Channels,
		}).Info("Audio capture started")
		return nil
	}

	if lastErr != nil {
		return errors.Wrap(lastErr, "no usable capture device")
	}
	return errors.NewNoInputDevice("no capture device candidates")
}

// Stop closes the stream, drains the queue, and closes the frames channel.
func (c *Capture) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	device := c.device
	c.device = nil
	frames := c.frames
	c.mu.Unlock()

	// Uninit blocks until the hardware callback has finished, so nothing
	// can send on frames past this point.
	if device != nil {
		device.Uninit()
	}

	// Drain stale frames before closing so consumers see a clean end.
	for {
		select {
		case <-frames:
		default:
			close(frames)
			c.logger.Info("Audio capture stopped")
			return
		}
	}
}

// Close releases the audio backend context.
func (c *Capture) Close() error {
	c.Stop()

	if c.ctx != nil {
		if err := c.ctx.Uninit(); err != nil {
			return errors.Wrap(err, "failed to uninitialize audio context")
		}
		c.ctx.Free()
		c.ctx = nil
	}
	return nil
}

func (c *Capture) deviceConfig(dev *CaptureDevice) malgo.DeviceConfig {
	deviceCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceCfg.Capture.Format = malgo.FormatS16
	deviceCfg.Capture.Channels = uint32(c.cfg.Channels)
	deviceCfg.SampleRate = uint32(c.cfg.SampleRate)
	if dev != nil {
		deviceCfg.Capture.DeviceID = dev.id.Pointer()
	}
	return deviceCfg
}

// openDevice starts the committed input stream, feeding the capture queue.
func (c *Capture) openDevice(dev *CaptureDevice) (*malgo.Device, error) {
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			c.onData(pSample)
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, c.deviceConfig(dev), callbacks)
	if err != nil {
		return nil, errors.Wrap(err, "failed to initialize capture device")
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return nil, errors.Wrap(err, "failed to start capture device")
	}

	return device, nil
}

// probeDevice records briefly from a candidate and rejects it when the
// signal has zero variance (dead input).
func (c *Capture) probeDevice(dev *CaptureDevice) error {
	var mu sync.Mutex
	var collected []int16

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, pSample []byte, frameCount uint32) {
			samples := bytesToSamples(pSample)
			mu.Lock()
			collected = append(collected, samples...)
			mu.Unlock()
		},
	}

	device, err := malgo.InitDevice(c.ctx.Context, c.deviceConfig(dev), callbacks)
	if err != nil {
		return errors.Wrap(err, "probe failed to initialize device")
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		return errors.Wrap(err, "probe failed to start device")
	}

	time.Sleep(probeDuration)
	device.Uninit()

	mu.Lock()
	defer mu.Unlock()

	if len(collected) == 0 {
		return errors.ErrDeviceProbeFailed
	}
	first := collected[0]
	for _, sample := range collected[1:] {
		if sample != first {
			return nil
		}
	}
	return errors.ErrDeviceProbeFailed
}

// onData runs on the hardware callback thread and must not block.
func (c *Capture) onData(pSample []byte) {
	c.mu.Lock()
	running := c.running
	frames := c.frames
	c.mu.Unlock()
	if !running || len(pSample) == 0 {
		return
	}

	samples := bytesToSamples(pSample)
	if metrics.CaptureFramesTotal != nil {
		metrics.CaptureFramesTotal.Inc()
	}

	select {
	case frames <- samples:
	default:
		// Queue full: drop the oldest frame so a stalled consumer cannot
		// grow memory unbounded, then retry once.
		select {
		case <-frames:
			metrics.RecordFrameDropped("queue_full")
		default:
		}
		select {
		case frames <- samples:
		default:
			metrics.RecordFrameDropped("queue_full")
		}
	}

	if metrics.CaptureQueueDepth != nil {
		metrics.CaptureQueueDepth.Set(float64(len(frames)))
	}
}
