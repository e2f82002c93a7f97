package connectivity

import (
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
)

// cacheTTL is how long a probe result is reused before the hosts are
// dialed again.
const cacheTTL = 10 * time.Second

// Callback receives connectivity transitions. Callbacks run synchronously
// on the monitor goroutine; a panicking callback is isolated and logged.
type Callback func(online bool)

// dialFunc abstracts net.DialTimeout for tests.
type dialFunc func(network, address string, timeout time.Duration) (net.Conn, error)

// Monitor periodically probes a list of well-known host:port targets and
// reports online/offline transitions to registered callbacks.
type Monitor struct {
	logger *logrus.Logger
	cfg    config.ConnectivityConfig
	dial   dialFunc

	mu          sync.Mutex
	online      bool
	lastProbe   time.Time
	hasResult   bool
	callbacks   []Callback
	stopCh      chan struct{}
	stopOnce    sync.Once
	running     bool
	loopStopped chan struct{}
}

// NewMonitor builds a monitor. It does not probe until Start or IsOnline
// is called.
func NewMonitor(logger *logrus.Logger, cfg config.ConnectivityConfig) *Monitor {
	return &Monitor{
		logger: logger,
		cfg:    cfg,
		dial:   net.DialTimeout,
		stopCh: make(chan struct{}),
	}
}

// OnChange registers a callback invoked on every online/offline transition.
func (m *Monitor) OnChange(cb Callback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// IsOnline returns the cached connectivity state, probing when the cache
// is stale.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	if m.hasResult && time.Since(m.lastProbe) < cacheTTL {
		online := m.online
		m.mu.Unlock()
		return online
	}
	m.mu.Unlock()

	return m.check()
}

// Start launches the periodic probe loop.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.loopStopped = make(chan struct{})
	m.mu.Unlock()

	m.logger.WithFields(logrus.Fields{
		"interval": m.cfg.CheckInterval,
		"hosts":    m.cfg.TestHosts,
	}).Info("Connectivity monitor started")

	go m.loop()
}

// Stop terminates the probe loop and waits for it to exit.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stopped := m.loopStopped
	m.mu.Unlock()

	m.stopOnce.Do(func() { close(m.stopCh) })
	<-stopped
	m.logger.Info("Connectivity monitor stopped")
}

func (m *Monitor) loop() {
	defer close(m.loopStopped)

	m.check()

	ticker := time.NewTicker(m.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.check()
		case <-m.stopCh:
			return
		}
	}
}

// check probes the configured hosts in order, caches the result, and fires
// callbacks on a transition.
func (m *Monitor) check() bool {
	online := m.probe()

	m.mu.Lock()
	changed := !m.hasResult || online != m.online
	m.online = online
	m.hasResult = true
	m.lastProbe = time.Now()
	callbacks := make([]Callback, len(m.callbacks))
	copy(callbacks, m.callbacks)
	m.mu.Unlock()

	metrics.SetConnectivityOnline(online)

	if changed {
		m.logger.WithField("online", online).Info("Connectivity state changed")
		for _, cb := range callbacks {
			m.invoke(cb, online)
		}
	}
	return online
}

func (m *Monitor) probe() bool {
	for _, host := range m.cfg.TestHosts {
		conn, err := m.dial("tcp", host, m.cfg.Timeout)
		if err != nil {
			m.logger.WithError(err).WithField("host", host).Debug("Connectivity probe failed")
			continue
		}
		conn.Close()
		return true
	}
	return false
}

func (m *Monitor) invoke(cb Callback, online bool) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.WithField("panic", r).Error("Connectivity callback panicked")
		}
	}()
	cb(online)
}
