package realtime

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/errors"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
)

// Hub broadcasts transcription events to WebSocket clients. All client
// state is owned by the single Run goroutine; other threads interact only
// through channels, so no client map locking is needed.
type Hub struct {
	logger *logrus.Logger
	cfg    config.RealtimeConfig

	clients map[string]*Client
	buffer  []*Event

	register   chan *Client
	unregister chan *Client
	broadcast  chan *Event
	actions    chan clientAction

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}

	mu          sync.Mutex
	running     bool
	clientCount int64
}

type clientAction struct {
	client  *Client
	message clientMessage
}

// NewHub builds a hub with the configured buffer and connection limits.
func NewHub(logger *logrus.Logger, cfg config.RealtimeConfig) *Hub {
	return &Hub{
		logger:     logger,
		cfg:        cfg,
		clients:    make(map[string]*Client),
		buffer:     make([]*Event, 0, cfg.BufferSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *Event, 256),
		actions:    make(chan clientAction, 64),
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the hub goroutine.
func (h *Hub) Start() {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	go h.run()
	h.logger.WithFields(logrus.Fields{
		"max_connections": h.cfg.MaxConnections,
		"buffer_size":     h.cfg.BufferSize,
	}).Info("Realtime event hub started")
}

// Stop disconnects every client and terminates the hub goroutine.
func (h *Hub) Stop() {
	h.mu.Lock()
	running := h.running
	h.running = false
	h.mu.Unlock()
	if !running {
		return
	}

	h.stopOnce.Do(func() { close(h.stopCh) })
	<-h.done
	h.logger.Info("Realtime event hub stopped")
}

// ServeWS upgrades an HTTP request and hands the connection to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("Failed to upgrade WebSocket connection")
		return
	}

	client := newClient(conn)
	go client.writePump(h.logger)

	select {
	case h.register <- client:
		go client.readPump(h)
	case <-h.stopCh:
		conn.Close()
	}
}

// Broadcast schedules an event for delivery and retains it in the replay
// ring. Safe from any goroutine; drops the event if the hub is saturated.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	case <-h.stopCh:
	default:
		h.logger.WithField("event_type", event.Type).Warn("Hub broadcast queue full, event dropped")
	}
}

// BroadcastTranscription publishes a completed transcription.
func (h *Hub) BroadcastTranscription(text, engine string, confidence float64, processingMs int64) {
	h.Broadcast(NewEvent(EventTranscription, map[string]interface{}{
		"text":               text,
		"engine":             engine,
		"confidence":         confidence,
		"processing_time_ms": processingMs,
	}))
}

// BroadcastSpeakerChange publishes a detected speaker transition.
func (h *Hub) BroadcastSpeakerChange(previous, current string) {
	h.Broadcast(NewEvent(EventSpeakerChange, map[string]interface{}{
		"previous_speaker": previous,
		"current_speaker":  current,
	}))
}

// BroadcastChunkProcessed publishes per-segment processing info.
func (h *Hub) BroadcastChunkProcessed(durationMs int64, flushReason string) {
	h.Broadcast(NewEvent(EventChunkProcessed, map[string]interface{}{
		"duration_ms":  durationMs,
		"flush_reason": flushReason,
	}))
}

// BroadcastError publishes a pipeline error visible to clients.
func (h *Hub) BroadcastError(message string) {
	h.Broadcast(NewEvent(EventError, map[string]interface{}{
		"message": message,
	}))
}

// ClientCount reports connected clients, for monitoring only.
func (h *Hub) ClientCount() int {
	return int(atomic.LoadInt64(&h.clientCount))
}

func (h *Hub) run() {
	defer close(h.done)

	heartbeat := time.NewTicker(h.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case client := <-h.register:
			h.handleRegister(client)

		case client := <-h.unregister:
			h.handleUnregister(client)

		case event := <-h.broadcast:
			h.handleBroadcast(event)

		case action := <-h.actions:
			h.handleAction(action.client, action.message)

		case <-heartbeat.C:
			h.handleHeartbeat()

		case <-h.stopCh:
			for _, client := range h.clients {
				close(client.send)
			}
			h.setClientCount(0)
			h.clients = make(map[string]*Client)
			return
		}
	}
}

// handleRegister admits a client or rejects it when the connection limit
// is reached.
func (h *Hub) handleRegister(client *Client) {
	if len(h.clients) >= h.cfg.MaxConnections {
		h.logger.WithField("max_connections", h.cfg.MaxConnections).Warn("Rejecting WebSocket client, connection limit reached")
		client.enqueueEvent(NewEvent(EventError, map[string]interface{}{
			"message": errors.ErrHubFull.Error(),
		}))
		close(client.send)
		return
	}

	h.clients[client.ID] = client
	h.setClientCount(len(h.clients))

	client.enqueueEvent(NewEvent(EventConnected, map[string]interface{}{
		"client_id":        client.ID,
		"available_events": AvailableEvents,
		"buffer_size":      len(h.buffer),
	}))

	// New clients catch up on everything they missed before connecting.
	for _, event := range h.buffer {
		if client.subscribedTo(event.Type) {
			client.enqueueEvent(event)
		}
	}
	h.logger.WithField("client_id", client.ID).Info("WebSocket client connected")
}

func (h *Hub) handleUnregister(client *Client) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	delete(h.clients, client.ID)
	close(client.send)
	h.setClientCount(len(h.clients))
	h.logger.WithField("client_id", client.ID).Info("WebSocket client disconnected")
}

// handleBroadcast buffers the event and delivers it to subscribed
// clients. A client with a full queue is evicted; other clients are
// unaffected.
func (h *Hub) handleBroadcast(event *Event) {
	h.bufferEvent(event)
	metrics.RecordHubBroadcast(event.Type)

	for _, client := range h.clients {
		if !client.subscribedTo(event.Type) {
			continue
		}
		if !client.enqueueEvent(event) {
			h.logger.WithField("client_id", client.ID).Warn("Client send buffer full, evicting")
			h.handleUnregister(client)
		}
	}
}

func (h *Hub) bufferEvent(event *Event) {
	if len(h.buffer) >= h.cfg.BufferSize {
		h.buffer = append(h.buffer[1:], event)
	} else {
		h.buffer = append(h.buffer, event)
	}
}

// handleAction services one inbound client request.
func (h *Hub) handleAction(client *Client, msg clientMessage) {
	if _, ok := h.clients[client.ID]; !ok {
		return
	}
	client.lastHeartbeat = time.Now()

	switch msg.Action {
	case "subscribe":
		for _, eventType := range msg.Events {
			if !isSubscribable(eventType) {
				client.enqueueEvent(NewEvent(EventError, map[string]interface{}{
					"message": "unknown event type: " + eventType,
				}))
				continue
			}
			client.subscriptions[eventType] = struct{}{}
		}

	case "unsubscribe":
		for _, eventType := range msg.Events {
			delete(client.subscriptions, eventType)
		}

	case "ping":
		client.enqueueEvent(NewEvent(EventPong, nil))

	case "get_buffer":
		for _, event := range h.buffer {
			if client.subscribedTo(event.Type) {
				client.enqueueEvent(event)
			}
		}

	case "set_metadata":
		for key, value := range msg.Metadata {
			client.metadata[key] = value
		}

	default:
		client.enqueueEvent(NewEvent(EventError, map[string]interface{}{
			"message": "unknown action: " + msg.Action,
		}))
	}
}

// handleHeartbeat pings heartbeat subscribers and evicts clients that
// have been silent for more than twice the interval.
func (h *Hub) handleHeartbeat() {
	event := NewEvent(EventHeartbeat, map[string]interface{}{
		"clients": len(h.clients),
	})
	cutoff := time.Now().Add(-2 * h.cfg.HeartbeatInterval)

	for _, client := range h.clients {
		if client.lastHeartbeat.Before(cutoff) {
			h.logger.WithField("client_id", client.ID).Info("Evicting silent WebSocket client")
			h.handleUnregister(client)
			continue
		}
		if client.subscribedTo(EventHeartbeat) {
			client.enqueueEvent(event)
		}
	}
}

func (h *Hub) setClientCount(n int) {
	atomic.StoreInt64(&h.clientCount, int64(n))
	if metrics.HubClientsConnected != nil {
		metrics.HubClientsConnected.Set(float64(n))
	}
}
