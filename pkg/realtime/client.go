package realtime

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// clientSendBuffer bounds the per-client outbound queue. A client that
// cannot drain it is evicted rather than blocking the hub.
const clientSendBuffer = 64

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Client is one connected WebSocket consumer, owned exclusively by the
// hub goroutine.
type Client struct {
	ID            string
	ConnectedAt   time.Time
	lastHeartbeat time.Time
	subscriptions map[string]struct{}
	metadata      map[string]interface{}

	conn *websocket.Conn
	send chan []byte
}

// clientMessage is one inbound request from a client connection.
type clientMessage struct {
	Action   string                 `json:"action"`
	Events   []string               `json:"events,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

func newClient(conn *websocket.Conn) *Client {
	now := time.Now()
	client := &Client{
		ID:            uuid.New().String(),
		ConnectedAt:   now,
		lastHeartbeat: now,
		subscriptions: make(map[string]struct{}),
		metadata:      make(map[string]interface{}),
		conn:          conn,
		send:          make(chan []byte, clientSendBuffer),
	}
	for _, eventType := range DefaultSubscriptions {
		client.subscriptions[eventType] = struct{}{}
	}
	return client
}

// subscribedTo reports whether the client wants the event type.
func (c *Client) subscribedTo(eventType string) bool {
	_, ok := c.subscriptions[eventType]
	return ok
}

// enqueue queues one marshaled event. Returns false when the client's
// buffer is full.
func (c *Client) enqueue(data []byte) bool {
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// enqueueEvent marshals and queues one event.
func (c *Client) enqueueEvent(event *Event) bool {
	data, err := json.Marshal(event)
	if err != nil {
		return true
	}
	return c.enqueue(data)
}

// writePump drains the send queue onto the connection. It exits when the
// hub closes the queue or a write fails.
func (c *Client) writePump(logger *logrus.Logger) {
	defer c.conn.Close()

	for message := range c.send {
		c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logger.WithError(err).WithField("client_id", c.ID).Debug("WebSocket write failed")
			return
		}
	}

	c.conn.SetWriteDeadline(time.Now().Add(time.Second))
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// disconnect hands the client back to the hub for removal, unless the
// hub has already stopped and nobody is receiving.
func (c *Client) disconnect(hub *Hub) {
	select {
	case hub.unregister <- c:
	case <-hub.stopCh:
	}
}

// readPump parses inbound client requests and forwards them to the hub.
func (c *Client) readPump(hub *Hub) {
	defer c.disconnect(hub)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = clientMessage{Action: "invalid"}
		}

		select {
		case hub.actions <- clientAction{client: c, message: msg}:
		case <-hub.stopCh:
			return
		}
	}
}
