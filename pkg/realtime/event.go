package realtime

import (
	"time"
)

// Event types broadcast to subscribed clients.
const (
	EventTranscription  = "transcription"
	EventSpeakerChange  = "speaker_change"
	EventChunkProcessed = "chunk_processed"
	EventHeartbeat      = "heartbeat"
	EventError          = "error"
	EventConnected      = "connected"
	EventPong           = "pong"
)

// AvailableEvents lists the event types clients may subscribe to.
var AvailableEvents = []string{
	EventTranscription,
	EventSpeakerChange,
	EventChunkProcessed,
	EventHeartbeat,
	EventError,
}

// DefaultSubscriptions are applied to every new client.
var DefaultSubscriptions = []string{EventTranscription, EventSpeakerChange}

// Event is one value broadcast over the hub and retained in its replay
// ring.
type Event struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
	SessionID string                 `json:"session_id,omitempty"`
}

// NewEvent stamps an event with the current time.
func NewEvent(eventType string, data map[string]interface{}) *Event {
	return &Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
}

// isSubscribable reports whether clients can subscribe to the event type.
func isSubscribable(eventType string) bool {
	for _, known := range AvailableEvents {
		if known == eventType {
			return true
		}
	}
	return false
}
