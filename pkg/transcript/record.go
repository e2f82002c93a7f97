package transcript

import (
	"fmt"
	"time"
)

// Record is one stored transcription. api_sent is the only field mutated
// after creation.
type Record struct {
	ID               string    `json:"id"`
	Text             string    `json:"text"`
	Timestamp        time.Time `json:"timestamp"`
	ProcessingTimeMs int64     `json:"processing_time_ms"`
	SampleCount      int       `json:"sample_count"`
	Engine           string    `json:"engine,omitempty"`
	Confidence       float64   `json:"confidence,omitempty"`
	Language         string    `json:"language,omitempty"`
	APISent          bool      `json:"api_sent"`
	APISentTimestamp time.Time `json:"api_sent_timestamp,omitempty"`
}

// recordID builds a unique id from the record timestamp and a
// monotonically increasing counter.
func recordID(ts time.Time, counter uint64) string {
	return fmt.Sprintf("trans_%d_%d", ts.Unix(), counter)
}
