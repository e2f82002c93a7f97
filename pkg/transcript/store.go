package transcript

import (
	"encoding/json"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Store is a fixed-capacity FIFO ring of transcription records. When full,
// adding a record evicts the oldest one.
type Store struct {
	logger   *logrus.Logger
	capacity int

	mu      sync.RWMutex
	records []*Record
	counter uint64
}

// Stats summarizes the stored records.
type Stats struct {
	TotalRecords        int     `json:"total_records"`
	SentRecords         int     `json:"sent_records"`
	UnsentRecords       int     `json:"unsent_records"`
	SendSuccessRate     float64 `json:"send_success_rate"`
	AvgProcessingTimeMs float64 `json:"avg_processing_time_ms"`
	TotalCharacters     int     `json:"total_characters"`
	Capacity            int     `json:"capacity"`
}

// Summary describes recent activity over a time window.
type Summary struct {
	Hours           int       `json:"hours"`
	RecordCount     int       `json:"record_count"`
	TotalCharacters int       `json:"total_characters"`
	TotalWords      int       `json:"total_words"`
	FirstTimestamp  time.Time `json:"first_timestamp,omitempty"`
	LastTimestamp   time.Time `json:"last_timestamp,omitempty"`
}

// NewStore builds a store bounded to capacity records.
func NewStore(logger *logrus.Logger, capacity int) *Store {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Store{
		logger:   logger,
		capacity: capacity,
		records:  make([]*Record, 0, capacity),
	}
}

// Add stores a record, assigning its id, and returns it. The oldest record
// is evicted at capacity.
func (s *Store) Add(record Record) *Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.counter++
	record.ID = recordID(record.Timestamp, s.counter)

	stored := &record
	if len(s.records) >= s.capacity {
		evicted := s.records[0]
		s.records = append(s.records[1:], stored)
		s.logger.WithField("evicted_id", evicted.ID).Debug("Transcription ring full, evicted oldest record")
	} else {
		s.records = append(s.records, stored)
	}
	return stored
}

// Len returns the number of stored records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// All returns up to limit records, newest last. limit <= 0 returns all.
func (s *Store) All(limit int) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.records
	if limit > 0 && len(records) > limit {
		records = records[len(records)-limit:]
	}
	return copyRecords(records)
}

// ByID looks up one record.
func (s *Store) ByID(id string) (*Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, record := range s.records {
		if record.ID == id {
			copied := *record
			return &copied, true
		}
	}
	return nil, false
}

// ByTimeRange returns records with from <= timestamp <= to.
func (s *Store) ByTimeRange(from, to time.Time) []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, record := range s.records {
		if !record.Timestamp.Before(from) && !record.Timestamp.After(to) {
			copied := *record
			out = append(out, &copied)
		}
	}
	return out
}

// Recent returns records from the last given number of minutes.
func (s *Store) Recent(minutes int) []*Record {
	cutoff := time.Now().Add(-time.Duration(minutes) * time.Minute)
	return s.ByTimeRange(cutoff, time.Now())
}

// Search returns records whose text contains the query.
func (s *Store) Search(query string, caseSensitive bool) []*Record {
	if !caseSensitive {
		query = strings.ToLower(query)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, record := range s.records {
		text := record.Text
		if !caseSensitive {
			text = strings.ToLower(text)
		}
		if strings.Contains(text, query) {
			copied := *record
			out = append(out, &copied)
		}
	}
	return out
}

// Unsent returns records not yet delivered to the ingestion API.
func (s *Store) Unsent() []*Record {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Record
	for _, record := range s.records {
		if !record.APISent {
			copied := *record
			out = append(out, &copied)
		}
	}
	return out
}

// MarkSent flags a record as delivered. Returns false for unknown ids.
func (s *Store) MarkSent(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, record := range s.records {
		if record.ID == id {
			record.APISent = true
			record.APISentTimestamp = time.Now()
			return true
		}
	}
	return false
}

// Stats aggregates counts and rates over the stored records.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		TotalRecords: len(s.records),
		Capacity:     s.capacity,
	}

	var totalProcessing int64
	for _, record := range s.records {
		if record.APISent {
			stats.SentRecords++
		}
		stats.TotalCharacters += len(record.Text)
		totalProcessing += record.ProcessingTimeMs
	}
	stats.UnsentRecords = stats.TotalRecords - stats.SentRecords

	if stats.TotalRecords > 0 {
		stats.SendSuccessRate = float64(stats.SentRecords) / float64(stats.TotalRecords)
		stats.AvgProcessingTimeMs = float64(totalProcessing) / float64(stats.TotalRecords)
	}
	return stats
}

// Summarize describes activity over the last given number of hours.
func (s *Store) Summarize(hours int) Summary {
	cutoff := time.Now().Add(-time.Duration(hours) * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()

	summary := Summary{Hours: hours}
	for _, record := range s.records {
		if record.Timestamp.Before(cutoff) {
			continue
		}
		summary.RecordCount++
		summary.TotalCharacters += len(record.Text)
		summary.TotalWords += len(strings.Fields(record.Text))
		if summary.FirstTimestamp.IsZero() || record.Timestamp.Before(summary.FirstTimestamp) {
			summary.FirstTimestamp = record.Timestamp
		}
		if record.Timestamp.After(summary.LastTimestamp) {
			summary.LastTimestamp = record.Timestamp
		}
	}
	return summary
}

// ExportJSON writes every stored record as a JSON array.
func (s *Store) ExportJSON(w io.Writer) error {
	records := s.All(0)

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(records)
}

func copyRecords(records []*Record) []*Record {
	out := make([]*Record, len(records))
	for i, record := range records {
		copied := *record
		out[i] = &copied
	}
	return out
}
