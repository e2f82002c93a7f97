package transcript

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func addRecord(s *Store, text string, ts time.Time) *Record {
	return s.Add(Record{
		Text:             text,
		Timestamp:        ts,
		ProcessingTimeMs: 100,
		SampleCount:      16000,
		Engine:           "mock",
	})
}

func TestStoreAssignsUniqueIDs(t *testing.T) {
	store := NewStore(testLogger(), 10)
	now := time.Now()

	first := addRecord(store, "one", now)
	second := addRecord(store, "two", now)

	assert.NotEmpty(t, first.ID)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestStoreFIFOEvictionAtCapacity(t *testing.T) {
	capacity := 5
	store := NewStore(testLogger(), capacity)
	now := time.Now()

	var oldest *Record
	for i := 0; i <= capacity; i++ {
		record := addRecord(store, fmt.Sprintf("text %d", i), now.Add(time.Duration(i)*time.Second))
		if i == 0 {
			oldest = record
		}
	}

	assert.Equal(t, capacity, store.Len())
	_, found := store.ByID(oldest.ID)
	assert.False(t, found, "oldest record should be evicted first")

	all := store.All(0)
	assert.Equal(t, "text 1", all[0].Text)
	assert.Equal(t, fmt.Sprintf("text %d", capacity), all[len(all)-1].Text)
}

func TestStoreAllLimit(t *testing.T) {
	store := NewStore(testLogger(), 10)
	now := time.Now()
	for i := 0; i < 6; i++ {
		addRecord(store, fmt.Sprintf("text %d", i), now)
	}

	limited := store.All(2)
	require.Len(t, limited, 2)
	assert.Equal(t, "text 4", limited[0].Text)
	assert.Equal(t, "text 5", limited[1].Text)

	assert.Len(t, store.All(0), 6)
	assert.Len(t, store.All(100), 6)
}

func TestStoreByTimeRange(t *testing.T) {
	store := NewStore(testLogger(), 10)
	base := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)

	addRecord(store, "early", base)
	addRecord(store, "middle", base.Add(10*time.Minute))
	addRecord(store, "late", base.Add(20*time.Minute))

	got := store.ByTimeRange(base.Add(5*time.Minute), base.Add(15*time.Minute))
	require.Len(t, got, 1)
	assert.Equal(t, "middle", got[0].Text)
}

func TestStoreSearchCaseSensitivity(t *testing.T) {
	store := NewStore(testLogger(), 10)
	now := time.Now()
	addRecord(store, "Hello World", now)
	addRecord(store, "goodbye world", now)

	assert.Len(t, store.Search("world", false), 2)
	assert.Len(t, store.Search("World", true), 1)
	assert.Empty(t, store.Search("HELLO", true))
}

func TestStoreMarkSentAndUnsent(t *testing.T) {
	store := NewStore(testLogger(), 10)
	now := time.Now()
	first := addRecord(store, "one", now)
	addRecord(store, "two", now)

	require.Len(t, store.Unsent(), 2)
	require.True(t, store.MarkSent(first.ID))
	assert.False(t, store.MarkSent("trans_0_999"))

	unsent := store.Unsent()
	require.Len(t, unsent, 1)
	assert.Equal(t, "two", unsent[0].Text)

	sent, found := store.ByID(first.ID)
	require.True(t, found)
	assert.True(t, sent.APISent)
	assert.False(t, sent.APISentTimestamp.IsZero())
}

func TestStoreStats(t *testing.T) {
	store := NewStore(testLogger(), 10)
	now := time.Now()
	first := addRecord(store, "abcd", now)
	addRecord(store, "efgh", now)
	store.MarkSent(first.ID)

	stats := store.Stats()
	assert.Equal(t, 2, stats.TotalRecords)
	assert.Equal(t, 1, stats.SentRecords)
	assert.Equal(t, 1, stats.UnsentRecords)
	assert.Equal(t, 0.5, stats.SendSuccessRate)
	assert.Equal(t, 100.0, stats.AvgProcessingTimeMs)
	assert.Equal(t, 8, stats.TotalCharacters)
	assert.Equal(t, 10, stats.Capacity)
}

func TestStoreSummarizeWindow(t *testing.T) {
	store := NewStore(testLogger(), 10)
	now := time.Now()
	addRecord(store, "stale entry", now.Add(-3*time.Hour))
	addRecord(store, "hello there", now.Add(-10*time.Minute))
	addRecord(store, "more words here", now.Add(-5*time.Minute))

	summary := store.Summarize(1)
	assert.Equal(t, 2, summary.RecordCount)
	assert.Equal(t, 5, summary.TotalWords)
	assert.True(t, summary.FirstTimestamp.Before(summary.LastTimestamp))
}

func TestStoreExportJSON(t *testing.T) {
	store := NewStore(testLogger(), 10)
	addRecord(store, "exported", time.Now())

	var buf bytes.Buffer
	require.NoError(t, store.ExportJSON(&buf))

	var decoded []Record
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "exported", decoded[0].Text)
}

func TestStoreReturnsCopies(t *testing.T) {
	store := NewStore(testLogger(), 10)
	record := addRecord(store, "original", time.Now())

	all := store.All(0)
	all[0].Text = "mutated"

	stored, found := store.ByID(record.ID)
	require.True(t, found)
	assert.Equal(t, "original", stored.Text)
}
