package aggregator

import (
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/config"
	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
)

// intraGapThreshold is the gap between consecutive additions recorded as a
// silence gap inside a bucket. Not a finalization trigger on its own.
const intraGapThreshold = 30 * time.Second

// FinalizeReason tags why a block was closed.
type FinalizeReason string

const (
	ReasonHourChange FinalizeReason = "hour_change"
	ReasonSilenceGap FinalizeReason = "silence_gap"
	ReasonManual     FinalizeReason = "manual"
	ReasonStale      FinalizeReason = "stale"
	ReasonShutdown   FinalizeReason = "shutdown"
)

// SilenceGap is a pause between consecutive transcriptions in a bucket.
type SilenceGap struct {
	Start    time.Time     `json:"start"`
	End      time.Time     `json:"end"`
	Duration time.Duration `json:"duration"`
}

// Block is one finalized aggregation window. Immutable after finalization
// except for SentToAPI.
type Block struct {
	HourStart          time.Time      `json:"hour_start"`
	StartTime          time.Time      `json:"start_time"`
	EndTime            time.Time      `json:"end_time"`
	FullText           string         `json:"full_text"`
	TranscriptionCount int            `json:"transcription_count"`
	SilenceGaps        []SilenceGap   `json:"silence_gaps"`
	WordCount          int            `json:"word_count"`
	CharacterCount     int            `json:"character_count"`
	FinalizationReason FinalizeReason `json:"finalization_reason"`
	SentToAPI          bool           `json:"sent_to_api"`
}

// Dispatcher receives finalized blocks. SendBlock returns nil on
// successful delivery.
type Dispatcher interface {
	SendBlock(block *Block) error
}

// bucket is the open aggregation window.
type bucket struct {
	hourStart   time.Time
	startTime   time.Time
	lastAdded   time.Time
	parts       []string
	count       int
	silenceGaps []SilenceGap
}

// HourlyAggregator joins transcription texts into wall-clock hour blocks,
// finalizing on hour change, prolonged silence, or explicit request.
// One mutex orders pipeline adds against the background finalize ticker.
type HourlyAggregator struct {
	logger     *logrus.Logger
	cfg        config.AggregatorConfig
	dispatcher Dispatcher

	mu      sync.Mutex
	enabled bool
	current *bucket
	blocks  []*Block

	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	running  bool
}

// Status reports the aggregator's current state.
type Status struct {
	Enabled            bool      `json:"enabled"`
	HasOpenBucket      bool      `json:"has_open_bucket"`
	OpenBucketHour     time.Time `json:"open_bucket_hour,omitempty"`
	OpenBucketCount    int       `json:"open_bucket_count"`
	FinalizedBlocks    int       `json:"finalized_blocks"`
	UnsentBlocks       int       `json:"unsent_blocks"`
	LastAddedTimestamp time.Time `json:"last_added_timestamp,omitempty"`
}

// Stats aggregates over the finalized blocks.
type Stats struct {
	TotalBlocks         int `json:"total_blocks"`
	SentBlocks          int `json:"sent_blocks"`
	TotalTranscriptions int `json:"total_transcriptions"`
	TotalWords          int `json:"total_words"`
	TotalCharacters     int `json:"total_characters"`
}

// New builds an aggregator. dispatcher may be nil when no downstream
// delivery is configured.
func New(logger *logrus.Logger, cfg config.AggregatorConfig, dispatcher Dispatcher) *HourlyAggregator {
	return &HourlyAggregator{
		logger:     logger,
		cfg:        cfg,
		dispatcher: dispatcher,
		enabled:    cfg.Enabled,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start launches the background staleness ticker.
func (a *HourlyAggregator) Start() {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return
	}
	a.running = true
	a.mu.Unlock()

	go a.watchLoop()
	a.logger.WithFields(logrus.Fields{
		"silence_gap":    a.cfg.SilenceGap,
		"check_interval": a.cfg.CheckInterval,
	}).Info("Hourly aggregator started")
}

// Stop finalizes the open bucket and stops the ticker.
func (a *HourlyAggregator) Stop() {
	a.mu.Lock()
	running := a.running
	a.running = false
	a.mu.Unlock()

	if running {
		a.stopOnce.Do(func() { close(a.stopCh) })
		<-a.done
	}

	a.Finalize(ReasonShutdown)
	a.logger.Info("Hourly aggregator stopped")
}

// SetEnabled toggles aggregation at runtime. Disabling finalizes the open
// bucket.
func (a *HourlyAggregator) SetEnabled(enabled bool) {
	a.mu.Lock()
	a.enabled = enabled
	a.mu.Unlock()

	if !enabled {
		a.Finalize(ReasonManual)
	}
	a.logger.WithField("enabled", enabled).Info("Aggregation toggled")
}

// Add appends a transcription text to the bucket owning its timestamp,
// finalizing the previous bucket first when the hour changed or the gap
// since the last addition reached the silence threshold.
func (a *HourlyAggregator) Add(text string, ts time.Time) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	a.mu.Lock()
	if !a.enabled {
		a.mu.Unlock()
		return
	}

	hourStart := ts.Truncate(time.Hour)

	if a.current != nil {
		if !a.current.hourStart.Equal(hourStart) {
			a.finalizeLocked(ReasonHourChange)
		} else if gap := ts.Sub(a.current.lastAdded); gap >= a.cfg.SilenceGap {
			a.finalizeLocked(ReasonSilenceGap)
		}
	}

	if a.current == nil {
		a.current = &bucket{
			hourStart: hourStart,
			startTime: ts,
			lastAdded: ts,
		}
	}

	if gap := ts.Sub(a.current.lastAdded); a.current.count > 0 && gap > intraGapThreshold {
		a.current.silenceGaps = append(a.current.silenceGaps, SilenceGap{
			Start:    a.current.lastAdded,
			End:      ts,
			Duration: gap,
		})
	}

	a.current.parts = append(a.current.parts, text)
	a.current.count++
	a.current.lastAdded = ts
	a.mu.Unlock()
}

// Finalize closes the open bucket, if any, and hands the block to the
// dispatcher. No-op on an empty bucket.
func (a *HourlyAggregator) Finalize(reason FinalizeReason) *Block {
	a.mu.Lock()
	block := a.finalizeLocked(reason)
	a.mu.Unlock()
	return block
}

// finalizeLocked requires a.mu held. Dispatch runs on its own goroutine so
// a slow downstream never blocks aggregation.
func (a *HourlyAggregator) finalizeLocked(reason FinalizeReason) *Block {
	if a.current == nil || a.current.count == 0 {
		a.current = nil
		return nil
	}

	fullText := strings.Join(a.current.parts, " ")
	block := &Block{
		HourStart:          a.current.hourStart,
		StartTime:          a.current.startTime,
		EndTime:            a.current.lastAdded,
		FullText:           fullText,
		TranscriptionCount: a.current.count,
		SilenceGaps:        a.current.silenceGaps,
		WordCount:          len(strings.Fields(fullText)),
		CharacterCount:     len(fullText),
		FinalizationReason: reason,
	}
	a.current = nil
	a.blocks = append(a.blocks, block)

	metrics.RecordAggregatedBlock(string(reason))
	a.logger.WithFields(logrus.Fields{
		"hour":   block.HourStart,
		"count":  block.TranscriptionCount,
		"words":  block.WordCount,
		"reason": reason,
	}).Info("Aggregation block finalized")

	if a.dispatcher != nil {
		go a.dispatch(block)
	}
	return block
}

func (a *HourlyAggregator) dispatch(block *Block) {
	if err := a.dispatcher.SendBlock(block); err != nil {
		a.logger.WithError(err).WithField("hour", block.HourStart).Warn("Failed to dispatch aggregated block")
		return
	}

	a.mu.Lock()
	block.SentToAPI = true
	a.mu.Unlock()
}

// ResendUnsent retries dispatch for finalized blocks not yet delivered.
func (a *HourlyAggregator) ResendUnsent() int {
	if a.dispatcher == nil {
		return 0
	}

	a.mu.Lock()
	var unsent []*Block
	for _, block := range a.blocks {
		if !block.SentToAPI {
			unsent = append(unsent, block)
		}
	}
	a.mu.Unlock()

	for _, block := range unsent {
		go a.dispatch(block)
	}
	return len(unsent)
}

// PartialText returns the text joined so far in the open bucket.
func (a *HourlyAggregator) PartialText() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.current == nil {
		return ""
	}
	return strings.Join(a.current.parts, " ")
}

// Blocks returns up to limit finalized blocks, newest last. limit <= 0
// returns all.
func (a *HourlyAggregator) Blocks(limit int) []*Block {
	a.mu.Lock()
	defer a.mu.Unlock()

	blocks := a.blocks
	if limit > 0 && len(blocks) > limit {
		blocks = blocks[len(blocks)-limit:]
	}

	out := make([]*Block, len(blocks))
	for i, block := range blocks {
		copied := *block
		out[i] = &copied
	}
	return out
}

// BlockForHour returns the finalized block covering the given timestamp.
func (a *HourlyAggregator) BlockForHour(ts time.Time) (*Block, bool) {
	hourStart := ts.Truncate(time.Hour)

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, block := range a.blocks {
		if block.HourStart.Equal(hourStart) {
			copied := *block
			return &copied, true
		}
	}
	return nil, false
}

// Status snapshots the aggregator state for the control surface.
func (a *HourlyAggregator) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()

	status := Status{
		Enabled:         a.enabled,
		FinalizedBlocks: len(a.blocks),
	}
	for _, block := range a.blocks {
		if !block.SentToAPI {
			status.UnsentBlocks++
		}
	}
	if a.current != nil {
		status.HasOpenBucket = true
		status.OpenBucketHour = a.current.hourStart
		status.OpenBucketCount = a.current.count
		status.LastAddedTimestamp = a.current.lastAdded
	}
	return status
}

// Stats aggregates over all finalized blocks.
func (a *HourlyAggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()

	var stats Stats
	stats.TotalBlocks = len(a.blocks)
	for _, block := range a.blocks {
		if block.SentToAPI {
			stats.SentBlocks++
		}
		stats.TotalTranscriptions += block.TranscriptionCount
		stats.TotalWords += block.WordCount
		stats.TotalCharacters += block.CharacterCount
	}
	return stats
}

// watchLoop finalizes stale buckets with no new input.
func (a *HourlyAggregator) watchLoop() {
	defer close(a.done)

	ticker := time.NewTicker(a.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.checkStale(time.Now())
		case <-a.stopCh:
			return
		}
	}
}

// checkStale finalizes the open bucket when its hour has elapsed or its
// silence exceeded the gap threshold.
func (a *HourlyAggregator) checkStale(now time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.current == nil {
		return
	}

	if !now.Truncate(time.Hour).Equal(a.current.hourStart) {
		a.finalizeLocked(ReasonHourChange)
		return
	}
	if now.Sub(a.current.lastAdded) >= a.cfg.SilenceGap {
		a.finalizeLocked(ReasonStale)
	}
}
