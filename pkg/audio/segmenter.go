package audio

import (
	"time"

	"github.com/sirupsen/logrus"

	"github.com/marvinmvns/whispersilent-sub000/pkg/metrics"
)

// vadState is the segmenter's two-state voice activity machine.
type vadState int

const (
	stateIdle vadState = iota
	stateSpeaking
)

func (s vadState) String() string {
	if s == stateSpeaking {
		return "speaking"
	}
	return "idle"
}

// Segmenter turns a stream of fixed-size PCM16 frames into speech segments.
// A frame is silent when its mean absolute amplitude falls below the
// threshold. Silence timing is derived from sample counts, not wall-clock
// time, so segmentation is deterministic for a given input.
//
// Trailing silence is held in a pending buffer: if speech resumes before
// the silence duration elapses the pending frames are folded into the
// segment, otherwise they are discarded and the segment is flushed bounded
// to the voiced portion.
type Segmenter struct {
	logger *logrus.Logger

	sampleRate      int
	threshold       float64
	silenceSamples  int
	maxChunkSamples int

	state          vadState
	segment        []int16
	segmentStart   time.Time
	pendingSilence []int16
}

// NewSegmenter builds a segmenter. silenceDuration is converted to a
// sample count at the given rate.
func NewSegmenter(logger *logrus.Logger, sampleRate int, threshold float64, silenceDuration time.Duration, maxChunkSamples int) *Segmenter {
	return &Segmenter{
		logger:          logger,
		sampleRate:      sampleRate,
		threshold:       threshold,
		silenceSamples:  int(float64(sampleRate) * silenceDuration.Seconds()),
		maxChunkSamples: maxChunkSamples,
	}
}

// Speaking reports whether the segmenter currently considers speech active.
func (s *Segmenter) Speaking() bool {
	return s.state == stateSpeaking
}

// Push feeds one capture frame. It returns the segments flushed by this
// frame, usually none or one; a frame that both completes a max-size
// segment and continues speaking can produce one segment while the
// remainder starts the next.
func (s *Segmenter) Push(frame []int16) []*Segment {
	if len(frame) == 0 {
		return nil
	}

	silent := meanAbsAmplitude(frame) < s.threshold

	switch s.state {
	case stateIdle:
		if silent {
			return nil
		}
		s.transition(stateSpeaking)
		s.segmentStart = time.Now()
		return s.appendSamples(frame)

	case stateSpeaking:
		if !silent {
			// Intra-speech pause: fold the held silence back in.
			var out []*Segment
			if len(s.pendingSilence) > 0 {
				out = append(out, s.appendSamples(s.pendingSilence)...)
				s.pendingSilence = nil
			}
			out = append(out, s.appendSamples(frame)...)
			return out
		}

		s.pendingSilence = append(s.pendingSilence, frame...)
		if len(s.pendingSilence) >= s.silenceSamples {
			// Silence ran out the clock: the held frames are trailing
			// silence and never enter the segment.
			s.pendingSilence = nil
			s.transition(stateIdle)
			if seg := s.flush(FlushSilence); seg != nil {
				return []*Segment{seg}
			}
		}
		return nil
	}

	return nil
}

// Flush emits whatever speech is buffered, discarding pending silence.
// Used on shutdown so in-flight speech is not lost.
func (s *Segmenter) Flush() *Segment {
	s.pendingSilence = nil
	if s.state == stateSpeaking {
		s.transition(stateIdle)
	}
	return s.flush(FlushFinal)
}

// appendSamples adds samples to the open segment, flushing at the max
// chunk bound before any append that would exceed it.
func (s *Segmenter) appendSamples(samples []int16) []*Segment {
	var out []*Segment
	for len(samples) > 0 {
		room := s.maxChunkSamples - len(s.segment)
		if room <= 0 {
			if seg := s.flush(FlushMaxSize); seg != nil {
				out = append(out, seg)
			}
			s.segmentStart = time.Now()
			room = s.maxChunkSamples
		}
		n := len(samples)
		if n > room {
			n = room
		}
		s.segment = append(s.segment, samples[:n]...)
		samples = samples[n:]
	}
	return out
}

func (s *Segmenter) flush(reason FlushReason) *Segment {
	if len(s.segment) == 0 {
		return nil
	}

	seg := &Segment{
		Samples:     s.segment,
		CapturedAt:  s.segmentStart,
		FlushReason: reason,
	}
	s.segment = nil

	duration := seg.Duration(s.sampleRate)
	metrics.RecordSegment(string(reason), duration)
	s.logger.WithFields(logrus.Fields{
		"samples":  len(seg.Samples),
		"duration": duration,
		"reason":   reason,
	}).Debug("Speech segment flushed")
	return seg
}

func (s *Segmenter) transition(to vadState) {
	if s.state == to {
		return
	}
	s.state = to
	metrics.RecordVADStateChange(to.String())
}
