package audio

import (
	"time"
)

// FlushReason describes why a speech segment was emitted
type FlushReason string

const (
	// FlushSilence means the trailing-silence timeout elapsed
	FlushSilence FlushReason = "silence"
	// FlushMaxSize means the segment reached the maximum sample bound
	FlushMaxSize FlushReason = "max_size"
	// FlushFinal means the input stream terminated with a partial segment
	FlushFinal FlushReason = "final"
)

// Segment is a bounded run of voiced PCM16 audio, handed whole to a
// transcription engine and then discarded.
type Segment struct {
	Samples     []int16
	CapturedAt  time.Time
	FlushReason FlushReason
}

// Duration returns the segment length in wall-clock time at the given rate.
func (s *Segment) Duration(sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(len(s.Samples)) / float64(sampleRate) * float64(time.Second))
}

// PCMBytes serializes the samples as little-endian PCM16.
func (s *Segment) PCMBytes() []byte {
	out := make([]byte, len(s.Samples)*2)
	for i, sample := range s.Samples {
		out[i*2] = byte(sample)
		out[i*2+1] = byte(sample >> 8)
	}
	return out
}

// meanAbsAmplitude computes the average absolute amplitude of a PCM16 frame.
func meanAbsAmplitude(frame []int16) float64 {
	if len(frame) == 0 {
		return 0
	}

	var total float64
	for _, sample := range frame {
		if sample < 0 {
			total -= float64(sample)
		} else {
			total += float64(sample)
		}
	}
	return total / float64(len(frame))
}

// bytesToSamples converts little-endian PCM16 bytes into samples.
func bytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}
