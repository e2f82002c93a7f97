package audio

import (
	"bytes"
	"encoding/binary"
	"io"
)

// WriteWAV writes samples as a PCM16 WAV file.
func WriteWAV(w io.Writer, samples []int16, sampleRate, channels int) error {
	dataSize := len(samples) * 2
	blockAlign := channels * 2
	byteRate := sampleRate * blockAlign

	var header bytes.Buffer
	header.WriteString("RIFF")
	binary.Write(&header, binary.LittleEndian, uint32(36+dataSize))
	header.WriteString("WAVE")
	header.WriteString("fmt ")
	binary.Write(&header, binary.LittleEndian, uint32(16))
	binary.Write(&header, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(&header, binary.LittleEndian, uint16(channels))
	binary.Write(&header, binary.LittleEndian, uint32(sampleRate))
	binary.Write(&header, binary.LittleEndian, uint32(byteRate))
	binary.Write(&header, binary.LittleEndian, uint16(blockAlign))
	binary.Write(&header, binary.LittleEndian, uint16(16)) // bits per sample
	header.WriteString("data")
	binary.Write(&header, binary.LittleEndian, uint32(dataSize))

	if _, err := w.Write(header.Bytes()); err != nil {
		return err
	}

	data := make([]byte, dataSize)
	for i, sample := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(sample))
	}
	_, err := w.Write(data)
	return err
}

// WAVBytes renders a segment as an in-memory WAV file.
func WAVBytes(seg *Segment, sampleRate, channels int) []byte {
	var buf bytes.Buffer
	WriteWAV(&buf, seg.Samples, sampleRate, channels)
	return buf.Bytes()
}
