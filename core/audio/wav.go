package audio

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// EncodeWAV wraps a linear16 clip in a WAV container.
func EncodeWAV(clip Clip) ([]byte, error) {
	var buf bytes.Buffer
	if err := WriteWAVTo(&buf, clip); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteWAVTo writes a linear16 clip to out as a WAV stream.
func WriteWAVTo(out io.Writer, clip Clip) error {
	const (
		bitsPerSample = 16
		audioFormat   = 1 // PCM
	)

	if clip.Encoding.Format != "" && clip.Encoding.Format != EncodingLinear16 {
		return fmt.Errorf("%w: wav output requires linear16", ErrUnsupportedFormat)
	}
	sampleRate := clip.Encoding.SampleRate
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	numChannels := clip.Encoding.ChannelCount()

	dataSize := uint32(len(clip.Data))
	byteRate := uint32(sampleRate * numChannels * bitsPerSample / 8)
	blockAlign := uint16(numChannels * bitsPerSample / 8)

	w := bufio.NewWriter(out)

	header := []any{
		[]byte("RIFF"), uint32(36) + dataSize, []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(audioFormat), uint16(numChannels),
		uint32(sampleRate), byteRate, blockAlign, uint16(bitsPerSample),
		[]byte("data"), dataSize,
	}
	for _, field := range header {
		if err := binary.Write(w, binary.LittleEndian, field); err != nil {
			return err
		}
	}

	if _, err := w.Write(clip.Data); err != nil {
		return err
	}
	return w.Flush()
}
