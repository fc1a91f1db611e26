package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

var (
	ErrEmptyAudio        = errors.New("empty audio")
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Decode turns a fetched segment into linear16 PCM. WAV and MPEG payloads
// are sniffed by their headers, anything else is assumed to already be raw
// linear16 at the default encoding.
func Decode(locator string, data []byte) (Clip, error) {
	if len(data) == 0 {
		return Clip{}, ErrEmptyAudio
	}

	switch {
	case isWAV(data):
		pcm, encoding, err := decodeWAV(data)
		if err != nil {
			return Clip{}, fmt.Errorf("failed to decode wav %q: %w", locator, err)
		}
		return Clip{Locator: locator, Data: pcm, Encoding: encoding}, nil

	case hasID3Tag(data):
		pcm, encoding, err := decodeMPEG(data)
		if err != nil {
			return Clip{}, fmt.Errorf("failed to decode mp3 %q: %w", locator, err)
		}
		return Clip{Locator: locator, Data: pcm, Encoding: encoding}, nil

	case isMPEGFrameHeader(data):
		// raw PCM can start with a valid looking frame header, so an untagged
		// stream that does not decode is played as raw samples instead
		if pcm, encoding, err := decodeMPEG(data); err == nil {
			return Clip{Locator: locator, Data: pcm, Encoding: encoding}, nil
		}
	}

	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	return Clip{Locator: locator, Data: data, Encoding: GetDefaultEncodingInfo()}, nil
}

func isWAV(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE"
}

func hasID3Tag(data []byte) bool {
	return len(data) >= 3 && string(data[0:3]) == "ID3"
}

// isMPEGFrameHeader accepts an MPEG audio layer III frame header: the 11 bit
// sync, a defined version, and bitrate and sample rate indexes that are
// neither free nor reserved.
func isMPEGFrameHeader(data []byte) bool {
	if len(data) < 4 || data[0] != 0xFF || data[1]&0xE0 != 0xE0 {
		return false
	}
	version := (data[1] >> 3) & 0x03
	layer := (data[1] >> 1) & 0x03
	bitrate := data[2] >> 4
	sampleRate := (data[2] >> 2) & 0x03
	return version != 0x01 && layer == 0x01 && bitrate != 0x00 && bitrate != 0x0F && sampleRate != 0x03
}

func decodeWAV(data []byte) ([]byte, EncodingInfo, error) {
	var (
		encoding  EncodingInfo
		foundFmt  bool
		offset    = 12
		byteOrder = binary.LittleEndian
	)

	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := int(byteOrder.Uint32(data[offset+4 : offset+8]))
		body := offset + 8
		end := body + chunkSize
		if end > len(data) {
			end = len(data)
		}

		switch chunkID {
		case "fmt ":
			if end-body < 16 {
				return nil, EncodingInfo{}, fmt.Errorf("fmt chunk too short")
			}
			audioFormat := byteOrder.Uint16(data[body : body+2])
			channels := byteOrder.Uint16(data[body+2 : body+4])
			sampleRate := byteOrder.Uint32(data[body+4 : body+8])
			bitsPerSample := byteOrder.Uint16(data[body+14 : body+16])
			// 0xFFFE is WAVE_FORMAT_EXTENSIBLE, accepted when it still carries 16 bit samples
			if (audioFormat != 1 && audioFormat != 0xFFFE) || bitsPerSample != 16 {
				return nil, EncodingInfo{}, fmt.Errorf("%w: format %d with %d bits", ErrUnsupportedFormat, audioFormat, bitsPerSample)
			}
			encoding = EncodingInfo{
				SampleRate: int(sampleRate),
				Channels:   int(channels),
				Format:     EncodingLinear16,
			}
			foundFmt = true

		case "data":
			if !foundFmt {
				return nil, EncodingInfo{}, fmt.Errorf("data chunk before fmt chunk")
			}
			pcm := data[body:end]
			if rem := len(pcm) % encoding.BytesPerFrame(); rem != 0 {
				pcm = pcm[:len(pcm)-rem]
			}
			if len(pcm) == 0 {
				return nil, EncodingInfo{}, ErrEmptyAudio
			}
			return pcm, encoding, nil
		}

		// chunks are word aligned
		offset = end + chunkSize%2
	}

	return nil, EncodingInfo{}, fmt.Errorf("missing data chunk")
}

func decodeMPEG(data []byte) ([]byte, EncodingInfo, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, EncodingInfo{}, err
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, EncodingInfo{}, err
	}
	if len(pcm) == 0 {
		return nil, EncodingInfo{}, ErrEmptyAudio
	}

	// go-mp3 always yields interleaved stereo linear16
	return pcm, EncodingInfo{
		SampleRate: decoder.SampleRate(),
		Channels:   2,
		Format:     EncodingLinear16,
	}, nil
}
