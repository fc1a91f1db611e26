// Package portaudio provides the microphone source and the speaker device
// backed by PortAudio blocking streams.
package portaudio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gordonklaus/portaudio"
	"github.com/koscakluka/ema-relay/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-relay/core/audio/portaudio"

var logger = otelslog.NewLogger(scopeName)

type Client struct {
	encodingInfo audio.EncodingInfo

	input  *portaudio.Stream
	output *portaudio.Stream
	in     []int16
	out    []int16

	mu       sync.Mutex
	pending  []byte
	inFlight bool

	done chan struct{}
	wg   sync.WaitGroup
}

// NewClient opens mono linear16 input and output streams at the default
// sample rate and starts feeding the speaker.
func NewClient(framesPerBuffer int) (*Client, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}

	c := &Client{
		encodingInfo: audio.GetDefaultEncodingInfo(),
		in:           make([]int16, framesPerBuffer),
		out:          make([]int16, framesPerBuffer),
		done:         make(chan struct{}),
	}
	sampleRate := float64(c.encodingInfo.SampleRate)

	var err error
	if c.input, err = portaudio.OpenDefaultStream(1, 0, sampleRate, framesPerBuffer, c.in); err != nil {
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	if c.output, err = portaudio.OpenDefaultStream(0, 1, sampleRate, framesPerBuffer, c.out); err != nil {
		c.input.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := c.output.Start(); err != nil {
		c.output.Close()
		c.input.Close()
		portaudio.Terminate()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}

	c.wg.Add(1)
	go c.writeLoop()

	return c, nil
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}

// Stream reads the microphone until ctx ends.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.input.Start(); err != nil {
		return fmt.Errorf("failed to start input stream: %w", err)
	}
	defer c.input.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := c.input.Read(); err != nil {
			logger.Warn("failed to read from input stream", slog.Any("error", err))
			continue
		}

		audioBuffer := bytes.Buffer{}
		if err := binary.Write(&audioBuffer, binary.LittleEndian, c.in); err != nil {
			return fmt.Errorf("failed to encode captured audio: %w", err)
		}
		onAudio(audioBuffer.Bytes())
	}
}

// Play replaces whatever is buffered with clip, converting it to the output
// encoding when needed.
func (c *Client) Play(clip audio.Clip) error {
	if clip.Encoding != c.encodingInfo && !clip.Encoding.IsZero() {
		converted, err := audio.Convert(clip, c.encodingInfo)
		if err != nil {
			return fmt.Errorf("failed to convert clip for playback: %w", err)
		}
		clip = converted
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(make([]byte, 0, len(clip.Data)), clip.Data...)
	return nil
}

func (c *Client) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending) > 0 || c.inFlight
}

func (c *Client) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = nil
	return nil
}

func (c *Client) Close() error {
	close(c.done)
	c.wg.Wait()

	err := errors.Join(c.output.Stop(), c.output.Close(), c.input.Close())
	return errors.Join(err, portaudio.Terminate())
}

// writeLoop keeps the blocking output stream fed, writing silence when
// nothing is buffered so the loop stays paced by the device.
func (c *Client) writeLoop() {
	defer c.wg.Done()
	chunkSize := len(c.out) * 2

	for {
		select {
		case <-c.done:
			return
		default:
		}

		c.mu.Lock()
		chunk := c.pending[:min(chunkSize, len(c.pending))]
		c.pending = c.pending[len(chunk):]
		if len(c.pending) == 0 {
			c.pending = nil
		}
		c.inFlight = len(chunk) > 0
		c.mu.Unlock()

		clear(c.out)
		if len(chunk) > 0 {
			padded := make([]byte, chunkSize)
			copy(padded, chunk)
			if err := binary.Read(bytes.NewReader(padded), binary.LittleEndian, c.out); err != nil {
				logger.Warn("failed to decode playback chunk", slog.Any("error", err))
			}
		}

		if err := c.output.Write(); err != nil {
			logger.Warn("failed to write to output stream", slog.Any("error", err))
		}

		c.mu.Lock()
		c.inFlight = false
		c.mu.Unlock()
	}
}
