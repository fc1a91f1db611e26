// Package miniaudio provides the microphone source and the speaker device
// backed by miniaudio.
package miniaudio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-relay/core/audio"
	"go.opentelemetry.io/contrib/bridges/otelslog"
)

const scopeName = "github.com/koscakluka/ema-relay/core/audio/miniaudio"

var logger = otelslog.NewLogger(scopeName)

// Client owns one miniaudio context with a capture and a playback device,
// both running at the default encoding.
type Client struct {
	// audioContext is only kept so it can be released on Close.
	audioContext *malgo.AllocatedContext
	encodingInfo audio.EncodingInfo
	playbackClient
	captureClient
}

func NewClient() (*Client, error) {
	audioCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(message string) {
		logger.Debug("malgo", slog.String("message", message))
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize audio context: %w", err)
	}

	client := Client{
		audioContext: audioCtx,
		encodingInfo: audio.GetDefaultEncodingInfo(),
	}

	if err := client.playbackClient.Init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize playback client: %w", err)
	}

	if err := client.playbackClient.Start(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to start playback device: %w", err)
	}

	if err := client.captureClient.Init(audioCtx, client.encodingInfo); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to initialize capture client: %w", err)
	}

	return &client, nil
}

// Stream captures microphone audio into onAudio until ctx ends.
func (c *Client) Stream(ctx context.Context, onAudio func(audio []byte)) error {
	if err := c.captureClient.Start(onAudio); err != nil {
		return err
	}
	<-ctx.Done()
	return c.captureClient.Stop()
}

func (c *Client) EncodingInfo() audio.EncodingInfo {
	return c.encodingInfo
}

// Play replaces whatever is buffered with clip. Linear16 clips in another
// shape are converted to the device encoding first.
func (c *Client) Play(clip audio.Clip) error {
	if clip.Encoding != c.encodingInfo && !clip.Encoding.IsZero() {
		converted, err := audio.Convert(clip, c.encodingInfo)
		if err != nil {
			return fmt.Errorf("failed to convert clip for playback: %w", err)
		}
		clip = converted
	}
	return c.playbackClient.Play(clip.Data)
}

func (c *Client) IsPlaying() bool {
	return c.playbackClient.IsPlaying()
}

// Stop silences the speaker but keeps the device running for the next clip.
func (c *Client) Stop() error {
	c.playbackClient.ClearBuffer()
	return nil
}

func (c *Client) Close() error {
	err := errors.Join(c.captureClient.Uninit(), c.playbackClient.Uninit())
	if c.audioContext != nil {
		if uninitErr := c.audioContext.Uninit(); uninitErr != nil {
			err = errors.Join(err, uninitErr)
		}
		c.audioContext.Free()
		c.audioContext = nil
	}
	return err
}
