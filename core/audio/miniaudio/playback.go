package miniaudio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/koscakluka/ema-relay/core/audio"
)

type playbackClient struct {
	device *malgo.Device

	silence byte

	audioMu       sync.Mutex
	leftoverAudio []byte
	// drainedAt is when the last buffered byte was handed to the device,
	// which still holds up to tail of audio at that point.
	drainedAt time.Time
	tail      time.Duration

	mu sync.Mutex
}

func (c *playbackClient) Init(audioContext *malgo.AllocatedContext, encodingInfo audio.EncodingInfo) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	format := malgo.FormatS16
	channels := encodingInfo.ChannelCount()
	bytesPerFrame := malgo.SampleSizeInBytes(format) * channels
	sampleRate := uint32(encodingInfo.SampleRate)

	config := malgo.DefaultDeviceConfig(malgo.Playback)
	config.SampleRate = sampleRate
	config.Playback.Format = format
	config.Playback.Channels = uint32(channels)
	config.Alsa.NoMMap = 1
	config.PeriodSizeInFrames = sampleRate / 10 // ~100ms of audio
	config.Periods = 4

	c.silence = encodingInfo.SilenceValue()
	c.tail = deviceLatency(config.PeriodSizeInFrames, config.Periods, sampleRate)

	var err error
	if c.device, err = malgo.InitDevice(
		audioContext.Context,
		config,
		malgo.DeviceCallbacks{Data: c.processAudio(bytesPerFrame)},
	); err != nil {
		return fmt.Errorf("failed to initialize playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return fmt.Errorf("playback device not initialized")
	}

	if err := c.device.Start(); err != nil {
		return fmt.Errorf("failed to start playback device: %w", err)
	}

	return nil
}

func (c *playbackClient) Play(data []byte) error {
	c.mu.Lock()
	started := c.device != nil && c.device.IsStarted()
	c.mu.Unlock()
	if !started {
		return fmt.Errorf("playback device not started")
	}

	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.leftoverAudio = append(make([]byte, 0, len(data)), data...)
	c.drainedAt = time.Time{}
	return nil
}

// IsPlaying is true while buffered audio has not yet been handed to the
// device and for as long as the device's own periods take to play out.
func (c *playbackClient) IsPlaying() bool {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	if len(c.leftoverAudio) > 0 {
		return true
	}
	return !c.drainedAt.IsZero() && time.Since(c.drainedAt) < c.tail
}

func (c *playbackClient) ClearBuffer() {
	c.audioMu.Lock()
	defer c.audioMu.Unlock()
	c.leftoverAudio = nil
	c.drainedAt = time.Time{}
}

func deviceLatency(periodSizeInFrames, periods, sampleRate uint32) time.Duration {
	if sampleRate == 0 {
		return 0
	}
	frames := time.Duration(periodSizeInFrames) * time.Duration(periods)
	return frames * time.Second / time.Duration(sampleRate)
}

func (c *playbackClient) Uninit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.device != nil {
		c.device.Uninit()
		c.device = nil
	}
	c.ClearBuffer()
	return nil
}

func (c *playbackClient) processAudio(bytesPerFrame int) malgo.DataProc {
	return func(pOutput, _ []byte, frameCount uint32) {
		need := min(int(frameCount)*bytesPerFrame, len(pOutput))

		c.audioMu.Lock()
		n := copy(pOutput[:need], c.leftoverAudio)
		c.leftoverAudio = c.leftoverAudio[n:]
		if len(c.leftoverAudio) == 0 {
			c.leftoverAudio = nil
			if n > 0 {
				c.drainedAt = time.Now()
			}
		}
		c.audioMu.Unlock()

		for i := n; i < need; i++ {
			pOutput[i] = c.silence
		}
	}
}
