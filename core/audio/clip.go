package audio

import "time"

// Clip is one decoded audio segment ready to be handed to a playback device.
type Clip struct {
	// Locator is where the clip was fetched from, kept for logging.
	Locator  string
	Data     []byte
	Encoding EncodingInfo
}

func (c Clip) IsEmpty() bool { return len(c.Data) == 0 }

func (c Clip) Duration() time.Duration {
	bytesPerFrame := c.Encoding.BytesPerFrame()
	if bytesPerFrame <= 0 || c.Encoding.SampleRate <= 0 {
		return 0
	}

	frames := len(c.Data) / bytesPerFrame
	return time.Duration(frames) * time.Second / time.Duration(c.Encoding.SampleRate)
}
