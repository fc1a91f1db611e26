package playback

import (
	"sync"
	"time"

	"github.com/koscakluka/ema-relay/core/audio"
)

// TimedDevice renders nothing and reports busy for the clip's duration. It
// stands in for a sound card when running headless.
type TimedDevice struct {
	mu    sync.Mutex
	until time.Time
	now   func() time.Time
}

func NewTimedDevice() *TimedDevice {
	return &TimedDevice{now: time.Now}
}

func (d *TimedDevice) Play(clip audio.Clip) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.until = d.now().Add(clip.Duration())
	return nil
}

func (d *TimedDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now().Before(d.until)
}

func (d *TimedDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.until = time.Time{}
	return nil
}
