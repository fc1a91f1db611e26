// Package playback fetches the audio segments of a response concurrently and
// plays them back strictly in order on a single output device.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/koscakluka/ema-relay/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

const DefaultTick = 20 * time.Millisecond

var ErrAlreadyPlaying = errors.New("playback already in progress")

type Fetcher interface {
	Fetch(ctx context.Context, locator string) (audio.Clip, error)
}

// Device plays one clip at a time. IsPlaying must stay true from a
// successful Play until the clip has been fully rendered or Stop is called.
type Device interface {
	Play(clip audio.Clip) error
	IsPlaying() bool
	Stop() error
}

// Callbacks are invoked from the engine's goroutines, never while the
// engine holds its lock, so they may call back into the engine.
type Callbacks struct {
	OnStartSpeaking func()
	OnStopSpeaking  func()
	// OnTrackEnded reports that track index of total finished. Calling
	// Stop from here ends playback instead of moving on to the next track.
	OnTrackEnded func(index, total int)
	OnQueueReady func(total, dropped int)
}

type FetchError struct {
	Index   int
	Locator string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("failed to fetch segment %d (%s): %v", e.Index, e.Locator, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Engine owns the playback queue. The queue is cyclic: after the last track
// it starts over from the first one until Stop is called.
type Engine struct {
	fetcher    Fetcher
	device     Device
	tick       time.Duration
	fetchLimit int

	mu        sync.Mutex
	callbacks Callbacks
	active    bool
	stopped   bool
	queue     []audio.Clip
	current   int
	done      chan struct{}
}

type EngineOption func(*Engine)

func WithTick(tick time.Duration) EngineOption {
	return func(e *Engine) {
		if tick > 0 {
			e.tick = tick
		}
	}
}

// WithFetchLimit caps the number of segment fetches in flight. Zero means
// no limit.
func WithFetchLimit(limit int) EngineOption {
	return func(e *Engine) { e.fetchLimit = limit }
}

func WithCallbacks(callbacks Callbacks) EngineOption {
	return func(e *Engine) { e.callbacks = callbacks }
}

func NewEngine(fetcher Fetcher, device Device, opts ...EngineOption) *Engine {
	e := &Engine{fetcher: fetcher, device: device, tick: DefaultTick}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) SetCallbacks(callbacks Callbacks) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.callbacks = callbacks
}

func (e *Engine) IsActive() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

// CurrentTrack returns the index of the track being played and the queue
// length. Both are zero when idle.
func (e *Engine) CurrentTrack() (int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current, len(e.queue)
}

// Play announces start-speaking, fetches every locator concurrently, drops
// the ones that failed and starts playing the rest in order. It returns once
// playback has started; completion is reported through OnStopSpeaking.
func (e *Engine) Play(ctx context.Context, locators []string) error {
	e.mu.Lock()
	if e.active {
		e.mu.Unlock()
		return ErrAlreadyPlaying
	}
	e.active = true
	e.stopped = false
	e.queue = nil
	e.current = 0
	done := make(chan struct{})
	e.done = done
	callbacks := e.callbacks
	e.mu.Unlock()

	ctx, span := tracer.Start(ctx, "play segments")
	defer span.End()
	span.SetAttributes(attribute.Int("playback.segments_requested", len(locators)))

	if callbacks.OnStartSpeaking != nil {
		callbacks.OnStartSpeaking()
	}

	clips := e.fetchAll(ctx, locators)
	dropped := len(locators) - len(clips)
	span.SetAttributes(attribute.Int("playback.segments_dropped", dropped))
	if callbacks.OnQueueReady != nil {
		callbacks.OnQueueReady(len(clips), dropped)
	}

	e.mu.Lock()
	if len(clips) == 0 || e.stopped || ctx.Err() != nil {
		e.finishLocked(done)
		e.mu.Unlock()
		span.AddEvent("nothing to play")
		if callbacks.OnStopSpeaking != nil {
			callbacks.OnStopSpeaking()
		}
		return nil
	}
	e.queue = clips
	e.current = 0
	e.mu.Unlock()

	e.playTrack(ctx, clips[0], 0)
	go e.run(context.WithoutCancel(ctx), ctx.Done(), done, callbacks)
	return nil
}

// Stop breaks the playback cycle. Stop-speaking fires once the device goes
// quiet. Calling Stop while idle is a no-op.
func (e *Engine) Stop() {
	e.mu.Lock()
	if !e.active || e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	playing := len(e.queue) > 0
	e.mu.Unlock()

	if playing && e.device != nil {
		if err := e.device.Stop(); err != nil {
			logger.Warn("failed to stop playback device", slog.Any("error", err))
		}
	}
}

// Wait blocks until the current playback, if any, has finished.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	done := e.done
	active := e.active
	e.mu.Unlock()
	if !active || done == nil {
		return nil
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchAll waits for every fetch to settle. A failed fetch never cancels
// the others; its slot is dropped and the survivors keep their order.
func (e *Engine) fetchAll(ctx context.Context, locators []string) []audio.Clip {
	results := make([]audio.Clip, len(locators))
	failures := make([]error, len(locators))

	var group errgroup.Group
	if e.fetchLimit > 0 {
		group.SetLimit(e.fetchLimit)
	}
	for i, locator := range locators {
		group.Go(func() error {
			clip, err := e.fetcher.Fetch(ctx, locator)
			if err == nil && clip.IsEmpty() {
				err = audio.ErrEmptyAudio
			}
			if err != nil {
				failures[i] = &FetchError{Index: i, Locator: locator, Err: err}
				return nil
			}
			results[i] = clip
			return nil
		})
	}
	_ = group.Wait()

	clips := make([]audio.Clip, 0, len(locators))
	for i := range locators {
		if failures[i] != nil {
			span := trace.SpanFromContext(ctx)
			span.RecordError(failures[i])
			span.SetStatus(codes.Error, failures[i].Error())
			logger.WarnContext(ctx, "dropping audio segment",
				slog.Int("index", i),
				slog.String("locator", locators[i]),
				slog.Any("error", failures[i]))
			segmentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "dropped")))
			continue
		}
		segmentCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", "fetched")))
		clips = append(clips, results[i])
	}
	return clips
}

func (e *Engine) playTrack(ctx context.Context, clip audio.Clip, index int) {
	if err := e.device.Play(clip); err != nil {
		recordedErr := fmt.Errorf("failed to play track %d: %w", index, err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		logger.WarnContext(ctx, "failed to play track", slog.Int("index", index), slog.Any("error", err))
	}
}

// run samples the device once per tick. An idle device while the cycle is
// running means the current track ended, so the next one is started in the
// same tick and the device never looks idle across a track boundary. Only
// once the cycle is stopped can the busy flag fall, which is reported as
// stop-speaking exactly once.
func (e *Engine) run(ctx context.Context, cancelled <-chan struct{}, done chan struct{}, callbacks Callbacks) {
	ticker := time.NewTicker(e.tick)
	defer ticker.Stop()

	detector := edgeDetector{wasPlaying: true}
	for {
		select {
		case <-cancelled:
			e.Stop()
			cancelled = nil
			continue
		case <-ticker.C:
		}

		busy := e.device.IsPlaying()
		if !busy {
			busy = e.advance(ctx, callbacks)
		}

		if detector.fell(busy) {
			e.mu.Lock()
			e.finishLocked(done)
			e.mu.Unlock()
			if callbacks.OnStopSpeaking != nil {
				callbacks.OnStopSpeaking()
			}
			return
		}
	}
}

// advance reports the ended track and, unless the cycle was stopped, starts
// the next one. It returns whether the device is busy again.
func (e *Engine) advance(ctx context.Context, callbacks Callbacks) bool {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	index, total := e.current, len(e.queue)
	e.mu.Unlock()

	if callbacks.OnTrackEnded != nil {
		callbacks.OnTrackEnded(index, total)
	}

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return false
	}
	e.current = (index + 1) % total
	next, nextIndex := e.queue[e.current], e.current
	e.mu.Unlock()

	e.playTrack(ctx, next, nextIndex)
	return true
}

func (e *Engine) finishLocked(done chan struct{}) {
	e.active = false
	e.stopped = false
	e.queue = nil
	e.current = 0
	select {
	case <-done:
	default:
		close(done)
	}
}

// edgeDetector reports a playing to silent transition once per edge.
type edgeDetector struct {
	wasPlaying bool
}

func (d *edgeDetector) fell(playing bool) bool {
	fell := d.wasPlaying && !playing
	d.wasPlaying = playing
	return fell
}
