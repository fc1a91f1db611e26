package playback

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-relay/core/audio"
)

type fakeFetcher struct {
	failing map[string]bool
	delays  map[string]time.Duration
	gate    chan struct{}
	started atomic.Int32
}

func (f *fakeFetcher) Fetch(ctx context.Context, locator string) (audio.Clip, error) {
	f.started.Add(1)
	if f.gate != nil {
		<-f.gate
	}
	if delay := f.delays[locator]; delay > 0 {
		time.Sleep(delay)
	}
	if f.failing[locator] {
		return audio.Clip{}, errors.New("not found")
	}
	return audio.Clip{Locator: locator, Data: []byte{0, 0}, Encoding: audio.GetDefaultEncodingInfo()}, nil
}

// fakeDevice stays busy for a fixed number of polls after every Play.
type fakeDevice struct {
	mu        sync.Mutex
	polls     int
	remaining int
	played    []string
	log       *eventLog
	stopCalls int
}

func (d *fakeDevice) Play(clip audio.Clip) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, clip.Locator)
	d.remaining = d.polls
	if d.log != nil {
		d.log.add("play " + clip.Locator)
	}
	return nil
}

func (d *fakeDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.remaining > 0 {
		d.remaining--
		return true
	}
	return false
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.remaining = 0
	d.stopCalls++
	return nil
}

func (d *fakeDevice) Played() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.played)
}

type eventLog struct {
	mu     sync.Mutex
	events []string
}

func (l *eventLog) add(event string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, event)
}

func (l *eventLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return slices.Clone(l.events)
}

// newSingleResponseEngine wires the engine the way the turn controller does:
// the cycle is stopped once the last track ends.
func newSingleResponseEngine(fetcher Fetcher, device *fakeDevice, log *eventLog) (*Engine, chan struct{}, *atomic.Int32) {
	stopped := make(chan struct{}, 4)
	stopCalls := &atomic.Int32{}

	var engine *Engine
	engine = NewEngine(fetcher, device, WithTick(time.Millisecond), WithCallbacks(Callbacks{
		OnStartSpeaking: func() { log.add("start") },
		OnStopSpeaking: func() {
			stopCalls.Add(1)
			log.add("stop")
			stopped <- struct{}{}
		},
		OnTrackEnded: func(index, total int) {
			log.add("ended")
			if index == total-1 {
				engine.Stop()
			}
		},
	}))
	return engine, stopped, stopCalls
}

func awaitStop(t *testing.T, stopped <-chan struct{}) {
	t.Helper()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for stop-speaking")
	}
}

func TestPlayDropsFailedSegmentAndKeepsOrder(t *testing.T) {
	log := &eventLog{}
	device := &fakeDevice{polls: 3, log: log}
	fetcher := &fakeFetcher{failing: map[string]bool{"B": true}}
	engine, stopped, stopCalls := newSingleResponseEngine(fetcher, device, log)

	if err := engine.Play(context.Background(), []string{"A", "B", "C"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	awaitStop(t, stopped)
	time.Sleep(10 * time.Millisecond)

	if got := device.Played(); !slices.Equal(got, []string{"A", "C"}) {
		t.Fatalf("expected playback order [A C], got %v", got)
	}
	if got := stopCalls.Load(); got != 1 {
		t.Fatalf("expected stop-speaking once, got %d", got)
	}

	expected := []string{"start", "play A", "ended", "play C", "ended", "stop"}
	if got := log.snapshot(); !slices.Equal(got, expected) {
		t.Fatalf("expected events %v, got %v", expected, got)
	}
}

func TestPlayWithAllFetchesFailingStopsWithoutPlaying(t *testing.T) {
	log := &eventLog{}
	device := &fakeDevice{polls: 3}
	fetcher := &fakeFetcher{failing: map[string]bool{"A": true, "B": true}}
	engine, stopped, stopCalls := newSingleResponseEngine(fetcher, device, log)

	if err := engine.Play(context.Background(), []string{"A", "B"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	awaitStop(t, stopped)

	if got := device.Played(); len(got) != 0 {
		t.Fatalf("expected no device plays, got %v", got)
	}
	if got := stopCalls.Load(); got != 1 {
		t.Fatalf("expected stop-speaking once, got %d", got)
	}
	if engine.IsActive() {
		t.Fatalf("expected engine to be idle")
	}
}

func TestPlayWithNoSegmentsStopsImmediately(t *testing.T) {
	log := &eventLog{}
	engine, stopped, _ := newSingleResponseEngine(&fakeFetcher{}, &fakeDevice{}, log)

	if err := engine.Play(context.Background(), nil); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	awaitStop(t, stopped)

	if got := log.snapshot(); !slices.Equal(got, []string{"start", "stop"}) {
		t.Fatalf("expected [start stop], got %v", got)
	}
}

func TestStartSpeakingFiresBeforeFetchCompletes(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	device := &fakeDevice{polls: 1}
	started := make(chan struct{}, 1)
	engine := NewEngine(fetcher, device, WithTick(time.Millisecond), WithCallbacks(Callbacks{
		OnStartSpeaking: func() { started <- struct{}{} },
	}))

	go func() { _ = engine.Play(context.Background(), []string{"A"}) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for start-speaking")
	}
	if got := device.Played(); len(got) != 0 {
		t.Fatalf("expected nothing played before fetch completes, got %v", got)
	}

	engine.Stop()
	close(fetcher.gate)
	if err := engine.Wait(context.Background()); err != nil {
		t.Fatalf("expected no error waiting, got %v", err)
	}
}

func TestFetchesRunConcurrentlyAndSlowSegmentIsNotSkipped(t *testing.T) {
	log := &eventLog{}
	device := &fakeDevice{polls: 1}
	fetcher := &fakeFetcher{
		gate:   make(chan struct{}),
		delays: map[string]time.Duration{"A": 30 * time.Millisecond},
	}
	engine, stopped, _ := newSingleResponseEngine(fetcher, device, log)
	locators := []string{"A", "B", "C"}

	played := make(chan error, 1)
	go func() { played <- engine.Play(context.Background(), locators) }()

	// every fetch has to be in flight while none of them can finish
	deadline := time.Now().Add(2 * time.Second)
	for fetcher.started.Load() != int32(len(locators)) {
		if time.Now().After(deadline) {
			close(fetcher.gate)
			t.Fatalf("expected %d fetches in flight at once, got %d", len(locators), fetcher.started.Load())
		}
		time.Sleep(time.Millisecond)
	}
	if got := device.Played(); len(got) != 0 {
		t.Fatalf("expected nothing played before every fetch settled, got %v", got)
	}
	close(fetcher.gate)

	if err := <-played; err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	awaitStop(t, stopped)

	if got := device.Played(); !slices.Equal(got, locators) {
		t.Fatalf("expected %v, got %v", locators, got)
	}
}

func TestQueueCyclesUntilStopped(t *testing.T) {
	device := &fakeDevice{polls: 2}
	stopped := make(chan struct{}, 1)
	ended := atomic.Int32{}

	var engine *Engine
	engine = NewEngine(&fakeFetcher{}, device, WithTick(time.Millisecond), WithCallbacks(Callbacks{
		OnStopSpeaking: func() { stopped <- struct{}{} },
		OnTrackEnded: func(int, int) {
			if ended.Add(1) == 3 {
				engine.Stop()
			}
		},
	}))

	if err := engine.Play(context.Background(), []string{"A", "C"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	awaitStop(t, stopped)

	if got := device.Played(); !slices.Equal(got, []string{"A", "C", "A"}) {
		t.Fatalf("expected cyclic order [A C A], got %v", got)
	}
}

func TestPlayRejectsOverlappingCalls(t *testing.T) {
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	engine := NewEngine(fetcher, &fakeDevice{}, WithTick(time.Millisecond))

	go func() { _ = engine.Play(context.Background(), []string{"A"}) }()
	for fetcher.started.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	if err := engine.Play(context.Background(), []string{"B"}); !errors.Is(err, ErrAlreadyPlaying) {
		t.Fatalf("expected ErrAlreadyPlaying, got %v", err)
	}

	engine.Stop()
	close(fetcher.gate)
	_ = engine.Wait(context.Background())
}

func TestStopInterruptsCurrentTrack(t *testing.T) {
	device := &fakeDevice{polls: 1 << 20}
	stopped := make(chan struct{}, 1)
	engine := NewEngine(&fakeFetcher{}, device, WithTick(time.Millisecond), WithCallbacks(Callbacks{
		OnStopSpeaking: func() { stopped <- struct{}{} },
	}))

	if err := engine.Play(context.Background(), []string{"A", "B"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	engine.Stop()
	awaitStop(t, stopped)

	if got := device.Played(); !slices.Equal(got, []string{"A"}) {
		t.Fatalf("expected only A to start, got %v", got)
	}
	device.mu.Lock()
	defer device.mu.Unlock()
	if device.stopCalls != 1 {
		t.Fatalf("expected one device stop, got %d", device.stopCalls)
	}
}

func TestContextCancellationEndsPlayback(t *testing.T) {
	device := &fakeDevice{polls: 1 << 20}
	stopped := make(chan struct{}, 1)
	engine := NewEngine(&fakeFetcher{}, device, WithTick(time.Millisecond), WithCallbacks(Callbacks{
		OnStopSpeaking: func() { stopped <- struct{}{} },
	}))

	ctx, cancel := context.WithCancel(context.Background())
	if err := engine.Play(ctx, []string{"A"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cancel()
	awaitStop(t, stopped)
}

func TestEdgeDetectorFiresOncePerFall(t *testing.T) {
	detector := edgeDetector{}
	samples := []bool{false, true, true, false, false, true, false}
	falls := 0
	for _, sample := range samples {
		if detector.fell(sample) {
			falls++
		}
	}
	if falls != 2 {
		t.Fatalf("expected two falling edges, got %d", falls)
	}
}

func TestFetchErrorUnwraps(t *testing.T) {
	cause := errors.New("boom")
	err := error(&FetchError{Index: 1, Locator: "B", Err: cause})
	if !errors.Is(err, cause) {
		t.Fatalf("expected FetchError to unwrap to cause")
	}
}

type countingFetcher struct {
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (f *countingFetcher) Fetch(ctx context.Context, locator string) (audio.Clip, error) {
	current := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if current <= peak || f.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return audio.Clip{Locator: locator, Data: []byte{0, 0}, Encoding: audio.GetDefaultEncodingInfo()}, nil
}

func TestPlayRespectsFetchLimit(t *testing.T) {
	fetcher := &countingFetcher{}
	device := &fakeDevice{polls: 1}
	engine := NewEngine(fetcher, device, WithTick(time.Millisecond), WithFetchLimit(2))
	defer engine.Stop()

	if err := engine.Play(context.Background(), []string{"a", "b", "c", "d", "e", "f"}); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if peak := fetcher.peak.Load(); peak > 2 || peak < 1 {
		t.Fatalf("expected at most 2 fetches in flight, got %d", peak)
	}
}
