package orchestration

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/koscakluka/ema-relay/core/assistant"
	"github.com/koscakluka/ema-relay/core/audio"
	"github.com/koscakluka/ema-relay/core/effects"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/playback"
	"github.com/koscakluka/ema-relay/core/recognition"
	"github.com/koscakluka/ema-relay/core/session"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	onResult func(recognition.Result)
	listen   error

	stops   atomic.Int32
	resumes atomic.Int32
	closes  atomic.Int32
	paused  atomic.Bool
}

func (r *fakeRecognizer) Listen(ctx context.Context, onResult func(recognition.Result)) error {
	if r.listen != nil {
		return r.listen
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onResult = onResult
	return nil
}

func (r *fakeRecognizer) Stop() {
	r.stops.Add(1)
	r.paused.Store(true)
}

func (r *fakeRecognizer) Resume(context.Context) error {
	r.resumes.Add(1)
	r.paused.Store(false)
	return nil
}

func (r *fakeRecognizer) Paused() bool { return r.paused.Load() }

func (r *fakeRecognizer) Close() { r.closes.Add(1) }

func (r *fakeRecognizer) deliver(result recognition.Result) {
	r.mu.Lock()
	onResult := r.onResult
	r.mu.Unlock()
	onResult(result)
}

type assistantFunc func(ctx context.Context, text string, s session.Context) (assistant.Response, error)

func (f assistantFunc) Send(ctx context.Context, text string, s session.Context) (assistant.Response, error) {
	return f(ctx, text, s)
}

type clipFetcher struct{}

func (clipFetcher) Fetch(ctx context.Context, locator string) (audio.Clip, error) {
	return audio.Clip{Locator: locator, Data: []byte{0, 0}}, nil
}

type failingFetcher struct{}

func (failingFetcher) Fetch(ctx context.Context, locator string) (audio.Clip, error) {
	return audio.Clip{}, errors.New("segment unavailable")
}

type pollingDevice struct {
	mu     sync.Mutex
	polls  int
	left   int
	played []string
}

func (d *pollingDevice) Play(clip audio.Clip) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.played = append(d.played, clip.Locator)
	d.left = d.polls
	return nil
}

func (d *pollingDevice) IsPlaying() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.left == 0 {
		return false
	}
	d.left--
	return true
}

func (d *pollingDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.left = 0
	return nil
}

func (d *pollingDevice) Played() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return slices.Clone(d.played)
}

type eventRecorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *eventRecorder) record(event events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *eventRecorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]events.Kind, 0, len(r.events))
	for _, event := range r.events {
		kinds = append(kinds, event.Kind())
	}
	return kinds
}

func (r *eventRecorder) ofKind(kind events.Kind) []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	matching := []events.Event{}
	for _, event := range r.events {
		if event.Kind() == kind {
			matching = append(matching, event)
		}
	}
	return matching
}

func waitFor(t *testing.T, what string, condition func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// isSubsequence reports whether want appears in got in order, possibly with
// other kinds interleaved.
func isSubsequence(got, want []events.Kind) bool {
	i := 0
	for _, kind := range got {
		if i < len(want) && kind == want[i] {
			i++
		}
	}
	return i == len(want)
}

func TestOrchestratorSpeaksResponseAndListensAgain(t *testing.T) {
	recognizer := &fakeRecognizer{}
	device := &pollingDevice{polls: 2}
	engine := playback.NewEngine(clipFetcher{}, device, playback.WithTick(time.Millisecond))
	recorder := &eventRecorder{}

	var (
		effectsMu   sync.Mutex
		effectsSeen []effects.Tag
		sentText    atomic.Value
	)
	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithAssistant(assistantFunc(func(ctx context.Context, text string, s session.Context) (assistant.Response, error) {
			sentText.Store(text)
			return assistant.Response{OutputSpeech: "Okay", Segments: []string{"seg1"}}, nil
		})),
		WithPlayer(engine),
		WithEffectSink(effects.SinkFunc(func(ctx context.Context, tag effects.Tag) {
			effectsMu.Lock()
			defer effectsMu.Unlock()
			effectsSeen = append(effectsSeen, tag)
		})),
		WithEventListener(recorder.record),
	)

	var startSpeaking, stopSpeaking atomic.Int32
	if err := orchestrator.Orchestrate(context.Background(),
		WithStartSpeakingCallback(func() { startSpeaking.Add(1) }),
		WithStopSpeakingCallback(func() { stopSpeaking.Add(1) }),
	); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	if state := orchestrator.State(); state != StateListening {
		t.Fatalf("expected listening, got %s", state)
	}

	recognizer.deliver(recognition.NewFinal("switch on the light", 0.9))
	waitFor(t, "recognizer resume", func() bool { return recognizer.resumes.Load() == 1 })

	if state := orchestrator.State(); state != StateListening {
		t.Fatalf("expected listening after the turn, got %s", state)
	}
	if got := recognizer.stops.Load(); got != 1 {
		t.Fatalf("expected recognizer to be stopped once, got %d", got)
	}
	if got, _ := sentText.Load().(string); got != "switch on the light" {
		t.Fatalf("expected assistant to receive the utterance, got %q", got)
	}
	effectsMu.Lock()
	if !slices.Equal(effectsSeen, []effects.Tag{effects.TagLights}) {
		t.Fatalf("expected lights effect, got %v", effectsSeen)
	}
	effectsMu.Unlock()
	if got := startSpeaking.Load(); got != 1 {
		t.Fatalf("expected one start-speaking, got %d", got)
	}
	if got := stopSpeaking.Load(); got != 1 {
		t.Fatalf("expected one stop-speaking, got %d", got)
	}
	if played := device.Played(); !slices.Equal(played, []string{"seg1"}) {
		t.Fatalf("expected seg1 to be played once, got %v", played)
	}

	want := []events.Kind{
		events.KindTurnStarted,
		events.KindEffectTriggered,
		events.KindAssistantResponseReceived,
		events.KindAssistantPlaybackStarted,
		events.KindAssistantPlaybackQueueReady,
		events.KindAssistantPlaybackEnded,
		events.KindTurnCompleted,
	}
	if kinds := recorder.kinds(); !isSubsequence(kinds, want) {
		t.Fatalf("expected events in order %v, got %v", want, kinds)
	}

	completed := recorder.ofKind(events.KindTurnCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected one completed turn, got %d", len(completed))
	}
	summary := completed[0].(events.TurnCompleted)
	if summary.Outcome != events.TurnOutcomeSpoken {
		t.Fatalf("expected spoken outcome, got %s", summary.Outcome)
	}
	if !slices.Equal(summary.Effects, []string{"lights"}) {
		t.Fatalf("expected lights in summary, got %v", summary.Effects)
	}
}

func TestOrchestratorTurnWithNoPlayableSegmentsIsSilent(t *testing.T) {
	recognizer := &fakeRecognizer{}
	device := &pollingDevice{polls: 2}
	engine := playback.NewEngine(failingFetcher{}, device, playback.WithTick(time.Millisecond))
	recorder := &eventRecorder{}

	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithAssistant(assistantFunc(func(ctx context.Context, text string, s session.Context) (assistant.Response, error) {
			return assistant.Response{OutputSpeech: "Okay", Segments: []string{"seg1", "seg2"}}, nil
		})),
		WithPlayer(engine),
		WithEventListener(recorder.record),
	)
	if err := orchestrator.Orchestrate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	recognizer.deliver(recognition.NewFinal("what time is it", 1))
	waitFor(t, "recognizer resume", func() bool { return recognizer.resumes.Load() == 1 })

	if played := device.Played(); len(played) != 0 {
		t.Fatalf("expected nothing to be played, got %v", played)
	}
	if got := len(recorder.ofKind(events.KindAssistantPlaybackEnded)); got != 1 {
		t.Fatalf("expected one stop-speaking, got %d", got)
	}
	completed := recorder.ofKind(events.KindTurnCompleted)
	if len(completed) != 1 {
		t.Fatalf("expected one completed turn, got %d", len(completed))
	}
	if outcome := completed[0].(events.TurnCompleted).Outcome; outcome != events.TurnOutcomeSilent {
		t.Fatalf("expected silent outcome, got %s", outcome)
	}
}

func TestOrchestratorIgnoresPartialAndEmptyResults(t *testing.T) {
	recognizer := &fakeRecognizer{}
	var sends atomic.Int32
	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithAssistant(assistantFunc(func(context.Context, string, session.Context) (assistant.Response, error) {
			sends.Add(1)
			return assistant.Response{}, nil
		})),
	)

	var ignored atomic.Int32
	if err := orchestrator.Orchestrate(context.Background(),
		WithIgnoredRecognitionCallback(func(recognition.Result) { ignored.Add(1) }),
	); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	recognizer.deliver(recognition.NewPartial("open the"))
	recognizer.deliver(recognition.Result{})

	if got := ignored.Load(); got != 2 {
		t.Fatalf("expected 2 ignored results, got %d", got)
	}
	if got := recognizer.stops.Load(); got != 0 {
		t.Fatalf("expected recognizer not to be stopped, got %d", got)
	}
	if got := sends.Load(); got != 0 {
		t.Fatalf("expected no assistant requests, got %d", got)
	}
	if state := orchestrator.State(); state != StateListening {
		t.Fatalf("expected listening, got %s", state)
	}
}

func TestOrchestratorDropsResultsDuringTurn(t *testing.T) {
	recognizer := &fakeRecognizer{}
	recorder := &eventRecorder{}
	release := make(chan struct{})
	var sends atomic.Int32
	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithAssistant(assistantFunc(func(context.Context, string, session.Context) (assistant.Response, error) {
			sends.Add(1)
			<-release
			return assistant.Response{}, nil
		})),
		WithEventListener(recorder.record),
	)
	if err := orchestrator.Orchestrate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	recognizer.deliver(recognition.NewFinal("what time is it", 1))
	waitFor(t, "awaiting response", func() bool { return orchestrator.State() == StateAwaitingResponse })

	recognizer.deliver(recognition.NewFinal("open the door", 1))
	recognizer.deliver(recognition.NewFinal("spin around", 1))

	close(release)
	waitFor(t, "recognizer resume", func() bool { return recognizer.resumes.Load() == 1 })

	if got := sends.Load(); got != 1 {
		t.Fatalf("expected 1 assistant request, got %d", got)
	}
	if got := recognizer.stops.Load(); got != 1 {
		t.Fatalf("expected recognizer to be stopped once, got %d", got)
	}

	dropped := recorder.ofKind(events.KindRecognitionDropped)
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped results, got %d", len(dropped))
	}
	if reason := dropped[0].(events.RecognitionDropped).Reason; reason != "awaiting_response" {
		t.Fatalf("expected awaiting_response reason, got %q", reason)
	}
	if got := len(recorder.ofKind(events.KindEffectTriggered)); got != 0 {
		t.Fatalf("expected dropped results not to trigger effects, got %d", got)
	}
}

func TestOrchestratorRecoversFromAssistantFailure(t *testing.T) {
	recognizer := &fakeRecognizer{}
	recorder := &eventRecorder{}
	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithAssistant(assistantFunc(func(context.Context, string, session.Context) (assistant.Response, error) {
			return assistant.Response{}, &assistant.TransportError{StatusCode: 500, Err: errors.New("boom")}
		})),
		WithEventListener(recorder.record),
	)
	if err := orchestrator.Orchestrate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	recognizer.deliver(recognition.NewFinal("turn around", 1))
	waitFor(t, "recognizer resume", func() bool { return recognizer.resumes.Load() == 1 })

	if state := orchestrator.State(); state != StateListening {
		t.Fatalf("expected listening, got %s", state)
	}

	failed := recorder.ofKind(events.KindAssistantResponseFailed)
	if len(failed) != 1 {
		t.Fatalf("expected 1 failure event, got %d", len(failed))
	}
	var transportErr *assistant.TransportError
	if !errors.As(failed[0].(events.AssistantResponseFailed).Err, &transportErr) {
		t.Fatalf("expected transport error, got %v", failed[0].(events.AssistantResponseFailed).Err)
	}
	if got := len(recorder.ofKind(events.KindAssistantPlaybackStarted)); got != 0 {
		t.Fatalf("expected no playback on failure, got %d", got)
	}
	summary := recorder.ofKind(events.KindTurnCompleted)[0].(events.TurnCompleted)
	if summary.Outcome != events.TurnOutcomeFailed {
		t.Fatalf("expected failed outcome, got %s", summary.Outcome)
	}
	if !slices.Equal(summary.Effects, []string{"turn"}) {
		t.Fatalf("expected effects to fire despite failure, got %v", summary.Effects)
	}
}

func TestOrchestratorSilentResponseSkipsPlayback(t *testing.T) {
	recognizer := &fakeRecognizer{}
	recorder := &eventRecorder{}
	var displayed atomic.Int32
	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithAssistant(assistantFunc(func(context.Context, string, session.Context) (assistant.Response, error) {
			return assistant.Response{DisplayText: "nothing to say"}, nil
		})),
		WithDisplaySink(displayFunc(func(context.Context, string) { displayed.Add(1) })),
		WithEventListener(recorder.record),
	)
	if err := orchestrator.Orchestrate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	recognizer.deliver(recognition.NewFinal("hello", 1))
	waitFor(t, "recognizer resume", func() bool { return recognizer.resumes.Load() == 1 })

	if got := displayed.Load(); got != 0 {
		t.Fatalf("expected nothing displayed, got %d", got)
	}
	if got := len(recorder.ofKind(events.KindAssistantPlaybackStarted)); got != 0 {
		t.Fatalf("expected no playback, got %d", got)
	}
	summary := recorder.ofKind(events.KindTurnCompleted)[0].(events.TurnCompleted)
	if summary.Outcome != events.TurnOutcomeSilent {
		t.Fatalf("expected silent outcome, got %s", summary.Outcome)
	}
}

type displayFunc func(ctx context.Context, text string)

func (f displayFunc) Display(ctx context.Context, text string) { f(ctx, text) }

func TestOrchestratorPauseDropsResults(t *testing.T) {
	recognizer := &fakeRecognizer{}
	recorder := &eventRecorder{}
	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithAssistant(assistantFunc(func(context.Context, string, session.Context) (assistant.Response, error) {
			return assistant.Response{}, nil
		})),
		WithEventListener(recorder.record),
	)
	if err := orchestrator.Orchestrate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	orchestrator.Pause()
	recognizer.deliver(recognition.NewFinal("hello", 1))
	if got := recognizer.stops.Load(); got != 0 {
		t.Fatalf("expected paused controller not to start a turn, got %d stops", got)
	}
	dropped := recorder.ofKind(events.KindRecognitionDropped)
	if len(dropped) != 1 || dropped[0].(events.RecognitionDropped).Reason != "paused" {
		t.Fatalf("expected one result dropped as paused, got %v", dropped)
	}

	orchestrator.Unpause()
	recognizer.deliver(recognition.NewFinal("hello", 1))
	waitFor(t, "recognizer resume", func() bool { return recognizer.resumes.Load() == 1 })
}

func TestHandleRecognitionBeforeOrchestrateIsDropped(t *testing.T) {
	recorder := &eventRecorder{}
	orchestrator := NewOrchestrator(WithEventListener(recorder.record))

	orchestrator.HandleRecognition(recognition.NewFinal("open the door", 1))

	dropped := recorder.ofKind(events.KindRecognitionDropped)
	if len(dropped) != 1 || dropped[0].(events.RecognitionDropped).Reason != "idle" {
		t.Fatalf("expected result dropped while idle, got %v", dropped)
	}
}

func TestOrchestratorResetsSessionOnEndSession(t *testing.T) {
	recognizer := &fakeRecognizer{}
	recorder := &eventRecorder{}
	store := session.New()
	initial := store.Current()

	var sentSession atomic.Value
	orchestrator := NewOrchestrator(
		WithRecognizer(recognizer),
		WithSession(store),
		WithResetOnEndSession(true),
		WithAssistant(assistantFunc(func(ctx context.Context, text string, s session.Context) (assistant.Response, error) {
			sentSession.Store(s)
			return assistant.Response{OutputSpeech: "Goodbye", EndSession: true}, nil
		})),
		WithEventListener(recorder.record),
	)
	if err := orchestrator.Orchestrate(context.Background()); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	defer orchestrator.Close()

	recognizer.deliver(recognition.NewFinal("goodbye", 1))
	waitFor(t, "recognizer resume", func() bool { return recognizer.resumes.Load() == 1 })

	if got := sentSession.Load().(session.Context); got.SessionID != initial.SessionID {
		t.Fatalf("expected request to use session %s, got %s", initial.SessionID, got.SessionID)
	}
	current := orchestrator.Session()
	if current.SessionID == initial.SessionID || current.UserID == initial.UserID || current.DeviceID == initial.DeviceID {
		t.Fatalf("expected all identifiers to change, got %+v from %+v", current, initial)
	}
	resets := recorder.ofKind(events.KindSessionReset)
	if len(resets) != 1 {
		t.Fatalf("expected one session reset event, got %d", len(resets))
	}
	if prev := resets[0].(events.SessionReset).PreviousSessionID; prev != initial.SessionID {
		t.Fatalf("expected previous session %s, got %s", initial.SessionID, prev)
	}
}

func TestOrchestratorCloseReturnsToIdle(t *testing.T) {
	recognizer := &fakeRecognizer{}
	orchestrator := NewOrchestrator(WithRecognizer(recognizer))

	var transitions []TurnState
	var mu sync.Mutex
	if err := orchestrator.Orchestrate(context.Background(),
		WithStateChangedCallback(func(from, to TurnState) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, to)
		}),
	); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if err := orchestrator.Orchestrate(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("expected ErrAlreadyStarted, got %v", err)
	}

	orchestrator.Close()
	orchestrator.Close()

	if state := orchestrator.State(); state != StateIdle {
		t.Fatalf("expected idle, got %s", state)
	}
	if got := recognizer.closes.Load(); got != 1 {
		t.Fatalf("expected recognizer closed once, got %d", got)
	}
	if err := orchestrator.Orchestrate(context.Background()); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !slices.Equal(transitions, []TurnState{StateListening, StateIdle}) {
		t.Fatalf("expected listening then idle, got %v", transitions)
	}
}

func TestOrchestratorStopsWhenContextEnds(t *testing.T) {
	recognizer := &fakeRecognizer{}
	orchestrator := NewOrchestrator(WithRecognizer(recognizer))

	ctx, cancel := context.WithCancel(context.Background())
	if err := orchestrator.Orchestrate(ctx); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	cancel()

	waitFor(t, "idle", func() bool { return orchestrator.State() == StateIdle })
}

func TestOrchestrateFailsWhenRecognizerCannotListen(t *testing.T) {
	listenErr := errors.New("no microphone")
	orchestrator := NewOrchestrator(WithRecognizer(&fakeRecognizer{listen: listenErr}))

	err := orchestrator.Orchestrate(context.Background())
	if !errors.Is(err, listenErr) {
		t.Fatalf("expected listen error, got %v", err)
	}
	if state := orchestrator.State(); state != StateIdle {
		t.Fatalf("expected idle, got %s", state)
	}
}
