package orchestration

import (
	"context"

	"github.com/koscakluka/ema-relay/core/assistant"
	"github.com/koscakluka/ema-relay/core/effects"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/playback"
	"github.com/koscakluka/ema-relay/core/recognition"
	"github.com/koscakluka/ema-relay/core/session"
)

type OrchestratorOption func(*Orchestrator)

// Recognizer delivers recognition results until ctx ends. Stop suspends it
// while a turn is in flight. Recognizers may also implement
// Resume(context.Context) error and Paused() bool.
type Recognizer interface {
	Listen(ctx context.Context, onResult func(recognition.Result)) error
	Stop()
}

func WithRecognizer(recognizer Recognizer) OrchestratorOption {
	return func(o *Orchestrator) {
		o.recognizer.set(recognizer)
	}
}

type Assistant interface {
	Send(ctx context.Context, text string, s session.Context) (assistant.Response, error)
}

func WithAssistant(client Assistant) OrchestratorOption {
	return func(o *Orchestrator) {
		o.assistant = client
	}
}

// SegmentResolver maps a response onto the audio locators to play, in order.
type SegmentResolver interface {
	Resolve(ctx context.Context, response assistant.Response) ([]string, error)
}

func WithSegmentResolver(resolver SegmentResolver) OrchestratorOption {
	return func(o *Orchestrator) {
		o.resolver = resolver
	}
}

// Player is satisfied by *playback.Engine.
type Player interface {
	Play(ctx context.Context, locators []string) error
	Stop()
	SetCallbacks(callbacks playback.Callbacks)
}

func WithPlayer(player Player) OrchestratorOption {
	return func(o *Orchestrator) {
		o.player = player
	}
}

func WithEffectSink(sink effects.Sink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.effectSink = sink
	}
}

// WithEffectTriggers replaces the default keyword table.
func WithEffectTriggers(triggers []effects.Trigger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.effectTriggers = triggers
	}
}

type DisplaySink interface {
	Display(ctx context.Context, text string)
}

func WithDisplaySink(sink DisplaySink) OrchestratorOption {
	return func(o *Orchestrator) {
		o.display = sink
	}
}

func WithSession(store *session.Store) OrchestratorOption {
	return func(o *Orchestrator) {
		if store != nil {
			o.session = store
		}
	}
}

// WithResetOnEndSession regenerates the session identifiers after a turn
// whose response asked to end the session.
func WithResetOnEndSession(enabled bool) OrchestratorOption {
	return func(o *Orchestrator) {
		o.resetOnEndSession = enabled
	}
}

// WithEventListener receives every orchestration event, synchronously and in
// emission order. It can be passed multiple times.
func WithEventListener(listener func(events.Event)) OrchestratorOption {
	return func(o *Orchestrator) {
		if listener != nil {
			o.listeners = append(o.listeners, listener)
		}
	}
}

type OrchestrateOptions struct {
	onStateChanged       func(from, to TurnState)
	onStartSpeaking      func()
	onStopSpeaking       func()
	onEffect             func(tag effects.Tag)
	onResponse           func(response assistant.Response)
	onRecognition        func(result recognition.Result)
	onIgnoredRecognition func(result recognition.Result)
	onEvent              func(event events.Event)
}

type OrchestrateOption func(*OrchestrateOptions)

func WithStateChangedCallback(callback func(from, to TurnState)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStateChanged = callback
	}
}

// WithStartSpeakingCallback fires when playback of a response is about to
// begin, before its audio has been fetched.
func WithStartSpeakingCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStartSpeaking = callback
	}
}

// WithStopSpeakingCallback fires once per spoken response, after its last
// track finished or when there turned out to be nothing to play.
func WithStopSpeakingCallback(callback func()) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onStopSpeaking = callback
	}
}

func WithEffectCallback(callback func(tag effects.Tag)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onEffect = callback
	}
}

func WithResponseCallback(callback func(response assistant.Response)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onResponse = callback
	}
}

// WithRecognitionCallback receives every result handed to the controller,
// including those that end up ignored or dropped.
func WithRecognitionCallback(callback func(result recognition.Result)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onRecognition = callback
	}
}

func WithIgnoredRecognitionCallback(callback func(result recognition.Result)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onIgnoredRecognition = callback
	}
}

func WithEventCallback(callback func(event events.Event)) OrchestrateOption {
	return func(o *OrchestrateOptions) {
		o.onEvent = callback
	}
}
