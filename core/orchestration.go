package orchestration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/koscakluka/ema-relay/core/effects"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/playback"
	"github.com/koscakluka/ema-relay/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	ErrClosed         = errors.New("orchestrator closed")
	ErrAlreadyStarted = errors.New("orchestrator already started")
)

// Orchestrator is the turn controller. It accepts one recognized utterance
// at a time, runs it through effects, the assistant and playback, and only
// then listens again.
type Orchestrator struct {
	recognizer        recognizer
	assistant         Assistant
	resolver          SegmentResolver
	player            Player
	effectSink        effects.Sink
	effectTriggers    []effects.Trigger
	dispatcher        *effects.Dispatcher
	display           DisplaySink
	session           *session.Store
	resetOnEndSession bool
	listeners         []func(events.Event)

	mu                 sync.Mutex
	state              TurnState
	paused             bool
	closed             bool
	activeTurn         *turn
	emitter            eventEmitter
	orchestrateOptions OrchestrateOptions
	baseContext        context.Context
	cancel             context.CancelFunc

	turns     sync.WaitGroup
	closeOnce sync.Once
}

func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		state:       StateIdle,
		emitter:     noopEventEmitter,
		baseContext: context.Background(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.session == nil {
		o.session = session.New()
	}
	o.session.SetResetHook(func(previous, next session.Context) {
		o.emit(events.NewSessionReset(previous.SessionID, next.SessionID))
	})

	dispatcherOpts := []effects.DispatcherOption{}
	if o.effectTriggers != nil {
		dispatcherOpts = append(dispatcherOpts, effects.WithTriggers(o.effectTriggers))
	}
	o.dispatcher = effects.NewDispatcher(o.effectSink, dispatcherOpts...)

	if o.player != nil {
		o.player.SetCallbacks(playback.Callbacks{
			OnStartSpeaking: o.onStartSpeaking,
			OnStopSpeaking:  o.onStopSpeaking,
			OnTrackEnded:    o.onTrackEnded,
			OnQueueReady:    o.onQueueReady,
		})
	}

	return o
}

// Orchestrate moves the controller from idle to listening and starts the
// recognizer. Recognized results are handled until ctx ends or Close is
// called.
func (o *Orchestrator) Orchestrate(ctx context.Context, opts ...OrchestrateOption) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if o.state != StateIdle {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}

	o.orchestrateOptions = OrchestrateOptions{}
	for _, opt := range opts {
		opt(&o.orchestrateOptions)
	}
	o.emitter = newCallbackEventEmitter(o.orchestrateOptions)
	o.baseContext, o.cancel = context.WithCancel(ctx)
	baseContext := o.baseContext
	transition := o.transitionLocked(StateListening)
	o.mu.Unlock()

	o.emitTransition(baseContext, transition)

	if err := o.recognizer.Listen(baseContext, o.HandleRecognition); err != nil {
		recordedErr := fmt.Errorf("failed to start recognizer: %w", err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())

		o.mu.Lock()
		o.cancel()
		o.cancel = nil
		transition := o.transitionLocked(StateIdle)
		o.mu.Unlock()
		o.emitTransition(ctx, transition)
		return recordedErr
	}

	go func() {
		<-baseContext.Done()
		o.Close()
	}()

	return nil
}

// Close stops accepting input, interrupts any playback in progress and waits
// for the in-flight turn to settle.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.mu.Lock()
		o.closed = true
		cancel := o.cancel
		baseContext := o.baseContext
		o.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		if o.player != nil {
			o.player.Stop()
		}

		o.turns.Wait()

		if err := o.recognizer.Close(); err != nil {
			span := trace.SpanFromContext(baseContext)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Warn("failed to close recognizer", slog.Any("error", err))
		}

		o.mu.Lock()
		transition := o.transitionLocked(StateIdle)
		o.mu.Unlock()
		o.emitTransition(baseContext, transition)
	})
}

func (o *Orchestrator) State() TurnState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *Orchestrator) Session() session.Context {
	return o.session.Current()
}

// ResetSession regenerates the user, session and device identifiers. A turn
// already in flight keeps the identifiers it started with.
func (o *Orchestrator) ResetSession() session.Context {
	return o.session.Reset()
}

// Pause makes the controller drop recognized results until Unpause. A turn
// already in flight is not affected.
func (o *Orchestrator) Pause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = true
}

func (o *Orchestrator) Unpause() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.paused = false
}

func (o *Orchestrator) IsPaused() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.paused
}

type stateTransition struct {
	from, to TurnState
	ok       bool
}

func (o *Orchestrator) transitionLocked(to TurnState) stateTransition {
	from := o.state
	if from == to || !from.CanTransitionTo(to) {
		if from != to {
			logger.Warn("rejected turn state transition",
				slog.String("from", from.String()),
				slog.String("to", to.String()))
		}
		return stateTransition{from: from, to: to}
	}
	o.state = to
	return stateTransition{from: from, to: to, ok: true}
}

func (o *Orchestrator) emitTransition(ctx context.Context, transition stateTransition) {
	if !transition.ok {
		return
	}
	transitionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", transition.from.String()),
		attribute.String("to", transition.to.String()),
	))
	o.emit(events.NewTurnStateChanged(transition.from.String(), transition.to.String()))
}

func (o *Orchestrator) transition(ctx context.Context, to TurnState) bool {
	o.mu.Lock()
	transition := o.transitionLocked(to)
	o.mu.Unlock()
	o.emitTransition(ctx, transition)
	return transition.ok
}
