package orchestration

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-relay/core/assistant"
	"github.com/koscakluka/ema-relay/core/effects"
	"github.com/koscakluka/ema-relay/core/events"
	"github.com/koscakluka/ema-relay/core/recognition"
	"github.com/koscakluka/ema-relay/core/session"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	dropReasonClosed           = "closed"
	dropReasonPaused           = "paused"
	dropReasonRecognizerPaused = "recognizer_paused"
)

// turn is one accepted utterance and everything that happens because of it.
type turn struct {
	id        string
	input     string
	session   session.Context
	startedAt time.Time
	effects   []effects.Tag
	response  assistant.Response

	startOnce sync.Once
	stopOnce  sync.Once
	spoken    chan struct{}

	// queued is the number of tracks the player accepted, -1 until reported.
	queued atomic.Int32
}

func newTurn(input string, s session.Context) *turn {
	t := &turn{
		id:        uuid.NewString(),
		input:     input,
		session:   s,
		startedAt: time.Now(),
		spoken:    make(chan struct{}),
	}
	t.queued.Store(-1)
	return t
}

func (t *turn) summary(outcome events.TurnOutcome) events.TurnCompleted {
	tags := make([]string, 0, len(t.effects))
	for _, tag := range t.effects {
		tags = append(tags, string(tag))
	}
	return events.NewTurnCompleted(events.TurnCompleted{
		TurnID:       t.id,
		SessionID:    t.session.SessionID,
		UserID:       t.session.UserID,
		Input:        t.input,
		Effects:      tags,
		OutputSpeech: t.response.OutputSpeech,
		Outcome:      outcome,
		StartedAt:    t.startedAt,
	})
}

// HandleRecognition is the recognizer callback. A final, non-empty result
// received while listening starts a turn; anything else is ignored or
// dropped, never queued.
func (o *Orchestrator) HandleRecognition(result recognition.Result) {
	o.mu.Lock()
	opts := o.orchestrateOptions
	baseContext := o.baseContext
	o.mu.Unlock()

	if opts.onRecognition != nil {
		opts.onRecognition(result)
	}

	if !result.IsActionable() {
		o.emit(events.NewRecognitionIgnored(result.Text(), result.IsPartial))
		if opts.onIgnoredRecognition != nil {
			opts.onIgnoredRecognition(result)
		}
		return
	}

	recognizerPaused := o.recognizer.Paused()

	o.mu.Lock()
	reason := ""
	switch {
	case o.closed:
		reason = dropReasonClosed
	case o.state != StateListening:
		reason = o.state.String()
	case o.paused:
		reason = dropReasonPaused
	case recognizerPaused:
		reason = dropReasonRecognizerPaused
	}
	if reason != "" {
		o.mu.Unlock()
		logger.Debug("dropping recognition result",
			slog.String("text", result.Text()),
			slog.String("reason", reason))
		o.emit(events.NewRecognitionDropped(result.Text(), reason))
		return
	}

	t := newTurn(result.Text(), o.session.Current())
	o.activeTurn = t
	transition := o.transitionLocked(StateDispatching)
	o.turns.Add(1)
	o.mu.Unlock()

	ctx, span := tracer.Start(baseContext, "turn",
		trace.WithAttributes(
			attribute.String("turn.id", t.id),
			attribute.String("session.id", t.session.SessionID),
		))

	o.emitTransition(ctx, transition)
	o.emit(events.NewTurnStarted(t.id, t.session.SessionID, t.input))

	o.recognizer.Stop()

	t.effects = o.dispatcher.Dispatch(ctx, t.input)
	for _, tag := range t.effects {
		o.emit(events.NewEffectTriggered(t.id, string(tag)))
		if opts.onEffect != nil {
			opts.onEffect(tag)
		}
	}

	go o.runTurn(ctx, span, t, opts)
}

func (o *Orchestrator) runTurn(ctx context.Context, span trace.Span, t *turn, opts OrchestrateOptions) {
	defer o.turns.Done()
	defer span.End()

	o.transition(ctx, StateAwaitingResponse)

	if o.assistant == nil {
		o.finishTurn(ctx, t, events.TurnOutcomeSilent)
		return
	}

	response, err := o.assistant.Send(ctx, t.input, t.session)
	if err != nil {
		recordedErr := fmt.Errorf("assistant request failed: %w", err)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		logger.WarnContext(ctx, "assistant request failed", slog.String("turn_id", t.id), slog.Any("error", err))
		o.emit(events.NewAssistantResponseFailed(t.id, err))

		outcome := events.TurnOutcomeFailed
		if ctx.Err() != nil {
			outcome = events.TurnOutcomeAborted
		}
		o.finishTurn(ctx, t, outcome)
		return
	}

	t.response = response
	o.emit(events.NewAssistantResponseReceived(t.id, response.ResponseId, response.OutputSpeech,
		response.DisplayText, response.Hints, response.EndSession))
	if opts.onResponse != nil {
		opts.onResponse(response)
	}

	if !response.HasSpeech() {
		o.finishTurn(ctx, t, events.TurnOutcomeSilent)
		return
	}

	if o.display != nil {
		o.display.Display(ctx, response.OutputSpeech)
	}

	o.transition(ctx, StateSpeaking)

	locators := response.Segments
	if o.resolver != nil {
		locators, err = o.resolver.Resolve(ctx, response)
		if err != nil {
			recordedErr := fmt.Errorf("failed to resolve audio segments: %w", err)
			span.RecordError(recordedErr)
			span.SetStatus(codes.Error, recordedErr.Error())
			logger.WarnContext(ctx, "failed to resolve audio segments", slog.String("turn_id", t.id), slog.Any("error", err))
			locators = nil
		}
	}
	span.SetAttributes(attribute.Int("turn.segments", len(locators)))

	played := o.speak(ctx, t, locators)

	outcome := events.TurnOutcomeSpoken
	if !played {
		outcome = events.TurnOutcomeSilent
	}
	if ctx.Err() != nil {
		outcome = events.TurnOutcomeAborted
	} else if response.EndSession && o.resetOnEndSession {
		o.ResetSession()
	}
	o.finishTurn(ctx, t, outcome)
}

// speak blocks until stop-speaking has been reported for t. It reports
// whether any audio was played; without a player the speech only goes to
// the display and counts as delivered.
func (o *Orchestrator) speak(ctx context.Context, t *turn, locators []string) bool {
	if o.player == nil {
		o.startSpeaking(t)
		o.stopSpeaking(t)
		return true
	}

	if err := o.player.Play(ctx, locators); err != nil {
		recordedErr := fmt.Errorf("failed to start playback: %w", err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		logger.WarnContext(ctx, "failed to start playback", slog.String("turn_id", t.id), slog.Any("error", err))
		o.startSpeaking(t)
		o.stopSpeaking(t)
		return false
	}

	select {
	case <-t.spoken:
	case <-ctx.Done():
		o.player.Stop()
		<-t.spoken
	}

	if queued := t.queued.Load(); queued >= 0 {
		return queued > 0
	}
	return len(locators) > 0
}

// finishTurn returns the controller to listening and lets the recognizer
// take input again.
func (o *Orchestrator) finishTurn(ctx context.Context, t *turn, outcome events.TurnOutcome) {
	o.emit(t.summary(outcome))

	o.mu.Lock()
	if o.activeTurn == t {
		o.activeTurn = nil
	}
	closed := o.closed
	var transition stateTransition
	if !closed {
		transition = o.transitionLocked(StateListening)
	}
	o.mu.Unlock()
	o.emitTransition(ctx, transition)

	if closed {
		return
	}
	if err := o.recognizer.Resume(ctx); err != nil {
		recordedErr := fmt.Errorf("failed to resume recognizer: %w", err)
		span := trace.SpanFromContext(ctx)
		span.RecordError(recordedErr)
		span.SetStatus(codes.Error, recordedErr.Error())
		logger.WarnContext(ctx, "failed to resume recognizer", slog.Any("error", err))
	}
}

func (o *Orchestrator) currentTurn() *turn {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.activeTurn
}

func (o *Orchestrator) startSpeaking(t *turn) {
	t.startOnce.Do(func() {
		o.emit(events.NewAssistantPlaybackStarted(t.id))
	})
}

func (o *Orchestrator) stopSpeaking(t *turn) {
	t.startOnce.Do(func() {
		o.emit(events.NewAssistantPlaybackStarted(t.id))
	})
	t.stopOnce.Do(func() {
		o.emit(events.NewAssistantPlaybackEnded(t.id))
		close(t.spoken)
	})
}

func (o *Orchestrator) onStartSpeaking() {
	if t := o.currentTurn(); t != nil {
		o.startSpeaking(t)
	}
}

func (o *Orchestrator) onStopSpeaking() {
	if t := o.currentTurn(); t != nil {
		o.stopSpeaking(t)
	}
}

// onTrackEnded ends the cycle after the last track so each response is
// spoken once.
func (o *Orchestrator) onTrackEnded(index, total int) {
	if index == total-1 && o.player != nil {
		o.player.Stop()
	}
}

func (o *Orchestrator) onQueueReady(total, dropped int) {
	t := o.currentTurn()
	if t == nil {
		return
	}
	t.queued.Store(int32(total))
	o.emit(events.NewAssistantPlaybackQueueReady(t.id, total, dropped))
}
