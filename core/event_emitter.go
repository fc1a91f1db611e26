package orchestration

import "github.com/koscakluka/ema-relay/core/events"

type eventEmitter func(events.Event)

func noopEventEmitter(events.Event) {}

func newCallbackEventEmitter(opts OrchestrateOptions) eventEmitter {
	return func(event events.Event) {
		switch typedEvent := event.(type) {
		case events.AssistantPlaybackStarted:
			if opts.onStartSpeaking != nil {
				opts.onStartSpeaking()
			}
		case events.AssistantPlaybackEnded:
			if opts.onStopSpeaking != nil {
				opts.onStopSpeaking()
			}
		case events.TurnStateChanged:
			if opts.onStateChanged != nil {
				opts.onStateChanged(parseTurnState(typedEvent.From), parseTurnState(typedEvent.To))
			}
		}

		if opts.onEvent != nil {
			opts.onEvent(event)
		}
	}
}

func parseTurnState(name string) TurnState {
	for state := StateIdle; state <= StateSpeaking; state++ {
		if state.String() == name {
			return state
		}
	}
	return StateIdle
}

// emit fans an event out to the construction-time listeners and the
// callbacks passed to Orchestrate.
func (o *Orchestrator) emit(event events.Event) {
	o.mu.Lock()
	emitter := o.emitter
	o.mu.Unlock()

	for _, listener := range o.listeners {
		listener(event)
	}
	emitter(event)
}
