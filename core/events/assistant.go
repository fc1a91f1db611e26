package events

const (
	// KindEffectTriggered identifies a keyword effect.
	KindEffectTriggered Kind = "effect.triggered"
	// KindAssistantResponseReceived identifies a backend reply.
	KindAssistantResponseReceived Kind = "assistant_response.received"
	// KindAssistantResponseFailed identifies a failed backend request.
	KindAssistantResponseFailed Kind = "assistant_response.failed"
	// KindAssistantPlaybackQueueReady identifies settled segment fetches.
	KindAssistantPlaybackQueueReady Kind = "assistant_playback.queue_ready"
	// KindAssistantPlaybackStarted identifies start-speaking.
	KindAssistantPlaybackStarted Kind = "assistant_playback.started"
	// KindAssistantPlaybackEnded identifies stop-speaking.
	KindAssistantPlaybackEnded Kind = "assistant_playback.ended"
	// KindSessionReset identifies regenerated session identifiers.
	KindSessionReset Kind = "session.reset"
)

type EffectTriggered struct {
	Base
	TurnID string
	Tag    string
}

func NewEffectTriggered(turnID, tag string) EffectTriggered {
	return EffectTriggered{Base: NewBase(KindEffectTriggered), TurnID: turnID, Tag: tag}
}

type AssistantResponseReceived struct {
	Base
	TurnID       string
	ResponseID   string
	OutputSpeech string
	DisplayText  string
	Hints        []string
	EndSession   bool
}

func NewAssistantResponseReceived(turnID, responseID, outputSpeech, displayText string, hints []string, endSession bool) AssistantResponseReceived {
	return AssistantResponseReceived{
		Base:         NewBase(KindAssistantResponseReceived),
		TurnID:       turnID,
		ResponseID:   responseID,
		OutputSpeech: outputSpeech,
		DisplayText:  displayText,
		Hints:        hints,
		EndSession:   endSession,
	}
}

type AssistantResponseFailed struct {
	Base
	TurnID string
	Err    error
}

func NewAssistantResponseFailed(turnID string, err error) AssistantResponseFailed {
	return AssistantResponseFailed{Base: NewBase(KindAssistantResponseFailed), TurnID: turnID, Err: err}
}

type AssistantPlaybackQueueReady struct {
	Base
	TurnID  string
	Total   int
	Dropped int
}

func NewAssistantPlaybackQueueReady(turnID string, total, dropped int) AssistantPlaybackQueueReady {
	return AssistantPlaybackQueueReady{Base: NewBase(KindAssistantPlaybackQueueReady), TurnID: turnID, Total: total, Dropped: dropped}
}

type AssistantPlaybackStarted struct {
	Base
	TurnID string
}

func NewAssistantPlaybackStarted(turnID string) AssistantPlaybackStarted {
	return AssistantPlaybackStarted{Base: NewBase(KindAssistantPlaybackStarted), TurnID: turnID}
}

type AssistantPlaybackEnded struct {
	Base
	TurnID string
}

func NewAssistantPlaybackEnded(turnID string) AssistantPlaybackEnded {
	return AssistantPlaybackEnded{Base: NewBase(KindAssistantPlaybackEnded), TurnID: turnID}
}

type SessionReset struct {
	Base
	PreviousSessionID string
	SessionID         string
}

func NewSessionReset(previousSessionID, sessionID string) SessionReset {
	return SessionReset{Base: NewBase(KindSessionReset), PreviousSessionID: previousSessionID, SessionID: sessionID}
}
