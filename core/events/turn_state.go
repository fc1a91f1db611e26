package events

import "time"

const (
	// KindTurnStateChanged identifies controller state transitions.
	KindTurnStateChanged Kind = "turn_state.changed"
	// KindTurnStarted identifies acceptance of a new turn.
	KindTurnStarted Kind = "turn_state.started"
	// KindTurnCompleted identifies the end of a turn.
	KindTurnCompleted Kind = "turn_state.completed"
)

type TurnStateChanged struct {
	Base
	From string
	To   string
}

func NewTurnStateChanged(from, to string) TurnStateChanged {
	return TurnStateChanged{Base: NewBase(KindTurnStateChanged), From: from, To: to}
}

type TurnStarted struct {
	Base
	TurnID    string
	SessionID string
	Input     string
}

func NewTurnStarted(turnID, sessionID, input string) TurnStarted {
	return TurnStarted{Base: NewBase(KindTurnStarted), TurnID: turnID, SessionID: sessionID, Input: input}
}

// TurnOutcome summarizes how a turn ended.
type TurnOutcome string

const (
	TurnOutcomeSpoken  TurnOutcome = "spoken"
	// TurnOutcomeSilent covers responses without speech and responses whose
	// audio segments could not be resolved or fetched.
	TurnOutcomeSilent  TurnOutcome = "silent"
	TurnOutcomeFailed  TurnOutcome = "failed"
	TurnOutcomeAborted TurnOutcome = "aborted"
)

type TurnCompleted struct {
	Base
	TurnID       string
	SessionID    string
	UserID       string
	Input        string
	Effects      []string
	OutputSpeech string
	Outcome      TurnOutcome
	StartedAt    time.Time
}

func (t TurnCompleted) Duration() time.Duration {
	return t.Timestamp().Sub(t.StartedAt)
}

func NewTurnCompleted(summary TurnCompleted) TurnCompleted {
	summary.Base = NewBase(KindTurnCompleted)
	return summary
}
