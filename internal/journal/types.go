// Package journal keeps a record of completed turns.
package journal

import (
	"slices"
	"time"

	"github.com/koscakluka/ema-relay/core/events"
)

type Record struct {
	TurnID       string    `json:"turn_id"`
	SessionID    string    `json:"session_id"`
	UserID       string    `json:"user_id"`
	Input        string    `json:"input"`
	Effects      []string  `json:"effects"`
	OutputSpeech string    `json:"output_speech"`
	Outcome      string    `json:"outcome"`
	StartedAt    time.Time `json:"started_at"`
	EndedAt      time.Time `json:"ended_at"`
}

func (r Record) Duration() time.Duration {
	return r.EndedAt.Sub(r.StartedAt)
}

func RecordFromEvent(event events.TurnCompleted) Record {
	effects := slices.Clone(event.Effects)
	if effects == nil {
		effects = []string{}
	}
	return Record{
		TurnID:       event.TurnID,
		SessionID:    event.SessionID,
		UserID:       event.UserID,
		Input:        event.Input,
		Effects:      effects,
		OutputSpeech: event.OutputSpeech,
		Outcome:      string(event.Outcome),
		StartedAt:    event.StartedAt.UTC(),
		EndedAt:      event.Timestamp().UTC(),
	}
}
