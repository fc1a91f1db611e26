// Package recognition defines the speech recognition results consumed by the
// turn controller and the recognizer adapters that produce them.
package recognition

import (
	"encoding/json"
	"fmt"
	"strings"
)

type Phrase struct {
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

type Result struct {
	IsPartial bool     `json:"is_partial"`
	Phrases   []Phrase `json:"phrases"`
}

// IsActionable reports whether the result can start a turn: it must be final
// and carry at least one phrase.
func (r Result) IsActionable() bool {
	return !r.IsPartial && len(r.Phrases) > 0
}

// Text returns the best phrase, which is always the first one.
func (r Result) Text() string {
	if len(r.Phrases) == 0 {
		return ""
	}
	return r.Phrases[0].Text
}

func NewFinal(text string, confidence float64) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}
	}
	return Result{Phrases: []Phrase{{Text: text, Confidence: confidence}}}
}

func NewPartial(text string) Result {
	text = strings.TrimSpace(text)
	if text == "" {
		return Result{IsPartial: true}
	}
	return Result{IsPartial: true, Phrases: []Phrase{{Text: text}}}
}

type voskResult struct {
	Alternatives []Phrase `json:"alternatives"`
	Text         *string  `json:"text"`
	Partial      *string  `json:"partial"`
}

// ParseVoskResult accepts the three shapes a Vosk recognizer emits: a final
// result with alternatives, a final result with plain text, and a partial
// result. Blank phrases are dropped.
func ParseVoskResult(data []byte) (Result, error) {
	var raw voskResult
	if err := json.Unmarshal(data, &raw); err != nil {
		return Result{}, fmt.Errorf("failed to unmarshal vosk result: %w", err)
	}

	switch {
	case raw.Alternatives != nil:
		phrases := make([]Phrase, 0, len(raw.Alternatives))
		for _, alternative := range raw.Alternatives {
			if text := strings.TrimSpace(alternative.Text); text != "" {
				phrases = append(phrases, Phrase{Text: text, Confidence: alternative.Confidence})
			}
		}
		return Result{Phrases: phrases}, nil

	case raw.Text != nil:
		return NewFinal(*raw.Text, 1), nil

	case raw.Partial != nil:
		return NewPartial(*raw.Partial), nil
	}

	return Result{}, fmt.Errorf("unrecognized vosk result")
}
