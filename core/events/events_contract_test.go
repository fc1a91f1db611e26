package events

import (
	"errors"
	"testing"
	"time"
)

func TestConstructorsEmitExpectedKinds(t *testing.T) {
	testCases := []struct {
		name     string
		event    Event
		expected Kind
	}{
		{name: "recognition ignored", event: NewRecognitionIgnored("hel", true), expected: KindRecognitionIgnored},
		{name: "recognition dropped", event: NewRecognitionDropped("hello", "speaking"), expected: KindRecognitionDropped},
		{name: "turn state changed", event: NewTurnStateChanged("listening", "dispatching"), expected: KindTurnStateChanged},
		{name: "turn started", event: NewTurnStarted("t1", "s1", "hello"), expected: KindTurnStarted},
		{name: "turn completed", event: NewTurnCompleted(TurnCompleted{TurnID: "t1"}), expected: KindTurnCompleted},
		{name: "effect triggered", event: NewEffectTriggered("t1", "door"), expected: KindEffectTriggered},
		{name: "response received", event: NewAssistantResponseReceived("t1", "r1", "Okay", "", nil, false), expected: KindAssistantResponseReceived},
		{name: "response failed", event: NewAssistantResponseFailed("t1", errors.New("boom")), expected: KindAssistantResponseFailed},
		{name: "queue ready", event: NewAssistantPlaybackQueueReady("t1", 2, 1), expected: KindAssistantPlaybackQueueReady},
		{name: "playback started", event: NewAssistantPlaybackStarted("t1"), expected: KindAssistantPlaybackStarted},
		{name: "playback ended", event: NewAssistantPlaybackEnded("t1"), expected: KindAssistantPlaybackEnded},
		{name: "session reset", event: NewSessionReset("s1", "s2"), expected: KindSessionReset},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			if got := testCase.event.Kind(); got != testCase.expected {
				t.Fatalf("expected kind %q, got %q", testCase.expected, got)
			}
			if testCase.event.Timestamp().IsZero() {
				t.Fatalf("expected timestamp to be set")
			}
		})
	}
}

func TestPlaybackStartedAndEndedKindsAreDistinct(t *testing.T) {
	started := NewAssistantPlaybackStarted("t1")
	ended := NewAssistantPlaybackEnded("t1")

	if started.Kind() == ended.Kind() {
		t.Fatalf("expected playback started and ended kinds to differ, both were %q", started.Kind())
	}
}

func TestTurnCompletedDuration(t *testing.T) {
	completed := NewTurnCompleted(TurnCompleted{StartedAt: time.Now().Add(-time.Second)})
	if got := completed.Duration(); got < time.Second {
		t.Fatalf("expected at least 1s, got %s", got)
	}
}

func TestKindNamespace(t *testing.T) {
	if got := KindAssistantPlaybackEnded.Namespace(); got != "assistant_playback" {
		t.Fatalf("expected assistant_playback, got %q", got)
	}
	if got := Kind("effect").Namespace(); got != "effect" {
		t.Fatalf("expected effect, got %q", got)
	}
}
