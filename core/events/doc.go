// Package events defines the typed orchestration event contract.
//
// Event kinds are grouped by receiver-facing namespaces:
//
//   - recognition.*
//   - turn_state.*
//   - effect.*
//   - assistant_response.*
//   - assistant_playback.*
//   - session.*
//
// recognition events
//
//   - RecognitionIgnored (recognition.ignored): a partial or empty result
//     that cannot start a turn.
//   - RecognitionDropped (recognition.dropped): an actionable result that
//     arrived while a turn was in flight or the controller was paused. It is
//     discarded, never queued.
//
// turn_state events
//
//   - TurnStateChanged (turn_state.changed): the controller moved between
//     states.
//   - TurnStarted (turn_state.started): a result was accepted as a turn.
//   - TurnCompleted (turn_state.completed): the turn ended and the controller
//     is listening again; carries the turn summary.
//
// effect events
//
//   - EffectTriggered (effect.triggered): a keyword effect fired for the
//     current turn.
//
// assistant_response events
//
//   - AssistantResponseReceived (assistant_response.received): the backend
//     answered.
//   - AssistantResponseFailed (assistant_response.failed): the request failed
//     and the turn has nothing to say.
//
// assistant_playback events
//
//   - AssistantPlaybackQueueReady (assistant_playback.queue_ready): segment
//     fetches settled.
//   - AssistantPlaybackStarted (assistant_playback.started): start-speaking.
//   - AssistantPlaybackEnded (assistant_playback.ended): stop-speaking.
//
// session events
//
//   - SessionReset (session.reset): all session identifiers were regenerated.
package events
