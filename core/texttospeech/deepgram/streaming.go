package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
)

const (
	messageTypeSpeak   = "Speak"
	messageTypeFlush   = "Flush"
	messageTypeFlushed = "Flushed"
	messageTypeClose   = "Close"
)

type speakMessage struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

func (s *Synthesizer) connectWebsocket(ctx context.Context) (*websocket.Conn, error) {
	speakURL, err := url.Parse(s.speakURL)
	if err != nil {
		return nil, fmt.Errorf("invalid speak url: %w", err)
	}

	query := speakURL.Query()
	query.Set("model", s.voice)
	query.Set("encoding", string(s.encoding.Format))
	query.Set("sample_rate", strconv.Itoa(s.encoding.SampleRate))
	speakURL.RawQuery = query.Encode()

	conn, _, err := s.dialer.DialContext(ctx, speakURL.String(), http.Header{"Authorization": {"token " + s.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}
	return conn, nil
}

// synthesize sends every sentence followed by a flush and collects the audio
// between flushes, so each sentence becomes its own segment. Segments
// collected before a failure are returned with the error.
func (s *Synthesizer) synthesize(ctx context.Context, sentences []string) ([][]byte, error) {
	conn, err := s.connectWebsocket(ctx)
	if err != nil {
		return nil, err
	}

	var closeOnce sync.Once
	closeConn := func() { closeOnce.Do(func() { _ = conn.Close() }) }
	defer closeConn()

	stop := context.AfterFunc(ctx, closeConn)
	defer stop()

	for _, sentence := range sentences {
		if err := conn.WriteJSON(speakMessage{Type: messageTypeSpeak, Text: sentence}); err != nil {
			return nil, fmt.Errorf("failed to send text: %w", err)
		}
		if err := conn.WriteJSON(speakMessage{Type: messageTypeFlush}); err != nil {
			return nil, fmt.Errorf("failed to flush text: %w", err)
		}
	}

	segments := make([][]byte, 0, len(sentences))
	var current []byte
	for len(segments) < len(sentences) {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nonEmpty(segments), ctx.Err()
			}
			return nonEmpty(segments), fmt.Errorf("failed to read speech: %w", err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			current = append(current, msg...)
		case websocket.TextMessage:
			var parsed struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(msg, &parsed); err != nil {
				continue
			}
			if parsed.Type == messageTypeFlushed {
				segments = append(segments, current)
				current = nil
			}
		}
	}

	_ = conn.WriteJSON(speakMessage{Type: messageTypeClose})

	return nonEmpty(segments), nil
}

func nonEmpty(segments [][]byte) [][]byte {
	out := make([][]byte, 0, len(segments))
	for _, segment := range segments {
		if len(segment) > 0 {
			out = append(out, segment)
		}
	}
	return out
}
