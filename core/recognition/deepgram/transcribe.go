package deepgram

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/pkg/api/listen/v1/websocket/interfaces"
	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/audio"
	"github.com/koscakluka/ema-relay/core/recognition"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const keepAliveInterval = 5 * time.Second

// Listen opens the Deepgram socket and starts streaming audio from the
// configured source. Results are delivered to onResult in arrival order from
// a single goroutine. Listen returns once the socket is open.
func (r *Recognizer) Listen(ctx context.Context, onResult func(recognition.Result)) error {
	ctx, span := tracer.Start(ctx, "listen")
	defer span.End()

	encodingInfo := audio.GetDefaultEncodingInfo()
	if r.source != nil {
		encodingInfo = r.source.EncodingInfo()
	}

	encoding, err := convertEncoding(encodingInfo)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("invalid encoding: %w", err)
	}

	conn, err := r.connectWebsocket(ctx, *encoding)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("failed to open websocket: %w", err)
	}

	r.connMu.Lock()
	r.conn = conn
	r.lastMsgTs = time.Now()
	r.connMu.Unlock()

	if onResult == nil {
		onResult = func(recognition.Result) {}
	}

	go r.readAndProcessMessages(ctx, conn, onResult)
	go r.keepAlive(ctx)

	if r.source != nil {
		go func() {
			if err := r.source.Stream(ctx, r.forwardAudio); err != nil {
				recordedErr := fmt.Errorf("audio source stopped: %w", err)
				span := trace.SpanFromContext(ctx)
				span.RecordError(recordedErr)
				span.SetStatus(codes.Error, recordedErr.Error())
				logger.ErrorContext(ctx, "audio source stopped", slog.Any("error", err))
			}
		}()
	}

	return nil
}

func (r *Recognizer) connectWebsocket(ctx context.Context, encoding encodingInfo) (*websocket.Conn, error) {
	listenUrl, err := url.Parse(r.listenURL)
	if err != nil {
		return nil, fmt.Errorf("invalid listen url: %w", err)
	}
	queryParams := listenUrl.Query()
	queryParams.Set("encoding", encoding.Format.Name())
	queryParams.Set("sample_rate", strconv.Itoa(encoding.SampleRate))
	queryParams.Set("channels", strconv.Itoa(encoding.Channels))
	queryParams.Set("model", r.model)
	queryParams.Set("language", r.language)
	queryParams.Set("smart_format", "true")
	queryParams.Set("interim_results", "true")
	queryParams.Set("utterance_end_ms", "1000")
	queryParams.Set("endpointing", "300")
	queryParams.Set("vad_events", "true")
	listenUrl.RawQuery = queryParams.Encode()

	conn, _, err := r.dialer.DialContext(ctx, listenUrl.String(),
		http.Header{"Authorization": {"Token " + r.apiKey}})
	if err != nil {
		return nil, fmt.Errorf("failed to open socket connection to deepgram: %w", err)
	}

	return conn, nil
}

func (r *Recognizer) forwardAudio(audio []byte) {
	if r.paused.Load() {
		return
	}
	if err := r.SendAudio(audio); err != nil {
		logger.Warn("failed to forward audio", slog.Any("error", err))
	}
}

func (r *Recognizer) SendAudio(audio []byte) error {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.conn == nil {
		return fmt.Errorf("deepgram connection not open")
	}

	r.lastMsgTs = time.Now()
	if err := r.conn.WriteMessage(websocket.BinaryMessage, audio); err != nil {
		return fmt.Errorf("failed to write to deepgram client: %w", err)
	}
	return nil
}

func (r *Recognizer) sendKeepAlive() {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.conn == nil {
		return
	}
	r.lastMsgTs = time.Now()
	if err := r.conn.WriteJSON(
		struct {
			Type string `json:"type"`
		}{
			Type: "KeepAlive",
		}); err != nil {
		logger.Warn("failed to write keep alive to deepgram", slog.Any("error", err))
	}
}

func (r *Recognizer) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(keepAliveInterval / 5)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.connMu.Lock()
			idle := time.Since(r.lastMsgTs)
			r.connMu.Unlock()
			if idle >= keepAliveInterval {
				r.sendKeepAlive()
			}
		}
	}
}

// Close asks Deepgram to flush and closes the socket.
func (r *Recognizer) Close() error {
	r.connMu.Lock()
	defer r.connMu.Unlock()

	if r.conn == nil {
		return nil
	}
	if err := r.conn.WriteJSON(struct {
		Type string `json:"type"`
	}{Type: string(api.TypeCloseStreamResponse)}); err != nil {
		return fmt.Errorf("failed to close deepgram stream: %w", err)
	}
	err := r.conn.Close()
	r.conn = nil
	return err
}

func (r *Recognizer) readAndProcessMessages(ctx context.Context, conn *websocket.Conn, onResult func(recognition.Result)) {
	go func() {
		<-ctx.Done()
		_ = r.Close()
	}()

	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) && ctx.Err() == nil {
				logger.ErrorContext(ctx, "failed to read deepgram websocket message", slog.Any("error", err))
			}

			r.connMu.Lock()
			if r.conn == conn {
				r.conn = nil
			}
			r.connMu.Unlock()
			conn.Close()
			return
		}
		if msgType != websocket.BinaryMessage {
			r.processMessage(msg, onResult)
		}
	}
}

func (r *Recognizer) processMessage(msg []byte, onResult func(recognition.Result)) {
	var parsedMsg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(msg, &parsedMsg); err != nil {
		logger.Warn("failed to unmarshal deepgram message", slog.Any("error", err))
		return
	}

	switch api.TypeResponse(parsedMsg.Type) {
	case api.TypeMessageResponse:
		var msgResp api.MessageResponse
		if err := json.Unmarshal(msg, &msgResp); err != nil {
			logger.Warn("failed to unmarshal deepgram message", slog.Any("error", err))
			return
		}
		if r.paused.Load() {
			return
		}

		transcript, confidence := "", 0.0
		if len(msgResp.Channel.Alternatives) > 0 {
			transcript = strings.TrimSpace(msgResp.Channel.Alternatives[0].Transcript)
			confidence = msgResp.Channel.Alternatives[0].Confidence
		}

		if !msgResp.IsFinal {
			if transcript != "" {
				onResult(recognition.NewPartial(r.interim(transcript)))
			}
			return
		}

		r.transcriptMu.Lock()
		if transcript != "" {
			r.accumulated = append(r.accumulated, transcript)
			r.confidences = append(r.confidences, confidence)
			r.unendedSegment = true
		}
		r.transcriptMu.Unlock()

		if msgResp.SpeechFinal {
			r.onSpeechEnded(onResult)
		}

	case api.TypeUtteranceEndResponse:
		r.transcriptMu.Lock()
		unended := r.unendedSegment
		r.transcriptMu.Unlock()
		if unended {
			r.onSpeechEnded(onResult)
		}

	case api.TypeSpeechStartedResponse:
		r.transcriptMu.Lock()
		r.unendedSegment = true
		r.transcriptMu.Unlock()
	}
}

func (r *Recognizer) interim(transcript string) string {
	r.transcriptMu.Lock()
	defer r.transcriptMu.Unlock()
	return strings.Join(append(append([]string{}, r.accumulated...), transcript), " ")
}

func (r *Recognizer) onSpeechEnded(onResult func(recognition.Result)) {
	r.transcriptMu.Lock()
	fullTranscript := strings.TrimSpace(strings.Join(r.accumulated, " "))
	confidence := average(r.confidences)
	r.resetTranscriptLocked()
	r.transcriptMu.Unlock()

	if fullTranscript == "" {
		return
	}
	onResult(recognition.NewFinal(fullTranscript, confidence))
}

func average(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	var sum float64
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}
