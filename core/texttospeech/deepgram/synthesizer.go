// Package deepgram synthesizes assistant speech with Deepgram's streaming
// speak API. It stands in for the backend speech service when responses
// carry no audio.
package deepgram

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/assistant"
	"github.com/koscakluka/ema-relay/core/audio"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultSpeakURL = "wss://api.deepgram.com/v1/speak"
	defaultVoice    = "aura-2-thalia-en"
)

type Synthesizer struct {
	apiKey   string
	voice    string
	speakURL string
	encoding audio.EncodingInfo
	dialer   *websocket.Dialer

	mu    sync.Mutex
	dir   string
	files []string
}

type Option func(*Synthesizer)

func WithAPIKey(apiKey string) Option {
	return func(s *Synthesizer) { s.apiKey = apiKey }
}

func WithVoice(voice string) Option {
	return func(s *Synthesizer) {
		if voice != "" {
			s.voice = voice
		}
	}
}

func WithSpeakURL(speakURL string) Option {
	return func(s *Synthesizer) { s.speakURL = speakURL }
}

// WithEncodingInfo sets the linear16 shape of the synthesized audio.
func WithEncodingInfo(encoding audio.EncodingInfo) Option {
	return func(s *Synthesizer) {
		if encoding.SampleRate > 0 && encoding.Format == audio.EncodingLinear16 {
			s.encoding = encoding
		}
	}
}

func NewSynthesizer(opts ...Option) (*Synthesizer, error) {
	s := &Synthesizer{
		voice:    defaultVoice,
		speakURL: defaultSpeakURL,
		encoding: audio.GetDefaultEncodingInfo(),
		dialer:   websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		s.apiKey = apiKey
	}

	dir, err := os.MkdirTemp("", "ema-relay-speech-")
	if err != nil {
		return nil, fmt.Errorf("failed to create speech directory: %w", err)
	}
	s.dir = dir

	return s, nil
}

// Resolve returns the response's own segments when it has any. Otherwise it
// synthesizes one WAV segment per sentence of the output speech and returns
// their file:// locators. Segments from the previous call are removed.
func (s *Synthesizer) Resolve(ctx context.Context, response assistant.Response) ([]string, error) {
	if len(response.Segments) > 0 {
		return response.Segments, nil
	}

	sentences := splitSentences(response.OutputSpeech)
	if len(sentences) == 0 {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "synthesize speech")
	defer span.End()
	span.SetAttributes(attribute.Int("speech.sentences", len(sentences)))

	s.removeFiles()

	segments, err := s.synthesize(ctx, sentences)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		if len(segments) == 0 {
			return nil, err
		}
		logger.WarnContext(ctx, "speech synthesis ended early",
			slog.Any("error", err),
			slog.Int("segments", len(segments)))
	}

	locators := make([]string, 0, len(segments))
	for i, data := range segments {
		path := filepath.Join(s.dir, "segment-"+strconv.Itoa(i)+".wav")
		if err := s.writeSegment(path, data); err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		locators = append(locators, (&url.URL{Scheme: "file", Path: path}).String())
	}
	return locators, nil
}

func (s *Synthesizer) writeSegment(path string, data []byte) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create segment file: %w", err)
	}
	defer file.Close()

	if err := audio.WriteWAVTo(file, audio.Clip{Locator: path, Data: data, Encoding: s.encoding}); err != nil {
		return fmt.Errorf("failed to write segment: %w", err)
	}

	s.mu.Lock()
	s.files = append(s.files, path)
	s.mu.Unlock()
	return nil
}

func (s *Synthesizer) removeFiles() {
	s.mu.Lock()
	files := s.files
	s.files = nil
	s.mu.Unlock()

	for _, file := range files {
		_ = os.Remove(file)
	}
}

// Close removes every synthesized segment.
func (s *Synthesizer) Close() error {
	s.removeFiles()
	if s.dir == "" {
		return nil
	}
	return os.RemoveAll(s.dir)
}

// splitSentences breaks text after sentence punctuation that is followed by
// whitespace or the end of text, so each sentence becomes its own segment.
func splitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		if sentence := strings.TrimSpace(current.String()); sentence != "" {
			sentences = append(sentences, sentence)
		}
		current.Reset()
	}

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' {
			if i+1 == len(runes) || unicode.IsSpace(runes[i+1]) {
				flush()
			}
		}
	}
	flush()
	return sentences
}
