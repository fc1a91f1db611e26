package deepgram

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/koscakluka/ema-relay/core/audio"
)

const defaultListenURL = "wss://api.deepgram.com/v1/listen"

// AudioSource pushes captured microphone audio to onAudio until ctx ends.
type AudioSource interface {
	Stream(ctx context.Context, onAudio func(audio []byte)) error
	EncodingInfo() audio.EncodingInfo
}

// Recognizer streams microphone audio to Deepgram and reports transcripts as
// recognition results. While stopped, audio is discarded and the socket is
// kept alive so listening can resume without reconnecting.
type Recognizer struct {
	apiKey    string
	model     string
	language  string
	listenURL string
	source    AudioSource
	dialer    *websocket.Dialer

	conn      *websocket.Conn
	connMu    sync.Mutex
	lastMsgTs time.Time

	paused atomic.Bool

	transcriptMu   sync.Mutex
	accumulated    []string
	confidences    []float64
	unendedSegment bool
}

type Option func(*Recognizer)

func WithAPIKey(apiKey string) Option {
	return func(r *Recognizer) { r.apiKey = apiKey }
}

func WithModel(model string) Option {
	return func(r *Recognizer) { r.model = model }
}

func WithLanguage(language string) Option {
	return func(r *Recognizer) { r.language = language }
}

func WithListenURL(listenURL string) Option {
	return func(r *Recognizer) { r.listenURL = listenURL }
}

func WithAudioSource(source AudioSource) Option {
	return func(r *Recognizer) { r.source = source }
}

func New(opts ...Option) (*Recognizer, error) {
	r := &Recognizer{
		model:     "nova-3",
		language:  "en-US",
		listenURL: defaultListenURL,
		dialer:    websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.apiKey == "" {
		apiKey, ok := os.LookupEnv("DEEPGRAM_API_KEY")
		if !ok {
			return nil, fmt.Errorf("deepgram api key not found")
		}
		r.apiKey = apiKey
	}

	return r, nil
}

// Stop suspends recognition until Resume is called. Any partially
// accumulated transcript is discarded.
func (r *Recognizer) Stop() {
	r.paused.Store(true)

	r.transcriptMu.Lock()
	r.resetTranscriptLocked()
	r.transcriptMu.Unlock()
}

func (r *Recognizer) Resume(context.Context) error {
	r.paused.Store(false)
	return nil
}

func (r *Recognizer) Paused() bool { return r.paused.Load() }

func (r *Recognizer) resetTranscriptLocked() {
	r.accumulated = nil
	r.confidences = nil
	r.unendedSegment = false
}
