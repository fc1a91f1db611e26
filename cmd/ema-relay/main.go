package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	orchestration "github.com/koscakluka/ema-relay/core"
	"github.com/koscakluka/ema-relay/core/assistant"
	"github.com/koscakluka/ema-relay/core/audio/miniaudio"
	"github.com/koscakluka/ema-relay/core/audio/portaudio"
	"github.com/koscakluka/ema-relay/core/effects"
	"github.com/koscakluka/ema-relay/core/playback"
	"github.com/koscakluka/ema-relay/core/recognition/deepgram"
	"github.com/koscakluka/ema-relay/core/session"
	deepgramtts "github.com/koscakluka/ema-relay/core/texttospeech/deepgram"
	"github.com/koscakluka/ema-relay/internal/config"
	"github.com/koscakluka/ema-relay/internal/display"
	"github.com/koscakluka/ema-relay/internal/httpapi"
	"github.com/koscakluka/ema-relay/internal/journal"
	"github.com/koscakluka/ema-relay/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const portaudioFramesPerBuffer = 1024

type audioBackend interface {
	playback.Device
	deepgram.AudioSource
	Close() error
}

type displays []orchestration.DisplaySink

func (d displays) Display(ctx context.Context, text string) {
	for _, sink := range d {
		sink.Display(ctx, text)
	}
}

func main() {
	envFile := flag.String("env", ".env", "optional env file to load before reading the environment")
	printRequestSchema := flag.Bool("print-request-schema", false, "print the assistant request JSON schema and exit")
	printResponseSchema := flag.Bool("print-response-schema", false, "print the assistant response JSON schema and exit")
	flag.Parse()

	if *printRequestSchema || *printResponseSchema {
		schema := assistant.RequestSchema()
		if *printResponseSchema {
			schema = assistant.ResponseSchema()
		}
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(schema); err != nil {
			log.Fatalf("failed to encode schema: %v", err)
		}
		return
	}

	cfg, err := config.Load(*envFile)
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		log.Fatalf("ema-relay: %v", err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	httpClient := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   cfg.Timing.RequestTimeout,
	}

	assistantClient, err := assistant.NewClient(assistant.Config{
		URL:        cfg.Assistant.URL,
		AppID:      cfg.Assistant.AppID,
		AppKey:     cfg.Assistant.AppKey,
		Locale:     cfg.Assistant.Locale,
		Channel:    cfg.Assistant.Channel,
		DeviceName: cfg.Assistant.DeviceName,
		UserName:   cfg.Assistant.UserName,
		HTTPClient: httpClient,
	})
	if err != nil {
		return fmt.Errorf("failed to create assistant client: %w", err)
	}
	var resolver orchestration.SegmentResolver = assistant.NewSpeechClient(assistant.SpeechConfig{
		URL:        cfg.Speech.URL,
		AppID:      cfg.Assistant.AppID,
		AppKey:     cfg.Assistant.AppKey,
		Locale:     cfg.Assistant.Locale,
		Voice:      cfg.Speech.Voice,
		HTTPClient: httpClient,
	})
	if cfg.Speech.Backend == config.SpeechBackendDeepgram {
		synthesizer, err := deepgramtts.NewSynthesizer(
			deepgramtts.WithAPIKey(cfg.Deepgram.APIKey),
			deepgramtts.WithVoice(cfg.Speech.Voice),
		)
		if err != nil {
			return fmt.Errorf("failed to create speech synthesizer: %w", err)
		}
		defer synthesizer.Close()
		resolver = synthesizer
	}

	backend, err := openAudioBackend(cfg.AudioBackend)
	if err != nil {
		return err
	}
	fetcherOpts := []playback.FetcherOption{playback.WithHTTPClient(httpClient)}
	var device playback.Device = playback.NewTimedDevice()
	if backend != nil {
		device = backend
		fetcherOpts = append(fetcherOpts, playback.WithTargetEncoding(backend.EncodingInfo()))
		defer func() {
			if err := backend.Close(); err != nil {
				log.Printf("failed to close audio backend: %v", err)
			}
		}()
	}

	fetcher := playback.NewHTTPFetcher(fetcherOpts...)
	engine := playback.NewEngine(fetcher, device,
		playback.WithTick(cfg.Timing.PlaybackTick),
		playback.WithFetchLimit(cfg.FetchLimit),
	)

	store, err := journal.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open turn journal: %w", err)
	}
	defer store.Close()
	recorder := journal.NewRecorder(store)

	metrics := observability.NewMetrics(cfg.Server.MetricsNamespace)
	hub := httpapi.NewHub()
	console := display.NewConsole(os.Stdout)
	sessions := session.New()

	opts := []orchestration.OrchestratorOption{
		orchestration.WithAssistant(assistantClient),
		orchestration.WithSegmentResolver(resolver),
		orchestration.WithPlayer(engine),
		orchestration.WithSession(sessions),
		orchestration.WithEffectSink(effects.MultiSink{console, hub}),
		orchestration.WithDisplaySink(displays{console, hub}),
		orchestration.WithResetOnEndSession(cfg.ResetOnEndSession),
		orchestration.WithEventListener(metrics.Observe),
		orchestration.WithEventListener(recorder.Observe),
		orchestration.WithEventListener(hub.Observe),
	}

	if cfg.Recognizer == config.RecognizerDeepgram {
		recognizer, err := deepgram.New(
			deepgram.WithAPIKey(cfg.Deepgram.APIKey),
			deepgram.WithModel(cfg.Deepgram.Model),
			deepgram.WithLanguage(cfg.Assistant.Locale),
			deepgram.WithAudioSource(backend),
		)
		if err != nil {
			return fmt.Errorf("failed to create recognizer: %w", err)
		}
		opts = append(opts, orchestration.WithRecognizer(recognizer))
	}

	orchestrator := orchestration.NewOrchestrator(opts...)
	if err := orchestrator.Orchestrate(ctx); err != nil {
		return fmt.Errorf("failed to start orchestrator: %w", err)
	}

	api := httpapi.New(orchestrator,
		httpapi.WithHub(hub),
		httpapi.WithJournal(store),
		httpapi.WithMetricsHandler(metrics.Handler()),
		httpapi.WithAllowAnyOrigin(cfg.Server.AllowAnyOrigin),
	)
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Printf("ema-relay listening on %s (session %s)", cfg.Server.Addr, orchestrator.Session().SessionID)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutdown signal received; stopping...")
	case err := <-serveErr:
		if err != nil {
			orchestrator.Close()
			recorder.Close()
			return fmt.Errorf("http server failed: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	orchestrator.Close()
	recorder.Close()
	return nil
}

func openAudioBackend(name string) (audioBackend, error) {
	switch name {
	case config.AudioBackendMiniaudio:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, fmt.Errorf("failed to open miniaudio backend: %w", err)
		}
		return client, nil
	case config.AudioBackendPortaudio:
		client, err := portaudio.NewClient(portaudioFramesPerBuffer)
		if err != nil {
			return nil, fmt.Errorf("failed to open portaudio backend: %w", err)
		}
		return client, nil
	}
	return nil, nil
}
