// Package config loads the relay configuration from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	AudioBackendMiniaudio = "miniaudio"
	AudioBackendPortaudio = "portaudio"
	AudioBackendNone      = "none"

	RecognizerDeepgram = "deepgram"
	RecognizerHTTP     = "http"

	SpeechBackendAssistant = "assistant"
	SpeechBackendDeepgram  = "deepgram"
)

type Config struct {
	Assistant struct {
		URL        string
		AppID      string
		AppKey     string
		Locale     string
		Channel    string
		DeviceName string
		UserName   string
	}
	Speech struct {
		Backend string
		URL     string
		Voice   string
	}
	Timing struct {
		RequestTimeout time.Duration
		PlaybackTick   time.Duration
	}
	// FetchLimit caps concurrent segment downloads per response. Zero means
	// no limit.
	FetchLimit   int
	AudioBackend string
	Recognizer   string
	Deepgram     struct {
		APIKey string
		Model  string
	}
	Server struct {
		Addr             string
		AllowAnyOrigin   bool
		MetricsNamespace string
	}
	DatabaseURL       string
	ResetOnEndSession bool
}

// Load reads envFiles into the process environment, without overriding
// variables that are already set, and then builds the Config. Missing env
// files are skipped.
func Load(envFiles ...string) (Config, error) {
	for _, file := range envFiles {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("failed to load %s: %w", file, err)
		}
	}

	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("assistant.locale", "en-US")
	v.SetDefault("assistant.device_name", "ema-relay")
	v.SetDefault("timing.request_timeout", "30s")
	v.SetDefault("timing.playback_tick", "20ms")
	v.SetDefault("audio_backend", AudioBackendMiniaudio)
	v.SetDefault("recognizer", RecognizerDeepgram)
	v.SetDefault("speech.backend", SpeechBackendAssistant)
	v.SetDefault("deepgram.model", "nova-3")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.metrics_namespace", "ema_relay")

	bindings := map[string]string{
		"assistant.url":            "ASSISTANT_URL",
		"assistant.app_id":         "ASSISTANT_APP_ID",
		"assistant.app_key":        "ASSISTANT_APP_KEY",
		"assistant.locale":         "ASSISTANT_LOCALE",
		"assistant.channel":        "ASSISTANT_CHANNEL",
		"assistant.device_name":    "DEVICE_NAME",
		"assistant.user_name":      "USER_NAME",
		"speech.backend":           "SPEECH_BACKEND",
		"speech.url":               "SPEECH_URL",
		"speech.voice":             "SPEECH_VOICE",
		"timing.request_timeout":   "REQUEST_TIMEOUT",
		"timing.playback_tick":     "PLAYBACK_TICK",
		"fetch_limit":              "FETCH_LIMIT",
		"audio_backend":            "AUDIO_BACKEND",
		"recognizer":               "RECOGNIZER",
		"deepgram.api_key":         "DEEPGRAM_API_KEY",
		"deepgram.model":           "DEEPGRAM_MODEL",
		"server.addr":              "HTTP_ADDR",
		"server.allow_any_origin":  "ALLOW_ANY_ORIGIN",
		"server.metrics_namespace": "METRICS_NAMESPACE",
		"database_url":             "DATABASE_URL",
		"reset_on_end_session":     "RESET_ON_END_SESSION",
	}
	for key, env := range bindings {
		if err := v.BindEnv(key, env); err != nil {
			return Config{}, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	var c Config
	c.Assistant.URL = v.GetString("assistant.url")
	c.Assistant.AppID = v.GetString("assistant.app_id")
	c.Assistant.AppKey = v.GetString("assistant.app_key")
	c.Assistant.Locale = v.GetString("assistant.locale")
	c.Assistant.Channel = v.GetString("assistant.channel")
	c.Assistant.DeviceName = v.GetString("assistant.device_name")
	c.Assistant.UserName = v.GetString("assistant.user_name")

	c.Speech.Backend = strings.ToLower(v.GetString("speech.backend"))
	c.Speech.URL = v.GetString("speech.url")
	c.Speech.Voice = v.GetString("speech.voice")

	c.Timing.RequestTimeout = v.GetDuration("timing.request_timeout")
	c.Timing.PlaybackTick = v.GetDuration("timing.playback_tick")

	c.FetchLimit = v.GetInt("fetch_limit")

	c.AudioBackend = strings.ToLower(v.GetString("audio_backend"))
	c.Recognizer = strings.ToLower(v.GetString("recognizer"))
	c.Deepgram.APIKey = v.GetString("deepgram.api_key")
	c.Deepgram.Model = v.GetString("deepgram.model")

	c.Server.Addr = v.GetString("server.addr")
	c.Server.AllowAnyOrigin = v.GetBool("server.allow_any_origin")
	c.Server.MetricsNamespace = v.GetString("server.metrics_namespace")

	c.DatabaseURL = v.GetString("database_url")
	c.ResetOnEndSession = v.GetBool("reset_on_end_session")

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func (c Config) Validate() error {
	var errs []error
	if c.Assistant.URL == "" {
		errs = append(errs, errors.New("ASSISTANT_URL is required"))
	}
	switch c.AudioBackend {
	case AudioBackendMiniaudio, AudioBackendPortaudio, AudioBackendNone:
	default:
		errs = append(errs, fmt.Errorf("unknown AUDIO_BACKEND %q", c.AudioBackend))
	}
	switch c.Recognizer {
	case RecognizerDeepgram:
		if c.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required for the deepgram recognizer"))
		}
		if c.AudioBackend == AudioBackendNone {
			errs = append(errs, errors.New("the deepgram recognizer needs an audio backend"))
		}
	case RecognizerHTTP:
	default:
		errs = append(errs, fmt.Errorf("unknown RECOGNIZER %q", c.Recognizer))
	}
	switch c.Speech.Backend {
	case SpeechBackendAssistant:
	case SpeechBackendDeepgram:
		if c.Deepgram.APIKey == "" {
			errs = append(errs, errors.New("DEEPGRAM_API_KEY is required for deepgram speech"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown SPEECH_BACKEND %q", c.Speech.Backend))
	}
	if c.Timing.RequestTimeout <= 0 {
		errs = append(errs, errors.New("REQUEST_TIMEOUT must be positive"))
	}
	if c.Timing.PlaybackTick <= 0 {
		errs = append(errs, errors.New("PLAYBACK_TICK must be positive"))
	}
	if c.FetchLimit < 0 {
		errs = append(errs, errors.New("FETCH_LIMIT must not be negative"))
	}
	return errors.Join(errs...)
}
