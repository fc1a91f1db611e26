package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html"
	"io"
	"net/http"
	"strings"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const DefaultSpeechURL = "https://assistant.voicify.com/api/ssml/tospeech/google"

type SpeechConfig struct {
	URL        string
	AppID      string
	AppKey     string
	Locale     string
	Voice      string
	HTTPClient *http.Client
}

// SpeechClient renders SSML into an ordered list of audio segment urls.
type SpeechClient struct {
	cfg        SpeechConfig
	httpClient *http.Client
}

func NewSpeechClient(cfg SpeechConfig) *SpeechClient {
	if cfg.URL == "" {
		cfg.URL = DefaultSpeechURL
	}
	if cfg.Locale == "" {
		cfg.Locale = DefaultLocale
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return &SpeechClient{cfg: cfg, httpClient: httpClient}
}

type ssmlRequest struct {
	ApplicationId     string           `json:"ApplicationId"`
	ApplicationSecret string           `json:"ApplicationSecret"`
	SsmlRequest       innerSsmlRequest `json:"SsmlRequest"`
}

type innerSsmlRequest struct {
	Ssml   string `json:"Ssml"`
	Locale string `json:"Locale"`
	Voice  string `json:"Voice,omitempty"`
}

type ssmlSegment struct {
	RootElementType string `json:"rootElementType"`
	Url             string `json:"url"`
}

// SpeechMarkup returns the SSML to render for a response, wrapping plain
// output speech when the backend sent none.
func SpeechMarkup(response Response) string {
	if ssml := strings.TrimSpace(response.Ssml); ssml != "" {
		return ssml
	}
	if response.OutputSpeech == "" {
		return ""
	}
	return "<speak>" + html.EscapeString(response.OutputSpeech) + "</speak>"
}

// Resolve returns the audio locators for response in playback order.
// Locators the backend already attached are used as they are.
func (c *SpeechClient) Resolve(ctx context.Context, response Response) ([]string, error) {
	if len(response.Segments) > 0 {
		return append([]string(nil), response.Segments...), nil
	}

	ssml := SpeechMarkup(response)
	if ssml == "" {
		return nil, nil
	}

	ctx, span := tracer.Start(ctx, "resolve speech segments")
	defer span.End()

	fail := func(err error) ([]string, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	requestBodyBytes, err := json.Marshal(ssmlRequest{
		ApplicationId:     c.cfg.AppID,
		ApplicationSecret: c.cfg.AppKey,
		SsmlRequest: innerSsmlRequest{
			Ssml:   ssml,
			Locale: c.cfg.Locale,
			Voice:  c.cfg.Voice,
		},
	})
	if err != nil {
		return fail(fmt.Errorf("error marshalling JSON: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return fail(&TransportError{Err: fmt.Errorf("error creating HTTP request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(&TransportError{Err: fmt.Errorf("error sending request: %w", err)})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fail(&TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("non-OK HTTP status: %s", resp.Status)})
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(&TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("error reading response body: %w", err)})
	}

	var segments []ssmlSegment
	if err := json.Unmarshal(body, &segments); err != nil {
		return fail(&ParseError{Err: err})
	}

	urls := make([]string, 0, len(segments))
	for _, segment := range segments {
		if segment.Url != "" {
			urls = append(urls, segment.Url)
		}
	}
	span.SetAttributes(attribute.Int("response.segments", len(urls)))
	return urls, nil
}
