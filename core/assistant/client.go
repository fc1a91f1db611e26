package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/koscakluka/ema-relay/core/session"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	DefaultLocale     = "en-US"
	DefaultDeviceName = "ema-relay"
	DefaultUserName   = "ema-relay user"

	requestTypeIntent = "IntentRequest"
	maxResponseBytes  = 1 << 20
)

type Config struct {
	URL        string
	AppID      string
	AppKey     string
	Locale     string
	Channel    string
	DeviceName string
	UserName   string

	// HTTPClient defaults to an instrumented client without a timeout;
	// deadlines come from the request context.
	HTTPClient *http.Client
}

type Client struct {
	endpoint   string
	locale     string
	channel    string
	deviceName string
	userName   string
	httpClient *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("assistant url is required")
	}
	endpoint, err := withCredentials(cfg.URL, cfg.AppID, cfg.AppKey)
	if err != nil {
		return nil, err
	}

	c := &Client{
		endpoint:   endpoint,
		locale:     cfg.Locale,
		channel:    cfg.Channel,
		deviceName: cfg.DeviceName,
		userName:   cfg.UserName,
		httpClient: cfg.HTTPClient,
	}
	if c.locale == "" {
		c.locale = DefaultLocale
	}
	if c.deviceName == "" {
		c.deviceName = DefaultDeviceName
	}
	if c.channel == "" {
		c.channel = c.deviceName
	}
	if c.userName == "" {
		c.userName = DefaultUserName
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return c, nil
}

// withCredentials adds the application id and key as query parameters unless
// the configured url already carries them.
func withCredentials(rawURL, appID, appKey string) (string, error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("invalid assistant url: %w", err)
	}
	query := endpoint.Query()
	if appID != "" && query.Get("applicationId") == "" {
		query.Set("applicationId", appID)
	}
	if appKey != "" && query.Get("applicationSecret") == "" {
		query.Set("applicationSecret", appKey)
	}
	endpoint.RawQuery = query.Encode()
	return endpoint.String(), nil
}

// BuildRequest describes text as an intent request from the session's
// device and user. Every call gets a new request id.
func (c *Client) BuildRequest(text string, s session.Context) Request {
	return Request{
		RequestId: uuid.NewString(),
		Device: Device{
			Id:                  s.DeviceID,
			Name:                c.deviceName,
			SupportsDisplayText: true,
			SupportsTextInput:   true,
		},
		User: User{
			Id:   s.UserID,
			Name: c.userName,
		},
		Context: RequestContext{
			SessionId:                     s.SessionID,
			RequestType:                   requestTypeIntent,
			OriginalInput:                 text,
			Channel:                       c.channel,
			RequiresLanguageUnderstanding: true,
			Locale:                        c.locale,
		},
	}
}

// Send issues exactly one request for text and decodes the reply. Failures
// are returned as *TransportError or *ParseError and are never retried.
func (c *Client) Send(ctx context.Context, text string, s session.Context) (Response, error) {
	ctx, span := tracer.Start(ctx, "send assistant request")
	defer span.End()

	request := c.BuildRequest(text, s)
	span.SetAttributes(
		attribute.String("request.id", request.RequestId),
		attribute.String("session.id", s.SessionID),
	)

	fail := func(err error) (Response, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.WarnContext(ctx, "assistant request failed",
			slog.String("request_id", request.RequestId),
			slog.Any("error", err))
		return Response{}, err
	}

	requestBodyBytes, err := json.Marshal(request)
	if err != nil {
		return fail(fmt.Errorf("error marshalling JSON: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(requestBodyBytes))
	if err != nil {
		return fail(&TransportError{Err: fmt.Errorf("error creating HTTP request: %w", err)})
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fail(&TransportError{Err: fmt.Errorf("error sending request: %w", err)})
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("response.status_code", resp.StatusCode))
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fail(&TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("error reading response body: %w", err)})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		span.SetAttributes(attribute.String("response.error", string(body)))
		return fail(&TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("non-OK HTTP status: %s", resp.Status)})
	}

	var response Response
	if err := json.Unmarshal(body, &response); err != nil {
		return fail(&ParseError{Err: err})
	}

	span.SetAttributes(
		attribute.String("response.id", response.ResponseId),
		attribute.Bool("response.has_speech", response.HasSpeech()),
		attribute.Bool("response.end_session", response.EndSession),
	)
	return response, nil
}
