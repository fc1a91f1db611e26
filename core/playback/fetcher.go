package playback

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/koscakluka/ema-relay/core/audio"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/attribute"
)

const maxSegmentBytes = 32 << 20

// HTTPFetcher downloads a whole segment and decodes it. file:// locators are
// read from disk.
type HTTPFetcher struct {
	client *http.Client
	target *audio.EncodingInfo
}

type FetcherOption func(*HTTPFetcher)

func WithHTTPClient(client *http.Client) FetcherOption {
	return func(f *HTTPFetcher) { f.client = client }
}

// WithTargetEncoding converts every fetched clip to the device encoding.
func WithTargetEncoding(encoding audio.EncodingInfo) FetcherOption {
	return func(f *HTTPFetcher) { f.target = &encoding }
}

func NewHTTPFetcher(opts ...FetcherOption) *HTTPFetcher {
	f := &HTTPFetcher{}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)}
	}
	return f
}

func (f *HTTPFetcher) Fetch(ctx context.Context, locator string) (audio.Clip, error) {
	ctx, span := tracer.Start(ctx, "fetch segment")
	defer span.End()
	span.SetAttributes(attribute.String("request.url", locator))

	data, err := f.read(ctx, locator)
	if err != nil {
		span.RecordError(err)
		return audio.Clip{}, err
	}

	clip, err := audio.Decode(locator, data)
	if err != nil {
		span.RecordError(err)
		return audio.Clip{}, err
	}
	if f.target != nil {
		if clip, err = audio.Convert(clip, *f.target); err != nil {
			span.RecordError(err)
			return audio.Clip{}, err
		}
	}
	return clip, nil
}

func (f *HTTPFetcher) read(ctx context.Context, locator string) ([]byte, error) {
	parsed, err := url.Parse(locator)
	if err != nil {
		return nil, fmt.Errorf("invalid locator: %w", err)
	}
	if parsed.Scheme == "file" {
		return os.ReadFile(parsed.Path)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, locator, nil)
	if err != nil {
		return nil, fmt.Errorf("error creating HTTP request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("error sending request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("non-OK HTTP status: %s", resp.Status)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxSegmentBytes))
	if err != nil {
		return nil, fmt.Errorf("error reading response body: %w", err)
	}
	return data, nil
}
