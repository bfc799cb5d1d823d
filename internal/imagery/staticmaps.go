// Package imagery fetches satellite tiles from a static-map HTTP API.
package imagery

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"geowatch/internal/monitor"
)

// DefaultBaseURL is the Google Static Maps endpoint.
const DefaultBaseURL = "https://maps.googleapis.com/maps/api/staticmap"

// maxImageBytes caps a single response body.
const maxImageBytes = 16 << 20

// ErrEmptyImage is returned when the provider answers 200 with no body.
var ErrEmptyImage = errors.New("provider returned an empty image")

var pngMagic = []byte("\x89PNG\r\n\x1a\n")

// StaticMapsProvider requests satellite imagery centered on a coordinate.
// Requests are paced by a token bucket shared by every caller.
type StaticMapsProvider struct {
	baseURL string
	apiKey  string
	mapType string
	client  *http.Client
	limiter *rate.Limiter
}

// Options configure a StaticMapsProvider.
type Options struct {
	BaseURL           string
	APIKey            string
	MapType           string
	Timeout           time.Duration
	RequestsPerSecond float64 // <= 0 disables pacing
	Burst             int
	Client            *http.Client // optional, for tests
}

// NewStaticMapsProvider builds a provider from opts.
func NewStaticMapsProvider(opts Options) (*StaticMapsProvider, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("imagery api key is required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid imagery base url: %w", err)
	}
	if opts.MapType == "" {
		opts.MapType = "satellite"
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}

	return &StaticMapsProvider{
		baseURL: opts.BaseURL,
		apiKey:  opts.APIKey,
		mapType: opts.MapType,
		client:  client,
		limiter: limiter,
	}, nil
}

// RequestURL builds the query for req.
func (p *StaticMapsProvider) RequestURL(req monitor.FetchRequest) string {
	q := url.Values{}
	q.Set("center", strconv.FormatFloat(req.Lat, 'f', -1, 64)+","+strconv.FormatFloat(req.Lon, 'f', -1, 64))
	q.Set("zoom", strconv.Itoa(req.Zoom))
	q.Set("size", fmt.Sprintf("%dx%d", req.Width, req.Height))
	q.Set("maptype", p.mapType)
	q.Set("format", "png")
	q.Set("key", p.apiKey)

	sep := "?"
	if strings.Contains(p.baseURL, "?") {
		sep = "&"
	}
	return p.baseURL + sep + q.Encode()
}

// Fetch downloads one image. Non-200 responses and empty bodies are errors;
// nothing is retried.
func (p *StaticMapsProvider) Fetch(ctx context.Context, req monitor.FetchRequest) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.RequestURL(req), nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("requesting imagery: %w", redactKey(err, p.apiKey))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxImageBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading imagery response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("imagery provider returned %s: %s", resp.Status, snippet(body))
	}
	if len(body) == 0 {
		return nil, ErrEmptyImage
	}
	if len(body) > maxImageBytes {
		return nil, fmt.Errorf("imagery response exceeds %d bytes", maxImageBytes)
	}
	if !bytes.HasPrefix(body, pngMagic) && !strings.HasPrefix(http.DetectContentType(body), "image/") {
		return nil, fmt.Errorf("imagery provider returned non-image content (%s)", http.DetectContentType(body))
	}
	return body, nil
}

// redactKey strips the api key from errors that embed the request URL.
func redactKey(err error, key string) error {
	if key == "" || !strings.Contains(err.Error(), key) {
		return err
	}
	return errors.New(strings.ReplaceAll(err.Error(), key, "REDACTED"))
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		s = s[:max] + "..."
	}
	return s
}

var _ monitor.ImageryProvider = (*StaticMapsProvider)(nil)
