package playlist

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"lecrec/internal/logger"
	"lecrec/internal/models"

	"github.com/andybalholm/brotli"
	"golang.org/x/time/rate"
)

const (
	defaultRequestTimeout = 10 * time.Second
	defaultMaxRetries     = 3
	defaultRetryDelay     = 250 * time.Millisecond
	defaultRPS            = 20
)

// HTTPStatusError is returned when the origin answers with a non-200 status.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("received status code %d from %s", e.StatusCode, e.URL)
}

// retryable reports whether another attempt could succeed. Client errors other
// than 429 are final.
func (e *HTTPStatusError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Options configures a Client. Zero values select the defaults.
type Options struct {
	UserAgent string
	// RequestsPerSecond caps requests to the origin; negative disables pacing.
	RequestsPerSecond float64
	Burst             int
	RequestTimeout    time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
	HTTPClient        *http.Client
}

// Client is responsible for all communication with the stream origin.
type Client struct {
	httpClient *http.Client
	logger     logger.Logger
	userAgent  string
	limiter    *rate.Limiter

	// RequestTimeout bounds each individual request.
	RequestTimeout time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
}

// NewClient creates a new playlist client.
func NewClient(log logger.Logger, opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				ResponseHeaderTimeout: 5 * time.Second,
				MaxIdleConnsPerHost:   8,
				IdleConnTimeout:       90 * time.Second,
			},
		}
	}

	limit := rate.Limit(opts.RequestsPerSecond)
	switch {
	case opts.RequestsPerSecond < 0:
		limit = rate.Inf
	case opts.RequestsPerSecond == 0:
		limit = defaultRPS
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = defaultRPS
	}

	c := &Client{
		httpClient:     httpClient,
		logger:         log,
		userAgent:      opts.UserAgent,
		limiter:        rate.NewLimiter(limit, burst),
		RequestTimeout: opts.RequestTimeout,
		MaxRetries:     opts.MaxRetries,
		RetryDelay:     opts.RetryDelay,
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.MaxRetries <= 0 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = defaultRetryDelay
	}
	return c
}

// FetchText fetches a manifest or segment list. It returns the body with
// carriage returns removed and the final URL after redirects.
func (c *Client) FetchText(ctx context.Context, rawURL string) (string, string, error) {
	c.logger.Debugf("Fetching playlist from URL: %s", rawURL)

	// RequestTimeout bounds reading the body as well as the headers.
	ctx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()

	resp, err := c.get(ctx, rawURL, true)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return "", "", fmt.Errorf("failed to decode playlist body from %s: %w", rawURL, err)
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return "", "", fmt.Errorf("failed to read playlist body from %s: %w", rawURL, err)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}
	return strings.ReplaceAll(string(data), "\r", ""), finalURL, nil
}

// FetchSegment downloads a whole segment into memory, retrying transient
// failures. Nothing is returned unless the full body arrived.
func (c *Client) FetchSegment(ctx context.Context, segment models.Segment) ([]byte, error) {
	var lastErr error

	for attempt := 1; attempt <= c.MaxRetries; attempt++ {
		data, err := c.fetchSegmentOnce(ctx, segment)
		if err == nil {
			c.logger.Debugf("Successfully downloaded segment %s", segment.ID)
			return data, nil
		}
		lastErr = err

		var statusErr *HTTPStatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			break
		}
		if ctx.Err() != nil {
			break
		}
		c.logger.Warnf("download attempt %d/%d failed for segment %s: %v", attempt, c.MaxRetries, segment.ID, err)
		if attempt == c.MaxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.RetryDelay):
		}
	}

	return nil, fmt.Errorf("failed to download segment %s: %w", segment.ID, lastErr)
}

func (c *Client) fetchSegmentOnce(ctx context.Context, segment models.Segment) ([]byte, error) {
	reqCtx, cancel := context.WithTimeout(ctx, c.RequestTimeout)
	defer cancel()

	resp, err := c.get(reqCtx, segment.URL, false)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed while reading body: %w", err)
	}
	return data, nil
}

// get issues a paced GET and turns non-200 answers into *HTTPStatusError.
func (c *Client) get(ctx context.Context, rawURL string, compressed bool) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request for %s: %w", rawURL, err)
	}
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if compressed {
		req.Header.Set("Accept-Encoding", "br, gzip")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", rawURL, err)
	}
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		return nil, &HTTPStatusError{URL: rawURL, StatusCode: resp.StatusCode}
	}
	return resp, nil
}

func decodeBody(resp *http.Response) (io.Reader, error) {
	switch strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding"))) {
	case "br":
		return brotli.NewReader(resp.Body), nil
	case "gzip":
		return gzip.NewReader(resp.Body)
	default:
		return resp.Body, nil
	}
}
