// Package lastfm implements the Last.fm web service client.
// It fetches per-member weekly listening charts used as input for group chart
// generation, with rate limiting, retries, and circuit breaking built in.
package lastfm

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/groovehub/groove-charts-hub/internal/domain/chart"
	"github.com/groovehub/groove-charts-hub/pkg/circuitbreaker"
	"github.com/groovehub/groove-charts-hub/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBaseURL is the production Last.fm web service root.
const DefaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// ClientConfig contains configuration for the Last.fm client.
type ClientConfig struct {
	// BaseURL is the web service root URL
	BaseURL string

	// APIKey identifies the application
	APIKey string

	// SharedSecret signs authenticated calls
	SharedSecret string

	// Timeout is the HTTP request timeout
	Timeout time.Duration

	// RateLimiterConfig for API rate limiting
	RateLimiterConfig RateLimiterConfig

	// Logger for structured logging
	Logger *slog.Logger

	// Debug enables per-request debug logging
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(apiKey, sharedSecret string) ClientConfig {
	return ClientConfig{
		BaseURL:           DefaultBaseURL,
		APIKey:            apiKey,
		SharedSecret:      sharedSecret,
		Timeout:           30 * time.Second,
		RateLimiterConfig: DefaultRateLimiterConfig(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client is the Last.fm web service client. It implements chart.PlaysProvider.
type Client struct {
	config      ClientConfig
	httpClient  *http.Client
	logger      *slog.Logger
	rateLimiter *RateLimiter
	breaker     *circuitbreaker.CircuitBreaker
	retrier     *retry.Retrier
	mapper      *Mapper
}

// NewClient creates a new Last.fm client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.BaseURL == "" {
		config.BaseURL = DefaultBaseURL
	}

	logger := config.Logger
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger:      logger,
		rateLimiter: NewRateLimiter(config.RateLimiterConfig),
		breaker: circuitbreaker.LastfmAPIBreaker(func(name string, from, to circuitbreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name, "from", from.String(), "to", to.String())
		}),
		retrier: retry.LastfmAPIRetrier(),
		mapper:  NewMapper(),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// WEEKLY CHART OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// WeeklyPlays implements chart.PlaysProvider.
func (c *Client) WeeklyPlays(ctx context.Context, username, sessionKey string, chartType chart.Type, week chart.Window) ([]chart.PlayEntry, error) {
	switch chartType {
	case chart.TypeArtists:
		dto, err := c.GetWeeklyArtistChart(ctx, username, sessionKey, week.Start, week.End)
		if err != nil {
			return nil, err
		}
		return c.mapper.ArtistPlays(dto), nil

	case chart.TypeTracks:
		dto, err := c.GetWeeklyTrackChart(ctx, username, sessionKey, week.Start, week.End)
		if err != nil {
			return nil, err
		}
		return c.mapper.TrackPlays(dto), nil

	case chart.TypeAlbums:
		dto, err := c.GetWeeklyAlbumChart(ctx, username, sessionKey, week.Start, week.End)
		if err != nil {
			return nil, err
		}
		return c.mapper.AlbumPlays(dto), nil
	}

	return nil, fmt.Errorf("unknown chart type %q", chartType)
}

// GetWeeklyArtistChart fetches a user's weekly artist chart for the window.
func (c *Client) GetWeeklyArtistChart(ctx context.Context, username, sessionKey string, from, to time.Time) (*WeeklyArtistChartDTO, error) {
	var response weeklyArtistChartResponse
	if err := c.doRequest(ctx, "user.getweeklyartistchart", username, sessionKey, from, to, &response); err != nil {
		return nil, fmt.Errorf("weekly artist chart for %s: %w", username, err)
	}
	return &response.Chart, nil
}

// GetWeeklyTrackChart fetches a user's weekly track chart for the window.
func (c *Client) GetWeeklyTrackChart(ctx context.Context, username, sessionKey string, from, to time.Time) (*WeeklyTrackChartDTO, error) {
	var response weeklyTrackChartResponse
	if err := c.doRequest(ctx, "user.getweeklytrackchart", username, sessionKey, from, to, &response); err != nil {
		return nil, fmt.Errorf("weekly track chart for %s: %w", username, err)
	}
	return &response.Chart, nil
}

// GetWeeklyAlbumChart fetches a user's weekly album chart for the window.
func (c *Client) GetWeeklyAlbumChart(ctx context.Context, username, sessionKey string, from, to time.Time) (*WeeklyAlbumChartDTO, error) {
	var response weeklyAlbumChartResponse
	if err := c.doRequest(ctx, "user.getweeklyalbumchart", username, sessionKey, from, to, &response); err != nil {
		return nil, fmt.Errorf("weekly album chart for %s: %w", username, err)
	}
	return &response.Chart, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// doRequest performs a method call with rate limiting, circuit breaking, and
// retries. Temporary service errors and rate limit hits are retried, anything
// else fails immediately.
func (c *Client) doRequest(ctx context.Context, method, username, sessionKey string, from, to time.Time, result interface{}) error {
	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		return c.retrier.Do(ctx, func(ctx context.Context) error {
			if err := c.rateLimiter.Allow(ctx); err != nil {
				return retry.Retryable(fmt.Errorf("rate limiter: %w", err))
			}

			err := c.doSingleRequest(ctx, method, username, sessionKey, from, to, result)
			if err == nil {
				return nil
			}

			var rateLimitErr *RateLimitError
			if errors.As(err, &rateLimitErr) {
				c.rateLimiter.RecordRateLimitHit(rateLimitErr.RetryAfter)
				return retry.Retryable(err)
			}

			var apiErr *APIErrorDTO
			if errors.As(err, &apiErr) && !apiErr.Temporary() {
				return retry.Permanent(err)
			}

			return retry.Retryable(err)
		})
	})
}

// doSingleRequest performs a single method call.
func (c *Client) doSingleRequest(ctx context.Context, method, username, sessionKey string, from, to time.Time, result interface{}) error {
	params := url.Values{}
	params.Set("method", method)
	params.Set("user", username)
	params.Set("from", strconv.FormatInt(from.Unix(), 10))
	params.Set("to", strconv.FormatInt(to.Unix(), 10))
	params.Set("api_key", c.config.APIKey)
	if sessionKey != "" {
		params.Set("sk", sessionKey)
		params.Set("api_sig", c.sign(params))
	}
	params.Set("format", "json")

	fullURL := c.config.BaseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "groove-charts-hub/1.0")

	if c.config.Debug {
		c.logger.Debug("lastfm api request", "method", method, "user", username)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := 60 * time.Second
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	// Last.fm reports errors in the body with a 200 or 4xx status, so the
	// error envelope is checked before the status code.
	var apiErr APIErrorDTO
	if err := json.Unmarshal(respBody, &apiErr); err == nil && apiErr.Code != 0 {
		if apiErr.Code == ErrCodeRateLimitExceeded {
			return &RateLimitError{
				RetryAfter: 60 * time.Second,
				Message:    apiErr.Message,
			}
		}
		return &apiErr
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("api error: status %d", resp.StatusCode)
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}

// sign computes the api_sig parameter for authenticated calls: the md5 hex of
// all parameters (excluding format and callback) concatenated in key order,
// followed by the shared secret.
func (c *Client) sign(params url.Values) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		if k == "format" || k == "callback" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sig string
	for _, k := range keys {
		sig += k + params.Get(k)
	}
	sig += c.config.SharedSecret

	return fmt.Sprintf("%x", md5.Sum([]byte(sig)))
}

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH AND STATUS
// ══════════════════════════════════════════════════════════════════════════════

// ClientStatus reports the current state of the client's protections.
type ClientStatus struct {
	RateLimiter   RateLimiterStatus
	BreakerState  string
	BreakerCounts circuitbreaker.Counts
}

// Status returns the current status of the client.
func (c *Client) Status() ClientStatus {
	return ClientStatus{
		RateLimiter:   c.rateLimiter.Status(),
		BreakerState:  c.breaker.State().String(),
		BreakerCounts: c.breaker.Counts(),
	}
}

// Reset resets the rate limiter and circuit breaker.
func (c *Client) Reset() {
	c.rateLimiter.Reset()
	c.breaker.Reset()
}
