package pyth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewRESTClient creates a Hermes REST client. A nil limiter disables
// client-side rate limiting.
func NewRESTClient(baseURL string, timeout time.Duration, limiter *rate.Limiter) *RESTClient {
	return &RESTClient{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    limiter,
	}
}

// NewLimiter builds a limiter for rps requests per second; rps <= 0 means no limit.
func NewLimiter(rps float64, burst int) *rate.Limiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// GetLatestPriceFeeds fetches the latest price of every requested feed id in
// one call. Hermes answers 404 when any id is unknown; that surfaces as a
// *StatusError so callers can fall back to per-feed requests.
func (c *RESTClient) GetLatestPriceFeeds(ctx context.Context, ids []string) ([]PriceFeed, error) {
	if len(ids) == 0 {
		return nil, errors.New("no feed ids requested")
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit wait: %w", err)
		}
	}

	q := url.Values{}
	for _, id := range ids {
		q.Add("ids[]", id)
	}
	endpoint := c.baseURL + LatestPriceFeedsPath + "?" + q.Encode()

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	// Execute the HTTP request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var feeds []PriceFeed
	if err := json.NewDecoder(resp.Body).Decode(&feeds); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(feeds) == 0 {
		return nil, ErrEmptyResponse
	}

	return feeds, nil
}
