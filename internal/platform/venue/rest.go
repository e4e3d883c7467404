package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/mirrorbot/internal/domain"
)

// restrictionNone is the venue's "no restriction" flag for order
// construction requests.
const restrictionNone = 0

// RestConfig holds the REST client's connection and rate-limit settings.
type RestConfig struct {
	BaseURL    string
	Timeout    time.Duration // per-request timeout, default 15s
	RateLimit  int           // requests allowed per RateWindow, default 10
	RateWindow time.Duration // sliding window, default 1s
}

// RestClient talks to the venue's trading REST API: profile directory
// lookups and market/limit order construction. Order construction returns an
// opaque chain-transaction payload; the chain submitter consumes it.
type RestClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    domain.RateLimiter // optional; nil disables gating
	rateLimit  int
	rateWindow time.Duration
}

// NewRestClient creates a REST client for the given API root, e.g.
// "https://perps-tradeapi.example.xyz". When limiter is non-nil every
// request waits for a slot under cfg.RateLimit per cfg.RateWindow first.
func NewRestClient(cfg RestConfig, limiter domain.RateLimiter) *RestClient {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = time.Second
	}
	return &RestClient{
		baseURL:    cfg.BaseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		rateLimit:  cfg.RateLimit,
		rateWindow: cfg.RateWindow,
	}
}

// GetProfileAddress resolves a wallet address to its venue-internal profile
// address via GET /getProfileAddress.
func (c *RestClient) GetProfileAddress(ctx context.Context, userAddress string) (string, error) {
	q := url.Values{}
	q.Set("userAddress", userAddress)

	data, err := c.get(ctx, "/getProfileAddress", q)
	if err != nil {
		return "", fmt.Errorf("venue: get profile address: %w", err)
	}

	var profile string
	if err := json.Unmarshal(data, &profile); err != nil {
		return "", fmt.Errorf("venue: decode profile address: %w", err)
	}
	if profile == "" {
		return "", fmt.Errorf("venue: %w: empty profile for %s", domain.ErrNotFound, userAddress)
	}
	return profile, nil
}

// PlaceMarketOrder asks the venue to construct a market-order transaction
// for the given request and returns the opaque chain payload.
func (c *RestClient) PlaceMarketOrder(ctx context.Context, req domain.OrderRequest) (json.RawMessage, error) {
	q := orderQuery(req)

	data, err := c.get(ctx, "/placeMarketOrder", q)
	if err != nil {
		return nil, fmt.Errorf("venue: place market order: %w", err)
	}
	return data, nil
}

// PlaceLimitOrder asks the venue to construct a limit-order transaction,
// forwarding the price, and returns the opaque chain payload.
func (c *RestClient) PlaceLimitOrder(ctx context.Context, req domain.OrderRequest) (json.RawMessage, error) {
	q := orderQuery(req)
	q.Set("price", strconv.FormatFloat(req.Price, 'f', -1, 64))

	data, err := c.get(ctx, "/placeLimitOrder", q)
	if err != nil {
		return nil, fmt.Errorf("venue: place limit order: %w", err)
	}
	return data, nil
}

// orderQuery encodes the shared order-construction parameters.
func orderQuery(req domain.OrderRequest) url.Values {
	q := url.Values{}
	q.Set("marketId", req.MarketID)
	q.Set("tradeSide", strconv.FormatBool(req.TradeSide))
	q.Set("direction", strconv.FormatBool(req.Direction))
	q.Set("size", strconv.FormatFloat(req.Size, 'f', -1, 64))
	q.Set("leverage", strconv.Itoa(req.Leverage))
	q.Set("restriction", strconv.Itoa(restrictionNone))
	return q
}

// get performs a rate-limited GET against the API, unwraps the standard
// {success, message, data} envelope, and returns data. Venue rejections
// surface their message verbatim.
func (c *RestClient) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, "venue_rest", c.rateLimit, c.rateWindow); err != nil {
			return nil, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return nil, err
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("venue rejected request: %s", envelope.Message)
	}

	return envelope.Data, nil
}

// checkHTTPStatus maps non-2xx status codes to domain errors.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}

	bodyStr := string(body)
	switch statusCode {
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", domain.ErrNotFound, bodyStr)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", domain.ErrUnauthorized, bodyStr)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %s", domain.ErrRateLimited, bodyStr)
	default:
		return fmt.Errorf("HTTP %d: %s", statusCode, bodyStr)
	}
}
