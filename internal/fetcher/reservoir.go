package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"collectionwatch/internal/detect"
)

const (
	floorAskPath    = "/events/collections/floor-ask/v1"
	topBidPath      = "/events/collections/top-bid/v1"
	asksPath        = "/orders/asks/v3"
	salesPath       = "/sales/v4"
	tokensPath      = "/tokens/v5"
	collectionsPath = "/collections/v5"

	maxBackoff = 30 * time.Second
)

// Options parameterise the Reservoir client.
type Options struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	UserAgent         string
	RequestsPerSecond float64
	MaxRetries        int
	BackoffBase       time.Duration
}

// Reservoir talks to the Reservoir marketplace API. Requests are paced by a shared limiter and
// 429 responses are retried with exponential backoff.
type Reservoir struct {
	opts    Options
	logger  zerolog.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewReservoir constructs a Reservoir client.
func NewReservoir(opts Options, logger zerolog.Logger) *Reservoir {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.reservoir.tools"
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}

	return &Reservoir{
		opts:    opts,
		logger:  logger.With().Str("component", "reservoir").Logger(),
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(limit, 1),
		baseURL: baseURL,
		sleep:   sleepCtx,
	}
}

func (r *Reservoir) LatestFloorAsk(ctx context.Context, collection string) (detect.ScalarEvent, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("sortDirection", "desc")
	q.Set("limit", "1")

	var res floorAskResponse
	if err := r.get(ctx, floorAskPath, q, &res); err != nil {
		return detect.ScalarEvent{}, err
	}
	return res.latest(), nil
}

func (r *Reservoir) LatestTopBid(ctx context.Context, collection string) (detect.ScalarEvent, error) {
	q := url.Values{}
	q.Set("collection", collection)
	q.Set("sortDirection", "desc")
	q.Set("limit", "1")

	var res topBidResponse
	if err := r.get(ctx, topBidPath, q, &res); err != nil {
		return detect.ScalarEvent{}, err
	}
	return res.latest(), nil
}

func (r *Reservoir) Listings(ctx context.Context, collection string, limit int) ([]detect.Listing, error) {
	q := url.Values{}
	q.Set("contracts", collection)
	q.Set("status", "active")
	q.Set("sortBy", "createdAt")
	q.Set("limit", strconv.Itoa(limit))

	var res asksResponse
	if err := r.get(ctx, asksPath, q, &res); err != nil {
		return nil, err
	}
	if res.Orders == nil {
		return nil, fmt.Errorf("%w: %s: response carried no orders", ErrUpstream, asksPath)
	}
	return res.listings(), nil
}

func (r *Reservoir) Sales(ctx context.Context, collection string, limit int) ([]detect.Sale, error) {
	q := url.Values{}
	q.Set("contract", collection)
	q.Set("includeTokenMetadata", "true")
	q.Set("limit", strconv.Itoa(limit))

	var res salesResponse
	if err := r.get(ctx, salesPath, q, &res); err != nil {
		return nil, err
	}
	if res.Sales == nil {
		return nil, fmt.Errorf("%w: %s: response carried no sales", ErrUpstream, salesPath)
	}
	return res.sales(), nil
}

func (r *Reservoir) Token(ctx context.Context, contract, tokenID string) (Token, error) {
	q := url.Values{}
	q.Set("tokens", contract+":"+tokenID)
	q.Set("includeTopBid", "false")
	q.Set("includeAttributes", "false")
	return r.token(ctx, q)
}

func (r *Reservoir) TokenSet(ctx context.Context, tokenSetID string) (Token, error) {
	q := url.Values{}
	q.Set("tokenSetId", tokenSetID)
	return r.token(ctx, q)
}

func (r *Reservoir) token(ctx context.Context, q url.Values) (Token, error) {
	var res tokensResponse
	if err := r.get(ctx, tokensPath, q, &res); err != nil {
		return Token{}, err
	}
	tok, ok := res.first()
	if !ok {
		return Token{}, fmt.Errorf("token %s: %w", q.Encode(), ErrNotFound)
	}
	return tok, nil
}

func (r *Reservoir) Collection(ctx context.Context, id string) (Collection, error) {
	q := url.Values{}
	q.Set("id", id)
	q.Set("includeTopBid", "false")

	var res collectionsResponse
	if err := r.get(ctx, collectionsPath, q, &res); err != nil {
		return Collection{}, err
	}
	if len(res.Collections) == 0 {
		return Collection{}, fmt.Errorf("collection %s: %w", id, ErrNotFound)
	}
	c := res.Collections[0]
	return Collection{ID: c.ID, Name: c.Name, Image: c.Image, Slug: c.Slug}, nil
}

// get performs a paced GET and decodes the JSON body into out. A 429 is retried up to
// MaxRetries times; every other non-200 status fails immediately.
func (r *Reservoir) get(ctx context.Context, path string, q url.Values, out any) error {
	endpoint := r.baseURL + path
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}

	for attempt := 0; ; attempt++ {
		if err := r.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUpstream, path, err)
		}

		status, payload, retryAfter, err := r.do(ctx, endpoint)
		if err != nil {
			return fmt.Errorf("%w: %s: %w", ErrUpstream, path, err)
		}

		switch {
		case status == http.StatusOK:
			if err := json.Unmarshal(payload, out); err != nil {
				return fmt.Errorf("%w: %s: decode: %w", ErrUpstream, path, err)
			}
			return nil
		case status == http.StatusTooManyRequests:
			if attempt >= r.opts.MaxRetries {
				return fmt.Errorf("%w: %s: %w after %d retries", ErrUpstream, path, ErrRateLimited, attempt)
			}
			wait := r.backoff(attempt, retryAfter)
			r.logger.Warn().
				Str("path", path).
				Int("attempt", attempt+1).
				Dur("wait", wait).
				Msg("rate limited, backing off")
			if err := r.sleep(ctx, wait); err != nil {
				return fmt.Errorf("%w: %s: %w", ErrUpstream, path, err)
			}
		default:
			return fmt.Errorf("%w: %s: %w", ErrUpstream, path, parseHTTPError(status, payload))
		}
	}
}

func (r *Reservoir) do(ctx context.Context, endpoint string) (int, []byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return 0, nil, 0, err
	}
	req.Header.Set("Accept", "*/*")
	if ua := strings.TrimSpace(r.opts.UserAgent); ua != "" {
		req.Header.Set("User-Agent", ua)
	}
	if r.opts.APIKey != "" {
		req.Header.Set("x-api-key", r.opts.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, 0, err
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, 0, err
	}

	var retryAfter time.Duration
	if v := strings.TrimSpace(resp.Header.Get("Retry-After")); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			retryAfter = time.Duration(secs) * time.Second
		}
	}
	return resp.StatusCode, payload, retryAfter, nil
}

// backoff doubles BackoffBase per attempt, capped at maxBackoff. A larger Retry-After wins.
func (r *Reservoir) backoff(attempt int, retryAfter time.Duration) time.Duration {
	wait := r.opts.BackoffBase
	for i := 0; i < attempt && wait < maxBackoff; i++ {
		wait *= 2
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}
	if retryAfter > wait {
		wait = retryAfter
	}
	return wait
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

type errorResponse struct {
	StatusCode int    `json:"statusCode"`
	Error      string `json:"error"`
	Message    string `json:"message"`
}

func parseHTTPError(status int, payload []byte) error {
	var apiErr errorResponse
	if err := json.Unmarshal(payload, &apiErr); err == nil {
		if apiErr.Message != "" {
			return fmt.Errorf("reservoir api error (%d): %s", status, apiErr.Message)
		}
		if apiErr.Error != "" {
			return fmt.Errorf("reservoir api error (%d): %s", status, apiErr.Error)
		}
	}
	if len(payload) > 0 {
		return fmt.Errorf("reservoir api error (%d): %s", status, strings.TrimSpace(string(payload)))
	}
	return errors.New("reservoir api error (" + strconv.Itoa(status) + ")")
}

var _ Source = (*Reservoir)(nil)
