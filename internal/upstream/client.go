package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/civicwatch/expense-audit/internal/config"
	"github.com/civicwatch/expense-audit/internal/resilience"
)

// envelope is the upstream response wrapper. A missing data field means
// "not found", never a decode failure.
type envelope struct {
	Data json.RawMessage `json:"data"`
}

// Client performs single HTTP GETs against the legislature API with pacing,
// timeout and retry-with-backoff. It is the only component that talks to the
// network.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	pause      time.Duration
}

// NewClient builds a client from the upstream configuration.
func NewClient(cfg config.UpstreamConfig) *Client {
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 2
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter:    rate.NewLimiter(rate.Limit(rps), 1),
		maxRetries: maxRetries,
		pause:      time.Duration(cfg.PausePerCallMS) * time.Millisecond,
	}
}

// Get fetches endpoint with query params and returns the envelope's data
// payload. found is false when the upstream omitted the data field (404 on a
// detail endpoint behaves the same way). Retries transient failures up to
// maxRetries times; every attempt is preceded by the pacing delay.
func (c *Client) Get(ctx context.Context, endpoint string, params url.Values) (data json.RawMessage, found bool, err error) {
	attempts := 0

	retryCfg := resilience.RetryConfig{
		MaxAttempts:    c.maxRetries,
		InitialBackoff: c.pause,
		OnRetry:        resilience.RetryLogger("upstream", endpoint),
	}

	res, err := resilience.DoVal(ctx, retryCfg, func(ctx context.Context) (payload, error) {
		attempts++
		if err := c.pace(ctx); err != nil {
			return payload{}, err
		}
		return c.doOnce(ctx, endpoint, params)
	})
	if err != nil {
		return nil, false, &FetchError{Kind: classify(err), Attempts: attempts, Err: err}
	}
	return res.data, res.found, nil
}

// pace applies the fixed minimum inter-request delay. It runs before every
// attempt, success or failure, to respect upstream rate limits.
func (c *Client) pace(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return eris.Wrap(err, "upstream: rate limiter wait")
	}
	if c.pause <= 0 {
		return nil
	}
	timer := time.NewTimer(c.pause)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// payload is one successful fetch: the raw data field and whether it was
// present at all.
type payload struct {
	data  json.RawMessage
	found bool
}

func (c *Client) doOnce(ctx context.Context, endpoint string, params url.Values) (payload, error) {
	u := c.baseURL + endpoint
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return payload{}, eris.Wrap(err, "upstream: create request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return payload{}, eris.Wrapf(err, "upstream: GET %s", endpoint)
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusNotFound:
		// Detail endpoints 404 for unknown ids; treated as absent data.
		return payload{found: false}, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		c.waitRetryAfter(ctx, resp)
		return payload{}, resilience.NewTransientError(
			eris.Errorf("upstream: 429 from %s", endpoint), resp.StatusCode)
	case resp.StatusCode >= 500:
		return payload{}, resilience.NewTransientError(
			eris.Errorf("upstream: %d from %s", resp.StatusCode, endpoint), resp.StatusCode)
	case resp.StatusCode >= 400:
		return payload{}, eris.Errorf("upstream: %d from %s", resp.StatusCode, endpoint)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return payload{}, resilience.NewTransientError(eris.Wrap(err, "upstream: read body"), 0)
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return payload{}, eris.Wrapf(err, "upstream: decode %s", endpoint)
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return payload{found: false}, nil
	}
	return payload{data: env.Data, found: true}, nil
}

// waitRetryAfter honors a server-suggested backoff on 429, with a default
// when the header is absent or unparseable. The normal retry backoff still
// applies afterwards.
func (c *Client) waitRetryAfter(ctx context.Context, resp *http.Response) {
	delay := 5 * time.Second
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if secs, err := strconv.Atoi(ra); err == nil && secs > 0 {
			delay = time.Duration(secs) * time.Second
		}
	}
	zap.L().Warn("upstream rate limited, honoring backoff",
		zap.Duration("delay", delay),
	)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// classify maps a terminal fetch error to its FetchError kind.
func classify(err error) FetchKind {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FetchTimeout
	}
	var te *resilience.TransientError
	if errors.As(err, &te) {
		if te.StatusCode >= 500 {
			return FetchServerError
		}
		if te.StatusCode == http.StatusTooManyRequests {
			return FetchClientError
		}
		return FetchNetwork
	}
	if resilience.IsTransient(err) {
		return FetchNetwork
	}
	// 4xx responses surface as plain errors from doOnce.
	return FetchClientError
}
