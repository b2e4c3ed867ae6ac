// Package tbdb is the rate- and quota-aware client for the TBDB product API.
package tbdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/pysugar/shelflife/internal/cache"
	"github.com/pysugar/shelflife/internal/db/models"
	"github.com/pysugar/shelflife/internal/logging"
	"github.com/pysugar/shelflife/internal/metrics"
	"github.com/pysugar/shelflife/internal/version"
	"golang.org/x/oauth2"
)

const (
	// QuotaThreshold is the Retry-After above which a 429 means the daily
	// quota is gone rather than a short rate-limit window.
	QuotaThreshold = 60 * time.Second

	// MaxRateLimitRetries bounds in-process 429 backoff.
	MaxRateLimitRetries = 3

	defaultRateLimitRetry = 60 * time.Second
	maxResponseBytes      = 8 << 20
)

// ConnectionStore is the persistence the client needs from the connection row.
type ConnectionStore interface {
	Instance(ctx context.Context) (*models.Connection, error)
	MarkInvalid(ctx context.Context, message string) (*models.Connection, error)
	MarkVerified(ctx context.Context) (*models.Connection, error)
	StoreQuota(ctx context.Context, q models.QuotaSnapshot) (*models.Connection, error)
}

// TokenRefresher renews an expired access token. It reports false when no
// refresh was possible.
type TokenRefresher interface {
	RefreshAccessToken(ctx context.Context) bool
}

// StaleClientHandler is told when TBDB no longer knows our OAuth client.
type StaleClientHandler interface {
	ClearClientCredentials(ctx context.Context) error
}

// Sleeper blocks for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Client issues authenticated TBDB API calls. It is not safe for concurrent
// use; the enrichment job gate keeps callers serial.
type Client struct {
	baseURL        string
	defaultBaseURL string
	userAgent      string
	httpClient     *http.Client

	store     ConnectionStore
	refresher TokenRefresher
	stale     StaleClientHandler
	cache     cache.Store
	throttle  *Throttle

	onUnauthorized func()
	now            func() time.Time
	sleep          Sleeper
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithDefaultBaseURL sets the API host used when the connection has none and
// against which a registered host is compared.
func WithDefaultBaseURL(u string) Option {
	return func(c *Client) { c.defaultBaseURL = strings.TrimRight(u, "/") }
}

func WithRefresher(r TokenRefresher) Option {
	return func(c *Client) { c.refresher = r }
}

func WithStaleClientHandler(h StaleClientHandler) Option {
	return func(c *Client) { c.stale = h }
}

func WithCache(s cache.Store) Option {
	return func(c *Client) { c.cache = s }
}

// WithThrottle shares throttle state across clients.
func WithThrottle(t *Throttle) Option {
	return func(c *Client) {
		if t != nil {
			c.throttle = t
		}
	}
}

// WithOnUnauthorized registers a hook run after a 401, used to drop cached clients.
func WithOnUnauthorized(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		if now != nil {
			c.now = now
		}
	}
}

func WithSleeper(s Sleeper) Option {
	return func(c *Client) {
		if s != nil {
			c.sleep = s
		}
	}
}

func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// New verifies that a usable connection exists, refreshing an expired token,
// and binds the client to the connection's registered API host.
func New(ctx context.Context, store ConnectionStore, opts ...Option) (*Client, error) {
	c := &Client{
		userAgent:  version.UserAgent(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		store:      store,
		now:        time.Now,
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.throttle == nil {
		c.throttle = NewThrottle(DefaultInterval)
	}

	conn, err := store.Instance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tbdb connection: %w", err)
	}
	if conn.AccessToken == "" || conn.Status == models.ConnectionInvalid {
		return nil, &ConnectionRequiredError{Message: "TBDB connection required. Connect at /profile"}
	}
	if conn.TokenExpired(c.now()) {
		if conn, err = c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	c.baseURL = conn.APIBaseURL
	if c.baseURL == "" {
		c.baseURL = c.defaultBaseURL
	}
	c.baseURL = strings.TrimRight(c.baseURL, "/")
	if c.baseURL == "" {
		return nil, &ConnectionRequiredError{Message: "TBDB API URL unknown. Reconnect at /profile"}
	}
	if c.defaultBaseURL != "" && conn.APIBaseURL != "" && conn.APIBaseURL != c.defaultBaseURL {
		logging.Warn().Str("registered", conn.APIBaseURL).Str("configured", c.defaultBaseURL).
			Msg("⚠️ TBDB client was registered against a different API host")
	}
	return c, nil
}

// BaseURL is the API host this client talks to.
func (c *Client) BaseURL() string { return c.baseURL }

// Throttle exposes the shared throttle state.
func (c *Client) Throttle() *Throttle { return c.throttle }

// GetProduct fetches one product by GTIN or TBDB id. A nil product with a nil
// error means TBDB had nothing usable.
func (c *Client) GetProduct(ctx context.Context, id string) (*Product, error) {
	body, err := c.request(ctx, "get_product", http.MethodGet, "/api/v1/products/"+url.PathEscape(id), nil, nil)
	if err != nil || body == nil {
		return nil, err
	}
	return decodeProduct(body)
}

// SearchProducts runs a free-text search.
func (c *Client) SearchProducts(ctx context.Context, query string, opts SearchOptions) (*SearchResult, error) {
	q := url.Values{}
	q.Set("q", query)
	if opts.ProductType != "" {
		q.Set("ptype", opts.ProductType)
	}
	if opts.PerPage > 0 {
		q.Set("per_page", strconv.Itoa(opts.PerPage))
	}
	if opts.Page > 0 {
		q.Set("page", strconv.Itoa(opts.Page))
	}
	body, err := c.request(ctx, "search", http.MethodGet, "/search", q, nil)
	if err != nil || body == nil {
		return nil, err
	}
	var res SearchResult
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	return &res, nil
}

// CreateProduct contributes a new product to TBDB.
func (c *Client) CreateProduct(ctx context.Context, data any) (*Product, error) {
	body, err := c.request(ctx, "create_product", http.MethodPost, "/api/v1/products", nil, data)
	if err != nil || body == nil {
		return nil, err
	}
	return decodeProduct(body)
}

// UpdateProduct patches an existing TBDB product.
func (c *Client) UpdateProduct(ctx context.Context, id string, data any) (*Product, error) {
	body, err := c.request(ctx, "update_product", http.MethodPatch, "/api/v1/products/"+url.PathEscape(id), nil, data)
	if err != nil || body == nil {
		return nil, err
	}
	return decodeProduct(body)
}

// GetMe returns the authenticated account, including its quota.
func (c *Client) GetMe(ctx context.Context) (*Me, error) {
	body, err := c.request(ctx, "me", http.MethodGet, "/api/v1/me", nil, nil)
	if err != nil || body == nil {
		return nil, err
	}
	var me Me
	if err := unmarshalData(body, &me); err != nil {
		return nil, fmt.Errorf("decode me response: %w", err)
	}
	return &me, nil
}

func (c *Client) request(ctx context.Context, endpoint, method, path string, query url.Values, payload any) (json.RawMessage, error) {
	var encoded []byte
	if payload != nil {
		var err error
		if encoded, err = json.Marshal(payload); err != nil {
			return nil, fmt.Errorf("encode %s payload: %w", endpoint, err)
		}
	}
	return c.do(ctx, endpoint, method, path, query, encoded, 0)
}

func (c *Client) do(ctx context.Context, endpoint, method, path string, query url.Values, payload []byte, retryCount int) (json.RawMessage, error) {
	conn, err := c.store.Instance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load tbdb connection: %w", err)
	}
	// Only a token exchange or refresh may bring an invalid connection back.
	if conn.AccessToken == "" || conn.Status == models.ConnectionInvalid {
		c.invalidate()
		return nil, &ConnectionRequiredError{Message: "TBDB connection required. Connect at /profile"}
	}
	if conn.TokenExpired(c.now()) {
		if conn, err = c.refresh(ctx); err != nil {
			return nil, err
		}
	}

	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reqBody)
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	(&oauth2.Token{AccessToken: conn.AccessToken, TokenType: "Bearer"}).SetAuthHeader(req)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	metrics.TBDBRequestDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("tbdb %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("read tbdb %s response: %w", endpoint, err)
	}
	metrics.TBDBRequests.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	now := c.now()
	c.throttle.Observe(resp.Header, now)
	if q, ok := quotaFromHeaders(resp.Header, now); ok && resp.StatusCode != http.StatusUnauthorized {
		c.recordQuota(ctx, q)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		if q, ok := quotaFromBody(body, now); ok {
			c.recordQuota(ctx, q)
		}
		if !conn.Verified(now) {
			if _, err := c.store.MarkVerified(ctx); err != nil {
				logging.Warn().Err(err).Msg("Failed to mark TBDB connection verified")
			}
		}
		if len(bytes.TrimSpace(body)) == 0 {
			return json.RawMessage("{}"), nil
		}
		return json.RawMessage(body), nil

	case resp.StatusCode == http.StatusUnauthorized:
		return nil, c.handleUnauthorized(ctx, conn, body)

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header, now)
		if retryAfter > QuotaThreshold {
			metrics.TBDBRateLimited.WithLabelValues("quota_exhausted").Inc()
			logging.Warn().Str("endpoint", endpoint).Dur("retry_after", retryAfter).Msg("🚫 TBDB quota exhausted (429)")
			return nil, &QuotaExhaustedError{
				Message:    "TBDB daily quota exhausted",
				RetryAfter: retryAfter,
				ResetTime:  now.Add(retryAfter),
			}
		}
		if retryCount < MaxRateLimitRetries {
			backoff := time.Duration(1<<retryCount+1) * time.Second
			metrics.TBDBRateLimited.WithLabelValues("backoff").Inc()
			logging.Warn().Str("endpoint", endpoint).Int("attempt", retryCount+1).Dur("backoff", backoff).
				Msg("⏳ TBDB rate limited, backing off")
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
			return c.do(ctx, endpoint, method, path, query, payload, retryCount+1)
		}
		if retryAfter <= 0 {
			retryAfter = defaultRateLimitRetry
		}
		reset := parseResetHeader(resp.Header.Get("X-RateLimit-Reset"))
		if reset.IsZero() {
			reset = now.Add(retryAfter)
		}
		metrics.TBDBRateLimited.WithLabelValues("rate_limit_error").Inc()
		return nil, &RateLimitError{
			Message:    fmt.Sprintf("TBDB rate limit exceeded after %d retries", MaxRateLimitRetries),
			RetryAfter: retryAfter,
			ResetTime:  reset,
		}

	case resp.StatusCode == http.StatusServiceUnavailable:
		retryAfter := parseUnavailableRetry(body)
		metrics.TBDBRateLimited.WithLabelValues("quota_exhausted").Inc()
		logging.Warn().Str("endpoint", endpoint).Dur("retry_after", retryAfter).Msg("🚫 TBDB unavailable (503)")
		return nil, &QuotaExhaustedError{
			Message:    "TBDB service unavailable",
			RetryAfter: retryAfter,
			ResetTime:  now.Add(retryAfter),
		}

	default:
		logging.Warn().Str("endpoint", endpoint).Int("status", resp.StatusCode).
			Str("body", logging.Truncate(string(body), 0)).Msg("TBDB request returned no data")
		return nil, nil
	}
}

// wait applies the self-throttle before a request.
func (c *Client) wait(ctx context.Context) error {
	delay := c.throttle.Reserve(c.now())
	metrics.TBDBThrottleWait.Observe(delay.Seconds())
	if delay <= 0 {
		return nil
	}
	logging.Debug().Dur("delay", delay).Msg("Throttling TBDB request")
	return c.sleep(ctx, delay)
}

func (c *Client) refresh(ctx context.Context) (*models.Connection, error) {
	if c.refresher != nil && c.refresher.RefreshAccessToken(ctx) {
		conn, err := c.store.Instance(ctx)
		if err != nil {
			return nil, fmt.Errorf("reload tbdb connection: %w", err)
		}
		return conn, nil
	}
	msg := "TBDB token expired and could not be refreshed. Reconnect at /profile"
	if _, err := c.store.MarkInvalid(ctx, msg); err != nil {
		logging.Error().Err(err).Msg("Failed to mark TBDB connection invalid")
	}
	forgetQuota(ctx, c.cache)
	c.invalidate()
	return nil, &AuthenticationError{Message: msg}
}

func (c *Client) handleUnauthorized(ctx context.Context, conn *models.Connection, body []byte) error {
	defer c.invalidate()

	if staleClient(body) && c.stale != nil {
		logging.Info().Msg("TBDB no longer knows this OAuth client, clearing credentials for re-registration")
		if err := c.stale.ClearClientCredentials(ctx); err != nil {
			logging.Error().Err(err).Msg("Failed to clear TBDB client credentials")
		}
		forgetQuota(ctx, c.cache)
		return &AuthenticationError{Message: "TBDB OAuth client is no longer registered. Reconnect at /profile"}
	}

	var msg string
	if c.defaultBaseURL != "" && conn.APIBaseURL != "" && conn.APIBaseURL != c.defaultBaseURL {
		msg = fmt.Sprintf("TBDB rejected the token: it was issued for %s but ShelfLife is configured for %s. Reconnect at /profile",
			conn.APIBaseURL, c.defaultBaseURL)
	} else {
		msg = "TBDB access token expired or invalid. Reconnect at /profile"
	}
	if _, err := c.store.MarkInvalid(ctx, msg); err != nil {
		logging.Error().Err(err).Msg("Failed to mark TBDB connection invalid")
	}
	forgetQuota(ctx, c.cache)
	logging.Error().Str("token", logging.MaskToken(conn.AccessToken)).Msg("🔒 " + msg)
	return &AuthenticationError{Message: msg}
}

func (c *Client) invalidate() {
	if c.onUnauthorized != nil {
		c.onUnauthorized()
	}
}

// staleClient detects invalid_client / client_not_found error bodies.
func staleClient(body []byte) bool {
	var e struct {
		Error     string `json:"error"`
		ErrorHint string `json:"error_hint"`
	}
	if json.Unmarshal(body, &e) != nil {
		return false
	}
	return e.Error == "invalid_client" || e.ErrorHint == "client_not_found"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
