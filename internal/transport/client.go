// Package transport is the marketplace API client. Every outbound call
// goes through Client.Do, which retries transient failures with backoff
// and refreshes the session once on 401.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/raulk/clock"
	"github.com/sirupsen/logrus"

	"github.com/GroupLang/agent-market-client/internal/constants"
	"github.com/GroupLang/agent-market-client/internal/metrics"
	"github.com/GroupLang/agent-market-client/internal/utils"
)

// TokenSource supplies bearer credentials. The session manager
// implements it.
type TokenSource interface {
	// AccessToken returns the current token, or utils.ErrUnauthenticated.
	AccessToken() (string, error)
	// Refresh replaces stale, the token a rejected request carried. If the
	// current token is already a different one, another request refreshed
	// it first and Refresh returns nil. A failure ends the session.
	Refresh(ctx context.Context, stale string) error
	// Expire ends the session after a 401 that survived a refresh.
	Expire(cause error)
}

// Client manages communication with the marketplace API.
type Client struct {
	BaseURL    *url.URL
	HTTPClient *http.Client
	Tokens     TokenSource
	Policy     RetryPolicy
	Clock      clock.Clock
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTPClient = hc }
}

func WithTokens(ts TokenSource) Option {
	return func(c *Client) { c.Tokens = ts }
}

func WithPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.Policy = p }
}

func WithClock(clk clock.Clock) Option {
	return func(c *Client) { c.Clock = clk }
}

// NewClient builds a client for baseURL, e.g. "https://api.agent.market/v1".
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	parsed, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid baseURL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid baseURL %q: scheme and host are required", baseURL)
	}
	c := &Client{
		BaseURL:    parsed,
		HTTPClient: &http.Client{Timeout: constants.DefaultRequestTimeout},
		Policy:     DefaultRetryPolicy(),
		Clock:      clock.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type request struct {
	method         string
	path           string
	query          url.Values
	body           any
	bearer         string
	noAuth         bool
	idempotencyKey string
}

type RequestOption func(*request)

func WithQuery(q url.Values) RequestOption {
	return func(r *request) { r.query = q }
}

// WithBearer sends the given token instead of asking the TokenSource, and
// disables refresh-on-401 for the call.
func WithBearer(token string) RequestOption {
	return func(r *request) { r.bearer = token }
}

// WithoutAuth sends no Authorization header.
func WithoutAuth() RequestOption {
	return func(r *request) { r.noAuth = true }
}

func WithIdempotencyKey(key string) RequestOption {
	return func(r *request) { r.idempotencyKey = key }
}

func (c *Client) Get(ctx context.Context, p string, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodGet, p, nil, out, opts...)
}

func (c *Client) Post(ctx context.Context, p string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPost, p, body, out, opts...)
}

func (c *Client) Put(ctx context.Context, p string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodPut, p, body, out, opts...)
}

func (c *Client) Delete(ctx context.Context, p string, body, out any, opts ...RequestOption) error {
	return c.Do(ctx, http.MethodDelete, p, body, out, opts...)
}

// Do executes one logical call. Non-GET calls carry an Idempotency-Key that
// stays the same across every retry and replay of the call, so the server
// can tell a repeat from a new request. body may be a url.Values, which is
// sent form-encoded; anything else is sent as JSON.
func (c *Client) Do(ctx context.Context, method, p string, body, out any, opts ...RequestOption) error {
	req := &request{method: method, path: p, body: body}
	for _, opt := range opts {
		opt(req)
	}
	if req.idempotencyKey == "" && method != http.MethodGet {
		req.idempotencyKey = uuid.NewString()
	}
	managed := !req.noAuth && req.bearer == "" && c.Tokens != nil

	b := c.Policy.backoff()
	maxAttempts := c.Policy.attempts()
	refreshed := false

	for attempt := 1; ; {
		token := req.bearer
		if managed {
			t, err := c.Tokens.AccessToken()
			if err != nil {
				return err
			}
			token = t
		}

		err := c.doOnce(ctx, req, token, out)
		if err == nil {
			return nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if managed && errors.Is(err, utils.ErrUnauthenticated) {
			if refreshed {
				c.Tokens.Expire(err)
				return fmt.Errorf("%w: %v", utils.ErrSessionExpired, err)
			}
			refreshed = true
			metrics.TransportRetries.WithLabelValues("unauthorized").Inc()
			if rerr := c.Tokens.Refresh(ctx, token); rerr != nil {
				if errors.Is(rerr, utils.ErrSessionExpired) {
					return rerr
				}
				return fmt.Errorf("%w: %v", utils.ErrSessionExpired, rerr)
			}
			continue
		}

		if !c.Policy.retriable(err) {
			return err
		}
		if attempt >= maxAttempts {
			return &ExhaustedError{Attempts: attempt, Err: err}
		}

		delay := b.Duration()
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.RetryAfter > delay {
			delay = apiErr.RetryAfter
			if c.Policy.MaxDelay > 0 && delay > c.Policy.MaxDelay {
				delay = c.Policy.MaxDelay
			}
		}
		metrics.TransportRetries.WithLabelValues(retryReason(err)).Inc()
		utils.Logger.WithFields(logrus.Fields{
			"method":  method,
			"path":    p,
			"attempt": attempt,
			"delay":   delay,
		}).WithError(err).Warn("Retrying marketplace API call")

		if err := c.sleep(ctx, delay); err != nil {
			return err
		}
		attempt++
	}
}

// sleep waits for d or until ctx is done, whichever comes first.
func (c *Client) sleep(ctx context.Context, d time.Duration) error {
	t := c.Clock.Timer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// doOnce performs a single HTTP request attempt (no retries).
func (c *Client) doOnce(ctx context.Context, r *request, token string, out any) error {
	u := *c.BaseURL
	u.Path = path.Join(c.BaseURL.Path, r.path)
	if strings.HasSuffix(r.path, "/") {
		u.Path += "/"
	}
	if len(r.query) > 0 {
		u.RawQuery = r.query.Encode()
	}

	var (
		reqBody     io.Reader
		contentType string
	)
	switch b := r.body.(type) {
	case nil:
	case url.Values:
		reqBody = strings.NewReader(b.Encode())
		contentType = "application/x-www-form-urlencoded"
	default:
		jsonBytes, err := json.Marshal(b)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(jsonBytes)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, r.method, u.String(), reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" && !r.noAuth {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if r.idempotencyKey != "" {
		req.Header.Set(constants.IdempotencyKeyHeader, r.idempotencyKey)
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return parseAPIError(resp)
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func retryReason(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == http.StatusTooManyRequests {
			return "rate_limited"
		}
		return "server_error"
	}
	return "network"
}
