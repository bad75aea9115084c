// Package upstream implements the authenticated client of the marketing-automation REST API,
// with retry, backoff and error normalization.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/MegaGrindStone/go-mcp-outreach/metrics"
)

// APIKeyParam is the query parameter carrying the credential on every call.
const APIKeyParam = "api_key"

const (
	defaultAttemptTimeout  = 30 * time.Second
	defaultMaxResponseSize = 32 << 20
	redacted               = "REDACTED"
)

// Config is the process-wide configuration of the Client.
type Config struct {
	// BaseURL is prefixed to every request path.
	BaseURL string
	// APIKey is the credential, sent as the api_key query parameter.
	APIKey string
	// Retry is the retry policy shared by every call.
	Retry RetryPolicy
	// AttemptTimeout bounds a single attempt. Defaults to 30s.
	AttemptTimeout time.Duration
	// TotalTimeout bounds a whole call. Defaults to the policy budget for AttemptTimeout.
	TotalTimeout time.Duration
	// RateLimit is the maximum number of attempts per second, zero disables throttling.
	RateLimit float64
	// MaxResponseSize is the largest response body accepted, in bytes. Defaults to 32 MiB.
	MaxResponseSize int64
}

// Request is one logical upstream call.
type Request struct {
	Method string
	// Path is appended to the base URL. It is already escaped, with its path parameters
	// substituted.
	Path  string
	Query url.Values
	// Body is encoded as JSON when non-nil.
	Body any
}

// Client issues authenticated calls to the upstream API. It is safe for concurrent use.
type Client struct {
	baseURL        *url.URL
	apiKey         string
	policy         RetryPolicy
	attemptTimeout time.Duration
	totalTimeout   time.Duration
	maxBodySize    int64

	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
	metrics    metrics.Recorder

	sleep func(context.Context, time.Duration) error
}

// ClientOption represents the options for the Client.
type ClientOption func(*Client)

// WithHTTPClient sets the http.Client used for the calls.
func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithLogger sets the logger of the Client.
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		c.logger = logger.With(slog.String("component", "upstream"))
	}
}

// WithMetrics sets the metrics recorder of the Client.
func WithMetrics(recorder metrics.Recorder) ClientOption {
	return func(c *Client) {
		c.metrics = recorder
	}
}

// NewClient validates cfg and creates a Client.
func NewClient(cfg Config, options ...ClientOption) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("missing API key")
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, err
	}

	base, err := url.Parse(strings.TrimSuffix(cfg.BaseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("invalid base URL %q: scheme must be http or https", cfg.BaseURL)
	}

	c := &Client{
		baseURL:        base,
		apiKey:         cfg.APIKey,
		policy:         cfg.Retry,
		attemptTimeout: cfg.AttemptTimeout,
		totalTimeout:   cfg.TotalTimeout,
		maxBodySize:    cfg.MaxResponseSize,
		httpClient:     http.DefaultClient,
		logger:         slog.Default(),
		metrics:        metrics.NoOpRecorder{},
		sleep:          sleepWithContext,
	}
	if c.attemptTimeout <= 0 {
		c.attemptTimeout = defaultAttemptTimeout
	}
	if c.totalTimeout <= 0 {
		c.totalTimeout = c.policy.Budget(c.attemptTimeout)
	}
	if c.maxBodySize <= 0 {
		c.maxBodySize = defaultMaxResponseSize
	}
	if cfg.RateLimit > 0 {
		burst := int(cfg.RateLimit)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	for _, opt := range options {
		opt(c)
	}

	return c, nil
}

// Invoke performs req, retrying transient failures per the retry policy. A successful response
// is returned as a Result, every failure as an *Error.
//
// Non-idempotent calls are retried like any other: a create that timed out on the wire may have
// been committed upstream.
func (c *Client) Invoke(ctx context.Context, req Request) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, c.totalTimeout)
	defer cancel()

	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}

	target, err := c.target(req)
	if err != nil {
		return Result{}, &Error{Kind: KindTerminal, Method: method, Path: req.Path, Err: err}
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			return Result{}, &Error{
				Kind:   KindTerminal,
				Method: method,
				Path:   req.Path,
				Err:    fmt.Errorf("failed to marshal body: %w", err),
			}
		}
	}

	var lastErr *Error
	for attempt := 1; attempt <= c.policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := c.policy.Delay(attempt - 1)
			c.metrics.RecordUpstreamRetry()
			c.logger.Debug("retrying upstream call",
				slog.String("method", method),
				slog.String("path", req.Path),
				slog.Int("attempt", attempt),
				slog.Duration("delay", delay),
				slog.String("err", lastErr.Error()))

			if err := c.sleep(ctx, delay); err != nil {
				return Result{}, c.giveUp(lastErr, err)
			}
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if lastErr == nil {
					lastErr = &Error{Kind: KindTransient, Method: method, Path: req.Path}
				}
				return Result{}, c.giveUp(lastErr, err)
			}
		}

		res, err := c.do(ctx, method, target, body)
		if err == nil {
			return res, nil
		}

		err.Path = req.Path
		err.Attempts = attempt
		lastErr = err

		if err.Kind != KindTransient || ctx.Err() != nil {
			break
		}
	}

	c.logger.Warn("upstream call failed",
		slog.String("method", method),
		slog.String("path", req.Path),
		slog.Int("attempts", lastErr.Attempts),
		slog.String("kind", lastErr.Kind.String()),
		slog.Int("status", lastErr.StatusCode))

	return Result{}, lastErr
}

// giveUp ends a call whose context expired while waiting for the next attempt.
func (c *Client) giveUp(lastErr *Error, ctxErr error) *Error {
	e := *lastErr
	if e.Err == nil {
		e.Err = ctxErr
	} else {
		e.Err = fmt.Errorf("%w (gave up: %w)", e.Err, ctxErr)
	}
	return &e
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) (Result, *Error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var bodyReader io.Reader
	if body != nil {
		bodyReader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, bodyReader)
	if err != nil {
		return Result{}, &Error{Kind: KindTerminal, Method: method, Err: c.redactErr(err)}
	}
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.metrics.RecordUpstreamRequest(method, 0)
		return Result{}, &Error{Kind: KindTransient, Method: method, Err: c.redactErr(err)}
	}
	defer resp.Body.Close()

	c.metrics.RecordUpstreamRequest(method, resp.StatusCode)

	// One byte over the limit tells a body of exactly the limit from a larger one.
	raw, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize+1))
	if err != nil {
		return Result{}, &Error{
			Kind:       KindTransient,
			Method:     method,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Err:        fmt.Errorf("failed to read response body: %w", c.redactErr(err)),
		}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		kind := KindTerminal
		if resp.StatusCode == http.StatusTooManyRequests {
			kind = KindTransient
		}
		return Result{}, &Error{
			Kind:       kind,
			Method:     method,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       c.redact(string(raw)),
		}
	}

	if int64(len(raw)) > c.maxBodySize {
		return Result{}, &Error{
			Kind:       KindTerminal,
			Method:     method,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Err:        fmt.Errorf("response exceeds %d bytes", c.maxBodySize),
		}
	}

	res := newResult(resp.StatusCode, resp.Header.Get("Content-Type"), raw)
	if res.Kind == ResultJSON && reportsFailure(res.JSON) {
		return Result{}, &Error{
			Kind:       KindTerminal,
			Method:     method,
			StatusCode: resp.StatusCode,
			Status:     http.StatusText(resp.StatusCode),
			Body:       c.redact(string(raw)),
		}
	}

	return res, nil
}

func (c *Client) target(req Request) (string, error) {
	rawPath := c.baseURL.EscapedPath() + "/" + strings.TrimPrefix(req.Path, "/")
	path, err := url.PathUnescape(rawPath)
	if err != nil {
		return "", fmt.Errorf("invalid path %q: %w", req.Path, err)
	}

	u := *c.baseURL
	u.Path = path
	u.RawPath = rawPath

	query := url.Values{}
	for k, vs := range req.Query {
		query[k] = append([]string(nil), vs...)
	}
	query.Set(APIKeyParam, c.apiKey)
	u.RawQuery = query.Encode()

	return u.String(), nil
}

// redactErr removes the credential from the URL carried by transport errors.
func (c *Client) redactErr(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return &url.Error{Op: urlErr.Op, URL: c.redact(urlErr.URL), Err: urlErr.Err}
	}
	return err
}

func (c *Client) redact(s string) string {
	if c.apiKey == "" {
		return s
	}
	s = strings.ReplaceAll(s, url.QueryEscape(c.apiKey), redacted)
	return strings.ReplaceAll(s, c.apiKey, redacted)
}
