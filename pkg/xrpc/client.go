package xrpc

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

	"github.com/aussiebroadwan/skytab/pkg/apierr"
	"github.com/aussiebroadwan/skytab/pkg/idx"
	"github.com/aussiebroadwan/skytab/pkg/slogx"
	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

const (
	// DefaultAttemptTimeout bounds a single HTTP attempt.
	DefaultAttemptTimeout = 10 * time.Second

	// DefaultUserAgent is sent when Config.UserAgent is empty.
	DefaultUserAgent = "skytab/0.1"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 8 << 20
)

// RetryPolicy controls how transient failures are retried.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialBackoff is the first backoff interval.
	InitialBackoff time.Duration

	// MaxBackoff caps any single backoff interval.
	MaxBackoff time.Duration

	// Multiplier grows the interval between attempts.
	Multiplier float64

	// Jitter is the randomization factor in [0,1]; 0.5 means ±50%.
	Jitter float64

	// MaxRetryAfter is the longest server-requested wait the client will sleep
	// through. Longer waits surface RateLimited immediately.
	MaxRetryAfter time.Duration
}

// DefaultRetryPolicy returns 3 attempts with exponential backoff and jitter.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 250 * time.Millisecond,
		MaxBackoff:     10 * time.Second,
		Multiplier:     2,
		Jitter:         0.5,
		MaxRetryAfter:  60 * time.Second,
	}
}

func (p RetryPolicy) withDefaults() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.InitialBackoff <= 0 {
		p.InitialBackoff = def.InitialBackoff
	}
	if p.MaxBackoff <= 0 {
		p.MaxBackoff = def.MaxBackoff
	}
	if p.Multiplier < 1 {
		p.Multiplier = def.Multiplier
	}
	if p.Jitter < 0 || p.Jitter > 1 {
		p.Jitter = def.Jitter
	}
	if p.MaxRetryAfter <= 0 {
		p.MaxRetryAfter = def.MaxRetryAfter
	}
	return p
}

// Config holds configuration for creating a Client. Zero values pick the
// defaults.
type Config struct {
	// HTTPClient is used for all requests. Defaults to a client without a
	// global timeout; AttemptTimeout applies per attempt instead.
	HTTPClient *http.Client

	// AttemptTimeout bounds each attempt. Defaults to 10s.
	AttemptTimeout time.Duration

	Retry RetryPolicy

	// RequestsPerSecond enables a client-side token bucket shared by every
	// call made through this Client. Zero disables it.
	RequestsPerSecond float64

	// Burst is the token bucket size. Defaults to 1 when the limiter is on.
	Burst int

	UserAgent string

	// Logger is used when the call context carries none.
	Logger *slog.Logger
}

// Client executes XRPC requests. It is safe for concurrent use.
type Client struct {
	httpClient     *http.Client
	attemptTimeout time.Duration
	retry          RetryPolicy
	limiter        *rate.Limiter
	userAgent      string
	logger         *slog.Logger

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a Client from cfg.
func NewClient(cfg Config) *Client {
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := cfg.AttemptTimeout
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}

	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := max(cfg.Burst, 1)
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Client{
		httpClient:     httpClient,
		attemptTimeout: timeout,
		retry:          cfg.Retry.withDefaults(),
		limiter:        limiter,
		userAgent:      userAgent,
		logger:         cfg.Logger,
		now:            time.Now,
		sleep:          sleepContext,
	}
}

// Execute performs req against service (the base URL of a PDS or AppView),
// retrying transient failures per the client's RetryPolicy.
func (c *Client) Execute(ctx context.Context, service string, req Request) (*Response, error) {
	op := req.NSID
	log := slogx.FromContextOr(ctx, c.logger).With("nsid", op)

	target, err := endpoint(service, req)
	if err != nil {
		return nil, err
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			return nil, &apierr.Error{Kind: apierr.KindValidation, Op: op, Message: "encode request body", Err: err}
		}
	}

	bo := c.newBackOff()
	var lastErr *apierr.Error

	for attempt := 1; ; attempt++ {
		resp, attemptErr := c.attempt(ctx, log, target, req, body, attempt)
		if attemptErr == nil {
			return resp, nil
		}
		lastErr = attemptErr

		if ctx.Err() != nil {
			return nil, &apierr.Error{Kind: apierr.KindNetwork, Op: op, Message: "request cancelled", Err: ctx.Err()}
		}
		if !attemptErr.Kind.Retryable() || attempt >= c.retry.MaxAttempts {
			break
		}

		wait := bo.NextBackOff()
		if attemptErr.Kind == apierr.KindRateLimited && attemptErr.RetryAfter > 0 {
			if attemptErr.RetryAfter > c.retry.MaxRetryAfter {
				log.Warn("server retry-after exceeds limit, giving up",
					"retry_after", attemptErr.RetryAfter,
					"max_retry_after", c.retry.MaxRetryAfter,
				)
				break
			}
			wait = attemptErr.RetryAfter
		}

		log.Warn("xrpc attempt failed, retrying",
			"attempt", attempt,
			"kind", attemptErr.Kind.String(),
			"status", attemptErr.Status,
			"backoff", wait,
		)

		if err := c.sleep(ctx, wait); err != nil {
			return nil, &apierr.Error{Kind: apierr.KindNetwork, Op: op, Message: "request cancelled", Err: err}
		}
	}

	return nil, lastErr
}

// attempt makes a single HTTP round trip under its own timeout.
func (c *Client) attempt(
	ctx context.Context,
	log *slog.Logger,
	target string,
	req Request,
	body []byte,
	attempt int,
) (*Response, *apierr.Error) {
	op := req.NSID

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &apierr.Error{Kind: apierr.KindNetwork, Op: op, Message: "client rate limiter", Err: err}
		}
	}

	attemptCtx, cancel := context.WithTimeout(ctx, c.attemptTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, req.Method, target, reader)
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.KindValidation, Op: op, Message: "failed to create request", Err: err}
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	reqID := idx.New().String()
	httpReq.Header.Set("X-Request-ID", reqID)
	httpReq.Header.Set("User-Agent", c.userAgent)
	httpReq.Header.Set("Accept", "application/json")
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	if req.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Token)
	}

	start := c.now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		log.Debug("xrpc attempt", "req_id", reqID, "attempt", attempt, "err", err)
		return nil, &apierr.Error{Kind: apierr.KindNetwork, Op: op, Message: "failed to send request", Err: err}
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, &apierr.Error{Kind: apierr.KindNetwork, Op: op, Status: httpResp.StatusCode, Message: "failed to read response body", Err: err}
	}

	log.Debug("xrpc attempt",
		"req_id", reqID,
		"attempt", attempt,
		"status", httpResp.StatusCode,
		"duration_ms", c.now().Sub(start).Milliseconds(),
	)

	if apiErr := classify(op, httpResp.StatusCode, httpResp.Header, respBody, c.now()); apiErr != nil {
		return nil, apiErr
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   respBody,
	}, nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retry.InitialBackoff
	b.MaxInterval = c.retry.MaxBackoff
	b.Multiplier = c.retry.Multiplier
	b.RandomizationFactor = c.retry.Jitter
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// endpoint builds {service}/xrpc/{nsid}?{params}.
func endpoint(service string, req Request) (string, error) {
	op := req.NSID
	if req.NSID == "" {
		return "", apierr.Validation(op, "missing NSID")
	}
	switch req.Method {
	case http.MethodGet, http.MethodPost:
	default:
		return "", apierr.Validation(op, "unsupported method %q", req.Method)
	}

	base, err := ParseService(service)
	if err != nil {
		return "", &apierr.Error{Kind: apierr.KindValidation, Op: op, Message: "invalid service endpoint", Err: err}
	}

	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/xrpc/" + req.NSID
	if len(req.Params) > 0 {
		u.RawQuery = req.Params.Encode()
	}
	return u.String(), nil
}

// ParseService validates a service base URL. Only http and https are
// accepted and a host is required.
func ParseService(service string) (*url.URL, error) {
	service = strings.TrimSpace(service)
	if service == "" {
		return nil, errors.New("empty service endpoint")
	}
	u, err := url.Parse(service)
	if err != nil {
		return nil, fmt.Errorf("parse service endpoint: %w", err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("service endpoint must be http(s), got %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, errors.New("service endpoint has no host")
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}

// NormalizeService returns the canonical string form of a service URL, used
// as a lookup key. Invalid input is returned trimmed.
func NormalizeService(service string) string {
	u, err := ParseService(service)
	if err != nil {
		return strings.TrimSpace(service)
	}
	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
