package connector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pricealert/internal/catalog"
	"github.com/JakeFAU/pricealert/internal/metrics"
	"github.com/JakeFAU/pricealert/internal/policy/ratelimit"
	"github.com/JakeFAU/pricealert/internal/policy/retry"
)

const maxBodyBytes = 8 << 20

// HTTPClientConfig wires an HTTPClient.
type HTTPClientConfig struct {
	Site    catalog.SiteID
	Timeout time.Duration
	Limiter *ratelimit.Limiter
	Retry   retry.Policy
	Client  *http.Client
	Logger  *zap.Logger
	Metrics *metrics.Recorder
}

// Response is a decoded marketplace reply.
type Response struct {
	Status int
	Body   any
}

// HTTPClient performs rate-limited, retried JSON calls against one marketplace.
type HTTPClient struct {
	site    catalog.SiteID
	timeout time.Duration
	limiter *ratelimit.Limiter
	retry   retry.Policy
	client  *http.Client
	logger  *zap.Logger
	metrics *metrics.Recorder
}

// NewHTTPClient builds a client with defaults for any unset field.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	c := &HTTPClient{
		site:    cfg.Site,
		timeout: cfg.Timeout,
		limiter: cfg.Limiter,
		retry:   cfg.Retry,
		client:  cfg.Client,
		logger:  cfg.Logger,
		metrics: cfg.Metrics,
	}
	if c.timeout <= 0 {
		c.timeout = 10 * time.Second
	}
	if c.retry == nil {
		c.retry = retry.NewExponentialPolicy(3, 250*time.Millisecond, 5*time.Second)
	}
	if c.client == nil {
		c.client = &http.Client{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
	return c
}

// RequestFunc builds a fresh request for every attempt.
type RequestFunc func(ctx context.Context) (*http.Request, error)

// Do sends the request built by newReq and decodes the JSON reply. Transient
// failures (timeouts, 429, 5xx) are retried per the client's policy. Other
// non-2xx replies return the decoded body together with an
// *catalog.ExternalAPIError so callers can inspect marketplace error codes.
func (c *HTTPClient) Do(ctx context.Context, op string, newReq RequestFunc) (*Response, error) {
	for attempt := 1; ; attempt++ {
		resp, err := c.attempt(ctx, op, newReq)
		if err == nil {
			c.metrics.ObserveConnectorCall(string(c.site), op, "ok")
			return resp, nil
		}
		if ctx.Err() != nil || !c.retry.ShouldRetry(err, attempt) {
			c.metrics.ObserveConnectorCall(string(c.site), op, "error")
			return resp, c.wrap(op, resp, err)
		}
		delay := c.retry.Backoff(attempt)
		c.logger.Warn("marketplace call failed, retrying",
			zap.String("site", string(c.site)),
			zap.String("op", op),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", delay),
			zap.Error(err),
		)
		if sleepErr := retry.Sleep(ctx, delay); sleepErr != nil {
			c.metrics.ObserveConnectorCall(string(c.site), op, "error")
			return nil, c.wrap(op, nil, sleepErr)
		}
	}
}

type statusError struct {
	status int
}

func (e *statusError) Error() string { return fmt.Sprintf("unexpected status %d", e.status) }

func (c *HTTPClient) attempt(ctx context.Context, op string, newReq RequestFunc) (*Response, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, string(c.site)); err != nil {
			return nil, retry.Permanent(err)
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := newReq(attemptCtx)
	if err != nil {
		return nil, retry.Permanent(fmt.Errorf("build request: %w", err))
	}
	start := time.Now()
	httpResp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer func() {
		if closeErr := httpResp.Body.Close(); closeErr != nil {
			c.logger.Debug("close response body", zap.Error(closeErr))
		}
	}()

	body, decodeErr := decodeJSON(io.LimitReader(httpResp.Body, maxBodyBytes))
	c.logger.Debug("marketplace call",
		zap.String("site", string(c.site)),
		zap.String("op", op),
		zap.Int("status", httpResp.StatusCode),
		zap.Duration("elapsed", time.Since(start)),
	)
	resp := &Response{Status: httpResp.StatusCode, Body: body}

	switch {
	case httpResp.StatusCode == http.StatusTooManyRequests || httpResp.StatusCode >= http.StatusInternalServerError:
		return resp, &statusError{status: httpResp.StatusCode}
	case httpResp.StatusCode >= http.StatusBadRequest:
		return resp, retry.Permanent(&statusError{status: httpResp.StatusCode})
	case decodeErr != nil:
		return resp, retry.Permanent(fmt.Errorf("decode response: %w", decodeErr))
	}
	return resp, nil
}

func (c *HTTPClient) wrap(op string, resp *Response, err error) error {
	apiErr := &catalog.ExternalAPIError{Site: c.site, Op: op, Err: err}
	var se *statusError
	if errors.As(err, &se) {
		apiErr.Status = se.status
	} else if resp != nil {
		apiErr.Status = resp.Status
	}
	return apiErr
}

func decodeJSON(r io.Reader) (any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}
	return out, nil
}
