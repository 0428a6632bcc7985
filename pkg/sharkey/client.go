// Package sharkey is a small client for the Misskey-family API of the
// instance that owns the Drive and the advertisements.
package sharkey

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/Crazypedia/sharkey-hashtag-trends-ads/internal/logging"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// APIError is a non-2xx answer from the API. Misskey validation failures
// name the offending parameter in Param, e.g. "#/properties/startsAt".
type APIError struct {
	Endpoint string
	Status   int
	Code     string
	Message  string
	ID       string
	Param    string
	Reason   string
	Body     string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: HTTP %d: %s", e.Endpoint, e.Status, e.Body)
}

// Field returns the bare parameter name from Param, or "".
func (e *APIError) Field() string {
	p := strings.TrimSpace(e.Param)
	if i := strings.LastIndex(p, "/"); i >= 0 {
		p = p[i+1:]
	}
	return strings.TrimPrefix(p, "#")
}

// Validation reports whether the server rejected the request's parameters.
func (e *APIError) Validation() bool {
	return e.Code == "INVALID_PARAM" || e.Param != "" || e.Status == http.StatusBadRequest
}

func (e *APIError) retryable() bool {
	switch e.Status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	}
	return false
}

// creates lists the endpoints that store something new. A gateway error or a
// dropped connection may arrive after the server committed, so these are
// only resent when the server refused them outright with 429.
var creates = map[string]bool{
	"admin/ad/create":      true,
	"drive/files/create":   true,
	"drive/folders/create": true,
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Code    string `json:"code"`
		ID      string `json:"id"`
		Info    struct {
			Param  string `json:"param"`
			Reason string `json:"reason"`
		} `json:"info"`
	} `json:"error"`
}

func parseAPIError(endpoint string, status int, body []byte) *APIError {
	e := &APIError{Endpoint: endpoint, Status: status, Body: strings.TrimSpace(string(body))}
	var eb errorBody
	if err := json.Unmarshal(body, &eb); err == nil {
		e.Code = eb.Error.Code
		e.Message = eb.Error.Message
		e.ID = eb.Error.ID
		e.Param = eb.Error.Info.Param
		e.Reason = eb.Error.Info.Reason
	}
	return e
}

// Options configures a Client.
type Options struct {
	Timeout   time.Duration
	Retries   int
	UserAgent string
	Client    *http.Client
	Logger    logging.Logger
}

// Client calls <base>/api/<endpoint> with the token in the "i" field.
type Client struct {
	base      string
	token     string
	userAgent string
	http      *http.Client
	retry     retrypolicy.RetryPolicy[[]byte]
	throttled retrypolicy.RetryPolicy[[]byte]
	logger    logging.Logger
}

// New creates a client. Only overload and gateway statuses and network
// errors are retried; validation errors come back on the first attempt.
// Create endpoints are retried on 429 alone.
func New(base, token string, opts Options) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "BubbleAds/1.0"
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: opts.Timeout}
	}
	return &Client{
		base:      strings.TrimRight(base, "/"),
		token:     token,
		userAgent: opts.UserAgent,
		http:      opts.Client,
		retry:     newRetry(opts.Retries, isTransient),
		throttled: newRetry(opts.Retries, isThrottled),
		logger:    logging.OrDiscard(opts.Logger),
	}
}

func newRetry(retries int, handle func(error) bool) retrypolicy.RetryPolicy[[]byte] {
	return retrypolicy.NewBuilder[[]byte]().
		HandleIf(func(_ []byte, err error) bool { return handle(err) }).
		WithBackoff(250*time.Millisecond, 5*time.Second).
		WithMaxRetries(retries).
		WithJitterFactor(0.1).
		ReturnLastFailure().
		Build()
}

// Base returns the instance URL without a trailing slash.
func (c *Client) Base() string { return c.base }

// Call posts params as JSON and decodes the response into out (which may be nil).
func (c *Client) Call(ctx context.Context, endpoint string, params map[string]any, out any) error {
	body := make(map[string]any, len(params)+1)
	for k, v := range params {
		body[k] = v
	}
	body["i"] = c.token

	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", endpoint, err)
	}

	return c.send(ctx, endpoint, out, func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(endpoint), bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		return req, nil
	})
}

func (c *Client) url(endpoint string) string {
	return c.base + "/api/" + strings.TrimLeft(endpoint, "/")
}

func (c *Client) send(ctx context.Context, endpoint string, out any, build func(context.Context) (*http.Request, error)) error {
	policy := c.retry
	if creates[endpoint] {
		policy = c.throttled
	}
	data, err := failsafe.With(policy).WithContext(ctx).Get(func() ([]byte, error) {
		req, err := build(ctx)
		if err != nil {
			return nil, fmt.Errorf("create request %s: %w", endpoint, err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")

		resp, err := c.http.Do(req)
		if err != nil {
			return nil, fmt.Errorf("call %s: %w", endpoint, err)
		}
		defer resp.Body.Close()

		raw, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", endpoint, err)
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			apiErr := parseAPIError(endpoint, resp.StatusCode, raw)
			if apiErr.retryable() {
				c.logger.WithFields(logging.Fields{"endpoint": endpoint, "status": resp.StatusCode}).Debug("sharkey call refused")
			}
			return nil, apiErr
		}
		return raw, nil
	})
	if err != nil {
		return err
	}

	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s: %w", endpoint, err)
	}
	return nil
}

func isTransient(err error) bool {
	if err == nil {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

func isThrottled(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == http.StatusTooManyRequests
}
