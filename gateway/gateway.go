// Package gateway is the single HTTP entry point for the application. Every
// network call (API, page scrape, asset fetch) goes through Client.Send, which
// absorbs rate-limit responses with bounded exponential backoff and surfaces
// everything else as a typed error the caller can branch on.
package gateway

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
	"github.com/xeptore/flaw/v8"

	"github.com/damaredayo/scdl/errutil"
)

// ErrTooManyRequests is returned once the rate-limit retry budget is
// exhausted. It is never returned for a request that eventually succeeded.
var ErrTooManyRequests = errors.New("too many requests")

// RequestError wraps a non-retryable transport fault (DNS, connection reset,
// TLS). The gateway never retries these.
type RequestError struct {
	URL string
	Err error
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("request to %q failed: %v", e.URL, e.Err)
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// StatusError is a non-2xx, non-429 response, surfaced without retry.
type StatusError struct {
	URL  string
	Code int
	Body []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status code %d from %q", e.Code, e.URL)
}

// Request is a replayable description of an HTTP exchange. A fresh
// *http.Request is built from it on every attempt, so no attempt can consume
// or mutate state the next attempt needs.
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   []byte
}

func (r Request) build(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if nil != err {
		return nil, err
	}
	for k, vs := range r.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	return req, nil
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimer replaces the backoff wait timer. Tests use it to drive the retry
// loop without real sleeps.
func WithTimer(t backoff.Timer) Option {
	return func(c *Client) { c.timer = t }
}

type Client struct {
	http   *http.Client
	timer  backoff.Timer
	logger zerolog.Logger
}

// New returns a Client safe for concurrent use by any number of tasks. It
// keeps no per-request state.
func New(logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		http:   &http.Client{Timeout: 0}, //nolint:exhaustruct
		timer:  nil,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send performs the exchange and returns the response body. A 429 response is
// retried up to maxRetries times with the rate-limit backoff policy; any other
// failure is returned on the first occurrence.
func (c *Client) Send(ctx context.Context, r Request) ([]byte, error) {
	policy := backoff.WithContext(backoff.WithMaxRetries(newRateLimitPolicy(), maxRetries), ctx)

	var respBytes []byte
	operation := func() error {
		b, err := c.attempt(ctx, r)
		if nil != err {
			return err
		}
		respBytes = b
		return nil
	}
	notify := func(_ error, delay time.Duration) {
		c.logger.Warn().Str("url", r.URL).Dur("delay", delay).Msg("Rate limited. Waiting before retrying request")
	}

	if err := backoff.RetryNotifyWithTimer(operation, policy, notify, c.timer); nil != err {
		return nil, err
	}
	return respBytes, nil
}

func (c *Client) attempt(ctx context.Context, r Request) (b []byte, err error) {
	req, err := r.build(ctx)
	if nil != err {
		if errutil.IsContext(ctx) {
			return nil, backoff.Permanent(ctx.Err())
		}
		flawP := flaw.P{"url": r.URL, "err_debug_tree": errutil.Tree(err).FlawP()}
		return nil, backoff.Permanent(flaw.From(fmt.Errorf("failed to build request: %v", err)).Append(flawP))
	}

	resp, err := c.http.Do(req)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, backoff.Permanent(ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, backoff.Permanent(context.DeadlineExceeded)
		default:
			return nil, backoff.Permanent(&RequestError{URL: r.URL, Err: err})
		}
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr && nil == err {
			flawP := flaw.P{"url": r.URL, "response": errutil.HTTPResponseFlawPayload(resp), "err_debug_tree": errutil.Tree(closeErr).FlawP()}
			err = backoff.Permanent(flaw.From(fmt.Errorf("failed to close response body: %v", closeErr)).Append(flawP))
		}
	}()

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		switch {
		case errutil.IsContext(ctx):
			return nil, backoff.Permanent(ctx.Err())
		case errors.Is(err, context.DeadlineExceeded):
			return nil, backoff.Permanent(context.DeadlineExceeded)
		default:
			return nil, backoff.Permanent(&RequestError{URL: r.URL, Err: err})
		}
	}

	switch code := resp.StatusCode; {
	case code == http.StatusTooManyRequests:
		return nil, ErrTooManyRequests
	case code >= http.StatusOK && code < http.StatusMultipleChoices:
		return respBytes, nil
	default:
		return nil, backoff.Permanent(&StatusError{URL: r.URL, Code: code, Body: respBytes})
	}
}
