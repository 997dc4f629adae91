package gateway_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/damaredayo/scdl/gateway"
)

type fakeTransport struct {
	calls int
	fn    func(call int, req *http.Request) (*http.Response, error)
}

func (f *fakeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	f.calls++
	return f.fn(f.calls, req)
}

func response(code int, body string) *http.Response {
	return &http.Response{ //nolint:exhaustruct
		StatusCode: code,
		Header:     make(http.Header),
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// instantTimer fires immediately while recording the delays the retry loop
// asked for.
type instantTimer struct {
	delays []time.Duration
	c      chan time.Time
}

func (t *instantTimer) Start(d time.Duration) {
	t.delays = append(t.delays, d)
	c := make(chan time.Time, 1)
	c <- time.Now()
	t.c = c
}

func (t *instantTimer) C() <-chan time.Time {
	return t.c
}

func (t *instantTimer) Stop() {}

func newTestClient(transport *fakeTransport, timer *instantTimer) *gateway.Client {
	return gateway.New(
		zerolog.Nop(),
		gateway.WithHTTPClient(&http.Client{Transport: transport}), //nolint:exhaustruct
		gateway.WithTimer(timer),
	)
}

func TestSendRetriesRateLimitedRequest(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ //nolint:exhaustruct
		fn: func(call int, _ *http.Request) (*http.Response, error) {
			if call <= 3 {
				return response(http.StatusTooManyRequests, ""), nil
			}
			return response(http.StatusOK, "ok"), nil
		},
	}
	timer := &instantTimer{} //nolint:exhaustruct

	b, err := newTestClient(transport, timer).Send(context.Background(), gateway.Request{
		Method: http.MethodGet,
		URL:    "https://example.invalid/resource",
		Header: nil,
		Body:   nil,
	})
	assert.NoError(t, err)
	assert.Equal(t, "ok", string(b))
	assert.Equal(t, 4, transport.calls)

	if assert.Len(t, timer.delays, 3) {
		assert.Equal(t, 30*time.Second, timer.delays[0])
		for i := 1; i < len(timer.delays); i++ {
			assert.GreaterOrEqual(t, timer.delays[i], timer.delays[i-1])
			assert.GreaterOrEqual(t, timer.delays[i], 2*timer.delays[i-1])
			assert.Less(t, timer.delays[i], 2*timer.delays[i-1]+time.Second)
		}
	}
}

func TestSendGivesUpAfterRetryBudget(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ //nolint:exhaustruct
		fn: func(_ int, _ *http.Request) (*http.Response, error) {
			return response(http.StatusTooManyRequests, ""), nil
		},
	}
	timer := &instantTimer{} //nolint:exhaustruct

	_, err := newTestClient(transport, timer).Send(context.Background(), gateway.Request{
		Method: http.MethodGet,
		URL:    "https://example.invalid/resource",
		Header: nil,
		Body:   nil,
	})
	assert.ErrorIs(t, err, gateway.ErrTooManyRequests)
	assert.Equal(t, 6, transport.calls)

	if assert.Len(t, timer.delays, 5) {
		for _, d := range timer.delays {
			assert.LessOrEqual(t, d, 500*time.Second)
		}
	}
}

func TestSendDoesNotRetryTransportFault(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ //nolint:exhaustruct
		fn: func(_ int, _ *http.Request) (*http.Response, error) {
			return nil, errors.New("connection reset by peer")
		},
	}
	timer := &instantTimer{} //nolint:exhaustruct

	_, err := newTestClient(transport, timer).Send(context.Background(), gateway.Request{
		Method: http.MethodGet,
		URL:    "https://example.invalid/resource",
		Header: nil,
		Body:   nil,
	})
	reqErr := new(gateway.RequestError)
	assert.ErrorAs(t, err, &reqErr)
	assert.Equal(t, "https://example.invalid/resource", reqErr.URL)
	assert.Equal(t, 1, transport.calls)
	assert.Empty(t, timer.delays)
}

func TestSendDoesNotRetryUnexpectedStatus(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{ //nolint:exhaustruct
		fn: func(_ int, _ *http.Request) (*http.Response, error) {
			return response(http.StatusNotFound, "gone"), nil
		},
	}
	timer := &instantTimer{} //nolint:exhaustruct

	_, err := newTestClient(transport, timer).Send(context.Background(), gateway.Request{
		Method: http.MethodGet,
		URL:    "https://example.invalid/resource",
		Header: nil,
		Body:   nil,
	})
	statusErr := new(gateway.StatusError)
	assert.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Code)
	assert.Equal(t, "gone", string(statusErr.Body))
	assert.Equal(t, 1, transport.calls)
	assert.Empty(t, timer.delays)
}

func TestSendReplaysHeadersAndBodyOnRetry(t *testing.T) {
	t.Parallel()

	var seenAuth []string
	var seenBodies []string
	transport := &fakeTransport{ //nolint:exhaustruct
		fn: func(call int, req *http.Request) (*http.Response, error) {
			seenAuth = append(seenAuth, req.Header.Get("Authorization"))
			b, err := io.ReadAll(req.Body)
			if nil != err {
				t.Errorf("failed to read request body: %v", err)
			}
			seenBodies = append(seenBodies, string(b))
			if call == 1 {
				return response(http.StatusTooManyRequests, ""), nil
			}
			return response(http.StatusOK, "ok"), nil
		},
	}
	timer := &instantTimer{} //nolint:exhaustruct

	header := make(http.Header, 1)
	header.Set("Authorization", "token")
	_, err := newTestClient(transport, timer).Send(context.Background(), gateway.Request{
		Method: http.MethodPost,
		URL:    "https://example.invalid/resource",
		Header: header,
		Body:   []byte("payload"),
	})
	assert.NoError(t, err)
	assert.Equal(t, []string{"token", "token"}, seenAuth)
	assert.Equal(t, []string{"payload", "payload"}, seenBodies)
}
