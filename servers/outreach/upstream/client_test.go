package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MegaGrindStone/go-mcp-outreach/metrics"
)

const testAPIKey = "s3cr3t-key"

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func newTestClient(t *testing.T, handler http.HandlerFunc, cfg Config, opts ...ClientOption) (*Client, *sleepRecorder) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg.BaseURL = srv.URL + "/api/v1"
	if cfg.APIKey == "" {
		cfg.APIKey = testAPIKey
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry = RetryPolicy{
			MaxAttempts:   3,
			InitialDelay:  10 * time.Millisecond,
			MaxDelay:      15 * time.Millisecond,
			BackoffFactor: 2,
		}
	}

	c, err := NewClient(cfg, append([]ClientOption{WithHTTPClient(srv.Client())}, opts...)...)
	require.NoError(t, err)

	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing API key",
			cfg:  Config{BaseURL: "https://example.com", Retry: DefaultRetryPolicy()},
		},
		{
			name: "invalid scheme",
			cfg:  Config{BaseURL: "ftp://example.com", APIKey: testAPIKey, Retry: DefaultRetryPolicy()},
		},
		{
			name: "zero attempts",
			cfg:  Config{BaseURL: "https://example.com", APIKey: testAPIKey},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}
}

func TestInvokeSendsRequest(t *testing.T) {
	var mu sync.Mutex
	var got struct {
		method      string
		path        string
		apiKey      string
		limit       string
		contentType string
		body        map[string]any
	}

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		got.method = r.Method
		got.path = r.URL.Path
		got.apiKey = r.URL.Query().Get(APIKeyParam)
		got.limit = r.URL.Query().Get("limit")
		got.contentType = r.Header.Get("Content-Type")
		if r.Body != nil {
			raw, _ := io.ReadAll(r.Body)
			if len(raw) > 0 {
				_ = json.Unmarshal(raw, &got.body)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": 42, "name": "Spring"}`))
	}, Config{})

	res, err := c.Invoke(context.Background(), Request{
		Method: http.MethodPost,
		Path:   "/campaigns/42/settings",
		Query:  map[string][]string{"limit": {"10"}},
		Body:   map[string]any{"track_settings": []string{"DONT_TRACK_EMAIL_OPEN"}},
	})
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/api/v1/campaigns/42/settings", got.path)
	assert.Equal(t, testAPIKey, got.apiKey)
	assert.Equal(t, "10", got.limit)
	assert.Equal(t, "application/json", got.contentType)
	assert.Equal(t, map[string]any{"track_settings": []any{"DONT_TRACK_EMAIL_OPEN"}}, got.body)

	assert.Equal(t, ResultJSON, res.Kind)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.JSONEq(t, `{"id": 42, "name": "Spring"}`, string(res.JSON))
}

func TestInvokeRetriesRateLimited(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, `{"error": "slow down"}`, http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{"id": 1}`))
	}, Config{})

	res, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns/1"})
	require.NoError(t, err)
	assert.Equal(t, ResultJSON, res.Kind)
	assert.Equal(t, int32(3), calls.Load())

	delays := rec.recorded()
	require.Len(t, delays, 2)
	assert.Equal(t, 10*time.Millisecond, delays[0])
	assert.Equal(t, 15*time.Millisecond, delays[1])
	for i := 1; i < len(delays); i++ {
		assert.GreaterOrEqual(t, delays[i], delays[i-1])
	}
}

func TestInvokeTerminalStatusIsNotRetried(t *testing.T) {
	for _, status := range []int{http.StatusBadRequest, http.StatusNotFound, http.StatusInternalServerError, http.StatusBadGateway} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			var calls atomic.Int32
			c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				calls.Add(1)
				http.Error(w, "campaign not found", status)
			}, Config{})

			_, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns/7"})
			require.Error(t, err)

			var upErr *Error
			require.ErrorAs(t, err, &upErr)
			assert.Equal(t, KindTerminal, upErr.Kind)
			assert.Equal(t, status, upErr.StatusCode)
			assert.Equal(t, 1, upErr.Attempts)
			assert.ErrorIs(t, err, ErrTerminal)
			assert.Contains(t, err.Error(), "campaign not found")
			assert.Contains(t, err.Error(), "failed after 1 attempt(s)")

			assert.Equal(t, int32(1), calls.Load())
			assert.Empty(t, rec.recorded())
		})
	}
}

func TestInvokeGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, Config{})

	_, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Contains(t, err.Error(), "failed after 3 attempt(s)")
	assert.Equal(t, int32(3), calls.Load())
}

func TestInvokeRetriesTransportError(t *testing.T) {
	var calls atomic.Int32
	c, rec := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Error("response writer does not support hijacking")
				return
			}
			conn, _, err := hj.Hijack()
			if err == nil {
				_ = conn.Close()
			}
			return
		}
		_, _ = w.Write([]byte(`[]`))
	}, Config{})

	res, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns"})
	require.NoError(t, err)
	assert.Equal(t, ResultJSON, res.Kind)
	assert.Equal(t, int32(2), calls.Load())
	assert.Len(t, rec.recorded(), 1)
}

func TestInvokeNeverLeaksAPIKey(t *testing.T) {
	c, err := NewClient(Config{
		BaseURL: "http://127.0.0.1:1",
		APIKey:  testAPIKey,
		Retry:   RetryPolicy{MaxAttempts: 1, BackoffFactor: 1},
	})
	require.NoError(t, err)

	_, err = c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.NotContains(t, err.Error(), testAPIKey)
}

func TestInvokeRedactsEchoedAPIKey(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad request for "+r.URL.String(), http.StatusBadRequest)
	}, Config{})

	_, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns"})
	require.Error(t, err)
	assert.NotContains(t, err.Error(), testAPIKey)
	assert.Contains(t, err.Error(), redacted)
}

func TestInvokeRejectsOversizedResponse(t *testing.T) {
	var mu sync.Mutex
	size := 0

	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		n := size
		mu.Unlock()

		w.Header().Set("Content-Type", "text/csv")
		_, _ = w.Write(bytes.Repeat([]byte("a"), n))
	}, Config{MaxResponseSize: 64})

	mu.Lock()
	size = 64
	mu.Unlock()

	res, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns/1/leads-export"})
	require.NoError(t, err)
	assert.Equal(t, ResultBinary, res.Kind)
	assert.Len(t, res.Data, 64)

	mu.Lock()
	size = 65
	mu.Unlock()

	_, err = c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns/1/leads-export"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.Contains(t, err.Error(), "response exceeds 64 bytes")

	var upErr *Error
	require.ErrorAs(t, err, &upErr)
	assert.Equal(t, 1, upErr.Attempts)
}

func TestInvokeResultKinds(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		ctype    string
		body     string
		wantKind ResultKind
	}{
		{name: "no content", status: http.StatusNoContent, wantKind: ResultEmpty},
		{name: "empty body", status: http.StatusOK, wantKind: ResultEmpty},
		{name: "json", status: http.StatusOK, ctype: "application/json", body: `{"ok": true}`, wantKind: ResultJSON},
		{name: "csv", status: http.StatusOK, ctype: "text/csv", body: "email\na@x.io\n", wantKind: ResultBinary},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
				if tt.ctype != "" {
					w.Header().Set("Content-Type", tt.ctype)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}, Config{})

			res, err := c.Invoke(context.Background(), Request{Method: http.MethodDelete, Path: "/campaigns/1"})
			require.NoError(t, err)
			assert.Equal(t, tt.wantKind, res.Kind)
			assert.Equal(t, tt.status, res.StatusCode)
			if tt.wantKind == ResultBinary {
				assert.Equal(t, tt.body, string(res.Data))
				assert.Equal(t, tt.ctype, res.ContentType)
			}
		})
	}
}

func TestInvokeErrorBodyIsTerminal(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{"success": false, "message": "invalid lead"}`))
	}, Config{})

	_, err := c.Invoke(context.Background(), Request{Method: http.MethodPost, Path: "/leads"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTerminal)
	assert.Contains(t, err.Error(), "invalid lead")
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvokeAttemptTimeout(t *testing.T) {
	release := make(chan struct{})

	var calls atomic.Int32
	c, _ := newTestClient(t, func(_ http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, Config{
		AttemptTimeout: 20 * time.Millisecond,
		Retry:          RetryPolicy{MaxAttempts: 2, BackoffFactor: 1},
	})
	t.Cleanup(func() { close(release) })

	_, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTransient)
	assert.Equal(t, int32(2), calls.Load())
}

func TestInvokeCancelledContextStopsRetrying(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}, Config{})
	c.policy = RetryPolicy{MaxAttempts: 5, InitialDelay: time.Minute, MaxDelay: time.Minute, BackoffFactor: 1}

	ctx, cancel := context.WithCancel(context.Background())
	c.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return sleepWithContext(ctx, d)
	}

	_, err := c.Invoke(ctx, Request{Method: http.MethodGet, Path: "/campaigns"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(1), calls.Load())
}

func TestInvokeRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewGatewayMetricsWithRegistry(reg)

	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}, Config{}, WithMetrics(m))

	_, err := c.Invoke(context.Background(), Request{Method: http.MethodDelete, Path: "/campaigns/3"})
	require.NoError(t, err)

	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("DELETE", "429")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRequestsTotal.WithLabelValues("DELETE", "204")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.UpstreamRetriesTotal), 0)
}

func TestInvokeRateLimit(t *testing.T) {
	var calls atomic.Int32
	c, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`{}`))
	}, Config{RateLimit: 20})

	start := time.Now()
	for range 22 {
		_, err := c.Invoke(context.Background(), Request{Method: http.MethodGet, Path: "/campaigns"})
		require.NoError(t, err)
	}

	// The burst covers the first 20 calls, the last two wait for new tokens.
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
	assert.Equal(t, int32(22), calls.Load())
}

func TestTargetKeepsCallerQuery(t *testing.T) {
	c, err := NewClient(Config{
		BaseURL: "https://api.example.com/api/v1/",
		APIKey:  "a b&c",
		Retry:   DefaultRetryPolicy(),
	})
	require.NoError(t, err)

	query := map[string][]string{"offset": {"20"}}
	target, err := c.target(Request{Path: "campaigns/9/leads", Query: query})
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(target, "https://api.example.com/api/v1/campaigns/9/leads?"))
	assert.Contains(t, target, "offset=20")
	assert.Contains(t, target, "api_key=a+b%26c")
	assert.Equal(t, map[string][]string{"offset": {"20"}}, query)
}

func TestTargetKeepsEscapedPath(t *testing.T) {
	c, err := NewClient(Config{
		BaseURL: "https://api.example.com/api/v1",
		APIKey:  testAPIKey,
		Retry:   DefaultRetryPolicy(),
	})
	require.NoError(t, err)

	target, err := c.target(Request{Path: "/campaigns/a%2Fb/leads"})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(target, "https://api.example.com/api/v1/campaigns/a%2Fb/leads?"))

	_, err = c.target(Request{Path: "/campaigns/%zz"})
	assert.Error(t, err)
}
