package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"CompassChat/internal/endpoint"

	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

// staticCandidates lets tests control the candidate list and its
// relative-origin flags directly.
type staticCandidates []endpoint.Candidate

func (s staticCandidates) Candidates(string) []endpoint.Candidate { return s }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newServer(t *testing.T, h http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv
}

func TestCallFallsThrough404OnRelativeOrigin(t *testing.T) {
	notFound := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	teapot := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	// First two candidates answer 404 on a relative origin; the third
	// candidate's response is returned whatever its status.
	c := New(staticCandidates{
		{URL: notFound.URL, Relative: true},
		{URL: notFound.URL, Relative: true},
		{URL: teapot.URL, Relative: true},
	}, nil, testLogger(), nil)

	resp, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusTeapot, resp.StatusCode)
}

func TestCallNonRelative404IsConclusive(t *testing.T) {
	notFound := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	ok := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := New(staticCandidates{
		{URL: notFound.URL},
		{URL: ok.URL},
	}, nil, testLogger(), nil)

	resp, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallRelative401IsConclusive(t *testing.T) {
	unauthorized := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	ok := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := New(staticCandidates{
		{URL: unauthorized.URL, Relative: true},
		{URL: ok.URL},
	}, nil, testLogger(), nil)

	resp, err := c.Call(context.Background(), http.MethodGet, "/api/threads/", nil, false)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCallRelative404WithoutRemainingCandidatesIsReturned(t *testing.T) {
	notFound := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	c := New(staticCandidates{
		{URL: notFound.URL, Relative: true},
	}, nil, testLogger(), nil)

	resp, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCallNetworkErrorAdvances(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close() // connection refused

	ok := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	c := New(staticCandidates{
		{URL: dead.URL},
		{URL: ok.URL, Relative: true},
	}, nil, testLogger(), nil)

	resp, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestCallAllCandidatesUnreachable(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	c := New(staticCandidates{
		{URL: dead.URL},
		{URL: dead.URL, Relative: true},
	}, nil, testLogger(), nil)

	_, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.ErrorIs(t, err, ErrUnreachable)
}

func TestCallAttachesBearerToken(t *testing.T) {
	var got string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	})

	c := New(staticCandidates{{URL: srv.URL}}, func() string { return "tok-123" }, testLogger(), nil)

	resp, err := c.Call(context.Background(), http.MethodGet, "/api/threads/", nil, false)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "Bearer tok-123", got)
}

func TestCallOmitsAuthorizationWithoutToken(t *testing.T) {
	var got string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	})

	c := New(staticCandidates{{URL: srv.URL}}, nil, testLogger(), nil)

	resp, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.NoError(t, err)
	resp.Body.Close()
	require.Empty(t, got)
}

func TestGetJSONDecodesBody(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok": true}`))
	})

	c := New(staticCandidates{{URL: srv.URL}}, nil, testLogger(), nil)

	var out struct {
		OK bool `json:"ok"`
	}
	require.NoError(t, c.GetJSON(context.Background(), "/health", &out))
	require.True(t, out.OK)
}

func TestPostJSONDecodesAPIError(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"detail": "Thread not found"}`))
	})

	c := New(staticCandidates{{URL: srv.URL}}, nil, testLogger(), nil)

	err := c.PostJSON(context.Background(), "/api/threads/t1/messages", map[string]string{"content": "hi"}, nil)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	require.Equal(t, http.StatusNotFound, apiErr.Status)
	require.Equal(t, "Thread not found", apiErr.Detail)
}

// collectDurationCount returns the number of recorded request-duration
// samples visible through the manual reader.
func collectDurationCount(t *testing.T, reader *sdkmetric.ManualReader) uint64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "http.client.request.duration" {
				continue
			}
			hist, ok := m.Data.(metricdata.Histogram[float64])
			require.True(t, ok)
			var total uint64
			for _, dp := range hist.DataPoints {
				total += dp.Count
			}
			return total
		}
	}
	return 0
}

func TestCallRecordsDurationOnSuccess(t *testing.T) {
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	c := New(staticCandidates{{URL: srv.URL}}, nil, testLogger(), meter)

	resp, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.NoError(t, err)
	resp.Body.Close()

	require.EqualValues(t, 1, collectDurationCount(t, reader))
}

func TestCallRecordsDurationWhenAllCandidatesFail(t *testing.T) {
	dead := httptest.NewServer(http.NotFoundHandler())
	dead.Close()

	reader := sdkmetric.NewManualReader()
	meter := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader)).Meter("test")

	c := New(staticCandidates{{URL: dead.URL}}, nil, testLogger(), meter)

	_, err := c.Call(context.Background(), http.MethodGet, "/health", nil, false)
	require.ErrorIs(t, err, ErrUnreachable)

	require.EqualValues(t, 1, collectDurationCount(t, reader))
}

func TestStreamSetsAcceptHeader(t *testing.T) {
	var accept string
	srv := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		accept = r.Header.Get("Accept")
	})

	c := New(staticCandidates{{URL: srv.URL}}, nil, testLogger(), nil)

	resp, err := c.Stream(context.Background(), "/api/threads/t1/messages", map[string]any{"content": "hi", "stream": true})
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, "text/event-stream", accept)
}
