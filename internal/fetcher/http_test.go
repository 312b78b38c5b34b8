package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHTTPFetcher() *httpFetcher {
	return newHTTPFetcher(Options{
		UserAgent:  "test-agent",
		Timeout:    5 * time.Second,
		MaxRetries: 3,
		RatePerSec: 100,
	})
}

func TestHTTPOpen(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		w.Write([]byte("patient_id,sex\np1,F\n"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	rc, err := f.Open(context.Background(), srv.URL+"/patients.csv")
	require.NoError(t, err)
	defer rc.Close()

	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "patient_id,sex\np1,F\n", string(data))
}

func TestHTTPRetryOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	rc, err := f.Open(context.Background(), srv.URL+"/retry")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int32(3), attempts.Load())
}

func TestHTTPRetryOn429(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	rc, err := f.Open(context.Background(), srv.URL+"/throttled")
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, int32(2), attempts.Load())
}

func TestHTTPRetryExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := newHTTPFetcher(Options{MaxRetries: 2, RatePerSec: 100, Timeout: 5 * time.Second})
	_, err := f.Open(context.Background(), srv.URL+"/fail")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "all retries exhausted")
}

func TestHTTPNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	_, err := f.Open(context.Background(), srv.URL+"/forbidden")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 403")
}

func TestHTTPDefaults(t *testing.T) {
	f := newHTTPFetcher(Options{})
	assert.Equal(t, "patient-etl/1.0", f.opts.UserAgent)
	assert.Equal(t, 60*time.Second, f.opts.Timeout)
	assert.Equal(t, 3, f.opts.MaxRetries)
	assert.InDelta(t, 5.0, float64(f.limiter.Limit()), 0.001)
}

func TestHTTPContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := newTestHTTPFetcher()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.Open(ctx, srv.URL+"/data")
	require.Error(t, err)
}
