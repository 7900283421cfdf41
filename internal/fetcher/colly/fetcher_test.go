package collyfetcher

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

func TestFetchReturnsBodyAndForwardsHeaders(t *testing.T) {
	t.Parallel()

	seen := make(chan http.Header, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen <- r.Header.Clone()
		w.Header().Set("X-Served-By", "test")
		_, _ = w.Write([]byte("<html><span id=price>$9.99</span></html>"))
	}))
	defer srv.Close()

	f := New(Config{UserAgent: "price-bot", Timeout: 2 * time.Second})
	resp, err := f.Fetch(context.Background(), tracker.FetchRequest{
		URL:     srv.URL + "/dp/1",
		Headers: http.Header{"Accept-Language": {"en-US,en;q=0.9"}},
	})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(resp.Body), "$9.99")
	require.Equal(t, "test", resp.Headers.Get("X-Served-By"))
	require.False(t, resp.UsedHeadless)
	require.Positive(t, resp.Duration)

	headers := <-seen
	require.Equal(t, "en-US,en;q=0.9", headers.Get("Accept-Language"))
	require.Equal(t, "price-bot", headers.Get("User-Agent"))
}

func TestFetchReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("Robot Check"))
	}))
	defer srv.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), tracker.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	require.Equal(t, "Robot Check", string(resp.Body))
}

func TestFetchRevisitsSameURL(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New(Config{})
	for range 2 {
		_, err := f.Fetch(context.Background(), tracker.FetchRequest{URL: srv.URL})
		require.NoError(t, err)
	}
	require.EqualValues(t, 2, hits.Load())
}

func TestFetchRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	var proxied atomic.Bool
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Forward-proxy requests carry the absolute target URL.
		proxied.Store(r.URL.Host == "shop.invalid")
		_, _ = w.Write([]byte("via proxy"))
	}))
	defer proxy.Close()

	f := New(Config{})
	resp, err := f.Fetch(context.Background(), tracker.FetchRequest{
		URL:   "http://shop.invalid/item",
		Proxy: proxy.URL,
	})
	require.NoError(t, err)
	require.Equal(t, "via proxy", string(resp.Body))
	require.True(t, proxied.Load())
}

func TestFetchRejectsBadProxy(t *testing.T) {
	t.Parallel()

	f := New(Config{})
	_, err := f.Fetch(context.Background(), tracker.FetchRequest{URL: "http://example.com", Proxy: "::"})
	require.Error(t, err)
}

func TestFetchHonoursContext(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	f := New(Config{Timeout: 10 * time.Second})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, tracker.FetchRequest{URL: srv.URL})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}
