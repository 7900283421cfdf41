package headless

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

func TestNewChromedpDefaults(t *testing.T) {
	t.Parallel()

	_, err := NewChromedp(Config{MaxParallel: -1})
	require.Error(t, err)

	f, err := NewChromedp(Config{MaxParallel: 2})
	require.NoError(t, err)
	require.Equal(t, 2, cap(f.slots))
	require.Equal(t, defaultNavigationTimeout, f.cfg.NavigationTimeout)
	require.Equal(t, 500*time.Millisecond, f.cfg.SettleDelay)
}

func TestAllocatorPerProxy(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{})
	require.NoError(t, err)

	direct, err := f.allocatorFor("")
	require.NoError(t, err)
	again, err := f.allocatorFor("")
	require.NoError(t, err)
	require.Equal(t, direct, again)

	_, err = f.allocatorFor("http://proxy.internal:3128")
	require.NoError(t, err)
	require.Len(t, f.allocators, 2)

	f.Close()
	require.Empty(t, f.allocators)
	_, err = f.allocatorFor("")
	require.Error(t, err)
}

func TestSlotsBoundParallelism(t *testing.T) {
	t.Parallel()

	f, err := NewChromedp(Config{MaxParallel: 1})
	require.NoError(t, err)
	require.NoError(t, f.acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, f.acquire(ctx), context.DeadlineExceeded)

	f.release()
	require.NoError(t, f.acquire(context.Background()))
}

func TestDocumentResponse(t *testing.T) {
	t.Parallel()

	doc := &documentResponse{}
	doc.listen(&network.EventResponseReceived{
		Type:     network.ResourceTypeImage,
		Response: &network.Response{Status: 404, URL: "https://cdn/img.png"},
	})
	doc.listen(&network.EventResponseReceived{
		Type: network.ResourceTypeDocument,
		Response: &network.Response{
			Status:  503,
			URL:     "https://www.amazon.com/errors/validateCaptcha",
			Headers: network.Headers{"X-Amz-Rid": "abc"},
		},
	})
	status, headers, url := doc.result("https://www.amazon.com/dp/1", "")
	require.Equal(t, 503, status)
	require.Equal(t, "abc", headers.Get("X-Amz-Rid"))
	require.Equal(t, "https://www.amazon.com/errors/validateCaptcha", url)

	empty := &documentResponse{}
	status, headers, url = empty.result("https://req", "https://final")
	require.Equal(t, http.StatusOK, status)
	require.NotNil(t, headers)
	require.Equal(t, "https://final", url)
}

func TestNetworkHeaders(t *testing.T) {
	t.Parallel()

	out := networkHeaders(http.Header{"X-One": {"a"}, "X-Many": {"a", "b"}, "X-None": {}})
	require.Equal(t, "a", out["X-One"])
	require.Equal(t, []string{"a", "b"}, out["X-Many"])
	require.NotContains(t, out, "X-None")
}

func TestNoopFetcher(t *testing.T) {
	t.Parallel()

	_, err := NewNoop().Fetch(context.Background(), tracker.FetchRequest{})
	require.ErrorIs(t, err, ErrDisabled)
}
