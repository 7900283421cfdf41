package sinks

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-tracker/internal/progress"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

func dialStream(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + query
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestStreamSinkBroadcastsEvents(t *testing.T) {
	t.Parallel()

	sink := NewStreamSink(StreamConfig{})
	srv := httptest.NewServer(sink)
	defer srv.Close()

	all := dialStream(t, srv, "")
	onlyTwo := dialStream(t, srv, "?product_id=2")
	require.Eventually(t, func() bool { return sink.Subscribers() == 2 }, time.Second, 10*time.Millisecond)

	now := time.Now()
	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{RequestID: "r1", ProductID: 1, Stage: tracker.StageFetching, Platform: "amazon", TS: now},
		{
			RequestID: "r2",
			ProductID: 2,
			Stage:     tracker.StageDone,
			TS:        now,
			Analysis:  &progress.Analysis{Price: 99.99, DriftRatio: 0.1},
		},
	}))

	var msg StreamMessage
	require.NoError(t, all.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, all.ReadJSON(&msg))
	require.Equal(t, "r1", msg.RequestID)
	require.Equal(t, "fetching", msg.Stage)
	require.Equal(t, "amazon", msg.Platform)
	require.NoError(t, all.ReadJSON(&msg))
	require.Equal(t, "r2", msg.RequestID)

	var filtered StreamMessage
	require.NoError(t, onlyTwo.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, onlyTwo.ReadJSON(&filtered))
	require.Equal(t, int64(2), filtered.ProductID)
	require.NotNil(t, filtered.Analysis)
	require.InDelta(t, 99.99, filtered.Analysis.Price, 1e-9)
}

func TestStreamSinkCloseDisconnectsSubscribers(t *testing.T) {
	t.Parallel()

	sink := NewStreamSink(StreamConfig{})
	srv := httptest.NewServer(sink)
	defer srv.Close()

	conn := dialStream(t, srv, "")
	require.Eventually(t, func() bool { return sink.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, sink.Close(context.Background()))
	require.Zero(t, sink.Subscribers())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := conn.ReadMessage()
	require.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected error: %v", err)
}

func TestStreamSinkRejectsBadFilter(t *testing.T) {
	t.Parallel()

	sink := NewStreamSink(StreamConfig{})
	srv := httptest.NewServer(sink)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?product_id=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, 400, resp.StatusCode)
}
