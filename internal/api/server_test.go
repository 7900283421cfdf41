package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/dispatcher"
	queueMemory "github.com/JakeFAU/realtime-price-tracker/internal/queue/memory"
	"github.com/JakeFAU/realtime-price-tracker/internal/storage/memory"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
	"github.com/JakeFAU/realtime-price-tracker/internal/worker"
)

var t0 = time.Date(2026, 4, 6, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

type fakeIDGen struct {
	n atomic.Int64
}

func (f *fakeIDGen) NewID() (string, error) {
	return fmt.Sprintf("req-%d", f.n.Add(1)), nil
}

type nopProcessor struct{}

func (nopProcessor) Process(context.Context, tracker.CheckRequest) (worker.Result, error) {
	return worker.Result{}, nil
}

type fakeRetrainer struct {
	calls atomic.Int64
	err   error
}

func (f *fakeRetrainer) TriggerRetrain(context.Context, int64, string) error {
	f.calls.Add(1)
	return f.err
}

type testEnv struct {
	server    *Server
	queue     *queueMemory.Queue
	store     *memory.Store
	retrainer *fakeRetrainer
	product   tracker.Product
}

func newTestEnv(t *testing.T, queueSize int, opts Options) *testEnv {
	t.Helper()
	store := memory.NewStore()
	product, err := store.AddProduct(tracker.Product{
		Name: "Kettle", URL: "https://www.amazon.com/dp/B000", TargetPrice: 80, Active: true,
	})
	require.NoError(t, err)
	q := queueMemory.NewQueue(queueSize)
	rt := &fakeRetrainer{}
	d, err := dispatcher.New(dispatcher.Deps{
		Queue:     q,
		Processor: nopProcessor{},
		Products:  store,
		Retrainer: rt,
		IDs:       &fakeIDGen{},
		Clock:     &fakeClock{now: t0},
	}, dispatcher.Config{}, zap.NewNop())
	require.NoError(t, err)
	opts.Products = store
	opts.Clock = &fakeClock{now: t0}
	return &testEnv{
		server:    NewServer(d, opts, zap.NewNop()),
		queue:     q,
		store:     store,
		retrainer: rt,
		product:   product,
	}
}

func (e *testEnv) do(method, path string, header http.Header) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestServer_EnqueueCheck_Accepted(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	rec := env.do(http.MethodPost, fmt.Sprintf("/v1/products/%d/check", env.product.ID), nil)

	require.Equal(t, http.StatusAccepted, rec.Code)
	body := decode(t, rec)
	require.Equal(t, "req-1", body["request_id"])
	require.Equal(t, "on_demand", body["cause"])

	req, err := env.queue.Dequeue(context.Background())
	require.NoError(t, err)
	require.Equal(t, env.product.ID, req.ProductID)
	require.Equal(t, tracker.CauseOnDemand, req.Cause)
}

func TestServer_EnqueueCheck_QueueFullReturns429(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, Options{RetryAfter: 90 * time.Second})
	path := fmt.Sprintf("/v1/products/%d/check?cause=manual", env.product.ID)

	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, path, nil).Code)
	rec := env.do(http.MethodPost, path, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "90", rec.Header().Get("Retry-After"))
	require.Equal(t, 1, env.queue.Len())
}

func TestServer_EnqueueCheck_Rejections(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{})
	inactive, err := env.store.AddProduct(tracker.Product{URL: "https://www.ebay.com/itm/9", TargetPrice: 5})
	require.NoError(t, err)

	tests := []struct {
		name string
		path string
		want int
	}{
		{"malformed id", "/v1/products/abc/check", http.StatusBadRequest},
		{"non-positive id", "/v1/products/0/check", http.StatusBadRequest},
		{"internal cause", fmt.Sprintf("/v1/products/%d/check?cause=scheduled_sweep", env.product.ID), http.StatusBadRequest},
		{"unknown product", "/v1/products/999/check", http.StatusNotFound},
		{"inactive product", fmt.Sprintf("/v1/products/%d/check", inactive.ID), http.StatusConflict},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, env.do(http.MethodPost, tt.path, nil).Code)
		})
	}
}

func TestServer_EnqueueSweep(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 8, Options{})
	_, err := env.store.AddProduct(tracker.Product{URL: "https://www.walmart.com/ip/2", TargetPrice: 5, Active: true})
	require.NoError(t, err)

	rec := env.do(http.MethodPost, "/v1/sweeps", nil)
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.EqualValues(t, 2, decode(t, rec)["queued"])
	require.Equal(t, 2, env.queue.Len())
}

func TestServer_EnqueueRetrain(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, Options{})
	path := fmt.Sprintf("/v1/products/%d/retrain", env.product.ID)
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, path, nil).Code)
	require.EqualValues(t, 1, env.retrainer.calls.Load())

	env.retrainer.err = errors.New("broker down")
	require.Equal(t, http.StatusBadGateway, env.do(http.MethodPost, path, nil).Code)
}

func TestServer_ProductReads(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, Options{})
	for i, price := range []float64{100, 95, 90} {
		require.NoError(t, env.store.RecordCheck(context.Background(), tracker.PriceSnapshot{
			ProductID: env.product.ID, Price: price, Currency: "USD", Available: true, InStock: true,
			Source: "amazon", ObservedAt: t0.Add(time.Duration(i-3) * time.Hour),
		}))
	}

	rec := env.do(http.MethodGet, fmt.Sprintf("/v1/products/%d", env.product.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	product := decode(t, rec)["product"].(map[string]any)
	require.EqualValues(t, 90, product["current_price"])

	rec = env.do(http.MethodGet, fmt.Sprintf("/v1/products/%d/history?limit=2", env.product.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	history := decode(t, rec)["history"].([]any)
	require.Len(t, history, 2)
	require.EqualValues(t, 90, history[0].(map[string]any)["price"])

	require.Equal(t, http.StatusNotFound, env.do(http.MethodGet, "/v1/products/999", nil).Code)
	require.Equal(t, http.StatusBadRequest,
		env.do(http.MethodGet, fmt.Sprintf("/v1/products/%d/history?since=yesterday", env.product.ID), nil).Code)
	require.Equal(t, http.StatusBadRequest,
		env.do(http.MethodGet, fmt.Sprintf("/v1/products/%d/history?limit=-1", env.product.ID), nil).Code)
}

func TestServer_APIKeyMiddleware(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 4, Options{APIKey: "secret"})
	path := fmt.Sprintf("/v1/products/%d/check", env.product.ID)

	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/healthz", nil).Code)
	require.Equal(t, http.StatusUnauthorized, env.do(http.MethodPost, path, nil).Code)
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, path, http.Header{"X-Api-Key": {"secret"}}).Code)
	require.Equal(t, http.StatusAccepted, env.do(http.MethodPost, path+"?api_key=secret", nil).Code)
}

func TestServer_Readiness(t *testing.T) {
	t.Parallel()

	var ready atomic.Bool
	env := newTestEnv(t, 1, Options{Ready: func(context.Context) error {
		if !ready.Load() {
			return errors.New("database unreachable")
		}
		return nil
	}})
	require.Equal(t, http.StatusServiceUnavailable, env.do(http.MethodGet, "/readyz", nil).Code)
	ready.Store(true)
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/readyz", nil).Code)
}

func TestServer_MetricsAndEvents(t *testing.T) {
	t.Parallel()

	events := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	env := newTestEnv(t, 1, Options{Events: events})
	require.Equal(t, http.StatusOK, env.do(http.MethodGet, "/metrics", nil).Code)
	require.Equal(t, http.StatusTeapot, env.do(http.MethodGet, "/v1/events", nil).Code)
}

func TestRequestIDMiddlewareSetsHeader(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, 1, Options{})
	rec := env.do(http.MethodGet, "/healthz", nil)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(http.MethodGet, "/healthz", http.Header{"X-Request-Id": {"abc"}})
	require.Equal(t, "abc", rec.Header().Get("X-Request-ID"))
}

func TestRecoverMiddleware(t *testing.T) {
	t.Parallel()

	h := recoverMiddleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestResponseWriterHijackBehavior(t *testing.T) {
	t.Parallel()

	rw := &responseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := rw.Hijack(); err == nil || err.Error() != "hijacker not supported" {
		t.Fatalf("expected unsupported hijacker error, got %v", err)
	}

	h := &hijackableRecorder{ResponseRecorder: httptest.NewRecorder()}
	rw = &responseWriter{ResponseWriter: h}
	conn, buf, err := rw.Hijack()
	if err != nil {
		t.Fatalf("expected successful hijack, got %v", err)
	}
	if err := conn.Close(); err != nil {
		t.Fatalf("close hijacked conn: %v", err)
	}
	if err := h.CloseClient(); err != nil {
		t.Fatalf("close hijacked client: %v", err)
	}
	if buf == nil {
		t.Fatal("expected buf to be non-nil")
	}
}

type hijackableRecorder struct {
	*httptest.ResponseRecorder
	client net.Conn
}

func (h *hijackableRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	server, client := net.Pipe()
	h.client = client
	return server, bufio.NewReadWriter(bufio.NewReader(client), bufio.NewWriter(client)), nil
}

func (h *hijackableRecorder) CloseClient() error {
	if h.client != nil {
		if err := h.client.Close(); err != nil {
			return fmt.Errorf("close hijacker client: %w", err)
		}
	}
	return nil
}
