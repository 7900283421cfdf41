package telemetry

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestMiddlewareRecordsRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/products/{id}", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418"))
	req := httptest.NewRequest(http.MethodGet, "/v1/products/42", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusTeapot, rec.Code)
	require.InDelta(t, before+1, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "418")), 1e-9)
	require.Positive(t, testutil.CollectAndCount(httpRequestDurationSeconds))
}

func TestHandlerServesMetrics(t *testing.T) {
	ObserveEnqueue("manual")
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "price_checks_enqueued_total")
}

func TestObserveHelpers(t *testing.T) {
	ObserveNotification("email", nil)
	ObserveNotification("email", errors.New("smtp down"))
	require.GreaterOrEqual(t, testutil.ToFloat64(notificationsTotal.WithLabelValues("email", "failed")), 1.0)

	ObserveFetch("amazon", true, 200, 2*time.Second)
	require.GreaterOrEqual(t, testutil.ToFloat64(fetchesTotal.WithLabelValues("amazon", "headless", "200")), 1.0)

	ObserveRetrain(nil)
	require.GreaterOrEqual(t, testutil.ToFloat64(retrainTotal.WithLabelValues("ok")), 1.0)
}

func TestSanitizeSite(t *testing.T) {
	t.Parallel()

	require.Equal(t, "www.amazon.com", SanitizeSite("https://WWW.Amazon.com/dp/B0"))
	require.Equal(t, "ebay.com", SanitizeSite("ebay.com/itm/1"))
	require.Equal(t, "unknown", SanitizeSite("http://"))
}
