package sms

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-tracker/internal/notify"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

func smsIntent() tracker.NotificationIntent {
	return tracker.NotificationIntent{
		Recipient:    tracker.Recipient{Channel: tracker.ChannelSMS, Address: "+15550100"},
		ProductName:  "Headphones",
		ProductURL:   "https://www.walmart.com/ip/9",
		CurrentPrice: 120,
		TargetPrice:  150,
	}
}

func TestSendPriceAlertPostsGatewayPayload(t *testing.T) {
	t.Parallel()

	got := make(chan map[string]string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		got <- body
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	n, err := New(Config{Endpoint: srv.URL, APIKey: "k-123"})
	require.NoError(t, err)
	require.NoError(t, n.SendPriceAlert(context.Background(), smsIntent()))

	body := <-got
	require.Equal(t, "k-123", body["api_key"])
	require.Equal(t, "+15550100", body["to"])
	require.Equal(t, "PriceTracker", body["from"])
	require.Contains(t, body["message"], "Price Alert: Headphones")
	require.Contains(t, body["message"], "120.00 USD")
}

func TestSendPriceAlertGatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	n, err := New(Config{Endpoint: srv.URL, APIKey: "k"})
	require.NoError(t, err)
	err = n.SendPriceAlert(context.Background(), smsIntent())

	var statusErr *notify.StatusError
	require.True(t, errors.As(err, &statusErr))
	require.Equal(t, http.StatusTooManyRequests, statusErr.Code)
	require.Equal(t, "quota exceeded", statusErr.Body)
}

func TestNewRequiresCredentials(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Endpoint: "https://sms.example.com"})
	require.Error(t, err)
}
