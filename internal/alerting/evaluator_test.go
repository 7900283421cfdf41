package alerting

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

type fakeAlertStore struct {
	alerts     []tracker.Alert
	users      map[int64]tracker.User
	listErr    error
	resolveErr map[int64]error
}

func (s *fakeAlertStore) ActiveAlertsForProduct(_ context.Context, productID int64) ([]tracker.Alert, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []tracker.Alert
	for _, a := range s.alerts {
		if a.ProductID == productID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *fakeAlertStore) ResolveRecipient(_ context.Context, alert tracker.Alert) (tracker.Recipient, error) {
	if err := s.resolveErr[alert.ID]; err != nil {
		return tracker.Recipient{}, err
	}
	u := s.users[alert.UserID]
	return tracker.Recipient{UserID: u.ID, Channel: alert.Channel, Address: u.ContactFor(alert.Channel)}, nil
}

var product = tracker.Product{ID: 7, Name: "Desk Lamp", URL: "https://www.amazon.com/dp/LAMP", TargetPrice: 50, Active: true}

func TestFiresBoundary(t *testing.T) {
	t.Parallel()

	require.True(t, Fires(49.99, 50))
	require.True(t, Fires(50.00, 50))
	require.False(t, Fires(50.01, 50))
	require.True(t, Fires(0.1+0.2, 0.3))
}

func TestEvaluateBoundary(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{
		alerts: []tracker.Alert{{ID: 1, UserID: 1, ProductID: 7, TargetPrice: 50, Channel: tracker.ChannelEmail, Active: true}},
		users:  map[int64]tracker.User{1: {ID: 1, Email: "ann@example.com"}},
	}
	e := New(store, zap.NewNop())

	for price, want := range map[float64]int{49.99: 1, 50.00: 1, 50.01: 0} {
		got, err := e.Evaluate(context.Background(), product, price)
		require.NoError(t, err)
		require.Len(t, got, want, "price %.2f", price)
	}
}

func TestEvaluateBuildsIntents(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{
		alerts: []tracker.Alert{
			{ID: 1, UserID: 1, ProductID: 7, TargetPrice: 85, Channel: tracker.ChannelEmail, Active: true},
			{ID: 2, UserID: 2, ProductID: 7, TargetPrice: 75, Channel: tracker.ChannelSMS, Active: true},
			{ID: 3, UserID: 2, ProductID: 7, TargetPrice: 90, Channel: tracker.ChannelPush, Active: false},
			{ID: 4, UserID: 2, ProductID: 8, TargetPrice: 90, Channel: tracker.ChannelSMS, Active: true},
			{ID: 5, UserID: 2, ProductID: 7, TargetPrice: 95, Channel: tracker.ChannelSMS, Active: true},
		},
		users: map[int64]tracker.User{
			1: {ID: 1, Email: "ann@example.com"},
			2: {ID: 2, Phone: "+15550100"},
		},
	}
	e := New(store, zap.NewNop())

	got, err := e.Evaluate(context.Background(), product, 80)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byAlert := map[int64]tracker.NotificationIntent{}
	for _, f := range got {
		byAlert[f.Alert.ID] = f.Intent
	}
	require.Contains(t, byAlert, int64(1))
	require.Contains(t, byAlert, int64(5))
	require.Equal(t, tracker.NotificationIntent{
		AlertID:      1,
		ProductID:    7,
		Recipient:    tracker.Recipient{UserID: 1, Channel: tracker.ChannelEmail, Address: "ann@example.com"},
		ProductName:  "Desk Lamp",
		ProductURL:   "https://www.amazon.com/dp/LAMP",
		CurrentPrice: 80,
		TargetPrice:  85,
		Currency:     "USD",
	}, byAlert[1])
	require.Equal(t, "+15550100", byAlert[5].Recipient.Address)
}

func TestEvaluateSkipsUnresolvableRecipients(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{
		alerts: []tracker.Alert{
			{ID: 1, UserID: 1, ProductID: 7, TargetPrice: 60, Channel: tracker.ChannelSMS, Active: true},
			{ID: 2, UserID: 1, ProductID: 7, TargetPrice: 60, Channel: tracker.ChannelEmail, Active: true},
			{ID: 3, UserID: 9, ProductID: 7, TargetPrice: 60, Channel: tracker.ChannelEmail, Active: true},
		},
		users:      map[int64]tracker.User{1: {ID: 1, Email: "ann@example.com"}},
		resolveErr: map[int64]error{3: errors.New("user deleted")},
	}
	got, err := New(store, nil).Evaluate(context.Background(), product, 55)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, int64(2), got[0].Alert.ID)
}

func TestEvaluatePropagatesStoreErrors(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{listErr: errors.New("db down")}
	_, err := New(store, nil).Evaluate(context.Background(), product, 10)
	require.ErrorContains(t, err, "db down")
}

// Alerts are not deactivated when they fire; the same alert fires on every
// qualifying check.
func TestEvaluateRefiresOnEveryQualifyingCheck(t *testing.T) {
	t.Parallel()

	store := &fakeAlertStore{
		alerts: []tracker.Alert{{ID: 1, UserID: 1, ProductID: 7, TargetPrice: 50, Channel: tracker.ChannelEmail, Active: true}},
		users:  map[int64]tracker.User{1: {ID: 1, Email: "ann@example.com"}},
	}
	e := New(store, nil)
	for i := 0; i < 3; i++ {
		got, err := e.Evaluate(context.Background(), product, 45)
		require.NoError(t, err)
		require.Len(t, got, 1)
	}
	require.True(t, store.alerts[0].Active)
}
