package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/realtime-price-tracker/internal/storage"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

func seedProduct(t *testing.T, s *Store, url string) tracker.Product {
	t.Helper()
	p, err := s.AddProduct(tracker.Product{Name: "Widget", URL: url, TargetPrice: 50, Active: true})
	require.NoError(t, err)
	return p
}

func TestAddProductValidation(t *testing.T) {
	t.Parallel()

	s := NewStore()
	_, err := s.AddProduct(tracker.Product{URL: "https://www.amazon.com/dp/1", TargetPrice: 0})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = s.AddProduct(tracker.Product{TargetPrice: 10})
	require.ErrorIs(t, err, storage.ErrInvalidInput)

	p := seedProduct(t, s, "https://www.amazon.com/dp/1")
	require.Equal(t, tracker.DefaultCurrency, p.Currency)
	require.Nil(t, p.CurrentPrice)

	_, err = s.AddProduct(tracker.Product{URL: "https://www.amazon.com/dp/1", TargetPrice: 5})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestRecordCheckUpdatesProductAndHistory(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	p := seedProduct(t, s, "https://www.ebay.com/itm/1")
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	require.NoError(t, s.RecordCheck(ctx, tracker.PriceSnapshot{ProductID: p.ID, Price: 20, ObservedAt: t0.Add(time.Hour)}))
	// Out-of-order commit still lands in timestamp order.
	require.NoError(t, s.RecordCheck(ctx, tracker.PriceSnapshot{ProductID: p.ID, Price: 10, ObservedAt: t0}))

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.CurrentPrice)
	require.InDelta(t, 10, *got.CurrentPrice, 1e-9)
	require.Equal(t, t0, *got.LastChecked)

	history, err := s.ListSnapshots(ctx, p.ID, time.Time{})
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, t0, history[0].ObservedAt)

	recent, err := s.ListSnapshots(ctx, p.ID, t0.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, recent, 1)
	require.InDelta(t, 20, recent[0].Price, 1e-9)
}

func TestRecordCheckIsAtomic(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	p := seedProduct(t, s, "https://www.walmart.com/ip/1")
	s.beforeCommit = func(tracker.PriceSnapshot) error { return errors.New("connection reset") }

	err := s.RecordCheck(ctx, tracker.PriceSnapshot{ProductID: p.ID, Price: 42, ObservedAt: time.Now()})
	require.Error(t, err)

	got, err := s.GetProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Nil(t, got.CurrentPrice)
	require.Nil(t, got.LastChecked)
	history, err := s.ListSnapshots(ctx, p.ID, time.Time{})
	require.NoError(t, err)
	require.Empty(t, history)
}

func TestRecordCheckRejectsInvalidSnapshots(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	p := seedProduct(t, s, "https://www.amazon.com/dp/2")

	require.ErrorIs(t, s.RecordCheck(ctx, tracker.PriceSnapshot{ProductID: p.ID, Price: 0, ObservedAt: time.Now()}), storage.ErrInvalidInput)
	require.ErrorIs(t, s.RecordCheck(ctx, tracker.PriceSnapshot{ProductID: p.ID, Price: 1}), storage.ErrInvalidInput)
	require.ErrorIs(t, s.RecordCheck(ctx, tracker.PriceSnapshot{ProductID: 999, Price: 1, ObservedAt: time.Now()}), storage.ErrNotFound)
}

func TestListActiveProductsSkipsDeactivated(t *testing.T) {
	t.Parallel()

	s := NewStore()
	a := seedProduct(t, s, "https://a.example/1")
	b := seedProduct(t, s, "https://a.example/2")
	require.NoError(t, s.SetProductActive(a.ID, false))
	require.ErrorIs(t, s.SetProductActive(404, false), storage.ErrNotFound)

	active, err := s.ListActiveProducts(context.Background())
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, b.ID, active[0].ID)
}

func TestAlertsAndRecipients(t *testing.T) {
	t.Parallel()

	s := NewStore()
	ctx := context.Background()
	p := seedProduct(t, s, "https://www.amazon.com/dp/3")
	u, err := s.AddUser(tracker.User{Email: "a@example.com", Phone: "+15550001", NotificationPref: tracker.ChannelSMS, Active: true})
	require.NoError(t, err)

	_, err = s.AddAlert(tracker.Alert{UserID: u.ID, ProductID: p.ID, TargetPrice: -1})
	require.ErrorIs(t, err, storage.ErrInvalidInput)
	_, err = s.AddAlert(tracker.Alert{UserID: 999, ProductID: p.ID, TargetPrice: 1})
	require.ErrorIs(t, err, storage.ErrNotFound)

	email, err := s.AddAlert(tracker.Alert{UserID: u.ID, ProductID: p.ID, TargetPrice: 40, Channel: tracker.ChannelEmail, Active: true})
	require.NoError(t, err)
	pref, err := s.AddAlert(tracker.Alert{UserID: u.ID, ProductID: p.ID, TargetPrice: 30, Active: true})
	require.NoError(t, err)
	_, err = s.AddAlert(tracker.Alert{UserID: u.ID, ProductID: p.ID, TargetPrice: 30, Active: false})
	require.NoError(t, err)

	alerts, err := s.ActiveAlertsForProduct(ctx, p.ID)
	require.NoError(t, err)
	require.Equal(t, []int64{email.ID, pref.ID}, []int64{alerts[0].ID, alerts[1].ID})

	r, err := s.ResolveRecipient(ctx, email)
	require.NoError(t, err)
	require.Equal(t, tracker.Recipient{UserID: u.ID, Channel: tracker.ChannelEmail, Address: "a@example.com"}, r)

	r, err = s.ResolveRecipient(ctx, pref)
	require.NoError(t, err)
	require.Equal(t, tracker.ChannelSMS, r.Channel)
	require.Equal(t, "+15550001", r.Address)
}
