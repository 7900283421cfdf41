package notify

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

type recordingNotifier struct {
	got []tracker.NotificationIntent
	err error
}

func (r *recordingNotifier) SendPriceAlert(_ context.Context, intent tracker.NotificationIntent) error {
	r.got = append(r.got, intent)
	return r.err
}

func intentFor(ch tracker.Channel, addr string) tracker.NotificationIntent {
	return tracker.NotificationIntent{
		AlertID: 1, ProductID: 2,
		Recipient:   tracker.Recipient{UserID: 3, Channel: ch, Address: addr},
		ProductName: "Espresso Machine", ProductURL: "https://www.amazon.com/dp/E1",
		CurrentPrice: 80, TargetPrice: 85, Currency: "USD",
	}
}

func TestRouterDispatchesByChannel(t *testing.T) {
	t.Parallel()

	email, sms := &recordingNotifier{}, &recordingNotifier{}
	r := NewRouter(zap.NewNop())
	r.Register(tracker.ChannelEmail, email)
	r.Register(tracker.ChannelSMS, sms)

	require.NoError(t, r.SendPriceAlert(context.Background(), intentFor(tracker.ChannelSMS, "+15550100")))
	require.Empty(t, email.got)
	require.Len(t, sms.got, 1)
	require.Equal(t, []tracker.Channel{tracker.ChannelEmail, tracker.ChannelSMS}, r.Channels())
}

func TestRouterErrors(t *testing.T) {
	t.Parallel()

	failing := &recordingNotifier{err: errors.New("gateway down")}
	r := NewRouter(nil)
	r.Register(tracker.ChannelEmail, failing)

	err := r.SendPriceAlert(context.Background(), intentFor(tracker.ChannelPush, "tok"))
	require.ErrorIs(t, err, ErrNoRoute)

	err = r.SendPriceAlert(context.Background(), intentFor(tracker.ChannelEmail, ""))
	require.ErrorIs(t, err, ErrNoAddress)
	require.Empty(t, failing.got)

	err = r.SendPriceAlert(context.Background(), intentFor(tracker.ChannelEmail, "a@example.com"))
	require.ErrorContains(t, err, "gateway down")
}

func TestMessageFormatting(t *testing.T) {
	t.Parallel()

	intent := intentFor(tracker.ChannelEmail, "a@example.com")
	require.Equal(t, "Price Alert: Espresso Machine", Subject(intent))
	require.Equal(t, "Espresso Machine is now 80.00 USD (your target: 85.00 USD).\nhttps://www.amazon.com/dp/E1", Body(intent))
	require.Equal(t, "9.50 USD", FormatPrice(9.5, ""))
}
