package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

func setupIntegrationStore(t *testing.T) *Store {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("tracker"),
		tcpostgres.WithUsername("tracker"),
		tcpostgres.WithPassword("tracker"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("terminate postgres container: %v", err)
		}
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	store, err := New(ctx, Config{DSN: dsn, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.Migrate(ctx))
	// Second run proves the migrations are idempotent.
	require.NoError(t, store.Migrate(ctx))
	return store
}

func TestIntegrationRecordCheckAndAlerts(t *testing.T) {
	store := setupIntegrationStore(t)
	ctx := context.Background()

	var productID, userID int64
	require.NoError(t, store.pool.QueryRow(ctx,
		`INSERT INTO products (name, url, target_price) VALUES ('Kettle', 'https://www.amazon.com/dp/K1', 50) RETURNING id`,
	).Scan(&productID))
	require.NoError(t, store.pool.QueryRow(ctx,
		`INSERT INTO users (email, phone, notification_pref) VALUES ('k@example.com', '+15550100', 'sms') RETURNING id`,
	).Scan(&userID))
	_, err := store.pool.Exec(ctx,
		`INSERT INTO alerts (user_id, product_id, target_price, channel) VALUES ($1, $2, 85, NULL), ($1, $2, 75, 'email')`,
		userID, productID)
	require.NoError(t, err)

	observed := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, store.RecordCheck(ctx, tracker.PriceSnapshot{
		ProductID: productID, Price: 99.99, Currency: "USD", Available: true, InStock: true,
		Source: "amazon", ObservedAt: observed,
	}))

	p, err := store.GetProduct(ctx, productID)
	require.NoError(t, err)
	require.InDelta(t, 99.99, *p.CurrentPrice, 1e-9)
	require.True(t, observed.Equal(*p.LastChecked))

	snaps, err := store.ListSnapshots(ctx, productID, observed.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, snaps, 1)

	alerts, err := store.ActiveAlertsForProduct(ctx, productID)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	r, err := store.ResolveRecipient(ctx, alerts[0])
	require.NoError(t, err)
	require.Equal(t, tracker.ChannelSMS, r.Channel)
	require.Equal(t, "+15550100", r.Address)
}

func TestIntegrationRecordCheckAtomicity(t *testing.T) {
	store := setupIntegrationStore(t)
	ctx := context.Background()

	// The history insert violates the foreign key, so nothing may persist.
	err := store.RecordCheck(ctx, tracker.PriceSnapshot{
		ProductID: 424242, Price: 10, Currency: "USD", ObservedAt: time.Now().UTC(),
	})
	require.Error(t, err)

	var count int
	require.NoError(t, store.pool.QueryRow(ctx, `SELECT count(*) FROM price_history`).Scan(&count))
	require.Zero(t, count)
}
