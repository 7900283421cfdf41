// Package postgres implements the product, alert and price history store on
// PostgreSQL via pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/realtime-price-tracker/internal/storage"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Config controls the connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// pool is the subset of *pgxpool.Pool the store needs; pgxmock satisfies it.
type pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Store implements tracker.Store.
type Store struct {
	pool pool
}

var _ tracker.Store = (*Store)(nil)

// New connects a pool and verifies it with a ping.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, errors.New("storage.postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := p.Ping(ctx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{pool: p}, nil
}

// NewWithPool wraps an existing pool (primarily for tests).
func NewWithPool(p pool) (*Store, error) {
	if p == nil {
		return nil, errors.New("pool is required")
	}
	return &Store{pool: p}, nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

const productColumns = `id, name, url, target_price, current_price, currency, active, last_checked`

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func scanProduct(row pgx.Row) (tracker.Product, error) {
	var (
		p            tracker.Product
		currentPrice *float64
		lastChecked  *time.Time
	)
	if err := row.Scan(&p.ID, &p.Name, &p.URL, &p.TargetPrice, &currentPrice, &p.Currency, &p.Active, &lastChecked); err != nil {
		return tracker.Product{}, err
	}
	p.CurrentPrice = currentPrice
	p.LastChecked = lastChecked
	return p, nil
}

// GetProduct implements tracker.ProductStore.
func (s *Store) GetProduct(ctx context.Context, id int64) (tracker.Product, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	p, err := scanProduct(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return tracker.Product{}, fmt.Errorf("product %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// ListActiveProducts implements tracker.ProductStore.
func (s *Store) ListActiveProducts(ctx context.Context) ([]tracker.Product, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+productColumns+` FROM products WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	defer rows.Close()
	var out []tracker.Product
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list active products: %w", err)
	}
	return out, nil
}

// ListSnapshots implements tracker.ProductStore.
func (s *Store) ListSnapshots(ctx context.Context, productID int64, since time.Time) ([]tracker.PriceSnapshot, error) {
	rows, err := s.pool.Query(ctx, `
SELECT product_id, price, currency, available, in_stock, source, observed_at
FROM price_history
WHERE product_id = $1 AND observed_at >= $2
ORDER BY observed_at, id`, productID, since)
	if err != nil {
		return nil, fmt.Errorf("list snapshots for product %d: %w", productID, err)
	}
	defer rows.Close()
	var out []tracker.PriceSnapshot
	for rows.Next() {
		var snap tracker.PriceSnapshot
		if err := rows.Scan(&snap.ProductID, &snap.Price, &snap.Currency, &snap.Available,
			&snap.InStock, &snap.Source, &snap.ObservedAt); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list snapshots for product %d: %w", productID, err)
	}
	return out, nil
}

const (
	insertSnapshotSQL = `
INSERT INTO price_history (product_id, price, currency, available, in_stock, source, observed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)`

	updateProductSQL = `
UPDATE products SET current_price = $1, last_checked = $2 WHERE id = $3`
)

// RecordCheck implements tracker.ProductStore. The history insert and the
// product update share one transaction; any failure rolls both back before
// returning.
func (s *Store) RecordCheck(ctx context.Context, snap tracker.PriceSnapshot) error {
	if snap.Price <= 0 {
		return fmt.Errorf("snapshot price must be positive: %w", storage.ErrInvalidInput)
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin record check: %w", err)
	}
	if _, err := tx.Exec(ctx, insertSnapshotSQL, snap.ProductID, snap.Price, snap.Currency,
		snap.Available, snap.InStock, snap.Source, snap.ObservedAt); err != nil {
		return rollback(ctx, tx, fmt.Errorf("insert snapshot for product %d: %w", snap.ProductID, err))
	}
	tag, err := tx.Exec(ctx, updateProductSQL, snap.Price, snap.ObservedAt, snap.ProductID)
	if err != nil {
		return rollback(ctx, tx, fmt.Errorf("update product %d: %w", snap.ProductID, err))
	}
	if tag.RowsAffected() == 0 {
		return rollback(ctx, tx, fmt.Errorf("product %d: %w", snap.ProductID, storage.ErrNotFound))
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit record check for product %d: %w", snap.ProductID, err)
	}
	return nil
}

// rollback aborts tx even when ctx is already done, so a timed-out attempt
// still returns its connection to the pool.
func rollback(ctx context.Context, tx pgx.Tx, cause error) error {
	rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := tx.Rollback(rbCtx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return errors.Join(cause, fmt.Errorf("rollback: %w", err))
	}
	return cause
}

// ActiveAlertsForProduct implements tracker.AlertStore.
func (s *Store) ActiveAlertsForProduct(ctx context.Context, productID int64) ([]tracker.Alert, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, user_id, product_id, target_price, channel, active
FROM alerts
WHERE product_id = $1 AND active
ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list alerts for product %d: %w", productID, err)
	}
	defer rows.Close()
	var out []tracker.Alert
	for rows.Next() {
		var (
			a       tracker.Alert
			channel *string
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProductID, &a.TargetPrice, &channel, &a.Active); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		if channel != nil {
			a.Channel = tracker.Channel(*channel)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list alerts for product %d: %w", productID, err)
	}
	return out, nil
}

// ResolveRecipient implements tracker.AlertStore. An alert without a channel
// falls back to the owner's notification preference.
func (s *Store) ResolveRecipient(ctx context.Context, alert tracker.Alert) (tracker.Recipient, error) {
	var (
		u    tracker.User
		pref string
	)
	err := s.pool.QueryRow(ctx, `
SELECT id, email, phone, push_token, notification_pref, active
FROM users WHERE id = $1`, alert.UserID).Scan(&u.ID, &u.Email, &u.Phone, &u.PushToken, &pref, &u.Active)
	if errors.Is(err, pgx.ErrNoRows) || (err == nil && !u.Active) {
		return tracker.Recipient{}, fmt.Errorf("user %d: %w", alert.UserID, storage.ErrNotFound)
	}
	if err != nil {
		return tracker.Recipient{}, fmt.Errorf("resolve recipient for alert %d: %w", alert.ID, err)
	}
	u.NotificationPref = tracker.Channel(pref)
	ch := alert.Channel
	if ch == "" {
		ch = u.NotificationPref
	}
	if !ch.Valid() {
		return tracker.Recipient{}, fmt.Errorf("alert %d channel %q: %w", alert.ID, ch, storage.ErrInvalidInput)
	}
	return tracker.Recipient{UserID: u.ID, Channel: ch, Address: u.ContactFor(ch)}, nil
}
