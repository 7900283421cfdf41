// Package sqlite implements the tracker store on an embedded SQLite file for
// single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/JakeFAU/realtime-price-tracker/internal/storage"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL DEFAULT '',
	phone TEXT NOT NULL DEFAULT '',
	push_token TEXT NOT NULL DEFAULT '',
	notification_pref TEXT NOT NULL DEFAULT 'email',
	active BOOLEAN NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS products (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL DEFAULT '',
	url TEXT NOT NULL UNIQUE,
	target_price REAL NOT NULL CHECK (target_price > 0),
	current_price REAL,
	currency TEXT NOT NULL DEFAULT 'USD',
	active BOOLEAN NOT NULL DEFAULT 1,
	last_checked INTEGER
);
CREATE TABLE IF NOT EXISTS price_history (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	product_id INTEGER NOT NULL REFERENCES products (id),
	price REAL NOT NULL CHECK (price > 0),
	currency TEXT NOT NULL DEFAULT 'USD',
	available BOOLEAN NOT NULL,
	in_stock BOOLEAN NOT NULL,
	source TEXT NOT NULL DEFAULT '',
	observed_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS price_history_product_time_idx ON price_history (product_id, observed_at);
CREATE TABLE IF NOT EXISTS alerts (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users (id),
	product_id INTEGER NOT NULL REFERENCES products (id),
	target_price REAL NOT NULL CHECK (target_price > 0),
	channel TEXT,
	active BOOLEAN NOT NULL DEFAULT 1
);
`

// Store implements tracker.Store. Timestamps are stored as Unix nanoseconds.
type Store struct {
	db *sql.DB
}

var _ tracker.Store = (*Store)(nil)

// Open opens (creating if needed) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("storage.sqlite.path is required")
	}
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single writer avoids SQLITE_BUSY between concurrent workers.
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply sqlite schema: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks that the database file is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the handle for seeding and administration.
func (s *Store) DB() *sql.DB {
	return s.db
}

type scanner interface {
	Scan(dest ...any) error
}

const productColumns = `id, name, url, target_price, current_price, currency, active, last_checked`

func scanProduct(row scanner) (tracker.Product, error) {
	var (
		p            tracker.Product
		currentPrice sql.NullFloat64
		lastChecked  sql.NullInt64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.URL, &p.TargetPrice, &currentPrice, &p.Currency, &p.Active, &lastChecked); err != nil {
		return tracker.Product{}, err
	}
	if currentPrice.Valid {
		v := currentPrice.Float64
		p.CurrentPrice = &v
	}
	if lastChecked.Valid {
		t := time.Unix(0, lastChecked.Int64).UTC()
		p.LastChecked = &t
	}
	return p, nil
}

// GetProduct implements tracker.ProductStore.
func (s *Store) GetProduct(ctx context.Context, id int64) (tracker.Product, error) {
	p, err := scanProduct(s.db.QueryRowContext(ctx, `SELECT `+productColumns+` FROM products WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return tracker.Product{}, fmt.Errorf("product %d: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return tracker.Product{}, fmt.Errorf("get product %d: %w", id, err)
	}
	return p, nil
}

// ListActiveProducts implements tracker.ProductStore.
func (s *Store) ListActiveProducts(ctx context.Context) ([]tracker.Product, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+productColumns+` FROM products WHERE active = 1 ORDER BY id`)
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
	return out, rows.Err()
}

// ListSnapshots implements tracker.ProductStore.
func (s *Store) ListSnapshots(ctx context.Context, productID int64, since time.Time) ([]tracker.PriceSnapshot, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT product_id, price, currency, available, in_stock, source, observed_at
FROM price_history
WHERE product_id = ? AND observed_at >= ?
ORDER BY observed_at, id`, productID, since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("list snapshots for product %d: %w", productID, err)
	}
	defer rows.Close()
	var out []tracker.PriceSnapshot
	for rows.Next() {
		var (
			snap     tracker.PriceSnapshot
			observed int64
		)
		if err := rows.Scan(&snap.ProductID, &snap.Price, &snap.Currency, &snap.Available,
			&snap.InStock, &snap.Source, &observed); err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snap.ObservedAt = time.Unix(0, observed).UTC()
		out = append(out, snap)
	}
	return out, rows.Err()
}

// RecordCheck implements tracker.ProductStore.
func (s *Store) RecordCheck(ctx context.Context, snap tracker.PriceSnapshot) (err error) {
	if snap.Price <= 0 {
		return fmt.Errorf("snapshot price must be positive: %w", storage.ErrInvalidInput)
	}
	if snap.ObservedAt.IsZero() {
		return fmt.Errorf("snapshot observed_at is required: %w", storage.ErrInvalidInput)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin record check: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				err = errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
			}
		}
	}()

	observed := snap.ObservedAt.UnixNano()
	if _, err = tx.ExecContext(ctx, `
INSERT INTO price_history (product_id, price, currency, available, in_stock, source, observed_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ProductID, snap.Price, snap.Currency, snap.Available, snap.InStock, snap.Source, observed); err != nil {
		return fmt.Errorf("insert snapshot for product %d: %w", snap.ProductID, err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE products SET current_price = ?, last_checked = ? WHERE id = ?`,
		snap.Price, observed, snap.ProductID)
	if err != nil {
		return fmt.Errorf("update product %d: %w", snap.ProductID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update product %d: %w", snap.ProductID, err)
	}
	if n == 0 {
		err = fmt.Errorf("product %d: %w", snap.ProductID, storage.ErrNotFound)
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit record check for product %d: %w", snap.ProductID, err)
	}
	return nil
}

// ActiveAlertsForProduct implements tracker.AlertStore.
func (s *Store) ActiveAlertsForProduct(ctx context.Context, productID int64) ([]tracker.Alert, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, user_id, product_id, target_price, channel, active
FROM alerts WHERE product_id = ? AND active = 1 ORDER BY id`, productID)
	if err != nil {
		return nil, fmt.Errorf("list alerts for product %d: %w", productID, err)
	}
	defer rows.Close()
	var out []tracker.Alert
	for rows.Next() {
		var (
			a       tracker.Alert
			channel sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.UserID, &a.ProductID, &a.TargetPrice, &channel, &a.Active); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Channel = tracker.Channel(channel.String)
		out = append(out, a)
	}
	return out, rows.Err()
}

// ResolveRecipient implements tracker.AlertStore.
func (s *Store) ResolveRecipient(ctx context.Context, alert tracker.Alert) (tracker.Recipient, error) {
	var (
		u    tracker.User
		pref string
	)
	err := s.db.QueryRowContext(ctx, `
SELECT id, email, phone, push_token, notification_pref, active FROM users WHERE id = ?`, alert.UserID).
		Scan(&u.ID, &u.Email, &u.Phone, &u.PushToken, &pref, &u.Active)
	if errors.Is(err, sql.ErrNoRows) || (err == nil && !u.Active) {
		return tracker.Recipient{}, fmt.Errorf("user %d: %w", alert.UserID, storage.ErrNotFound)
	}
	if err != nil {
		return tracker.Recipient{}, fmt.Errorf("resolve recipient for alert %d: %w", alert.ID, err)
	}
	ch := alert.Channel
	if ch == "" {
		ch = tracker.Channel(pref)
	}
	if !ch.Valid() {
		return tracker.Recipient{}, fmt.Errorf("alert %d channel %q: %w", alert.ID, ch, storage.ErrInvalidInput)
	}
	return tracker.Recipient{UserID: u.ID, Channel: ch, Address: u.ContactFor(ch)}, nil
}

// AddProduct inserts a product and returns its id.
func (s *Store) AddProduct(ctx context.Context, p tracker.Product) (int64, error) {
	if p.URL == "" || p.TargetPrice <= 0 {
		return 0, fmt.Errorf("product needs a url and a positive target price: %w", storage.ErrInvalidInput)
	}
	currency := p.Currency
	if currency == "" {
		currency = tracker.DefaultCurrency
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO products (name, url, target_price, currency, active) VALUES (?, ?, ?, ?, ?)`,
		p.Name, p.URL, p.TargetPrice, currency, p.Active)
	if err != nil {
		return 0, fmt.Errorf("insert product: %w", err)
	}
	return res.LastInsertId()
}

// AddUser inserts a user and returns its id.
func (s *Store) AddUser(ctx context.Context, u tracker.User) (int64, error) {
	pref := u.NotificationPref
	if pref == "" {
		pref = tracker.ChannelEmail
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO users (email, phone, push_token, notification_pref, active) VALUES (?, ?, ?, ?, ?)`,
		u.Email, u.Phone, u.PushToken, string(pref), u.Active)
	if err != nil {
		return 0, fmt.Errorf("insert user: %w", err)
	}
	return res.LastInsertId()
}

// AddAlert inserts an alert and returns its id. An empty channel is stored
// as NULL so the owner's preference applies.
func (s *Store) AddAlert(ctx context.Context, a tracker.Alert) (int64, error) {
	var channel any
	if a.Channel != "" {
		channel = string(a.Channel)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (user_id, product_id, target_price, channel, active) VALUES (?, ?, ?, ?, ?)`,
		a.UserID, a.ProductID, a.TargetPrice, channel, a.Active)
	if err != nil {
		return 0, fmt.Errorf("insert alert: %w", err)
	}
	return res.LastInsertId()
}
