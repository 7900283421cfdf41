package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/realtime-price-tracker/internal/storage"
	"github.com/JakeFAU/realtime-price-tracker/internal/tracker"
)

// Store is a mutex-guarded implementation of tracker.Store. Snapshot history
// is kept ordered by observation time.
type Store struct {
	mu        sync.RWMutex
	products  map[int64]tracker.Product
	urls      map[string]int64
	snapshots map[int64][]tracker.PriceSnapshot
	users     map[int64]tracker.User
	alerts    map[int64]tracker.Alert
	lastID    int64

	// beforeCommit runs after a check has been staged but before it becomes
	// visible; an error aborts the commit.
	beforeCommit func(tracker.PriceSnapshot) error
}

var _ tracker.Store = (*Store)(nil)

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		products:  make(map[int64]tracker.Product),
		urls:      make(map[string]int64),
		snapshots: make(map[int64][]tracker.PriceSnapshot),
		users:     make(map[int64]tracker.User),
		alerts:    make(map[int64]tracker.Alert),
	}
}

func (s *Store) nextID() int64 {
	s.lastID++
	return s.lastID
}

// AddProduct registers a product and returns it with its assigned id.
func (s *Store) AddProduct(p tracker.Product) (tracker.Product, error) {
	if strings.TrimSpace(p.URL) == "" {
		return tracker.Product{}, fmt.Errorf("product url is required: %w", storage.ErrInvalidInput)
	}
	if p.TargetPrice <= 0 {
		return tracker.Product{}, fmt.Errorf("target price must be positive: %w", storage.ErrInvalidInput)
	}
	if p.Currency == "" {
		p.Currency = tracker.DefaultCurrency
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.urls[p.URL]; dup {
		return tracker.Product{}, fmt.Errorf("product url %s already tracked: %w", p.URL, storage.ErrInvalidInput)
	}
	p.ID = s.nextID()
	s.products[p.ID] = cloneProduct(p)
	s.urls[p.URL] = p.ID
	return cloneProduct(p), nil
}

// SetProductActive flips a product's active flag.
func (s *Store) SetProductActive(id int64, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return fmt.Errorf("product %d: %w", id, storage.ErrNotFound)
	}
	p.Active = active
	s.products[id] = p
	return nil
}

// AddUser registers a user.
func (s *Store) AddUser(u tracker.User) (tracker.User, error) {
	if u.NotificationPref != "" && !u.NotificationPref.Valid() {
		return tracker.User{}, fmt.Errorf("notification preference %q: %w", u.NotificationPref, storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	u.ID = s.nextID()
	s.users[u.ID] = u
	return u, nil
}

// AddAlert registers an alert for an existing user and product.
func (s *Store) AddAlert(a tracker.Alert) (tracker.Alert, error) {
	if a.TargetPrice <= 0 {
		return tracker.Alert{}, fmt.Errorf("alert target price must be positive: %w", storage.ErrInvalidInput)
	}
	if a.Channel != "" && !a.Channel.Valid() {
		return tracker.Alert{}, fmt.Errorf("alert channel %q: %w", a.Channel, storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[a.UserID]; !ok {
		return tracker.Alert{}, fmt.Errorf("user %d: %w", a.UserID, storage.ErrNotFound)
	}
	if _, ok := s.products[a.ProductID]; !ok {
		return tracker.Alert{}, fmt.Errorf("product %d: %w", a.ProductID, storage.ErrNotFound)
	}
	a.ID = s.nextID()
	s.alerts[a.ID] = a
	return a, nil
}

// GetProduct implements tracker.ProductStore.
func (s *Store) GetProduct(_ context.Context, id int64) (tracker.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[id]
	if !ok {
		return tracker.Product{}, fmt.Errorf("product %d: %w", id, storage.ErrNotFound)
	}
	return cloneProduct(p), nil
}

// ListActiveProducts implements tracker.ProductStore, ordered by id.
func (s *Store) ListActiveProducts(context.Context) ([]tracker.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]tracker.Product, 0, len(s.products))
	for _, p := range s.products {
		if p.Active {
			out = append(out, cloneProduct(p))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListSnapshots implements tracker.ProductStore.
func (s *Store) ListSnapshots(_ context.Context, productID int64, since time.Time) ([]tracker.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history := s.snapshots[productID]
	start := sort.Search(len(history), func(i int) bool { return !history[i].ObservedAt.Before(since) })
	return append([]tracker.PriceSnapshot(nil), history[start:]...), nil
}

// RecordCheck implements tracker.ProductStore. The snapshot and the product
// update are staged on copies and swapped in together.
func (s *Store) RecordCheck(_ context.Context, snap tracker.PriceSnapshot) error {
	if snap.Price <= 0 {
		return fmt.Errorf("snapshot price must be positive: %w", storage.ErrInvalidInput)
	}
	if snap.ObservedAt.IsZero() {
		return fmt.Errorf("snapshot observation time is required: %w", storage.ErrInvalidInput)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	product, ok := s.products[snap.ProductID]
	if !ok {
		return fmt.Errorf("product %d: %w", snap.ProductID, storage.ErrNotFound)
	}

	history := s.snapshots[snap.ProductID]
	staged := make([]tracker.PriceSnapshot, 0, len(history)+1)
	pos := sort.Search(len(history), func(i int) bool { return history[i].ObservedAt.After(snap.ObservedAt) })
	staged = append(staged, history[:pos]...)
	staged = append(staged, snap)
	staged = append(staged, history[pos:]...)

	price := snap.Price
	observed := snap.ObservedAt
	product.CurrentPrice = &price
	product.LastChecked = &observed

	if s.beforeCommit != nil {
		if err := s.beforeCommit(snap); err != nil {
			return fmt.Errorf("record check for product %d: %w", snap.ProductID, err)
		}
	}
	s.snapshots[snap.ProductID] = staged
	s.products[snap.ProductID] = product
	return nil
}

// ActiveAlertsForProduct implements tracker.AlertStore, ordered by id.
func (s *Store) ActiveAlertsForProduct(_ context.Context, productID int64) ([]tracker.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []tracker.Alert
	for _, a := range s.alerts {
		if a.ProductID == productID && a.Active {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ResolveRecipient implements tracker.AlertStore. An alert without its own
// channel uses the owner's notification preference.
func (s *Store) ResolveRecipient(_ context.Context, alert tracker.Alert) (tracker.Recipient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.users[alert.UserID]
	if !ok || !user.Active {
		return tracker.Recipient{}, fmt.Errorf("user %d: %w", alert.UserID, storage.ErrNotFound)
	}
	return recipientFor(user, alert)
}

// Close implements tracker.Store.
func (s *Store) Close() error {
	return nil
}

func recipientFor(user tracker.User, alert tracker.Alert) (tracker.Recipient, error) {
	ch := alert.Channel
	if ch == "" {
		ch = user.NotificationPref
	}
	if !ch.Valid() {
		return tracker.Recipient{}, errors.New("alert has no delivery channel")
	}
	return tracker.Recipient{UserID: user.ID, Channel: ch, Address: user.ContactFor(ch)}, nil
}

func cloneProduct(p tracker.Product) tracker.Product {
	if p.CurrentPrice != nil {
		v := *p.CurrentPrice
		p.CurrentPrice = &v
	}
	if p.LastChecked != nil {
		v := *p.LastChecked
		p.LastChecked = &v
	}
	return p
}
