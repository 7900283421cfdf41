package tracker

import (
	"net/http"
	"time"
)

// Channel identifies a notification delivery channel.
type Channel string

// Supported notification channels.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
	ChannelPush  Channel = "push"
)

// Valid reports whether the channel is one of the supported values.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelPush:
		return true
	default:
		return false
	}
}

// Cause records why a check was requested.
type Cause string

// Check causes.
const (
	CauseScheduledSweep Cause = "scheduled_sweep"
	CauseOnDemand       Cause = "on_demand"
	CauseManual         Cause = "manual"
)

// External reports whether the cause originates outside the scheduler.
func (c Cause) External() bool {
	return c == CauseOnDemand || c == CauseManual
}

// DefaultCurrency is used when a product or page does not state one.
const DefaultCurrency = "USD"

// Product is a tracked marketplace listing.
type Product struct {
	ID           int64
	Name         string
	URL          string
	TargetPrice  float64
	CurrentPrice *float64
	Currency     string
	Active       bool
	LastChecked  *time.Time
}

// PriceSnapshot is one immutable observed price for a product.
type PriceSnapshot struct {
	ProductID  int64
	Price      float64
	Currency   string
	Available  bool
	InStock    bool
	Source     string
	ObservedAt time.Time
}

// User owns alerts and carries the contact details for each channel.
type User struct {
	ID               int64
	Email            string
	Phone            string
	PushToken        string
	NotificationPref Channel
	Active           bool
}

// ContactFor returns the user's address on the given channel.
func (u User) ContactFor(ch Channel) string {
	switch ch {
	case ChannelEmail:
		return u.Email
	case ChannelSMS:
		return u.Phone
	case ChannelPush:
		return u.PushToken
	default:
		return ""
	}
}

// Alert asks for a notification once a product reaches a target price.
type Alert struct {
	ID          int64
	UserID      int64
	ProductID   int64
	TargetPrice float64
	Channel     Channel
	Active      bool
}

// Recipient is a resolved delivery address for an alert.
type Recipient struct {
	UserID  int64
	Channel Channel
	Address string
}

// NotificationIntent is a fully resolved price alert ready for dispatch.
type NotificationIntent struct {
	AlertID      int64
	ProductID    int64
	Recipient    Recipient
	ProductName  string
	ProductURL   string
	CurrentPrice float64
	TargetPrice  float64
	Currency     string
}

// CheckRequest is one unit of work owned by the dispatcher.
type CheckRequest struct {
	ID          string
	ProductID   int64
	RequestedAt time.Time
	// Attempt counts the attempts already made for this request.
	Attempt int
	Cause   Cause
}

// ProductSnapshot is the structured result of extracting a product page.
type ProductSnapshot struct {
	Name           string
	Price          float64
	OriginalPrice  *float64
	Availability   string
	Available      bool
	InStock        bool
	ImageURL       string
	Seller         string
	Currency       string
	SourcePlatform string
	ObservedAt     time.Time
}

// PriceSnapshotFor converts an extraction result into the persisted record.
func (s ProductSnapshot) PriceSnapshotFor(productID int64) PriceSnapshot {
	currency := s.Currency
	if currency == "" {
		currency = DefaultCurrency
	}
	return PriceSnapshot{
		ProductID:  productID,
		Price:      s.Price,
		Currency:   currency,
		Available:  s.Available,
		InStock:    s.InStock,
		Source:     s.SourcePlatform,
		ObservedAt: s.ObservedAt,
	}
}

// FetchRequest describes a page fetch.
type FetchRequest struct {
	URL     string
	Headers http.Header
	Proxy   string
}

// FetchResponse captures the result of a page fetch.
type FetchResponse struct {
	URL          string
	StatusCode   int
	Headers      http.Header
	Body         []byte
	Duration     time.Duration
	UsedHeadless bool
}
