package domain

import (
	"context"
	"time"
)

// interface for ad lookups
type AdRepository interface {
	FindActiveBySlot(ctx context.Context, slotKey string) ([]Ad, error)
	FindByID(ctx context.Context, id uint) (*Ad, error)
}

// the interface for account lookups
type AccountRepository interface {
	FindByID(ctx context.Context, id uint) (*Account, error)
}

// StatsProvider returns all-time impression and click counters per ad.
// Ads without events may be missing from the result.
type StatsProvider interface {
	AdStats(ctx context.Context, adIDs []uint) (map[uint]AdStats, error)
}

// append-only tracking event storage
type TrackingEventSink interface {
	Append(ctx context.Context, event *TrackingEvent) error
}

// DuplicateClickLookup reports whether a click from deviceID against adID
// was recorded at or after since.
type DuplicateClickLookup interface {
	RecentClickExists(ctx context.Context, adID uint, deviceID string, since time.Time) (bool, error)
}

// ActivityFilter selects a page of events for one ad, newest first.
type ActivityFilter struct {
	AdID   uint
	Kind   EventKind
	Limit  int
	Offset int
}

// interface for reporting queries
type EventRepository interface {
	TrackingEventSink
	TotalsForAd(ctx context.Context, adID uint) (EventTotals, error)
	ListForAd(ctx context.Context, filter ActivityFilter) ([]TrackingEvent, error)
}

// BillingTx is one serialized unit of billing work. Rows returned by the
// Lock* methods stay locked until the transaction ends, so callers must lock
// in the order ad, advertiser, partner.
type BillingTx interface {
	DuplicateClickLookup
	TrackingEventSink
	LockAd(ctx context.Context, id uint) (*Ad, error)
	LockAccount(ctx context.Context, id uint) (*Account, error)
	// LockPartner returns nil, nil when no account owns partnerKey.
	LockPartner(ctx context.Context, partnerKey string) (*Account, error)
	SaveAd(ctx context.Context, ad *Ad) error
	SaveAccount(ctx context.Context, account *Account) error
}

// BillingStore runs fn atomically; any error rolls every write back.
type BillingStore interface {
	InTx(ctx context.Context, fn func(tx BillingTx) error) error
}

// ClickLock is a short-lived per (ad, device) lock taken before billing.
// Acquire returns false when the pair is already held. Release frees a pair
// whose click was never recorded.
type ClickLock interface {
	Acquire(ctx context.Context, adID uint, deviceID string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, adID uint, deviceID string) error
}

// EventPublisher fans recorded events out to downstream consumers.
type EventPublisher interface {
	Publish(ctx context.Context, event *TrackingEvent) error
}
