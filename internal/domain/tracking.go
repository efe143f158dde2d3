package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type EventKind string

const (
	EventImpression EventKind = "impression"
	EventClick      EventKind = "click"
	EventConversion EventKind = "conversion"
)

// ParseEventKind accepts the three known kinds, case-insensitively.
func ParseEventKind(raw string) (EventKind, error) {
	switch kind := EventKind(strings.ToLower(strings.TrimSpace(raw))); kind {
	case EventImpression, EventClick, EventConversion:
		return kind, nil
	}
	return "", ErrInvalidEventKind
}

type InvalidReason string

const (
	ReasonMissingDevice  InvalidReason = "missing_device"
	ReasonDuplicateClick InvalidReason = "duplicate_click"
)

// UnknownPartner is recorded when a request carries no partner key.
const UnknownPartner = "unknown"

// TrackingEvent is an immutable record of one impression, click or conversion.
type TrackingEvent struct {
	ID         uint           `json:"id" gorm:"primaryKey"`
	AdID       uint           `json:"ad_id" gorm:"index:idx_events_dedupe,priority:1;index"`
	SlotKey    string         `json:"slot_key" gorm:"size:64;index"`
	SlotID     string         `json:"slot_id" gorm:"size:64"`
	Kind       EventKind      `json:"event_type" gorm:"column:event_type;size:30;not null;index:idx_events_dedupe,priority:3"`
	DeviceType string         `json:"device_type" gorm:"size:20"`
	DeviceID   string         `json:"device_id" gorm:"size:120;index:idx_events_dedupe,priority:2"`
	Partner    string         `json:"partner" gorm:"size:120"`
	Metadata   datatypes.JSON `json:"metadata"`
	IPAddress  string         `json:"ip_address" gorm:"size:64"`
	UserAgent  string         `json:"user_agent" gorm:"type:text"`

	Valid            bool            `json:"is_valid" gorm:"column:is_valid;not null"`
	InvalidReason    InvalidReason   `json:"invalid_reason,omitempty" gorm:"size:80"`
	Billable         bool            `json:"billable" gorm:"not null;default:false"`
	AdvertiserCharge decimal.Decimal `json:"advertiser_charge" gorm:"type:decimal(12,4);not null;default:0"`
	PublisherAmount  decimal.Decimal `json:"publisher_amount" gorm:"type:decimal(12,4);not null;default:0"`
	PartnerAccountID *uint           `json:"partner_account_id,omitempty" gorm:"column:partner_user_id"`

	CreatedAt time.Time `json:"created_at" gorm:"index:idx_events_dedupe,priority:4"`
}

// VisitorContext describes the page view being served or tracked. It is never persisted.
type VisitorContext struct {
	Country     string   `json:"country"`
	Province    string   `json:"province"`
	City        string   `json:"city"`
	DeviceClass string   `json:"deviceClass"`
	Interests   []string `json:"interests"`
	DeviceType  string   `json:"deviceType"`
	DeviceID    string   `json:"deviceId"`
	IPAddress   string   `json:"-"`
	UserAgent   string   `json:"-"`
}
