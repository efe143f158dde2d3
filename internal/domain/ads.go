package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type CreativeType string

const (
	CreativeBox   CreativeType = "box"
	CreativeModal CreativeType = "modal"
)

// NormalizeCreativeType maps anything other than "modal" to "box".
func NormalizeCreativeType(raw string) CreativeType {
	if strings.EqualFold(strings.TrimSpace(raw), string(CreativeModal)) {
		return CreativeModal
	}
	return CreativeBox
}

// DateLayout is the layout of the daily spend watermark.
const DateLayout = "2006-01-02"

// Ad is an advertiser creative competing for a slot.
type Ad struct {
	ID           uint   `json:"id" gorm:"primaryKey"`
	AdvertiserID uint   `json:"advertiser_id" gorm:"index"`
	Name         string `json:"name" gorm:"size:160;not null"`
	Headline     string `json:"headline" gorm:"size:255"`
	Description  string `json:"description" gorm:"type:text"`
	ImageURL     string `json:"image_url" gorm:"size:255"`
	CTAURL       string `json:"cta_url" gorm:"size:255"`
	CTALabel     string `json:"cta_label" gorm:"size:80"`

	SlotKey      string       `json:"slot_key" gorm:"size:64;index:idx_ads_slot_active"`
	SlotID       string       `json:"slot_id" gorm:"size:64;uniqueIndex"`
	CreativeType CreativeType `json:"creative_type" gorm:"size:50;default:box"`
	Active       bool         `json:"active" gorm:"index:idx_ads_slot_active"`

	Targeting Targeting `json:"targeting" gorm:"embedded"`

	CPCBid         decimal.Decimal `json:"cpc_bid" gorm:"type:decimal(12,4);not null;default:0"`
	DailyBudget    decimal.Decimal `json:"daily_budget" gorm:"type:decimal(12,2);not null;default:0"`
	TotalBudget    decimal.Decimal `json:"total_budget" gorm:"type:decimal(12,2);not null;default:0"`
	SpentToday     decimal.Decimal `json:"spent_today" gorm:"type:decimal(12,2);not null;default:0"`
	SpentTotal     decimal.Decimal `json:"spent_total" gorm:"type:decimal(12,2);not null;default:0"`
	DailySpendDate string          `json:"daily_spend_date" gorm:"size:10"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LastTouched is UpdatedAt, falling back to CreatedAt.
func (a Ad) LastTouched() time.Time {
	if !a.UpdatedAt.IsZero() {
		return a.UpdatedAt
	}
	return a.CreatedAt
}

func (a Ad) HasTotalBudget() bool {
	return a.TotalBudget.IsPositive()
}

func (a Ad) HasDailyBudget() bool {
	return a.DailyBudget.IsPositive()
}

// BudgetExhausted reports whether spend has reached either configured cap.
func (a Ad) BudgetExhausted() bool {
	if a.HasTotalBudget() && a.SpentTotal.GreaterThanOrEqual(a.TotalBudget) {
		return true
	}
	return a.HasDailyBudget() && a.SpentToday.GreaterThanOrEqual(a.DailyBudget)
}

// RollDailySpend resets SpentToday when the watermark is not today.
func (a *Ad) RollDailySpend(today string) {
	if a.DailySpendDate == today {
		return
	}
	a.SpentToday = decimal.Zero
	a.DailySpendDate = today
}

// CreativePayload is the public part of an ad returned to the embed snippet.
type CreativePayload struct {
	ID           uint         `json:"id"`
	SlotKey      string       `json:"slotKey"`
	SlotID       string       `json:"slotId"`
	Name         string       `json:"name"`
	Headline     string       `json:"headline"`
	Description  string       `json:"description"`
	CreativeType CreativeType `json:"creativeType"`
	ImageURL     string       `json:"imageUrl"`
	CTAURL       string       `json:"ctaUrl"`
	CTALabel     string       `json:"ctaLabel"`
	CPCBid       float64      `json:"cpcBid"`
}

// Payload serializes the ad for delivery, leaving out budget and targeting fields.
func (a Ad) Payload() CreativePayload {
	return CreativePayload{
		ID:           a.ID,
		SlotKey:      a.SlotKey,
		SlotID:       a.SlotID,
		Name:         a.Name,
		Headline:     a.Headline,
		Description:  a.Description,
		CreativeType: NormalizeCreativeType(string(a.CreativeType)),
		ImageURL:     a.ImageURL,
		CTAURL:       a.CTAURL,
		CTALabel:     a.CTALabel,
		CPCBid:       a.CPCBid.InexactFloat64(),
	}
}

// AdStats are all-time counters used by the auction.
type AdStats struct {
	Impressions int64 `json:"impressions"`
	Clicks      int64 `json:"clicks"`
}

// EventTotals are per-kind event counts for reporting.
type EventTotals struct {
	Impression int64 `json:"impression"`
	Click      int64 `json:"click"`
	Conversion int64 `json:"conversion"`
}
