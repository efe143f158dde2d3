package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type AccountRole string

const (
	RoleSuperAdmin AccountRole = "super_admin"
	RoleClient     AccountRole = "client"
	RolePublisher  AccountRole = "publisher"
)

// Account is an advertiser ("client") or publisher.
type Account struct {
	ID              uint            `json:"id" gorm:"primaryKey"`
	Name            string          `json:"name" gorm:"size:120"`
	Email           string          `json:"email" gorm:"size:254;index"`
	Role            AccountRole     `json:"role" gorm:"size:30;not null;default:client;index"`
	Organization    string          `json:"organization" gorm:"size:120"`
	PartnerKey      *string         `json:"partner_key,omitempty" gorm:"size:120;uniqueIndex"`
	RevenueShare    int             `json:"revenue_share" gorm:"not null;default:60"`
	PayoutThreshold decimal.Decimal `json:"payout_threshold" gorm:"type:decimal(12,2);not null;default:0"`
	Balance         decimal.Decimal `json:"balance" gorm:"type:decimal(12,2);not null;default:0"`
	PayoutBalance   decimal.Decimal `json:"payout_balance" gorm:"type:decimal(12,2);not null;default:0"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// CanViewAd is the report capability check: admins see everything,
// advertisers only the ads they own.
func (a Account) CanViewAd(ad Ad) bool {
	switch a.Role {
	case RoleSuperAdmin:
		return true
	case RoleClient:
		return ad.AdvertiserID == a.ID
	}
	return false
}
