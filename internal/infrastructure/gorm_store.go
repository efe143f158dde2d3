package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"time"

	"adengine/internal/domain"
	"adengine/pkg/logger"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStore implements every storage interface on a relational database.
// Billing transactions take SELECT ... FOR UPDATE row locks.
type GormStore struct {
	db     *gorm.DB
	logger *logger.Logger
}

func NewGormStore(db *gorm.DB, logger *logger.Logger) *GormStore {
	return &GormStore{db: db, logger: logger}
}

func (s *GormStore) CreateAd(ctx context.Context, ad *domain.Ad) error {
	prepareAd(ad)
	if err := s.db.WithContext(ctx).Create(ad).Error; err != nil {
		return fmt.Errorf("failed to create ad: %w", err)
	}
	return nil
}

func (s *GormStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	if err := s.db.WithContext(ctx).Create(account).Error; err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

func (s *GormStore) FindActiveBySlot(ctx context.Context, slotKey string) ([]domain.Ad, error) {
	var ads []domain.Ad
	err := s.db.WithContext(ctx).
		Where("slot_key = ? AND active = ?", slotKey, true).
		Order("id asc").
		Find(&ads).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query ads by slot: %w", err)
	}
	return ads, nil
}

func (s *GormStore) FindByID(ctx context.Context, id uint) (*domain.Ad, error) {
	return findAd(s.db.WithContext(ctx), id)
}

func findAd(db *gorm.DB, id uint) (*domain.Ad, error) {
	var ad domain.Ad
	if err := db.First(&ad, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAdNotFound
		}
		return nil, fmt.Errorf("failed to query ad: %w", err)
	}
	return &ad, nil
}

func findAccount(db *gorm.DB, id uint) (*domain.Account, error) {
	var account domain.Account
	if err := db.First(&account, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to query account: %w", err)
	}
	return &account, nil
}

func findPartner(db *gorm.DB, partnerKey string) (*domain.Account, error) {
	var account domain.Account
	if err := db.Where("partner_key = ?", partnerKey).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAccountNotFound
		}
		return nil, fmt.Errorf("failed to query partner: %w", err)
	}
	return &account, nil
}

// Accounts exposes the account lookups.
func (s *GormStore) Accounts() domain.AccountRepository {
	return gormAccounts{db: s.db}
}

type gormAccounts struct {
	db *gorm.DB
}

func (a gormAccounts) FindByID(ctx context.Context, id uint) (*domain.Account, error) {
	return findAccount(a.db.WithContext(ctx), id)
}

type eventCount struct {
	AdID      uint
	EventType string
	Total     int64
}

// AdStats counts valid impressions and clicks per ad in one grouped query.
func (s *GormStore) AdStats(ctx context.Context, adIDs []uint) (map[uint]domain.AdStats, error) {
	stats := make(map[uint]domain.AdStats, len(adIDs))
	if len(adIDs) == 0 {
		return stats, nil
	}

	var rows []eventCount
	err := s.db.WithContext(ctx).
		Model(&domain.TrackingEvent{}).
		Select("ad_id, event_type, count(*) as total").
		Where("ad_id IN ? AND is_valid = ? AND event_type IN ?", adIDs, true,
			[]string{string(domain.EventImpression), string(domain.EventClick)}).
		Group("ad_id, event_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate ad stats: %w", err)
	}

	for _, row := range rows {
		current := stats[row.AdID]
		switch domain.EventKind(row.EventType) {
		case domain.EventImpression:
			current.Impressions = row.Total
		case domain.EventClick:
			current.Clicks = row.Total
		}
		stats[row.AdID] = current
	}
	return stats, nil
}

func (s *GormStore) Append(ctx context.Context, event *domain.TrackingEvent) error {
	return appendEvent(s.db.WithContext(ctx), event)
}

func appendEvent(db *gorm.DB, event *domain.TrackingEvent) error {
	if err := db.Create(event).Error; err != nil {
		return fmt.Errorf("failed to insert tracking event: %w", err)
	}
	return nil
}

func (s *GormStore) TotalsForAd(ctx context.Context, adID uint) (domain.EventTotals, error) {
	var rows []eventCount
	err := s.db.WithContext(ctx).
		Model(&domain.TrackingEvent{}).
		Select("ad_id, event_type, count(*) as total").
		Where("ad_id = ?", adID).
		Group("ad_id, event_type").
		Scan(&rows).Error
	if err != nil {
		return domain.EventTotals{}, fmt.Errorf("failed to aggregate event totals: %w", err)
	}

	var totals domain.EventTotals
	for _, row := range rows {
		switch domain.EventKind(row.EventType) {
		case domain.EventImpression:
			totals.Impression = row.Total
		case domain.EventClick:
			totals.Click = row.Total
		case domain.EventConversion:
			totals.Conversion = row.Total
		}
	}
	return totals, nil
}

func (s *GormStore) ListForAd(ctx context.Context, filter domain.ActivityFilter) ([]domain.TrackingEvent, error) {
	query := s.db.WithContext(ctx).Where("ad_id = ?", filter.AdID)
	if filter.Kind != "" {
		query = query.Where("event_type = ?", string(filter.Kind))
	}
	if filter.Limit > 0 {
		query = query.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		query = query.Offset(filter.Offset)
	}

	var events []domain.TrackingEvent
	if err := query.Order("created_at desc, id desc").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("failed to list tracking events: %w", err)
	}
	return events, nil
}

func (s *GormStore) InTx(ctx context.Context, fn func(tx domain.BillingTx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

type gormTx struct {
	db *gorm.DB
}

func (tx *gormTx) forUpdate(ctx context.Context) *gorm.DB {
	return tx.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"})
}

func (tx *gormTx) LockAd(ctx context.Context, id uint) (*domain.Ad, error) {
	return findAd(tx.forUpdate(ctx), id)
}

func (tx *gormTx) LockAccount(ctx context.Context, id uint) (*domain.Account, error) {
	return findAccount(tx.forUpdate(ctx), id)
}

func (tx *gormTx) LockPartner(ctx context.Context, partnerKey string) (*domain.Account, error) {
	account, err := findPartner(tx.forUpdate(ctx), partnerKey)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, nil
	}
	return account, err
}

func (tx *gormTx) SaveAd(ctx context.Context, ad *domain.Ad) error {
	if err := tx.db.WithContext(ctx).Save(ad).Error; err != nil {
		return fmt.Errorf("failed to save ad: %w", err)
	}
	return nil
}

func (tx *gormTx) SaveAccount(ctx context.Context, account *domain.Account) error {
	if err := tx.db.WithContext(ctx).Save(account).Error; err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// RecentClickExists runs inside the ad-locked transaction, so a concurrent
// click on the same ad cannot insert between this check and Append.
func (tx *gormTx) RecentClickExists(ctx context.Context, adID uint, deviceID string, since time.Time) (bool, error) {
	var count int64
	err := tx.db.WithContext(ctx).
		Model(&domain.TrackingEvent{}).
		Where("ad_id = ? AND device_id = ? AND event_type = ? AND is_valid = ? AND created_at >= ?",
			adID, deviceID, string(domain.EventClick), true, since).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("failed to query recent clicks: %w", err)
	}
	return count > 0, nil
}

func (tx *gormTx) Append(ctx context.Context, event *domain.TrackingEvent) error {
	return appendEvent(tx.db.WithContext(ctx), event)
}
