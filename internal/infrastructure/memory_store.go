package infrastructure

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"adengine/internal/domain"
	"adengine/pkg/logger"
)

// MemoryStore keeps ads, accounts and tracking events in process memory.
// Billing transactions are serialized by a single writer lock and stage
// their writes until fn returns without error.
type MemoryStore struct {
	mutex    sync.RWMutex
	txMutex  sync.Mutex
	ads      map[uint]domain.Ad
	accounts map[uint]domain.Account
	events   []domain.TrackingEvent
	nextAd   uint
	nextAcct uint
	logger   *logger.Logger
}

// creates a new in-memory store
func NewMemoryStore(logger *logger.Logger) *MemoryStore {
	return &MemoryStore{
		ads:      make(map[uint]domain.Ad),
		accounts: make(map[uint]domain.Account),
		logger:   logger,
	}
}

// CreateAd stores ad, assigning an id when it has none.
func (s *MemoryStore) CreateAd(ctx context.Context, ad *domain.Ad) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if ad.ID == 0 {
		s.nextAd++
		ad.ID = s.nextAd
	} else if ad.ID > s.nextAd {
		s.nextAd = ad.ID
	}
	now := time.Now().UTC()
	if ad.CreatedAt.IsZero() {
		ad.CreatedAt = now
	}
	if ad.UpdatedAt.IsZero() {
		ad.UpdatedAt = ad.CreatedAt
	}
	prepareAd(ad)
	s.ads[ad.ID] = *ad

	s.logger.WithContext(ctx).WithField("ad_id", ad.ID).Debug("Stored ad in memory")
	return nil
}

// CreateAccount stores account, assigning an id when it has none.
func (s *MemoryStore) CreateAccount(ctx context.Context, account *domain.Account) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if account.ID == 0 {
		s.nextAcct++
		account.ID = s.nextAcct
	} else if account.ID > s.nextAcct {
		s.nextAcct = account.ID
	}
	if account.CreatedAt.IsZero() {
		account.CreatedAt = time.Now().UTC()
		account.UpdatedAt = account.CreatedAt
	}
	s.accounts[account.ID] = *account

	s.logger.WithContext(ctx).WithField("account_id", account.ID).Debug("Stored account in memory")
	return nil
}

func (s *MemoryStore) FindActiveBySlot(ctx context.Context, slotKey string) ([]domain.Ad, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var ads []domain.Ad
	for _, ad := range s.ads {
		if ad.Active && ad.SlotKey == slotKey {
			ads = append(ads, ad)
		}
	}
	slices.SortFunc(ads, func(a, b domain.Ad) int {
		return cmp.Compare(a.ID, b.ID)
	})
	return ads, nil
}

func (s *MemoryStore) FindByID(ctx context.Context, id uint) (*domain.Ad, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	ad, ok := s.ads[id]
	if !ok {
		return nil, domain.ErrAdNotFound
	}
	return &ad, nil
}

// Accounts exposes the account lookups, which share method names with ads.
func (s *MemoryStore) Accounts() domain.AccountRepository {
	return memoryAccounts{store: s}
}

type memoryAccounts struct {
	store *MemoryStore
}

func (a memoryAccounts) FindByID(ctx context.Context, id uint) (*domain.Account, error) {
	a.store.mutex.RLock()
	defer a.store.mutex.RUnlock()

	account, ok := a.store.accounts[id]
	if !ok {
		return nil, domain.ErrAccountNotFound
	}
	return &account, nil
}

// partnerLocked expects the caller to hold s.mutex.
func (s *MemoryStore) partnerLocked(partnerKey string) (domain.Account, bool) {
	for _, account := range s.accounts {
		if account.PartnerKey != nil && *account.PartnerKey == partnerKey {
			return account, true
		}
	}
	return domain.Account{}, false
}

// AdStats counts valid impressions and clicks per ad.
func (s *MemoryStore) AdStats(ctx context.Context, adIDs []uint) (map[uint]domain.AdStats, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := make(map[uint]domain.AdStats, len(adIDs))
	for _, event := range s.events {
		if !event.Valid || !slices.Contains(adIDs, event.AdID) {
			continue
		}
		current := stats[event.AdID]
		switch event.Kind {
		case domain.EventImpression:
			current.Impressions++
		case domain.EventClick:
			current.Clicks++
		default:
			continue
		}
		stats[event.AdID] = current
	}
	return stats, nil
}

func (s *MemoryStore) Append(ctx context.Context, event *domain.TrackingEvent) error {
	return s.InTx(ctx, func(tx domain.BillingTx) error {
		return tx.Append(ctx, event)
	})
}

func (s *MemoryStore) TotalsForAd(ctx context.Context, adID uint) (domain.EventTotals, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var totals domain.EventTotals
	for _, event := range s.events {
		if event.AdID != adID {
			continue
		}
		switch event.Kind {
		case domain.EventImpression:
			totals.Impression++
		case domain.EventClick:
			totals.Click++
		case domain.EventConversion:
			totals.Conversion++
		}
	}
	return totals, nil
}

func (s *MemoryStore) ListForAd(ctx context.Context, filter domain.ActivityFilter) ([]domain.TrackingEvent, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var matched []domain.TrackingEvent
	for _, event := range s.events {
		if event.AdID != filter.AdID {
			continue
		}
		if filter.Kind != "" && event.Kind != filter.Kind {
			continue
		}
		matched = append(matched, event)
	}

	// newest first
	slices.SortFunc(matched, func(a, b domain.TrackingEvent) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	start := min(max(filter.Offset, 0), len(matched))
	end := len(matched)
	if filter.Limit > 0 {
		end = min(start+filter.Limit, len(matched))
	}
	return matched[start:end], nil
}

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx domain.BillingTx) error) error {
	s.txMutex.Lock()
	defer s.txMutex.Unlock()

	tx := &memoryTx{
		store:    s,
		ads:      make(map[uint]domain.Ad),
		accounts: make(map[uint]domain.Account),
	}
	if err := fn(tx); err != nil {
		return err
	}

	tx.commit()
	return nil
}

// memoryTx stages writes on top of the committed state.
type memoryTx struct {
	store    *MemoryStore
	ads      map[uint]domain.Ad
	accounts map[uint]domain.Account
	events   []domain.TrackingEvent
}

func (tx *memoryTx) LockAd(ctx context.Context, id uint) (*domain.Ad, error) {
	if ad, ok := tx.ads[id]; ok {
		return &ad, nil
	}
	return tx.store.FindByID(ctx, id)
}

func (tx *memoryTx) LockAccount(ctx context.Context, id uint) (*domain.Account, error) {
	if account, ok := tx.accounts[id]; ok {
		return &account, nil
	}
	return tx.store.Accounts().FindByID(ctx, id)
}

func (tx *memoryTx) LockPartner(ctx context.Context, partnerKey string) (*domain.Account, error) {
	for _, account := range tx.accounts {
		if account.PartnerKey != nil && *account.PartnerKey == partnerKey {
			return &account, nil
		}
	}

	tx.store.mutex.RLock()
	defer tx.store.mutex.RUnlock()

	if account, ok := tx.store.partnerLocked(partnerKey); ok {
		return &account, nil
	}
	return nil, nil
}

func (tx *memoryTx) SaveAd(ctx context.Context, ad *domain.Ad) error {
	ad.UpdatedAt = time.Now().UTC()
	tx.ads[ad.ID] = *ad
	return nil
}

func (tx *memoryTx) SaveAccount(ctx context.Context, account *domain.Account) error {
	account.UpdatedAt = time.Now().UTC()
	tx.accounts[account.ID] = *account
	return nil
}

// RecentClickExists looks for a valid click at or after since.
func (tx *memoryTx) RecentClickExists(ctx context.Context, adID uint, deviceID string, since time.Time) (bool, error) {
	recent := func(event domain.TrackingEvent) bool {
		return event.AdID == adID &&
			event.Kind == domain.EventClick &&
			event.Valid &&
			event.DeviceID == deviceID &&
			!event.CreatedAt.Before(since)
	}

	if slices.ContainsFunc(tx.events, recent) {
		return true, nil
	}

	tx.store.mutex.RLock()
	defer tx.store.mutex.RUnlock()

	return slices.ContainsFunc(tx.store.events, recent), nil
}

func (tx *memoryTx) Append(ctx context.Context, event *domain.TrackingEvent) error {
	tx.store.mutex.RLock()
	next := uint(len(tx.store.events) + len(tx.events) + 1)
	tx.store.mutex.RUnlock()

	event.ID = next
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	tx.events = append(tx.events, *event)
	return nil
}

func (tx *memoryTx) commit() {
	tx.store.mutex.Lock()
	defer tx.store.mutex.Unlock()

	for id, ad := range tx.ads {
		tx.store.ads[id] = ad
	}
	for id, account := range tx.accounts {
		tx.store.accounts[id] = account
	}
	tx.store.events = append(tx.store.events, tx.events...)
}
