package infrastructure_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"adengine/internal/domain"
	"adengine/internal/infrastructure"
	"adengine/pkg/logger"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type testStore interface {
	domain.AdRepository
	domain.StatsProvider
	domain.EventRepository
	domain.BillingStore
	infrastructure.Seeder
	Accounts() domain.AccountRepository
}

var base = time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)

// newTestDB opens a private in-memory SQLite database with the schema applied.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, infrastructure.Migrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}

// forEachStore runs fn against the in-memory and the SQL store.
func forEachStore(t *testing.T, fn func(t *testing.T, st testStore)) {
	t.Run("memory", func(t *testing.T) {
		fn(t, infrastructure.NewMemoryStore(logger.Discard()))
	})
	t.Run("gorm", func(t *testing.T) {
		fn(t, infrastructure.NewGormStore(newTestDB(t), logger.Discard()))
	})
}

func createAd(t *testing.T, st testStore, ad domain.Ad) *domain.Ad {
	t.Helper()
	require.NoError(t, st.CreateAd(context.Background(), &ad))
	return &ad
}

func createAccount(t *testing.T, st testStore, account domain.Account) *domain.Account {
	t.Helper()
	if account.Role == "" {
		account.Role = domain.RoleClient
	}
	if account.RevenueShare == 0 {
		account.RevenueShare = 60
	}
	require.NoError(t, st.CreateAccount(context.Background(), &account))
	return &account
}

func appendEvent(t *testing.T, st testStore, event domain.TrackingEvent) *domain.TrackingEvent {
	t.Helper()
	require.NoError(t, st.Append(context.Background(), &event))
	return &event
}

func TestStoreCreateAd(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ad := createAd(t, st, domain.Ad{
			Name:         "Launch",
			SlotKey:      "home",
			CreativeType: "Popup",
			Active:       true,
			CPCBid:       decimal.RequireFromString("1.25"),
			Targeting: domain.Targeting{
				Geo:   domain.NewTargetingSet("ID"),
				GAIDs: domain.NewTargetingSet("abc"),
			},
		})

		assert.NotZero(t, ad.ID)
		assert.NotEmpty(t, ad.SlotID)

		stored, err := st.FindByID(context.Background(), ad.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.CreativeBox, stored.CreativeType)
		assert.Equal(t, ad.SlotID, stored.SlotID)
		assert.True(t, stored.CPCBid.Equal(decimal.RequireFromString("1.25")))
		assert.Equal(t, domain.TargetingSet{"id"}, stored.Targeting.Geo)
		assert.Equal(t, domain.TargetingSet{"abc"}, stored.Targeting.GAIDs)
		assert.True(t, stored.Targeting.Cities.IsEmpty())
	})
}

func TestStoreFindActiveBySlot(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		second := createAd(t, st, domain.Ad{Name: "b", SlotKey: "home", Active: true})
		createAd(t, st, domain.Ad{Name: "paused", SlotKey: "home"})
		createAd(t, st, domain.Ad{Name: "other", SlotKey: "sidebar", Active: true})
		third := createAd(t, st, domain.Ad{Name: "c", SlotKey: "home", Active: true})

		ads, err := st.FindActiveBySlot(context.Background(), "home")
		require.NoError(t, err)
		require.Len(t, ads, 2)
		assert.Equal(t, second.ID, ads[0].ID)
		assert.Equal(t, third.ID, ads[1].ID)

		ads, err = st.FindActiveBySlot(context.Background(), "missing")
		require.NoError(t, err)
		assert.Empty(t, ads)
	})
}

func TestStoreLookupsNotFound(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ctx := context.Background()

		_, err := st.FindByID(ctx, 404)
		assert.ErrorIs(t, err, domain.ErrAdNotFound)

		_, err = st.Accounts().FindByID(ctx, 404)
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})
}

func TestStoreAccounts(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		key := "pub-1"
		publisher := createAccount(t, st, domain.Account{
			Name:         "Publisher",
			Email:        "pub@example.com",
			Role:         domain.RolePublisher,
			PartnerKey:   &key,
			RevenueShare: 45,
		})
		createAccount(t, st, domain.Account{Name: "Advertiser", Balance: decimal.NewFromInt(20)})

		found := lockPartner(t, st, "pub-1")
		require.NotNil(t, found)
		assert.Equal(t, publisher.ID, found.ID)
		assert.Equal(t, 45, found.RevenueShare)
		assert.Equal(t, domain.RolePublisher, found.Role)
	})
}

// lockPartner resolves partnerKey the way billing does.
func lockPartner(t *testing.T, st testStore, partnerKey string) *domain.Account {
	t.Helper()
	var found *domain.Account
	require.NoError(t, st.InTx(context.Background(), func(tx domain.BillingTx) error {
		var err error
		found, err = tx.LockPartner(context.Background(), partnerKey)
		return err
	}))
	return found
}

func TestStoreEventCounters(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ctx := context.Background()
		a := createAd(t, st, domain.Ad{Name: "a", SlotKey: "home", Active: true})
		b := createAd(t, st, domain.Ad{Name: "b", SlotKey: "home", Active: true})

		for rangeIdx := 0; rangeIdx < 3; rangeIdx++ {
			appendEvent(t, st, domain.TrackingEvent{AdID: a.ID, Kind: domain.EventImpression, Valid: true, CreatedAt: base})
		}
		appendEvent(t, st, domain.TrackingEvent{AdID: a.ID, Kind: domain.EventClick, Valid: true, DeviceID: "d1", CreatedAt: base})
		appendEvent(t, st, domain.TrackingEvent{
			AdID:          a.ID,
			Kind:          domain.EventClick,
			DeviceID:      "d1",
			InvalidReason: domain.ReasonDuplicateClick,
			CreatedAt:     base,
		})
		appendEvent(t, st, domain.TrackingEvent{AdID: a.ID, Kind: domain.EventConversion, Valid: true, CreatedAt: base})
		appendEvent(t, st, domain.TrackingEvent{AdID: b.ID, Kind: domain.EventImpression, Valid: true, CreatedAt: base})

		stats, err := st.AdStats(ctx, []uint{a.ID, b.ID, 404})
		require.NoError(t, err)
		assert.Equal(t, domain.AdStats{Impressions: 3, Clicks: 1}, stats[a.ID])
		assert.Equal(t, domain.AdStats{Impressions: 1}, stats[b.ID])
		assert.Equal(t, domain.AdStats{}, stats[404])

		totals, err := st.TotalsForAd(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.EventTotals{Impression: 3, Click: 2, Conversion: 1}, totals)
	})
}

func TestStoreListForAd(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ctx := context.Background()
		ad := createAd(t, st, domain.Ad{Name: "a", SlotKey: "home", Active: true})
		other := createAd(t, st, domain.Ad{Name: "b", SlotKey: "home", Active: true})

		kinds := []domain.EventKind{domain.EventImpression, domain.EventClick, domain.EventImpression, domain.EventConversion}
		for i, kind := range kinds {
			appendEvent(t, st, domain.TrackingEvent{AdID: ad.ID, Kind: kind, Valid: true, CreatedAt: base.Add(time.Duration(i) * time.Minute)})
		}
		// same timestamp as the newest; the higher id sorts first
		latest := appendEvent(t, st, domain.TrackingEvent{AdID: ad.ID, Kind: domain.EventImpression, Valid: true, CreatedAt: base.Add(3 * time.Minute)})
		appendEvent(t, st, domain.TrackingEvent{AdID: other.ID, Kind: domain.EventImpression, Valid: true, CreatedAt: base})

		events, err := st.ListForAd(ctx, domain.ActivityFilter{AdID: ad.ID})
		require.NoError(t, err)
		require.Len(t, events, 5)
		assert.Equal(t, latest.ID, events[0].ID)
		assert.Equal(t, domain.EventConversion, events[1].Kind)
		assert.True(t, events[4].CreatedAt.Equal(base))

		page, err := st.ListForAd(ctx, domain.ActivityFilter{AdID: ad.ID, Limit: 2, Offset: 2})
		require.NoError(t, err)
		require.Len(t, page, 2)
		assert.Equal(t, events[2].ID, page[0].ID)
		assert.Equal(t, events[3].ID, page[1].ID)

		impressions, err := st.ListForAd(ctx, domain.ActivityFilter{AdID: ad.ID, Kind: domain.EventImpression})
		require.NoError(t, err)
		assert.Len(t, impressions, 3)

		beyond, err := st.ListForAd(ctx, domain.ActivityFilter{AdID: ad.ID, Limit: 10, Offset: 50})
		require.NoError(t, err)
		assert.Empty(t, beyond)
	})
}

func TestStoreRecentClickExists(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ctx := context.Background()
		ad := createAd(t, st, domain.Ad{Name: "a", SlotKey: "home", Active: true})
		clickAt := base.Add(time.Minute)

		appendEvent(t, st, domain.TrackingEvent{AdID: ad.ID, Kind: domain.EventClick, Valid: true, DeviceID: "d1", CreatedAt: clickAt})
		appendEvent(t, st, domain.TrackingEvent{AdID: ad.ID, Kind: domain.EventImpression, Valid: true, DeviceID: "d2", CreatedAt: clickAt})
		appendEvent(t, st, domain.TrackingEvent{
			AdID:          ad.ID,
			Kind:          domain.EventClick,
			DeviceID:      "d3",
			InvalidReason: domain.ReasonDuplicateClick,
			CreatedAt:     clickAt,
		})

		tests := []struct {
			name     string
			deviceID string
			since    time.Time
			want     bool
		}{
			{"click inside window", "d1", base, true},
			{"click exactly at since", "d1", clickAt, true},
			{"click before window", "d1", clickAt.Add(time.Second), false},
			{"impressions ignored", "d2", base, false},
			{"invalid clicks ignored", "d3", base, false},
			{"other device", "d4", base, false},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				var got bool
				err := st.InTx(ctx, func(tx domain.BillingTx) error {
					var err error
					got, err = tx.RecentClickExists(ctx, ad.ID, tt.deviceID, tt.since)
					return err
				})
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			})
		}
	})
}

func TestStoreTransactionCommits(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ctx := context.Background()
		key := "pub-1"
		advertiser := createAccount(t, st, domain.Account{Name: "adv", Balance: decimal.NewFromInt(20)})
		partner := createAccount(t, st, domain.Account{Name: "pub", Role: domain.RolePublisher, PartnerKey: &key})
		ad := createAd(t, st, domain.Ad{Name: "a", SlotKey: "home", Active: true, AdvertiserID: advertiser.ID})

		event := &domain.TrackingEvent{AdID: ad.ID, Kind: domain.EventClick, Valid: true, DeviceID: "d1", CreatedAt: base}
		err := st.InTx(ctx, func(tx domain.BillingTx) error {
			lockedAd, err := tx.LockAd(ctx, ad.ID)
			if err != nil {
				return err
			}
			account, err := tx.LockAccount(ctx, advertiser.ID)
			if err != nil {
				return err
			}
			found, err := tx.LockPartner(ctx, "pub-1")
			if err != nil {
				return err
			}
			if found == nil || found.ID != partner.ID {
				return errors.New("partner not resolved")
			}
			missing, err := tx.LockPartner(ctx, "nobody")
			if err != nil || missing != nil {
				return errors.New("unknown partner should resolve to nil")
			}

			lockedAd.SpentTotal = decimal.RequireFromString("2.50")
			lockedAd.Active = false
			account.Balance = decimal.RequireFromString("17.50")
			if err := tx.SaveAd(ctx, lockedAd); err != nil {
				return err
			}
			if err := tx.SaveAccount(ctx, account); err != nil {
				return err
			}
			return tx.Append(ctx, event)
		})
		require.NoError(t, err)
		assert.NotZero(t, event.ID)

		stored, err := st.FindByID(ctx, ad.ID)
		require.NoError(t, err)
		assert.True(t, stored.SpentTotal.Equal(decimal.RequireFromString("2.50")))
		assert.False(t, stored.Active)

		account, err := st.Accounts().FindByID(ctx, advertiser.ID)
		require.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.RequireFromString("17.50")))

		totals, err := st.TotalsForAd(ctx, ad.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(1), totals.Click)
	})
}

func TestStoreTransactionRollsBack(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ctx := context.Background()
		advertiser := createAccount(t, st, domain.Account{Name: "adv", Balance: decimal.NewFromInt(20)})
		ad := createAd(t, st, domain.Ad{Name: "a", SlotKey: "home", Active: true, AdvertiserID: advertiser.ID})
		boom := errors.New("boom")

		err := st.InTx(ctx, func(tx domain.BillingTx) error {
			lockedAd, err := tx.LockAd(ctx, ad.ID)
			if err != nil {
				return err
			}
			account, err := tx.LockAccount(ctx, advertiser.ID)
			if err != nil {
				return err
			}
			lockedAd.Active = false
			account.Balance = decimal.Zero
			if err := tx.SaveAd(ctx, lockedAd); err != nil {
				return err
			}
			if err := tx.SaveAccount(ctx, account); err != nil {
				return err
			}
			if err := tx.Append(ctx, &domain.TrackingEvent{AdID: ad.ID, Kind: domain.EventClick, Valid: true, CreatedAt: base}); err != nil {
				return err
			}
			return boom
		})
		require.ErrorIs(t, err, boom)

		stored, err := st.FindByID(ctx, ad.ID)
		require.NoError(t, err)
		assert.True(t, stored.Active)

		account, err := st.Accounts().FindByID(ctx, advertiser.ID)
		require.NoError(t, err)
		assert.True(t, account.Balance.Equal(decimal.NewFromInt(20)))

		totals, err := st.TotalsForAd(ctx, ad.ID)
		require.NoError(t, err)
		assert.Zero(t, totals.Click)
	})
}

func TestStoreLockMissingRows(t *testing.T) {
	forEachStore(t, func(t *testing.T, st testStore) {
		ctx := context.Background()

		err := st.InTx(ctx, func(tx domain.BillingTx) error {
			_, err := tx.LockAd(ctx, 404)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrAdNotFound)

		err = st.InTx(ctx, func(tx domain.BillingTx) error {
			_, err := tx.LockAccount(ctx, 404)
			return err
		})
		assert.ErrorIs(t, err, domain.ErrAccountNotFound)
	})
}
