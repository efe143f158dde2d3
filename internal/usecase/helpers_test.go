package usecase_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"adengine/internal/domain"
	"adengine/internal/infrastructure"
	"adengine/internal/usecase"
	"adengine/pkg/config"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 17, 10, 0, 0, 0, time.UTC)

// testClock is a settable time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: testNow}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	store   *infrastructure.MemoryStore
	clock   *testClock
	logger  *logger.Logger
	metrics *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := logger.Discard()
	return &fixture{
		store:   infrastructure.NewMemoryStore(log),
		clock:   newTestClock(),
		logger:  log,
		metrics: metrics.NewWithRegisterer(prometheus.NewRegistry()),
	}
}

func (f *fixture) billingConfig() config.BillingConfig {
	return config.BillingConfig{DuplicateClickWindow: 60 * time.Second, Location: time.UTC}
}

func (f *fixture) engine(lock domain.ClickLock) *usecase.ClickBillingEngine {
	return usecase.NewClickBillingEngine(f.store, lock, f.billingConfig(), f.logger, f.metrics).WithClock(f.clock.Now)
}

func (f *fixture) advertiser(t *testing.T, balance string) *domain.Account {
	t.Helper()
	account := &domain.Account{
		Name:    "Advertiser",
		Role:    domain.RoleClient,
		Balance: decimal.RequireFromString(balance),
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	return account
}

func (f *fixture) publisher(t *testing.T, partnerKey string, share int) *domain.Account {
	t.Helper()
	account := &domain.Account{
		Name:         "Publisher",
		Role:         domain.RolePublisher,
		PartnerKey:   &partnerKey,
		RevenueShare: share,
	}
	require.NoError(t, f.store.CreateAccount(context.Background(), account))
	return account
}

func (f *fixture) ad(t *testing.T, ad domain.Ad) *domain.Ad {
	t.Helper()
	if ad.SlotKey == "" {
		ad.SlotKey = "home"
	}
	ad.Active = true
	require.NoError(t, f.store.CreateAd(context.Background(), &ad))
	return &ad
}

func (f *fixture) reloadAd(t *testing.T, id uint) *domain.Ad {
	t.Helper()
	ad, err := f.store.FindByID(context.Background(), id)
	require.NoError(t, err)
	return ad
}

func (f *fixture) reloadAccount(t *testing.T, id uint) *domain.Account {
	t.Helper()
	account, err := f.store.Accounts().FindByID(context.Background(), id)
	require.NoError(t, err)
	return account
}

func click(ad *domain.Ad, deviceID, partner string) *domain.TrackingEvent {
	return &domain.TrackingEvent{
		AdID:       ad.ID,
		SlotKey:    ad.SlotKey,
		Kind:       domain.EventClick,
		DeviceType: "gaid",
		DeviceID:   deviceID,
		Partner:    partner,
	}
}

func money(value string) decimal.Decimal {
	return decimal.RequireFromString(value)
}

// requireMoney compares decimals numerically.
func requireMoney(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, money(want).Equal(got), "want %s, got %s", want, got.String())
}
