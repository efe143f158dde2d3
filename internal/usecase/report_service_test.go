package usecase_test

import (
	"context"
	"testing"
	"time"

	"adengine/internal/domain"
	"adengine/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type reportFixture struct {
	*fixture
	service *usecase.ReportService
	owner   *domain.Account
	ad      *domain.Ad
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	f := newFixture(t)
	owner := f.advertiser(t, "50.00")
	ad := f.ad(t, domain.Ad{AdvertiserID: owner.ID, SpentTotal: money("12.50"), SpentToday: money("2.50")})

	return &reportFixture{
		fixture: f,
		service: usecase.NewReportService(f.store, f.store.Accounts(), f.store, f.logger, f.metrics),
		owner:   owner,
		ad:      ad,
	}
}

// seedEvents appends n events of kind, one second apart.
func (r *reportFixture) seedEvents(t *testing.T, kind domain.EventKind, n int) {
	t.Helper()
	for rangeIdx := 0; rangeIdx < n; rangeIdx++ {
		r.clock.Advance(time.Second)
		require.NoError(t, r.store.Append(context.Background(), &domain.TrackingEvent{
			AdID:      r.ad.ID,
			Kind:      kind,
			Valid:     true,
			CreatedAt: r.clock.Now(),
		}))
	}
}

func TestAdStatsReport(t *testing.T) {
	r := newReportFixture(t)
	r.seedEvents(t, domain.EventImpression, 4)
	r.seedEvents(t, domain.EventClick, 1)
	r.seedEvents(t, domain.EventConversion, 2)
	require.NoError(t, r.store.Append(context.Background(), &domain.TrackingEvent{
		AdID:          r.ad.ID,
		Kind:          domain.EventClick,
		InvalidReason: domain.ReasonDuplicateClick,
	}))

	report, err := r.service.AdStats(context.Background(), r.owner.ID, r.ad.ID)
	require.NoError(t, err)

	assert.Equal(t, r.ad.ID, report.AdID)
	assert.Equal(t, int64(4), report.Impressions)
	assert.Equal(t, int64(2), report.Clicks)
	assert.Equal(t, int64(2), report.Conversions)
	assert.InDelta(t, 0.5, report.CTR, 1e-9)
	requireMoney(t, "12.50", report.SpentTotal)
	requireMoney(t, "2.50", report.SpentToday)
	assert.True(t, report.Active)
}

func TestAdStatsWithoutImpressions(t *testing.T) {
	r := newReportFixture(t)

	report, err := r.service.AdStats(context.Background(), r.owner.ID, r.ad.ID)
	require.NoError(t, err)
	assert.Zero(t, report.CTR)
}

func TestReportAuthorization(t *testing.T) {
	r := newReportFixture(t)
	ctx := context.Background()

	admin := &domain.Account{Role: domain.RoleSuperAdmin}
	require.NoError(t, r.store.CreateAccount(ctx, admin))
	stranger := r.advertiser(t, "0")

	t.Run("owner", func(t *testing.T) {
		_, err := r.service.AdStats(ctx, r.owner.ID, r.ad.ID)
		assert.NoError(t, err)
	})

	t.Run("super admin", func(t *testing.T) {
		_, err := r.service.AdActivity(ctx, admin.ID, r.ad.ID, usecase.ActivityQuery{})
		assert.NoError(t, err)
	})

	t.Run("other advertiser", func(t *testing.T) {
		_, err := r.service.AdStats(ctx, stranger.ID, r.ad.ID)
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("unknown viewer", func(t *testing.T) {
		_, err := r.service.AdActivity(ctx, 404, r.ad.ID, usecase.ActivityQuery{})
		assert.ErrorIs(t, err, domain.ErrForbidden)
	})

	t.Run("unknown ad", func(t *testing.T) {
		_, err := r.service.AdStats(ctx, admin.ID, 404)
		assert.ErrorIs(t, err, domain.ErrAdNotFound)
	})

	t.Run("zero ad id", func(t *testing.T) {
		_, err := r.service.AdStats(ctx, admin.ID, 0)
		assert.ErrorIs(t, err, domain.ErrInvalidAdID)
	})
}

func TestAdActivityPaging(t *testing.T) {
	r := newReportFixture(t)
	r.seedEvents(t, domain.EventImpression, 12)
	ctx := context.Background()

	first, err := r.service.AdActivity(ctx, r.owner.ID, r.ad.ID, usecase.ActivityQuery{})
	require.NoError(t, err)

	assert.Len(t, first.Data, 10)
	assert.Equal(t, 1, first.Meta.Page)
	assert.Equal(t, 10, first.Meta.PerPage)
	assert.True(t, first.Meta.HasMore)
	require.NotNil(t, first.Meta.NextPage)
	assert.Equal(t, 2, *first.Meta.NextPage)
	assert.Nil(t, first.Meta.EventType)
	assert.True(t, first.Data[0].CreatedAt.After(first.Data[1].CreatedAt))

	second, err := r.service.AdActivity(ctx, r.owner.ID, r.ad.ID, usecase.ActivityQuery{Page: 2})
	require.NoError(t, err)

	assert.Len(t, second.Data, 2)
	assert.False(t, second.Meta.HasMore)
	assert.Nil(t, second.Meta.NextPage)
	assert.True(t, first.Data[9].CreatedAt.After(second.Data[0].CreatedAt))
}

func TestAdActivityClampsQuery(t *testing.T) {
	r := newReportFixture(t)
	r.seedEvents(t, domain.EventImpression, 3)

	tests := []struct {
		name        string
		query       usecase.ActivityQuery
		wantPage    int
		wantPerPage int
	}{
		{"defaults", usecase.ActivityQuery{}, 1, 10},
		{"zero limit", usecase.ActivityQuery{Limit: intPtr(0)}, 1, 1},
		{"negative values", usecase.ActivityQuery{Limit: intPtr(-5), Page: -1}, 1, 1},
		{"limit capped", usecase.ActivityQuery{Limit: intPtr(500)}, 1, 50},
		{"explicit limit", usecase.ActivityQuery{Limit: intPtr(2), Page: 1}, 1, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := r.service.AdActivity(context.Background(), r.owner.ID, r.ad.ID, tt.query)
			require.NoError(t, err)
			assert.Equal(t, tt.wantPage, page.Meta.Page)
			assert.Equal(t, tt.wantPerPage, page.Meta.PerPage)
		})
	}
}

func intPtr(v int) *int {
	return &v
}

func TestAdActivityEventTypeFilter(t *testing.T) {
	r := newReportFixture(t)
	r.seedEvents(t, domain.EventImpression, 3)
	r.seedEvents(t, domain.EventClick, 2)
	ctx := context.Background()

	clicks, err := r.service.AdActivity(ctx, r.owner.ID, r.ad.ID, usecase.ActivityQuery{EventType: "CLICK"})
	require.NoError(t, err)
	assert.Len(t, clicks.Data, 2)
	require.NotNil(t, clicks.Meta.EventType)
	assert.Equal(t, "click", *clicks.Meta.EventType)
	for _, event := range clicks.Data {
		assert.Equal(t, domain.EventClick, event.Kind)
	}

	all, err := r.service.AdActivity(ctx, r.owner.ID, r.ad.ID, usecase.ActivityQuery{EventType: "bogus"})
	require.NoError(t, err)
	assert.Len(t, all.Data, 5)
	assert.Nil(t, all.Meta.EventType)
}
