package usecase

import (
	"context"
	"errors"
	"fmt"

	"adengine/internal/domain"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/shopspring/decimal"
)

const (
	defaultActivityLimit = 10
	maxActivityLimit     = 50
)

// AdStatsReport holds all-time event totals for one ad.
type AdStatsReport struct {
	AdID        uint            `json:"adId"`
	Impressions int64           `json:"impressions"`
	Clicks      int64           `json:"clicks"`
	Conversions int64           `json:"conversions"`
	CTR         float64         `json:"ctr"`
	SpentTotal  decimal.Decimal `json:"spentTotal"`
	SpentToday  decimal.Decimal `json:"spentToday"`
	Active      bool            `json:"active"`
}

// ActivityQuery is the raw paging input; it is clamped before use.
// ActivityQuery selects one activity page. A nil Limit means the default
// page size; any given limit is clamped to 1..50.
type ActivityQuery struct {
	Limit     *int
	Page      int
	EventType string
}

type ActivityMeta struct {
	Page      int     `json:"page"`
	PerPage   int     `json:"perPage"`
	HasMore   bool    `json:"hasMore"`
	NextPage  *int    `json:"nextPage"`
	EventType *string `json:"eventType"`
}

type ActivityPage struct {
	Data []domain.TrackingEvent `json:"data"`
	Meta ActivityMeta           `json:"meta"`
}

// ReportService answers per-ad reporting queries for authorized viewers.
type ReportService struct {
	adRepo      domain.AdRepository
	accountRepo domain.AccountRepository
	eventRepo   domain.EventRepository
	logger      *logger.Logger
	metrics     *metrics.Metrics
}

// NewReportService creates a new report service
func NewReportService(
	adRepo domain.AdRepository,
	accountRepo domain.AccountRepository,
	eventRepo domain.EventRepository,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *ReportService {
	return &ReportService{
		adRepo:      adRepo,
		accountRepo: accountRepo,
		eventRepo:   eventRepo,
		logger:      logger,
		metrics:     metrics,
	}
}

// AdStats returns impression, click and conversion totals for adID.
func (s *ReportService) AdStats(ctx context.Context, viewerID, adID uint) (*AdStatsReport, error) {
	log := s.logger.WithContext(ctx).WithField("ad_id", adID)

	ad, err := s.authorize(ctx, viewerID, adID)
	if err != nil {
		return nil, err
	}

	totals, err := s.eventRepo.TotalsForAd(ctx, ad.ID)
	if err != nil {
		log.WithError(err).Error("Failed to get ad stats")
		return nil, fmt.Errorf("failed to get ad stats: %w", err)
	}

	report := &AdStatsReport{
		AdID:        ad.ID,
		Impressions: totals.Impression,
		Clicks:      totals.Click,
		Conversions: totals.Conversion,
		SpentTotal:  ad.SpentTotal,
		SpentToday:  ad.SpentToday,
		Active:      ad.Active,
	}
	if totals.Impression > 0 {
		report.CTR = float64(totals.Click) / float64(totals.Impression)
	}

	s.metrics.RecordReportQuery("stats")
	log.Info("Retrieved ad stats")
	return report, nil
}

// AdActivity returns one newest-first page of events for adID.
func (s *ReportService) AdActivity(ctx context.Context, viewerID, adID uint, query ActivityQuery) (*ActivityPage, error) {
	log := s.logger.WithContext(ctx).WithField("ad_id", adID)

	ad, err := s.authorize(ctx, viewerID, adID)
	if err != nil {
		return nil, err
	}

	limit := defaultActivityLimit
	if query.Limit != nil {
		limit = min(max(*query.Limit, 1), maxActivityLimit)
	}
	page := max(query.Page, 1)

	// unknown event types are ignored rather than rejected
	var kind domain.EventKind
	if query.EventType != "" {
		if parsed, err := domain.ParseEventKind(query.EventType); err == nil {
			kind = parsed
		}
	}

	events, err := s.eventRepo.ListForAd(ctx, domain.ActivityFilter{
		AdID:   ad.ID,
		Kind:   kind,
		Limit:  limit + 1,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		log.WithError(err).Error("Failed to get ad activity")
		return nil, fmt.Errorf("failed to get ad activity: %w", err)
	}

	hasMore := len(events) > limit
	if hasMore {
		events = events[:limit]
	}

	meta := ActivityMeta{Page: page, PerPage: limit, HasMore: hasMore}
	if hasMore {
		next := page + 1
		meta.NextPage = &next
	}
	if kind != "" {
		eventType := string(kind)
		meta.EventType = &eventType
	}

	s.metrics.RecordReportQuery("activity")
	log.WithField("count", len(events)).Info("Retrieved ad activity")
	return &ActivityPage{Data: events, Meta: meta}, nil
}

// authorize loads the ad and checks that viewerID may see it.
func (s *ReportService) authorize(ctx context.Context, viewerID, adID uint) (*domain.Ad, error) {
	if adID == 0 {
		return nil, domain.ErrInvalidAdID
	}

	viewer, err := s.accountRepo.FindByID(ctx, viewerID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		return nil, domain.ErrForbidden
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load viewer: %w", err)
	}

	ad, err := s.adRepo.FindByID(ctx, adID)
	if err != nil {
		return nil, err
	}

	if !viewer.CanViewAd(*ad) {
		return nil, domain.ErrForbidden
	}
	return ad, nil
}
