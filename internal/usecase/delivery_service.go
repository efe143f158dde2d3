package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"adengine/internal/domain"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// TrackRequest is one inbound impression, click or conversion.
type TrackRequest struct {
	SlotKey   string
	EventType string
	// AdID is an optional hint; zero means resolve by slot.
	AdID       uint
	Visitor    domain.VisitorContext
	PartnerKey string
	Metadata   []byte
}

type TrackResult struct {
	EventID       uint                 `json:"eventId"`
	AdID          uint                 `json:"adId"`
	Billable      bool                 `json:"billable"`
	Valid         bool                 `json:"valid"`
	InvalidReason domain.InvalidReason `json:"invalidReason,omitempty"`
	Decision      Decision             `json:"-"`
}

// DeliveryService picks the ad for a placement and routes tracked events
// into billing.
type DeliveryService struct {
	adRepo    domain.AdRepository
	stats     domain.StatsProvider
	matcher   TargetingMatcher
	ranker    *AuctionRanker
	billing   *ClickBillingEngine
	publisher domain.EventPublisher
	logger    *logger.Logger
	metrics   *metrics.Metrics
}

func NewDeliveryService(
	adRepo domain.AdRepository,
	stats domain.StatsProvider,
	ranker *AuctionRanker,
	billing *ClickBillingEngine,
	publisher domain.EventPublisher,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *DeliveryService {
	return &DeliveryService{
		adRepo:    adRepo,
		stats:     stats,
		matcher:   NewTargetingMatcher(),
		ranker:    ranker,
		billing:   billing,
		publisher: publisher,
		logger:    logger,
		metrics:   metrics,
	}
}

// Serve returns the winning creative for slotKey, or nil when no active ad
// matches the visitor.
func (s *DeliveryService) Serve(ctx context.Context, slotKey string, visitor domain.VisitorContext, category string) (*domain.CreativePayload, error) {
	log := s.logger.WithContext(ctx).WithField("slot_key", slotKey)

	candidates, err := s.adRepo.FindActiveBySlot(ctx, slotKey)
	if err != nil {
		s.metrics.RecordAdRequest("error")
		log.WithError(err).Error("Failed to load candidate ads")
		return nil, fmt.Errorf("failed to load ads for slot %s: %w", slotKey, err)
	}

	eligible := s.matcher.Eligible(candidates, visitor)
	if len(eligible) == 0 {
		s.metrics.RecordAdRequest("no_inventory")
		log.WithField("candidates", len(candidates)).Info("No eligible ad for placement")
		return nil, nil
	}

	ids := make([]uint, 0, len(eligible))
	for _, ad := range eligible {
		ids = append(ids, ad.ID)
	}
	stats, err := s.stats.AdStats(ctx, ids)
	if err != nil {
		s.metrics.RecordAdRequest("error")
		log.WithError(err).Error("Failed to load auction stats")
		return nil, fmt.Errorf("failed to load auction stats: %w", err)
	}

	s.metrics.RecordAuction(len(eligible))
	winner := s.ranker.Select(eligible, category, stats)
	if winner == nil {
		s.metrics.RecordAdRequest("no_inventory")
		return nil, nil
	}

	s.metrics.RecordAdRequest("served")
	log.WithFields(logrus.Fields{
		"ad_id":      winner.ID,
		"candidates": len(candidates),
		"eligible":   len(eligible),
	}).Info("Ad served")

	payload := winner.Payload()
	return &payload, nil
}

// Track validates the event kind, resolves the ad and records the event.
// Clicks go through billing; impressions and conversions are recorded as-is.
func (s *DeliveryService) Track(ctx context.Context, req TrackRequest) (*TrackResult, error) {
	kind, err := domain.ParseEventKind(req.EventType)
	if err != nil {
		return nil, err
	}

	ad, err := s.resolveAd(ctx, req.SlotKey, req.AdID)
	if err != nil {
		return nil, err
	}

	event := &domain.TrackingEvent{
		AdID:       ad.ID,
		SlotKey:    ad.SlotKey,
		SlotID:     ad.SlotID,
		Kind:       kind,
		DeviceType: strings.ToLower(strings.TrimSpace(req.Visitor.DeviceType)),
		DeviceID:   strings.TrimSpace(req.Visitor.DeviceID),
		Partner:    partnerOrUnknown(req.PartnerKey),
		Metadata:   normalizeMetadata(req.Metadata),
		IPAddress:  req.Visitor.IPAddress,
		UserAgent:  req.Visitor.UserAgent,
	}

	var outcome *BillingOutcome
	if kind == domain.EventClick {
		outcome, err = s.billing.Bill(ctx, event)
	} else {
		outcome, err = s.billing.Record(ctx, event)
	}
	if err != nil {
		s.metrics.RecordTrackingEvent(string(kind), "error")
		s.logger.WithContext(ctx).WithError(err).WithFields(logrus.Fields{
			"ad_id":      ad.ID,
			"event_type": kind,
		}).Error("Failed to record tracking event")
		return nil, err
	}

	s.publish(ctx, outcome.Event)

	return &TrackResult{
		EventID:       outcome.Event.ID,
		AdID:          outcome.Event.AdID,
		Billable:      outcome.Event.Billable,
		Valid:         outcome.Event.Valid,
		InvalidReason: outcome.Event.InvalidReason,
		Decision:      outcome.Decision,
	}, nil
}

// resolveAd prefers the hinted ad when it belongs to slotKey, else the
// first active ad of the slot.
func (s *DeliveryService) resolveAd(ctx context.Context, slotKey string, hint uint) (*domain.Ad, error) {
	if hint != 0 {
		ad, err := s.adRepo.FindByID(ctx, hint)
		switch {
		case err == nil && ad.SlotKey == slotKey:
			return ad, nil
		case err != nil && !errors.Is(err, domain.ErrAdNotFound):
			return nil, fmt.Errorf("failed to load ad %d: %w", hint, err)
		}
	}

	ads, err := s.adRepo.FindActiveBySlot(ctx, slotKey)
	if err != nil {
		return nil, fmt.Errorf("failed to load ads for slot %s: %w", slotKey, err)
	}
	if len(ads) == 0 {
		return nil, domain.ErrAdNotFound
	}

	first := ads[0]
	for _, ad := range ads[1:] {
		if ad.ID < first.ID {
			first = ad
		}
	}
	return &first, nil
}

// publish is best effort; the event is already durable.
func (s *DeliveryService) publish(ctx context.Context, event *domain.TrackingEvent) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("event_id", event.ID).Warn("Failed to publish tracking event")
	}
}

func partnerOrUnknown(partnerKey string) string {
	if partnerKey = strings.TrimSpace(partnerKey); partnerKey != "" {
		return partnerKey
	}
	return domain.UnknownPartner
}

func normalizeMetadata(raw []byte) datatypes.JSON {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	return datatypes.JSON(raw)
}
