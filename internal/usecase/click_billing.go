package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"adengine/internal/domain"
	"adengine/pkg/config"
	"adengine/pkg/logger"
	"adengine/pkg/metrics"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Decision is the business outcome of one tracked event.
type Decision string

const (
	DecisionRecorded            Decision = "recorded"
	DecisionBilled              Decision = "billed"
	DecisionMissingDevice       Decision = "missing_device"
	DecisionDuplicateClick      Decision = "duplicate_click"
	DecisionNoBid               Decision = "no_bid"
	DecisionNoAdvertiser        Decision = "no_advertiser"
	DecisionTotalBudget         Decision = "total_budget_exceeded"
	DecisionDailyBudget         Decision = "daily_budget_exceeded"
	DecisionInsufficientBalance Decision = "insufficient_balance"
)

// BillingOutcome is what happened to a tracked event. The event is always persisted.
type BillingOutcome struct {
	Event    *domain.TrackingEvent
	Decision Decision
	// AdDeactivated is set when this event switched the ad off.
	AdDeactivated bool
}

func (o BillingOutcome) Billable() bool {
	return o.Event != nil && o.Event.Billable
}

var hundred = decimal.NewFromInt(100)

// ClickBillingEngine validates, deduplicates and settles clicks. Every
// decision for one click runs inside a single store transaction holding the
// ad row, so concurrent clicks on the same ad are serialized.
type ClickBillingEngine struct {
	store    domain.BillingStore
	lock     domain.ClickLock
	window   time.Duration
	location *time.Location
	now      func() time.Time
	logger   *logger.Logger
	metrics  *metrics.Metrics
}

// creates a new click billing engine; lock may be nil
func NewClickBillingEngine(
	store domain.BillingStore,
	lock domain.ClickLock,
	cfg config.BillingConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *ClickBillingEngine {
	location := cfg.Location
	if location == nil {
		location = time.UTC
	}
	window := cfg.DuplicateClickWindow
	if window <= 0 {
		window = 60 * time.Second
	}

	return &ClickBillingEngine{
		store:    store,
		lock:     lock,
		window:   window,
		location: location,
		now:      time.Now,
		logger:   logger,
		metrics:  metrics,
	}
}

// WithClock replaces the time source.
func (e *ClickBillingEngine) WithClock(now func() time.Time) *ClickBillingEngine {
	e.now = now
	return e
}

// Record stores an impression or conversion as-is. They are never billed.
func (e *ClickBillingEngine) Record(ctx context.Context, event *domain.TrackingEvent) (*BillingOutcome, error) {
	e.resetBilling(event)

	err := e.store.InTx(ctx, func(tx domain.BillingTx) error {
		return tx.Append(ctx, event)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to record %s event: %w", event.Kind, err)
	}

	outcome := &BillingOutcome{Event: event, Decision: DecisionRecorded}
	e.report(ctx, outcome)
	return outcome, nil
}

// Bill runs the click state machine for event against its ad. Invalid and
// unbillable clicks are business outcomes and never returned as errors.
func (e *ClickBillingEngine) Bill(ctx context.Context, event *domain.TrackingEvent) (*BillingOutcome, error) {
	e.resetBilling(event)
	event.DeviceID = strings.TrimSpace(event.DeviceID)

	outcome := &BillingOutcome{Event: event}

	if event.DeviceID == "" {
		outcome.Decision = DecisionMissingDevice
		markInvalid(event, domain.ReasonMissingDevice)

		if err := e.store.InTx(ctx, func(tx domain.BillingTx) error {
			return tx.Append(ctx, event)
		}); err != nil {
			return nil, fmt.Errorf("failed to record click: %w", err)
		}
		e.report(ctx, outcome)
		return outcome, nil
	}

	held, owned := e.acquireClickLock(ctx, event)

	err := e.store.InTx(ctx, func(tx domain.BillingTx) error {
		// a retried transaction starts from a clean event
		e.resetBilling(event)
		outcome.Decision = ""
		outcome.AdDeactivated = false

		ad, err := tx.LockAd(ctx, event.AdID)
		if err != nil {
			return err
		}

		duplicate := !held
		if !duplicate {
			since := event.CreatedAt.Add(-e.window)
			duplicate, err = tx.RecentClickExists(ctx, ad.ID, event.DeviceID, since)
			if err != nil {
				return fmt.Errorf("failed to look up recent clicks: %w", err)
			}
		}
		if duplicate {
			outcome.Decision = DecisionDuplicateClick
			markInvalid(event, domain.ReasonDuplicateClick)
			return tx.Append(ctx, event)
		}

		if err := e.settle(ctx, tx, ad, event, outcome); err != nil {
			return err
		}
		return tx.Append(ctx, event)
	})
	if err != nil {
		if owned {
			e.releaseClickLock(ctx, event)
		}
		return nil, fmt.Errorf("failed to bill click: %w", err)
	}

	e.report(ctx, outcome)
	return outcome, nil
}

// acquireClickLock reports held=false only when another click already holds
// the (ad, device) pair. Lock errors fall through to the store lookup; owned
// is set when this call took the key.
func (e *ClickBillingEngine) acquireClickLock(ctx context.Context, event *domain.TrackingEvent) (held, owned bool) {
	if e.lock == nil {
		return true, false
	}

	acquired, err := e.lock.Acquire(ctx, event.AdID, event.DeviceID, e.window)
	if err != nil {
		e.logger.WithContext(ctx).WithFields(logrus.Fields{
			"ad_id": event.AdID,
			"error": err.Error(),
		}).Warn("Click lock unavailable, relying on store lookup")
		return true, false
	}
	return acquired, acquired
}

// releaseClickLock frees the key of a click whose transaction failed. The
// caller's context may already be done, so the release gets its own.
func (e *ClickBillingEngine) releaseClickLock(ctx context.Context, event *domain.TrackingEvent) {
	releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err := e.lock.Release(releaseCtx, event.AdID, event.DeviceID); err != nil {
		e.logger.WithContext(ctx).WithFields(logrus.Fields{
			"ad_id": event.AdID,
			"error": err.Error(),
		}).Warn("Failed to release click lock")
	}
}

// settle covers billability, the budget/balance guard, settlement and the
// publisher share. The ad is already locked by the caller.
func (e *ClickBillingEngine) settle(ctx context.Context, tx domain.BillingTx, ad *domain.Ad, event *domain.TrackingEvent, outcome *BillingOutcome) error {
	bid := ad.CPCBid.Round(2)
	if !bid.IsPositive() {
		outcome.Decision = DecisionNoBid
		return nil
	}

	advertiser, err := tx.LockAccount(ctx, ad.AdvertiserID)
	if errors.Is(err, domain.ErrAccountNotFound) {
		outcome.Decision = DecisionNoAdvertiser
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load advertiser: %w", err)
	}

	ad.RollDailySpend(event.CreatedAt.In(e.location).Format(domain.DateLayout))

	if rejection := guard(ad, advertiser, bid); rejection != "" {
		outcome.Decision = rejection
		outcome.AdDeactivated = ad.Active
		ad.Active = false
		if err := tx.SaveAd(ctx, ad); err != nil {
			return fmt.Errorf("failed to deactivate ad: %w", err)
		}
		return nil
	}

	ad.SpentTotal = ad.SpentTotal.Add(bid).Round(2)
	ad.SpentToday = ad.SpentToday.Add(bid).Round(2)
	advertiser.Balance = advertiser.Balance.Sub(bid).Round(2)

	if ad.BudgetExhausted() {
		outcome.AdDeactivated = ad.Active
		ad.Active = false
	}

	event.Billable = true
	event.AdvertiserCharge = bid
	outcome.Decision = DecisionBilled

	partner, err := e.resolvePartner(ctx, tx, event.Partner, advertiser)
	if err != nil {
		return err
	}
	if partner != nil {
		partnerID := partner.ID
		event.PartnerAccountID = &partnerID

		share := min(partner.RevenueShare, 100)
		if share > 0 {
			amount := bid.Mul(decimal.NewFromInt(int64(share))).Div(hundred).Round(2)
			partner.PayoutBalance = partner.PayoutBalance.Add(amount).Round(2)
			event.PublisherAmount = amount
		}
	}

	if err := tx.SaveAd(ctx, ad); err != nil {
		return fmt.Errorf("failed to save ad spend: %w", err)
	}
	if err := tx.SaveAccount(ctx, advertiser); err != nil {
		return fmt.Errorf("failed to save advertiser balance: %w", err)
	}
	if partner != nil && partner != advertiser && event.PublisherAmount.IsPositive() {
		if err := tx.SaveAccount(ctx, partner); err != nil {
			return fmt.Errorf("failed to save partner payout: %w", err)
		}
	}
	return nil
}

// guard returns the first reason charging bid would break a budget or the balance.
func guard(ad *domain.Ad, advertiser *domain.Account, bid decimal.Decimal) Decision {
	if ad.HasTotalBudget() && ad.SpentTotal.Add(bid).Round(2).GreaterThan(ad.TotalBudget) {
		return DecisionTotalBudget
	}
	if ad.HasDailyBudget() && ad.SpentToday.Add(bid).Round(2).GreaterThan(ad.DailyBudget) {
		return DecisionDailyBudget
	}
	if advertiser.Balance.LessThan(bid) {
		return DecisionInsufficientBalance
	}
	return ""
}

// resolvePartner returns nil when the key is blank or unknown. A partner
// that is the advertiser itself shares the already-locked account.
func (e *ClickBillingEngine) resolvePartner(ctx context.Context, tx domain.BillingTx, partnerKey string, advertiser *domain.Account) (*domain.Account, error) {
	partnerKey = strings.TrimSpace(partnerKey)
	if partnerKey == "" || partnerKey == domain.UnknownPartner {
		return nil, nil
	}

	partner, err := tx.LockPartner(ctx, partnerKey)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve partner: %w", err)
	}
	if partner != nil && partner.ID == advertiser.ID {
		return advertiser, nil
	}
	return partner, nil
}

func (e *ClickBillingEngine) resetBilling(event *domain.TrackingEvent) {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = e.now().UTC()
	}
	event.ID = 0
	event.Valid = true
	event.InvalidReason = ""
	event.Billable = false
	event.AdvertiserCharge = decimal.Zero
	event.PublisherAmount = decimal.Zero
	event.PartnerAccountID = nil
}

func markInvalid(event *domain.TrackingEvent, reason domain.InvalidReason) {
	event.Valid = false
	event.InvalidReason = reason
}

func (e *ClickBillingEngine) report(ctx context.Context, outcome *BillingOutcome) {
	event := outcome.Event
	e.metrics.RecordTrackingEvent(string(event.Kind), string(outcome.Decision))
	if event.Billable {
		e.metrics.RecordSettlement(event.AdvertiserCharge, event.PublisherAmount)
	}

	fields := logrus.Fields{
		"event_id":   event.ID,
		"ad_id":      event.AdID,
		"slot_key":   event.SlotKey,
		"event_type": event.Kind,
		"decision":   outcome.Decision,
	}
	if event.Billable {
		fields["advertiser_charge"] = event.AdvertiserCharge.StringFixed(2)
		fields["publisher_amount"] = event.PublisherAmount.StringFixed(2)
	}
	if outcome.AdDeactivated {
		fields["ad_deactivated"] = true
	}

	e.logger.WithContext(ctx).WithFields(fields).Info("Tracking event recorded")
}
