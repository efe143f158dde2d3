package usecase

import (
	"cmp"
	"slices"
	"strings"

	"adengine/internal/domain"
	"adengine/pkg/config"

	"github.com/shopspring/decimal"
)

type ctrTier struct {
	minRate decimal.Decimal
	score   decimal.Decimal
}

// AuctionRanker scores eligible ads by bid, historical CTR and category
// relevance and picks a single winner.
type AuctionRanker struct {
	tiers          []ctrTier
	coldStart      decimal.Decimal
	zeroCTR        decimal.Decimal
	lowCTR         decimal.Decimal
	relevanceMatch decimal.Decimal
	relevanceMiss  decimal.Decimal
}

// RankedAd is an ad with the factors that produced its score.
type RankedAd struct {
	Ad             domain.Ad
	Bid            decimal.Decimal
	CTRScore       decimal.Decimal
	RelevanceScore decimal.Decimal
	Score          decimal.Decimal
}

func NewAuctionRanker(cfg config.AuctionConfig) *AuctionRanker {
	tiers := make([]ctrTier, 0, len(cfg.Tiers))
	for _, t := range cfg.Tiers {
		tiers = append(tiers, ctrTier{
			minRate: decimal.NewFromFloat(t.MinRate),
			score:   decimal.NewFromFloat(t.Score),
		})
	}
	slices.SortFunc(tiers, func(a, b ctrTier) int {
		return b.minRate.Cmp(a.minRate)
	})

	return &AuctionRanker{
		tiers:          tiers,
		coldStart:      decimal.NewFromFloat(cfg.ColdStartScore),
		zeroCTR:        decimal.NewFromFloat(cfg.ZeroCTRScore),
		lowCTR:         decimal.NewFromFloat(cfg.LowCTRScore),
		relevanceMatch: decimal.NewFromFloat(cfg.RelevanceMatch),
		relevanceMiss:  decimal.NewFromFloat(cfg.RelevanceMiss),
	}
}

// Select returns the auction winner, or nil for an empty pool.
func (r *AuctionRanker) Select(ads []domain.Ad, category string, stats map[uint]domain.AdStats) *domain.Ad {
	ranked := r.Rank(ads, category, stats)
	if len(ranked) == 0 {
		return nil
	}
	winner := ranked[0].Ad
	return &winner
}

// Rank scores every ad and sorts descending by score, bid, then recency.
// Remaining ties fall back to the lower id so the order is total.
func (r *AuctionRanker) Rank(ads []domain.Ad, category string, stats map[uint]domain.AdStats) []RankedAd {
	ranked := make([]RankedAd, 0, len(ads))
	for _, ad := range ads {
		ranked = append(ranked, r.score(ad, category, stats[ad.ID]))
	}

	slices.SortFunc(ranked, compareRanked)
	return ranked
}

func compareRanked(a, b RankedAd) int {
	if c := b.Score.Cmp(a.Score); c != 0 {
		return c
	}
	if c := b.Bid.Cmp(a.Bid); c != 0 {
		return c
	}
	if c := b.Ad.LastTouched().Compare(a.Ad.LastTouched()); c != 0 {
		return c
	}
	return cmp.Compare(a.Ad.ID, b.Ad.ID)
}

func (r *AuctionRanker) score(ad domain.Ad, category string, stats domain.AdStats) RankedAd {
	bid := ad.CPCBid
	if bid.IsNegative() {
		bid = decimal.Zero
	}
	ctr := r.CTRScore(stats)
	relevance := r.RelevanceScore(ad.Targeting.Interests, category)

	return RankedAd{
		Ad:             ad,
		Bid:            bid,
		CTRScore:       ctr,
		RelevanceScore: relevance,
		Score:          bid.Mul(ctr).Mul(relevance),
	}
}

// CTRScore maps observed click-through rate onto fixed multipliers.
func (r *AuctionRanker) CTRScore(stats domain.AdStats) decimal.Decimal {
	if stats.Impressions <= 0 {
		return r.coldStart
	}
	if stats.Clicks <= 0 {
		return r.zeroCTR
	}

	rate := decimal.NewFromInt(stats.Clicks).Div(decimal.NewFromInt(stats.Impressions))
	for _, tier := range r.tiers {
		if rate.GreaterThanOrEqual(tier.minRate) {
			return tier.score
		}
	}
	return r.lowCTR
}

func (r *AuctionRanker) RelevanceScore(interests domain.TargetingSet, category string) decimal.Decimal {
	if strings.TrimSpace(category) == "" || interests.IsEmpty() {
		return decimal.NewFromInt(1)
	}
	if interests.Contains(category) {
		return r.relevanceMatch
	}
	return r.relevanceMiss
}
