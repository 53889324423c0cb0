package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
)

// statsStore is the persistence surface the stats engine needs.
// *store.Store satisfies it.
type statsStore interface {
	GetListingIDs(ctx context.Context) ([]int64, error)
	GetPriceHistory(ctx context.Context, listingID int64) ([]models.PriceHistoryRecord, error)
	UpsertStats(ctx context.Context, stats *models.StoreListingStats) error
	UpdateDealScore(ctx context.Context, listingID int64, score float64) error
}

// rankingCache publishes the normalized score ranking.
// *redisclient.Client satisfies it.
type rankingCache interface {
	PublishDealScores(ctx context.Context, scores map[int64]float64, ttl time.Duration) error
}

// StatsEngine recomputes derived aggregates from full price history
// and republishes the global ranking. It is the sole writer of
// StoreListingStats and the ranking cache.
type StatsEngine struct {
	store  statsStore
	cache  rankingCache
	ttl    time.Duration
	logger *zap.Logger
}

// NewStatsEngine creates a new stats engine
func NewStatsEngine(store statsStore, cache rankingCache, ttl time.Duration) *StatsEngine {
	return &StatsEngine{
		store:  store,
		cache:  cache,
		ttl:    ttl,
		logger: util.GetLogger(),
	}
}

// Refresh recomputes aggregates for every listing with history, then
// normalizes deal scores across the batch and rebuilds the ranking
// cache wholesale. Cache publish failure degrades to stats-only; the
// relational aggregates always land.
func (e *StatsEngine) Refresh(ctx context.Context) error {
	ctx, span := util.StartSpan(ctx, "StatsEngine.Refresh")
	defer span.End()

	start := time.Now()
	defer func() {
		util.StatsRefreshDuration.Observe(time.Since(start).Seconds())
	}()

	listingIDs, err := e.store.GetListingIDs(ctx)
	if err != nil {
		return fmt.Errorf("failed to list listings: %w", err)
	}

	now := time.Now()
	rawScores := make(map[int64]float64)

	for _, listingID := range listingIDs {
		history, err := e.store.GetPriceHistory(ctx, listingID)
		if err != nil {
			return fmt.Errorf("failed to load history for listing %d: %w", listingID, err)
		}
		if len(history) == 0 {
			continue
		}

		stats, rawScore := buildListingStats(listingID, history, now)
		if err := e.store.UpsertStats(ctx, &stats); err != nil {
			return fmt.Errorf("failed to upsert stats for listing %d: %w", listingID, err)
		}
		rawScores[listingID] = rawScore
	}

	normalized := NormalizeScores(rawScores)
	for listingID, score := range normalized {
		if err := e.store.UpdateDealScore(ctx, listingID, score); err != nil {
			return fmt.Errorf("failed to persist score for listing %d: %w", listingID, err)
		}
	}

	if err := e.cache.PublishDealScores(ctx, normalized, e.ttl); err != nil {
		util.CachePublishFailures.Inc()
		e.logger.Warn("Failed to publish deal-score cache; stats persisted without it", zap.Error(err))
	}

	e.logger.Info("Stats refresh complete",
		zap.Int("listings", len(rawScores)),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// buildListingStats derives one listing's aggregates from its full
// history (ordered oldest first). The returned raw deal score is
// discount * ln(originalPrice + 1), rewarding both discount depth and
// price magnitude; the log dampens the magnitude term.
func buildListingStats(listingID int64, history []models.PriceHistoryRecord, now time.Time) (models.StoreListingStats, float64) {
	low := history[0]
	for _, row := range history[1:] {
		if row.Price < low.Price {
			low = row
		}
	}

	avg30 := trailingAverage(history, now.AddDate(0, 0, -30))
	avg90 := trailingAverage(history, now.AddDate(0, 0, -90))

	latest := history[len(history)-1]

	discount := 0.0
	if latest.Discount != nil {
		discount = *latest.Discount
	}
	originalPrice := latest.Price
	if latest.OriginalPrice != nil {
		originalPrice = *latest.OriginalPrice
	}
	rawScore := discount * math.Log(originalPrice+1)

	lowSeenAt := low.RecordedAt
	stats := models.StoreListingStats{
		StoreListingID:       listingID,
		AllTimeLowPrice:      low.Price,
		AllTimeLowDiscount:   low.Discount,
		AllTimeLowLastSeenAt: &lowSeenAt,
		Avg30DayPrice:        avg30,
		Avg90DayPrice:        avg90,
		IsAllTimeLow:         latest.Price <= low.Price,
		DealScore:            rawScore,
	}

	return stats, rawScore
}

// trailingAverage computes the mean price of rows recorded at or after
// the cutoff; nil when no rows fall in the window.
func trailingAverage(history []models.PriceHistoryRecord, cutoff time.Time) *float64 {
	sum := 0.0
	count := 0
	for _, row := range history {
		if !row.RecordedAt.Before(cutoff) {
			sum += row.Price
			count++
		}
	}
	if count == 0 {
		return nil
	}
	avg := sum / float64(count)
	return &avg
}

// NormalizeScores scales raw scores to 0-100 against the batch
// maximum. An empty or all-non-positive batch normalizes to zeros.
func NormalizeScores(rawScores map[int64]float64) map[int64]float64 {
	maxRaw := 0.0
	for _, score := range rawScores {
		if score > maxRaw {
			maxRaw = score
		}
	}

	normalized := make(map[int64]float64, len(rawScores))
	for listingID, score := range rawScores {
		if maxRaw > 0 {
			normalized[listingID] = score / maxRaw * 100
		} else {
			normalized[listingID] = 0
		}
	}
	return normalized
}
