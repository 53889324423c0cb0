package store

import (
	"context"
	"database/sql"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

// LatestPriceRecord retrieves the most recent price history row for a
// listing. Returns nil without error when no history exists.
func (s *Store) LatestPriceRecord(ctx context.Context, listingID int64) (*models.PriceHistoryRecord, error) {
	var record models.PriceHistoryRecord
	err := s.db.GetContext(ctx, &record, `
		SELECT * FROM price_history
		WHERE store_listing_id = $1
		ORDER BY recorded_at DESC
		LIMIT 1`, listingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &record, nil
}

// InsertPriceRecord appends one price observation. History rows are
// immutable facts; they are never updated or deleted.
func (s *Store) InsertPriceRecord(ctx context.Context, record *models.PriceHistoryRecord) error {
	query := `
		INSERT INTO price_history (store_listing_id, price, original_price, currency, discount, sale_ends_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, recorded_at`

	return s.db.QueryRowxContext(ctx, query,
		record.StoreListingID, record.Price, record.OriginalPrice,
		record.Currency, record.Discount, record.SaleEndsAt,
	).Scan(&record.ID, &record.RecordedAt)
}

// GetPriceHistory retrieves the full history for a listing, oldest first
func (s *Store) GetPriceHistory(ctx context.Context, listingID int64) ([]models.PriceHistoryRecord, error) {
	var records []models.PriceHistoryRecord
	err := s.db.SelectContext(ctx, &records, `
		SELECT * FROM price_history
		WHERE store_listing_id = $1
		ORDER BY recorded_at ASC`, listingID)
	return records, err
}

// GetStats retrieves the derived aggregates for a listing. Returns nil
// without error when no stats row exists yet.
func (s *Store) GetStats(ctx context.Context, listingID int64) (*models.StoreListingStats, error) {
	var stats models.StoreListingStats
	err := s.db.GetContext(ctx, &stats,
		"SELECT * FROM store_listing_stats WHERE store_listing_id = $1", listingID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

// UpsertStats writes the full aggregate row for a listing, keyed on
// the listing id.
func (s *Store) UpsertStats(ctx context.Context, stats *models.StoreListingStats) error {
	query := `
		INSERT INTO store_listing_stats
			(store_listing_id, all_time_low_price, all_time_low_discount, all_time_low_last_seen_at,
			 avg_30_day_price, avg_90_day_price, is_all_time_low, deal_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (store_listing_id) DO UPDATE SET
			all_time_low_price = EXCLUDED.all_time_low_price,
			all_time_low_discount = EXCLUDED.all_time_low_discount,
			all_time_low_last_seen_at = EXCLUDED.all_time_low_last_seen_at,
			avg_30_day_price = EXCLUDED.avg_30_day_price,
			avg_90_day_price = EXCLUDED.avg_90_day_price,
			is_all_time_low = EXCLUDED.is_all_time_low,
			deal_score = EXCLUDED.deal_score,
			updated_at = NOW()`

	_, err := s.db.ExecContext(ctx, query,
		stats.StoreListingID, stats.AllTimeLowPrice, stats.AllTimeLowDiscount, stats.AllTimeLowLastSeenAt,
		stats.Avg30DayPrice, stats.Avg90DayPrice, stats.IsAllTimeLow, stats.DealScore)
	return err
}

// UpdateDealScore persists the normalized deal score for a listing
func (s *Store) UpdateDealScore(ctx context.Context, listingID int64, score float64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE store_listing_stats SET deal_score = $1, updated_at = NOW() WHERE store_listing_id = $2",
		score, listingID)
	return err
}
