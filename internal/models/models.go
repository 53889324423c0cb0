package models

import "time"

// Game is the canonical title-keyed entity, unique by slug.
type Game struct {
	ID         int64     `db:"id" json:"id"`
	Title      string    `db:"title" json:"title"`
	Slug       string    `db:"slug" json:"slug"`
	SteamAppID *int64    `db:"steam_app_id" json:"steam_app_id,omitempty"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// Store is one tracked storefront. Stores are pre-seeded and never
// created by the pipeline.
type Store struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	BaseURL   string    `db:"base_url" json:"base_url"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// StoreListing is the (Game, Store) pairing, unique on the pair.
type StoreListing struct {
	ID           int64      `db:"id" json:"id"`
	GameID       int64      `db:"game_id" json:"game_id"`
	StoreID      int64      `db:"store_id" json:"store_id"`
	StoreURL     string     `db:"store_url" json:"store_url"`
	StoreGameID  *string    `db:"store_game_id" json:"store_game_id,omitempty"`
	IsAllTimeLow bool       `db:"is_all_time_low" json:"is_all_time_low"`
	ExpiresAt    *time.Time `db:"expires_at" json:"expires_at,omitempty"`
	CreatedAt    time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// PriceHistoryRecord is an append-only observation. One row exists per
// distinct (price, discount) combination seen for a listing; rows are
// never updated or deleted.
type PriceHistoryRecord struct {
	ID             int64      `db:"id" json:"id"`
	StoreListingID int64      `db:"store_listing_id" json:"store_listing_id"`
	Price          float64    `db:"price" json:"price"`
	OriginalPrice  *float64   `db:"original_price" json:"original_price,omitempty"`
	Currency       string     `db:"currency" json:"currency"`
	Discount       *float64   `db:"discount" json:"discount,omitempty"`
	SaleEndsAt     *time.Time `db:"sale_ends_at" json:"sale_ends_at,omitempty"`
	RecordedAt     time.Time  `db:"recorded_at" json:"recorded_at"`
}

// StoreListingStats holds derived aggregates for one listing. Fully
// recomputable from the listing's price history at any time.
type StoreListingStats struct {
	StoreListingID       int64      `db:"store_listing_id" json:"store_listing_id"`
	AllTimeLowPrice      float64    `db:"all_time_low_price" json:"all_time_low_price"`
	AllTimeLowDiscount   *float64   `db:"all_time_low_discount" json:"all_time_low_discount,omitempty"`
	AllTimeLowLastSeenAt *time.Time `db:"all_time_low_last_seen_at" json:"all_time_low_last_seen_at,omitempty"`
	Avg30DayPrice        *float64   `db:"avg_30_day_price" json:"avg_30_day_price,omitempty"`
	Avg90DayPrice        *float64   `db:"avg_90_day_price" json:"avg_90_day_price,omitempty"`
	IsAllTimeLow         bool       `db:"is_all_time_low" json:"is_all_time_low"`
	DealScore            float64    `db:"deal_score" json:"deal_score"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// ScrapedGame is the normalized, source-agnostic representation of one
// scraped listing. Produced fresh on every scrape and never persisted
// directly; it is the input to the ingest engine. Prices are in major
// currency units.
type ScrapedGame struct {
	Title           string     `json:"title"`
	Slug            string     `json:"slug"`
	StoreURL        string     `json:"store_url"`
	Price           float64    `json:"price"`
	OriginalPrice   *float64   `json:"original_price,omitempty"`
	DiscountPercent *float64   `json:"discount_percent,omitempty"`
	Currency        string     `json:"currency"`
	StoreSlug       string     `json:"store_slug"`
	StoreGameID     *string    `json:"store_game_id,omitempty"`
	SteamAppID      *int64     `json:"steam_app_id,omitempty"`
	SaleEndsAt      *time.Time `json:"sale_ends_at,omitempty"`
	IsBundle        bool       `json:"is_bundle,omitempty"`
}
