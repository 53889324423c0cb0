package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

// UpsertGameBySlug inserts a game or, on a slug conflict, updates its
// title. The resolved row is returned either way.
func (s *Store) UpsertGameBySlug(ctx context.Context, title, slug string, steamAppID *int64) (*models.Game, error) {
	query := `
		INSERT INTO games (title, slug, steam_app_id)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET title = EXCLUDED.title, updated_at = NOW()
		RETURNING *`

	var game models.Game
	if err := s.db.GetContext(ctx, &game, query, title, slug, steamAppID); err != nil {
		return nil, err
	}
	return &game, nil
}

// GetGameBySteamAppID retrieves a game by its Steam app id. Returns
// nil without error when no game matches.
func (s *Store) GetGameBySteamAppID(ctx context.Context, steamAppID int64) (*models.Game, error) {
	var game models.Game
	err := s.db.GetContext(ctx, &game, "SELECT * FROM games WHERE steam_app_id = $1", steamAppID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// UpdateGameTitle updates a game's title and slug
func (s *Store) UpdateGameTitle(ctx context.Context, gameID int64, title, slug string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE games SET title = $1, slug = $2, updated_at = NOW() WHERE id = $3",
		title, slug, gameID)
	return err
}

// GetStoreBySlug retrieves a store by slug. Returns nil without error
// when the store is unknown; stores are pre-seeded and never created
// by the pipeline.
func (s *Store) GetStoreBySlug(ctx context.Context, slug string) (*models.Store, error) {
	var st models.Store
	err := s.db.GetContext(ctx, &st, "SELECT * FROM stores WHERE slug = $1", slug)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &st, nil
}

// GetStores retrieves the full store catalog
func (s *Store) GetStores(ctx context.Context) ([]models.Store, error) {
	var stores []models.Store
	err := s.db.SelectContext(ctx, &stores, "SELECT * FROM stores ORDER BY id")
	return stores, err
}

// GetListing retrieves the listing for a (game, store) pair. Returns
// nil without error when none exists.
func (s *Store) GetListing(ctx context.Context, gameID, storeID int64) (*models.StoreListing, error) {
	var listing models.StoreListing
	err := s.db.GetContext(ctx, &listing,
		"SELECT * FROM store_listings WHERE game_id = $1 AND store_id = $2", gameID, storeID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &listing, nil
}

// InsertListing creates a new store listing and fills in generated fields
func (s *Store) InsertListing(ctx context.Context, listing *models.StoreListing) error {
	query := `
		INSERT INTO store_listings (game_id, store_id, store_url, store_game_id, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING *`

	return s.db.GetContext(ctx, listing, query,
		listing.GameID, listing.StoreID, listing.StoreURL, listing.StoreGameID, listing.ExpiresAt)
}

// UpdateListing refreshes a listing's mutable fields
func (s *Store) UpdateListing(ctx context.Context, listingID int64, storeURL string, storeGameID *string, expiresAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE store_listings
		SET store_url = $1, store_game_id = $2, expires_at = COALESCE($3, expires_at), updated_at = NOW()
		WHERE id = $4`,
		storeURL, storeGameID, expiresAt, listingID)
	return err
}

// SetListingAllTimeLow sets the fast-path all-time-low flag on a listing
func (s *Store) SetListingAllTimeLow(ctx context.Context, listingID int64, isAllTimeLow bool) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE store_listings SET is_all_time_low = $1, updated_at = NOW() WHERE id = $2",
		isAllTimeLow, listingID)
	return err
}

// GetListingIDs retrieves the ids of all store listings
func (s *Store) GetListingIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	err := s.db.SelectContext(ctx, &ids, "SELECT id FROM store_listings ORDER BY id")
	return ids, err
}
