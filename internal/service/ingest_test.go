package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

// fakeStore is an in-memory ingestStore/statsStore double.
type fakeStore struct {
	games    map[string]*models.Game
	stores   map[string]*models.Store
	listings map[string]*models.StoreListing
	history  map[int64][]models.PriceHistoryRecord
	stats    map[int64]*models.StoreListingStats
	scores   map[int64]float64

	nextGameID    int64
	nextListingID int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		games:    make(map[string]*models.Game),
		stores:   make(map[string]*models.Store),
		listings: make(map[string]*models.StoreListing),
		history:  make(map[int64][]models.PriceHistoryRecord),
		stats:    make(map[int64]*models.StoreListingStats),
		scores:   make(map[int64]float64),
	}
}

func (f *fakeStore) addStore(id int64, slug string) {
	f.stores[slug] = &models.Store{ID: id, Name: slug, Slug: slug}
}

func (f *fakeStore) UpsertGameBySlug(ctx context.Context, title, slug string, steamAppID *int64) (*models.Game, error) {
	if game, ok := f.games[slug]; ok {
		game.Title = title
		return game, nil
	}
	f.nextGameID++
	game := &models.Game{ID: f.nextGameID, Title: title, Slug: slug, SteamAppID: steamAppID}
	f.games[slug] = game
	return game, nil
}

func (f *fakeStore) GetGameBySteamAppID(ctx context.Context, steamAppID int64) (*models.Game, error) {
	for _, game := range f.games {
		if game.SteamAppID != nil && *game.SteamAppID == steamAppID {
			return game, nil
		}
	}
	return nil, nil
}

func (f *fakeStore) UpdateGameTitle(ctx context.Context, gameID int64, title, slug string) error {
	for _, game := range f.games {
		if game.ID == gameID {
			game.Title = title
			return nil
		}
	}
	return fmt.Errorf("game %d not found", gameID)
}

func (f *fakeStore) GetStoreBySlug(ctx context.Context, slug string) (*models.Store, error) {
	return f.stores[slug], nil
}

func listingKey(gameID, storeID int64) string {
	return fmt.Sprintf("%d/%d", gameID, storeID)
}

func (f *fakeStore) GetListing(ctx context.Context, gameID, storeID int64) (*models.StoreListing, error) {
	return f.listings[listingKey(gameID, storeID)], nil
}

func (f *fakeStore) InsertListing(ctx context.Context, listing *models.StoreListing) error {
	f.nextListingID++
	listing.ID = f.nextListingID
	f.listings[listingKey(listing.GameID, listing.StoreID)] = listing
	return nil
}

func (f *fakeStore) UpdateListing(ctx context.Context, listingID int64, storeURL string, storeGameID *string, expiresAt *time.Time) error {
	for _, listing := range f.listings {
		if listing.ID == listingID {
			listing.StoreURL = storeURL
			listing.StoreGameID = storeGameID
			if expiresAt != nil {
				listing.ExpiresAt = expiresAt
			}
			return nil
		}
	}
	return fmt.Errorf("listing %d not found", listingID)
}

func (f *fakeStore) SetListingAllTimeLow(ctx context.Context, listingID int64, isAllTimeLow bool) error {
	for _, listing := range f.listings {
		if listing.ID == listingID {
			listing.IsAllTimeLow = isAllTimeLow
			return nil
		}
	}
	return fmt.Errorf("listing %d not found", listingID)
}

func (f *fakeStore) LatestPriceRecord(ctx context.Context, listingID int64) (*models.PriceHistoryRecord, error) {
	rows := f.history[listingID]
	if len(rows) == 0 {
		return nil, nil
	}
	latest := rows[len(rows)-1]
	return &latest, nil
}

func (f *fakeStore) InsertPriceRecord(ctx context.Context, record *models.PriceHistoryRecord) error {
	record.ID = int64(len(f.history[record.StoreListingID]) + 1)
	if record.RecordedAt.IsZero() {
		record.RecordedAt = time.Now()
	}
	f.history[record.StoreListingID] = append(f.history[record.StoreListingID], *record)
	return nil
}

func (f *fakeStore) GetStats(ctx context.Context, listingID int64) (*models.StoreListingStats, error) {
	return f.stats[listingID], nil
}

func (f *fakeStore) GetListingIDs(ctx context.Context) ([]int64, error) {
	var ids []int64
	for _, listing := range f.listings {
		ids = append(ids, listing.ID)
	}
	return ids, nil
}

func (f *fakeStore) GetPriceHistory(ctx context.Context, listingID int64) ([]models.PriceHistoryRecord, error) {
	return f.history[listingID], nil
}

func (f *fakeStore) UpsertStats(ctx context.Context, stats *models.StoreListingStats) error {
	copied := *stats
	f.stats[stats.StoreListingID] = &copied
	return nil
}

func (f *fakeStore) UpdateDealScore(ctx context.Context, listingID int64, score float64) error {
	f.scores[listingID] = score
	return nil
}

// fakePublisher records emitted events.
type fakePublisher struct {
	priceDrops  []*models.PriceDropEvent
	allTimeLows []*models.AllTimeLowEvent
}

func (f *fakePublisher) PublishPriceDrop(ctx context.Context, event *models.PriceDropEvent) error {
	f.priceDrops = append(f.priceDrops, event)
	return nil
}

func (f *fakePublisher) PublishAllTimeLow(ctx context.Context, event *models.AllTimeLowEvent) error {
	f.allTimeLows = append(f.allTimeLows, event)
	return nil
}

// fakeRefresher counts stats refresh invocations.
type fakeRefresher struct {
	calls int
}

func (f *fakeRefresher) Refresh(ctx context.Context) error {
	f.calls++
	return nil
}

func deal(slug string, price float64, discount *float64) models.ScrapedGame {
	return models.ScrapedGame{
		Title:           slug,
		Slug:            slug,
		StoreURL:        "https://example.com/" + slug,
		Price:           price,
		DiscountPercent: discount,
		Currency:        "USD",
		StoreSlug:       "steam",
	}
}

func TestIngestCreatesGameListingAndHistory(t *testing.T) {
	store := newFakeStore()
	store.addStore(1, "steam")
	events := &fakePublisher{}
	refresher := &fakeRefresher{}
	engine := NewIngestEngine(store, events, refresher)

	engine.IngestBatch(context.Background(), models.IngestJob{
		Source: "steam",
		Deals:  []models.ScrapedGame{deal("hades", 12.49, nil)},
	})

	require.Len(t, store.games, 1)
	require.Len(t, store.listings, 1)

	listing := store.listings[listingKey(1, 1)]
	require.NotNil(t, listing)
	require.Len(t, store.history[listing.ID], 1)
	assert.Equal(t, 12.49, store.history[listing.ID][0].Price)

	// first observation is the all-time low by definition
	assert.True(t, listing.IsAllTimeLow)
	assert.Len(t, events.allTimeLows, 1)
	assert.Empty(t, events.priceDrops)

	assert.Equal(t, 1, refresher.calls)
}

func TestIngestIsIdempotentForUnchangedPrice(t *testing.T) {
	store := newFakeStore()
	store.addStore(1, "steam")
	events := &fakePublisher{}
	engine := NewIngestEngine(store, events, &fakeRefresher{})

	job := models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 12.49, nil)}}
	engine.IngestBatch(context.Background(), job)
	engine.IngestBatch(context.Background(), job)

	listing := store.listings[listingKey(1, 1)]
	require.NotNil(t, listing)
	assert.Len(t, store.history[listing.ID], 1)
	assert.Len(t, events.allTimeLows, 1)
	assert.Empty(t, events.priceDrops)
}

func TestIngestEmitsPriceDropOnDecrease(t *testing.T) {
	store := newFakeStore()
	store.addStore(1, "steam")
	events := &fakePublisher{}
	engine := NewIngestEngine(store, events, &fakeRefresher{})

	ctx := context.Background()
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 19.99, nil)}})
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 9.99, nil)}})

	require.Len(t, events.priceDrops, 1)
	assert.Equal(t, 19.99, events.priceDrops[0].PreviousPrice)
	assert.Equal(t, 9.99, events.priceDrops[0].NewPrice)

	listing := store.listings[listingKey(1, 1)]
	assert.Len(t, store.history[listing.ID], 2)
}

func TestIngestNoPriceDropOnIncrease(t *testing.T) {
	store := newFakeStore()
	store.addStore(1, "steam")
	events := &fakePublisher{}
	engine := NewIngestEngine(store, events, NewStatsEngine(store, nopCache{}, time.Hour))

	ctx := context.Background()
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 9.99, nil)}})
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 19.99, nil)}})

	assert.Empty(t, events.priceDrops)

	// back to full price: not an all-time low anymore
	listing := store.listings[listingKey(1, 1)]
	assert.False(t, listing.IsAllTimeLow)
}

func TestIngestDiscountChangeAppendsHistory(t *testing.T) {
	store := newFakeStore()
	store.addStore(1, "steam")
	engine := NewIngestEngine(store, &fakePublisher{}, &fakeRefresher{})

	ctx := context.Background()
	fifty := 50.0
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 9.99, nil)}})
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 9.99, &fifty)}})

	listing := store.listings[listingKey(1, 1)]
	assert.Len(t, store.history[listing.ID], 2)
}

func TestIngestAllTimeLowOnlyOnNewLow(t *testing.T) {
	store := newFakeStore()
	store.addStore(1, "steam")
	events := &fakePublisher{}

	// stats recompute between batches so detection sees fresh lows
	statsEngine := NewStatsEngine(store, nopCache{}, time.Hour)
	engine := NewIngestEngine(store, events, statsEngine)

	ctx := context.Background()
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 19.99, nil)}})
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 9.99, nil)}})
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 14.99, nil)}})
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{deal("hades", 4.99, nil)}})

	// 19.99 (first), 9.99 and 4.99 are new lows; 14.99 is not
	assert.Len(t, events.allTimeLows, 3)

	listing := store.listings[listingKey(1, 1)]
	assert.True(t, listing.IsAllTimeLow)
}

func TestIngestUnknownStoreSkipsRecord(t *testing.T) {
	store := newFakeStore()
	events := &fakePublisher{}
	refresher := &fakeRefresher{}
	engine := NewIngestEngine(store, events, refresher)

	engine.IngestBatch(context.Background(), models.IngestJob{
		Source: "steam",
		Deals:  []models.ScrapedGame{deal("hades", 12.49, nil)},
	})

	assert.Empty(t, store.listings)
	assert.Empty(t, events.allTimeLows)

	// refresh still runs after a fully failed batch
	assert.Equal(t, 1, refresher.calls)
}

func TestIngestMatchesGameBySteamAppID(t *testing.T) {
	store := newFakeStore()
	store.addStore(1, "steam")
	store.addStore(2, "fanatical")
	engine := NewIngestEngine(store, &fakePublisher{}, &fakeRefresher{})

	appID := int64(292030)
	steamDeal := deal("the-witcher-3-wild-hunt", 9.99, nil)
	steamDeal.SteamAppID = &appID

	fanaticalDeal := deal("witcher-3-wild-hunt-goty", 8.99, nil)
	fanaticalDeal.StoreSlug = "fanatical"
	fanaticalDeal.SteamAppID = &appID

	ctx := context.Background()
	engine.IngestBatch(ctx, models.IngestJob{Source: "steam", Deals: []models.ScrapedGame{steamDeal}})
	engine.IngestBatch(ctx, models.IngestJob{Source: "fanatical", Deals: []models.ScrapedGame{fanaticalDeal}})

	// both listings hang off the same game row
	require.Len(t, store.games, 1)
	assert.Len(t, store.listings, 2)
}
