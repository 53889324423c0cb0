package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
)

// ingestStore is the persistence surface the ingest engine needs.
// *store.Store satisfies it.
type ingestStore interface {
	UpsertGameBySlug(ctx context.Context, title, slug string, steamAppID *int64) (*models.Game, error)
	GetGameBySteamAppID(ctx context.Context, steamAppID int64) (*models.Game, error)
	UpdateGameTitle(ctx context.Context, gameID int64, title, slug string) error
	GetStoreBySlug(ctx context.Context, slug string) (*models.Store, error)
	GetListing(ctx context.Context, gameID, storeID int64) (*models.StoreListing, error)
	InsertListing(ctx context.Context, listing *models.StoreListing) error
	UpdateListing(ctx context.Context, listingID int64, storeURL string, storeGameID *string, expiresAt *time.Time) error
	SetListingAllTimeLow(ctx context.Context, listingID int64, isAllTimeLow bool) error
	LatestPriceRecord(ctx context.Context, listingID int64) (*models.PriceHistoryRecord, error)
	InsertPriceRecord(ctx context.Context, record *models.PriceHistoryRecord) error
	GetStats(ctx context.Context, listingID int64) (*models.StoreListingStats, error)
}

// eventPublisher emits downstream pricing events. *broker.EventPublisher
// satisfies it.
type eventPublisher interface {
	PublishPriceDrop(ctx context.Context, event *models.PriceDropEvent) error
	PublishAllTimeLow(ctx context.Context, event *models.AllTimeLowEvent) error
}

// statsRefresher recomputes derived aggregates after an ingest batch.
type statsRefresher interface {
	Refresh(ctx context.Context) error
}

// IngestEngine turns a normalized batch into persisted state changes
// and event emissions. It is the sole writer of price state.
type IngestEngine struct {
	store  ingestStore
	events eventPublisher
	stats  statsRefresher
	logger *zap.Logger
}

// NewIngestEngine creates a new ingest engine
func NewIngestEngine(store ingestStore, events eventPublisher, stats statsRefresher) *IngestEngine {
	return &IngestEngine{
		store:  store,
		events: events,
		stats:  stats,
		logger: util.GetLogger(),
	}
}

// IngestBatch diffs each record against persisted state sequentially.
// A failing record is counted and skipped; it never aborts the batch.
// The stats refresh runs once afterwards regardless of partial failure.
func (e *IngestEngine) IngestBatch(ctx context.Context, job models.IngestJob) {
	ctx, span := util.StartSourceSpan(ctx, "IngestEngine.IngestBatch", job.Source)
	defer span.End()

	startTime := time.Now()
	ingested := 0
	errorCount := 0

	for _, deal := range job.Deals {
		if err := e.ingestOne(ctx, deal); err != nil {
			errorCount++
			util.IngestErrorsTotal.WithLabelValues(job.Source).Inc()
			e.logger.Debug("Record skipped",
				zap.String("source", job.Source),
				zap.String("slug", deal.Slug),
				zap.Error(err))
			continue
		}
		ingested++
		util.RecordsIngestedTotal.WithLabelValues(job.Source).Inc()
	}

	if err := e.stats.Refresh(ctx); err != nil {
		e.logger.Error("Stats refresh failed", zap.Error(err))
	}

	e.logger.Info("Ingest batch complete",
		zap.String("source", job.Source),
		zap.Time("start_time", startTime),
		zap.Time("end_time", time.Now()),
		zap.Int("records_ingested", ingested),
		zap.Int("error_count", errorCount))
}

func (e *IngestEngine) ingestOne(ctx context.Context, deal models.ScrapedGame) error {
	game, err := e.resolveGame(ctx, deal)
	if err != nil {
		return err
	}
	if game == nil {
		return fmt.Errorf("could not resolve game for slug %q", deal.Slug)
	}

	st, err := e.store.GetStoreBySlug(ctx, deal.StoreSlug)
	if err != nil {
		return fmt.Errorf("failed to resolve store: %w", err)
	}
	if st == nil {
		return fmt.Errorf("unknown store %q", deal.StoreSlug)
	}

	listing, err := e.upsertListing(ctx, game, st, deal)
	if err != nil {
		return err
	}
	if listing == nil {
		return fmt.Errorf("could not resolve listing for game %d store %d", game.ID, st.ID)
	}

	latest, err := e.store.LatestPriceRecord(ctx, listing.ID)
	if err != nil {
		return fmt.Errorf("failed to read latest price: %w", err)
	}

	if !priceChanged(latest, deal) {
		return nil
	}

	record := &models.PriceHistoryRecord{
		StoreListingID: listing.ID,
		Price:          deal.Price,
		OriginalPrice:  deal.OriginalPrice,
		Currency:       deal.Currency,
		Discount:       deal.DiscountPercent,
		SaleEndsAt:     deal.SaleEndsAt,
	}
	if err := e.store.InsertPriceRecord(ctx, record); err != nil {
		return fmt.Errorf("failed to append price history: %w", err)
	}

	if latest != nil && deal.Price < latest.Price {
		event := &models.PriceDropEvent{
			StoreListingID: listing.ID,
			GameID:         game.ID,
			PreviousPrice:  latest.Price,
			NewPrice:       deal.Price,
		}
		if err := e.events.PublishPriceDrop(ctx, event); err != nil {
			return fmt.Errorf("failed to publish price-drop event: %w", err)
		}
	}

	return e.detectAllTimeLow(ctx, listing.ID, game.ID, deal.Price)
}

// resolveGame prefers a match by external platform id when the scraper
// supplied one, so slug-unstable sources do not create duplicate games.
func (e *IngestEngine) resolveGame(ctx context.Context, deal models.ScrapedGame) (*models.Game, error) {
	if deal.SteamAppID != nil {
		game, err := e.store.GetGameBySteamAppID(ctx, *deal.SteamAppID)
		if err != nil {
			return nil, fmt.Errorf("failed to match game by steam app id: %w", err)
		}
		if game != nil {
			if err := e.store.UpdateGameTitle(ctx, game.ID, deal.Title, deal.Slug); err != nil {
				return nil, fmt.Errorf("failed to update game: %w", err)
			}
			return game, nil
		}
	}

	game, err := e.store.UpsertGameBySlug(ctx, deal.Title, deal.Slug, deal.SteamAppID)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert game: %w", err)
	}
	return game, nil
}

func (e *IngestEngine) upsertListing(ctx context.Context, game *models.Game, st *models.Store, deal models.ScrapedGame) (*models.StoreListing, error) {
	listing, err := e.store.GetListing(ctx, game.ID, st.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up listing: %w", err)
	}

	if listing == nil {
		listing = &models.StoreListing{
			GameID:      game.ID,
			StoreID:     st.ID,
			StoreURL:    deal.StoreURL,
			StoreGameID: deal.StoreGameID,
			ExpiresAt:   deal.SaleEndsAt,
		}
		if err := e.store.InsertListing(ctx, listing); err != nil {
			return nil, fmt.Errorf("failed to insert listing: %w", err)
		}
		return listing, nil
	}

	if err := e.store.UpdateListing(ctx, listing.ID, deal.StoreURL, deal.StoreGameID, deal.SaleEndsAt); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return listing, nil
}

// detectAllTimeLow compares the new price against the cached all-time
// low and flips the listing's fast-path flag ahead of the full stats
// recompute.
func (e *IngestEngine) detectAllTimeLow(ctx context.Context, listingID, gameID int64, newPrice float64) error {
	stats, err := e.store.GetStats(ctx, listingID)
	if err != nil {
		return fmt.Errorf("failed to read stats: %w", err)
	}

	isNewLow := stats == nil || newPrice < stats.AllTimeLowPrice

	if err := e.store.SetListingAllTimeLow(ctx, listingID, isNewLow); err != nil {
		return fmt.Errorf("failed to set all-time-low flag: %w", err)
	}

	if isNewLow {
		event := &models.AllTimeLowEvent{
			StoreListingID: listingID,
			GameID:         gameID,
			NewPrice:       newPrice,
		}
		if err := e.events.PublishAllTimeLow(ctx, event); err != nil {
			return fmt.Errorf("failed to publish all-time-low event: %w", err)
		}
	}

	return nil
}

// priceChanged reports whether a new history row is warranted: no
// prior record, a different price, or a different discount (a present
// discount vs a missing one counts as a change).
func priceChanged(latest *models.PriceHistoryRecord, deal models.ScrapedGame) bool {
	if latest == nil {
		return true
	}
	if latest.Price != deal.Price {
		return true
	}
	return !discountsEqual(latest.Discount, deal.DiscountPercent)
}

func discountsEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
