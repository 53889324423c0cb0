package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

// RawItem is one source-shaped record as fetched, before normalization.
type RawItem = json.RawMessage

// Scraper is the polymorphic per-storefront capability: fetch raw
// listings, then normalize them one at a time into canonical records.
// Scrapers never touch persistence; that belongs to the ingest engine.
type Scraper interface {
	Source() string
	FetchRaw(ctx context.Context) ([]RawItem, error)
	Normalize(raw RawItem) (models.ScrapedGame, error)
}

// ErrUnknownSource is returned when no scraper is registered for a
// source identifier. Deterministic, so never retried.
var ErrUnknownSource = fmt.Errorf("unknown scrape source")

// Deps carries the shared collaborators every scraper needs.
type Deps struct {
	Referral *Referral
}

// Factory constructs one scraper instance. Factories may fail when
// source-specific configuration (e.g. API credentials) is missing.
type Factory func(deps Deps) (Scraper, error)

// Registry maps source identifiers to scraper factories at compile
// time; there is no dynamic loading.
type Registry struct {
	factories map[string]Factory
	deps      Deps
}

// NewRegistry creates a registry with the default scraper set
func NewRegistry(deps Deps) *Registry {
	r := &Registry{
		factories: make(map[string]Factory),
		deps:      deps,
	}

	r.Register("steam", NewSteamScraper)
	r.Register("fanatical", NewFanaticalScraper)
	r.Register("epic-games", NewEpicScraper)
	r.Register("gog", NewGOGScraper)
	r.Register("humble-bundle", NewHumbleScraper)

	return r
}

// Register adds a factory for a source identifier
func (r *Registry) Register(source string, factory Factory) {
	r.factories[source] = factory
}

// Known reports whether a factory is registered for a source identifier
func (r *Registry) Known(source string) bool {
	_, ok := r.factories[source]
	return ok
}

// Resolve constructs the scraper for a source identifier
func (r *Registry) Resolve(source string) (Scraper, error) {
	factory, ok := r.factories[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSource, source)
	}
	return factory(r.deps)
}

// NormalizeBatch normalizes every raw item, counting failures without
// aborting. A malformed item costs one error, never the batch.
func NormalizeBatch(s Scraper, items []RawItem) ([]models.ScrapedGame, int) {
	normalized := make([]models.ScrapedGame, 0, len(items))
	errorCount := 0

	for _, raw := range items {
		game, err := s.Normalize(raw)
		if err != nil {
			errorCount++
			continue
		}
		if err := validate(game); err != nil {
			errorCount++
			continue
		}
		normalized = append(normalized, game)
	}

	return normalized, errorCount
}

// validate enforces the normalization contract invariants.
func validate(game models.ScrapedGame) error {
	if game.Price < 0 {
		return fmt.Errorf("negative price %.2f for %q", game.Price, game.Title)
	}
	if game.DiscountPercent != nil && (*game.DiscountPercent < 0 || *game.DiscountPercent > 100) {
		return fmt.Errorf("discount %.2f out of range for %q", *game.DiscountPercent, game.Title)
	}
	return nil
}

var nonAlphanumeric = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases a title, collapses runs of non-alphanumeric
// characters into single hyphens, and trims leading/trailing hyphens.
func Slugify(title string) string {
	slug := nonAlphanumeric.ReplaceAllString(strings.ToLower(title), "-")
	return strings.Trim(slug, "-")
}

// computeDiscount derives a discount percentage from prices when the
// source does not report one.
func computeDiscount(price, originalPrice float64) *float64 {
	if originalPrice <= 0 {
		return nil
	}
	d := math.Round((originalPrice - price) / originalPrice * 100)
	return &d
}

func floatPtr(v float64) *float64 { return &v }
func stringPtr(v string) *string  { return &v }
func int64Ptr(v int64) *int64     { return &v }
