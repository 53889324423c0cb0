package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

const (
	fanaticalAlgoliaIndex = "fan_alt_en_US_public"
	fanaticalBaseURL      = "https://www.fanatical.com/en"
	fanaticalRateLimitRPS = 5
	fanaticalPageSize     = 200
)

var steamLinkAppID = regexp.MustCompile(`/app/(\d+)`)

type fanaticalHit struct {
	Name      string             `json:"name"`
	Slug      string             `json:"slug"`
	Type      string             `json:"type"`
	Price     map[string]float64 `json:"price"`
	FullPrice map[string]float64 `json:"fullPrice"`
	Discount  *float64           `json:"discount"`
	SteamLink string             `json:"steam_link"`
	EndTime   int64              `json:"end_time"`
}

type fanaticalResponse struct {
	Hits    []json.RawMessage `json:"hits"`
	Page    int               `json:"page"`
	NbPages int               `json:"nbPages"`
}

// FanaticalScraper queries Fanatical's Algolia search index across the
// on-sale and bundle filters.
type FanaticalScraper struct {
	fetch     *FetchClient
	referral  *Referral
	appID     string
	searchKey string
	queryURL  string
	storeBase string
}

// NewFanaticalScraper creates the Fanatical scraper. Algolia
// credentials are required.
func NewFanaticalScraper(deps Deps) (Scraper, error) {
	appID := os.Getenv("FANATICAL_ALGOLIA_APP_ID")
	searchKey := os.Getenv("FANATICAL_ALGOLIA_SEARCH_KEY")
	if appID == "" || searchKey == "" {
		return nil, fmt.Errorf("FANATICAL_ALGOLIA_APP_ID and FANATICAL_ALGOLIA_SEARCH_KEY must be set")
	}

	return &FanaticalScraper{
		fetch:     NewFetchClient(FetchOptions{RPS: fanaticalRateLimitRPS, MaxRetries: DefaultMaxRetries}),
		referral:  deps.Referral,
		appID:     appID,
		searchKey: searchKey,
		queryURL: fmt.Sprintf("https://%s-dsn.algolia.net/1/indexes/%s/query",
			appID, fanaticalAlgoliaIndex),
		storeBase: fanaticalBaseURL,
	}, nil
}

// Source returns the source identifier
func (s *FanaticalScraper) Source() string { return "fanatical" }

// queryAlgolia runs a single filter query, fetching all pages.
func (s *FanaticalScraper) queryAlgolia(ctx context.Context, filters string) ([]json.RawMessage, error) {
	var hits []json.RawMessage
	page := 0
	nbPages := 1

	for page < nbPages {
		body := map[string]interface{}{
			"filters":     filters,
			"hitsPerPage": fanaticalPageSize,
			"page":        page,
		}

		resp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
			return client.R().SetContext(ctx).
				SetHeader("Content-Type", "application/json").
				SetHeader("X-Algolia-Application-Id", s.appID).
				SetHeader("X-Algolia-API-Key", s.searchKey).
				SetBody(body).
				Post(s.queryURL)
		})
		if err != nil {
			return nil, err
		}
		if !resp.IsSuccess() {
			return nil, fmt.Errorf("algolia request failed: %d", resp.StatusCode())
		}

		var data fanaticalResponse
		if err := json.Unmarshal(resp.Body(), &data); err != nil {
			return nil, fmt.Errorf("failed to decode algolia response: %w", err)
		}

		hits = append(hits, data.Hits...)
		nbPages = data.NbPages
		page++
	}

	return hits, nil
}

// FetchRaw queries the on-sale and bundle filters concurrently and
// deduplicates the combined hits by slug.
func (s *FanaticalScraper) FetchRaw(ctx context.Context) ([]RawItem, error) {
	var wg sync.WaitGroup
	var onSaleHits, bundleHits []json.RawMessage
	var onSaleErr, bundleErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		onSaleHits, onSaleErr = s.queryAlgolia(ctx, "on_sale=1")
	}()
	go func() {
		defer wg.Done()
		bundleHits, bundleErr = s.queryAlgolia(ctx, "type:bundle")
	}()
	wg.Wait()

	if onSaleErr != nil {
		return nil, onSaleErr
	}
	if bundleErr != nil {
		return nil, bundleErr
	}

	seen := make(map[string]bool)
	var combined []RawItem
	for _, raw := range append(onSaleHits, bundleHits...) {
		var hit fanaticalHit
		if err := json.Unmarshal(raw, &hit); err != nil {
			continue
		}
		if seen[hit.Slug] {
			continue
		}
		seen[hit.Slug] = true
		combined = append(combined, RawItem(raw))
	}

	return combined, nil
}

// Normalize maps an Algolia hit to a canonical record. Bundles get
// bundle URLs; a steam_link, when present, supplies the external
// platform id used for duplicate-safe game matching.
func (s *FanaticalScraper) Normalize(raw RawItem) (models.ScrapedGame, error) {
	var hit fanaticalHit
	if err := json.Unmarshal(raw, &hit); err != nil {
		return models.ScrapedGame{}, fmt.Errorf("failed to decode fanatical hit: %w", err)
	}
	if hit.Slug == "" {
		return models.ScrapedGame{}, fmt.Errorf("fanatical hit %q has no slug", hit.Name)
	}

	isBundle := hit.Type == "bundle"
	path := "game/" + hit.Slug
	if isBundle {
		path = "bundle/" + hit.Slug
	}
	storeURL := s.referral.BuildURL(fmt.Sprintf("%s/%s", s.storeBase, path), "fanatical")

	var steamAppID *int64
	if match := steamLinkAppID.FindStringSubmatch(hit.SteamLink); len(match) == 2 {
		var id int64
		if _, err := fmt.Sscanf(match[1], "%d", &id); err == nil {
			steamAppID = &id
		}
	}

	var saleEndsAt *time.Time
	if hit.EndTime > 0 {
		t := time.Unix(hit.EndTime, 0).UTC()
		saleEndsAt = &t
	}

	var originalPrice *float64
	if full, ok := hit.FullPrice["USD"]; ok {
		originalPrice = &full
	}

	return models.ScrapedGame{
		Title:           hit.Name,
		Slug:            hit.Slug,
		StoreURL:        storeURL,
		Price:           hit.Price["USD"],
		OriginalPrice:   originalPrice,
		DiscountPercent: hit.Discount,
		Currency:        "USD",
		StoreSlug:       "fanatical",
		StoreGameID:     stringPtr(hit.Slug),
		SteamAppID:      steamAppID,
		SaleEndsAt:      saleEndsAt,
		IsBundle:        isBundle,
	}, nil
}
