package scraper

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

// Steam allows ~200 requests per 5 minutes.
const steamRateLimitRPM = 40

type steamPriceOverview struct {
	Currency        string  `json:"currency"`
	Initial         float64 `json:"initial"`
	Final           float64 `json:"final"`
	DiscountPercent float64 `json:"discount_percent"`
}

type steamAppData struct {
	SteamAppID    int64               `json:"steam_appid"`
	Name          string              `json:"name"`
	IsFree        bool                `json:"is_free"`
	PriceOverview *steamPriceOverview `json:"price_overview"`
}

type steamAppDetail struct {
	Success bool          `json:"success"`
	Data    *steamAppData `json:"data"`
}

type steamFeaturedItem struct {
	ID int64 `json:"id"`
}

type steamFeaturedResponse struct {
	FeaturedWin   []steamFeaturedItem `json:"featured_win"`
	FeaturedMac   []steamFeaturedItem `json:"featured_mac"`
	FeaturedLinux []steamFeaturedItem `json:"featured_linux"`
}

type steamFeaturedList struct {
	Items []steamFeaturedItem `json:"items"`
}

type steamFeaturedCategories struct {
	Specials   steamFeaturedList `json:"specials"`
	TopSellers steamFeaturedList `json:"top_sellers"`
}

// SteamScraper polls Steam's featured-deal endpoints for candidate app
// ids, then fetches per-app pricing detail.
type SteamScraper struct {
	fetch     *FetchClient
	referral  *Referral
	apiBase   string
	storeBase string
}

// NewSteamScraper creates the Steam scraper
func NewSteamScraper(deps Deps) (Scraper, error) {
	return &SteamScraper{
		fetch:     NewFetchClient(FetchOptions{RPM: steamRateLimitRPM, MaxRetries: DefaultMaxRetries}),
		referral:  deps.Referral,
		apiBase:   "https://store.steampowered.com/api",
		storeBase: "https://store.steampowered.com",
	}, nil
}

// Source returns the source identifier
func (s *SteamScraper) Source() string { return "steam" }

// collectOnSaleAppIDs gathers candidate app ids from the featured
// categories and featured endpoints into one deduplicated set. Either
// endpoint failing is non-fatal; the other may still produce ids.
func (s *SteamScraper) collectOnSaleAppIDs(ctx context.Context) []int64 {
	seen := make(map[int64]bool)
	var appIDs []int64

	add := func(items []steamFeaturedItem) {
		for _, item := range items {
			if !seen[item.ID] {
				seen[item.ID] = true
				appIDs = append(appIDs, item.ID)
			}
		}
	}

	catResp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get(s.apiBase + "/featuredcategories?cc=us&l=en")
	})
	if err == nil && catResp.IsSuccess() {
		var cats steamFeaturedCategories
		if json.Unmarshal(catResp.Body(), &cats) == nil {
			add(cats.Specials.Items)
			add(cats.TopSellers.Items)
		}
	}

	featResp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get(s.apiBase + "/featured?cc=us&l=en")
	})
	if err == nil && featResp.IsSuccess() {
		var feat steamFeaturedResponse
		if json.Unmarshal(featResp.Body(), &feat) == nil {
			add(feat.FeaturedWin)
			add(feat.FeaturedMac)
			add(feat.FeaturedLinux)
		}
	}

	return appIDs
}

// FetchRaw returns one raw app detail per on-sale app with pricing.
// Free-to-play apps and apps without a price overview are skipped, as
// are individual detail fetch failures.
func (s *SteamScraper) FetchRaw(ctx context.Context) ([]RawItem, error) {
	appIDs := s.collectOnSaleAppIDs(ctx)
	var results []RawItem

	for _, appID := range appIDs {
		resp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
			return client.R().SetContext(ctx).
				Get(fmt.Sprintf("%s/appdetails?appids=%d&cc=us&l=en", s.apiBase, appID))
		})
		if err != nil || !resp.IsSuccess() {
			continue
		}

		var detailMap map[string]steamAppDetail
		if err := json.Unmarshal(resp.Body(), &detailMap); err != nil {
			continue
		}

		detail := detailMap[fmt.Sprintf("%d", appID)]
		if !detail.Success || detail.Data == nil {
			continue
		}
		if detail.Data.IsFree || detail.Data.PriceOverview == nil {
			continue
		}

		raw, err := json.Marshal(detail.Data)
		if err != nil {
			continue
		}
		results = append(results, raw)
	}

	return results, nil
}

// Normalize maps a raw Steam app detail to a canonical record. Steam
// prices are in cents.
func (s *SteamScraper) Normalize(raw RawItem) (models.ScrapedGame, error) {
	var data steamAppData
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.ScrapedGame{}, fmt.Errorf("failed to decode steam app: %w", err)
	}
	if data.PriceOverview == nil {
		return models.ScrapedGame{}, fmt.Errorf("steam app %d has no price overview", data.SteamAppID)
	}

	po := data.PriceOverview
	currency := po.Currency
	if currency == "" {
		currency = "USD"
	}

	storeURL := fmt.Sprintf("%s/app/%d", s.storeBase, data.SteamAppID)

	return models.ScrapedGame{
		Title:           data.Name,
		Slug:            Slugify(data.Name),
		StoreURL:        s.referral.BuildURL(storeURL, "steam"),
		Price:           po.Final / 100,
		OriginalPrice:   floatPtr(po.Initial / 100),
		DiscountPercent: floatPtr(po.DiscountPercent),
		Currency:        currency,
		StoreSlug:       "steam",
		StoreGameID:     stringPtr(fmt.Sprintf("%d", data.SteamAppID)),
		SteamAppID:      int64Ptr(data.SteamAppID),
	}, nil
}
