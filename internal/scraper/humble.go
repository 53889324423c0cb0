package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

const (
	humbleBaseURL      = "https://www.humblebundle.com"
	humbleRateLimitRPS = 2

	humbleKindSale   = "sale"
	humbleKindBundle = "bundle"
)

type humbleMoney struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

type humbleSaleItem struct {
	MachineName     string      `json:"machine_name"`
	HumanName       string      `json:"human_name"`
	CurrentPrice    humbleMoney `json:"current_price"`
	FullPrice       humbleMoney `json:"full_price"`
	DiscountPercent *float64    `json:"discount_percent"`
	HumanURL        string      `json:"human_url"`
}

type humbleBundleItem struct {
	MachineName string `json:"machine_name"`
	TileName    string `json:"tile_name"`
	MosaicURL   string `json:"mosaic_url"`
	Pricing     struct {
		Minimum humbleMoney `json:"minimum"`
	} `json:"pricing"`
}

// humbleRawItem tags each feed entry with its origin shape so
// Normalize knows which schema to decode.
type humbleRawItem struct {
	Kind string          `json:"kind"`
	Item json.RawMessage `json:"item"`
}

type humbleSaleFeed struct {
	Results []json.RawMessage `json:"results"`
}

type humbleMosaicFeed struct {
	Data []json.RawMessage `json:"data"`
}

// HumbleScraper merges Humble's on-sale store feed with its
// bundle/mosaic feed.
type HumbleScraper struct {
	fetch    *FetchClient
	referral *Referral
	baseURL  string
}

// NewHumbleScraper creates the Humble Bundle scraper
func NewHumbleScraper(deps Deps) (Scraper, error) {
	return &HumbleScraper{
		fetch: NewFetchClient(FetchOptions{
			RPS:        humbleRateLimitRPS,
			MaxRetries: DefaultMaxRetries,
			Headers:    map[string]string{"Accept": "application/json"},
		}),
		referral: deps.Referral,
		baseURL:  humbleBaseURL,
	}, nil
}

// Source returns the source identifier
func (s *HumbleScraper) Source() string { return "humble-bundle" }

// FetchRaw merges the sale feed and the bundle mosaic feed into one
// raw list, each item tagged by origin.
func (s *HumbleScraper) FetchRaw(ctx context.Context) ([]RawItem, error) {
	saleResp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
		return client.R().SetContext(ctx).
			Get(s.baseURL + "/store/api/search?sort=discount&filter=onsale")
	})
	if err != nil {
		return nil, err
	}

	mosaicResp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
		return client.R().SetContext(ctx).
			Get(s.baseURL + "/api/v1/mosaic?sort=countdown")
	})
	if err != nil {
		return nil, err
	}

	var saleFeed humbleSaleFeed
	if err := json.Unmarshal(saleResp.Body(), &saleFeed); err != nil {
		return nil, fmt.Errorf("failed to decode sale feed: %w", err)
	}

	var mosaicFeed humbleMosaicFeed
	if err := json.Unmarshal(mosaicResp.Body(), &mosaicFeed); err != nil {
		return nil, fmt.Errorf("failed to decode mosaic feed: %w", err)
	}

	items := make([]RawItem, 0, len(saleFeed.Results)+len(mosaicFeed.Data))
	for _, entry := range saleFeed.Results {
		raw, err := json.Marshal(humbleRawItem{Kind: humbleKindSale, Item: entry})
		if err != nil {
			continue
		}
		items = append(items, raw)
	}
	for _, entry := range mosaicFeed.Data {
		raw, err := json.Marshal(humbleRawItem{Kind: humbleKindBundle, Item: entry})
		if err != nil {
			continue
		}
		items = append(items, raw)
	}

	return items, nil
}

// Normalize maps a tagged feed entry to a canonical record.
func (s *HumbleScraper) Normalize(raw RawItem) (models.ScrapedGame, error) {
	var wrapper humbleRawItem
	if err := json.Unmarshal(raw, &wrapper); err != nil {
		return models.ScrapedGame{}, fmt.Errorf("failed to decode humble item: %w", err)
	}

	switch wrapper.Kind {
	case humbleKindBundle:
		var item humbleBundleItem
		if err := json.Unmarshal(wrapper.Item, &item); err != nil {
			return models.ScrapedGame{}, fmt.Errorf("failed to decode bundle item: %w", err)
		}
		if item.MachineName == "" {
			return models.ScrapedGame{}, fmt.Errorf("bundle item %q has no machine name", item.TileName)
		}

		return models.ScrapedGame{
			Title:       item.TileName,
			Slug:        Slugify(item.MachineName),
			StoreURL:    s.referral.BuildURL(s.absoluteURL(item.MosaicURL), "humble-bundle"),
			Price:       item.Pricing.Minimum.Amount,
			Currency:    "USD",
			StoreSlug:   "humble-bundle",
			StoreGameID: stringPtr(item.MachineName),
			IsBundle:    true,
		}, nil

	case humbleKindSale:
		var item humbleSaleItem
		if err := json.Unmarshal(wrapper.Item, &item); err != nil {
			return models.ScrapedGame{}, fmt.Errorf("failed to decode sale item: %w", err)
		}
		if item.MachineName == "" {
			return models.ScrapedGame{}, fmt.Errorf("sale item %q has no machine name", item.HumanName)
		}

		currency := item.CurrentPrice.Currency
		if currency == "" {
			currency = "USD"
		}

		var originalPrice *float64
		if item.FullPrice.Amount > 0 {
			originalPrice = floatPtr(item.FullPrice.Amount)
		}

		return models.ScrapedGame{
			Title:           item.HumanName,
			Slug:            Slugify(item.MachineName),
			StoreURL:        s.referral.BuildURL(s.absoluteURL(item.HumanURL), "humble-bundle"),
			Price:           item.CurrentPrice.Amount,
			OriginalPrice:   originalPrice,
			DiscountPercent: item.DiscountPercent,
			Currency:        currency,
			StoreSlug:       "humble-bundle",
			StoreGameID:     stringPtr(item.MachineName),
		}, nil

	default:
		return models.ScrapedGame{}, fmt.Errorf("unknown humble item kind %q", wrapper.Kind)
	}
}

func (s *HumbleScraper) absoluteURL(u string) string {
	if strings.HasPrefix(u, "http") {
		return u
	}
	return s.baseURL + u
}
