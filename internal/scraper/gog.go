package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/go-resty/resty/v2"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

const (
	gogCatalogURL   = "https://catalog.gog.com/v1/catalog"
	gogProductsURL  = "https://api.gog.com/products"
	gogPageSize     = 48
	gogRateLimitRPS = 2
)

type gogCatalogProduct struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Slug  string `json:"slug"`
}

type gogCatalogResponse struct {
	Pages    int                 `json:"pages"`
	Products []gogCatalogProduct `json:"products"`
}

// gogPriceItem carries prices as cent integer strings, e.g. "999" = $9.99.
type gogPriceItem struct {
	BasePrice  string `json:"basePrice"`
	FinalPrice string `json:"finalPrice"`
	Discount   string `json:"discount"`
}

type gogProductDetails struct {
	ID       int64  `json:"id"`
	Title    string `json:"title"`
	Slug     string `json:"slug"`
	Embedded *struct {
		Prices *struct {
			Items []gogPriceItem `json:"items"`
		} `json:"prices"`
	} `json:"_embedded"`
}

// gogRawItem pairs a catalog entry with its per-product price detail.
type gogRawItem struct {
	Catalog gogCatalogProduct `json:"catalog"`
	Details gogProductDetails `json:"details"`
}

// GOGScraper enumerates GOG's discounted catalog pages and performs a
// secondary per-product price lookup for each entry.
type GOGScraper struct {
	fetch       *FetchClient
	referral    *Referral
	catalogURL  string
	productsURL string
	storeBase   string
}

// NewGOGScraper creates the GOG scraper
func NewGOGScraper(deps Deps) (Scraper, error) {
	return &GOGScraper{
		fetch:       NewFetchClient(FetchOptions{RPS: gogRateLimitRPS, MaxRetries: DefaultMaxRetries}),
		referral:    deps.Referral,
		catalogURL:  gogCatalogURL,
		productsURL: gogProductsURL,
		storeBase:   "https://www.gog.com/game",
	}, nil
}

// Source returns the source identifier
func (s *GOGScraper) Source() string { return "gog" }

// FetchRaw walks every discounted catalog page, fetching price details
// for the page's products in parallel. Products whose detail fetch
// fails are skipped rather than failing the page.
func (s *GOGScraper) FetchRaw(ctx context.Context) ([]RawItem, error) {
	var items []RawItem
	page := 1
	totalPages := 1

	for page <= totalPages {
		resp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
			return client.R().SetContext(ctx).
				SetQueryParams(map[string]string{
					"discounted":  "true",
					"productType": "in:game",
					"limit":       strconv.Itoa(gogPageSize),
					"page":        strconv.Itoa(page),
				}).
				Get(s.catalogURL)
		})
		if err != nil {
			return nil, err
		}

		var data gogCatalogResponse
		if err := json.Unmarshal(resp.Body(), &data); err != nil {
			return nil, fmt.Errorf("failed to decode catalog page: %w", err)
		}
		if data.Pages > 0 {
			totalPages = data.Pages
		}

		pageItems := make([]RawItem, len(data.Products))
		var wg sync.WaitGroup
		for i, product := range data.Products {
			wg.Add(1)
			go func(i int, product gogCatalogProduct) {
				defer wg.Done()

				detailResp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
					return client.R().SetContext(ctx).
						Get(fmt.Sprintf("%s/%s?expand=prices&currency=USD", s.productsURL, product.ID))
				})
				if err != nil || !detailResp.IsSuccess() {
					return
				}

				var details gogProductDetails
				if err := json.Unmarshal(detailResp.Body(), &details); err != nil {
					return
				}

				raw, err := json.Marshal(gogRawItem{Catalog: product, Details: details})
				if err != nil {
					return
				}
				pageItems[i] = raw
			}(i, product)
		}
		wg.Wait()

		for _, raw := range pageItems {
			if raw != nil {
				items = append(items, raw)
			}
		}

		page++
	}

	return items, nil
}

// Normalize maps a catalog/detail pair to a canonical record.
func (s *GOGScraper) Normalize(raw RawItem) (models.ScrapedGame, error) {
	var item gogRawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.ScrapedGame{}, fmt.Errorf("failed to decode gog product: %w", err)
	}

	if item.Details.Embedded == nil || item.Details.Embedded.Prices == nil ||
		len(item.Details.Embedded.Prices.Items) == 0 {
		return models.ScrapedGame{}, fmt.Errorf("no price data for gog product %s", item.Catalog.ID)
	}
	priceItem := item.Details.Embedded.Prices.Items[0]

	finalCents, err := strconv.Atoi(priceItem.FinalPrice)
	if err != nil {
		return models.ScrapedGame{}, fmt.Errorf("bad final price %q for gog product %s", priceItem.FinalPrice, item.Catalog.ID)
	}
	baseCents, err := strconv.Atoi(priceItem.BasePrice)
	if err != nil {
		return models.ScrapedGame{}, fmt.Errorf("bad base price %q for gog product %s", priceItem.BasePrice, item.Catalog.ID)
	}
	discount, err := strconv.ParseFloat(priceItem.Discount, 64)
	if err != nil {
		return models.ScrapedGame{}, fmt.Errorf("bad discount %q for gog product %s", priceItem.Discount, item.Catalog.ID)
	}

	title := item.Catalog.Title
	if title == "" {
		title = item.Details.Title
	}

	gameSlug := item.Catalog.Slug
	if gameSlug == "" {
		gameSlug = item.Details.Slug
	}

	return models.ScrapedGame{
		Title:           title,
		Slug:            Slugify(title),
		StoreURL:        s.referral.BuildURL(fmt.Sprintf("%s/%s", s.storeBase, gameSlug), "gog"),
		Price:           float64(finalCents) / 100,
		OriginalPrice:   floatPtr(float64(baseCents) / 100),
		DiscountPercent: &discount,
		Currency:        "USD",
		StoreSlug:       "gog",
		StoreGameID:     stringPtr(item.Catalog.ID),
	}, nil
}
