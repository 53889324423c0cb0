package scraper

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/jafreck/TheresAlwaysADeal/internal/models"
)

const (
	epicFreeGamesURL = "https://store-site-backend-static.ak.epicgames.com/freeGamesPromotions?locale=en-US&country=US&allowCountries=US"
	epicGraphQLURL   = "https://graphql.epicgames.com/graphql"
	epicPageSize     = 40
	epicRateLimitRPS = 2
)

const epicCatalogQuery = `query searchStore($count: Int, $start: Int, $country: String, $locale: String) {
  Catalog {
    searchStore(count: $count, start: $start, country: $country, locale: $locale, onSale: true, sortBy: "currentPrice", sortDir: "ASC") {
      elements {
        id title productSlug urlSlug
        price(country: $country) {
          totalPrice { discountPrice originalPrice discount currencyCode }
        }
        promotions {
          promotionalOffers {
            promotionalOffers { startDate endDate }
          }
        }
      }
      paging { count total }
    }
  }
}`

type epicTotalPrice struct {
	DiscountPrice float64 `json:"discountPrice"`
	OriginalPrice float64 `json:"originalPrice"`
	Discount      float64 `json:"discount"`
	CurrencyCode  string  `json:"currencyCode"`
}

type epicPromoOffer struct {
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
}

type epicPromoGroup struct {
	PromotionalOffers []epicPromoOffer `json:"promotionalOffers"`
}

type epicPromotions struct {
	PromotionalOffers []epicPromoGroup `json:"promotionalOffers"`
}

type epicElement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	ProductSlug string `json:"productSlug"`
	URLSlug     string `json:"urlSlug"`
	Price       *struct {
		TotalPrice epicTotalPrice `json:"totalPrice"`
	} `json:"price"`
	Promotions *epicPromotions `json:"promotions"`
}

// epicRawItem tags each element with whether it came from the
// currently-free feed; free items normalize to price 0.
type epicRawItem struct {
	epicElement
	IsFree bool `json:"is_free_item"`
}

type epicSearchStore struct {
	Elements []epicElement `json:"elements"`
	Paging   struct {
		Count int `json:"count"`
		Total int `json:"total"`
	} `json:"paging"`
}

type epicCatalogResponse struct {
	Data struct {
		Catalog struct {
			SearchStore epicSearchStore `json:"searchStore"`
		} `json:"Catalog"`
	} `json:"data"`
}

// EpicScraper combines Epic's currently-free REST feed with its
// offset-paginated GraphQL on-sale catalog.
type EpicScraper struct {
	fetch        *FetchClient
	referral     *Referral
	freeGamesURL string
	graphQLURL   string
	storeBase    string
}

// NewEpicScraper creates the Epic Games scraper
func NewEpicScraper(deps Deps) (Scraper, error) {
	return &EpicScraper{
		fetch:        NewFetchClient(FetchOptions{RPS: epicRateLimitRPS, MaxRetries: DefaultMaxRetries}),
		referral:     deps.Referral,
		freeGamesURL: epicFreeGamesURL,
		graphQLURL:   epicGraphQLURL,
		storeBase:    "https://store.epicgames.com/en-US/p",
	}, nil
}

// Source returns the source identifier
func (s *EpicScraper) Source() string { return "epic-games" }

// FetchRaw returns the free-games feed followed by all on-sale catalog
// pages. Pagination loops until the reported total is reached or a
// page comes back empty.
func (s *EpicScraper) FetchRaw(ctx context.Context) ([]RawItem, error) {
	var items []RawItem

	freeResp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
		return client.R().SetContext(ctx).Get(s.freeGamesURL)
	})
	if err != nil {
		return nil, err
	}

	var freeData epicCatalogResponse
	if err := json.Unmarshal(freeResp.Body(), &freeData); err != nil {
		return nil, fmt.Errorf("failed to decode free games feed: %w", err)
	}
	for _, el := range freeData.Data.Catalog.SearchStore.Elements {
		raw, err := json.Marshal(epicRawItem{epicElement: el, IsFree: true})
		if err != nil {
			continue
		}
		items = append(items, raw)
	}

	start := 0
	total := -1

	for total < 0 || start < total {
		body := map[string]interface{}{
			"query": epicCatalogQuery,
			"variables": map[string]interface{}{
				"count":   epicPageSize,
				"start":   start,
				"country": "US",
				"locale":  "en-US",
			},
		}

		resp, err := s.fetch.Do(ctx, func(client *resty.Client) (*resty.Response, error) {
			return client.R().SetContext(ctx).
				SetHeader("Content-Type", "application/json").
				SetBody(body).
				Post(s.graphQLURL)
		})
		if err != nil {
			return nil, err
		}

		var page epicCatalogResponse
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("failed to decode catalog page: %w", err)
		}

		searchStore := page.Data.Catalog.SearchStore
		total = searchStore.Paging.Total
		if len(searchStore.Elements) == 0 {
			break
		}

		for _, el := range searchStore.Elements {
			raw, err := json.Marshal(epicRawItem{epicElement: el, IsFree: false})
			if err != nil {
				continue
			}
			items = append(items, raw)
		}
		start += len(searchStore.Elements)
	}

	return items, nil
}

// Normalize maps a tagged Epic element to a canonical record. Epic
// prices are in cents; the discount is computed from the two prices.
func (s *EpicScraper) Normalize(raw RawItem) (models.ScrapedGame, error) {
	var item epicRawItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return models.ScrapedGame{}, fmt.Errorf("failed to decode epic element: %w", err)
	}
	if item.Title == "" {
		return models.ScrapedGame{}, fmt.Errorf("epic element %s has no title", item.ID)
	}

	var totalPrice epicTotalPrice
	if item.Price != nil {
		totalPrice = item.Price.TotalPrice
	}

	price := totalPrice.DiscountPrice / 100
	if item.IsFree {
		price = 0
	}
	originalPrice := totalPrice.OriginalPrice / 100

	var origPtr *float64
	if originalPrice > 0 && originalPrice != price {
		origPtr = &originalPrice
	}

	var saleEndsAt *time.Time
	if item.Promotions != nil && len(item.Promotions.PromotionalOffers) > 0 {
		offers := item.Promotions.PromotionalOffers[0].PromotionalOffers
		if len(offers) > 0 {
			if t, err := time.Parse(time.RFC3339, offers[0].EndDate); err == nil {
				saleEndsAt = &t
			}
		}
	}

	pageSlug := item.ProductSlug
	if pageSlug == "" {
		pageSlug = item.URLSlug
	}
	if pageSlug == "" {
		pageSlug = item.ID
	}

	currency := totalPrice.CurrencyCode
	if currency == "" {
		currency = "USD"
	}

	return models.ScrapedGame{
		Title:           item.Title,
		Slug:            Slugify(item.Title),
		StoreURL:        s.referral.BuildURL(fmt.Sprintf("%s/%s", s.storeBase, pageSlug), "epic-games"),
		Price:           price,
		OriginalPrice:   origPtr,
		DiscountPercent: computeDiscount(price, originalPrice),
		Currency:        currency,
		StoreSlug:       "epic-games",
		StoreGameID:     stringPtr(item.ID),
		SaleEndsAt:      saleEndsAt,
	}, nil
}
