package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGOGScraper(catalogURL, productsURL string) *GOGScraper {
	return &GOGScraper{
		fetch:       NewFetchClient(FetchOptions{MaxRetries: 1}),
		referral:    NewReferral(nil),
		catalogURL:  catalogURL,
		productsURL: productsURL,
		storeBase:   "https://www.gog.com/game",
	}
}

func gogRawItemJSON(t *testing.T, item gogRawItem) RawItem {
	t.Helper()
	raw, err := json.Marshal(item)
	require.NoError(t, err)
	return raw
}

func gogDetailsWithPrices(id int64, title string, price gogPriceItem) gogProductDetails {
	details := gogProductDetails{ID: id, Title: title}
	details.Embedded = &struct {
		Prices *struct {
			Items []gogPriceItem `json:"items"`
		} `json:"prices"`
	}{
		Prices: &struct {
			Items []gogPriceItem `json:"items"`
		}{Items: []gogPriceItem{price}},
	}
	return details
}

func TestGOGNormalizeParsesCentStrings(t *testing.T) {
	raw := gogRawItemJSON(t, gogRawItem{
		Catalog: gogCatalogProduct{ID: "1207664663", Title: "Cyberpunk 2077", Slug: "cyberpunk_2077"},
		Details: gogDetailsWithPrices(1207664663, "Cyberpunk 2077", gogPriceItem{
			BasePrice:  "5999",
			FinalPrice: "2999",
			Discount:   "50",
		}),
	})

	s := newTestGOGScraper("http://unused", "http://unused")
	game, err := s.Normalize(raw)
	require.NoError(t, err)

	assert.Equal(t, "Cyberpunk 2077", game.Title)
	assert.Equal(t, "cyberpunk-2077", game.Slug)
	assert.Equal(t, 29.99, game.Price)
	require.NotNil(t, game.OriginalPrice)
	assert.Equal(t, 59.99, *game.OriginalPrice)
	require.NotNil(t, game.DiscountPercent)
	assert.Equal(t, 50.0, *game.DiscountPercent)
	assert.Equal(t, "gog", game.StoreSlug)
	assert.Equal(t, "https://www.gog.com/game/cyberpunk_2077", game.StoreURL)
}

func TestGOGNormalizeRejectsBadPriceStrings(t *testing.T) {
	s := newTestGOGScraper("http://unused", "http://unused")

	raw := gogRawItemJSON(t, gogRawItem{
		Catalog: gogCatalogProduct{ID: "1", Title: "Broken"},
		Details: gogDetailsWithPrices(1, "Broken", gogPriceItem{
			BasePrice:  "not-a-number",
			FinalPrice: "999",
			Discount:   "10",
		}),
	})
	_, err := s.Normalize(raw)
	assert.Error(t, err)

	raw = gogRawItemJSON(t, gogRawItem{
		Catalog: gogCatalogProduct{ID: "2", Title: "No Prices"},
	})
	_, err = s.Normalize(raw)
	assert.Error(t, err)
}

func TestGOGFetchRawSkipsFailedDetailLookups(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/catalog", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("discounted"))
		json.NewEncoder(w).Encode(gogCatalogResponse{
			Pages: 1,
			Products: []gogCatalogProduct{
				{ID: "100", Title: "Works", Slug: "works"},
				{ID: "200", Title: "Missing", Slug: "missing"},
			},
		})
	})
	mux.HandleFunc("/products/100", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(gogDetailsWithPrices(100, "Works", gogPriceItem{
			BasePrice:  "1999",
			FinalPrice: "999",
			Discount:   "50",
		}))
	})
	mux.HandleFunc("/products/200", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	s := newTestGOGScraper(srv.URL+"/catalog", srv.URL+"/products")
	items, err := s.FetchRaw(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)

	game, err := s.Normalize(items[0])
	require.NoError(t, err)
	assert.Equal(t, "Works", game.Title)
	assert.Equal(t, 9.99, game.Price)
}
