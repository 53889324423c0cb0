package scraper

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestFanaticalScraper(queryURL string) *FanaticalScraper {
	return &FanaticalScraper{
		fetch:     NewFetchClient(FetchOptions{MaxRetries: 1}),
		referral:  NewReferral(nil),
		appID:     "TESTAPP",
		searchKey: "test-key",
		queryURL:  queryURL,
		storeBase: fanaticalBaseURL,
	}
}

func TestNewFanaticalScraperRequiresCredentials(t *testing.T) {
	t.Setenv("FANATICAL_ALGOLIA_APP_ID", "")
	t.Setenv("FANATICAL_ALGOLIA_SEARCH_KEY", "")

	_, err := NewFanaticalScraper(Deps{Referral: NewReferral(nil)})
	assert.Error(t, err)

	t.Setenv("FANATICAL_ALGOLIA_APP_ID", "APP")
	t.Setenv("FANATICAL_ALGOLIA_SEARCH_KEY", "KEY")

	s, err := NewFanaticalScraper(Deps{Referral: NewReferral(nil)})
	require.NoError(t, err)
	assert.Equal(t, "fanatical", s.Source())
}

func TestFanaticalNormalizeGame(t *testing.T) {
	hit, _ := json.Marshal(fanaticalHit{
		Name:      "Dishonored",
		Slug:      "dishonored",
		Type:      "game",
		Price:     map[string]float64{"USD": 2.49},
		FullPrice: map[string]float64{"USD": 9.99},
		Discount:  floatPtr(75),
		SteamLink: "https://store.steampowered.com/app/205100/Dishonored/",
		EndTime:   1767225600,
	})

	s := newTestFanaticalScraper("http://unused")
	game, err := s.Normalize(hit)
	require.NoError(t, err)

	assert.Equal(t, "Dishonored", game.Title)
	assert.Equal(t, "https://www.fanatical.com/en/game/dishonored", game.StoreURL)
	assert.Equal(t, 2.49, game.Price)
	require.NotNil(t, game.OriginalPrice)
	assert.Equal(t, 9.99, *game.OriginalPrice)
	require.NotNil(t, game.SteamAppID)
	assert.Equal(t, int64(205100), *game.SteamAppID)
	require.NotNil(t, game.SaleEndsAt)
	assert.Equal(t, time.Unix(1767225600, 0).UTC(), *game.SaleEndsAt)
	assert.False(t, game.IsBundle)
}

func TestFanaticalNormalizeBundleUsesBundlePath(t *testing.T) {
	hit, _ := json.Marshal(fanaticalHit{
		Name:  "Killer Bundle",
		Slug:  "killer-bundle",
		Type:  "bundle",
		Price: map[string]float64{"USD": 4.99},
	})

	s := newTestFanaticalScraper("http://unused")
	game, err := s.Normalize(hit)
	require.NoError(t, err)

	assert.Equal(t, "https://www.fanatical.com/en/bundle/killer-bundle", game.StoreURL)
	assert.True(t, game.IsBundle)
	assert.Nil(t, game.SteamAppID)
	assert.Nil(t, game.SaleEndsAt)
}

func TestFanaticalFetchRawDeduplicatesAcrossFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TESTAPP", r.Header.Get("X-Algolia-Application-Id"))
		assert.Equal(t, "test-key", r.Header.Get("X-Algolia-API-Key"))

		var body struct {
			Filters string `json:"filters"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		var hits []json.RawMessage
		if body.Filters == "on_sale=1" {
			a, _ := json.Marshal(fanaticalHit{Name: "Game A", Slug: "game-a", Type: "game"})
			shared, _ := json.Marshal(fanaticalHit{Name: "Shared", Slug: "shared", Type: "game"})
			hits = []json.RawMessage{a, shared}
		} else {
			shared, _ := json.Marshal(fanaticalHit{Name: "Shared", Slug: "shared", Type: "bundle"})
			b, _ := json.Marshal(fanaticalHit{Name: "Bundle B", Slug: "bundle-b", Type: "bundle"})
			hits = []json.RawMessage{shared, b}
		}

		json.NewEncoder(w).Encode(fanaticalResponse{Hits: hits, Page: 0, NbPages: 1})
	}))
	defer srv.Close()

	s := newTestFanaticalScraper(srv.URL)
	items, err := s.FetchRaw(context.Background())
	require.NoError(t, err)

	// "shared" appears under both filters but survives only once
	require.Len(t, items, 3)

	slugs := make(map[string]bool)
	for _, raw := range items {
		var hit fanaticalHit
		require.NoError(t, json.Unmarshal(raw, &hit))
		slugs[hit.Slug] = true
	}
	assert.Equal(t, map[string]bool{"game-a": true, "shared": true, "bundle-b": true}, slugs)
}
