package models

import "time"

// Event types
const (
	EventTypePriceDrop  = "PRICE_DROP"
	EventTypeAllTimeLow = "PRICE_ALL_TIME_LOW"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceDropEvent is published when a listing's price falls below its
// previous observed price.
type PriceDropEvent struct {
	BaseEvent
	StoreListingID int64   `json:"store_listing_id"`
	GameID         int64   `json:"game_id"`
	PreviousPrice  float64 `json:"previous_price"`
	NewPrice       float64 `json:"new_price"`
}

// AllTimeLowEvent is published when a listing's price falls below its
// recorded all-time low.
type AllTimeLowEvent struct {
	BaseEvent
	StoreListingID int64   `json:"store_listing_id"`
	GameID         int64   `json:"game_id"`
	NewPrice       float64 `json:"new_price"`
}

// ScrapeJob is the payload of the scrape and featured-scrape queues.
// Attempt counts completed tries; a job whose failing attempt reaches
// MaxAttempts is dead-lettered instead of retried.
type ScrapeJob struct {
	JobID       string `json:"job_id"`
	Source      string `json:"source"`
	Attempt     int    `json:"attempt"`
	MaxAttempts int    `json:"max_attempts"`
}

// DeadLetter is the payload of the scrape-dlq queue: the original job
// plus the terminal error message, for manual inspection.
type DeadLetter struct {
	ScrapeJob
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// IngestJob carries one normalized batch from the scrape worker to the
// ingest worker.
type IngestJob struct {
	Source string        `json:"source"`
	Deals  []ScrapedGame `json:"deals"`
}
