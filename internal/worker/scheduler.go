package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jafreck/TheresAlwaysADeal/config"
	"github.com/jafreck/TheresAlwaysADeal/internal/broker"
	"github.com/jafreck/TheresAlwaysADeal/internal/models"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
)

type storeLister interface {
	GetStores(ctx context.Context) ([]models.Store, error)
}

// Scheduler enqueues recurring scrape jobs: one bulk job per known
// store on the bulk interval, and one featured job for the configured
// featured source on the featured interval. The store list is read
// fresh on every tick so newly seeded stores are picked up without a
// restart.
type Scheduler struct {
	queues jobQueue
	stores storeLister
	cfg    config.ScrapeConfig
	logger *zap.Logger
}

// NewScheduler creates a scheduler
func NewScheduler(queues jobQueue, stores storeLister, cfg config.ScrapeConfig) *Scheduler {
	return &Scheduler{
		queues: queues,
		stores: stores,
		cfg:    cfg,
		logger: util.GetLogger(),
	}
}

// Start runs both tickers until the context is cancelled
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler",
		zap.Duration("scrape_interval", s.cfg.Interval),
		zap.Duration("featured_interval", s.cfg.FeaturedInterval),
		zap.String("featured_source", s.cfg.FeaturedSource))

	go s.runTicker(ctx, s.cfg.Interval, s.enqueueBulkRound)
	go s.runTicker(ctx, s.cfg.FeaturedInterval, s.enqueueFeatured)
}

func (s *Scheduler) runTicker(ctx context.Context, interval time.Duration, tick func(ctx context.Context)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick(ctx)
		}
	}
}

func (s *Scheduler) enqueueBulkRound(ctx context.Context) {
	stores, err := s.stores.GetStores(ctx)
	if err != nil {
		s.logger.Error("Failed to list stores for scheduled scrape", zap.Error(err))
		return
	}

	for _, store := range stores {
		jobID, err := s.enqueue(ctx, broker.QueueScrape, store.Slug)
		if err != nil {
			s.logger.Error("Failed to enqueue scheduled scrape",
				zap.String("source", store.Slug), zap.Error(err))
			continue
		}
		s.logger.Info("Enqueued scheduled scrape",
			zap.String("source", store.Slug),
			zap.String("job_id", jobID))
	}
}

func (s *Scheduler) enqueueFeatured(ctx context.Context) {
	jobID, err := s.enqueue(ctx, broker.QueueFeaturedScrape, s.cfg.FeaturedSource)
	if err != nil {
		s.logger.Error("Failed to enqueue featured scrape",
			zap.String("source", s.cfg.FeaturedSource), zap.Error(err))
		return
	}
	s.logger.Info("Enqueued featured scrape",
		zap.String("source", s.cfg.FeaturedSource),
		zap.String("job_id", jobID))
}

// TriggerScrape enqueues an ad-hoc bulk scrape for one source and
// returns the job ID. It runs alongside, not instead of, the recurring
// schedule.
func (s *Scheduler) TriggerScrape(ctx context.Context, source string) (string, error) {
	return s.enqueue(ctx, broker.QueueScrape, source)
}

func (s *Scheduler) enqueue(ctx context.Context, queue, source string) (string, error) {
	job := models.ScrapeJob{
		JobID:       uuid.New().String(),
		Source:      source,
		Attempt:     0,
		MaxAttempts: s.cfg.MaxAttempts,
	}
	if err := s.queues.Publish(ctx, queue, fmt.Sprintf("scrape-%s", source), job); err != nil {
		return "", fmt.Errorf("failed to enqueue scrape job for %s: %w", source, err)
	}
	return job.JobID, nil
}
