package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/jafreck/TheresAlwaysADeal/internal/broker"
	"github.com/jafreck/TheresAlwaysADeal/internal/models"
	"github.com/jafreck/TheresAlwaysADeal/internal/scraper"
	"github.com/jafreck/TheresAlwaysADeal/internal/service"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
)

// jobQueue is the publishing surface of broker.Queues the workers and
// the scheduler depend on.
type jobQueue interface {
	Publish(ctx context.Context, queue, key string, payload interface{}) error
	PublishAfter(queue, key string, payload interface{}, delay time.Duration)
}

// queueCounters tracks per-queue depth state in Redis.
type queueCounters interface {
	MarkStarted(ctx context.Context, queue string) error
	MarkCompleted(ctx context.Context, queue string) error
	MarkFailed(ctx context.Context, queue string) error
}

// ScrapeWorker processes scrape jobs from one queue: it resolves the
// source's scraper, fetches and normalizes listings, and enqueues one
// ingest job per batch. The featured-scrape queue gets its own worker
// fixed at concurrency 1 so the higher-frequency cadence never
// contends with the bulk pool.
type ScrapeWorker struct {
	brokers     []string
	groupID     string
	queueName   string
	queues      jobQueue
	counters    queueCounters
	registry    *scraper.Registry
	concurrency int
	consumers   []*broker.Consumer
	logger      *zap.Logger
}

// NewScrapeWorker creates a scrape worker for one queue
func NewScrapeWorker(brokers []string, groupID, queueName string, queues *broker.Queues, registry *scraper.Registry, concurrency int) *ScrapeWorker {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ScrapeWorker{
		brokers:     brokers,
		groupID:     groupID,
		queueName:   queueName,
		queues:      queues,
		counters:    queues.Counters(),
		registry:    registry,
		concurrency: concurrency,
		logger:      util.GetLogger(),
	}
}

// Start launches one consumer per concurrency slot and returns
func (w *ScrapeWorker) Start(ctx context.Context) {
	w.logger.Info("Starting scrape worker",
		zap.String("queue", w.queueName),
		zap.Int("concurrency", w.concurrency))

	for i := 0; i < w.concurrency; i++ {
		consumer := broker.NewConsumer(w.brokers, w.queueName, w.groupID)
		w.consumers = append(w.consumers, consumer)
		go func() {
			if err := consumer.StartConsuming(ctx, w.handleMessage); err != nil && !errors.Is(err, context.Canceled) {
				w.logger.Error("Scrape consumer stopped", zap.Error(err))
			}
		}()
	}
}

// Stop closes all consumers
func (w *ScrapeWorker) Stop() {
	for _, consumer := range w.consumers {
		if err := consumer.Close(); err != nil {
			w.logger.Warn("Error closing consumer", zap.Error(err))
		}
	}
}

func (w *ScrapeWorker) handleMessage(ctx context.Context, msg kafka.Message) error {
	var job models.ScrapeJob
	if err := json.Unmarshal(msg.Value, &job); err != nil {
		w.logger.Error("Failed to unmarshal scrape job", zap.Error(err))
		return err
	}

	_ = w.counters.MarkStarted(ctx, w.queueName)

	if err := w.runScrape(ctx, job); err != nil {
		_ = w.counters.MarkFailed(ctx, w.queueName)
		w.handleFailure(ctx, job, err)
		return nil
	}

	_ = w.counters.MarkCompleted(ctx, w.queueName)
	return nil
}

// handleFailure decides retry versus dead-letter. An unknown source is
// deterministic, so retrying cannot help; everything else is retried
// until the attempt ceiling, then moved to the DLQ with the terminal
// error attached.
func (w *ScrapeWorker) handleFailure(ctx context.Context, job models.ScrapeJob, jobErr error) {
	util.ScrapeJobsTotal.WithLabelValues(job.Source, "failed").Inc()

	if errors.Is(jobErr, scraper.ErrUnknownSource) {
		w.logger.Error("Scrape job failed for unknown source",
			zap.String("source", job.Source),
			zap.String("job_id", job.JobID))
		return
	}

	attemptsMade := job.Attempt + 1
	if attemptsMade >= job.MaxAttempts {
		deadLetter := models.DeadLetter{
			ScrapeJob: job,
			Error:     jobErr.Error(),
			FailedAt:  time.Now().UTC(),
		}
		if err := w.queues.Publish(ctx, broker.QueueScrapeDLQ, job.JobID, deadLetter); err != nil {
			w.logger.Error("Failed to dead-letter scrape job",
				zap.String("source", job.Source), zap.Error(err))
			return
		}
		util.DeadLetteredJobsTotal.Inc()
		w.logger.Error("Scrape job exhausted, moved to dead-letter queue",
			zap.String("source", job.Source),
			zap.String("job_id", job.JobID),
			zap.Int("attempts", attemptsMade),
			zap.String("error", jobErr.Error()))
		return
	}

	retry := job
	retry.Attempt = attemptsMade
	backoff := time.Duration(1<<uint(attemptsMade)) * time.Second
	w.queues.PublishAfter(w.queueName, job.JobID, retry, backoff)

	w.logger.Warn("Scrape job failed, rescheduling",
		zap.String("source", job.Source),
		zap.Int("attempt", attemptsMade),
		zap.Duration("backoff", backoff),
		zap.Error(jobErr))
}

func (w *ScrapeWorker) runScrape(ctx context.Context, job models.ScrapeJob) error {
	ctx, span := util.StartSourceSpan(ctx, "ScrapeWorker.runScrape", job.Source)
	defer span.End()

	startTime := time.Now()
	timer := util.ScrapeDuration.WithLabelValues(job.Source)

	src, err := w.registry.Resolve(job.Source)
	if err != nil {
		return err
	}

	rawItems, err := src.FetchRaw(ctx)
	if err != nil {
		return err
	}

	normalized, errorCount := scraper.NormalizeBatch(src, rawItems)
	if errorCount > 0 {
		util.NormalizationErrorsTotal.WithLabelValues(job.Source).Add(float64(errorCount))
	}

	ingestJob := models.IngestJob{Source: job.Source, Deals: normalized}
	if err := w.queues.Publish(ctx, broker.QueueIngest, job.Source, ingestJob); err != nil {
		return err
	}

	timer.Observe(time.Since(startTime).Seconds())
	util.ScrapeJobsTotal.WithLabelValues(job.Source, "succeeded").Inc()
	util.ScrapeRecordsFetched.WithLabelValues(job.Source).Add(float64(len(normalized)))

	w.logger.Info("Scrape complete",
		zap.String("source", job.Source),
		zap.Time("start_time", startTime),
		zap.Time("end_time", time.Now()),
		zap.Int("records_fetched", len(normalized)),
		zap.Int("error_count", errorCount))
	return nil
}

// IngestWorker processes ingest jobs one batch at a time.
type IngestWorker struct {
	consumer *broker.Consumer
	counters queueCounters
	engine   *service.IngestEngine
	logger   *zap.Logger
}

// NewIngestWorker creates the ingest worker
func NewIngestWorker(brokers []string, groupID string, queues *broker.Queues, engine *service.IngestEngine) *IngestWorker {
	return &IngestWorker{
		consumer: broker.NewConsumer(brokers, broker.QueueIngest, groupID),
		counters: queues.Counters(),
		engine:   engine,
		logger:   util.GetLogger(),
	}
}

// Start consumes ingest jobs until the context is cancelled
func (w *IngestWorker) Start(ctx context.Context) {
	w.logger.Info("Starting ingest worker")

	go func() {
		err := w.consumer.StartConsuming(ctx, func(ctx context.Context, msg kafka.Message) error {
			var job models.IngestJob
			if err := json.Unmarshal(msg.Value, &job); err != nil {
				w.logger.Error("Failed to unmarshal ingest job", zap.Error(err))
				return err
			}

			_ = w.counters.MarkStarted(ctx, broker.QueueIngest)

			// Per-record failures are absorbed inside the engine; an
			// ingest job itself never fails.
			w.engine.IngestBatch(ctx, job)

			_ = w.counters.MarkCompleted(ctx, broker.QueueIngest)
			return nil
		})
		if err != nil && !errors.Is(err, context.Canceled) {
			w.logger.Error("Ingest consumer stopped", zap.Error(err))
		}
	}()
}

// Stop closes the consumer
func (w *IngestWorker) Stop() {
	if err := w.consumer.Close(); err != nil {
		w.logger.Warn("Error closing ingest consumer", zap.Error(err))
	}
}
