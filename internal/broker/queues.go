package broker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/jafreck/TheresAlwaysADeal/internal/redisclient"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
)

// Queue names. Each is one durable Kafka topic.
const (
	QueueScrape         = "scrape"
	QueueFeaturedScrape = "featured-scrape"
	QueueIngest         = "ingest"
	QueuePriceDrop      = "price-drop"
	QueueAllTimeLow     = "all-time-low"
	QueueScrapeDLQ      = "scrape-dlq"
)

// QueueNames lists every queue the pipeline owns.
var QueueNames = []string{
	QueueScrape,
	QueueFeaturedScrape,
	QueueIngest,
	QueuePriceDrop,
	QueueAllTimeLow,
	QueueScrapeDLQ,
}

// Queues holds one producer per named queue. It is constructed once at
// process start and passed to workers and the scheduler explicitly.
// Queue depth counters live in Redis so every process sees the same
// waiting/active/completed/failed numbers.
type Queues struct {
	producers map[string]*Producer
	counters  *redisclient.Client
	logger    *zap.Logger
}

// NewQueues creates producers for all named queues
func NewQueues(brokers []string, counters *redisclient.Client) *Queues {
	producers := make(map[string]*Producer, len(QueueNames))
	for _, name := range QueueNames {
		producers[name] = NewProducer(brokers, name)
	}

	return &Queues{
		producers: producers,
		counters:  counters,
		logger:    util.GetLogger(),
	}
}

// Publish enqueues one job onto a named queue
func (q *Queues) Publish(ctx context.Context, queue, key string, payload interface{}) error {
	if err := q.producers[queue].Publish(ctx, key, payload); err != nil {
		return err
	}

	if err := q.counters.MarkQueued(ctx, queue); err != nil {
		q.logger.Warn("Failed to update queue counter",
			zap.String("queue", queue), zap.Error(err))
	}

	q.logger.Debug("Job enqueued", zap.String("queue", queue), zap.String("key", key))
	return nil
}

// PublishAfter enqueues a job after a delay. Kafka has no broker-native
// delayed delivery, so the delay runs in-process; a crash during the
// wait drops this retry and the next scheduler cycle picks the source
// up again.
func (q *Queues) PublishAfter(queue, key string, payload interface{}, delay time.Duration) {
	go func() {
		time.Sleep(delay)
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := q.Publish(ctx, queue, key, payload); err != nil {
			q.logger.Error("Failed to publish delayed job",
				zap.String("queue", queue), zap.Error(err))
		}
	}()
}

// Counters returns the shared queue depth counters
func (q *Queues) Counters() *redisclient.Client {
	return q.counters
}

// Close closes all producers
func (q *Queues) Close() error {
	var firstErr error
	for _, p := range q.producers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
