package worker

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jafreck/TheresAlwaysADeal/config"
	"github.com/jafreck/TheresAlwaysADeal/internal/broker"
	"github.com/jafreck/TheresAlwaysADeal/internal/models"
	"github.com/jafreck/TheresAlwaysADeal/internal/scraper"
	"github.com/jafreck/TheresAlwaysADeal/internal/util"
)

type publishedJob struct {
	queue   string
	key     string
	payload interface{}
	delay   time.Duration
}

// fakeQueue records publishes instead of producing to Kafka. Delayed
// publishes are recorded synchronously with their delay.
type fakeQueue struct {
	published []publishedJob
	delayed   []publishedJob
}

func (q *fakeQueue) Publish(ctx context.Context, queue, key string, payload interface{}) error {
	q.published = append(q.published, publishedJob{queue: queue, key: key, payload: payload})
	return nil
}

func (q *fakeQueue) PublishAfter(queue, key string, payload interface{}, delay time.Duration) {
	q.delayed = append(q.delayed, publishedJob{queue: queue, key: key, payload: payload, delay: delay})
}

type fakeCounters struct {
	started, completed, failed int
}

func (c *fakeCounters) MarkStarted(ctx context.Context, queue string) error {
	c.started++
	return nil
}

func (c *fakeCounters) MarkCompleted(ctx context.Context, queue string) error {
	c.completed++
	return nil
}

func (c *fakeCounters) MarkFailed(ctx context.Context, queue string) error {
	c.failed++
	return nil
}

func newTestScrapeWorker(queue *fakeQueue, counters *fakeCounters) *ScrapeWorker {
	return &ScrapeWorker{
		queueName: broker.QueueScrape,
		queues:    queue,
		counters:  counters,
		registry:  scraper.NewRegistry(scraper.Deps{Referral: scraper.NewReferral(nil)}),
		logger:    util.GetLogger(),
	}
}

func TestFailedJobRetriesWithBackoff(t *testing.T) {
	queue := &fakeQueue{}
	worker := newTestScrapeWorker(queue, &fakeCounters{})

	job := models.ScrapeJob{JobID: "job-1", Source: "steam", Attempt: 0, MaxAttempts: 3}
	worker.handleFailure(context.Background(), job, errors.New("upstream timeout"))

	// below the ceiling: rescheduled, never dead-lettered
	assert.Empty(t, queue.published)
	require.Len(t, queue.delayed, 1)

	retry := queue.delayed[0]
	assert.Equal(t, broker.QueueScrape, retry.queue)
	assert.Equal(t, 2*time.Second, retry.delay)

	rescheduled, ok := retry.payload.(models.ScrapeJob)
	require.True(t, ok)
	assert.Equal(t, "job-1", rescheduled.JobID)
	assert.Equal(t, 1, rescheduled.Attempt)
}

func TestFailedJobBackoffDoublesPerAttempt(t *testing.T) {
	queue := &fakeQueue{}
	worker := newTestScrapeWorker(queue, &fakeCounters{})

	job := models.ScrapeJob{JobID: "job-2", Source: "gog", Attempt: 1, MaxAttempts: 5}
	worker.handleFailure(context.Background(), job, errors.New("connection reset"))

	require.Len(t, queue.delayed, 1)
	assert.Equal(t, 4*time.Second, queue.delayed[0].delay)
	assert.Equal(t, 2, queue.delayed[0].payload.(models.ScrapeJob).Attempt)
}

func TestFailedJobDeadLetteredAtAttemptCeiling(t *testing.T) {
	queue := &fakeQueue{}
	worker := newTestScrapeWorker(queue, &fakeCounters{})

	// the job is on its final attempt; one more failure exhausts it
	job := models.ScrapeJob{JobID: "doomed-job", Source: "steam", Attempt: 2, MaxAttempts: 3}
	worker.handleFailure(context.Background(), job, errors.New("upstream timeout"))

	assert.Empty(t, queue.delayed)
	require.Len(t, queue.published, 1)
	assert.Equal(t, broker.QueueScrapeDLQ, queue.published[0].queue)

	deadLetter, ok := queue.published[0].payload.(models.DeadLetter)
	require.True(t, ok)
	assert.Equal(t, "doomed-job", deadLetter.ScrapeJob.JobID)
	assert.Equal(t, "upstream timeout", deadLetter.Error)
	assert.False(t, deadLetter.FailedAt.IsZero())
}

func TestUnknownSourceNeverRetriedNorDeadLettered(t *testing.T) {
	queue := &fakeQueue{}
	worker := newTestScrapeWorker(queue, &fakeCounters{})

	job := models.ScrapeJob{JobID: "job-3", Source: "itchio", Attempt: 0, MaxAttempts: 3}
	worker.handleFailure(context.Background(), job, scraper.ErrUnknownSource)

	assert.Empty(t, queue.published)
	assert.Empty(t, queue.delayed)
}

func TestHandleMessageMarksFailure(t *testing.T) {
	queue := &fakeQueue{}
	counters := &fakeCounters{}
	worker := newTestScrapeWorker(queue, counters)

	job := models.ScrapeJob{JobID: "job-4", Source: "itchio", Attempt: 0, MaxAttempts: 3}
	msg := queueMessage(t, job)

	// the handler absorbs the failure so the consumer still commits
	require.NoError(t, worker.handleMessage(context.Background(), msg))
	assert.Equal(t, 1, counters.started)
	assert.Equal(t, 1, counters.failed)
	assert.Equal(t, 0, counters.completed)
}

func TestSchedulerEnqueuesPerStore(t *testing.T) {
	queue := &fakeQueue{}
	scheduler := NewScheduler(queue, fixedStores{}, config.ScrapeConfig{MaxAttempts: 3})

	scheduler.enqueueBulkRound(context.Background())

	require.Len(t, queue.published, 2)
	sources := []string{
		queue.published[0].payload.(models.ScrapeJob).Source,
		queue.published[1].payload.(models.ScrapeJob).Source,
	}
	assert.ElementsMatch(t, []string{"steam", "gog"}, sources)
	for _, p := range queue.published {
		assert.Equal(t, broker.QueueScrape, p.queue)
	}
}

func TestSchedulerFeaturedUsesOwnQueue(t *testing.T) {
	queue := &fakeQueue{}
	scheduler := NewScheduler(queue, fixedStores{}, config.ScrapeConfig{
		FeaturedSource: "steam",
		MaxAttempts:    3,
	})

	scheduler.enqueueFeatured(context.Background())

	require.Len(t, queue.published, 1)
	assert.Equal(t, broker.QueueFeaturedScrape, queue.published[0].queue)
	assert.Equal(t, "steam", queue.published[0].payload.(models.ScrapeJob).Source)
}

func TestTriggerScrapeSetsJobDefaults(t *testing.T) {
	queue := &fakeQueue{}
	scheduler := NewScheduler(queue, fixedStores{}, config.ScrapeConfig{MaxAttempts: 3})

	jobID, err := scheduler.TriggerScrape(context.Background(), "gog")
	require.NoError(t, err)
	assert.NotEmpty(t, jobID)

	require.Len(t, queue.published, 1)
	job := queue.published[0].payload.(models.ScrapeJob)
	assert.Equal(t, jobID, job.JobID)
	assert.Equal(t, "gog", job.Source)
	assert.Equal(t, 0, job.Attempt)
	assert.Equal(t, 3, job.MaxAttempts)
}

func queueMessage(t *testing.T, job models.ScrapeJob) kafka.Message {
	t.Helper()
	value, err := json.Marshal(job)
	require.NoError(t, err)
	return kafka.Message{Key: []byte(job.JobID), Value: value}
}

type fixedStores struct{}

func (fixedStores) GetStores(ctx context.Context) ([]models.Store, error) {
	return []models.Store{
		{ID: 1, Slug: "steam"},
		{ID: 2, Slug: "gog"},
	}, nil
}
