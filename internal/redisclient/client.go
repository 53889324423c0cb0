package redisclient

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

// DealScoresKey is the sorted set holding normalized deal scores keyed
// by store listing id.
const DealScoresKey = "deal_scores"

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// PublishDealScores replaces the ranking sorted set with the given
// scores and sets an absolute expiry. The full rebuild keeps the
// ranking internally consistent; stale and fresh scores never mix.
func (c *Client) PublishDealScores(ctx context.Context, scores map[int64]float64, ttl time.Duration) error {
	if len(scores) == 0 {
		return nil
	}

	members := make([]*redis.Z, 0, len(scores))
	for listingID, score := range scores {
		members = append(members, &redis.Z{
			Score:  score,
			Member: strconv.FormatInt(listingID, 10),
		})
	}

	pipe := c.rdb.TxPipeline()
	pipe.Del(ctx, DealScoresKey)
	pipe.ZAdd(ctx, DealScoresKey, members...)
	pipe.Expire(ctx, DealScoresKey, ttl)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to publish deal scores: %w", err)
	}
	return nil
}

// TopDealScores reads the highest-ranked listings from the cache. A
// missing key returns an empty slice; callers recompute from the
// relational aggregates on a miss.
func (c *Client) TopDealScores(ctx context.Context, limit int64) ([]redis.Z, error) {
	return c.rdb.ZRevRangeWithScores(ctx, DealScoresKey, 0, limit-1).Result()
}

// QueueCounts holds depth counters for one queue.
type QueueCounts struct {
	Waiting   int64 `json:"waiting"`
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
}

func queueStatsKey(queue string) string {
	return fmt.Sprintf("queue:stats:%s", queue)
}

// MarkQueued records one job entering a queue
func (c *Client) MarkQueued(ctx context.Context, queue string) error {
	return c.rdb.HIncrBy(ctx, queueStatsKey(queue), "waiting", 1).Err()
}

// MarkStarted records one job moving from waiting to active
func (c *Client) MarkStarted(ctx context.Context, queue string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, queueStatsKey(queue), "waiting", -1)
	pipe.HIncrBy(ctx, queueStatsKey(queue), "active", 1)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkCompleted records one active job finishing successfully
func (c *Client) MarkCompleted(ctx context.Context, queue string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, queueStatsKey(queue), "active", -1)
	pipe.HIncrBy(ctx, queueStatsKey(queue), "completed", 1)
	_, err := pipe.Exec(ctx)
	return err
}

// MarkFailed records one active job finishing with an error
func (c *Client) MarkFailed(ctx context.Context, queue string) error {
	pipe := c.rdb.TxPipeline()
	pipe.HIncrBy(ctx, queueStatsKey(queue), "active", -1)
	pipe.HIncrBy(ctx, queueStatsKey(queue), "failed", 1)
	_, err := pipe.Exec(ctx)
	return err
}

// QueueCountsFor reads the depth counters for one queue
func (c *Client) QueueCountsFor(ctx context.Context, queue string) (QueueCounts, error) {
	var counts QueueCounts

	result, err := c.rdb.HGetAll(ctx, queueStatsKey(queue)).Result()
	if err != nil {
		return counts, err
	}

	counts.Waiting, _ = strconv.ParseInt(result["waiting"], 10, 64)
	counts.Active, _ = strconv.ParseInt(result["active"], 10, 64)
	counts.Completed, _ = strconv.ParseInt(result["completed"], 10, 64)
	counts.Failed, _ = strconv.ParseInt(result["failed"], 10, 64)
	return counts, nil
}
