package scraper

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// DefaultMaxRetries is the retry ceiling used when none is configured.
const DefaultMaxRetries = 3

// ExhaustedError is returned when every attempt failed. It carries the
// last HTTP status (0 for a transport failure) or the last transport
// error. Callers treat it as job failure; it is not retried further up
// the stack.
type ExhaustedError struct {
	Status int
	Err    error
}

func (e *ExhaustedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("fetch retries exhausted: %v", e.Err)
	}
	return fmt.Sprintf("fetch retries exhausted: last status %d", e.Status)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// FetchOptions configures one scraper's fetch client. RPS and RPM may
// both be set; a request must satisfy both ceilings.
type FetchOptions struct {
	RPS        float64
	RPM        int
	MaxRetries int
	Timeout    time.Duration
	Headers    map[string]string
}

// FetchClient paces requests to one upstream source and retries
// transient failures with exponential backoff.
type FetchClient struct {
	http *resty.Client
	opts FetchOptions

	// now and sleep default to the real clock; tests swap them to
	// drive the throttle deterministically.
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	mu          sync.Mutex
	lastRequest time.Time
	window      []time.Time
}

// NewFetchClient creates a rate-limited retrying client
func NewFetchClient(opts FetchOptions) *FetchClient {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	client := resty.New()
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}
	for k, v := range opts.Headers {
		client.SetHeader(k, v)
	}

	return &FetchClient{
		http:  client,
		opts:  opts,
		now:   time.Now,
		sleep: sleepCtx,
	}
}

// Do runs one request through the throttle and retry policy. The
// request function receives the shared resty client. A response with
// status >= 500 and any transport error are retried up to the ceiling;
// everything else (including 4xx) returns immediately.
func (c *FetchClient) Do(ctx context.Context, req func(client *resty.Client) (*resty.Response, error)) (*resty.Response, error) {
	var lastErr error
	var lastStatus int

	for attempt := 0; attempt <= c.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		if err := c.throttle(ctx); err != nil {
			return nil, err
		}

		resp, err := req(c.http)
		if err != nil {
			lastErr = err
			lastStatus = 0
			continue
		}
		if resp.StatusCode() >= 500 {
			lastErr = nil
			lastStatus = resp.StatusCode()
			continue
		}

		return resp, nil
	}

	return nil, &ExhaustedError{Status: lastStatus, Err: lastErr}
}

// throttle enforces the RPS and RPM ceilings. RPS paces off the last
// request's timestamp; RPM keeps a sliding window of the trailing 60s
// and waits for the oldest entry to age out when the window is full.
func (c *FetchClient) throttle(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opts.RPS > 0 && !c.lastRequest.IsZero() {
		gap := time.Duration(float64(time.Second) / c.opts.RPS)
		if elapsed := c.now().Sub(c.lastRequest); elapsed < gap {
			if err := c.sleep(ctx, gap-elapsed); err != nil {
				return err
			}
		}
	}

	if c.opts.RPM > 0 {
		c.window = pruneWindow(c.window, c.now().Add(-time.Minute))
		if len(c.window) >= c.opts.RPM {
			wait := c.window[0].Add(time.Minute).Sub(c.now())
			if wait > 0 {
				if err := c.sleep(ctx, wait); err != nil {
					return err
				}
			}
			c.window = pruneWindow(c.window, c.now().Add(-time.Minute))
		}
	}

	now := c.now()
	c.lastRequest = now
	if c.opts.RPM > 0 {
		c.window = append(c.window, now)
	}
	return nil
}

func pruneWindow(window []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(window) && !window[i].After(cutoff) {
		i++
	}
	return window[i:]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
