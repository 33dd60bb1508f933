package catalog

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/offtrack/offtrack-core/internal/worker"
)

// Start runs the background task workers used by StarAsync, UnstarAsync and
// ScrobbleAsync
func (c *CachingClient) Start(ctx context.Context) error {
	if err := c.tasks.Start(ctx); err != nil {
		return err
	}
	c.done = make(chan struct{})
	go c.logTaskResults(c.tasks.Results(), c.done)
	return nil
}

// Close cancels pending background tasks and waits for the workers to exit
func (c *CachingClient) Close() {
	c.tasks.Stop()
	if c.done != nil {
		<-c.done
	}
}

func (c *CachingClient) logTaskResults(results <-chan *worker.Result, done chan<- struct{}) {
	defer close(done)
	for r := range results {
		if r.Success {
			continue
		}
		c.logger.Warn("background catalog task failed",
			zap.String("task", r.JobID),
			zap.String("kind", r.Kind),
			zap.Error(r.Error))
	}
}

func (c *CachingClient) submit(kind, id string, task func(ctx context.Context) error) error {
	n := atomic.AddUint64(&c.seq, 1)
	job := &worker.Job{
		ID:   fmt.Sprintf("%s-%s-%d", kind, id, n),
		Kind: kind,
		Task: task,
	}
	if err := c.tasks.Submit(job); err != nil {
		return fmt.Errorf("failed to queue %s of %s: %w", kind, id, err)
	}
	return nil
}

// StarAsync stars id in the background
func (c *CachingClient) StarAsync(id string) error {
	return c.submit("star", id, func(ctx context.Context) error {
		return c.Star(ctx, id)
	})
}

// UnstarAsync removes the star from id in the background
func (c *CachingClient) UnstarAsync(id string) error {
	return c.submit("unstar", id, func(ctx context.Context) error {
		return c.Unstar(ctx, id)
	})
}

// ScrobbleAsync registers a play of id in the background. submission false
// reports "now playing" only.
func (c *CachingClient) ScrobbleAsync(id string, submission bool) error {
	at := time.Now()
	return c.submit("scrobble", id, func(ctx context.Context) error {
		return c.Scrobble(ctx, id, at, submission)
	})
}

// PendingTasks returns the number of background tasks currently running
func (c *CachingClient) PendingTasks() int {
	return c.tasks.GetActiveJobCount()
}
