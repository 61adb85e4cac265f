// Package batch drives redistribution of many items: batched, delayed
// between batches, concurrent within a batch.
package batch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"content-router/internal/common/logging"
	"content-router/internal/routing"
	"content-router/internal/storage"
)

const (
	minBatchSize = 1
	maxBatchSize = 100
	minDelay     = time.Second
)

// Distributor routes a single item. Satisfied by routing.Router.
type Distributor interface {
	DistributeItem(ctx context.Context, userID, itemID string) (*routing.Summary, error)
}

// Job tracks one redistribution run. Counters are safe to read while the
// run is in flight.
type Job struct {
	ID      string `json:"id"`
	Total   int    `json:"total"`
	Batches int    `json:"batches"`

	succeeded atomic.Int64
	failed    atomic.Int64
	done      chan struct{}
}

// Done is closed when every batch has finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

func (j *Job) Succeeded() int {
	return int(j.succeeded.Load())
}

func (j *Job) Failed() int {
	return int(j.failed.Load())
}

type Controller struct {
	store       storage.Storage
	distributor Distributor
	batchSize   int
	batchDelay  time.Duration
	logger      logging.Logger
}

// NewController clamps batchSize into [1, 100] and batchDelay up to at
// least one second.
func NewController(store storage.Storage, distributor Distributor, batchSize int, batchDelay time.Duration, logger logging.Logger) *Controller {
	if batchSize < minBatchSize {
		batchSize = minBatchSize
	}
	if batchSize > maxBatchSize {
		batchSize = maxBatchSize
	}
	if batchDelay < minDelay {
		batchDelay = minDelay
	}
	return &Controller{
		store:       store,
		distributor: distributor,
		batchSize:   batchSize,
		batchDelay:  batchDelay,
		logger:      logger,
	}
}

// Redistribute lists the user's items matching the filters and routes
// them in the background. It returns immediately with the job estimate;
// callers poll or wait on the Job for the outcome.
func (c *Controller) Redistribute(ctx context.Context, userID string, filters storage.ItemFilters) (*Job, error) {
	filters.UserID = userID
	items, err := c.store.ListItems(filters)
	if err != nil {
		return nil, err
	}

	job := &Job{
		ID:      uuid.New().String(),
		Total:   len(items),
		Batches: (len(items) + c.batchSize - 1) / c.batchSize,
		done:    make(chan struct{}),
	}

	c.logger.Info("redistribution started",
		logging.String("job_id", job.ID),
		logging.String("user_id", userID),
		logging.Int("total", job.Total),
		logging.Int("batches", job.Batches))

	// The run outlives the request that triggered it
	go c.run(context.WithoutCancel(ctx), userID, items, job)
	return job, nil
}

func (c *Controller) run(ctx context.Context, userID string, items []*storage.Item, job *Job) {
	defer close(job.done)

	for start := 0; start < len(items); start += c.batchSize {
		end := start + c.batchSize
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		for _, item := range items[start:end] {
			wg.Add(1)
			go func(item *storage.Item) {
				defer wg.Done()
				summary, err := c.distributor.DistributeItem(ctx, userID, item.ID)
				if err != nil || summary.Status == storage.RoutingFailed {
					job.failed.Add(1)
					return
				}
				job.succeeded.Add(1)
			}(item)
		}
		wg.Wait()

		c.logger.Info("batch processed",
			logging.String("job_id", job.ID),
			logging.Int("batch", start/c.batchSize+1),
			logging.Int("batches", job.Batches),
			logging.Int("processed", end),
			logging.Int("succeeded", job.Succeeded()),
			logging.Int("failed", job.Failed()))

		// Pace batches; no delay after the last one
		if end < len(items) {
			select {
			case <-time.After(c.batchDelay):
			case <-ctx.Done():
				c.logger.Warn("redistribution cancelled",
					logging.String("job_id", job.ID),
					logging.Int("processed", end))
				return
			}
		}
	}

	c.logger.Info("redistribution finished",
		logging.String("job_id", job.ID),
		logging.Int("succeeded", job.Succeeded()),
		logging.Int("failed", job.Failed()))
}
