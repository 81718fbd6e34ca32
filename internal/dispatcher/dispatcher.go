// Package dispatcher manages worker fan-out over the job queue.
package dispatcher

import (
	"context"
	"fmt"
	"sync"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

// Runner consumes queue items until its context ends.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher fans out queue work to a pool of workers.
type Dispatcher struct {
	queue   crawler.Queue
	workers []Runner
}

// New creates a Dispatcher.
func New(queue crawler.Queue, workers ...Runner) *Dispatcher {
	return &Dispatcher{
		queue:   queue,
		workers: workers,
	}
}

// Run starts all workers and blocks until the context finishes and every
// worker has returned.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(r Runner) {
			defer wg.Done()
			r.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Enqueue proxies to the underlying queue.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if err := d.queue.Enqueue(ctx, item); err != nil {
		return fmt.Errorf("queue enqueue: %w", err)
	}
	return nil
}
