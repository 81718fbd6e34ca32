package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/GMartin-Data/imdb-api/internal/crawler"
)

// TestDispatcherRunStartsWorkers ensures workers begin processing and stop on cancel.
func TestDispatcherRunStartsWorkers(t *testing.T) {
	t.Parallel()

	queue := &blockingQueue{started: make(chan struct{}, 2)}
	dispatch := New(queue, &queueRunner{queue: queue}, &queueRunner{queue: queue})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		dispatch.Run(ctx)
		close(done)
	}()

	for i := 0; i < 2; i++ {
		select {
		case <-queue.started:
		case <-time.After(time.Second):
			t.Fatal("worker did not begin dequeuing")
		}
	}
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("dispatcher did not stop after context cancel")
	}
}

// TestDispatcherEnqueueForwardsErrors verifies queue errors are wrapped for callers.
func TestDispatcherEnqueueForwardsErrors(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	dispatch := New(&errorQueue{err: boom})

	err := dispatch.Enqueue(context.Background(), crawler.QueueItem{JobID: "job"})
	require.ErrorIs(t, err, boom)
	require.EqualError(t, err, "queue enqueue: boom")
}

type queueRunner struct {
	queue crawler.Queue
}

func (r *queueRunner) Run(ctx context.Context) {
	for ctx.Err() == nil {
		_, _ = r.queue.Dequeue(ctx)
	}
}

type blockingQueue struct {
	started chan struct{}
}

func (q *blockingQueue) Enqueue(_ context.Context, _ crawler.QueueItem) error {
	return nil
}

func (q *blockingQueue) Dequeue(ctx context.Context) (crawler.QueueItem, error) {
	select {
	case q.started <- struct{}{}:
	default:
	}
	<-ctx.Done()
	return crawler.QueueItem{}, fmt.Errorf("blocking dequeue canceled: %w", ctx.Err())
}

type errorQueue struct {
	err error
}

func (q *errorQueue) Enqueue(context.Context, crawler.QueueItem) error {
	return q.err
}

func (q *errorQueue) Dequeue(context.Context) (crawler.QueueItem, error) {
	return crawler.QueueItem{}, nil
}
