// Package queue serializes reconcile work per resource key.
//
// Work items for the same key run one at a time in the order they were
// submitted. Items for different keys run in parallel, bounded by the
// serializer's concurrency limit. A limit of one processes every key through
// a single worker.
package queue

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/lexfrei/registry-credentials-controller/internal/metrics"
)

// ErrShutdown is returned by Submit after Shutdown has been called.
var ErrShutdown = errors.New("serializer is shut down")

// Task is one unit of reconcile work.
type Task func(ctx context.Context) error

type item struct {
	id        string
	operation string
	task      Task
	queuedAt  time.Time
}

// Serializer is a set of per-key FIFO queues with at most one in-flight item per key.
type Serializer struct {
	name    string
	sem     *semaphore.Weighted
	metrics metrics.Collector
	logger  *slog.Logger

	mu      sync.Mutex
	pending map[string][]item
	depth   int
	closed  bool
	workers sync.WaitGroup
}

// New creates a Serializer. maxConcurrent below one is treated as one.
func New(name string, maxConcurrent int, metricsCollector metrics.Collector) *Serializer {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	if metricsCollector == nil {
		metricsCollector = metrics.NewNoopCollector()
	}

	return &Serializer{
		name:    name,
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		metrics: metricsCollector,
		logger:  slog.Default().With("component", "serializer", "controller", name),
		pending: make(map[string][]item),
	}
}

// Submit queues task under key and returns the work item ID.
// The task runs after every earlier item for the same key has finished.
// ctx bounds the worker draining the key; an item that has started is never preempted.
func (s *Serializer) Submit(ctx context.Context, key, operation string, task Task) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrShutdown
	}

	work := item{
		id:        uuid.NewString(),
		operation: operation,
		task:      task,
		queuedAt:  time.Now(),
	}

	queue, draining := s.pending[key]
	s.pending[key] = append(queue, work)
	s.depth++
	s.metrics.RecordQueueDepth(ctx, s.name, s.depth)

	if !draining {
		s.workers.Add(1)

		go s.drain(ctx, key)
	}

	return work.id, nil
}

// Len returns the number of queued items that have not started.
func (s *Serializer) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.depth
}

// Wait blocks until every queued item has finished.
func (s *Serializer) Wait() {
	s.workers.Wait()
}

// Shutdown rejects new submissions and waits for queued items to finish.
func (s *Serializer) Shutdown() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.workers.Wait()
}

// drain runs the queue of one key until it is empty. A key is present in
// pending exactly while a drain goroutine owns it.
func (s *Serializer) drain(ctx context.Context, key string) {
	defer s.workers.Done()

	for {
		work, ok := s.next(ctx, key)
		if !ok {
			return
		}

		err := s.sem.Acquire(ctx, 1)
		if err != nil {
			s.logger.Warn("dropping work item, context done",
				"key", key, "operation", work.operation, "workItem", work.id)

			continue
		}

		s.run(ctx, key, work)
		s.sem.Release(1)
	}
}

func (s *Serializer) next(ctx context.Context, key string) (item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	queue := s.pending[key]
	if len(queue) == 0 {
		delete(s.pending, key)

		return item{}, false
	}

	work := queue[0]
	queue[0] = item{}
	s.pending[key] = queue[1:]
	s.depth--
	s.metrics.RecordQueueDepth(ctx, s.name, s.depth)

	return work, true
}

func (s *Serializer) run(ctx context.Context, key string, work item) {
	logger := s.logger.With("key", key, "operation", work.operation, "workItem", work.id)
	logger.Debug("work item started", "queued", time.Since(work.queuedAt))

	start := time.Now()
	err := work.task(ctx)
	duration := time.Since(start)

	if err != nil {
		s.metrics.RecordReconcile(ctx, s.name, work.operation, "error", duration)
		logger.Error("work item failed", "duration", duration, "error", err)

		return
	}

	s.metrics.RecordReconcile(ctx, s.name, work.operation, "success", duration)
	logger.Debug("work item finished", "duration", duration)
}
