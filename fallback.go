package queue

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
)

// FallbackQueue is the Queue used when no broker is configured. It dispatches
// jobs synchronously: Add blocks until the processor returns, and the
// processor's error is returned from Add. FallbackQueue is safe for concurrent
// use.
type FallbackQueue struct {
	name      string
	logger    log.Logger
	rwLock    sync.RWMutex
	handler   ProcessFunc
	listeners listeners
	lastID    int64
}

// NewFallbackQueue creates a FallbackQueue.
func NewFallbackQueue(name string, logger log.Logger) *FallbackQueue {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &FallbackQueue{
		name:   name,
		logger: log.With(logger, "queue", name),
	}
}

// Name implements Queue.
func (q *FallbackQueue) Name() string {
	return q.name
}

// Add runs the processor inline. It fails with ErrNoProcessor before doing
// anything when no processor is registered. Repeat options are not
// scheduled, since there is no dispatch loop to drive them.
func (q *FallbackQueue) Add(ctx context.Context, data Payload, opts ...JobOption) (*Job, error) {
	q.rwLock.RLock()
	handler := q.handler
	q.rwLock.RUnlock()

	if handler == nil {
		return nil, errNoProcessor(q.name)
	}

	options := applyOptions(opts)
	job := &Job{
		ID:        strconv.FormatInt(atomic.AddInt64(&q.lastID, 1), 10),
		Queue:     q.name,
		Data:      data,
		Timestamp: time.Now(),
		Options:   options,
	}
	if options.Repeat != "" {
		_ = level.Warn(q.logger).Log("msg", "repeatable jobs are not scheduled without a broker", "repeat", options.Repeat)
		return job, nil
	}

	if err := safeProcess(ctx, handler, job); err != nil {
		return job, err
	}
	q.listeners.emit(ctx, Event{Name: EventCompleted, Queue: q.name, Job: job})
	return job, nil
}

// Process implements Queue.
func (q *FallbackQueue) Process(handler ProcessFunc) {
	q.rwLock.Lock()
	defer q.rwLock.Unlock()
	q.handler = handler
}

// Pause is a no-op.
func (q *FallbackQueue) Pause(ctx context.Context) error {
	return nil
}

// Resume is a no-op.
func (q *FallbackQueue) Resume(ctx context.Context) error {
	return nil
}

// GetJobCounts returns UnavailableCounts.
func (q *FallbackQueue) GetJobCounts(ctx context.Context) (JobCounts, error) {
	return UnavailableCounts(), nil
}

// On records the listener. EventFailed is never emitted by this backend.
func (q *FallbackQueue) On(event EventName, listener Listener) {
	q.listeners.on(event, listener)
}
