package queue

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/DoNewsCode/core/contract"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-kit/kit/metrics"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

const (
	defaultHandleTimeout        = time.Hour
	defaultStalledCheckInterval = 30 * time.Second
)

// BrokerQueue is the durable Queue. Jobs are stored by a Driver and
// dispatched by Consume, possibly from many processes at once. Handlers must
// therefore be safe against at-least-once and concurrent execution.
type BrokerQueue struct {
	name                     string
	logger                   log.Logger
	driver                   Driver
	codec                    contract.Codec
	rwLock                   sync.RWMutex
	handler                  ProcessFunc
	ready                    chan struct{}
	readyOnce                sync.Once
	listeners                listeners
	parallelism              int
	handleTimeout            time.Duration
	stalledCheckInterval     time.Duration
	disableStalledRecovery   bool
	queueLengthGauge         metrics.Gauge
	checkQueueLengthInterval time.Duration
}

// NewBrokerQueue creates a BrokerQueue named name on top of driver.
func NewBrokerQueue(name string, driver Driver, opts ...func(*BrokerQueue)) *BrokerQueue {
	q := BrokerQueue{
		name:                 name,
		logger:               log.NewNopLogger(),
		driver:               driver,
		codec:                jsonCodec{},
		ready:                make(chan struct{}),
		parallelism:          runtime.NumCPU(),
		handleTimeout:        defaultHandleTimeout,
		stalledCheckInterval: defaultStalledCheckInterval,
	}
	for _, f := range opts {
		f(&q)
	}
	q.logger = log.With(q.logger, "queue", name)
	return &q
}

// Name implements Queue.
func (q *BrokerQueue) Name() string {
	return q.name
}

// Driver returns the underlying driver.
func (q *BrokerQueue) Driver() Driver {
	return q.driver
}

// Add persists a job. It does not require a processor: jobs wait until one
// is registered. Adding a job whose JobID is still known is a no-op.
func (q *BrokerQueue) Add(ctx context.Context, data Payload, opts ...JobOption) (*Job, error) {
	options := applyOptions(opts)
	value, err := q.codec.Marshal(data)
	if err != nil {
		return nil, errors.Wrapf(err, "encode %s job", q.name)
	}
	if options.Repeat != "" {
		return q.addRepeatable(ctx, data, value, options)
	}

	id := options.JobID
	if id == "" {
		if id, err = q.driver.NextID(ctx); err != nil {
			return nil, errors.Wrapf(err, "allocate %s job id", q.name)
		}
	}
	timeout := options.Timeout
	if timeout <= 0 {
		timeout = q.handleTimeout
	}
	msg := &PersistedJob{
		UniqueId:      id,
		Key:           q.name,
		Value:         value,
		HandleTimeout: timeout,
		Backoff:       options.Backoff,
		Attempts:      1,
		MaxAttempts:   options.maxAttempts(),
		Timestamp:     time.Now(),
	}
	job := q.jobFrom(msg, data)
	job.Options = options
	err = q.driver.Push(ctx, msg, options.Delay)
	if errors.Is(err, ErrDuplicateJob) {
		_ = level.Debug(q.logger).Log("msg", "job already queued", "job", id)
		return job, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "push %s job", q.name)
	}
	return job, nil
}

// addRepeatable ensures the repeat spec exists and its next occurrence is
// planned. Calling it again with the same arguments does not double-schedule.
func (q *BrokerQueue) addRepeatable(ctx context.Context, data Payload, value []byte, options JobOptions) (*Job, error) {
	if _, err := ParseSchedule(options.Repeat); err != nil {
		return nil, err
	}
	spec := RepeatSpec{
		Key:         repeatKey(q.name, options.Repeat, value),
		Cron:        options.Repeat,
		Value:       value,
		MaxAttempts: options.maxAttempts(),
		Backoff:     options.Backoff,
	}
	created, err := q.driver.AddRepeatable(ctx, spec)
	if err != nil {
		return nil, errors.Wrapf(err, "store %s repeat spec", q.name)
	}
	msg, err := q.planNext(ctx, spec, time.Now())
	if err != nil {
		return nil, err
	}
	_ = level.Info(q.logger).Log("msg", "repeatable job ensured", "cron", spec.Cron, "created", created, "next", msg.UniqueId)
	job := q.jobFrom(msg, data)
	job.Options = options
	return job, nil
}

// planNext pushes the occurrence of spec following after.
func (q *BrokerQueue) planNext(ctx context.Context, spec RepeatSpec, after time.Time) (*PersistedJob, error) {
	next, err := spec.NextRun(after)
	if err != nil {
		return nil, err
	}
	msg := spec.occurrence(q.name, next, q.handleTimeout)
	err = q.driver.Push(ctx, msg, time.Until(next))
	if err != nil && !errors.Is(err, ErrDuplicateJob) {
		return nil, errors.Wrapf(err, "plan %s occurrence", q.name)
	}
	return msg, nil
}

// Process implements Queue. Consume starts dispatching once a handler is
// registered.
func (q *BrokerQueue) Process(handler ProcessFunc) {
	q.rwLock.Lock()
	q.handler = handler
	q.rwLock.Unlock()
	q.readyOnce.Do(func() { close(q.ready) })
}

// Pause implements Queue.
func (q *BrokerQueue) Pause(ctx context.Context) error {
	return q.driver.Pause(ctx)
}

// Resume implements Queue.
func (q *BrokerQueue) Resume(ctx context.Context) error {
	return q.driver.Resume(ctx)
}

// GetJobCounts implements Queue.
func (q *BrokerQueue) GetJobCounts(ctx context.Context) (JobCounts, error) {
	info, err := q.driver.Info(ctx)
	if err != nil {
		return JobCounts{}, errors.Wrapf(err, "count %s jobs", q.name)
	}
	return countsFromInfo(info), nil
}

// On implements Queue.
func (q *BrokerQueue) On(event EventName, listener Listener) {
	q.listeners.on(event, listener)
}

// Consume starts the runner and blocks until context canceled or error
// occurred. Nothing is popped before a handler is registered.
func (q *BrokerQueue) Consume(ctx context.Context) error {
	select {
	case <-q.ready:
	case <-ctx.Done():
		return ctx.Err()
	}

	var jobChan = make(chan *PersistedJob)
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		defer close(jobChan)
		for {
			msg, err := q.driver.Pop(ctx)
			if errors.Is(err, ErrEmpty) {
				continue
			}
			if err != nil {
				return err
			}
			select {
			case jobChan <- msg:
			case <-ctx.Done():
				// left reserved; stalled recovery puts it back
				return ctx.Err()
			}
		}
	})

	if q.queueLengthGauge != nil {
		if q.checkQueueLengthInterval == 0 {
			q.checkQueueLengthInterval = 15 * time.Second
		}
		g.Go(func() error {
			return q.every(ctx, q.checkQueueLengthInterval, q.gauge)
		})
	}
	if q.stalledCheckInterval > 0 {
		g.Go(func() error {
			return q.every(ctx, q.stalledCheckInterval, q.recoverStalled)
		})
	}
	for i := 0; i < q.parallelism; i++ {
		g.Go(func() error {
			for msg := range jobChan {
				q.work(ctx, msg)
			}
			return nil
		})
	}
	return g.Wait()
}

func (q *BrokerQueue) every(ctx context.Context, interval time.Duration, f func(ctx context.Context)) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			f(ctx)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (q *BrokerQueue) work(ctx context.Context, msg *PersistedJob) {
	logger := log.With(q.logger, "job", msg.UniqueId, "attempt", msg.Attempts)

	if msg.RepeatKey != "" && msg.Attempts == 1 {
		q.planFollowing(ctx, msg)
	}

	var data Payload
	if err := q.codec.Unmarshal(msg.Value, &data); err != nil {
		err = errors.Wrapf(err, "decode %s job %s", q.name, msg.UniqueId)
		_ = level.Error(logger).Log("err", err)
		q.listeners.emit(context.Background(), Event{Name: EventFailed, Queue: q.name, Job: q.jobFrom(msg, nil), Err: err})
		_ = q.driver.Fail(context.Background(), msg)
		return
	}
	job := q.jobFrom(msg, data)

	q.rwLock.RLock()
	handler := q.handler
	q.rwLock.RUnlock()

	timeout := msg.HandleTimeout
	if timeout <= 0 {
		timeout = q.handleTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	err := safeProcess(runCtx, handler, job)
	if err != nil {
		if msg.Attempts < msg.MaxAttempts {
			delay := msg.Backoff.Next(msg.Attempts)
			_ = level.Info(logger).Log("msg", "job failed, retrying", "delay", delay, "err", err)
			q.listeners.emit(context.Background(), Event{Name: EventRetrying, Queue: q.name, Job: job, Err: err})
			if rErr := q.driver.Retry(context.Background(), msg, delay); rErr != nil {
				_ = level.Error(logger).Log("msg", "unable to schedule retry", "err", rErr)
			}
			return
		}
		_ = level.Warn(logger).Log("msg", "job failed, attempts exhausted", "max_attempts", msg.MaxAttempts, "err", err)
		job.AttemptsMade = msg.Attempts
		if fErr := q.driver.Fail(context.Background(), msg); fErr != nil {
			_ = level.Error(logger).Log("msg", "unable to move job to failed", "err", fErr)
		}
		q.listeners.emit(context.Background(), Event{Name: EventFailed, Queue: q.name, Job: job, Err: err})
		return
	}
	job.AttemptsMade = msg.Attempts
	if aErr := q.driver.Ack(context.Background(), msg); aErr != nil {
		_ = level.Error(logger).Log("msg", "unable to ack job", "err", aErr)
	}
	q.listeners.emit(context.Background(), Event{Name: EventCompleted, Queue: q.name, Job: job})
}

// planFollowing schedules the occurrence after the one being dispatched, so a
// recurring job keeps its chain alive without being re-added.
func (q *BrokerQueue) planFollowing(ctx context.Context, msg *PersistedJob) {
	spec := RepeatSpec{
		Key:         msg.RepeatKey,
		Cron:        msg.Repeat,
		Value:       msg.Value,
		MaxAttempts: msg.MaxAttempts,
		Backoff:     msg.Backoff,
	}
	if _, err := q.planNext(ctx, spec, time.Now()); err != nil {
		_ = level.Error(q.logger).Log("msg", "unable to plan next occurrence", "repeat", msg.RepeatKey, "err", err)
	}
}

func (q *BrokerQueue) recoverStalled(ctx context.Context) {
	n, err := q.driver.RecoverStalled(ctx, !q.disableStalledRecovery)
	if err != nil {
		_ = level.Warn(q.logger).Log("msg", "stalled check failed", "err", err)
		return
	}
	if n == 0 {
		return
	}
	_ = level.Warn(q.logger).Log("msg", "recovered stalled jobs", "count", n, "requeued", !q.disableStalledRecovery)
	q.listeners.emit(ctx, Event{Name: EventStalled, Queue: q.name, Count: n})
}

func (q *BrokerQueue) jobFrom(msg *PersistedJob, data Payload) *Job {
	return &Job{
		ID:           msg.UniqueId,
		Queue:        q.name,
		Data:         data,
		AttemptsMade: msg.AttemptsMade(),
		Timestamp:    msg.Timestamp,
		Options: JobOptions{
			Attempts: msg.MaxAttempts,
			Backoff:  msg.Backoff,
			Repeat:   msg.Repeat,
			JobID:    msg.UniqueId,
			Timeout:  msg.HandleTimeout,
		},
		reporter: q.driver,
	}
}

func (q *BrokerQueue) gauge(ctx context.Context) {
	queueInfo, err := q.driver.Info(ctx)
	if err != nil {
		_ = level.Warn(q.logger).Log("err", err)
		return
	}
	q.queueLengthGauge.With("channel", "failed").Set(float64(queueInfo.Failed))
	q.queueLengthGauge.With("channel", "delayed").Set(float64(queueInfo.Delayed))
	q.queueLengthGauge.With("channel", "active").Set(float64(queueInfo.Active))
	q.queueLengthGauge.With("channel", "waiting").Set(float64(queueInfo.Waiting))
}

// UseCodec allows consumer to replace the default codec with a custom one.
func UseCodec(codec contract.Codec) func(*BrokerQueue) {
	return func(q *BrokerQueue) {
		q.codec = codec
	}
}

// UseLogger is an option for NewBrokerQueue that feeds the queue with a Logger of choice.
func UseLogger(logger log.Logger) func(*BrokerQueue) {
	return func(q *BrokerQueue) {
		q.logger = logger
	}
}

// UseParallelism is an option for NewBrokerQueue that sets the parallelism for queue consumption
func UseParallelism(parallelism int) func(*BrokerQueue) {
	return func(q *BrokerQueue) {
		if parallelism > 0 {
			q.parallelism = parallelism
		}
	}
}

// UseGauge is an option for NewBrokerQueue that collects a gauge metrics
func UseGauge(gauge metrics.Gauge, interval time.Duration) func(*BrokerQueue) {
	return func(q *BrokerQueue) {
		q.queueLengthGauge = gauge
		q.checkQueueLengthInterval = interval
	}
}

// UseHandleTimeout sets the default upper time limit of a single attempt.
func UseHandleTimeout(timeout time.Duration) func(*BrokerQueue) {
	return func(q *BrokerQueue) {
		if timeout > 0 {
			q.handleTimeout = timeout
		}
	}
}

// UseStalledCheckInterval sets how often stalled jobs are looked for. Zero
// disables the check.
func UseStalledCheckInterval(interval time.Duration) func(*BrokerQueue) {
	return func(q *BrokerQueue) {
		q.stalledCheckInterval = interval
	}
}

// DisableStalledRecovery moves stalled jobs to failed instead of retrying
// them. Use it for queues whose side effects must not happen twice.
func DisableStalledRecovery() func(*BrokerQueue) {
	return func(q *BrokerQueue) {
		q.disableStalledRecovery = true
	}
}
