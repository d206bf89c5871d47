package queue

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type delayedJob struct {
	due time.Time
	job PersistedJob
}

type reservedJob struct {
	deadline time.Time
	job      PersistedJob
}

// InProcessDriver implements Driver in memory. Jobs do not survive a restart
// and are only visible to the process that holds the driver. It is used in
// tests and single-process deployments.
type InProcessDriver struct {
	// PopTimeout is how long Pop waits before reporting ErrEmpty.
	PopTimeout time.Duration

	mu        sync.Mutex
	lastID    int64
	waiting   []PersistedJob
	delayed   []delayedJob
	reserved  map[string]reservedJob
	failed    []PersistedJob
	completed int64
	paused    bool
	known     map[string]struct{}
	repeats   map[string]RepeatSpec
	progress  map[string]int
	logs      map[string][]string
	signal    chan struct{}
}

// NewInProcessDriver creates an empty InProcessDriver.
func NewInProcessDriver() *InProcessDriver {
	return &InProcessDriver{
		PopTimeout: 50 * time.Millisecond,
		reserved:   make(map[string]reservedJob),
		known:      make(map[string]struct{}),
		repeats:    make(map[string]RepeatSpec),
		progress:   make(map[string]int),
		logs:       make(map[string][]string),
		signal:     make(chan struct{}, 1),
	}
}

func (d *InProcessDriver) notify() {
	select {
	case d.signal <- struct{}{}:
	default:
	}
}

// NextID implements Driver.
func (d *InProcessDriver) NextID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastID++
	return strconv.FormatInt(d.lastID, 10), nil
}

// Push implements Driver.
func (d *InProcessDriver) Push(ctx context.Context, message *PersistedJob, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.known[message.UniqueId]; ok {
		return ErrDuplicateJob
	}
	d.known[message.UniqueId] = struct{}{}
	d.enqueue(*message, delay)
	return nil
}

func (d *InProcessDriver) enqueue(job PersistedJob, delay time.Duration) {
	if delay > 0 {
		d.delayed = append(d.delayed, delayedJob{due: time.Now().Add(delay), job: job})
		return
	}
	d.waiting = append(d.waiting, job)
	d.notify()
}

// Pop implements Driver.
func (d *InProcessDriver) Pop(ctx context.Context) (*PersistedJob, error) {
	if job, ok := d.reserve(); ok {
		return job, nil
	}
	timer := time.NewTimer(d.PopTimeout)
	defer timer.Stop()
	select {
	case <-d.signal:
	case <-timer.C:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if job, ok := d.reserve(); ok {
		return job, nil
	}
	return nil, ErrEmpty
}

func (d *InProcessDriver) reserve() (*PersistedJob, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.paused {
		return nil, false
	}
	d.promote(time.Now())
	if len(d.waiting) == 0 {
		return nil, false
	}
	job := d.waiting[0]
	d.waiting = d.waiting[1:]
	timeout := job.HandleTimeout
	if timeout <= 0 {
		timeout = defaultHandleTimeout
	}
	d.reserved[job.UniqueId] = reservedJob{deadline: time.Now().Add(timeout), job: job}
	return &job, true
}

// promote moves due delayed jobs to waiting in due order.
func (d *InProcessDriver) promote(now time.Time) {
	sort.SliceStable(d.delayed, func(i, j int) bool {
		return d.delayed[i].due.Before(d.delayed[j].due)
	})
	i := 0
	for ; i < len(d.delayed) && !d.delayed[i].due.After(now); i++ {
		d.waiting = append(d.waiting, d.delayed[i].job)
	}
	d.delayed = d.delayed[i:]
}

// Ack implements Driver.
func (d *InProcessDriver) Ack(ctx context.Context, message *PersistedJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reserved, message.UniqueId)
	delete(d.known, message.UniqueId)
	d.completed++
	return nil
}

// Retry implements Driver.
func (d *InProcessDriver) Retry(ctx context.Context, message *PersistedJob, delay time.Duration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reserved, message.UniqueId)
	message.Attempts++
	d.enqueue(*message, delay)
	return nil
}

// Fail implements Driver.
func (d *InProcessDriver) Fail(ctx context.Context, message *PersistedJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.reserved, message.UniqueId)
	delete(d.known, message.UniqueId)
	d.failed = append(d.failed, *message)
	return nil
}

// Info implements Driver.
func (d *InProcessDriver) Info(ctx context.Context) (QueueInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return QueueInfo{
		Waiting:   int64(len(d.waiting)),
		Active:    int64(len(d.reserved)),
		Completed: d.completed,
		Failed:    int64(len(d.failed)),
		Delayed:   int64(len(d.delayed)),
		Paused:    d.paused,
	}, nil
}

// Pause implements Driver.
func (d *InProcessDriver) Pause(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
	return nil
}

// Resume implements Driver.
func (d *InProcessDriver) Resume(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
	d.notify()
	return nil
}

// Progress implements Driver.
func (d *InProcessDriver) Progress(ctx context.Context, id string, progress int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.progress[id] = progress
	return nil
}

// Log implements Driver.
func (d *InProcessDriver) Log(ctx context.Context, id string, line string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.logs[id] = append(d.logs[id], line)
	return nil
}

// JobProgress returns the last progress recorded for a job.
func (d *InProcessDriver) JobProgress(id string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.progress[id]
}

// JobLogs returns the lines logged by a job.
func (d *InProcessDriver) JobLogs(id string) []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.logs[id]...)
}

// Flush implements Driver.
func (d *InProcessDriver) Flush(ctx context.Context, channel string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	switch channel {
	case "waiting":
		d.forget(d.waiting...)
		d.waiting = nil
	case "delayed":
		for _, j := range d.delayed {
			d.forget(j.job)
		}
		d.delayed = nil
	case "reserved":
		for _, j := range d.reserved {
			d.forget(j.job)
		}
		d.reserved = make(map[string]reservedJob)
	case "failed":
		d.failed = nil
	default:
		return errors.Errorf("unknown channel %s", channel)
	}
	return nil
}

func (d *InProcessDriver) forget(jobs ...PersistedJob) {
	for _, j := range jobs {
		delete(d.known, j.UniqueId)
	}
}

// Reload implements Driver.
func (d *InProcessDriver) Reload(ctx context.Context, channel string) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	var moved []PersistedJob
	switch channel {
	case "delayed":
		for _, j := range d.delayed {
			moved = append(moved, j.job)
		}
		d.delayed = nil
	case "reserved":
		for _, j := range d.reserved {
			moved = append(moved, j.job)
		}
		d.reserved = make(map[string]reservedJob)
	case "failed":
		moved = d.failed
		d.failed = nil
		for _, j := range moved {
			d.known[j.UniqueId] = struct{}{}
		}
	default:
		return 0, errors.Errorf("channel %s cannot be reloaded", channel)
	}
	d.waiting = append(d.waiting, moved...)
	d.notify()
	return int64(len(moved)), nil
}

// RecoverStalled implements Driver.
func (d *InProcessDriver) RecoverStalled(ctx context.Context, requeue bool) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	now := time.Now()
	var n int64
	for id, r := range d.reserved {
		if r.deadline.After(now) {
			continue
		}
		delete(d.reserved, id)
		if requeue {
			d.waiting = append(d.waiting, r.job)
		} else {
			delete(d.known, id)
			d.failed = append(d.failed, r.job)
		}
		n++
	}
	if n > 0 {
		d.notify()
	}
	return n, nil
}

// AddRepeatable implements Driver.
func (d *InProcessDriver) AddRepeatable(ctx context.Context, spec RepeatSpec) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.repeats[spec.Key]; ok {
		return false, nil
	}
	d.repeats[spec.Key] = spec
	return true, nil
}

// Repeatables implements Driver.
func (d *InProcessDriver) Repeatables(ctx context.Context) ([]RepeatSpec, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	specs := make([]RepeatSpec, 0, len(d.repeats))
	for _, s := range d.repeats {
		specs = append(specs, s)
	}
	sort.Slice(specs, func(i, j int) bool { return specs[i].Key < specs[j].Key })
	return specs, nil
}
