package queue

import (
	"context"
	"time"
)

// Driver is the storage behind a BrokerQueue.
type Driver interface {
	// NextID allocates a job id unique within the queue.
	NextID(ctx context.Context) (string, error)
	// Push stores a job, to be dispatched after delay. It returns
	// ErrDuplicateJob when a job with the same UniqueId is still known.
	Push(ctx context.Context, message *PersistedJob, delay time.Duration) error
	// Pop reserves the next ready job. It returns ErrEmpty when nothing is
	// ready or the queue is paused.
	Pop(ctx context.Context) (*PersistedJob, error)
	// Ack releases a reserved job as completed.
	Ack(ctx context.Context, message *PersistedJob) error
	// Retry releases a reserved job and schedules its next attempt.
	Retry(ctx context.Context, message *PersistedJob, delay time.Duration) error
	// Fail releases a reserved job onto the failed list.
	Fail(ctx context.Context, message *PersistedJob) error
	// Info reports the length of each channel.
	Info(ctx context.Context) (QueueInfo, error)
	// Pause stops Pop from returning jobs.
	Pause(ctx context.Context) error
	// Resume reverts Pause.
	Resume(ctx context.Context) error
	// Progress records the progress of a job.
	Progress(ctx context.Context, id string, progress int) error
	// Log appends a log line to a job.
	Log(ctx context.Context, id string, line string) error
	// Flush empties a channel ("waiting", "delayed", "reserved" or "failed").
	Flush(ctx context.Context, channel string) error
	// Reload moves every job of a channel back to waiting.
	Reload(ctx context.Context, channel string) (int64, error)
	// RecoverStalled handles jobs reserved for longer than their handle
	// timeout. They go back to waiting, or to failed when requeue is false.
	RecoverStalled(ctx context.Context, requeue bool) (int64, error)
	// AddRepeatable stores a repeat spec. It reports false if the spec
	// already existed.
	AddRepeatable(ctx context.Context, spec RepeatSpec) (bool, error)
	// Repeatables lists the stored repeat specs.
	Repeatables(ctx context.Context) ([]RepeatSpec, error)
}
