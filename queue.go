package queue

import (
	"context"

	"github.com/pkg/errors"
)

var (
	// ErrNoProcessor is returned by the fallback backend when a job is added to
	// a queue that has no registered processor. It is a caller bug.
	ErrNoProcessor = errors.New("no processor registered")
	// ErrEmpty is returned by Driver.Pop when nothing is ready.
	ErrEmpty = errors.New("no job ready")
	// ErrDuplicateJob is returned by Driver.Push when a job with the same id is
	// still known to the driver.
	ErrDuplicateJob = errors.New("job id already exists")
)

// Queue is a named channel dispatching jobs to a single processor.
//
// Two implementations exist and the differences are part of the contract:
//
//  - BrokerQueue persists jobs through a Driver. Add never fails for a missing
//    processor, jobs wait. Failed jobs are retried per their options, and the
//    EventFailed event fires once attempts exhaust. Pause and Resume stop and
//    start dispatching. GetJobCounts reports real counts.
//  - FallbackQueue runs the processor inline inside Add. Add fails with
//    ErrNoProcessor when no processor is registered. There is no retry, no
//    EventFailed, Pause and Resume do nothing and GetJobCounts returns
//    UnavailableCounts.
type Queue interface {
	// Name returns the queue name.
	Name() string
	// Add enqueues a unit of work.
	Add(ctx context.Context, data Payload, opts ...JobOption) (*Job, error)
	// Process registers the handler. Registering again replaces the previous
	// handler.
	Process(handler ProcessFunc)
	// Pause stops dispatching. Jobs are still accepted.
	Pause(ctx context.Context) error
	// Resume restarts dispatching.
	Resume(ctx context.Context) error
	// GetJobCounts reports the number of jobs per state.
	GetJobCounts(ctx context.Context) (JobCounts, error)
	// On subscribes to lifecycle events.
	On(event EventName, listener Listener)
}

// Attach binds a processor to its queue in the registry.
func Attach(registry *Registry, p Processor) error {
	q, err := registry.Get(p.QueueName())
	if err != nil {
		return err
	}
	q.Process(p.Process)
	return nil
}
