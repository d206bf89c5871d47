package queue

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/pkg/errors"
)

// ProcessFunc is the handler bound to a queue. Returning an error hands the
// job to the backend's retry policy.
type ProcessFunc func(ctx context.Context, job *Job) error

// Processor is implemented by job processor modules that bind themselves to
// a queue of the registry.
type Processor interface {
	// QueueName is the queue the processor serves.
	QueueName() string
	// Process handles a single job.
	Process(ctx context.Context, job *Job) error
}

// safeProcess converts a panicking handler into an error so that the backend
// applies its failure policy.
func safeProcess(ctx context.Context, handler ProcessFunc, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("job %s panicked: %v\n%s", job, r, debug.Stack())
		}
	}()
	return handler(ctx, job)
}

func errNoProcessor(name string) error {
	return errors.Wrap(ErrNoProcessor, fmt.Sprintf("queue %s", name))
}
