package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// Payload is the opaque job data. Keys are the job's internal contract with
// its processor.
type Payload map[string]interface{}

// Int64 reads a numeric field regardless of how the codec decoded it.
func (p Payload) Int64(key string) (int64, bool) {
	switch v := p[key].(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		return n, err == nil
	}
	return 0, false
}

// String reads a string field.
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// reporter persists progress and log lines of a running job. The fallback
// backend has none.
type reporter interface {
	Progress(ctx context.Context, id string, progress int) error
	Log(ctx context.Context, id string, line string) error
}

// Job is one unit of enqueued work.
type Job struct {
	// ID is unique within its queue only.
	ID string
	// Queue is the name of the queue the job was added to.
	Queue string
	// Data is the payload given to Add.
	Data Payload
	// AttemptsMade counts finished attempts before the current one.
	AttemptsMade int
	// Timestamp is the creation time of the job.
	Timestamp time.Time
	// Options are the options the job was added with.
	Options JobOptions

	mu       sync.Mutex
	progress int
	logs     []string
	reporter reporter
}

// Progress sets the progress percentage of the job.
func (j *Job) Progress(ctx context.Context, progress int) error {
	j.mu.Lock()
	j.progress = progress
	j.mu.Unlock()
	if j.reporter == nil {
		return nil
	}
	return j.reporter.Progress(ctx, j.ID, progress)
}

// Log appends a human-readable status line to the job.
func (j *Job) Log(ctx context.Context, line string) error {
	j.mu.Lock()
	j.logs = append(j.logs, line)
	j.mu.Unlock()
	if j.reporter == nil {
		return nil
	}
	return j.reporter.Log(ctx, j.ID, line)
}

// CurrentProgress returns the last progress reported in this process.
func (j *Job) CurrentProgress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Logs returns the lines logged in this process.
func (j *Job) Logs() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, len(j.logs))
	copy(out, j.logs)
	return out
}

// Bind decodes the payload into v, which should be a pointer to a struct
// with json tags.
func (j *Job) Bind(v interface{}) error {
	b, err := json.Marshal(j.Data)
	if err != nil {
		return errors.Wrapf(err, "marshal job %s payload", j.ID)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return errors.Wrapf(err, "bind job %s payload", j.ID)
	}
	return nil
}

// String implements fmt.Stringer.
func (j *Job) String() string {
	return fmt.Sprintf("%s#%s", j.Queue, j.ID)
}
