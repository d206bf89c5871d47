package queue

import (
	"math"
	"time"
)

// BackoffType selects how the retry delay grows.
type BackoffType string

const (
	// BackoffFixed waits Delay before every retry.
	BackoffFixed BackoffType = "fixed"
	// BackoffExponential waits Delay * 2^(attempt-1).
	BackoffExponential BackoffType = "exponential"
)

// MaxBackoff caps the delay between two attempts.
const MaxBackoff = 24 * time.Hour

// Backoff is the retry delay policy of a job.
type Backoff struct {
	Type  BackoffType   `json:"type"`
	Delay time.Duration `json:"delay"`
}

// Next returns the delay before the retry following the given attempt. Attempts
// start from 1. The result never exceeds MaxBackoff.
func (b Backoff) Next(attempt int) time.Duration {
	if b.Delay <= 0 {
		return 0
	}
	if attempt < 1 {
		attempt = 1
	}
	delay := b.Delay
	if b.Type == BackoffExponential {
		// compared as float so that large attempts cannot wrap around
		scaled := float64(b.Delay) * math.Pow(2, float64(attempt-1))
		if scaled >= float64(MaxBackoff) {
			return MaxBackoff
		}
		delay = time.Duration(scaled)
	}
	if delay > MaxBackoff {
		return MaxBackoff
	}
	return delay
}

// JobOptions are the per-job options given to Add.
type JobOptions struct {
	// Attempts is the maximum number of attempts. Zero means one.
	Attempts int `json:"attempts,omitempty"`
	// Backoff is applied between attempts.
	Backoff Backoff `json:"backoff"`
	// Repeat is a cron expression for recurring jobs.
	Repeat string `json:"repeat,omitempty"`
	// JobID overrides the generated id. Adding a job whose id is still known to
	// the backend is a no-op.
	JobID string `json:"jobId,omitempty"`
	// Delay postpones the first attempt.
	Delay time.Duration `json:"delay,omitempty"`
	// Timeout bounds a single attempt on the broker backend.
	Timeout time.Duration `json:"timeout,omitempty"`
}

func (o JobOptions) maxAttempts() int {
	if o.Attempts < 1 {
		return 1
	}
	return o.Attempts
}

// JobOption configures a job in Add.
type JobOption func(*JobOptions)

// Attempts sets the maximum number of attempts.
func Attempts(n int) JobOption {
	return func(o *JobOptions) {
		o.Attempts = n
	}
}

// WithBackoff sets the retry delay policy.
func WithBackoff(b Backoff) JobOption {
	return func(o *JobOptions) {
		o.Backoff = b
	}
}

// Repeat makes the job recurring on the given cron expression.
func Repeat(cron string) JobOption {
	return func(o *JobOptions) {
		o.Repeat = cron
	}
}

// JobID sets a caller-chosen job id.
func JobID(id string) JobOption {
	return func(o *JobOptions) {
		o.JobID = id
	}
}

// Delay postpones the job.
func Delay(d time.Duration) JobOption {
	return func(o *JobOptions) {
		o.Delay = d
	}
}

// Timeout bounds a single attempt.
func Timeout(d time.Duration) JobOption {
	return func(o *JobOptions) {
		o.Timeout = d
	}
}

func applyOptions(opts []JobOption) JobOptions {
	var o JobOptions
	for _, f := range opts {
		f(&o)
	}
	return o
}
