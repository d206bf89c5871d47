package queue

import "time"

// PersistedJob is the form in which a Driver stores a job.
type PersistedJob struct {
	// UniqueId is the job id, unique within the queue.
	UniqueId string
	// Key is the name of the queue.
	Key string
	// Value is the serialized payload.
	Value []byte
	// HandleTimeout sets the upper time limit for each run of the handler. A
	// job reserved for longer is considered stalled.
	HandleTimeout time.Duration
	// Backoff sets the duration before next retry.
	Backoff Backoff
	// Attempts denotes the attempt being made. It starts from 1.
	Attempts int
	// MaxAttempts denotes the maximum number of attempts before the job is
	// put onto the failed list.
	MaxAttempts int
	// Repeat is the cron expression of a recurring job.
	Repeat string
	// RepeatKey identifies the repeat spec the job was scheduled from.
	RepeatKey string
	// Timestamp is the creation time.
	Timestamp time.Time

	// raw is the encoded form held by the driver while the job is reserved.
	raw string
}

// AttemptsMade is the number of finished attempts before the current one.
func (s *PersistedJob) AttemptsMade() int {
	if s.Attempts < 1 {
		return 0
	}
	return s.Attempts - 1
}
