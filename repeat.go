package queue

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
)

// cronParser accepts the standard 5-field syntax and descriptors like
// "@daily" or "@every 5m".
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// RepeatSpec is the persistent description of a recurring job, distinct from
// its individual executions.
type RepeatSpec struct {
	// Key identifies the spec within its queue.
	Key string `json:"key"`
	// Cron is the schedule, evaluated in UTC.
	Cron string `json:"cron"`
	// Value is the serialized payload given to every execution.
	Value []byte `json:"value"`
	// MaxAttempts and Backoff are copied onto every execution.
	MaxAttempts int     `json:"maxAttempts"`
	Backoff     Backoff `json:"backoff"`
}

// ParseSchedule validates a cron expression.
func ParseSchedule(expr string) (cron.Schedule, error) {
	schedule, err := cronParser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(err, "parse cron %q", expr)
	}
	return schedule, nil
}

// repeatKey derives the spec key from the queue, the cron expression and the
// payload, so that adding the same recurring job twice yields the same key.
func repeatKey(queue, expr string, value []byte) string {
	sum := sha1.Sum(append([]byte(queue+":"+expr+":"), value...))
	return hex.EncodeToString(sum[:8])
}

// NextRun returns the next occurrence strictly after t.
func (s RepeatSpec) NextRun(t time.Time) (time.Time, error) {
	schedule, err := ParseSchedule(s.Cron)
	if err != nil {
		return time.Time{}, err
	}
	return schedule.Next(t.UTC()), nil
}

// occurrenceID is the deterministic id of the execution planned at t. Two
// processes planning the same occurrence produce the same id, so the driver
// keeps only one.
func (s RepeatSpec) occurrenceID(t time.Time) string {
	return fmt.Sprintf("repeat:%s:%d", s.Key, t.UnixMilli())
}

// occurrence builds the job executing the spec at t.
func (s RepeatSpec) occurrence(queue string, at time.Time, handleTimeout time.Duration) *PersistedJob {
	return &PersistedJob{
		UniqueId:      s.occurrenceID(at),
		Key:           queue,
		Value:         s.Value,
		HandleTimeout: handleTimeout,
		Backoff:       s.Backoff,
		Attempts:      1,
		MaxAttempts:   s.MaxAttempts,
		Repeat:        s.Cron,
		RepeatKey:     s.Key,
		Timestamp:     time.Now(),
	}
}
