// Package report forwards job failures to error tracking and chat.
package report

import (
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

// Tracker records errors in an error tracking service.
type Tracker interface {
	CaptureException(err error)
}

// JobTracker is a Tracker that can tag an error with the job it happened in.
type JobTracker interface {
	Tracker
	CaptureJobException(queue, jobID string, err error)
}

// CaptureJob records err with the queue and job tags when t supports them.
func CaptureJob(t Tracker, queue, jobID string, err error) {
	if jt, ok := t.(JobTracker); ok {
		jt.CaptureJobException(queue, jobID, err)
		return
	}
	t.CaptureException(err)
}

// NopTracker drops every error. It is used when no DSN is configured.
type NopTracker struct{}

// CaptureException implements Tracker.
func (NopTracker) CaptureException(error) {}

// SentryTracker sends errors to Sentry.
type SentryTracker struct {
	hub *sentry.Hub
}

// NewSentryTracker creates a SentryTracker with its own hub.
func NewSentryTracker(options sentry.ClientOptions) (*SentryTracker, error) {
	client, err := sentry.NewClient(options)
	if err != nil {
		return nil, errors.Wrap(err, "create sentry client")
	}
	return &SentryTracker{hub: sentry.NewHub(client, sentry.NewScope())}, nil
}

// NewTracker returns a SentryTracker for dsn, or a NopTracker when dsn is
// empty.
func NewTracker(dsn, environment string) (Tracker, error) {
	if dsn == "" {
		return NopTracker{}, nil
	}
	return NewSentryTracker(sentry.ClientOptions{Dsn: dsn, Environment: environment, AttachStacktrace: true})
}

// CaptureException implements Tracker.
func (s *SentryTracker) CaptureException(err error) {
	s.hub.CaptureException(err)
}

// CaptureJobException records err tagged with the job it happened in.
func (s *SentryTracker) CaptureJobException(queue, jobID string, err error) {
	s.hub.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("queue", queue)
		scope.SetTag("job", jobID)
		s.hub.CaptureException(err)
	})
}

// Flush waits for buffered events to be sent.
func (s *SentryTracker) Flush(timeout time.Duration) bool {
	return s.hub.Flush(timeout)
}
