// Package failure routes jobs that exhausted their attempts to error tracking
// and chat.
package failure

import (
	"context"
	"fmt"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/report"
)

// NoShop is the shop id of jobs whose payload carries none.
const NoShop int64 = -1

// Config lists the queues and shops the router filters on.
type Config struct {
	// TrackedQueues are forwarded to error tracking.
	TrackedQueues []string
	// SilencedQueues are never posted to chat.
	SilencedQueues []string
	// SilencedShops are never posted to chat, like deleted tenants.
	SilencedShops []int64
}

// Router is attached to the failed event of every queue. The error tracking
// allowlist and the chat denylists are evaluated independently.
type Router struct {
	tracker        report.Tracker
	notifier       report.Notifier
	logger         log.Logger
	tracked        map[string]bool
	silencedQueues map[string]bool
	silencedShops  map[int64]bool
}

// NewRouter creates a Router.
func NewRouter(tracker report.Tracker, notifier report.Notifier, conf Config, logger log.Logger) *Router {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	r := &Router{
		tracker:        tracker,
		notifier:       notifier,
		logger:         logger,
		tracked:        make(map[string]bool),
		silencedQueues: make(map[string]bool),
		silencedShops:  make(map[int64]bool),
	}
	for _, q := range conf.TrackedQueues {
		r.tracked[q] = true
	}
	for _, q := range conf.SilencedQueues {
		r.silencedQueues[q] = true
	}
	for _, s := range conf.SilencedShops {
		r.silencedShops[s] = true
	}
	return r
}

// Attach subscribes the router to the failed event of every queue.
func (r *Router) Attach(registry *queue.Registry) {
	registry.OnAll(queue.EventFailed, r.Handle)
}

// Handle implements queue.Listener.
func (r *Router) Handle(ctx context.Context, event queue.Event) {
	if event.Name != queue.EventFailed || event.Job == nil {
		return
	}
	r.Route(ctx, event.Job, event.Err)
}

// Route reports a failed job.
func (r *Router) Route(ctx context.Context, job *queue.Job, err error) {
	if err == nil {
		err = fmt.Errorf("job %s failed", job)
	}
	shopID := ShopID(job)
	logger := log.With(r.logger, "queue", job.Queue, "job", job.ID, "shop", shopID)
	_ = level.Error(logger).Log("msg", "job failed", "attempts", job.AttemptsMade, "err", err)

	if r.tracked[job.Queue] {
		report.CaptureJob(r.tracker, job.Queue, job.ID, err)
	}
	if r.silencedQueues[job.Queue] || r.silencedShops[shopID] {
		return
	}
	postErr := r.notifier.PostQueueError(ctx, report.QueueError{
		QueueName:    job.Queue,
		ErrorMessage: err.Error(),
		JobID:        job.ID,
		ShopID:       shopID,
		Attempts:     job.AttemptsMade,
		StackTrace:   fmt.Sprintf("%+v", err),
	})
	if postErr != nil {
		_ = level.Warn(logger).Log("msg", "unable to post failure", "err", postErr)
	}
}

// ShopID reads the shop id of a job payload, or NoShop.
func ShopID(job *queue.Job) int64 {
	if id, ok := job.Data.Int64("shopId"); ok {
		return id
	}
	return NoShop
}
