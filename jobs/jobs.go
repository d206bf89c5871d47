// Package jobs contains the processors bound to the queues of the registry.
//
// Every processor follows the same shape: it reports 0% when it starts and
// 100% when it is done, logs its milestones on the job, and on error reports
// to the error tracker and returns the error so that the queue applies its
// retry policy.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/chain"
	"github.com/storekit/shopqueue/report"
	"github.com/storekit/shopqueue/store"
)

// Store is the persistence used by the processors. *store.Store implements
// it.
type Store interface {
	Shop(ctx context.Context, id int64) (*store.Shop, error)
	Shops(ctx context.Context) ([]store.Shop, error)
	SetShopListingID(ctx context.Context, shopID int64, listingID string) (bool, error)
	MarkShopChanged(ctx context.Context, shopID int64) error
	ActiveNetwork(ctx context.Context, networkID int64) (*store.Network, error)
	Transaction(ctx context.Context, shopID int64, txHash string) (*store.Transaction, error)
	CreateTransaction(ctx context.Context, tx *store.Transaction) error
	UpdateTransaction(ctx context.Context, tx *store.Transaction, columns ...string) error
	PendingDomains(ctx context.Context, limit int) ([]store.ShopDomain, error)
	SetDomainStatus(ctx context.Context, id int64, status store.DomainStatus) error
	ShopStats(ctx context.Context, shopID int64, since time.Time) (store.EtlShop, error)
	CreateEtlJob(ctx context.Context, job *store.EtlJob) error
	FinishEtlJob(ctx context.Context, job *store.EtlJob) error
	CreateEtlShop(ctx context.Context, row *store.EtlShop) error
}

// Confirmer fetches a transaction and waits for its receipt. *chain.Client
// implements it.
type Confirmer interface {
	Transaction(ctx context.Context, hash string) (*types.Transaction, error)
	WaitReceipt(ctx context.Context, hash string, confirmations int) (*types.Receipt, error)
}

// ChainFunc returns the Confirmer of an RPC provider.
type ChainFunc func(ctx context.Context, provider string) (Confirmer, error)

// DialerChains adapts a chain.Dialer to a ChainFunc.
func DialerChains(d *chain.Dialer) ChainFunc {
	return func(ctx context.Context, provider string) (Confirmer, error) {
		c, err := d.Client(ctx, provider)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Common holds what every processor reports through.
type Common struct {
	Tracker report.Tracker
	Logger  log.Logger
}

func (c Common) logger(job *queue.Job) log.Logger {
	logger := c.Logger
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return log.With(logger, "queue", job.Queue, "job", job.ID)
}

// fail logs err, sends it to the tracker tagged with job and returns it.
func (c Common) fail(job *queue.Job, logger log.Logger, err error) error {
	_ = level.Error(logger).Log("msg", "job error", "err", err)
	if c.Tracker != nil {
		report.CaptureJob(c.Tracker, job.Queue, job.ID, err)
	}
	return err
}

// queueLog sets the job progress and appends a line to the job log.
type queueLog func(progress int, format string, args ...interface{})

func newQueueLog(ctx context.Context, job *queue.Job, logger log.Logger) queueLog {
	return func(progress int, format string, args ...interface{}) {
		line := fmt.Sprintf(format, args...)
		_ = level.Debug(logger).Log("msg", line, "progress", progress)
		if err := job.Progress(ctx, progress); err != nil {
			_ = level.Warn(logger).Log("msg", "unable to record progress", "err", err)
		}
		if err := job.Log(ctx, line); err != nil {
			_ = level.Warn(logger).Log("msg", "unable to record log", "err", err)
		}
	}
}

// Scheduled is implemented by processors whose queue runs on a cron schedule.
type Scheduled interface {
	queue.Processor
	// Schedule is a cron expression evaluated in UTC.
	Schedule() string
}

// Attach binds processors to their queues. Scheduled processors also ensure
// their repeat job exists, which is safe to do on every start.
func Attach(ctx context.Context, registry *queue.Registry, processors ...queue.Processor) error {
	for _, p := range processors {
		if err := queue.Attach(registry, p); err != nil {
			return err
		}
	}
	for _, p := range processors {
		s, ok := p.(Scheduled)
		if !ok {
			continue
		}
		q, err := registry.Get(s.QueueName())
		if err != nil {
			return err
		}
		if _, err := q.Add(ctx, queue.Payload{}, queue.Repeat(s.Schedule())); err != nil {
			return err
		}
	}
	return nil
}
