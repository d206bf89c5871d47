package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/store"
)

// EtlJob statuses.
const (
	etlRunning   = "Running"
	etlCompleted = "Completed"
	etlFailed    = "Failed"
)

// ETLProcessor extracts daily per shop statistics at 01:00 UTC.
type ETLProcessor struct {
	Common
	Store Store
	// Now defaults to time.Now.
	Now func() time.Time
}

// QueueName implements queue.Processor.
func (p *ETLProcessor) QueueName() string {
	return queue.ETL
}

// Schedule implements Scheduled.
func (p *ETLProcessor) Schedule() string {
	return "0 1 * * *"
}

// Process implements queue.Processor.
func (p *ETLProcessor) Process(ctx context.Context, job *queue.Job) error {
	logger := p.logger(job)
	qlog := newQueueLog(ctx, job, logger)

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	started := now().UTC()
	run := &store.EtlJob{RunID: uuid.NewString(), Status: etlRunning, StartedAt: started}
	qlog(0, "etl run %s", run.RunID)

	if err := p.Store.CreateEtlJob(ctx, run); err != nil {
		return p.fail(job, logger, err)
	}
	if err := p.extract(ctx, run, started.Add(-24*time.Hour), qlog); err != nil {
		run.Status = etlFailed
		_ = p.Store.FinishEtlJob(ctx, run)
		return p.fail(job, logger, err)
	}
	run.Status = etlCompleted
	if err := p.Store.FinishEtlJob(ctx, run); err != nil {
		return p.fail(job, logger, err)
	}
	qlog(100, "extracted %d shops", run.Shops)
	return nil
}

func (p *ETLProcessor) extract(ctx context.Context, run *store.EtlJob, since time.Time, qlog queueLog) error {
	shops, err := p.Store.Shops(ctx)
	if err != nil {
		return err
	}
	for i, shop := range shops {
		row, err := p.Store.ShopStats(ctx, shop.ID, since)
		if err != nil {
			return err
		}
		row.EtlJobID = run.ID
		if err := p.Store.CreateEtlShop(ctx, &row); err != nil {
			return err
		}
		run.Shops++
		if (i+1)%10 == 0 {
			qlog((i+1)*100/len(shops), "extracted %d of %d shops", i+1, len(shops))
		}
	}
	return nil
}
