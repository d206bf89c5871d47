package jobs

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-kit/kit/log"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/store"
)

// TxJob is the payload of the tx queue.
type TxJob struct {
	ShopID      int64  `json:"shopId"`
	TxHash      string `json:"txHash"`
	FromAddress string `json:"fromAddress"`
	IPFSHash    string `json:"ipfsHash"`
}

// OfferAttempts is the number of attempts of chained offer jobs.
const OfferAttempts = 6

// OfferBackoff is the retry delay policy of chained offer jobs.
var OfferBackoff = queue.Backoff{Type: queue.BackoffExponential, Delay: time.Minute}

// TxProcessor confirms a payment transaction, then chains the makeOffer job
// recording the offer on the marketplace.
type TxProcessor struct {
	Common
	Store  Store
	Chains ChainFunc
	// Offers is the makeOffer queue.
	Offers        queue.Queue
	Confirmations int
}

// QueueName implements queue.Processor.
func (p *TxProcessor) QueueName() string {
	return queue.Tx
}

// Process implements queue.Processor.
func (p *TxProcessor) Process(ctx context.Context, job *queue.Job) error {
	var in TxJob
	if err := job.Bind(&in); err != nil {
		return err
	}
	logger := log.With(p.logger(job), "shop", in.ShopID, "tx", in.TxHash)
	qlog := newQueueLog(ctx, job, logger)
	qlog(0, "confirming payment tx %s", in.TxHash)

	shop, err := p.Store.Shop(ctx, in.ShopID)
	if err != nil {
		return p.fail(job, logger, err)
	}
	network, tx, err := loadTx(ctx, p.Store, shop, in.TxHash)
	if err != nil {
		return p.fail(job, logger, err)
	}
	if tx.Status.Terminal() {
		qlog(100, "tx already %s", tx.Status)
		return nil
	}

	receipt, err := confirm(ctx, p.Chains, network, in.TxHash, p.Confirmations, qlog)
	if err != nil {
		return p.fail(job, logger, err)
	}

	status := store.TxFailed
	if receipt.Status == types.ReceiptStatusSuccessful {
		status = store.TxConfirmed
		_, err := p.Offers.Add(ctx,
			queue.Payload{"shopId": in.ShopID, "ipfsHash": in.IPFSHash},
			queue.Attempts(OfferAttempts),
			queue.WithBackoff(OfferBackoff),
			queue.JobID("offer:"+in.TxHash),
		)
		if err != nil {
			return p.fail(job, logger, err)
		}
		qlog(90, "offer job queued")
	}

	if err := markTx(ctx, p.Store, tx, status, receipt, job.ID); err != nil {
		return p.fail(job, logger, err)
	}
	qlog(100, "tx %s in block %d", status, receipt.BlockNumber.Int64())
	return nil
}
