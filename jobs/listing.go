package jobs

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/chain"
	"github.com/storekit/shopqueue/store"
)

// ListingJob is the payload of the createListing queue.
type ListingJob struct {
	TxHash      string `json:"txHash"`
	FromAddress string `json:"fromAddress"`
	ShopID      int64  `json:"shopId"`
}

// ListingProcessor confirms the transaction creating the marketplace listing
// of a shop. Several transactions may be in flight for the same shop; the
// first one to confirm sets the shop listing and later jobs are no-ops.
type ListingProcessor struct {
	Common
	Store  Store
	Chains ChainFunc
	// Confirmations is the number of blocks to wait after the tx block.
	Confirmations int
}

// QueueName implements queue.Processor.
func (p *ListingProcessor) QueueName() string {
	return queue.CreateListing
}

// Process implements queue.Processor.
func (p *ListingProcessor) Process(ctx context.Context, job *queue.Job) error {
	var in ListingJob
	if err := job.Bind(&in); err != nil {
		return err
	}
	logger := log.With(p.logger(job), "shop", in.ShopID, "tx", in.TxHash)
	qlog := newQueueLog(ctx, job, logger)
	qlog(0, "confirming listing tx %s", in.TxHash)

	shop, err := p.Store.Shop(ctx, in.ShopID)
	if err != nil {
		return p.fail(job, logger, err)
	}
	if shop.HasListing() {
		qlog(100, "shop already has listing %s", *shop.ListingID)
		return nil
	}

	network, tx, err := loadTx(ctx, p.Store, shop, in.TxHash)
	if err != nil {
		return p.fail(job, logger, err)
	}
	receipt, err := confirm(ctx, p.Chains, network, in.TxHash, p.Confirmations, qlog)
	if err != nil {
		return p.fail(job, logger, err)
	}

	if receipt.Status == types.ReceiptStatusFailed {
		if err := markTx(ctx, p.Store, tx, store.TxFailed, receipt, job.ID); err != nil {
			return p.fail(job, logger, err)
		}
		qlog(100, "tx reverted in block %d", receipt.BlockNumber.Int64())
		return nil
	}

	listing, err := chain.ParseListing(receipt, common.HexToAddress(network.MarketplaceContract))
	if err != nil {
		return p.fail(job, logger, err)
	}
	fullID := listing.FullID(network.NetworkID, network.MarketplaceVersion)
	ipfs := listing.IPFSHex()
	tx.ListingID = &fullID
	tx.IPFSHash = &ipfs
	if err := markTx(ctx, p.Store, tx, store.TxConfirmed, receipt, job.ID, "listing_id", "ipfs_hash"); err != nil {
		return p.fail(job, logger, err)
	}

	won, err := p.Store.SetShopListingID(ctx, shop.ID, fullID)
	if err != nil {
		return p.fail(job, logger, err)
	}
	if !won {
		_ = level.Info(logger).Log("msg", "another transaction set the shop listing first", "listing", fullID)
	}
	qlog(100, "listing %s confirmed", fullID)
	return nil
}

// loadTx loads the active network of the shop and the tracked transaction.
func loadTx(ctx context.Context, s Store, shop *store.Shop, txHash string) (*store.Network, *store.Transaction, error) {
	network, err := s.ActiveNetwork(ctx, shop.NetworkID)
	if err != nil {
		return nil, nil, err
	}
	tx, err := s.Transaction(ctx, shop.ID, txHash)
	if err != nil {
		return nil, nil, err
	}
	return network, tx, nil
}

// confirm fetches the transaction and waits for its receipt.
func confirm(ctx context.Context, chains ChainFunc, network *store.Network, txHash string, confirmations int, qlog queueLog) (*types.Receipt, error) {
	client, err := chains(ctx, network.Provider)
	if err != nil {
		return nil, err
	}
	if _, err := client.Transaction(ctx, txHash); err != nil {
		return nil, err
	}
	qlog(25, "waiting for %d confirmations", confirmations)
	receipt, err := client.WaitReceipt(ctx, txHash, confirmations)
	if err != nil {
		return nil, err
	}
	if receipt == nil || receipt.BlockNumber == nil {
		return nil, errors.Errorf("incomplete receipt for %s", txHash)
	}
	qlog(75, "mined in block %d", receipt.BlockNumber.Int64())
	return receipt, nil
}

func markTx(ctx context.Context, s Store, tx *store.Transaction, status store.TxStatus, receipt *types.Receipt, jobID string, columns ...string) error {
	block := receipt.BlockNumber.Int64()
	tx.Status = status
	tx.BlockNumber = &block
	tx.JobID = &jobID
	return s.UpdateTransaction(ctx, tx, append([]string{"status", "block_number", "job_id"}, columns...)...)
}
