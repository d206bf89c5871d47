package jobs

import (
	"context"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/chain"
	"github.com/storekit/shopqueue/store"
)

// ErrNoListing is returned by the offer processor while the shop listing is
// not confirmed yet. The job is retried.
var ErrNoListing = errors.New("shop has no listing yet")

// OfferJob is the payload of the makeOffer queue.
type OfferJob struct {
	ShopID   int64  `json:"shopId"`
	IPFSHash string `json:"ipfsHash"`
}

// OfferSender submits makeOffer calls.
type OfferSender interface {
	From() common.Address
	SendOffer(ctx context.Context, provider string, offer chain.Offer) (common.Hash, error)
}

// ChainOffers is an OfferSender signing with one key on every network.
type ChainOffers struct {
	dialer *chain.Dialer
	key    string
	from   common.Address

	mu         sync.Mutex
	submitters map[string]*chain.OfferSubmitter
}

// NewChainOffers validates hexKey and returns a ChainOffers dialing providers
// through dialer.
func NewChainOffers(dialer *chain.Dialer, hexKey string) (*ChainOffers, error) {
	probe, err := chain.NewOfferSubmitter(nil, hexKey)
	if err != nil {
		return nil, err
	}
	return &ChainOffers{
		dialer:     dialer,
		key:        hexKey,
		from:       probe.From(),
		submitters: make(map[string]*chain.OfferSubmitter),
	}, nil
}

// From implements OfferSender.
func (c *ChainOffers) From() common.Address {
	return c.from
}

// SendOffer implements OfferSender.
func (c *ChainOffers) SendOffer(ctx context.Context, provider string, offer chain.Offer) (common.Hash, error) {
	submitter, err := c.submitter(ctx, provider)
	if err != nil {
		return common.Hash{}, err
	}
	return submitter.MakeOffer(ctx, offer)
}

func (c *ChainOffers) submitter(ctx context.Context, provider string) (*chain.OfferSubmitter, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.submitters[provider]; ok {
		return s, nil
	}
	backend, err := c.dialer.Backend(ctx, provider)
	if err != nil {
		return nil, err
	}
	s, err := chain.NewOfferSubmitter(backend, c.key)
	if err != nil {
		return nil, err
	}
	c.submitters[provider] = s
	return s, nil
}

// OfferProcessor records a paid order on the marketplace listing of the
// shop, and tracks the resulting transaction.
type OfferProcessor struct {
	Common
	Store  Store
	Sender OfferSender
	// FinalizeAfter is how long after submission the offer auto-finalizes.
	FinalizeAfter time.Duration
}

// QueueName implements queue.Processor.
func (p *OfferProcessor) QueueName() string {
	return queue.MakeOffer
}

// Process implements queue.Processor.
func (p *OfferProcessor) Process(ctx context.Context, job *queue.Job) error {
	var in OfferJob
	if err := job.Bind(&in); err != nil {
		return err
	}
	logger := log.With(p.logger(job), "shop", in.ShopID)
	qlog := newQueueLog(ctx, job, logger)
	qlog(0, "making offer")

	shop, err := p.Store.Shop(ctx, in.ShopID)
	if err != nil {
		return p.fail(job, logger, err)
	}
	if !shop.HasListing() {
		return p.fail(job, logger, errors.Wrapf(ErrNoListing, "shop %d", shop.ID))
	}
	network, err := p.Store.ActiveNetwork(ctx, shop.NetworkID)
	if err != nil {
		return p.fail(job, logger, err)
	}
	seq, err := chain.ParseListingSeq(*shop.ListingID)
	if err != nil {
		return p.fail(job, logger, err)
	}
	ipfs, err := chain.DecodeIPFSHash(in.IPFSHash)
	if err != nil {
		return p.fail(job, logger, err)
	}

	hash, err := p.Sender.SendOffer(ctx, network.Provider, chain.Offer{
		ChainID:    network.NetworkID,
		Contract:   common.HexToAddress(network.MarketplaceContract),
		ListingSeq: seq,
		IPFSHash:   ipfs,
		Finalizes:  big.NewInt(time.Now().Add(p.FinalizeAfter).Unix()),
	})
	if err != nil {
		return p.fail(job, logger, err)
	}
	qlog(75, "offer sent in %s", hash.Hex())

	jobID := job.ID
	err = p.Store.CreateTransaction(ctx, &store.Transaction{
		ShopID:      shop.ID,
		NetworkID:   network.NetworkID,
		TxHash:      hash.Hex(),
		FromAddress: p.Sender.From().Hex(),
		Type:        store.TxMakeOffer,
		Status:      store.TxPending,
		ListingID:   shop.ListingID,
		IPFSHash:    &in.IPFSHash,
		JobID:       &jobID,
	})
	if err != nil {
		return p.fail(job, logger, err)
	}
	qlog(100, "offer recorded")
	return nil
}
