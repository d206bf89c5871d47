package jobs

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/chain"
	"github.com/storekit/shopqueue/dnsverify"
	"github.com/storekit/shopqueue/store"
)

const (
	marketplace = "0x00000000000000000000000000000000000000aa"
	txHash      = "0x1111111111111111111111111111111111111111111111111111111111111111"
	ipfsHex     = "0x2222222222222222222222222222222222222222222222222222222222222222"
)

type fakeStore struct {
	mu           sync.Mutex
	shops        map[int64]*store.Shop
	networks     map[int64]*store.Network
	txs          map[string]*store.Transaction
	created      []store.Transaction
	domains      []store.ShopDomain
	domainStatus map[int64]store.DomainStatus
	domainLimit  int
	etlJobs      []store.EtlJob
	etlShops     []store.EtlShop
	changed      []int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		shops:        map[int64]*store.Shop{1: {ID: 1, Name: "shop", NetworkID: 4}},
		networks:     map[int64]*store.Network{4: {NetworkID: 4, Provider: "http://node", MarketplaceContract: marketplace, MarketplaceVersion: "001", Active: true}},
		txs:          map[string]*store.Transaction{txHash: {ID: 9, ShopID: 1, NetworkID: 4, TxHash: txHash, Status: store.TxPending}},
		domainStatus: map[int64]store.DomainStatus{},
	}
}

func (s *fakeStore) Shop(ctx context.Context, id int64) (*store.Shop, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop, ok := s.shops[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *shop
	return &cp, nil
}

func (s *fakeStore) Shops(ctx context.Context) ([]store.Shop, error) {
	var out []store.Shop
	for _, shop := range s.shops {
		out = append(out, *shop)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *fakeStore) SetShopListingID(ctx context.Context, shopID int64, listingID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	shop := s.shops[shopID]
	if shop.ListingID != nil {
		return false, nil
	}
	shop.ListingID = &listingID
	return true, nil
}

func (s *fakeStore) MarkShopChanged(ctx context.Context, shopID int64) error {
	s.changed = append(s.changed, shopID)
	return nil
}

func (s *fakeStore) ActiveNetwork(ctx context.Context, networkID int64) (*store.Network, error) {
	n, ok := s.networks[networkID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return n, nil
}

func (s *fakeStore) Transaction(ctx context.Context, shopID int64, hash string) (*store.Transaction, error) {
	tx, ok := s.txs[hash]
	if !ok || tx.ShopID != shopID {
		return nil, store.ErrNotFound
	}
	cp := *tx
	return &cp, nil
}

func (s *fakeStore) CreateTransaction(ctx context.Context, tx *store.Transaction) error {
	s.created = append(s.created, *tx)
	return nil
}

func (s *fakeStore) UpdateTransaction(ctx context.Context, tx *store.Transaction, columns ...string) error {
	cp := *tx
	s.txs[tx.TxHash] = &cp
	return nil
}

func (s *fakeStore) PendingDomains(ctx context.Context, limit int) ([]store.ShopDomain, error) {
	s.domainLimit = limit
	var out []store.ShopDomain
	for _, d := range s.domains {
		if d.Status == store.DomainPending {
			out = append(out, d)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *fakeStore) SetDomainStatus(ctx context.Context, id int64, status store.DomainStatus) error {
	s.domainStatus[id] = status
	return nil
}

func (s *fakeStore) ShopStats(ctx context.Context, shopID int64, since time.Time) (store.EtlShop, error) {
	return store.EtlShop{ShopID: shopID, Orders: 2, Revenue: 500}, nil
}

func (s *fakeStore) CreateEtlJob(ctx context.Context, job *store.EtlJob) error {
	job.ID = int64(len(s.etlJobs) + 1)
	s.etlJobs = append(s.etlJobs, *job)
	return nil
}

func (s *fakeStore) FinishEtlJob(ctx context.Context, job *store.EtlJob) error {
	s.etlJobs[job.ID-1] = *job
	return nil
}

func (s *fakeStore) CreateEtlShop(ctx context.Context, row *store.EtlShop) error {
	s.etlShops = append(s.etlShops, *row)
	return nil
}

type fakeConfirmer struct {
	calls   int
	tx      *types.Transaction
	receipt *types.Receipt
}

func (f *fakeConfirmer) Transaction(ctx context.Context, hash string) (*types.Transaction, error) {
	f.calls++
	if f.tx == nil {
		return nil, chain.ErrTxNotFound
	}
	return f.tx, nil
}

func (f *fakeConfirmer) WaitReceipt(ctx context.Context, hash string, confirmations int) (*types.Receipt, error) {
	f.calls++
	return f.receipt, nil
}

func (f *fakeConfirmer) chains() ChainFunc {
	return func(ctx context.Context, provider string) (Confirmer, error) {
		return f, nil
	}
}

func listingReceipt(status uint64, withEvent bool) *types.Receipt {
	r := &types.Receipt{Status: status, BlockNumber: big.NewInt(120), TxHash: common.HexToHash(txHash)}
	if withEvent {
		event := chain.MarketplaceABI.Events["ListingCreated"]
		data, err := event.Inputs.NonIndexed().Pack([32]byte(common.HexToHash(ipfsHex)))
		if err != nil {
			panic(err)
		}
		r.Logs = []*types.Log{{
			Address: common.HexToAddress(marketplace),
			Topics: []common.Hash{
				event.ID,
				common.BytesToHash(common.HexToAddress("0x01").Bytes()),
				common.BigToHash(big.NewInt(42)),
			},
			Data: data,
		}}
	}
	return r
}

type recordingTracker struct {
	errs []error
	// jobs holds "queue#id" of errors captured with job tags.
	jobs []string
}

func (r *recordingTracker) CaptureException(err error) {
	r.errs = append(r.errs, err)
}

func (r *recordingTracker) CaptureJobException(queue, jobID string, err error) {
	r.jobs = append(r.jobs, queue+"#"+jobID)
	r.CaptureException(err)
}

type addedJob struct {
	data    queue.Payload
	options queue.JobOptions
}

// recordingQueue is a queue.Queue keeping what was added.
type recordingQueue struct {
	name  string
	added []addedJob
	err   error
}

func (q *recordingQueue) Name() string { return q.name }

func (q *recordingQueue) Add(ctx context.Context, data queue.Payload, opts ...queue.JobOption) (*queue.Job, error) {
	if q.err != nil {
		return nil, q.err
	}
	var o queue.JobOptions
	for _, f := range opts {
		f(&o)
	}
	q.added = append(q.added, addedJob{data: data, options: o})
	return &queue.Job{ID: o.JobID, Queue: q.name, Data: data, Options: o}, nil
}

func (q *recordingQueue) Process(handler queue.ProcessFunc) {}
func (q *recordingQueue) Pause(ctx context.Context) error  { return nil }
func (q *recordingQueue) Resume(ctx context.Context) error { return nil }
func (q *recordingQueue) GetJobCounts(ctx context.Context) (queue.JobCounts, error) {
	return queue.UnavailableCounts(), nil
}
func (q *recordingQueue) On(event queue.EventName, listener queue.Listener) {}

// fakeVerifier maps a domain to the shop its records point at.
type fakeVerifier map[string]int64

func (f fakeVerifier) Verify(ctx context.Context, domain string, networkID int64, shop *store.Shop) (dnsverify.Result, error) {
	owner, ok := f[domain]
	if !ok {
		return dnsverify.Result{}, errors.New("servfail")
	}
	if shop == nil || shop.ID != owner || shop.NetworkID != networkID {
		return dnsverify.Result{Reason: "points at another shop"}, nil
	}
	return dnsverify.Result{Valid: true}, nil
}

func newJob(name string, data queue.Payload) *queue.Job {
	return &queue.Job{ID: "7", Queue: name, Data: data, Timestamp: time.Now()}
}
