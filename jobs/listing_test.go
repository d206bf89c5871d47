package jobs

import (
	"context"
	"testing"

	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/chain"
	"github.com/storekit/shopqueue/store"
)

func listingPayload() queue.Payload {
	return queue.Payload{"txHash": txHash, "fromAddress": "0x01", "shopId": 1}
}

func TestListingProcessor_ShopAlreadyListed(t *testing.T) {
	for _, hash := range []string{txHash, "0xdead", ""} {
		s := newFakeStore()
		existing := "4-001-1"
		s.shops[1].ListingID = &existing
		c := &fakeConfirmer{}
		chains := func(ctx context.Context, provider string) (Confirmer, error) {
			t.Fatal("no rpc client expected")
			return nil, nil
		}
		p := &ListingProcessor{Store: s, Chains: chains}

		job := newJob(queue.CreateListing, queue.Payload{"txHash": hash, "fromAddress": "0xabc", "shopId": 1})
		require.NoError(t, p.Process(context.Background(), job))
		assert.Equal(t, 0, c.calls)
		assert.Equal(t, 100, job.CurrentProgress())
		assert.Equal(t, existing, *s.shops[1].ListingID)
	}
}

func TestListingProcessor_Reverted(t *testing.T) {
	s := newFakeStore()
	c := &fakeConfirmer{tx: types.NewTx(&types.LegacyTx{}), receipt: listingReceipt(types.ReceiptStatusFailed, true)}
	p := &ListingProcessor{Store: s, Chains: c.chains(), Confirmations: 2}

	require.NoError(t, p.Process(context.Background(), newJob(queue.CreateListing, listingPayload())))
	tx := s.txs[txHash]
	assert.Equal(t, store.TxFailed, tx.Status)
	assert.Equal(t, int64(120), *tx.BlockNumber)
	assert.Nil(t, tx.ListingID)
	assert.Nil(t, s.shops[1].ListingID)
}

func TestListingProcessor_MissingEvent(t *testing.T) {
	s := newFakeStore()
	tracker := &recordingTracker{}
	c := &fakeConfirmer{tx: types.NewTx(&types.LegacyTx{}), receipt: listingReceipt(types.ReceiptStatusSuccessful, false)}
	p := &ListingProcessor{Common: Common{Tracker: tracker}, Store: s, Chains: c.chains()}

	err := p.Process(context.Background(), newJob(queue.CreateListing, listingPayload()))
	assert.ErrorIs(t, err, chain.ErrEventNotFound)
	assert.Equal(t, store.TxPending, s.txs[txHash].Status)
	assert.Nil(t, s.shops[1].ListingID)
	assert.Len(t, tracker.errs, 1)
	assert.Equal(t, []string{queue.CreateListing + "#7"}, tracker.jobs)
}

func TestListingProcessor_Confirmed(t *testing.T) {
	s := newFakeStore()
	c := &fakeConfirmer{tx: types.NewTx(&types.LegacyTx{}), receipt: listingReceipt(types.ReceiptStatusSuccessful, true)}
	p := &ListingProcessor{Store: s, Chains: c.chains()}

	job := newJob(queue.CreateListing, listingPayload())
	require.NoError(t, p.Process(context.Background(), job))

	tx := s.txs[txHash]
	assert.Equal(t, store.TxConfirmed, tx.Status)
	assert.Equal(t, int64(120), *tx.BlockNumber)
	assert.Equal(t, "4-001-42", *tx.ListingID)
	assert.Equal(t, ipfsHex, *tx.IPFSHash)
	assert.Equal(t, "7", *tx.JobID)
	assert.Equal(t, "4-001-42", *s.shops[1].ListingID)
	assert.NotEmpty(t, job.Logs())
}

func TestListingProcessor_Errors(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(s *fakeStore, c *fakeConfirmer)
		expect error
	}{
		{"missing shop", func(s *fakeStore, c *fakeConfirmer) { delete(s.shops, 1) }, store.ErrNotFound},
		{"missing network", func(s *fakeStore, c *fakeConfirmer) { delete(s.networks, 4) }, store.ErrNotFound},
		{"missing transaction", func(s *fakeStore, c *fakeConfirmer) { delete(s.txs, txHash) }, store.ErrNotFound},
		{"tx not propagated", func(s *fakeStore, c *fakeConfirmer) { c.tx = nil }, chain.ErrTxNotFound},
	}
	for _, cs := range cases {
		t.Run(cs.name, func(t *testing.T) {
			s := newFakeStore()
			tracker := &recordingTracker{}
			c := &fakeConfirmer{tx: types.NewTx(&types.LegacyTx{}), receipt: listingReceipt(types.ReceiptStatusSuccessful, true)}
			cs.mutate(s, c)
			p := &ListingProcessor{Common: Common{Tracker: tracker}, Store: s, Chains: c.chains()}

			err := p.Process(context.Background(), newJob(queue.CreateListing, listingPayload()))
			assert.ErrorIs(t, err, cs.expect)
			assert.Len(t, tracker.errs, 1)
		})
	}
}

func TestListingProcessor_RaceLoserKeepsTx(t *testing.T) {
	s := newFakeStore()
	c := &fakeConfirmer{tx: types.NewTx(&types.LegacyTx{}), receipt: listingReceipt(types.ReceiptStatusSuccessful, true)}
	p := &ListingProcessor{Store: s, Chains: c.chains()}
	chains := p.Chains
	winner := "4-001-7"
	p.Chains = func(ctx context.Context, provider string) (Confirmer, error) {
		// another job sets the listing while this one waits on chain
		s.shops[1].ListingID = &winner
		return chains(ctx, provider)
	}

	require.NoError(t, p.Process(context.Background(), newJob(queue.CreateListing, listingPayload())))
	assert.Equal(t, winner, *s.shops[1].ListingID)
	assert.Equal(t, store.TxConfirmed, s.txs[txHash].Status)
}
