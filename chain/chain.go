// Package chain talks to the EVM networks the shops are listed on.
package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
)

var (
	// ErrTxNotFound is returned when the node does not know the transaction
	// yet. It may not have propagated, so callers should retry.
	ErrTxNotFound = errors.New("transaction not found")
	// ErrConfirmationTimeout is returned when a transaction was not confirmed
	// within the configured timeout.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
)

// Backend is the part of an RPC client the confirmation workflow needs.
// *ethclient.Client implements it.
type Backend interface {
	TransactionByHash(ctx context.Context, hash common.Hash) (*types.Transaction, bool, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Client fetches transactions and waits for their confirmation.
type Client struct {
	backend      Backend
	logger       log.Logger
	pollInterval time.Duration
	timeout      time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger log.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithPollInterval sets how often receipts are polled.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.pollInterval = d
		}
	}
}

// WithTimeout bounds WaitReceipt. Zero waits until the context is done.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.timeout = d
	}
}

// NewClient creates a Client over backend.
func NewClient(backend Backend, opts ...Option) *Client {
	c := &Client{
		backend:      backend,
		logger:       log.NewNopLogger(),
		pollInterval: 4 * time.Second,
		timeout:      30 * time.Minute,
	}
	for _, f := range opts {
		f(c)
	}
	return c
}

// Transaction fetches a transaction by hash.
func (c *Client) Transaction(ctx context.Context, hash string) (*types.Transaction, error) {
	tx, _, err := c.backend.TransactionByHash(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) || (err == nil && tx == nil) {
		return nil, errors.Wrap(ErrTxNotFound, hash)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "fetch transaction %s", hash)
	}
	return tx, nil
}

// WaitReceipt polls until the transaction is mined and followed by the given
// number of blocks, then returns its receipt. Reverted transactions are
// returned too; check Receipt.Status.
func (c *Client) WaitReceipt(ctx context.Context, hash string, confirmations int) (*types.Receipt, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	h := common.HexToHash(hash)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.confirmedReceipt(ctx, h, confirmations)
		if err != nil {
			return nil, err
		}
		if receipt != nil {
			return receipt, nil
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return nil, errors.Wrapf(ErrConfirmationTimeout, "%s after %s", hash, c.timeout)
			}
			return nil, ctx.Err()
		}
	}
}

func (c *Client) confirmedReceipt(ctx context.Context, hash common.Hash, confirmations int) (*types.Receipt, error) {
	receipt, err := c.backend.TransactionReceipt(ctx, hash)
	if errors.Is(err, ethereum.NotFound) {
		return nil, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "fetch receipt %s", hash.Hex())
	}
	if confirmations <= 0 {
		return receipt, nil
	}
	head, err := c.backend.BlockNumber(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil
		}
		return nil, errors.Wrap(err, "fetch block number")
	}
	mined := receipt.BlockNumber.Uint64()
	if head < mined+uint64(confirmations) {
		_ = level.Debug(c.logger).Log("msg", "waiting for confirmations", "tx", hash.Hex(), "mined", mined, "head", head, "confirmations", confirmations)
		return nil, nil
	}
	return receipt, nil
}
