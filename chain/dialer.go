package chain

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/pkg/errors"
)

// Dialer keeps one RPC connection per provider URL.
type Dialer struct {
	opts []Option

	mu      sync.Mutex
	clients map[string]*ethclient.Client
}

// NewDialer creates a Dialer. The options apply to every Client it returns.
func NewDialer(opts ...Option) *Dialer {
	return &Dialer{opts: opts, clients: make(map[string]*ethclient.Client)}
}

// Backend returns the connection to provider, dialing it on first use.
func (d *Dialer) Backend(ctx context.Context, provider string) (*ethclient.Client, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.clients[provider]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, provider)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", provider)
	}
	d.clients[provider] = c
	return c, nil
}

// Client returns a confirmation Client for provider.
func (d *Dialer) Client(ctx context.Context, provider string) (*Client, error) {
	backend, err := d.Backend(ctx, provider)
	if err != nil {
		return nil, err
	}
	return NewClient(backend, d.opts...), nil
}

// Close closes every connection.
func (d *Dialer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for provider, c := range d.clients {
		c.Close()
		delete(d.clients, provider)
	}
}
