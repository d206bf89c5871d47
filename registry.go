package queue

import (
	"context"
	"sort"

	"github.com/DoNewsCode/core/di"
	"github.com/go-kit/kit/log"
	"github.com/pkg/errors"
)

// Names of the queues every process registers.
const (
	MakeOffer      = "makeOffer"
	Download       = "download"
	DiscordWebhook = "discordWebhook"
	Email          = "email"
	PrintfulSync   = "printfulSync"
	EventQueue     = "event"
	DNS            = "dns"
	ETL            = "etl"
	Tx             = "tx"
	CreateListing  = "createListing"
	Deployment     = "deployment"
)

// QueueNames lists the registered queues in registration order.
var QueueNames = []string{
	MakeOffer,
	Download,
	DiscordWebhook,
	Email,
	PrintfulSync,
	EventQueue,
	DNS,
	ETL,
	Tx,
	CreateListing,
	Deployment,
}

// ErrUnknownQueue is returned by Registry.Get for names outside QueueNames.
var ErrUnknownQueue = errors.New("unknown queue")

// Constructor builds the queue of the given name.
type Constructor func(name string) (Queue, error)

// Registry maps queue names to queues. Every queue is built once, eagerly, and
// lives as long as the process.
type Registry struct {
	factory *di.Factory
	known   map[string]struct{}
}

// NewRegistry builds every queue of QueueNames with construct.
func NewRegistry(construct Constructor) (*Registry, error) {
	factory := di.NewFactory(func(name string) (di.Pair, error) {
		q, err := construct(name)
		if err != nil {
			return di.Pair{}, errors.Wrapf(err, "build queue %s", name)
		}
		return di.Pair{Conn: q}, nil
	})
	r := &Registry{factory: factory, known: make(map[string]struct{}, len(QueueNames))}
	// Queues must be created eagerly, so that consumers can start on boot up.
	for _, name := range QueueNames {
		if _, err := factory.Make(name); err != nil {
			return nil, err
		}
		r.known[name] = struct{}{}
	}
	return r, nil
}

// NewFallbackRegistry builds a registry of FallbackQueue. Each call returns an
// isolated registry, so tests do not share handlers.
func NewFallbackRegistry(logger log.Logger) *Registry {
	r, _ := NewRegistry(func(name string) (Queue, error) {
		return NewFallbackQueue(name, logger), nil
	})
	return r
}

// Get returns the queue of the given name.
func (r *Registry) Get(name string) (Queue, error) {
	if _, ok := r.known[name]; !ok {
		return nil, errors.Wrap(ErrUnknownQueue, name)
	}
	conn, err := r.factory.Make(name)
	if err != nil {
		return nil, err
	}
	return conn.(Queue), nil
}

// MustGet is like Get but panics on unknown names.
func (r *Registry) MustGet(name string) Queue {
	q, err := r.Get(name)
	if err != nil {
		panic(err)
	}
	return q
}

// Names returns the registered queue names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.known))
	for name := range r.known {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Each calls fn for every queue in name order and stops at the first error.
func (r *Registry) Each(fn func(q Queue) error) error {
	for _, name := range r.Names() {
		q, err := r.Get(name)
		if err != nil {
			return err
		}
		if err := fn(q); err != nil {
			return err
		}
	}
	return nil
}

// Brokers returns the queues backed by a broker.
func (r *Registry) Brokers() []*BrokerQueue {
	var out []*BrokerQueue
	_ = r.Each(func(q Queue) error {
		if b, ok := q.(*BrokerQueue); ok {
			out = append(out, b)
		}
		return nil
	})
	return out
}

// Counts reports the job counts of every queue, keyed by name.
func (r *Registry) Counts(ctx context.Context) (map[string]JobCounts, error) {
	out := make(map[string]JobCounts, len(r.known))
	err := r.Each(func(q Queue) error {
		counts, err := q.GetJobCounts(ctx)
		if err != nil {
			return err
		}
		out[q.Name()] = counts
		return nil
	})
	return out, err
}

// OnAll subscribes listener to event on every queue.
func (r *Registry) OnAll(event EventName, listener Listener) {
	_ = r.Each(func(q Queue) error {
		q.On(event, listener)
		return nil
	})
}
