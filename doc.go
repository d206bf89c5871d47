// Package queue provides the named job queues of the storefront and the
// machinery to run them.
//
// Introduction
//
// Work that must not block a request, like waiting for a blockchain
// transaction to confirm or syncing a catalog from an external provider, is
// added to a queue as a Job. A processor registered on the queue handles it
// later, possibly in another process.
//
// Two backends implement the Queue interface, and callers must be aware of
// which one they run on:
//
//  - BrokerQueue stores jobs through a Driver (RedisDriver in production,
//    InProcessDriver in tests). Jobs survive restarts, are retried with
//    backoff and emit EventFailed once attempts are exhausted.
//  - FallbackQueue runs the processor inline inside Add and returns its
//    error. It is used when no broker is configured.
//
// Simple Usage
//
// Bind a handler, then add jobs:
//
//  q := queue.NewBrokerQueue("tx", queue.NewInProcessDriver())
//  q.Process(func(ctx context.Context, job *queue.Job) error {
//    return confirm(ctx, job.Data.String("txHash"))
//  })
//  go q.Consume(ctx)
//  q.Add(ctx, queue.Payload{"txHash": hash}, queue.Attempts(6),
//    queue.WithBackoff(queue.Backoff{Type: queue.BackoffExponential, Delay: time.Minute}))
//
// Handlers are executed at least once. When a job carries side effects that
// must not repeat, check for completed work at the start of the handler and
// give the job a deterministic JobID so that enqueueing it twice is a no-op.
//
// Recurring jobs
//
// Adding a job with the Repeat option ensures a schedule exists. It is safe
// to do so on every start: the schedule is stored once and each occurrence has
// a deterministic id.
//
//  q.Add(ctx, queue.Payload{}, queue.Repeat("*/5 * * * *"))
//
// Integrate
//
// The queue package exports configuration in this format:
//
//  queue:
//    default:
//      redisName: default
//      parallelism: 3
//      checkQueueLengthIntervalSecond: 15
//      handleTimeoutSecond: 3600
//      stalledCheckIntervalSecond: 30
//
// Entries named after a queue override the default for that queue. With the
// bundled dependency provider, the life cycle of consumer goroutines is
// managed by the core.
//
//  var c *core.C
//  c.Provide(otredis.Providers()) // leave out to run every job inline
//  c.Provide(queue.Providers())
//  c.Invoke(func(registry *queue.Registry) {
//    queue.Attach(registry, myProcessor)
//  })
//
// The provider also adds the "queue" command for inspecting counts, adding
// jobs, pausing, flushing and reloading queues.
//
// Metrics
//
// To gain visibility on the length of the queues, inject a gauge into the
// core and alias it to queue.Gauge. The length of every channel is
// periodically reported to the metrics collector (presumably Prometheus).
//
//  c.Provide(di.Deps{func(appName contract.AppName, env contract.Env) queue.Gauge {
//    return prometheus.NewGaugeFrom(
//      stdprometheus.GaugeOpts{
//        Namespace: appName.String(),
//        Subsystem: env.String(),
//        Name:      "queue_length",
//        Help:      "The gauge of queue length",
//      }, []string{"queue", "channel"},
//    )
//  }})
package queue
