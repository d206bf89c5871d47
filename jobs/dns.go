package jobs

import (
	"context"

	"github.com/go-kit/kit/log/level"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/dnsverify"
	"github.com/storekit/shopqueue/store"
)

// dnsBatch bounds the domains checked in one run.
const dnsBatch = 100

// Verifier checks that a domain points at the storefront of shop on the given
// network. *dnsverify.Verifier implements it.
type Verifier interface {
	Verify(ctx context.Context, domain string, networkID int64, shop *store.Shop) (dnsverify.Result, error)
}

// DNSProcessor verifies pending custom domains every five minutes. Domains
// that do not verify stay pending until the next run.
type DNSProcessor struct {
	Common
	Store    Store
	Verifier Verifier
}

// QueueName implements queue.Processor.
func (p *DNSProcessor) QueueName() string {
	return queue.DNS
}

// Schedule implements Scheduled.
func (p *DNSProcessor) Schedule() string {
	return "*/5 * * * *"
}

// Process implements queue.Processor.
func (p *DNSProcessor) Process(ctx context.Context, job *queue.Job) error {
	logger := p.logger(job)
	qlog := newQueueLog(ctx, job, logger)
	qlog(0, "verifying pending domains")

	domains, err := p.Store.PendingDomains(ctx, dnsBatch)
	if err != nil {
		return p.fail(job, logger, err)
	}

	verified := 0
	for i, d := range domains {
		res, err := p.Verifier.Verify(ctx, d.Domain, d.NetworkID, d.Shop)
		if err != nil {
			_ = level.Warn(logger).Log("msg", "dns lookup failed", "domain", d.Domain, "err", err)
			continue
		}
		if !res.Valid {
			_ = level.Debug(logger).Log("msg", "domain not verified", "domain", d.Domain, "reason", res.Reason)
			continue
		}
		if err := p.Store.SetDomainStatus(ctx, d.ID, store.DomainSuccess); err != nil {
			return p.fail(job, logger, err)
		}
		verified++
		qlog((i+1)*100/len(domains), "verified %s", d.Domain)
	}
	qlog(100, "verified %d of %d domains", verified, len(domains))
	return nil
}
