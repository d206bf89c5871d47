package main

import (
	"context"
	"time"

	"github.com/DoNewsCode/core"
	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/pkg/errors"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/chain"
	"github.com/storekit/shopqueue/dnsverify"
	"github.com/storekit/shopqueue/failure"
	"github.com/storekit/shopqueue/jobs"
	"github.com/storekit/shopqueue/mailer"
	"github.com/storekit/shopqueue/printful"
	"github.com/storekit/shopqueue/report"
	"github.com/storekit/shopqueue/settings"
	"github.com/storekit/shopqueue/store"
	"go.uber.org/dig"
)

// workers holds the resources shared by the processors.
type workers struct {
	store   *store.Store
	dialer  *chain.Dialer
	tracker report.Tracker
}

// Close releases the connections.
func (w *workers) Close() {
	if w.store != nil {
		_ = w.store.Close()
	}
	if w.dialer != nil {
		w.dialer.Close()
	}
	if s, ok := w.tracker.(*report.SentryTracker); ok {
		s.Flush(2 * time.Second)
	}
}

type wireIn struct {
	dig.In

	Registry *queue.Registry
	Logger   log.Logger
}

// wire attaches the failure router and every processor to the registry.
// Processors needing the database are skipped when DATABASE_URL is unset, and
// the email processor when Mailgun is not configured.
func wire(c *core.C, s settings.Settings) (*workers, error) {
	w := &workers{}
	var err error
	c.Invoke(func(in wireIn) {
		err = w.attach(in, s)
	})
	if err != nil {
		w.Close()
		return nil, err
	}
	return w, nil
}

func (w *workers) attach(in wireIn, s settings.Settings) error {
	ctx := context.Background()
	logger := in.Logger

	tracker, err := report.NewTracker(s.SentryDSN, s.Environment)
	if err != nil {
		return err
	}
	w.tracker = tracker
	notifier, err := report.NewNotifier(s.Failure.DiscordWebhook)
	if err != nil {
		return err
	}
	failure.NewRouter(tracker, notifier, failure.Config{
		TrackedQueues:  s.Failure.TrackedQueues,
		SilencedQueues: s.Failure.SilencedQueues,
		SilencedShops:  s.Failure.SilencedShops,
	}, logger).Attach(in.Registry)

	common := jobs.Common{Tracker: tracker, Logger: logger}
	processors, err := notifyProcessors(s, common)
	if err != nil {
		return err
	}

	if s.DatabaseURL == "" {
		_ = level.Warn(logger).Log("msg", "DATABASE_URL is not set, only notification queues are processed")
		return jobs.Attach(ctx, in.Registry, processors...)
	}
	st, err := store.Open(ctx, s.DatabaseURL, logger)
	if err != nil {
		return err
	}
	w.store = st
	w.dialer = chain.NewDialer(
		chain.WithLogger(logger),
		chain.WithPollInterval(s.Chain.PollInterval),
		chain.WithTimeout(s.Chain.ConfirmationTimeout),
	)
	chains := jobs.DialerChains(w.dialer)
	blocks := s.ConfirmationBlocks()

	processors = append(processors,
		&jobs.ListingProcessor{Common: common, Store: st, Chains: chains, Confirmations: blocks},
		&jobs.TxProcessor{Common: common, Store: st, Chains: chains, Offers: in.Registry.MustGet(queue.MakeOffer), Confirmations: blocks},
		&jobs.DNSProcessor{Common: common, Store: st, Verifier: dnsverify.New(s.DNS.Resolver, s.DNS.CNAMETarget, s.DNS.ServingAddrs)},
		&jobs.ETLProcessor{Common: common, Store: st},
		&jobs.PrintfulProcessor{
			Common:      common,
			Store:       st,
			Catalog:     printful.NewClient(s.Printful.BaseURL, s.Printful.RequestsPerSec, logger),
			MockupWidth: s.Printful.MockupWidth,
		},
	)
	if s.Chain.SignerKey != "" {
		offers, err := jobs.NewChainOffers(w.dialer, s.Chain.SignerKey)
		if err != nil {
			return errors.Wrap(err, "SIGNER_PRIVATE_KEY")
		}
		processors = append(processors, &jobs.OfferProcessor{
			Common:        common,
			Store:         st,
			Sender:        offers,
			FinalizeAfter: s.Chain.OfferFinalizeAfter,
		})
	} else {
		_ = level.Warn(logger).Log("msg", "SIGNER_PRIVATE_KEY is not set, offers are not submitted")
	}
	return jobs.Attach(ctx, in.Registry, processors...)
}

// notifyProcessors returns the processors that need no database.
func notifyProcessors(s settings.Settings, common jobs.Common) ([]queue.Processor, error) {
	discord, err := report.NewDiscord("")
	if err != nil {
		return nil, err
	}
	processors := []queue.Processor{
		&jobs.DiscordProcessor{Common: common, Poster: discord},
	}
	if !s.Mailgun.Enabled() {
		_ = level.Warn(common.Logger).Log("msg", "MAILGUN_DOMAIN or MAILGUN_API_KEY is not set, email is not sent")
		return processors, nil
	}
	return append(processors, &jobs.EmailProcessor{Common: common, Sender: mailer.NewMailgun(mailer.Config{
		Domain:    s.Mailgun.Domain,
		APIKey:    s.Mailgun.APIKey,
		APIBase:   s.Mailgun.APIBase,
		FromEmail: s.Mailgun.FromEmail,
		FromName:  s.Mailgun.FromName,
	}, common.Logger)}), nil
}
