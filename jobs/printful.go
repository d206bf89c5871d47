package jobs

import (
	"context"

	"github.com/go-kit/kit/log"
	queue "github.com/storekit/shopqueue"
	"github.com/storekit/shopqueue/printful"
)

// PrintfulJob is the payload of the printfulSync queue.
type PrintfulJob struct {
	ShopID     *int64 `json:"shopId,omitempty"`
	OutputDir  string `json:"outputDir"`
	APIKey     string `json:"apiKey"`
	SmartFetch bool   `json:"smartFetch,omitempty"`
}

// Catalog downloads a Printful store. *printful.Client implements it.
type Catalog interface {
	Products(ctx context.Context, apiKey string) ([]printful.Product, error)
	DownloadMockups(ctx context.Context, dir string, products []printful.Product, smart bool) ([]string, error)
}

// PrintfulProcessor syncs the Printful catalog of a shop into its output
// directory, then flags the shop as changed.
type PrintfulProcessor struct {
	Common
	Store       Store
	Catalog     Catalog
	MockupWidth int
}

// QueueName implements queue.Processor.
func (p *PrintfulProcessor) QueueName() string {
	return queue.PrintfulSync
}

// Process implements queue.Processor.
func (p *PrintfulProcessor) Process(ctx context.Context, job *queue.Job) error {
	var in PrintfulJob
	if err := job.Bind(&in); err != nil {
		return err
	}
	logger := p.logger(job)
	if in.ShopID != nil {
		logger = log.With(logger, "shop", *in.ShopID)
	}
	qlog := newQueueLog(ctx, job, logger)
	qlog(0, "syncing printful catalog to %s", in.OutputDir)

	products, err := p.Catalog.Products(ctx, in.APIKey)
	if err != nil {
		return p.fail(job, logger, err)
	}
	qlog(25, "downloaded %d products", len(products))

	changed, err := printful.WriteProducts(in.OutputDir, products)
	if err != nil {
		return p.fail(job, logger, err)
	}
	qlog(50, "wrote products, changed: %t", changed)

	mockups, err := p.Catalog.DownloadMockups(ctx, in.OutputDir, products, in.SmartFetch)
	if err != nil {
		return p.fail(job, logger, err)
	}
	qlog(75, "downloaded %d mockups", len(mockups))

	width := p.MockupWidth
	if width <= 0 {
		width = 540
	}
	if err := printful.ResizeMockups(mockups, width); err != nil {
		return p.fail(job, logger, err)
	}
	qlog(90, "resized mockups")

	if in.ShopID != nil {
		if err := p.Store.MarkShopChanged(ctx, *in.ShopID); err != nil {
			return p.fail(job, logger, err)
		}
	}
	qlog(100, "printful sync done")
	return nil
}
