// Package printful syncs a shop catalog from the Printful API.
package printful

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when the API still answers 429 after the
// retries. The job should be retried later.
var ErrRateLimited = errors.New("printful rate limit reached")

// Client calls the Printful API. Requests are throttled client side and
// retried when the API answers 429.
type Client struct {
	rest      *resty.Client
	limiter   *rate.Limiter
	logger    log.Logger
	retries   int
	retryWait time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithRetry sets how many times a rate limited request is retried and the
// initial wait between tries.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *Client) {
		c.retries = count
		c.retryWait = wait
	}
}

// NewClient creates a Client allowing rps requests per second.
func NewClient(baseURL string, rps float64, logger log.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	if rps <= 0 {
		rps = 2
	}
	c := &Client{
		limiter:   rate.NewLimiter(rate.Limit(rps), int(math.Max(1, rps))),
		logger:    logger,
		retries:   3,
		retryWait: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.rest = resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetLogger(restyLogger{logger}).
		SetRetryCount(c.retries).
		SetRetryWaitTime(c.retryWait).
		SetRetryMaxWaitTime(30 * c.retryWait).
		AddRetryCondition(func(resp *resty.Response, err error) bool {
			return resp != nil && resp.StatusCode() == http.StatusTooManyRequests
		}).
		AddRetryHook(func(resp *resty.Response, err error) {
			if resp == nil {
				return
			}
			_ = level.Debug(logger).Log("msg", "retrying printful request", "url", resp.Request.URL, "attempt", resp.Request.Attempt)
		}).
		OnBeforeRequest(func(_ *resty.Client, r *resty.Request) error {
			return c.limiter.Wait(r.Context())
		})
	return c
}

// restyLogger routes resty's own messages to the go-kit logger.
type restyLogger struct {
	logger log.Logger
}

func (l restyLogger) Errorf(format string, v ...interface{}) {
	_ = level.Error(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

func (l restyLogger) Warnf(format string, v ...interface{}) {
	_ = level.Warn(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

func (l restyLogger) Debugf(format string, v ...interface{}) {
	_ = level.Debug(l.logger).Log("msg", fmt.Sprintf(format, v...))
}

type envelope struct {
	Code   int             `json:"code"`
	Result json.RawMessage `json:"result"`
	Error  struct {
		Message string `json:"message"`
	} `json:"error"`
}

type syncProductSummary struct {
	ID int64 `json:"id"`
}

type syncProduct struct {
	SyncProduct struct {
		ID           int64  `json:"id"`
		ExternalID   string `json:"external_id"`
		Name         string `json:"name"`
		ThumbnailURL string `json:"thumbnail_url"`
	} `json:"sync_product"`
	SyncVariants []struct {
		ID          int64  `json:"id"`
		Name        string `json:"name"`
		SKU         string `json:"sku"`
		RetailPrice string `json:"retail_price"`
		Files       []struct {
			Type       string `json:"type"`
			PreviewURL string `json:"preview_url"`
		} `json:"files"`
	} `json:"sync_variants"`
}

// Products downloads every synced product of the store the key belongs to.
func (c *Client) Products(ctx context.Context, apiKey string) ([]Product, error) {
	var summaries []syncProductSummary
	if err := c.get(ctx, apiKey, "/store/products?limit=100", &summaries); err != nil {
		return nil, err
	}
	products := make([]Product, 0, len(summaries))
	for _, s := range summaries {
		var detail syncProduct
		if err := c.get(ctx, apiKey, fmt.Sprintf("/store/products/%d", s.ID), &detail); err != nil {
			return nil, err
		}
		products = append(products, normalize(detail))
	}
	return products, nil
}

func normalize(p syncProduct) Product {
	out := Product{
		ID:         p.SyncProduct.ID,
		ExternalID: p.SyncProduct.ExternalID,
		Name:       p.SyncProduct.Name,
		Thumbnail:  p.SyncProduct.ThumbnailURL,
	}
	for _, v := range p.SyncVariants {
		variant := Variant{ID: v.ID, Name: v.Name, SKU: v.SKU, Price: cents(v.RetailPrice)}
		for _, f := range v.Files {
			if f.Type == "preview" {
				variant.Mockup = f.PreviewURL
			}
		}
		out.Variants = append(out.Variants, variant)
	}
	return out
}

func cents(price string) int64 {
	f, err := strconv.ParseFloat(price, 64)
	if err != nil {
		return 0
	}
	return int64(math.Round(f * 100))
}

func (c *Client) get(ctx context.Context, apiKey, path string, result interface{}) error {
	var ok, failed envelope
	resp, err := c.rest.R().
		SetContext(ctx).
		SetAuthToken(apiKey).
		ForceContentType("application/json").
		SetResult(&ok).
		SetError(&failed).
		Get(path)
	if err != nil {
		return errors.Wrapf(err, "GET %s", path)
	}
	if resp.StatusCode() == http.StatusTooManyRequests {
		return errors.Wrapf(ErrRateLimited, "GET %s", path)
	}
	if resp.IsError() {
		return errors.Errorf("GET %s: %d %s", path, resp.StatusCode(), failed.Error.Message)
	}
	return errors.Wrapf(json.Unmarshal(ok.Result, result), "decode %s result", path)
}

// download saves url into the file at path.
func (c *Client) download(ctx context.Context, url, path string) error {
	resp, err := c.rest.R().
		SetContext(ctx).
		SetOutput(path).
		Get(url)
	if err != nil {
		return errors.Wrapf(err, "download %s", url)
	}
	if resp.IsError() {
		return errors.Errorf("download %s: status %d", url, resp.StatusCode())
	}
	return nil
}
