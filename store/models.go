package store

import (
	"time"

	"github.com/uptrace/bun"
)

// TxStatus is the lifecycle state of a Transaction row.
type TxStatus string

const (
	TxPending   TxStatus = "Pending"
	TxConfirmed TxStatus = "Confirmed"
	TxFailed    TxStatus = "Failed"
)

// Terminal reports whether no further confirmation work is needed.
func (s TxStatus) Terminal() bool {
	return s == TxConfirmed || s == TxFailed
}

// TxType tells what a Transaction pays for.
type TxType string

const (
	TxCreateListing TxType = "CreateListing"
	TxPayment       TxType = "Payment"
	TxMakeOffer     TxType = "MakeOffer"
)

// DomainStatus is the verification state of a ShopDomain.
type DomainStatus string

const (
	DomainPending DomainStatus = "Pending"
	DomainSuccess DomainStatus = "Success"
	DomainFailed  DomainStatus = "Failed"
)

// Shop is a storefront tenant.
type Shop struct {
	bun.BaseModel `bun:"table:shops,alias:s"`

	ID        int64  `bun:"id,pk,autoincrement"`
	Name      string `bun:"name,notnull"`
	NetworkID int64  `bun:"network_id,notnull"`
	// ListingID is the marketplace listing of the shop, "<network>-<version>-<seq>".
	ListingID  *string   `bun:"listing_id"`
	HasChanges bool      `bun:"has_changes,notnull"`
	CreatedAt  time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt  time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// HasListing reports whether a listing was already recorded for the shop.
func (s *Shop) HasListing() bool {
	return s.ListingID != nil && *s.ListingID != ""
}

// Network is the configuration of a chain the shops can deploy to.
type Network struct {
	bun.BaseModel `bun:"table:networks,alias:n"`

	ID                  int64  `bun:"id,pk,autoincrement"`
	NetworkID           int64  `bun:"network_id,notnull"`
	Provider            string `bun:"provider,notnull"`
	MarketplaceContract string `bun:"marketplace_contract,notnull"`
	MarketplaceVersion  string `bun:"marketplace_version,notnull"`
	Active              bool   `bun:"active,notnull"`
}

// Transaction is an on-chain transaction submitted on behalf of a shop.
type Transaction struct {
	bun.BaseModel `bun:"table:transactions,alias:t"`

	ID          int64     `bun:"id,pk,autoincrement"`
	ShopID      int64     `bun:"shop_id,notnull"`
	NetworkID   int64     `bun:"network_id,notnull"`
	TxHash      string    `bun:"tx_hash,notnull"`
	FromAddress string    `bun:"from_address,notnull"`
	Type        TxType    `bun:"type,notnull"`
	Status      TxStatus  `bun:"status,notnull"`
	BlockNumber *int64    `bun:"block_number"`
	ListingID   *string   `bun:"listing_id"`
	IPFSHash    *string   `bun:"ipfs_hash"`
	JobID       *string   `bun:"job_id"`
	CreatedAt   time.Time `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt   time.Time `bun:"updated_at,notnull,default:current_timestamp"`
}

// ShopDomain is a custom domain a shop wants to be served on.
type ShopDomain struct {
	bun.BaseModel `bun:"table:shop_domains,alias:sd"`

	ID        int64        `bun:"id,pk,autoincrement"`
	ShopID    int64        `bun:"shop_id,notnull"`
	NetworkID int64        `bun:"network_id,notnull"`
	Domain    string       `bun:"domain,notnull"`
	Status    DomainStatus `bun:"status,notnull"`
	CreatedAt time.Time    `bun:"created_at,notnull,default:current_timestamp"`
	UpdatedAt time.Time    `bun:"updated_at,notnull,default:current_timestamp"`

	Shop *Shop `bun:"rel:belongs-to,join:shop_id=id"`
}

// Order is a placed order.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID        int64     `bun:"id,pk,autoincrement"`
	ShopID    int64     `bun:"shop_id,notnull"`
	Total     int64     `bun:"total,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// Discount is a discount code of a shop.
type Discount struct {
	bun.BaseModel `bun:"table:discounts,alias:d"`

	ID        int64     `bun:"id,pk,autoincrement"`
	ShopID    int64     `bun:"shop_id,notnull"`
	Code      string    `bun:"code,notnull"`
	Status    string    `bun:"status,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull,default:current_timestamp"`
}

// EtlJob records one run of the daily aggregation.
type EtlJob struct {
	bun.BaseModel `bun:"table:etl_jobs,alias:ej"`

	ID         int64      `bun:"id,pk,autoincrement"`
	RunID      string     `bun:"run_id,notnull"`
	Status     string     `bun:"status,notnull"`
	Shops      int        `bun:"shops,notnull"`
	StartedAt  time.Time  `bun:"started_at,notnull"`
	FinishedAt *time.Time `bun:"finished_at"`
}

// EtlShop is the per-shop output of an EtlJob.
type EtlShop struct {
	bun.BaseModel `bun:"table:etl_shops,alias:es"`

	ID              int64     `bun:"id,pk,autoincrement"`
	EtlJobID        int64     `bun:"etl_job_id,notnull"`
	ShopID          int64     `bun:"shop_id,notnull"`
	Orders          int       `bun:"orders,notnull"`
	Revenue         int64     `bun:"revenue,notnull"`
	ActiveDiscounts int       `bun:"active_discounts,notnull"`
	CreatedAt       time.Time `bun:"created_at,notnull,default:current_timestamp"`
}
