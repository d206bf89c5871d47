// Package store persists shops, networks, transactions and the rows the
// background jobs work on.
package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/go-kit/kit/log"
	"github.com/go-kit/kit/log/level"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pkg/errors"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

// ErrNotFound is returned when a looked up row does not exist.
var ErrNotFound = errors.New("not found")

// Store runs queries against Postgres.
type Store struct {
	db     *bun.DB
	pool   *pgxpool.Pool
	logger log.Logger
}

// Open connects to the database at dsn.
func Open(ctx context.Context, dsn string, logger log.Logger) (*Store, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, errors.Wrap(err, "parse pgx config")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, errors.Wrap(err, "create pgx pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, errors.Wrap(err, "ping database")
	}

	db := bun.NewDB(stdlib.OpenDBFromPool(pool), pgdialect.New())
	db.AddQueryHook(&queryLoggingHook{logger: logger})
	return &Store{db: db, pool: pool, logger: logger}, nil
}

// New wraps an existing bun database.
func New(db *bun.DB, logger log.Logger) *Store {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Store{db: db, logger: logger}
}

// DB returns the underlying bun database.
func (s *Store) DB() *bun.DB {
	return s.db
}

// Close releases the connections.
func (s *Store) Close() error {
	err := s.db.Close()
	if s.pool != nil {
		s.pool.Close()
	}
	return err
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errors.Wrap(ErrNotFound, what)
	}
	return errors.Wrapf(err, "load %s", what)
}

// Shop loads a shop by id.
func (s *Store) Shop(ctx context.Context, id int64) (*Shop, error) {
	shop := new(Shop)
	err := s.db.NewSelect().
		Model(shop).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "shop")
	}
	return shop, nil
}

// Shops loads every shop, oldest first.
func (s *Store) Shops(ctx context.Context) ([]Shop, error) {
	var shops []Shop
	err := s.db.NewSelect().
		Model(&shops).
		Order("id ASC").
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load shops")
	}
	return shops, nil
}

// SetShopListingID records the listing of a shop unless one is already
// recorded. It reports whether this call won.
func (s *Store) SetShopListingID(ctx context.Context, shopID int64, listingID string) (bool, error) {
	res, err := s.db.NewUpdate().
		Model((*Shop)(nil)).
		Set("listing_id = ?", listingID).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", shopID).
		Where("listing_id IS NULL").
		Exec(ctx)
	if err != nil {
		return false, errors.Wrap(err, "update shop listing")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows == 1, nil
}

// MarkShopChanged flags the shop for the next deployment.
func (s *Store) MarkShopChanged(ctx context.Context, shopID int64) error {
	res, err := s.db.NewUpdate().
		Model((*Shop)(nil)).
		Set("has_changes = TRUE").
		Set("updated_at = ?", time.Now()).
		Where("id = ?", shopID).
		Exec(ctx)
	if err != nil {
		return errors.Wrap(err, "update shop has_changes")
	}
	if rows, _ := res.RowsAffected(); rows == 0 {
		return errors.Wrap(ErrNotFound, "shop")
	}
	return nil
}

// ActiveNetwork loads the active configuration of a chain.
func (s *Store) ActiveNetwork(ctx context.Context, networkID int64) (*Network, error) {
	network := new(Network)
	err := s.db.NewSelect().
		Model(network).
		Where("network_id = ?", networkID).
		Where("active = TRUE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "network")
	}
	return network, nil
}

// Transaction loads the transaction a shop submitted with the given hash.
func (s *Store) Transaction(ctx context.Context, shopID int64, txHash string) (*Transaction, error) {
	tx := new(Transaction)
	err := s.db.NewSelect().
		Model(tx).
		Where("shop_id = ?", shopID).
		Where("tx_hash = ?", txHash).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, notFound(err, "transaction")
	}
	return tx, nil
}

// CreateTransaction inserts a transaction row.
func (s *Store) CreateTransaction(ctx context.Context, tx *Transaction) error {
	if tx.Status == "" {
		tx.Status = TxPending
	}
	tx.CreatedAt = time.Now()
	tx.UpdatedAt = tx.CreatedAt
	_, err := s.db.NewInsert().
		Model(tx).
		Returning("*").
		Exec(ctx)
	return errors.Wrap(err, "insert transaction")
}

// UpdateTransaction writes the given columns of tx.
func (s *Store) UpdateTransaction(ctx context.Context, tx *Transaction, columns ...string) error {
	tx.UpdatedAt = time.Now()
	q := s.db.NewUpdate().
		Model(tx).
		WherePK()
	if len(columns) > 0 {
		q = q.Column(append(columns, "updated_at")...)
	}
	_, err := q.Exec(ctx)
	return errors.Wrap(err, "update transaction")
}

// PendingDomains loads up to limit domains awaiting verification, most
// recently created first, with their shop.
func (s *Store) PendingDomains(ctx context.Context, limit int) ([]ShopDomain, error) {
	var domains []ShopDomain
	err := s.db.NewSelect().
		Model(&domains).
		Relation("Shop").
		Where("sd.status = ?", DomainPending).
		Order("sd.created_at DESC").
		Limit(limit).
		Scan(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load pending domains")
	}
	return domains, nil
}

// SetDomainStatus updates the verification state of a domain.
func (s *Store) SetDomainStatus(ctx context.Context, id int64, status DomainStatus) error {
	_, err := s.db.NewUpdate().
		Model((*ShopDomain)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", time.Now()).
		Where("id = ?", id).
		Exec(ctx)
	return errors.Wrap(err, "update domain status")
}

// ShopStats aggregates the orders and discounts of a shop since a time.
func (s *Store) ShopStats(ctx context.Context, shopID int64, since time.Time) (EtlShop, error) {
	stats := EtlShop{ShopID: shopID}
	err := s.db.NewSelect().
		Model((*Order)(nil)).
		ColumnExpr("count(*) AS orders").
		ColumnExpr("coalesce(sum(total), 0) AS revenue").
		Where("shop_id = ?", shopID).
		Where("created_at >= ?", since).
		Scan(ctx, &stats.Orders, &stats.Revenue)
	if err != nil {
		return stats, errors.Wrap(err, "aggregate orders")
	}
	discounts, err := s.db.NewSelect().
		Model((*Discount)(nil)).
		Where("shop_id = ?", shopID).
		Where("status = ?", "Active").
		Count(ctx)
	if err != nil {
		return stats, errors.Wrap(err, "count discounts")
	}
	stats.ActiveDiscounts = discounts
	return stats, nil
}

// CreateEtlJob inserts a running EtlJob.
func (s *Store) CreateEtlJob(ctx context.Context, job *EtlJob) error {
	_, err := s.db.NewInsert().
		Model(job).
		Returning("*").
		Exec(ctx)
	return errors.Wrap(err, "insert etl job")
}

// FinishEtlJob records the outcome of an EtlJob.
func (s *Store) FinishEtlJob(ctx context.Context, job *EtlJob) error {
	now := time.Now()
	job.FinishedAt = &now
	_, err := s.db.NewUpdate().
		Model(job).
		Column("status", "shops", "finished_at").
		WherePK().
		Exec(ctx)
	return errors.Wrap(err, "update etl job")
}

// CreateEtlShop inserts the output of one shop.
func (s *Store) CreateEtlShop(ctx context.Context, row *EtlShop) error {
	row.CreatedAt = time.Now()
	_, err := s.db.NewInsert().
		Model(row).
		Exec(ctx)
	return errors.Wrap(err, "insert etl shop")
}

// queryLoggingHook implements bun.QueryHook for query logging
type queryLoggingHook struct {
	logger log.Logger
}

func (h *queryLoggingHook) BeforeQuery(ctx context.Context, event *bun.QueryEvent) context.Context {
	return ctx
}

func (h *queryLoggingHook) AfterQuery(ctx context.Context, event *bun.QueryEvent) {
	if event.Err != nil && !errors.Is(event.Err, sql.ErrNoRows) {
		_ = level.Warn(h.logger).Log("msg", "query failed", "query", event.Query, "err", event.Err)
		return
	}
	_ = level.Debug(h.logger).Log("msg", "query", "query", event.Query, "duration", time.Since(event.StartTime))
}
