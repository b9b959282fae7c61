// Package postgres provides Postgres-backed persistence for observations
// and crawl logs. All three tables are append-only; corrections arrive as
// new rows.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pricesense/price-crawler/internal/core"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// StoreConfig controls the Postgres connection pool and table names.
type StoreConfig struct {
	DSN             string
	PriceTable      string
	StockTable      string
	LogTable        string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// PgxPool is the pool surface the store needs; pgxpool.Pool and pgxmock
// both satisfy it.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

// Store writes observation and log rows into Postgres.
type Store struct {
	pool       PgxPool
	priceTable string
	stockTable string
	logTable   string
}

// NewStore creates a Postgres-backed Store using the provided config.
func NewStore(ctx context.Context, cfg StoreConfig) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStoreWithPool(pool, cfg)
}

// NewStoreWithPool constructs a Store from an existing pool (primarily for
// testing).
func NewStoreWithPool(pool PgxPool, cfg StoreConfig) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	s := &Store{
		pool:       pool,
		priceTable: defaultTable(cfg.PriceTable, "price_history"),
		stockTable: defaultTable(cfg.StockTable, "stock_history"),
		logTable:   defaultTable(cfg.LogTable, "product_scrape_logs"),
	}
	for _, table := range []string{s.priceTable, s.stockTable, s.logTable} {
		if !validTableName.MatchString(table) {
			return nil, fmt.Errorf("invalid table name %q", table)
		}
	}
	return s, nil
}

func defaultTable(name, fallback string) string {
	if name == "" {
		return fallback
	}
	return name
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping postgres: %w", err)
	}
	return nil
}

// FlushBatch commits all pending writes in one transaction: a price row, a
// stock row and the success log row per write. All-or-nothing; on error the
// transaction rolls back and no row from the batch is visible.
func (s *Store) FlushBatch(ctx context.Context, writes []core.PendingWrite) error {
	if len(writes) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin batch tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	batch := &pgx.Batch{}
	for _, w := range writes {
		obs := w.Observation
		batch.Queue(
			fmt.Sprintf(`INSERT INTO %s (id, product_id, price, discount_rate, promotion_info, confidence_score, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.priceTable),
			uuid.New().String(), obs.ProductID, obs.Price, obs.DiscountRate,
			obs.PromotionInfo, obs.ConfidenceScore, obs.RecordedAt,
		)
		batch.Queue(
			fmt.Sprintf(`INSERT INTO %s (id, product_id, stock_status, stock_quantity, confidence_score, recorded_at)
VALUES ($1,$2,$3,$4,$5,$6)`, s.stockTable),
			uuid.New().String(), obs.ProductID, string(obs.StockStatus),
			obs.StockQuantity, obs.ConfidenceScore, obs.RecordedAt,
		)
		batch.Queue(
			fmt.Sprintf(`INSERT INTO %s (id, product_id, platform, status, error_message, execution_time_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.logTable),
			uuid.New().String(), w.Log.ProductID, string(w.Log.Platform),
			string(w.Log.Status), w.Log.ErrorMessage, w.Log.ExecutionTimeMS, w.Log.CreatedAt,
		)
	}

	results := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := results.Exec(); err != nil {
			_ = results.Close()
			return fmt.Errorf("batch insert %d: %w", i, err)
		}
	}
	if err := results.Close(); err != nil {
		return fmt.Errorf("close batch results: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit batch tx: %w", err)
	}
	return nil
}

// InsertLog writes a single crawl log row outside the batch path. Used for
// partial and failed attempts so their visibility does not wait on price
// batching.
func (s *Store) InsertLog(ctx context.Context, entry core.CrawlLogEntry) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, product_id, platform, status, error_message, execution_time_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)`, s.logTable)
	if _, err := s.pool.Exec(ctx, query,
		uuid.New().String(), entry.ProductID, string(entry.Platform),
		string(entry.Status), entry.ErrorMessage, entry.ExecutionTimeMS, entry.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert crawl log: %w", err)
	}
	return nil
}
