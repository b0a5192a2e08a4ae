package sink

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pricewatchbd/crawler/internal/record"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ProductStoreConfig controls the Postgres pool used for product rows.
type ProductStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// ProductStore mirrors validated product records into Postgres so the
// price-tracking jobs downstream can query them without parsing exports.
type ProductStore struct {
	pool  execCloser
	table string
}

// NewProductStore connects a Postgres-backed ProductStore.
func NewProductStore(ctx context.Context, cfg ProductStoreConfig) (*ProductStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
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
	return &ProductStore{pool: pool, table: table}, nil
}

// NewProductStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewProductStoreWithPool(pool execCloser, table string) (*ProductStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "products"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &ProductStore{pool: pool, table: table}, nil
}

// StoreProduct inserts one product row. The run identifier groups rows by
// crawl invocation; specifications serialize as JSONB with null for the
// absent sentinel, matching the file sink's shape.
func (s *ProductStore) StoreProduct(ctx context.Context, runID string, scrapedAt time.Time, p record.Product) error {
	specs, err := json.Marshal(p.Specifications)
	if err != nil {
		return fmt.Errorf("marshal specifications: %w", err)
	}
	features, err := json.Marshal(p.KeyFeatures)
	if err != nil {
		return fmt.Errorf("marshal key features: %w", err)
	}
	images, err := json.Marshal(p.ImageURLs)
	if err != nil {
		return fmt.Errorf("marshal image urls: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(run_id, scraped_at, url, name, category, brand, product_code,
		 price, regular_price, availability, specifications, key_features, image_urls)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		runID,
		scrapedAt,
		p.URL,
		p.Name,
		p.Category,
		p.Brand,
		p.ProductCode,
		p.Price,
		p.RegularPrice,
		string(p.Availability),
		specs,
		features,
		images,
	); err != nil {
		return fmt.Errorf("insert product row: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *ProductStore) Close() {
	s.pool.Close()
}
