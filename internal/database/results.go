package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/maltedev/price-crawler/internal/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS crawl_results (
	id             BIGSERIAL PRIMARY KEY,
	run_id         TEXT        NOT NULL,
	phase          TEXT        NOT NULL,
	url            TEXT        NOT NULL,
	original_index INTEGER     NOT NULL,
	prod_id        TEXT,
	product_name   TEXT,
	price          INTEGER,
	origin_price   INTEGER,
	coupon         BOOLEAN     NOT NULL DEFAULT FALSE,
	coupon_price   INTEGER,
	ac_price       INTEGER,
	error          TEXT,
	extracted_at   TIMESTAMPTZ NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_crawl_results_run ON crawl_results (run_id);
CREATE INDEX IF NOT EXISTS idx_crawl_results_index ON crawl_results (original_index, extracted_at DESC);`

const insertResult = `
	INSERT INTO crawl_results (
		run_id, phase, url, original_index, prod_id, product_name,
		price, origin_price, coupon, coupon_price, ac_price, error, extracted_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

// ResultRepository mirrors saved results into Postgres.
type ResultRepository struct {
	db *DB
}

func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

func (r *ResultRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create crawl_results: %w", err)
	}
	return nil
}

// SaveResults inserts results in one batch inside a transaction.
func (r *ResultRepository) SaveResults(ctx context.Context, runID, phase string, results []*models.Result) error {
	if len(results) == 0 {
		return nil
	}
	batch := buildBatch(runID, phase, results)

	return r.db.WithTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for i := range results {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("failed to insert result %d (original index %d): %w", i, results[i].OriginalIndex, err)
			}
		}
		return br.Close()
	})
}

// LatestPrice returns the most recent successful price for an input row.
func (r *ResultRepository) LatestPrice(ctx context.Context, originalIndex int) (models.Price, time.Time, error) {
	var price *int32
	var at time.Time
	err := r.db.QueryRow(ctx, `
		SELECT price, extracted_at
		FROM crawl_results
		WHERE original_index = $1 AND (error IS NULL OR error = '')
		ORDER BY extracted_at DESC
		LIMIT 1`, originalIndex).Scan(&price, &at)
	if err != nil {
		return models.Price{}, time.Time{}, fmt.Errorf("failed to get latest price: %w", err)
	}
	if price == nil {
		return models.Price{}, at, nil
	}
	return models.PriceOf(int(*price)), at, nil
}

func buildBatch(runID, phase string, results []*models.Result) *pgx.Batch {
	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(insertResult,
			runID,
			phase,
			res.URL,
			res.OriginalIndex,
			nullable(res.ProdID),
			nullable(naToEmpty(res.ProductName)),
			priceArg(res.Price),
			priceArg(res.OriginPrice),
			res.Coupon,
			priceArg(res.CouponPrice),
			priceArg(res.ACPrice),
			nullable(res.Error),
			res.ExtractedAt,
		)
	}
	return batch
}

func priceArg(p models.Price) *int {
	if !p.Valid {
		return nil
	}
	v := p.Amount
	return &v
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func naToEmpty(s string) string {
	if s == models.NotAvailable {
		return ""
	}
	return s
}
