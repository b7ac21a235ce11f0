// Package pgstore persists spread samples in PostgreSQL for windowed queries.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fushengyk/spreadscan/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS spread_history (
	id             BIGSERIAL PRIMARY KEY,
	symbol         TEXT             NOT NULL,
	exchange_buy   TEXT             NOT NULL,
	exchange_sell  TEXT             NOT NULL,
	direction      TEXT             NOT NULL,
	spread_percent DOUBLE PRECISION NOT NULL,
	recorded_at    TIMESTAMPTZ      NOT NULL
);
CREATE INDEX IF NOT EXISTS spread_history_lookup
	ON spread_history (symbol, exchange_buy, exchange_sell, direction, recorded_at);
`

// HistoryStore reads and writes spread_history
type HistoryStore struct {
	db     *pgxpool.Pool
	logger *zap.SugaredLogger
}

// NewHistoryStore wraps an open pool
func NewHistoryStore(db *pgxpool.Pool, logger *zap.SugaredLogger) *HistoryStore {
	return &HistoryStore{db: db, logger: logger}
}

// Connect opens a pool and verifies it
func Connect(ctx context.Context, url string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return pool, nil
}

// EnsureSchema creates the table and index when missing
func (s *HistoryStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Record inserts samples in one batch
func (s *HistoryStore) Record(ctx context.Context, samples []domain.SpreadSample) error {
	if len(samples) == 0 {
		return nil
	}

	query := `
		INSERT INTO spread_history (symbol, exchange_buy, exchange_sell, direction, spread_percent, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	batch := &pgx.Batch{}
	for _, sm := range samples {
		batch.Queue(query, sm.Symbol, sm.ExchangeBuy, sm.ExchangeSell, string(sm.Direction), sm.SpreadPercent, sm.RecordedAt)
	}

	if err := s.db.SendBatch(ctx, batch).Close(); err != nil {
		s.logger.Errorf("Failed to record %d samples: %v", len(samples), err)
		return err
	}
	return nil
}

// Samples returns matching samples, newest first
func (s *HistoryStore) Samples(ctx context.Context, q domain.SampleQuery) ([]domain.SpreadSample, error) {
	query := `
		SELECT symbol, exchange_buy, exchange_sell, direction, spread_percent, recorded_at
		FROM spread_history
		WHERE symbol = $1 AND exchange_buy = $2 AND exchange_sell = $3 AND direction = $4 AND recorded_at >= $5
		ORDER BY recorded_at DESC
	`

	rows, err := s.db.Query(ctx, query, q.Symbol, q.ExchangeBuy, q.ExchangeSell, string(q.Direction), q.Since)
	if err != nil {
		return nil, err
	}
	return collectSamples(rows)
}

// collectSamples drains rows and stops at the first scan error
func collectSamples(rows pgx.Rows) ([]domain.SpreadSample, error) {
	samples, err := pgx.CollectRows(rows, scanSample)
	if err != nil {
		return nil, fmt.Errorf("scan samples: %w", err)
	}
	return samples, nil
}

func scanSample(row pgx.CollectableRow) (domain.SpreadSample, error) {
	var sm domain.SpreadSample
	var dir string
	err := row.Scan(&sm.Symbol, &sm.ExchangeBuy, &sm.ExchangeSell, &dir, &sm.SpreadPercent, &sm.RecordedAt)
	sm.Direction = domain.Direction(dir)
	return sm, err
}

// ErrNoSamples is returned by Average when nothing matches
var ErrNoSamples = errors.New("no samples in window")

// Average returns the mean spread and the sample count for the query
func (s *HistoryStore) Average(ctx context.Context, q domain.SampleQuery) (float64, int64, error) {
	query := `
		SELECT COALESCE(AVG(spread_percent), 0), COUNT(*)
		FROM spread_history
		WHERE symbol = $1 AND exchange_buy = $2 AND exchange_sell = $3 AND direction = $4 AND recorded_at >= $5
	`

	var avg float64
	var n int64
	err := s.db.QueryRow(ctx, query, q.Symbol, q.ExchangeBuy, q.ExchangeSell, string(q.Direction), q.Since).Scan(&avg, &n)
	if err != nil {
		return 0, 0, err
	}
	if n == 0 {
		return 0, 0, ErrNoSamples
	}
	return avg, n, nil
}

// Prune deletes samples recorded before the cutoff
func (s *HistoryStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM spread_history WHERE recorded_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Ping reports whether the database is reachable
func (s *HistoryStore) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}
