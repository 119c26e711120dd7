package repository

import (
	"context"
	"time"

	"coinlens/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/trace"
)

const createHistoryTables = `
CREATE TABLE IF NOT EXISTS quote_history (
    symbol         TEXT        NOT NULL,
    captured_at    TIMESTAMPTZ NOT NULL,
    price_usd      NUMERIC     NOT NULL,
    change_24h_pct NUMERIC,
    volume_24h     NUMERIC,
    market_cap_usd NUMERIC,
    rank           INT,
    source         TEXT        NOT NULL,
    PRIMARY KEY (symbol, captured_at)
);

CREATE INDEX IF NOT EXISTS idx_quote_history_symbol_time
    ON quote_history (symbol, captured_at DESC);

CREATE TABLE IF NOT EXISTS feargreed_history (
    bucket_time    TIMESTAMPTZ NOT NULL PRIMARY KEY,
    value          INT         NOT NULL,
    classification TEXT        NOT NULL
);

CREATE TABLE IF NOT EXISTS candles (
    symbol      TEXT        NOT NULL,
    interval    TEXT        NOT NULL,
    open_time   TIMESTAMPTZ NOT NULL,
    open        NUMERIC     NOT NULL,
    high        NUMERIC     NOT NULL,
    low         NUMERIC     NOT NULL,
    close       NUMERIC     NOT NULL,
    volume      NUMERIC     NOT NULL,
    PRIMARY KEY (symbol, interval, open_time)
);

CREATE INDEX IF NOT EXISTS idx_candles_symbol_interval_time
    ON candles (symbol, interval, open_time DESC);
`

type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// HistoryRepository persists fetched market data so the service keeps a
// record across restarts and cache expiry.
type HistoryRepository struct {
	pool   PgxPool
	tracer trace.Tracer
}

func NewHistoryRepository(pool PgxPool, tracer trace.Tracer) *HistoryRepository {
	return &HistoryRepository{pool: pool, tracer: tracer}
}

func (r *HistoryRepository) RunMigrations(ctx context.Context) error {
	_, span := r.tracer.Start(ctx, "history-repo.run-migrations")
	defer span.End()

	_, err := r.pool.Exec(ctx, createHistoryTables)
	return err
}

func (r *HistoryRepository) InsertQuote(ctx context.Context, q *domain.Quote, source string, capturedAt time.Time) error {
	_, span := r.tracer.Start(ctx, "history-repo.insert-quote")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO quote_history (symbol, captured_at, price_usd, change_24h_pct, volume_24h, market_cap_usd, rank, source)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (symbol, captured_at) DO UPDATE SET
		     price_usd = EXCLUDED.price_usd,
		     change_24h_pct = EXCLUDED.change_24h_pct,
		     volume_24h = EXCLUDED.volume_24h,
		     market_cap_usd = EXCLUDED.market_cap_usd,
		     rank = EXCLUDED.rank,
		     source = EXCLUDED.source`,
		q.Symbol, capturedAt.UTC().Truncate(time.Minute), q.PriceUSD, q.Change24hPct, q.Volume24h, q.MarketCapUSD, q.Rank, source,
	)
	return err
}

func (r *HistoryRepository) RecentQuotes(ctx context.Context, symbol string, limit int) ([]*domain.Quote, error) {
	_, span := r.tracer.Start(ctx, "history-repo.recent-quotes")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, captured_at, price_usd, change_24h_pct, volume_24h, market_cap_usd, rank
		 FROM quote_history
		 WHERE symbol = $1
		 ORDER BY captured_at DESC
		 LIMIT $2`,
		symbol, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var quotes []*domain.Quote
	for rows.Next() {
		q := &domain.Quote{}
		var capturedAt time.Time
		if err := rows.Scan(&q.Symbol, &capturedAt, &q.PriceUSD, &q.Change24hPct, &q.Volume24h, &q.MarketCapUSD, &q.Rank); err != nil {
			return nil, err
		}
		q.LastUpdatedUnix = capturedAt.Unix()
		quotes = append(quotes, q)
	}
	return quotes, rows.Err()
}

func (r *HistoryRepository) InsertFearGreed(ctx context.Context, point *domain.FearGreedPoint) error {
	_, span := r.tracer.Start(ctx, "history-repo.insert-feargreed")
	defer span.End()

	_, err := r.pool.Exec(ctx,
		`INSERT INTO feargreed_history (bucket_time, value, classification)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (bucket_time) DO UPDATE SET
		     value = EXCLUDED.value,
		     classification = EXCLUDED.classification`,
		point.Timestamp.UTC().Truncate(time.Hour), point.Value, point.Classification,
	)
	return err
}

func (r *HistoryRepository) RecentFearGreed(ctx context.Context, limit int) ([]*domain.FearGreedPoint, error) {
	_, span := r.tracer.Start(ctx, "history-repo.recent-feargreed")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT bucket_time, value, classification
		 FROM feargreed_history
		 ORDER BY bucket_time DESC
		 LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var points []*domain.FearGreedPoint
	for rows.Next() {
		p := &domain.FearGreedPoint{}
		if err := rows.Scan(&p.Timestamp, &p.Value, &p.Classification); err != nil {
			return nil, err
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

func (r *HistoryRepository) UpsertCandles(ctx context.Context, candles []*domain.Candle) error {
	if len(candles) == 0 {
		return nil
	}

	_, span := r.tracer.Start(ctx, "history-repo.upsert-candles")
	defer span.End()

	batch := &pgx.Batch{}
	for _, c := range candles {
		batch.Queue(
			`INSERT INTO candles (symbol, interval, open_time, open, high, low, close, volume)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (symbol, interval, open_time) DO UPDATE SET
			     open = EXCLUDED.open,
			     high = EXCLUDED.high,
			     low = EXCLUDED.low,
			     close = EXCLUDED.close,
			     volume = EXCLUDED.volume`,
			c.Symbol, c.Interval, c.OpenTime, c.Open, c.High, c.Low, c.Close, c.Volume,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range candles {
		if _, err := br.Exec(); err != nil {
			return err
		}
	}
	return nil
}

func (r *HistoryRepository) GetCandles(ctx context.Context, symbol, interval string, limit int) ([]*domain.Candle, error) {
	_, span := r.tracer.Start(ctx, "history-repo.get-candles")
	defer span.End()

	rows, err := r.pool.Query(ctx,
		`SELECT symbol, interval, open_time, open, high, low, close, volume
		 FROM candles
		 WHERE symbol = $1 AND interval = $2
		 ORDER BY open_time DESC
		 LIMIT $3`,
		symbol, interval, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var candles []*domain.Candle
	for rows.Next() {
		c := &domain.Candle{}
		if err := rows.Scan(&c.Symbol, &c.Interval, &c.OpenTime, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, err
		}
		candles = append(candles, c)
	}
	return candles, rows.Err()
}
