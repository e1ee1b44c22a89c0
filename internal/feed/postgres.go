package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/backtest-engine/internal/model"
)

// Postgres replays recorded events from the market_events table.
// Prices, volume and liquidity are stored as NUMERIC and read back as text
// so no precision is lost on the way into decimal.
type Postgres struct {
	pool *pgxpool.Pool
	from time.Time
	to   time.Time
}

// NewPostgres creates a replay feed over [from, to). A zero bound is open.
func NewPostgres(pool *pgxpool.Pool, from, to time.Time) *Postgres {
	return &Postgres{pool: pool, from: from, to: to}
}

const schema = `
CREATE TABLE IF NOT EXISTS market_events (
	id            BIGSERIAL PRIMARY KEY,
	instrument_id TEXT NOT NULL,
	question      TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	yes_price     NUMERIC(12,8) NOT NULL,
	no_price      NUMERIC(12,8) NOT NULL,
	volume        NUMERIC(24,8) NOT NULL,
	liquidity     NUMERIC(24,8) NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	resolution    TEXT CHECK (resolution IN ('YES', 'NO'))
);
CREATE INDEX IF NOT EXISTS market_events_ts_idx ON market_events (ts, id);`

// EnsureSchema creates the market_events table if it does not exist.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	if _, err := p.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create market_events: %w", err)
	}
	return nil
}

const selectEvents = `
SELECT instrument_id, question, category,
       yes_price::TEXT, no_price::TEXT, volume::TEXT, liquidity::TEXT,
       ts, resolution
FROM market_events
WHERE ($1::TIMESTAMPTZ IS NULL OR ts >= $1)
  AND ($2::TIMESTAMPTZ IS NULL OR ts < $2)
ORDER BY ts, id`

func (p *Postgres) Events(ctx context.Context) ([]model.MarketEvent, error) {
	rows, err := p.pool.Query(ctx, selectEvents, nullTime(p.from), nullTime(p.to))
	if err != nil {
		return nil, fmt.Errorf("query market events: %w", err)
	}
	defer rows.Close()

	var events []model.MarketEvent
	for rows.Next() {
		var (
			ev                         model.MarketEvent
			yes, no, volume, liquidity string
			resolution                 *string
		)
		if err := rows.Scan(&ev.InstrumentID, &ev.Question, &ev.Category,
			&yes, &no, &volume, &liquidity,
			&ev.Timestamp, &resolution); err != nil {
			return nil, err
		}
		if err := parseDecimals(
			decimalField{"yes_price", yes, &ev.YesPrice},
			decimalField{"no_price", no, &ev.NoPrice},
			decimalField{"volume", volume, &ev.Volume},
			decimalField{"liquidity", liquidity, &ev.Liquidity},
		); err != nil {
			return nil, fmt.Errorf("event %s at %s: %w", ev.InstrumentID, ev.Timestamp, err)
		}
		if resolution != nil {
			o := model.Outcome(*resolution)
			ev.Resolution = &o
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// Save inserts events in one batch, e.g. to persist a generated stream for
// later replay.
func (p *Postgres) Save(ctx context.Context, events []model.MarketEvent) error {
	batch := &pgx.Batch{}
	for _, ev := range events {
		var resolution *string
		if ev.Resolution != nil {
			r := string(*ev.Resolution)
			resolution = &r
		}
		batch.Queue(
			`INSERT INTO market_events (instrument_id, question, category, yes_price, no_price, volume, liquidity, ts, resolution)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC, $8, $9)`,
			ev.InstrumentID, ev.Question, ev.Category,
			ev.YesPrice.String(), ev.NoPrice.String(), ev.Volume.String(), ev.Liquidity.String(),
			ev.Timestamp, resolution,
		)
	}
	if err := p.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("save market events: %w", err)
	}
	return nil
}

type decimalField struct {
	name string
	raw  string
	dst  *decimal.Decimal
}

func parseDecimals(fields ...decimalField) error {
	for _, f := range fields {
		v, err := decimal.NewFromString(f.raw)
		if err != nil {
			return fmt.Errorf("parse %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return nil
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
