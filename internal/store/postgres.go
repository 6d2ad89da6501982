package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/resale-arb/internal/db"
	"github.com/sells-group/resale-arb/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	insertDecisionSQL = `INSERT INTO decisions (id, normalized_name, category, title, price, best_provider, best_offer, net_spread, notify, profile, outcomes, payload, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			best_provider = EXCLUDED.best_provider,
			best_offer = EXCLUDED.best_offer,
			net_spread = EXCLUDED.net_spread,
			notify = EXCLUDED.notify,
			outcomes = EXCLUDED.outcomes,
			payload = EXCLUDED.payload`
	recentRowsSQL = `SELECT normalized_name, category, best_offer, net_spread, outcomes, created_at
		FROM decisions WHERE created_at >= $1 ORDER BY created_at DESC LIMIT $2`
	recentDecisionsSQL = `SELECT payload FROM decisions
		WHERE net_spread IS NOT NULL AND net_spread >= $1
		ORDER BY created_at DESC LIMIT $2`
	nonProfitableSQL = `SELECT payload FROM decisions
		WHERE net_spread IS NOT NULL AND net_spread <= $1 AND created_at >= $2
		ORDER BY created_at DESC LIMIT $3`
	insertRunSQL = `INSERT INTO runs (id, started_at, finished_at, report) VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET finished_at = EXCLUDED.finished_at, report = EXCLUDED.report`
	lastRunSQL = `SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`
)

// preparedStatements lists queries to prepare on each new connection.
var preparedStatements = map[string]string{
	"insert_decision":  insertDecisionSQL,
	"recent_rows":      recentRowsSQL,
	"recent_decisions": recentDecisionsSQL,
	"non_profitable":   nonProfitableSQL,
	"insert_run":       insertRunSQL,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(5)
	minConns := int32(1)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS decisions (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	normalized_name TEXT NOT NULL,
	category        TEXT NOT NULL,
	title           TEXT NOT NULL,
	price           DOUBLE PRECISION NOT NULL,
	best_provider   TEXT,
	best_offer      DOUBLE PRECISION,
	net_spread      DOUBLE PRECISION,
	notify          BOOLEAN NOT NULL DEFAULT false,
	profile         TEXT NOT NULL,
	outcomes        JSONB NOT NULL,
	payload         JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	report      JSONB NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at DESC);
CREATE INDEX IF NOT EXISTS idx_decisions_net_spread ON decisions(net_spread) WHERE net_spread IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// Persist upserts d by ID.
func (s *PostgresStore) Persist(ctx context.Context, d model.Decision) error {
	r, err := toRecord(d)
	if err != nil {
		return err
	}
	var bestProvider *string
	if r.BestProvider != "" {
		bestProvider = &r.BestProvider
	}
	_, err = s.pool.Exec(ctx, insertDecisionSQL,
		r.ID, r.NormalizedName, r.Category, r.Title, r.Price, bestProvider,
		r.BestOffer, r.NetSpread, r.Notify, r.Profile, r.Outcomes, r.Payload, r.CreatedAt,
	)
	return eris.Wrapf(err, "postgres: insert decision %s", r.ID)
}

// RecentRows returns decisions from the last lookbackDays, newest first.
func (s *PostgresStore) RecentRows(ctx context.Context, lookbackDays, limit int) ([]model.HistoryRow, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := s.pool.Query(ctx, recentRowsSQL, lookbackCutoff(lookbackDays), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query history")
	}
	out, err := db.CollectRows(rows, func(row pgx.Rows) (model.HistoryRow, error) {
		var (
			name, category    string
			bestOffer, spread *float64
			outcomes          []byte
			createdAt         time.Time
		)
		if err := row.Scan(&name, &category, &bestOffer, &spread, &outcomes, &createdAt); err != nil {
			return model.HistoryRow{}, eris.Wrap(err, "postgres: scan history")
		}
		return historyRow(name, category, bestOffer, spread, outcomes, createdAt)
	})
	return out, eris.Wrap(err, "postgres: recent rows")
}

// RecentDecisions returns the newest decisions whose net spread is at least
// minSpread.
func (s *PostgresStore) RecentDecisions(ctx context.Context, limit int, minSpread float64) ([]model.Decision, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.pool.Query(ctx, recentDecisionsSQL, minSpread, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query decisions")
	}
	out, err := db.CollectRows(rows, func(row pgx.Rows) (model.Decision, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return model.Decision{}, eris.Wrap(err, "postgres: scan decision")
		}
		return decodeDecision(payload)
	})
	return out, eris.Wrap(err, "postgres: recent decisions")
}

// NonProfitable returns decisions made since since whose net spread did not
// exceed maxSpread, newest first.
func (s *PostgresStore) NonProfitable(ctx context.Context, since time.Time, maxSpread float64, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = DefaultNonProfitableLimit
	}
	rows, err := s.pool.Query(ctx, nonProfitableSQL, maxSpread, since.UTC(), limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query non-profitable")
	}
	out, err := db.CollectRows(rows, func(row pgx.Rows) (model.Decision, error) {
		var payload []byte
		if err := row.Scan(&payload); err != nil {
			return model.Decision{}, eris.Wrap(err, "postgres: scan decision")
		}
		return decodeDecision(payload)
	})
	return out, eris.Wrap(err, "postgres: non-profitable decisions")
}

// SaveRun upserts a run report.
func (s *PostgresStore) SaveRun(ctx context.Context, r model.RunReport) error {
	report, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal run")
	}
	_, err = s.pool.Exec(ctx, insertRunSQL, r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), report)
	return eris.Wrapf(err, "postgres: insert run %s", r.ID)
}

// LastRun returns the most recently started run, or nil when none exists.
func (s *PostgresStore) LastRun(ctx context.Context) (*model.RunReport, error) {
	var report []byte
	err := s.pool.QueryRow(ctx, lastRunSQL).Scan(&report)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get last run")
	}
	var r model.RunReport
	if err := json.Unmarshal(report, &r); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal run")
	}
	return &r, nil
}
