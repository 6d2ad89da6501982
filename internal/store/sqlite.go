package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/resale-arb/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS decisions (
	id              TEXT PRIMARY KEY,
	normalized_name TEXT NOT NULL,
	category        TEXT NOT NULL,
	title           TEXT NOT NULL,
	price           REAL NOT NULL,
	best_provider   TEXT,
	best_offer      REAL,
	net_spread      REAL,
	notify          INTEGER NOT NULL DEFAULT 0,
	profile         TEXT NOT NULL,
	outcomes        TEXT NOT NULL,
	payload         TEXT NOT NULL,
	created_at      DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME NOT NULL,
	report      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_decisions_created_at ON decisions(created_at);
CREATE INDEX IF NOT EXISTS idx_decisions_net_spread ON decisions(net_spread);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Persist inserts d, replacing any earlier row with the same ID.
func (s *SQLiteStore) Persist(ctx context.Context, d model.Decision) error {
	r, err := toRecord(d)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO decisions (id, normalized_name, category, title, price, best_provider, best_offer, net_spread, notify, profile, outcomes, payload, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
			best_provider = excluded.best_provider,
			best_offer = excluded.best_offer,
			net_spread = excluded.net_spread,
			notify = excluded.notify,
			outcomes = excluded.outcomes,
			payload = excluded.payload`,
		r.ID, r.NormalizedName, r.Category, r.Title, r.Price, nullString(r.BestProvider),
		r.BestOffer, r.NetSpread, r.Notify, r.Profile, string(r.Outcomes), string(r.Payload), r.CreatedAt,
	)
	return eris.Wrapf(err, "sqlite: insert decision %s", r.ID)
}

// RecentRows returns decisions from the last lookbackDays, newest first.
func (s *SQLiteStore) RecentRows(ctx context.Context, lookbackDays, limit int) ([]model.HistoryRow, error) {
	if limit <= 0 {
		limit = 2000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT normalized_name, category, best_offer, net_spread, outcomes, created_at
		 FROM decisions WHERE created_at >= ? ORDER BY created_at DESC LIMIT ?`,
		lookbackCutoff(lookbackDays), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query history")
	}
	defer rows.Close()

	var out []model.HistoryRow
	for rows.Next() {
		var (
			name, category, outcomes string
			bestOffer, spread        sql.NullFloat64
			createdAt                time.Time
		)
		if err := rows.Scan(&name, &category, &bestOffer, &spread, &outcomes, &createdAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan history")
		}
		row, err := historyRow(name, category, floatPtr(bestOffer), floatPtr(spread), []byte(outcomes), createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate history")
}

// RecentDecisions returns the newest decisions whose net spread is at least
// minSpread.
func (s *SQLiteStore) RecentDecisions(ctx context.Context, limit int, minSpread float64) ([]model.Decision, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM decisions
		 WHERE net_spread IS NOT NULL AND net_spread >= ?
		 ORDER BY created_at DESC LIMIT ?`,
		minSpread, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query decisions")
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		d, err := decodeDecision([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate decisions")
}

// NonProfitable returns decisions made since since whose net spread did not
// exceed maxSpread, newest first.
func (s *SQLiteStore) NonProfitable(ctx context.Context, since time.Time, maxSpread float64, limit int) ([]model.Decision, error) {
	if limit <= 0 {
		limit = DefaultNonProfitableLimit
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM decisions
		 WHERE net_spread IS NOT NULL AND net_spread <= ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT ?`,
		maxSpread, since.UTC(), limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query non-profitable")
	}
	defer rows.Close()

	var out []model.Decision
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan decision")
		}
		d, err := decodeDecision([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: iterate non-profitable")
}

// SaveRun stores a run report.
func (s *SQLiteStore) SaveRun(ctx context.Context, r model.RunReport) error {
	report, err := json.Marshal(r)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal run")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs (id, started_at, finished_at, report) VALUES (?, ?, ?, ?)`,
		r.ID, r.StartedAt.UTC(), r.FinishedAt.UTC(), string(report),
	)
	return eris.Wrapf(err, "sqlite: insert run %s", r.ID)
}

// LastRun returns the most recently started run, or nil when none exists.
func (s *SQLiteStore) LastRun(ctx context.Context) (*model.RunReport, error) {
	var report string
	err := s.db.QueryRowContext(ctx,
		`SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`,
	).Scan(&report)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get last run")
	}
	var r model.RunReport
	if err := json.Unmarshal([]byte(report), &r); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal run")
	}
	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
