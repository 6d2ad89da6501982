// Package store persists decisions and run reports, and serves the decision
// history the candidate scorer learns from.
package store

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/resale-arb/internal/model"
)

// Store defines the persistence interface for evaluation runs.
type Store interface {
	// Decisions
	Persist(ctx context.Context, d model.Decision) error
	RecentRows(ctx context.Context, lookbackDays, limit int) ([]model.HistoryRow, error)
	RecentDecisions(ctx context.Context, limit int, minSpread float64) ([]model.Decision, error)
	NonProfitable(ctx context.Context, since time.Time, maxSpread float64, limit int) ([]model.Decision, error)

	// Runs
	SaveRun(ctx context.Context, r model.RunReport) error
	LastRun(ctx context.Context) (*model.RunReport, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Default row limits when the caller passes a non-positive limit.
const (
	DefaultRecentLimit        = 20
	DefaultNonProfitableLimit = 1500
)

// record is the flattened form of a decision shared by both backends.
type record struct {
	ID             string
	NormalizedName string
	Category       string
	Title          string
	Price          float64
	BestProvider   string
	BestOffer      *float64
	NetSpread      *float64
	Notify         bool
	Profile        string
	Outcomes       []byte
	Payload        []byte
	CreatedAt      time.Time
}

func toRecord(d model.Decision) (record, error) {
	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	d.CreatedAt = d.CreatedAt.UTC()

	outcomes, err := json.Marshal(model.Outcomes(d.Quotes))
	if err != nil {
		return record{}, eris.Wrap(err, "store: marshal outcomes")
	}
	payload, err := json.Marshal(d)
	if err != nil {
		return record{}, eris.Wrap(err, "store: marshal decision")
	}

	r := record{
		ID:             d.ID,
		NormalizedName: strings.TrimSpace(d.NormalizedName),
		Category:       string(d.Candidate.Category),
		Title:          d.Candidate.Title,
		Price:          d.Candidate.Price.InexactFloat64(),
		Notify:         d.Notify,
		Profile:        d.Profile,
		Outcomes:       outcomes,
		Payload:        payload,
		CreatedAt:      d.CreatedAt,
	}
	if d.Best != nil {
		r.BestProvider = string(d.Best.Provider)
	}
	if off := d.BestOffer(); off != nil {
		v := off.InexactFloat64()
		r.BestOffer = &v
	}
	if d.NetSpread != nil {
		v := d.NetSpread.InexactFloat64()
		r.NetSpread = &v
	}
	return r, nil
}

func historyRow(name, category string, bestOffer, spread *float64, outcomes []byte, createdAt time.Time) (model.HistoryRow, error) {
	row := model.HistoryRow{
		NormalizedName: name,
		Category:       model.Category(category),
		BestOffer:      bestOffer,
		Spread:         spread,
		CreatedAt:      createdAt,
	}
	if len(outcomes) > 0 {
		if err := json.Unmarshal(outcomes, &row.Outcomes); err != nil {
			return row, eris.Wrap(err, "store: unmarshal outcomes")
		}
	}
	return row, nil
}

func decodeDecision(payload []byte) (model.Decision, error) {
	var d model.Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return d, eris.Wrap(err, "store: unmarshal decision")
	}
	return d, nil
}

func lookbackCutoff(days int) time.Time {
	if days <= 0 {
		days = 30
	}
	return time.Now().UTC().AddDate(0, 0, -days)
}
