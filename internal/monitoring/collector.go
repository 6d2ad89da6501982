// Package monitoring turns run reports into health alerts for operators.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resale-arb/internal/model"
)

// Snapshot is the health view of one evaluation run.
type Snapshot struct {
	RunID             string             `json:"run_id"`
	FinishedAt        time.Time          `json:"finished_at"`
	Candidates        int                `json:"candidates"`
	Evaluated         int                `json:"evaluated"`
	Profitable        int                `json:"profitable"`
	Attempts          int                `json:"attempts"`
	Valid             int                `json:"valid"`
	HardFailures      int                `json:"hard_failures"`
	Timeouts          int                `json:"timeouts"`
	TimeoutRate       float64            `json:"timeout_rate"`
	SinkFailures      int                `json:"sink_failures"`
	DisabledProviders []model.ProviderID `json:"disabled_providers,omitempty"`
	CollectedAt       time.Time          `json:"collected_at"`
}

// FromReport builds a snapshot from a run report.
func FromReport(r model.RunReport) *Snapshot {
	snap := &Snapshot{
		RunID:             r.ID,
		FinishedAt:        r.FinishedAt,
		Candidates:        r.Candidates,
		Evaluated:         r.Evaluated,
		Profitable:        r.Profitable,
		SinkFailures:      r.SinkFailures,
		DisabledProviders: r.DisabledProviders,
		CollectedAt:       time.Now().UTC(),
	}
	for _, st := range r.Providers {
		snap.Attempts += st.Attempts
		snap.Valid += st.Valid
		snap.HardFailures += st.HardFailures
		snap.Timeouts += st.Timeouts
	}
	if snap.Attempts > 0 {
		snap.TimeoutRate = float64(snap.Timeouts) / float64(snap.Attempts)
	}
	return snap
}

// RunSource returns the most recent run report, or nil when there is none.
type RunSource interface {
	LastRun(ctx context.Context) (*model.RunReport, error)
}

// Collector reads the latest run from the store.
type Collector struct {
	src RunSource
}

// NewCollector creates a collector over src.
func NewCollector(src RunSource) *Collector {
	return &Collector{src: src}
}

// Collect returns a snapshot of the latest run, or nil when no run exists.
func (c *Collector) Collect(ctx context.Context) (*Snapshot, error) {
	r, err := c.src.LastRun(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: last run")
	}
	if r == nil {
		return nil, nil
	}
	return FromReport(*r), nil
}
