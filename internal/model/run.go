package model

import (
	"sort"
	"sync"
	"time"
)

// ProviderHealthState is the per-run health snapshot of one provider.
type ProviderHealthState struct {
	Provider        ProviderID `json:"provider"`
	ConsecutiveHard int        `json:"consecutive_hard"`
	HardTotal       int        `json:"hard_total"`
	Disabled        bool       `json:"disabled"`
	Successes       int        `json:"successes"`
	Total           int        `json:"total"`
	LastError       string     `json:"last_error,omitempty"`
}

// ProviderStats counts attempt outcomes for one provider in one run.
type ProviderStats struct {
	Attempts             int `json:"attempts"`
	Valid                int `json:"valid"`
	SoftFailures         int `json:"soft_failures"`
	HardFailures         int `json:"hard_failures"`
	Timeouts             int `json:"timeouts"`
	VerificationRejected int `json:"verification_rejected"`
	Skipped              int `json:"skipped"`
}

// RunReport summarizes one evaluation run.
type RunReport struct {
	ID                   string                       `json:"id"`
	StartedAt            time.Time                    `json:"started_at"`
	FinishedAt           time.Time                    `json:"finished_at"`
	Candidates           int                          `json:"candidates"`
	Groups               int                          `json:"groups"`
	Evaluated            int                          `json:"evaluated"`
	Profitable           int                          `json:"profitable"`
	DisabledProviders    []ProviderID                 `json:"disabled_providers,omitempty"`
	VerificationRejected int                          `json:"verification_rejected"`
	Timeouts             int                          `json:"timeouts"`
	SinkFailures         int                          `json:"sink_failures"`
	Providers            map[ProviderID]ProviderStats `json:"providers"`
	Health               []ProviderHealthState        `json:"health,omitempty"`
	Excluded             int                          `json:"excluded,omitempty"`
	Coverage             *CoverageReport              `json:"coverage,omitempty"`
}

// CoverageReport counts the decisions of a scan that carry a real quote from
// every required provider, and the refill rounds spent chasing the target.
type CoverageReport struct {
	Target            int          `json:"target"`
	Accepted          int          `json:"accepted"`
	Rejected          int          `json:"rejected"`
	RefillRounds      int          `json:"refill_rounds"`
	RefillCandidates  int          `json:"refill_candidates"`
	OptionalProviders []ProviderID `json:"optional_providers,omitempty"`
}

// RunStats accumulates per-provider counters from concurrent tasks.
type RunStats struct {
	mu        sync.Mutex
	providers map[ProviderID]*ProviderStats
	sinkFails int
}

// NewRunStats creates an empty accumulator.
func NewRunStats() *RunStats {
	return &RunStats{providers: make(map[ProviderID]*ProviderStats)}
}

// Record folds one attempt into the counters.
func (s *RunStats) Record(q Quote) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.get(q.Provider)
	st.Attempts++
	switch {
	case q.Valid():
		st.Valid++
	case q.Kind == KindTimeout:
		st.Timeouts++
		st.SoftFailures++
	case q.Kind == KindVerificationRejected:
		st.VerificationRejected++
		st.SoftFailures++
	case q.Kind.Hard():
		st.HardFailures++
	default:
		st.SoftFailures++
	}
}

// Skip records a provider skipped because its breaker was open.
func (s *RunStats) Skip(p ProviderID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.get(p).Skipped++
}

// SinkFailure counts one failed sink call.
func (s *RunStats) SinkFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinkFails++
}

func (s *RunStats) get(p ProviderID) *ProviderStats {
	st, ok := s.providers[p]
	if !ok {
		st = &ProviderStats{}
		s.providers[p] = st
	}
	return st
}

// Fill copies the counters into r.
func (s *RunStats) Fill(r *RunReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r.Providers = make(map[ProviderID]ProviderStats, len(s.providers))
	r.Timeouts = 0
	r.VerificationRejected = 0
	for id, st := range s.providers {
		r.Providers[id] = *st
		r.Timeouts += st.Timeouts
		r.VerificationRejected += st.VerificationRejected
	}
	r.SinkFailures = s.sinkFails
}

// SortProviders orders ids lexically for stable output.
func SortProviders(ids []ProviderID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}
