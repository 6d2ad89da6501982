package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// AIUsage records how the normalized name for a candidate was produced.
type AIUsage struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
	Mode     string `json:"mode"` // live, cache, fallback
	Used     bool   `json:"used"`
}

// Normalization modes.
const (
	ModeLive     = "live"
	ModeCache    = "cache"
	ModeFallback = "fallback"
)

// Decision is the per-candidate outcome of an evaluation run.
type Decision struct {
	ID             string           `json:"id"`
	Candidate      Candidate        `json:"candidate"`
	NormalizedName string           `json:"normalized_name"`
	Quotes         []Quote          `json:"quotes"`
	Best           *Quote           `json:"best,omitempty"`
	GrossSpread    *decimal.Decimal `json:"gross_spread,omitempty"`
	OperatingCost  *decimal.Decimal `json:"operating_cost,omitempty"`
	RiskBuffer     *decimal.Decimal `json:"risk_buffer,omitempty"`
	NetSpread      *decimal.Decimal `json:"net_spread,omitempty"`
	Profile        string           `json:"profile"`
	Threshold      decimal.Decimal  `json:"threshold"`
	Notify         bool             `json:"notify"`
	AI             AIUsage          `json:"ai"`
	CreatedAt      time.Time        `json:"created_at"`
}

// BestOffer returns the best quote's offer, or nil.
func (d Decision) BestOffer() *decimal.Decimal {
	if d.Best == nil {
		return nil
	}
	return d.Best.Offer
}

// ProviderOutcome is the compact per-provider result kept in history rows.
type ProviderOutcome struct {
	Provider ProviderID `json:"provider"`
	Valid    bool       `json:"valid"`
	Error    string     `json:"error,omitempty"`
}

// HistoryRow is one past decision as seen by the candidate scorer.
type HistoryRow struct {
	NormalizedName string            `json:"normalized_name"`
	Category       Category          `json:"category"`
	BestOffer      *float64          `json:"best_offer,omitempty"`
	Spread         *float64          `json:"spread,omitempty"`
	Outcomes       []ProviderOutcome `json:"outcomes,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
}

// Outcomes summarizes quotes into history outcomes.
func Outcomes(quotes []Quote) []ProviderOutcome {
	out := make([]ProviderOutcome, 0, len(quotes))
	for _, q := range quotes {
		out = append(out, ProviderOutcome{
			Provider: q.Provider,
			Valid:    q.Valid(),
			Error:    q.Error,
		})
	}
	return out
}
