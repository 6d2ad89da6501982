package model

import (
	"maps"

	"github.com/shopspring/decimal"
)

// ProviderID identifies a valuation provider.
type ProviderID string

const (
	ProviderMPB         ProviderID = "mpb"
	ProviderRebuy       ProviderID = "rebuy"
	ProviderTrendDevice ProviderID = "trenddevice"
)

// FailureKind classifies why a quote carries no usable offer. Only hard kinds
// count toward a provider's circuit breaker.
type FailureKind string

const (
	KindNone                 FailureKind = ""
	KindNotFound             FailureKind = "not_found"
	KindLowConfidence        FailureKind = "low_confidence"
	KindElementMissing       FailureKind = "element_missing"
	KindNavigation           FailureKind = "navigation"
	KindNetwork              FailureKind = "network"
	KindTimeout              FailureKind = "timeout"
	KindException            FailureKind = "exception"
	KindVerificationRejected FailureKind = "verification_rejected"
	KindSessionInvalid       FailureKind = "session_invalid"
	KindAntiBot              FailureKind = "anti_bot"
)

// Hard reports whether the failure means the provider itself is unusable for
// the rest of the run (blocked, logged out) rather than the item being hard
// to price.
func (k FailureKind) Hard() bool {
	return k == KindSessionInvalid || k == KindAntiBot
}

// Quote is one valuation attempt result. A failed attempt is still a Quote:
// Error and Kind describe the failure and Offer is nil.
type Quote struct {
	Provider    ProviderID       `json:"provider"`
	Offer       *decimal.Decimal `json:"offer,omitempty"`
	Currency    string           `json:"currency"`
	Condition   string           `json:"condition,omitempty"`
	SourceURL   string           `json:"source_url,omitempty"`
	Raw         map[string]any   `json:"raw,omitempty"`
	Error       string           `json:"error,omitempty"`
	Kind        FailureKind      `json:"kind,omitempty"`
	Query       string           `json:"query,omitempty"`
	Attempt     int              `json:"attempt,omitempty"`
	MaxAttempts int              `json:"max_attempts,omitempty"`
	Verified    bool             `json:"verified,omitempty"`
}

// Valid reports whether the quote carries a usable offer.
func (q Quote) Valid() bool {
	return q.Error == "" && q.Offer != nil && q.Offer.IsPositive()
}

// Clone returns a copy whose Offer and Raw are not shared with q.
func (q Quote) Clone() Quote {
	out := q
	if q.Offer != nil {
		v := *q.Offer
		out.Offer = &v
	}
	if q.Raw != nil {
		out.Raw = maps.Clone(q.Raw)
	}
	return out
}

// Failed builds a failure quote for provider.
func Failed(provider ProviderID, kind FailureKind, msg string) Quote {
	return Quote{
		Provider: provider,
		Currency: "EUR",
		Error:    msg,
		Kind:     kind,
	}
}

// Offered builds a successful quote for provider.
func Offered(provider ProviderID, offer decimal.Decimal, sourceURL string, raw map[string]any) Quote {
	return Quote{
		Provider:  provider,
		Offer:     &offer,
		Currency:  "EUR",
		SourceURL: sourceURL,
		Raw:       raw,
	}
}
