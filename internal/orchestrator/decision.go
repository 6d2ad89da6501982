package orchestrator

import (
	"github.com/shopspring/decimal"

	"github.com/sells-group/resale-arb/internal/cost"
	"github.com/sells-group/resale-arb/internal/model"
)

// BuildDecision prices candidate against the best valid quote. It has no side
// effects: the same inputs always produce the same decision. ID and CreatedAt
// are left for the caller.
//
// The best quote is the highest valid offer; ties keep the earlier quote.
// Without a valid quote every spread is nil and the decision never notifies.
func BuildDecision(c model.Candidate, normalizedName string, quotes []model.Quote, calc *cost.Calculator, threshold decimal.Decimal, ai model.AIUsage) model.Decision {
	d := model.Decision{
		Candidate:      c,
		NormalizedName: normalizedName,
		Quotes:         make([]model.Quote, 0, len(quotes)),
		Profile:        calc.Profile().Name,
		Threshold:      threshold,
		AI:             ai,
	}
	for _, q := range quotes {
		d.Quotes = append(d.Quotes, q.Clone())
	}

	var best *model.Quote
	for i := range d.Quotes {
		q := &d.Quotes[i]
		if !q.Valid() {
			continue
		}
		if best == nil || q.Offer.GreaterThan(*best.Offer) {
			best = q
		}
	}
	if best == nil {
		return d
	}

	b := best.Clone()
	d.Best = &b

	gross := b.Offer.Sub(c.Price).Round(2)
	op := calc.OperatingCost()
	risk := calc.RiskBuffer(c)
	net := gross.Sub(op).Sub(risk).Round(2)

	d.GrossSpread = &gross
	d.OperatingCost = &op
	d.RiskBuffer = &risk
	d.NetSpread = &net
	d.Notify = net.GreaterThan(threshold)
	return d
}
