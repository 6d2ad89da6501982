package orchestrator

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/ingest"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/provider"
)

// MaxRefillRounds caps RefillConfig.MaxRounds.
const MaxRefillRounds = 6

// RefillConfig controls how Scan tops up the selection when decisions come
// back without a real quote from every required provider.
type RefillConfig struct {
	// MaxRounds is the number of refill batches Scan may evaluate. 0 only
	// reports coverage.
	MaxRounds int
	// BatchMultiplier scales the number of missing complete decisions into
	// the next batch size.
	BatchMultiplier int
}

// hasRealQuote reports whether q is a verified offer that links back to the
// provider's listing.
func hasRealQuote(q model.Quote) bool {
	return q.Valid() && strings.TrimSpace(q.SourceURL) != ""
}

// missingRequired lists the category's required providers that d has no real
// quote from, skipping the optional ones.
func missingRequired(d model.Decision, optional map[model.ProviderID]bool) []model.ProviderID {
	have := make(map[model.ProviderID]bool, len(d.Quotes))
	for _, q := range d.Quotes {
		if hasRealQuote(q) {
			have[q.Provider] = true
		}
	}
	var missing []model.ProviderID
	for _, id := range provider.ForCategory(d.Candidate.Category) {
		if optional[id] || have[id] {
			continue
		}
		missing = append(missing, id)
	}
	return missing
}

func complete(d model.Decision, optional map[model.ProviderID]bool) bool {
	return len(missingRequired(d, optional)) == 0
}

// outageOptional returns the required providers that produced no real quote
// across all decisions. They are treated as down and stop counting against
// coverage.
func outageOptional(decisions []model.Decision) map[model.ProviderID]bool {
	required := make(map[model.ProviderID]bool)
	quoted := make(map[model.ProviderID]bool)
	for _, d := range decisions {
		for _, id := range provider.ForCategory(d.Candidate.Category) {
			required[id] = true
		}
		for _, q := range d.Quotes {
			if hasRealQuote(q) {
				quoted[q.Provider] = true
			}
		}
	}
	optional := make(map[model.ProviderID]bool)
	for id := range required {
		if !quoted[id] {
			optional[id] = true
		}
	}
	return optional
}

func countComplete(decisions []model.Decision, optional map[model.ProviderID]bool) int {
	n := 0
	for _, d := range decisions {
		if complete(d, optional) {
			n++
		}
	}
	return n
}

// overflow returns the ordered candidates that were not selected, in order.
func overflow(ordered, selected []model.Candidate) []model.Candidate {
	picked := make(map[string]bool, len(selected))
	for _, c := range selected {
		picked[ingest.DedupeKey(c)] = true
	}
	var rest []model.Candidate
	for _, c := range ordered {
		if !picked[ingest.DedupeKey(c)] {
			rest = append(rest, c)
		}
	}
	return rest
}

// cover counts complete decisions against target and, while short of it,
// evaluates further batches drawn from spare. It records the coverage report
// on r and returns every decision made.
func (o *Orchestrator) cover(ctx context.Context, r *run, decisions []model.Decision, spare []model.Candidate, target int) []model.Decision {
	optional := outageOptional(decisions)
	cov := &model.CoverageReport{Target: target}
	for id := range optional {
		cov.OptionalProviders = append(cov.OptionalProviders, id)
	}
	model.SortProviders(cov.OptionalProviders)
	if len(optional) > 0 {
		r.log.Warn("orchestrator: required providers returned no real quotes, treating as optional",
			zap.Any("providers", cov.OptionalProviders))
	}

	accepted := countComplete(decisions, optional)
	rounds := min(max(o.cfg.Refill.MaxRounds, 0), MaxRefillRounds)
	mult := max(o.cfg.Refill.BatchMultiplier, 1)

	for round := 1; round <= rounds && accepted < target && len(spare) > 0; round++ {
		if ctx.Err() != nil {
			break
		}
		missing := target - accepted
		n := min(len(spare), max(missing, missing*mult))
		batch := spare[:n]
		spare = spare[n:]

		r.log.Info("orchestrator: refilling incomplete decisions",
			zap.Int("round", round),
			zap.Int("missing", missing),
			zap.Int("batch", n),
			zap.Int("spare", len(spare)),
		)
		more := o.evaluate(ctx, r, batch)
		decisions = append(decisions, more...)
		accepted += countComplete(more, optional)
		cov.RefillRounds++
		cov.RefillCandidates += n
	}

	cov.Accepted = accepted
	cov.Rejected = len(decisions) - accepted
	r.coverage = cov
	return decisions
}
