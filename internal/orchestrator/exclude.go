package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/ingest"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/normalize"
	"github.com/sells-group/resale-arb/internal/scorer"
)

// priceBucketEUR is the width of the price buckets in listing signatures.
const priceBucketEUR = 25

// ExclusionSource returns recent decisions that did not clear the notify
// threshold.
type ExclusionSource interface {
	NonProfitable(ctx context.Context, since time.Time, maxSpread float64, limit int) ([]model.Decision, error)
}

// ExclusionConfig tunes how Scan skips listings recently judged not
// profitable.
type ExclusionConfig struct {
	Enabled bool
	// LookbackDays bounds the window.
	LookbackDays int
	// DailyReset also starts the window no earlier than midnight in
	// Location, so every day begins with an empty cache.
	DailyReset bool
	Location   *time.Location
	// MaxRows caps the decisions read per scan.
	MaxRows int
	// MinKeep restores excluded candidates, in input order, until at least
	// MinKeep remain.
	MinKeep int
}

// exclusions are the keys of recent non-profitable listings.
type exclusions struct {
	urls       map[string]bool
	signatures map[string]bool
}

func (e exclusions) match(c model.Candidate) bool {
	if u := ingest.NormalizeURL(c.URL); u != "" && e.urls[u] {
		return true
	}
	if sig := Signature(c); sig != "" && e.signatures[sig] {
		return true
	}
	return false
}

func (e exclusions) empty() bool {
	return len(e.urls) == 0 && len(e.signatures) == 0
}

// Signature identifies a listing without its URL: category, condition
// bucket, price floored to 25 EUR and the normalized model name. It is empty
// when the title has no usable name.
func Signature(c model.Candidate) string {
	name := scorer.NormalizeKey(normalize.HeuristicName(c.Title))
	if name == "" {
		return ""
	}
	bucket := c.Price.Div(decimal.NewFromInt(priceBucketEUR)).Floor().IntPart() * priceBucketEUR
	return fmt.Sprintf("%s|%s|%d|%s", c.Category, c.ConditionBucket(), bucket, name)
}

// exclusionSince returns the start of the exclusion window at now.
func exclusionSince(cfg ExclusionConfig, now time.Time) time.Time {
	since := now.AddDate(0, 0, -max(cfg.LookbackDays, 1))
	if !cfg.DailyReset {
		return since
	}
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	local := now.In(loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	if midnight.After(since) {
		return midnight
	}
	return since
}

// loadExclusions reads recent non-profitable decisions. Only decisions with
// complete quotes count, so an outage never hides a listing. A failed read
// excludes nothing.
func (o *Orchestrator) loadExclusions(ctx context.Context) exclusions {
	ex := exclusions{urls: make(map[string]bool), signatures: make(map[string]bool)}
	if o.exclusions == nil || !o.cfg.Exclusion.Enabled {
		return ex
	}

	ectx, cancel := context.WithTimeout(ctx, o.cfg.HistoryTimeout)
	defer cancel()

	since := exclusionSince(o.cfg.Exclusion, time.Now())
	decisions, err := o.exclusions.NonProfitable(ectx, since, o.cfg.Threshold.InexactFloat64(), o.cfg.Exclusion.MaxRows)
	if err != nil {
		zap.L().Warn("orchestrator: exclusion cache unavailable, excluding nothing", zap.Error(err))
		return ex
	}

	optional := outageOptional(decisions)
	for _, d := range decisions {
		if !complete(d, optional) {
			continue
		}
		if u := ingest.NormalizeURL(d.Candidate.URL); u != "" {
			ex.urls[u] = true
		}
		if sig := Signature(d.Candidate); sig != "" {
			ex.signatures[sig] = true
		}
	}
	zap.L().Debug("orchestrator: exclusion cache loaded",
		zap.Time("since", since),
		zap.Int("decisions", len(decisions)),
		zap.Int("urls", len(ex.urls)),
		zap.Int("signatures", len(ex.signatures)),
	)
	return ex
}

// exclude drops candidates that match ex. When fewer than minKeep remain,
// dropped candidates are restored in input order until minKeep is reached.
// It returns the kept candidates in input order and the number dropped.
func exclude(cands []model.Candidate, ex exclusions, minKeep int) ([]model.Candidate, int) {
	if ex.empty() {
		return cands, 0
	}
	keep := make([]bool, len(cands))
	kept := 0
	for i, c := range cands {
		if !ex.match(c) {
			keep[i] = true
			kept++
		}
	}
	for i := range cands {
		if kept >= minKeep {
			break
		}
		if !keep[i] {
			keep[i] = true
			kept++
		}
	}

	out := make([]model.Candidate, 0, kept)
	for i, c := range cands {
		if keep[i] {
			out = append(out, c)
		}
	}
	return out, len(cands) - kept
}
