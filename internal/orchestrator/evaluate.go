package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/resale-arb/internal/governor"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/normalize"
	"github.com/sells-group/resale-arb/internal/provider"
	"github.com/sells-group/resale-arb/internal/query"
	"github.com/sells-group/resale-arb/internal/resilience"
)

// Result is the outcome of one evaluation run.
type Result struct {
	Decisions []model.Decision `json:"decisions"`
	Report    model.RunReport  `json:"report"`
}

// run is the mutable state of one evaluation run. A Scan run may evaluate
// several batches; they share the governor, breakers and counters.
type run struct {
	gov      *governor.Governor
	breakers *resilience.RunBreakers
	stats    *model.RunStats
	started  time.Time
	log      *zap.Logger

	groups   int
	excluded int
	coverage *model.CoverageReport

	mu    sync.Mutex
	names map[string]normalize.Result
}

type group struct {
	category model.Category
	name     string
	rep      model.Candidate
	quotes   []model.Quote
}

// EvaluateMany evaluates candidates and returns one decision per candidate in
// input order. maxParallel <= 0 uses the configured global limit. Provider
// and sink failures never fail the run; when ctx ends mid-run the partial
// result is returned together with the context error.
func (o *Orchestrator) EvaluateMany(ctx context.Context, candidates []model.Candidate, maxParallel int) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, eris.Wrap(err, "orchestrator: evaluate")
	}
	r := o.newRun(maxParallel)
	decisions := o.evaluate(ctx, r, candidates)
	return o.finish(ctx, r, decisions)
}

func (o *Orchestrator) newRun(maxParallel int) *run {
	if maxParallel <= 0 {
		maxParallel = o.cfg.MaxParallel
	}
	r := &run{
		gov:      governor.New(maxParallel, o.cfg.ProviderLimits),
		breakers: resilience.NewRunBreakers(o.cfg.Breaker),
		stats:    model.NewRunStats(),
		started:  time.Now().UTC(),
		names:    make(map[string]normalize.Result),
	}
	r.log = zap.L().With(zap.Int("max_parallel", governor.Clamp(maxParallel)))
	r.log.Info("orchestrator: run started")
	return r
}

// evaluate runs one batch of candidates within r and returns its decisions
// in input order. Batches run one after another.
func (o *Orchestrator) evaluate(ctx context.Context, r *run, candidates []model.Candidate) []model.Decision {
	r.log.Debug("orchestrator: evaluating batch", zap.Int("candidates", len(candidates)))

	o.normalizeAll(ctx, r, candidates)

	groups, index := groupCandidates(candidates, r)
	r.groups += len(groups)

	var g errgroup.Group
	for _, grp := range groups {
		g.Go(func() error {
			grp.quotes = o.evaluateGroup(ctx, r, grp)
			return nil
		})
	}
	_ = g.Wait()

	decided := time.Now().UTC()
	decisions := make([]model.Decision, len(candidates))
	for i, c := range candidates {
		grp := index[i]
		nr := r.normalized(c.Title)
		d := BuildDecision(c, grp.name, grp.quotes, o.calc, o.cfg.Threshold, nr.Usage)
		d.ID = uuid.New().String()
		d.CreatedAt = decided
		decisions[i] = d
	}

	o.dispatch(ctx, r, decisions)
	return decisions
}

// finish builds the run report, runs the hooks and wraps the result.
func (o *Orchestrator) finish(ctx context.Context, r *run, decisions []model.Decision) (*Result, error) {
	report := model.RunReport{
		ID:                uuid.New().String(),
		StartedAt:         r.started,
		FinishedAt:        time.Now().UTC(),
		Candidates:        len(decisions),
		Groups:            r.groups,
		Evaluated:         len(decisions),
		DisabledProviders: r.breakers.Disabled(),
		Health:            r.breakers.Snapshot(),
		Excluded:          r.excluded,
		Coverage:          r.coverage,
	}
	r.stats.Fill(&report)
	for _, d := range decisions {
		if d.Notify {
			report.Profitable++
		}
	}

	r.log.Info("orchestrator: run finished",
		zap.String("run_id", report.ID),
		zap.Int("candidates", report.Candidates),
		zap.Int("groups", report.Groups),
		zap.Int("profitable", report.Profitable),
		zap.Int("timeouts", report.Timeouts),
		zap.Int("sink_failures", report.SinkFailures),
		zap.Any("disabled_providers", report.DisabledProviders),
		zap.Duration("elapsed", report.FinishedAt.Sub(r.started)),
	)

	for _, hook := range o.hooks {
		hook(ctx, report)
	}

	res := &Result{Decisions: decisions, Report: report}
	if err := ctx.Err(); err != nil {
		return res, eris.Wrap(err, "orchestrator: evaluate")
	}
	return res, nil
}

func titleKey(title string) string {
	return strings.TrimSpace(title)
}

func (r *run) normalized(title string) normalize.Result {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.names[titleKey(title)]
}

// normalizeAll normalizes every distinct title once per run, each call
// holding a global token.
func (o *Orchestrator) normalizeAll(ctx context.Context, r *run, candidates []model.Candidate) {
	var titles []string
	seen := make(map[string]bool)
	r.mu.Lock()
	for k := range r.names {
		seen[k] = true
	}
	r.mu.Unlock()
	for _, c := range candidates {
		k := titleKey(c.Title)
		if seen[k] {
			continue
		}
		seen[k] = true
		titles = append(titles, k)
	}

	var g errgroup.Group
	for _, title := range titles {
		g.Go(func() error {
			res := o.normalizeOne(ctx, r, title)
			r.mu.Lock()
			r.names[title] = res
			r.mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
}

func (o *Orchestrator) normalizeOne(ctx context.Context, r *run, title string) normalize.Result {
	release, err := r.gov.AcquireGlobal(ctx)
	if err != nil {
		return fallbackName(title)
	}
	defer release()

	nctx, cancel := context.WithTimeout(ctx, o.cfg.NormalizeTimeout)
	defer cancel()

	res, err := o.normalizer.Normalize(nctx, title)
	if err != nil {
		zap.L().Warn("orchestrator: normalization failed, using heuristic",
			zap.String("title", title),
			zap.Error(err),
		)
		return fallbackName(title)
	}
	if strings.TrimSpace(res.Name) == "" {
		return fallbackName(title)
	}
	return res
}

func fallbackName(title string) normalize.Result {
	res := normalize.Fallback(title)
	if res.Name == "" {
		res.Name = title
	}
	return res
}

// groupCandidates groups candidates by category and normalized name, in
// first-seen order. index maps each candidate position to its group.
func groupCandidates(candidates []model.Candidate, r *run) ([]*group, []*group) {
	var groups []*group
	byKey := make(map[string]*group)
	index := make([]*group, len(candidates))
	for i, c := range candidates {
		name := r.normalized(c.Title).Name
		key := string(c.Category) + "|" + strings.ToLower(name)
		grp, ok := byKey[key]
		if !ok {
			grp = &group{category: c.Category, name: name, rep: c}
			byKey[key] = grp
			groups = append(groups, grp)
		}
		index[i] = grp
	}
	return groups, index
}

// evaluateGroup queries every eligible provider for one group. The group
// holds a global token for its whole duration.
func (o *Orchestrator) evaluateGroup(ctx context.Context, r *run, grp *group) []model.Quote {
	release, err := r.gov.AcquireGlobal(ctx)
	if err != nil {
		return nil
	}
	defer release()

	var providers []provider.Provider
	if o.providers != nil {
		providers = o.providers.For(grp.category)
	}

	results := make([]*model.Quote, len(providers))
	var g errgroup.Group
	for i, p := range providers {
		if !r.breakers.Allow(p.ID()) {
			r.stats.Skip(p.ID())
			zap.L().Info("orchestrator: provider disabled, skipping",
				zap.String("provider", string(p.ID())),
				zap.String("normalized_name", grp.name),
			)
			continue
		}
		g.Go(func() error {
			if q, ok := o.runProvider(ctx, r, grp, p); ok {
				results[i] = &q
			}
			return nil
		})
	}
	_ = g.Wait()

	quotes := make([]model.Quote, 0, len(results))
	for _, q := range results {
		if q != nil {
			quotes = append(quotes, *q)
		}
	}
	return quotes
}

// runProvider tries query variants in order until one yields a verified
// offer, a hard failure stops the sequence, or the provider's breaker opens.
// It returns the last attempt's quote, and false when the breaker opened
// before the first attempt could run.
func (o *Orchestrator) runProvider(ctx context.Context, r *run, grp *group, p provider.Provider) (model.Quote, bool) {
	id := p.ID()
	variants := query.Variants(grp.rep, grp.name, query.Options{
		AcceptsIdentifier: p.AcceptsIdentifier(),
		Max:               o.maxVariants(id, grp.category),
	})
	if len(variants) == 0 {
		variants = []string{grp.name}
	}
	total := len(variants)

	var (
		last   model.Quote
		failed []string
	)
	for i, v := range variants {
		if i > 0 && !r.breakers.Allow(id) {
			break
		}
		q, tripped, ran := o.attempt(ctx, r, grp, p, v, i+1, total)
		if !ran {
			if i == 0 {
				r.stats.Skip(id)
				zap.L().Info("orchestrator: provider disabled while queued, skipping",
					zap.String("provider", string(id)),
					zap.String("normalized_name", grp.name),
				)
				return model.Quote{}, false
			}
			break
		}

		log := zap.L().With(
			zap.String("provider", string(id)),
			zap.String("normalized_name", grp.name),
			zap.String("query", v),
			zap.Int("attempt", i+1),
		)
		if q.Valid() {
			log.Debug("orchestrator: quote accepted", zap.String("offer", q.Offer.StringFixed(2)))
			return withHistory(q, failed), true
		}
		log.Debug("orchestrator: attempt failed", zap.String("kind", string(q.Kind)), zap.String("error", q.Error))
		failed = append(failed, fmt.Sprintf("%s: %s", q.Kind, q.Error))
		last = q
		if q.Kind.Hard() || tripped || ctx.Err() != nil {
			break
		}
	}
	return withHistory(last, failed[:max(len(failed)-1, 0)]), true
}

// withHistory records the errors of earlier attempts in the quote's raw
// payload.
func withHistory(q model.Quote, earlier []string) model.Quote {
	if len(earlier) == 0 {
		return q
	}
	q = q.Clone()
	if q.Raw == nil {
		q.Raw = make(map[string]any)
	}
	q.Raw["previous_attempts"] = append([]string(nil), earlier...)
	return q
}

// attempt runs one variant under the provider token. The breaker is checked
// after the token is acquired and updated before it is released, so a task
// queued behind a failing call never calls an open provider. ran is false
// when the breaker was open.
func (o *Orchestrator) attempt(ctx context.Context, r *run, grp *group, p provider.Provider, v string, n, total int) (q model.Quote, tripped, ran bool) {
	id := p.ID()
	release, err := r.gov.AcquireProvider(ctx, id)
	if err != nil {
		q = model.Failed(id, resilience.ClassifyError(ctx.Err()), err.Error())
	} else {
		defer release()
		if !r.breakers.Allow(id) {
			return model.Quote{}, false, false
		}
		q = o.call(ctx, grp, p, v)
		q.Query = v
		q = o.verifier.Verify(q, grp.rep, grp.name)
	}
	q.Query = v
	q.Attempt = n
	q.MaxAttempts = total

	tripped = r.breakers.Record(q)
	r.stats.Record(q)
	return q, tripped, true
}

// call runs the provider under the attempt timeout. Panics and timeouts
// become synthetic failure quotes.
func (o *Orchestrator) call(ctx context.Context, grp *group, p provider.Provider, q string) model.Quote {
	id := p.ID()
	timeout := o.timeout(id)
	actx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan model.Quote, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("orchestrator: provider panicked",
					zap.String("provider", string(id)),
					zap.String("query", q),
					zap.Any("panic", rec),
				)
				done <- model.Failed(id, model.KindException, fmt.Sprintf("panic: %v", rec))
			}
		}()
		done <- p.Valuate(actx, grp.rep, q)
	}()

	select {
	case res := <-done:
		if res.Provider == "" {
			res.Provider = id
		}
		if res.Currency == "" {
			res.Currency = "EUR"
		}
		if res.Error != "" && res.Kind == model.KindNone {
			res.Kind = model.KindException
		}
		return res
	case <-actx.Done():
		if ctx.Err() != nil {
			return model.Failed(id, model.KindTimeout, "run cancelled: "+ctx.Err().Error())
		}
		zap.L().Warn("orchestrator: provider attempt timed out",
			zap.String("provider", string(id)),
			zap.String("query", q),
			zap.Duration("timeout", timeout),
		)
		return model.Failed(id, model.KindTimeout, fmt.Sprintf("timeout after %s", timeout))
	}
}
