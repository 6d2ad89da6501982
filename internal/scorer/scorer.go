package scorer

import (
	"math"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/config"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/provider"
)

// Score sources.
const (
	SourceExact    = "exact_model_history"
	SourceCategory = "category_history"
	SourceFallback = "fallback_ratio"
	SourceDisabled = "disabled"
)

// ProviderHealth is a provider's historical success rate.
type ProviderHealth struct {
	Rate    float64 `json:"rate"`
	Samples int     `json:"samples"`
}

// Context is the history digest used to score candidates.
type Context struct {
	Enabled              bool                                `json:"enabled"`
	Rows                 int                                 `json:"rows"`
	ExactOfferMedian     map[string]float64                  `json:"exact_offer_median"`
	ExactConfidence      map[string]float64                  `json:"exact_confidence"`
	CategoryOfferMedian  map[model.Category]float64          `json:"category_offer_median"`
	CategorySpreadMedian map[model.Category]float64          `json:"category_spread_median"`
	Health               map[model.ProviderID]ProviderHealth `json:"health"`
}

// Result is the score breakdown for one candidate.
type Result struct {
	Score            float64 `json:"score"`
	ExpectedOffer    float64 `json:"expected_offer"`
	ExpectedSpread   float64 `json:"expected_spread"`
	LiquidityBonus   float64 `json:"liquidity_bonus"`
	HealthAdjustment float64 `json:"health_adjustment"`
	HealthRate       float64 `json:"health_rate"`
	Source           string  `json:"source"`
	Confidence       float64 `json:"confidence"`
	Region           string  `json:"region"`
}

type liquidity struct {
	re    *regexp.Regexp
	bonus float64
}

// Scorer scores and selects candidates.
type Scorer struct {
	cfg       config.ScoringConfig
	liquidity []liquidity
}

// New creates a Scorer. Invalid liquidity patterns are skipped with a
// warning; run ValidateConfig first to surface them as errors.
func New(cfg config.ScoringConfig) *Scorer {
	cfg = WithDefaults(cfg)
	s := &Scorer{cfg: cfg}
	for _, p := range cfg.LiquidityPatterns {
		re, err := regexp.Compile(p.Pattern)
		if err != nil {
			zap.L().Warn("scorer: skipping invalid liquidity pattern", zap.String("pattern", p.Pattern), zap.Error(err))
			continue
		}
		s.liquidity = append(s.liquidity, liquidity{re: re, bonus: p.Bonus})
	}
	return s
}

// Config returns the effective scoring config.
func (s *Scorer) Config() config.ScoringConfig {
	return s.cfg
}

var (
	scoreParenRe = regexp.MustCompile(`\([^)]*\)`)
	scoreNoiseRe = regexp.MustCompile(`\b(warehouse|ricondizionato|ottime condizioni|come nuovo|grado a|usato|amazon|qwerty|italiano)\b`)
	nonAlnumRe   = regexp.MustCompile(`[^a-z0-9]+`)
)

// NormalizeKey reduces a title or normalized name to the key used for
// exact-model history lookups.
func NormalizeKey(s string) string {
	s = strings.ToLower(s)
	s = scoreParenRe.ReplaceAllString(s, " ")
	s = scoreNoiseRe.ReplaceAllString(s, " ")
	s = nonAlnumRe.ReplaceAllString(s, " ")
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > 120 {
		s = s[:120]
	}
	return s
}

// BuildContext digests history rows into medians and provider health.
func (s *Scorer) BuildContext(rows []model.HistoryRow) Context {
	ctx := Context{
		Enabled:              s.cfg.Enabled,
		Rows:                 len(rows),
		ExactOfferMedian:     map[string]float64{},
		ExactConfidence:      map[string]float64{},
		CategoryOfferMedian:  map[model.Category]float64{},
		CategorySpreadMedian: map[model.Category]float64{},
		Health:               map[model.ProviderID]ProviderHealth{},
	}
	if !s.cfg.Enabled {
		return ctx
	}

	exact := map[string][]float64{}
	catOffer := map[model.Category][]float64{}
	catSpread := map[model.Category][]float64{}
	totals := map[model.ProviderID]int{}
	successes := map[model.ProviderID]int{}

	for _, r := range rows {
		key := NormalizeKey(r.NormalizedName)
		cat := r.Category
		if !cat.Valid() {
			cat = model.CategoryFromRaw(string(cat))
		}
		if r.BestOffer != nil {
			if key != "" {
				exact[key] = append(exact[key], *r.BestOffer)
			}
			catOffer[cat] = append(catOffer[cat], *r.BestOffer)
		}
		if r.Spread != nil {
			catSpread[cat] = append(catSpread[cat], *r.Spread)
		}
		for _, o := range r.Outcomes {
			if o.Provider == "" {
				continue
			}
			totals[o.Provider]++
			if o.Error == "" {
				successes[o.Provider]++
			}
		}
	}

	sat := float64(s.cfg.ConfidenceSaturation)
	for k, v := range exact {
		ctx.ExactOfferMedian[k] = median(v)
		ctx.ExactConfidence[k] = math.Min(1, float64(len(v))/sat)
	}
	for k, v := range catOffer {
		ctx.CategoryOfferMedian[k] = median(v)
	}
	for k, v := range catSpread {
		ctx.CategorySpreadMedian[k] = median(v)
	}
	for p, total := range totals {
		ctx.Health[p] = ProviderHealth{
			Rate:    round(float64(successes[p])/float64(total), 3),
			Samples: total,
		}
	}
	return ctx
}

// Score computes the priority score of c.
func (s *Scorer) Score(c model.Candidate, ctx Context) Result {
	if !ctx.Enabled {
		return Result{Source: SourceDisabled, HealthRate: s.cfg.HealthDefaultRate, Region: c.Region()}
	}

	offer, spread, source, conf := s.estimate(c, ctx)
	liq := s.LiquidityBonus(c.Title)
	adj, rate := s.healthAdjustment(c.Category, ctx)
	score := spread + liq + adj + conf*s.cfg.ConfidenceWeight

	return Result{
		Score:            round(score, 2),
		ExpectedOffer:    offer,
		ExpectedSpread:   spread,
		LiquidityBonus:   round(liq, 2),
		HealthAdjustment: adj,
		HealthRate:       round(rate, 3),
		Source:           source,
		Confidence:       round(conf, 3),
		Region:           c.Region(),
	}
}

func (s *Scorer) estimate(c model.Candidate, ctx Context) (offer, spread float64, source string, conf float64) {
	price, _ := c.Price.Float64()
	key := NormalizeKey(c.Title)

	if v, ok := ctx.ExactOfferMedian[key]; ok {
		offer, source = v, SourceExact
		conf = s.cfg.ExactDefaultConfidence
		if ec, ok := ctx.ExactConfidence[key]; ok {
			conf = ec
		}
	} else if v, ok := ctx.CategoryOfferMedian[c.Category]; ok {
		offer, source, conf = v, SourceCategory, s.cfg.CategoryConfidence
	} else {
		ratio, ok := s.cfg.FallbackRatios[string(c.Category)]
		if !ok {
			ratio = s.cfg.DefaultFallbackRatio
		}
		offer, source, conf = round(price*ratio, 2), SourceFallback, s.cfg.FallbackConfidence
	}

	spread = round(offer-price, 2)
	if cs, ok := ctx.CategorySpreadMedian[c.Category]; ok {
		w := s.cfg.OwnSpreadWeight
		spread = round(spread*w+cs*(1-w), 2)
	}
	return offer, spread, source, conf
}

// LiquidityBonus sums the bonuses of every liquidity pattern title matches.
func (s *Scorer) LiquidityBonus(title string) float64 {
	lower := strings.ToLower(title)
	total := 0.0
	for _, l := range s.liquidity {
		if l.re.MatchString(lower) {
			total += l.bonus
		}
	}
	return total
}

func (s *Scorer) healthAdjustment(cat model.Category, ctx Context) (float64, float64) {
	required := provider.ForCategory(cat)
	if len(required) == 0 {
		return 0, s.cfg.HealthDefaultRate
	}
	sum := 0.0
	samples := 0
	for _, p := range required {
		h, ok := ctx.Health[p]
		if !ok {
			sum += s.cfg.HealthDefaultRate
			continue
		}
		sum += h.Rate
		samples += h.Samples
	}
	avg := sum / float64(len(required))
	if samples < s.cfg.HealthMinSamples {
		return 0, avg
	}
	for _, t := range s.cfg.HealthTiers {
		if avg < t.Below {
			return t.Adjust, avg
		}
	}
	if avg > s.cfg.HealthBonusAbove {
		return s.cfg.HealthBonus, avg
	}
	return 0, avg
}

// Prioritize returns candidates ordered best first: score, then expected
// spread, then lower price. With scoring disabled it falls back to the
// price-first legacy order.
func (s *Scorer) Prioritize(cands []model.Candidate, ctx Context) []model.Candidate {
	out := make([]model.Candidate, len(cands))
	copy(out, cands)

	if !ctx.Enabled {
		sort.SliceStable(out, func(i, j int) bool { return legacyLess(out[i], out[j]) })
		return out
	}

	results := make([]Result, len(out))
	idx := make([]int, len(out))
	for i, c := range out {
		results[i] = s.Score(c, ctx)
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		ra, rb := results[idx[a]], results[idx[b]]
		if ra.Score != rb.Score {
			return ra.Score > rb.Score
		}
		if ra.ExpectedSpread != rb.ExpectedSpread {
			return ra.ExpectedSpread > rb.ExpectedSpread
		}
		return out[idx[a]].Price.LessThan(out[idx[b]].Price)
	})
	sorted := make([]model.Candidate, len(out))
	for i, k := range idx {
		sorted[i] = out[k]
	}
	return sorted
}

var legacyWeight = map[model.Category]int{
	model.CategorySmartwatch:      0,
	model.CategoryApplePhone:      0,
	model.CategoryDrone:           1,
	model.CategoryHandheldConsole: 2,
	model.CategoryPhotography:     3,
	model.CategoryGeneralTech:     4,
}

func legacyLess(a, b model.Candidate) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	wa, ok := legacyWeight[a.Category]
	if !ok {
		wa = 9
	}
	wb, ok := legacyWeight[b.Category]
	if !ok {
		wb = 9
	}
	if wa != wb {
		return wa < wb
	}
	return len(a.Title) < len(b.Title)
}

// SelectBalanced picks target candidates from a prioritized list: first the
// domestic quota, then the EU quota, each in priority order, then the rest
// by priority. Quotas that together exceed target are scaled down.
func (s *Scorer) SelectBalanced(sorted []model.Candidate, target int) []model.Candidate {
	if target <= 0 {
		return nil
	}
	if len(sorted) <= target {
		return sorted
	}

	itQuota := int(s.cfg.DomesticShare * float64(target))
	euQuota := int(s.cfg.EUShare * float64(target))
	if itQuota+euQuota > target {
		total := itQuota + euQuota
		itQuota = int(float64(itQuota) / float64(total) * float64(target))
		euQuota = min(target-itQuota, euQuota)
	}

	taken := make([]bool, len(sorted))
	out := make([]model.Candidate, 0, target)
	take := func(region string, n int) {
		for i, c := range sorted {
			if n == 0 || len(out) == target {
				return
			}
			if taken[i] || c.Region() != region {
				continue
			}
			taken[i] = true
			out = append(out, c)
			n--
		}
	}
	take("it", itQuota)
	take("eu", euQuota)
	for i, c := range sorted {
		if len(out) == target {
			break
		}
		if !taken[i] {
			taken[i] = true
			out = append(out, c)
		}
	}
	return out
}

func median(v []float64) float64 {
	s := append([]float64(nil), v...)
	sort.Float64s(s)
	n := len(s)
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
