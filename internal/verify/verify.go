// Package verify rejects provider offers that look like false positives:
// prices scraped from search pages, wrong storage sizes, or bare numbers with
// nothing around them.
package verify

import (
	"fmt"
	"net/url"
	"regexp"
	"slices"
	"strings"

	"github.com/agext/levenshtein"
	"github.com/shopspring/decimal"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/query"
)

// Raw payload keys a provider sets when it actually fetched a page.
const (
	KeyMatchQuality     = "match_quality"
	KeyPriceContext     = "price_context"
	KeyPriceSource      = "price_source"
	KeyStorageState     = "storage_state"
	KeyFlowState        = "flow_state"
	KeyMatchedTitle     = "matched_title"
	KeyCapacitySelected = "capacity_selected"
	KeyVerification     = "quote_verification"

	// FlowTerminal marks a multi-step sell wizard that reached its offer step.
	FlowTerminal = "terminal"
)

// DefaultSimilarity is the token similarity above which a generic URL is
// still trusted.
const DefaultSimilarity = 0.75

var (
	capacityRe = regexp.MustCompile(`(?i)\b(\d{1,4})\s?(gb|tb)\b`)

	genericSegments = map[string]bool{
		"search": true, "cerca": true, "ricerca": true, "suche": true, "recherche": true,
		"buscar": true, "category": true, "categoria": true, "categorie": true,
		"kategorie": true, "categories": true, "collections": true, "brand": true,
		"brands": true, "marca": true, "results": true, "risultati": true,
	}
	landingSegments = map[string]bool{
		"": true, "sell": true, "vendi": true, "verkaufen": true, "vendre": true,
		"vender": true, "ankauf": true, "home": true, "index.html": true,
	}
	searchParams = []string{"q", "query", "search", "s", "k", "term"}

	defaultTerminalMarkers = []string{"/product/", "/p/", "/offer", "/offerta", "/checkout", "/valutazione", "/quote"}

	offerTerms = []string{
		"ti offriamo", "offriamo", "offerta", "ti paghiamo", "valutazione", "ricevi",
		"riceverai", "vendi a", "we pay", "we'll pay", "you get", "you'll get",
		"our offer", "offer", "quote", "payout", "wir zahlen", "ankaufspreis",
		"angebot", "nous offrons", "te pagamos", "sell price", "prezzo di vendita",
	}
)

// Config parametrizes the checks per provider and category.
type Config struct {
	// Exempt providers pass through unverified.
	Exempt map[model.ProviderID]bool
	// SimilarityThreshold overrides DefaultSimilarity globally.
	SimilarityThreshold float64
	// ProviderSimilarity overrides the threshold per provider.
	ProviderSimilarity map[model.ProviderID]float64
	// Ceilings caps plausible offers per category.
	Ceilings map[model.Category]decimal.Decimal
	// TerminalMarkers are URL substrings that identify a specific product or
	// wizard-terminal page, per provider. Defaults apply when absent.
	TerminalMarkers map[model.ProviderID][]string
}

// DefaultCeilings returns the built-in magnitude ceilings.
func DefaultCeilings() map[model.Category]decimal.Decimal {
	high := decimal.NewFromInt(10000)
	phone := decimal.NewFromInt(5000)
	return map[model.Category]decimal.Decimal{
		model.CategoryPhotography:     high,
		model.CategoryDrone:           high,
		model.CategoryGeneralTech:     high,
		model.CategoryApplePhone:      phone,
		model.CategorySmartwatch:      phone,
		model.CategoryHandheldConsole: phone,
	}
}

// DefaultConfig returns a verifier config with built-in ceilings.
func DefaultConfig() Config {
	return Config{
		SimilarityThreshold: DefaultSimilarity,
		Ceilings:            DefaultCeilings(),
	}
}

// Verifier applies the false-positive checks.
type Verifier struct {
	cfg Config
}

// New creates a Verifier.
func New(cfg Config) *Verifier {
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarity
	}
	if cfg.Ceilings == nil {
		cfg.Ceilings = DefaultCeilings()
	}
	return &Verifier{cfg: cfg}
}

// Live reports whether raw carries evidence of a real page fetch.
func Live(raw map[string]any) bool {
	if raw == nil {
		return false
	}
	for _, k := range []string{KeyMatchQuality, KeyPriceContext, KeyPriceSource} {
		if _, ok := raw[k]; ok {
			return true
		}
	}
	return false
}

// Verify checks q for candidate c whose normalized name is normalizedName.
// Invalid, not-live, or exempt quotes are returned unchanged. Every failing
// check contributes a reason; any reason rejects the quote.
func (v *Verifier) Verify(q model.Quote, c model.Candidate, normalizedName string) model.Quote {
	if !q.Valid() || !Live(q.Raw) || v.cfg.Exempt[q.Provider] {
		return q
	}

	out := q.Clone()
	offerCtx := offerContext(out.Raw)
	var reasons []string

	if r := v.checkMagnitude(*out.Offer, c.Category); r != "" {
		reasons = append(reasons, r)
	}
	if r := checkMatchQuality(out.Raw); r != "" {
		reasons = append(reasons, r)
	}
	sim := Similarity(normalizedName, offerCtx)
	if r := v.checkGenericURL(out, sim); r != "" {
		reasons = append(reasons, r)
	}
	queryText := out.Query
	if queryText == "" {
		queryText = normalizedName
	}
	if r := checkCapacity(queryText, out.Raw); r != "" {
		reasons = append(reasons, r)
	}
	if r := checkOfferLanguage(out.Raw); r != "" {
		reasons = append(reasons, r)
	}

	if len(reasons) > 0 {
		out.Offer = nil
		out.Error = "verification rejected: " + strings.Join(reasons, "; ")
		out.Kind = model.KindVerificationRejected
		out.Verified = false
		out.Raw[KeyVerification] = map[string]any{
			"ok":         false,
			"reasons":    reasons,
			"similarity": sim,
		}
		return out
	}

	out.Verified = true
	out.Raw[KeyVerification] = map[string]any{
		"ok":         true,
		"similarity": sim,
	}
	return out
}

func (v *Verifier) checkMagnitude(offer decimal.Decimal, cat model.Category) string {
	if !offer.IsPositive() {
		return "non-positive offer"
	}
	ceiling, ok := v.cfg.Ceilings[cat]
	if ok && offer.GreaterThan(ceiling) {
		return fmt.Sprintf("offer %s above %s ceiling %s", offer.StringFixed(2), cat, ceiling.StringFixed(0))
	}
	return ""
}

func checkMatchQuality(raw map[string]any) string {
	mq, ok := raw[KeyMatchQuality].(map[string]any)
	if !ok {
		return ""
	}
	if okv, present := mq["ok"].(bool); present && !okv {
		reason, _ := mq["reason"].(string)
		if reason == "" {
			reason = "unspecified"
		}
		return "match quality failed: " + reason
	}
	return ""
}

func matchQualityOK(raw map[string]any) bool {
	mq, ok := raw[KeyMatchQuality].(map[string]any)
	if !ok {
		return false
	}
	okv, _ := mq["ok"].(bool)
	return okv
}

func (v *Verifier) checkGenericURL(q model.Quote, sim float64) string {
	if q.SourceURL == "" || !v.isGeneric(q.Provider, q.SourceURL) {
		return ""
	}
	if flow, _ := q.Raw[KeyFlowState].(string); flow == FlowTerminal {
		return ""
	}
	if matchQualityOK(q.Raw) && sim >= v.threshold(q.Provider) {
		return ""
	}
	return fmt.Sprintf("generic url %s (similarity %.2f)", q.SourceURL, sim)
}

func (v *Verifier) threshold(p model.ProviderID) float64 {
	if t, ok := v.cfg.ProviderSimilarity[p]; ok && t > 0 {
		return t
	}
	return v.cfg.SimilarityThreshold
}

func (v *Verifier) isGeneric(p model.ProviderID, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return true
	}
	lower := strings.ToLower(u.Path)

	markers := defaultTerminalMarkers
	if m, ok := v.cfg.TerminalMarkers[p]; ok && len(m) > 0 {
		markers = m
	}
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return false
		}
	}

	qs := u.Query()
	for _, k := range searchParams {
		if qs.Get(k) != "" {
			return true
		}
	}

	var segs []string
	for _, s := range strings.Split(strings.Trim(lower, "/"), "/") {
		if isLocale(s) {
			continue
		}
		if genericSegments[s] {
			return true
		}
		segs = append(segs, s)
	}
	if len(segs) == 0 {
		return true
	}
	return len(segs) == 1 && landingSegments[segs[0]]
}

func isLocale(s string) bool {
	switch len(s) {
	case 2:
		return isAlpha(s)
	case 5:
		return (s[2] == '-' || s[2] == '_') && isAlpha(s[:2]) && isAlpha(s[3:])
	default:
		return false
	}
}

func isAlpha(s string) bool {
	for _, r := range s {
		if r < 'a' || r > 'z' {
			return false
		}
	}
	return true
}

func checkCapacity(queryText string, raw map[string]any) string {
	want := Capacities(queryText)
	if len(want) == 0 {
		return ""
	}
	var parts []string
	for _, k := range []string{KeyMatchedTitle, KeyCapacitySelected, KeyPriceContext} {
		if s, ok := raw[k].(string); ok {
			parts = append(parts, s)
		}
	}
	got := Capacities(strings.Join(parts, " "))
	if len(got) == 0 {
		return ""
	}
	for c := range got {
		if want[c] {
			return ""
		}
	}
	return fmt.Sprintf("capacity mismatch: query %s vs offer %s", joinKeys(want), joinKeys(got))
}

func checkOfferLanguage(raw map[string]any) string {
	ctx, _ := raw[KeyPriceContext].(string)
	lower := strings.ToLower(ctx)
	for _, t := range offerTerms {
		if strings.Contains(lower, t) {
			return ""
		}
	}
	return "no offer language around price"
}

func offerContext(raw map[string]any) string {
	var parts []string
	for _, k := range []string{KeyMatchedTitle, KeyPriceContext} {
		if s, ok := raw[k].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, " ")
}

// Capacities extracts normalized storage tokens such as "128gb" or "1tb".
func Capacities(s string) map[string]bool {
	out := map[string]bool{}
	for _, m := range capacityRe.FindAllStringSubmatch(s, -1) {
		out[strings.TrimLeft(m[1], "0")+strings.ToLower(m[2])] = true
	}
	return out
}

func joinKeys(m map[string]bool) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return strings.Join(keys, ",")
}

// Similarity returns the share of name tokens that fuzzily appear in text.
// Tokens match when their Levenshtein similarity is at least 0.8.
func Similarity(name, text string) float64 {
	nameToks := tokens(name)
	if len(nameToks) == 0 {
		return 0
	}
	textToks := tokens(text)
	if len(textToks) == 0 {
		return 0
	}
	matched := 0
	for _, n := range nameToks {
		for _, t := range textToks {
			if n == t || levenshtein.Similarity(n, t, nil) >= 0.8 {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(nameToks))
}

func tokens(s string) []string {
	f := strings.FieldsFunc(query.Fold(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	out := f[:0]
	for _, t := range f {
		if len(t) >= 2 || (t[0] >= '0' && t[0] <= '9') {
			out = append(out, t)
		}
	}
	return out
}
