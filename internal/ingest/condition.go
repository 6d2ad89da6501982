package ingest

import (
	"math"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/resale-arb/internal/model"
)

type conditionPattern struct {
	bucket     model.ConditionBucket
	tokens     []string
	confidence float64
}

// Checked in order; the first bucket with a matching token wins.
var conditionPatterns = []conditionPattern{
	{model.ConditionLikeNew, []string{"come nuovo", "pari al nuovo", "like new", "as new", "wie neu", "comme neuf", "como nuevo"}, 0.96},
	{model.ConditionVeryGood, []string{"ottime condizioni", "molto buone condizioni", "very good", "sehr gut", "très bon état", "muy buen estado"}, 0.92},
	{model.ConditionGood, []string{"buone condizioni", "good", "gut", "bon état", "buen estado"}, 0.88},
	{model.ConditionAcceptable, []string{"condizioni accettabili", "accettabile", "acceptable", "akzeptabel", "état acceptable", "aceptable"}, 0.84},
}

var packagingOnlyHints = []string{
	"confezione danneggiata",
	"scatola danneggiata",
	"imballo danneggiato",
	"packaging damaged",
	"damaged packaging",
	"damaged box",
	"box damaged",
	"missing original packaging",
	"confezione originale mancante",
	"packaging may be damaged",
}

// Condition is an inferred listing condition.
type Condition struct {
	Bucket        model.ConditionBucket
	Confidence    float64
	PackagingOnly bool
}

// InferCondition reads a warehouse condition out of free text such as a
// listing title. An acceptable grade caused only by packaging damage gets a
// confidence boost. Bucket is ConditionUnknown when nothing matches.
func InferCondition(text string) Condition {
	s := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	if s == "" {
		return Condition{Bucket: model.ConditionUnknown}
	}

	packaging := false
	for _, h := range packagingOnlyHints {
		if strings.Contains(s, h) {
			packaging = true
			break
		}
	}

	for _, p := range conditionPatterns {
		for _, tok := range p.tokens {
			if !strings.Contains(s, tok) {
				continue
			}
			conf := p.confidence
			if p.bucket == model.ConditionAcceptable && packaging {
				conf = math.Min(0.99, conf+0.08)
			}
			return Condition{
				Bucket:        p.bucket,
				Confidence:    math.Round(conf*100) / 100,
				PackagingOnly: packaging,
			}
		}
	}
	return Condition{Bucket: model.ConditionUnknown, PackagingOnly: packaging}
}

var eurPriceRe = regexp.MustCompile(`(\d{1,3}(?:[.\s]\d{3})*(?:,\d{2})?)\s*€|€\s*(\d{1,3}(?:[.\s]\d{3})*(?:,\d{2})?)`)

// ParseEURPrice extracts the first euro amount written in Italian notation
// ("1.299,00 €", "€ 49,90") from text.
func ParseEURPrice(text string) (decimal.Decimal, bool) {
	m := eurPriceRe.FindStringSubmatch(text)
	if m == nil {
		return decimal.Zero, false
	}
	raw := m[1]
	if raw == "" {
		raw = m[2]
	}
	raw = strings.NewReplacer(".", "", " ", "", ",", ".").Replace(raw)
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// InferCategory guesses a category from a listing title. Titles with no
// recognizable product family are general tech.
func InferCategory(title string) model.Category {
	s := strings.ToLower(title)
	switch {
	case containsAny(s, "fotocamera", "mirrorless", "dslr", "obiettivo", "camera", "fotografia", "canon eos", "sony alpha"):
		return model.CategoryPhotography
	case containsAny(s, "iphone", "telefono", "smartphone", "cellulare"):
		return model.CategoryApplePhone
	case containsAny(s, "apple watch", "smartwatch", "garmin", "forerunner"):
		return model.CategorySmartwatch
	case containsAny(s, "drone", "dji mini", "dji air", "dji mavic"):
		return model.CategoryDrone
	case containsAny(s, "steam deck", "rog ally", "legion go", "nintendo switch", "console portatile"):
		return model.CategoryHandheldConsole
	default:
		return model.CategoryGeneralTech
	}
}

func containsAny(s string, tokens ...string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
