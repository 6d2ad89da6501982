// Package query builds the ordered list of search strings tried against a
// valuation provider for one candidate.
package query

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/resale-arb/internal/model"
)

const (
	// DefaultMaxVariants is the per-provider cap when nothing is configured.
	DefaultMaxVariants = 1
	// MaxVariants is the hard upper bound on variants per provider.
	MaxVariants = 6

	minQueryLen    = 3
	maxTrimmedToks = 8
)

var (
	identifierRe = regexp.MustCompile(`^\d{8,20}$`)
	parenRe      = regexp.MustCompile(`\([^)]*\)|\[[^\]]*\]`)
	spaceRe      = regexp.MustCompile(`\s+`)

	// Tokens that describe the listing rather than the product.
	noiseTokens = map[string]bool{
		"warehouse": true, "amazon": true, "ricondizionato": true, "refurbished": true,
		"usato": true, "used": true, "nuovo": true, "new": true, "excellent": true,
		"ottimo": true, "ottime": true, "condizioni": true, "grado": true,
		"garanzia": true, "italia": true, "italiano": true, "qwerty": true,
		"offerta": true, "sconto": true, "originale": true, "versione": true,
		"+": true, "-": true, "|": true, "/": true, ",": true,
	}
)

// Options controls variant generation for one provider.
type Options struct {
	// AcceptsIdentifier allows a bare EAN/GTIN as the first variant.
	AcceptsIdentifier bool
	// Max caps the number of variants; values outside [1, MaxVariants] are
	// clamped.
	Max int
}

// Variants returns 1 to opts.Max deduplicated queries for candidate, most
// specific first. It never returns an empty slice while either the
// normalized name or the title has at least minQueryLen characters.
func Variants(c model.Candidate, normalizedName string, opts Options) []string {
	limit := opts.Max
	if limit <= 0 {
		limit = DefaultMaxVariants
	}
	if limit > MaxVariants {
		limit = MaxVariants
	}

	ordered := make([]string, 0, 5)
	if id := strings.TrimSpace(c.Identifier); opts.AcceptsIdentifier && identifierRe.MatchString(id) {
		ordered = append(ordered, id)
	}
	ordered = append(ordered,
		clean(normalizedName),
		Trim(normalizedName),
		Trim(c.Title),
		clean(c.Title),
	)

	seen := make(map[string]bool, len(ordered))
	out := make([]string, 0, limit)
	for _, q := range ordered {
		if len([]rune(q)) < minQueryLen {
			continue
		}
		key := Fold(q)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, q)
		if len(out) == limit {
			break
		}
	}
	return out
}

// Trim strips bracketed text and listing noise and keeps at most eight
// tokens.
func Trim(s string) string {
	s = parenRe.ReplaceAllString(s, " ")
	fields := strings.Fields(s)
	kept := make([]string, 0, maxTrimmedToks)
	for _, f := range fields {
		if noiseTokens[strings.ToLower(f)] {
			continue
		}
		kept = append(kept, f)
		if len(kept) == maxTrimmedToks {
			break
		}
	}
	return strings.Join(kept, " ")
}

func clean(s string) string {
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Fold lowercases s and strips diacritics so "Écran" and "ecran" compare
// equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.ToLower(clean(out))
}
