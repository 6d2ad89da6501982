// Package normalize reduces raw listing titles to short, resale-ready model
// names used for provider queries and history keys.
package normalize

import (
	"context"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/sells-group/resale-arb/internal/model"
)

// MaxNameLen caps normalized names.
const MaxNameLen = 120

// Result is a normalized name plus how it was produced.
type Result struct {
	Name  string        `json:"name"`
	Usage model.AIUsage `json:"usage"`
}

// Normalizer turns a raw title into a normalized product name.
type Normalizer interface {
	Normalize(ctx context.Context, title string) (Result, error)
}

var (
	parenRe   = regexp.MustCompile(`\([^)]*\)`)
	noiseRe   = regexp.MustCompile(`(?i)\b(ottime condizioni|ricondizionato|warehouse|amazon|come nuovo|grado a|excellent)\b`)
	colorRe   = regexp.MustCompile(`(?i)\b(nero|black|bianco|white|argento|silver|grafite|space gray|grigio|blu|azzurro|rosso|verde|viola)\b`)
	spacesRe  = regexp.MustCompile(`\s+`)
	edgeChars = " -:,"
)

// Heuristic is the rule-based normalizer. It never fails and is the fallback
// for every other implementation.
type Heuristic struct{}

// Normalize implements Normalizer.
func (Heuristic) Normalize(_ context.Context, title string) (Result, error) {
	return Fallback(title), nil
}

// Fallback returns the heuristic result for title.
func Fallback(title string) Result {
	return Result{
		Name: HeuristicName(title),
		Usage: model.AIUsage{
			Provider: "heuristic",
			Mode:     model.ModeFallback,
			Used:     false,
		},
	}
}

// HeuristicName strips parenthesized text, condition and marketing words,
// and colors from title.
func HeuristicName(title string) string {
	s := parenRe.ReplaceAllString(title, "")
	s = noiseRe.ReplaceAllString(s, "")
	s = colorRe.ReplaceAllString(s, "")
	s = spacesRe.ReplaceAllString(s, " ")
	s = strings.Trim(s, edgeChars)
	return truncate(s, MaxNameLen)
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	s = s[:n]
	for len(s) > 0 && !utf8.ValidString(s) {
		s = s[:len(s)-1]
	}
	return s
}
