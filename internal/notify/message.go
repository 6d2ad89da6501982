// Package notify delivers profitable decisions to Telegram and Notion.
package notify

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/sells-group/resale-arb/internal/model"
)

// Notifiable reports whether d carries enough to build an alert.
func Notifiable(d model.Decision) bool {
	return d.Best != nil && d.BestOffer() != nil && d.NetSpread != nil
}

// FormatDecision renders d as a plain-text alert.
func FormatDecision(d model.Decision) string {
	c := d.Candidate
	lines := []string{
		"🚨 Resale Arb | Opportunita trovata",
		"📦 Prodotto: " + d.NormalizedName,
		"🏷️ Categoria: " + string(c.Category),
		fmt.Sprintf("💶 Prezzo Amazon: %s EUR", money(c.Price)),
	}
	if cond := strings.TrimSpace(c.Condition); cond != "" {
		lines = append(lines, "🔎 Condizione: "+cond)
	}
	if d.Best != nil && d.Best.Offer != nil {
		lines = append(lines, fmt.Sprintf("💰 Miglior offerta: %s EUR (%s)", money(*d.Best.Offer), d.Best.Provider))
	}
	if d.NetSpread != nil {
		line := "✅ Spread netto: " + signed(*d.NetSpread) + " EUR"
		var parts []string
		if d.GrossSpread != nil {
			parts = append(parts, "lordo "+signed(*d.GrossSpread))
		}
		if d.OperatingCost != nil {
			parts = append(parts, "costi "+money(*d.OperatingCost))
		}
		if d.RiskBuffer != nil {
			parts = append(parts, "rischio "+money(*d.RiskBuffer))
		}
		if len(parts) > 0 {
			line += " (" + strings.Join(parts, ", ") + ")"
		}
		lines = append(lines, line)
	}
	lines = append(lines, "⚙️ Profilo: "+d.Profile)
	lines = append(lines, "🧠 AI: "+aiLabel(d.AI))
	if offers := offerSummary(d.Quotes); offers != "" {
		lines = append(lines, "📊 Offerte: "+offers)
	}
	if c.URL != "" {
		lines = append(lines, "🛒 Amazon link: "+c.URL)
	}
	if d.Best != nil && d.Best.SourceURL != "" {
		lines = append(lines, "🔗 Offerta: "+d.Best.SourceURL)
	}
	return strings.Join(lines, "\n")
}

func aiLabel(u model.AIUsage) string {
	switch {
	case u.Provider == "" || u.Provider == "heuristic":
		return "heuristic/rule-based (" + orDefault(u.Mode, model.ModeFallback) + ")"
	case u.Model != "":
		return u.Provider + "/" + u.Model + " (" + u.Mode + ")"
	default:
		return u.Provider + " (" + u.Mode + ")"
	}
}

func offerSummary(quotes []model.Quote) string {
	var parts []string
	for _, q := range quotes {
		if q.Valid() {
			parts = append(parts, fmt.Sprintf("%s %s", q.Provider, money(*q.Offer)))
		}
	}
	return strings.Join(parts, " | ")
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func signed(d decimal.Decimal) string {
	if d.IsNegative() {
		return d.StringFixed(2)
	}
	return "+" + d.StringFixed(2)
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Chunk splits text into pieces of at most limit runes, preferring line
// boundaries.
func Chunk(text string, limit int) []string {
	if limit <= 0 || len([]rune(text)) <= limit {
		return []string{text}
	}
	var (
		out []string
		cur []rune
	)
	flush := func() {
		if len(cur) > 0 {
			out = append(out, string(cur))
			cur = cur[:0]
		}
	}
	for i, line := range strings.Split(text, "\n") {
		r := []rune(line)
		if i > 0 {
			r = append([]rune{'\n'}, r...)
		}
		if len(cur)+len(r) <= limit {
			cur = append(cur, r...)
			continue
		}
		flush()
		if i > 0 {
			r = r[1:]
		}
		for len(r) > limit {
			out = append(out, string(r[:limit]))
			r = r[limit:]
		}
		cur = append(cur, r...)
	}
	flush()
	return out
}
