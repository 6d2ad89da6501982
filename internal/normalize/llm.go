package normalize

import (
	"context"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/pkg/anthropic"
)

// DefaultModel is the Anthropic model used when none is configured.
const DefaultModel = "claude-haiku-4-5-20251001"

const systemPrompt = "Estrai il modello prodotto in formato breve e rivendibile in Italia. " +
	"Mantieni marca/modello/taglio memoria essenziale. " +
	"Rimuovi colore, aggettivi marketing, stato e testo promozionale. " +
	"Rispondi SOLO con il nome pulito."

// LLM normalizes titles with the Anthropic Messages API and falls back to
// the heuristic on any failure or empty answer.
type LLM struct {
	client anthropic.Client
	model  string
}

// NewLLM creates an LLM normalizer.
func NewLLM(client anthropic.Client, model string) *LLM {
	if model == "" {
		model = DefaultModel
	}
	return &LLM{client: client, model: model}
}

// Normalize implements Normalizer. It only returns an error when ctx is done.
func (l *LLM) Normalize(ctx context.Context, title string) (Result, error) {
	temp := 0.0
	resp, err := l.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       l.model,
		MaxTokens:   64,
		System:      []anthropic.SystemBlock{{Text: systemPrompt, Cached: true}},
		Messages:    []anthropic.Message{{Role: "user", Content: title}},
		Temperature: &temp,
	})
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, eris.Wrap(ctx.Err(), "normalize: llm")
		}
		zap.L().Warn("normalize: llm failed, using heuristic",
			zap.String("title", title),
			zap.String("model", l.model),
			zap.Bool("retryable", anthropic.IsRetryable(err)),
			zap.Error(err),
		)
		return Fallback(title), nil
	}
	resp.Usage.LogCost(l.model, "normalize")

	if resp.Truncated() {
		zap.L().Debug("normalize: truncated llm answer, using heuristic", zap.String("title", title))
		return Fallback(title), nil
	}

	name := Sanitize(resp.Text())
	if name == "" {
		zap.L().Debug("normalize: empty llm answer, using heuristic", zap.String("title", title))
		return Fallback(title), nil
	}
	return Result{
		Name: name,
		Usage: model.AIUsage{
			Provider: "anthropic",
			Model:    l.model,
			Mode:     model.ModeLive,
			Used:     true,
		},
	}, nil
}

var (
	fenceRe       = regexp.MustCompile("```(?:\\w+)?")
	listMarkerRe  = regexp.MustCompile(`^[\-\*\d\.\)\s]+`)
	markupRe      = regexp.MustCompile("[*_`~]")
	citationRe    = regexp.MustCompile(`\[(?:\d+(?:\s*,\s*\d+)*)\]`)
	labelRe       = regexp.MustCompile(`(?i)^nome(?:\s+prodotto)?\s*:\s*`)
	trailingNoise = regexp.MustCompile(`(?i)\b(colore|color|ottime condizioni|ricondizionato)\b.*`)
)

// Sanitize extracts a bare product name from a model answer: first non-empty
// line, no code fences, list markers, quotes, markup, citations or labels,
// cut at color or condition words.
func Sanitize(text string) string {
	v := strings.TrimSpace(text)
	v = fenceRe.ReplaceAllString(v, "")
	v = strings.ReplaceAll(v, "```", "")

	for _, line := range strings.Split(v, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			v = line
			break
		}
	}

	v = listMarkerRe.ReplaceAllString(v, "")
	v = strings.Trim(strings.TrimSpace(v), `"'`)
	v = markupRe.ReplaceAllString(v, "")
	v = citationRe.ReplaceAllString(v, "")
	v = labelRe.ReplaceAllString(v, "")
	v = spacesRe.ReplaceAllString(v, " ")
	v = trailingNoise.ReplaceAllString(v, "")
	v = strings.Trim(v, edgeChars)
	return truncate(v, MaxNameLen)
}
