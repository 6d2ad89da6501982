package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/resilience"
)

// challengeSignatures are phrases found on bot-challenge interstitials.
var challengeSignatures = []string{
	"checking your browser",
	"enable javascript",
	"please enable cookies",
	"access denied",
	"403 forbidden",
	"just a moment",
	"cloudflare",
	"attention required",
	"captcha",
}

// IsChallenge reports whether body looks like a bot-challenge page rather
// than provider content.
func IsChallenge(body string) bool {
	lower := strings.ToLower(body)
	for _, sig := range challengeSignatures {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// QuoteRequest is the body posted to a quote sidecar.
type QuoteRequest struct {
	Provider   model.ProviderID `json:"provider"`
	Query      string           `json:"query"`
	Title      string           `json:"title"`
	Category   model.Category   `json:"category"`
	Identifier string           `json:"identifier,omitempty"`
	Condition  string           `json:"condition,omitempty"`
}

// QuoteResponse is the sidecar's answer. A failed lookup sets Error and,
// when the sidecar can tell, Kind.
type QuoteResponse struct {
	Offer     *decimal.Decimal `json:"offer"`
	Currency  string           `json:"currency"`
	Condition string           `json:"condition"`
	SourceURL string           `json:"source_url"`
	Raw       map[string]any   `json:"raw"`
	Error     string           `json:"error"`
	Kind      string           `json:"kind"`
}

// HTTPOption configures an HTTPProvider.
type HTTPOption func(*HTTPProvider)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) HTTPOption {
	return func(p *HTTPProvider) {
		p.http = hc
	}
}

// WithIdentifierLookup marks the provider as able to search by barcode.
func WithIdentifierLookup(ok bool) HTTPOption {
	return func(p *HTTPProvider) {
		p.acceptsIdentifier = ok
	}
}

// WithToken sets a bearer token sent to the sidecar.
func WithToken(token string) HTTPOption {
	return func(p *HTTPProvider) {
		p.token = token
	}
}

// HTTPProvider quotes through an out-of-process scraper sidecar that drives
// the provider's site. One sidecar may serve several providers; the provider
// ID travels in the request.
type HTTPProvider struct {
	id                model.ProviderID
	baseURL           string
	token             string
	acceptsIdentifier bool
	http              *http.Client
}

// NewHTTPProvider creates a sidecar-backed provider.
func NewHTTPProvider(id model.ProviderID, baseURL string, opts ...HTTPOption) *HTTPProvider {
	p := &HTTPProvider{
		id:      id,
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// ID implements Provider.
func (p *HTTPProvider) ID() model.ProviderID { return p.id }

// AcceptsIdentifier implements Provider.
func (p *HTTPProvider) AcceptsIdentifier() bool { return p.acceptsIdentifier }

// Valuate implements Provider.
func (p *HTTPProvider) Valuate(ctx context.Context, c model.Candidate, query string) model.Quote {
	payload, err := json.Marshal(QuoteRequest{
		Provider:   p.id,
		Query:      query,
		Title:      c.Title,
		Category:   c.Category,
		Identifier: c.Identifier,
		Condition:  c.Condition,
	})
	if err != nil {
		return model.Failed(p.id, model.KindException, fmt.Sprintf("encode request: %v", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/quote", bytes.NewReader(payload))
	if err != nil {
		return model.Failed(p.id, model.KindException, fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return model.Failed(p.id, resilience.ClassifyError(err), fmt.Sprintf("request failed: %v", err))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = resp.Body.Close()
	if err != nil {
		return model.Failed(p.id, resilience.ClassifyError(err), fmt.Sprintf("read response: %v", err))
	}

	if resp.StatusCode != http.StatusOK {
		q := model.Failed(p.id, statusKind(resp.StatusCode, string(body)), fmt.Sprintf("status %d: %s", resp.StatusCode, snippet(body)))
		zap.L().Debug("provider: sidecar returned error status",
			zap.String("provider", string(p.id)),
			zap.Int("status", resp.StatusCode),
			zap.String("kind", string(q.Kind)),
		)
		return q
	}

	var out QuoteResponse
	if err := json.Unmarshal(body, &out); err != nil {
		if IsChallenge(string(body)) {
			return model.Failed(p.id, model.KindAntiBot, "challenge page returned instead of quote")
		}
		return model.Failed(p.id, model.KindException, fmt.Sprintf("decode response: %v", err))
	}
	return p.toQuote(out)
}

func (p *HTTPProvider) toQuote(r QuoteResponse) model.Quote {
	if r.Error != "" {
		kind := ParseKind(r.Kind)
		if kind == model.KindNone {
			zap.L().Warn("provider: sidecar error without a known kind, treating as exception",
				zap.String("provider", string(p.id)),
				zap.String("kind", r.Kind),
				zap.String("error", r.Error),
			)
			kind = model.KindException
		}
		q := model.Failed(p.id, kind, r.Error)
		q.SourceURL = r.SourceURL
		q.Raw = r.Raw
		return q
	}
	if r.Offer == nil {
		q := model.Failed(p.id, model.KindNotFound, "no offer returned")
		q.SourceURL = r.SourceURL
		q.Raw = r.Raw
		return q
	}
	q := model.Offered(p.id, *r.Offer, r.SourceURL, r.Raw)
	q.Condition = r.Condition
	if r.Currency != "" {
		q.Currency = strings.ToUpper(r.Currency)
	}
	return q
}

// ParseKind maps a wire failure kind to a FailureKind. Unknown values map to
// KindNone so the caller can choose a fallback.
func ParseKind(s string) model.FailureKind {
	k := model.FailureKind(strings.ToLower(strings.TrimSpace(s)))
	switch k {
	case model.KindNotFound, model.KindLowConfidence, model.KindElementMissing,
		model.KindNavigation, model.KindNetwork, model.KindTimeout, model.KindException,
		model.KindVerificationRejected, model.KindSessionInvalid, model.KindAntiBot:
		return k
	default:
		return model.KindNone
	}
}

func statusKind(status int, body string) model.FailureKind {
	switch {
	case status == http.StatusUnauthorized || status == 419:
		return model.KindSessionInvalid
	case status == http.StatusForbidden || status == http.StatusTooManyRequests:
		if IsChallenge(body) {
			return model.KindAntiBot
		}
		return model.KindNetwork
	case status == http.StatusNotFound:
		return model.KindNotFound
	case status == http.StatusGatewayTimeout || status == http.StatusRequestTimeout:
		return model.KindTimeout
	default:
		return model.KindNetwork
	}
}

// snippet returns at most 200 bytes of b, cut on a rune boundary.
func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) <= 200 {
		return s
	}
	n := 200
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
