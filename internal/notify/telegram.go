package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/resilience"
)

const (
	defaultTelegramURL = "https://api.telegram.org"

	// MaxMessageLen keeps messages under Telegram's 4096 character limit.
	MaxMessageLen = 4000
)

// Telegram delivers alerts through the Telegram Bot API.
type Telegram struct {
	token   string
	chatID  string
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

// TelegramOption configures a Telegram sender.
type TelegramOption func(*Telegram)

// WithTelegramBaseURL overrides the Bot API host.
func WithTelegramBaseURL(u string) TelegramOption {
	return func(t *Telegram) { t.baseURL = u }
}

// WithTelegramHTTPClient sets the HTTP client.
func WithTelegramHTTPClient(c *http.Client) TelegramOption {
	return func(t *Telegram) { t.client = c }
}

// WithTelegramRate caps messages per second. Zero or less disables pacing.
func WithTelegramRate(rps float64) TelegramOption {
	return func(t *Telegram) {
		if rps <= 0 {
			t.limiter = nil
			return
		}
		t.limiter = rate.NewLimiter(rate.Limit(rps), 1)
	}
}

// NewTelegram creates a Telegram sender paced at one message per second.
func NewTelegram(token, chatID string, opts ...TelegramOption) *Telegram {
	t := &Telegram{
		token:   token,
		chatID:  chatID,
		baseURL: defaultTelegramURL,
		client:  &http.Client{Timeout: 10 * time.Second},
		limiter: rate.NewLimiter(rate.Limit(1), 1),
	}
	for _, o := range opts {
		o(t)
	}
	return t
}

// Name identifies the sink in logs and run reports.
func (t *Telegram) Name() string { return "telegram" }

// Notify sends the alert for d. Decisions without a best offer or net spread
// are skipped.
func (t *Telegram) Notify(ctx context.Context, d model.Decision) error {
	if !Notifiable(d) {
		zap.L().Debug("telegram: skipping decision without offer",
			zap.String("normalized_name", d.NormalizedName),
		)
		return nil
	}
	return t.Send(ctx, FormatDecision(d))
}

// Send posts text to the chat, split into chunks of MaxMessageLen.
func (t *Telegram) Send(ctx context.Context, text string) error {
	for _, chunk := range Chunk(text, MaxMessageLen) {
		if err := t.sendOne(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (t *Telegram) sendOne(ctx context.Context, text string) error {
	if t.limiter != nil {
		if err := t.limiter.Wait(ctx); err != nil {
			return eris.Wrap(err, "telegram: rate limit wait")
		}
	}

	body, err := json.Marshal(map[string]any{
		"chat_id":                  t.chatID,
		"text":                     text,
		"disable_web_page_preview": true,
	})
	if err != nil {
		return eris.Wrap(err, "telegram: marshal payload")
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return eris.Wrap(err, "telegram: create request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		// The URL embeds the bot token; keep it out of the error.
		var uerr *neturl.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return resilience.NewTransientError(eris.Wrap(err, "telegram: send request"), 0)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		err := eris.Errorf("telegram: status %d: %s", resp.StatusCode, string(respBody))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return resilience.NewTransientError(err, resp.StatusCode)
		}
		return err
	}
	return nil
}
