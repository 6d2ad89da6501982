package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertProviderDisabled AlertType = "provider_disabled"
	AlertTimeoutRate      AlertType = "timeout_rate"
	AlertNoValidQuotes    AlertType = "no_valid_quotes"
	AlertSinkFailures     AlertType = "sink_failures"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	RunID     string         `json:"run_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Sender delivers a plain-text alert (Telegram implements it).
type Sender interface {
	Send(ctx context.Context, text string) error
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts to the webhook and any senders.
type Alerter struct {
	cfg     config.MonitoringConfig
	client  *http.Client
	senders []Sender
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig, senders ...Sender) *Alerter {
	return &Alerter{
		cfg:     cfg,
		client:  &http.Client{Timeout: 10 * time.Second},
		senders: senders,
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	if snap == nil {
		return nil
	}
	var alerts []Alert
	now := time.Now().UTC()
	minAttempts := a.cfg.MinAttempts
	if minAttempts <= 0 {
		minAttempts = 5
	}

	for _, p := range snap.DisabledProviders {
		alerts = append(alerts, Alert{
			Type:      AlertProviderDisabled,
			Severity:  "high",
			Message:   fmt.Sprintf("Provider %s disabled by circuit breaker in run %s", p, snap.RunID),
			RunID:     snap.RunID,
			Details:   map[string]any{"provider": string(p)},
			Timestamp: now,
		})
	}

	if snap.Attempts >= minAttempts && snap.Valid == 0 {
		alerts = append(alerts, Alert{
			Type:     AlertNoValidQuotes,
			Severity: "high",
			Message:  fmt.Sprintf("No valid quotes in run %s (%d attempts)", snap.RunID, snap.Attempts),
			RunID:    snap.RunID,
			Details: map[string]any{
				"attempts":      snap.Attempts,
				"hard_failures": snap.HardFailures,
			},
			Timestamp: now,
		})
	}

	if a.cfg.TimeoutRateThreshold > 0 && snap.Attempts >= minAttempts && snap.TimeoutRate > a.cfg.TimeoutRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertTimeoutRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Timeout rate %.1f%% exceeds threshold %.1f%% (%d / %d attempts)",
				snap.TimeoutRate*100, a.cfg.TimeoutRateThreshold*100, snap.Timeouts, snap.Attempts,
			),
			RunID: snap.RunID,
			Details: map[string]any{
				"timeout_rate": snap.TimeoutRate,
				"threshold":    a.cfg.TimeoutRateThreshold,
			},
			Timestamp: now,
		})
	}

	if a.cfg.SinkFailureThreshold > 0 && snap.SinkFailures >= a.cfg.SinkFailureThreshold {
		alerts = append(alerts, Alert{
			Type:      AlertSinkFailures,
			Severity:  "medium",
			Message:   fmt.Sprintf("%d sink call(s) failed in run %s", snap.SinkFailures, snap.RunID),
			RunID:     snap.RunID,
			Details:   map[string]any{"sink_failures": snap.SinkFailures},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the webhook and senders. It returns the
// number of alerts delivered to at least one channel.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if len(alerts) == 0 || (a.cfg.WebhookURL == "" && len(a.senders) == 0) {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		delivered := false
		if a.cfg.WebhookURL != "" {
			if err := a.sendWebhook(ctx, alert); err != nil {
				zap.L().Error("monitoring: failed to send alert",
					zap.String("type", string(alert.Type)),
					zap.Error(err),
				)
			} else {
				delivered = true
			}
		}
		for _, s := range a.senders {
			if err := s.Send(ctx, formatAlert(alert)); err != nil {
				zap.L().Error("monitoring: failed to send alert",
					zap.String("type", string(alert.Type)),
					zap.Error(err),
				)
				continue
			}
			delivered = true
		}
		if delivered {
			zap.L().Info("monitoring: alert sent",
				zap.String("type", string(alert.Type)),
				zap.String("severity", alert.Severity),
			)
			sent++
		}
	}
	return sent
}

func formatAlert(alert Alert) string {
	return fmt.Sprintf("⚠️ [%s] %s\n%s", strings.ToUpper(alert.Severity), alert.Type, alert.Message)
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
