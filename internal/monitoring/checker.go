package monitoring

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/config"
	"github.com/sells-group/resale-arb/internal/model"
)

// Checker alerts on each new run at most once.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig

	mu      sync.Mutex
	lastRun string
}

// NewChecker creates an alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run starts the periodic check loop. It blocks until ctx is cancelled.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("starting alert checker", zap.Duration("interval", interval))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

// CheckReport evaluates a run that just finished and returns the number of
// alerts sent.
func (c *Checker) CheckReport(ctx context.Context, r model.RunReport) int {
	return c.handle(ctx, FromReport(r), zap.L())
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	if c.collector == nil {
		return
	}
	snap, err := c.collector.Collect(ctx)
	if err != nil {
		log.Error("monitoring: failed to collect run", zap.Error(err))
		return
	}
	c.handle(ctx, snap, log)
}

func (c *Checker) handle(ctx context.Context, snap *Snapshot, log *zap.Logger) int {
	if snap == nil {
		return 0
	}
	c.mu.Lock()
	if snap.RunID != "" && snap.RunID == c.lastRun {
		c.mu.Unlock()
		return 0
	}
	c.lastRun = snap.RunID
	c.mu.Unlock()

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("monitoring: no alerts triggered", zap.String("run_id", snap.RunID))
		return 0
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("monitoring: alert check complete",
		zap.String("run_id", snap.RunID),
		zap.Int("alerts_triggered", len(alerts)),
		zap.Int("alerts_sent", sent),
	)
	return sent
}
