package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/resale-arb/internal/config"
	"github.com/sells-group/resale-arb/internal/cost"
	"github.com/sells-group/resale-arb/internal/model"
	"github.com/sells-group/resale-arb/internal/monitoring"
	"github.com/sells-group/resale-arb/internal/normalize"
	"github.com/sells-group/resale-arb/internal/notify"
	"github.com/sells-group/resale-arb/internal/orchestrator"
	"github.com/sells-group/resale-arb/internal/provider"
	"github.com/sells-group/resale-arb/internal/scorer"
	"github.com/sells-group/resale-arb/internal/store"
	anthropicpkg "github.com/sells-group/resale-arb/pkg/anthropic"
	"github.com/sells-group/resale-arb/pkg/notion"
)

// scanEnv holds the initialized store, sinks, and orchestrator needed by the
// scan and serve commands.
type scanEnv struct {
	Store        store.Store // nil when store.driver is none
	Orchestrator *orchestrator.Orchestrator
	Checker      *monitoring.Checker // nil when monitoring is disabled

	closers []func()
}

// Close releases resources held by the environment.
func (e *scanEnv) Close() {
	for i := len(e.closers) - 1; i >= 0; i-- {
		e.closers[i]()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initScanEnv validates the config for mode, opens and migrates the store,
// and wires providers, normalizer, sinks, and monitoring into an
// Orchestrator. profile overrides strategy.profile when set. Callers should
// defer env.Close().
func initScanEnv(ctx context.Context, c *config.Config, mode, profile string) (*scanEnv, error) {
	if err := c.Validate(mode); err != nil {
		return nil, err
	}
	if err := scorer.ValidateConfig(scorer.WithDefaults(c.Scoring)); err != nil {
		return nil, err
	}
	if profile == "" {
		profile = c.Strategy.Profile
	}
	calc, err := cost.NewCalculator(profile, c.Strategy.Profiles)
	if err != nil {
		return nil, err
	}

	env := &scanEnv{}

	st, err := initStore(ctx, c.Store)
	if err != nil {
		return nil, err
	}
	if st != nil {
		if err := st.Migrate(ctx); err != nil {
			_ = st.Close()
			return nil, eris.Wrap(err, "migrate store")
		}
		env.Store = st
	}

	reg, err := buildRegistry(c)
	if err != nil {
		env.Close()
		return nil, err
	}

	norm := buildNormalizer(ctx, c, env)
	telegram := buildTelegram(c.Telegram)

	var notifiers []orchestrator.Notifier
	if telegram != nil {
		notifiers = append(notifiers, telegram)
	}
	if c.Notion.Token != "" && c.Notion.OpportunityDB != "" {
		notifiers = append(notifiers, notify.NewNotionSink(notion.NewClient(c.Notion.Token), c.Notion.OpportunityDB))
		zap.L().Info("notion sink enabled")
	}

	opts := []orchestrator.Option{
		orchestrator.WithNotifiers(notifiers...),
		orchestrator.WithScorer(scorer.New(c.Scoring)),
	}
	if env.Store != nil {
		opts = append(opts,
			orchestrator.WithPersister(env.Store),
			orchestrator.WithHistory(env.Store),
			orchestrator.WithExclusions(env.Store),
			orchestrator.WithRunRecorder(env.Store),
		)
	}

	if c.Monitoring.Enabled {
		var senders []monitoring.Sender
		if telegram != nil {
			senders = append(senders, telegram)
		}
		var collector *monitoring.Collector
		if env.Store != nil {
			collector = monitoring.NewCollector(env.Store)
		}
		env.Checker = monitoring.NewChecker(collector, monitoring.NewAlerter(c.Monitoring, senders...), c.Monitoring)
		checker := env.Checker
		opts = append(opts, orchestrator.WithRunHook(func(ctx context.Context, r model.RunReport) {
			checker.CheckReport(ctx, r)
		}))
	}

	env.Orchestrator = orchestrator.New(reg, norm, calc, orchestrator.ConfigFrom(c), opts...)

	zap.L().Info("scan environment ready",
		zap.String("mode", mode),
		zap.String("profile", env.Orchestrator.Profile()),
		zap.String("store", c.Store.Driver),
		zap.Int("providers", len(reg.IDs())),
		zap.Int("notifiers", len(notifiers)),
	)
	return env, nil
}

// initStore opens the configured backend. It returns a nil Store for the
// "none" driver.
func initStore(ctx context.Context, c config.StoreConfig) (store.Store, error) {
	switch c.Driver {
	case "sqlite":
		dsn := c.DatabaseURL
		if dsn == "" {
			dsn = "resale-arb.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, c.DatabaseURL, &store.PoolConfig{MaxConns: c.MaxConns})
	case "none":
		return nil, nil
	default:
		return nil, eris.Errorf("unsupported store driver: %s", c.Driver)
	}
}

// buildRegistry registers an HTTP provider for every known provider with a
// base_url. Providers without one are left out and their categories route to
// the remaining providers.
func buildRegistry(c *config.Config) (*provider.Registry, error) {
	reg, err := provider.NewRegistry()
	if err != nil {
		return nil, err
	}
	for _, id := range []model.ProviderID{model.ProviderMPB, model.ProviderTrendDevice, model.ProviderRebuy} {
		pc := c.Provider(string(id))
		if pc.BaseURL == "" {
			zap.L().Debug("provider not configured, skipping", zap.String("provider", string(id)))
			continue
		}
		opts := []provider.HTTPOption{provider.WithIdentifierLookup(pc.AcceptsIdentifier)}
		if pc.Token != "" {
			opts = append(opts, provider.WithToken(pc.Token))
		}
		if err := reg.Register(provider.NewHTTPProvider(id, pc.BaseURL, opts...)); err != nil {
			return nil, err
		}
	}
	if len(reg.IDs()) == 0 {
		zap.L().Warn("no providers configured; every decision will have no offers")
	}
	return reg, nil
}

// buildNormalizer picks the LLM normalizer when an Anthropic key is set and
// fronts it with the Redis cache when redis.addr is set. A Redis connection
// failure falls back to the uncached normalizer.
func buildNormalizer(ctx context.Context, c *config.Config, env *scanEnv) normalize.Normalizer {
	if c.Anthropic.Key == "" {
		zap.L().Info("anthropic key not set, using heuristic normalizer")
		return normalize.Heuristic{}
	}
	var norm normalize.Normalizer = normalize.NewLLM(anthropicpkg.NewClient(c.Anthropic.Key), c.Anthropic.Model)

	if c.Redis.Addr == "" {
		return norm
	}
	kv, err := normalize.NewRedisKV(ctx, normalize.RedisConfig{
		Addr:     c.Redis.Addr,
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
	})
	if err != nil {
		zap.L().Warn("redis unavailable, normalization cache disabled", zap.Error(err))
		return norm
	}
	env.closers = append(env.closers, func() { _ = kv.Close() })
	return normalize.NewCached(norm, kv, time.Duration(c.Redis.TTLHours)*time.Hour)
}

func buildTelegram(c config.TelegramConfig) *notify.Telegram {
	if c.BotToken == "" || c.ChatID == "" {
		return nil
	}
	var opts []notify.TelegramOption
	if c.RPS > 0 {
		opts = append(opts, notify.WithTelegramRate(c.RPS))
	}
	zap.L().Info("telegram sink enabled")
	return notify.NewTelegram(c.BotToken, c.ChatID, opts...)
}
