package resilience

import (
	"time"

	"github.com/sells-group/resale-arb/internal/model"
)

// FromRetryConfig converts config values to a RetryConfig. Zero values keep
// the defaults.
func FromRetryConfig(maxAttempts, initialBackoffMs, maxBackoffMs int) RetryConfig {
	cfg := DefaultRetryConfig()
	if maxAttempts > 0 {
		cfg.MaxAttempts = maxAttempts
	}
	if initialBackoffMs > 0 {
		cfg.InitialBackoff = time.Duration(initialBackoffMs) * time.Millisecond
	}
	if maxBackoffMs > 0 {
		cfg.MaxBackoff = time.Duration(maxBackoffMs) * time.Millisecond
	}
	return cfg
}

// FromBreakerConfig converts config values to a BreakerConfig. Configured
// per-provider thresholds override the built-in ones.
func FromBreakerConfig(enabled bool, defaultThreshold int, overrides map[string]int) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Enabled = enabled
	if defaultThreshold > 0 {
		cfg.DefaultThreshold = defaultThreshold
	}
	for id, t := range overrides {
		if t > 0 {
			cfg.Thresholds[model.ProviderID(id)] = t
		}
	}
	return cfg
}
