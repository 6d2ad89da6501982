// Package scorer ranks arbitrage candidates from historical outcomes so a
// fixed evaluation budget goes to the most promising listings first.
package scorer

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/resale-arb/internal/config"
	"github.com/sells-group/resale-arb/internal/model"
)

// DefaultScoringConfig returns a config.ScoringConfig with the tuned
// defaults. The constants are empirical; every one can be overridden.
func DefaultScoringConfig() config.ScoringConfig {
	return config.ScoringConfig{
		Enabled:            true,
		LookbackDays:       30,
		HistoryLimit:       2000,
		HistoryTimeoutSecs: 10,
		DomesticShare:      0.5,
		EUShare:            0.5,

		ConfidenceWeight:       20,
		ConfidenceSaturation:   6,
		ExactDefaultConfidence: 0.8,
		CategoryConfidence:     0.55,
		FallbackConfidence:     0.25,
		OwnSpreadWeight:        0.75,

		HealthMinSamples:  6,
		HealthDefaultRate: 0.6,
		HealthTiers: []config.HealthTier{
			{Below: 0.20, Adjust: -180},
			{Below: 0.35, Adjust: -120},
			{Below: 0.50, Adjust: -70},
		},
		HealthBonusAbove: 0.85,
		HealthBonus:      20,

		FallbackRatios: map[string]float64{
			string(model.CategoryApplePhone):      0.38,
			string(model.CategorySmartwatch):      0.34,
			string(model.CategoryDrone):           0.33,
			string(model.CategoryHandheldConsole): 0.35,
			string(model.CategoryPhotography):     0.30,
			string(model.CategoryGeneralTech):     0.22,
		},
		DefaultFallbackRatio: 0.20,

		LiquidityPatterns: []config.LiquidityPattern{
			{Pattern: `\biphone\b`, Bonus: 65},
			{Pattern: `\biphone\s*(14|15|16)\b`, Bonus: 35},
			{Pattern: `\bpro\s*max\b`, Bonus: 25},
			{Pattern: `\bapple watch ultra\b`, Bonus: 45},
			{Pattern: `\bgarmin\s*(fenix|epix)\b`, Bonus: 45},
			{Pattern: `\bforerunner\b`, Bonus: 28},
			{Pattern: `\bdji\s*(mini|air|mavic|avata)\b`, Bonus: 42},
			{Pattern: `\bdrone\b`, Bonus: 26},
			{Pattern: `\bsteam deck\b`, Bonus: 44},
			{Pattern: `\brog ally\b`, Bonus: 46},
			{Pattern: `\blegion go\b`, Bonus: 44},
			{Pattern: `\bmacbook\s*(air|pro)\b`, Bonus: 48},
			{Pattern: `\bcanon\s*eos\b`, Bonus: 40},
			{Pattern: `\bsony\s*alpha\b`, Bonus: 40},
			{Pattern: `\bplaystation\s*5\b|\bps5\b`, Bonus: 42},
			{Pattern: `\bxbox\s*series\s*x\b`, Bonus: 35},
		},
	}
}

// WithDefaults fills zero-valued fields of c from DefaultScoringConfig. A
// zero listed in c.Explicit is kept. The Enabled flag is taken from c as-is.
func WithDefaults(c config.ScoringConfig) config.ScoringConfig {
	d := DefaultScoringConfig()
	d.Enabled = c.Enabled
	d.Explicit = c.Explicit
	set := func(key string, nonZero bool) bool {
		return nonZero || c.Explicit[key]
	}

	if c.LookbackDays > 0 {
		d.LookbackDays = c.LookbackDays
	}
	if c.HistoryLimit > 0 {
		d.HistoryLimit = c.HistoryLimit
	}
	if c.HistoryTimeoutSecs > 0 {
		d.HistoryTimeoutSecs = c.HistoryTimeoutSecs
	}
	if set("domestic_share", c.DomesticShare > 0) {
		d.DomesticShare = c.DomesticShare
	}
	if set("eu_share", c.EUShare > 0) {
		d.EUShare = c.EUShare
	}
	if set("confidence_weight", c.ConfidenceWeight != 0) {
		d.ConfidenceWeight = c.ConfidenceWeight
	}
	if c.ConfidenceSaturation > 0 {
		d.ConfidenceSaturation = c.ConfidenceSaturation
	}
	if set("exact_default_confidence", c.ExactDefaultConfidence > 0) {
		d.ExactDefaultConfidence = c.ExactDefaultConfidence
	}
	if set("category_confidence", c.CategoryConfidence > 0) {
		d.CategoryConfidence = c.CategoryConfidence
	}
	if set("fallback_confidence", c.FallbackConfidence > 0) {
		d.FallbackConfidence = c.FallbackConfidence
	}
	if set("own_spread_weight", c.OwnSpreadWeight > 0) {
		d.OwnSpreadWeight = c.OwnSpreadWeight
	}
	if set("health_min_samples", c.HealthMinSamples > 0) {
		d.HealthMinSamples = c.HealthMinSamples
	}
	if set("health_default_rate", c.HealthDefaultRate > 0) {
		d.HealthDefaultRate = c.HealthDefaultRate
	}
	if len(c.HealthTiers) > 0 {
		d.HealthTiers = c.HealthTiers
	}
	if set("health_bonus_above", c.HealthBonusAbove > 0) {
		d.HealthBonusAbove = c.HealthBonusAbove
	}
	if set("health_bonus", c.HealthBonus != 0) {
		d.HealthBonus = c.HealthBonus
	}
	for k, v := range c.FallbackRatios {
		d.FallbackRatios[k] = v
	}
	if set("default_fallback_ratio", c.DefaultFallbackRatio > 0) {
		d.DefaultFallbackRatio = c.DefaultFallbackRatio
	}
	if len(c.LiquidityPatterns) > 0 {
		d.LiquidityPatterns = c.LiquidityPatterns
	}
	return d
}

// ValidateConfig checks that a ScoringConfig is internally consistent.
func ValidateConfig(c config.ScoringConfig) error {
	var errs []string

	if c.LookbackDays < 1 {
		errs = append(errs, "lookback_days must be >= 1")
	}
	if c.HistoryLimit < 1 {
		errs = append(errs, "history_limit must be >= 1")
	}
	if c.DomesticShare < 0 || c.DomesticShare > 1 {
		errs = append(errs, "domestic_share must be between 0 and 1")
	}
	if c.EUShare < 0 || c.EUShare > 1 {
		errs = append(errs, "eu_share must be between 0 and 1")
	}
	if c.ConfidenceSaturation < 1 {
		errs = append(errs, "confidence_saturation must be >= 1")
	}
	for name, v := range map[string]float64{
		"exact_default_confidence": c.ExactDefaultConfidence,
		"category_confidence":      c.CategoryConfidence,
		"fallback_confidence":      c.FallbackConfidence,
		"own_spread_weight":        c.OwnSpreadWeight,
		"health_default_rate":      c.HealthDefaultRate,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Sprintf("%s must be between 0 and 1", name))
		}
	}
	prev := -1.0
	for i, t := range c.HealthTiers {
		if t.Below <= prev {
			errs = append(errs, fmt.Sprintf("health_tiers[%d].below must be ascending", i))
		}
		prev = t.Below
	}
	for cat, r := range c.FallbackRatios {
		if r <= 0 {
			errs = append(errs, fmt.Sprintf("fallback_ratios.%s must be > 0", cat))
		}
	}
	for i, p := range c.LiquidityPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, fmt.Sprintf("liquidity_patterns[%d]: %v", i, err))
		}
	}

	if len(errs) > 0 {
		return eris.Errorf("scorer: config validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
