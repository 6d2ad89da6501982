// Package cost computes the operating cost and condition risk buffer that
// turn a gross spread into a net spread.
package cost

import (
	"sort"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/resale-arb/internal/model"
)

// Profile names.
const (
	ProfileConservative = "conservative"
	ProfileBalanced     = "balanced"
	ProfileAggressive   = "aggressive"
)

// Profile is a named bundle of cost and risk parameters. Amounts are EUR.
type Profile struct {
	Name                    string             `yaml:"name" mapstructure:"name" json:"name"`
	OperatingCost           float64            `yaml:"operating_cost" mapstructure:"operating_cost" json:"operating_cost"`
	RiskBuffers             map[string]float64 `yaml:"risk_buffers" mapstructure:"risk_buffers" json:"risk_buffers"`
	PackagingOnlyMultiplier float64            `yaml:"packaging_only_multiplier" mapstructure:"packaging_only_multiplier" json:"packaging_only_multiplier"`
	UncertaintyFloor        float64            `yaml:"uncertainty_floor" mapstructure:"uncertainty_floor" json:"uncertainty_floor"`
	UncertaintyScale        float64            `yaml:"uncertainty_scale" mapstructure:"uncertainty_scale" json:"uncertainty_scale"`
}

// Override adjusts a profile from configuration. Nil fields keep the base
// value, so an explicit 0 switches a cost component off.
type Override struct {
	OperatingCost           *float64           `yaml:"operating_cost,omitempty" mapstructure:"operating_cost" json:"operating_cost,omitempty"`
	RiskBuffers             map[string]float64 `yaml:"risk_buffers,omitempty" mapstructure:"risk_buffers" json:"risk_buffers,omitempty"`
	PackagingOnlyMultiplier *float64           `yaml:"packaging_only_multiplier,omitempty" mapstructure:"packaging_only_multiplier" json:"packaging_only_multiplier,omitempty"`
	UncertaintyFloor        *float64           `yaml:"uncertainty_floor,omitempty" mapstructure:"uncertainty_floor" json:"uncertainty_floor,omitempty"`
	UncertaintyScale        *float64           `yaml:"uncertainty_scale,omitempty" mapstructure:"uncertainty_scale" json:"uncertainty_scale,omitempty"`
}

// DefaultProfiles returns the built-in strategy profiles.
func DefaultProfiles() map[string]Profile {
	return map[string]Profile{
		ProfileConservative: {
			Name:          ProfileConservative,
			OperatingCost: 12,
			RiskBuffers: map[string]float64{
				string(model.ConditionLikeNew):    20,
				string(model.ConditionVeryGood):   30,
				string(model.ConditionGood):       45,
				string(model.ConditionAcceptable): 60,
				string(model.ConditionUnknown):    50,
			},
			PackagingOnlyMultiplier: 0.5,
			UncertaintyFloor:        5,
			UncertaintyScale:        0.08,
		},
		ProfileBalanced: {
			Name:          ProfileBalanced,
			OperatingCost: 8,
			RiskBuffers: map[string]float64{
				string(model.ConditionLikeNew):    12,
				string(model.ConditionVeryGood):   20,
				string(model.ConditionGood):       28,
				string(model.ConditionAcceptable): 34,
				string(model.ConditionUnknown):    30,
			},
			PackagingOnlyMultiplier: 0.6,
			UncertaintyScale:        0.05,
		},
		ProfileAggressive: {
			Name:          ProfileAggressive,
			OperatingCost: 5,
			RiskBuffers: map[string]float64{
				string(model.ConditionLikeNew):    6,
				string(model.ConditionVeryGood):   10,
				string(model.ConditionGood):       16,
				string(model.ConditionAcceptable): 22,
				string(model.ConditionUnknown):    20,
			},
			PackagingOnlyMultiplier: 0.7,
		},
	}
}

// Calculator resolves a profile and prices candidates against it.
type Calculator struct {
	profile Profile
}

// NewCalculator creates a Calculator for the named profile. Overrides replace
// built-in profiles field by field where set.
func NewCalculator(name string, overrides map[string]Override) (*Calculator, error) {
	profiles := Merge(DefaultProfiles(), overrides)
	if name == "" {
		name = ProfileBalanced
	}
	p, ok := profiles[name]
	if !ok {
		return nil, eris.Errorf("cost: unknown strategy profile %q (have %v)", name, Names(profiles))
	}
	return &Calculator{profile: p}, nil
}

// FromProfile creates a Calculator for an explicit profile.
func FromProfile(p Profile) *Calculator {
	return &Calculator{profile: p}
}

// Profile returns the active profile.
func (c *Calculator) Profile() Profile {
	return c.profile
}

// OperatingCost returns the fixed per-flip operating cost.
func (c *Calculator) OperatingCost() decimal.Decimal {
	return decimal.NewFromFloat(c.profile.OperatingCost).Round(2)
}

// RiskBuffer returns the condition risk buffer for candidate: the bucket
// buffer, scaled down for packaging-only damage, plus an uncertainty term
// driven by how sure the condition label is.
func (c *Calculator) RiskBuffer(cand model.Candidate) decimal.Decimal {
	bucket := cand.ConditionBucket()
	base, ok := c.profile.RiskBuffers[string(bucket)]
	if !ok {
		base = c.profile.RiskBuffers[string(model.ConditionUnknown)]
	}
	buf := decimal.NewFromFloat(base)
	if cand.PackagingOnly && c.profile.PackagingOnlyMultiplier > 0 {
		buf = buf.Mul(decimal.NewFromFloat(c.profile.PackagingOnlyMultiplier))
	}

	if c.profile.UncertaintyFloor > 0 || c.profile.UncertaintyScale > 0 {
		conf := cand.ConditionConfidence
		if conf < 0 {
			conf = 0
		}
		if conf > 1 {
			conf = 1
		}
		u := decimal.NewFromFloat(c.profile.UncertaintyScale * (1 - conf)).Mul(cand.Price)
		floor := decimal.NewFromFloat(c.profile.UncertaintyFloor)
		buf = buf.Add(decimal.Max(floor, u))
	}
	return buf.Round(2)
}

// Merge overlays overrides onto base. A nil field in an override keeps the
// base value; risk buffers merge per bucket.
func Merge(base map[string]Profile, overrides map[string]Override) map[string]Profile {
	out := make(map[string]Profile, len(base)+len(overrides))
	for k, p := range base {
		out[k] = cloneProfile(p)
	}
	for name, o := range overrides {
		p, ok := out[name]
		if !ok {
			p = Profile{Name: name, RiskBuffers: map[string]float64{}}
		}
		if o.OperatingCost != nil {
			p.OperatingCost = *o.OperatingCost
		}
		if o.PackagingOnlyMultiplier != nil {
			p.PackagingOnlyMultiplier = *o.PackagingOnlyMultiplier
		}
		if o.UncertaintyFloor != nil {
			p.UncertaintyFloor = *o.UncertaintyFloor
		}
		if o.UncertaintyScale != nil {
			p.UncertaintyScale = *o.UncertaintyScale
		}
		for b, v := range o.RiskBuffers {
			p.RiskBuffers[b] = v
		}
		p.Name = name
		out[name] = p
	}
	return out
}

// Names returns the sorted profile names.
func Names(profiles map[string]Profile) []string {
	names := make([]string, 0, len(profiles))
	for n := range profiles {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func cloneProfile(p Profile) Profile {
	rb := make(map[string]float64, len(p.RiskBuffers))
	for k, v := range p.RiskBuffers {
		rb[k] = v
	}
	p.RiskBuffers = rb
	return p
}
