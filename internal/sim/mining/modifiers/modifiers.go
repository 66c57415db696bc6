// Package modifiers composes the per-tick mining rate from enchantment, status
// effect and environment adjustments. Everything here is pure.
package modifiers

import "math"

// DefaultEnvironmentDivisor is the vanilla penalty for digging underwater or in the air.
const DefaultEnvironmentDivisor = 5.0

// Context is what the actor brings to the dig this tick.
type Context struct {
	// Efficiency is the held tool's efficiency enchantment level (0 = none).
	Efficiency int
	Haste      int
	Fatigue    int

	// Submerged means the actor's head is in liquid without a countermeasure.
	Submerged bool
	Grounded  bool
}

// Config carries the tunable environment penalties.
type Config struct {
	LiquidDivisor float64
	AirDivisor    float64
}

func DefaultConfig() Config {
	return Config{LiquidDivisor: DefaultEnvironmentDivisor, AirDivisor: DefaultEnvironmentDivisor}
}

func (c Config) normalized() Config {
	if !(c.LiquidDivisor > 0) || math.IsInf(c.LiquidDivisor, 0) {
		c.LiquidDivisor = DefaultEnvironmentDivisor
	}
	if !(c.AirDivisor > 0) || math.IsInf(c.AirDivisor, 0) {
		c.AirDivisor = DefaultEnvironmentDivisor
	}
	return c
}

// Apply runs baseRate through the pipeline: efficiency, haste, fatigue, then the
// environment. The result is never negative; 0 means no progress.
func Apply(baseRate float64, ctx Context, cfg Config) float64 {
	cfg = cfg.normalized()

	rate := baseRate
	rate += EfficiencyBonus(ctx.Efficiency)
	rate *= HasteMultiplier(ctx.Haste)
	rate *= FatigueMultiplier(ctx.Fatigue)

	// Both penalties stack.
	if ctx.Submerged {
		rate /= cfg.LiquidDivisor
	}
	if !ctx.Grounded {
		rate /= cfg.AirDivisor
	}

	if math.IsNaN(rate) || rate < 0 {
		return 0
	}
	return rate
}

// EfficiencyBonus is the additive level²+1 bonus, or 0 without the enchantment.
func EfficiencyBonus(level int) float64 {
	if level <= 0 {
		return 0
	}
	l := float64(level)
	return l*l + 1
}

// HasteMultiplier grows 20% per level.
func HasteMultiplier(level int) float64 {
	if level <= 0 {
		return 1
	}
	return 1 + 0.2*float64(level)
}

// FatigueMultiplier is tiered, not cumulative.
func FatigueMultiplier(level int) float64 {
	switch {
	case level <= 0:
		return 1
	case level == 1:
		return 0.3
	case level == 2:
		return 0.09
	case level == 3:
		return 0.0027
	default:
		return 0.00081
	}
}
