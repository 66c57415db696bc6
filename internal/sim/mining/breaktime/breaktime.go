// Package breaktime decides whether a target breaks instantly, never, or after a
// number of ticks of progress.
package breaktime

import (
	"fmt"
	"math"

	"digtick.dev/internal/sim/mining/modifiers"
)

const (
	// Damage curve divisors: a tool that can harvest the target exploits its full
	// speed, anything else (including the bare hand) uses the generic curve.
	appropriateDivisor = 30.0
	genericDivisor     = 100.0

	tickEpsilon = 1e-9
)

type Kind int

const (
	KindTicks Kind = iota
	KindInstant
	KindUnbreakable
)

func (k Kind) String() string {
	switch k {
	case KindTicks:
		return "TICKS"
	case KindInstant:
		return "INSTANT"
	case KindUnbreakable:
		return "UNBREAKABLE"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Outcome is the result of one evaluation. Ticks is only meaningful for KindTicks.
type Outcome struct {
	Kind  Kind
	Ticks float64
}

func Instant() Outcome        { return Outcome{Kind: KindInstant} }
func Unbreakable() Outcome    { return Outcome{Kind: KindUnbreakable} }
func Ticks(n float64) Outcome { return Outcome{Kind: KindTicks, Ticks: n} }

// Rule is how a tool relates to a material.
type Rule struct {
	// Effective tools apply their BaseSpeed (and efficiency) to the material.
	Effective bool
	// Appropriate tools can harvest the material and use the fast damage curve.
	Appropriate bool
	BaseSpeed   float64
}

// ToolRules looks up the Rule for a held tool against a material. An empty tool
// means the bare hand.
type ToolRules interface {
	Rule(tool, material string) Rule
}

type Calculator struct {
	Rules     ToolRules
	Modifiers modifiers.Config
}

func New(rules ToolRules, cfg modifiers.Config) *Calculator {
	return &Calculator{Rules: rules, Modifiers: cfg}
}

// Evaluate computes the outcome for one dig attempt. It is safe to call again
// whenever the actor's context changes.
func (c *Calculator) Evaluate(hardness float64, tool, material string, ctx modifiers.Context) Outcome {
	if math.IsNaN(hardness) || math.IsInf(hardness, 0) || hardness < 0 {
		return Unbreakable()
	}
	if hardness == 0 {
		return Instant()
	}

	rule := Rule{}
	if c.Rules != nil {
		rule = c.Rules.Rule(tool, material)
	}

	baseRate := 1.0
	if rule.Effective && rule.BaseSpeed > 0 {
		baseRate = rule.BaseSpeed
	} else {
		// Enchantments only help a tool that is effective on the material.
		ctx.Efficiency = 0
	}

	rate := modifiers.Apply(baseRate, ctx, c.Modifiers)

	divisor := genericDivisor
	if rule.Appropriate {
		divisor = appropriateDivisor
	}
	damagePerTick := rate / hardness / divisor

	if damagePerTick > 1 {
		return Instant()
	}
	if !(damagePerTick > 0) {
		return Unbreakable()
	}
	ticks := math.Ceil(1/damagePerTick - tickEpsilon)
	if math.IsNaN(ticks) || math.IsInf(ticks, 0) || ticks <= 0 {
		return Unbreakable()
	}
	return Ticks(ticks)
}

// Seconds converts a tick count to wall time at the given tick rate.
func Seconds(ticks float64, tickRateHz int) float64 {
	if tickRateHz <= 0 {
		return 0
	}
	return ticks / float64(tickRateHz)
}
