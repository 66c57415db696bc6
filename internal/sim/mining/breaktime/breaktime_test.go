package breaktime

import (
	"math"
	"testing"

	"digtick.dev/internal/sim/mining/modifiers"
)

type staticRules map[string]Rule

func (r staticRules) Rule(tool, material string) Rule { return r[tool+"/"+material] }

var testRules = staticRules{
	"IRON_PICKAXE/STONE":    {Effective: true, Appropriate: true, BaseSpeed: 6},
	"WOOD_PICKAXE/STONE":    {Effective: true, Appropriate: true, BaseSpeed: 2},
	"GOLD_PICKAXE/IRON_ORE": {Effective: true, Appropriate: false, BaseSpeed: 12},
	"/DIRT":                 {Effective: false, Appropriate: true},
}

func calc() *Calculator { return New(testRules, modifiers.DefaultConfig()) }

func onGround() modifiers.Context { return modifiers.Context{Grounded: true} }

func TestEvaluate_ZeroHardnessIsInstant(t *testing.T) {
	if got := calc().Evaluate(0, "", "TORCH", onGround()); got.Kind != KindInstant {
		t.Fatalf("expected INSTANT, got %s", got.Kind)
	}
}

func TestEvaluate_NegativeHardnessIsUnbreakable(t *testing.T) {
	if got := calc().Evaluate(-1, "IRON_PICKAXE", "BEDROCK", onGround()); got.Kind != KindUnbreakable {
		t.Fatalf("expected UNBREAKABLE, got %s", got.Kind)
	}
	if got := calc().Evaluate(math.NaN(), "IRON_PICKAXE", "STONE", onGround()); got.Kind != KindUnbreakable {
		t.Fatalf("expected UNBREAKABLE for NaN hardness, got %s", got.Kind)
	}
}

func TestEvaluate_IronPickaxeOnStone(t *testing.T) {
	got := calc().Evaluate(1.5, "IRON_PICKAXE", "STONE", onGround())
	if got.Kind != KindTicks || got.Ticks != 8 {
		t.Fatalf("expected 8 ticks, got %+v", got)
	}
}

func TestEvaluate_HandOnDirt(t *testing.T) {
	// 1 / 0.5 / 30 -> 15 ticks (0.75s).
	got := calc().Evaluate(0.5, "", "DIRT", onGround())
	if got.Kind != KindTicks || got.Ticks != 15 {
		t.Fatalf("expected 15 ticks, got %+v", got)
	}
}

func TestEvaluate_HandOnStoneUsesGenericCurve(t *testing.T) {
	// 1 / 1.5 / 100 -> 150 ticks (7.5s).
	got := calc().Evaluate(1.5, "", "STONE", onGround())
	if got.Kind != KindTicks || got.Ticks != 150 {
		t.Fatalf("expected 150 ticks, got %+v", got)
	}
}

func TestEvaluate_EffectiveButNotAppropriate(t *testing.T) {
	// 12 / 3 / 100 -> 25 ticks.
	got := calc().Evaluate(3, "GOLD_PICKAXE", "IRON_ORE", onGround())
	if got.Kind != KindTicks || got.Ticks != 25 {
		t.Fatalf("expected 25 ticks, got %+v", got)
	}
}

func TestEvaluate_StrongModifiersBecomeInstant(t *testing.T) {
	ctx := onGround()
	ctx.Efficiency = 5
	ctx.Haste = 2
	// (6 + 26) * 1.4 = 44.8; 44.8 / 1.5 / 30 = 0.9955 -> 2 ticks.
	if got := calc().Evaluate(1.5, "IRON_PICKAXE", "STONE", ctx); got.Kind != KindTicks || got.Ticks != 2 {
		t.Fatalf("expected 2 ticks, got %+v", got)
	}
	// 44.8 / 0.5 / 30 > 1 -> instant.
	if got := calc().Evaluate(0.5, "IRON_PICKAXE", "STONE", ctx); got.Kind != KindInstant {
		t.Fatalf("expected INSTANT, got %+v", got)
	}
}

func TestEvaluate_EfficiencyIgnoredWhenToolNotEffective(t *testing.T) {
	ctx := onGround()
	ctx.Efficiency = 5
	got := calc().Evaluate(0.5, "", "DIRT", ctx)
	if got.Kind != KindTicks || got.Ticks != 15 {
		t.Fatalf("efficiency must not apply to the hand, got %+v", got)
	}
}

func TestEvaluate_EnvironmentSlowsDown(t *testing.T) {
	ctx := modifiers.Context{Submerged: true, Grounded: false}
	// 6/25 / 1.5 / 30 -> 1/0.005333 = 187.5 -> 188.
	got := calc().Evaluate(1.5, "IRON_PICKAXE", "STONE", ctx)
	if got.Kind != KindTicks || got.Ticks != 188 {
		t.Fatalf("expected 188 ticks, got %+v", got)
	}
}

func TestEvaluate_ExactQuotientsDoNotRoundUp(t *testing.T) {
	// 2 / 2 / 30 -> exactly 30 ticks, float noise must not make it 31.
	got := calc().Evaluate(2, "WOOD_PICKAXE", "STONE", onGround())
	if got.Kind != KindTicks || got.Ticks != 30 {
		t.Fatalf("expected 30 ticks, got %+v", got)
	}
}

func TestEvaluate_NilRulesFallsBackToHand(t *testing.T) {
	c := New(nil, modifiers.DefaultConfig())
	got := c.Evaluate(1, "IRON_PICKAXE", "STONE", onGround())
	if got.Kind != KindTicks || got.Ticks != 100 {
		t.Fatalf("expected 100 ticks, got %+v", got)
	}
}

func TestSeconds(t *testing.T) {
	if got := Seconds(8, 20); got != 0.4 {
		t.Fatalf("expected 0.4s, got %v", got)
	}
	if got := Seconds(8, 0); got != 0 {
		t.Fatalf("expected 0 for bad tick rate, got %v", got)
	}
}
