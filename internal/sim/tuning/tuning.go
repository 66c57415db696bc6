package tuning

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"digtick.dev/internal/sim/mining/modifiers"
	"digtick.dev/internal/sim/tasks"
)

type Tuning struct {
	TickRateHz int `yaml:"tick_rate_hz"`

	Mining    Mining    `yaml:"mining"`
	Modifiers Modifiers `yaml:"modifiers"`
	World     World     `yaml:"world"`
}

type Mining struct {
	SaveProgress            bool `yaml:"save_progress"`
	CleanupDelaySeconds     int  `yaml:"cleanup_delay_seconds"`
	CleanupThresholdSeconds int  `yaml:"cleanup_threshold_seconds"`
	BroadcastAnimation      bool `yaml:"broadcast_animation"`
}

type Modifiers struct {
	LiquidDivisor float64 `yaml:"liquid_divisor"`
	AirDivisor    float64 `yaml:"air_divisor"`
}

type World struct {
	GroundY    int   `yaml:"ground_y"`
	StoneDepth int   `yaml:"stone_depth"`
	Seed       int64 `yaml:"seed"`
	// StarterItems are given to every player on join.
	StarterItems map[string]int `yaml:"starter_items"`
	// SnapshotEveryTicks is how often block edits are written to disk; 0 disables.
	SnapshotEveryTicks uint64 `yaml:"snapshot_every_ticks"`
}

func Defaults() Tuning {
	return Tuning{
		TickRateHz: 20,
		Mining: Mining{
			SaveProgress:            true,
			CleanupDelaySeconds:     10,
			CleanupThresholdSeconds: 300,
			BroadcastAnimation:      true,
		},
		Modifiers: Modifiers{
			LiquidDivisor: modifiers.DefaultEnvironmentDivisor,
			AirDivisor:    modifiers.DefaultEnvironmentDivisor,
		},
		World: World{
			GroundY:    64,
			StoneDepth: 60,
			Seed:       1337,
			StarterItems: map[string]int{
				"IRON_PICKAXE": 1,
				"IRON_SHOVEL":  1,
				"IRON_AXE":     1,
			},
			SnapshotEveryTicks: 6000,
		},
	}
}

// Load reads tuning.yaml on top of Defaults. An empty path yields the defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	t.Normalize()
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t *Tuning) Normalize() {
	if t == nil {
		return
	}
	if t.TickRateHz <= 0 {
		t.TickRateHz = 20
	}
	if t.Modifiers.LiquidDivisor <= 0 {
		t.Modifiers.LiquidDivisor = modifiers.DefaultEnvironmentDivisor
	}
	if t.Modifiers.AirDivisor <= 0 {
		t.Modifiers.AirDivisor = modifiers.DefaultEnvironmentDivisor
	}
}

func (t Tuning) Validate() error {
	if t.TickRateHz > 1000 {
		return fmt.Errorf("tick_rate_hz too high: %d", t.TickRateHz)
	}
	if t.Mining.CleanupDelaySeconds < 0 {
		return fmt.Errorf("mining.cleanup_delay_seconds must be >= 0")
	}
	if t.Mining.CleanupThresholdSeconds <= 0 {
		return fmt.Errorf("mining.cleanup_threshold_seconds must be > 0")
	}
	if t.Mining.CleanupThresholdSeconds < t.Mining.CleanupDelaySeconds {
		return fmt.Errorf("mining.cleanup_threshold_seconds (%d) < cleanup_delay_seconds (%d)",
			t.Mining.CleanupThresholdSeconds, t.Mining.CleanupDelaySeconds)
	}
	if t.World.StoneDepth < 0 {
		return fmt.Errorf("world.stone_depth must be >= 0")
	}
	for item, n := range t.World.StarterItems {
		if n < 0 {
			return fmt.Errorf("world.starter_items[%s] must be >= 0", item)
		}
	}
	return nil
}

// GraceTicks is how long a paused task keeps its progress.
func (t Tuning) GraceTicks() int { return t.Mining.CleanupDelaySeconds * t.TickRateHz }

// CeilingTicks is the hard lifetime of any task.
func (t Tuning) CeilingTicks() int { return t.Mining.CleanupThresholdSeconds * t.TickRateHz }

func (t Tuning) Limits() tasks.Limits {
	return tasks.Limits{GraceTicks: t.GraceTicks(), CeilingTicks: t.CeilingTicks()}
}

func (t Tuning) ModifierConfig() modifiers.Config {
	return modifiers.Config{
		LiquidDivisor: t.Modifiers.LiquidDivisor,
		AirDivisor:    t.Modifiers.AirDivisor,
	}
}
