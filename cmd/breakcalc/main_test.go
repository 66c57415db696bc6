package main

import (
	"bytes"
	"strings"
	"testing"

	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/mining/breaktime"
	"digtick.dev/internal/sim/mining/modifiers"
)

func TestTable(t *testing.T) {
	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	calc := breaktime.New(cats, modifiers.DefaultConfig())
	rows := table(cats, calc, "IRON_PICKAXE", []string{"STONE", "BEDROCK", "TORCH", "NOPE"}, modifiers.Context{Grounded: true}, 20)
	if len(rows) != 4 {
		t.Fatalf("rows: %d", len(rows))
	}

	stone := rows[0]
	if stone.Outcome.Kind != breaktime.KindTicks || stone.Outcome.Ticks != 8 || stone.Seconds != 0.4 {
		t.Fatalf("stone: %+v", stone)
	}
	if stone.HarvestDrop != "COBBLESTONE" {
		t.Fatalf("stone drop: %q", stone.HarvestDrop)
	}
	if rows[1].Outcome.Kind != breaktime.KindUnbreakable {
		t.Fatalf("bedrock: %+v", rows[1])
	}
	if rows[2].Outcome.Kind != breaktime.KindInstant {
		t.Fatalf("torch: %+v", rows[2])
	}
	if rows[3].Known || rows[3].Outcome.Kind != breaktime.KindUnbreakable {
		t.Fatalf("unknown material should be unbreakable: %+v", rows[3])
	}

	var buf bytes.Buffer
	if err := render(&buf, rows); err != nil {
		t.Fatalf("render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"MATERIAL", "STONE", "TICKS", "NOPE (unknown)", "UNBREAKABLE"} {
		if !strings.Contains(out, want) {
			t.Fatalf("render output missing %q:\n%s", want, out)
		}
	}
}
