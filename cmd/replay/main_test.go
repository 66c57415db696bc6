package main

import (
	"io"
	"log"
	"path/filepath"
	"testing"

	persistlog "digtick.dev/internal/persistence/log"
	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/tasks"
	"digtick.dev/internal/sim/world"
)

func TestReadBreaksAndReplay(t *testing.T) {
	data := t.TempDir()
	bl := persistlog.NewBreakLogger(data)
	recs := []world.BreakRecord{
		{Tick: 3, Actor: "a", Name: "alice", Pos: [3]int{0, 60, 0}, Material: "STONE"},
		{Tick: 5, Actor: "a", Name: "alice", Pos: [3]int{0, 63, 0}, Material: "DIRT"},
		{Tick: 9, Actor: "b", Pos: [3]int{0, 60, 0}, Material: "STONE"},
	}
	for _, r := range recs {
		if err := bl.WriteBreak(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := bl.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	got, err := readBreaks(filepath.Join(data, "breaks"))
	if err != nil {
		t.Fatalf("readBreaks: %v", err)
	}
	if len(got) != 3 || got[2].Tick != 9 {
		t.Fatalf("records: %+v", got)
	}

	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	w := world.New(world.WorldConfig{GroundY: 64, StoneDepth: 60}, cats, log.New(io.Discard, "", 0))
	res, err := replay(w, got)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	// The second STONE break hits air.
	if res.Applied != 2 || res.Mismatched != 1 {
		t.Fatalf("replay result: %+v", res)
	}
	if w.BlockAt(tasks.Vec3i{Y: 63}) != "AIR" {
		t.Fatalf("dirt should be gone after replay")
	}

	lines := summarize(got, "")
	want := []string{"alice (a) DIRT=1", "alice (a) STONE=1", "b STONE=1"}
	if len(lines) != len(want) {
		t.Fatalf("summary: %v", lines)
	}
	for i := range want {
		if lines[i] != want[i] {
			t.Fatalf("summary[%d]=%q want %q", i, lines[i], want[i])
		}
	}
	if only := summarize(got, "b"); len(only) != 1 {
		t.Fatalf("filtered summary: %v", only)
	}
}
