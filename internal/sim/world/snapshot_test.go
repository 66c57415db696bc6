package world_test

import (
	"io"
	"log"
	"testing"

	"digtick.dev/internal/persistence/snapshot"
	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/tasks"
	"digtick.dev/internal/sim/world"
	"digtick.dev/internal/sim/worldtest"
)

func TestSnapshot_ExportImport(t *testing.T) {
	h := newHarness(t)
	s := h.Join("alice")
	h.Hold(s, "IRON_PICKAXE", 0)
	pos := stoneAt(3)
	h.Dig(s, protocol.DigStart, pos, 2)
	h.TickN(8)
	h.W.SetBlock(tasks.Vec3i{X: 1, Y: 65}, "TORCH")
	// Restoring generated terrain leaves no edit behind.
	h.W.SetBlock(tasks.Vec3i{X: 9, Y: 65}, "TORCH")
	h.W.SetBlock(tasks.Vec3i{X: 9, Y: 65}, "AIR")

	snap := h.W.ExportSnapshot()
	if snap.Header.Tick != h.W.CurrentTick() || snap.GroundY != 64 || snap.Seed != 7 {
		t.Fatalf("header: %+v", snap)
	}
	want := []snapshot.BlockV1{
		{Pos: [3]int{1, 65, 0}, Material: "TORCH"},
		{Pos: [3]int{3, 60, 0}, Material: "AIR"},
	}
	if len(snap.Blocks) != len(want) {
		t.Fatalf("blocks: %+v", snap.Blocks)
	}
	for i := range want {
		if snap.Blocks[i] != want[i] {
			t.Fatalf("blocks[%d]=%+v want %+v", i, snap.Blocks[i], want[i])
		}
	}

	fresh := world.New(worldtest.DefaultConfig(), h.Cats, log.New(io.Discard, "", 0))
	if err := fresh.ImportSnapshot(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if fresh.CurrentTick() != snap.Header.Tick {
		t.Fatalf("tick not restored: %d", fresh.CurrentTick())
	}
	if fresh.BlockAt(pos) != "AIR" || fresh.BlockAt(tasks.Vec3i{X: 1, Y: 65}) != "TORCH" {
		t.Fatalf("blocks not restored")
	}
	if fresh.BlockAt(stoneAt(4)) != "STONE" {
		t.Fatalf("untouched terrain should stay generated")
	}
}

func TestSnapshot_ImportRejectsMismatch(t *testing.T) {
	cats := worldtest.LoadCatalogs(t, repoConfigs)
	w := world.New(worldtest.DefaultConfig(), cats, log.New(io.Discard, "", 0))

	if err := w.ImportSnapshot(snapshot.SnapshotV1{GroundY: 10, StoneDepth: 60}); err == nil {
		t.Fatalf("expected terrain mismatch error")
	}
	bad := snapshot.SnapshotV1{GroundY: 64, StoneDepth: 60, Blocks: []snapshot.BlockV1{{Material: "UNOBTAINIUM"}}}
	if err := w.ImportSnapshot(bad); err == nil {
		t.Fatalf("expected unknown material error")
	}
}

func TestSnapshot_PeriodicSink(t *testing.T) {
	cfg := worldtest.DefaultConfig()
	cfg.SnapshotEveryTicks = 5
	h := worldtest.NewHarness(t, cfg, worldtest.LoadCatalogs(t, repoConfigs), nil)
	ch := make(chan snapshot.SnapshotV1, 1)
	h.W.SetSnapshotSink(ch)

	h.TickN(4)
	select {
	case snap := <-ch:
		t.Fatalf("snapshot too early at tick %d", snap.Header.Tick)
	default:
	}
	h.Tick()
	select {
	case snap := <-ch:
		if snap.Header.Tick != 5 {
			t.Fatalf("snapshot tick: %d", snap.Header.Tick)
		}
	default:
		t.Fatalf("expected a snapshot at tick 5")
	}

	// A full sink drops rather than blocking the tick.
	ch <- snapshot.SnapshotV1{}
	h.TickN(5)
	if len(ch) != 1 {
		t.Fatalf("sink length: %d", len(ch))
	}
}
