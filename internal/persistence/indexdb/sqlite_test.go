package indexdb

import (
	"context"
	"io"
	"log"
	"path/filepath"
	"testing"

	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/tuning"
	"digtick.dev/internal/sim/world"
)

func quietLogger() *log.Logger { return log.New(io.Discard, "", 0) }

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan world.BreakRecord, 1)}
	s.ch <- world.BreakRecord{Tick: 1}

	_ = s.WriteBreak(world.BreakRecord{Tick: 2})
	_ = s.WriteBreak(world.BreakRecord{Tick: 3})

	st := s.Stats()
	if st.DropBreakTotal != 2 {
		t.Fatalf("DropBreakTotal=%d want=2", st.DropBreakTotal)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}

func TestSQLiteIndex_NilIsNoop(t *testing.T) {
	var s *SQLiteIndex
	if err := s.WriteBreak(world.BreakRecord{}); err != nil {
		t.Fatalf("nil WriteBreak: %v", err)
	}
	if st := s.Stats(); st != (Stats{}) {
		t.Fatalf("nil Stats: %+v", st)
	}
}

func TestSQLiteIndex_WritesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index", "breaks.sqlite")
	idx, err := OpenSQLite(path, quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	recs := []world.BreakRecord{
		{Tick: 10, Actor: "a", Name: "alice", Pos: [3]int{1, 60, 2}, Material: "STONE", Tool: "IRON_PICKAXE", Drop: "COBBLESTONE"},
		{Tick: 12, Actor: "b", Name: "bob", Pos: [3]int{4, 64, 4}, Material: "GRASS_BLOCK"},
		{Tick: 30, Actor: "a", Name: "alice", Pos: [3]int{1, 60, 2}, Material: "COBBLESTONE", Tool: "IRON_PICKAXE", Drop: "COBBLESTONE", ToolBroke: true},
	}
	for _, r := range recs {
		if err := idx.WriteBreak(r); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if st := idx.Stats(); st.WrittenTotal != 3 || st.DropBreakTotal != 0 || st.WriteFailTotal != 0 {
		t.Fatalf("stats after close: %+v", st)
	}
	// Closed index ignores writes.
	if err := idx.WriteBreak(recs[0]); err != nil {
		t.Fatalf("write after close: %v", err)
	}

	idx, err = OpenSQLite(path, quietLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	if n, err := idx.CountBreaks(ctx, ""); err != nil || n != 3 {
		t.Fatalf("CountBreaks(all)=%d err=%v", n, err)
	}
	if n, err := idx.CountBreaks(ctx, "a"); err != nil || n != 2 {
		t.Fatalf("CountBreaks(a)=%d err=%v", n, err)
	}
	rows, err := idx.BreaksAt(ctx, [3]int{1, 60, 2})
	if err != nil {
		t.Fatalf("BreaksAt: %v", err)
	}
	if len(rows) != 2 || rows[0].Material != "STONE" || rows[1].Material != "COBBLESTONE" {
		t.Fatalf("BreaksAt rows: %+v", rows)
	}
	if rows[0].ToolBroke || !rows[1].ToolBroke {
		t.Fatalf("tool_broke not round-tripped: %+v", rows)
	}
}

func TestSQLiteIndex_UpsertCatalogs(t *testing.T) {
	configDir := filepath.Join("..", "..", "..", "configs")
	cats, err := catalogs.Load(configDir)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "i.sqlite"), quietLogger())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = idx.Close() }()

	ctx := context.Background()
	if err := idx.UpsertCatalogs(ctx, configDir, cats, tuning.Defaults()); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	// Idempotent.
	if err := idx.UpsertCatalogs(ctx, configDir, cats, tuning.Defaults()); err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	got, err := idx.CatalogDigest(ctx, "materials")
	if err != nil || got != cats.Materials.Digest {
		t.Fatalf("materials digest=%q err=%v want %q", got, err, cats.Materials.Digest)
	}
	if got, _ := idx.CatalogDigest(ctx, "tuning"); got == "" {
		t.Fatalf("tuning digest missing")
	}
	if got, _ := idx.CatalogDigest(ctx, "nope"); got != "" {
		t.Fatalf("unknown catalog should have no digest, got %q", got)
	}
}

func TestSQLiteIndex_EmptyPath(t *testing.T) {
	if _, err := OpenSQLite("", nil); err == nil {
		t.Fatalf("expected error for empty path")
	}
}
