package world

import (
	"fmt"
	"sort"

	"digtick.dev/internal/persistence/snapshot"
)

// SetSnapshotSink sets where periodic and shutdown snapshots are sent. Sends
// never block the tick; a full sink drops the snapshot. Call before Run.
func (w *World) SetSnapshotSink(ch chan<- snapshot.SnapshotV1) { w.snapshotSink = ch }

// ExportSnapshot captures every block edit. World goroutine only.
func (w *World) ExportSnapshot() snapshot.SnapshotV1 {
	snap := snapshot.SnapshotV1{
		Header:     snapshot.Header{Version: snapshot.Version, Tick: w.tick.Load(), Blocks: len(w.blocks)},
		Seed:       w.cfg.Seed,
		TickRate:   w.cfg.TickRateHz,
		GroundY:    w.cfg.GroundY,
		StoneDepth: w.cfg.StoneDepth,
		Blocks:     make([]snapshot.BlockV1, 0, len(w.blocks)),
	}
	if w.cats != nil {
		snap.MaterialsDigest = w.cats.Materials.Digest
	}
	for pos, m := range w.blocks {
		snap.Blocks = append(snap.Blocks, snapshot.BlockV1{Pos: posArray(pos), Material: m})
	}
	sort.Slice(snap.Blocks, func(i, j int) bool {
		a, b := snap.Blocks[i].Pos, snap.Blocks[j].Pos
		if a[0] != b[0] {
			return a[0] < b[0]
		}
		if a[1] != b[1] {
			return a[1] < b[1]
		}
		return a[2] < b[2]
	})
	return snap
}

// ImportSnapshot replaces all block edits and the tick counter with snap.
// It must run before Run and before any player joins.
func (w *World) ImportSnapshot(snap snapshot.SnapshotV1) error {
	if snap.GroundY != w.cfg.GroundY || snap.StoneDepth != w.cfg.StoneDepth {
		return fmt.Errorf("snapshot terrain ground_y=%d stone_depth=%d does not match world ground_y=%d stone_depth=%d",
			snap.GroundY, snap.StoneDepth, w.cfg.GroundY, w.cfg.StoneDepth)
	}
	blocks := make(map[[3]int]string, len(snap.Blocks))
	for _, b := range snap.Blocks {
		if w.cats != nil && b.Material != blockAir {
			if _, ok := w.cats.Hardness(b.Material); !ok {
				return fmt.Errorf("snapshot block %v: unknown material %q", b.Pos, b.Material)
			}
		}
		blocks[b.Pos] = b.Material
	}
	if w.cats != nil && snap.MaterialsDigest != "" && snap.MaterialsDigest != w.cats.Materials.Digest {
		w.logger.Printf("snapshot materials digest differs: snapshot=%s catalog=%s", snap.MaterialsDigest, w.cats.Materials.Digest)
	}

	clear(w.blocks)
	for p, m := range blocks {
		pos := vecFromArray(p)
		if m != w.generated(pos) {
			w.blocks[pos] = m
		}
	}
	w.tick.Store(snap.Header.Tick)
	w.logger.Printf("snapshot imported: tick=%d blocks=%d", snap.Header.Tick, len(w.blocks))
	return nil
}

func (w *World) emitSnapshot() {
	if w.snapshotSink == nil {
		return
	}
	snap := w.ExportSnapshot()
	select {
	case w.snapshotSink <- snap:
	default:
		w.logger.Printf("snapshot dropped: tick=%d (writer busy)", snap.Header.Tick)
	}
}
