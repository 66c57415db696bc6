package world

import (
	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/tasks"
)

const (
	blockAir     = "AIR"
	blockBedrock = "BEDROCK"
	blockStone   = "STONE"
	blockDirt    = "DIRT"
	blockGrass   = "GRASS_BLOCK"

	dirtDepth = 3
)

// BlockAt returns the material at pos: an explicit override, else flat terrain.
func (w *World) BlockAt(pos tasks.Vec3i) string {
	if b, ok := w.blocks[pos]; ok {
		return b
	}
	return w.generated(pos)
}

func (w *World) generated(pos tasks.Vec3i) string {
	g := w.cfg.GroundY
	switch {
	case pos.Y > g:
		return blockAir
	case pos.Y == g:
		return blockGrass
	case pos.Y >= g-dirtDepth:
		return blockDirt
	case pos.Y >= g-dirtDepth-w.cfg.StoneDepth:
		return blockStone
	default:
		return blockBedrock
	}
}

// SetBlock replaces the block at pos. Any break in progress on the old block
// is cancelled.
func (w *World) SetBlock(pos tasks.Vec3i, material string) {
	old := w.BlockAt(pos)
	if old == material {
		return
	}
	w.setBlockRaw(pos, material)
	if w.mining != nil {
		w.mining.Cancel(tasks.Target{Pos: pos, Material: old})
	}
}

func (w *World) setBlockRaw(pos tasks.Vec3i, material string) {
	if material == w.generated(pos) {
		delete(w.blocks, pos)
	} else {
		w.blocks[pos] = material
	}
	w.broadcast(protocol.BlockChangeMsg{
		Type:            protocol.TypeBlockChange,
		ProtocolVersion: protocol.Version,
		Pos:             posArray(pos),
		Block:           material,
	})
}

func posArray(p tasks.Vec3i) [3]int { return [3]int{p.X, p.Y, p.Z} }

func vecFromArray(a [3]int) tasks.Vec3i { return tasks.Vec3i{X: a[0], Y: a[1], Z: a[2]} }
