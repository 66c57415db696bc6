package world

import (
	"fmt"
	"time"

	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/tasks"
)

// Commit finishes a break on the world loop: the block turns to air, the
// breaker gets the drop and experience if its tool can harvest the material,
// and the tool wears. A block that changed since the break started is left alone.
func (w *World) Commit(actor tasks.ActorID, target tasks.Target) error {
	cur := w.BlockAt(target.Pos)
	if cur != target.Material {
		return fmt.Errorf("%s is now %s: %w", target, cur, mining.ErrTargetGone)
	}
	w.setBlockRaw(target.Pos, blockAir)

	rec := BreakRecord{
		Tick:     w.CurrentTick(),
		Actor:    actor.String(),
		Pos:      posArray(target.Pos),
		Material: target.Material,
		At:       time.Now().UTC().Format(time.RFC3339Nano),
	}

	if p, ok := w.players[actor]; ok {
		rec.Name = p.Name
		rec.Tool = p.Held
		if w.cats != nil {
			if w.cats.Rule(p.Held, target.Material).Appropriate {
				if drop := w.cats.Drop(target.Material); drop != "" {
					p.give(drop, 1)
					rec.Drop = drop
				}
				rec.Exp = w.cats.Exp(target.Material)
				p.XP += rec.Exp
			}
			if h, _ := w.cats.Hardness(target.Material); h > 0 {
				rec.ToolBroke = w.wearHeld(p)
			}
		}
		if rec.ToolBroke {
			w.refresh(p)
		}
		w.sendInventory(p)
	}

	for _, s := range w.sinks {
		if err := s.WriteBreak(rec); err != nil {
			w.logger.Printf("break sink: %v", err)
		}
	}
	return nil
}

// wearHeld applies one point of durability to the held tool. Unbreaking level
// n skips the damage with probability n/(n+1). It reports whether the tool broke.
func (w *World) wearHeld(p *Player) bool {
	if p.Held == "" || w.cats == nil || !w.cats.IsTool(p.Held) {
		return false
	}
	maxDur := w.cats.MaxDurability(p.Held)
	if maxDur <= 0 {
		return false
	}
	if p.Unbreaking > 0 && w.rng.Intn(p.Unbreaking+1) != 0 {
		return false
	}
	p.Wear[p.Held]++
	if p.Wear[p.Held] < maxDur {
		return false
	}
	p.breakHeld()
	return true
}
