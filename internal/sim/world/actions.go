package world

import (
	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/tasks"
)

func (w *World) handleAct(env ActionEnvelope) {
	p, ok := w.players[env.ActorID]
	if !ok {
		return
	}
	act := env.Act
	if act.Count() != 1 {
		w.ack(p, act.Seq, false, protocol.ErrBadRequest, "exactly one action per ACT", "")
		return
	}

	switch {
	case act.Dig != nil:
		w.handleDig(p, act.Seq, *act.Dig)
	case act.Look != nil:
		if w.mining != nil {
			if act.Look.Away {
				w.mining.Suspend(p.ID)
			} else {
				w.mining.Unsuspend(p.ID)
			}
		}
		w.ack(p, act.Seq, true, "", "", "")
	case act.Hold != nil:
		h := act.Hold
		if !p.hold(h.Item, h.Efficiency, h.Unbreaking) {
			w.ack(p, act.Seq, false, protocol.ErrBadRequest, "item not in inventory", "")
			return
		}
		w.refresh(p)
		w.sendInventory(p)
		w.ack(p, act.Seq, true, "", "", "")
	case act.Effects != nil:
		p.Haste = max(act.Effects.Haste, 0)
		p.Fatigue = max(act.Effects.Fatigue, 0)
		w.refresh(p)
		w.ack(p, act.Seq, true, "", "", "")
	case act.Env != nil:
		p.Submerged = act.Env.Submerged
		p.Grounded = act.Env.Grounded
		w.refresh(p)
		w.ack(p, act.Seq, true, "", "", "")
	}
}

func (w *World) handleDig(p *Player, seq uint64, dig protocol.DigAct) {
	if w.mining == nil {
		w.ack(p, seq, false, protocol.ErrInternal, "mining disabled", "")
		return
	}
	pos := vecFromArray(dig.Pos)
	target := tasks.Target{Pos: pos, Material: w.BlockAt(pos)}

	switch dig.Status {
	case protocol.DigStart:
		if target.Material == blockAir {
			w.ack(p, seq, false, protocol.ErrInvalidTarget, "nothing to break", "")
			return
		}
		res, err := w.mining.OnStartAction(p.ID, target)
		if err != nil {
			w.logger.Printf("dig start actor=%s target=%s: %v", p.ID, target, err)
			w.ack(p, seq, false, protocol.ErrInternal, err.Error(), res.String())
			return
		}
		if res == mining.StartBusy {
			w.ack(p, seq, false, protocol.ErrBusy, "someone else is breaking this block", res.String())
			return
		}
		w.ack(p, seq, true, "", "", res.String())
	case protocol.DigAbort, protocol.DigStop:
		// The client gave up (or thinks it finished); the server decides.
		w.mining.Pause(p.ID, target)
		w.mining.Suspend(p.ID)
		w.ack(p, seq, true, "", "", "")
	default:
		w.ack(p, seq, false, protocol.ErrBadRequest, "unknown dig status", "")
	}
}

func (w *World) refresh(p *Player) {
	if w.mining != nil {
		w.mining.Refresh(p.ID)
	}
}

func (w *World) ack(p *Player, seq uint64, accepted bool, code, msg, result string) {
	if seq == 0 {
		return
	}
	w.sendTo(p.ID, protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Accepted:        accepted,
		Code:            code,
		Message:         msg,
		Result:          result,
	})
}
