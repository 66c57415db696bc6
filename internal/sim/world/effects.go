package world

import (
	"encoding/json"
	"fmt"

	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/tasks"
)

var _ mining.WorldEffectsPort = (*World)(nil)

// The broadcast half of the port is called from the mining goroutine and only
// touches the client table. The query half reads world state and is only
// called while the world loop drives the scheduler.

func (w *World) BroadcastProgress(target tasks.Target, frame int, audience mining.Audience) error {
	return w.fanout(audience, protocol.BlockDamageMsg{
		Type:            protocol.TypeBlockDamage,
		ProtocolVersion: protocol.Version,
		Pos:             posArray(target.Pos),
		Stage:           frame,
	})
}

func (w *World) BroadcastReset(target tasks.Target, audience mining.Audience) error {
	return w.fanout(audience, protocol.BlockDamageMsg{
		Type:            protocol.TypeBlockDamage,
		ProtocolVersion: protocol.Version,
		Pos:             posArray(target.Pos),
		Stage:           protocol.ResetStage,
	})
}

func (w *World) SuppressClientPrediction(actor tasks.ActorID) error {
	return w.fanout(mining.Audience{Actor: actor}, protocol.SuppressDigMsg{
		Type:            protocol.TypeSuppressDig,
		ProtocolVersion: protocol.Version,
	})
}

func (w *World) PlayDestructionEffect(target tasks.Target) error {
	return w.fanout(mining.Audience{Everyone: true}, protocol.DestroyEffectMsg{
		Type:            protocol.TypeDestroyEffect,
		ProtocolVersion: protocol.Version,
		Pos:             posArray(target.Pos),
		Material:        target.Material,
	})
}

func (w *World) QueryIntrinsicHardness(target tasks.Target) (float64, error) {
	cur := w.BlockAt(target.Pos)
	if cur != target.Material {
		return 0, fmt.Errorf("%s is now %s: %w", target, cur, mining.ErrTargetGone)
	}
	if w.cats == nil {
		return -1, nil
	}
	h, ok := w.cats.Hardness(cur)
	if !ok {
		// Unknown materials cannot be broken.
		return -1, nil
	}
	return h, nil
}

func (w *World) QueryHeldTool(actor tasks.ActorID) (string, error) {
	p, ok := w.players[actor]
	if !ok {
		return "", ErrUnknownPlayer
	}
	return p.Held, nil
}

func (w *World) QueryToolEfficiency(actor tasks.ActorID) (int, error) {
	p, ok := w.players[actor]
	if !ok {
		return 0, ErrUnknownPlayer
	}
	if w.cats == nil || !w.cats.IsTool(p.Held) {
		return 0, nil
	}
	return p.Efficiency, nil
}

func (w *World) QueryStatusEffects(actor tasks.ActorID) (mining.StatusEffects, error) {
	p, ok := w.players[actor]
	if !ok {
		return mining.StatusEffects{}, ErrUnknownPlayer
	}
	return mining.StatusEffects{Haste: p.Haste, Fatigue: p.Fatigue}, nil
}

func (w *World) QueryEnvironment(actor tasks.ActorID) (mining.Environment, error) {
	p, ok := w.players[actor]
	if !ok {
		return mining.Environment{}, ErrUnknownPlayer
	}
	return mining.Environment{Submerged: p.Submerged, Grounded: p.Grounded}, nil
}

func (w *World) fanout(audience mining.Audience, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()

	if audience.Everyone {
		for _, c := range w.clients {
			sendLatest(c.Out, b)
		}
		return nil
	}
	c, ok := w.clients[audience.Actor]
	if !ok {
		return ErrUnknownPlayer
	}
	sendLatest(c.Out, b)
	return nil
}

func (w *World) sendTo(actor tasks.ActorID, v any) {
	if err := w.fanout(mining.Audience{Actor: actor}, v); err != nil && err != ErrUnknownPlayer {
		w.logger.Printf("send to %s: %v", actor, err)
	}
}

func (w *World) broadcast(v any) {
	if err := w.fanout(mining.Audience{Everyone: true}, v); err != nil {
		w.logger.Printf("broadcast: %v", err)
	}
}
