package mining

import (
	"errors"

	"digtick.dev/internal/sim/tasks"
)

// ErrTargetGone is returned by a port when the target no longer holds the
// material the caller expected. The scheduler treats it as a cancellation.
var ErrTargetGone = errors.New("mining: target gone")

// Audience selects who receives a block-damage broadcast.
type Audience struct {
	Actor tasks.ActorID
	// Everyone sends to every observer of the target, not only Actor.
	Everyone bool
}

type StatusEffects struct {
	Haste   int
	Fatigue int
}

type Environment struct {
	// Submerged means the head is in liquid with no countermeasure (aqua affinity).
	Submerged bool
	Grounded  bool
}

// WorldEffectsPort is everything the scheduler needs from the host world.
// Broadcast methods are called with the scheduler lock held and must not block.
type WorldEffectsPort interface {
	BroadcastProgress(target tasks.Target, frame int, audience Audience) error
	BroadcastReset(target tasks.Target, audience Audience) error
	SuppressClientPrediction(actor tasks.ActorID) error
	PlayDestructionEffect(target tasks.Target) error

	QueryIntrinsicHardness(target tasks.Target) (float64, error)
	// QueryHeldTool returns the held item id, "" for an empty hand.
	QueryHeldTool(actor tasks.ActorID) (string, error)
	QueryToolEfficiency(actor tasks.ActorID) (int, error)
	QueryStatusEffects(actor tasks.ActorID) (StatusEffects, error)
	QueryEnvironment(actor tasks.ActorID) (Environment, error)
}

// CommitFunc performs the world side of a finished break: drops, durability,
// notifications. It runs on the host's main loop.
type CommitFunc func(actor tasks.ActorID, target tasks.Target) error

// Synchronizer runs fn on the host's main loop at the next tick boundary.
type Synchronizer interface {
	Synchronize(fn func())
}

// SyncFunc adapts a plain function to Synchronizer.
type SyncFunc func(fn func())

func (f SyncFunc) Synchronize(fn func()) { f(fn) }

// Inline runs handoffs immediately on the calling goroutine.
var Inline Synchronizer = SyncFunc(func(fn func()) { fn() })
