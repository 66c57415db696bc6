package tasks

import (
	"fmt"

	"github.com/google/uuid"
)

// ActorID identifies the entity performing a break.
type ActorID = uuid.UUID

// Vec3i is an integer block position.
type Vec3i struct{ X, Y, Z int }

func (v Vec3i) String() string { return fmt.Sprintf("(%d,%d,%d)", v.X, v.Y, v.Z) }

// Target is the immutable identity of a block being destroyed. Two targets are the
// same only when both the position and the material match.
type Target struct {
	Pos      Vec3i
	Material string
}

func (t Target) String() string { return t.Material + "@" + t.Pos.String() }

type State int

const (
	StateCreated State = iota
	StateActive
	StatePaused
	StateCompleted
	StateCancelled
	StateStale
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "CREATED"
	case StateActive:
		return "ACTIVE"
	case StatePaused:
		return "PAUSED"
	case StateCompleted:
		return "COMPLETED"
	case StateCancelled:
		return "CANCELLED"
	case StateStale:
		return "STALE"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the task must be removed from its registry.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateStale
}

// Limits are the staleness timers, expressed in ticks.
type Limits struct {
	// GraceTicks is how long a paused task may sit before it is abandoned.
	GraceTicks int
	// CeilingTicks caps the lifetime of a task regardless of its enabled state.
	CeilingTicks int
}
