package tasks

import "math"

const (
	// AnimationSteps is the number of crack frames a client can render (0..9).
	AnimationSteps = 10
	noFrame        = -1

	// progressEpsilon absorbs float drift left by reprojected progress.
	progressEpsilon = 1e-9
)

type Outcome int

const (
	// OutcomeIdle means the tick did not advance progress (paused, suspended or terminal).
	OutcomeIdle Outcome = iota
	OutcomeProgressed
	OutcomeCompleted
	OutcomeStale
)

// TickResult is what a single Tick reports back to the owning scheduler.
type TickResult struct {
	Outcome Outcome
	// Frame is the animation step to broadcast when FrameChanged is set.
	Frame        int
	FrameChanged bool
}

// Task tracks the progressive break of one target by one actor.
// A Task is not safe for concurrent use; its owner serializes access.
type Task struct {
	Actor  ActorID
	Target Target

	requiredTicks float64
	progressTicks float64

	elapsedDisabledTicks int
	totalAliveTicks      int
	lastAnimationStep    int

	enabled bool
	state   State

	pendingRequired float64
	pendingChange   bool

	limits     Limits
	onComplete func(ActorID, Target)
	completed  bool
}

// NewTask creates an active task. requiredTicks must be positive and finite; the
// scheduler never builds a task for instant or unbreakable targets.
func NewTask(actor ActorID, target Target, requiredTicks float64, limits Limits, onComplete func(ActorID, Target)) *Task {
	t := &Task{
		Actor:             actor,
		Target:            target,
		requiredTicks:     requiredTicks,
		lastAnimationStep: noFrame,
		limits:            limits,
		onComplete:        onComplete,
		state:             StateCreated,
	}
	if requiredTicks > 0 && !math.IsInf(requiredTicks, 0) && !math.IsNaN(requiredTicks) {
		t.state = StateActive
		t.enabled = true
	}
	return t
}

func (t *Task) State() State              { return t.state }
func (t *Task) Enabled() bool             { return t.enabled }
func (t *Task) RequiredTicks() float64    { return t.requiredTicks }
func (t *Task) ProgressTicks() float64    { return t.progressTicks }
func (t *Task) ElapsedDisabledTicks() int { return t.elapsedDisabledTicks }
func (t *Task) TotalAliveTicks() int      { return t.totalAliveTicks }
func (t *Task) LastAnimationStep() int    { return t.lastAnimationStep }
func (t *Task) PendingBreakTime() bool    { return t.pendingChange }
func (t *Task) HasBroadcast() bool        { return t.lastAnimationStep != noFrame }

func (t *Task) Matches(a ActorID, target Target) bool { return t.Actor == a && t.Target == target }

// Percent is progressTicks/requiredTicks*100, clamped to [0,100].
func (t *Task) Percent() float64 {
	if t.requiredTicks <= 0 {
		return 0
	}
	p := t.progressTicks / t.requiredTicks * 100
	if p > 100 {
		return 100
	}
	if p < 0 {
		return 0
	}
	return p
}

// SetPercent re-derives progressTicks from p against the current break time.
func (t *Task) SetPercent(p float64) {
	if math.IsNaN(p) || p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	t.progressTicks = p / 100 * t.requiredTicks
}

// SetBreakTime queues a new required duration. It takes effect on the next
// progressing tick, which keeps the visual percentage where it was.
func (t *Task) SetBreakTime(ticks float64) {
	if ticks <= 0 || math.IsNaN(ticks) || math.IsInf(ticks, 0) {
		return
	}
	if ticks == t.requiredTicks && !t.pendingChange {
		return
	}
	t.pendingRequired = ticks
	t.pendingChange = true
}

// ApplyPendingBreakTime reprojects progress onto a queued break time, if any.
func (t *Task) ApplyPendingBreakTime() {
	if !t.pendingChange {
		return
	}
	p := t.Percent()
	t.requiredTicks = t.pendingRequired
	t.pendingChange = false
	t.pendingRequired = 0
	t.SetPercent(p)
}

// Pause freezes progress and starts the disabled clock.
func (t *Task) Pause() {
	if t.state != StateActive {
		return
	}
	t.enabled = false
	t.state = StatePaused
}

// Resume re-enables a paused task and resets its disabled clock.
func (t *Task) Resume() {
	if t.state != StatePaused && t.state != StateActive {
		return
	}
	t.enabled = true
	t.state = StateActive
	t.elapsedDisabledTicks = 0
}

// Cancel moves any non-terminal task to Cancelled.
func (t *Task) Cancel() {
	if t.state.Terminal() {
		return
	}
	t.enabled = false
	t.state = StateCancelled
}

// Tick advances the task by one scheduler tick. suspended reports that the actor
// is administratively held back (for example it looked away from the target).
func (t *Task) Tick(suspended bool) TickResult {
	if t.state.Terminal() {
		return TickResult{Outcome: OutcomeIdle}
	}

	t.totalAliveTicks++
	t.elapsedDisabledTicks++

	if !t.enabled && t.limits.GraceTicks > 0 && t.elapsedDisabledTicks > t.limits.GraceTicks {
		return t.stale()
	}
	if t.limits.CeilingTicks > 0 && t.totalAliveTicks > t.limits.CeilingTicks {
		return t.stale()
	}
	if !t.enabled {
		return TickResult{Outcome: OutcomeIdle}
	}
	if suspended {
		return TickResult{Outcome: OutcomeIdle}
	}

	t.elapsedDisabledTicks = 0
	t.ApplyPendingBreakTime()
	t.progressTicks++

	res := TickResult{Outcome: OutcomeProgressed}
	step := int(math.Floor(t.Percent() / 10))
	if step < 0 {
		step = 0
	}
	if step > AnimationSteps-1 {
		step = AnimationSteps - 1
	}
	if step != t.lastAnimationStep {
		t.lastAnimationStep = step
		res.Frame = step
		res.FrameChanged = true
	}

	if t.progressTicks >= t.requiredTicks-progressEpsilon {
		t.complete()
		res.Outcome = OutcomeCompleted
	}
	return res
}

func (t *Task) stale() TickResult {
	t.enabled = false
	t.state = StateStale
	return TickResult{Outcome: OutcomeStale}
}

func (t *Task) complete() {
	t.enabled = false
	t.state = StateCompleted
	if t.completed {
		return
	}
	t.completed = true
	if t.onComplete != nil {
		t.onComplete(t.Actor, t.Target)
	}
}
