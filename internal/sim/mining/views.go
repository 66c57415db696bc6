package mining

import "digtick.dev/internal/sim/tasks"

// TaskView is a read-only copy of a task's state.
type TaskView struct {
	Actor         tasks.ActorID
	Target        tasks.Target
	State         tasks.State
	Enabled       bool
	Suspended     bool
	Percent       float64
	RequiredTicks float64
	ProgressTicks float64
	Frame         int
}

type Stats struct {
	Ticks          uint64
	Actors         int
	Tasks          int
	Active         int
	Paused         int
	PendingCommits int
	// PortFailures is the longest current run of consecutive failures of a
	// single port op.
	PortFailures int
}

func (s *Scheduler) Task(actor tasks.ActorID, target tasks.Target) (TaskView, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(actor, target)
	if t == nil {
		return TaskView{}, false
	}
	return s.viewLocked(t), true
}

// Tasks lists the actor's tasks in creation order.
func (s *Scheduler) Tasks(actor tasks.ActorID) []TaskView {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.tasks[actor]
	out := make([]TaskView, 0, len(list))
	for _, t := range list {
		out = append(out, s.viewLocked(t))
	}
	return out
}

// All lists every registered task, grouped by actor in a stable order.
func (s *Scheduler) All() []TaskView {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskView, 0, s.countLocked())
	for _, actor := range s.actorsLocked() {
		for _, t := range s.tasks[actor] {
			out = append(out, s.viewLocked(t))
		}
	}
	return out
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Stats{
		Ticks:        s.ticks,
		Actors:       len(s.tasks),
		PortFailures: s.worstPortRunLocked(),
	}
	for _, list := range s.tasks {
		for _, t := range list {
			st.Tasks++
			switch t.State() {
			case tasks.StateActive:
				st.Active++
			case tasks.StatePaused:
				st.Paused++
			case tasks.StateCompleted:
				st.PendingCommits++
			}
		}
	}
	return st
}

func (s *Scheduler) viewLocked(t *tasks.Task) TaskView {
	return TaskView{
		Actor:         t.Actor,
		Target:        t.Target,
		State:         t.State(),
		Enabled:       t.Enabled(),
		Suspended:     s.suspended[t.Actor],
		Percent:       t.Percent(),
		RequiredTicks: t.RequiredTicks(),
		ProgressTicks: t.ProgressTicks(),
		Frame:         t.LastAnimationStep(),
	}
}
