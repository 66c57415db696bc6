// Package mining owns the registry of in-progress block breaks. It turns raw
// dig start/stop signals into task lifecycle transitions, advances every task
// once per tick, and hands finished breaks to the host for the final commit.
package mining

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"digtick.dev/internal/sim/mining/breaktime"
	"digtick.dev/internal/sim/mining/modifiers"
	"digtick.dev/internal/sim/tasks"
)

type StartResult int

const (
	// StartIgnored: unbreakable target, or the target vanished.
	StartIgnored StartResult = iota
	StartInstant
	StartCreated
	StartResumed
	// StartBusy: another actor is actively breaking the target.
	StartBusy
	// StartPending: the break already finished and is waiting for its commit.
	StartPending
)

func (r StartResult) String() string {
	switch r {
	case StartIgnored:
		return "IGNORED"
	case StartInstant:
		return "INSTANT"
	case StartCreated:
		return "CREATED"
	case StartResumed:
		return "RESUMED"
	case StartBusy:
		return "BUSY"
	case StartPending:
		return "PENDING"
	default:
		return fmt.Sprintf("StartResult(%d)", int(r))
	}
}

const (
	// portWarnAfter is the number of consecutive port failures before a warning.
	portWarnAfter = 3
	portWarnEvery = 10 * time.Second
)

type Options struct {
	Port       WorldEffectsPort
	Commit     CommitFunc
	Sync       Synchronizer
	Calculator *breaktime.Calculator

	Limits       tasks.Limits
	SaveProgress bool
	// BroadcastAnimation sends crack frames to every observer instead of only
	// the digging actor.
	BroadcastAnimation bool
	TickRateHz         int

	Logger  *log.Logger
	Metrics *Metrics
}

type Scheduler struct {
	port   WorldEffectsPort
	commit CommitFunc
	sync   Synchronizer
	calc   *breaktime.Calculator

	limits       tasks.Limits
	saveProgress bool
	everyone     bool
	tickRateHz   int

	logger  *log.Logger
	metrics *Metrics
	warn    *rate.Limiter

	mu             sync.Mutex
	tasks          map[tasks.ActorID][]*tasks.Task
	suspended      map[tasks.ActorID]bool
	pendingCommits []*tasks.Task
	portFailures   map[string]int
	ticks          uint64
}

func NewScheduler(opts Options) (*Scheduler, error) {
	if opts.Port == nil {
		return nil, errors.New("mining: nil world port")
	}
	if opts.Calculator == nil {
		return nil, errors.New("mining: nil break time calculator")
	}
	if opts.Sync == nil {
		opts.Sync = Inline
	}
	if opts.TickRateHz <= 0 {
		opts.TickRateHz = 20
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Scheduler{
		port:         opts.Port,
		commit:       opts.Commit,
		sync:         opts.Sync,
		calc:         opts.Calculator,
		limits:       opts.Limits,
		saveProgress: opts.SaveProgress,
		everyone:     opts.BroadcastAnimation,
		tickRateHz:   opts.TickRateHz,
		logger:       opts.Logger,
		metrics:      opts.Metrics,
		warn:         rate.NewLimiter(rate.Every(portWarnEvery), 1),
		tasks:        map[tasks.ActorID][]*tasks.Task{},
		suspended:    map[tasks.ActorID]bool{},
		portFailures: map[string]int{},
	}, nil
}

// Run advances the registry at TickRateHz until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	interval := time.Second / time.Duration(s.tickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Step()
		}
	}
}

// OnStartAction handles a dig start. An instant break is committed on the
// calling goroutine, so hosts call this from their main loop.
func (s *Scheduler) OnStartAction(actor tasks.ActorID, target tasks.Target) (StartResult, error) {
	s.mu.Lock()
	res, err := s.startLocked(actor, target)
	s.mu.Unlock()
	if err != nil {
		return res, err
	}
	if res == StartInstant {
		if err := s.runCommit(actor, target); err != nil {
			return res, err
		}
	}
	return res, nil
}

func (s *Scheduler) startLocked(actor tasks.ActorID, target tasks.Target) (StartResult, error) {
	delete(s.suspended, actor)
	s.notePort("suppress_prediction", s.port.SuppressClientPrediction(actor))

	out, err := s.evaluateLocked(actor, target)
	if errors.Is(err, ErrTargetGone) {
		s.cancelLocked(target, "gone")
		return StartIgnored, nil
	}
	if err != nil {
		return StartIgnored, err
	}

	switch out.Kind {
	case breaktime.KindInstant:
		s.cancelLocked(target, "committed")
		s.metrics.incInstant()
		s.notePort("destroy_effect", s.port.PlayDestructionEffect(target))
		return StartInstant, nil
	case breaktime.KindUnbreakable:
		return StartIgnored, nil
	}

	if t := s.findLocked(actor, target); t != nil {
		if t.State() == tasks.StateCompleted {
			return StartPending, nil
		}
		s.releaseOthersLocked(actor, t)
		t.SetBreakTime(out.Ticks)
		t.Resume()
		return StartResumed, nil
	}

	if other := s.holderLocked(target); other != nil {
		if other.Enabled() || other.State() == tasks.StateCompleted {
			return StartBusy, nil
		}
		s.removeLocked(other, "cancelled")
	}

	s.releaseOthersLocked(actor, nil)

	var t *tasks.Task
	t = tasks.NewTask(actor, target, out.Ticks, s.limits, func(tasks.ActorID, tasks.Target) {
		s.pendingCommits = append(s.pendingCommits, t)
	})
	if t.State() != tasks.StateActive {
		return StartIgnored, nil
	}
	s.tasks[actor] = append(s.tasks[actor], t)
	s.metrics.incStarted()
	return StartCreated, nil
}

// Pause freezes the actor's task on target, or cancels it when progress is
// not saved.
func (s *Scheduler) Pause(actor tasks.ActorID, target tasks.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.findLocked(actor, target)
	if t == nil {
		return
	}
	if !s.saveProgress {
		s.cancelLocked(target, "cancelled")
		return
	}
	t.Pause()
}

// Cancel tears down whichever task holds target.
func (s *Scheduler) Cancel(target tasks.Target) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked(target, "cancelled")
}

// Commit breaks target for actor right away, cancelling any task on it first.
func (s *Scheduler) Commit(actor tasks.ActorID, target tasks.Target) error {
	s.mu.Lock()
	s.cancelLocked(target, "committed")
	s.notePort("destroy_effect", s.port.PlayDestructionEffect(target))
	s.mu.Unlock()
	return s.runCommit(actor, target)
}

func (s *Scheduler) Suspend(actor tasks.ActorID) {
	s.mu.Lock()
	s.suspended[actor] = true
	s.mu.Unlock()
}

func (s *Scheduler) Unsuspend(actor tasks.ActorID) {
	s.mu.Lock()
	delete(s.suspended, actor)
	s.mu.Unlock()
}

// Disconnect drops every task of actor without broadcasting; nobody is left
// to see the reset.
func (s *Scheduler) Disconnect(actor tasks.ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range s.tasks[actor] {
		t.Cancel()
		s.metrics.incFinished("disconnected")
	}
	delete(s.tasks, actor)
	delete(s.suspended, actor)
	s.metrics.setRegistered(s.countLocked())
}

// Refresh re-evaluates every live task of actor after its tool, effects or
// environment changed. New break times apply on each task's next tick.
func (s *Scheduler) Refresh(actor tasks.ActorID) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range append([]*tasks.Task(nil), s.tasks[actor]...) {
		if t.State().Terminal() {
			continue
		}
		out, err := s.evaluateLocked(actor, t.Target)
		if errors.Is(err, ErrTargetGone) {
			s.removeLocked(t, "gone")
			continue
		}
		if err != nil {
			continue
		}
		switch out.Kind {
		case breaktime.KindTicks:
			t.SetBreakTime(out.Ticks)
		case breaktime.KindInstant:
			// Finishes on the next progressing tick.
			t.SetBreakTime(1)
		case breaktime.KindUnbreakable:
			s.removeLocked(t, "cancelled")
		}
	}
}

// Step advances every registered task by one tick, then hands completed
// breaks to the Synchronizer.
func (s *Scheduler) Step() {
	start := time.Now()

	s.mu.Lock()
	s.ticks++
	for _, actor := range s.actorsLocked() {
		suspended := s.suspended[actor]
		for _, t := range append([]*tasks.Task(nil), s.tasks[actor]...) {
			s.tickLocked(t, suspended)
		}
	}
	s.metrics.setRegistered(s.countLocked())
	commits := s.pendingCommits
	s.pendingCommits = nil
	s.mu.Unlock()

	s.metrics.observeSweep(time.Since(start))

	for _, t := range commits {
		t := t
		s.sync.Synchronize(func() { s.commitCompleted(t) })
	}
}

// tickLocked advances one task. A panic is confined to that task, which is
// cancelled; the sweep carries on with the rest.
func (s *Scheduler) tickLocked(t *tasks.Task, suspended bool) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Printf("[mining] task fault actor=%s target=%s: %v", t.Actor, t.Target, r)
			s.removeLocked(t, "fault")
		}
	}()

	res := t.Tick(suspended)
	if res.FrameChanged {
		err := s.port.BroadcastProgress(t.Target, res.Frame, s.audience(t.Actor))
		s.notePort("broadcast_progress", err)
		if err == nil {
			s.metrics.incBroadcast("progress")
		}
	}
	if res.Outcome == tasks.OutcomeStale {
		s.removeLocked(t, "stale")
	}
}

// commitCompleted runs on the host main loop. It commits only if t is still
// registered, so a Cancel that lands between completion and this handoff wins.
func (s *Scheduler) commitCompleted(t *tasks.Task) {
	s.mu.Lock()
	if !s.unlinkLocked(t) {
		s.mu.Unlock()
		return
	}
	s.resetLocked(t)
	s.metrics.incFinished("completed")
	s.metrics.setRegistered(s.countLocked())
	s.notePort("destroy_effect", s.port.PlayDestructionEffect(t.Target))
	s.mu.Unlock()

	if err := s.runCommit(t.Actor, t.Target); err != nil && !errors.Is(err, ErrTargetGone) {
		s.logger.Printf("[mining] commit actor=%s target=%s: %v", t.Actor, t.Target, err)
	}
}

func (s *Scheduler) runCommit(actor tasks.ActorID, target tasks.Target) error {
	if s.commit == nil {
		return nil
	}
	if err := s.commit(actor, target); err != nil {
		return fmt.Errorf("commit %s: %w", target, err)
	}
	return nil
}

func (s *Scheduler) evaluateLocked(actor tasks.ActorID, target tasks.Target) (breaktime.Outcome, error) {
	hardness, err := s.port.QueryIntrinsicHardness(target)
	if err != nil {
		if errors.Is(err, ErrTargetGone) {
			return breaktime.Outcome{}, err
		}
		s.notePort("query_hardness", err)
		return breaktime.Outcome{}, fmt.Errorf("query hardness %s: %w", target, err)
	}

	// A failed context query degrades to the plain hand on the ground.
	tool, err := s.port.QueryHeldTool(actor)
	s.notePort("query_tool", err)
	efficiency, err := s.port.QueryToolEfficiency(actor)
	s.notePort("query_efficiency", err)
	effects, err := s.port.QueryStatusEffects(actor)
	s.notePort("query_effects", err)
	env, err := s.port.QueryEnvironment(actor)
	if err != nil {
		env = Environment{Grounded: true}
	}
	s.notePort("query_environment", err)

	ctx := modifiers.Context{
		Efficiency: efficiency,
		Haste:      effects.Haste,
		Fatigue:    effects.Fatigue,
		Submerged:  env.Submerged,
		Grounded:   env.Grounded,
	}
	return s.calc.Evaluate(hardness, tool, target.Material, ctx), nil
}

// releaseOthersLocked pauses (or cancels, without saved progress) every other
// enabled task of actor. keep may be nil.
func (s *Scheduler) releaseOthersLocked(actor tasks.ActorID, keep *tasks.Task) {
	for _, t := range append([]*tasks.Task(nil), s.tasks[actor]...) {
		if t == keep || !t.Enabled() {
			continue
		}
		if s.saveProgress {
			t.Pause()
			continue
		}
		s.removeLocked(t, "cancelled")
	}
}

func (s *Scheduler) cancelLocked(target tasks.Target, outcome string) {
	if t := s.holderLocked(target); t != nil {
		s.removeLocked(t, outcome)
	}
}

// removeLocked unregisters t, cancels it and clears any crack it left behind.
func (s *Scheduler) removeLocked(t *tasks.Task, outcome string) {
	if !s.unlinkLocked(t) {
		return
	}
	t.Cancel()
	s.resetLocked(t)
	s.metrics.incFinished(outcome)
}

func (s *Scheduler) resetLocked(t *tasks.Task) {
	if !t.HasBroadcast() {
		return
	}
	err := s.port.BroadcastReset(t.Target, s.audience(t.Actor))
	s.notePort("broadcast_reset", err)
	if err == nil {
		s.metrics.incBroadcast("reset")
	}
}

func (s *Scheduler) unlinkLocked(t *tasks.Task) bool {
	list := s.tasks[t.Actor]
	for i, cur := range list {
		if cur != t {
			continue
		}
		list = append(list[:i], list[i+1:]...)
		if len(list) == 0 {
			delete(s.tasks, t.Actor)
		} else {
			s.tasks[t.Actor] = list
		}
		return true
	}
	return false
}

func (s *Scheduler) findLocked(actor tasks.ActorID, target tasks.Target) *tasks.Task {
	for _, t := range s.tasks[actor] {
		if t.Target == target {
			return t
		}
	}
	return nil
}

func (s *Scheduler) holderLocked(target tasks.Target) *tasks.Task {
	for _, list := range s.tasks {
		for _, t := range list {
			if t.Target == target {
				return t
			}
		}
	}
	return nil
}

func (s *Scheduler) actorsLocked() []tasks.ActorID {
	out := make([]tasks.ActorID, 0, len(s.tasks))
	for a := range s.tasks {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (s *Scheduler) countLocked() int {
	n := 0
	for _, list := range s.tasks {
		n += len(list)
	}
	return n
}

func (s *Scheduler) audience(actor tasks.ActorID) Audience {
	return Audience{Actor: actor, Everyone: s.everyone}
}

// notePort tracks consecutive failures per port op, so one op failing among
// healthy ones still counts up. The result of the failing call is dropped;
// sustained failure surfaces as a throttled warning.
func (s *Scheduler) notePort(op string, err error) {
	if err == nil {
		delete(s.portFailures, op)
		return
	}
	s.portFailures[op]++
	s.metrics.incPortFailure(op)
	if n := s.portFailures[op]; n >= portWarnAfter && s.warn.Allow() {
		s.logger.Printf("[mining] world port failing op=%s consecutive=%d: %v", op, n, err)
	}
}

// worstPortRunLocked is the longest current run of failures of any one op.
func (s *Scheduler) worstPortRunLocked() int {
	worst := 0
	for _, n := range s.portFailures {
		worst = max(worst, n)
	}
	return worst
}
