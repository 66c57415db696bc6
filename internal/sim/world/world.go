package world

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"digtick.dev/internal/persistence/snapshot"
	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/tasks"
)

// ErrUnknownPlayer is returned by port queries for an actor that is not joined.
var ErrUnknownPlayer = errors.New("world: unknown player")

type WorldConfig struct {
	TickRateHz int
	GroundY    int
	StoneDepth int
	Seed       int64

	StarterItems map[string]int

	// SnapshotEveryTicks triggers a block snapshot on the sink; 0 disables.
	SnapshotEveryTicks uint64
}

type JoinRequest struct {
	Name string
	Out  chan []byte
	Resp chan JoinResponse
}

type JoinResponse struct {
	Welcome protocol.WelcomeMsg
}

type ActionEnvelope struct {
	ActorID tasks.ActorID
	Act     protocol.ActMsg
}

// BreakRecord is the audit entry written for every committed break.
type BreakRecord struct {
	Tick      uint64 `json:"tick"`
	Actor     string `json:"actor"`
	Name      string `json:"name,omitempty"`
	Pos       [3]int `json:"pos"`
	Material  string `json:"material"`
	Tool      string `json:"tool,omitempty"`
	Drop      string `json:"drop,omitempty"`
	Exp       int    `json:"exp,omitempty"`
	ToolBroke bool   `json:"tool_broke,omitempty"`
	At        string `json:"at"`
}

type BreakSink interface {
	WriteBreak(BreakRecord) error
}

type clientState struct {
	Out chan []byte
}

// World owns blocks and players. All state except the client fan-out table is
// touched only by the goroutine running Run (or the caller of StepOnce).
type World struct {
	cfg    WorldConfig
	cats   *catalogs.Catalogs
	logger *log.Logger
	rng    *rand.Rand

	mining *mining.Scheduler
	sinks  []BreakSink

	snapshotSink chan<- snapshot.SnapshotV1

	tick atomic.Uint64

	blocks  map[tasks.Vec3i]string
	players map[tasks.ActorID]*Player

	clientsMu sync.RWMutex
	clients   map[tasks.ActorID]*clientState

	inbox chan ActionEnvelope
	join  chan JoinRequest
	leave chan tasks.ActorID
	syncq chan func()
	stop  chan struct{}
	done  chan struct{}

	stopOnce sync.Once
}

func New(cfg WorldConfig, cats *catalogs.Catalogs, logger *log.Logger) *World {
	if cfg.TickRateHz <= 0 {
		cfg.TickRateHz = 20
	}
	if logger == nil {
		logger = log.Default()
	}
	return &World{
		cfg:     cfg,
		cats:    cats,
		logger:  logger,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		blocks:  map[tasks.Vec3i]string{},
		players: map[tasks.ActorID]*Player{},
		clients: map[tasks.ActorID]*clientState{},
		inbox:   make(chan ActionEnvelope, 1024),
		join:    make(chan JoinRequest, 64),
		leave:   make(chan tasks.ActorID, 64),
		syncq:   make(chan func(), 1024),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// AttachMining wires the scheduler that drives block breaking. It must be
// called before Run.
func (w *World) AttachMining(s *mining.Scheduler) { w.mining = s }

// AddSink registers a destination for break audit records.
func (w *World) AddSink(s BreakSink) {
	if s != nil {
		w.sinks = append(w.sinks, s)
	}
}

func (w *World) Inbox() chan<- ActionEnvelope { return w.inbox }
func (w *World) Join() chan<- JoinRequest     { return w.join }
func (w *World) Leave() chan<- tasks.ActorID  { return w.leave }
func (w *World) CurrentTick() uint64          { return w.tick.Load() }

func (w *World) Config() WorldConfig { return w.cfg }

// Clients reports how many connections receive world messages. Safe from any
// goroutine.
func (w *World) Clients() int {
	w.clientsMu.RLock()
	defer w.clientsMu.RUnlock()
	return len(w.clients)
}

// Done is closed once Run has returned.
func (w *World) Done() <-chan struct{} { return w.done }

func (w *World) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Synchronize queues fn to run on the world loop at the next tick boundary.
// It is dropped once the loop has exited.
func (w *World) Synchronize(fn func()) {
	select {
	case w.syncq <- fn:
	case <-w.done:
	}
}

func (w *World) Run(ctx context.Context) error {
	defer close(w.done)

	interval := time.Second / time.Duration(w.cfg.TickRateHz)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var pendingActions []ActionEnvelope
	var pendingJoins []JoinRequest
	var pendingLeaves []tasks.ActorID
	var pendingSync []func()

	for {
		select {
		case <-ctx.Done():
			w.emitSnapshot()
			return ctx.Err()
		case <-w.stop:
			w.emitSnapshot()
			return nil
		case req := <-w.join:
			pendingJoins = append(pendingJoins, req)
		case id := <-w.leave:
			pendingLeaves = append(pendingLeaves, id)
		case env := <-w.inbox:
			pendingActions = append(pendingActions, env)
		case fn := <-w.syncq:
			pendingSync = append(pendingSync, fn)
		case <-ticker.C:
			w.step(pendingJoins, pendingLeaves, pendingActions, pendingSync)
			pendingJoins = pendingJoins[:0]
			pendingLeaves = pendingLeaves[:0]
			pendingActions = pendingActions[:0]
			pendingSync = pendingSync[:0]
		}
	}
}

// StepOnce runs one world tick synchronously, including any queued
// Synchronize handoffs. Tests and tools use it instead of Run.
func (w *World) StepOnce(joins []JoinRequest, leaves []tasks.ActorID, actions []ActionEnvelope) {
	var syncs []func()
	for {
		select {
		case fn := <-w.syncq:
			syncs = append(syncs, fn)
			continue
		default:
		}
		break
	}
	w.step(joins, leaves, actions, syncs)
}

func (w *World) step(joins []JoinRequest, leaves []tasks.ActorID, actions []ActionEnvelope, syncs []func()) {
	w.tick.Add(1)

	// Commits from the last mining sweep land first, at the tick boundary.
	for _, fn := range syncs {
		fn()
	}
	for _, req := range joins {
		w.handleJoin(req)
	}
	for _, env := range actions {
		w.handleAct(env)
	}
	for _, id := range leaves {
		w.handleLeave(id)
	}

	if every := w.cfg.SnapshotEveryTicks; every > 0 && w.tick.Load()%every == 0 {
		w.emitSnapshot()
	}
}

func (w *World) handleJoin(req JoinRequest) {
	p := newPlayer(req.Name, w.cfg.StarterItems)
	w.players[p.ID] = p
	if req.Out != nil {
		w.clientsMu.Lock()
		w.clients[p.ID] = &clientState{Out: req.Out}
		w.clientsMu.Unlock()
	}

	welcome := protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		ActorID:         p.ID.String(),
		TickRateHz:      w.cfg.TickRateHz,
	}
	if w.cats != nil {
		welcome.Catalogs = protocol.CatalogDigests{
			MaterialsDigest: w.cats.Materials.Digest,
			ToolsDigest:     w.cats.Tools.Digest,
		}
	}
	if req.Resp != nil {
		req.Resp <- JoinResponse{Welcome: welcome}
	}
	w.sendInventory(p)
}

func (w *World) handleLeave(id tasks.ActorID) {
	if w.mining != nil {
		w.mining.Disconnect(id)
	}
	delete(w.players, id)
	w.clientsMu.Lock()
	delete(w.clients, id)
	w.clientsMu.Unlock()
}

// Player returns a copy of the player's state.
func (w *World) Player(id tasks.ActorID) (Player, bool) {
	p, ok := w.players[id]
	if !ok {
		return Player{}, false
	}
	return p.clone(), true
}

func sendLatest(ch chan []byte, b []byte) {
	select {
	case ch <- b:
		return
	default:
	}
	// Drop one.
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- b:
	default:
	}
}
