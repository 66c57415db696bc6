package worldtest

import (
	"encoding/json"
	"io"
	"log"
	"testing"

	"github.com/google/uuid"

	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/mining/breaktime"
	"digtick.dev/internal/sim/mining/modifiers"
	"digtick.dev/internal/sim/tasks"
	world "digtick.dev/internal/sim/world"
)

// Harness drives a world and its mining scheduler in lockstep from the test
// goroutine: Tick() runs one mining sweep followed by one world step, which is
// where queued commits land.
type Harness struct {
	T    *testing.T
	Cats *catalogs.Catalogs
	W    *world.World
	M    *mining.Scheduler

	Breaks []world.BreakRecord

	sessions map[tasks.ActorID]*Session
}

type Session struct {
	ID  tasks.ActorID
	Out chan []byte

	// Msgs holds every message received since the last Reset, in order.
	Msgs []json.RawMessage
}

func DefaultConfig() world.WorldConfig {
	return world.WorldConfig{
		TickRateHz: 20,
		GroundY:    64,
		StoneDepth: 60,
		Seed:       7,
		StarterItems: map[string]int{
			"IRON_PICKAXE": 1,
			"IRON_SHOVEL":  1,
		},
	}
}

func LoadCatalogs(t *testing.T, dir string) *catalogs.Catalogs {
	t.Helper()
	cats, err := catalogs.Load(dir)
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	return cats
}

func NewHarness(t *testing.T, cfg world.WorldConfig, cats *catalogs.Catalogs, edit func(*mining.Options)) *Harness {
	t.Helper()

	w := world.New(cfg, cats, log.New(io.Discard, "", 0))
	opts := mining.Options{
		Port:               w,
		Commit:             w.Commit,
		Sync:               w,
		Calculator:         breaktime.New(cats, modifiers.DefaultConfig()),
		Limits:             tasks.Limits{GraceTicks: 200, CeilingTicks: 6000},
		SaveProgress:       true,
		BroadcastAnimation: true,
		TickRateHz:         cfg.TickRateHz,
		Logger:             log.New(io.Discard, "", 0),
	}
	if edit != nil {
		edit(&opts)
	}
	s, err := mining.NewScheduler(opts)
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	w.AttachMining(s)

	h := &Harness{
		T:        t,
		Cats:     cats,
		W:        w,
		M:        s,
		sessions: map[tasks.ActorID]*Session{},
	}
	w.AddSink(h)
	return h
}

// WriteBreak records audit entries so tests can inspect them.
func (h *Harness) WriteBreak(r world.BreakRecord) error {
	h.Breaks = append(h.Breaks, r)
	return nil
}

func (h *Harness) Join(name string) *Session {
	h.T.Helper()

	out := make(chan []byte, 1024)
	resp := make(chan world.JoinResponse, 1)
	h.W.StepOnce([]world.JoinRequest{{Name: name, Out: out, Resp: resp}}, nil, nil)
	jr := <-resp
	id, err := parseActor(jr.Welcome.ActorID)
	if err != nil {
		h.T.Fatalf("join returned bad actor id %q: %v", jr.Welcome.ActorID, err)
	}
	s := &Session{ID: id, Out: out}
	h.sessions[id] = s
	h.drain()
	return s
}

func (h *Harness) Leave(s *Session) {
	h.T.Helper()
	h.W.StepOnce(nil, []tasks.ActorID{s.ID}, nil)
	h.drain()
}

// Act sends one ACT from s and returns the ACK, if the act carried a seq.
func (h *Harness) Act(s *Session, act protocol.ActMsg) (protocol.AckMsg, bool) {
	h.T.Helper()
	act.Type = protocol.TypeAct
	act.ProtocolVersion = protocol.Version
	before := len(s.Msgs)
	h.W.StepOnce(nil, nil, []world.ActionEnvelope{{ActorID: s.ID, Act: act}})
	h.drain()
	for _, raw := range s.Msgs[before:] {
		var ack protocol.AckMsg
		if decodeType(raw) == protocol.TypeAck && json.Unmarshal(raw, &ack) == nil && ack.Seq == act.Seq {
			return ack, true
		}
	}
	return protocol.AckMsg{}, false
}

func (h *Harness) Dig(s *Session, status string, pos tasks.Vec3i, seq uint64) protocol.AckMsg {
	h.T.Helper()
	ack, ok := h.Act(s, protocol.ActMsg{Seq: seq, Dig: &protocol.DigAct{Status: status, Pos: [3]int{pos.X, pos.Y, pos.Z}}})
	if !ok {
		h.T.Fatalf("no ack for dig seq=%d", seq)
	}
	return ack
}

func (h *Harness) Hold(s *Session, item string, efficiency int) {
	h.T.Helper()
	ack, ok := h.Act(s, protocol.ActMsg{Seq: 1, Hold: &protocol.HoldAct{Item: item, Efficiency: efficiency}})
	if !ok || !ack.Accepted {
		h.T.Fatalf("hold %s rejected: %+v", item, ack)
	}
}

// Tick runs one mining sweep and then one world step.
func (h *Harness) Tick() {
	h.M.Step()
	h.W.StepOnce(nil, nil, nil)
	h.drain()
}

func (h *Harness) TickN(n int) {
	for i := 0; i < n; i++ {
		h.Tick()
	}
}

func (h *Harness) drain() {
	for _, s := range h.sessions {
		for {
			select {
			case b := <-s.Out:
				s.Msgs = append(s.Msgs, json.RawMessage(b))
				continue
			default:
			}
			break
		}
	}
}

func (s *Session) Reset() { s.Msgs = nil }

// Damage returns the BLOCK_DAMAGE stages received for pos, in order.
func (s *Session) Damage(pos tasks.Vec3i) []int {
	var out []int
	for _, raw := range s.Msgs {
		if decodeType(raw) != protocol.TypeBlockDamage {
			continue
		}
		var m protocol.BlockDamageMsg
		if err := json.Unmarshal(raw, &m); err != nil {
			continue
		}
		if m.Pos == [3]int{pos.X, pos.Y, pos.Z} {
			out = append(out, m.Stage)
		}
	}
	return out
}

func (s *Session) Count(msgType string) int {
	n := 0
	for _, raw := range s.Msgs {
		if decodeType(raw) == msgType {
			n++
		}
	}
	return n
}

// LastInventory returns the most recent INVENTORY message.
func (s *Session) LastInventory() (protocol.InventoryMsg, bool) {
	for i := len(s.Msgs) - 1; i >= 0; i-- {
		if decodeType(s.Msgs[i]) != protocol.TypeInventory {
			continue
		}
		var m protocol.InventoryMsg
		if err := json.Unmarshal(s.Msgs[i], &m); err == nil {
			return m, true
		}
	}
	return protocol.InventoryMsg{}, false
}

func decodeType(raw json.RawMessage) string {
	base, err := protocol.DecodeBase(raw)
	if err != nil {
		return ""
	}
	return base.Type
}

func parseActor(s string) (tasks.ActorID, error) { return uuid.Parse(s) }
