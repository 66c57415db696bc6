package observer

import (
	"context"
	"encoding/json"
	"log"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"digtick.dev/internal/observerproto"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/world"
)

// MiningView is the read side of the scheduler the observer reports on.
type MiningView interface {
	All() []mining.TaskView
	Stats() mining.Stats
}

type Server struct {
	world     *world.World
	mining    MiningView
	materials []string
	log       *log.Logger

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, m MiningView, materials []string, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		world:     w,
		mining:    m,
		materials: materials,
		log:       logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4 * 1024,
			WriteBufferSize: 64 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // loopback only
		},
	}
}

func (s *Server) BootstrapHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		cfg := s.world.Config()
		resp := observerproto.BootstrapResponse{
			ProtocolVersion: observerproto.Version,
			Tick:            s.world.CurrentTick(),
			WorldParams: observerproto.WorldParams{
				TickRateHz: cfg.TickRateHz,
				GroundY:    cfg.GroundY,
				StoneDepth: cfg.StoneDepth,
				Seed:       cfg.Seed,
			},
			Materials: s.materials,
		}

		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	}
}

func (s *Server) WSHandler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}

		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		// Handshake: must send SUBSCRIBE first.
		_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		sub, ok := decodeSubscribe(msg)
		if !ok {
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "expected SUBSCRIBE"), time.Now().Add(time.Second))
			return
		}

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		updates := make(chan observerproto.SubscribeMsg, 1)
		writeErr := make(chan error, 1)
		go func() { writeErr <- s.pushLoop(ctx, conn, sub, updates) }()

		// Reader loop: allow SUBSCRIBE updates.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				break
			}
			next, ok := decodeSubscribe(msg)
			if !ok {
				continue
			}
			select {
			case updates <- next:
			default:
				// Drop updates under load; the client may resend.
			}
		}

		cancel()
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))

		// Best-effort wait for the writer to stop so it doesn't outlive conn.
		select {
		case <-writeErr:
		case <-time.After(500 * time.Millisecond):
		}
	}
}

func (s *Server) pushLoop(ctx context.Context, conn *websocket.Conn, sub observerproto.SubscribeMsg, updates <-chan observerproto.SubscribeMsg) error {
	ticker := time.NewTicker(time.Duration(sub.IntervalMS) * time.Millisecond)
	defer ticker.Stop()

	push := func() error {
		b, err := json.Marshal(s.State(sub.ActorID))
		if err != nil {
			return err
		}
		_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		return conn.WriteMessage(websocket.TextMessage, b)
	}
	if err := push(); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.world.Done():
			return nil
		case next := <-updates:
			sub = next
			ticker.Reset(time.Duration(sub.IntervalMS) * time.Millisecond)
			if err := push(); err != nil {
				return err
			}
		case <-ticker.C:
			if err := push(); err != nil {
				return err
			}
		}
	}
}

// State builds one MINING_STATE frame. An empty actor reports every task.
func (s *Server) State(actor string) observerproto.MiningStateMsg {
	st := s.mining.Stats()
	msg := observerproto.MiningStateMsg{
		Type:            observerproto.TypeMiningState,
		ProtocolVersion: observerproto.Version,
		Tick:            s.world.CurrentTick(),
		Clients:         s.world.Clients(),
		Stats: observerproto.StatsState{
			SweepTicks:     st.Ticks,
			Actors:         st.Actors,
			Tasks:          st.Tasks,
			Active:         st.Active,
			Paused:         st.Paused,
			PendingCommits: st.PendingCommits,
			PortFailures:   st.PortFailures,
		},
		Tasks: []observerproto.TaskState{},
	}
	for _, v := range s.mining.All() {
		id := v.Actor.String()
		if actor != "" && id != actor {
			continue
		}
		msg.Tasks = append(msg.Tasks, observerproto.TaskState{
			ActorID:   id,
			Pos:       [3]int{v.Target.Pos.X, v.Target.Pos.Y, v.Target.Pos.Z},
			Material:  v.Target.Material,
			State:     v.State.String(),
			Enabled:   v.Enabled,
			Suspended: v.Suspended,
			Percent:   v.Percent,
			Progress:  v.ProgressTicks,
			Required:  v.RequiredTicks,
			Frame:     v.Frame,
		})
	}
	return msg
}

func decodeSubscribe(b []byte) (observerproto.SubscribeMsg, bool) {
	var sub observerproto.SubscribeMsg
	if err := json.Unmarshal(b, &sub); err != nil {
		return sub, false
	}
	if sub.Type != observerproto.TypeSubscribe || sub.ProtocolVersion != observerproto.Version {
		return sub, false
	}
	if sub.ActorID != "" {
		id, err := uuid.Parse(sub.ActorID)
		if err != nil {
			return sub, false
		}
		sub.ActorID = id.String()
	}
	normalizeSubscribe(&sub)
	return sub, true
}

func normalizeSubscribe(sub *observerproto.SubscribeMsg) {
	if sub.IntervalMS <= 0 {
		sub.IntervalMS = 500
	}
	if sub.IntervalMS < 50 {
		sub.IntervalMS = 50
	}
	if sub.IntervalMS > 60_000 {
		sub.IntervalMS = 60_000
	}
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
