package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/tasks"
	"digtick.dev/internal/sim/world"
)

type Options struct {
	// ActsPerSecond and ActBurst bound how fast one connection may send ACTs.
	ActsPerSecond float64
	ActBurst      int
	// OutQueue is the per-connection buffer; the oldest message is dropped when full.
	OutQueue int
}

func (o *Options) normalize() {
	if o.ActsPerSecond <= 0 {
		o.ActsPerSecond = 40
	}
	if o.ActBurst <= 0 {
		o.ActBurst = 20
	}
	if o.OutQueue <= 0 {
		o.OutQueue = 256
	}
}

type Server struct {
	world *world.World
	log   *log.Logger
	opts  Options

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, logger *log.Logger, opts Options) *Server {
	opts.normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		world: w,
		log:   logger,
		opts:  opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		actor, out, ok := s.handshake(conn)
		if !ok {
			return
		}
		defer s.leave(actor)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		go s.writeLoop(ctx, cancel, conn, out)

		lim := rate.NewLimiter(rate.Limit(s.opts.ActsPerSecond), s.opts.ActBurst)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			act, code := decodeAct(msg)
			if code != "" {
				reject(out, act.Seq, code, "malformed ACT")
				continue
			}
			if !lim.Allow() {
				reject(out, act.Seq, protocol.ErrRateLimit, "too many actions")
				continue
			}
			select {
			case s.world.Inbox() <- world.ActionEnvelope{ActorID: actor, Act: act}:
			case <-ctx.Done():
				return
			case <-s.world.Done():
				return
			}
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, out <-chan []byte) {
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case b := <-out:
			_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
				return
			}
		}
	}
}

func (s *Server) leave(actor tasks.ActorID) {
	select {
	case s.world.Leave() <- actor:
	case <-s.world.Done():
	}
}

// handshake reads HELLO, joins the world and writes WELCOME. The caller owns
// the returned queue's reader side from then on.
func (s *Server) handshake(conn *websocket.Conn) (tasks.ActorID, chan []byte, bool) {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return tasks.ActorID{}, nil, false
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil || hello.Type != protocol.TypeHello {
		closeWith(conn, "expected HELLO")
		return tasks.ActorID{}, nil, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closeWith(conn, "bad protocol_version")
		return tasks.ActorID{}, nil, false
	}

	out := make(chan []byte, s.opts.OutQueue)
	respCh := make(chan world.JoinResponse, 1)
	select {
	case s.world.Join() <- world.JoinRequest{Name: hello.Name, Out: out, Resp: respCh}:
	case <-s.world.Done():
		return tasks.ActorID{}, nil, false
	}
	var resp world.JoinResponse
	select {
	case resp = <-respCh:
	case <-s.world.Done():
		return tasks.ActorID{}, nil, false
	}
	actor, err := uuid.Parse(resp.Welcome.ActorID)
	if err != nil {
		s.log.Printf("join returned bad actor id %q: %v", resp.Welcome.ActorID, err)
		return tasks.ActorID{}, nil, false
	}
	if err := writeJSON(conn, resp.Welcome); err != nil {
		s.leave(actor)
		return tasks.ActorID{}, nil, false
	}
	return actor, out, true
}

// decodeAct returns a non-empty error code when msg is not a usable ACT.
func decodeAct(msg []byte) (protocol.ActMsg, string) {
	var act protocol.ActMsg
	if err := json.Unmarshal(msg, &act); err != nil {
		return act, protocol.ErrProtoBadRequest
	}
	if act.Type != protocol.TypeAct || act.ProtocolVersion != protocol.Version {
		return act, protocol.ErrProtoBadRequest
	}
	return act, ""
}

func reject(out chan []byte, seq uint64, code, msg string) {
	if seq == 0 {
		return
	}
	b, err := json.Marshal(protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Code:            code,
		Message:         msg,
	})
	if err != nil {
		return
	}
	select {
	case out <- b:
	default:
	}
}

func closeWith(conn *websocket.Conn, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason),
		time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
