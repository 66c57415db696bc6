package main

import (
	"encoding/json"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/gorilla/websocket"

	"digtick.dev/internal/protocol"
)

// bot joins a server and digs a vertical shaft, one block at a time.
func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "player name")
		tool  = flag.String("tool", "IRON_PICKAXE", "item to hold (empty for hand)")
		x     = flag.Int("x", 0, "shaft x")
		z     = flag.Int("z", 0, "shaft z")
		top   = flag.Int("y", 64, "first block to dig")
		count = flag.Int("count", 10, "blocks to dig")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	conn, _, err := websocket.DefaultDialer.Dial(*url, nil)
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.HelloMsg{
		Type:            protocol.TypeHello,
		ProtocolVersion: protocol.Version,
		Name:            *name,
	}); err != nil {
		logger.Fatalf("send HELLO: %v", err)
	}

	d := newDigger(*x, *top, *z, *count, *tool)
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt)

	for {
		select {
		case <-stop:
			return
		default:
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			logger.Printf("read: %v", err)
			return
		}
		acts, done := d.handle(msg)
		for _, a := range acts {
			if err := conn.WriteJSON(a); err != nil {
				logger.Printf("send ACT: %v", err)
				return
			}
		}
		if done {
			logger.Printf("done: dug=%d stopped_at=%v", d.dug, d.pos())
			return
		}
	}
}

type digger struct {
	x, y, z int
	left    int
	tool    string
	seq     uint64
	digSeq  uint64
	dug     int
}

func newDigger(x, y, z, count int, tool string) *digger {
	return &digger{x: x, y: y, z: z, left: count, tool: tool}
}

func (d *digger) pos() [3]int { return [3]int{d.x, d.y, d.z} }

func (d *digger) act() protocol.ActMsg {
	d.seq++
	return protocol.ActMsg{Type: protocol.TypeAct, ProtocolVersion: protocol.Version, Seq: d.seq}
}

func (d *digger) dig() protocol.ActMsg {
	a := d.act()
	a.Dig = &protocol.DigAct{Status: protocol.DigStart, Pos: d.pos()}
	d.digSeq = a.Seq
	return a
}

// handle consumes one server message and returns the ACTs to send next.
func (d *digger) handle(msg []byte) ([]protocol.ActMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil {
		return nil, false
	}
	switch base.Type {
	case protocol.TypeWelcome:
		if d.left <= 0 {
			return nil, true
		}
		var out []protocol.ActMsg
		if d.tool != "" {
			h := d.act()
			h.Hold = &protocol.HoldAct{Item: d.tool}
			out = append(out, h)
		}
		return append(out, d.dig()), false

	case protocol.TypeAck:
		var ack protocol.AckMsg
		if json.Unmarshal(msg, &ack) != nil || ack.Seq != d.digSeq {
			return nil, false
		}
		// Unbreakable, or refused: nothing more to do in this shaft.
		if !ack.Accepted || ack.Result == "IGNORED" {
			return nil, true
		}

	case protocol.TypeBlockChange:
		var bc protocol.BlockChangeMsg
		if json.Unmarshal(msg, &bc) != nil || bc.Pos != d.pos() || bc.Block != "AIR" {
			return nil, false
		}
		d.dug++
		d.left--
		d.y--
		if d.left <= 0 {
			return nil, true
		}
		return []protocol.ActMsg{d.dig()}, false
	}
	return nil, false
}
