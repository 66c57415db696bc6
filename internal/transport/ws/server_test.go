package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/world"
)

func startServer(t *testing.T, opts Options) string {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	w := world.New(world.WorldConfig{
		TickRateHz:   50,
		GroundY:      64,
		StoneDepth:   60,
		StarterItems: map[string]int{"IRON_PICKAXE": 1},
	}, cats, log.New(io.Discard, "", 0))

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = w.Run(ctx) }()

	srv := httptest.NewServer(NewServer(w, log.New(io.Discard, "", 0), opts).Handler())
	t.Cleanup(func() {
		srv.Close()
		cancel()
		<-w.Done()
	})
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("write: %v", err)
	}
}

// readUntil reads messages until one of type typ arrives.
func readUntil(t *testing.T, conn *websocket.Conn, typ string, into any) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, msg, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != typ {
			continue
		}
		if err := json.Unmarshal(msg, into); err != nil {
			t.Fatalf("decode %s: %v", typ, err)
		}
		return
	}
}

func hello(name string) protocol.HelloMsg {
	return protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Name: name}
}

func holdAct(seq uint64) protocol.ActMsg {
	return protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		Seq:             seq,
		Hold:            &protocol.HoldAct{Item: "IRON_PICKAXE"},
	}
}

func TestServer_HandshakeAndAct(t *testing.T) {
	url := startServer(t, Options{})
	conn := dial(t, url)

	send(t, conn, hello("alice"))
	var welcome protocol.WelcomeMsg
	readUntil(t, conn, protocol.TypeWelcome, &welcome)
	if welcome.ActorID == "" || welcome.TickRateHz != 50 || welcome.Catalogs.MaterialsDigest == "" {
		t.Fatalf("welcome: %+v", welcome)
	}
	var inv protocol.InventoryMsg
	readUntil(t, conn, protocol.TypeInventory, &inv)

	send(t, conn, holdAct(7))
	var ack protocol.AckMsg
	readUntil(t, conn, protocol.TypeAck, &ack)
	if ack.Seq != 7 || !ack.Accepted {
		t.Fatalf("ack: %+v", ack)
	}
}

func TestServer_RejectsBadHello(t *testing.T) {
	url := startServer(t, Options{})
	conn := dial(t, url)

	send(t, conn, protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: "0.1"})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, _, err := conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestServer_MalformedAndRateLimited(t *testing.T) {
	url := startServer(t, Options{ActsPerSecond: 0.001, ActBurst: 1})
	conn := dial(t, url)
	send(t, conn, hello("bob"))
	var welcome protocol.WelcomeMsg
	readUntil(t, conn, protocol.TypeWelcome, &welcome)

	bad := holdAct(3)
	bad.ProtocolVersion = "9"
	send(t, conn, bad)
	var ack protocol.AckMsg
	readUntil(t, conn, protocol.TypeAck, &ack)
	if ack.Seq != 3 || ack.Accepted || ack.Code != protocol.ErrProtoBadRequest {
		t.Fatalf("malformed ack: %+v", ack)
	}

	send(t, conn, holdAct(4))
	send(t, conn, holdAct(5))
	seen := map[uint64]protocol.AckMsg{}
	for len(seen) < 2 {
		var a protocol.AckMsg
		readUntil(t, conn, protocol.TypeAck, &a)
		seen[a.Seq] = a
	}
	if !seen[4].Accepted {
		t.Fatalf("first act within burst should pass: %+v", seen[4])
	}
	if seen[5].Accepted || seen[5].Code != protocol.ErrRateLimit {
		t.Fatalf("second act should be rate limited: %+v", seen[5])
	}
}
