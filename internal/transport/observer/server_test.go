package observer

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"digtick.dev/internal/observerproto"
	"digtick.dev/internal/protocol"
	"digtick.dev/internal/sim/tasks"
	"digtick.dev/internal/sim/worldtest"
)

func digging(t *testing.T) (*worldtest.Harness, *Server, string) {
	t.Helper()
	h := worldtest.NewHarness(t, worldtest.DefaultConfig(), worldtest.LoadCatalogs(t, "../../../configs"), nil)
	alice := h.Join("alice")
	h.Join("bob")
	h.Hold(alice, "IRON_PICKAXE", 0)
	if ack := h.Dig(alice, protocol.DigStart, tasks.Vec3i{Y: 60}, 2); ack.Result != "CREATED" {
		t.Fatalf("dig: %+v", ack)
	}
	h.TickN(3)
	return h, NewServer(h.W, h.M, h.Cats.Materials.IDs, log.New(io.Discard, "", 0)), alice.ID.String()
}

func TestState_ReportsTasks(t *testing.T) {
	h, s, alice := digging(t)

	st := s.State("")
	if st.Type != observerproto.TypeMiningState || st.Clients != 2 || st.Tick != h.W.CurrentTick() {
		t.Fatalf("header: %+v", st)
	}
	if st.Stats.Tasks != 1 || st.Stats.Active != 1 || len(st.Tasks) != 1 {
		t.Fatalf("stats: %+v tasks=%d", st.Stats, len(st.Tasks))
	}
	task := st.Tasks[0]
	if task.ActorID != alice || task.Material != "STONE" || task.Pos != [3]int{0, 60, 0} || task.State != "ACTIVE" {
		t.Fatalf("task: %+v", task)
	}
	if task.Progress != 3 || task.Required != 8 {
		t.Fatalf("progress: %+v", task)
	}

	if other := s.State("00000000-0000-0000-0000-000000000001"); len(other.Tasks) != 0 || other.Stats.Tasks != 1 {
		t.Fatalf("filtered state: %+v", other)
	}
}

func TestBootstrap(t *testing.T) {
	_, s, _ := digging(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: %d", rec.Code)
	}
	var resp observerproto.BootstrapResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.WorldParams.GroundY != 64 || resp.WorldParams.TickRateHz != 20 || len(resp.Materials) == 0 {
		t.Fatalf("bootstrap: %+v", resp)
	}

	rec = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/admin/v1/observer/bootstrap", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	s.BootstrapHandler()(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote caller: got %d", rec.Code)
	}
}

func TestWS_SubscribeAndPush(t *testing.T) {
	_, s, alice := digging(t)

	srv := httptest.NewServer(s.WSHandler())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	sub := observerproto.SubscribeMsg{Type: observerproto.TypeSubscribe, ProtocolVersion: observerproto.Version, IntervalMS: 50}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	// The first frame is immediate; the second comes from the ticker.
	for i := 0; i < 2; i++ {
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var st observerproto.MiningStateMsg
		if err := conn.ReadJSON(&st); err != nil {
			t.Fatalf("read %d: %v", i, err)
		}
		if len(st.Tasks) != 1 || st.Tasks[0].ActorID != alice {
			t.Fatalf("frame %d: %+v", i, st)
		}
	}
}

func TestWS_RejectsBadSubscribe(t *testing.T) {
	_, s, _ := digging(t)

	srv := httptest.NewServer(s.WSHandler())
	t.Cleanup(srv.Close)
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(map[string]any{"type": "HELLO"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy violation close, got %v", err)
	}
}

func TestNormalizeSubscribe(t *testing.T) {
	for in, want := range map[int]int{0: 500, 10: 50, 250: 250, 120_000: 60_000} {
		sub := observerproto.SubscribeMsg{IntervalMS: in}
		normalizeSubscribe(&sub)
		if sub.IntervalMS != want {
			t.Fatalf("interval %d: got %d want %d", in, sub.IntervalMS, want)
		}
	}
	if _, ok := decodeSubscribe([]byte(`{"type":"SUBSCRIBE","protocol_version":"0.1","actor_id":"nope"}`)); ok {
		t.Fatalf("bad actor id should be rejected")
	}
}
