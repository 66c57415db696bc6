package main

import (
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"digtick.dev/internal/persistence/snapshot"
	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/mining/breaktime"
	"digtick.dev/internal/sim/tasks"
	"digtick.dev/internal/sim/tuning"
	"digtick.dev/internal/sim/world"
)

func TestIsLoopbackRemote(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1:5000": true,
		"[::1]:80":       true,
		"::1":            true,
		"10.0.0.2:80":    false,
		"garbage":        false,
	}
	for in, want := range cases {
		if got := isLoopbackRemote(in); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v want %v", in, got, want)
		}
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("DIG_TEST_FLAG", "true")
	if !envBool("DIG_TEST_FLAG", false) {
		t.Fatalf("expected true")
	}
	t.Setenv("DIG_TEST_FLAG", "nope")
	if envBool("DIG_TEST_FLAG", false) {
		t.Fatalf("unparseable value should fall back to default")
	}
}

func TestOpenBreakIndex_Backends(t *testing.T) {
	quiet := log.New(io.Discard, "", 0)
	if idx, err := openBreakIndex(t.TempDir(), true, quiet); err != nil || idx != nil {
		t.Fatalf("disabled: idx=%v err=%v", idx, err)
	}
	t.Setenv("DIG_INDEX_BACKEND", "bogus")
	if _, err := openBreakIndex(t.TempDir(), false, quiet); err == nil {
		t.Fatalf("expected error for unknown backend")
	}
	t.Setenv("DIG_INDEX_BACKEND", "sqlite")
	idx, err := openBreakIndex(t.TempDir(), false, quiet)
	if err != nil || idx == nil {
		t.Fatalf("sqlite: idx=%v err=%v", idx, err)
	}
	_ = idx.Close()
}

func newTestWorld(t *testing.T) (*world.World, *mining.Scheduler) {
	t.Helper()
	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	tune := tuning.Defaults()
	w := world.New(world.WorldConfig{TickRateHz: tune.TickRateHz, GroundY: 64, StoneDepth: 60}, cats, log.New(io.Discard, "", 0))
	s, err := mining.NewScheduler(mining.Options{
		Port:       w,
		Commit:     w.Commit,
		Sync:       w,
		Calculator: breaktime.New(cats, tune.ModifierConfig()),
		Limits:     tune.Limits(),
		Logger:     log.New(io.Discard, "", 0),
	})
	if err != nil {
		t.Fatalf("scheduler: %v", err)
	}
	w.AttachMining(s)
	return w, s
}

func TestAdminState_LoopbackOnly(t *testing.T) {
	w, s := newTestWorld(t)
	h := adminState(w, s, nil)

	req := httptest.NewRequest(http.MethodGet, "/admin/v1/state", nil)
	req.RemoteAddr = "203.0.113.9:4000"
	rec := httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("remote caller: code=%d", rec.Code)
	}

	w.StepOnce(nil, nil, nil)
	req.RemoteAddr = "127.0.0.1:4000"
	rec = httptest.NewRecorder()
	h(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("loopback caller: code=%d", rec.Code)
	}
	var body struct {
		Tick  uint64          `json:"tick"`
		Index json.RawMessage `json:"index"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Tick != 1 || body.Index != nil {
		t.Fatalf("state: %s", rec.Body.String())
	}
}

func TestRegisterWorldGauges(t *testing.T) {
	w, _ := newTestWorld(t)
	reg := prometheus.NewRegistry()
	registerWorldGauges(reg, w, nil)
	w.StepOnce(nil, nil, nil)
	w.StepOnce(nil, nil, nil)

	n, err := testutil.GatherAndCount(reg, "digtick_world_tick")
	if err != nil || n != 1 {
		t.Fatalf("gather: n=%d err=%v", n, err)
	}
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == "digtick_world_tick" && mf.GetMetric()[0].GetGauge().GetValue() != 2 {
			t.Fatalf("tick gauge: %v", mf.GetMetric()[0].GetGauge().GetValue())
		}
	}
}

func TestRestoreSnapshot(t *testing.T) {
	cats, err := catalogs.Load("../../configs")
	if err != nil {
		t.Fatalf("catalogs: %v", err)
	}
	cfg := world.WorldConfig{GroundY: 64, StoneDepth: 60}
	logger := log.New(io.Discard, "", 0)
	dir := t.TempDir()

	w := world.New(cfg, cats, logger)
	if err := restoreSnapshot(w, dir, "", logger); err != nil || w.CurrentTick() != 0 {
		t.Fatalf("empty dir: tick=%d err=%v", w.CurrentTick(), err)
	}

	snap := snapshot.SnapshotV1{
		Header:     snapshot.Header{Tick: 77},
		GroundY:    64,
		StoneDepth: 60,
		Blocks:     []snapshot.BlockV1{{Pos: [3]int{0, 64, 0}, Material: "AIR"}},
	}
	if err := snapshot.WriteSnapshot(filepath.Join(dir, snapshot.FileName(77)), snap); err != nil {
		t.Fatalf("write: %v", err)
	}
	w = world.New(cfg, cats, logger)
	if err := restoreSnapshot(w, dir, "", logger); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if w.CurrentTick() != 77 || w.BlockAt(tasks.Vec3i{Y: 64}) != "AIR" {
		t.Fatalf("restored world: tick=%d block=%s", w.CurrentTick(), w.BlockAt(tasks.Vec3i{Y: 64}))
	}

	if err := restoreSnapshot(world.New(cfg, cats, logger), dir, filepath.Join(dir, "missing.snap.zst"), logger); err == nil {
		t.Fatalf("explicit missing snapshot should fail")
	}
}
