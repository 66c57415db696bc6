package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"digtick.dev/internal/persistence/indexdb"
	"digtick.dev/internal/sim/world"
)

func TestParsePos(t *testing.T) {
	p, err := parsePos(" 1, -2,3 ")
	if err != nil || p != [3]int{1, -2, 3} {
		t.Fatalf("parsePos: %v %v", p, err)
	}
	for _, bad := range []string{"", "1,2", "1,2,x"} {
		if _, err := parsePos(bad); err == nil {
			t.Fatalf("parsePos(%q) should fail", bad)
		}
	}
}

func TestRunQuery(t *testing.T) {
	path := filepath.Join(t.TempDir(), "breaks.sqlite")
	idx, err := indexdb.OpenSQLite(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_ = idx.WriteBreak(world.BreakRecord{Tick: 4, Actor: "a", Pos: [3]int{1, 2, 3}, Material: "STONE", Drop: "COBBLESTONE"})
	_ = idx.WriteBreak(world.BreakRecord{Tick: 5, Actor: "b", Pos: [3]int{0, 0, 0}, Material: "DIRT"})
	if err := idx.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	idx, err = indexdb.OpenSQLite(path, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer idx.Close()

	ctx := context.Background()
	var out bytes.Buffer
	if err := runQuery(ctx, &out, idx, "count", "a", ""); err != nil || out.String() != "breaks=1\n" {
		t.Fatalf("count: %q %v", out.String(), err)
	}
	out.Reset()
	if err := runQuery(ctx, &out, idx, "at", "", "1,2,3"); err != nil || !strings.Contains(out.String(), "material=STONE") {
		t.Fatalf("at: %q %v", out.String(), err)
	}
	if err := runQuery(ctx, &out, idx, "nope", "", ""); err == nil {
		t.Fatalf("unknown query should fail")
	}
}

func TestBreakSegments(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"breaks-2026-01-01-02.jsonl.zst", "breaks-2026-01-01-01.jsonl.zst", "other.txt"} {
		if err := os.WriteFile(filepath.Join(dir, n), nil, 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got, err := breakSegments(dir)
	if err != nil {
		t.Fatalf("breakSegments: %v", err)
	}
	if len(got) != 2 || got[0] != "breaks-2026-01-01-01.jsonl.zst" {
		t.Fatalf("segments: %v", got)
	}
}

func TestFetchState(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/admin/v1/state" {
			http.NotFound(rw, r)
			return
		}
		_, _ = rw.Write([]byte(`{"tick":42}` + "\n"))
	}))
	defer srv.Close()

	body, code, err := fetchState(srv.URL + "/")
	if err != nil || code != http.StatusOK || body != `{"tick":42}` {
		t.Fatalf("fetchState: %q %d %v", body, code, err)
	}
}
