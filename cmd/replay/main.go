package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/mining"
	"digtick.dev/internal/sim/tasks"
	"digtick.dev/internal/sim/tuning"
	"digtick.dev/internal/sim/world"
)

// replay reads the break log and re-applies every break to a fresh world built
// from the same tuning, reporting breaks whose material no longer matches.
func main() {
	var (
		breaksDir  = flag.String("breaks", "./data/breaks", "dir containing breaks-*.jsonl.zst")
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		actor      = flag.String("actor", "", "only count breaks by this actor id")
	)
	flag.Parse()

	tp := *tuningPath
	if tp == "" {
		tp = filepath.Join(*configDir, "tuning.yaml")
	}
	tune, err := tuning.Load(tp)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load tuning:", err)
		os.Exit(1)
	}
	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	recs, err := readBreaks(*breaksDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read breaks:", err)
		os.Exit(1)
	}
	if len(recs) == 0 {
		fmt.Fprintln(os.Stderr, "no break records found in", *breaksDir)
		os.Exit(1)
	}

	w := world.New(world.WorldConfig{
		TickRateHz: tune.TickRateHz,
		GroundY:    tune.World.GroundY,
		StoneDepth: tune.World.StoneDepth,
		Seed:       tune.World.Seed,
	}, cats, log.New(io.Discard, "", 0))

	res, err := replay(w, recs)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: records=%d applied=%d mismatched=%d ticks=%d..%d\n",
		len(recs), res.Applied, res.Mismatched, recs[0].Tick, recs[len(recs)-1].Tick)

	for _, line := range summarize(recs, *actor) {
		fmt.Println(line)
	}
}

func readBreaks(dir string) ([]world.BreakRecord, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		if n := e.Name(); !e.IsDir() && strings.HasPrefix(n, "breaks-") && strings.HasSuffix(n, ".jsonl.zst") {
			names = append(names, n)
		}
	}
	sort.Strings(names)

	var out []world.BreakRecord
	for _, n := range names {
		recs, err := readFile(filepath.Join(dir, n))
		if err != nil {
			return nil, err
		}
		out = append(out, recs...)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Tick < out[j].Tick })
	return out, nil
}

func readFile(path string) ([]world.BreakRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []world.BreakRecord
	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		var r world.BreakRecord
		if err := json.Unmarshal(sc.Bytes(), &r); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		out = append(out, r)
	}
	return out, sc.Err()
}

type replayResult struct {
	Applied    int
	Mismatched int
}

// replay commits each record without a player, so no drops or wear apply.
// A mismatch means the block was placed by something the break log does not
// record.
func replay(w *world.World, recs []world.BreakRecord) (replayResult, error) {
	var res replayResult
	for _, r := range recs {
		target := tasks.Target{Pos: tasks.Vec3i{X: r.Pos[0], Y: r.Pos[1], Z: r.Pos[2]}, Material: r.Material}
		err := w.Commit(uuid.Nil, target)
		switch {
		case err == nil:
			res.Applied++
		case errors.Is(err, mining.ErrTargetGone):
			res.Mismatched++
		default:
			return res, err
		}
	}
	return res, nil
}

// summarize returns per-actor break counts by material, sorted.
func summarize(recs []world.BreakRecord, onlyActor string) []string {
	counts := map[string]map[string]int{}
	for _, r := range recs {
		if onlyActor != "" && r.Actor != onlyActor {
			continue
		}
		key := r.Actor
		if r.Name != "" {
			key = r.Name + " (" + r.Actor + ")"
		}
		if counts[key] == nil {
			counts[key] = map[string]int{}
		}
		counts[key][r.Material]++
	}
	var out []string
	for who, mats := range counts {
		for m, n := range mats {
			out = append(out, fmt.Sprintf("%s %s=%d", who, m, n))
		}
	}
	sort.Strings(out)
	return out
}
