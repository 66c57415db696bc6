package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"digtick.dev/internal/sim/catalogs"
	"digtick.dev/internal/sim/mining/breaktime"
	"digtick.dev/internal/sim/mining/modifiers"
	"digtick.dev/internal/sim/tuning"
)

// breakcalc prints how long each material takes to break with a given tool
// and player state, using the same catalogs and tuning as the server.
func main() {
	var (
		configDir  = flag.String("configs", "./configs", "config directory")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: <configs>/tuning.yaml)")
		tool       = flag.String("tool", "", "held item (empty for hand)")
		material   = flag.String("material", "", "only this material (default: all)")
		efficiency = flag.Int("efficiency", 0, "efficiency level")
		haste      = flag.Int("haste", 0, "haste level")
		fatigue    = flag.Int("fatigue", 0, "mining fatigue level")
		submerged  = flag.Bool("submerged", false, "head in liquid")
		airborne   = flag.Bool("airborne", false, "not standing on ground")
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

	held := strings.ToUpper(strings.TrimSpace(*tool))
	if held != "" && !cats.IsTool(held) {
		fmt.Fprintf(os.Stderr, "note: %s is not a tool; it digs like the hand\n", held)
	}
	ctx := modifiers.Context{
		Efficiency: *efficiency,
		Haste:      *haste,
		Fatigue:    *fatigue,
		Submerged:  *submerged,
		Grounded:   !*airborne,
	}
	mats := cats.Materials.IDs
	if *material != "" {
		mats = []string{strings.ToUpper(*material)}
	}

	rows := table(cats, breaktime.New(cats, tune.ModifierConfig()), held, mats, ctx, tune.TickRateHz)
	if err := render(os.Stdout, rows); err != nil {
		fmt.Fprintln(os.Stderr, "write:", err)
		os.Exit(1)
	}
}

type row struct {
	Material    string
	Hardness    float64
	Known       bool
	Rule        breaktime.Rule
	Outcome     breaktime.Outcome
	Seconds     float64
	HarvestDrop string
}

func table(cats *catalogs.Catalogs, calc *breaktime.Calculator, tool string, mats []string, ctx modifiers.Context, tickRateHz int) []row {
	out := make([]row, 0, len(mats))
	for _, m := range mats {
		h, ok := cats.Hardness(m)
		if !ok {
			h = -1
		}
		r := row{Material: m, Hardness: h, Known: ok, Rule: cats.Rule(tool, m)}
		r.Outcome = calc.Evaluate(h, tool, m, ctx)
		if r.Outcome.Kind == breaktime.KindTicks {
			r.Seconds = breaktime.Seconds(r.Outcome.Ticks, tickRateHz)
		}
		if r.Rule.Appropriate {
			r.HarvestDrop = cats.Drop(m)
		}
		out = append(out, r)
	}
	return out
}

func render(w io.Writer, rows []row) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "MATERIAL\tHARDNESS\tEFFECTIVE\tHARVEST\tOUTCOME\tTICKS\tSECONDS\tDROP")
	for _, r := range rows {
		name := r.Material
		if !r.Known {
			name += " (unknown)"
		}
		ticks, secs := "-", "-"
		if r.Outcome.Kind == breaktime.KindTicks {
			ticks = fmt.Sprintf("%.0f", r.Outcome.Ticks)
			secs = fmt.Sprintf("%.2f", r.Seconds)
		}
		fmt.Fprintf(tw, "%s\t%g\t%v\t%v\t%s\t%s\t%s\t%s\n",
			name, r.Hardness, r.Rule.Effective, r.Rule.Appropriate, r.Outcome.Kind, ticks, secs, r.HarvestDrop)
	}
	return tw.Flush()
}
