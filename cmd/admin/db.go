package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"digtick.dev/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/breaks.sqlite)")
	actor := fs.String("actor", "", "actor id filter (count)")
	pos := fs.String("pos", "", "block position x,y,z (at)")
	_ = fs.Parse(args)

	q := "count"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "breaks.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "db:", err)
		os.Exit(1)
	}

	idx, err := indexdb.OpenSQLite(path, log.New(io.Discard, "", 0))
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	if err := runQuery(context.Background(), os.Stdout, idx, q, *actor, *pos); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func runQuery(ctx context.Context, out io.Writer, idx *indexdb.SQLiteIndex, q, actor, pos string) error {
	switch q {
	case "count":
		n, err := idx.CountBreaks(ctx, actor)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "breaks=%d\n", n)
	case "at":
		p, err := parsePos(pos)
		if err != nil {
			return err
		}
		rows, err := idx.BreaksAt(ctx, p)
		if err != nil {
			return err
		}
		for _, r := range rows {
			fmt.Fprintf(out, "tick=%d actor=%s name=%s material=%s tool=%s drop=%s tool_broke=%v\n",
				r.Tick, r.Actor, r.Name, r.Material, r.Tool, r.Drop, r.ToolBroke)
		}
	case "catalogs":
		for _, name := range []string{"materials", "tools", "tuning"} {
			d, err := idx.CatalogDigest(ctx, name)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "%s=%s\n", name, d)
		}
	default:
		return fmt.Errorf("unknown query (want count|at|catalogs)")
	}
	return nil
}

func parsePos(s string) ([3]int, error) {
	var p [3]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 3 {
		return p, fmt.Errorf("bad position %q (want x,y,z)", s)
	}
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return p, fmt.Errorf("bad position %q: %w", s, err)
		}
		p[i] = v
	}
	return p, nil
}
