package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"microcity.dev/internal/persistence/indexdb"
	persistlog "microcity.dev/internal/persistence/log"
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/encoding"
)

func openIndex(run func() *persistlog.Run, dbPath string) *indexdb.SQLiteIndex {
	path := strings.TrimSpace(dbPath)
	if path == "" {
		path = run().IndexPath()
	}
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(os.Stderr, "index:", err)
		os.Exit(1)
	}
	idx, err := indexdb.OpenSQLite(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	return idx
}

// historyCmd prints the ledger report of each indexed tick.
func historyCmd(args []string) {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	run := runFlag(fs)
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	from := fs.Uint64("from", 0, "first tick (inclusive)")
	to := fs.Uint64("to", 0, "last tick (inclusive, 0 = no limit)")
	limit := fs.Int("limit", 100, "result limit")
	_ = fs.Parse(args)

	idx := openIndex(run, *dbPath)
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.History(ctx, *from, *to, *limit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func auditsCmd(args []string) {
	fs := flag.NewFlagSet("audits", flag.ExitOnError)
	run := runFlag(fs)
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	actor := fs.String("actor", "", "actor filter (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	pos := fs.String("pos", "", "tile filter: x,y (optional)")
	limit := fs.Int("limit", 100, "result limit")
	_ = fs.Parse(args)

	f := indexdb.AuditFilter{Actor: strings.TrimSpace(*actor), SinceTick: *sinceTick, Limit: *limit}
	if strings.TrimSpace(*pos) != "" {
		p, err := parseVec2(*pos)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -pos:", err)
			os.Exit(2)
		}
		f.Pos = &p
	}

	idx := openIndex(run, *dbPath)
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.Audits(ctx, f)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	for _, r := range rows {
		printJSON(r)
	}
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}

// mapCmd prints the tile layout of one indexed tick using catalog glyphs.
func mapCmd(args []string) {
	fs := flag.NewFlagSet("map", flag.ExitOnError)
	run := runFlag(fs)
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	configDir := fs.String("configs", "./configs", "config directory")
	tick := fs.Uint64("tick", 0, "tick to render")
	_ = fs.Parse(args)

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}
	meta := run().Meta

	idx := openIndex(run, *dbPath)
	defer idx.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rows, err := idx.History(ctx, *tick, *tick, 1)
	if err != nil {
		fmt.Fprintln(os.Stderr, "query:", err)
		os.Exit(1)
	}
	if len(rows) == 0 {
		fmt.Fprintf(os.Stderr, "tick %d not indexed\n", *tick)
		os.Exit(2)
	}
	out, err := renderLayout(rows[0].Layout, meta.Tuning.Grid.Width, meta.Tuning.Grid.Height, &cats.Tiles)
	if err != nil {
		fmt.Fprintln(os.Stderr, "layout:", err)
		os.Exit(1)
	}
	fmt.Print(out)
}

func renderLayout(layout string, w, h int, cat *catalogs.TileCatalog) (string, error) {
	ids, err := encoding.DecodeLayout(layout, w*h)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			id := int(ids[y*w+x])
			glyph := "?"
			if id < len(cat.Palette) {
				if g := cat.MustGet(cat.Palette[id]).Render.Glyph; g != "" {
					glyph = g
				}
			}
			sb.WriteString(glyph)
		}
		sb.WriteByte('\n')
	}
	return sb.String(), nil
}
