package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	persistlog "microcity.dev/internal/persistence/log"
	"microcity.dev/internal/sim/city"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "history":
			historyCmd(os.Args[2:])
			return
		case "audits":
			auditsCmd(os.Args[2:])
			return
		case "map":
			mapCmd(os.Args[2:])
			return
		case "ticklog":
			ticklogCmd(os.Args[2:])
			return
		case "auditlog":
			auditlogCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "bootstrap":
			bootstrapCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	entries, err := os.ReadDir(filepath.Join(*dataDir, "cities"))
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		fmt.Println(e.Name())
		cityDir := filepath.Join(*dataDir, "cities", e.Name())
		runs, err := persistlog.Runs(cityDir)
		if err != nil {
			fmt.Fprintln(os.Stderr, "  runs:", err)
			continue
		}
		for _, id := range runs {
			meta, err := persistlog.ReadMeta(filepath.Join(cityDir, "runs", id))
			if err != nil {
				fmt.Printf("  %s (no meta)\n", id)
				continue
			}
			fmt.Printf("  %s seed=%d generate=%v grid=%dx%d\n", id, meta.Seed, meta.Generate, meta.Tuning.Grid.Width, meta.Tuning.Grid.Height)
		}
	}
}

// runFlag registers -data, -city and -run and returns a resolver for the
// selected run. An empty -run picks the most recent one.
func runFlag(fs *flag.FlagSet) func() *persistlog.Run {
	dataDir := fs.String("data", "./data", "runtime data directory")
	cityID := fs.String("city", "", "city id")
	runID := fs.String("run", "", "run id (default: latest)")
	var run *persistlog.Run
	return func() *persistlog.Run {
		if run != nil {
			return run
		}
		if strings.TrimSpace(*cityID) == "" {
			fmt.Fprintln(os.Stderr, "missing -city")
			os.Exit(2)
		}
		r, err := persistlog.OpenRun(filepath.Join(*dataDir, "cities", *cityID), strings.TrimSpace(*runID))
		if err != nil {
			fmt.Fprintln(os.Stderr, "open run:", err)
			os.Exit(1)
		}
		run = r
		return run
	}
}

// ticklogCmd prints one summary line per logged tick.
func ticklogCmd(args []string) {
	fs := flag.NewFlagSet("ticklog", flag.ExitOnError)
	run := runFlag(fs)
	from := fs.Uint64("from", 0, "first tick (inclusive)")
	to := fs.Uint64("to", 0, "last tick (inclusive, 0 = no limit)")
	_ = fs.Parse(args)

	var n int
	err := run().ReadTicks(func(e city.TickLogEntry) error {
		if e.Tick < *from || (*to != 0 && e.Tick > *to) {
			return nil
		}
		n++
		fmt.Printf("tick=%d cmds=%d grew=%d declined=%d up=%d down=%d taxes=%.2f costs=%.2f budget=%.2f pop=%d digest=%s\n",
			e.Tick, len(e.Commands), e.Zones.Grew, e.Zones.Declined, e.Zones.LevelUps, e.Zones.LevelDowns,
			e.Report.Taxes, e.Report.Costs, e.Report.Budget, e.Report.Population, e.Digest)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read ticks:", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "%d ticks\n", n)
}

// auditlogCmd prints tile changes from the compressed audit log, optionally
// restricted to a rectangle.
func auditlogCmd(args []string) {
	fs := flag.NewFlagSet("auditlog", flag.ExitOnError)
	run := runFlag(fs)
	rect := fs.String("rect", "", "rectangle filter: x1,y1:x2,y2 (optional)")
	sinceTick := fs.Uint64("since_tick", 0, "first tick (inclusive)")
	actor := fs.String("actor", "", "actor filter (optional)")
	_ = fs.Parse(args)

	var min, max [2]int
	useRect := strings.TrimSpace(*rect) != ""
	if useRect {
		var err error
		min, max, err = parseRect(*rect)
		if err != nil {
			fmt.Fprintln(os.Stderr, "bad -rect:", err)
			os.Exit(2)
		}
	}

	err := run().ReadAudits(func(e city.AuditEntry) error {
		if e.Tick < *sinceTick {
			return nil
		}
		if *actor != "" && e.Actor != *actor {
			return nil
		}
		if useRect && !withinRect(e.Pos, min, max) {
			return nil
		}
		fmt.Printf("tick=%d actor=%s %s (%d,%d) %s -> %s %s\n", e.Tick, e.Actor, e.Action, e.Pos[0], e.Pos[1], e.From, e.To, e.Reason)
		return nil
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "read audits:", err)
		os.Exit(1)
	}
}

func withinRect(pos, min, max [2]int) bool {
	return pos[0] >= min[0] && pos[0] <= max[0] && pos[1] >= min[1] && pos[1] <= max[1]
}

func parseRect(s string) (min, max [2]int, err error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return min, max, fmt.Errorf("expected x1,y1:x2,y2")
	}
	a, err := parseVec2(parts[0])
	if err != nil {
		return min, max, err
	}
	b, err := parseVec2(parts[1])
	if err != nil {
		return min, max, err
	}
	for i := 0; i < 2; i++ {
		min[i], max[i] = a[i], b[i]
		if min[i] > max[i] {
			min[i], max[i] = max[i], min[i]
		}
	}
	return min, max, nil
}

func parseVec2(s string) ([2]int, error) {
	var out [2]int
	parts := strings.Split(strings.TrimSpace(s), ",")
	if len(parts) != 2 {
		return out, fmt.Errorf("bad vec2: %q", s)
	}
	for i := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(parts[i]))
		if err != nil {
			return out, fmt.Errorf("bad int in %q", s)
		}
		out[i] = n
	}
	return out, nil
}
