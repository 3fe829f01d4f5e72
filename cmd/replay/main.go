package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "microcity.dev/internal/persistence/log"
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/city"
)

func main() {
	var (
		dataDir   = flag.String("data", "./data", "runtime data directory")
		cityID    = flag.String("city", "", "city id")
		configDir = flag.String("configs", "./configs", "config directory")
		runID     = flag.String("run", "", "run id (default: latest)")
		toTick    = flag.Uint64("to_tick", 0, "stop at tick (inclusive, optional)")
	)
	flag.Parse()

	if *cityID == "" {
		fmt.Fprintln(os.Stderr, "missing -city")
		os.Exit(2)
	}
	run, err := persistlog.OpenRun(filepath.Join(*dataDir, "cities", *cityID), *runID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open run:", err)
		os.Exit(1)
	}

	cats, err := catalogs.Load(*configDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load catalogs:", err)
		os.Exit(1)
	}

	res, err := replay(run, cats, *toTick)
	if err != nil {
		fmt.Fprintf(os.Stderr, "replay run %s: %v\n", run.ID, err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: run=%s checked=%d ticks commands=%d\n", run.ID, res.Ticks, res.Commands)
}

type result struct {
	Ticks    uint64
	Commands int
}

var errStop = errors.New("stop")

// replay rebuilds the city described by the run's meta and re-applies its
// tick log, comparing command outcomes and the state digest of every tick.
func replay(run *persistlog.Run, cats *catalogs.Catalogs, toTick uint64) (result, error) {
	var res result

	meta := run.Meta
	if meta.TilesDigest != "" && meta.TilesDigest != cats.Tiles.Digest {
		return res, fmt.Errorf("tile catalog digest mismatch: meta=%s configs=%s", meta.TilesDigest, cats.Tiles.Digest)
	}

	c, err := city.New(city.Config{
		ID:       meta.CityID,
		Seed:     meta.Seed,
		Generate: meta.Generate,
		Tuning:   meta.Tuning,
	}, cats)
	if err != nil {
		return res, err
	}

	err = run.ReadTicks(func(entry city.TickLogEntry) error {
		if toTick != 0 && entry.Tick > toTick {
			return errStop
		}
		if entry.Tick != c.CurrentTick() {
			return fmt.Errorf("tick gap: want=%d got=%d", c.CurrentTick(), entry.Tick)
		}

		for i, rc := range entry.Commands {
			c.AdvanceClockTo(rc.Clock)
			got := c.Apply(rc.Actor, rc.Cmd)
			if got.OK != rc.OK || got.Code != rc.Code {
				return fmt.Errorf("tick %d command %d (%s): got ok=%v code=%q want ok=%v code=%q",
					entry.Tick, i, rc.Cmd.Command, got.OK, got.Code, rc.OK, rc.Code)
			}
			res.Commands++
		}
		c.AdvanceClockTo(entry.Clock)

		tick, digest := c.StepOnce()
		if tick != entry.Tick {
			return fmt.Errorf("internal tick mismatch: stepped=%d entry=%d", tick, entry.Tick)
		}
		if digest != entry.Digest {
			return fmt.Errorf("digest mismatch at tick %d: got=%s want=%s", tick, digest, entry.Digest)
		}
		res.Ticks++
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return res, err
	}
	return res, nil
}
