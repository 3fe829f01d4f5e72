// Package zones runs the growth/decline state machine of developed RCI
// buildings and the timed development of freshly placed zones.
package zones

import (
	"math/rand"
	"time"

	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/grid"
	"microcity.dev/internal/sim/sched"
	"microcity.dev/internal/sim/tuning"
)

type Lifecycle struct {
	g      *grid.Grid
	cfg    tuning.Zones
	dev    tuning.Development
	timers sched.Scheduler
	rng    *rand.Rand

	maxTileValue float64
}

func New(g *grid.Grid, cfg tuning.Zones, dev tuning.Development, maxTileValue float64, timers sched.Scheduler, rng *rand.Rand) *Lifecycle {
	return &Lifecycle{
		g:            g,
		cfg:          cfg,
		dev:          dev,
		timers:       timers,
		rng:          rng,
		maxTileValue: maxTileValue,
	}
}

// StepStats summarizes one growth/decline pass.
type StepStats struct {
	Grew       int `json:"grew"`
	Declined   int `json:"declined"`
	LevelUps   int `json:"level_ups"`
	LevelDowns int `json:"level_downs"`
	Struggling int `json:"struggling"`
}

type verdict int

const (
	stable verdict = iota
	grow
	decline
)

type decision struct {
	idx    int
	access float64
	v      verdict
}

func (l *Lifecycle) rules(cat catalogs.ZoneCategory) tuning.CategoryRules {
	switch cat {
	case catalogs.Commercial:
		return l.cfg.Commercial
	case catalogs.Industrial:
		return l.cfg.Industrial
	default:
		return l.cfg.Residential
	}
}

// Step evaluates every developed building against the state left by the
// field pass, then applies all transitions. Decisions are taken on one
// consistent view so cells earlier in the scan do not influence later ones.
func (l *Lifecycle) Step() StepStats {
	cells := l.g.Cells()
	var decisions []decision
	for i := range cells {
		c := &cells[i]
		if !c.Type.IsDeveloped() {
			continue
		}
		r := l.rules(c.Type.ZoneCategory)
		access := l.AccessScore(c)
		v := stable
		switch {
		case c.TileValue < r.DeclineThreshold || access < r.MinAccessNoDecline:
			v = decline
		case c.TileValue >= r.GrowthThreshold && access >= r.GrowthAccess:
			v = grow
		}
		decisions = append(decisions, decision{idx: i, access: access, v: v})
	}

	var st StepStats
	for _, d := range decisions {
		c := &cells[d.idx]
		r := l.rules(c.Type.ZoneCategory)
		switch d.v {
		case grow:
			if c.Population >= c.Type.PopulationCapacity {
				if l.levelUp(c) {
					st.LevelUps++
				}
			} else {
				c.Population = min(c.Type.PopulationCapacity, c.Population+r.GrowthRate)
				st.Grew++
			}
		case decline:
			c.Population = max(0, c.Population-r.DeclineRate)
			st.Declined++
			if c.Population == 0 && l.levelDown(c) {
				st.LevelDowns++
			}
		}
		if !c.Type.IsDeveloped() {
			continue
		}
		l.trackStruggle(c)
		c.Score = l.score(c, d.access)
		if c.Struggling {
			st.Struggling++
		}
	}
	return st
}

func (l *Lifecycle) levelUp(c *grid.Cell) bool {
	if c.Type.Level >= 3 || c.Type.DevelopsInto == "" {
		return false
	}
	next, ok := l.g.Catalog().Get(c.Type.DevelopsInto)
	if !ok {
		return false
	}
	pop := c.Population
	if err := l.g.SetTileType(c.X, c.Y, next, "level_up"); err != nil {
		return false
	}
	c.Population = min(pop, next.PopulationCapacity)
	return true
}

func (l *Lifecycle) levelDown(c *grid.Cell) bool {
	if c.Type.RevertsTo == "" {
		return false
	}
	prev, ok := l.g.Catalog().Get(c.Type.RevertsTo)
	if !ok {
		return false
	}
	if err := l.g.SetTileType(c.X, c.Y, prev, "level_down"); err != nil {
		return false
	}
	if prev.IsDeveloped() {
		c.Population = prev.PopulationCapacity / 2
	} else if prev.IsDevelopableZone {
		// An emptied level-1 building is a fresh zone again and gets its own
		// development timer.
		l.AttemptDevelopment(c.X, c.Y)
	}
	return true
}

func (l *Lifecycle) trackStruggle(c *grid.Cell) {
	if ratio(c) < l.cfg.StruggleRatio {
		c.StruggleTicks++
		if c.StruggleTicks >= l.cfg.StruggleVisualThresholdTicks {
			c.Struggling = true
		}
		return
	}
	c.StruggleTicks = 0
	c.Struggling = false
}

func ratio(c *grid.Cell) float64 {
	if c.Type.PopulationCapacity <= 0 {
		return 0
	}
	return float64(c.Population) / float64(c.Type.PopulationCapacity)
}

func (l *Lifecycle) score(c *grid.Cell, access float64) float64 {
	var s float64
	if c.Type.ZoneCategory == catalogs.Residential {
		tv := 0.0
		if l.maxTileValue > 0 {
			tv = c.TileValue / l.maxTileValue
		}
		s = 50*tv + 50*access
	} else {
		s = 50*ratio(c) + 50*access
	}
	return clamp01(s/100) * 100
}

// AccessScore rates a developed building's reach in [0,1]: job access for
// residential, customer access for commercial, worker access for industrial.
func (l *Lifecycle) AccessScore(c *grid.Cell) float64 {
	if !c.Type.IsDeveloped() {
		return 0
	}
	r := l.rules(c.Type.ZoneCategory).AccessRadius
	residents := 0
	jobs := 0
	l.g.EachWithin(c.X, c.Y, r, func(n *grid.Cell, _ int) {
		if n.Type.IsDeveloped() && n.Type.ZoneCategory == catalogs.Residential {
			residents += n.Population
		}
		if n.Type.IsBuilding && n.Type.ZoneCategory != catalogs.Residential {
			jobs += n.Type.JobsProvided
		}
	})
	switch c.Type.ZoneCategory {
	case catalogs.Residential:
		return clamp01(float64(jobs) / float64(max(1, residents)))
	default:
		return clamp01(float64(residents) / float64(max(1, c.Type.PopulationCapacity)))
	}
}

// AttemptDevelopment schedules the one-shot development of an empty zone.
// It reports false when (x,y) is not a developable zone or a timer is
// already pending there.
func (l *Lifecycle) AttemptDevelopment(x, y int) (sched.Handle, bool) {
	c, ok := l.g.Tile(x, y)
	if !ok || !c.Type.IsDevelopableZone || c.PendingDev != 0 || l.timers == nil {
		return 0, false
	}
	captured := c.Type
	var h sched.Handle
	h = l.timers.Schedule(l.developDelay(), func() { l.develop(x, y, captured, h) })
	c.PendingDev = h
	return h, true
}

func (l *Lifecycle) developDelay() time.Duration {
	lo := time.Duration(l.dev.DelayMinMs) * time.Millisecond
	hi := time.Duration(l.dev.DelayMaxMs) * time.Millisecond
	if hi <= lo || l.rng == nil {
		return lo
	}
	return lo + time.Duration(l.rng.Int63n(int64(hi-lo)))
}

// develop runs when a development timer fires. Everything captured at
// scheduling time is re-validated; a stale timer is a silent no-op.
func (l *Lifecycle) develop(x, y int, captured *catalogs.TileDef, h sched.Handle) {
	c, ok := l.g.Tile(x, y)
	if !ok {
		return
	}
	if c.PendingDev == h {
		c.PendingDev = 0
	}
	if c.Type != captured || !l.g.IsConnectedToRoad(x, y) {
		return
	}
	next, ok := l.g.Catalog().Get(captured.DevelopsInto)
	if !ok {
		return
	}
	if err := l.g.SetTileType(x, y, next, "develop"); err != nil {
		return
	}
	c.Population = next.PopulationCapacity / 2
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
