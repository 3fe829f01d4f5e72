// Package fields evolves the pollution and land-value scalar fields over the
// grid. Both fields persist across ticks; cells only receive snapshots.
package fields

import (
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/grid"
	"microcity.dev/internal/sim/tuning"
)

type offset struct {
	dx, dy int
	w      float64
}

type Simulator struct {
	g   *grid.Grid
	pol tuning.Pollution
	lv  tuning.LandValue

	pollution []float64
	value     []float64
	next      []float64

	spread []offset
}

func New(g *grid.Grid, pol tuning.Pollution, lv tuning.LandValue) *Simulator {
	n := g.Width() * g.Height()
	s := &Simulator{
		g:         g,
		pol:       pol,
		lv:        lv,
		pollution: make([]float64, n),
		value:     make([]float64, n),
		next:      make([]float64, n),
		spread:    inverseDistanceOffsets(pol.SpreadRadius),
	}
	s.Reset()
	return s
}

// inverseDistanceOffsets lists every offset within Manhattan radius r with
// weights proportional to 1/d, normalized to sum to 1. Offsets that fall off
// the grid keep their weight, so pollution leaks out at the edges.
func inverseDistanceOffsets(r int) []offset {
	if r < 1 {
		r = 1
	}
	var out []offset
	total := 0.0
	for dy := -r; dy <= r; dy++ {
		for dx := -r; dx <= r; dx++ {
			d := iabs(dx) + iabs(dy)
			if d == 0 || d > r {
				continue
			}
			w := 1 / float64(d)
			out = append(out, offset{dx: dx, dy: dy, w: w})
			total += w
		}
	}
	for i := range out {
		out[i].w /= total
	}
	return out
}

func (s *Simulator) Reset() {
	for i := range s.pollution {
		s.pollution[i] = 0
		s.value[i] = s.lv.Base
	}
}

func (s *Simulator) PollutionAt(x, y int) float64 {
	if !s.g.InBounds(x, y) {
		return 0
	}
	return s.pollution[s.g.Index(x, y)]
}

func (s *Simulator) TileValueAt(x, y int) float64 {
	if !s.g.InBounds(x, y) {
		return 0
	}
	return s.value[s.g.Index(x, y)]
}

// SetPollution overwrites one field value (clamped) and its cell snapshot.
func (s *Simulator) SetPollution(x, y int, v float64) bool {
	c, ok := s.g.Tile(x, y)
	if !ok {
		return false
	}
	v = clamp(v, 0, s.pol.Max)
	s.pollution[s.g.Index(x, y)] = v
	c.Pollution = v
	return true
}

// ClearCell drops the field state of one cell back to terrain defaults.
func (s *Simulator) ClearCell(x, y int) {
	if !s.g.InBounds(x, y) {
		return
	}
	i := s.g.Index(x, y)
	s.pollution[i] = 0
	s.value[i] = s.lv.Base
}

// Step advances both fields by one tick and writes the cell snapshots.
func (s *Simulator) Step() {
	s.emit()
	s.decay()
	s.diffuse()
	s.parks()
	for i, p := range s.pollution {
		s.pollution[i] = clamp(p, 0, s.pol.Max)
	}
	s.recomputeLandValue()

	cells := s.g.Cells()
	for i := range cells {
		cells[i].Pollution = s.pollution[i]
		cells[i].TileValue = s.value[i]
	}
}

func (s *Simulator) isWater(c *grid.Cell) bool { return c.Type.ID == catalogs.Water }

func (s *Simulator) emit() {
	cells := s.g.Cells()
	for i := range cells {
		c := &cells[i]
		if !c.Type.IsDeveloped() || c.Type.ZoneCategory != catalogs.Industrial || c.Population <= 0 {
			continue
		}
		e := float64(c.Population) * s.pol.PerIndustrialPopulationUnit
		s.pollution[i] += e
		for _, d := range grid.Dirs4 {
			n, ok := s.g.Tile(c.X+d[0], c.Y+d[1])
			if ok && s.isWater(n) {
				s.pollution[s.g.Index(n.X, n.Y)] += e * s.pol.IndustrialTransferToWaterFactor
			}
		}
	}
}

func (s *Simulator) decay() {
	cells := s.g.Cells()
	for i := range cells {
		if s.isWater(&cells[i]) {
			s.pollution[i] *= s.pol.WaterDecayFactor
		} else {
			s.pollution[i] *= s.pol.DecayFactor
		}
	}
}

func (s *Simulator) diffuse() {
	cells := s.g.Cells()
	copy(s.next, s.pollution)

	for i := range cells {
		p := s.pollution[i]
		if p <= 0 {
			continue
		}
		c := &cells[i]
		factor := s.pol.SpreadFactor
		water := s.isWater(c)
		if water {
			factor = s.pol.WaterSpreadFactor
		}
		out := p * factor
		s.next[i] -= out
		for _, o := range s.spread {
			n, ok := s.g.Tile(c.X+o.dx, c.Y+o.dy)
			if !ok {
				continue
			}
			share := out * o.w
			j := s.g.Index(n.X, n.Y)
			if n.Type.ID == catalogs.Mountain {
				back := share * s.pol.MountainReflectionFactor
				s.next[i] += back
				share -= back
			}
			s.next[j] += share
		}
		if water {
			s.leakIntoLand(c, p)
		}
	}
	s.pollution, s.next = s.next, s.pollution
}

// leakIntoLand moves a fraction of a water cell's pollution into nearby land,
// split by inverse distance among the land cells actually in range.
func (s *Simulator) leakIntoLand(c *grid.Cell, p float64) {
	r := s.pol.WaterAffectsLandRadius
	if r <= 0 || s.pol.WaterToLandFactor <= 0 {
		return
	}
	type target struct {
		j int
		w float64
	}
	var targets []target
	total := 0.0
	s.g.EachWithin(c.X, c.Y, r, func(n *grid.Cell, d int) {
		if d == 0 || s.isWater(n) {
			return
		}
		w := 1 / float64(d)
		targets = append(targets, target{j: s.g.Index(n.X, n.Y), w: w})
		total += w
	})
	if len(targets) == 0 {
		return
	}
	leak := p * s.pol.WaterToLandFactor
	s.next[s.g.Index(c.X, c.Y)] -= leak
	for _, t := range targets {
		s.next[t.j] += leak * t.w / total
	}
}

func (s *Simulator) parks() {
	r := s.pol.ParkReductionRadius
	if s.pol.ParkReductionAmount <= 0 || r < 0 {
		return
	}
	cells := s.g.Cells()
	for i := range cells {
		c := &cells[i]
		if c.Type.ID != catalogs.Park {
			continue
		}
		s.g.EachWithin(c.X, c.Y, r, func(n *grid.Cell, d int) {
			if n.Type.IsObstacle {
				return
			}
			amt := s.pol.ParkReductionAmount / float64(d+1)
			for k := 0; k < d; k++ {
				amt *= s.pol.ParkSpreadDampening
			}
			s.pollution[s.g.Index(n.X, n.Y)] -= amt
		})
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func iabs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
