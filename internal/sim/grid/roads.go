package grid

import "microcity.dev/internal/sim/catalogs"

// Dirs4 are the 4-neighbor offsets in a fixed order (N, E, S, W).
var Dirs4 = [4][2]int{{0, -1}, {1, 0}, {0, 1}, {-1, 0}}

// Reversion records a building that lost road access and fell back to its zone.
type Reversion struct {
	X, Y int
	From *catalogs.TileDef
	To   *catalogs.TileDef
}

// IsConnectedToRoad is true iff a 4-neighbor of (x,y) is a road.
func (g *Grid) IsConnectedToRoad(x, y int) bool {
	for _, d := range Dirs4 {
		c, ok := g.Tile(x+d[0], y+d[1])
		if ok && c.Type == g.road {
			return true
		}
	}
	return false
}

// RefreshRoadAccess recomputes HasRoadAccess for every cell. Developed
// buildings without access revert to their zone in the same call.
func (g *Grid) RefreshRoadAccess() []Reversion {
	for i := range g.cells {
		c := &g.cells[i]
		c.HasRoadAccess = g.IsConnectedToRoad(c.X, c.Y)
	}

	var out []Reversion
	for i := range g.cells {
		c := &g.cells[i]
		if c.HasRoadAccess || !c.Type.IsDeveloped() {
			continue
		}
		to := g.roadLossTarget(c.Type)
		if to == nil {
			continue
		}
		from := c.Type
		g.setType(c, to, "road_lost")
		out = append(out, Reversion{X: c.X, Y: c.Y, From: from, To: to})
	}
	return out
}

// roadLossTarget is the originating zone of a developed building.
func (g *Grid) roadLossTarget(def *catalogs.TileDef) *catalogs.TileDef {
	if def.BaseTile != "" {
		if z, ok := g.tiles.Get(def.BaseTile); ok && z.IsZone {
			return z
		}
	}
	if def.RevertsTo != "" {
		if z, ok := g.tiles.Get(def.RevertsTo); ok {
			return z
		}
	}
	return nil
}

// CountWithin counts cells within Manhattan distance r of (x,y), excluding
// the center, whose type satisfies match.
func (g *Grid) CountWithin(x, y, r int, match func(*Cell) bool) int {
	n := 0
	g.EachWithin(x, y, r, func(c *Cell, d int) {
		if d > 0 && match(c) {
			n++
		}
	})
	return n
}

// EachWithin visits in-bounds cells within Manhattan distance r of (x,y),
// including the center (d == 0).
func (g *Grid) EachWithin(x, y, r int, fn func(c *Cell, d int)) {
	if r < 0 {
		return
	}
	for dy := -r; dy <= r; dy++ {
		rem := r - abs(dy)
		for dx := -rem; dx <= rem; dx++ {
			c, ok := g.Tile(x+dx, y+dy)
			if !ok {
				continue
			}
			fn(c, abs(dx)+abs(dy))
		}
	}
}

// NearestDistance returns the Manhattan distance to the closest cell within
// r that satisfies match (center excluded), or -1.
func (g *Grid) NearestDistance(x, y, r int, match func(*Cell) bool) int {
	best := -1
	g.EachWithin(x, y, r, func(c *Cell, d int) {
		if d == 0 || !match(c) {
			return
		}
		if best < 0 || d < best {
			best = d
		}
	})
	return best
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
