package grid

import (
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"

	"microcity.dev/internal/sim/catalogs"
)

const (
	mountainBranchChance = 0.6
	mountainSeedSamples  = 12
	ridgeScale           = 0.18
	featureAttempts      = 60
)

// GenReport counts what procedural generation managed to place.
type GenReport struct {
	CityHall      bool
	HallRoad      bool
	Mountains     int
	MountainCells int
	RiverCells    int
	Parks         int
	ParkCells     int
}

// Generate resets the grid and lays out city hall, mountain ranges, a river
// and park clusters. Features that find no valid spot are skipped.
func (g *Grid) Generate(seed int64) GenReport {
	g.Reset()
	rng := rand.New(rand.NewSource(seed))
	ridge := opensimplex.NewNormalized(seed)

	var rep GenReport
	rep.CityHall, rep.HallRoad = g.placeCityHall()

	ranges := 1 + rng.Intn(2)
	for i := 0; i < ranges; i++ {
		n := g.growMountainRange(rng, ridge, 10+rng.Intn(15))
		if n > 0 {
			rep.Mountains++
			rep.MountainCells += n
		}
	}

	rep.RiverCells = g.carveRiver(rng)

	clusters := 5 + rng.Intn(6)
	for i := 0; i < clusters; i++ {
		n := g.placeParkCluster(rng, 1+rng.Intn(4))
		if n > 0 {
			rep.Parks++
			rep.ParkCells += n
		}
	}
	return rep
}

func (g *Grid) isGrass(x, y int) bool {
	c, ok := g.Tile(x, y)
	return ok && c.Type == g.grass
}

func (g *Grid) paint(x, y int, def *catalogs.TileDef) bool {
	if !g.isGrass(x, y) {
		return false
	}
	g.setType(&g.cells[g.Index(x, y)], def, "generate")
	return true
}

func (g *Grid) placeCityHall() (hall, road bool) {
	cx, cy := g.w/2, g.h/2
	hx, hy, found := cx, cy, g.isGrass(cx, cy)
	// Ring search outward from the center.
	for r := 1; !found && r <= g.w+g.h; r++ {
		g.EachWithin(cx, cy, r, func(c *Cell, d int) {
			if found || d != r || c.Type != g.grass {
				return
			}
			hx, hy, found = c.X, c.Y, true
		})
	}
	if !found {
		return false, false
	}
	if err := g.SetTileType(hx, hy, g.cityHall, "generate"); err != nil {
		return false, false
	}
	for _, d := range [4][2]int{{0, 1}, {1, 0}, {0, -1}, {-1, 0}} {
		if g.paint(hx+d[0], hy+d[1], g.road) {
			return true, true
		}
	}
	return true, false
}

func (g *Grid) growMountainRange(rng *rand.Rand, ridge opensimplex.Noise, size int) int {
	// Sample candidate seeds and keep the one sitting highest on the ridge noise.
	sx, sy, best := -1, -1, -1.0
	for i := 0; i < mountainSeedSamples; i++ {
		x, y := rng.Intn(g.w), rng.Intn(g.h)
		if !g.isGrass(x, y) || g.nearHall(x, y, 3) {
			continue
		}
		v := ridge.Eval2(float64(x)*ridgeScale, float64(y)*ridgeScale)
		if v > best {
			sx, sy, best = x, y, v
		}
	}
	if sx < 0 {
		return 0
	}

	g.paint(sx, sy, g.mountain)
	placed := 1
	frontier := [][2]int{{sx, sy}}
	for iter := 0; placed < size && len(frontier) > 0 && iter < size*20; iter++ {
		i := rng.Intn(len(frontier))
		p := frontier[i]
		grew := false
		for _, k := range rng.Perm(4) {
			d := Dirs4[k]
			nx, ny := p[0]+d[0], p[1]+d[1]
			if placed >= size || !g.isGrass(nx, ny) || g.nearHall(nx, ny, 2) {
				continue
			}
			if rng.Float64() >= mountainBranchChance {
				continue
			}
			g.paint(nx, ny, g.mountain)
			frontier = append(frontier, [2]int{nx, ny})
			placed++
			grew = true
		}
		if !grew && !g.hasGrassNeighbor(p[0], p[1]) {
			frontier[i] = frontier[len(frontier)-1]
			frontier = frontier[:len(frontier)-1]
		}
	}
	return placed
}

func (g *Grid) carveRiver(rng *rand.Rand) int {
	if g.w < 3 {
		return 0
	}
	length := g.h + rng.Intn(10)
	x := 1 + rng.Intn(g.w-2)
	placed := 0
	put := func(x, y int) {
		if placed < length && g.paint(x, y, g.water) {
			placed++
		}
	}
	for y := 0; y < g.h && placed < length; y++ {
		put(x, y)
		if rng.Float64() < 0.2 {
			put(x+1, y)
		}
		if rng.Float64() < 0.3 {
			nx := x + []int{-1, 1}[rng.Intn(2)]
			if nx >= 0 && nx < g.w {
				x = nx
				put(x, y)
			}
		}
		if rng.Float64() < 0.1 {
			d := Dirs4[rng.Intn(4)]
			put(x+d[0], y+d[1])
		}
	}
	return placed
}

func (g *Grid) placeParkCluster(rng *rand.Rand, size int) int {
	sx, sy, ok := -1, -1, false
	for i := 0; i < featureAttempts && !ok; i++ {
		x, y := rng.Intn(g.w), rng.Intn(g.h)
		if g.IsAreaClearForFeature(x, y, 1, 1, catalogs.Grass) && g.nearWater(x, y, 2) {
			sx, sy, ok = x, y, true
		}
	}
	for i := 0; i < featureAttempts && !ok; i++ {
		x, y := rng.Intn(g.w), rng.Intn(g.h)
		if g.IsAreaClearForFeature(x, y, 1, 1, catalogs.Grass) {
			sx, sy, ok = x, y, true
		}
	}
	if !ok {
		return 0
	}
	g.paint(sx, sy, g.park)
	cluster := [][2]int{{sx, sy}}
	for tries := 0; len(cluster) < size && tries < size*8; tries++ {
		p := cluster[rng.Intn(len(cluster))]
		d := Dirs4[rng.Intn(4)]
		if g.paint(p[0]+d[0], p[1]+d[1], g.park) {
			cluster = append(cluster, [2]int{p[0] + d[0], p[1] + d[1]})
		}
	}
	return len(cluster)
}

func (g *Grid) hasGrassNeighbor(x, y int) bool {
	for _, d := range Dirs4 {
		if g.isGrass(x+d[0], y+d[1]) {
			return true
		}
	}
	return false
}

func (g *Grid) nearHall(x, y, r int) bool {
	if !g.hasHall {
		return false
	}
	return abs(x-g.hallX)+abs(y-g.hallY) <= r
}

func (g *Grid) nearWater(x, y, r int) bool {
	return g.NearestDistance(x, y, r, func(c *Cell) bool { return c.Type == g.water }) > 0
}
