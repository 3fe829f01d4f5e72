package grid

import (
	"errors"
	"fmt"
	"log"

	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/sched"
)

var (
	ErrOutOfBounds = errors.New("grid: out of bounds")
	ErrNilType     = errors.New("grid: nil tile type")
	ErrCityHall    = errors.New("grid: city hall cannot be replaced or duplicated")
)

// Cell is one grid coordinate. Pollution and TileValue are snapshots of the
// field simulator's state after the last tick.
type Cell struct {
	X, Y int
	Type *catalogs.TileDef

	Population    int
	TileValue     float64
	Pollution     float64
	HasRoadAccess bool

	StruggleTicks int
	Struggling    bool
	// Score is resident satisfaction for residential buildings and the
	// operational score for commercial/industrial ones, 0..100.
	Score float64

	PendingDev sched.Handle
}

func (c *Cell) resetTracking() {
	c.StruggleTicks = 0
	c.Struggling = false
	c.Score = 0
}

// Canceler cancels pending development timers owned by cells.
type Canceler interface {
	Cancel(h sched.Handle) bool
}

// ChangeHook observes every type change made through SetTileType.
type ChangeHook func(x, y int, from, to *catalogs.TileDef, reason string)

type Grid struct {
	w, h  int
	cells []Cell

	tiles         *catalogs.TileCatalog
	grass         *catalogs.TileDef
	road          *catalogs.TileDef
	water         *catalogs.TileDef
	mountain      *catalogs.TileDef
	park          *catalogs.TileDef
	cityHall      *catalogs.TileDef
	baseTileValue float64

	hallX, hallY int
	hasHall      bool

	timers   Canceler
	onChange ChangeHook
	log      *log.Logger
}

type Options struct {
	Width, Height int
	BaseTileValue float64
	Timers        Canceler
	Logger        *log.Logger
}

func New(tiles *catalogs.TileCatalog, opts Options) (*Grid, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("grid: bad dimensions %dx%d", opts.Width, opts.Height)
	}
	if tiles == nil {
		return nil, errors.New("grid: nil catalog")
	}
	g := &Grid{
		w:             opts.Width,
		h:             opts.Height,
		cells:         make([]Cell, opts.Width*opts.Height),
		tiles:         tiles,
		grass:         tiles.MustGet(catalogs.Grass),
		road:          tiles.MustGet(catalogs.Road),
		water:         tiles.MustGet(catalogs.Water),
		mountain:      tiles.MustGet(catalogs.Mountain),
		park:          tiles.MustGet(catalogs.Park),
		cityHall:      tiles.MustGet(catalogs.CityHall),
		baseTileValue: opts.BaseTileValue,
		timers:        opts.Timers,
		log:           opts.Logger,
	}
	g.Reset()
	return g, nil
}

func (g *Grid) Width() int  { return g.w }
func (g *Grid) Height() int { return g.h }

func (g *Grid) Catalog() *catalogs.TileCatalog { return g.tiles }

func (g *Grid) BaseTileValue() float64 { return g.baseTileValue }

func (g *Grid) SetChangeHook(h ChangeHook) { g.onChange = h }

func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.w && y < g.h
}

// Index is the row-major offset of (x,y); callers must check bounds.
func (g *Grid) Index(x, y int) int { return y*g.w + x }

// Cells exposes the backing row-major slice. It is owned by the grid and
// must only be touched from the simulation goroutine.
func (g *Grid) Cells() []Cell { return g.cells }

// Tile returns the cell at (x,y) or false when out of bounds.
func (g *Grid) Tile(x, y int) (*Cell, bool) {
	if !g.InBounds(x, y) {
		return nil, false
	}
	return &g.cells[g.Index(x, y)], true
}

func (g *Grid) CityHall() (x, y int, ok bool) {
	return g.hallX, g.hallY, g.hasHall
}

// Reset turns every cell into grass with terrain defaults and cancels all
// pending development timers.
func (g *Grid) Reset() {
	for i := range g.cells {
		c := &g.cells[i]
		g.cancelPending(c)
		*c = Cell{
			X:         i % g.w,
			Y:         i / g.w,
			Type:      g.grass,
			TileValue: g.baseTileValue,
		}
	}
	g.hasHall = false
	g.hallX, g.hallY = 0, 0
}

// SetTileType replaces the cell type and resets its dynamic fields. The
// field snapshot survives only when the new type is neither terrain nor an
// obstacle.
func (g *Grid) SetTileType(x, y int, def *catalogs.TileDef, reason string) error {
	c, ok := g.Tile(x, y)
	if !ok {
		return ErrOutOfBounds
	}
	if def == nil {
		return ErrNilType
	}
	if c.Type == g.cityHall {
		g.warnf("refusing to replace city hall at (%d,%d) with %s", x, y, def.ID)
		return ErrCityHall
	}
	if def == g.cityHall && g.hasHall {
		g.warnf("refusing second city hall at (%d,%d); existing at (%d,%d)", x, y, g.hallX, g.hallY)
		return ErrCityHall
	}
	g.setType(c, def, reason)
	return nil
}

func (g *Grid) setType(c *Cell, def *catalogs.TileDef, reason string) {
	from := c.Type
	g.cancelPending(c)

	c.Type = def
	c.Population = 0
	c.resetTracking()
	if def.IsTerrain || def.IsObstacle {
		c.Pollution = 0
		c.TileValue = g.baseTileValue
	}
	c.HasRoadAccess = g.IsConnectedToRoad(c.X, c.Y)

	if def == g.cityHall {
		g.hallX, g.hallY, g.hasHall = c.X, c.Y, true
	}
	if g.onChange != nil && from != def {
		g.onChange(c.X, c.Y, from, def, reason)
	}
}

// ClearTileData resets the dynamic fields to terrain defaults without
// touching the type.
func (g *Grid) ClearTileData(x, y int) bool {
	c, ok := g.Tile(x, y)
	if !ok {
		return false
	}
	g.cancelPending(c)
	c.Population = 0
	c.Pollution = 0
	c.TileValue = g.baseTileValue
	c.HasRoadAccess = false
	c.resetTracking()
	return true
}

func (g *Grid) cancelPending(c *Cell) {
	if c.PendingDev == 0 {
		return
	}
	if g.timers != nil {
		g.timers.Cancel(c.PendingDev)
	}
	c.PendingDev = 0
}

// IsAreaClearForFeature reports whether the w×h rectangle at (x,y) lies in
// bounds, holds only the allowed tile ids and contains no obstacle.
func (g *Grid) IsAreaClearForFeature(x, y, w, h int, allowed ...string) bool {
	if w <= 0 || h <= 0 {
		return false
	}
	for yy := y; yy < y+h; yy++ {
		for xx := x; xx < x+w; xx++ {
			c, ok := g.Tile(xx, yy)
			if !ok || c.Type.IsObstacle {
				return false
			}
			match := false
			for _, id := range allowed {
				if c.Type.ID == id {
					match = true
					break
				}
			}
			if !match {
				return false
			}
		}
	}
	return true
}

func (g *Grid) warnf(format string, args ...any) {
	if g.log == nil {
		return
	}
	g.log.Printf("warn: "+format, args...)
}
