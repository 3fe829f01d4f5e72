package grid

import (
	"errors"
	"testing"
	"time"

	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/sched"
)

func newTestGrid(t *testing.T, w, h int, timers Canceler) *Grid {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	g, err := New(&cats.Tiles, Options{Width: w, Height: h, BaseTileValue: 30, Timers: timers})
	if err != nil {
		t.Fatalf("new grid: %v", err)
	}
	return g
}

func def(t *testing.T, g *Grid, id string) *catalogs.TileDef {
	t.Helper()
	d, ok := g.Catalog().Get(id)
	if !ok {
		t.Fatalf("missing tile %s", id)
	}
	return d
}

func TestNew_AllGrass(t *testing.T) {
	g := newTestGrid(t, 4, 3, nil)
	if g.Width() != 4 || g.Height() != 3 || len(g.Cells()) != 12 {
		t.Fatalf("unexpected dimensions")
	}
	for _, c := range g.Cells() {
		if c.Type.ID != catalogs.Grass || c.TileValue != 30 || c.Population != 0 {
			t.Fatalf("cell (%d,%d) not default grass: %+v", c.X, c.Y, c)
		}
	}
	if _, ok := g.Tile(4, 0); ok {
		t.Fatalf("expected out of bounds")
	}
	if _, ok := g.Tile(0, -1); ok {
		t.Fatalf("expected out of bounds")
	}
	if _, err := New(g.Catalog(), Options{Width: 0, Height: 3}); err == nil {
		t.Fatalf("expected bad dimensions rejected")
	}
}

func TestSetTileType_CityHallIsUnique(t *testing.T) {
	g := newTestGrid(t, 5, 5, nil)
	hall := def(t, g, catalogs.CityHall)

	if err := g.SetTileType(1, 1, hall, "test"); err != nil {
		t.Fatalf("place hall: %v", err)
	}
	if err := g.SetTileType(3, 3, hall, "test"); !errors.Is(err, ErrCityHall) {
		t.Fatalf("second hall: got %v", err)
	}
	if err := g.SetTileType(1, 1, def(t, g, catalogs.Road), "test"); !errors.Is(err, ErrCityHall) {
		t.Fatalf("overwrite hall: got %v", err)
	}
	if x, y, ok := g.CityHall(); !ok || x != 1 || y != 1 {
		t.Fatalf("hall at (%d,%d) ok=%v", x, y, ok)
	}
	if err := g.SetTileType(9, 9, hall, "test"); !errors.Is(err, ErrOutOfBounds) {
		t.Fatalf("out of bounds: got %v", err)
	}
	if err := g.SetTileType(0, 0, nil, "test"); !errors.Is(err, ErrNilType) {
		t.Fatalf("nil type: got %v", err)
	}
}

func TestSetTileType_FieldSnapshotRules(t *testing.T) {
	g := newTestGrid(t, 3, 3, nil)
	c, _ := g.Tile(1, 1)

	if err := g.SetTileType(1, 1, def(t, g, "industrial_1"), "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	c.Population = 7
	c.Pollution = 40
	c.TileValue = 12
	c.Struggling = true

	// Building to zone keeps the field snapshot.
	if err := g.SetTileType(1, 1, def(t, g, "industrial_zone"), "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if c.Population != 0 || c.Struggling || c.Pollution != 40 || c.TileValue != 12 {
		t.Fatalf("zone replacement: %+v", *c)
	}

	// Back to terrain resets it.
	if err := g.SetTileType(1, 1, def(t, g, catalogs.Grass), "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if c.Pollution != 0 || c.TileValue != 30 {
		t.Fatalf("terrain replacement: %+v", *c)
	}
}

func TestSetTileType_CancelsPendingTimerAndNotifies(t *testing.T) {
	q := sched.NewQueue()
	g := newTestGrid(t, 3, 3, q)
	var changes []string
	g.SetChangeHook(func(x, y int, from, to *catalogs.TileDef, reason string) {
		changes = append(changes, from.ID+">"+to.ID+":"+reason)
	})

	if err := g.SetTileType(0, 0, def(t, g, "residential_zone"), "build"); err != nil {
		t.Fatalf("set: %v", err)
	}
	fired := false
	c, _ := g.Tile(0, 0)
	c.PendingDev = q.Schedule(time.Second, func() { fired = true })

	if err := g.SetTileType(0, 0, def(t, g, catalogs.Grass), "bulldoze"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if c.PendingDev != 0 || q.Len() != 0 {
		t.Fatalf("pending timer not cancelled")
	}
	q.Advance(time.Minute)
	if fired {
		t.Fatalf("cancelled timer fired")
	}
	if len(changes) != 2 || changes[0] != "grass>residential_zone:build" || changes[1] != "residential_zone>grass:bulldoze" {
		t.Fatalf("changes: %v", changes)
	}
}

func TestClearTileData(t *testing.T) {
	q := sched.NewQueue()
	g := newTestGrid(t, 2, 2, q)
	if err := g.SetTileType(0, 0, def(t, g, "commercial_1"), "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	c, _ := g.Tile(0, 0)
	c.Population, c.Pollution, c.TileValue, c.HasRoadAccess, c.StruggleTicks = 4, 9, 70, true, 3
	c.PendingDev = q.Schedule(time.Second, func() {})

	if !g.ClearTileData(0, 0) {
		t.Fatalf("clear failed")
	}
	if c.Type.ID != "commercial_1" {
		t.Fatalf("type changed: %s", c.Type.ID)
	}
	if c.Population != 0 || c.Pollution != 0 || c.TileValue != 30 || c.HasRoadAccess || c.StruggleTicks != 0 || c.PendingDev != 0 {
		t.Fatalf("not cleared: %+v", *c)
	}
	if q.Len() != 0 {
		t.Fatalf("timer not cancelled")
	}
	if g.ClearTileData(5, 5) {
		t.Fatalf("expected false out of bounds")
	}
}

func TestRefreshRoadAccess_RevertsToOriginZone(t *testing.T) {
	g := newTestGrid(t, 5, 5, nil)
	if err := g.SetTileType(2, 2, def(t, g, catalogs.Road), "test"); err != nil {
		t.Fatalf("set road: %v", err)
	}
	if err := g.SetTileType(2, 3, def(t, g, "residential_2"), "test"); err != nil {
		t.Fatalf("set building: %v", err)
	}
	if rev := g.RefreshRoadAccess(); len(rev) != 0 {
		t.Fatalf("unexpected reversions: %+v", rev)
	}
	c, _ := g.Tile(2, 3)
	if !c.HasRoadAccess {
		t.Fatalf("expected road access")
	}

	if err := g.SetTileType(2, 2, def(t, g, catalogs.Grass), "test"); err != nil {
		t.Fatalf("remove road: %v", err)
	}
	rev := g.RefreshRoadAccess()
	if len(rev) != 1 || rev[0].From.ID != "residential_2" || rev[0].To.ID != "residential_zone" {
		t.Fatalf("reversions: %+v", rev)
	}
	if c.Type.ID != "residential_zone" || c.HasRoadAccess {
		t.Fatalf("cell after reversion: %+v", *c)
	}
	// Diagonal roads do not count.
	if err := g.SetTileType(3, 4, def(t, g, catalogs.Road), "test"); err != nil {
		t.Fatalf("set road: %v", err)
	}
	if g.IsConnectedToRoad(2, 3) {
		t.Fatalf("diagonal road counted as access")
	}
}

func TestIsAreaClearForFeature(t *testing.T) {
	g := newTestGrid(t, 4, 4, nil)
	if !g.IsAreaClearForFeature(0, 0, 2, 2, catalogs.Grass) {
		t.Fatalf("expected clear area")
	}
	if g.IsAreaClearForFeature(3, 3, 2, 2, catalogs.Grass) {
		t.Fatalf("expected out-of-bounds area rejected")
	}
	if err := g.SetTileType(1, 1, def(t, g, catalogs.Mountain), "test"); err != nil {
		t.Fatalf("set: %v", err)
	}
	if g.IsAreaClearForFeature(0, 0, 2, 2, catalogs.Grass, catalogs.Mountain) {
		t.Fatalf("expected obstacle rejected")
	}
	if g.IsAreaClearForFeature(0, 0, 0, 1, catalogs.Grass) {
		t.Fatalf("expected empty area rejected")
	}
}

func TestGenerate_Invariants(t *testing.T) {
	g := newTestGrid(t, 25, 25, nil)
	for seed := int64(1); seed <= 20; seed++ {
		rep := g.Generate(seed)
		counts := map[string]int{}
		for _, c := range g.Cells() {
			counts[c.Type.ID]++
			if c.Population != 0 || c.Pollution != 0 {
				t.Fatalf("seed %d: generated cell carries dynamic state", seed)
			}
		}
		if !rep.CityHall || counts[catalogs.CityHall] != 1 {
			t.Fatalf("seed %d: want exactly one city hall, got %d", seed, counts[catalogs.CityHall])
		}
		hx, hy, _ := g.CityHall()
		if abs(hx-12)+abs(hy-12) > 2 {
			t.Fatalf("seed %d: city hall far from center at (%d,%d)", seed, hx, hy)
		}
		if rep.HallRoad && !g.IsConnectedToRoad(hx, hy) {
			t.Fatalf("seed %d: hall road missing", seed)
		}
		if rep.Mountains < 1 || rep.Mountains > 2 {
			t.Fatalf("seed %d: mountain ranges %d", seed, rep.Mountains)
		}
		if counts[catalogs.Mountain] != rep.MountainCells || rep.MountainCells > 2*24 {
			t.Fatalf("seed %d: mountain cells %d vs report %d", seed, counts[catalogs.Mountain], rep.MountainCells)
		}
		if counts[catalogs.Water] != rep.RiverCells || rep.RiverCells == 0 || rep.RiverCells > 25+9 {
			t.Fatalf("seed %d: river cells %d vs report %d", seed, counts[catalogs.Water], rep.RiverCells)
		}
		if counts[catalogs.Park] != rep.ParkCells || rep.Parks > 10 || rep.ParkCells > 40 {
			t.Fatalf("seed %d: park cells %d vs report %d", seed, counts[catalogs.Park], rep.ParkCells)
		}
	}
}

func TestGenerate_Deterministic(t *testing.T) {
	a := newTestGrid(t, 25, 25, nil)
	b := newTestGrid(t, 25, 25, nil)
	a.Generate(99)
	b.Generate(99)
	for i := range a.Cells() {
		if a.Cells()[i].Type != b.Cells()[i].Type {
			t.Fatalf("cell %d differs", i)
		}
	}
}

func TestGenerate_TinyGridSkipsFeatures(t *testing.T) {
	g := newTestGrid(t, 1, 1, nil)
	rep := g.Generate(3)
	if !rep.CityHall || rep.HallRoad || rep.RiverCells != 0 {
		t.Fatalf("unexpected report on 1x1 grid: %+v", rep)
	}
}
