package city

import (
	"context"
	"math"
	"testing"
	"time"

	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/encoding"
	"microcity.dev/internal/sim/tuning"
)

func newTestCity(t *testing.T, budget float64, generate bool) *City {
	t.Helper()
	cats, err := catalogs.Load("../../../configs")
	if err != nil {
		t.Fatalf("load catalogs: %v", err)
	}
	tune := tuning.Defaults()
	tune.Economy.StartingBudget = budget
	c, err := New(Config{ID: "test", Seed: 42, Generate: generate, Tuning: tune}, cats)
	if err != nil {
		t.Fatalf("new city: %v", err)
	}
	return c
}

func mustPlace(t *testing.T, c *City, x, y int, id string) {
	t.Helper()
	if res := c.PlaceTile(x, y, id); !res.OK {
		t.Fatalf("place %s at (%d,%d): %s %s", id, x, y, res.Code, res.Message)
	}
}

func tileID(t *testing.T, c *City, x, y int) string {
	t.Helper()
	cell, ok := c.Tile(x, y)
	if !ok {
		t.Fatalf("tile (%d,%d) out of bounds", x, y)
	}
	return cell.Type.ID
}

func TestPlaceRoad_ChargesCostAndCarry(t *testing.T) {
	c := newTestCity(t, 100, false)

	mustPlace(t, c, 1, 1, catalogs.Road)
	if got := c.Metrics().Budget; got != 90 {
		t.Fatalf("budget after road: got %v want 90", got)
	}
	if got := tileID(t, c, 1, 1); got != catalogs.Road {
		t.Fatalf("tile: got %s want road", got)
	}

	rep := c.RunTick()
	if rep.Taxes != 0 {
		t.Fatalf("taxes: got %v want 0", rep.Taxes)
	}
	if rep.Costs != 1 {
		t.Fatalf("costs: got %v want 1", rep.Costs)
	}
	if got := c.Metrics().Budget; got != 89 {
		t.Fatalf("budget after tick: got %v want 89", got)
	}
}

func TestPlaceTile_RejectionsDoNotMutate(t *testing.T) {
	c := newTestCity(t, 100, false)
	g := c.Grid()
	if err := g.SetTileType(3, 3, c.Catalog().MustGet(catalogs.Water), "test"); err != nil {
		t.Fatalf("set water: %v", err)
	}
	if err := g.SetTileType(5, 5, c.Catalog().MustGet(catalogs.CityHall), "test"); err != nil {
		t.Fatalf("set hall: %v", err)
	}

	cases := []struct {
		x, y int
		id   string
		code string
	}{
		{-1, 0, catalogs.Road, protocol.ErrOutOfBounds},
		{0, 25, catalogs.Road, protocol.ErrOutOfBounds},
		{0, 0, "castle", protocol.ErrUnknownTile},
		{0, 0, catalogs.CityHall, protocol.ErrNotBuildable},
		{0, 0, "residential_1", protocol.ErrNotBuildable},
		{0, 0, catalogs.Water, protocol.ErrNotBuildable},
		{0, 0, catalogs.Grass, protocol.ErrSameType},
		{3, 3, catalogs.Road, protocol.ErrBlocked},
		{5, 5, catalogs.Road, protocol.ErrCityHall},
		{0, 0, "industrial_zone", ""},
	}
	c.ledger.Restore(30)
	for _, tc := range cases[:len(cases)-1] {
		res := c.PlaceTile(tc.x, tc.y, tc.id)
		if res.OK || res.Code != tc.code {
			t.Fatalf("place %s at (%d,%d): got ok=%v code=%s want %s", tc.id, tc.x, tc.y, res.OK, res.Code, tc.code)
		}
		if !protocol.IsKnownCode(res.Code) {
			t.Fatalf("unknown code %s", res.Code)
		}
	}
	res := c.PlaceTile(0, 0, "industrial_zone")
	if res.OK || res.Code != protocol.ErrNoFunds {
		t.Fatalf("expected E_NO_FUNDS, got ok=%v code=%s", res.OK, res.Code)
	}
	if c.Metrics().Budget != 30 {
		t.Fatalf("budget mutated by rejected commands: %v", c.Metrics().Budget)
	}
	if got := tileID(t, c, 0, 0); got != catalogs.Grass {
		t.Fatalf("tile mutated by rejected commands: %s", got)
	}
}

func TestZoneDevelopment_RoadConnectedAtFire(t *testing.T) {
	c := newTestCity(t, 1000, false)
	mustPlace(t, c, 5, 5, catalogs.Road)
	mustPlace(t, c, 5, 6, "residential_zone")

	cell, _ := c.Tile(5, 6)
	if cell.PendingDev == 0 {
		t.Fatalf("expected pending development")
	}
	c.AdvanceTime(10 * time.Second)

	if got := tileID(t, c, 5, 6); got != "residential_1" {
		t.Fatalf("tile after timer: got %s want residential_1", got)
	}
	if cell.Population != 5 {
		t.Fatalf("population: got %d want 5", cell.Population)
	}
	if cell.PendingDev != 0 {
		t.Fatalf("pending handle not cleared")
	}
}

func TestZoneDevelopment_RoadRemovedBeforeFire(t *testing.T) {
	c := newTestCity(t, 1000, false)
	mustPlace(t, c, 5, 5, catalogs.Road)
	mustPlace(t, c, 5, 6, "residential_zone")
	mustPlace(t, c, 5, 5, catalogs.Grass)

	c.AdvanceTime(10 * time.Second)
	if got := tileID(t, c, 5, 6); got != "residential_zone" {
		t.Fatalf("tile after timer: got %s want residential_zone", got)
	}
	cell, _ := c.Tile(5, 6)
	if cell.Population != 0 {
		t.Fatalf("population: got %d want 0", cell.Population)
	}

	// A new adjacent road re-triggers development.
	mustPlace(t, c, 4, 6, catalogs.Road)
	if cell.PendingDev == 0 {
		t.Fatalf("expected development re-triggered by road placement")
	}
	c.AdvanceTime(10 * time.Second)
	if got := tileID(t, c, 5, 6); got != "residential_1" {
		t.Fatalf("tile after re-trigger: got %s want residential_1", got)
	}
}

func TestZoneDevelopment_BulldozedZoneNeverResurrects(t *testing.T) {
	c := newTestCity(t, 1000, false)
	mustPlace(t, c, 5, 5, catalogs.Road)
	mustPlace(t, c, 5, 6, "commercial_zone")
	mustPlace(t, c, 5, 6, catalogs.Grass)

	if n := c.clock.Len(); n != 0 {
		t.Fatalf("expected cancelled timer, %d pending", n)
	}
	c.AdvanceTime(20 * time.Second)
	if got := tileID(t, c, 5, 6); got != catalogs.Grass {
		t.Fatalf("tile: got %s want grass", got)
	}
}

func TestRoadLoss_RevertsImmediately(t *testing.T) {
	c := newTestCity(t, 1000, false)
	mustPlace(t, c, 5, 5, catalogs.Road)
	mustPlace(t, c, 5, 6, "industrial_zone")
	c.AdvanceTime(10 * time.Second)
	if got := tileID(t, c, 5, 6); got != "industrial_1" {
		t.Fatalf("tile: got %s want industrial_1", got)
	}

	mustPlace(t, c, 5, 5, catalogs.Park)
	cell, _ := c.Tile(5, 6)
	if cell.Type.ID != "industrial_zone" || cell.Population != 0 || cell.Score != 0 {
		t.Fatalf("expected immediate reversion, got %s pop=%d score=%v", cell.Type.ID, cell.Population, cell.Score)
	}
}

func TestRoadLoss_RevertsWithinTick(t *testing.T) {
	c := newTestCity(t, 1000, false)
	mustPlace(t, c, 5, 5, catalogs.Road)
	mustPlace(t, c, 5, 6, "residential_zone")
	c.AdvanceTime(10 * time.Second)

	// Remove the road behind the command layer's back.
	if err := c.Grid().SetTileType(5, 5, c.Catalog().MustGet(catalogs.Grass), "test"); err != nil {
		t.Fatalf("remove road: %v", err)
	}
	c.RunTick()
	if got := tileID(t, c, 5, 6); got != "residential_zone" {
		t.Fatalf("tile after tick: got %s want residential_zone", got)
	}
}

func TestResetGrid_Idempotent(t *testing.T) {
	c := newTestCity(t, 500, false)
	mustPlace(t, c, 0, 0, catalogs.Road)
	mustPlace(t, c, 0, 1, "residential_zone")
	c.RunTick()
	seed := int64(7)
	c.GenerateMap(&seed)

	c.ResetGrid()
	a := c.Snapshot()
	c.ResetGrid()
	b := c.Snapshot()

	if len(a.Tiles) != len(b.Tiles) {
		t.Fatalf("tile count changed")
	}
	for i := range a.Tiles {
		if a.Tiles[i] != b.Tiles[i] {
			t.Fatalf("tile %d differs after second reset: %+v vs %+v", i, a.Tiles[i], b.Tiles[i])
		}
		if a.Tiles[i].Type != catalogs.Grass || a.Tiles[i].Population != 0 || a.Tiles[i].Developing {
			t.Fatalf("tile %d not reset: %+v", i, a.Tiles[i])
		}
	}
	if a.Metrics.Budget != 500 || b.Metrics.Budget != 500 {
		t.Fatalf("budget not restored: %v %v", a.Metrics.Budget, b.Metrics.Budget)
	}
	if c.clock.Len() != 0 {
		t.Fatalf("timers survived reset")
	}
}

func TestDeterminism_SameSeedSameDigests(t *testing.T) {
	run := func() []string {
		c := newTestCity(t, 1000, true)
		hx, hy, ok := c.Grid().CityHall()
		if !ok {
			t.Fatalf("no city hall")
		}
		script := []struct {
			x, y int
			id   string
		}{
			{hx - 1, hy, catalogs.Road},
			{hx - 2, hy, catalogs.Road},
			{hx - 1, hy - 1, "residential_zone"},
			{hx - 2, hy - 1, "commercial_zone"},
			{hx - 2, hy + 1, "industrial_zone"},
		}
		for _, s := range script {
			c.PlaceTile(s.x, s.y, s.id)
		}
		var out []string
		for i := 0; i < 30; i++ {
			c.AdvanceTime(time.Second)
			_, d := c.StepOnce()
			out = append(out, d)
		}
		return out
	}
	a, b := run(), run()
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("digest mismatch at tick %d: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestBudgetConservation(t *testing.T) {
	c := newTestCity(t, 1000, false)
	start := c.Metrics().Budget
	spent := 0.0
	place := func(x, y int, id string) {
		before := c.Metrics().Budget
		mustPlace(t, c, x, y, id)
		spent += before - c.Metrics().Budget
	}
	for x := 0; x < 8; x++ {
		place(x, 10, catalogs.Road)
	}
	for x := 0; x < 8; x += 2 {
		place(x, 9, "residential_zone")
		place(x, 11, "commercial_zone")
	}
	place(1, 9, "industrial_zone")

	net := 0.0
	for i := 0; i < 40; i++ {
		c.AdvanceTime(time.Second)
		rep := c.RunTick()
		if math.Abs(rep.Net-(rep.Taxes-rep.Costs)) > 1e-9 {
			t.Fatalf("tick %d: net %v != taxes %v - costs %v", i, rep.Net, rep.Taxes, rep.Costs)
		}
		net += rep.Net
	}
	want := start - spent + net
	if got := c.Metrics().Budget; math.Abs(got-want) > 1e-6 {
		t.Fatalf("budget: got %v want %v", got, want)
	}
}

func TestInvariants_HoldAcrossTicks(t *testing.T) {
	c := newTestCity(t, 5000, true)
	tune := c.Tuning()
	hx, hy, _ := c.Grid().CityHall()
	for x := 0; x < c.Grid().Width(); x++ {
		c.PlaceTile(x, hy+2, catalogs.Road)
	}
	for x := 0; x < c.Grid().Width(); x += 3 {
		c.PlaceTile(x, hy+1, "residential_zone")
		c.PlaceTile(x+1, hy+3, "industrial_zone")
		c.PlaceTile(x+2, hy+3, "commercial_zone")
	}
	_ = hx

	for i := 0; i < 60; i++ {
		c.AdvanceTime(500 * time.Millisecond)
		c.RunTick()
		for _, cell := range c.Grid().Cells() {
			if cell.Pollution < 0 || cell.Pollution > tune.Pollution.Max {
				t.Fatalf("tick %d: pollution out of range at (%d,%d): %v", i, cell.X, cell.Y, cell.Pollution)
			}
			if cell.TileValue < 0 || cell.TileValue > tune.LandValue.Max {
				t.Fatalf("tick %d: tile value out of range at (%d,%d): %v", i, cell.X, cell.Y, cell.TileValue)
			}
			if cell.Population < 0 || cell.Population > cell.Type.PopulationCapacity {
				t.Fatalf("tick %d: population %d exceeds capacity of %s", i, cell.Population, cell.Type.ID)
			}
			if cell.Type.IsTerrain && (cell.Population != 0 || cell.PendingDev != 0) {
				t.Fatalf("tick %d: terrain cell (%d,%d) carries dynamic state", i, cell.X, cell.Y)
			}
			if cell.Type.IsDeveloped() && !cell.HasRoadAccess {
				t.Fatalf("tick %d: developed cell (%d,%d) without road access", i, cell.X, cell.Y)
			}
		}
	}
}

func TestApply_RecordsCommandsInTickLog(t *testing.T) {
	c := newTestCity(t, 100, false)
	var entries []TickLogEntry
	var audits []AuditEntry
	c.SetTickLogger(tickLoggerFunc(func(e TickLogEntry) error { entries = append(entries, e); return nil }))
	c.SetAuditLogger(auditLoggerFunc(func(e AuditEntry) error { audits = append(audits, e); return nil }))

	res := c.Apply("S1", protocol.CommandMsg{ID: "C1", Command: protocol.CmdPlaceTile, X: 2, Y: 2, TileID: catalogs.Road})
	if !res.OK || res.ID != "C1" || res.Budget != 90 {
		t.Fatalf("unexpected result: %+v", res)
	}
	res = c.Apply("S1", protocol.CommandMsg{ID: "C2", Command: "demolish"})
	if res.OK || res.Code != protocol.ErrBadRequest {
		t.Fatalf("expected bad request, got %+v", res)
	}
	c.RunTick()

	if len(entries) != 1 || len(entries[0].Commands) != 2 {
		t.Fatalf("tick log entries: %+v", entries)
	}
	if entries[0].Digest == "" || entries[0].Report.Costs != 1 {
		t.Fatalf("tick log entry: %+v", entries[0])
	}
	if len(audits) != 1 || audits[0].Actor != "S1" || audits[0].From != catalogs.Grass || audits[0].To != catalogs.Road {
		t.Fatalf("audits: %+v", audits)
	}
}

func TestRun_ServesCommandsAndQueries(t *testing.T) {
	c := newTestCity(t, 100, false)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	resp := make(chan protocol.ResultMsg, 1)
	c.Commands() <- CommandRequest{Actor: "S1", Cmd: protocol.CommandMsg{ID: "C1", Command: protocol.CmdPlaceTile, X: 1, Y: 1, TileID: catalogs.Road}, Resp: resp}
	select {
	case res := <-resp:
		if !res.OK {
			t.Fatalf("command failed: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for result")
	}

	snap := make(chan protocol.StateMsg, 1)
	c.Queries() <- SnapshotRequest{Resp: snap}
	select {
	case st := <-snap:
		if st.Tiles[1*st.Width+1].Type != catalogs.Road {
			t.Fatalf("snapshot missing road: %+v", st.Tiles[1*st.Width+1])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for snapshot")
	}

	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("run returned %v", err)
	}
}

type tickLoggerFunc func(TickLogEntry) error

func (f tickLoggerFunc) WriteTick(e TickLogEntry) error { return f(e) }

type auditLoggerFunc func(AuditEntry) error

func (f auditLoggerFunc) WriteAudit(e AuditEntry) error { return f(e) }

func TestLayoutTracksTileTypes(t *testing.T) {
	c := newTestCity(t, 1000, false)
	mustPlace(t, c, 3, 2, "road")

	w, h := c.Grid().Width(), c.Grid().Height()
	ids, err := encoding.DecodeLayout(c.Layout(), w*h)
	if err != nil {
		t.Fatalf("decode layout: %v", err)
	}
	idx := c.Catalog().Index
	for i, id := range ids {
		want := idx["grass"]
		if i == 2*w+3 {
			want = idx["road"]
		}
		if id != want {
			t.Fatalf("cell %d: got palette %d want %d", i, id, want)
		}
	}
}
