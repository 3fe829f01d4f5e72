package city

import (
	"fmt"

	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/grid"
)

// Result is the outcome of a player command. Failed commands never mutate
// the city.
type Result struct {
	OK      bool
	Code    string
	Message string
	Budget  float64
}

func (c *City) fail(code, format string, args ...any) Result {
	return Result{Code: code, Message: fmt.Sprintf(format, args...), Budget: c.ledger.Budget()}
}

// PlaceTile builds (or bulldozes, when id is grass) at (x,y) and charges the
// tile's build cost.
func (c *City) PlaceTile(x, y int, id string) Result {
	cell, ok := c.grid.Tile(x, y)
	if !ok {
		return c.fail(protocol.ErrOutOfBounds, "(%d,%d) is outside the %dx%d grid", x, y, c.grid.Width(), c.grid.Height())
	}
	def, ok := c.cats.Tiles.Get(id)
	if !ok {
		return c.fail(protocol.ErrUnknownTile, "unknown tile %q", id)
	}
	cost, priced := def.BuildCost()
	if !def.Buildable || !priced {
		return c.fail(protocol.ErrNotBuildable, "%s cannot be placed", id)
	}
	if cell.Type == def {
		return c.fail(protocol.ErrSameType, "(%d,%d) is already %s", x, y, id)
	}
	if cell.Type.IsObstacle {
		return c.fail(protocol.ErrBlocked, "(%d,%d) is %s", x, y, cell.Type.ID)
	}
	if cell.Type.ID == catalogs.CityHall {
		return c.fail(protocol.ErrCityHall, "city hall cannot be replaced")
	}
	if float64(cost) > c.ledger.Budget() {
		return c.fail(protocol.ErrNoFunds, "%s costs %d, budget is %.2f", id, cost, c.ledger.Budget())
	}

	prev := cell.Type
	if err := c.grid.SetTileType(x, y, def, "build"); err != nil {
		return c.fail(protocol.ErrInternal, "%v", err)
	}
	c.ledger.Spend(float64(cost))

	roadChanged := prev.ID == catalogs.Road || def.ID == catalogs.Road
	if roadChanged {
		c.grid.RefreshRoadAccess()
	}
	if def.IsDevelopableZone {
		c.zones.AttemptDevelopment(x, y)
	}
	if def.ID == catalogs.Road {
		for _, d := range grid.Dirs4 {
			c.zones.AttemptDevelopment(x+d[0], y+d[1])
		}
	}
	return Result{OK: true, Budget: c.ledger.Budget()}
}

// ResetGrid turns the whole city back into grass, cancels every pending
// development and restores the starting budget. The tick counter keeps
// running.
func (c *City) ResetGrid() {
	c.clock.Reset()
	c.grid.Reset()
	c.fields.Reset()
	c.ledger.Reset(c.cfg.Tuning.Economy.StartingBudget)
	c.publish()
}

// GenerateMap resets the city and lays out new terrain. A nil seed draws one
// from the city's random source.
func (c *City) GenerateMap(seed *int64) grid.GenReport {
	s := c.rng.Int63()
	if seed != nil {
		s = *seed
	}
	c.clock.Reset()
	c.ledger.Reset(c.cfg.Tuning.Economy.StartingBudget)
	rep := c.generate(s)
	c.publish()
	return rep
}

func (c *City) generate(seed int64) grid.GenReport {
	rep := c.grid.Generate(seed)
	c.fields.Reset()
	c.grid.RefreshRoadAccess()
	c.logf("generated map seed=%d hall=%v mountains=%d/%d river=%d parks=%d/%d",
		seed, rep.CityHall, rep.Mountains, rep.MountainCells, rep.RiverCells, rep.Parks, rep.ParkCells)
	return rep
}

// Apply executes one protocol command on behalf of actor and records it for
// the next tick log entry.
func (c *City) Apply(actor string, cmd protocol.CommandMsg) protocol.ResultMsg {
	if actor == "" {
		actor = "player"
	}
	c.actor = actor
	defer func() { c.actor = "system" }()

	var res Result
	switch cmd.Command {
	case protocol.CmdPlaceTile:
		res = c.PlaceTile(cmd.X, cmd.Y, cmd.TileID)
	case protocol.CmdReset:
		c.ResetGrid()
		res = Result{OK: true, Budget: c.ledger.Budget()}
	case protocol.CmdGenerate:
		c.GenerateMap(cmd.Seed)
		res = Result{OK: true, Budget: c.ledger.Budget()}
	default:
		res = c.fail(protocol.ErrBadRequest, "unknown command %q", cmd.Command)
	}

	c.recorded = append(c.recorded, RecordedCommand{Actor: actor, Clock: c.clock.Now(), Cmd: cmd, OK: res.OK, Code: res.Code})
	if res.OK {
		c.publish()
	}
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ID:              cmd.ID,
		OK:              res.OK,
		Code:            res.Code,
		Message:         res.Message,
		Budget:          res.Budget,
		Tick:            c.tick.Load(),
	}
}
