package city

import (
	"microcity.dev/internal/protocol"
	"microcity.dev/internal/sim/encoding"
	"microcity.dev/internal/sim/grid"
	"microcity.dev/internal/sim/ledger"
)

type SnapshotRequest struct {
	Resp chan protocol.StateMsg
}

// Metrics are the city-wide aggregates: the live budget plus the figures of
// the last settled tick.
type Metrics struct {
	Budget         float64
	Population     int
	EmploymentRate float64
	Satisfaction   float64
	Last           ledger.Report
}

func (m Metrics) Wire() protocol.Metrics {
	return protocol.Metrics{
		Budget:         m.Budget,
		Population:     m.Population,
		EmploymentRate: m.EmploymentRate,
		Satisfaction:   m.Satisfaction,
		LastTaxes:      m.Last.Taxes,
		LastCosts:      m.Last.Costs,
		LastNet:        m.Last.Net,
	}
}

func (c *City) Metrics() Metrics {
	last := c.ledger.Last()
	m := Metrics{
		Budget:         c.ledger.Budget(),
		Population:     last.Population,
		EmploymentRate: last.EmploymentRate,
		Satisfaction:   last.Satisfaction,
		Last:           last,
	}
	if last == (ledger.Report{}) {
		m.EmploymentRate = 100
		m.Satisfaction = 50
	}
	return m
}

// Tile returns the cell at (x,y) or false when out of bounds.
func (c *City) Tile(x, y int) (*grid.Cell, bool) { return c.grid.Tile(x, y) }

func (c *City) PollutionAt(x, y int) float64 { return c.fields.PollutionAt(x, y) }
func (c *City) TileValueAt(x, y int) float64 { return c.fields.TileValueAt(x, y) }

// Snapshot copies the full grid and metrics into a STATE message.
func (c *City) Snapshot() protocol.StateMsg {
	cells := c.grid.Cells()
	tiles := make([]protocol.TileState, len(cells))
	for i := range cells {
		cell := &cells[i]
		tiles[i] = protocol.TileState{
			X:          cell.X,
			Y:          cell.Y,
			Type:       cell.Type.ID,
			Population: cell.Population,
			TileValue:  cell.TileValue,
			Pollution:  cell.Pollution,
			RoadAccess: cell.HasRoadAccess,
			Struggling: cell.Struggling,
			Developing: cell.PendingDev != 0 && c.clock.Pending(cell.PendingDev),
		}
	}
	return protocol.StateMsg{
		Type:            protocol.TypeState,
		ProtocolVersion: protocol.Version,
		CityID:          c.cfg.ID,
		Tick:            c.tick.Load(),
		Width:           c.grid.Width(),
		Height:          c.grid.Height(),
		Tiles:           tiles,
		Metrics:         c.Metrics().Wire(),
	}
}

// Welcome describes the city and its tile catalog. It only reads immutable
// configuration, so any goroutine may call it.
func (c *City) Welcome(sessionID string) protocol.WelcomeMsg {
	cat := &c.cats.Tiles
	tiles := make([]protocol.TileInfo, 0, len(cat.Palette))
	for _, id := range cat.Palette {
		d := cat.MustGet(id)
		tiles = append(tiles, protocol.TileInfo{
			ID:        d.ID,
			Name:      d.Name,
			Color:     d.Render.Color,
			Glyph:     d.Render.Glyph,
			Cost:      d.Cost,
			Buildable: d.Buildable,
		})
	}
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		CityID:          c.cfg.ID,
		Width:           c.cfg.Tuning.Grid.Width,
		Height:          c.cfg.Tuning.Grid.Height,
		TickRateHz:      c.cfg.Tuning.TickRateHz,
		TilesDigest:     cat.Digest,
		Tiles:           tiles,
	}
}

// Layout is the row-major grid of palette indices, run-length encoded.
func (c *City) Layout() string {
	idx := c.cats.Tiles.Index
	cells := c.grid.Cells()
	ids := make([]uint16, len(cells))
	for i := range cells {
		ids[i] = idx[cells[i].Type.ID]
	}
	return encoding.EncodeLayout(ids)
}
