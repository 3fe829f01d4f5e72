package city

import (
	"encoding/json"

	"microcity.dev/internal/sim/ledger"
)

// RunTick advances the city by one step: road access, fields, zone
// lifecycle, then the ledger. It returns the ledger report for the tick.
func (c *City) RunTick() ledger.Report {
	tick := c.tick.Load()

	for _, r := range c.grid.RefreshRoadAccess() {
		c.logf("tick %d: (%d,%d) %s lost road access, reverted to %s", tick, r.X, r.Y, r.From.ID, r.To.ID)
	}
	c.fields.Step()
	zs := c.zones.Step()
	rep := c.ledger.Settle(tick, c.grid)

	digest := c.stateDigest()
	if c.tickLogger != nil {
		entry := TickLogEntry{
			Tick:     tick,
			Clock:    c.clock.Now(),
			Commands: c.recorded,
			Zones:    zs,
			Report:   rep,
			Layout:   c.Layout(),
			Digest:   digest,
		}
		if err := c.tickLogger.WriteTick(entry); err != nil {
			c.logf("tick log write failed: %v", err)
		}
	}
	c.recorded = nil

	c.tick.Store(tick + 1)
	c.digest.Store(&digest)
	c.publish()
	c.broadcast()
	return rep
}

// StepOnce runs one tick and returns the tick number it processed and the
// resulting state digest.
func (c *City) StepOnce() (tick uint64, digest string) {
	rep := c.RunTick()
	return rep.Tick, c.LatestDigest()
}

func (c *City) publish() {
	m := c.Metrics().Wire()
	c.metrics.Store(&m)
}

func (c *City) broadcast() {
	if len(c.clients) == 0 {
		return
	}
	b, err := json.Marshal(c.Snapshot())
	if err != nil {
		c.logf("marshal state: %v", err)
		return
	}
	for _, out := range c.clients {
		sendLatest(out, b)
	}
}
