package city

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"math"
)

// stateDigest hashes everything that determines the next tick: grid types
// and dynamic fields, the field buffers, the budget and the tick counter.
func (c *City) stateDigest() string {
	h := sha256.New()
	var buf []byte
	u64 := func(v uint64) { buf = binary.LittleEndian.AppendUint64(buf, v) }
	f64 := func(v float64) { u64(math.Float64bits(v)) }

	u64(c.tick.Load())
	u64(uint64(c.grid.Width()))
	u64(uint64(c.grid.Height()))
	f64(c.ledger.Budget())

	idx := c.cats.Tiles.Index
	cells := c.grid.Cells()
	for i := range cells {
		cell := &cells[i]
		buf = binary.LittleEndian.AppendUint16(buf, idx[cell.Type.ID])
		u64(uint64(cell.Population))
		f64(cell.TileValue)
		f64(cell.Pollution)
		f64(c.fields.PollutionAt(cell.X, cell.Y))
		flags := byte(0)
		if cell.HasRoadAccess {
			flags |= 1
		}
		if cell.Struggling {
			flags |= 2
		}
		if cell.PendingDev != 0 {
			flags |= 4
		}
		buf = append(buf, flags)
		u64(uint64(cell.StruggleTicks))
		if len(buf) >= 32*1024 {
			h.Write(buf)
			buf = buf[:0]
		}
	}
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))
}
