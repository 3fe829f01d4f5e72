package fields

import (
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/grid"
)

// falloff scales bonus linearly: full at distance 1, bonus/r at distance r,
// nothing when no match was found (d < 0).
func falloff(bonus float64, d, r int) float64 {
	if d < 1 || r < 1 || d > r {
		return 0
	}
	return bonus * (1 - float64(d-1)/float64(r))
}

func developedOf(cat catalogs.ZoneCategory) func(*grid.Cell) bool {
	return func(c *grid.Cell) bool {
		return c.Type.IsDeveloped() && c.Type.ZoneCategory == cat
	}
}

func typeIs(id string) func(*grid.Cell) bool {
	return func(c *grid.Cell) bool { return c.Type.ID == id }
}

func (s *Simulator) recomputeLandValue() {
	lv := s.lv
	cells := s.g.Cells()
	isWater, isPark, isMountain := typeIs(catalogs.Water), typeIs(catalogs.Park), typeIs(catalogs.Mountain)
	commercial := developedOf(catalogs.Commercial)
	industrial := developedOf(catalogs.Industrial)

	for i := range cells {
		c := &cells[i]
		v := lv.Base

		v += falloff(lv.WaterBonus, s.g.NearestDistance(c.X, c.Y, lv.WaterRadius, isWater), lv.WaterRadius)
		v += falloff(lv.ParkBonus, s.g.NearestDistance(c.X, c.Y, lv.ParkRadius, isPark), lv.ParkRadius)
		v += falloff(lv.MountainBonus, s.g.NearestDistance(c.X, c.Y, lv.MountainRadius, isMountain), lv.MountainRadius)
		if c.HasRoadAccess {
			v += lv.RoadBonus
		}

		switch c.Type.ZoneCategory {
		case catalogs.Residential:
			v += falloff(lv.ResidentialNearCommercial, s.g.NearestDistance(c.X, c.Y, lv.RCIRadius, commercial), lv.RCIRadius)
			v += falloff(lv.ResidentialNearIndustrial, s.g.NearestDistance(c.X, c.Y, lv.RCIRadius, industrial), lv.RCIRadius)
		case catalogs.Commercial:
			v += falloff(lv.CommercialNearIndustrial, s.g.NearestDistance(c.X, c.Y, lv.RCIRadius, industrial), lv.RCIRadius)
		}

		mult := lv.PollutionMultiplier
		if c.Type.IsDeveloped() && c.Type.ZoneCategory == catalogs.Industrial {
			mult = lv.IndustrialPollutionMultiplier
		}
		v -= mult * s.pollution[i]

		s.value[i] = clamp(v, 0, lv.Max)
	}
}
