package ledger

import (
	"microcity.dev/internal/sim/catalogs"
	"microcity.dev/internal/sim/grid"
	"microcity.dev/internal/sim/tuning"
)

// Report is one tick of city finances and derived metrics.
type Report struct {
	Tick   uint64  `json:"tick"`
	Taxes  float64 `json:"taxes"`
	Costs  float64 `json:"costs"`
	Net    float64 `json:"net"`
	Budget float64 `json:"budget"`

	Population     int     `json:"population"`
	Jobs           int     `json:"jobs"`
	Workforce      int     `json:"workforce"`
	EmploymentRate float64 `json:"employment_rate"`
	Satisfaction   float64 `json:"satisfaction"`
}

type Ledger struct {
	tax    tuning.Tax
	budget float64
	last   Report
}

func New(tax tuning.Tax, startingBudget float64) *Ledger {
	return &Ledger{tax: tax, budget: startingBudget}
}

func (l *Ledger) Budget() float64 { return l.budget }
func (l *Ledger) Last() Report    { return l.last }

// Spend deducts a build price; it fails without mutation when funds are short.
func (l *Ledger) Spend(amount float64) bool {
	if amount < 0 || amount > l.budget {
		return false
	}
	l.budget -= amount
	return true
}

// Reset restores the starting budget and clears the last report.
func (l *Ledger) Reset(startingBudget float64) {
	l.budget = startingBudget
	l.last = Report{}
}

// Restore sets the budget directly (tools and tests).
func (l *Ledger) Restore(budget float64) { l.budget = budget }

// Settle aggregates the grid into a report for tick and applies the net to
// the budget.
func (l *Ledger) Settle(tick uint64, g *grid.Grid) Report {
	r := Report{Tick: tick}
	scoreSum, scored := 0.0, 0

	cells := g.Cells()
	for i := range cells {
		c := &cells[i]
		t := c.Type
		r.Costs += t.CarryCost

		if t.IsBuilding {
			r.Jobs += t.JobsProvided
		}
		if !t.IsDeveloped() {
			continue
		}
		if t.ZoneCategory == catalogs.Residential {
			r.Population += c.Population
			r.Workforce += c.Population
		}
		r.Taxes += l.TaxFor(c)
		scoreSum += c.Score
		scored++
	}

	r.Net = r.Taxes - r.Costs
	l.budget += r.Net
	r.Budget = l.budget

	r.EmploymentRate = 100
	if r.Workforce > 0 {
		r.EmploymentRate = float64(min(r.Jobs, r.Workforce)) / float64(r.Workforce) * 100
	}
	r.Satisfaction = 50
	if scored > 0 {
		r.Satisfaction = scoreSum / float64(scored)
	}
	l.last = r
	return r
}

// TaxFor is the tax a single building yields this tick.
func (l *Ledger) TaxFor(c *grid.Cell) float64 {
	t := c.Type
	if !t.IsDeveloped() || c.Population <= 0 {
		return 0
	}
	tax := float64(c.Population) * t.TaxRatePerPopulation
	if c.Struggling {
		tax *= l.tax.StrugglingMultiplier
	}
	return tax * l.bracket(c)
}

func (l *Ledger) bracket(c *grid.Cell) float64 {
	if c.Type.ZoneCategory == catalogs.Residential {
		switch {
		case c.TileValue < l.tax.ResidentialSevereTileValue:
			return l.tax.SevereMultiplier
		case c.TileValue < l.tax.ResidentialLowTileValue:
			return l.tax.LowMultiplier
		}
		return 1
	}
	ratio := 0.0
	if c.Type.PopulationCapacity > 0 {
		ratio = float64(c.Population) / float64(c.Type.PopulationCapacity)
	}
	switch {
	case ratio < l.tax.BusinessSevereRatio:
		return l.tax.SevereMultiplier
	case ratio < l.tax.BusinessLowRatio:
		return l.tax.LowMultiplier
	}
	return 1
}
