// Package takeoff turns a measurement payload into priced material lines and
// a labor figure for one template.
package takeoff

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/roofquote/internal/formula"
)

const moneyPlaces = 2

// Item is one template line as seen by the takeoff.
type Item struct {
	ID        int64
	Name      string
	Unit      string
	WastePct  decimal.Decimal
	UnitCost  decimal.Decimal
	Formula   string
	SortOrder int
	Active    bool
}

// Labor is the template's labor configuration. Unset multipliers count as 1.
type Labor struct {
	RatePerSquare decimal.Decimal
	PitchFactor   decimal.NullDecimal
	StoriesFactor decimal.NullDecimal
	TearOffFactor decimal.NullDecimal
}

// Line is one evaluated cost line.
type Line struct {
	ItemID    int64
	Name      string
	Unit      string
	Quantity  decimal.Decimal
	UnitCost  decimal.Decimal
	LineTotal decimal.Decimal
	SortOrder int
}

// Result contains the evaluated lines and roll-ups.
type Result struct {
	Lines          []Line
	MaterialsTotal decimal.Decimal
	LaborTotal     decimal.Decimal
	Squares        decimal.Decimal
}

// Run evaluates every active item against m and computes labor.
func Run(items []Item, m Measurements, labor Labor) Result {
	active := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Active {
			active = append(active, it)
		}
	}
	sort.SliceStable(active, func(i, j int) bool {
		if active[i].SortOrder != active[j].SortOrder {
			return active[i].SortOrder < active[j].SortOrder
		}
		return active[i].ID < active[j].ID
	})

	res := Result{
		Lines:          make([]Line, 0, len(active)),
		MaterialsTotal: decimal.Zero,
		Squares:        m.Squares,
	}
	for _, it := range active {
		line := EvaluateItem(it, m.Values)
		res.Lines = append(res.Lines, line)
		res.MaterialsTotal = res.MaterialsTotal.Add(line.LineTotal)
	}
	res.LaborTotal = LaborTotal(m.Squares, labor)

	return res
}

// EvaluateItem computes quantity = max(0, formula * (1 + waste)) and the
// rounded line total.
func EvaluateItem(it Item, vars formula.Vars) Line {
	base := formula.Evaluate(it.Formula, vars)
	qty := base.Mul(decimal.NewFromInt(1).Add(it.WastePct))
	if qty.IsNegative() {
		qty = decimal.Zero
	}

	return Line{
		ItemID:    it.ID,
		Name:      it.Name,
		Unit:      it.Unit,
		Quantity:  qty,
		UnitCost:  it.UnitCost,
		LineTotal: qty.Mul(it.UnitCost).Round(moneyPlaces),
		SortOrder: it.SortOrder,
	}
}

// LaborTotal is squares * rate * pitch * stories * tear-off, rounded to cents.
func LaborTotal(squares decimal.Decimal, labor Labor) decimal.Decimal {
	total := squares.Mul(labor.RatePerSquare)
	for _, f := range []decimal.NullDecimal{labor.PitchFactor, labor.StoriesFactor, labor.TearOffFactor} {
		if f.Valid {
			total = total.Mul(f.Decimal)
		}
	}
	return total.Round(moneyPlaces)
}
