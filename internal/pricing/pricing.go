package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	moneyPlaces = 2
	ratioPlaces = 10
)

var one = decimal.NewFromInt(1)

// Mode selects how the target percentage turns cost into a sale price.
type Mode string

const (
	ModeMargin Mode = "margin"
	ModeMarkup Mode = "markup"
)

// ParseMode validates a profit mode name.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeMargin, ModeMarkup:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown pricing mode %q", s)
}

// OverheadMode selects which overhead terms apply.
type OverheadMode string

const (
	OverheadNone    OverheadMode = "none"
	OverheadPercent OverheadMode = "percent"
	OverheadFixed   OverheadMode = "fixed"
	OverheadBoth    OverheadMode = "both"
)

// ParseOverheadMode validates an overhead mode name. Empty means none.
func ParseOverheadMode(s string) (OverheadMode, error) {
	switch OverheadMode(s) {
	case "":
		return OverheadNone, nil
	case OverheadNone, OverheadPercent, OverheadFixed, OverheadBoth:
		return OverheadMode(s), nil
	}
	return "", fmt.Errorf("unknown overhead mode %q", s)
}

// OverheadConfig is the template's overhead configuration. Percent is a
// fraction (0.10 = 10%).
type OverheadConfig struct {
	Mode    OverheadMode
	Percent decimal.Decimal
	Fixed   decimal.Decimal
}

// Input represents the cost roll-up inputs and the requested profit model.
type Input struct {
	MaterialsTotal decimal.Decimal
	LaborTotal     decimal.Decimal
	Overhead       OverheadConfig
	Mode           Mode
	TargetPct      decimal.Decimal
}

// Breakdown contains the cost terms that make up cost before profit.
type Breakdown struct {
	Materials     decimal.Decimal
	Labor         decimal.Decimal
	Overhead      decimal.Decimal
	CostPreProfit decimal.Decimal
}

// Totals contains the profit-side values. MarginPct and MarkupPct are null
// when undefined.
type Totals struct {
	SalePrice decimal.Decimal
	Profit    decimal.Decimal
	MarginPct decimal.NullDecimal
	MarkupPct decimal.NullDecimal
}

// Result groups the full pricing output.
type Result struct {
	Breakdown Breakdown
	Totals    Totals
}

// Calculate resolves overhead, cost before profit and the sale price.
func Calculate(in Input) Result {
	materials := in.MaterialsTotal.Round(moneyPlaces)
	labor := in.LaborTotal.Round(moneyPlaces)
	overhead := Overhead(materials.Add(labor), in.Overhead)
	cost := materials.Add(labor).Add(overhead).Round(moneyPlaces)

	var totals Totals
	switch in.Mode {
	case ModeMarkup:
		totals = ByMarkup(cost, in.TargetPct)
	default:
		totals = ByMargin(cost, in.TargetPct)
	}

	return Result{
		Breakdown: Breakdown{
			Materials:     materials,
			Labor:         labor,
			Overhead:      overhead,
			CostPreProfit: cost,
		},
		Totals: totals,
	}
}

// Overhead applies the percent term and/or the fixed term to base. Each term
// is rounded to cents before they are added.
func Overhead(base decimal.Decimal, cfg OverheadConfig) decimal.Decimal {
	total := decimal.Zero
	if cfg.Mode == OverheadPercent || cfg.Mode == OverheadBoth {
		total = total.Add(base.Mul(cfg.Percent).Round(moneyPlaces))
	}
	if cfg.Mode == OverheadFixed || cfg.Mode == OverheadBoth {
		total = total.Add(cfg.Fixed.Round(moneyPlaces))
	}
	return total
}

// ByMargin prices cost so profit is target of the sale price. A target of 1
// or more cannot be reached and leaves the sale price at cost.
func ByMargin(cost, target decimal.Decimal) Totals {
	if target.GreaterThanOrEqual(one) {
		return Totals{
			SalePrice: cost,
			Profit:    decimal.Zero,
			MarginPct: decimal.NewNullDecimal(target),
		}
	}

	remainder := one.Sub(target)
	sale := cost.DivRound(remainder, moneyPlaces)
	return Totals{
		SalePrice: sale,
		Profit:    sale.Sub(cost).Round(moneyPlaces),
		MarginPct: decimal.NewNullDecimal(target),
		MarkupPct: decimal.NewNullDecimal(target.DivRound(remainder, ratioPlaces)),
	}
}

// ByMarkup prices cost so profit is target of the cost.
func ByMarkup(cost, target decimal.Decimal) Totals {
	sale := cost.Mul(one.Add(target)).Round(moneyPlaces)
	profit := sale.Sub(cost).Round(moneyPlaces)

	totals := Totals{
		SalePrice: sale,
		Profit:    profit,
		MarkupPct: decimal.NewNullDecimal(target),
	}
	if !sale.IsZero() {
		totals.MarginPct = decimal.NewNullDecimal(profit.DivRound(sale, ratioPlaces))
	}
	return totals
}
