package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func equalDec(t *testing.T, name string, got decimal.Decimal, want string) {
	t.Helper()
	if !got.Equal(dec(want)) {
		t.Fatalf("%s = %s, want %s", name, got, want)
	}
}

func equalNull(t *testing.T, name string, got decimal.NullDecimal, want string) {
	t.Helper()
	if !got.Valid {
		t.Fatalf("%s is null, want %s", name, want)
	}
	equalDec(t, name, got.Decimal, want)
}

func TestByMargin_ThirtyPercent(t *testing.T) {
	totals := ByMargin(dec("10000.00"), dec("0.30"))

	equalDec(t, "sale", totals.SalePrice, "14285.71")
	equalDec(t, "profit", totals.Profit, "4285.71")
	equalNull(t, "margin", totals.MarginPct, "0.30")
	equalNull(t, "markup", totals.MarkupPct, "0.4285714286")
}

func TestByMarkup_ThirtyPercent(t *testing.T) {
	totals := ByMarkup(dec("10000.00"), dec("0.30"))

	equalDec(t, "sale", totals.SalePrice, "13000.00")
	equalDec(t, "profit", totals.Profit, "3000.00")
	equalNull(t, "margin", totals.MarginPct, "0.2307692308")
	equalNull(t, "markup", totals.MarkupPct, "0.30")
}

func TestByMargin_DegenerateTarget(t *testing.T) {
	for _, target := range []string{"1", "1.0", "1.5"} {
		totals := ByMargin(dec("10000.00"), dec(target))

		equalDec(t, "sale", totals.SalePrice, "10000.00")
		equalDec(t, "profit", totals.Profit, "0")
		if totals.MarkupPct.Valid {
			t.Fatalf("markup for target %s = %s, want null", target, totals.MarkupPct.Decimal)
		}
	}
}

func TestByMarkup_ZeroCostHasNoMargin(t *testing.T) {
	totals := ByMarkup(decimal.Zero, dec("0.25"))

	equalDec(t, "sale", totals.SalePrice, "0")
	if totals.MarginPct.Valid {
		t.Fatalf("margin = %s, want null", totals.MarginPct.Decimal)
	}
}

func TestMarginMarkupDuality(t *testing.T) {
	costs := []string{"10000.00", "8731.44", "152.10", "99999.99"}
	targets := []string{"0", "0.05", "0.2", "0.30", "0.35", "0.5", "0.65"}

	for _, c := range costs {
		for _, tp := range targets {
			margin := ByMargin(dec(c), dec(tp))
			markup := ByMarkup(dec(c), margin.MarkupPct.Decimal)

			diff := margin.SalePrice.Sub(markup.SalePrice).Abs()
			if diff.GreaterThan(dec("0.01")) {
				t.Fatalf("cost %s target %s: margin sale %s vs markup sale %s", c, tp, margin.SalePrice, markup.SalePrice)
			}
		}
	}
}

func TestOverhead(t *testing.T) {
	base := dec("12345.67")
	tests := []struct {
		name string
		cfg  OverheadConfig
		want string
	}{
		{"none", OverheadConfig{Mode: OverheadNone, Percent: dec("0.1"), Fixed: dec("250")}, "0"},
		{"percent", OverheadConfig{Mode: OverheadPercent, Percent: dec("0.1"), Fixed: dec("250")}, "1234.57"},
		{"fixed", OverheadConfig{Mode: OverheadFixed, Percent: dec("0.1"), Fixed: dec("250.005")}, "250.01"},
		{"both", OverheadConfig{Mode: OverheadBoth, Percent: dec("0.1"), Fixed: dec("250")}, "1484.57"},
		{"unset mode", OverheadConfig{Percent: dec("0.1"), Fixed: dec("250")}, "0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			equalDec(t, "overhead", Overhead(base, tt.cfg), tt.want)
		})
	}
}

func TestCalculate_CostIsSumOfRoundedTerms(t *testing.T) {
	result := Calculate(Input{
		MaterialsTotal: dec("6200.004"),
		LaborTotal:     dec("2800.006"),
		Overhead:       OverheadConfig{Mode: OverheadBoth, Percent: dec("0.08"), Fixed: dec("280")},
		Mode:           ModeMargin,
		TargetPct:      dec("0.30"),
	})

	b := result.Breakdown
	equalDec(t, "materials", b.Materials, "6200.00")
	equalDec(t, "labor", b.Labor, "2800.01")
	// 9000.01 * 0.08 = 720.0008 -> 720.00, + 280
	equalDec(t, "overhead", b.Overhead, "1000.00")
	equalDec(t, "cost", b.CostPreProfit, "10000.01")
	if !b.CostPreProfit.Equal(b.Materials.Add(b.Labor).Add(b.Overhead)) {
		t.Fatalf("cost %s != materials + labor + overhead", b.CostPreProfit)
	}

	equalDec(t, "sale", result.Totals.SalePrice, "14285.73")
	equalDec(t, "profit", result.Totals.Profit, "4285.72")
}

func TestCalculate_MarkupMode(t *testing.T) {
	result := Calculate(Input{
		MaterialsTotal: dec("7000"),
		LaborTotal:     dec("3000"),
		Mode:           ModeMarkup,
		TargetPct:      dec("0.30"),
	})

	equalDec(t, "cost", result.Breakdown.CostPreProfit, "10000")
	equalDec(t, "sale", result.Totals.SalePrice, "13000")
	equalDec(t, "profit", result.Totals.Profit, "3000")
}

func TestParseMode(t *testing.T) {
	if m, err := ParseMode("margin"); err != nil || m != ModeMargin {
		t.Fatalf("ParseMode(margin) = %q, %v", m, err)
	}
	if m, err := ParseMode("markup"); err != nil || m != ModeMarkup {
		t.Fatalf("ParseMode(markup) = %q, %v", m, err)
	}
	if _, err := ParseMode("discount"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
