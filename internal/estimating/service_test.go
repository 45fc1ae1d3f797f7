package estimating

import (
	"context"
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/roofquote/internal/db"
	"github.com/Simplici0/roofquote/internal/formula"
	"github.com/Simplici0/roofquote/internal/lock"
	"github.com/Simplici0/roofquote/internal/migrations"
	"github.com/Simplici0/roofquote/internal/pricing"
	"github.com/Simplici0/roofquote/internal/store"
	"github.com/Simplici0/roofquote/internal/takeoff"
)

const tenant = "tenant-a"

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "estimating-test.db")
	database, err := db.Open(dbPath)
	if err != nil {
		t.Fatalf("open sqlite database: %v", err)
	}
	t.Cleanup(func() { database.Close() })

	if err := migrations.Up(database); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	log := logrus.New()
	log.SetOutput(io.Discard)

	st := store.New(database)
	return NewService(st, lock.NewLocal(), log), st
}

type fixture struct {
	template store.Template
	estimate store.Estimate
}

// setup creates a template with items, an estimate bound to it, and
// measurements for it.
func setup(t *testing.T, svc *Service, tpl store.Template, items []store.TemplateItem, payload map[string]any) fixture {
	t.Helper()
	ctx := context.Background()

	created, err := svc.CreateTemplate(ctx, tenant, tpl)
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	if _, err := svc.UpsertTemplateItems(ctx, tenant, created.ID, items); err != nil {
		t.Fatalf("upsert items: %v", err)
	}
	est, err := svc.CreateEstimate(ctx, tenant, "Smith residence")
	if err != nil {
		t.Fatalf("create estimate: %v", err)
	}
	if err := svc.BindTemplate(ctx, tenant, est.ID, created.ID); err != nil {
		t.Fatalf("bind template: %v", err)
	}
	if payload != nil {
		if _, err := svc.IngestMeasurements(ctx, tenant, est.ID, payload, "manual"); err != nil {
			t.Fatalf("ingest measurements: %v", err)
		}
	}
	return fixture{template: created, estimate: est}
}

func TestRecomputeLineItemsScenario(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	f := setup(t, svc,
		store.Template{Name: "Shingles", Currency: "usd", Labor: takeoff.Labor{RatePerSquare: dec("50")}},
		[]store.TemplateItem{
			{Name: "Shingle bundles", Unit: "sq", WastePct: dec("0.10"), UnitCost: dec("120.00"), Formula: "ROOF_AREA_SQFT / 100", SortOrder: 1, Active: true},
			{Name: "Old felt", Unit: "roll", UnitCost: dec("30"), Formula: "ridge_lf / 10", SortOrder: 2, Active: false},
		},
		map[string]any{"roof_area_sqft": 2500},
	)

	got, err := svc.RecomputeLineItems(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if len(got.Items) != 1 {
		t.Fatalf("items = %d, want 1 (inactive skipped)", len(got.Items))
	}
	line := got.Items[0]
	if !line.Quantity.Equal(dec("27.5")) {
		t.Fatalf("quantity = %s, want 27.5", line.Quantity)
	}
	if !line.LineTotal.Equal(dec("3300")) {
		t.Fatalf("line total = %s, want 3300.00", line.LineTotal)
	}
	if !got.MaterialsTotal.Equal(dec("3300")) {
		t.Fatalf("materials = %s, want 3300.00", got.MaterialsTotal)
	}
	if !got.Squares.Equal(dec("25")) || !got.LaborTotal.Equal(dec("1250")) {
		t.Fatalf("squares = %s labor = %s, want 25 and 1250", got.Squares, got.LaborTotal)
	}
}

func TestRecomputeIsIdempotent(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	f := setup(t, svc,
		store.Template{Name: "Metal"},
		[]store.TemplateItem{
			{Name: "Panels", WastePct: dec("0.15"), UnitCost: dec("42.10"), Formula: "squares * 3.3", SortOrder: 1, Active: true},
			{Name: "Screws", UnitCost: dec("0.07"), Formula: "squares * 80", SortOrder: 2, Active: true},
		},
		map[string]any{"squares": "31.25"},
	)

	first, err := svc.RecomputeLineItems(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	second, err := svc.RecomputeLineItems(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("second recompute: %v", err)
	}

	if first.Generation == second.Generation {
		t.Fatalf("expected a fresh generation per recompute")
	}
	if len(first.Items) != len(second.Items) {
		t.Fatalf("item counts differ: %d vs %d", len(first.Items), len(second.Items))
	}
	for i := range first.Items {
		a, b := first.Items[i], second.Items[i]
		if a.TemplateItemID != b.TemplateItemID || !a.Quantity.Equal(b.Quantity) || !a.LineTotal.Equal(b.LineTotal) {
			t.Fatalf("item %d differs: %+v vs %+v", i, a, b)
		}
	}

	current, err := st.ListCostItems(ctx, f.estimate.ID)
	if err != nil {
		t.Fatalf("list cost items: %v", err)
	}
	if len(current) != 2 || current[0].Generation != second.Generation {
		t.Fatalf("current items = %+v, want two rows of generation %s", current, second.Generation)
	}
}

func TestComputePricingScenarios(t *testing.T) {
	tests := []struct {
		name       string
		mode       string
		target     string
		wantSale   string
		wantProfit string
		wantMargin string
		wantMarkup string
	}{
		{name: "margin", mode: "margin", target: "0.30", wantSale: "14285.71", wantProfit: "4285.71", wantMargin: "0.3", wantMarkup: "0.4285714286"},
		{name: "markup", mode: "markup", target: "0.30", wantSale: "13000", wantProfit: "3000", wantMargin: "0.2307692308", wantMarkup: "0.3"},
		{name: "degenerate margin", mode: "margin", target: "1", wantSale: "10000", wantProfit: "0", wantMargin: "1", wantMarkup: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _ := newTestService(t)
			ctx := context.Background()

			f := setup(t, svc,
				store.Template{Name: "Flat cost", Currency: "CAD"},
				[]store.TemplateItem{
					{Name: "Package", UnitCost: dec("100"), Formula: "100", SortOrder: 1, Active: true},
				},
				map[string]any{},
			)

			got, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: tt.mode, TargetPct: dec(tt.target)})
			if err != nil {
				t.Fatalf("compute pricing: %v", err)
			}
			snap := got.Snapshot
			if !snap.CostPreProfit.Equal(dec("10000")) {
				t.Fatalf("cost = %s, want 10000", snap.CostPreProfit)
			}
			if !snap.SalePrice.Equal(dec(tt.wantSale)) {
				t.Fatalf("sale = %s, want %s", snap.SalePrice, tt.wantSale)
			}
			if !snap.Profit.Equal(dec(tt.wantProfit)) {
				t.Fatalf("profit = %s, want %s", snap.Profit, tt.wantProfit)
			}
			if !snap.MarginPct.Valid || !snap.MarginPct.Decimal.Equal(dec(tt.wantMargin)) {
				t.Fatalf("margin pct = %+v, want %s", snap.MarginPct, tt.wantMargin)
			}
			if tt.wantMarkup == "" {
				if snap.MarkupPct.Valid {
					t.Fatalf("markup pct = %s, want null", snap.MarkupPct.Decimal)
				}
			} else if !snap.MarkupPct.Valid || !snap.MarkupPct.Decimal.Equal(dec(tt.wantMarkup)) {
				t.Fatalf("markup pct = %+v, want %s", snap.MarkupPct, tt.wantMarkup)
			}
			if snap.Currency != "CAD" {
				t.Fatalf("currency = %q, want template currency CAD", snap.Currency)
			}
			if len(got.Items) != 1 || got.Items[0].Generation != snap.Generation {
				t.Fatalf("items = %+v, want one item of generation %s", got.Items, snap.Generation)
			}
		})
	}
}

func TestComputePricingAppliesOverhead(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	f := setup(t, svc,
		store.Template{
			Name:     "With overhead",
			Labor:    takeoff.Labor{RatePerSquare: dec("100"), PitchFactor: decimal.NewNullDecimal(dec("1.1"))},
			Overhead: pricing.OverheadConfig{Mode: pricing.OverheadBoth, Percent: dec("0.10"), Fixed: dec("250")},
		},
		[]store.TemplateItem{
			{Name: "Shingles", UnitCost: dec("100"), Formula: "squares", SortOrder: 1, Active: true},
		},
		map[string]any{"roof_area_sqft": "2000"},
	)

	got, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "markup", TargetPct: dec("0.25"), Currency: "eur"})
	if err != nil {
		t.Fatalf("compute pricing: %v", err)
	}
	snap := got.Snapshot

	// materials 2000, labor 20*100*1.1 = 2200, overhead 420 + 250
	checks := map[string][2]decimal.Decimal{
		"materials": {snap.MaterialsTotal, dec("2000")},
		"labor":     {snap.LaborTotal, dec("2200")},
		"overhead":  {snap.OverheadTotal, dec("670")},
		"cost":      {snap.CostPreProfit, dec("4870")},
		"sale":      {snap.SalePrice, dec("6087.5")},
	}
	for name, c := range checks {
		if !c[0].Equal(c[1]) {
			t.Fatalf("%s = %s, want %s", name, c[0], c[1])
		}
	}
	if snap.Currency != "EUR" {
		t.Fatalf("currency = %q, want EUR", snap.Currency)
	}
}

func TestComputePricingPreconditions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	est, err := svc.CreateEstimate(ctx, tenant, "unbound")
	if err != nil {
		t.Fatalf("create estimate: %v", err)
	}
	req := PricingRequest{Mode: "margin", TargetPct: dec("0.3")}

	if _, err := svc.ComputePricing(ctx, tenant, est.ID, req); !errors.Is(err, ErrTemplateNotBound) {
		t.Fatalf("error = %v, want ErrTemplateNotBound", err)
	}

	f := setup(t, svc, store.Template{Name: "T"}, []store.TemplateItem{
		{Name: "A", UnitCost: dec("1"), Formula: "squares", Active: true},
	}, nil)
	if _, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, req); !errors.Is(err, ErrMeasurementsMissing) {
		t.Fatalf("error = %v, want ErrMeasurementsMissing", err)
	}

	bad := []PricingRequest{
		{Mode: "discount", TargetPct: dec("0.3")},
		{Mode: "margin", TargetPct: dec("-0.1")},
		{Mode: "markup", TargetPct: dec("1.5")},
	}
	for _, r := range bad {
		if _, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, r); !errors.Is(err, ErrInvalidInput) {
			t.Fatalf("request %+v error = %v, want ErrInvalidInput", r, err)
		}
	}
}

func TestFailedComputeKeepsPreviousSnapshot(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	f := setup(t, svc, store.Template{Name: "T"}, []store.TemplateItem{
		{Name: "A", UnitCost: dec("10"), Formula: "squares", SortOrder: 1, Active: true},
		{Name: "B", UnitCost: dec("5"), Formula: "squares * 2", SortOrder: 2, Active: true},
	}, map[string]any{"squares": 12})

	before, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "margin", TargetPct: dec("0.2")})
	if err != nil {
		t.Fatalf("compute pricing: %v", err)
	}

	if _, err := svc.IngestMeasurements(ctx, tenant, f.estimate.ID, map[string]any{"squares": 40}, "manual"); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Reusing the live generation collides on insert and aborts the transaction.
	svc.newGeneration = func() string { return before.Snapshot.Generation }
	if _, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "markup", TargetPct: dec("0.5")}); err == nil {
		t.Fatalf("expected compute to fail")
	}

	after, err := svc.GetPricing(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("get pricing: %v", err)
	}
	if after.Snapshot.Mode != "margin" || !after.Snapshot.SalePrice.Equal(before.Snapshot.SalePrice) {
		t.Fatalf("snapshot changed after failed compute: %+v", after.Snapshot)
	}
	if len(after.Items) != 2 {
		t.Fatalf("items = %d, want 2", len(after.Items))
	}
	for i := range after.Items {
		if !after.Items[i].Quantity.Equal(before.Items[i].Quantity) {
			t.Fatalf("item %d quantity = %s, want %s", i, after.Items[i].Quantity, before.Items[i].Quantity)
		}
	}
}

func TestTenantIsolation(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	f := setup(t, svc, store.Template{Name: "T"}, []store.TemplateItem{
		{Name: "A", UnitCost: dec("1"), Formula: "squares", Active: true},
	}, map[string]any{"squares": 10})
	if _, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "margin", TargetPct: dec("0.3")}); err != nil {
		t.Fatalf("compute pricing: %v", err)
	}

	other := "tenant-b"
	otherEst, err := svc.CreateEstimate(ctx, other, "other")
	if err != nil {
		t.Fatalf("create other estimate: %v", err)
	}

	checks := []struct {
		name string
		err  error
	}{
		{"get pricing", func() error { _, err := svc.GetPricing(ctx, other, f.estimate.ID); return err }()},
		{"compute", func() error {
			_, err := svc.ComputePricing(ctx, other, f.estimate.ID, PricingRequest{Mode: "margin", TargetPct: dec("0.3")})
			return err
		}()},
		{"bind foreign template", svc.BindTemplate(ctx, other, otherEst.ID, f.template.ID)},
		{"ingest", func() error {
			_, err := svc.IngestMeasurements(ctx, other, f.estimate.ID, map[string]any{"squares": 1}, "")
			return err
		}()},
		{"get template", func() error { _, err := svc.GetTemplate(ctx, other, f.template.ID); return err }()},
		{"upsert items", func() error {
			_, err := svc.UpsertTemplateItems(ctx, other, f.template.ID, []store.TemplateItem{{Name: "X", Formula: "1", Active: true}})
			return err
		}()},
	}
	for _, c := range checks {
		if !errors.Is(c.err, store.ErrNotFound) {
			t.Fatalf("%s: error = %v, want ErrNotFound", c.name, c.err)
		}
	}
}

func TestUpsertTemplateItemsRejectsBadFormula(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, tenant, store.Template{Name: "T"})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}

	tests := []struct {
		formula string
		want    error
	}{
		{"area; DROP TABLE x", formula.ErrIllegalCharacter},
		{"   ", formula.ErrEmptyFormula},
		{"ceil(squares)", formula.ErrFunctionCall},
	}
	for _, tt := range tests {
		_, err := svc.UpsertTemplateItems(ctx, tenant, tpl.ID, []store.TemplateItem{
			{Name: "Good", Formula: "squares", Active: true},
			{Name: "Bad", Formula: tt.formula, Active: true},
		})
		if !errors.Is(err, tt.want) {
			t.Fatalf("formula %q error = %v, want %v", tt.formula, err, tt.want)
		}
		var itemErr *ItemError
		if !errors.As(err, &itemErr) || itemErr.Index != 1 || itemErr.Name != "Bad" {
			t.Fatalf("formula %q: expected ItemError for index 1, got %v", tt.formula, err)
		}
	}

	detail, err := svc.GetTemplate(ctx, tenant, tpl.ID)
	if err != nil {
		t.Fatalf("get template: %v", err)
	}
	if len(detail.Items) != 0 {
		t.Fatalf("items = %+v, want none persisted", detail.Items)
	}

	items, err := svc.UpsertTemplateItems(ctx, tenant, tpl.ID, []store.TemplateItem{
		{Name: " Ridge cap ", Formula: "  RIDGE_LF / 33 ", Active: true},
	})
	if err != nil {
		t.Fatalf("upsert valid item: %v", err)
	}
	if len(items) != 1 || items[0].Name != "Ridge cap" || items[0].Formula != "ridge_lf / 33" {
		t.Fatalf("items = %+v, want normalized name and formula", items)
	}
}

func TestBindRejectsArchivedTemplate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	tpl, err := svc.CreateTemplate(ctx, tenant, store.Template{Name: "Old", Status: store.TemplateArchived})
	if err != nil {
		t.Fatalf("create template: %v", err)
	}
	est, err := svc.CreateEstimate(ctx, tenant, "")
	if err != nil {
		t.Fatalf("create estimate: %v", err)
	}
	if err := svc.BindTemplate(ctx, tenant, est.ID, tpl.ID); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("bind error = %v, want ErrInvalidInput", err)
	}
}

func TestConcurrentComputeLeavesConsistentState(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	f := setup(t, svc, store.Template{Name: "T", Labor: takeoff.Labor{RatePerSquare: dec("75")}}, []store.TemplateItem{
		{Name: "A", UnitCost: dec("12.5"), Formula: "squares", SortOrder: 1, Active: true},
		{Name: "B", UnitCost: dec("3"), Formula: "squares * 4", SortOrder: 2, Active: true},
		{Name: "C", UnitCost: dec("40"), Formula: "ridge_lf / 20", SortOrder: 3, Active: true},
	}, map[string]any{"squares": 22, "ridge_lf": 60})

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var err error
			if i%2 == 0 {
				_, err = svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "margin", TargetPct: dec("0.25")})
			} else {
				_, err = svc.RecomputeLineItems(ctx, tenant, f.estimate.ID)
			}
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent compute: %v", err)
		}
	}

	items, err := st.ListCostItems(ctx, f.estimate.ID)
	if err != nil {
		t.Fatalf("list cost items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	est, err := st.GetEstimate(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("get estimate: %v", err)
	}
	for _, it := range items {
		if it.Generation != est.CurrentGeneration {
			t.Fatalf("item generation %s != current %s", it.Generation, est.CurrentGeneration)
		}
	}

	stored, err := svc.GetPricing(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("get pricing: %v", err)
	}
	assertSnapshotItems(t, stored)
	if stored.Stale != (stored.Snapshot.Generation != est.CurrentGeneration) {
		t.Fatalf("stale = %v for snapshot %s and current %s", stored.Stale, stored.Snapshot.Generation, est.CurrentGeneration)
	}

	final, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "margin", TargetPct: dec("0.25")})
	if err != nil {
		t.Fatalf("final compute: %v", err)
	}
	est, err = st.GetEstimate(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("get estimate: %v", err)
	}
	if final.Snapshot.Generation != est.CurrentGeneration {
		t.Fatalf("snapshot generation %s != current %s", final.Snapshot.Generation, est.CurrentGeneration)
	}
}

func TestGetPricingKeepsSnapshotItemsAfterRecompute(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	f := setup(t, svc, store.Template{Name: "T"}, []store.TemplateItem{
		{Name: "Shingles", UnitCost: dec("100"), Formula: "squares", SortOrder: 1, Active: true},
	}, map[string]any{"squares": 10})

	first, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "markup", TargetPct: dec("0.2")})
	if err != nil {
		t.Fatalf("compute pricing: %v", err)
	}
	if first.Stale {
		t.Fatal("freshly computed pricing reported stale")
	}

	if _, err := svc.IngestMeasurements(ctx, tenant, f.estimate.ID, map[string]any{"squares": 50}, "manual"); err != nil {
		t.Fatalf("re-ingest measurements: %v", err)
	}
	lines, err := svc.RecomputeLineItems(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("recompute: %v", err)
	}
	if !lines.MaterialsTotal.Equal(dec("5000")) {
		t.Fatalf("recomputed materials = %s, want 5000", lines.MaterialsTotal)
	}

	stored, err := svc.GetPricing(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("get pricing: %v", err)
	}
	if !stored.Stale {
		t.Fatal("pricing after standalone recompute should be stale")
	}
	if stored.Snapshot.Generation != first.Snapshot.Generation {
		t.Fatalf("snapshot generation = %s, want %s", stored.Snapshot.Generation, first.Snapshot.Generation)
	}
	if !stored.Snapshot.MaterialsTotal.Equal(dec("1000")) {
		t.Fatalf("snapshot materials = %s, want 1000", stored.Snapshot.MaterialsTotal)
	}
	assertSnapshotItems(t, stored)

	second, err := svc.ComputePricing(ctx, tenant, f.estimate.ID, PricingRequest{Mode: "markup", TargetPct: dec("0.2")})
	if err != nil {
		t.Fatalf("recompute pricing: %v", err)
	}
	stored, err = svc.GetPricing(ctx, tenant, f.estimate.ID)
	if err != nil {
		t.Fatalf("get pricing: %v", err)
	}
	if stored.Stale || stored.Snapshot.Generation != second.Snapshot.Generation {
		t.Fatalf("pricing stale=%v generation=%s, want fresh %s", stored.Stale, stored.Snapshot.Generation, second.Snapshot.Generation)
	}
	assertSnapshotItems(t, stored)

	for _, gen := range []string{first.Snapshot.Generation, lines.Generation} {
		old, err := st.ListCostItemsByGeneration(ctx, f.estimate.ID, gen)
		if err != nil {
			t.Fatalf("list generation %s: %v", gen, err)
		}
		if len(old) != 0 {
			t.Fatalf("generation %s still has %d items, want pruned", gen, len(old))
		}
	}
}

// assertSnapshotItems checks that p's items belong to the snapshot's
// generation and add up to its materials total.
func assertSnapshotItems(t *testing.T, p Pricing) {
	t.Helper()

	if len(p.Items) == 0 {
		t.Fatal("pricing has no items")
	}
	sum := decimal.Zero
	for _, it := range p.Items {
		if it.Generation != p.Snapshot.Generation {
			t.Fatalf("item generation %s != snapshot %s", it.Generation, p.Snapshot.Generation)
		}
		sum = sum.Add(it.LineTotal)
	}
	if !sum.Equal(p.Snapshot.MaterialsTotal) {
		t.Fatalf("items sum to %s, snapshot materials = %s", sum, p.Snapshot.MaterialsTotal)
	}
}
