package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// CostItem is a computed line for one template item in one generation.
type CostItem struct {
	ID             int64
	EstimateID     int64
	TemplateItemID int64
	Generation     string
	Name           string
	Unit           string
	Quantity       decimal.Decimal
	UnitCost       decimal.Decimal
	LineTotal      decimal.Decimal
	SortOrder      int
}

// PricingSnapshot is the single stored pricing result of an estimate.
type PricingSnapshot struct {
	EstimateID     int64
	TemplateID     int64
	Generation     string
	Currency       string
	Mode           string
	TargetPct      decimal.Decimal
	MaterialsTotal decimal.Decimal
	LaborTotal     decimal.Decimal
	OverheadTotal  decimal.Decimal
	CostPreProfit  decimal.Decimal
	MarginPct      decimal.NullDecimal
	MarkupPct      decimal.NullDecimal
	SalePrice      decimal.Decimal
	Profit         decimal.Decimal
	ComputedAt     time.Time
}

// ReplaceCostItems writes items under generation, makes it the estimate's
// current generation and prunes older generations. The generation referenced
// by the pricing snapshot survives until the snapshot moves on. Callers run it
// inside InTx so readers never observe a mix of generations.
func (s *Store) ReplaceCostItems(ctx context.Context, estimateID int64, generation string, items []CostItem) error {
	for _, it := range items {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO estimate_cost_items (
				estimate_id,
				template_item_id,
				generation,
				name,
				unit,
				quantity,
				unit_cost,
				line_total,
				sort_order
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			estimateID,
			it.TemplateItemID,
			generation,
			it.Name,
			it.Unit,
			it.Quantity,
			it.UnitCost,
			it.LineTotal,
			it.SortOrder,
		)
		if err != nil {
			return fmt.Errorf("insert cost item %q: %w", it.Name, err)
		}
	}

	res, err := s.q.ExecContext(ctx, `
		UPDATE estimates
		SET current_generation = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, generation, estimateID)
	if err != nil {
		return fmt.Errorf("set current generation: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("estimate %d: %w", estimateID, ErrNotFound)
	}

	return s.PruneCostItems(ctx, estimateID)
}

// PruneCostItems deletes every cost item generation of the estimate except
// the current one and the one its pricing snapshot was computed from.
func (s *Store) PruneCostItems(ctx context.Context, estimateID int64) error {
	if _, err := s.q.ExecContext(ctx, `
		DELETE FROM estimate_cost_items
		WHERE estimate_id = ?
		  AND generation NOT IN (
			SELECT current_generation FROM estimates
			WHERE id = ? AND current_generation IS NOT NULL
			UNION
			SELECT generation FROM estimate_pricing
			WHERE estimate_id = ?
		  )
	`, estimateID, estimateID, estimateID); err != nil {
		return fmt.Errorf("delete stale cost items: %w", err)
	}
	return nil
}

const costItemColumns = `
	ci.id,
	ci.estimate_id,
	ci.template_item_id,
	ci.generation,
	ci.name,
	ci.unit,
	ci.quantity,
	ci.unit_cost,
	ci.line_total,
	ci.sort_order`

// ListCostItems returns the cost items of the estimate's current generation.
func (s *Store) ListCostItems(ctx context.Context, estimateID int64) ([]CostItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT`+costItemColumns+`
		FROM estimate_cost_items ci
		JOIN estimates e ON e.id = ci.estimate_id AND e.current_generation = ci.generation
		WHERE ci.estimate_id = ?
		ORDER BY ci.sort_order, ci.template_item_id
	`, estimateID)
	if err != nil {
		return nil, fmt.Errorf("query cost items: %w", err)
	}
	return scanCostItems(rows)
}

// ListCostItemsByGeneration returns the cost items of one generation, which
// may differ from the current one.
func (s *Store) ListCostItemsByGeneration(ctx context.Context, estimateID int64, generation string) ([]CostItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT`+costItemColumns+`
		FROM estimate_cost_items ci
		WHERE ci.estimate_id = ? AND ci.generation = ?
		ORDER BY ci.sort_order, ci.template_item_id
	`, estimateID, generation)
	if err != nil {
		return nil, fmt.Errorf("query cost items: %w", err)
	}
	return scanCostItems(rows)
}

func scanCostItems(rows *sql.Rows) ([]CostItem, error) {
	defer rows.Close()

	items := make([]CostItem, 0)
	for rows.Next() {
		var it CostItem
		if err := rows.Scan(
			&it.ID,
			&it.EstimateID,
			&it.TemplateItemID,
			&it.Generation,
			&it.Name,
			&it.Unit,
			&it.Quantity,
			&it.UnitCost,
			&it.LineTotal,
			&it.SortOrder,
		); err != nil {
			return nil, fmt.Errorf("scan cost item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cost items: %w", err)
	}

	return items, nil
}

// UpsertPricing stores p as the estimate's pricing snapshot.
func (s *Store) UpsertPricing(ctx context.Context, p PricingSnapshot) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO estimate_pricing (
			estimate_id,
			template_id,
			generation,
			currency,
			mode,
			target_pct,
			materials_total,
			labor_total,
			overhead_total,
			cost_pre_profit,
			margin_pct,
			markup_pct,
			sale_price,
			profit
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (estimate_id) DO UPDATE SET
			template_id = excluded.template_id,
			generation = excluded.generation,
			currency = excluded.currency,
			mode = excluded.mode,
			target_pct = excluded.target_pct,
			materials_total = excluded.materials_total,
			labor_total = excluded.labor_total,
			overhead_total = excluded.overhead_total,
			cost_pre_profit = excluded.cost_pre_profit,
			margin_pct = excluded.margin_pct,
			markup_pct = excluded.markup_pct,
			sale_price = excluded.sale_price,
			profit = excluded.profit,
			computed_at = CURRENT_TIMESTAMP
	`,
		p.EstimateID,
		p.TemplateID,
		p.Generation,
		p.Currency,
		p.Mode,
		p.TargetPct,
		p.MaterialsTotal,
		p.LaborTotal,
		p.OverheadTotal,
		p.CostPreProfit,
		p.MarginPct,
		p.MarkupPct,
		p.SalePrice,
		p.Profit,
	)
	if err != nil {
		return fmt.Errorf("upsert pricing: %w", err)
	}
	return nil
}

// GetPricing returns the estimate's pricing snapshot or ErrNotFound.
func (s *Store) GetPricing(ctx context.Context, estimateID int64) (PricingSnapshot, error) {
	var (
		p          PricingSnapshot
		computedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT
			estimate_id,
			template_id,
			generation,
			currency,
			mode,
			target_pct,
			materials_total,
			labor_total,
			overhead_total,
			cost_pre_profit,
			margin_pct,
			markup_pct,
			sale_price,
			profit,
			computed_at
		FROM estimate_pricing
		WHERE estimate_id = ?
	`, estimateID).Scan(
		&p.EstimateID,
		&p.TemplateID,
		&p.Generation,
		&p.Currency,
		&p.Mode,
		&p.TargetPct,
		&p.MaterialsTotal,
		&p.LaborTotal,
		&p.OverheadTotal,
		&p.CostPreProfit,
		&p.MarginPct,
		&p.MarkupPct,
		&p.SalePrice,
		&p.Profit,
		&computedAt,
	)
	if err != nil {
		return PricingSnapshot{}, notFound(err, "pricing")
	}

	p.ComputedAt = parseTime(computedAt)
	return p, nil
}
