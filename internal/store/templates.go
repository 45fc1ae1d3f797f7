package store

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/roofquote/internal/pricing"
	"github.com/Simplici0/roofquote/internal/takeoff"
)

// Template statuses.
const (
	TemplateDraft    = "draft"
	TemplateActive   = "active"
	TemplateArchived = "archived"
)

// Template is a tenant-owned pricing blueprint.
type Template struct {
	ID        int64
	TenantID  string
	Name      string
	Currency  string
	Status    string
	Labor     takeoff.Labor
	Overhead  pricing.OverheadConfig
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TemplateItem is one priced component of a template.
type TemplateItem struct {
	ID         int64
	TemplateID int64
	Name       string
	Unit       string
	WastePct   decimal.Decimal
	UnitCost   decimal.Decimal
	Formula    string
	SortOrder  int
	Active     bool
}

// TakeoffItem converts the row into the takeoff engine's input.
func (it TemplateItem) TakeoffItem() takeoff.Item {
	return takeoff.Item{
		ID:        it.ID,
		Name:      it.Name,
		Unit:      it.Unit,
		WastePct:  it.WastePct,
		UnitCost:  it.UnitCost,
		Formula:   it.Formula,
		SortOrder: it.SortOrder,
		Active:    it.Active,
	}
}

// CreateTemplate inserts t and sets its ID.
func (s *Store) CreateTemplate(ctx context.Context, t *Template) error {
	if t.Status == "" {
		t.Status = TemplateActive
	}
	if t.Overhead.Mode == "" {
		t.Overhead.Mode = pricing.OverheadNone
	}

	res, err := s.q.ExecContext(ctx, `
		INSERT INTO templates (
			tenant_id,
			name,
			currency,
			status,
			labor_rate_per_square,
			labor_pitch_factor,
			labor_stories_factor,
			labor_tear_off_factor,
			overhead_mode,
			overhead_percent,
			overhead_fixed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.TenantID,
		t.Name,
		t.Currency,
		t.Status,
		t.Labor.RatePerSquare,
		t.Labor.PitchFactor,
		t.Labor.StoriesFactor,
		t.Labor.TearOffFactor,
		string(t.Overhead.Mode),
		t.Overhead.Percent,
		t.Overhead.Fixed,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read template id: %w", err)
	}
	t.ID = id
	return nil
}

// GetTemplate loads a template owned by tenantID.
func (s *Store) GetTemplate(ctx context.Context, tenantID string, id int64) (Template, error) {
	var (
		t                  Template
		mode               string
		createdAt, updated string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT
			id,
			tenant_id,
			name,
			currency,
			status,
			labor_rate_per_square,
			labor_pitch_factor,
			labor_stories_factor,
			labor_tear_off_factor,
			overhead_mode,
			overhead_percent,
			overhead_fixed,
			created_at,
			updated_at
		FROM templates
		WHERE id = ? AND tenant_id = ?
	`, id, tenantID).Scan(
		&t.ID,
		&t.TenantID,
		&t.Name,
		&t.Currency,
		&t.Status,
		&t.Labor.RatePerSquare,
		&t.Labor.PitchFactor,
		&t.Labor.StoriesFactor,
		&t.Labor.TearOffFactor,
		&mode,
		&t.Overhead.Percent,
		&t.Overhead.Fixed,
		&createdAt,
		&updated,
	)
	if err != nil {
		return Template{}, notFound(err, "template")
	}

	t.Overhead.Mode = pricing.OverheadMode(mode)
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updated)
	return t, nil
}

// ListTemplateItems returns a template's items ordered by sort_order. When
// activeOnly is set, soft-disabled items are skipped.
func (s *Store) ListTemplateItems(ctx context.Context, templateID int64, activeOnly bool) ([]TemplateItem, error) {
	onlyActive := 0
	if activeOnly {
		onlyActive = 1
	}

	rows, err := s.q.QueryContext(ctx, `
		SELECT id, template_id, name, unit, waste_pct, unit_cost, formula, sort_order, active
		FROM template_items
		WHERE template_id = ? AND (? = 0 OR active = TRUE)
		ORDER BY sort_order, id
	`, templateID, onlyActive)
	if err != nil {
		return nil, fmt.Errorf("query template items: %w", err)
	}
	defer rows.Close()

	items := make([]TemplateItem, 0)
	for rows.Next() {
		var it TemplateItem
		if err := rows.Scan(
			&it.ID,
			&it.TemplateID,
			&it.Name,
			&it.Unit,
			&it.WastePct,
			&it.UnitCost,
			&it.Formula,
			&it.SortOrder,
			&it.Active,
		); err != nil {
			return nil, fmt.Errorf("scan template item: %w", err)
		}
		items = append(items, it)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate template items: %w", err)
	}

	return items, nil
}

// UpsertTemplateItems inserts or updates items by name within the template.
// Items not listed are left untouched; disabling is done with Active=false.
func (s *Store) UpsertTemplateItems(ctx context.Context, templateID int64, items []TemplateItem) error {
	for _, it := range items {
		_, err := s.q.ExecContext(ctx, `
			INSERT INTO template_items (template_id, name, unit, waste_pct, unit_cost, formula, sort_order, active)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (template_id, name) DO UPDATE SET
				unit = excluded.unit,
				waste_pct = excluded.waste_pct,
				unit_cost = excluded.unit_cost,
				formula = excluded.formula,
				sort_order = excluded.sort_order,
				active = excluded.active,
				updated_at = CURRENT_TIMESTAMP
		`, templateID, it.Name, it.Unit, it.WastePct, it.UnitCost, it.Formula, it.SortOrder, it.Active)
		if err != nil {
			return fmt.Errorf("upsert template item %q: %w", it.Name, err)
		}
	}

	if _, err := s.q.ExecContext(ctx, `UPDATE templates SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, templateID); err != nil {
		return fmt.Errorf("touch template: %w", err)
	}

	return nil
}
