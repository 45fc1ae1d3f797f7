package seed

import (
	"database/sql"
	"fmt"

	"github.com/Simplici0/roofquote/internal/formula"
)

const (
	DefaultTenantID = "demo"

	demoTemplateName = "Asphalt shingle replacement"
	demoCurrency     = "USD"
)

// Config contains the values required by startup seed.
type Config struct {
	TenantID string
}

// Stats contains seed operation counters.
type Stats struct {
	Inserts int
}

type demoItem struct {
	name      string
	unit      string
	wastePct  string
	unitCost  string
	formula   string
	sortOrder int
}

var demoItems = []demoItem{
	{name: "Architectural shingles", unit: "bundle", wastePct: "0.10", unitCost: "38.50", formula: "squares * 3", sortOrder: 10},
	{name: "Synthetic underlayment", unit: "roll", wastePct: "0.05", unitCost: "92.00", formula: "squares / 10", sortOrder: 20},
	{name: "Ice and water shield", unit: "roll", wastePct: "0.05", unitCost: "115.00", formula: "eave_lf / 65", sortOrder: 30},
	{name: "Drip edge", unit: "piece", wastePct: "0.10", unitCost: "9.75", formula: "(eave_lf + rake_lf) / 10", sortOrder: 40},
	{name: "Ridge cap", unit: "bundle", wastePct: "0.05", unitCost: "64.00", formula: "(ridge_lf + hip_lf) / 33", sortOrder: 50},
	{name: "Coil nails", unit: "box", wastePct: "0", unitCost: "48.00", formula: "squares / 15", sortOrder: 60},
}

// Run executes the startup seed in an idempotent way.
func Run(db *sql.DB, cfg Config) (Stats, error) {
	if cfg.TenantID == "" {
		cfg.TenantID = DefaultTenantID
	}

	tx, err := db.Begin()
	if err != nil {
		return Stats{}, fmt.Errorf("begin seed transaction: %w", err)
	}

	stats := Stats{}

	templateID, err := ensureTemplate(tx, cfg.TenantID, &stats)
	if err != nil {
		_ = tx.Rollback()
		return Stats{}, err
	}
	for _, it := range demoItems {
		if err := ensureItem(tx, templateID, it, &stats); err != nil {
			_ = tx.Rollback()
			return Stats{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Stats{}, fmt.Errorf("commit seed transaction: %w", err)
	}

	return stats, nil
}

func ensureTemplate(tx *sql.Tx, tenantID string, stats *Stats) (int64, error) {
	var id int64
	err := tx.QueryRow(`
		SELECT id
		FROM templates
		WHERE tenant_id = ? AND name = ?
		LIMIT 1
	`, tenantID, demoTemplateName).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return 0, fmt.Errorf("check demo template existence: %w", err)
	}

	res, err := tx.Exec(`
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
		)
		VALUES (?, ?, ?, 'active', ?, ?, NULL, ?, 'both', ?, ?)
	`, tenantID, demoTemplateName, demoCurrency, "85.00", "1.10", "1.25", "0.08", "350.00")
	if err != nil {
		return 0, fmt.Errorf("insert demo template: %w", err)
	}
	id, err = res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read demo template id: %w", err)
	}
	stats.Inserts++
	return id, nil
}

func ensureItem(tx *sql.Tx, templateID int64, it demoItem, stats *Stats) error {
	var exists bool
	if err := tx.QueryRow(`SELECT EXISTS(SELECT 1 FROM template_items WHERE template_id = ? AND name = ? LIMIT 1)`, templateID, it.name).Scan(&exists); err != nil {
		return fmt.Errorf("check demo item existence: %w", err)
	}
	if exists {
		return nil
	}

	f, err := formula.Validate(it.formula)
	if err != nil {
		return fmt.Errorf("demo item %q: %w", it.name, err)
	}

	if _, err := tx.Exec(`
		INSERT INTO template_items (template_id, name, unit, waste_pct, unit_cost, formula, sort_order, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, templateID, it.name, it.unit, it.wastePct, it.unitCost, f, it.sortOrder, true); err != nil {
		return fmt.Errorf("insert demo item %q: %w", it.name, err)
	}
	stats.Inserts++
	return nil
}
