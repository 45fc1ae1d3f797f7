package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/roofquote/internal/formula"
)

// Estimate is a tenant-owned container for measurements and computed pricing.
type Estimate struct {
	ID                int64
	TenantID          string
	Title             string
	CurrentGeneration string
	CreatedAt         time.Time
}

// Binding links an estimate to the template it is priced from.
type Binding struct {
	EstimateID int64
	TemplateID int64
	BoundAt    time.Time
}

// Measurement is the stored measurement payload of an estimate.
type Measurement struct {
	EstimateID int64
	Values     formula.Vars
	Squares    decimal.Decimal
	Source     string
	IngestedAt time.Time
}

// CreateEstimate inserts e and sets its ID.
func (s *Store) CreateEstimate(ctx context.Context, e *Estimate) error {
	res, err := s.q.ExecContext(ctx, `
		INSERT INTO estimates (tenant_id, title)
		VALUES (?, ?)
	`, e.TenantID, e.Title)
	if err != nil {
		return fmt.Errorf("insert estimate: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("read estimate id: %w", err)
	}
	e.ID = id
	return nil
}

// GetEstimate loads an estimate owned by tenantID.
func (s *Store) GetEstimate(ctx context.Context, tenantID string, id int64) (Estimate, error) {
	var (
		e          Estimate
		generation sql.NullString
		createdAt  string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT id, tenant_id, title, current_generation, created_at
		FROM estimates
		WHERE id = ? AND tenant_id = ?
	`, id, tenantID).Scan(&e.ID, &e.TenantID, &e.Title, &generation, &createdAt)
	if err != nil {
		return Estimate{}, notFound(err, "estimate")
	}

	e.CurrentGeneration = generation.String
	e.CreatedAt = parseTime(createdAt)
	return e, nil
}

// BindTemplate attaches templateID to the estimate, replacing any earlier binding.
func (s *Store) BindTemplate(ctx context.Context, estimateID, templateID int64) error {
	_, err := s.q.ExecContext(ctx, `
		INSERT INTO estimate_templates (estimate_id, template_id)
		VALUES (?, ?)
		ON CONFLICT (estimate_id) DO UPDATE SET
			template_id = excluded.template_id,
			bound_at = CURRENT_TIMESTAMP
	`, estimateID, templateID)
	if err != nil {
		return fmt.Errorf("bind template: %w", err)
	}
	return nil
}

// GetBinding returns the estimate's template binding or ErrNotFound.
func (s *Store) GetBinding(ctx context.Context, estimateID int64) (Binding, error) {
	var (
		b       Binding
		boundAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT estimate_id, template_id, bound_at
		FROM estimate_templates
		WHERE estimate_id = ?
	`, estimateID).Scan(&b.EstimateID, &b.TemplateID, &boundAt)
	if err != nil {
		return Binding{}, notFound(err, "template binding")
	}

	b.BoundAt = parseTime(boundAt)
	return b, nil
}

// ReplaceMeasurements stores m as the estimate's only measurement payload.
func (s *Store) ReplaceMeasurements(ctx context.Context, m Measurement) error {
	payload, err := json.Marshal(m.Values)
	if err != nil {
		return fmt.Errorf("encode measurements: %w", err)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO estimate_measurements (estimate_id, payload_json, squares, source)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (estimate_id) DO UPDATE SET
			payload_json = excluded.payload_json,
			squares = excluded.squares,
			source = excluded.source,
			ingested_at = CURRENT_TIMESTAMP
	`, m.EstimateID, string(payload), m.Squares, m.Source)
	if err != nil {
		return fmt.Errorf("replace measurements: %w", err)
	}
	return nil
}

// GetMeasurements returns the estimate's measurement payload or ErrNotFound.
func (s *Store) GetMeasurements(ctx context.Context, estimateID int64) (Measurement, error) {
	var (
		m          Measurement
		payload    string
		ingestedAt string
	)
	err := s.q.QueryRowContext(ctx, `
		SELECT estimate_id, payload_json, squares, source, ingested_at
		FROM estimate_measurements
		WHERE estimate_id = ?
	`, estimateID).Scan(&m.EstimateID, &payload, &m.Squares, &m.Source, &ingestedAt)
	if err != nil {
		return Measurement{}, notFound(err, "measurements")
	}

	m.Values = formula.Vars{}
	if err := json.Unmarshal([]byte(payload), &m.Values); err != nil {
		return Measurement{}, fmt.Errorf("decode measurements: %w", err)
	}
	m.IngestedAt = parseTime(ingestedAt)
	return m, nil
}
