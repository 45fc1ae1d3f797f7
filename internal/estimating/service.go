// Package estimating orchestrates template authoring, measurement ingestion,
// takeoff and pricing for tenant-owned estimates. The tenant id is always an
// explicit argument; nothing is resolved from ambient state.
package estimating

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/roofquote/internal/formula"
	"github.com/Simplici0/roofquote/internal/lock"
	"github.com/Simplici0/roofquote/internal/pricing"
	"github.com/Simplici0/roofquote/internal/store"
	"github.com/Simplici0/roofquote/internal/takeoff"
)

var (
	// ErrTemplateNotBound is returned when computing an estimate with no template.
	ErrTemplateNotBound = errors.New("estimate has no bound template")
	// ErrMeasurementsMissing is returned when computing an estimate with no measurements.
	ErrMeasurementsMissing = errors.New("estimate has no measurements")
	// ErrInvalidInput marks request values the service refuses outright.
	ErrInvalidInput = errors.New("invalid input")
)

// Service is the estimate pricing engine.
type Service struct {
	store         *store.Store
	locker        lock.Locker
	log           logrus.FieldLogger
	newGeneration func() string
}

// NewService wires the engine. A nil locker falls back to an in-process one.
func NewService(st *store.Store, locker lock.Locker, log logrus.FieldLogger) *Service {
	if locker == nil {
		locker = lock.NewLocal()
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		store:         st,
		locker:        locker,
		log:           log,
		newGeneration: uuid.NewString,
	}
}

// TemplateDetail is a template with all of its items.
type TemplateDetail struct {
	Template store.Template
	Items    []store.TemplateItem
}

// CreateTemplate stores a new template for tenantID.
func (s *Service) CreateTemplate(ctx context.Context, tenantID string, t store.Template) (store.Template, error) {
	t.TenantID = tenantID
	t.Currency = strings.ToUpper(strings.TrimSpace(t.Currency))
	if t.Currency == "" {
		t.Currency = "USD"
	}
	mode, err := pricing.ParseOverheadMode(string(t.Overhead.Mode))
	if err != nil {
		return store.Template{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	t.Overhead.Mode = mode

	if err := s.store.CreateTemplate(ctx, &t); err != nil {
		return store.Template{}, err
	}

	s.log.WithFields(logrus.Fields{"tenant_id": tenantID, "template_id": t.ID}).Info("template created")
	return t, nil
}

// GetTemplate returns a template and every item, active or not.
func (s *Service) GetTemplate(ctx context.Context, tenantID string, templateID int64) (TemplateDetail, error) {
	t, err := s.store.GetTemplate(ctx, tenantID, templateID)
	if err != nil {
		return TemplateDetail{}, err
	}
	items, err := s.store.ListTemplateItems(ctx, templateID, false)
	if err != nil {
		return TemplateDetail{}, err
	}
	return TemplateDetail{Template: t, Items: items}, nil
}

// ItemError ties a formula validation failure to the offending item.
type ItemError struct {
	Index int
	Name  string
	Err   error
}

func (e *ItemError) Error() string {
	return "item " + strconv.Itoa(e.Index) + " (" + e.Name + "): " + e.Err.Error()
}

func (e *ItemError) Unwrap() error { return e.Err }

// UpsertTemplateItems validates every formula and then writes all items in
// one transaction. A single invalid formula rejects the whole batch.
func (s *Service) UpsertTemplateItems(ctx context.Context, tenantID string, templateID int64, items []store.TemplateItem) ([]store.TemplateItem, error) {
	normalized := make([]store.TemplateItem, len(items))
	for i, it := range items {
		f, err := formula.Validate(it.Formula)
		if err != nil {
			return nil, &ItemError{Index: i, Name: it.Name, Err: err}
		}
		it.Name = strings.TrimSpace(it.Name)
		it.Formula = f
		it.TemplateID = templateID
		normalized[i] = it
	}

	var out []store.TemplateItem
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		if _, err := tx.GetTemplate(ctx, tenantID, templateID); err != nil {
			return err
		}
		if err := tx.UpsertTemplateItems(ctx, templateID, normalized); err != nil {
			return err
		}
		var err error
		out, err = tx.ListTemplateItems(ctx, templateID, false)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"template_id": templateID,
		"items":       len(normalized),
	}).Info("template items upserted")
	return out, nil
}

// CreateEstimate stores an empty estimate for tenantID.
func (s *Service) CreateEstimate(ctx context.Context, tenantID, title string) (store.Estimate, error) {
	e := store.Estimate{TenantID: tenantID, Title: strings.TrimSpace(title)}
	if err := s.store.CreateEstimate(ctx, &e); err != nil {
		return store.Estimate{}, err
	}
	return s.store.GetEstimate(ctx, tenantID, e.ID)
}

// BindTemplate associates a template with an estimate, replacing any previous
// binding. Both must belong to tenantID.
func (s *Service) BindTemplate(ctx context.Context, tenantID string, estimateID, templateID int64) error {
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		if _, err := tx.GetEstimate(ctx, tenantID, estimateID); err != nil {
			return err
		}
		t, err := tx.GetTemplate(ctx, tenantID, templateID)
		if err != nil {
			return err
		}
		if t.Status == store.TemplateArchived {
			return fmt.Errorf("%w: template %d is archived", ErrInvalidInput, templateID)
		}
		return tx.BindTemplate(ctx, estimateID, templateID)
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"estimate_id": estimateID,
		"template_id": templateID,
	}).Info("template bound")
	return nil
}

// IngestMeasurements replaces the estimate's measurement payload.
func (s *Service) IngestMeasurements(ctx context.Context, tenantID string, estimateID int64, payload map[string]any, source string) (takeoff.Measurements, error) {
	m, err := takeoff.ParseMeasurements(payload)
	if err != nil {
		return takeoff.Measurements{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	err = s.store.InTx(ctx, func(tx *store.Store) error {
		if _, err := tx.GetEstimate(ctx, tenantID, estimateID); err != nil {
			return err
		}
		return tx.ReplaceMeasurements(ctx, store.Measurement{
			EstimateID: estimateID,
			Values:     m.Values,
			Squares:    m.Squares,
			Source:     source,
		})
	})
	if err != nil {
		return takeoff.Measurements{}, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"estimate_id": estimateID,
		"squares":     m.Squares.String(),
	}).Info("measurements ingested")
	return m, nil
}

// LineItems is the outcome of a takeoff run.
type LineItems struct {
	Generation     string
	TemplateID     int64
	Items          []store.CostItem
	MaterialsTotal decimal.Decimal
	LaborTotal     decimal.Decimal
	Squares        decimal.Decimal
}

// RecomputeLineItems regenerates the estimate's cost items from its bound
// template and measurements.
func (s *Service) RecomputeLineItems(ctx context.Context, tenantID string, estimateID int64) (LineItems, error) {
	unlock, err := s.locker.Lock(ctx, estimateKey(estimateID))
	if err != nil {
		return LineItems{}, fmt.Errorf("lock estimate %d: %w", estimateID, err)
	}
	defer unlock()

	var out LineItems
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		var err error
		out, _, err = s.recompute(ctx, tx, tenantID, estimateID)
		return err
	})
	if err != nil {
		return LineItems{}, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"estimate_id": estimateID,
		"generation":  out.Generation,
		"items":       len(out.Items),
	}).Info("line items recomputed")
	return out, nil
}

// PricingRequest selects the profit model for ComputePricing.
type PricingRequest struct {
	Mode      string
	TargetPct decimal.Decimal
	Currency  string
}

// Pricing is a stored snapshot with the cost items it was computed from.
// Stale is set when line items were recomputed after the snapshot.
type Pricing struct {
	Snapshot store.PricingSnapshot
	Items    []store.CostItem
	Stale    bool
}

// ComputePricing runs the takeoff and resolves the sale price, committing the
// new cost items and the snapshot together. On failure the previous snapshot
// and items are left as they were.
func (s *Service) ComputePricing(ctx context.Context, tenantID string, estimateID int64, req PricingRequest) (Pricing, error) {
	mode, err := pricing.ParseMode(req.Mode)
	if err != nil {
		return Pricing{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if req.TargetPct.IsNegative() || req.TargetPct.GreaterThan(decimal.NewFromInt(1)) {
		return Pricing{}, fmt.Errorf("%w: target_pct %s outside [0, 1]", ErrInvalidInput, req.TargetPct)
	}

	unlock, err := s.locker.Lock(ctx, estimateKey(estimateID))
	if err != nil {
		return Pricing{}, fmt.Errorf("lock estimate %d: %w", estimateID, err)
	}
	defer unlock()

	var out Pricing
	err = s.store.InTx(ctx, func(tx *store.Store) error {
		lines, tpl, err := s.recompute(ctx, tx, tenantID, estimateID)
		if err != nil {
			return err
		}

		res := pricing.Calculate(pricing.Input{
			MaterialsTotal: lines.MaterialsTotal,
			LaborTotal:     lines.LaborTotal,
			Overhead:       tpl.Overhead,
			Mode:           mode,
			TargetPct:      req.TargetPct,
		})

		currency := strings.ToUpper(strings.TrimSpace(req.Currency))
		if currency == "" {
			currency = tpl.Currency
		}

		snap := store.PricingSnapshot{
			EstimateID:     estimateID,
			TemplateID:     tpl.ID,
			Generation:     lines.Generation,
			Currency:       currency,
			Mode:           string(mode),
			TargetPct:      req.TargetPct,
			MaterialsTotal: res.Breakdown.Materials,
			LaborTotal:     res.Breakdown.Labor,
			OverheadTotal:  res.Breakdown.Overhead,
			CostPreProfit:  res.Breakdown.CostPreProfit,
			MarginPct:      res.Totals.MarginPct,
			MarkupPct:      res.Totals.MarkupPct,
			SalePrice:      res.Totals.SalePrice,
			Profit:         res.Totals.Profit,
		}
		if err := tx.UpsertPricing(ctx, snap); err != nil {
			return err
		}
		if err := tx.PruneCostItems(ctx, estimateID); err != nil {
			return err
		}

		stored, err := tx.GetPricing(ctx, estimateID)
		if err != nil {
			return err
		}
		out = Pricing{Snapshot: stored, Items: lines.Items}
		return nil
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{
			"tenant_id":   tenantID,
			"estimate_id": estimateID,
		}).WithError(err).Warn("compute pricing failed")
		return Pricing{}, err
	}

	s.log.WithFields(logrus.Fields{
		"tenant_id":   tenantID,
		"estimate_id": estimateID,
		"generation":  out.Snapshot.Generation,
		"mode":        out.Snapshot.Mode,
		"sale_price":  out.Snapshot.SalePrice.StringFixed(2),
	}).Info("pricing computed")
	return out, nil
}

// GetPricing returns the stored snapshot together with the cost items of the
// generation it was computed from, so the items always sum to the snapshot's
// materials total even after a standalone line item recompute.
func (s *Service) GetPricing(ctx context.Context, tenantID string, estimateID int64) (Pricing, error) {
	var out Pricing
	err := s.store.InTx(ctx, func(tx *store.Store) error {
		est, err := tx.GetEstimate(ctx, tenantID, estimateID)
		if err != nil {
			return err
		}
		snap, err := tx.GetPricing(ctx, estimateID)
		if err != nil {
			return err
		}
		items, err := tx.ListCostItemsByGeneration(ctx, estimateID, snap.Generation)
		if err != nil {
			return err
		}
		out = Pricing{
			Snapshot: snap,
			Items:    items,
			Stale:    snap.Generation != est.CurrentGeneration,
		}
		return nil
	})
	if err != nil {
		return Pricing{}, err
	}
	return out, nil
}

// recompute runs inside tx with the estimate lock held.
func (s *Service) recompute(ctx context.Context, tx *store.Store, tenantID string, estimateID int64) (LineItems, store.Template, error) {
	if _, err := tx.GetEstimate(ctx, tenantID, estimateID); err != nil {
		return LineItems{}, store.Template{}, err
	}

	binding, err := tx.GetBinding(ctx, estimateID)
	if errors.Is(err, store.ErrNotFound) {
		return LineItems{}, store.Template{}, ErrTemplateNotBound
	}
	if err != nil {
		return LineItems{}, store.Template{}, err
	}

	stored, err := tx.GetMeasurements(ctx, estimateID)
	if errors.Is(err, store.ErrNotFound) {
		return LineItems{}, store.Template{}, ErrMeasurementsMissing
	}
	if err != nil {
		return LineItems{}, store.Template{}, err
	}

	tpl, err := tx.GetTemplate(ctx, tenantID, binding.TemplateID)
	if err != nil {
		return LineItems{}, store.Template{}, err
	}
	rows, err := tx.ListTemplateItems(ctx, tpl.ID, true)
	if err != nil {
		return LineItems{}, store.Template{}, err
	}

	items := make([]takeoff.Item, len(rows))
	for i, r := range rows {
		items[i] = r.TakeoffItem()
	}
	res := takeoff.Run(items, takeoff.NewMeasurements(stored.Values), tpl.Labor)

	generation := s.newGeneration()
	costItems := make([]store.CostItem, len(res.Lines))
	for i, l := range res.Lines {
		costItems[i] = store.CostItem{
			EstimateID:     estimateID,
			TemplateItemID: l.ItemID,
			Generation:     generation,
			Name:           l.Name,
			Unit:           l.Unit,
			Quantity:       l.Quantity,
			UnitCost:       l.UnitCost,
			LineTotal:      l.LineTotal,
			SortOrder:      l.SortOrder,
		}
	}
	if err := tx.ReplaceCostItems(ctx, estimateID, generation, costItems); err != nil {
		return LineItems{}, store.Template{}, err
	}

	persisted, err := tx.ListCostItems(ctx, estimateID)
	if err != nil {
		return LineItems{}, store.Template{}, err
	}

	return LineItems{
		Generation:     generation,
		TemplateID:     tpl.ID,
		Items:          persisted,
		MaterialsTotal: res.MaterialsTotal,
		LaborTotal:     res.LaborTotal,
		Squares:        res.Squares,
	}, tpl, nil
}

func estimateKey(id int64) string {
	return "estimate:" + strconv.FormatInt(id, 10)
}
