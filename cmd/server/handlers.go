package main

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/Simplici0/roofquote/internal/estimating"
	"github.com/Simplici0/roofquote/internal/formula"
	"github.com/Simplici0/roofquote/internal/pricing"
	"github.com/Simplici0/roofquote/internal/store"
	"github.com/Simplici0/roofquote/internal/takeoff"
)

const maxBodyBytes = 1 << 20

type server struct {
	db       *sql.DB
	svc      *estimating.Service
	auth     *tenantAuth
	log      logrus.FieldLogger
	validate *validator.Validate
}

func newServer(db *sql.DB, svc *estimating.Service, auth *tenantAuth, log logrus.FieldLogger) *server {
	return &server{
		db:       db,
		svc:      svc,
		auth:     auth,
		log:      log,
		validate: newValidator(),
	}
}

// newValidator registers decimals as floats so numeric tags like gte and lte
// apply to them.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		switch d := field.Interface().(type) {
		case decimal.Decimal:
			return d.InexactFloat64()
		case decimal.NullDecimal:
			if !d.Valid {
				return nil
			}
			return d.Decimal.InexactFloat64()
		}
		return nil
	}, decimal.Decimal{}, decimal.NullDecimal{})
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.auth.middleware)

		r.Post("/formulas/validate", s.handleValidateFormula)

		r.Post("/templates", s.handleCreateTemplate)
		r.Get("/templates/{id}", s.handleGetTemplate)
		r.Put("/templates/{id}/items", s.handleUpsertTemplateItems)

		r.Post("/estimates", s.handleCreateEstimate)
		r.Put("/estimates/{id}/template", s.handleBindTemplate)
		r.Put("/estimates/{id}/measurements", s.handleIngestMeasurements)
		r.Post("/estimates/{id}/line-items", s.handleRecomputeLineItems)
		r.Post("/estimates/{id}/pricing", s.handleComputePricing)
		r.Get("/estimates/{id}/pricing", s.handleGetPricing)
	})

	return r
}

func (s *server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
		}).Debug("request")
	})
}

// Request bodies.

type laborRequest struct {
	RatePerSquare decimal.Decimal     `json:"rate_per_square" validate:"gte=0"`
	PitchFactor   decimal.NullDecimal `json:"pitch_factor" validate:"omitempty,gt=0"`
	StoriesFactor decimal.NullDecimal `json:"stories_factor" validate:"omitempty,gt=0"`
	TearOffFactor decimal.NullDecimal `json:"tear_off_factor" validate:"omitempty,gt=0"`
}

type overheadRequest struct {
	Mode    string          `json:"mode" validate:"omitempty,oneof=none percent fixed both"`
	Percent decimal.Decimal `json:"percent" validate:"gte=0,lte=1"`
	Fixed   decimal.Decimal `json:"fixed" validate:"gte=0"`
}

type createTemplateRequest struct {
	Name     string          `json:"name" validate:"required,max=200"`
	Currency string          `json:"currency" validate:"omitempty,iso4217"`
	Status   string          `json:"status" validate:"omitempty,oneof=draft active archived"`
	Labor    laborRequest    `json:"labor"`
	Overhead overheadRequest `json:"overhead"`
}

type templateItemRequest struct {
	Name      string          `json:"name" validate:"required,max=200"`
	Unit      string          `json:"unit" validate:"max=32"`
	WastePct  decimal.Decimal `json:"waste_pct" validate:"gte=0"`
	UnitCost  decimal.Decimal `json:"unit_cost" validate:"gte=0"`
	Formula   string          `json:"formula"`
	SortOrder int             `json:"sort_order"`
	Active    *bool           `json:"active"`
}

type upsertTemplateItemsRequest struct {
	Items []templateItemRequest `json:"items" validate:"required,min=1,dive"`
}

type createEstimateRequest struct {
	Title string `json:"title" validate:"max=200"`
}

type bindTemplateRequest struct {
	TemplateID int64 `json:"template_id" validate:"required,gt=0"`
}

type ingestMeasurementsRequest struct {
	Source       string         `json:"source" validate:"max=64"`
	Measurements map[string]any `json:"measurements" validate:"required"`
}

type computePricingRequest struct {
	Mode      string           `json:"mode" validate:"required,oneof=margin markup"`
	TargetPct *decimal.Decimal `json:"target_pct" validate:"required,gte=0,lte=1"`
	Currency  string           `json:"currency" validate:"omitempty,iso4217"`
}

type validateFormulaRequest struct {
	Formula string `json:"formula"`
}

// Responses. Totals are rendered with two decimals, rates and ratios as stored.

type templateResponse struct {
	ID        int64                  `json:"id"`
	Name      string                 `json:"name"`
	Currency  string                 `json:"currency"`
	Status    string                 `json:"status"`
	Labor     laborResponse          `json:"labor"`
	Overhead  overheadResponse       `json:"overhead"`
	Items     []templateItemResponse `json:"items"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

type laborResponse struct {
	RatePerSquare string  `json:"rate_per_square"`
	PitchFactor   *string `json:"pitch_factor"`
	StoriesFactor *string `json:"stories_factor"`
	TearOffFactor *string `json:"tear_off_factor"`
}

type overheadResponse struct {
	Mode    string `json:"mode"`
	Percent string `json:"percent"`
	Fixed   string `json:"fixed"`
}

type templateItemResponse struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	Unit      string `json:"unit"`
	WastePct  string `json:"waste_pct"`
	UnitCost  string `json:"unit_cost"`
	Formula   string `json:"formula"`
	SortOrder int    `json:"sort_order"`
	Active    bool   `json:"active"`
}

type estimateResponse struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
}

type measurementsResponse struct {
	EstimateID int64             `json:"estimate_id"`
	Squares    string            `json:"squares"`
	Values     map[string]string `json:"values"`
}

type costItemResponse struct {
	TemplateItemID int64  `json:"template_item_id"`
	Name           string `json:"name"`
	Unit           string `json:"unit"`
	Quantity       string `json:"quantity"`
	UnitCost       string `json:"unit_cost"`
	LineTotal      string `json:"line_total"`
	SortOrder      int    `json:"sort_order"`
}

type lineItemsResponse struct {
	EstimateID     int64              `json:"estimate_id"`
	Generation     string             `json:"generation"`
	Squares        string             `json:"squares"`
	MaterialsTotal string             `json:"materials_total"`
	LaborTotal     string             `json:"labor_total"`
	Items          []costItemResponse `json:"items"`
}

type pricingResponse struct {
	EstimateID     int64              `json:"estimate_id"`
	TemplateID     int64              `json:"template_id"`
	Generation     string             `json:"generation"`
	Currency       string             `json:"currency"`
	Mode           string             `json:"mode"`
	TargetPct      string             `json:"target_pct"`
	MaterialsTotal string             `json:"materials_total"`
	LaborTotal     string             `json:"labor_total"`
	OverheadTotal  string             `json:"overhead_total"`
	CostPreProfit  string             `json:"cost_pre_profit"`
	MarginPct      *string            `json:"margin_pct"`
	MarkupPct      *string            `json:"markup_pct"`
	SalePrice      string             `json:"sale_price"`
	Profit         string             `json:"profit"`
	ComputedAt     time.Time          `json:"computed_at"`
	Stale          bool               `json:"stale"`
	Items          []costItemResponse `json:"items"`
}

type validateFormulaResponse struct {
	Formula     string   `json:"formula"`
	Variables   []string `json:"variables"`
	SyntaxError string   `json:"syntax_error,omitempty"`
}

// Handlers.

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "database unreachable", nil)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleValidateFormula(w http.ResponseWriter, r *http.Request) {
	var req validateFormulaRequest
	if !s.decode(w, r, &req) {
		return
	}

	normalized, err := formula.Validate(req.Formula)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	resp := validateFormulaResponse{Formula: normalized, Variables: []string{}}
	expr, err := formula.Parse(normalized)
	if err != nil {
		resp.SyntaxError = err.Error()
	} else {
		resp.Variables = expr.Variables()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req createTemplateRequest
	if !s.decode(w, r, &req) {
		return
	}

	overheadMode, err := pricing.ParseOverheadMode(req.Overhead.Mode)
	if err != nil {
		s.writeError(w, r, fmt.Errorf("%w: %v", estimating.ErrInvalidInput, err))
		return
	}

	created, err := s.svc.CreateTemplate(r.Context(), tenantFromContext(r.Context()), store.Template{
		Name:     strings.TrimSpace(req.Name),
		Currency: req.Currency,
		Status:   req.Status,
		Labor: takeoff.Labor{
			RatePerSquare: req.Labor.RatePerSquare,
			PitchFactor:   req.Labor.PitchFactor,
			StoriesFactor: req.Labor.StoriesFactor,
			TearOffFactor: req.Labor.TearOffFactor,
		},
		Overhead: pricing.OverheadConfig{
			Mode:    overheadMode,
			Percent: req.Overhead.Percent,
			Fixed:   req.Overhead.Fixed,
		},
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, toTemplateResponse(created, nil))
}

func (s *server) handleGetTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	detail, err := s.svc.GetTemplate(r.Context(), tenantFromContext(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toTemplateResponse(detail.Template, detail.Items))
}

func (s *server) handleUpsertTemplateItems(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req upsertTemplateItemsRequest
	if !s.decode(w, r, &req) {
		return
	}

	items := make([]store.TemplateItem, len(req.Items))
	for i, it := range req.Items {
		active := true
		if it.Active != nil {
			active = *it.Active
		}
		items[i] = store.TemplateItem{
			Name:      it.Name,
			Unit:      strings.TrimSpace(it.Unit),
			WastePct:  it.WastePct,
			UnitCost:  it.UnitCost,
			Formula:   it.Formula,
			SortOrder: it.SortOrder,
			Active:    active,
		}
	}

	tenantID := tenantFromContext(r.Context())
	if _, err := s.svc.UpsertTemplateItems(r.Context(), tenantID, id, items); err != nil {
		s.writeError(w, r, err)
		return
	}

	detail, err := s.svc.GetTemplate(r.Context(), tenantID, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTemplateResponse(detail.Template, detail.Items))
}

func (s *server) handleCreateEstimate(w http.ResponseWriter, r *http.Request) {
	var req createEstimateRequest
	if !s.decode(w, r, &req) {
		return
	}

	est, err := s.svc.CreateEstimate(r.Context(), tenantFromContext(r.Context()), req.Title)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, estimateResponse{ID: est.ID, Title: est.Title, CreatedAt: est.CreatedAt})
}

func (s *server) handleBindTemplate(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req bindTemplateRequest
	if !s.decode(w, r, &req) {
		return
	}

	if err := s.svc.BindTemplate(r.Context(), tenantFromContext(r.Context()), id, req.TemplateID); err != nil {
		s.writeError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *server) handleIngestMeasurements(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req ingestMeasurementsRequest
	if !s.decode(w, r, &req) {
		return
	}

	m, err := s.svc.IngestMeasurements(r.Context(), tenantFromContext(r.Context()), id, req.Measurements, strings.TrimSpace(req.Source))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	values := make(map[string]string, len(m.Values))
	for k, v := range m.Values {
		values[k] = v.String()
	}
	writeJSON(w, http.StatusOK, measurementsResponse{EstimateID: id, Squares: m.Squares.String(), Values: values})
}

func (s *server) handleRecomputeLineItems(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	res, err := s.svc.RecomputeLineItems(r.Context(), tenantFromContext(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, lineItemsResponse{
		EstimateID:     id,
		Generation:     res.Generation,
		Squares:        res.Squares.String(),
		MaterialsTotal: money(res.MaterialsTotal),
		LaborTotal:     money(res.LaborTotal),
		Items:          toCostItemResponses(res.Items),
	})
}

func (s *server) handleComputePricing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	var req computePricingRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.svc.ComputePricing(r.Context(), tenantFromContext(r.Context()), id, estimating.PricingRequest{
		Mode:      req.Mode,
		TargetPct: *req.TargetPct,
		Currency:  req.Currency,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPricingResponse(res))
}

func (s *server) handleGetPricing(w http.ResponseWriter, r *http.Request) {
	id, ok := s.pathID(w, r)
	if !ok {
		return
	}

	res, err := s.svc.GetPricing(r.Context(), tenantFromContext(r.Context()), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, toPricingResponse(res))
}

// Helpers.

func (s *server) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_id", "id must be a positive integer", nil)
		return 0, false
	}
	return id, true
}

// decode reads a JSON body into dst and validates it. Numbers are kept as
// json.Number so measurement values never pass through float64.
func (s *server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()
	if err := dec.Decode(dst); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_json", "request body is not valid JSON: "+err.Error(), nil)
		return false
	}

	normalizeCurrency(dst)

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, fe := range verrs {
				fields[fe.Namespace()] = fe.Tag()
			}
			writeJSONError(w, http.StatusBadRequest, "validation_failed", "request validation failed", map[string]any{"fields": fields})
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "validation_failed", err.Error(), nil)
		return false
	}
	return true
}

func normalizeCurrency(dst any) {
	switch req := dst.(type) {
	case *createTemplateRequest:
		req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	case *computePricingRequest:
		req.Currency = strings.ToUpper(strings.TrimSpace(req.Currency))
	}
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		formulaErr *formula.Error
		itemErr    *estimating.ItemError
	)

	switch {
	case errors.As(err, &formulaErr):
		details := map[string]any{"formula": formulaErr.Formula}
		if formulaErr.Detail != "" {
			details["detail"] = formulaErr.Detail
			details["position"] = formulaErr.Pos
		}
		if errors.As(err, &itemErr) {
			details["item_index"] = itemErr.Index
			details["item_name"] = itemErr.Name
		}
		writeJSONError(w, http.StatusUnprocessableEntity, formulaErrorCode(err), err.Error(), details)
	case errors.Is(err, estimating.ErrTemplateNotBound):
		writeJSONError(w, http.StatusConflict, "template_not_bound", err.Error(), nil)
	case errors.Is(err, estimating.ErrMeasurementsMissing):
		writeJSONError(w, http.StatusConflict, "measurements_missing", err.Error(), nil)
	case errors.Is(err, store.ErrNotFound):
		writeJSONError(w, http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.Is(err, estimating.ErrInvalidInput):
		writeJSONError(w, http.StatusBadRequest, "invalid_input", err.Error(), nil)
	default:
		s.log.WithFields(logrus.Fields{
			"request_id": middleware.GetReqID(r.Context()),
			"tenant_id":  tenantFromContext(r.Context()),
			"path":       r.URL.Path,
		}).WithError(err).Error("request failed")
		writeJSONError(w, http.StatusInternalServerError, "internal", "internal server error", nil)
	}
}

func formulaErrorCode(err error) string {
	switch {
	case errors.Is(err, formula.ErrEmptyFormula):
		return "empty_formula"
	case errors.Is(err, formula.ErrIllegalCharacter):
		return "illegal_character"
	case errors.Is(err, formula.ErrFunctionCall):
		return "function_call"
	}
	return "invalid_formula"
}

type errorBody struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func writeJSONError(w http.ResponseWriter, status int, code, message string, details map[string]any) {
	writeJSON(w, status, map[string]errorBody{"error": {Code: code, Message: message, Details: details}})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}

func nullableString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func toTemplateResponse(t store.Template, items []store.TemplateItem) templateResponse {
	resp := templateResponse{
		ID:       t.ID,
		Name:     t.Name,
		Currency: t.Currency,
		Status:   t.Status,
		Labor: laborResponse{
			RatePerSquare: t.Labor.RatePerSquare.String(),
			PitchFactor:   nullableString(t.Labor.PitchFactor),
			StoriesFactor: nullableString(t.Labor.StoriesFactor),
			TearOffFactor: nullableString(t.Labor.TearOffFactor),
		},
		Overhead: overheadResponse{
			Mode:    string(t.Overhead.Mode),
			Percent: t.Overhead.Percent.String(),
			Fixed:   money(t.Overhead.Fixed),
		},
		Items:     make([]templateItemResponse, 0, len(items)),
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
	for _, it := range items {
		resp.Items = append(resp.Items, templateItemResponse{
			ID:        it.ID,
			Name:      it.Name,
			Unit:      it.Unit,
			WastePct:  it.WastePct.String(),
			UnitCost:  it.UnitCost.String(),
			Formula:   it.Formula,
			SortOrder: it.SortOrder,
			Active:    it.Active,
		})
	}
	return resp
}

func toCostItemResponses(items []store.CostItem) []costItemResponse {
	out := make([]costItemResponse, 0, len(items))
	for _, it := range items {
		out = append(out, costItemResponse{
			TemplateItemID: it.TemplateItemID,
			Name:           it.Name,
			Unit:           it.Unit,
			Quantity:       it.Quantity.String(),
			UnitCost:       it.UnitCost.String(),
			LineTotal:      money(it.LineTotal),
			SortOrder:      it.SortOrder,
		})
	}
	return out
}

func toPricingResponse(p estimating.Pricing) pricingResponse {
	snap := p.Snapshot
	return pricingResponse{
		EstimateID:     snap.EstimateID,
		TemplateID:     snap.TemplateID,
		Generation:     snap.Generation,
		Currency:       snap.Currency,
		Mode:           snap.Mode,
		TargetPct:      snap.TargetPct.String(),
		MaterialsTotal: money(snap.MaterialsTotal),
		LaborTotal:     money(snap.LaborTotal),
		OverheadTotal:  money(snap.OverheadTotal),
		CostPreProfit:  money(snap.CostPreProfit),
		MarginPct:      nullableString(snap.MarginPct),
		MarkupPct:      nullableString(snap.MarkupPct),
		SalePrice:      money(snap.SalePrice),
		Profit:         money(snap.Profit),
		ComputedAt:     snap.ComputedAt,
		Stale:          p.Stale,
		Items:          toCostItemResponses(p.Items),
	}
}
