package takeoff

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/roofquote/internal/formula"
)

// Well-known measurement keys.
const (
	KeySquares      = "squares"
	KeyRoofAreaSqft = "roof_area_sqft"
)

var sqftPerSquare = decimal.NewFromInt(100)

// ErrNonNumeric is returned when a measurement value cannot be read as a number.
var ErrNonNumeric = errors.New("measurement value is not numeric")

// Measurements is a normalized measurement payload.
type Measurements struct {
	Values  formula.Vars
	Squares decimal.Decimal
}

// ParseMeasurements converts a decoded JSON object into Measurements. Null and
// empty-string values are read as zero; keys are lower-cased.
func ParseMeasurements(raw map[string]any) (Measurements, error) {
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := make(formula.Vars, len(raw))
	for _, k := range keys {
		name := strings.ToLower(strings.TrimSpace(k))
		if name == "" {
			continue
		}
		v, err := toDecimal(raw[k])
		if err != nil {
			return Measurements{}, fmt.Errorf("%s: %w", k, err)
		}
		if _, dup := values[name]; dup {
			continue
		}
		values[name] = v
	}

	return NewMeasurements(values), nil
}

// NewMeasurements derives squares from values and exposes it to formulas
// under the "squares" key.
func NewMeasurements(values formula.Vars) Measurements {
	if values == nil {
		values = formula.Vars{}
	}
	squares := DeriveSquares(values)
	values[KeySquares] = squares
	return Measurements{Values: values, Squares: squares}
}

// DeriveSquares returns the payload's explicit squares when positive,
// otherwise roof area in square feet divided by 100.
func DeriveSquares(values formula.Vars) decimal.Decimal {
	if sq, ok := values[KeySquares]; ok && sq.IsPositive() {
		return sq
	}
	area, ok := values[KeyRoofAreaSqft]
	if !ok || !area.IsPositive() {
		return decimal.Zero
	}
	return area.Div(sqftPerSquare)
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		return parseNumber(string(x))
	case string:
		return parseNumber(x)
	case float64:
		return decimal.NewFromFloat(x), nil
	case float32:
		return decimal.NewFromFloat32(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case decimal.Decimal:
		return x, nil
	}
	return decimal.Zero, fmt.Errorf("%w: %T", ErrNonNumeric, v)
}

func parseNumber(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrNonNumeric, s)
	}
	return d, nil
}
