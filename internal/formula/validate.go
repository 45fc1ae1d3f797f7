// Package formula validates and evaluates the quantity formulas attached to
// template items. Formulas are plain arithmetic over measurement variables:
// numbers, identifiers, + - * / and parentheses.
package formula

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

var (
	// ErrEmptyFormula is returned when a formula is blank after trimming.
	ErrEmptyFormula = errors.New("formula is empty")
	// ErrIllegalCharacter is returned when a formula contains a character
	// outside the allow-list.
	ErrIllegalCharacter = errors.New("formula contains an illegal character")
	// ErrFunctionCall is returned for call syntax such as ceil(x). Named
	// functions are not part of the formula language.
	ErrFunctionCall = errors.New("formula function calls are not supported")
)

// Error describes where a formula failed validation.
type Error struct {
	Err     error
	Formula string
	Pos     int
	Detail  string
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return e.Err.Error()
	}
	return fmt.Sprintf("%s: %s at offset %d", e.Err.Error(), e.Detail, e.Pos)
}

func (e *Error) Unwrap() error { return e.Err }

// Validate checks raw against the formula allow-list and returns the
// normalized (trimmed, lower-cased) formula.
func Validate(raw string) (string, error) {
	s := strings.TrimSpace(raw)
	// Positions are reported against raw.
	lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
	if s == "" {
		return "", &Error{Err: ErrEmptyFormula, Formula: raw}
	}

	for i, r := range s {
		if !allowed(r) {
			return "", &Error{
				Err:     ErrIllegalCharacter,
				Formula: raw,
				Pos:     lead + i,
				Detail:  fmt.Sprintf("%q", r),
			}
		}
	}

	s = strings.ToLower(s)

	toks := lex(s)
	for i := 0; i+1 < len(toks); i++ {
		if toks[i].kind == tokIdent && toks[i+1].kind == tokLParen {
			return "", &Error{
				Err:     ErrFunctionCall,
				Formula: raw,
				Pos:     lead + toks[i].pos,
				Detail:  toks[i].text,
			}
		}
	}

	return s, nil
}

func allowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	}
	switch r {
	case '_', '+', '-', '*', '/', '(', ')', '.':
		return true
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
