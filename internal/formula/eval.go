package formula

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// ErrSyntax is reported by Parse for formulas that pass Validate but do not
// form an arithmetic expression, e.g. "2 3" or "(area".
var ErrSyntax = errors.New("formula syntax error")

const (
	divisionPrecision = 16
	maxDepth          = 64
)

// Vars maps measurement names to their values. Lookups are case-insensitive.
type Vars map[string]decimal.Decimal

// Expr is a parsed formula ready for repeated evaluation.
type Expr struct {
	root node
	vars []string
}

// Parse builds an Expr from formula.
func Parse(formula string) (*Expr, error) {
	p := &parser{toks: lex(formula)}
	root, err := p.parseExpr(0)
	if err != nil {
		return nil, err
	}
	if tok := p.peek(); tok.kind != tokEOF {
		return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, tok.text, tok.pos)
	}

	seen := make(map[string]struct{})
	names := make([]string, 0)
	for _, t := range p.toks {
		if t.kind != tokIdent {
			continue
		}
		if _, ok := seen[t.text]; ok {
			continue
		}
		seen[t.text] = struct{}{}
		names = append(names, t.text)
	}
	sort.Strings(names)

	return &Expr{root: root, vars: names}, nil
}

// Variables returns the sorted identifiers referenced by the expression.
func (e *Expr) Variables() []string {
	out := make([]string, len(e.vars))
	copy(out, e.vars)
	return out
}

// Eval evaluates the expression. Identifiers missing from vars count as zero.
// Division by zero makes the whole result zero.
func (e *Expr) Eval(vars Vars) decimal.Decimal {
	v, ok := e.root.eval(normalize(vars))
	if !ok {
		return decimal.Zero
	}
	return v
}

// Evaluate parses and evaluates formula in one step. It never fails: a
// formula that cannot be parsed or evaluated yields zero.
func Evaluate(formula string, vars Vars) decimal.Decimal {
	expr, err := Parse(formula)
	if err != nil {
		return decimal.Zero
	}
	return expr.Eval(vars)
}

// normalize lower-cases variable names. When two keys differ only by case
// the lexically smallest original key wins, so results stay deterministic.
func normalize(vars Vars) Vars {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(Vars, len(vars))
	for _, k := range keys {
		lk := strings.ToLower(strings.TrimSpace(k))
		if _, exists := out[lk]; exists {
			continue
		}
		out[lk] = vars[k]
	}
	return out
}

type node interface {
	eval(vars Vars) (decimal.Decimal, bool)
}

type numberNode struct{ value decimal.Decimal }

func (n numberNode) eval(Vars) (decimal.Decimal, bool) { return n.value, true }

type varNode struct{ name string }

func (n varNode) eval(vars Vars) (decimal.Decimal, bool) {
	return vars[n.name], true
}

type negNode struct{ operand node }

func (n negNode) eval(vars Vars) (decimal.Decimal, bool) {
	v, ok := n.operand.eval(vars)
	if !ok {
		return decimal.Zero, false
	}
	return v.Neg(), true
}

type binaryNode struct {
	op          tokenKind
	left, right node
}

func (n binaryNode) eval(vars Vars) (decimal.Decimal, bool) {
	l, ok := n.left.eval(vars)
	if !ok {
		return decimal.Zero, false
	}
	r, ok := n.right.eval(vars)
	if !ok {
		return decimal.Zero, false
	}

	switch n.op {
	case tokPlus:
		return l.Add(r), true
	case tokMinus:
		return l.Sub(r), true
	case tokStar:
		return l.Mul(r), true
	case tokSlash:
		if r.IsZero() {
			return decimal.Zero, false
		}
		return l.DivRound(r, divisionPrecision), true
	}
	return decimal.Zero, false
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }

func (p *parser) next() token {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

// expr = term { ("+" | "-") term }
func (p *parser) parseExpr(depth int) (node, error) {
	left, err := p.parseTerm(depth)
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokPlus && op != tokMinus {
			return left, nil
		}
		p.next()
		right, err := p.parseTerm(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

// term = unary { ("*" | "/") unary }
func (p *parser) parseTerm(depth int) (node, error) {
	left, err := p.parseUnary(depth)
	if err != nil {
		return nil, err
	}
	for {
		op := p.peek().kind
		if op != tokStar && op != tokSlash {
			return left, nil
		}
		p.next()
		right, err := p.parseUnary(depth)
		if err != nil {
			return nil, err
		}
		left = binaryNode{op: op, left: left, right: right}
	}
}

// unary = ("+" | "-") unary | primary
func (p *parser) parseUnary(depth int) (node, error) {
	if depth > maxDepth {
		return nil, fmt.Errorf("%w: nesting deeper than %d", ErrSyntax, maxDepth)
	}
	switch p.peek().kind {
	case tokPlus:
		p.next()
		return p.parseUnary(depth + 1)
	case tokMinus:
		p.next()
		operand, err := p.parseUnary(depth + 1)
		if err != nil {
			return nil, err
		}
		return negNode{operand: operand}, nil
	}
	return p.parsePrimary(depth)
}

// primary = number | identifier | "(" expr ")"
func (p *parser) parsePrimary(depth int) (node, error) {
	tok := p.next()
	switch tok.kind {
	case tokNumber:
		text := tok.text
		if strings.HasPrefix(text, ".") {
			text = "0" + text
		}
		if strings.HasSuffix(text, ".") {
			text += "0"
		}
		v, err := decimal.NewFromString(text)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number %q at offset %d", ErrSyntax, tok.text, tok.pos)
		}
		return numberNode{value: v}, nil
	case tokIdent:
		return varNode{name: tok.text}, nil
	case tokLParen:
		inner, err := p.parseExpr(depth + 1)
		if err != nil {
			return nil, err
		}
		if closing := p.next(); closing.kind != tokRParen {
			return nil, fmt.Errorf("%w: missing ')' at offset %d", ErrSyntax, closing.pos)
		}
		return inner, nil
	case tokEOF:
		return nil, fmt.Errorf("%w: unexpected end of formula", ErrSyntax)
	}
	return nil, fmt.Errorf("%w: unexpected %q at offset %d", ErrSyntax, tok.text, tok.pos)
}
