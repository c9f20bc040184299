// Package condition evaluates the boolean display conditions attached to
// survey items. A condition is a flat expression over prior responses, e.g.
//
//	p1 > 5 AND (p2 == happy OR p2 == SKIPPED)
//
// Evaluation is pure: the same condition and prior-response map always yield
// the same result.
package condition

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/mobsense/mobsense/internal/domain/model"
)

// Operator is a comparison operator inside a single clause.
type Operator string

const (
	OpEq Operator = "=="
	OpNe Operator = "!="
	OpLt Operator = "<"
	OpLe Operator = "<="
	OpGt Operator = ">"
	OpGe Operator = ">="
)

// Evaluate parses and evaluates cond against previously validated responses.
// AND and OR bind equally and associate left-to-right; use parentheses to
// group. Evaluation short-circuits: once the outcome is decided, later
// clauses are still parsed for syntax but never compared, so a condition
// like `p1 == SKIPPED OR p1 > 5` is legal when p1 carries a sentinel.
func Evaluate(cond string, prior map[string]any) (bool, error) {
	toks, err := lex(cond)
	if err != nil {
		return false, err
	}
	p := &parser{toks: toks, prior: prior}
	result, err := p.expression(false)
	if err != nil {
		return false, err
	}
	if p.pos != len(p.toks) {
		return false, fmt.Errorf("%w: unexpected %q", ErrMalformed, p.toks[p.pos].text)
	}
	return result, nil
}

// References parses cond and returns the item ids it mentions, in order of
// first appearance. It performs the full syntax check without evaluating, so
// definitions can reject forward references before any response arrives.
func References(cond string) ([]string, error) {
	toks, err := lex(cond)
	if err != nil {
		return nil, err
	}
	var refs []string
	p := &parser{toks: toks, collect: &refs}
	if _, err := p.expression(false); err != nil {
		return nil, err
	}
	if p.pos != len(p.toks) {
		return nil, fmt.Errorf("%w: unexpected %q", ErrMalformed, p.toks[p.pos].text)
	}
	return refs, nil
}

type tokenKind int

const (
	tokWord tokenKind = iota // item id, literal, AND, OR
	tokOp
	tokLParen
	tokRParen
)

type token struct {
	kind tokenKind
	text string
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case unicode.IsSpace(rune(c)):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == '=' || c == '!' || c == '<' || c == '>':
			op := string(c)
			if i+1 < len(input) && input[i+1] == '=' {
				op += "="
				i++
			}
			i++
			switch Operator(op) {
			case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe:
				toks = append(toks, token{tokOp, op})
			default:
				return nil, fmt.Errorf("%w: bad operator %q", ErrMalformed, op)
			}
		case c == '\'':
			// Quoted literal, for values containing spaces.
			end := strings.IndexByte(input[i+1:], '\'')
			if end < 0 {
				return nil, fmt.Errorf("%w: unterminated quote", ErrMalformed)
			}
			toks = append(toks, token{tokWord, input[i+1 : i+1+end]})
			i += end + 2
		default:
			start := i
			for i < len(input) && !strings.ContainsRune(" \t()=!<>'", rune(input[i])) {
				i++
			}
			toks = append(toks, token{tokWord, input[start:i]})
		}
	}
	if len(toks) == 0 {
		return nil, fmt.Errorf("%w: empty condition", ErrMalformed)
	}
	return toks, nil
}

type parser struct {
	toks    []token
	pos     int
	prior   map[string]any
	collect *[]string // parse-only mode: gather references, skip evaluation
}

// expression := term ((AND|OR) term)*
//
// dead marks a subexpression whose value cannot change the outcome anymore;
// it is parsed for syntax but its clauses are never compared.
func (p *parser) expression(dead bool) (bool, error) {
	acc, err := p.term(dead)
	if err != nil {
		return false, err
	}
	for p.pos < len(p.toks) {
		t := p.toks[p.pos]
		if t.kind != tokWord {
			break
		}
		var isAnd bool
		switch strings.ToUpper(t.text) {
		case "AND":
			isAnd = true
		case "OR":
			isAnd = false
		default:
			return false, fmt.Errorf("%w: expected AND or OR, got %q", ErrMalformed, t.text)
		}
		p.pos++
		// left-to-right short circuit: false AND _, true OR _
		rhsDead := dead || (isAnd && !acc) || (!isAnd && acc)
		rhs, err := p.term(rhsDead)
		if err != nil {
			return false, err
		}
		if isAnd {
			acc = acc && rhs
		} else {
			acc = acc || rhs
		}
	}
	return acc, nil
}

// term := '(' expression ')' | clause
func (p *parser) term(dead bool) (bool, error) {
	if p.pos < len(p.toks) && p.toks[p.pos].kind == tokLParen {
		p.pos++
		inner, err := p.expression(dead)
		if err != nil {
			return false, err
		}
		if p.pos >= len(p.toks) || p.toks[p.pos].kind != tokRParen {
			return false, fmt.Errorf("%w: missing closing parenthesis", ErrMalformed)
		}
		p.pos++
		return inner, nil
	}
	return p.clause(dead)
}

// clause := itemID op literal
func (p *parser) clause(dead bool) (bool, error) {
	if p.pos >= len(p.toks) {
		return false, fmt.Errorf("%w: truncated clause", ErrMalformed)
	}
	id := p.toks[p.pos]
	if id.kind != tokWord {
		return false, fmt.Errorf("%w: expected item id, got %q", ErrMalformed, id.text)
	}
	if p.pos+1 >= len(p.toks) || p.toks[p.pos+1].kind != tokOp {
		return false, fmt.Errorf("%w: expected operator after %q", ErrMalformed, id.text)
	}
	if p.pos+2 >= len(p.toks) || p.toks[p.pos+2].kind != tokWord {
		return false, fmt.Errorf("%w: expected literal in clause for %q", ErrMalformed, id.text)
	}
	op := Operator(p.toks[p.pos+1].text)
	lit := p.toks[p.pos+2].text
	p.pos += 3

	if p.collect != nil {
		seen := false
		for _, ref := range *p.collect {
			if ref == id.text {
				seen = true
				break
			}
		}
		if !seen {
			*p.collect = append(*p.collect, id.text)
		}
		return true, nil
	}

	if dead {
		return true, nil
	}

	value, ok := p.prior[id.text]
	if !ok {
		// Definition order guarantees every legal reference is already in
		// prior, so this is a forward or undefined reference.
		return false, fmt.Errorf("%w: %q references item %q before it is answered", ErrMalformed, id.text+string(op)+lit, id.text)
	}
	return compare(id.text, value, op, lit)
}

func compare(itemID string, value any, op Operator, lit string) (bool, error) {
	// NoResponse sentinels compare only by name, and only for equality.
	if nr, ok := value.(model.NoResponse); ok {
		if op != OpEq && op != OpNe {
			return false, fmt.Errorf("%w: ordering comparison against no-response value of %q", ErrMalformed, itemID)
		}
		eq := string(nr) == lit
		return eq == (op == OpEq), nil
	}

	if num, ok := toFloat(value); ok {
		litNum, err := strconv.ParseFloat(lit, 64)
		if err != nil {
			return false, fmt.Errorf("%w: comparing numeric item %q against non-numeric literal %q", ErrMalformed, itemID, lit)
		}
		switch op {
		case OpEq:
			return num == litNum, nil
		case OpNe:
			return num != litNum, nil
		case OpLt:
			return num < litNum, nil
		case OpLe:
			return num <= litNum, nil
		case OpGt:
			return num > litNum, nil
		case OpGe:
			return num >= litNum, nil
		}
	}

	if s, ok := value.(string); ok {
		if op != OpEq && op != OpNe {
			return false, fmt.Errorf("%w: ordering comparison against string item %q", ErrMalformed, itemID)
		}
		return (s == lit) == (op == OpEq), nil
	}

	return false, fmt.Errorf("%w: item %q has no comparable value", ErrMalformed, itemID)
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}
