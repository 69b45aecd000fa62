package engine

import (
	"strconv"
	"strings"
	"unicode"
)

// The condition language is intentionally small and closed:
//
//	expression := andExpr (OR andExpr)*
//	andExpr    := clause (AND clause)*
//	clause     := field operator literal
//
// AND binds tighter than OR; both associate left-to-right. Operators are
// =, !=, >, >=, <, <=. Literals are numbers or quoted strings. There are
// no parentheses and no NOT.
//
// Evaluation is eager: every clause is evaluated even when the boolean
// outcome is already decided, so a malformed clause always surfaces as an
// EvalError no matter where it sits in the expression.

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokNumber
	tokString
	tokOperator
	tokAnd
	tokOr
)

type token struct {
	kind tokenKind
	text string
}

func lex(expr string) ([]token, error) {
	var tokens []token
	i := 0
	for i < len(expr) {
		ch := expr[i]

		if ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r' {
			i++
			continue
		}

		// Operators
		if ch == '>' || ch == '<' || ch == '!' || ch == '=' {
			op := string(ch)
			if i+1 < len(expr) && expr[i+1] == '=' {
				op += "="
				i++
			}
			i++
			if op == "!" {
				return nil, evalErrorf(expr, "unexpected character %q", "!")
			}
			tokens = append(tokens, token{kind: tokOperator, text: op})
			continue
		}

		// Quoted strings
		if ch == '\'' || ch == '"' {
			quote := ch
			j := i + 1
			for j < len(expr) && expr[j] != quote {
				j++
			}
			if j >= len(expr) {
				return nil, evalErrorf(expr, "unterminated string literal")
			}
			tokens = append(tokens, token{kind: tokString, text: expr[i+1 : j]})
			i = j + 1
			continue
		}

		// Numbers (with optional leading sign)
		if ch == '-' || ch == '.' || unicode.IsDigit(rune(ch)) {
			j := i
			if ch == '-' {
				j++
			}
			for j < len(expr) && (unicode.IsDigit(rune(expr[j])) || expr[j] == '.') {
				j++
			}
			text := expr[i:j]
			if _, err := strconv.ParseFloat(text, 64); err != nil {
				return nil, evalErrorf(expr, "malformed number %q", text)
			}
			tokens = append(tokens, token{kind: tokNumber, text: text})
			i = j
			continue
		}

		// Identifiers and AND/OR keywords
		if ch == '_' || unicode.IsLetter(rune(ch)) {
			j := i
			for j < len(expr) && (expr[j] == '_' || unicode.IsLetter(rune(expr[j])) || unicode.IsDigit(rune(expr[j]))) {
				j++
			}
			word := expr[i:j]
			switch strings.ToUpper(word) {
			case "AND":
				tokens = append(tokens, token{kind: tokAnd, text: word})
			case "OR":
				tokens = append(tokens, token{kind: tokOr, text: word})
			default:
				tokens = append(tokens, token{kind: tokIdent, text: word})
			}
			i = j
			continue
		}

		return nil, evalErrorf(expr, "unexpected character %q", string(ch))
	}

	if len(tokens) == 0 {
		return nil, evalErrorf(expr, "empty expression")
	}

	return tokens, nil
}

type exprNode interface {
	eval(expr string, ctx *Context) (bool, error)
}

// orNode combines AND groups; true if any term is true. All terms are
// evaluated so clause errors are never masked.
type orNode struct {
	terms []exprNode
}

func (n *orNode) eval(expr string, ctx *Context) (bool, error) {
	result := false
	for _, term := range n.terms {
		ok, err := term.eval(expr, ctx)
		if err != nil {
			return false, err
		}
		result = result || ok
	}
	return result, nil
}

type andNode struct {
	clauses []exprNode
}

func (n *andNode) eval(expr string, ctx *Context) (bool, error) {
	result := true
	for _, clause := range n.clauses {
		ok, err := clause.eval(expr, ctx)
		if err != nil {
			return false, err
		}
		result = result && ok
	}
	return result, nil
}

type clauseNode struct {
	field string
	op    string
	lit   fieldValue
}

func (n *clauseNode) eval(expr string, ctx *Context) (bool, error) {
	val, ok := ctx.Lookup(n.field)
	if !ok {
		return false, evalErrorf(expr, "unknown or unavailable field %q", n.field)
	}

	if val.isStr != n.lit.isStr {
		return false, evalErrorf(expr, "type mismatch: field %q and literal are not comparable", n.field)
	}

	if val.isStr {
		switch n.op {
		case "=":
			return val.str == n.lit.str, nil
		case "!=":
			return val.str != n.lit.str, nil
		default:
			return false, evalErrorf(expr, "operator %q is not defined for strings", n.op)
		}
	}

	switch n.op {
	case "=":
		return val.num == n.lit.num, nil
	case "!=":
		return val.num != n.lit.num, nil
	case ">":
		return val.num > n.lit.num, nil
	case ">=":
		return val.num >= n.lit.num, nil
	case "<":
		return val.num < n.lit.num, nil
	case "<=":
		return val.num <= n.lit.num, nil
	}
	return false, evalErrorf(expr, "unknown operator %q", n.op)
}

type parser struct {
	expr   string
	tokens []token
	pos    int
}

// parseExpression compiles a condition expression into an AST. All syntax
// errors are reported as EvalError.
func parseExpression(expr string) (exprNode, error) {
	tokens, err := lex(expr)
	if err != nil {
		return nil, err
	}

	p := &parser{expr: expr, tokens: tokens}
	node, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, evalErrorf(expr, "unexpected token %q", p.tokens[p.pos].text)
	}
	return node, nil
}

func (p *parser) parseOr() (exprNode, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}

	node := &orNode{terms: []exprNode{first}}
	for p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokOr {
		p.pos++
		term, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		node.terms = append(node.terms, term)
	}

	if len(node.terms) == 1 {
		return first, nil
	}
	return node, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	first, err := p.parseClause()
	if err != nil {
		return nil, err
	}

	node := &andNode{clauses: []exprNode{first}}
	for p.pos < len(p.tokens) && p.tokens[p.pos].kind == tokAnd {
		p.pos++
		clause, err := p.parseClause()
		if err != nil {
			return nil, err
		}
		node.clauses = append(node.clauses, clause)
	}

	if len(node.clauses) == 1 {
		return first, nil
	}
	return node, nil
}

func (p *parser) parseClause() (exprNode, error) {
	if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokIdent {
		return nil, evalErrorf(p.expr, "expected field identifier")
	}
	field := p.tokens[p.pos].text
	p.pos++

	if p.pos >= len(p.tokens) || p.tokens[p.pos].kind != tokOperator {
		return nil, evalErrorf(p.expr, "expected operator after field %q", field)
	}
	op := p.tokens[p.pos].text
	p.pos++

	if p.pos >= len(p.tokens) {
		return nil, evalErrorf(p.expr, "expected literal after operator %q", op)
	}

	var lit fieldValue
	switch p.tokens[p.pos].kind {
	case tokNumber:
		num, err := strconv.ParseFloat(p.tokens[p.pos].text, 64)
		if err != nil {
			return nil, evalErrorf(p.expr, "malformed number %q", p.tokens[p.pos].text)
		}
		lit = numValue(num)
	case tokString:
		lit = strValue(p.tokens[p.pos].text)
	default:
		return nil, evalErrorf(p.expr, "expected literal, got %q", p.tokens[p.pos].text)
	}
	p.pos++

	return &clauseNode{field: field, op: op, lit: lit}, nil
}

// ValidateExpression checks that an expression parses. Field existence is a
// runtime property of the evaluation context, so only syntax is checked here.
func ValidateExpression(expr string) error {
	_, err := parseExpression(expr)
	return err
}

// EvaluateExpression parses and evaluates a condition expression against a
// context. It is pure: no clock or environment reads, same inputs always
// produce the same result.
func EvaluateExpression(expr string, ctx *Context) (bool, error) {
	node, err := parseExpression(expr)
	if err != nil {
		return false, err
	}
	return node.eval(expr, ctx)
}
