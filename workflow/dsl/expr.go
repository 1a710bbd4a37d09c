package dsl

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/mod/semver"
)

// ErrUnknownVariable is returned by Eval when a referenced path is absent
// from the scope.
var ErrUnknownVariable = errors.New("unknown variable")

// Expr is a compiled condition expression. It implements workflow.Condition.
//
// Supported operators: ==, !=, >, <, >=, <=, &&, ||, !
// Supported literals: numbers, "double" or 'single' quoted strings, true, false
// Ordering between two dotted versions ("3.10" >= 3.7) compares component by
// component; other numbers compare numerically, anything else as text.
// Identifiers may use dot notation: matrix.platform looks up
// vars["matrix"].(map[string]any)["platform"].
type Expr struct {
	src  string
	root node
	vars []string
}

// Compile parses src once so that evaluation never re-tokenises.
func Compile(src string) (*Expr, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, errors.New("empty expression")
	}
	tokens, err := tokenize(src)
	if err != nil {
		return nil, err
	}

	p := &exprParser{tokens: tokens, refs: map[string]bool{}}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("unexpected token %q at position %d", p.tokens[p.pos].value, p.pos)
	}

	vars := make([]string, 0, len(p.refs))
	for v := range p.refs {
		vars = append(vars, v)
	}
	sort.Strings(vars)
	return &Expr{src: src, root: root, vars: vars}, nil
}

// MustCompile is Compile that panics on error.
func MustCompile(src string) *Expr {
	e, err := Compile(src)
	if err != nil {
		panic(fmt.Sprintf("dsl: compile %q: %v", src, err))
	}
	return e
}

// Eval evaluates the expression against vars.
func (e *Expr) Eval(vars map[string]any) (bool, error) {
	v, err := e.root.eval(vars)
	if err != nil {
		return false, err
	}
	return toBool(v), nil
}

// Variables lists the identifier paths the expression reads, sorted.
func (e *Expr) Variables() []string { return append([]string(nil), e.vars...) }

func (e *Expr) String() string { return e.src }

// --- Token types ---

type tokenKind int

const (
	tkNumber tokenKind = iota // 42, 0.8, -3.14
	tkString                  // "hello"
	tkIdent                   // variable name or true/false
	tkOp                      // ==, !=, >, <, >=, <=, &&, ||, !
	tkLParen                  // (
	tkRParen                  // )
)

type token struct {
	kind  tokenKind
	value string
}

// --- Tokenizer ---

func tokenize(expr string) ([]token, error) {
	var tokens []token
	i := 0
	runes := []rune(expr)

	for i < len(runes) {
		ch := runes[i]

		switch {
		case unicode.IsSpace(ch):
			i++
		case ch == '(':
			tokens = append(tokens, token{tkLParen, "("})
			i++
		case ch == ')':
			tokens = append(tokens, token{tkRParen, ")"})
			i++
		case ch == '"' || ch == '\'':
			s, n, err := readString(runes, i)
			if err != nil {
				return nil, err
			}
			tokens = append(tokens, token{tkString, s})
			i = n
		case i+1 < len(runes) && isTwoCharOp(string(runes[i:i+2])):
			tokens = append(tokens, token{tkOp, string(runes[i : i+2])})
			i += 2
		case ch == '>' || ch == '<' || ch == '!':
			tokens = append(tokens, token{tkOp, string(ch)})
			i++
		case isDigit(ch) || (ch == '-' && i+1 < len(runes) && isDigit(runes[i+1]) && isNumberStart(tokens)):
			num, n := readNumber(runes, i)
			tokens = append(tokens, token{tkNumber, num})
			i = n
		case isIdentStart(ch):
			ident, n := readIdent(runes, i)
			if strings.HasSuffix(ident, ".") || strings.Contains(ident, "..") {
				return nil, fmt.Errorf("malformed identifier %q at position %d", ident, i)
			}
			tokens = append(tokens, token{tkIdent, ident})
			i = n
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d", string(ch), i)
		}
	}

	return tokens, nil
}

func isTwoCharOp(s string) bool {
	switch s {
	case "==", "!=", ">=", "<=", "&&", "||":
		return true
	}
	return false
}

func readString(runes []rune, start int) (string, int, error) {
	quote := runes[start]
	i := start + 1
	var sb strings.Builder
	for i < len(runes) {
		if runes[i] == '\\' && i+1 < len(runes) {
			sb.WriteRune(runes[i+1])
			i += 2
			continue
		}
		if runes[i] == quote {
			return sb.String(), i + 1, nil
		}
		sb.WriteRune(runes[i])
		i++
	}
	return "", 0, fmt.Errorf("unterminated string starting at position %d", start)
}

func readNumber(runes []rune, start int) (string, int) {
	i := start
	if i < len(runes) && runes[i] == '-' {
		i++
	}
	for i < len(runes) && isDigit(runes[i]) {
		i++
	}
	if i < len(runes) && runes[i] == '.' {
		i++
		for i < len(runes) && isDigit(runes[i]) {
			i++
		}
	}
	return string(runes[start:i]), i
}

func readIdent(runes []rune, start int) (string, int) {
	i := start
	for i < len(runes) && isIdentPart(runes[i]) {
		i++
	}
	return string(runes[start:i]), i
}

func isDigit(ch rune) bool      { return ch >= '0' && ch <= '9' }
func isIdentStart(ch rune) bool { return unicode.IsLetter(ch) || ch == '_' }
func isIdentPart(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == '-'
}

// isNumberStart reports whether a '-' starts a negative number: at the start
// of the expression or after an operator or opening parenthesis.
func isNumberStart(preceding []token) bool {
	if len(preceding) == 0 {
		return true
	}
	last := preceding[len(preceding)-1]
	return last.kind == tkOp || last.kind == tkLParen
}

// --- Recursive descent parser ---

type exprParser struct {
	tokens []token
	pos    int
	refs   map[string]bool
}

func (p *exprParser) peek() *token {
	if p.pos < len(p.tokens) {
		return &p.tokens[p.pos]
	}
	return nil
}

func (p *exprParser) peekOp(ops ...string) (string, bool) {
	t := p.peek()
	if t == nil || t.kind != tkOp {
		return "", false
	}
	for _, op := range ops {
		if t.value == op {
			return op, true
		}
	}
	return "", false
}

func (p *exprParser) advance() token {
	t := p.tokens[p.pos]
	p.pos++
	return t
}

// parseOr handles: expr || expr
func (p *exprParser) parseOr() (node, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("||"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
}

// parseAnd handles: expr && expr
func (p *exprParser) parseAnd() (node, error) {
	left, err := p.parseComparison()
	if err != nil {
		return nil, err
	}
	for {
		if _, ok := p.peekOp("&&"); !ok {
			return left, nil
		}
		p.advance()
		right, err := p.parseComparison()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
}

// parseComparison handles: expr (==|!=|>|<|>=|<=) expr
func (p *exprParser) parseComparison() (node, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	op, ok := p.peekOp("==", "!=", ">", "<", ">=", "<=")
	if !ok {
		return left, nil
	}
	p.advance()
	right, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return compareNode{op: op, left: left, right: right}, nil
}

// parseUnary handles: !expr, primary
func (p *exprParser) parseUnary() (node, error) {
	if _, ok := p.peekOp("!"); ok {
		p.advance()
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{x}, nil
	}
	return p.parsePrimary()
}

// parsePrimary handles: literals, identifiers, parenthesized expressions
func (p *exprParser) parsePrimary() (node, error) {
	t := p.peek()
	if t == nil {
		return nil, fmt.Errorf("unexpected end of expression")
	}

	switch t.kind {
	case tkNumber:
		p.advance()
		f, err := strconv.ParseFloat(t.value, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid number %q", t.value)
		}
		return literal{number{f: f, text: t.value}}, nil

	case tkString:
		p.advance()
		return literal{t.value}, nil

	case tkIdent:
		p.advance()
		switch t.value {
		case "true":
			return literal{true}, nil
		case "false":
			return literal{false}, nil
		default:
			p.refs[t.value] = true
			return variable{path: t.value}, nil
		}

	case tkLParen:
		p.advance()
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if t := p.peek(); t == nil || t.kind != tkRParen {
			return nil, fmt.Errorf("expected closing parenthesis")
		}
		p.advance()
		return x, nil

	default:
		return nil, fmt.Errorf("unexpected token %q", t.value)
	}
}

// --- AST ---

type node interface {
	eval(vars map[string]any) (any, error)
}

// number keeps the literal's source text so "3.10" never equals "3.1".
type number struct {
	f    float64
	text string
}

type literal struct{ value any }

func (n literal) eval(map[string]any) (any, error) { return n.value, nil }

type variable struct{ path string }

func (n variable) eval(vars map[string]any) (any, error) {
	v, ok := resolveVar(n.path, vars)
	if !ok {
		return nil, fmt.Errorf("%w %q", ErrUnknownVariable, n.path)
	}
	return v, nil
}

type notNode struct{ x node }

func (n notNode) eval(vars map[string]any) (any, error) {
	v, err := n.x.eval(vars)
	if err != nil {
		return nil, err
	}
	return !toBool(v), nil
}

type andNode struct{ left, right node }

func (n andNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	if !toBool(l) {
		return false, nil
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	return toBool(r), nil
}

type orNode struct{ left, right node }

func (n orNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	if toBool(l) {
		return true, nil
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	return toBool(r), nil
}

type compareNode struct {
	op          string
	left, right node
}

func (n compareNode) eval(vars map[string]any) (any, error) {
	l, err := n.left.eval(vars)
	if err != nil {
		return nil, err
	}
	r, err := n.right.eval(vars)
	if err != nil {
		return nil, err
	}
	return evalComparison(l, n.op, r), nil
}

// --- Evaluation helpers ---

// resolveVar resolves a dot-notation variable path from the vars map.
func resolveVar(path string, vars map[string]any) (any, bool) {
	var current any = vars
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// evalComparison compares two values. Equality is textual unless both sides
// are numbers or both are booleans; ordering is by version when both sides
// are dotted versions, numeric when both parse as numbers.
func evalComparison(left any, op string, right any) bool {
	switch op {
	case "==":
		return equal(left, right)
	case "!=":
		return !equal(left, right)
	}

	if c, ok := compareVersions(toString(left), toString(right)); ok {
		switch op {
		case ">":
			return c > 0
		case "<":
			return c < 0
		case ">=":
			return c >= 0
		case "<=":
			return c <= 0
		}
	}

	lf, lok := toFloat64(left)
	rf, rok := toFloat64(right)
	if lok && rok {
		switch op {
		case ">":
			return lf > rf
		case "<":
			return lf < rf
		case ">=":
			return lf >= rf
		case "<=":
			return lf <= rf
		}
	}

	ls, rs := toString(left), toString(right)
	switch op {
	case ">":
		return ls > rs
	case "<":
		return ls < rs
	case ">=":
		return ls >= rs
	case "<=":
		return ls <= rs
	}
	return false
}

// compareVersions orders "major.minor[.patch]" strings component-wise. It
// applies only when at least one side has a dot, so plain integers keep
// numeric comparison.
func compareVersions(l, r string) (int, bool) {
	if !strings.Contains(l, ".") && !strings.Contains(r, ".") {
		return 0, false
	}
	lv, rv := "v"+l, "v"+r
	if !semver.IsValid(lv) || !semver.IsValid(rv) {
		return 0, false
	}
	return semver.Compare(lv, rv), true
}

func equal(left, right any) bool {
	if left == nil || right == nil {
		return left == nil && right == nil
	}
	lb, lok := left.(bool)
	rb, rok := right.(bool)
	if lok && rok {
		return lb == rb
	}
	if isNumeric(left) && isNumeric(right) {
		lf, _ := toFloat64(left)
		rf, _ := toFloat64(right)
		return lf == rf
	}
	return toString(left) == toString(right)
}

func isNumeric(v any) bool {
	switch v.(type) {
	case number, float64, float32, int, int64:
		return true
	}
	return false
}

// toBool converts a value to boolean.
func toBool(v any) bool {
	if v == nil {
		return false
	}
	switch val := v.(type) {
	case bool:
		return val
	case number:
		return val.f != 0
	case float64:
		return val != 0
	case int:
		return val != 0
	case string:
		return val != "" && val != "false" && val != "0"
	default:
		return true
	}
}

func toString(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case number:
		return val.text
	default:
		return fmt.Sprintf("%v", v)
	}
}

// toFloat64 attempts to convert a value to float64.
func toFloat64(v any) (float64, bool) {
	switch val := v.(type) {
	case number:
		return val.f, true
	case float64:
		return val, true
	case int:
		return float64(val), true
	case int64:
		return float64(val), true
	case float32:
		return float64(val), true
	case string:
		f, err := strconv.ParseFloat(val, 64)
		if err == nil {
			return f, true
		}
		return 0, false
	default:
		return 0, false
	}
}
