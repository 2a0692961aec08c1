package pipeline

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"
)

// ConditionError reports a condition expression that could not be parsed
// or evaluated. The runner treats it as "condition not satisfied".
type ConditionError struct {
	Expr string
	Msg  string
}

func (e *ConditionError) Error() string {
	return fmt.Sprintf("condition %q: %s", e.Expr, e.Msg)
}

// EvaluateCondition evaluates a small Python-style boolean expression
// against a namespace. Supported constructs: literals (numbers, strings,
// booleans, None, lists, tuples, sets, dicts), variable references,
// comparisons (== != < <= > >= is, is not, in, not in, chained), and/or/not,
// arithmetic (+ - * / %), unary -/+, and `x if p else y`. Function calls,
// attribute access and subscripting are rejected; unknown names fail the
// expression. An empty expression is true.
func EvaluateCondition(expr string, ns map[string]any) (bool, error) {
	if strings.TrimSpace(expr) == "" {
		return true, nil
	}

	tokens, err := lexCondition(expr)
	if err != nil {
		return false, &ConditionError{Expr: expr, Msg: err.Error()}
	}

	p := &condParser{expr: expr, tokens: tokens}
	node, err := p.parseExpr()
	if err != nil {
		return false, err
	}
	if !p.atEOF() {
		return false, p.errorf("unexpected token %q", p.peek().text)
	}

	val, err := evalNode(node, ns, expr)
	if err != nil {
		return false, err
	}
	return truthy(val), nil
}

// --- lexer ---

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokNumber
	tokString
	tokIdent
	tokOp
)

type token struct {
	kind tokenKind
	text string
}

func lexCondition(expr string) ([]token, error) {
	var tokens []token
	runes := []rune(expr)
	i := 0

	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++

		case unicode.IsDigit(r):
			start := i
			for i < len(runes) && (unicode.IsDigit(runes[i]) || runes[i] == '.') {
				i++
			}
			tokens = append(tokens, token{tokNumber, string(runes[start:i])})

		case r == '\'' || r == '"':
			quote := r
			i++
			var sb strings.Builder
			for {
				if i >= len(runes) {
					return nil, fmt.Errorf("unterminated string")
				}
				if runes[i] == '\\' && i+1 < len(runes) {
					sb.WriteRune(runes[i+1])
					i += 2
					continue
				}
				if runes[i] == quote {
					i++
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			tokens = append(tokens, token{tokString, sb.String()})

		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{tokIdent, string(runes[start:i])})

		case r == '=' || r == '!' || r == '<' || r == '>':
			if i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, token{tokOp, string(runes[i : i+2])})
				i += 2
				break
			}
			if r == '=' || r == '!' {
				return nil, fmt.Errorf("unexpected character %q", string(r))
			}
			tokens = append(tokens, token{tokOp, string(r)})
			i++

		case strings.ContainsRune("+-*/%()[]{},:", r):
			tokens = append(tokens, token{tokOp, string(r)})
			i++

		default:
			return nil, fmt.Errorf("unexpected character %q", string(r))
		}
	}

	tokens = append(tokens, token{tokEOF, ""})
	return tokens, nil
}

// --- parser ---

type condNode interface{}

type litNode struct{ val any }
type nameNode struct{ name string }
type listNode struct{ elts []condNode }
type setLitNode struct{ elts []condNode }
type dictNode struct{ keys, vals []condNode }
type unaryNode struct {
	op      string
	operand condNode
}
type binNode struct {
	op          string
	left, right condNode
}
type boolOpNode struct {
	op   string
	vals []condNode
}
type compareNode struct {
	left   condNode
	ops    []string
	rights []condNode
}
type ternaryNode struct{ test, body, orelse condNode }

type condParser struct {
	expr   string
	tokens []token
	pos    int
}

func (p *condParser) peek() token { return p.tokens[p.pos] }
func (p *condParser) next() token { t := p.tokens[p.pos]; p.pos++; return t }
func (p *condParser) atEOF() bool { return p.peek().kind == tokEOF }

func (p *condParser) errorf(format string, args ...any) error {
	return &ConditionError{Expr: p.expr, Msg: fmt.Sprintf(format, args...)}
}

func (p *condParser) acceptOp(text string) bool {
	if t := p.peek(); t.kind == tokOp && t.text == text {
		p.pos++
		return true
	}
	return false
}

func (p *condParser) acceptKeyword(word string) bool {
	if t := p.peek(); t.kind == tokIdent && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *condParser) expectOp(text string) error {
	if !p.acceptOp(text) {
		return p.errorf("expected %q, got %q", text, p.peek().text)
	}
	return nil
}

// parseExpr handles the conditional expression `body if test else orelse`.
func (p *condParser) parseExpr() (condNode, error) {
	body, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("if") {
		return body, nil
	}
	test, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("else") {
		return nil, p.errorf("expected else in conditional expression")
	}
	orelse, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ternaryNode{test: test, body: body, orelse: orelse}, nil
}

func (p *condParser) parseOr() (condNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("or") {
		return left, nil
	}
	vals := []condNode{left}
	for {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		vals = append(vals, right)
		if !p.acceptKeyword("or") {
			return &boolOpNode{op: "or", vals: vals}, nil
		}
	}
}

func (p *condParser) parseAnd() (condNode, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	if !p.acceptKeyword("and") {
		return left, nil
	}
	vals := []condNode{left}
	for {
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		vals = append(vals, right)
		if !p.acceptKeyword("and") {
			return &boolOpNode{op: "and", vals: vals}, nil
		}
	}
}

func (p *condParser) parseNot() (condNode, error) {
	if p.acceptKeyword("not") {
		operand, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: "not", operand: operand}, nil
	}
	return p.parseComparison()
}

func (p *condParser) parseComparison() (condNode, error) {
	left, err := p.parseArith()
	if err != nil {
		return nil, err
	}

	var ops []string
	var rights []condNode
	for {
		op, ok := p.comparisonOp()
		if !ok {
			break
		}
		right, err := p.parseArith()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		rights = append(rights, right)
	}

	if len(ops) == 0 {
		return left, nil
	}
	return &compareNode{left: left, ops: ops, rights: rights}, nil
}

// comparisonOp consumes one comparison operator, including the two-word
// forms `not in` and `is not`.
func (p *condParser) comparisonOp() (string, bool) {
	t := p.peek()
	if t.kind == tokOp {
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.pos++
			return t.text, true
		}
		return "", false
	}
	if t.kind != tokIdent {
		return "", false
	}
	switch t.text {
	case "in":
		p.pos++
		return "in", true
	case "is":
		p.pos++
		if p.acceptKeyword("not") {
			return "is not", true
		}
		return "is", true
	case "not":
		if p.tokens[p.pos+1].kind == tokIdent && p.tokens[p.pos+1].text == "in" {
			p.pos += 2
			return "not in", true
		}
	}
	return "", false
}

func (p *condParser) parseArith() (condNode, error) {
	left, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "+" && t.text != "-") {
			return left, nil
		}
		p.pos++
		right, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: t.text, left: left, right: right}
	}
}

func (p *condParser) parseTerm() (condNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for {
		t := p.peek()
		if t.kind != tokOp || (t.text != "*" && t.text != "/" && t.text != "%") {
			return left, nil
		}
		p.pos++
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = &binNode{op: t.text, left: left, right: right}
	}
}

func (p *condParser) parseUnary() (condNode, error) {
	if t := p.peek(); t.kind == tokOp && (t.text == "-" || t.text == "+") {
		p.pos++
		operand, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return &unaryNode{op: t.text, operand: operand}, nil
	}
	return p.parsePrimary()
}

func (p *condParser) parsePrimary() (condNode, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.errorf("invalid number %q", t.text)
		}
		return &litNode{val: f}, nil

	case tokString:
		return &litNode{val: t.text}, nil

	case tokIdent:
		switch t.text {
		case "True":
			return &litNode{val: true}, nil
		case "False":
			return &litNode{val: false}, nil
		case "None":
			return &litNode{val: nil}, nil
		case "and", "or", "not", "in", "is", "if", "else":
			return nil, p.errorf("unexpected keyword %q", t.text)
		}
		return &nameNode{name: t.text}, nil

	case tokOp:
		switch t.text {
		case "(":
			return p.parseParen()
		case "[":
			elts, err := p.parseElements("]")
			if err != nil {
				return nil, err
			}
			return &listNode{elts: elts}, nil
		case "{":
			return p.parseBrace()
		}
	}
	return nil, p.errorf("unexpected token %q", t.text)
}

// parseParen handles grouping and tuple literals.
func (p *condParser) parseParen() (condNode, error) {
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.acceptOp(")") {
		return first, nil
	}
	if err := p.expectOp(","); err != nil {
		return nil, err
	}
	elts := []condNode{first}
	for !p.acceptOp(")") {
		elt, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elts = append(elts, elt)
		if !p.acceptOp(",") {
			if err := p.expectOp(")"); err != nil {
				return nil, err
			}
			break
		}
	}
	return &listNode{elts: elts}, nil
}

// parseBrace handles set and dict literals; `{}` is an empty dict.
func (p *condParser) parseBrace() (condNode, error) {
	if p.acceptOp("}") {
		return &dictNode{}, nil
	}

	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}

	if p.acceptOp(":") {
		keys := []condNode{first}
		var vals []condNode
		val, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		vals = append(vals, val)
		for p.acceptOp(",") {
			if p.peek().kind == tokOp && p.peek().text == "}" {
				break
			}
			k, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			if err := p.expectOp(":"); err != nil {
				return nil, err
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, err
			}
			keys = append(keys, k)
			vals = append(vals, v)
		}
		if err := p.expectOp("}"); err != nil {
			return nil, err
		}
		return &dictNode{keys: keys, vals: vals}, nil
	}

	elts := []condNode{first}
	for p.acceptOp(",") {
		if p.peek().kind == tokOp && p.peek().text == "}" {
			break
		}
		elt, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elts = append(elts, elt)
	}
	if err := p.expectOp("}"); err != nil {
		return nil, err
	}
	return &setLitNode{elts: elts}, nil
}

func (p *condParser) parseElements(closer string) ([]condNode, error) {
	var elts []condNode
	for !p.acceptOp(closer) {
		elt, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		elts = append(elts, elt)
		if !p.acceptOp(",") {
			if err := p.expectOp(closer); err != nil {
				return nil, err
			}
			break
		}
	}
	return elts, nil
}

// --- evaluator ---

type setVal map[any]bool
type dictVal struct {
	keys []any
	vals []any
}

func evalError(expr, format string, args ...any) error {
	return &ConditionError{Expr: expr, Msg: fmt.Sprintf(format, args...)}
}

func evalNode(n condNode, ns map[string]any, expr string) (any, error) {
	switch node := n.(type) {
	case *litNode:
		return node.val, nil

	case *nameNode:
		v, ok := ns[node.name]
		if !ok {
			return nil, evalError(expr, "unknown name %q", node.name)
		}
		return normalizeValue(v), nil

	case *listNode:
		out := make([]any, len(node.elts))
		for i, elt := range node.elts {
			v, err := evalNode(elt, ns, expr)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil

	case *setLitNode:
		out := setVal{}
		for _, elt := range node.elts {
			v, err := evalNode(elt, ns, expr)
			if err != nil {
				return nil, err
			}
			if !comparableValue(v) {
				return nil, evalError(expr, "unhashable set element")
			}
			out[v] = true
		}
		return out, nil

	case *dictNode:
		out := dictVal{}
		for i := range node.keys {
			k, err := evalNode(node.keys[i], ns, expr)
			if err != nil {
				return nil, err
			}
			v, err := evalNode(node.vals[i], ns, expr)
			if err != nil {
				return nil, err
			}
			out.keys = append(out.keys, k)
			out.vals = append(out.vals, v)
		}
		return out, nil

	case *unaryNode:
		v, err := evalNode(node.operand, ns, expr)
		if err != nil {
			return nil, err
		}
		switch node.op {
		case "not":
			return !truthy(v), nil
		case "-":
			f, ok := v.(float64)
			if !ok {
				return nil, evalError(expr, "unary - on non-number")
			}
			return -f, nil
		case "+":
			if _, ok := v.(float64); !ok {
				return nil, evalError(expr, "unary + on non-number")
			}
			return v, nil
		}
		return nil, evalError(expr, "unsupported unary operator %q", node.op)

	case *binNode:
		left, err := evalNode(node.left, ns, expr)
		if err != nil {
			return nil, err
		}
		right, err := evalNode(node.right, ns, expr)
		if err != nil {
			return nil, err
		}
		return evalBinOp(node.op, left, right, expr)

	case *boolOpNode:
		if node.op == "and" {
			var last any = true
			for _, v := range node.vals {
				val, err := evalNode(v, ns, expr)
				if err != nil {
					return nil, err
				}
				if !truthy(val) {
					return val, nil
				}
				last = val
			}
			return last, nil
		}
		var last any = false
		for _, v := range node.vals {
			val, err := evalNode(v, ns, expr)
			if err != nil {
				return nil, err
			}
			if truthy(val) {
				return val, nil
			}
			last = val
		}
		return last, nil

	case *compareNode:
		left, err := evalNode(node.left, ns, expr)
		if err != nil {
			return nil, err
		}
		for i, op := range node.ops {
			right, err := evalNode(node.rights[i], ns, expr)
			if err != nil {
				return nil, err
			}
			ok, err := evalComparison(op, left, right, expr)
			if err != nil {
				return nil, err
			}
			if !ok {
				return false, nil
			}
			left = right
		}
		return true, nil

	case *ternaryNode:
		test, err := evalNode(node.test, ns, expr)
		if err != nil {
			return nil, err
		}
		if truthy(test) {
			return evalNode(node.body, ns, expr)
		}
		return evalNode(node.orelse, ns, expr)
	}

	return nil, evalError(expr, "unsupported expression")
}

func evalBinOp(op string, left, right any, expr string) (any, error) {
	if op == "+" {
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, evalError(expr, "cannot add string and non-string")
			}
			return ls + rs, nil
		}
	}

	lf, lok := left.(float64)
	rf, rok := right.(float64)
	if !lok || !rok {
		return nil, evalError(expr, "arithmetic on non-numbers")
	}

	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, evalError(expr, "division by zero")
		}
		return lf / rf, nil
	case "%":
		if rf == 0 {
			return nil, evalError(expr, "division by zero")
		}
		return math.Mod(lf, rf), nil
	}
	return nil, evalError(expr, "unsupported operator %q", op)
}

func evalComparison(op string, left, right any, expr string) (bool, error) {
	switch op {
	case "==", "is":
		return valuesEqual(left, right), nil
	case "!=", "is not":
		return !valuesEqual(left, right), nil
	case "in":
		return valueIn(left, right, expr)
	case "not in":
		ok, err := valueIn(left, right, expr)
		return !ok, err
	}

	// Ordering requires two numbers or two strings.
	if lf, ok := left.(float64); ok {
		rf, ok := right.(float64)
		if !ok {
			return false, evalError(expr, "cannot order number against non-number")
		}
		switch op {
		case "<":
			return lf < rf, nil
		case "<=":
			return lf <= rf, nil
		case ">":
			return lf > rf, nil
		case ">=":
			return lf >= rf, nil
		}
	}
	if ls, ok := left.(string); ok {
		rs, ok := right.(string)
		if !ok {
			return false, evalError(expr, "cannot order string against non-string")
		}
		switch op {
		case "<":
			return ls < rs, nil
		case "<=":
			return ls <= rs, nil
		case ">":
			return ls > rs, nil
		case ">=":
			return ls >= rs, nil
		}
	}
	return false, evalError(expr, "unsupported ordering of %T and %T", left, right)
}

func valueIn(needle, haystack any, expr string) (bool, error) {
	switch h := haystack.(type) {
	case string:
		s, ok := needle.(string)
		if !ok {
			return false, evalError(expr, "substring test requires a string")
		}
		return strings.Contains(h, s), nil
	case []any:
		for _, v := range h {
			if valuesEqual(needle, v) {
				return true, nil
			}
		}
		return false, nil
	case setVal:
		if !comparableValue(needle) {
			return false, nil
		}
		return h[needle], nil
	case dictVal:
		for _, k := range h.keys {
			if valuesEqual(needle, k) {
				return true, nil
			}
		}
		return false, nil
	}
	return false, evalError(expr, "membership test on %T", haystack)
}

func valuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if af, ok := a.(float64); ok {
		bf, ok := b.(float64)
		return ok && af == bf
	}
	if al, ok := a.([]any); ok {
		bl, ok := b.([]any)
		if !ok || len(al) != len(bl) {
			return false
		}
		for i := range al {
			if !valuesEqual(al[i], bl[i]) {
				return false
			}
		}
		return true
	}
	if comparableValue(a) && comparableValue(b) {
		return a == b
	}
	return false
}

func comparableValue(v any) bool {
	switch v.(type) {
	case nil, bool, float64, string:
		return true
	}
	return false
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case float64:
		return val != 0
	case string:
		return val != ""
	case []any:
		return len(val) > 0
	case setVal:
		return len(val) > 0
	case dictVal:
		return len(val.keys) > 0
	}
	return true
}

// normalizeValue coerces namespace values into the evaluator's canonical
// types so user-provided ints compare correctly against numeric literals.
func normalizeValue(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int32:
		return float64(val)
	case int64:
		return float64(val)
	case float32:
		return float64(val)
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = s
		}
		return out
	}
	return v
}
