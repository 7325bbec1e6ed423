package expr

import (
	"fmt"
	"strconv"
	"strings"

	planerrors "github.com/stevehiehn/taskdsl/internal/errors"
)

const maxDepth = 64

// keywords that may never appear as identifiers.
var reserved = map[string]string{
	"lambda":   "lambda expressions are not allowed",
	"import":   "import is not allowed",
	"from":     "import is not allowed",
	"def":      "statements are not allowed",
	"class":    "statements are not allowed",
	"return":   "statements are not allowed",
	"del":      "statements are not allowed",
	"global":   "statements are not allowed",
	"nonlocal": "statements are not allowed",
	"while":    "statements are not allowed",
	"with":     "statements are not allowed",
	"yield":    "yield is not allowed",
	"await":    "await is not allowed",
	"async":    "async is not allowed",
	"as":       "unexpected keyword \"as\"",
	"elif":     "unexpected keyword \"elif\"",
	"pass":     "statements are not allowed",
	"raise":    "statements are not allowed",
	"try":      "statements are not allowed",
	"except":   "statements are not allowed",
	"finally":  "statements are not allowed",
	"assert":   "statements are not allowed",
	"break":    "statements are not allowed",
	"continue": "statements are not allowed",
}

// forbiddenOps maps operators the lexer accepts to the reason they are refused.
var forbiddenOps = map[string]string{
	"**": "the power operator is not supported",
	":=": "assignment is not allowed",
	"=":  "assignment is not allowed",
	"{":  "dict and set literals are not supported",
	";":  "multiple statements are not allowed",
	"->": "unexpected \"->\"",
	"!":  "use \"not\" instead of \"!\"",
	"&":  "bitwise operators are not supported",
	"|":  "bitwise operators are not supported",
	"^":  "bitwise operators are not supported",
	"~":  "bitwise operators are not supported",
	"@":  "decorators and matrix operators are not supported",
}

type parser struct {
	src    string
	tokens []token
	pos    int
	depth  int
}

func parse(src string) (node, error) {
	tokens, err := tokenize(src)
	if err != nil {
		return nil, planerrors.NewSyntaxError(src, err.Error())
	}
	p := &parser{src: src, tokens: tokens}
	if p.peek().kind == tkEOF {
		return nil, planerrors.NewSyntaxError(src, "empty expression")
	}
	n, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tkEOF {
		return nil, p.unexpected(t)
	}
	return n, nil
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) peekAt(off int) token {
	if p.pos+off >= len(p.tokens) {
		return p.tokens[len(p.tokens)-1]
	}
	return p.tokens[p.pos+off]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tkEOF {
		p.pos++
	}
	return t
}

func (p *parser) isOp(text string) bool {
	t := p.peek()
	return t.kind == tkOp && t.text == text
}

func (p *parser) isKeyword(word string) bool {
	t := p.peek()
	return t.kind == tkName && t.text == word
}

func (p *parser) accept(text string) bool {
	if p.isOp(text) || p.isKeyword(text) {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(text string) error {
	if p.accept(text) {
		return nil
	}
	t := p.peek()
	if t.kind == tkEOF {
		return p.fail(t, "expected %q but the expression ended", text)
	}
	return p.fail(t, "expected %q, found %s", text, t)
}

func (p *parser) fail(t token, format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	return planerrors.NewSyntaxError(p.src, fmt.Sprintf("%s at position %d", msg, t.pos))
}

func (p *parser) unexpected(t token) error {
	if t.kind == tkOp {
		if reason, ok := forbiddenOps[t.text]; ok {
			return p.fail(t, "%s", reason)
		}
	}
	if t.kind == tkName {
		if reason, ok := reserved[t.text]; ok {
			return p.fail(t, "%s", reason)
		}
	}
	if t.kind == tkEOF {
		return p.fail(t, "unexpected end of expression")
	}
	return p.fail(t, "unexpected %s", t)
}

func (p *parser) enter() error {
	p.depth++
	if p.depth > maxDepth {
		return p.fail(p.peek(), "expression nested too deeply")
	}
	return nil
}

func (p *parser) leave() { p.depth-- }

// parseExpr handles the conditional expression "a if cond else b".
func (p *parser) parseExpr() (node, error) {
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()

	if p.isKeyword("lambda") {
		return nil, p.unexpected(p.peek())
	}
	then, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.accept("if") {
		return then, nil
	}
	cond, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if err := p.expect("else"); err != nil {
		return nil, err
	}
	els, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	return &ternaryNode{cond: cond, then: then, els: els}, nil
}

func (p *parser) parseOr() (node, error) {
	l, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.accept("or") {
		r, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		l = &boolNode{op: "or", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseAnd() (node, error) {
	l, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for p.accept("and") {
		r, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		l = &boolNode{op: "and", l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseNot() (node, error) {
	if !p.accept("not") {
		return p.parseComparison()
	}
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	x, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	return &unaryNode{op: "not", x: x}, nil
}

func (p *parser) compareOp() (string, bool) {
	t := p.peek()
	switch {
	case t.kind == tkOp:
		switch t.text {
		case "==", "!=", "<", "<=", ">", ">=":
			p.pos++
			return t.text, true
		}
	case t.kind == tkName && t.text == "in":
		p.pos++
		return "in", true
	case t.kind == tkName && t.text == "not":
		if n := p.peekAt(1); n.kind == tkName && n.text == "in" {
			p.pos += 2
			return "not in", true
		}
	case t.kind == tkName && t.text == "is":
		p.pos++
		if p.accept("not") {
			return "is not", true
		}
		return "is", true
	}
	return "", false
}

func (p *parser) parseComparison() (node, error) {
	first, err := p.parseSum()
	if err != nil {
		return nil, err
	}
	var (
		ops  []string
		rest []node
	)
	for {
		op, ok := p.compareOp()
		if !ok {
			break
		}
		r, err := p.parseSum()
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
		rest = append(rest, r)
	}
	if len(ops) == 0 {
		return first, nil
	}
	return &compareNode{first: first, ops: ops, rest: rest}, nil
}

func (p *parser) parseSum() (node, error) {
	l, err := p.parseTerm()
	if err != nil {
		return nil, err
	}
	for p.isOp("+") || p.isOp("-") {
		op := p.next().text
		r, err := p.parseTerm()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseTerm() (node, error) {
	l, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.isOp("*") || p.isOp("/") || p.isOp("//") || p.isOp("%") {
		op := p.next().text
		r, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		l = &binaryNode{op: op, l: l, r: r}
	}
	return l, nil
}

func (p *parser) parseUnary() (node, error) {
	if !p.isOp("-") && !p.isOp("+") {
		return p.parsePostfix()
	}
	op := p.next().text
	if err := p.enter(); err != nil {
		return nil, err
	}
	defer p.leave()
	x, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	return &unaryNode{op: op, x: x}, nil
}

func (p *parser) parsePostfix() (node, error) {
	n, err := p.parseAtom()
	if err != nil {
		return nil, err
	}
	for {
		switch {
		case p.accept("["):
			n, err = p.parseSubscript(n)
		case p.isOp("."):
			dot := p.next()
			name := p.next()
			if name.kind != tkName {
				return nil, p.fail(dot, "expected attribute name after \".\"")
			}
			if strings.HasPrefix(name.text, "_") {
				return nil, p.fail(name, "access to attribute %q is not allowed", name.text)
			}
			n = &attrNode{target: n, name: name.text}
		case p.isOp("("):
			n, err = p.parseCall(n)
		case p.isOp("**"):
			return nil, p.unexpected(p.peek())
		default:
			return n, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

func (p *parser) parseSubscript(target node) (node, error) {
	var lo, hi node
	var err error
	if !p.isOp(":") {
		if lo, err = p.parseExpr(); err != nil {
			return nil, err
		}
		if p.accept("]") {
			return &indexNode{target: target, key: lo}, nil
		}
	}
	if err := p.expect(":"); err != nil {
		return nil, err
	}
	if !p.isOp("]") && !p.isOp(":") {
		if hi, err = p.parseExpr(); err != nil {
			return nil, err
		}
	}
	if p.isOp(":") {
		return nil, p.fail(p.peek(), "slice steps are not supported")
	}
	if err := p.expect("]"); err != nil {
		return nil, err
	}
	return &sliceNode{target: target, lo: lo, hi: hi}, nil
}

// dottedName flattens name and attribute chains like datetime.now.
func dottedName(n node) (string, bool) {
	switch t := n.(type) {
	case *nameNode:
		return t.id, true
	case *attrNode:
		prefix, ok := dottedName(t.target)
		if !ok {
			return "", false
		}
		return prefix + "." + t.name, true
	}
	return "", false
}

func (p *parser) parseCall(callee node) (node, error) {
	open := p.peek()
	if name, ok := dottedName(callee); ok {
		if fn, ok := builtins[name]; ok {
			args, kwargs, err := p.parseArgs()
			if err != nil {
				return nil, err
			}
			return &callNode{name: name, fn: fn, args: args, kwargs: kwargs}, nil
		}
	}
	if a, ok := callee.(*attrNode); ok {
		if !methods[a.name] {
			return nil, p.fail(open, "method %q is not allowed", a.name)
		}
		args, kwargs, err := p.parseArgs()
		if err != nil {
			return nil, err
		}
		return &methodNode{recv: a.target, name: a.name, args: args, kwargs: kwargs}, nil
	}
	if name, ok := dottedName(callee); ok {
		return nil, p.fail(open, "function %q is not allowed", name)
	}
	return nil, p.fail(open, "only named helpers can be called")
}

func (p *parser) parseArgs() ([]node, []kwarg, error) {
	if err := p.expect("("); err != nil {
		return nil, nil, err
	}
	var (
		args   []node
		kwargs []kwarg
	)
	for !p.isOp(")") {
		if t := p.peek(); t.kind == tkName && p.peekAt(1).kind == tkOp && p.peekAt(1).text == "=" {
			p.pos += 2
			for _, kw := range kwargs {
				if kw.name == t.text {
					return nil, nil, p.fail(t, "keyword argument %q repeated", t.text)
				}
			}
			v, err := p.parseExpr()
			if err != nil {
				return nil, nil, err
			}
			kwargs = append(kwargs, kwarg{name: t.text, value: v})
		} else {
			if len(kwargs) > 0 {
				return nil, nil, p.fail(t, "positional argument follows keyword argument")
			}
			start := p.peek()
			v, err := p.parseExpr()
			if err != nil {
				return nil, nil, err
			}
			if p.isKeyword("for") {
				gen, err := p.parseComprehension(v, true)
				if err != nil {
					return nil, nil, err
				}
				if len(args) > 0 || !p.isOp(")") {
					return nil, nil, p.fail(start, "generator expression must be the only argument")
				}
				args = append(args, gen)
				break
			}
			args = append(args, v)
		}
		if !p.accept(",") {
			break
		}
	}
	if err := p.expect(")"); err != nil {
		return nil, nil, err
	}
	return args, kwargs, nil
}

func (p *parser) parseComprehension(elt node, generator bool) (node, error) {
	c := &compNode{elt: elt, generator: generator}
	for p.accept("for") {
		t := p.next()
		if t.kind != tkName || isKeywordName(t.text) {
			return nil, p.fail(t, "expected a loop variable name after \"for\"")
		}
		if p.isOp(",") {
			return nil, p.fail(p.peek(), "tuple unpacking is not supported")
		}
		if err := p.expect("in"); err != nil {
			return nil, err
		}
		iter, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		clause := compClause{target: t.text, iter: iter}
		for p.accept("if") {
			cond, err := p.parseOr()
			if err != nil {
				return nil, err
			}
			clause.conds = append(clause.conds, cond)
		}
		c.clauses = append(c.clauses, clause)
	}
	return c, nil
}

func isKeywordName(s string) bool {
	switch s {
	case "and", "or", "not", "in", "is", "if", "else", "for", "True", "False", "None":
		return true
	}
	_, ok := reserved[s]
	return ok
}

func (p *parser) parseAtom() (node, error) {
	t := p.peek()
	switch t.kind {
	case tkInt:
		p.pos++
		n, err := strconv.Atoi(t.text)
		if err != nil {
			return nil, p.fail(t, "integer literal %s out of range", t.text)
		}
		return &literalNode{value: n}, nil
	case tkFloat:
		p.pos++
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return nil, p.fail(t, "invalid float literal %s", t.text)
		}
		return &literalNode{value: f}, nil
	case tkString:
		var sb strings.Builder
		for p.peek().kind == tkString {
			sb.WriteString(p.next().text)
		}
		return &literalNode{value: sb.String()}, nil
	case tkName:
		switch t.text {
		case "True":
			p.pos++
			return &literalNode{value: true}, nil
		case "False":
			p.pos++
			return &literalNode{value: false}, nil
		case "None":
			p.pos++
			return &literalNode{value: nil}, nil
		}
		if isKeywordName(t.text) {
			return nil, p.unexpected(t)
		}
		if strings.HasPrefix(t.text, "__") {
			return nil, p.fail(t, "access to name %q is not allowed", t.text)
		}
		p.pos++
		return &nameNode{id: t.text}, nil
	case tkOp:
		switch t.text {
		case "(":
			return p.parseParen()
		case "[":
			return p.parseList()
		}
	}
	return nil, p.unexpected(t)
}

func (p *parser) parseParen() (node, error) {
	p.pos++
	if p.accept(")") {
		return &listNode{}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("for") {
		gen, err := p.parseComprehension(first, true)
		if err != nil {
			return nil, err
		}
		return gen, p.expect(")")
	}
	if !p.isOp(",") {
		return first, p.expect(")")
	}
	items := []node{first}
	for p.accept(",") && !p.isOp(")") {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &listNode{items: items}, p.expect(")")
}

func (p *parser) parseList() (node, error) {
	p.pos++
	if p.accept("]") {
		return &listNode{}, nil
	}
	first, err := p.parseExpr()
	if err != nil {
		return nil, err
	}
	if p.isKeyword("for") {
		comp, err := p.parseComprehension(first, false)
		if err != nil {
			return nil, err
		}
		return comp, p.expect("]")
	}
	items := []node{first}
	for p.accept(",") && !p.isOp("]") {
		item, err := p.parseExpr()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return &listNode{items: items}, p.expect("]")
}
