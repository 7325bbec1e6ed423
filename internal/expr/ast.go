package expr

// node is one element of a compiled expression. The set of node types is
// closed: the parser only ever produces the kinds below.
type node interface {
	eval(r *runner, env Env) (any, error)
}

type (
	literalNode struct {
		value any
	}

	nameNode struct {
		id string
	}

	listNode struct {
		items []node
	}

	indexNode struct {
		target node
		key    node
	}

	sliceNode struct {
		target node
		lo, hi node // nil when omitted
	}

	attrNode struct {
		target node
		name   string
	}

	unaryNode struct {
		op string // "-", "+", "not"
		x  node
	}

	binaryNode struct {
		op   string // "+", "-", "*", "/", "//", "%"
		l, r node
	}

	boolNode struct {
		op   string // "and", "or"
		l, r node
	}

	compareNode struct {
		first node
		ops   []string
		rest  []node
	}

	ternaryNode struct {
		cond, then, els node
	}

	compNode struct {
		elt       node
		clauses   []compClause
		generator bool
	}

	compClause struct {
		target string
		iter   node
		conds  []node
	}

	callNode struct {
		name   string
		fn     builtin
		args   []node
		kwargs []kwarg
	}

	methodNode struct {
		recv   node
		name   string
		args   []node
		kwargs []kwarg
	}

	kwarg struct {
		name  string
		value node
	}
)
