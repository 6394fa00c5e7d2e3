// Package tabular implements the pandas-like tabular-expression query kind.
//
// An expression is parsed with the Starlark expression grammar, checked against
// a closed set of names and operations, and compiled to a single SQL SELECT.
// Expressions are never evaluated by an interpreter.
package tabular

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.starlark.net/syntax"
)

var (
	// ErrEmptyExpression indicates there was nothing to parse.
	ErrEmptyExpression = errors.New("tabular expression is empty")
	// ErrNotExpression indicates the text is not exactly one expression.
	ErrNotExpression = errors.New("not a single tabular expression")
	// ErrUnsupported indicates a construct outside the supported operation set.
	ErrUnsupported = errors.New("unsupported tabular construct")
)

// Builtins are the names, other than table names, an expression may reference.
var Builtins = map[string]bool{
	"col":   true,
	"len":   true,
	"True":  true,
	"False": true,
	"None":  true,
}

// Functions are the builtins that may be called directly.
var Functions = map[string]bool{
	"col": true,
	"len": true,
}

// Operations are the method names an expression may call.
var Operations = map[string]bool{
	// frame
	"filter": true, "select": true, "merge": true, "groupby": true,
	"head": true, "sort_values": true, "reset_index": true, "round": true,
	// aggregation
	"count": true, "sum": true, "mean": true, "min": true, "max": true,
	"size": true, "nunique": true, "value_counts": true, "agg": true, "unique": true,
	// column predicates
	"isin": true, "between": true,
}

// Keywords are the keyword argument names operations accept.
var Keywords = map[string]bool{
	"on": true, "how": true, "ascending": true, "by": true, "n": true,
	"decimals": true, "name": true,
}

// RefKind classifies a name found in an expression.
type RefKind int

const (
	RefTable     RefKind = iota // bare identifier used as a value
	RefFunction                 // identifier called directly, e.g. len(...)
	RefAttribute                // method name after a dot
	RefKeyword                  // keyword argument name
)

func (k RefKind) String() string {
	switch k {
	case RefTable:
		return "name"
	case RefFunction:
		return "function"
	case RefAttribute:
		return "attribute"
	case RefKeyword:
		return "keyword"
	default:
		return "unknown"
	}
}

// Reference is one name occurrence.
type Reference struct {
	Name string
	Kind RefKind
	Pos  string // line:col
}

// Program is a parsed tabular expression.
type Program struct {
	Source string
	expr   syntax.Expr
}

// Parse parses src as exactly one expression.
func Parse(src string) (*Program, error) {
	src = strings.TrimSpace(src)
	if src == "" {
		return nil, ErrEmptyExpression
	}
	expr, err := syntax.ParseExpr("query", src, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotExpression, err)
	}
	return &Program{Source: src, expr: expr}, nil
}

func position(n syntax.Node) string {
	start, _ := n.Span()
	return fmt.Sprintf("%d:%d", start.Line, start.Col)
}

// References returns every name occurrence in source order.
func (p *Program) References() []Reference {
	kinds := make(map[*syntax.Ident]RefKind)
	var refs []Reference

	syntax.Walk(p.expr, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.CallExpr:
			if id, ok := n.Fn.(*syntax.Ident); ok {
				kinds[id] = RefFunction
			}
			for _, arg := range n.Args {
				if kw, ok := arg.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
					if id, ok := kw.X.(*syntax.Ident); ok {
						kinds[id] = RefKeyword
					}
				}
			}
		case *syntax.DotExpr:
			kinds[n.Name] = RefAttribute
		case *syntax.Ident:
			kind, ok := kinds[n]
			if !ok {
				kind = RefTable
			}
			refs = append(refs, Reference{Name: n.Name, Kind: kind, Pos: position(n)})
		}
		return true
	})
	return refs
}

// Tables returns the distinct non-builtin names used as values, sorted.
// These must all be table names for the expression to be valid.
func (p *Program) Tables() []string {
	seen := make(map[string]bool)
	var tables []string
	for _, ref := range p.References() {
		if ref.Kind != RefTable || Builtins[ref.Name] || seen[ref.Name] {
			continue
		}
		seen[ref.Name] = true
		tables = append(tables, ref.Name)
	}
	sort.Strings(tables)
	return tables
}

// StringLiterals returns the values of every string literal.
func (p *Program) StringLiterals() []string {
	var literals []string
	syntax.Walk(p.expr, func(n syntax.Node) bool {
		if lit, ok := n.(*syntax.Literal); ok && lit.Token == syntax.STRING {
			if s, ok := lit.Value.(string); ok {
				literals = append(literals, s)
			}
		}
		return true
	})
	return literals
}

var allowedBinary = map[syntax.Token]bool{
	syntax.EQL: true, syntax.NEQ: true, syntax.LT: true, syntax.LE: true,
	syntax.GT: true, syntax.GE: true, syntax.AND: true, syntax.OR: true,
	syntax.AMP: true, syntax.PIPE: true, syntax.EQ: true,
}

// Unsupported describes every construct the compiler will never accept,
// such as lambdas, comprehensions and arithmetic.
func (p *Program) Unsupported() []string {
	var problems []string
	add := func(n syntax.Node, what string) {
		problems = append(problems, fmt.Sprintf("%s at %s", what, position(n)))
	}

	syntax.Walk(p.expr, func(n syntax.Node) bool {
		switch n := n.(type) {
		case *syntax.LambdaExpr:
			add(n, "lambda")
			return false
		case *syntax.Comprehension:
			add(n, "comprehension")
			return false
		case *syntax.DictExpr:
			add(n, "dict literal")
			return false
		case *syntax.CondExpr:
			add(n, "conditional expression")
		case *syntax.SliceExpr:
			add(n, "slice")
		case *syntax.BinaryExpr:
			if !allowedBinary[n.Op] {
				add(n, fmt.Sprintf("operator %s", n.Op))
			}
		case *syntax.UnaryExpr:
			switch n.Op {
			case syntax.NOT, syntax.TILDE:
			case syntax.MINUS:
				if _, ok := n.X.(*syntax.Literal); !ok {
					add(n, "negation of a non-literal")
				}
			default:
				add(n, fmt.Sprintf("operator %s", n.Op))
			}
		case *syntax.DotExpr:
			// Attribute access is only meaningful as a method call; the
			// compiler rejects bare attributes, the validator checks names.
		case *syntax.Literal:
			if n.Token == syntax.BYTES {
				add(n, "bytes literal")
			}
		}
		return true
	})
	return problems
}
