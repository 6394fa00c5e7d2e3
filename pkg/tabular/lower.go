package tabular

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"go.starlark.net/syntax"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

// Options configures compilation.
type Options struct {
	Tables []models.TableSchema
	// Quote quotes an identifier for the target store.
	Quote func(string) string
}

// Lowered is the SQL form of a tabular expression.
type Lowered struct {
	SQL string
	// Limit is the row count requested with head(n); 0 means no explicit limit.
	Limit int
	// RoundDigits is the decimal count requested with round(n); -1 means none.
	RoundDigits int
}

// Lower compiles the program to one SELECT statement.
func Lower(p *Program, opts Options) (*Lowered, error) {
	if opts.Quote == nil {
		opts.Quote = func(s string) string { return `"` + strings.ReplaceAll(s, `"`, `""`) + `"` }
	}
	c := &compiler{opts: opts}

	v, err := c.eval(p.expr)
	if err != nil {
		return nil, err
	}

	var rel *relation
	switch v := v.(type) {
	case *relation:
		rel = v
	case *series:
		if v.rel == nil {
			return nil, fmt.Errorf("%w: col(...) must be used inside a filter", ErrUnsupported)
		}
		rel = v.rel.clone()
		if !rel.aggregated {
			rel.project = []selectItem{{expr: v.expr}}
		}
	default:
		return nil, fmt.Errorf("%w: expression must produce a table or column, got %s", ErrUnsupported, describe(v))
	}

	query, err := rel.render(opts)
	if err != nil {
		return nil, err
	}
	return &Lowered{SQL: query, Limit: rel.limit, RoundDigits: rel.round}, nil
}

// Expression nodes rendered against the relation they end up in.

type sqlExpr interface {
	render(r *relation, o Options) (string, error)
}

type columnExpr struct {
	table  string // "" resolves against the relation's tables
	column string
}

func (e columnExpr) render(r *relation, o Options) (string, error) {
	if e.table != "" {
		if !r.hasTable(e.table) {
			return "", fmt.Errorf("%w: column %q belongs to %s, which is not part of this frame", ErrUnsupported, e.column, e.table)
		}
		t, _ := models.FindTable(o.Tables, e.table)
		col, ok := t.Column(e.column)
		if !ok {
			return "", fmt.Errorf("%w: unknown column %q in %s", ErrUnsupported, e.column, t.Name)
		}
		return o.Quote(t.Name) + "." + o.Quote(col.Name), nil
	}
	for _, name := range r.tables {
		t, _ := models.FindTable(o.Tables, name)
		if col, ok := t.Column(e.column); ok {
			return o.Quote(t.Name) + "." + o.Quote(col.Name), nil
		}
	}
	return "", fmt.Errorf("%w: unknown column %q", ErrUnsupported, e.column)
}

type literalExpr struct {
	sql  string
	null bool
}

func (e literalExpr) render(*relation, Options) (string, error) { return e.sql, nil }

type compareExpr struct {
	op          string
	left, right sqlExpr
}

func (e compareExpr) render(r *relation, o Options) (string, error) {
	left, err := e.left.render(r, o)
	if err != nil {
		return "", err
	}
	if lit, ok := e.right.(literalExpr); ok && lit.null {
		switch e.op {
		case "=":
			return left + " IS NULL", nil
		case "<>":
			return left + " IS NOT NULL", nil
		}
		return "", fmt.Errorf("%w: None can only be compared with == or !=", ErrUnsupported)
	}
	right, err := e.right.render(r, o)
	if err != nil {
		return "", err
	}
	return left + " " + e.op + " " + right, nil
}

type logicalExpr struct {
	op   string // AND, OR
	args []sqlExpr
}

func (e logicalExpr) render(r *relation, o Options) (string, error) {
	parts := make([]string, len(e.args))
	for i, a := range e.args {
		s, err := a.render(r, o)
		if err != nil {
			return "", err
		}
		parts[i] = s
	}
	return "(" + strings.Join(parts, " "+e.op+" ") + ")", nil
}

type notExpr struct{ x sqlExpr }

func (e notExpr) render(r *relation, o Options) (string, error) {
	s, err := e.x.render(r, o)
	if err != nil {
		return "", err
	}
	return "NOT (" + s + ")", nil
}

type inExpr struct {
	x      sqlExpr
	values []literalExpr
}

func (e inExpr) render(r *relation, o Options) (string, error) {
	s, err := e.x.render(r, o)
	if err != nil {
		return "", err
	}
	vals := make([]string, len(e.values))
	for i, v := range e.values {
		vals[i] = v.sql
	}
	return s + " IN (" + strings.Join(vals, ", ") + ")", nil
}

type betweenExpr struct {
	x, lo, hi sqlExpr
}

func (e betweenExpr) render(r *relation, o Options) (string, error) {
	s, err := e.x.render(r, o)
	if err != nil {
		return "", err
	}
	lo, _ := e.lo.render(r, o)
	hi, _ := e.hi.render(r, o)
	return s + " BETWEEN " + lo + " AND " + hi, nil
}

type aggExpr struct {
	fn string // SQL aggregate
	x  sqlExpr
}

func (e aggExpr) render(r *relation, o Options) (string, error) {
	switch e.fn {
	case "COUNT(*)":
		return "COUNT(*)", nil
	case "COUNT_DISTINCT":
		s, err := e.x.render(r, o)
		if err != nil {
			return "", err
		}
		return "COUNT(DISTINCT " + s + ")", nil
	case "AVG":
		// Scale to a non-integer type so integer columns average exactly on every engine.
		s, err := e.x.render(r, o)
		if err != nil {
			return "", err
		}
		return "AVG(" + s + " * 1.0)", nil
	default:
		s, err := e.x.render(r, o)
		if err != nil {
			return "", err
		}
		return e.fn + "(" + s + ")", nil
	}
}

// Compiler values.

type selectItem struct {
	expr  sqlExpr
	alias string
}

type join struct {
	table string
	left  bool
	keys  []string
}

type relation struct {
	tables     []string
	joins      []join
	where      []sqlExpr
	project    []selectItem
	groupBy    []selectItem
	aggs       []selectItem
	orderBy    []orderItem
	distinct   bool
	limit      int
	round      int
	grouped    bool
	aggregated bool
}

type orderItem struct {
	expr sqlExpr
	desc bool
}

func newRelation(table string) *relation {
	return &relation{tables: []string{table}, round: -1}
}

func (r *relation) clone() *relation {
	c := *r
	c.tables = append([]string(nil), r.tables...)
	c.joins = append([]join(nil), r.joins...)
	c.where = append([]sqlExpr(nil), r.where...)
	c.project = append([]selectItem(nil), r.project...)
	c.groupBy = append([]selectItem(nil), r.groupBy...)
	c.aggs = append([]selectItem(nil), r.aggs...)
	c.orderBy = append([]orderItem(nil), r.orderBy...)
	return &c
}

func (r *relation) hasTable(name string) bool {
	for _, t := range r.tables {
		if strings.EqualFold(t, name) {
			return true
		}
	}
	return false
}

// owner returns the single table of an unjoined relation, or "".
func (r *relation) owner() string {
	if len(r.tables) == 1 {
		return r.tables[0]
	}
	return ""
}

func (r *relation) render(o Options) (string, error) {
	var b strings.Builder
	b.WriteString("SELECT ")
	if r.distinct {
		b.WriteString("DISTINCT ")
	}

	var items []string
	renderItem := func(it selectItem) error {
		s, err := it.expr.render(r, o)
		if err != nil {
			return err
		}
		if it.alias != "" {
			s += " AS " + o.Quote(it.alias)
		}
		items = append(items, s)
		return nil
	}
	switch {
	case r.aggregated:
		for _, it := range append(append([]selectItem(nil), r.groupBy...), r.aggs...) {
			if err := renderItem(it); err != nil {
				return "", err
			}
		}
	case len(r.project) > 0:
		for _, it := range r.project {
			if err := renderItem(it); err != nil {
				return "", err
			}
		}
	default:
		items = append(items, "*")
	}
	b.WriteString(strings.Join(items, ", "))

	base, _ := models.FindTable(o.Tables, r.tables[0])
	b.WriteString(" FROM " + o.Quote(base.Name))
	for _, j := range r.joins {
		t, _ := models.FindTable(o.Tables, j.table)
		if j.left {
			b.WriteString(" LEFT JOIN ")
		} else {
			b.WriteString(" JOIN ")
		}
		b.WriteString(o.Quote(t.Name) + " ON ")
		conds := make([]string, len(j.keys))
		for i, k := range j.keys {
			left, err := columnExpr{table: r.tables[0], column: k}.render(r, o)
			if err != nil {
				return "", err
			}
			right, err := columnExpr{table: t.Name, column: k}.render(r, o)
			if err != nil {
				return "", err
			}
			conds[i] = left + " = " + right
		}
		b.WriteString(strings.Join(conds, " AND "))
	}

	if len(r.where) > 0 {
		conds := make([]string, len(r.where))
		for i, w := range r.where {
			s, err := w.render(r, o)
			if err != nil {
				return "", err
			}
			conds[i] = s
		}
		b.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	if r.aggregated && len(r.groupBy) > 0 {
		keys := make([]string, len(r.groupBy))
		for i, g := range r.groupBy {
			s, err := g.expr.render(r, o)
			if err != nil {
				return "", err
			}
			keys[i] = s
		}
		b.WriteString(" GROUP BY " + strings.Join(keys, ", "))
	}

	if len(r.orderBy) > 0 {
		keys := make([]string, len(r.orderBy))
		for i, ob := range r.orderBy {
			s, err := ob.expr.render(r, o)
			if err != nil {
				return "", err
			}
			if ob.desc {
				s += " DESC"
			}
			keys[i] = s
		}
		b.WriteString(" ORDER BY " + strings.Join(keys, ", "))
	}
	return b.String(), nil
}

// series is a single column, optionally bound to the relation it came from.
type series struct {
	rel  *relation // nil for col("x")
	expr columnExpr
}

type condition struct{ expr sqlExpr }

type literal struct{ value literalExpr }

type stringList []string

type compiler struct {
	opts Options
}

func describe(v any) string {
	switch v.(type) {
	case *relation:
		return "a table"
	case *series:
		return "a column"
	case condition:
		return "a condition"
	case literal:
		return "a literal"
	case stringList:
		return "a list of names"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func unsupported(n syntax.Node, format string, args ...any) error {
	return fmt.Errorf("%w at %s: %s", ErrUnsupported, position(n), fmt.Sprintf(format, args...))
}

func (c *compiler) eval(e syntax.Expr) (any, error) {
	switch e := e.(type) {
	case *syntax.ParenExpr:
		return c.eval(e.X)

	case *syntax.Ident:
		switch e.Name {
		case "True":
			return literal{literalExpr{sql: "1"}}, nil
		case "False":
			return literal{literalExpr{sql: "0"}}, nil
		case "None":
			return literal{literalExpr{sql: "NULL", null: true}}, nil
		}
		t, ok := models.FindTable(c.opts.Tables, e.Name)
		if !ok {
			return nil, unsupported(e, "unknown name %q", e.Name)
		}
		return newRelation(t.Name), nil

	case *syntax.Literal:
		return literalValue(e)

	case *syntax.UnaryExpr:
		switch e.Op {
		case syntax.MINUS:
			v, err := c.eval(e.X)
			if err != nil {
				return nil, err
			}
			lit, ok := v.(literal)
			if !ok || lit.value.null || strings.HasPrefix(lit.value.sql, "'") {
				return nil, unsupported(e, "only numbers can be negated")
			}
			return literal{literalExpr{sql: "-" + lit.value.sql}}, nil
		case syntax.NOT, syntax.TILDE:
			cond, err := c.evalCondition(e.X)
			if err != nil {
				return nil, err
			}
			return condition{notExpr{cond}}, nil
		}
		return nil, unsupported(e, "operator %s", e.Op)

	case *syntax.BinaryExpr:
		return c.evalBinary(e)

	case *syntax.ListExpr:
		return c.evalStringList(e.List, e)

	case *syntax.TupleExpr:
		return c.evalStringList(e.List, e)

	case *syntax.IndexExpr:
		return c.evalIndex(e)

	case *syntax.CallExpr:
		return c.evalCall(e)

	case *syntax.DotExpr:
		return nil, unsupported(e, "attribute %q must be called", e.Name.Name)
	}
	return nil, unsupported(e, "unsupported expression")
}

func literalValue(e *syntax.Literal) (literal, error) {
	switch v := e.Value.(type) {
	case string:
		if e.Token != syntax.STRING {
			return literal{}, unsupported(e, "bytes literal")
		}
		return literal{literalExpr{sql: quoteString(v)}}, nil
	case int64:
		return literal{literalExpr{sql: strconv.FormatInt(v, 10)}}, nil
	case *big.Int:
		return literal{literalExpr{sql: v.String()}}, nil
	case float64:
		return literal{literalExpr{sql: strconv.FormatFloat(v, 'f', -1, 64)}}, nil
	}
	return literal{}, unsupported(e, "unsupported literal %s", e.Raw)
}

func quoteString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (c *compiler) evalStringList(list []syntax.Expr, n syntax.Node) (stringList, error) {
	out := make(stringList, 0, len(list))
	for _, item := range list {
		s, ok := stringLiteral(item)
		if !ok {
			return nil, unsupported(n, "lists may only contain column names")
		}
		out = append(out, s)
	}
	return out, nil
}

func stringLiteral(e syntax.Expr) (string, bool) {
	lit, ok := e.(*syntax.Literal)
	if !ok || lit.Token != syntax.STRING {
		return "", false
	}
	s, ok := lit.Value.(string)
	return s, ok
}

var comparisonOps = map[syntax.Token]string{
	syntax.EQL: "=", syntax.NEQ: "<>", syntax.LT: "<", syntax.LE: "<=", syntax.GT: ">", syntax.GE: ">=",
}

// flipped mirrors a comparison so the column is always on the left.
var flipped = map[string]string{"=": "=", "<>": "<>", "<": ">", "<=": ">=", ">": "<", ">=": "<="}

func (c *compiler) evalBinary(e *syntax.BinaryExpr) (any, error) {
	switch e.Op {
	case syntax.AMP, syntax.AND, syntax.PIPE, syntax.OR:
		left, err := c.evalCondition(e.X)
		if err != nil {
			return nil, err
		}
		right, err := c.evalCondition(e.Y)
		if err != nil {
			return nil, err
		}
		op := "AND"
		if e.Op == syntax.PIPE || e.Op == syntax.OR {
			op = "OR"
		}
		return condition{logicalExpr{op: op, args: []sqlExpr{left, right}}}, nil
	}

	op, ok := comparisonOps[e.Op]
	if !ok {
		return nil, unsupported(e, "operator %s", e.Op)
	}
	left, err := c.eval(e.X)
	if err != nil {
		return nil, err
	}
	right, err := c.eval(e.Y)
	if err != nil {
		return nil, err
	}

	switch l := left.(type) {
	case *series:
		switch r := right.(type) {
		case literal:
			return condition{compareExpr{op: op, left: l.expr, right: r.value}}, nil
		case *series:
			return condition{compareExpr{op: op, left: l.expr, right: r.expr}}, nil
		}
	case literal:
		if r, ok := right.(*series); ok {
			return condition{compareExpr{op: flipped[op], left: r.expr, right: l.value}}, nil
		}
	}
	return nil, unsupported(e, "cannot compare %s with %s", describe(left), describe(right))
}

func (c *compiler) evalCondition(e syntax.Expr) (sqlExpr, error) {
	v, err := c.eval(e)
	if err != nil {
		return nil, err
	}
	cond, ok := v.(condition)
	if !ok {
		return nil, unsupported(e, "expected a condition, got %s", describe(v))
	}
	return cond.expr, nil
}

func (c *compiler) evalIndex(e *syntax.IndexExpr) (any, error) {
	x, err := c.eval(e.X)
	if err != nil {
		return nil, err
	}

	switch x := x.(type) {
	case *relation:
		if name, ok := stringLiteral(e.Y); ok {
			return x.column(name), nil
		}
		y, err := c.eval(e.Y)
		if err != nil {
			return nil, err
		}
		switch y := y.(type) {
		case stringList:
			return x.selectColumns(e, y)
		case condition:
			return x.filter(e, y.expr)
		}
		return nil, unsupported(e, "cannot index a table with %s", describe(y))

	case *series:
		if x.rel == nil {
			return nil, unsupported(e, "col(...) cannot be indexed")
		}
		cond, err := c.evalCondition(e.Y)
		if err != nil {
			return nil, err
		}
		rel, err := x.rel.filter(e, cond)
		if err != nil {
			return nil, err
		}
		return &series{rel: rel, expr: x.expr}, nil
	}
	return nil, unsupported(e, "cannot index %s", describe(x))
}

func (r *relation) column(name string) *series {
	return &series{rel: r, expr: columnExpr{table: r.owner(), column: name}}
}

func (r *relation) selectColumns(n syntax.Node, cols []string) (*relation, error) {
	if r.aggregated || r.grouped {
		return nil, unsupported(n, "column selection after groupby or aggregation")
	}
	out := r.clone()
	out.project = nil
	for _, col := range cols {
		out.project = append(out.project, selectItem{expr: columnExpr{table: r.owner(), column: col}})
	}
	return out, nil
}

func (r *relation) filter(n syntax.Node, cond sqlExpr) (*relation, error) {
	if r.aggregated || r.grouped {
		return nil, unsupported(n, "filter after groupby or aggregation")
	}
	out := r.clone()
	out.where = append(out.where, cond)
	return out, nil
}

type callArgs struct {
	positional []syntax.Expr
	keywords   map[string]syntax.Expr
}

func splitArgs(call *syntax.CallExpr) (callArgs, error) {
	args := callArgs{keywords: make(map[string]syntax.Expr)}
	for _, a := range call.Args {
		if kw, ok := a.(*syntax.BinaryExpr); ok && kw.Op == syntax.EQ {
			id, ok := kw.X.(*syntax.Ident)
			if !ok {
				return args, unsupported(a, "malformed keyword argument")
			}
			args.keywords[id.Name] = kw.Y
			continue
		}
		if u, ok := a.(*syntax.UnaryExpr); ok && (u.Op == syntax.STAR || u.Op == syntax.STARSTAR) {
			return args, unsupported(a, "argument unpacking")
		}
		args.positional = append(args.positional, a)
	}
	return args, nil
}

func (c *compiler) evalCall(e *syntax.CallExpr) (any, error) {
	args, err := splitArgs(e)
	if err != nil {
		return nil, err
	}

	if fn, ok := e.Fn.(*syntax.Ident); ok {
		switch fn.Name {
		case "col":
			if len(args.positional) != 1 || len(args.keywords) != 0 {
				return nil, unsupported(e, "col takes one column name")
			}
			name, ok := stringLiteral(args.positional[0])
			if !ok {
				return nil, unsupported(e, "col takes a string literal")
			}
			return &series{expr: columnExpr{column: name}}, nil
		case "len":
			if len(args.positional) != 1 || len(args.keywords) != 0 {
				return nil, unsupported(e, "len takes one table")
			}
			v, err := c.eval(args.positional[0])
			if err != nil {
				return nil, err
			}
			rel, ok := v.(*relation)
			if !ok {
				if s, isSeries := v.(*series); isSeries && s.rel != nil {
					rel = s.rel
				} else {
					return nil, unsupported(e, "len takes a table, got %s", describe(v))
				}
			}
			return rel.aggregate(e, selectItem{expr: aggExpr{fn: "COUNT(*)"}, alias: "count"})
		}
		return nil, unsupported(e, "unknown function %q", fn.Name)
	}

	dot, ok := e.Fn.(*syntax.DotExpr)
	if !ok {
		return nil, unsupported(e, "only methods and col/len may be called")
	}
	method := dot.Name.Name
	if !Operations[method] {
		return nil, unsupported(e, "unknown operation %q", method)
	}
	for kw := range args.keywords {
		if method != "agg" && !Keywords[kw] {
			return nil, unsupported(e, "unknown keyword argument %q", kw)
		}
	}

	recv, err := c.eval(dot.X)
	if err != nil {
		return nil, err
	}

	switch r := recv.(type) {
	case *relation:
		return c.relationMethod(e, r, method, args)
	case *series:
		return c.seriesMethod(e, r, method, args)
	}
	return nil, unsupported(e, "%s has no operation %q", describe(recv), method)
}

var aggregateFuncs = map[string]string{
	"count":   "COUNT",
	"sum":     "SUM",
	"mean":    "AVG",
	"min":     "MIN",
	"max":     "MAX",
	"nunique": "COUNT_DISTINCT",
}

func (c *compiler) intArg(e *syntax.CallExpr, args callArgs, keyword string, def int) (int, error) {
	var arg syntax.Expr
	if len(args.positional) > 0 {
		arg = args.positional[0]
	} else if kw, ok := args.keywords[keyword]; ok {
		arg = kw
	} else {
		return def, nil
	}
	lit, ok := arg.(*syntax.Literal)
	if !ok || lit.Token != syntax.INT {
		return 0, unsupported(e, "expected an integer literal")
	}
	n, ok := lit.Value.(int64)
	if !ok || n < 0 || n > 1<<20 {
		return 0, unsupported(e, "integer out of range")
	}
	return int(n), nil
}

func (c *compiler) names(e *syntax.CallExpr, exprs []syntax.Expr) ([]string, error) {
	var out []string
	for _, x := range exprs {
		if s, ok := stringLiteral(x); ok {
			out = append(out, s)
			continue
		}
		v, err := c.eval(x)
		if err != nil {
			return nil, err
		}
		list, ok := v.(stringList)
		if !ok {
			return nil, unsupported(e, "expected column names")
		}
		out = append(out, list...)
	}
	return out, nil
}

func (c *compiler) relationMethod(e *syntax.CallExpr, r *relation, method string, args callArgs) (any, error) {
	switch method {
	case "filter":
		if len(args.positional) != 1 {
			return nil, unsupported(e, "filter takes one condition")
		}
		cond, err := c.evalCondition(args.positional[0])
		if err != nil {
			return nil, err
		}
		return r.filter(e, cond)

	case "select":
		cols, err := c.names(e, args.positional)
		if err != nil {
			return nil, err
		}
		if len(cols) == 0 {
			return nil, unsupported(e, "select needs at least one column")
		}
		return r.selectColumns(e, cols)

	case "merge":
		return c.merge(e, r, args)

	case "groupby":
		if r.aggregated || r.grouped {
			return nil, unsupported(e, "groupby after groupby or aggregation")
		}
		exprs := args.positional
		if by, ok := args.keywords["by"]; ok {
			exprs = append(exprs, by)
		}
		keys, err := c.names(e, exprs)
		if err != nil {
			return nil, err
		}
		if len(keys) == 0 {
			return nil, unsupported(e, "groupby needs at least one column")
		}
		out := r.clone()
		out.grouped = true
		out.project = nil
		for _, k := range keys {
			out.groupBy = append(out.groupBy, selectItem{expr: columnExpr{table: r.owner(), column: k}, alias: k})
		}
		return out, nil

	case "head":
		n, err := c.intArg(e, args, "n", 5)
		if err != nil {
			return nil, err
		}
		out := r.clone()
		out.limit = n
		return out, nil

	case "sort_values":
		return c.sortValues(e, r, args, nil)

	case "reset_index":
		return r, nil

	case "round":
		n, err := c.intArg(e, args, "decimals", 0)
		if err != nil {
			return nil, err
		}
		out := r.clone()
		out.round = n
		return out, nil

	case "count", "size":
		if len(args.positional) > 0 {
			return nil, unsupported(e, "%s takes no arguments", method)
		}
		return r.aggregate(e, selectItem{expr: aggExpr{fn: "COUNT(*)"}, alias: method})

	case "agg":
		return c.agg(e, r, args)
	}
	return nil, unsupported(e, "a table has no operation %q; select a column first", method)
}

func (r *relation) aggregate(n syntax.Node, items ...selectItem) (*relation, error) {
	if r.aggregated {
		return nil, unsupported(n, "aggregation of an aggregate")
	}
	out := r.clone()
	out.aggregated = true
	out.project = nil
	out.aggs = append(out.aggs, items...)
	return out, nil
}

func (c *compiler) agg(e *syntax.CallExpr, r *relation, args callArgs) (any, error) {
	if len(args.positional) > 0 || len(args.keywords) == 0 {
		return nil, unsupported(e, `agg takes keyword arguments such as name="mean:Age"`)
	}
	// Keyword order is not preserved by the map; walk the call for a stable column order.
	var items []selectItem
	for _, a := range e.Args {
		kw := a.(*syntax.BinaryExpr)
		alias := kw.X.(*syntax.Ident).Name
		spec, ok := stringLiteral(kw.Y)
		if !ok {
			return nil, unsupported(e, "agg values must be \"function:column\" strings")
		}
		fn, column, found := strings.Cut(spec, ":")
		fn = strings.ToLower(strings.TrimSpace(fn))
		column = strings.TrimSpace(column)
		if fn == "size" || (fn == "count" && !found) {
			items = append(items, selectItem{expr: aggExpr{fn: "COUNT(*)"}, alias: alias})
			continue
		}
		sqlFn, ok := aggregateFuncs[fn]
		if !ok || column == "" {
			return nil, unsupported(e, "unknown aggregation %q", spec)
		}
		items = append(items, selectItem{expr: aggExpr{fn: sqlFn, x: columnExpr{table: r.owner(), column: column}}, alias: alias})
	}
	return r.aggregate(e, items...)
}

func (c *compiler) merge(e *syntax.CallExpr, r *relation, args callArgs) (any, error) {
	if r.aggregated || r.grouped {
		return nil, unsupported(e, "merge after groupby or aggregation")
	}
	if len(args.positional) != 1 {
		return nil, unsupported(e, "merge takes one table")
	}
	v, err := c.eval(args.positional[0])
	if err != nil {
		return nil, err
	}
	other, ok := v.(*relation)
	if !ok || len(other.tables) != 1 || other.aggregated || other.grouped || len(other.project) > 0 {
		return nil, unsupported(e, "merge takes a table or a filtered table")
	}
	table := other.tables[0]
	if r.hasTable(table) {
		return nil, unsupported(e, "table %s is already part of this frame", table)
	}

	left := false
	if how, ok := args.keywords["how"]; ok {
		s, _ := stringLiteral(how)
		switch s {
		case "inner":
		case "left":
			left = true
		default:
			return nil, unsupported(e, "merge how must be \"inner\" or \"left\"")
		}
	}
	if left && len(other.where) > 0 {
		return nil, unsupported(e, "a left merge cannot filter the right table")
	}

	var keys []string
	if on, ok := args.keywords["on"]; ok {
		keys, err = c.names(e, []syntax.Expr{on})
		if err != nil {
			return nil, err
		}
	} else {
		k := c.sharedColumn(r.tables[0], table)
		if k == "" {
			return nil, unsupported(e, "tables %s and %s share no column; pass on=", r.tables[0], table)
		}
		keys = []string{k}
	}

	out := r.clone()
	out.tables = append(out.tables, table)
	out.joins = append(out.joins, join{table: table, left: left, keys: keys})
	out.where = append(out.where, other.where...)
	return out, nil
}

func (c *compiler) sharedColumn(a, b string) string {
	ta, _ := models.FindTable(c.opts.Tables, a)
	tb, _ := models.FindTable(c.opts.Tables, b)
	for _, col := range ta.Columns {
		if tb.HasColumn(col.Name) {
			return col.Name
		}
	}
	return ""
}

func (c *compiler) sortValues(e *syntax.CallExpr, r *relation, args callArgs, fallback sqlExpr) (any, error) {
	exprs := args.positional
	if by, ok := args.keywords["by"]; ok {
		exprs = append(exprs, by)
	}
	cols, err := c.names(e, exprs)
	if err != nil {
		return nil, err
	}

	desc := false
	if asc, ok := args.keywords["ascending"]; ok {
		id, isIdent := asc.(*syntax.Ident)
		if !isIdent || (id.Name != "True" && id.Name != "False") {
			return nil, unsupported(e, "ascending must be True or False")
		}
		desc = id.Name == "False"
	}

	out := r.clone()
	out.orderBy = nil
	switch {
	case len(cols) > 0:
		for _, col := range cols {
			out.orderBy = append(out.orderBy, orderItem{expr: r.orderTarget(col), desc: desc})
		}
	case fallback != nil:
		out.orderBy = []orderItem{{expr: fallback, desc: desc}}
	case r.aggregated && len(r.aggs) > 0:
		out.orderBy = []orderItem{{expr: aliasRef(r.aggs[len(r.aggs)-1].alias), desc: desc}}
	default:
		return nil, unsupported(e, "sort_values needs a column")
	}
	return out, nil
}

// aliasRef refers to an output column by name.
type aliasRef string

func (a aliasRef) render(_ *relation, o Options) (string, error) { return o.Quote(string(a)), nil }

func (r *relation) orderTarget(name string) sqlExpr {
	if r.aggregated {
		return aliasRef(name)
	}
	return columnExpr{table: r.owner(), column: name}
}

func (c *compiler) seriesMethod(e *syntax.CallExpr, s *series, method string, args callArgs) (any, error) {
	switch method {
	case "isin":
		if len(args.positional) != 1 {
			return nil, unsupported(e, "isin takes one list")
		}
		list, ok := args.positional[0].(*syntax.ListExpr)
		if !ok {
			return nil, unsupported(e, "isin takes a list literal")
		}
		in := inExpr{x: s.expr}
		for _, item := range list.List {
			v, err := c.eval(item)
			if err != nil {
				return nil, err
			}
			lit, ok := v.(literal)
			if !ok || lit.value.null {
				return nil, unsupported(e, "isin values must be literals")
			}
			in.values = append(in.values, lit.value)
		}
		if len(in.values) == 0 {
			return nil, unsupported(e, "isin needs at least one value")
		}
		return condition{in}, nil

	case "between":
		if len(args.positional) != 2 {
			return nil, unsupported(e, "between takes two bounds")
		}
		lo, err := c.eval(args.positional[0])
		if err != nil {
			return nil, err
		}
		hi, err := c.eval(args.positional[1])
		if err != nil {
			return nil, err
		}
		l, lok := lo.(literal)
		h, hok := hi.(literal)
		if !lok || !hok {
			return nil, unsupported(e, "between bounds must be literals")
		}
		return condition{betweenExpr{x: s.expr, lo: l.value, hi: h.value}}, nil
	}

	if s.rel == nil {
		return nil, unsupported(e, "col(...) only supports comparisons, isin and between")
	}
	name := strings.ToLower(s.expr.column)

	switch method {
	case "count", "sum", "mean", "min", "max", "nunique":
		return s.rel.aggregate(e, selectItem{
			expr:  aggExpr{fn: aggregateFuncs[method], x: s.expr},
			alias: method + "_" + name,
		})

	case "size":
		return s.rel.aggregate(e, selectItem{expr: aggExpr{fn: "COUNT(*)"}, alias: "size"})

	case "value_counts":
		if s.rel.grouped {
			return nil, unsupported(e, "value_counts after groupby")
		}
		out, err := s.rel.aggregate(e, selectItem{expr: aggExpr{fn: "COUNT(*)"}, alias: "count"})
		if err != nil {
			return nil, err
		}
		out.groupBy = []selectItem{{expr: s.expr, alias: s.expr.column}}
		out.orderBy = []orderItem{{expr: aliasRef("count"), desc: true}}
		return out, nil

	case "unique":
		if s.rel.aggregated || s.rel.grouped {
			return nil, unsupported(e, "unique after groupby or aggregation")
		}
		out := s.rel.clone()
		out.distinct = true
		out.project = []selectItem{{expr: s.expr}}
		return out, nil

	case "sort_values":
		out, err := c.sortValues(e, s.rel, args, s.expr)
		if err != nil {
			return nil, err
		}
		return &series{rel: out.(*relation), expr: s.expr}, nil

	case "head", "round", "reset_index":
		out, err := c.relationMethod(e, s.rel, method, args)
		if err != nil {
			return nil, err
		}
		return &series{rel: out.(*relation), expr: s.expr}, nil
	}
	return nil, unsupported(e, "a column has no operation %q", method)
}
