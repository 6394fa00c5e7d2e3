package sql

import (
	"strings"
)

// ParsedColumn represents a column extracted from a SELECT list.
type ParsedColumn struct {
	Name string // The column name or alias, lower-cased
	Expr string // The full expression (e.g., "SUM(amount)")
}

// IsAggregate reports whether the expression calls an aggregate function.
func (c ParsedColumn) IsAggregate() bool {
	tokens, err := Tokenize(c.Expr)
	if err != nil {
		return false
	}
	return len(AggregateCalls(tokens)) > 0
}

// ParseSelectColumns extracts the outermost SELECT list of a statement.
// It handles:
// - Simple columns: SELECT id, name
// - Aliased columns: SELECT name AS customer_name, COUNT(*) AS total
// - Implicit aliases: SELECT COUNT(*) total
// - Functions: SELECT SUM(amount), MAX(price)
// - Table-qualified columns: SELECT u.name, o.total
//
// SELECT * returns no columns, since they cannot be known without the schema.
func ParseSelectColumns(sqlQuery string) ([]ParsedColumn, error) {
	tokens, err := Tokenize(sqlQuery)
	if err != nil {
		return nil, err
	}
	source := []rune(sqlQuery)

	start := -1
	for i, t := range tokens {
		if t.IsWord("SELECT") && t.Depth == 0 {
			start = i + 1
			break
		}
	}
	if start < 0 {
		return nil, nil // Not a SELECT query
	}
	if start < len(tokens) && (tokens[start].IsWord("DISTINCT") || tokens[start].IsWord("ALL")) {
		start++
	}

	end := len(tokens)
	for i := start; i < len(tokens); i++ {
		t := tokens[i]
		if t.Depth == 0 && (t.Kind == TokenSemicolon || t.IsWord("FROM") || t.IsWord("WHERE") ||
			t.IsWord("GROUP") || t.IsWord("ORDER") || t.IsWord("LIMIT") || t.IsWord("UNION")) {
			end = i
			break
		}
	}
	if start >= end {
		return nil, nil
	}
	if end-start == 1 && tokens[start].Text == "*" {
		return nil, nil
	}

	endPos := len(source)
	if end < len(tokens) {
		endPos = tokens[end].Pos
	}

	var result []ParsedColumn
	segStart := start
	for i := start; i <= end; i++ {
		if i < end && !(tokens[i].Kind == TokenComma && tokens[i].Depth == 0) {
			continue
		}
		if i > segStart {
			exprEnd := endPos
			if i < end {
				exprEnd = tokens[i].Pos
			}
			expr := strings.TrimSpace(string(source[tokens[segStart].Pos:exprEnd]))
			result = append(result, ParsedColumn{
				Name: columnName(tokens[segStart:i]),
				Expr: expr,
			})
		}
		segStart = i + 1
	}
	return result, nil
}

// columnName derives the output name of one SELECT list entry.
func columnName(seg []Token) string {
	n := len(seg)
	// Explicit alias: expr AS name
	if n >= 3 && seg[n-2].IsWord("AS") && seg[n-1].IsName() {
		return strings.ToLower(seg[n-1].Text)
	}
	// Implicit alias: COUNT(*) total, u.name nm
	if n >= 2 && seg[n-1].IsName() && seg[n-1].Depth == 0 &&
		(seg[n-2].Kind == TokenRParen || seg[n-2].IsName()) && !seg[n-1].IsWord("END") {
		return strings.ToLower(seg[n-1].Text)
	}
	// Function call: COUNT(*) -> count
	if n >= 2 && seg[0].IsName() && seg[1].Kind == TokenLParen {
		return strings.ToLower(seg[0].Text)
	}
	if seg[0].IsWord("CASE") {
		return "case_result"
	}
	// Qualified or bare column: u.name -> name
	for i := n - 1; i >= 0; i-- {
		if seg[i].IsName() {
			return strings.ToLower(seg[i].Text)
		}
	}
	return ""
}
