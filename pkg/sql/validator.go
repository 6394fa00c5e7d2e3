package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyStatement indicates the query has no tokens.
	ErrEmptyStatement = errors.New("query is empty")
)

// ValidationResult contains the normalized SQL, its tokens and any validation error.
type ValidationResult struct {
	NormalizedSQL string
	Tokens        []Token
	Error         error
}

// ValidateAndNormalize checks that the query is exactly one statement and strips
// a single trailing semicolon.
//
// The validation order is:
// 1. Tokenize (unterminated strings, identifiers or comments fail here)
// 2. Strip one trailing semicolon (normalize)
// 3. Reject any remaining semicolon outside string literals
func ValidateAndNormalize(sqlQuery string) ValidationResult {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	tokens, err := Tokenize(sqlQuery)
	if err != nil {
		return ValidationResult{Error: err}
	}

	normalized := sqlQuery
	if n := len(tokens); n > 0 && tokens[n-1].Kind == TokenSemicolon {
		normalized = strings.TrimSpace(string([]rune(sqlQuery)[:tokens[n-1].Pos]))
		tokens = tokens[:n-1]
	}

	for _, t := range tokens {
		if t.Kind == TokenSemicolon {
			return ValidationResult{Error: ErrMultipleStatements}
		}
	}
	if len(tokens) == 0 {
		return ValidationResult{Error: ErrEmptyStatement}
	}

	return ValidationResult{NormalizedSQL: normalized, Tokens: tokens}
}

// FirstKeyword returns the upper-cased first word of the statement.
func FirstKeyword(tokens []Token) string {
	for _, t := range tokens {
		if t.Kind == TokenWord {
			return t.Upper()
		}
		if t.Kind != TokenLParen {
			return ""
		}
	}
	return ""
}

// HasKeyword reports whether any bare word equals kw.
func HasKeyword(tokens []Token, kw string) bool {
	for _, t := range tokens {
		if t.IsWord(kw) {
			return true
		}
	}
	return false
}

// Words returns every bare word, upper-cased, in order.
func Words(tokens []Token) []string {
	var words []string
	for _, t := range tokens {
		if t.Kind == TokenWord {
			words = append(words, t.Upper())
		}
	}
	return words
}

// CalledNames returns the upper-cased names used as functions, including quoted
// ones such as "pg_read_file"(...).
func CalledNames(tokens []Token) []string {
	var names []string
	for i := 0; i+1 < len(tokens); i++ {
		if tokens[i].IsName() && tokens[i+1].Kind == TokenLParen {
			names = append(names, tokens[i].Upper())
		}
	}
	return names
}

// AggregateCalls returns the aggregate functions called, upper-cased.
func AggregateCalls(tokens []Token) []string {
	var calls []string
	for _, name := range CalledNames(tokens) {
		switch name {
		case "COUNT", "SUM", "AVG", "MIN", "MAX", "TOTAL", "GROUP_CONCAT", "STRING_AGG":
			calls = append(calls, name)
		}
	}
	return calls
}

// StringLiterals returns the unescaped contents of every string literal.
func StringLiterals(tokens []Token) []string {
	var literals []string
	for _, t := range tokens {
		if t.Kind == TokenString {
			literals = append(literals, t.Text)
		}
	}
	return literals
}

// tableIntroducers are the words followed by a table reference.
var tableIntroducers = map[string]bool{
	"FROM": true, "JOIN": true, "INTO": true, "UPDATE": true, "TABLE": true,
}

// fromListEnd are the words that close a FROM list at its own nesting level.
var fromListEnd = map[string]bool{
	"WHERE": true, "GROUP": true, "ORDER": true, "LIMIT": true, "HAVING": true, "UNION": true,
	"EXCEPT": true, "INTERSECT": true, "WINDOW": true, "QUALIFY": true, "OFFSET": true,
	"FETCH": true, "RETURNING": true, "SET": true,
}

// storeSchemas are the qualifiers under which the supported stores expose their
// own tables: main (SQLite, DuckDB), public (PostgreSQL) and dbo (SQL Server).
var storeSchemas = map[string]bool{"main": true, "public": true, "dbo": true}

// TableRef is one table reference. Schema holds the qualifier parts written
// before the name, if any.
type TableRef struct {
	Schema []string
	Name   string
}

// String returns the reference as written, parts joined with dots.
func (r TableRef) String() string {
	if len(r.Schema) == 0 {
		return r.Name
	}
	return strings.Join(r.Schema, ".") + "." + r.Name
}

// InStoreSchema reports whether the reference is unqualified or qualified only
// by the store's own schema.
func (r TableRef) InStoreSchema() bool {
	switch len(r.Schema) {
	case 0:
		return true
	case 1:
		return storeSchemas[strings.ToLower(r.Schema[0])]
	default:
		return false
	}
}

// ReferencedTables returns the distinct tables the statement reads or writes,
// in order of appearance. Unqualified common table expression names are
// excluded; table functions such as read_csv(...) are reported by their
// function name. Parenthesised table names and join groups are read through.
func ReferencedTables(tokens []Token) []TableRef {
	ctes := CTENames(tokens)
	seen := make(map[string]bool)
	var refs []TableRef

	add := func(ref TableRef) {
		key := strings.ToLower(ref.String())
		if seen[key] || (len(ref.Schema) == 0 && ctes[key]) {
			return
		}
		seen[key] = true
		refs = append(refs, ref)
	}

	for i, t := range tokens {
		if t.Kind != TokenWord || !tableIntroducers[t.Upper()] {
			continue
		}
		if t.IsWord("FROM") {
			if fromIsArgument(tokens, i) {
				continue
			}
			for _, pos := range fromListItems(tokens, i) {
				if ref, ok := tableRefAt(tokens, pos); ok {
					add(ref)
				}
			}
			continue
		}
		if ref, ok := tableRefAt(tokens, i+1); ok {
			add(ref)
		}
	}
	return refs
}

// fromListItems returns the positions of the names that start a table
// reference in the FROM list introduced at from: the first item, every item
// after a comma at the list's own level and items inside parenthesised join
// groups. Subqueries are skipped; their own FROM is read separately.
func fromListItems(tokens []Token, from int) []int {
	depth := tokens[from].Depth
	var (
		items  []int
		groups []bool // per open paren: whether it encloses a join group
		start  = true
	)
	inGroup := func() bool { return len(groups) == 0 || groups[len(groups)-1] }

	for j := from + 1; j < len(tokens); j++ {
		t := tokens[j]
		if t.Depth < depth || (t.Depth == depth && t.Kind == TokenWord && fromListEnd[t.Upper()]) {
			break
		}
		switch {
		case t.Kind == TokenLParen:
			if start && startsSubquery(tokens, j) {
				j = matchingParen(tokens, j)
				start = false
				continue
			}
			groups = append(groups, start)
		case t.Kind == TokenRParen:
			if len(groups) > 0 {
				groups = groups[:len(groups)-1]
			}
			start = false
		case t.Kind == TokenComma:
			start = inGroup()
		case t.IsWord("JOIN"):
			start = inGroup()
		case start && (t.IsWord("LATERAL") || t.IsWord("ONLY")):
		default:
			if start && t.IsName() {
				items = append(items, j)
			}
			start = false
		}
	}
	return items
}

// tableRefAt reads the table reference starting at i, stepping over opening
// parentheses. ok is false for a subquery or anything that is not a name.
func tableRefAt(tokens []Token, i int) (TableRef, bool) {
	for i < len(tokens) && (tokens[i].Kind == TokenLParen || tokens[i].IsWord("LATERAL") || tokens[i].IsWord("ONLY")) {
		if tokens[i].Kind == TokenLParen && startsSubquery(tokens, i) {
			return TableRef{}, false
		}
		i++
	}
	if i >= len(tokens) || !tokens[i].IsName() {
		return TableRef{}, false
	}
	if tokens[i].IsWord("SELECT") || tokens[i].IsWord("WITH") || tokens[i].IsWord("VALUES") {
		return TableRef{}, false
	}
	return qualifiedName(tokens, i), true
}

// startsSubquery reports whether the '(' at i directly opens a query. A '('
// followed by another '(' is read as a join group so its items are not skipped.
func startsSubquery(tokens []Token, i int) bool {
	if i+1 >= len(tokens) {
		return false
	}
	next := tokens[i+1]
	return next.IsWord("SELECT") || next.IsWord("WITH") || next.IsWord("VALUES")
}

// CTENames returns the lower-cased names defined in a leading WITH clause.
func CTENames(tokens []Token) map[string]bool {
	names, _ := cteList(tokens)
	return names
}

// StatementVerbs returns the upper-cased words standing in statement-verb
// position: the first word of each statement, and for a WITH statement the
// first word after its common table expressions.
func StatementVerbs(tokens []Token) []string {
	var verbs []string
	start := 0
	for i := 0; i <= len(tokens); i++ {
		if i < len(tokens) && tokens[i].Kind != TokenSemicolon {
			continue
		}
		stmt := tokens[start:i]
		start = i + 1
		if kw := FirstKeyword(stmt); kw != "" {
			verbs = append(verbs, kw)
		}
		if _, end := cteList(stmt); end > 0 && end < len(stmt) && stmt[end].Kind == TokenWord {
			verbs = append(verbs, stmt[end].Upper())
		}
	}
	return verbs
}

// cteList reads a leading WITH clause and returns its names and the index of
// the first token after it. end is 0 when the statement has no WITH clause.
func cteList(tokens []Token) (map[string]bool, int) {
	names := make(map[string]bool)
	i := 0
	for i < len(tokens) && tokens[i].Kind == TokenLParen {
		i++
	}
	if i >= len(tokens) || !tokens[i].IsWord("WITH") {
		return names, 0
	}
	i++
	if i < len(tokens) && tokens[i].IsWord("RECURSIVE") {
		i++
	}

	for i < len(tokens) && tokens[i].IsName() {
		names[strings.ToLower(tokens[i].Text)] = true
		i++
		if i < len(tokens) && tokens[i].Kind == TokenLParen { // column list
			i = matchingParen(tokens, i) + 1
		}
		if i >= len(tokens) || !tokens[i].IsWord("AS") {
			break
		}
		i++
		if i < len(tokens) && (tokens[i].IsWord("MATERIALIZED") || tokens[i].IsWord("NOT")) {
			for i < len(tokens) && tokens[i].Kind != TokenLParen {
				i++
			}
		}
		if i >= len(tokens) || tokens[i].Kind != TokenLParen {
			break
		}
		i = matchingParen(tokens, i) + 1
		if i < len(tokens) && tokens[i].Kind == TokenComma {
			i++
			continue
		}
		break
	}
	return names, i
}

// fromIsArgument reports whether the FROM at i belongs to a call such as
// EXTRACT(YEAR FROM d) or SUBSTRING(s FROM 2), or to IS [NOT] DISTINCT FROM,
// rather than a query.
func fromIsArgument(tokens []Token, i int) bool {
	if i > 0 && tokens[i-1].IsWord("DISTINCT") && i > 1 && (tokens[i-2].IsWord("IS") || tokens[i-2].IsWord("NOT")) {
		return true
	}
	depth := tokens[i].Depth
	if depth == 0 {
		return false
	}
	for j := i - 1; j > 0; j-- {
		if tokens[j].Kind == TokenLParen && tokens[j].Depth == depth-1 {
			switch tokens[j-1].Upper() {
			case "EXTRACT", "SUBSTRING", "TRIM", "OVERLAY", "POSITION":
				return tokens[j-1].Kind == TokenWord
			}
			return false
		}
	}
	return false
}

// qualifiedName reads name(.name)* starting at i.
func qualifiedName(tokens []Token, i int) TableRef {
	parts := []string{tokens[i].Text}
	for i+2 < len(tokens) && tokens[i+1].Kind == TokenDot && tokens[i+2].IsName() {
		parts = append(parts, tokens[i+2].Text)
		i += 2
	}
	return TableRef{Schema: parts[:len(parts)-1], Name: parts[len(parts)-1]}
}

// matchingParen returns the index of the ')' closing the '(' at i, or the last
// index when the statement ends first.
func matchingParen(tokens []Token, i int) int {
	depth := tokens[i].Depth
	for j := i + 1; j < len(tokens); j++ {
		if tokens[j].Kind == TokenRParen && tokens[j].Depth == depth {
			return j
		}
	}
	return len(tokens) - 1
}
