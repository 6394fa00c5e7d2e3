package sql

import (
	"errors"
	"reflect"
	"testing"
)

func TestValidateAndNormalize_ValidQueries(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{
			name:     "simple select without semicolon",
			input:    "SELECT 1",
			expected: "SELECT 1",
		},
		{
			name:     "simple select with trailing semicolon",
			input:    "SELECT 1;",
			expected: "SELECT 1",
		},
		{
			name:     "select with trailing semicolon and whitespace",
			input:    "SELECT 1;  ",
			expected: "SELECT 1",
		},
		{
			name:     "select with leading and trailing whitespace",
			input:    "  SELECT 1  ",
			expected: "SELECT 1",
		},
		{
			name:     "select from table",
			input:    "SELECT * FROM users",
			expected: "SELECT * FROM users",
		},
		{
			name:     "select with where clause",
			input:    "SELECT * FROM users WHERE id = 1;",
			expected: "SELECT * FROM users WHERE id = 1",
		},
		{
			name:     "semicolon inside single quoted string",
			input:    "SELECT * FROM users WHERE name = 'test;test'",
			expected: "SELECT * FROM users WHERE name = 'test;test'",
		},
		{
			name:     "semicolon inside double quoted identifier",
			input:    `SELECT * FROM "table;name"`,
			expected: `SELECT * FROM "table;name"`,
		},
		{
			name:     "SQL standard escaped single quote",
			input:    "SELECT * FROM users WHERE name = 'O''Brien'",
			expected: "SELECT * FROM users WHERE name = 'O''Brien'",
		},
		{
			name:     "semicolon inside string with trailing semicolon",
			input:    "SELECT * FROM users WHERE name = 'test;test';",
			expected: "SELECT * FROM users WHERE name = 'test;test'",
		},
		{
			name:     "complex query with joins",
			input:    "SELECT u.*, o.* FROM users u JOIN orders o ON u.id = o.user_id;",
			expected: "SELECT u.*, o.* FROM users u JOIN orders o ON u.id = o.user_id",
		},
		{
			name:     "query with newlines",
			input:    "SELECT *\nFROM users\nWHERE id = 1;",
			expected: "SELECT *\nFROM users\nWHERE id = 1",
		},
		{
			name:     "update query",
			input:    "UPDATE users SET name = 'John' WHERE id = 1;",
			expected: "UPDATE users SET name = 'John' WHERE id = 1",
		},
		{
			name:     "insert query",
			input:    "INSERT INTO users (name) VALUES ('John');",
			expected: "INSERT INTO users (name) VALUES ('John')",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			if result.Error != nil {
				t.Errorf("unexpected error: %v", result.Error)
			}
			if result.NormalizedSQL != tt.expected {
				t.Errorf("got %q, want %q", result.NormalizedSQL, tt.expected)
			}
		})
	}
}

func TestValidateAndNormalize_MultipleStatements(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{
			name:  "two selects with semicolon separator",
			input: "SELECT 1; SELECT 2",
		},
		{
			name:  "two selects with semicolon separator and trailing",
			input: "SELECT 1; SELECT 2;",
		},
		{
			name:  "two selects no space after semicolon",
			input: "SELECT 1;SELECT 2",
		},
		{
			name:  "three statements",
			input: "SELECT 1; SELECT 2; SELECT 3",
		},
		{
			name:  "drop table attempt",
			input: "SELECT 1; DROP TABLE users",
		},
		{
			name:  "delete attempt",
			input: "SELECT * FROM users WHERE 1=1; DELETE FROM users",
		},
		{
			name:  "semicolon mid-statement",
			input: "SELECT 1; SELECT 2; SELECT 3;",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			if result.Error == nil {
				t.Error("expected error for multiple statements, got nil")
			}
			if !errors.Is(result.Error, ErrMultipleStatements) {
				t.Errorf("expected ErrMultipleStatements, got %v", result.Error)
			}
		})
	}
}

func TestValidateAndNormalize_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "empty string", input: "", wantErr: ErrEmptyStatement},
		{name: "whitespace only", input: "   ", wantErr: ErrEmptyStatement},
		{name: "only a semicolon", input: ";", wantErr: ErrEmptyStatement},
		{name: "only a comment", input: "-- nothing here", wantErr: ErrEmptyStatement},
		{name: "double trailing semicolon", input: "SELECT 1;;", wantErr: ErrMultipleStatements},
		{name: "semicolon hidden after comment", input: "SELECT 1 /* x */; DROP TABLE t", wantErr: ErrMultipleStatements},
		{name: "unterminated string", input: "SELECT 'abc", wantErr: ErrUnterminatedString},
		{name: "unterminated comment", input: "SELECT 1 /* abc", wantErr: ErrUnterminatedComment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateAndNormalize(tt.input)
			if !errors.Is(result.Error, tt.wantErr) {
				t.Errorf("got error %v, want %v", result.Error, tt.wantErr)
			}
			if result.NormalizedSQL != "" {
				t.Errorf("expected no normalized SQL, got %q", result.NormalizedSQL)
			}
		})
	}
}

func TestValidateAndNormalize_KeepsTokens(t *testing.T) {
	result := ValidateAndNormalize("SELECT COUNT(*) FROM health_dataset_1;")
	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	for _, tok := range result.Tokens {
		if tok.Kind == TokenSemicolon {
			t.Fatal("trailing semicolon should not be in the token stream")
		}
	}
	if got := FirstKeyword(result.Tokens); got != "SELECT" {
		t.Errorf("FirstKeyword = %q", got)
	}
}

func mustTokenize(t *testing.T, query string) []Token {
	t.Helper()
	tokens, err := Tokenize(query)
	if err != nil {
		t.Fatalf("Tokenize(%q): %v", query, err)
	}
	return tokens
}

func TestFirstKeyword(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{input: "select 1", expected: "SELECT"},
		{input: "  WITH x AS (SELECT 1) SELECT * FROM x", expected: "WITH"},
		{input: "((SELECT 1))", expected: "SELECT"},
		{input: "-- comment\nDELETE FROM t", expected: "DELETE"},
		{input: "'literal'", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			if got := FirstKeyword(mustTokenize(t, tt.input)); got != tt.expected {
				t.Errorf("got %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestWordsIgnoreLiteralsAndQuotedNames(t *testing.T) {
	tokens := mustTokenize(t, `SELECT "drop" FROM t WHERE note = 'delete me'`)
	got := Words(tokens)
	want := []string{"SELECT", "FROM", "T", "WHERE", "NOTE"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
	if HasKeyword(tokens, "DELETE") || HasKeyword(tokens, "DROP") {
		t.Error("keywords inside literals or quoted names must not match")
	}
}

func TestCalledNamesAndAggregates(t *testing.T) {
	tokens := mustTokenize(t, `SELECT COUNT(*), avg(Age), ROUND(SUM(BMI), 2), "pg_sleep"(1) FROM t`)

	got := CalledNames(tokens)
	want := []string{"COUNT", "AVG", "ROUND", "SUM", "PG_SLEEP"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("CalledNames = %v, want %v", got, want)
	}

	aggs := AggregateCalls(tokens)
	wantAggs := []string{"COUNT", "AVG", "SUM"}
	if !reflect.DeepEqual(aggs, wantAggs) {
		t.Errorf("AggregateCalls = %v, want %v", aggs, wantAggs)
	}
}

func TestStringLiterals(t *testing.T) {
	got := StringLiterals(mustTokenize(t, "SELECT * FROM t WHERE a = 'O''Brien' OR b = 'x'"))
	want := []string{"O'Brien", "x"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestReferencedTables(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{
			name:     "single table",
			input:    "SELECT COUNT(*) FROM health_dataset_1 WHERE Blood_Pressure_Abnormality = 1",
			expected: []string{"health_dataset_1"},
		},
		{
			name:     "join with aliases",
			input:    "SELECT AVG(h2.Physical_activity) FROM health_dataset_1 h1 JOIN health_dataset_2 AS h2 ON h1.Patient_Number = h2.Patient_Number",
			expected: []string{"health_dataset_1", "health_dataset_2"},
		},
		{
			name:     "comma separated FROM list",
			input:    "SELECT * FROM health_dataset_1 a, health_dataset_2 b WHERE a.Patient_Number = b.Patient_Number",
			expected: []string{"health_dataset_1", "health_dataset_2"},
		},
		{
			name:     "schema qualified",
			input:    "SELECT * FROM main.health_dataset_1",
			expected: []string{"main.health_dataset_1"},
		},
		{
			name:     "parenthesised table name",
			input:    "SELECT name, sql FROM (sqlite_master)",
			expected: []string{"sqlite_master"},
		},
		{
			name:     "parenthesised table after comma",
			input:    "SELECT * FROM health_dataset_1 h, (sqlite_schema) s LIMIT 1",
			expected: []string{"health_dataset_1", "sqlite_schema"},
		},
		{
			name:     "parenthesised join group",
			input:    "SELECT * FROM (health_dataset_1 a, health_dataset_2 b) JOIN (sqlite_temp_master) t ON 1 = 1",
			expected: []string{"health_dataset_1", "health_dataset_2", "sqlite_temp_master"},
		},
		{
			name:     "table after a subquery in the FROM list",
			input:    "SELECT * FROM (SELECT 1 AS one) x, sqlite_master m",
			expected: []string{"sqlite_master"},
		},
		{
			name:     "table beside a subquery inside a join group",
			input:    "SELECT * FROM ((SELECT 1 AS one) x, sqlite_master)",
			expected: []string{"sqlite_master"},
		},
		{
			name:     "doubly parenthesised subquery",
			input:    "SELECT * FROM ((SELECT Age FROM health_dataset_1)) sub",
			expected: []string{"health_dataset_1"},
		},
		{
			name:     "comma after join condition",
			input:    "SELECT * FROM health_dataset_1 a JOIN health_dataset_2 b ON a.Patient_Number = b.Patient_Number, sqlite_master",
			expected: []string{"health_dataset_1", "health_dataset_2", "sqlite_master"},
		},
		{
			name:     "qualified table named like a CTE",
			input:    "WITH sqlite_master AS (SELECT 1 AS one) SELECT name FROM main.sqlite_master",
			expected: []string{"main.sqlite_master"},
		},
		{
			name:     "function arguments in a join condition are not tables",
			input:    "SELECT * FROM health_dataset_1 a JOIN health_dataset_2 b ON COALESCE(a.Patient_Number, b.Patient_Number) = b.Patient_Number",
			expected: []string{"health_dataset_1", "health_dataset_2"},
		},
		{
			name:     "IS DISTINCT FROM is not a table",
			input:    "SELECT * FROM health_dataset_1 WHERE Smoking IS DISTINCT FROM Pregnancy",
			expected: []string{"health_dataset_1"},
		},
		{
			name:     "quoted identifier",
			input:    `SELECT * FROM "health_dataset_1"`,
			expected: []string{"health_dataset_1"},
		},
		{
			name:     "CTE name excluded",
			input:    "WITH ckd AS (SELECT * FROM health_dataset_1 WHERE Chronic_kidney_disease = 1) SELECT AVG(Age) FROM ckd",
			expected: []string{"health_dataset_1"},
		},
		{
			name:     "subquery",
			input:    "SELECT * FROM (SELECT Patient_Number FROM health_dataset_2) sub",
			expected: []string{"health_dataset_2"},
		},
		{
			name:     "EXTRACT FROM is not a table",
			input:    "SELECT EXTRACT(YEAR FROM created_at) FROM visits",
			expected: []string{"visits"},
		},
		{
			name:     "table function reported by name",
			input:    "SELECT * FROM read_csv('/etc/passwd')",
			expected: []string{"read_csv"},
		},
		{
			name:     "write targets",
			input:    "INSERT INTO audit_log SELECT * FROM health_dataset_1",
			expected: []string{"audit_log", "health_dataset_1"},
		},
		{
			name:     "duplicates reported once",
			input:    "SELECT * FROM t UNION SELECT * FROM T",
			expected: []string{"t"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got []string
			for _, ref := range ReferencedTables(mustTokenize(t, tt.input)) {
				got = append(got, ref.String())
			}
			if !reflect.DeepEqual(got, tt.expected) {
				t.Errorf("got %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestTableRef_InStoreSchema(t *testing.T) {
	tests := []struct {
		ref  TableRef
		want bool
	}{
		{TableRef{Name: "health_dataset_1"}, true},
		{TableRef{Schema: []string{"main"}, Name: "health_dataset_1"}, true},
		{TableRef{Schema: []string{"PUBLIC"}, Name: "health_dataset_1"}, true},
		{TableRef{Schema: []string{"dbo"}, Name: "health_dataset_1"}, true},
		{TableRef{Schema: []string{"temp"}, Name: "sqlite_master"}, false},
		{TableRef{Schema: []string{"pg_catalog"}, Name: "pg_user"}, false},
		{TableRef{Schema: []string{"other_db", "main"}, Name: "health_dataset_1"}, false},
	}
	for _, tt := range tests {
		if got := tt.ref.InStoreSchema(); got != tt.want {
			t.Errorf("%s: InStoreSchema() = %v, want %v", tt.ref, got, tt.want)
		}
	}
}

func TestStatementVerbs(t *testing.T) {
	tests := []struct {
		input    string
		expected []string
	}{
		{"SELECT REPLACE(name, 'a', 'b') FROM t", []string{"SELECT"}},
		{"REPLACE INTO t VALUES (1)", []string{"REPLACE"}},
		{"WITH x AS (SELECT 1) REPLACE INTO t SELECT * FROM x", []string{"WITH", "REPLACE"}},
		{"WITH x AS (SELECT 1), y AS (SELECT 2) SELECT * FROM x, y", []string{"WITH", "SELECT"}},
		{"SET search_path = other", []string{"SET"}},
		{"SELECT 1; REPLACE INTO t VALUES (1)", []string{"SELECT", "REPLACE"}},
	}
	for _, tt := range tests {
		got := StatementVerbs(mustTokenize(t, tt.input))
		if !reflect.DeepEqual(got, tt.expected) {
			t.Errorf("%q: got %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestCTENames(t *testing.T) {
	names := CTENames(mustTokenize(t, "WITH RECURSIVE a(n) AS (SELECT 1), B AS (SELECT 2) SELECT * FROM a, b"))
	if !names["a"] || !names["b"] || len(names) != 2 {
		t.Errorf("unexpected CTE names: %v", names)
	}
	if len(CTENames(mustTokenize(t, "SELECT 1"))) != 0 {
		t.Error("plain SELECT should define no CTEs")
	}
}
