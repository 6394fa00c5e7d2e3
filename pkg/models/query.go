package models

import (
	"fmt"
	"strings"
)

// QueryKind selects how a generated query is expressed and executed.
type QueryKind string

const (
	QueryKindRelational QueryKind = "relational"
	QueryKindTabular    QueryKind = "tabular-expression"
)

// ParseQueryKind accepts the canonical kind names plus a few aliases.
// An empty string selects the relational kind.
func ParseQueryKind(s string) (QueryKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "relational", "sql":
		return QueryKindRelational, nil
	case "tabular-expression", "tabular", "expression", "python", "pandas":
		return QueryKindTabular, nil
	default:
		return "", fmt.Errorf("unknown query kind %q", s)
	}
}

// IsValid reports whether k is one of the supported kinds.
func (k QueryKind) IsValid() bool {
	return k == QueryKindRelational || k == QueryKindTabular
}

// GeneratedQuery is a candidate query produced by the query generator.
// Tables is derived from the query text, never supplied by the LLM.
type GeneratedQuery struct {
	Text     string    `json:"text"`
	Kind     QueryKind `json:"kind"`
	Tables   []string  `json:"tables"`
	Attempts int       `json:"attempts,omitempty"` // Completion attempts used to produce Text
}

// Violation rule identifiers.
const (
	RuleStructure = "structure"   // not exactly one read-only statement
	RuleDenyList  = "denied_verb" // write/DDL/administrative token
	RuleTable     = "table"       // table outside the allow-list
	RuleName      = "name"        // tabular-expression name not bound to a known table or operation
	RuleInjection = "injection"   // injection fingerprint inside a string literal
)

// Violation is one reason a query was rejected.
type Violation struct {
	Rule    string `json:"rule"`
	Subject string `json:"subject,omitempty"` // Offending token, table or name
	Reason  string `json:"reason"`
}

// ValidationResult reports the outcome of the safety validator.
// Violations is empty iff Accepted is true.
type ValidationResult struct {
	Accepted   bool        `json:"accepted"`
	Violations []Violation `json:"violations"`
}

// Reasons returns the violation reasons in order.
func (r ValidationResult) Reasons() []string {
	reasons := make([]string, len(r.Violations))
	for i, v := range r.Violations {
		reasons[i] = v.Reason
	}
	return reasons
}
