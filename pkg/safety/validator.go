package safety

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/audit"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	sqlcheck "github.com/ekaya-inc/ekaya-healthquery/pkg/sql"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/tabular"
)

// ValidatedQuery is a query that passed the validator. Its fields are only set
// by Check, so holding a valid one proves validation happened.
type ValidatedQuery struct {
	text    string
	kind    models.QueryKind
	tables  []string
	program *tabular.Program
	schema  []models.TableSchema
	valid   bool
}

// Valid reports whether q came from an accepting Check.
func (q ValidatedQuery) Valid() bool { return q.valid }

// Text is the normalized query text.
func (q ValidatedQuery) Text() string { return q.text }

func (q ValidatedQuery) Kind() models.QueryKind { return q.kind }

// Tables lists the tables the query reads.
func (q ValidatedQuery) Tables() []string { return append([]string(nil), q.tables...) }

// Program is the parsed expression of a tabular query, nil otherwise.
func (q ValidatedQuery) Program() *tabular.Program { return q.program }

// Schema is the table description the query was checked against.
func (q ValidatedQuery) Schema() []models.TableSchema { return q.schema }

// Validator is the deterministic rule set applied before any query reaches the store.
type Validator struct {
	policy  Policy
	denied  map[string]bool
	allowed map[string]bool // upper-cased; nil means every schema table
	auditor *audit.SecurityAuditor
	logger  *zap.Logger
}

// NewValidator builds a validator for the policy. auditor may be nil.
func NewValidator(policy Policy, auditor *audit.SecurityAuditor, logger *zap.Logger) *Validator {
	v := &Validator{
		policy:  policy,
		denied:  upperSet(policy.DeniedVerbs),
		auditor: auditor,
		logger:  logger.Named("safety-validator"),
	}
	if len(policy.AllowedTables) > 0 {
		v.allowed = upperSet(policy.AllowedTables)
	}
	return v
}

// Policy returns the policy the validator enforces.
func (v *Validator) Policy() Policy { return v.policy }

// Check validates query and, when it is accepted, returns the ValidatedQuery the executor requires.
func (v *Validator) Check(ctx context.Context, query models.GeneratedQuery, tables []models.TableSchema) (ValidatedQuery, models.ValidationResult) {
	result, vq := v.validate(ctx, query, tables)
	if !result.Accepted {
		return ValidatedQuery{}, result
	}
	return vq, result
}

// Validate reports every rule the query breaks.
func (v *Validator) Validate(ctx context.Context, query models.GeneratedQuery, tables []models.TableSchema) models.ValidationResult {
	result, _ := v.validate(ctx, query, tables)
	return result
}

type violations struct {
	list []models.Violation
	seen map[string]bool
}

func (vs *violations) add(rule, subject, format string, args ...any) {
	key := rule + "\x00" + strings.ToUpper(subject)
	if subject != "" && vs.seen[key] {
		return
	}
	if vs.seen == nil {
		vs.seen = make(map[string]bool)
	}
	vs.seen[key] = true
	vs.list = append(vs.list, models.Violation{Rule: rule, Subject: subject, Reason: fmt.Sprintf(format, args...)})
}

func (v *Validator) validate(ctx context.Context, query models.GeneratedQuery, tables []models.TableSchema) (models.ValidationResult, ValidatedQuery) {
	var vs violations
	vq := ValidatedQuery{kind: query.Kind, schema: tables}

	switch query.Kind {
	case models.QueryKindRelational:
		vq.text, vq.tables = v.checkRelational(ctx, query.Text, tables, &vs)
	case models.QueryKindTabular:
		vq.text, vq.tables, vq.program = v.checkTabular(ctx, query.Text, tables, &vs)
	default:
		vs.add(models.RuleStructure, string(query.Kind), "unknown query kind %q", query.Kind)
	}

	result := models.ValidationResult{Accepted: len(vs.list) == 0, Violations: vs.list}
	if result.Violations == nil {
		result.Violations = []models.Violation{}
	}

	if !result.Accepted {
		rules := make([]string, 0, len(vs.list))
		for _, viol := range vs.list {
			rules = append(rules, viol.Rule)
		}
		v.logger.Info("Query rejected",
			zap.String("kind", string(query.Kind)),
			zap.Int("violations", len(vs.list)))
		if v.auditor != nil {
			v.auditor.LogQueryRejected(ctx, audit.RejectionDetails{
				QueryKind:  string(query.Kind),
				Rules:      rules,
				Violations: result.Reasons(),
			})
		}
		return result, ValidatedQuery{}
	}

	vq.valid = true
	return result, vq
}

// statementOnlyVerbs are denied words that are also read-only function or
// operator names, such as REPLACE(col, 'a', 'b') or x GLOB 'a*'. They are
// denied only where a statement verb stands.
var statementOnlyVerbs = map[string]bool{"REPLACE": true, "GLOB": true, "SET": true}

var wordPattern = regexp.MustCompile(`[A-Za-z_][A-Za-z0-9_$]*`)

func (v *Validator) checkRelational(ctx context.Context, text string, schema []models.TableSchema, vs *violations) (string, []string) {
	tokens, tokErr := sqlcheck.Tokenize(text)

	// Rule 1: exactly one read-only statement.
	normalized := sqlcheck.ValidateAndNormalize(text)
	if normalized.Error != nil {
		vs.add(models.RuleStructure, "", "query is not a single statement: %v", normalized.Error)
	} else if kw := sqlcheck.FirstKeyword(normalized.Tokens); kw != "SELECT" && kw != "WITH" {
		vs.add(models.RuleStructure, kw, "statement must start with SELECT or WITH, found %q", kw)
	}

	// Rule 2: denied verbs. Unlexable text is still scanned word by word.
	var words []string
	verbs := make(map[string]bool)
	if tokErr == nil {
		words = append(sqlcheck.Words(tokens), sqlcheck.CalledNames(tokens)...)
		for _, w := range sqlcheck.StatementVerbs(tokens) {
			verbs[w] = true
		}
	} else {
		for _, w := range wordPattern.FindAllString(text, -1) {
			words = append(words, strings.ToUpper(w))
		}
	}
	for _, w := range words {
		if !v.denied[w] {
			continue
		}
		if tokErr == nil && statementOnlyVerbs[w] && !verbs[w] {
			continue
		}
		vs.add(models.RuleDenyList, w, "denied verb %s", w)
	}

	if tokErr != nil {
		return "", nil
	}

	// Rule 3: table allow-list. A qualifier may only name the store's own schema.
	var referenced []string
	seen := make(map[string]bool)
	for _, ref := range sqlcheck.ReferencedTables(tokens) {
		switch {
		case !ref.InStoreSchema():
			vs.add(models.RuleTable, ref.String(), "table %s is outside the store's own schema", ref)
		case !v.tableAllowed(ref.Name, schema):
			vs.add(models.RuleTable, ref.String(), "table %s is not one of the allowed tables (%s)", ref, strings.Join(v.allowedNames(schema), ", "))
		case !seen[strings.ToLower(ref.Name)]:
			seen[strings.ToLower(ref.Name)] = true
			referenced = append(referenced, ref.Name)
		}
	}

	// String literals must not carry an injection payload.
	for _, hit := range sqlcheck.CheckLiteralsForInjection(tokens) {
		v.reportInjection(ctx, models.QueryKindRelational, *hit, vs)
	}

	return normalized.NormalizedSQL, referenced
}

func (v *Validator) checkTabular(ctx context.Context, text string, schema []models.TableSchema, vs *violations) (string, []string, *tabular.Program) {
	program, err := tabular.Parse(text)
	if err != nil {
		vs.add(models.RuleStructure, "", "query is not a single tabular expression: %v", err)
		for _, w := range wordPattern.FindAllString(text, -1) {
			if u := strings.ToUpper(w); v.denied[u] {
				vs.add(models.RuleDenyList, u, "denied verb %s", u)
			}
		}
		return "", nil, nil
	}

	for _, problem := range program.Unsupported() {
		vs.add(models.RuleStructure, "", "unsupported construct: %s", problem)
	}

	refs := program.References()
	for _, ref := range refs {
		if ref.Kind == tabular.RefAttribute && tabular.Operations[ref.Name] {
			continue // merge, select and friends share names with SQL verbs
		}
		if u := strings.ToUpper(ref.Name); v.denied[u] {
			vs.add(models.RuleDenyList, u, "denied verb %s", u)
		}
	}

	referenced := program.Tables()
	for _, t := range referenced {
		if !v.tableAllowed(t, schema) {
			vs.add(models.RuleTable, t, "name %s is not one of the allowed tables (%s)", t, strings.Join(v.allowedNames(schema), ", "))
		}
	}

	// Rule 4: every other name must be a known function or operation.
	for _, ref := range refs {
		switch {
		case strings.HasPrefix(ref.Name, "_"):
			vs.add(models.RuleName, ref.Name, "private name %s at %s is not allowed", ref.Name, ref.Pos)
		case ref.Kind == tabular.RefFunction && !tabular.Functions[ref.Name]:
			vs.add(models.RuleName, ref.Name, "function %s at %s is not an allowed operation", ref.Name, ref.Pos)
		case ref.Kind == tabular.RefAttribute && !tabular.Operations[ref.Name]:
			vs.add(models.RuleName, ref.Name, "operation %s at %s is not an allowed operation", ref.Name, ref.Pos)
		}
	}

	for i, lit := range program.StringLiterals() {
		if hit := sqlcheck.CheckLiteralForInjection(i, lit); hit != nil {
			v.reportInjection(ctx, models.QueryKindTabular, *hit, vs)
		}
	}

	return program.Source, referenced, program
}

func (v *Validator) reportInjection(ctx context.Context, kind models.QueryKind, hit sqlcheck.InjectionCheckResult, vs *violations) {
	vs.add(models.RuleInjection, fmt.Sprintf("literal %d", hit.Index+1),
		"string literal %d matches an injection pattern (%s)", hit.Index+1, hit.Fingerprint)
	if v.auditor != nil {
		v.auditor.LogInjectionAttempt(ctx, audit.SQLInjectionDetails{
			LiteralIndex: hit.Index,
			Fingerprint:  hit.Fingerprint,
			QueryKind:    string(kind),
		})
	}
}

func (v *Validator) tableAllowed(name string, schema []models.TableSchema) bool {
	if _, ok := models.FindTable(schema, name); !ok {
		return false
	}
	return v.allowed == nil || v.allowed[strings.ToUpper(name)]
}

func (v *Validator) allowedNames(schema []models.TableSchema) []string {
	var names []string
	for _, t := range schema {
		if v.allowed == nil || v.allowed[strings.ToUpper(t.Name)] {
			names = append(names, t.Name)
		}
	}
	return names
}
