// Package safety holds the rule-based checks that guard the store and the user:
// the query validator and the insight vocabulary filter.
package safety

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/config"
)

// DefaultDisclaimer is appended to every insight.
const DefaultDisclaimer = "This summary describes patterns in the returned data only and is not medical advice; " +
	"consult a qualified healthcare professional for clinical decisions."

// Policy is the data that drives the validator and the insight filter.
type Policy struct {
	DeniedVerbs          []string `yaml:"denied_verbs"`
	AllowedTables        []string `yaml:"allowed_tables"` // Empty allows every table the schema exposes
	DiagnosticVocabulary []string `yaml:"diagnostic_vocabulary"` // A trailing * matches any word with that prefix
	Disclaimer           string   `yaml:"disclaimer"`
}

// DefaultPolicy returns the built-in deny list, vocabulary and disclaimer.
func DefaultPolicy() Policy {
	return Policy{
		DeniedVerbs: []string{
			// Writes and DDL
			"INSERT", "UPDATE", "DELETE", "MERGE", "UPSERT", "REPLACE", "DROP", "ALTER", "CREATE",
			"TRUNCATE", "RENAME", "INTO", "GRANT", "REVOKE",
			// Store administration and session state
			"ATTACH", "DETACH", "PRAGMA", "VACUUM", "REINDEX", "ANALYZE", "EXEC", "EXECUTE", "CALL", "DO",
			"COPY", "LOAD", "INSTALL", "IMPORT", "EXPORT", "SET", "RESET", "BEGIN", "COMMIT", "ROLLBACK",
			"SAVEPOINT", "RELEASE", "LOCK", "UNLOCK", "DECLARE", "PREPARE", "DEALLOCATE", "LISTEN", "NOTIFY",
			"SHUTDOWN", "KILL", "OUTFILE", "DUMPFILE", "WAITFOR",
			// File, network and process access
			"READ_CSV", "READ_CSV_AUTO", "READ_PARQUET", "READ_JSON", "READ_JSON_AUTO", "READ_TEXT",
			"READ_BLOB", "GLOB", "PG_READ_FILE", "PG_READ_BINARY_FILE", "PG_LS_DIR", "PG_STAT_FILE",
			"PG_SLEEP", "LO_IMPORT", "LO_EXPORT", "DBLINK", "OPENROWSET", "OPENDATASOURCE", "OPENQUERY",
			"XP_CMDSHELL", "LOAD_EXTENSION", "READFILE", "WRITEFILE", "SLEEP", "BENCHMARK", "SYS",
			// Tabular-expression escapes
			"EVAL", "COMPILE", "OPEN", "SYSTEM", "POPEN", "SUBPROCESS", "OS", "GETATTR", "SETATTR",
			"DELATTR", "GLOBALS", "LOCALS", "VARS", "__IMPORT__", "__BUILTINS__", "INPUT", "PICKLE",
			"READ_SQL", "TO_CSV", "TO_SQL", "TO_PARQUET", "TO_PICKLE", "QUERY", "APPLY", "PIPE",
		},
		DiagnosticVocabulary: []string{
			"diagnos*", "prognos*", "prescri*", "medication*", "medicine*", "dosage*", "dose", "doses",
			"dosing", "treatment*", "treat", "treats", "treated", "treating", "therap*", "cure", "cures",
			"cured", "surgery", "surgeries", "surgical", "chemotherapy", "antibiotic*", "insulin", "statin",
			"statins", "antihypertensive*", "you should take", "you should stop", "you should start",
		},
		Disclaimer: DefaultDisclaimer,
	}
}

// LoadPolicyFile reads a YAML policy. Fields the file leaves empty keep their defaults.
func LoadPolicyFile(path string) (Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Policy{}, fmt.Errorf("failed to read safety policy: %w", err)
	}
	var filePolicy Policy
	if err := yaml.Unmarshal(data, &filePolicy); err != nil {
		return Policy{}, fmt.Errorf("failed to parse safety policy %s: %w", path, err)
	}
	return DefaultPolicy().merge(filePolicy), nil
}

// FromConfig builds the policy from defaults, the optional policy file and
// the list overrides in the safety config section, in that order.
func FromConfig(cfg config.SafetyConfig) (Policy, error) {
	p := DefaultPolicy()
	if cfg.PolicyFile != "" {
		var err error
		if p, err = LoadPolicyFile(cfg.PolicyFile); err != nil {
			return Policy{}, err
		}
	}
	p = p.merge(Policy{
		DeniedVerbs:          cfg.DeniedVerbs,
		AllowedTables:        cfg.AllowedTables,
		DiagnosticVocabulary: cfg.DiagnosticVocabulary,
		Disclaimer:           cfg.Disclaimer,
	})
	if err := p.Validate(); err != nil {
		return Policy{}, err
	}
	return p, nil
}

// merge returns p with every non-empty field of o replacing p's.
func (p Policy) merge(o Policy) Policy {
	if len(o.DeniedVerbs) > 0 {
		p.DeniedVerbs = o.DeniedVerbs
	}
	if len(o.AllowedTables) > 0 {
		p.AllowedTables = o.AllowedTables
	}
	if len(o.DiagnosticVocabulary) > 0 {
		p.DiagnosticVocabulary = o.DiagnosticVocabulary
	}
	if strings.TrimSpace(o.Disclaimer) != "" {
		p.Disclaimer = strings.TrimSpace(o.Disclaimer)
	}
	return p
}

// Validate rejects a policy the filter could not apply idempotently.
func (p Policy) Validate() error {
	if strings.TrimSpace(p.Disclaimer) == "" {
		return fmt.Errorf("safety policy needs a disclaimer")
	}
	if len(p.DeniedVerbs) == 0 {
		return fmt.Errorf("safety policy needs at least one denied verb")
	}
	if terms := NewFilter(p).Scan(p.Disclaimer); len(terms) > 0 {
		return fmt.Errorf("safety disclaimer contains disallowed term %q", terms[0])
	}
	return nil
}

// upperSet builds a lookup of upper-cased, trimmed values.
func upperSet(values []string) map[string]bool {
	set := make(map[string]bool, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[strings.ToUpper(v)] = true
		}
	}
	return set
}
