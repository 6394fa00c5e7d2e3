package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// InjectionCheckResult describes a string literal that looks like SQL injection.
type InjectionCheckResult struct {
	Index       int    // Position of the literal among the statement's literals
	Literal     string // The literal's unescaped contents
	Fingerprint string // libinjection fingerprint of the detected pattern
}

// CheckLiteralForInjection uses libinjection to detect SQL injection patterns
// inside one string literal. Returns nil when the literal is clean.
//
// Example:
//
//	CheckLiteralForInjection(0, "Female")                 // nil
//	CheckLiteralForInjection(0, "x' OR '1'='1")           // Fingerprint "s&sos" (or similar)
func CheckLiteralForInjection(index int, literal string) *InjectionCheckResult {
	isSQLi, fingerprint := libinjection.IsSQLi(literal)
	if !isSQLi {
		return nil
	}
	return &InjectionCheckResult{
		Index:       index,
		Literal:     literal,
		Fingerprint: string(fingerprint),
	}
}

// CheckLiteralsForInjection checks every string literal in the statement.
// A generated query embeds user wording in literals, so this is where a
// smuggled statement would hide.
func CheckLiteralsForInjection(tokens []Token) []*InjectionCheckResult {
	var results []*InjectionCheckResult
	for i, lit := range StringLiterals(tokens) {
		if r := CheckLiteralForInjection(i, lit); r != nil {
			results = append(results, r)
		}
	}
	return results
}
