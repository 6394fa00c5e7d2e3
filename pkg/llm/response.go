package llm

import (
	"regexp"
	"strings"
)

// thinkTagPattern matches <think>...</think> tags that may appear at the start of LLM responses.
var thinkTagPattern = regexp.MustCompile(`(?s)^[\s]*<think>.*?</think>[\s]*`)

// fencePattern matches a fenced code block and captures its language tag and body.
var fencePattern = regexp.MustCompile("(?s)```([A-Za-z0-9_+-]*)[ \t]*\r?\n(.*?)```")

// labelPattern matches a leading "SQL:" / "Query:" / "Expression:" label.
var labelPattern = regexp.MustCompile(`(?i)^\s*(sql( query)?|query|expression|python|answer)\s*:\s*`)

// StripThinking removes a leading <think>...</think> block.
func StripThinking(response string) string {
	return strings.TrimSpace(thinkTagPattern.ReplaceAllString(response, ""))
}

// ExtractCode pulls the query text out of a completion. A fenced block whose
// language tag is one of preferred wins, then the first fenced block, then the
// whole reply with any leading label removed.
func ExtractCode(response string, preferred ...string) string {
	cleaned := StripThinking(response)

	matches := fencePattern.FindAllStringSubmatch(cleaned, -1)
	for _, m := range matches {
		for _, lang := range preferred {
			if strings.EqualFold(m[1], lang) {
				return strings.TrimSpace(m[2])
			}
		}
	}
	if len(matches) > 0 {
		return strings.TrimSpace(matches[0][2])
	}

	cleaned = strings.TrimSpace(strings.Trim(cleaned, "`"))
	return strings.TrimSpace(labelPattern.ReplaceAllString(cleaned, ""))
}

// ExtractProse returns the reply with thinking and fenced code removed.
func ExtractProse(response string) string {
	cleaned := StripThinking(response)
	cleaned = fencePattern.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}
