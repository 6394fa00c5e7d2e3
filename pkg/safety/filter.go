package safety

import (
	"regexp"
	"strings"
)

// sentenceBoundary ends a sentence at terminal punctuation followed by whitespace.
var sentenceBoundary = regexp.MustCompile(`[.!?]+["')\]]*\s+`)

// Filter removes sentences that use diagnostic or treatment vocabulary and
// appends the disclaimer. Applying it twice gives the same text as applying it once.
type Filter struct {
	terms      []string
	patterns   []*regexp.Regexp
	disclaimer string
}

// FilterResult is the outcome of Filter.Apply.
type FilterResult struct {
	Text               string
	Removed            int      // Sentences dropped
	Terms              []string // Vocabulary terms that caused a drop
	DisclaimerAppended bool
}

// NewFilter compiles the policy vocabulary.
func NewFilter(p Policy) *Filter {
	f := &Filter{disclaimer: strings.TrimSpace(p.Disclaimer)}
	for _, term := range p.DiagnosticVocabulary {
		term = strings.TrimSpace(term)
		if term == "" {
			continue
		}
		f.terms = append(f.terms, term)
		f.patterns = append(f.patterns, termPattern(term))
	}
	return f
}

func termPattern(term string) *regexp.Regexp {
	prefix := strings.HasSuffix(term, "*")
	term = strings.TrimSuffix(term, "*")
	words := strings.Fields(term)
	for i, w := range words {
		words[i] = regexp.QuoteMeta(w)
	}
	expr := `(?i)\b` + strings.Join(words, `\s+`)
	if !prefix {
		expr += `\b`
	}
	return regexp.MustCompile(expr)
}

// Disclaimer returns the text appended to every insight.
func (f *Filter) Disclaimer() string { return f.disclaimer }

// HasDisclaimer reports whether text already carries the disclaimer.
func (f *Filter) HasDisclaimer(text string) bool {
	return f.disclaimer != "" && strings.Contains(text, f.disclaimer)
}

// Scan returns the distinct vocabulary terms found in text, in policy order.
func (f *Filter) Scan(text string) []string {
	var found []string
	for i, re := range f.patterns {
		if re.MatchString(text) {
			found = append(found, f.terms[i])
		}
	}
	return found
}

// Apply drops every sentence that matches the vocabulary and appends the disclaimer.
func (f *Filter) Apply(text string) FilterResult {
	body := text
	for f.disclaimer != "" && strings.Contains(body, f.disclaimer) {
		body = strings.ReplaceAll(body, f.disclaimer, "")
	}

	var (
		result FilterResult
		seen   = make(map[string]bool)
		lines  []string
	)
	for _, line := range strings.Split(body, "\n") {
		var kept []string
		for _, sentence := range splitSentences(line) {
			if terms := f.Scan(sentence); len(terms) > 0 {
				result.Removed++
				for _, t := range terms {
					if !seen[t] {
						seen[t] = true
						result.Terms = append(result.Terms, t)
					}
				}
				continue
			}
			kept = append(kept, sentence)
		}
		if len(kept) > 0 {
			lines = append(lines, strings.Join(kept, " "))
		}
	}

	cleaned := strings.Join(lines, "\n")
	switch {
	case f.disclaimer == "":
		result.Text = cleaned
	case cleaned == "":
		result.Text = f.disclaimer
		result.DisclaimerAppended = true
	default:
		result.Text = cleaned + "\n\n" + f.disclaimer
		result.DisclaimerAppended = true
	}
	return result
}

// Sentences splits text into trimmed, non-empty sentences across all lines.
func Sentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		out = append(out, splitSentences(line)...)
	}
	return out
}

func splitSentences(line string) []string {
	var (
		out   []string
		start int
	)
	for _, loc := range sentenceBoundary.FindAllStringIndex(line, -1) {
		end := loc[1]
		// keep the punctuation, drop the trailing whitespace
		trimmed := strings.TrimRightFunc(line[start:end], isSpace)
		if s := strings.TrimSpace(trimmed); s != "" {
			out = append(out, s)
		}
		start = end
	}
	if s := strings.TrimSpace(line[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\r' || r == '\f' || r == '\v'
}
