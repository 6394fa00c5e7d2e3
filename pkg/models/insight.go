package models

// Insight is the natural-language summary of an execution result.
type Insight struct {
	Text               string `json:"text"`
	DisclaimerAppended bool   `json:"disclaimer_appended"`
	Filtered           bool   `json:"filtered"`                    // Unsafe sentences were removed
	RemovedSentences   int    `json:"removed_sentences,omitempty"` // Number of sentences removed by the filter
	Fallback           bool   `json:"fallback"`                    // Built from the result shape instead of the LLM
}
