package prompts

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

// MaxPromptRows is how many result rows are shown to the model.
const MaxPromptRows = 10

// InsightSystemPrompt is the system message for insight generation.
const InsightSystemPrompt = "You are a healthcare data analyst describing query results. " +
	"You describe what the data shows. You never give diagnoses, treatment advice or recommendations."

// Population is the size of the whole patient table, used to put a count in context.
type Population struct {
	Total int64
}

// Percentage returns part as a percentage of the population.
func (p *Population) Percentage(part float64) float64 {
	if p == nil || p.Total <= 0 {
		return 0
	}
	return part * 100 / float64(p.Total)
}

// BuildInsightPrompt builds the user message for insight generation. Only the
// capped result subset is included, never the source tables.
func BuildInsightPrompt(question, queryText string, result *models.ExecutionResult, population *Population) string {
	var prompt strings.Builder

	prompt.WriteString("Based on the user's question and the EXACT query results, provide a clear, descriptive response.\n\n")
	prompt.WriteString("CRITICAL INSTRUCTIONS:\n")
	prompt.WriteString("- Use ONLY the exact numbers from the results below\n")
	prompt.WriteString("- If a count and total are provided, you may state the percentage\n")
	prompt.WriteString("- Be precise; do not estimate or guess\n")
	prompt.WriteString("- Describe the data only. Do not diagnose, recommend treatment or give medical advice\n\n")

	prompt.WriteString(fmt.Sprintf("User's Question: %s\n\n", question))
	prompt.WriteString(fmt.Sprintf("Query Executed:\n%s\n\n", queryText))
	prompt.WriteString(FormatResult(result, population))
	prompt.WriteString("\n\nProvide a clear, concise analysis (1-3 short paragraphs) using the exact numbers above:")

	return prompt.String()
}

// FormatResult renders an execution result for a prompt.
func FormatResult(result *models.ExecutionResult, population *Population) string {
	if result == nil || result.RowCount == 0 {
		return "Query Results:\nNo results found"
	}

	if col, value, ok := result.Scalar(); ok {
		s := fmt.Sprintf("The query returned: %s = %s", col, FormatValue(value))
		if n, isNum := Number(value); isNum && population != nil && population.Total > 0 && IsCountColumn(col) {
			s += fmt.Sprintf("\nThis represents %s out of %d total patients (%.1f%%)",
				FormatValue(value), population.Total, population.Percentage(n))
		}
		return s
	}

	var b strings.Builder
	b.WriteString("Query Results:\n")
	shown := result.Rows
	if len(shown) > MaxPromptRows {
		fmt.Fprintf(&b, "Total rows: %d\nFirst %d rows:\n", result.RowCount, MaxPromptRows)
		shown = shown[:MaxPromptRows]
	}
	b.WriteString(FormatTable(result.Columns, shown))
	if len(result.Rows) > MaxPromptRows {
		fmt.Fprintf(&b, "\n... (showing first %d of %d rows)", MaxPromptRows, result.RowCount)
	}
	if result.Truncated {
		fmt.Fprintf(&b, "\n(result capped at %d rows)", result.RowCount)
	}
	return b.String()
}

// FormatTable renders rows as aligned plain-text columns.
func FormatTable(columns []string, rows []models.Row) string {
	if len(columns) == 0 && len(rows) > 0 {
		for k := range rows[0] {
			columns = append(columns, k)
		}
		sort.Strings(columns)
	}

	cells := make([][]string, len(rows)+1)
	cells[0] = columns
	widths := make([]int, len(columns))
	for i, c := range columns {
		widths[i] = len(c)
	}
	for r, row := range rows {
		line := make([]string, len(columns))
		for i, c := range columns {
			line[i] = FormatValue(row[c])
			if len(line[i]) > widths[i] {
				widths[i] = len(line[i])
			}
		}
		cells[r+1] = line
	}

	var b strings.Builder
	for r, line := range cells {
		if r > 0 {
			b.WriteString("\n")
		}
		for i, cell := range line {
			if i > 0 {
				b.WriteString("  ")
			}
			if i == len(line)-1 {
				b.WriteString(cell)
			} else {
				fmt.Fprintf(&b, "%-*s", widths[i], cell)
			}
		}
	}
	return b.String()
}

// FormatValue renders a scalar with floats rounded to 2 decimals.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return formatFloat(x)
	case float32:
		return formatFloat(float64(x))
	case []byte:
		return string(x)
	case time.Time:
		return x.Format("2006-01-02")
	case string:
		return x
	default:
		return fmt.Sprint(x)
	}
}

func formatFloat(f float64) string {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return strconv.FormatInt(int64(f), 10)
	}
	return strconv.FormatFloat(math.Round(f*100)/100, 'f', -1, 64)
}

// Number converts a numeric scalar to float64.
func Number(v any) (float64, bool) {
	switch x := v.(type) {
	case int:
		return float64(x), true
	case int8:
		return float64(x), true
	case int16:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	case uint64:
		return float64(x), true
	case float32:
		return float64(x), true
	case float64:
		return x, true
	case []byte:
		f, err := strconv.ParseFloat(string(x), 64)
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// IsCountColumn reports whether a result column holds a count.
func IsCountColumn(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "count") || lower == "size" || lower == "total" || strings.HasPrefix(lower, "num_")
}
