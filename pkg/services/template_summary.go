package services

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/prompts"
)

// maxBreakdownGroups is the most groups a templated breakdown lists.
const maxBreakdownGroups = 10

// TemplateSummary describes a result from its shape alone: a count, a single
// value, a group breakdown or a row listing with column averages.
func TemplateSummary(result *models.ExecutionResult, population *prompts.Population) string {
	if result == nil || result.RowCount == 0 {
		return "The query returned no matching rows."
	}

	if col, value, ok := result.Scalar(); ok {
		return scalarSummary(col, value, population)
	}

	var b strings.Builder
	if label, valueCol, ok := breakdownColumns(result); ok && result.RowCount <= maxBreakdownGroups {
		parts := make([]string, 0, len(result.Rows))
		for _, row := range result.Rows {
			parts = append(parts, fmt.Sprintf("%s %s: %s", label, prompts.FormatValue(row[label]), prompts.FormatValue(row[valueCol])))
		}
		fmt.Fprintf(&b, "Breakdown of %s by %s across %d groups: %s.", valueCol, label, result.RowCount, strings.Join(parts, "; "))
	} else {
		fmt.Fprintf(&b, "The query returned %d rows with columns %s.", result.RowCount, strings.Join(result.Columns, ", "))
		for _, col := range result.Columns {
			if avg, ok := columnAverage(result.Rows, col); ok && !isIdentifierColumn(col) {
				fmt.Fprintf(&b, " The average %s across these rows is %s.", col, prompts.FormatValue(avg))
			}
		}
	}
	if result.Truncated {
		fmt.Fprintf(&b, " Only the first %d rows were returned.", result.RowCount)
	}
	return b.String()
}

func scalarSummary(col string, value any, population *prompts.Population) string {
	formatted := prompts.FormatValue(value)
	n, numeric := prompts.Number(value)
	lower := strings.ToLower(col)

	switch {
	case numeric && prompts.IsCountColumn(col):
		s := fmt.Sprintf("The query found %s matching records.", formatted)
		if population != nil && population.Total > 0 {
			s += fmt.Sprintf(" This represents %s out of %d total patients (%.1f%%).", formatted, population.Total, population.Percentage(n))
		}
		return s
	case numeric && (strings.Contains(lower, "avg") || strings.Contains(lower, "mean") || strings.Contains(lower, "average")):
		return fmt.Sprintf("The average value (%s) is %s.", col, formatted)
	default:
		return fmt.Sprintf("The query returned %s = %s.", col, formatted)
	}
}

// breakdownColumns finds a two-column group result: one label column and one numeric value column.
func breakdownColumns(result *models.ExecutionResult) (string, string, bool) {
	if len(result.Columns) != 2 {
		return "", "", false
	}
	label, value := result.Columns[0], result.Columns[1]
	if _, ok := columnAverage(result.Rows, value); !ok {
		return "", "", false
	}
	return label, value, true
}

func columnAverage(rows []models.Row, col string) (float64, bool) {
	var sum float64
	var n int
	for _, row := range rows {
		v, present := row[col]
		if !present || v == nil {
			continue
		}
		if _, isString := v.(string); isString {
			return 0, false
		}
		f, ok := prompts.Number(v)
		if !ok {
			return 0, false
		}
		sum += f
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

func isIdentifierColumn(col string) bool {
	lower := strings.ToLower(col)
	return lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "_number")
}
