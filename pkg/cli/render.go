package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/services"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func validateFormat(format string) error {
	if format != formatTable && format != formatJSON {
		return fmt.Errorf("unknown output format %q (use %s or %s)", format, formatTable, formatJSON)
	}
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTransaction prints the query, the bounded rows and the insight.
func renderTransaction(w io.Writer, tx *models.Transaction) {
	if tx.GeneratedQuery != nil {
		_, _ = fmt.Fprintf(w, "Query (%s):\n%s\n\n", tx.GeneratedQuery.Kind, tx.GeneratedQuery.Text)
	}
	if tx.ExecutionResult != nil {
		renderRows(w, tx.ExecutionResult)
		_, _ = fmt.Fprintln(w)
	}
	if tx.Insight != nil {
		_, _ = fmt.Fprintln(w, tx.Insight.Text)
	}
}

func renderRows(w io.Writer, result *models.ExecutionResult) {
	if result.RowCount == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)

	header := make(table.Row, len(result.Columns))
	for i, col := range result.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, r := range result.Rows {
		row := make(table.Row, len(result.Columns))
		for i, col := range result.Columns {
			row[i] = formatValue(r[col])
		}
		t.AppendRow(row)
	}
	t.Render()

	if result.Truncated {
		_, _ = fmt.Fprintf(w, "(%d rows, truncated at the row cap)\n", result.RowCount)
	} else {
		_, _ = fmt.Fprintf(w, "(%d rows)\n", result.RowCount)
	}
}

func renderSuite(w io.Writer, report *services.SuiteReport, path string) {
	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Question", "Outcome", "SQL", "Relevance", "Coherence", "Safety", "Overall"})
	for _, item := range report.Items {
		outcome := "ok"
		if item.Error != nil {
			outcome = string(item.Error.Kind)
		} else if item.Fallback {
			outcome = "fallback"
		}
		t.AppendRow(table.Row{
			item.Question, outcome,
			score(item.Score.SQLAccuracy), score(item.Score.Relevance),
			score(item.Score.Coherence), score(item.Score.Safety), score(item.Score.Overall),
		})
	}
	a := report.Aggregate
	t.AppendFooter(table.Row{
		fmt.Sprintf("%d/%d answered", report.Succeeded, report.TotalQueries), "",
		score(a.SQLAccuracy), score(a.Relevance), score(a.Coherence), score(a.Safety), score(a.Overall),
	})
	t.Render()

	if path != "" {
		_, _ = fmt.Fprintf(w, "Report written to %s\n", path)
	}
}

func score(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}

func formatValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case []byte:
		return string(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
