package prompts

import (
	"fmt"
	"strings"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

// QueryExample is a worked question with its answer in both query kinds.
type QueryExample struct {
	Question   string
	Relational string
	Tabular    string
}

// FewShotExamples are shown to the model before every question.
var FewShotExamples = []QueryExample{
	{
		Question:   "How many patients have abnormal blood pressure?",
		Relational: "SELECT COUNT(*) FROM health_dataset_1 WHERE Blood_Pressure_Abnormality = 1;",
		Tabular:    `len(health_dataset_1[health_dataset_1["Blood_Pressure_Abnormality"] == 1])`,
	},
	{
		Question: "What is the average physical activity for patients with high stress?",
		Relational: "SELECT AVG(h2.Physical_activity) FROM health_dataset_1 h1 JOIN health_dataset_2 h2 " +
			"ON h1.Patient_Number = h2.Patient_Number WHERE h1.Level_of_Stress = 3;",
		Tabular: `health_dataset_1.merge(health_dataset_2, on="Patient_Number")[col("Level_of_Stress") == 3]["Physical_activity"].mean()`,
	},
	{
		Question:   "Show me patients above 60 years with BMI over 30",
		Relational: "SELECT Patient_Number, Age, BMI FROM health_dataset_1 WHERE Age > 60 AND BMI > 30;",
		Tabular:    `health_dataset_1[(health_dataset_1["Age"] > 60) & (health_dataset_1["BMI"] > 30)][["Patient_Number", "Age", "BMI"]]`,
	},
}

// QuerySystemPrompt is the system message for query generation.
func QuerySystemPrompt(kind models.QueryKind) string {
	if kind == models.QueryKindTabular {
		return "You are an expert data analyst who writes single pandas-style expressions over healthcare tables."
	}
	return "You are an expert SQL query generator for healthcare data analysis."
}

// BuildQueryPrompt builds the user message for one generation attempt.
// corrections holds the reason each earlier attempt was rejected, oldest first.
func BuildQueryPrompt(schemaText, question string, kind models.QueryKind, corrections []string) string {
	var prompt strings.Builder

	prompt.WriteString(schemaText)
	prompt.WriteString("\nINSTRUCTIONS:\n")
	if kind == models.QueryKindTabular {
		writeTabularInstructions(&prompt)
	} else {
		writeRelationalInstructions(&prompt)
	}

	prompt.WriteString("\nEXAMPLES:\n")
	for _, ex := range FewShotExamples {
		answer := ex.Relational
		label := "SQL"
		if kind == models.QueryKindTabular {
			answer = ex.Tabular
			label = "Expression"
		}
		prompt.WriteString(fmt.Sprintf("User: %q\n%s: %s\n\n", ex.Question, label, answer))
	}

	for i, reason := range corrections {
		prompt.WriteString(Correction(i+2, reason, kind))
		prompt.WriteString("\n")
	}

	prompt.WriteString(fmt.Sprintf("User Query: %s\n\n", question))
	if kind == models.QueryKindTabular {
		prompt.WriteString("Expression:")
	} else {
		prompt.WriteString("SQL Query:")
	}
	return prompt.String()
}

func writeRelationalInstructions(b *strings.Builder) {
	b.WriteString("1. Generate exactly one read-only SQL SELECT statement that answers the user's question\n")
	b.WriteString("2. Use JOIN on the join key when data from both tables is needed\n")
	b.WriteString("3. Use aggregations (COUNT, AVG, SUM, MAX, MIN) when the question asks for a number\n")
	b.WriteString("4. Use WHERE clauses for filtering\n")
	b.WriteString("5. Use column names exactly as they appear in the schema\n")
	b.WriteString("6. Use table aliases h1, h2 when joining\n")
	b.WriteString("7. Never write INSERT, UPDATE, DELETE, DROP or any statement that changes data\n")
	b.WriteString("8. Return ONLY the SQL query, no explanations\n")
}

func writeTabularInstructions(b *strings.Builder) {
	b.WriteString("1. Write exactly one pandas-style expression. Each table is a DataFrame bound to its table name\n")
	b.WriteString("2. Filter with T[condition] or T.filter(condition). Combine conditions with & | ~ and parentheses\n")
	b.WriteString("3. Refer to columns as T[\"Column\"] or col(\"Column\")\n")
	b.WriteString("4. Join with T.merge(other, on=\"<join key>\")\n")
	b.WriteString("5. Aggregate with len(), count(), sum(), mean(), min(), max(), size(), nunique(), value_counts(), groupby()\n")
	b.WriteString("6. Other allowed operations: head(n), sort_values(), round(n), isin([...]), between(a, b), agg(name=\"fn:column\")\n")
	b.WriteString("7. No imports, assignments, lambdas, comprehensions or other functions\n")
	b.WriteString("8. Return ONLY the expression, no explanations\n")
}

// Correction is the instruction appended for the given attempt after a rejected one.
// It grows more explicit with each attempt.
func Correction(attempt int, reason string, kind models.QueryKind) string {
	what := "SQL SELECT statement"
	if kind == models.QueryKindTabular {
		what = "pandas-style expression"
	}
	switch {
	case attempt <= 2:
		return fmt.Sprintf("NOTE: A previous answer could not be used (%s). Return one %s.\n", reason, what)
	case attempt == 3:
		return fmt.Sprintf("IMPORTANT: Another answer was rejected (%s). Reply with exactly one %s that uses only "+
			"the tables and columns listed above. Do not add prose, comments or markdown.\n", reason, what)
	default:
		return fmt.Sprintf("FINAL ATTEMPT: The answer was rejected again (%s). Your entire reply must be a single %s "+
			"and nothing else. Copy table and column names character for character from the schema.\n", reason, what)
	}
}
