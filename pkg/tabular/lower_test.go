package tabular

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

func healthTables() []models.TableSchema {
	cols := func(names ...string) []models.Column {
		out := make([]models.Column, len(names))
		for i, n := range names {
			out[i] = models.Column{Name: n, DataType: "INTEGER"}
		}
		return out
	}
	return []models.TableSchema{
		{
			Name: "health_dataset_1",
			Columns: cols("Patient_Number", "Blood_Pressure_Abnormality", "Age", "BMI", "Sex",
				"Smoking", "Level_of_Stress", "Chronic_kidney_disease"),
		},
		{
			Name:    "health_dataset_2",
			Columns: cols("Patient_Number", "Day_Number", "Physical_activity"),
		},
	}
}

func lower(t *testing.T, src string) (*Lowered, error) {
	t.Helper()
	p, err := Parse(src)
	require.NoError(t, err)
	return Lower(p, Options{Tables: healthTables()})
}

func TestLower(t *testing.T) {
	tests := []struct {
		name      string
		src       string
		wantSQL   string
		wantLimit int
		wantRound int
	}{
		{
			name:      "count with filter",
			src:       `len(health_dataset_1[health_dataset_1["Blood_Pressure_Abnormality"] == 1])`,
			wantSQL:   `SELECT COUNT(*) AS "count" FROM "health_dataset_1" WHERE "health_dataset_1"."Blood_Pressure_Abnormality" = 1`,
			wantRound: -1,
		},
		{
			name:      "filtered mean with rounding",
			src:       `health_dataset_1[health_dataset_1["Chronic_kidney_disease"] == 1]["Age"].mean().round(2)`,
			wantSQL:   `SELECT AVG("health_dataset_1"."Age" * 1.0) AS "mean_age" FROM "health_dataset_1" WHERE "health_dataset_1"."Chronic_kidney_disease" = 1`,
			wantRound: 2,
		},
		{
			name: "merge on key then filter by unqualified column",
			src:  `health_dataset_1.merge(health_dataset_2, on="Patient_Number")[col("Level_of_Stress") == 3]["Physical_activity"].mean()`,
			wantSQL: `SELECT AVG("health_dataset_2"."Physical_activity" * 1.0) AS "mean_physical_activity" ` +
				`FROM "health_dataset_1" JOIN "health_dataset_2" ON "health_dataset_1"."Patient_Number" = "health_dataset_2"."Patient_Number" ` +
				`WHERE "health_dataset_1"."Level_of_Stress" = 3`,
			wantRound: -1,
		},
		{
			name: "merge infers the shared key",
			src:  `health_dataset_2.merge(health_dataset_1, how="left")`,
			wantSQL: `SELECT * FROM "health_dataset_2" LEFT JOIN "health_dataset_1" ON ` +
				`"health_dataset_2"."Patient_Number" = "health_dataset_1"."Patient_Number"`,
			wantRound: -1,
		},
		{
			name: "group, aggregate, sort and head",
			src:  `health_dataset_1.groupby("Sex")["BMI"].mean().sort_values(ascending=False).head(2)`,
			wantSQL: `SELECT "health_dataset_1"."Sex" AS "Sex", AVG("health_dataset_1"."BMI" * 1.0) AS "mean_bmi" ` +
				`FROM "health_dataset_1" GROUP BY "health_dataset_1"."Sex" ORDER BY "mean_bmi" DESC`,
			wantLimit: 2,
			wantRound: -1,
		},
		{
			name: "group size",
			src:  `health_dataset_1.groupby(["Sex", "Smoking"]).size().reset_index()`,
			wantSQL: `SELECT "health_dataset_1"."Sex" AS "Sex", "health_dataset_1"."Smoking" AS "Smoking", COUNT(*) AS "size" ` +
				`FROM "health_dataset_1" GROUP BY "health_dataset_1"."Sex", "health_dataset_1"."Smoking"`,
			wantRound: -1,
		},
		{
			name: "value counts",
			src:  `health_dataset_1["Level_of_Stress"].value_counts()`,
			wantSQL: `SELECT "health_dataset_1"."Level_of_Stress" AS "Level_of_Stress", COUNT(*) AS "count" ` +
				`FROM "health_dataset_1" GROUP BY "health_dataset_1"."Level_of_Stress" ORDER BY "count" DESC`,
			wantRound: -1,
		},
		{
			name: "projection with combined conditions",
			src:  `health_dataset_1[(health_dataset_1["Age"] > 60) & health_dataset_1["Sex"].isin([0, 1])][["Patient_Number", "Age", "BMI"]]`,
			wantSQL: `SELECT "health_dataset_1"."Patient_Number", "health_dataset_1"."Age", "health_dataset_1"."BMI" ` +
				`FROM "health_dataset_1" WHERE ("health_dataset_1"."Age" > 60 AND "health_dataset_1"."Sex" IN (0, 1))`,
			wantRound: -1,
		},
		{
			name:      "literal on the left is flipped",
			src:       `health_dataset_1[30 < health_dataset_1["BMI"]]`,
			wantSQL:   `SELECT * FROM "health_dataset_1" WHERE "health_dataset_1"."BMI" > 30`,
			wantRound: -1,
		},
		{
			name:      "negation, or and between via filter",
			src:       `health_dataset_1.filter(~(col("Smoking") == 1) | col("Age").between(40, 50)).select("Age")`,
			wantSQL:   `SELECT "health_dataset_1"."Age" FROM "health_dataset_1" WHERE (NOT ("health_dataset_1"."Smoking" = 1) OR "health_dataset_1"."Age" BETWEEN 40 AND 50)`,
			wantRound: -1,
		},
		{
			name:      "string literals are escaped and None becomes IS NULL",
			src:       `health_dataset_1[(health_dataset_1["Sex"] == "it's") and (health_dataset_1["BMI"] != None)]`,
			wantSQL:   `SELECT * FROM "health_dataset_1" WHERE ("health_dataset_1"."Sex" = 'it''s' AND "health_dataset_1"."BMI" IS NOT NULL)`,
			wantRound: -1,
		},
		{
			name:      "named aggregations",
			src:       `health_dataset_1.agg(avg_age="mean:Age", patients="size", smokers="sum:Smoking")`,
			wantSQL:   `SELECT AVG("health_dataset_1"."Age" * 1.0) AS "avg_age", COUNT(*) AS "patients", SUM("health_dataset_1"."Smoking") AS "smokers" FROM "health_dataset_1"`,
			wantRound: -1,
		},
		{
			name:      "distinct values of a column",
			src:       `health_dataset_2["Day_Number"].unique()`,
			wantSQL:   `SELECT DISTINCT "health_dataset_2"."Day_Number" FROM "health_dataset_2"`,
			wantRound: -1,
		},
		{
			name:      "plain column sorted and limited",
			src:       `health_dataset_1["Age"].sort_values(ascending=False).head(5)`,
			wantSQL:   `SELECT "health_dataset_1"."Age" FROM "health_dataset_1" ORDER BY "health_dataset_1"."Age" DESC`,
			wantLimit: 5,
			wantRound: -1,
		},
		{
			name:      "distinct count",
			src:       `health_dataset_2["Patient_Number"].nunique()`,
			wantSQL:   `SELECT COUNT(DISTINCT "health_dataset_2"."Patient_Number") AS "nunique_patient_number" FROM "health_dataset_2"`,
			wantRound: -1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := lower(t, tt.src)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSQL, got.SQL)
			assert.Equal(t, tt.wantLimit, got.Limit)
			assert.Equal(t, tt.wantRound, got.RoundDigits)
		})
	}
}

func TestLower_CustomQuote(t *testing.T) {
	p, err := Parse(`len(health_dataset_1)`)
	require.NoError(t, err)

	got, err := Lower(p, Options{
		Tables: healthTables(),
		Quote:  func(s string) string { return "[" + s + "]" },
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT COUNT(*) AS [count] FROM [health_dataset_1]`, got.SQL)
}

func TestLower_Rejects(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{name: "unknown table", src: `patients["Age"].mean()`},
		{name: "unknown column", src: `health_dataset_1["Weight"].mean()`},
		{name: "unknown operation", src: `health_dataset_1.query("Age > 3")`},
		{name: "bare attribute", src: `health_dataset_1.columns`},
		{name: "unknown function", src: `eval("1")`},
		{name: "lambda", src: `health_dataset_1["Age"].apply(lambda x: x)`},
		{name: "arithmetic", src: `health_dataset_1["Age"] + 1`},
		{name: "filter after aggregation", src: `health_dataset_1.groupby("Sex").size()[col("size") > 1]`},
		{name: "condition at top level", src: `health_dataset_1["Age"] > 3`},
		{name: "literal at top level", src: `42`},
		{name: "column from another table", src: `health_dataset_1[health_dataset_2["Day_Number"] == 1]`},
		{name: "non-literal head", src: `health_dataset_1.head(health_dataset_1)`},
		{name: "unknown keyword", src: `health_dataset_1.merge(health_dataset_2, left_on="Patient_Number")`},
		{name: "bad merge how", src: `health_dataset_1.merge(health_dataset_2, how="outer")`},
		{name: "none ordered", src: `health_dataset_1[health_dataset_1["Age"] > None]`},
		{name: "unbound col", src: `col("Age")`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := lower(t, tt.src)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrUnsupported)
		})
	}
}
