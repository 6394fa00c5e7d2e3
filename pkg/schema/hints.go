package schema

import (
	"strings"

	"github.com/jinzhu/inflection"
)

// Semantic types assigned to columns.
const (
	SemanticIdentifier  = "identifier"
	SemanticFlag        = "flag"
	SemanticCategorical = "categorical"
	SemanticMeasure     = "measure"
	SemanticText        = "text"
)

type hint struct {
	semantic    string
	description string
}

// knownColumns describes the columns of the healthcare dataset. Keys are lower case.
var knownColumns = map[string]hint{
	"patient_number":                {SemanticIdentifier, "Unique patient identifier"},
	"blood_pressure_abnormality":    {SemanticFlag, "0/1 boolean flag: 0=Normal, 1=Abnormal"},
	"level_of_hemoglobin":           {SemanticMeasure, "Hemoglobin level in g/dl"},
	"genetic_pedigree_coefficient":  {SemanticMeasure, "0-1, higher = closer family history"},
	"age":                           {SemanticMeasure, "Patient age in years"},
	"bmi":                           {SemanticMeasure, "Body Mass Index"},
	"sex":                           {SemanticCategorical, "0=Male, 1=Female"},
	"pregnancy":                     {SemanticFlag, "0/1 boolean flag: 0=No, 1=Yes"},
	"smoking":                       {SemanticFlag, "0/1 boolean flag: 0=No, 1=Yes"},
	"salt_content_in_the_diet":      {SemanticMeasure, "Salt intake in mg/day"},
	"alcohol_consumption_per_day":   {SemanticMeasure, "Alcohol intake in ml/day"},
	"level_of_stress":               {SemanticCategorical, "1=Low, 2=Normal, 3=High"},
	"chronic_kidney_disease":        {SemanticFlag, "0/1 boolean flag: 0=No, 1=Yes"},
	"adrenal_and_thyroid_disorders": {SemanticFlag, "0/1 boolean flag: 0=No, 1=Yes"},
	"day_number":                    {SemanticMeasure, "Day of observation (1-10)"},
	"physical_activity":             {SemanticMeasure, "Number of steps per day"},
}

var numericTypes = []string{"INT", "REAL", "FLOAT", "DOUBLE", "NUMERIC", "DECIMAL", "MONEY"}

// hintFor returns the semantic type and description for a column. Columns
// outside the fixed lookup are classified by name and declared type.
func hintFor(name, dataType string) hint {
	lower := strings.ToLower(name)
	if h, ok := knownColumns[lower]; ok {
		return h
	}

	switch {
	case lower == "id" || strings.HasSuffix(lower, "_id") || strings.HasSuffix(lower, "_number"):
		subject := strings.TrimSuffix(strings.TrimSuffix(lower, "_id"), "_number")
		if subject == "" || subject == "id" {
			return hint{SemanticIdentifier, "Row identifier"}
		}
		return hint{SemanticIdentifier, "Identifier of each " + humanize(inflection.Singular(subject))}
	case strings.HasPrefix(lower, "is_") || strings.HasPrefix(lower, "has_") || strings.HasSuffix(lower, "_flag"):
		return hint{SemanticFlag, "0/1 boolean flag"}
	case strings.HasSuffix(lower, "_count") || strings.HasPrefix(lower, "num_"):
		subject := strings.TrimPrefix(strings.TrimSuffix(lower, "_count"), "num_")
		return hint{SemanticMeasure, "Count of " + humanize(inflection.Plural(subject))}
	case isNumeric(dataType):
		return hint{SemanticMeasure, "Numeric value"}
	default:
		return hint{SemanticText, "Text value"}
	}
}

func isNumeric(dataType string) bool {
	upper := strings.ToUpper(dataType)
	for _, t := range numericTypes {
		if strings.Contains(upper, t) {
			return true
		}
	}
	return false
}

func humanize(s string) string {
	return strings.ReplaceAll(s, "_", " ")
}
