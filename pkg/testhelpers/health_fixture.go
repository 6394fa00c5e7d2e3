package testhelpers

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource/sqlite"
)

// Known facts about the seeded health dataset.
const (
	FixturePatients       = 2000
	FixtureAbnormalBP     = 987
	FixtureCKDPatients    = 100
	FixtureCKDMeanAge     = 45.09
	FixtureActivityDays   = 10
	FixtureHighStress     = 666 // Level_of_Stress = 3
	FixturePatientsTable  = "health_dataset_1"
	FixtureActivityTable  = "health_dataset_2"
	fixtureCKDEvery       = FixturePatients / FixtureCKDPatients
	fixtureInsertBatchLen = 250
)

// HealthFixture is an in-memory SQLite store seeded with the health dataset.
type HealthFixture struct {
	Datasource *datasource.SQLDatasource
}

// NewHealthFixture opens and seeds a private in-memory store, closed at test cleanup.
func NewHealthFixture(t *testing.T) *HealthFixture {
	t.Helper()
	ctx := context.Background()

	ds, err := sqlite.Open(ctx, ":memory:", datasource.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = ds.Close() })

	require.NoError(t, SeedHealthData(ctx, ds.DB(), QuestionMarks))
	return &HealthFixture{Datasource: ds}
}

// Placeholders renders the bind parameter for the n-th argument (1-based).
type Placeholders func(n int) string

// QuestionMarks is the SQLite and DuckDB placeholder style.
func QuestionMarks(int) string { return "?" }

// DollarNumbers is the PostgreSQL placeholder style.
func DollarNumbers(n int) string { return fmt.Sprintf("$%d", n) }

var patientColumns = []string{
	"Patient_Number", "Blood_Pressure_Abnormality", "Level_of_Hemoglobin", "Genetic_Pedigree_Coefficient",
	"Age", "BMI", "Sex", "Pregnancy", "Smoking", "salt_content_in_the_diet", "alcohol_consumption_per_day",
	"Level_of_Stress", "Chronic_kidney_disease", "Adrenal_and_thyroid_disorders",
}

var activityColumns = []string{"Patient_Number", "Day_Number", "Physical_activity"}

// SeedHealthData creates and fills the two health tables on db.
func SeedHealthData(ctx context.Context, db *sql.DB, ph Placeholders) error {
	ddl := []string{
		`CREATE TABLE health_dataset_1 (
			Patient_Number INTEGER NOT NULL,
			Blood_Pressure_Abnormality INTEGER NOT NULL,
			Level_of_Hemoglobin REAL,
			Genetic_Pedigree_Coefficient REAL,
			Age INTEGER NOT NULL,
			BMI REAL,
			Sex INTEGER,
			Pregnancy INTEGER,
			Smoking INTEGER,
			salt_content_in_the_diet INTEGER,
			alcohol_consumption_per_day INTEGER,
			Level_of_Stress INTEGER,
			Chronic_kidney_disease INTEGER NOT NULL,
			Adrenal_and_thyroid_disorders INTEGER
		)`,
		`CREATE TABLE health_dataset_2 (
			Patient_Number INTEGER NOT NULL,
			Day_Number INTEGER NOT NULL,
			Physical_activity INTEGER
		)`,
	}
	for _, stmt := range ddl {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	patients := make([][]any, 0, FixturePatients)
	activity := make([][]any, 0, FixturePatients*FixtureActivityDays)
	ckdSeen := 0
	for i := 1; i <= FixturePatients; i++ {
		ckd := 0
		age := 18 + (i*13)%70
		if i%fixtureCKDEvery == 0 {
			ckd = 1
			age = ckdAge(ckdSeen)
			ckdSeen++
		}
		abnormal := 0
		if i <= FixtureAbnormalBP {
			abnormal = 1
		}
		sex := i % 2
		pregnancy := 0
		if sex == 1 && age < 45 && i%7 == 0 {
			pregnancy = 1
		}
		patients = append(patients, []any{
			i,
			abnormal,
			10.0 + float64(i%70)/10,
			float64(i%100) / 100,
			age,
			18.5 + float64((i*7)%25),
			sex,
			pregnancy,
			boolInt(i%5 == 0),
			20000 + (i*97)%30000,
			(i * 11) % 500,
			1 + i%3,
			ckd,
			boolInt(i%9 == 0),
		})
		for d := 1; d <= FixtureActivityDays; d++ {
			activity = append(activity, []any{i, d, 1000 + (i*37+d*101)%9000})
		}
	}

	if err := insertRows(ctx, db, ph, FixturePatientsTable, patientColumns, patients); err != nil {
		return err
	}
	return insertRows(ctx, db, ph, FixtureActivityTable, activityColumns, activity)
}

// ckdAge spreads the kidney-disease ages around 45 so they sum to 4509.
func ckdAge(k int) int {
	switch {
	case k == FixtureCKDPatients-2:
		return 45
	case k == FixtureCKDPatients-1:
		return 54
	case k%2 == 0:
		return 40
	default:
		return 50
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func insertRows(ctx context.Context, db *sql.DB, ph Placeholders, table string, columns []string, rows [][]any) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin seed transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for start := 0; start < len(rows); start += fixtureInsertBatchLen {
		end := min(start+fixtureInsertBatchLen, len(rows))
		batch := rows[start:end]

		var sb strings.Builder
		fmt.Fprintf(&sb, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
		args := make([]any, 0, len(batch)*len(columns))
		for r, row := range batch {
			if r > 0 {
				sb.WriteString(", ")
			}
			sb.WriteByte('(')
			for c := range row {
				if c > 0 {
					sb.WriteString(", ")
				}
				sb.WriteString(ph(len(args) + 1))
				args = append(args, row[c])
			}
			sb.WriteByte(')')
		}
		if _, err := tx.ExecContext(ctx, sb.String(), args...); err != nil {
			return fmt.Errorf("failed to seed %s: %w", table, err)
		}
	}
	return tx.Commit()
}
