package cli

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
	"github.com/ekaya-inc/ekaya-healthquery/pkg/services"
)

func newSuiteCommand(rt *state) *cobra.Command {
	var (
		kind      string
		format    string
		reportDir string
		questions []string
		noReport  bool
	)

	cmd := &cobra.Command{
		Use:   "suite",
		Short: "Run the evaluation suite and write evaluation_report.json",
		Long: `Run each question through the pipeline, score the outcome and write the
report to the evaluation report directory. Without --question the four default
questions are used.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			queryKind, err := models.ParseQueryKind(kind)
			if err != nil {
				return err
			}
			if reportDir == "" {
				reportDir = rt.cfg.Evaluation.ReportDir
			}

			a, err := rt.newApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					rt.logger.Warn("Failed to close store", zap.Error(err))
				}
			}()

			report, err := a.Pipeline.RunSuite(cmd.Context(), questions, queryKind)
			if err != nil {
				return err
			}

			var path string
			if !noReport {
				if path, err = services.WriteReport(reportDir, report); err != nil {
					return err
				}
			}

			if format == formatJSON {
				return renderJSON(cmd.OutOrStdout(), report)
			}
			renderSuite(cmd.OutOrStdout(), report, path)
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(models.QueryKindRelational), "query kind: relational or tabular")
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "output format: table or json")
	cmd.Flags().StringVar(&reportDir, "report-dir", "", "directory for evaluation_report.json (default from config)")
	cmd.Flags().StringArrayVarP(&questions, "question", "q", nil, "question to evaluate (repeatable)")
	cmd.Flags().BoolVar(&noReport, "no-report", false, "print the scores without writing the report file")
	return cmd
}
