package cli

import (
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/models"
)

func newAskCommand(rt *state) *cobra.Command {
	var (
		kind   string
		format string
	)

	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question and print the query, rows and insight",
		Example: `  ekaya-healthquery ask "How many patients have abnormal blood pressure?"
  ekaya-healthquery ask --kind tabular "What is the average age of patients with chronic kidney disease?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			queryKind, err := models.ParseQueryKind(kind)
			if err != nil {
				return err
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

			tx := a.Pipeline.ProcessQuery(cmd.Context(), strings.Join(args, " "), queryKind)
			if format == formatJSON {
				if err := renderJSON(cmd.OutOrStdout(), tx); err != nil {
					return err
				}
			} else {
				renderTransaction(cmd.OutOrStdout(), tx)
			}
			if tx.Error != nil {
				return tx.Error
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "kind", string(models.QueryKindRelational), "query kind: relational or tabular")
	cmd.Flags().StringVarP(&format, "format", "o", formatTable, "output format: table or json")
	return cmd
}
