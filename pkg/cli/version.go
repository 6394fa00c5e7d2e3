package cli

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ekaya-inc/ekaya-healthquery/pkg/adapters/datasource"
)

// NewVersionCommand creates the version command.
func NewVersionCommand(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Long:  `Display the ekaya-healthquery version, the Go toolchain it was built with and the compiled-in store drivers.`,
		Run: func(cmd *cobra.Command, _ []string) {
			var stores []string
			for _, info := range datasource.RegisteredAdapters() {
				stores = append(stores, info.Type)
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "ekaya-healthquery %s\n", version)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "built with %s\n", runtime.Version())
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stores: %s\n", strings.Join(stores, ", "))
		},
	}
}
