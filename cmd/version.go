package cmd

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/fotopedia-grab/internal/config"
)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the pipeline version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintf(cmd.OutOrStdout(), "grab %s (%s, requires %s)\n",
				config.Version, runtime.Version(), config.FetchVersion)
			return err
		},
	}
}
