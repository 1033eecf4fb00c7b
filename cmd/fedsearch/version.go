package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/fedsearch/internal/version"
)

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fedsearch %s (commit %s, built %s)\n",
				version.Version, version.Commit, version.Date)
		},
	}
}
