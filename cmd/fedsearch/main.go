package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/kailas-cloud/fedsearch/internal/config"
)

var (
	envName    string
	configFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "fedsearch",
		Short: "Federated FHIR search proxy",
		Long: `fedsearch fronts a primary FHIR server. Eligible search requests are fanned
out to the configured peer servers and their results are merged into the
primary's searchset. Everything else is proxied to the primary untouched.`,
		SilenceUsage: true,
		RunE:         runServe,
	}

	rootCmd.PersistentFlags().StringVar(&envName, "env", config.GetEnv(), "environment name (selects config/<env>.yaml)")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "explicit config file path")

	rootCmd.AddCommand(
		serveCmd(),
		peersCmd(),
		versionCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig prefers an explicit --config file over the environment lookup.
func loadConfig() (config.Config, error) {
	if configFile != "" {
		return config.LoadFile(configFile)
	}
	return config.Load(envName)
}
