package main

import (
	"os"

	"github.com/qw4990/pds_replay/cmd"
	"github.com/spf13/cobra"
)

var (
	rootCmd = &cobra.Command{
		Use:           "pds-replay",
		Short:         "physical design experiment engine",
		Long:          `replay a query workload against a database while shifting its physical design structures, and measure the cost of every round`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	cobra.OnInitialize()
	rootCmd.AddCommand(cmd.NewRunCmd())
	rootCmd.AddCommand(cmd.NewPreCheckCmd())
	rootCmd.AddCommand(cmd.NewCleanupCmd())
	rootCmd.AddCommand(cmd.NewParsePlanCmd())
	rootCmd.AddCommand(cmd.NewWhatIfCmd())
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		cmd.PrintError(err)
		os.Exit(1)
	}
}
