package cmd

import (
	"github.com/spf13/cobra"
)

// jobsCmd groups operator subcommands for inspecting the job ledger.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect recorded jobs",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.AddCommand(jobsCmd)
}
