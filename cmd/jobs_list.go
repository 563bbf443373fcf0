package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
)

var (
	jobsListUser  string
	jobsListLimit int
	jobsListSkip  int
)

// jobsListCmd represents the list command for ledger jobs
var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List a user's jobs from the durable ledger",
	Long:  `Lists the jobs recorded in the MongoDB ledger for one user, newest first, with status and progress details.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if jobsListUser == "" {
			return fmt.Errorf("--user is required")
		}

		jobs, err := appInstance.StatusService.List(cmd.Context(), jobsListUser, jobsListLimit, jobsListSkip)
		if err != nil {
			return fmt.Errorf("failed to list jobs: %w", err)
		}

		if len(jobs) == 0 {
			fmt.Println("No jobs found.")
			return nil
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"Job ID", "Capability", "Status", "Progress", "Points", "Created At", "Completed At"})
		table.SetBorder(true)
		table.SetRowLine(true)

		for _, job := range jobs {
			progress := fmt.Sprintf("%d/%d", job.UnitsDone, job.UnitsTotal)
			if job.UnitsFailed > 0 {
				progress += fmt.Sprintf(" (%d failed)", job.UnitsFailed)
			}

			completedAtStr := "N/A"
			if job.CompletedAt != nil {
				completedAtStr = job.CompletedAt.Format(time.RFC3339)
			}

			table.Append([]string{
				job.JobID,
				job.Capability,
				colorStatus(job.Status),
				progress,
				fmt.Sprintf("%d", job.PointsReserved),
				job.CreatedAt.Format(time.RFC3339),
				completedAtStr,
			})
		}

		table.Render()
		return nil
	},
}

func colorStatus(status string) string {
	switch status {
	case "completed":
		return color.GreenString(status)
	case "failed":
		return color.RedString(status)
	case "cancelled":
		return color.YellowString(status)
	}
	return status
}

func init() {
	jobsCmd.AddCommand(jobsListCmd)

	jobsListCmd.Flags().StringVarP(&jobsListUser, "user", "u", "", "User whose jobs to list")
	jobsListCmd.Flags().IntVarP(&jobsListLimit, "limit", "n", 20, "Maximum number of jobs to list")
	jobsListCmd.Flags().IntVarP(&jobsListSkip, "skip", "s", 0, "Number of jobs to skip")
}
