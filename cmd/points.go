package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	pointsUser   string
	pointsAmount int64
)

// pointsCmd groups operator subcommands for the points ledger. Granting is
// deliberately CLI/billing-only; the job core can only reserve.
var pointsCmd = &cobra.Command{
	Use:   "points",
	Short: "Manage user points balances",
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var pointsGrantCmd = &cobra.Command{
	Use:   "grant",
	Short: "Add points to a user's balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if pointsUser == "" {
			return fmt.Errorf("--user is required")
		}
		if err := appInstance.GrantPoints(cmd.Context(), pointsUser, pointsAmount); err != nil {
			return fmt.Errorf("failed to grant points: %w", err)
		}
		balance, err := appInstance.Points.Balance(cmd.Context(), pointsUser)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		fmt.Printf("Granted %d points to %s (balance: %d)\n", pointsAmount, pointsUser, balance)
		return nil
	},
}

var pointsBalanceCmd = &cobra.Command{
	Use:   "balance",
	Short: "Show a user's points balance",
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}
		if pointsUser == "" {
			return fmt.Errorf("--user is required")
		}
		balance, err := appInstance.Points.Balance(cmd.Context(), pointsUser)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		fmt.Printf("%s: %d points\n", pointsUser, balance)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pointsCmd)
	pointsCmd.AddCommand(pointsGrantCmd)
	pointsCmd.AddCommand(pointsBalanceCmd)

	pointsCmd.PersistentFlags().StringVarP(&pointsUser, "user", "u", "", "User id")
	pointsGrantCmd.Flags().Int64VarP(&pointsAmount, "amount", "a", 0, "Points to grant")
}
