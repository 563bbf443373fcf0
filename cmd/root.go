package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"folio/internal/app"
	"folio/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "folio",
	Short: "Folio job platform CLI",
	Long:  `Folio runs the asynchronous job platform behind translation, slide, narration and editing workloads: the API tier, the queue workers, and operator tooling.`,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
	// PersistentPreRunE runs before any subcommand's RunE
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Name() == "help" || cmd.Name() == "version" {
			return nil
		}

		cfg, err := config.LoadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		appInstance, err := app.NewApp(cfg)
		if err != nil {
			return fmt.Errorf("failed to initialize app: %w", err)
		}

		ctx := context.WithValue(cmd.Context(), appKey, appInstance)
		cmd.SetContext(ctx)
		return nil
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Define a custom type for the context key to avoid collisions.
type contextKey string

const appKey contextKey = "app"

// GetAppFromContext retrieves the app instance stored by PersistentPreRunE.
func GetAppFromContext(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, fmt.Errorf("application instance not found in context")
	}
	return appInstance, nil
}

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check Redis and MongoDB connectivity",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		appInstance, err := GetAppFromContext(ctx)
		if err != nil {
			return fmt.Errorf("failed to get app instance: %w", err)
		}

		fmt.Println("Checking store connectivity...")
		if err := appInstance.PingStores(ctx); err != nil {
			return fmt.Errorf("store ping failed: %w", err)
		}
		fmt.Println("Redis and MongoDB connections successful.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}
