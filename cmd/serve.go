package cmd

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"folio/internal/apihandlers"
)

var (
	serveAddr string // Listen address
	servePort string // Listen port
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Folio HTTP API tier",
	Long: `Starts the API server: job acceptance (start), polling (status),
cancellation, and job history for authenticated users. Accepted jobs run
on separate worker processes (see 'folio worker').`,
	RunE: func(cmd *cobra.Command, args []string) error {
		appInstance, err := GetAppFromContext(cmd.Context())
		if err != nil {
			return err
		}

		router := gin.Default() // Includes logger and recovery middleware

		apiHandler := apihandlers.NewAPIHandler(appInstance)

		v1 := router.Group("/api/v1")
		v1.Use(apihandlers.RequireUser())
		{
			// Accept endpoints, one per capability.
			v1.POST("/translate/start", apiHandler.StartTranslationHandler)
			v1.POST("/slides/format/start", apiHandler.StartSlideFormatHandler)
			v1.POST("/slides/generate/start", apiHandler.StartSlideGenerateHandler)
			v1.POST("/narration/start", apiHandler.StartNarrationHandler)
			v1.POST("/editor/start", apiHandler.StartEditorHandler)

			// Polling contract shared by every capability.
			jobGroup := v1.Group("/jobs")
			{
				jobGroup.GET("", apiHandler.ListJobsHandler)
				jobGroup.GET("/status/:job_id", apiHandler.JobStatusHandler)
				jobGroup.DELETE("/cancel/:job_id", apiHandler.CancelJobHandler)
			}
		}

		router.GET("/health", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"status": "ok"})
		})

		listenAddr := fmt.Sprintf("%s:%s", serveAddr, servePort)
		log.Printf("Starting Folio API server on http://%s", listenAddr)

		if err := router.Run(listenAddr); err != nil {
			log.Printf("ERROR: Failed to run API server: %v", err)
			return fmt.Errorf("failed to run API server: %w", err)
		}

		log.Println("Folio API server stopped.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost", "Address to listen on (e.g., '0.0.0.0' for all interfaces)")
	serveCmd.Flags().StringVar(&servePort, "port", "8080", "Port to listen on")
}
