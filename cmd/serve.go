package cmd

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/sentinelworks/triage/internal/api"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the triage HTTP API server",
	Long: `Start the REST API server for ticket submission, session polling,
and the approval queue. By default it listens on port 8080.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}
		defer svc.Close()

		logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: logLevel(),
		}))
		srv := api.NewServer(svc, logger)

		addr := fmt.Sprintf(":%d", viper.GetInt("serve.port"))
		ui.Info("Serving triage API at http://localhost%s", addr)
		return http.ListenAndServe(addr, srv.Router())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().IntP("port", "p", 8080, "port to listen on")
	_ = viper.BindPFlag("serve.port", serveCmd.Flags().Lookup("port"))
}
