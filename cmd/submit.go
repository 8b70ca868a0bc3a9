package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/sentinelworks/triage/internal/triage"
)

var (
	submitMerchant string
	submitStage    string
	submitURL      string
)

var submitCmd = &cobra.Command{
	Use:   "submit <message>",
	Short: "Submit a single issue signal for background triage",
	Long: `Submit one free-text issue signal. The session id is printed
immediately; a background worker runs the pipeline. Poll with
'triage sessions <id>'.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}
		defer svc.Close()

		id, err := svc.Submit(rootCmd.Context(), triage.SubmitInput{
			Message:    strings.Join(args, " "),
			MerchantID: submitMerchant,
			Stage:      submitStage,
			URL:        submitURL,
		})
		if err != nil {
			return err
		}

		ui.Success("Signal accepted, session %s", id)
		return nil
	},
}

func init() {
	submitCmd.Flags().StringVar(&submitMerchant, "merchant", "", "Affected merchant id")
	submitCmd.Flags().StringVar(&submitStage, "stage", "", "Migration stage (default post-migration)")
	submitCmd.Flags().StringVar(&submitURL, "url", "", "URL where the issue was observed")
	rootCmd.AddCommand(submitCmd)
}
