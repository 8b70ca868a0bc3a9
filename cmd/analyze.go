package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/sentinelworks/triage/internal/output"
	"github.com/sentinelworks/triage/internal/triage"
)

var analyzeFile string

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Run a triage pass over a batch of tickets and errors",
	Long: `Run the full triage pipeline synchronously over a JSON batch of
support tickets and error reports, read from --file or stdin.

The input format:

  {
    "tickets": [{"merchant_id": "m1", "subject": "...", "description": "...", "migration_stage": "post-migration"}],
    "errors":  [{"error_message": "...", "error_code": "500"}]
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return analyzeRun()
	},
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeFile, "file", "f", "", "JSON input file (default stdin)")
	rootCmd.AddCommand(analyzeCmd)
}

func analyzeRun() error {
	var in io.Reader = os.Stdin
	if analyzeFile != "" {
		f, err := os.Open(analyzeFile)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}

	var req triage.AnalyzeRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	svc, err := getService()
	if err != nil {
		return err
	}
	defer svc.Close()

	ui.Info("Analyzing %d tickets and %d errors...", len(req.Tickets), len(req.Errors))

	out, err := svc.Analyze(rootCmd.Context(), req)
	if err != nil {
		return err
	}

	fmt.Fprintln(ui.Out)
	ui.Success("Session %s", out.SessionID)

	table := ui.Table([]string{"Field", "Value"})
	table.Append([]string{"Pattern", out.ObservedPattern})
	table.Append([]string{"Root cause", out.RootCause})
	table.Append([]string{"Confidence", output.ConfidencePercent(out.Confidence)})
	table.Append([]string{"Risk", output.RiskColor(out.Risk)})
	table.Append([]string{"Needs approval", fmt.Sprintf("%t", out.RequiresApproval)})
	table.Append([]string{"Learning flag", fmt.Sprintf("%t", out.LearningFlag)})
	table.Render()

	if out.RequiresApproval {
		fmt.Fprintln(ui.Out)
		ui.Warning("Queued for human review. Run 'triage queue' to see pending approvals.")
	}

	if verbose && out.Explanation != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, out.Explanation)
	}
	return nil
}
