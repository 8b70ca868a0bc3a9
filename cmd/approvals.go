package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sentinelworks/triage/internal/output"
)

var (
	decideNotes      string
	decideResolution string
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List approval requests awaiting review",
	RunE: func(cmd *cobra.Command, args []string) error {
		return queueRun()
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <approval-id>",
	Short: "Approve a pending action; the session resumes and dispatches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideRun(args[0], true)
	},
}

var rejectCmd = &cobra.Command{
	Use:   "reject <approval-id>",
	Short: "Reject a pending action; the session terminates",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return decideRun(args[0], false)
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, rejectCmd} {
		c.Flags().StringVar(&decideNotes, "notes", "", "Reviewer notes")
		c.Flags().StringVar(&decideResolution, "resolution", "", "What actually resolved the issue")
	}
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(rejectCmd)
}

func queueRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}

	reqs, err := svc.PendingApprovals(rootCmd.Context())
	if err != nil {
		return err
	}
	if len(reqs) == 0 {
		ui.Success("Approval queue is empty.")
		return nil
	}

	table := ui.Table([]string{"Approval", "Session", "Action", "Root Cause", "Confidence", "Risk"})
	for _, req := range reqs {
		action, rootCause, confidence, risk := "-", "-", "-", "-"
		if req.Proposed != nil {
			action = string(req.Proposed.Type)
		}
		if req.Diagnosis != nil {
			rootCause = string(req.Diagnosis.RootCause)
			confidence = output.ConfidencePercent(req.Diagnosis.Confidence)
		}
		if req.Risk != nil {
			risk = output.RiskColor(string(req.Risk.Level))
		}
		table.Append([]string{
			output.Cyan(req.ID),
			req.SessionID,
			action,
			rootCause,
			confidence,
			risk,
		})
	}
	table.Render()

	fmt.Fprintln(ui.Out)
	ui.Info("%d pending. Use 'triage approve <id>' or 'triage reject <id>'.", len(reqs))
	return nil
}

func decideRun(approvalID string, approved bool) error {
	svc, err := getService()
	if err != nil {
		return err
	}

	sess, err := svc.Decide(rootCmd.Context(), approvalID, approved, decideNotes, decideResolution)
	if err != nil {
		return err
	}

	if approved {
		ui.Success("Approved. Session %s is now %s.", sess.ID, output.StatusColor(string(sess.Status)))
	} else {
		ui.Warning("Rejected. Session %s is now %s.", sess.ID, output.StatusColor(string(sess.Status)))
	}
	return nil
}
