package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sentinelworks/triage/internal/output"
)

var sessionsLimit int

var sessionsCmd = &cobra.Command{
	Use:   "sessions [session-id]",
	Short: "List recent triage sessions or show one in detail",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 {
			return sessionShowRun(args[0])
		}
		return sessionsListRun()
	},
}

func init() {
	sessionsCmd.Flags().IntVar(&sessionsLimit, "limit", 10, "Maximum sessions to list")
	rootCmd.AddCommand(sessionsCmd)
}

func sessionsListRun() error {
	svc, err := getService()
	if err != nil {
		return err
	}

	sessions, err := svc.RecentSessions(rootCmd.Context(), sessionsLimit)
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		ui.Info("No sessions yet. Use 'triage analyze' or 'triage submit' to start one.")
		return nil
	}

	table := ui.Table([]string{"Session", "Status", "Root Cause", "Confidence", "Risk", "Age"})
	for _, sess := range sessions {
		rootCause, confidence := "-", "-"
		if sess.Diagnosis != nil {
			rootCause = string(sess.Diagnosis.RootCause)
			confidence = output.ConfidencePercent(sess.Diagnosis.Confidence)
		}
		risk := "-"
		if sess.Risk != nil {
			risk = output.RiskColor(string(sess.Risk.Level))
		}
		table.Append([]string{
			output.Cyan(sess.ID),
			output.StatusColor(string(sess.Status)),
			rootCause,
			confidence,
			risk,
			timeAgo(sess.CreatedAt),
		})
	}
	table.Render()
	return nil
}

func sessionShowRun(id string) error {
	svc, err := getService()
	if err != nil {
		return err
	}

	sess, err := svc.Session(rootCmd.Context(), id)
	if err != nil {
		return err
	}

	ui.Info("Session %s", sess.ID)
	fmt.Fprintln(ui.Out)

	table := ui.Table([]string{"Field", "Value"})
	table.Append([]string{"Status", output.StatusColor(string(sess.Status))})
	table.Append([]string{"Systemic", fmt.Sprintf("%t", sess.Systemic)})
	table.Append([]string{"Issues", fmt.Sprintf("%d", len(sess.Issues))})
	table.Append([]string{"Clusters", fmt.Sprintf("%d", len(sess.Clusters))})
	if sess.Diagnosis != nil {
		table.Append([]string{"Root cause", string(sess.Diagnosis.RootCause)})
		table.Append([]string{"Confidence", output.ConfidencePercent(sess.Diagnosis.Confidence)})
	}
	if sess.Risk != nil {
		table.Append([]string{"Risk", output.RiskColor(string(sess.Risk.Level))})
	}
	if sess.Proposed != nil {
		table.Append([]string{"Action", string(sess.Proposed.Type)})
		table.Append([]string{"Audience", sess.Proposed.Audience})
	}
	table.Append([]string{"Approval", string(sess.Approval)})
	if sess.Error != "" {
		table.Append([]string{"Error", output.Red(sess.Error)})
	}
	table.Render()

	if sess.Explanation != "" {
		fmt.Fprintln(ui.Out)
		fmt.Fprintln(ui.Out, sess.Explanation)
	}
	if verbose && sess.Proposed != nil && sess.Proposed.Draft != "" {
		fmt.Fprintln(ui.Out)
		ui.Info("Draft:")
		fmt.Fprintln(ui.Out, sess.Proposed.Draft)
	}
	return nil
}

func timeAgo(t time.Time) string {
	if t.IsZero() {
		return "n/a"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}
