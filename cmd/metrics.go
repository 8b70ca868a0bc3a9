package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show aggregate triage metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}

		m, err := svc.Metrics(rootCmd.Context())
		if err != nil {
			return err
		}

		table := ui.Table([]string{"Metric", "Value"})
		table.Append([]string{"Total sessions", fmt.Sprintf("%d", m.TotalSessions)})
		table.Append([]string{"Auto-resolved", fmt.Sprintf("%d", m.AutoResolved)})
		table.Append([]string{"Human escalated", fmt.Sprintf("%d", m.HumanEscalated)})
		table.Append([]string{"Dispatched", fmt.Sprintf("%d", m.Dispatched)})
		table.Append([]string{"Failed", fmt.Sprintf("%d", m.FailedSessions)})
		table.Append([]string{"Learning events", fmt.Sprintf("%d", m.LearningEvents)})
		table.Append([]string{"Pending approvals", fmt.Sprintf("%d", m.PendingApprovals)})
		table.Append([]string{"Auto-resolution rate", fmt.Sprintf("%.0f%%", m.SuccessRate*100)})
		table.Render()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(metricsCmd)
}
