package cmd

import (
	"github.com/spf13/cobra"

	"github.com/sentinelworks/triage/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for assistant integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets an MCP client work the triage approval queue natively.
Configure with:

  {
    "mcpServers": {
      "triage": { "command": "triage", "args": ["mcp"] }
    }
  }

Available tools: triage_queue, triage_decide, triage_session,
triage_list_sessions, triage_submit_signal, triage_metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := getService()
		if err != nil {
			return err
		}
		defer svc.Close()

		srv := mcp.NewServer(svc)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
