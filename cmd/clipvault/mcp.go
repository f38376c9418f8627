package main

import (
	"errors"
	"fmt"
	"os/signal"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/forest6511/clipvault/internal/mcp"
	"github.com/forest6511/clipvault/pkg/audit"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI assistant integration",
	Long: `Start a read-only MCP server that lets AI assistants look up clipboard
history over stdio.

Available tools:
  - clipboard_status:  Vault, session and capture state
  - clipboard_latest:  The most recent item
  - clipboard_list:    History, newest first, with cursor paging
  - clipboard_search:  Case-insensitive text search
  - clipboard_get:     One item by content hash or exact text

The server reads the vault key from the session cache, so run
'clipvault unlock' first, or set CLIPVAULT_KEY to the master password in
the server's environment.

Policy:
  Text is masked ("****word") unless mcp-policy.yaml in the vault directory
  says otherwise. The file must be mode 0600:

    version: 1
    content: full          # none, masked or full
    max_results: 20
    denied_content_types:
      - image/*

Example MCP configuration:
  {
    "mcpServers": {
      "clipvault": {
        "type": "stdio",
        "command": "/path/to/clipvault",
        "args": ["mcp-server"]
      }
    }
  }`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		policy, err := mcp.LoadPolicy(filepath.Dir(cfg.VaultPath))
		switch {
		case errors.Is(err, mcp.ErrPolicyNotFound):
			policy = mcp.DefaultPolicy()
		case err != nil:
			// A broken policy must not widen access.
			logger.Warn("failed to load MCP policy; serving metadata only", "error", err)
			policy = mcp.DefaultPolicy()
			policy.Content = mcp.ContentNone
		}

		svc := newService(audit.SourceMCP)
		defer svc.Close()

		server, err := mcp.NewServer(&mcp.ServerOptions{
			History: svc,
			Policy:  policy,
			Version: version,
			Logger:  logger,
		})
		if err != nil {
			return fmt.Errorf("failed to create MCP server: %w", err)
		}
		if err := server.Run(ctx); err != nil {
			return fmt.Errorf("MCP server error: %w", err)
		}
		return nil
	},
}
