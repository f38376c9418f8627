package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/clipvault/pkg/audit"
)

var statusJSON bool

func init() {
	rootCmd.AddCommand(unlockCmd)
	rootCmd.AddCommand(lockCmd)
	rootCmd.AddCommand(statusCmd)

	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print status as JSON")
}

var unlockCmd = &cobra.Command{
	Use:   "unlock",
	Short: "Unlock the vault and remember the password for the session TTL",
	Long: `Unlock the vault and cache a session token so later commands run
without a prompt until it expires. Use --remember to pick the lifetime.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService(audit.SourceCLI)
		defer svc.Close()
		if err := ensureUnlocked(cmd, svc); err != nil {
			return err
		}
		st := svc.Status(cmd.Context())
		if st.ExpiresAt.IsZero() {
			fmt.Fprintln(cmd.OutOrStdout(), "Vault unlocked")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Vault unlocked until %s\n", st.ExpiresAt.Local().Format(time.DateTime))
		return nil
	},
}

var lockCmd = &cobra.Command{
	Use:     "lock",
	Aliases: []string{"forget"},
	Short:   "Lock the vault and forget any cached password",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService(audit.SourceCLI)
		defer svc.Close()
		if err := svc.LockVault(cmd.Context()); err != nil {
			return fmt.Errorf("failed to lock vault: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Vault locked. Password cache cleared.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show vault, session and daemon status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService(audit.SourceCLI)
		defer svc.Close()
		st := svc.Status(cmd.Context())
		if statusJSON {
			return printJSON(cmd.OutOrStdout(), st)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Vault:   %s", st.VaultPath)
		if !st.Exists {
			fmt.Fprint(out, " (not created)")
		}
		fmt.Fprintln(out)
		fmt.Fprintf(out, "Session: %s", st.State)
		if !st.ExpiresAt.IsZero() {
			fmt.Fprintf(out, " (expires %s)", st.ExpiresAt.Local().Format(time.DateTime))
		}
		fmt.Fprintln(out)
		if st.DaemonPID > 0 {
			fmt.Fprintf(out, "Daemon:  running (pid %d)\n", st.DaemonPID)
		} else {
			fmt.Fprintln(out, "Daemon:  stopped")
		}
		return nil
	},
}
