package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/pkg/crypto"
	"github.com/forest6511/clipvault/pkg/vault"
)

// Maintenance flags
var (
	wipeForce  bool
	auditLimit int
	checkJSON  bool
)

func init() {
	rootCmd.AddCommand(passwordCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(wipeCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(auditCmd)

	passwordCmd.AddCommand(passwordChangeCmd)
	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)

	wipeCmd.Flags().BoolVarP(&wipeForce, "force", "f", false, "Skip the confirmation prompt")
	checkCmd.Flags().BoolVar(&checkJSON, "json", false, "Print the report as JSON")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
}

// passwordCmd is the parent command for password operations.
var passwordCmd = &cobra.Command{
	Use:   "password",
	Short: "Master password operations",
}

// passwordChangeCmd changes the master password.
var passwordChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the master password",
	Long: `Change the master password by re-wrapping the data encryption key.
Clipboard items are not re-encrypted and stay readable. Cached sessions
made with the old password stop working.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			// 1. Prompt for current password (for verification)
			current, err := readPassword(cmd, "Enter current password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(current)

			// 2. Prompt for new password
			next1, err := readPassword(cmd, "Enter new password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(next1)

			// 3. Confirm new password
			next2, err := readPassword(cmd, "Confirm new password: ")
			if err != nil {
				return err
			}
			defer crypto.SecureWipe(next2)

			if !bytes.Equal(next1, next2) {
				return errors.New("new passwords do not match")
			}
			if bytes.Equal(current, next1) {
				return errors.New("new password must be different from current password")
			}

			// 4. Execute password change
			if err := svc.ChangePassword(ctx, current, next1); err != nil {
				if errors.Is(err, vault.ErrWrongPassword) {
					return errors.New("current password is incorrect")
				}
				return fmt.Errorf("failed to change password: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Password changed successfully!")
			return nil
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup <dest>",
	Short: "Write a consistent copy of the vault",
	Long: `Write a consistent copy of the vault to dest. The copy is a complete
vault that opens with the same master password. dest must not exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			v, err := svc.Vault(ctx)
			if err != nil {
				return err
			}
			if err := v.Backup(ctx, args[0]); err != nil {
				if errors.Is(err, vault.ErrAlreadyExists) {
					return fmt.Errorf("backup destination already exists: %s", args[0])
				}
				return fmt.Errorf("backup failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s\n", args[0])
			return nil
		})
	},
}

var wipeCmd = &cobra.Command{
	Use:   "wipe",
	Short: "Delete the entire clipboard history",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			if !wipeForce {
				ok, err := confirm(cmd, "Delete all clipboard history?")
				if err != nil {
					return err
				}
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Aborted")
					return nil
				}
			}
			n, err := svc.Wipe(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d items\n", n)
			return nil
		})
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check vault integrity",
	Long: `Run SQLite's integrity check, validate the vault header and file
permissions, and confirm every item decrypts. Problems are reported,
never repaired.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			v, err := svc.Vault(ctx)
			if err != nil {
				return err
			}
			res, err := v.CheckIntegrity(ctx)
			if err != nil {
				return err
			}
			if checkJSON {
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
			} else {
				printIntegrity(cmd, res)
				if disk, err := v.CheckDiskSpace(); err == nil {
					fmt.Fprintf(cmd.OutOrStdout(), "Disk: %d%% used, %d MiB available\n", disk.UsedPct, disk.Available>>20)
				}
			}
			if !res.Valid {
				return errors.New("vault integrity check failed")
			}
			return nil
		})
	},
}

func printIntegrity(cmd *cobra.Command, res *vault.IntegrityCheckResult) {
	out := cmd.OutOrStdout()
	mark := func(ok bool) string {
		if ok {
			return "✓"
		}
		return "✗"
	}
	fmt.Fprintf(out, "%s database integrity\n", mark(res.DBIntegrity))
	fmt.Fprintf(out, "%s vault header\n", mark(res.HeaderValid))
	fmt.Fprintf(out, "%s file permissions\n", mark(res.PermissionsValid))
	fmt.Fprintf(out, "%s %d items, %d undecryptable\n", mark(res.Undecryptable == 0), res.Items, res.Undecryptable)
	for _, e := range res.Errors {
		fmt.Fprintf(out, "  - %s\n", e)
	}
}

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			v, err := svc.Vault(ctx)
			if err != nil {
				return err
			}
			events, err := v.Audit().List(auditLimit)
			if err != nil {
				return fmt.Errorf("failed to list audit events: %w", err)
			}
			if len(events) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No audit events found")
				return nil
			}

			// Format: TIMESTAMP OPERATION RESULT SOURCE [REF] [ERROR]
			for _, ev := range events {
				line := fmt.Sprintf("%s %s %s %s", ev.Timestamp, ev.Operation, ev.Result, ev.Source)
				if ev.Ref != "" {
					line += " ref:" + shortHash(ev.Ref)
				}
				if ev.Error != "" {
					line += " error:" + ev.Error
				}
				fmt.Fprintln(cmd.OutOrStdout(), line)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d events\n", len(events))
			return nil
		})
	},
}

var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(ctx context.Context, svc *app.Service) error {
			v, err := svc.Vault(ctx)
			if err != nil {
				return err
			}
			result, err := v.Audit().Verify()
			if err != nil {
				return fmt.Errorf("failed to verify audit log: %w", err)
			}
			out := cmd.OutOrStdout()
			if result.Valid {
				fmt.Fprintf(out, "✓ Audit log verified: %d records, chain intact\n", result.Records)
				return nil
			}
			fmt.Fprintln(out, "✗ Audit log verification FAILED")
			fmt.Fprintf(out, "  Records total: %d\n", result.Records)
			for _, e := range result.Errors {
				fmt.Fprintf(out, "    - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		})
	},
}
