package main

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"text/template"

	"github.com/spf13/cobra"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/pkg/audit"
	"github.com/forest6511/clipvault/pkg/crypto"
	"github.com/forest6511/clipvault/pkg/session"
	"github.com/forest6511/clipvault/pkg/vault"
)

// LaunchAgentLabel identifies the macOS LaunchAgent written by setup.
const LaunchAgentLabel = "com.clipvault.daemon"

// Setup flags
var (
	setupLaunchAgent   bool
	setupStorePassword bool
)

func init() {
	rootCmd.AddCommand(setupCmd)

	setupCmd.Flags().BoolVar(&setupLaunchAgent, "launch-agent", false, "Install a macOS LaunchAgent that starts the daemon at login")
	setupCmd.Flags().BoolVar(&setupStorePassword, "store-password", false, "Store the master password in the LaunchAgent so the daemon starts unattended")
}

var setupCmd = &cobra.Command{
	Use:   "setup",
	Short: "Create a new vault",
	Long: `Create a new encrypted clipboard vault, protected by a master password.

On macOS, --launch-agent also writes ~/Library/LaunchAgents/` + LaunchAgentLabel + `.plist
so the capture daemon starts at login. Unless --store-password is given,
the agent's daemon needs an active session to open the vault.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc := newService(audit.SourceCLI)
		defer svc.Close()

		if svc.VaultExists() {
			return fmt.Errorf("vault already exists at %s", svc.VaultPath())
		}
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Initializing new vault...")

		// 1. Prompt for master password
		password1, err := readPassword(cmd, "Enter master password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password1)

		// 2. Confirm password
		password2, err := readPassword(cmd, "Confirm master password: ")
		if err != nil {
			return err
		}
		defer crypto.SecureWipe(password2)

		// 3. Check passwords match
		if !bytes.Equal(password1, password2) {
			return errors.New("passwords do not match")
		}

		// 4. Validate password strength; warnings are advisory
		result := vault.ValidateMasterPassword(string(password1))
		if !result.Valid {
			return fmt.Errorf("password validation failed: %s", result.Warnings[0])
		}
		fmt.Fprintf(out, "Password strength: %s\n", result.Strength)
		for _, warning := range result.Warnings {
			fmt.Fprintf(cmd.ErrOrStderr(), "Warning: %s\n", warning)
		}

		// 5. Create vault
		if err := svc.CreateVault(cmd.Context(), password1, nil); err != nil {
			if errors.Is(err, app.ErrInvalidPassword) {
				return err
			}
			return fmt.Errorf("failed to create vault: %w", err)
		}
		fmt.Fprintf(out, "Vault created at %s\n", svc.VaultPath())

		// 6. Optional LaunchAgent
		if !setupLaunchAgent {
			return nil
		}
		if runtime.GOOS != "darwin" {
			fmt.Fprintln(cmd.ErrOrStderr(), "LaunchAgents are macOS only; start the daemon with 'clipvault daemon' or your init system.")
			return nil
		}
		var stored []byte
		if setupStorePassword {
			stored = password1
			fmt.Fprintln(cmd.ErrOrStderr(), "Warning: the master password is stored in plain text in the LaunchAgent file.")
		}
		path, err := installLaunchAgent(svc.VaultPath(), stored)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "LaunchAgent written to %s\n", path)
		fmt.Fprintf(out, "Run 'launchctl load %s' to start the daemon now.\n", path)
		return nil
	},
}

var plistTemplate = template.Must(template.New("plist").Funcs(template.FuncMap{"xml": xmlEscape}).Parse(
	`<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
    <key>Label</key><string>{{xml .Label}}</string>
    <key>ProgramArguments</key>
    <array>
        <string>{{xml .Executable}}</string>
        <string>daemon</string>
        <string>--foreground</string>
        <string>--vault</string>
        <string>{{xml .VaultPath}}</string>
    </array>
{{- if .Password}}
    <key>EnvironmentVariables</key>
    <dict>
        <key>{{xml .EnvVar}}</key><string>{{xml .Password}}</string>
    </dict>
{{- end}}
    <key>RunAtLoad</key><true/>
    <key>StandardErrorPath</key><string>{{xml .LogPath}}</string>
</dict>
</plist>
`))

type plistData struct {
	Label      string
	Executable string
	VaultPath  string
	EnvVar     string
	Password   string
	LogPath    string
}

func xmlEscape(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// renderLaunchAgent builds the plist. password may be nil.
func renderLaunchAgent(exe, vaultPath string, password []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := plistTemplate.Execute(&buf, plistData{
		Label:      LaunchAgentLabel,
		Executable: exe,
		VaultPath:  vaultPath,
		EnvVar:     session.DefaultEnvVar,
		Password:   string(password),
		LogPath:    filepath.Join(filepath.Dir(vaultPath), DaemonLogFileName),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to render LaunchAgent: %w", err)
	}
	return buf.Bytes(), nil
}

func installLaunchAgent(vaultPath string, password []byte) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("failed to locate executable: %w", err)
	}
	data, err := renderLaunchAgent(exe, vaultPath, password)
	if err != nil {
		return "", err
	}
	defer crypto.SecureWipe(data)

	dir := filepath.Join(home, "Library", "LaunchAgents")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	path := filepath.Join(dir, LaunchAgentLabel+".plist")
	if err := os.WriteFile(path, data, 0600); err != nil {
		return "", fmt.Errorf("failed to write LaunchAgent: %w", err)
	}
	return path, nil
}
