package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/clipvault/internal/app"
	"github.com/forest6511/clipvault/internal/config"
	"github.com/forest6511/clipvault/internal/logging"
	"github.com/forest6511/clipvault/pkg/audit"
	"github.com/forest6511/clipvault/pkg/clipboard"
	"github.com/forest6511/clipvault/pkg/crypto"
	"github.com/forest6511/clipvault/pkg/session"
	"github.com/forest6511/clipvault/pkg/vault"
)

// Global flags
var (
	configFile   string
	flagVault    string
	flagLogLevel string
	flagRemember time.Duration
)

var (
	cfg    *config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:           "clipvault",
	Short:         "clipvault keeps an encrypted history of your clipboard",
	Long:          `An encrypted, searchable clipboard history with a background capture daemon.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	// PersistentPreRunE runs before every subcommand and resolves the
	// configuration the rest of the command works from.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(config.LoadOptions{File: configFile})
		if err != nil {
			return err
		}
		if flagVault != "" {
			loaded.VaultPath = config.ExpandHome(flagVault)
		}
		if flagLogLevel != "" {
			loaded.LogLevel = flagLogLevel
		}
		if cmd.Flags().Changed("remember") {
			loaded.SessionTTL = flagRemember
		}
		if err := loaded.Validate(); err != nil {
			return err
		}
		cfg = loaded

		logger, err = logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)
		if err != nil {
			return err
		}
		slog.SetDefault(logger)

		if err := disableCoreDumps(); err != nil {
			logger.Debug("failed to disable core dumps", "error", err)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Config file (default ~/.clipvault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&flagVault, "vault", "", "Vault file path")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().DurationVar(&flagRemember, "remember", 0, "Remember the password for this long (e.g. 15m, 2h); 0 keeps it for this process only")
}

// newSessions returns a session manager for the configured vault. Audit
// records written through vaults it opens are tagged with source.
func newSessions(source string) *session.Manager {
	return session.NewManager(session.Config{
		VaultPath:    cfg.VaultPath,
		CacheDir:     cfg.SessionCacheDir(),
		TTL:          cfg.SessionTTL,
		EnvVar:       session.DefaultEnvVar,
		VaultOptions: vaultOptions(source),
		Logger:       logger,
	})
}

func vaultOptions(source string) vault.Options {
	return vault.Options{Logger: logger, AuditSource: source}
}

// newService wires an app.Service against the system clipboard.
func newService(source string) *app.Service {
	return app.New(app.Config{
		Sessions:     newSessions(source),
		Clipboard:    clipboard.System{},
		VaultOptions: vaultOptions(source),
		PollInterval: cfg.PollInterval,
		MaxBackoff:   cfg.MaxBackoff,
		Logger:       logger,
	})
}

// ensureUnlocked opens the vault from the session, prompting for the
// master password when no session is active.
func ensureUnlocked(cmd *cobra.Command, svc *app.Service) error {
	ctx := cmd.Context()
	if svc.CheckVaultStatus(ctx) {
		return nil
	}
	if !svc.VaultExists() {
		return fmt.Errorf("no vault at %s; run 'clipvault setup' first", svc.VaultPath())
	}

	password, err := readPassword(cmd, "Enter master password: ")
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(password)

	ok, err := svc.UnlockVault(ctx, password)
	if err != nil {
		return fmt.Errorf("failed to unlock vault: %w", err)
	}
	if !ok {
		return errors.New("wrong password")
	}
	return nil
}

// withService runs fn against an unlocked service and closes it after.
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *app.Service) error) error {
	svc := newService(audit.SourceCLI)
	defer svc.Close()
	if err := ensureUnlocked(cmd, svc); err != nil {
		return err
	}
	return fn(cmd.Context(), svc)
}

var (
	lineReaderSrc io.Reader
	lineReader    *bufio.Reader
)

// readPassword prompts on a terminal without echo. Piped input is read a
// line at a time so scripts can feed passwords on stdin.
func readPassword(cmd *cobra.Command, prompt string) ([]byte, error) {
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), prompt)
		password, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("failed to read password: %w", err)
		}
		return password, nil
	}
	line, err := readLine(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return []byte(line), nil
}

// readLine reads one line from in, sharing a buffer across calls so
// consecutive prompts see consecutive lines.
func readLine(in io.Reader) (string, error) {
	if lineReader == nil || lineReaderSrc != in {
		lineReaderSrc = in
		lineReader = bufio.NewReader(in)
	}
	line, err := lineReader.ReadString('\n')
	if err != nil && (err != io.EOF || line == "") {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// confirm asks a yes/no question; anything but y/yes is a no.
func confirm(cmd *cobra.Command, question string) (bool, error) {
	fmt.Fprintf(cmd.ErrOrStderr(), "%s [y/N]: ", question)
	answer, err := readLine(cmd.InOrStdin())
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes", nil
}
