package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/clipvault/internal/api"
	"github.com/forest6511/clipvault/pkg/audit"
	"github.com/forest6511/clipvault/pkg/clipboard"
	"github.com/forest6511/clipvault/pkg/crypto"
	"github.com/forest6511/clipvault/pkg/daemon"
	"github.com/forest6511/clipvault/pkg/session"
	"github.com/forest6511/clipvault/pkg/vault"
)

// DaemonLogFileName is written next to the vault by a background daemon.
const DaemonLogFileName = "daemon.log"

const (
	startupWait = 3 * time.Second
	stopWait    = 5 * time.Second
)

// Daemon and serve flags
var (
	daemonForeground bool
	daemonInterval   time.Duration

	serveSocket  string
	serveCapture bool
)

func init() {
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(serveCmd)

	daemonCmd.Flags().BoolVar(&daemonForeground, "foreground", false, "Run in the foreground instead of detaching")
	daemonCmd.Flags().DurationVar(&daemonInterval, "interval", 0, "Clipboard poll interval (default from vault settings)")

	serveCmd.Flags().StringVar(&serveSocket, "socket", "", "Unix socket path (default ~/.clipvault/clipvault.sock)")
	serveCmd.Flags().BoolVar(&serveCapture, "capture", false, "Also capture the clipboard in this process")
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the clipboard capture daemon",
	Long: `Start the clipboard capture daemon. Only one daemon runs per vault.

Without --foreground the daemon detaches and reads the vault key from the
session cache, so the vault is unlocked first (prompting if needed).`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if daemonForeground {
			return runDaemon(cmd)
		}
		return startDaemon(cmd)
	},
}

// runDaemon captures the clipboard until a shutdown signal arrives.
func runDaemon(cmd *cobra.Command) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
	defer stop()

	lock, err := daemon.AcquireLock(daemon.LockPath(cfg.VaultPath))
	if err != nil {
		if errors.Is(err, daemon.ErrDaemonAlreadyRunning) {
			pid, _ := daemon.ReadPID(daemon.LockPath(cfg.VaultPath))
			return fmt.Errorf("daemon already running (pid %d)", pid)
		}
		return err
	}
	defer func() {
		if err := lock.Release(); err != nil {
			logger.Warn("failed to release daemon lock", "error", err)
		}
	}()

	sessions := newSessions(audit.SourceDaemon)
	v, err := openForDaemon(ctx, cmd, sessions)
	if err != nil {
		return err
	}
	defer v.Close()

	interval := daemonInterval
	if interval == 0 {
		interval = cfg.PollInterval
	}
	if interval == 0 {
		settings, err := v.Settings(ctx)
		if err != nil {
			return err
		}
		interval = settings.PollInterval()
	}

	if err := v.Audit().Success(audit.OpDaemonStart, audit.SourceDaemon, ""); err != nil {
		logger.Warn("audit log failed", "error", err)
	}
	logger.Info("daemon started", "vault", cfg.VaultPath, "pid", os.Getpid(), "interval", interval)

	m := daemon.New(daemon.Config{
		Store:      v,
		Clipboard:  clipboard.System{},
		Interval:   interval,
		MaxBackoff: cfg.MaxBackoff,
		Logger:     logger,
	})
	runErr := m.Run(ctx)

	if err := v.Audit().Log(audit.OpDaemonStop, audit.SourceDaemon, "", runErr); err != nil {
		logger.Warn("audit log failed", "error", err)
	}
	stats := m.Stats()
	logger.Info("daemon stopped", "captures", stats.Captures, "failures", stats.Failures)
	return runErr
}

// openForDaemon opens the vault from the session, prompting on a terminal
// when no session is active.
func openForDaemon(ctx context.Context, cmd *cobra.Command, sessions *session.Manager) (*vault.Vault, error) {
	v, err := sessions.OpenVault(ctx)
	if !errors.Is(err, vault.ErrVaultLocked) {
		return v, err
	}
	if f, ok := cmd.InOrStdin().(*os.File); !ok || !term.IsTerminal(int(f.Fd())) {
		return nil, err
	}
	password, perr := readPassword(cmd, "Enter master password: ")
	if perr != nil {
		return nil, perr
	}
	defer crypto.SecureWipe(password)
	if err := sessions.Unlock(ctx, password); err != nil {
		return nil, err
	}
	return sessions.OpenVault(ctx)
}

// startDaemon unlocks, then re-executes this binary as a detached
// foreground daemon that picks the key up from the session cache.
func startDaemon(cmd *cobra.Command) error {
	lockPath := daemon.LockPath(cfg.VaultPath)
	if pid, ok := daemon.Running(lockPath); ok {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if cfg.SessionCacheDir() == "" || cfg.SessionTTL == 0 {
		return errors.New("a background daemon needs the session cache; enable session_cache and session_ttl or use --foreground")
	}

	svc := newService(audit.SourceCLI)
	err := ensureUnlocked(cmd, svc)
	svc.Close()
	if err != nil {
		return err
	}

	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	childArgs := []string{"daemon", "--foreground", "--vault", cfg.VaultPath}
	if configFile != "" {
		childArgs = append(childArgs, "--config", configFile)
	}
	if daemonInterval > 0 {
		childArgs = append(childArgs, "--interval", daemonInterval.String())
	}

	logPath := filepath.Join(filepath.Dir(cfg.VaultPath), DaemonLogFileName)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open daemon log: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(exe, childArgs...)
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = detachedProcAttr()
	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}
	exited := make(chan error, 1)
	go func() { exited <- child.Wait() }()

	deadline := time.After(startupWait)
	tick := time.NewTicker(50 * time.Millisecond)
	defer tick.Stop()
	for {
		select {
		case err := <-exited:
			return fmt.Errorf("daemon exited during startup (%v); see %s", err, logPath)
		case <-deadline:
			return fmt.Errorf("daemon did not start within %s; see %s", startupWait, logPath)
		case <-tick.C:
			if pid, ok := daemon.Running(lockPath); ok {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon started (pid %d)\n", pid)
				return nil
			}
		}
	}
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the clipboard capture daemon",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		lockPath := daemon.LockPath(cfg.VaultPath)
		pid, ok := daemon.Running(lockPath)
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Daemon is not running")
			return nil
		}
		proc, err := os.FindProcess(pid)
		if err != nil {
			return fmt.Errorf("failed to find daemon process %d: %w", pid, err)
		}
		if err := proc.Signal(terminateSignal()); err != nil {
			return fmt.Errorf("failed to signal daemon: %w", err)
		}

		deadline := time.Now().Add(stopWait)
		for time.Now().Before(deadline) {
			if _, running := daemon.Running(lockPath); !running {
				fmt.Fprintf(cmd.OutOrStdout(), "Daemon stopped (pid %d)\n", pid)
				return nil
			}
			time.Sleep(50 * time.Millisecond)
		}
		return fmt.Errorf("daemon (pid %d) did not stop within %s", pid, stopWait)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the local HTTP API on a unix socket",
	Long: `Serve the clipboard history to GUI shells and launchers over HTTP on a
unix socket readable only by the current user. Clients unlock through
POST /v1/unlock and follow changes on GET /v1/events.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), shutdownSignals()...)
		defer stop()

		svc := newService(audit.SourceAPI)
		defer svc.Close()

		if serveCapture {
			if err := ensureUnlocked(cmd, svc); err != nil {
				return err
			}
			if err := svc.StartCapture(ctx); err != nil {
				return fmt.Errorf("failed to start capture: %w", err)
			}
		}

		socket := cfg.SocketPath
		if serveSocket != "" {
			socket = serveSocket
		}
		ln, err := api.Listen(socket)
		if err != nil {
			return err
		}

		go func() {
			if err := svc.Watch(ctx, 0); err != nil {
				logger.Warn("change watcher stopped", "error", err)
			}
		}()

		fmt.Fprintf(cmd.ErrOrStderr(), "Listening on %s\n", socket)
		router := api.NewRouter(&api.Deps{Service: svc, Logger: logger})
		return api.Serve(ctx, ln, router, logger)
	},
}
