// Package app implements the frontend command surface: the operations a
// terminal tool or GUI shell invokes, independent of transport.
package app

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forest6511/clipvault/pkg/clipboard"
	"github.com/forest6511/clipvault/pkg/crypto"
	"github.com/forest6511/clipvault/pkg/daemon"
	"github.com/forest6511/clipvault/pkg/notify"
	"github.com/forest6511/clipvault/pkg/query"
	"github.com/forest6511/clipvault/pkg/session"
	"github.com/forest6511/clipvault/pkg/vault"
)

// EventSource tags events published by the service.
const EventSource = "app"

// ErrInvalidPassword is returned by CreateVault for a password that fails
// the strength rules.
var ErrInvalidPassword = errors.New("app: password does not meet requirements")

// ErrInvalidContent is returned when base64 content does not decode.
var ErrInvalidContent = errors.New("app: content is not valid base64")

// Config wires a Service.
type Config struct {
	Sessions  *session.Manager
	Clipboard clipboard.ReadWriter
	Notifier  *notify.Notifier

	// VaultOptions are used by CreateVault. Opening goes through Sessions.
	VaultOptions vault.Options

	// PollInterval overrides the vault's stored interval for in-process
	// capture when non-zero.
	PollInterval time.Duration
	MaxBackoff   time.Duration

	Logger *slog.Logger
	Clock  func() time.Time
}

// Status describes the vault and session for frontends.
type Status struct {
	VaultPath string    `json:"vault_path"`
	Exists    bool      `json:"exists"`
	Unlocked  bool      `json:"unlocked"`
	State     string    `json:"state"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
	Capturing bool      `json:"capturing"`
	DaemonPID int       `json:"daemon_pid,omitempty"`
}

// Service holds at most one open vault handle, opened lazily from the
// session and closed when the session ends or the vault sits idle longer
// than its auto-lock setting.
type Service struct {
	cfg      Config
	logger   *slog.Logger
	notifier *notify.Notifier

	mu           sync.Mutex
	vault        *vault.Vault
	autoLock     time.Duration
	lastActivity time.Time
	capture      *capture
}

type capture struct {
	monitor *daemon.Monitor
	lock    *daemon.Lock
	cancel  context.CancelFunc
	done    chan struct{}
}

// New returns a service. Sessions and Clipboard are required.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	n := cfg.Notifier
	if n == nil {
		n = notify.New(0)
	}
	return &Service{cfg: cfg, logger: cfg.Logger.With("component", "app"), notifier: n}
}

// VaultPath returns the vault file the service works on.
func (s *Service) VaultPath() string {
	return s.cfg.Sessions.VaultPath()
}

// ============================================================================
// Vault lifecycle
// ============================================================================

// VaultExists reports whether a vault file exists.
func (s *Service) VaultExists() bool {
	return vault.Exists(s.VaultPath())
}

// CreateVault creates the vault and unlocks it. settings may be nil.
func (s *Service) CreateVault(ctx context.Context, password []byte, settings *vault.Settings) error {
	if res := vault.ValidateMasterPassword(string(password)); !res.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidPassword, res.Warnings)
	}
	opts := s.cfg.VaultOptions
	opts.Settings = settings
	v, err := vault.Create(ctx, s.VaultPath(), password, opts)
	if err != nil {
		return err
	}
	if err := v.Close(); err != nil {
		return err
	}
	_, err = s.UnlockVault(ctx, password)
	return err
}

// CheckVaultStatus reports whether the vault is usable right now. It counts
// as activity for auto-lock.
func (s *Service) CheckVaultStatus(ctx context.Context) bool {
	_, err := s.open(ctx)
	return err == nil
}

// Status returns a detailed snapshot without touching activity.
func (s *Service) Status(ctx context.Context) Status {
	st := s.cfg.Sessions.Status(ctx)
	pid, _ := daemon.Running(daemon.LockPath(s.VaultPath()))

	s.mu.Lock()
	capturing := s.capture != nil
	s.mu.Unlock()

	return Status{
		VaultPath: s.VaultPath(),
		Exists:    s.VaultExists(),
		Unlocked:  st.State == session.Unlocked,
		State:     st.State.String(),
		ExpiresAt: st.ExpiresAt,
		Capturing: capturing,
		DaemonPID: pid,
	}
}

// UnlockVault verifies password and opens the vault. A wrong password
// reports false with a nil error; a missing vault, corruption and I/O
// problems are errors.
func (s *Service) UnlockVault(ctx context.Context, password []byte) (bool, error) {
	err := s.cfg.Sessions.Unlock(ctx, password)
	if errors.Is(err, vault.ErrWrongPassword) {
		s.logger.Info("unlock rejected: wrong password")
		return false, nil
	}
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	if _, err := s.open(ctx); err != nil {
		return false, err
	}
	return true, nil
}

// LockVault stops in-process capture, closes the vault and ends the
// session.
func (s *Service) LockVault(ctx context.Context) error {
	s.StopCapture()
	s.mu.Lock()
	s.closeLocked()
	s.mu.Unlock()
	return s.cfg.Sessions.Lock()
}

// Close releases the vault handle and stops capture without ending the
// session.
func (s *Service) Close() error {
	s.StopCapture()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked()
	s.notifier.Close()
	return nil
}

// Vault returns the open vault for maintenance commands.
func (s *Service) Vault(ctx context.Context) (*vault.Vault, error) {
	return s.open(ctx)
}

// open returns the vault handle, opening it from the session if needed.
// An ended session or an idle timeout closes the handle.
func (s *Service) open(ctx context.Context) (*vault.Vault, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.cfg.Clock()
	if s.vault != nil && s.autoLock > 0 && now.Sub(s.lastActivity) > s.autoLock {
		s.logger.Info("vault idle, locking", "idle", now.Sub(s.lastActivity))
		s.closeLocked()
		if err := s.cfg.Sessions.Lock(); err != nil {
			s.logger.Warn("failed to end session", "error", err)
		}
		return nil, vault.ErrVaultLocked
	}

	key, err := s.cfg.Sessions.Key(ctx)
	if err != nil {
		s.closeLocked()
		return nil, err
	}
	crypto.SecureWipe(key)

	if s.vault == nil {
		v, err := s.cfg.Sessions.OpenVault(ctx)
		if err != nil {
			return nil, err
		}
		s.vault = v
		s.autoLock = 0
		if settings, err := v.Settings(ctx); err == nil {
			s.autoLock = settings.AutoLock()
		}
	}
	s.lastActivity = now
	return s.vault, nil
}

func (s *Service) closeLocked() {
	if s.vault == nil {
		return
	}
	if err := s.vault.Close(); err != nil {
		s.logger.Warn("failed to close vault", "error", err)
	}
	s.vault = nil
}

// ============================================================================
// Clipboard history
// ============================================================================

// ListClipboard returns a page of history, newest first.
func (s *Service) ListClipboard(ctx context.Context, limit int, after *int64) (query.Page, error) {
	v, err := s.open(ctx)
	if err != nil {
		return query.Page{}, err
	}
	return query.New(v).List(ctx, limit, after)
}

// SearchClipboard returns a page of matching history, newest first.
func (s *Service) SearchClipboard(ctx context.Context, q string, limit int, after *int64) (query.Page, error) {
	v, err := s.open(ctx)
	if err != nil {
		return query.Page{}, err
	}
	return query.New(v).Search(ctx, q, limit, after)
}

// Latest returns the newest item.
func (s *Service) Latest(ctx context.Context) (query.Result, error) {
	v, err := s.open(ctx)
	if err != nil {
		return query.Result{}, err
	}
	it, err := v.Latest(ctx)
	if err != nil {
		return query.Result{}, err
	}
	return query.ToResult(it), nil
}

// Get returns the item ref points at.
func (s *Service) Get(ctx context.Context, ref string) (query.Result, error) {
	v, err := s.open(ctx)
	if err != nil {
		return query.Result{}, err
	}
	it, err := s.resolve(ctx, v, ref)
	if err != nil {
		return query.Result{}, err
	}
	return query.ToResult(it), nil
}

// UpdateItem replaces the content of the item ref points at.
func (s *Service) UpdateItem(ctx context.Context, ref string, newContent []byte) (query.Result, error) {
	v, err := s.open(ctx)
	if err != nil {
		return query.Result{}, err
	}
	it, err := s.resolve(ctx, v, ref)
	if err != nil {
		return query.Result{}, err
	}
	updated, err := v.Update(ctx, it.ContentHash, newContent)
	if err != nil {
		return query.Result{}, err
	}
	s.notifier.Publish(notify.Updated(EventSource))
	return query.ToResult(updated), nil
}

// DeleteItem removes the item ref points at.
func (s *Service) DeleteItem(ctx context.Context, ref string) error {
	v, err := s.open(ctx)
	if err != nil {
		return err
	}
	it, err := s.resolve(ctx, v, ref)
	if err != nil {
		return err
	}
	if err := v.Delete(ctx, it.ContentHash); err != nil {
		return err
	}
	s.notifier.Publish(notify.Updated(EventSource))
	return nil
}

// Wipe deletes the whole history and reports how many items were removed.
func (s *Service) Wipe(ctx context.Context) (int64, error) {
	v, err := s.open(ctx)
	if err != nil {
		return 0, err
	}
	n, err := v.Wipe(ctx)
	if err != nil {
		return 0, err
	}
	s.notifier.Publish(notify.Updated(EventSource))
	return n, nil
}

// CopyToClipboard puts content on the OS clipboard. Non-text content is
// expected base64 encoded, as list and search return it. The capture loop
// records the copy through its usual dedup path.
func (s *Service) CopyToClipboard(ctx context.Context, content, contentType string) error {
	encoding := query.EncodingText
	if !vault.IsTextType(contentType) {
		encoding = query.EncodingBase64
	}
	data, err := query.DecodeContent(content, encoding)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidContent, err)
	}
	if contentType == "" {
		contentType = vault.DefaultContentType
	}
	return s.cfg.Clipboard.Write(ctx, clipboard.Content{Data: data, ContentType: contentType})
}

// resolve finds the item a ref names: a content hash first, then literal
// content.
func (s *Service) resolve(ctx context.Context, v *vault.Vault, ref string) (vault.Item, error) {
	if isHash(ref) {
		it, err := v.Get(ctx, ref)
		if !errors.Is(err, vault.ErrNotFound) {
			return it, err
		}
	}
	if ref == "" {
		return vault.Item{}, vault.ErrNotFound
	}
	return v.Get(ctx, vault.HashContent([]byte(ref)))
}

func isHash(ref string) bool {
	if len(ref) != 64 {
		return false
	}
	_, err := hex.DecodeString(ref)
	return err == nil
}

// Subscribe registers for clipboard-updated events.
func (s *Service) Subscribe() (<-chan notify.Event, func()) {
	return s.notifier.Subscribe()
}

// DataVersion reports the open vault's commit counter without counting
// as activity. It fails with ErrVaultLocked while no vault is open.
func (s *Service) DataVersion(ctx context.Context) (int64, error) {
	s.mu.Lock()
	v := s.vault
	s.mu.Unlock()
	if v == nil {
		return 0, vault.ErrVaultLocked
	}
	return v.DataVersion(ctx)
}

// Watch publishes clipboard-updated events for commits made by other
// processes, such as a standalone daemon, until ctx is cancelled.
func (s *Service) Watch(ctx context.Context, interval time.Duration) error {
	w := &notify.Watcher{
		Source:   s,
		Notifier: s.notifier,
		Interval: interval,
		Logger:   s.logger,
	}
	err := w.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Notifier exposes the service's notifier so other producers, such as a
// change watcher, publish to the same subscribers.
func (s *Service) Notifier() *notify.Notifier {
	return s.notifier
}

// ============================================================================
// Settings
// ============================================================================

// Settings returns the vault settings.
func (s *Service) Settings(ctx context.Context) (vault.Settings, error) {
	v, err := s.open(ctx)
	if err != nil {
		return vault.Settings{}, err
	}
	return v.Settings(ctx)
}

// SaveSettings stores new vault settings. The auto-lock change applies
// immediately.
func (s *Service) SaveSettings(ctx context.Context, settings vault.Settings) error {
	v, err := s.open(ctx)
	if err != nil {
		return err
	}
	if err := v.UpdateSettings(ctx, settings); err != nil {
		return err
	}
	s.mu.Lock()
	s.autoLock = settings.AutoLock()
	s.mu.Unlock()
	return nil
}

// ChangePassword re-wraps the vault key and restarts the session under the
// new password.
func (s *Service) ChangePassword(ctx context.Context, oldPassword, newPassword []byte) error {
	if res := vault.ValidateMasterPassword(string(newPassword)); !res.Valid {
		return fmt.Errorf("%w: %v", ErrInvalidPassword, res.Warnings)
	}
	v, err := s.open(ctx)
	if err != nil {
		return err
	}
	if err := v.ChangePassword(ctx, oldPassword, newPassword); err != nil {
		return err
	}
	if err := s.LockVault(ctx); err != nil {
		return err
	}
	ok, err := s.UnlockVault(ctx, newPassword)
	if err != nil {
		return err
	}
	if !ok {
		return vault.ErrWrongPassword
	}
	return nil
}

// ============================================================================
// In-process capture
// ============================================================================

// StartCapture runs the clipboard monitor inside this process. It takes the
// same instance lock as a standalone daemon, so only one capture loop runs
// per vault. Starting twice is a no-op.
func (s *Service) StartCapture(ctx context.Context) error {
	v, err := s.open(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture != nil {
		return nil
	}

	interval := s.cfg.PollInterval
	if interval == 0 {
		if settings, err := v.Settings(ctx); err == nil {
			interval = settings.PollInterval()
		}
	}

	lock, err := daemon.AcquireLock(daemon.LockPath(s.VaultPath()))
	if err != nil {
		return err
	}
	m := daemon.New(daemon.Config{
		Store:      v,
		Clipboard:  s.cfg.Clipboard,
		Notifier:   s.notifier,
		Interval:   interval,
		MaxBackoff: s.cfg.MaxBackoff,
		Logger:     s.cfg.Logger,
	})
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c := &capture{monitor: m, lock: lock, cancel: cancel, done: make(chan struct{})}
	s.capture = c

	go func() {
		defer close(c.done)
		if err := m.Run(runCtx); err != nil {
			s.logger.Warn("capture stopped", "error", err)
		}
		if err := lock.Release(); err != nil {
			s.logger.Warn("failed to release daemon lock", "error", err)
		}
		s.mu.Lock()
		if s.capture == c {
			s.capture = nil
		}
		s.mu.Unlock()
	}()
	s.logger.Info("capture started", "interval", interval)
	return nil
}

// StopCapture stops in-process capture and waits for the loop to exit.
func (s *Service) StopCapture() {
	s.mu.Lock()
	c := s.capture
	s.mu.Unlock()
	if c == nil {
		return
	}
	c.cancel()
	<-c.done
}

// CaptureStats returns the in-process monitor's counters and whether it
// is running.
func (s *Service) CaptureStats() (daemon.Stats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.capture == nil {
		return daemon.Stats{}, false
	}
	return s.capture.monitor.Stats(), true
}
