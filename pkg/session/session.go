// Package session caches the derived vault key so short-lived processes do
// not prompt for the master password on every invocation.
//
// The cache is an HS256 JWT in the user cache directory. Its exp claim is
// the session expiry, its sub claim binds it to one vault path, and the
// derived key travels inside it sealed with AES-GCM. The signing and sealing
// keys come from a random secret stored next to the token, so copying the
// token alone is useless. Expiry is checked lazily on each key lookup.
//
// An environment variable may carry the password instead. It takes
// precedence, is never written to disk and never expires.
package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/forest6511/clipvault/pkg/crypto"
	"github.com/forest6511/clipvault/pkg/vault"
)

// Defaults.
const (
	DefaultTTL    = 15 * time.Minute
	DefaultEnvVar = "CLIPVAULT_KEY"

	TokenFileName  = "session.jwt"
	SecretFileName = "session.secret"

	signInfo = "clipvault session signing v1"
	sealInfo = "clipvault session sealing v1"
)

// State is the session lifecycle state.
type State int

const (
	Locked State = iota
	Unlocking
	Unlocked
	Expired
)

func (s State) String() string {
	switch s {
	case Locked:
		return "locked"
	case Unlocking:
		return "unlocking"
	case Unlocked:
		return "unlocked"
	case Expired:
		return "expired"
	default:
		return "unknown"
	}
}

// Source tells where the current key came from.
type Source string

const (
	SourceNone   Source = ""
	SourceMemory Source = "memory"
	SourceCache  Source = "cache"
	SourceEnv    Source = "env"
)

// Config configures a Manager.
type Config struct {
	VaultPath string

	// CacheDir holds the token and its secret. Empty keeps sessions in
	// memory only.
	CacheDir string

	// TTL is the session lifetime. Zero means the session lives in memory
	// until the process exits and is never cached to disk.
	TTL time.Duration

	// EnvVar names the password override variable. Empty disables it.
	EnvVar string

	VaultOptions vault.Options
	Logger       *slog.Logger
	Now          func() time.Time
	Getenv       func(string) string
}

// Status is a snapshot of the session.
type Status struct {
	State     State     `json:"state"`
	Source    Source    `json:"source,omitempty"`
	ExpiresAt time.Time `json:"expires_at,omitempty"`
}

// Manager owns the session state machine. It is safe for concurrent use.
type Manager struct {
	cfg    Config
	logger *slog.Logger

	mu        sync.Mutex
	state     State
	key       []byte
	expiresAt time.Time
	source    Source
	envKey    []byte
}

// tokenClaims carries the exact deadline next to exp, which has second
// precision and is rounded up.
type tokenClaims struct {
	Key      string `json:"key"`
	Deadline int64  `json:"dln"`
	jwt.RegisteredClaims
}

// NewManager returns a manager in the Locked state.
func NewManager(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Getenv == nil {
		cfg.Getenv = os.Getenv
	}
	if cfg.VaultOptions.Logger == nil {
		cfg.VaultOptions.Logger = cfg.Logger
	}
	return &Manager{cfg: cfg, logger: cfg.Logger.With("component", "session")}
}

// VaultPath returns the vault the session is bound to.
func (m *Manager) VaultPath() string {
	return m.cfg.VaultPath
}

// Unlock verifies password against the vault header and starts a session.
// A wrong password leaves the session Locked and is returned as
// vault.ErrWrongPassword.
func (m *Manager) Unlock(ctx context.Context, password []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = Unlocking
	kek, err := vault.DeriveKey(ctx, m.cfg.VaultPath, password, m.cfg.VaultOptions)
	if err != nil {
		m.clearLocked()
		m.state = Locked
		return err
	}

	m.clearLocked()
	m.key = kek
	m.source = SourceMemory
	m.state = Unlocked
	if m.cfg.TTL <= 0 {
		m.expiresAt = time.Time{}
		return nil
	}

	m.expiresAt = m.cfg.Now().Add(m.cfg.TTL)
	if m.cfg.CacheDir != "" {
		if err := m.writeToken(kek, m.expiresAt); err != nil {
			// the cache is advisory; the in-memory session still works
			m.logger.Warn("failed to cache session", "error", err)
		}
	}
	return nil
}

// Key returns a copy of the derived vault key, or vault.ErrVaultLocked when
// no live session exists. The caller should wipe the copy after use.
func (m *Manager) Key(ctx context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key, err := m.lookup(ctx)
	if err != nil {
		return nil, err
	}
	return append([]byte(nil), key...), nil
}

// Lock ends the session: the key is wiped and the cached token removed.
func (m *Manager) Lock() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.clearLocked()
	m.state = Locked
	return m.removeToken()
}

// Status reports the current state, resolving cached tokens and expiry.
func (m *Manager) Status(ctx context.Context) Status {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.lookup(ctx); err != nil && m.state != Expired {
		m.state = Locked
	}
	st := Status{State: m.state, Source: m.source, ExpiresAt: m.expiresAt}
	if m.state == Expired {
		// the key and token are gone; expiry is reported once
		m.state = Locked
	}
	return st
}

// State returns the last known state without consulting the cache file.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ExpiresAt returns the session deadline, zero when the session does not
// expire or none is active.
func (m *Manager) ExpiresAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// OpenVault opens the vault with the session key. A key that no longer
// matches the vault, for example after a password change elsewhere, ends
// the session.
func (m *Manager) OpenVault(ctx context.Context) (*vault.Vault, error) {
	key, err := m.Key(ctx)
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(key)

	v, err := vault.OpenWithKey(ctx, m.cfg.VaultPath, key, m.cfg.VaultOptions)
	if errors.Is(err, vault.ErrWrongPassword) {
		m.logger.Info("cached key no longer matches the vault, locking session")
		if lockErr := m.Lock(); lockErr != nil {
			m.logger.Warn("failed to remove session token", "error", lockErr)
		}
		return nil, vault.ErrVaultLocked
	}
	return v, err
}

// lookup resolves the key in precedence order: environment, memory, cache
// file. Callers hold m.mu.
func (m *Manager) lookup(ctx context.Context) ([]byte, error) {
	if key, ok, err := m.fromEnv(ctx); ok || err != nil {
		return key, err
	}

	if m.key != nil {
		if m.expired(m.expiresAt) {
			m.expire()
			return nil, vault.ErrVaultLocked
		}
		return m.key, nil
	}

	if m.cfg.CacheDir == "" || m.cfg.TTL <= 0 {
		return nil, vault.ErrVaultLocked
	}
	key, exp, err := m.readToken()
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		m.expire()
		return nil, vault.ErrVaultLocked
	case errors.Is(err, os.ErrNotExist):
		return nil, vault.ErrVaultLocked
	case err != nil:
		m.logger.Debug("discarding unusable session token", "error", err)
		_ = m.removeToken()
		return nil, vault.ErrVaultLocked
	}
	m.key = key
	m.expiresAt = exp
	m.source = SourceCache
	m.state = Unlocked
	return m.key, nil
}

func (m *Manager) fromEnv(ctx context.Context) ([]byte, bool, error) {
	if m.cfg.EnvVar == "" {
		return nil, false, nil
	}
	password := m.cfg.Getenv(m.cfg.EnvVar)
	if password == "" {
		return nil, false, nil
	}
	if m.envKey == nil {
		kek, err := vault.DeriveKey(ctx, m.cfg.VaultPath, []byte(password), m.cfg.VaultOptions)
		if err != nil {
			return nil, false, err
		}
		m.envKey = kek
	}
	m.state = Unlocked
	m.source = SourceEnv
	m.expiresAt = time.Time{}
	return m.envKey, true, nil
}

// expired reports whether a session with deadline exp is over. A session is
// valid while now is strictly before exp; a zero exp never expires.
func (m *Manager) expired(exp time.Time) bool {
	return !exp.IsZero() && !m.cfg.Now().Before(exp)
}

func (m *Manager) expire() {
	m.clearLocked()
	m.state = Expired
	if err := m.removeToken(); err != nil {
		m.logger.Warn("failed to remove expired session token", "error", err)
	}
}

func (m *Manager) clearLocked() {
	if m.key != nil {
		crypto.SecureWipe(m.key)
		m.key = nil
	}
	m.expiresAt = time.Time{}
	m.source = SourceNone
}

func (m *Manager) tokenPath() string {
	return filepath.Join(m.cfg.CacheDir, TokenFileName)
}

func (m *Manager) writeToken(kek []byte, exp time.Time) error {
	signKey, sealKey, err := m.secretKeys(true)
	if err != nil {
		return err
	}
	defer crypto.SecureWipe(signKey)
	defer crypto.SecureWipe(sealKey)

	sealed, err := crypto.Seal(sealKey, kek)
	if err != nil {
		return err
	}
	now := m.cfg.Now()
	claims := tokenClaims{
		Key:      base64.RawURLEncoding.EncodeToString(sealed),
		Deadline: exp.UnixNano(),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   m.cfg.VaultPath,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(ceilSecond(exp)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signKey)
	if err != nil {
		return fmt.Errorf("session: failed to sign token: %w", err)
	}

	tmp := m.tokenPath() + ".tmp"
	if err := os.WriteFile(tmp, []byte(signed), 0600); err != nil {
		return fmt.Errorf("session: failed to write token: %w", err)
	}
	if err := os.Rename(tmp, m.tokenPath()); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("session: failed to write token: %w", err)
	}
	return nil
}

func (m *Manager) readToken() ([]byte, time.Time, error) {
	raw, err := os.ReadFile(m.tokenPath())
	if err != nil {
		return nil, time.Time{}, err
	}
	signKey, sealKey, err := m.secretKeys(false)
	if err != nil {
		return nil, time.Time{}, err
	}
	defer crypto.SecureWipe(signKey)
	defer crypto.SecureWipe(sealKey)

	var claims tokenClaims
	_, err = jwt.ParseWithClaims(string(raw), &claims,
		func(*jwt.Token) (interface{}, error) { return signKey, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(m.cfg.Now),
		jwt.WithExpirationRequired(),
		jwt.WithSubject(m.cfg.VaultPath),
	)
	if err != nil {
		return nil, time.Time{}, err
	}

	exp := claims.ExpiresAt.Time
	if claims.Deadline != 0 {
		exp = time.Unix(0, claims.Deadline)
		if exp.After(claims.ExpiresAt.Time) {
			return nil, time.Time{}, errors.New("session: deadline claim past exp")
		}
		if m.expired(exp) {
			return nil, time.Time{}, jwt.ErrTokenExpired
		}
	}

	sealed, err := base64.RawURLEncoding.DecodeString(claims.Key)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session: malformed key claim: %w", err)
	}
	kek, err := crypto.Open(sealKey, sealed)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("session: key claim does not decrypt: %w", err)
	}
	return kek, exp, nil
}

// ceilSecond rounds t up to a whole second so a JWT exp never ends a
// session early.
func ceilSecond(t time.Time) time.Time {
	if down := t.Truncate(time.Second); !down.Equal(t) {
		return down.Add(time.Second)
	}
	return t
}

func (m *Manager) removeToken() error {
	if m.cfg.CacheDir == "" {
		return nil
	}
	if err := os.Remove(m.tokenPath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("session: failed to remove token: %w", err)
	}
	return nil
}

// secretKeys loads the per-user session secret, creating it when asked,
// and expands it into the signing and sealing keys.
func (m *Manager) secretKeys(create bool) (signKey, sealKey []byte, err error) {
	path := filepath.Join(m.cfg.CacheDir, SecretFileName)
	secret, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && create {
		secret, err = m.createSecret(path)
	}
	if err != nil {
		return nil, nil, err
	}
	defer crypto.SecureWipe(secret)
	if len(secret) != crypto.KeyLength {
		return nil, nil, fmt.Errorf("session: secret has length %d", len(secret))
	}

	if signKey, err = crypto.DeriveSubkey(secret, signInfo); err != nil {
		return nil, nil, err
	}
	if sealKey, err = crypto.DeriveSubkey(secret, sealInfo); err != nil {
		crypto.SecureWipe(signKey)
		return nil, nil, err
	}
	return signKey, sealKey, nil
}

func (m *Manager) createSecret(path string) ([]byte, error) {
	if err := os.MkdirAll(m.cfg.CacheDir, 0700); err != nil {
		return nil, fmt.Errorf("session: failed to create cache directory: %w", err)
	}
	secret, err := crypto.RandomBytes(crypto.KeyLength)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
	if errors.Is(err, os.ErrExist) {
		// another process won the race
		return os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("session: failed to create secret: %w", err)
	}
	defer f.Close()
	if _, err := f.Write(secret); err != nil {
		return nil, fmt.Errorf("session: failed to write secret: %w", err)
	}
	return secret, nil
}
