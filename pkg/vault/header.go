package vault

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"time"

	"github.com/forest6511/clipvault/pkg/crypto"
)

// header is the single vault_header row.
type header struct {
	Version      int
	Salt         []byte
	KDF          crypto.KDFParams
	Fingerprint  []byte
	EncryptedDEK []byte
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func newHeader(kek, dek, salt []byte, params crypto.KDFParams, now time.Time) (*header, error) {
	fp, err := crypto.Fingerprint(kek)
	if err != nil {
		return nil, err
	}
	sealed, err := crypto.Seal(kek, dek)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to wrap data key: %w", err)
	}
	return &header{
		Version:      FormatVersion,
		Salt:         salt,
		KDF:          params,
		Fingerprint:  fp,
		EncryptedDEK: sealed,
		CreatedAt:    now.UTC(),
		UpdatedAt:    now.UTC(),
	}, nil
}

func insertHeader(ctx context.Context, tx *sql.Tx, h *header) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO vault_header (id, format_version, kdf_salt, kdf_time, kdf_memory, kdf_threads,
			key_fingerprint, encrypted_dek, created_at, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.Version, h.Salt, h.KDF.Time, h.KDF.Memory, h.KDF.Threads,
		h.Fingerprint, h.EncryptedDEK, h.CreatedAt.UnixNano(), h.UpdatedAt.UnixNano())
	return err
}

// rewrapHeader replaces the key material after a password change.
func rewrapHeader(ctx context.Context, tx *sql.Tx, h *header) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE vault_header
		SET kdf_salt = ?, kdf_time = ?, kdf_memory = ?, kdf_threads = ?,
			key_fingerprint = ?, encrypted_dek = ?, updated_at = ?
		WHERE id = 1`,
		h.Salt, h.KDF.Time, h.KDF.Memory, h.KDF.Threads,
		h.Fingerprint, h.EncryptedDEK, h.UpdatedAt.UnixNano())
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("%w: header row missing", ErrCorrupt)
	}
	return nil
}

// loadHeader reads and validates the header. Anything that prevents the
// header from being trusted is reported as ErrCorrupt; the vault is never
// repaired automatically.
func (v *Vault) loadHeader(ctx context.Context) (*header, error) {
	var h header
	var created, updated int64
	err := v.retry(ctx, "read header", func(ctx context.Context) error {
		return v.db.QueryRowContext(ctx, `
			SELECT format_version, kdf_salt, kdf_time, kdf_memory, kdf_threads,
				key_fingerprint, encrypted_dek, created_at, updated_at
			FROM vault_header WHERE id = 1`).
			Scan(&h.Version, &h.Salt, &h.KDF.Time, &h.KDF.Memory, &h.KDF.Threads,
				&h.Fingerprint, &h.EncryptedDEK, &created, &updated)
	})
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("%w: header missing", ErrCorrupt)
	case isMissingTable(err):
		return nil, fmt.Errorf("%w: not a clipvault file", ErrCorrupt)
	case err != nil:
		return nil, err
	}

	if h.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported format version %d", ErrCorrupt, h.Version)
	}
	if len(h.Salt) != crypto.SaltLength {
		return nil, fmt.Errorf("%w: salt has length %d", ErrCorrupt, len(h.Salt))
	}
	if len(h.Fingerprint) != crypto.FingerprintLength {
		return nil, fmt.Errorf("%w: fingerprint has length %d", ErrCorrupt, len(h.Fingerprint))
	}
	if err := h.KDF.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	h.CreatedAt = time.Unix(0, created).UTC()
	h.UpdatedAt = time.Unix(0, updated).UTC()
	return &h, nil
}

// Settings are user preferences stored inside the vault so every frontend
// sees the same values.
type Settings struct {
	PollIntervalMS  int    `json:"poll_interval_ms"`
	AutoLockMinutes int    `json:"auto_lock_minutes"`
	GlobalShortcut  string `json:"global_shortcut"`
}

// DefaultSettings returns the settings a new vault starts with.
func DefaultSettings() Settings {
	shortcut := "Shift+Ctrl+C"
	if runtime.GOOS == "darwin" {
		shortcut = "Shift+Cmd+C"
	}
	return Settings{
		PollIntervalMS:  100,
		AutoLockMinutes: 60,
		GlobalShortcut:  shortcut,
	}
}

// PollInterval returns the poll interval as a duration.
func (s Settings) PollInterval() time.Duration {
	return time.Duration(s.PollIntervalMS) * time.Millisecond
}

// AutoLock returns the auto-lock timeout as a duration.
func (s Settings) AutoLock() time.Duration {
	return time.Duration(s.AutoLockMinutes) * time.Minute
}

// Validate rejects settings that would make the daemon spin or never lock.
func (s Settings) Validate() error {
	if s.PollIntervalMS < 10 {
		return fmt.Errorf("%w: poll interval must be at least 10ms", ErrInvalidSettings)
	}
	if s.AutoLockMinutes < 0 {
		return fmt.Errorf("%w: auto-lock minutes must not be negative", ErrInvalidSettings)
	}
	return nil
}

func writeSettings(ctx context.Context, tx *sql.Tx, s Settings) error {
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("vault: failed to marshal settings: %w", err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO vault_settings (id, data) VALUES (1, ?)
		ON CONFLICT(id) DO UPDATE SET data = excluded.data`, string(data))
	return err
}

// Settings returns the stored settings. Missing or unreadable settings fall
// back to the defaults.
func (v *Vault) Settings(ctx context.Context) (Settings, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return Settings{}, ErrVaultLocked
	}

	var raw string
	err := v.retry(ctx, "read settings", func(ctx context.Context) error {
		return v.db.QueryRowContext(ctx, `SELECT data FROM vault_settings WHERE id = 1`).Scan(&raw)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}

	s := DefaultSettings()
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		v.logger.Warn("settings row is unreadable, using defaults", "error", err)
		return DefaultSettings(), nil
	}
	return s, nil
}

// UpdateSettings replaces the stored settings.
func (v *Vault) UpdateSettings(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dek == nil {
		return ErrVaultLocked
	}
	return v.withTx(ctx, "update settings", func(tx *sql.Tx) error {
		return writeSettings(ctx, tx, s)
	})
}
