package vault

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/forest6511/clipvault/pkg/audit"
)

// DiskSpaceInfo contains disk usage information
type DiskSpaceInfo struct {
	Total     uint64 `json:"total"`
	Free      uint64 `json:"free"`
	Available uint64 `json:"available"` // available to non-root users
	UsedPct   int    `json:"used_pct"`
}

// CheckDiskSpace returns disk usage for the filesystem holding the vault.
func (v *Vault) CheckDiskSpace() (*DiskSpaceInfo, error) {
	return diskSpace(v.path)
}

// checkDiskSpaceForWrite refuses a write when free space drops below
// MinDiskSpaceBytes or twice the payload. Failing to read disk stats only
// warns.
func checkDiskSpaceForWrite(path string, size int, logger *slog.Logger) error {
	info, err := diskSpace(path)
	if err != nil {
		logger.Warn("failed to check disk space", "error", err)
		return nil
	}

	required := uint64(MinDiskSpaceBytes)
	if uint64(size)*2 > required {
		required = uint64(size) * 2
	}
	if info.Available < required {
		return fmt.Errorf("%w: only %d MB available, need at least %d MB",
			ErrInsufficientDisk, info.Available/(1024*1024), required/(1024*1024))
	}
	if info.UsedPct >= DiskWarningPercent {
		logger.Warn("disk is nearly full", "used_pct", info.UsedPct)
	}
	return nil
}

// DataVersion returns SQLite's data_version counter for this handle. It
// changes whenever another connection, typically another process, commits
// to the vault file, and stays put for this handle's own writes.
func (v *Vault) DataVersion(ctx context.Context) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return 0, ErrVaultLocked
	}
	var n int64
	err := v.retry(ctx, "data version", func(ctx context.Context) error {
		return v.db.QueryRowContext(ctx, `PRAGMA data_version`).Scan(&n)
	})
	return n, err
}

// Backup writes a consistent copy of the vault to dest. The copy is a
// complete vault that opens with the same password. dest must not exist.
func (v *Vault) Backup(ctx context.Context, dest string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.dek == nil {
		return ErrVaultLocked
	}
	if Exists(dest) {
		return ErrAlreadyExists
	}
	if err := os.MkdirAll(filepath.Dir(dest), DirMode); err != nil {
		return fmt.Errorf("%w: failed to create backup directory: %w", ErrIO, err)
	}
	if err := checkDiskSpaceForWrite(dest, 0, v.logger); err != nil {
		return err
	}

	err := v.retry(ctx, "backup", func(ctx context.Context) error {
		_, err := v.db.ExecContext(ctx, `VACUUM INTO ?`, dest)
		return err
	})
	if err != nil {
		return err
	}
	if err := os.Chmod(dest, FileMode); err != nil {
		return fmt.Errorf("%w: failed to set backup permissions: %w", ErrIO, err)
	}
	v.logAudit(audit.OpVaultBackup, "")
	return nil
}

// IntegrityCheckResult contains the results of CheckIntegrity.
type IntegrityCheckResult struct {
	Valid            bool     `json:"valid"`
	DBIntegrity      bool     `json:"db_integrity"`
	HeaderValid      bool     `json:"header_valid"`
	PermissionsValid bool     `json:"permissions_valid"`
	Items            int      `json:"items"`
	Undecryptable    int      `json:"undecryptable"`
	Errors           []string `json:"errors,omitempty"`
}

func (r *IntegrityCheckResult) fail(format string, args ...any) {
	r.Valid = false
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// CheckIntegrity runs SQLite's integrity check, validates the header and
// file permissions, and confirms that every item decrypts. Problems are
// reported, never repaired.
func (v *Vault) CheckIntegrity(ctx context.Context) (*IntegrityCheckResult, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return nil, ErrVaultLocked
	}

	res := &IntegrityCheckResult{Valid: true, DBIntegrity: true, HeaderValid: true, PermissionsValid: true}

	if runtime.GOOS != "windows" {
		if info, err := os.Stat(filepath.Dir(v.path)); err == nil && info.Mode().Perm()&0077 != 0 {
			res.PermissionsValid = false
			res.fail("vault directory has insecure permissions: %04o (expected 0700)", info.Mode().Perm())
		}
		if info, err := os.Stat(v.path); err == nil && info.Mode().Perm()&0077 != 0 {
			res.PermissionsValid = false
			res.fail("vault file has insecure permissions: %04o (expected 0600)", info.Mode().Perm())
		}
	}

	var check string
	if err := v.retry(ctx, "integrity check", func(ctx context.Context) error {
		return v.db.QueryRowContext(ctx, `PRAGMA integrity_check`).Scan(&check)
	}); err != nil {
		if errors.Is(err, ErrCorrupt) {
			res.DBIntegrity = false
			res.fail("database integrity check failed: %v", err)
			return res, nil
		}
		return nil, err
	}
	if check != "ok" {
		res.DBIntegrity = false
		res.fail("database integrity check returned: %s", check)
	}

	if _, err := v.loadHeader(ctx); err != nil {
		res.HeaderValid = false
		res.fail("header: %v", err)
	}

	rows, err := v.page(ctx, "integrity check", nil, 0)
	if err != nil {
		return nil, err
	}
	res.Items = len(rows)
	for _, r := range rows {
		if _, err := v.decrypt(r); err != nil {
			res.Undecryptable++
		}
	}
	if res.Undecryptable > 0 {
		res.fail("%d item(s) do not decrypt", res.Undecryptable)
	}
	return res, nil
}
