// Package vault is the encrypted clipboard history store.
//
// A vault is a single SQLite file. Its header row records the KDF salt and
// parameters, a fingerprint of the key-encryption key (KEK) derived from the
// master password, and the data-encryption key (DEK) sealed under that KEK.
// Every item's content is sealed under the DEK; the only values kept in clear
// are the content type, the size and the capture timestamp, which drive
// ordering, pagination and image matching.
//
// Deduplication uses a keyed index, HMAC(indexKey, sha256(content)), so the
// plaintext content hash that clients use as an identifier is never written
// to disk.
package vault

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/forest6511/clipvault/pkg/audit"
	"github.com/forest6511/clipvault/pkg/crypto"

	_ "modernc.org/sqlite"
)

// Constants
const (
	FormatVersion = 1
	DEKLength     = 32
	FileMode      = 0600 // Owner read/write only
	DirMode       = 0700 // Owner read/write/execute only

	// MaxContentSize bounds a single clipboard item.
	MaxContentSize = 16 * 1024 * 1024

	// Disk capacity thresholds
	MinDiskSpaceBytes  = 10 * 1024 * 1024
	DiskWarningPercent = 90

	DefaultBusyTimeout = 2 * time.Second
	DefaultMaxRetries  = 3
	DefaultRetryBase   = 25 * time.Millisecond

	indexKeyInfo = "clipvault content index v1"
	auditDirName = "audit"
)

// DefaultContentType is assumed when an item carries no content type.
const DefaultContentType = "text/plain"

// Errors
var (
	ErrWrongPassword    = errors.New("vault: wrong password")
	ErrVaultLocked      = errors.New("vault: vault is locked")
	ErrAlreadyExists    = errors.New("vault: vault already exists at this path")
	ErrVaultNotFound    = errors.New("vault: vault not found at this path")
	ErrNotFound         = errors.New("vault: item not found")
	ErrCorrupt          = errors.New("vault: vault is corrupt")
	ErrIO               = errors.New("vault: storage error")
	ErrBusy             = errors.New("vault: vault is busy")
	ErrInvalidHash      = errors.New("vault: invalid content hash")
	ErrEmptyContent     = errors.New("vault: empty content")
	ErrContentTooLarge  = errors.New("vault: content too large")
	ErrEmptyPassword    = errors.New("vault: password must not be empty")
	ErrInsufficientDisk = errors.New("vault: insufficient disk space")
	ErrInvalidSettings  = errors.New("vault: invalid settings")
)

// Item is a single clipboard history entry.
type Item struct {
	ContentHash string `json:"content_hash"`
	ContentType string `json:"content_type"`
	Content     []byte `json:"content"`
	Timestamp   int64  `json:"timestamp"`
	Size        int    `json:"size"`
}

// IsText reports whether the item holds text content.
func (it Item) IsText() bool {
	return IsTextType(it.ContentType)
}

// IsTextType reports whether a content type denotes text.
func IsTextType(contentType string) bool {
	return contentType == "" || strings.HasPrefix(contentType, "text/")
}

// HashContent returns the lowercase hex SHA-256 used as an item's identifier.
func HashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Options tune how a vault is created or opened. The zero value is usable.
type Options struct {
	// KDF sets the Argon2id cost for Create and ChangePassword.
	// Zero means crypto.DefaultKDFParams.
	KDF crypto.KDFParams

	// Settings seeds the settings row on Create. Nil means DefaultSettings.
	Settings *Settings

	Logger      *slog.Logger
	BusyTimeout time.Duration
	MaxRetries  uint64
	RetryBase   time.Duration

	// AuditSource tags audit records written through this handle.
	AuditSource string

	// Clock overrides time.Now for capture timestamps.
	Clock func() time.Time
}

func (o Options) withDefaults() Options {
	if o.KDF == (crypto.KDFParams{}) {
		o.KDF = crypto.DefaultKDFParams()
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.BusyTimeout <= 0 {
		o.BusyTimeout = DefaultBusyTimeout
	}
	if o.MaxRetries == 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryBase <= 0 {
		o.RetryBase = DefaultRetryBase
	}
	if o.AuditSource == "" {
		o.AuditSource = audit.SourceCLI
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	return o
}

// Store is the item capability set of an open vault. Create and Open
// return the one implementation, *Vault.
type Store interface {
	Insert(ctx context.Context, item Item) (Item, error)
	Update(ctx context.Context, hash string, content []byte) (Item, error)
	Delete(ctx context.Context, hash string) error
	Get(ctx context.Context, hash string) (Item, error)
	Latest(ctx context.Context) (Item, error)
	List(ctx context.Context, limit int, after *int64) ([]Item, bool, error)
	Search(ctx context.Context, query string, limit int, after *int64) ([]Item, bool, error)
	Close() error
}

var _ Store = (*Vault)(nil)

// Vault is an open, unlocked vault. All methods are safe for concurrent use.
// After Close every operation returns ErrVaultLocked.
type Vault struct {
	path     string
	opts     Options
	logger   *slog.Logger
	db       *sql.DB
	dek      []byte
	indexKey []byte
	audit    *audit.Logger
	mu       sync.RWMutex
}

// Create initializes a new vault at path protected by password and returns
// it unlocked. It fails with ErrAlreadyExists if anything exists at path.
func Create(ctx context.Context, path string, password []byte, opts Options) (*Vault, error) {
	opts = opts.withDefaults()
	if len(password) == 0 {
		return nil, ErrEmptyPassword
	}
	if err := opts.KDF.Validate(); err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	if opts.Settings != nil {
		if err := opts.Settings.Validate(); err != nil {
			return nil, err
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), DirMode); err != nil {
		return nil, fmt.Errorf("%w: failed to create vault directory: %w", ErrIO, err)
	}
	if err := checkDiskSpaceForWrite(path, 1024*1024, opts.Logger); err != nil {
		return nil, err
	}

	// O_EXCL makes the existence check and the claim a single step, so two
	// concurrent creators cannot both succeed.
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, FileMode)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrAlreadyExists
		}
		return nil, fmt.Errorf("%w: failed to create vault file: %w", ErrIO, err)
	}
	f.Close()

	v, err := create(ctx, path, password, opts)
	if err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			removeVaultFiles(path)
		}
		return nil, err
	}
	return v, nil
}

func create(ctx context.Context, path string, password []byte, opts Options) (*Vault, error) {
	db, err := openDB(path, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	v := newVault(path, db, opts)

	if err := v.retry(ctx, "migrate", func(ctx context.Context) error {
		return migrate(ctx, db, opts.Logger)
	}); err != nil {
		db.Close()
		return nil, err
	}

	salt, err := crypto.RandomBytes(crypto.SaltLength)
	if err != nil {
		db.Close()
		return nil, err
	}
	kek := crypto.DeriveKeyWithParams(password, salt, opts.KDF)
	defer crypto.SecureWipe(kek)

	dek, err := crypto.RandomBytes(DEKLength)
	if err != nil {
		db.Close()
		return nil, err
	}

	h, err := newHeader(kek, dek, salt, opts.KDF, opts.Clock())
	if err != nil {
		crypto.SecureWipe(dek)
		db.Close()
		return nil, err
	}

	settings := DefaultSettings()
	if opts.Settings != nil {
		settings = *opts.Settings
	}

	err = v.withTx(ctx, "create", func(tx *sql.Tx) error {
		if err := insertHeader(ctx, tx, h); err != nil {
			return err
		}
		return writeSettings(ctx, tx, settings)
	})
	if err != nil {
		crypto.SecureWipe(dek)
		db.Close()
		if isConstraint(err) {
			return nil, ErrAlreadyExists
		}
		return nil, err
	}

	if err := v.attach(dek); err != nil {
		db.Close()
		return nil, err
	}
	v.logAudit(audit.OpVaultCreate, "")
	return v, nil
}

// Open unlocks an existing vault with the master password.
//
// Errors: ErrVaultNotFound when nothing exists at path, ErrWrongPassword on a
// fingerprint mismatch, ErrCorrupt when the file is not a vault or its header
// cannot be trusted, ErrIO otherwise.
func Open(ctx context.Context, path string, password []byte, opts Options) (*Vault, error) {
	opts = opts.withDefaults()
	if err := statVault(path); err != nil {
		return nil, err
	}
	db, err := openDB(path, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	v := newVault(path, db, opts)

	h, err := v.loadHeader(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	kek := crypto.DeriveKeyWithParams(password, h.Salt, h.KDF)
	defer crypto.SecureWipe(kek)

	if err := v.unlock(ctx, h, kek); err != nil {
		db.Close()
		return nil, err
	}
	return v, nil
}

// OpenWithKey unlocks an existing vault with an already derived KEK, as
// cached by a session.
func OpenWithKey(ctx context.Context, path string, kek []byte, opts Options) (*Vault, error) {
	opts = opts.withDefaults()
	if err := statVault(path); err != nil {
		return nil, err
	}
	db, err := openDB(path, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	v := newVault(path, db, opts)

	h, err := v.loadHeader(ctx)
	if err != nil {
		db.Close()
		return nil, err
	}
	if err := v.unlock(ctx, h, kek); err != nil {
		db.Close()
		return nil, err
	}
	return v, nil
}

// DeriveKey derives and verifies the KEK for the vault at path without
// unlocking it. The caller owns the returned key and should wipe it.
func DeriveKey(ctx context.Context, path string, password []byte, opts Options) ([]byte, error) {
	opts = opts.withDefaults()
	if err := statVault(path); err != nil {
		return nil, err
	}
	db, err := openDB(path, opts.BusyTimeout)
	if err != nil {
		return nil, err
	}
	defer db.Close()

	v := newVault(path, db, opts)
	h, err := v.loadHeader(ctx)
	if err != nil {
		return nil, err
	}
	kek := crypto.DeriveKeyWithParams(password, h.Salt, h.KDF)
	if !crypto.VerifyFingerprint(kek, h.Fingerprint) {
		crypto.SecureWipe(kek)
		return nil, ErrWrongPassword
	}
	return kek, nil
}

// Exists reports whether a file exists at path.
func Exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func newVault(path string, db *sql.DB, opts Options) *Vault {
	return &Vault{
		path:   path,
		opts:   opts,
		logger: opts.Logger.With("vault", path),
		db:     db,
		audit:  audit.NewLogger(filepath.Join(filepath.Dir(path), auditDirName)),
	}
}

func statVault(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ErrVaultNotFound
		}
		return fmt.Errorf("%w: %w", ErrIO, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrCorrupt, path)
	}
	return nil
}

// unlock checks kek against the header, unwraps the DEK and brings the
// schema up to date. The fingerprint is checked first so a wrong password
// costs one derivation and no decryption.
func (v *Vault) unlock(ctx context.Context, h *header, kek []byte) error {
	if !crypto.VerifyFingerprint(kek, h.Fingerprint) {
		return ErrWrongPassword
	}
	dek, err := crypto.Open(kek, h.EncryptedDEK)
	if err != nil {
		return fmt.Errorf("%w: data key does not decrypt: %w", ErrCorrupt, err)
	}
	if len(dek) != DEKLength {
		crypto.SecureWipe(dek)
		return fmt.Errorf("%w: data key has length %d", ErrCorrupt, len(dek))
	}

	if err := v.retry(ctx, "migrate", func(ctx context.Context) error {
		return migrate(ctx, v.db, v.opts.Logger)
	}); err != nil {
		crypto.SecureWipe(dek)
		return err
	}

	if err := v.attach(dek); err != nil {
		return err
	}
	v.warnInsecurePermissions()
	v.logAudit(audit.OpVaultUnlock, "")
	return nil
}

// attach installs the DEK and the keys derived from it.
func (v *Vault) attach(dek []byte) error {
	indexKey, err := crypto.DeriveSubkey(dek, indexKeyInfo)
	if err != nil {
		crypto.SecureWipe(dek)
		return err
	}
	v.dek = dek
	v.indexKey = indexKey
	if err := v.audit.SetKey(dek); err != nil {
		v.logger.Warn("failed to initialize audit log", "error", err)
	}
	return nil
}

// Close locks the vault: keys are wiped and the database is closed.
// It is safe to call more than once.
func (v *Vault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.dek != nil {
		crypto.SecureWipe(v.dek)
		v.dek = nil
	}
	if v.indexKey != nil {
		crypto.SecureWipe(v.indexKey)
		v.indexKey = nil
	}
	v.audit.ClearKey()

	if v.db == nil {
		return nil
	}
	err := v.db.Close()
	v.db = nil
	if err != nil {
		return fmt.Errorf("%w: failed to close database: %w", ErrIO, err)
	}
	return nil
}

// IsLocked reports whether the vault has been closed.
func (v *Vault) IsLocked() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.dek == nil
}

// Path returns the vault file path.
func (v *Vault) Path() string {
	return v.path
}

// Audit exposes the vault's audit journal.
func (v *Vault) Audit() *audit.Logger {
	return v.audit
}

func (v *Vault) logAudit(op, ref string) {
	if err := v.audit.Success(op, v.opts.AuditSource, ref); err != nil {
		v.logger.Warn("failed to write audit record", "op", op, "error", err)
	}
}

// index maps a content hash onto the stored dedup column.
func (v *Vault) index(sum []byte) []byte {
	mac := hmac.New(sha256.New, v.indexKey)
	mac.Write(sum)
	return mac.Sum(nil)
}

func (v *Vault) indexFromHex(hash string) ([]byte, error) {
	sum, err := decodeHash(hash)
	if err != nil {
		return nil, err
	}
	return v.index(sum), nil
}

func decodeHash(hash string) ([]byte, error) {
	hash = strings.ToLower(strings.TrimSpace(hash))
	if len(hash) != sha256.Size*2 {
		return nil, ErrInvalidHash
	}
	sum, err := hex.DecodeString(hash)
	if err != nil {
		return nil, ErrInvalidHash
	}
	return sum, nil
}

// warnInsecurePermissions logs when the vault file or its directory can be
// read by other users. It never blocks an unlock.
func (v *Vault) warnInsecurePermissions() {
	if runtime.GOOS == "windows" {
		return
	}
	if info, err := os.Stat(filepath.Dir(v.path)); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			v.logger.Warn("vault directory has insecure permissions", "mode", fmt.Sprintf("%04o", perm), "expected", "0700")
		}
	}
	if info, err := os.Stat(v.path); err == nil {
		if perm := info.Mode().Perm(); perm&0077 != 0 {
			v.logger.Warn("vault file has insecure permissions", "mode", fmt.Sprintf("%04o", perm), "expected", "0600")
		}
	}
}

func removeVaultFiles(path string) {
	for _, p := range []string{path, path + "-wal", path + "-shm"} {
		_ = os.Remove(p)
	}
}
