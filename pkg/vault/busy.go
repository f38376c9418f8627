package vault

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// openDB opens the vault file with the durability settings every handle
// must share: WAL so readers never block the daemon's writer, FULL sync so a
// returned mutation survives a crash, and immediate transactions so writers
// take the write lock up front instead of failing on upgrade.
func openDB(path string, busyTimeout time.Duration) (*sql.DB, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_txlock=immediate",
		path, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open database: %w", ErrIO, err)
	}
	// One connection per process; cross-process access is arbitrated by
	// SQLite's own locking.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	return db, nil
}

// retry runs fn, retrying with exponential backoff while SQLite reports the
// database busy. Once retries are exhausted the error surfaces as ErrBusy.
func (v *Vault) retry(ctx context.Context, op string, fn func(context.Context) error) error {
	b := retry.WithMaxRetries(v.opts.MaxRetries, retry.NewExponential(v.opts.RetryBase))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if isBusy(err) {
			v.logger.Debug("database busy, retrying", "op", op)
			return retry.RetryableError(err)
		}
		return err
	})
	return classify(op, err)
}

// withTx runs fn in one immediate transaction, retried as a whole on busy.
func (v *Vault) withTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	return v.retry(ctx, op, func(ctx context.Context) error {
		tx, err := v.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

var passthrough = []error{
	ErrWrongPassword, ErrVaultLocked, ErrAlreadyExists, ErrVaultNotFound, ErrNotFound,
	ErrCorrupt, ErrIO, ErrBusy, ErrInvalidHash, ErrEmptyContent, ErrContentTooLarge,
	ErrInsufficientDisk, sql.ErrNoRows, context.Canceled, context.DeadlineExceeded,
}

// classify maps a driver error onto the vault error taxonomy. Errors that
// already belong to it pass through unchanged.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	for _, target := range passthrough {
		if errors.Is(err, target) {
			return err
		}
	}
	switch {
	case isBusy(err):
		return fmt.Errorf("vault: %s: %w: %w", op, ErrBusy, err)
	case isCorrupt(err):
		return fmt.Errorf("vault: %s: %w: %w", op, ErrCorrupt, err)
	default:
		return fmt.Errorf("vault: %s: %w: %w", op, ErrIO, err)
	}
}

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		// extended codes carry the primary code in the low byte
		return se.Code() & 0xff, true
	}
	return 0, false
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	code, ok := sqliteCode(err)
	return ok && (code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED)
}

func isCorrupt(err error) bool {
	if err == nil {
		return false
	}
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.SQLITE_CORRUPT || code == sqlite3.SQLITE_NOTADB
	}
	msg := err.Error()
	return strings.Contains(msg, "file is not a database") || strings.Contains(msg, "malformed")
}

func isConstraint(err error) bool {
	code, ok := sqliteCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT
}

func isMissingTable(err error) bool {
	return err != nil && strings.Contains(err.Error(), "no such table")
}
