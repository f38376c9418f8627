package vault

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/pressly/goose/v3"

	"github.com/forest6511/clipvault/pkg/vault/migrations"
)

// goose keeps its configuration in package globals.
var migrateMu sync.Mutex

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	migrateMu.Lock()
	defer migrateMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(gooseLogger{logger})
	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("vault: failed to set migration dialect: %w", err)
	}
	return goose.UpContext(ctx, db, ".")
}

// SchemaVersion returns the applied migration version.
func (v *Vault) SchemaVersion(ctx context.Context) (int64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if v.dek == nil {
		return 0, ErrVaultLocked
	}

	migrateMu.Lock()
	defer migrateMu.Unlock()
	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("sqlite3"); err != nil {
		return 0, fmt.Errorf("vault: failed to set migration dialect: %w", err)
	}
	version, err := goose.GetDBVersionContext(ctx, v.db)
	if err != nil {
		return 0, classify("schema version", err)
	}
	return version, nil
}

// gooseLogger routes goose's progress output into slog at debug level.
type gooseLogger struct {
	l *slog.Logger
}

func (g gooseLogger) Printf(format string, args ...interface{}) {
	g.l.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "migrate")
}

func (g gooseLogger) Fatalf(format string, args ...interface{}) {
	g.l.Error(strings.TrimSpace(fmt.Sprintf(format, args...)), "component", "migrate")
}
