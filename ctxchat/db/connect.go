// Package db opens the relational backend and owns its schema.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ZanzyTHEbar/contextual-chat/ctxchat/config"

	_ "github.com/tursodatabase/go-libsql"
	_ "modernc.org/sqlite"
)

const (
	DriverLibSQL = "libsql"
	DriverSQLite = "sqlite"
)

// Open connects to the configured database, verifies connectivity and runs
// pending migrations. The caller owns the returned handle.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	driver := cfg.Type
	if driver == "" {
		driver = DriverLibSQL
	}
	if driver != DriverLibSQL && driver != DriverSQLite {
		return nil, fmt.Errorf("unsupported database type %q", cfg.Type)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn is empty")
	}

	if path, ok := filePath(cfg.DSN); ok {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("could not create database directory %s: %w", dir, err)
		}
	}

	slog.Info("Connecting to database", "driver", driver, "dsn", redact(cfg.DSN))

	db, err := sql.Open(driver, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s connection: %w", driver, err)
	}

	if err := verify(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	if driver == DriverSQLite {
		// Single writer; avoids SQLITE_BUSY between pooled connections.
		db.SetMaxOpenConns(1)
		if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout = 5000"); err != nil {
			slog.Warn("busy_timeout pragma failed", "error", err)
		}
	}

	if err := Migrate(ctx, db, driver); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func verify(ctx context.Context, db *sql.DB) error {
	var result int
	if err := db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("basic connectivity test failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("basic connectivity test failed: unexpected result %d", result)
	}
	return nil
}

// filePath extracts the local path of a file DSN. In-memory and remote DSNs
// report false.
func filePath(dsn string) (string, bool) {
	if strings.Contains(dsn, "://") || strings.Contains(dsn, ":memory:") {
		return "", false
	}
	path := strings.TrimPrefix(dsn, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "", false
	}
	return path, true
}

func redact(dsn string) string {
	if i := strings.Index(dsn, "authToken="); i >= 0 {
		return dsn[:i] + "authToken=***"
	}
	return dsn
}
