// Package db opens the shared SQLite database used by keel's stores and runs
// its schema migrations.
package db

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"
)

// BasePathEnv overrides the directory that holds keel's state.
const BasePathEnv = "KEEL_BASE_PATH"

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA temp_store=memory",
	"PRAGMA busy_timeout=5000",
	"PRAGMA foreign_keys=ON",
}

// DefaultDBPath returns $KEEL_BASE_PATH/storage.db, falling back to ~/.keel/storage.db.
func DefaultDBPath() (string, error) {
	if base := os.Getenv(BasePathEnv); base != "" {
		return filepath.Join(base, "storage.db"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.Wrap(err, "failed to get home directory")
	}
	return filepath.Join(home, ".keel", "storage.db"), nil
}

// Open opens (creating if needed) the database at dbPath and applies pragmas.
func Open(ctx context.Context, dbPath string) (*sqlx.DB, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create database directory")
	}

	conn, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to ping database")
	}
	if err := configure(ctx, conn); err != nil {
		conn.Close()
		return nil, errors.Wrap(err, "failed to configure database")
	}
	return conn, nil
}

func configure(ctx context.Context, conn *sqlx.DB) error {
	for _, pragma := range pragmas {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			return errors.Wrapf(err, "failed to execute pragma: %s", pragma)
		}
	}
	// SQLite allows one writer; a single connection keeps WAL semantics simple.
	conn.SetMaxIdleConns(1)
	conn.SetMaxOpenConns(1)

	var mode string
	if err := conn.GetContext(ctx, &mode, "PRAGMA journal_mode"); err != nil {
		return errors.Wrap(err, "failed to query journal mode")
	}
	if strings.ToLower(mode) != "wal" {
		return errors.Errorf("WAL mode not enabled. Current mode: %s", mode)
	}
	return nil
}

// OpenAndMigrate opens dbPath and applies every pending migration.
func OpenAndMigrate(ctx context.Context, dbPath string, migrations []Migration) (*sqlx.DB, error) {
	conn, err := Open(ctx, dbPath)
	if err != nil {
		return nil, err
	}
	if err := NewMigrationRunner(conn).Run(ctx, migrations); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}
