package db

import (
	"context"
	"database/sql"
	"sort"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
)

// Migration is a schema change versioned by timestamp (YYYYMMDDHHmmss).
type Migration struct {
	Version     int64
	Description string
	Up          func(*sql.Tx) error
	Down        func(*sql.Tx) error
}

// MigrationRunner applies migrations and records them in schema_migrations.
type MigrationRunner struct {
	db *sqlx.DB
}

// NewMigrationRunner creates a runner bound to conn.
func NewMigrationRunner(conn *sqlx.DB) *MigrationRunner {
	return &MigrationRunner{db: conn}
}

// Run applies every migration not yet recorded, in version order.
func (r *MigrationRunner) Run(ctx context.Context, migrations []Migration) error {
	if err := r.ensureTable(ctx); err != nil {
		return err
	}
	applied, err := r.applied(ctx)
	if err != nil {
		return err
	}

	sorted := append([]Migration(nil), migrations...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if applied[m.Version] {
			continue
		}
		if err := r.inTx(ctx, m.Up, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx,
				"INSERT INTO schema_migrations (version, applied_at, description) VALUES (?, ?, ?)",
				m.Version, time.Now().UTC(), m.Description)
			return errors.Wrap(err, "failed to record migration")
		}); err != nil {
			return errors.Wrapf(err, "failed to apply migration %d: %s", m.Version, m.Description)
		}
	}
	return nil
}

// Rollback reverts the most recently applied migration.
func (r *MigrationRunner) Rollback(ctx context.Context, migrations []Migration) error {
	if err := r.ensureTable(ctx); err != nil {
		return err
	}

	var latest int64
	if err := r.db.GetContext(ctx, &latest, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations"); err != nil {
		return errors.Wrap(err, "failed to get latest migration version")
	}
	if latest == 0 {
		return nil
	}

	for _, m := range migrations {
		if m.Version != latest {
			continue
		}
		if m.Down == nil {
			return errors.Errorf("migration %d has no rollback function", latest)
		}
		return r.inTx(ctx, m.Down, func(tx *sqlx.Tx) error {
			_, err := tx.ExecContext(ctx, "DELETE FROM schema_migrations WHERE version = ?", m.Version)
			return errors.Wrap(err, "failed to remove migration record")
		})
	}
	return errors.Errorf("migration %d not found in provided migrations", latest)
}

// AppliedVersions lists recorded versions in ascending order.
func (r *MigrationRunner) AppliedVersions(ctx context.Context) ([]int64, error) {
	if err := r.ensureTable(ctx); err != nil {
		return nil, err
	}
	var versions []int64
	if err := r.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations ORDER BY version"); err != nil {
		return nil, errors.Wrap(err, "failed to get applied versions")
	}
	return versions, nil
}

func (r *MigrationRunner) ensureTable(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME NOT NULL,
			description TEXT
		)
	`)
	return errors.Wrap(err, "failed to create schema_migrations table")
}

func (r *MigrationRunner) applied(ctx context.Context) (map[int64]bool, error) {
	var versions []int64
	if err := r.db.SelectContext(ctx, &versions, "SELECT version FROM schema_migrations"); err != nil {
		return nil, errors.Wrap(err, "failed to get applied migrations")
	}
	applied := make(map[int64]bool, len(versions))
	for _, v := range versions {
		applied[v] = true
	}
	return applied, nil
}

func (r *MigrationRunner) inTx(ctx context.Context, step func(*sql.Tx) error, record func(*sqlx.Tx) error) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := step(tx.Tx); err != nil {
		return err
	}
	if err := record(tx); err != nil {
		return err
	}
	return tx.Commit()
}
