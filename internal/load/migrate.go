package load

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/harborview-health/patient-etl/internal/db"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// advisoryLockKey guards migrations against concurrent deploys.
const advisoryLockKey = 7201184

// migrate runs all pending SQL migrations in lexicographic order. It
// creates the clinical schema and schema_migrations tracking table if
// needed, then applies any .sql files not yet recorded.
func migrate(ctx context.Context, pool db.Pool) error {
	log := zap.L().With(zap.String("component", "load.migrate"))

	if _, err := pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_lock(%d)", advisoryLockKey)); err != nil {
		return eris.Wrap(err, "load: acquire migration advisory lock")
	}
	defer func() {
		if _, err := pool.Exec(ctx, fmt.Sprintf("SELECT pg_advisory_unlock(%d)", advisoryLockKey)); err != nil {
			log.Warn("load: failed to release migration advisory lock", zap.Error(err))
		}
	}()

	if err := ensureMigrationTable(ctx, pool); err != nil {
		return err
	}

	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return eris.Wrap(err, "load: read migration dir")
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied, err := appliedMigrations(ctx, pool)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		name := entry.Name()
		if applied[name] {
			continue
		}

		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return eris.Wrapf(err, "load: read migration %s", name)
		}

		log.Info("applying migration", zap.String("file", name))

		if _, err := pool.Exec(ctx, string(data)); err != nil {
			return eris.Wrapf(err, "load: apply migration %s", name)
		}

		if _, err := pool.Exec(ctx,
			"INSERT INTO clinical.schema_migrations (filename, applied_at) VALUES ($1, now())",
			name,
		); err != nil {
			return eris.Wrapf(err, "load: record migration %s", name)
		}

		log.Info("migration applied", zap.String("file", name))
	}

	return nil
}

func ensureMigrationTable(ctx context.Context, pool db.Pool) error {
	sql := `
		CREATE SCHEMA IF NOT EXISTS clinical;
		CREATE TABLE IF NOT EXISTS clinical.schema_migrations (
			id         SERIAL PRIMARY KEY,
			filename   TEXT NOT NULL UNIQUE,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);
	`
	if _, err := pool.Exec(ctx, sql); err != nil {
		return eris.Wrap(err, "load: ensure migration table")
	}
	return nil
}

func appliedMigrations(ctx context.Context, pool db.Pool) (map[string]bool, error) {
	rows, err := pool.Query(ctx, "SELECT filename FROM clinical.schema_migrations")
	if err != nil {
		return nil, eris.Wrap(err, "load: query applied migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, eris.Wrap(err, "load: scan migration row")
		}
		applied[name] = true
	}
	return applied, rows.Err()
}
