package migrations

import (
	"cmp"
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
)

//go:embed sql/*.sql
var scripts embed.FS

const versionTable = "sqlrun_schema_migrations"

// Migration is one numbered pair of scripts under sql/, named
// <version>_<name>.up.sql and <version>_<name>.down.sql.
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// Runner applies the run-history schema to a PostgreSQL database.
type Runner struct {
	source fs.FS
}

func NewRunner() *Runner {
	return &Runner{source: scripts}
}

// Migrations returns every known migration ordered by version.
func (r *Runner) Migrations() ([]Migration, error) {
	names, err := fs.Glob(r.source, "sql/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migration scripts: %w", err)
	}

	byVersion := map[int64]*Migration{}
	for _, name := range names {
		version, label, direction, ok := parseScriptName(path.Base(name))
		if !ok {
			continue
		}
		body, err := fs.ReadFile(r.source, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", name, err)
		}

		item := byVersion[version]
		if item == nil {
			item = &Migration{Version: version, Name: label}
			byVersion[version] = item
		}
		if direction == "up" {
			item.Up = string(body)
		} else {
			item.Down = string(body)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for _, item := range byVersion {
		switch {
		case strings.TrimSpace(item.Up) == "":
			return nil, fmt.Errorf("migration %d (%s) has no up script", item.Version, item.Name)
		case strings.TrimSpace(item.Down) == "":
			return nil, fmt.Errorf("migration %d (%s) has no down script", item.Version, item.Name)
		}
		out = append(out, *item)
	}
	slices.SortFunc(out, func(a, b Migration) int { return cmp.Compare(a.Version, b.Version) })
	return out, nil
}

// Pending returns the migrations not yet recorded in db, oldest first.
func (r *Runner) Pending(ctx context.Context, db *sql.DB) ([]Migration, error) {
	all, err := r.Migrations()
	if err != nil {
		return nil, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(all, func(m Migration) bool { return applied[m.Version] }), nil
}

// Up applies pending migrations in version order. steps <= 0 applies all of
// them.
func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	pending, err := r.Pending(ctx, db)
	if err != nil {
		return 0, err
	}
	if steps > 0 && len(pending) > steps {
		pending = pending[:steps]
	}

	for i, m := range pending {
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `INSERT INTO `+versionTable+` (version, name) VALUES ($1, $2)`, m.Version, m.Name)
			return err
		})
		if err != nil {
			return i, fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Name, err)
		}
	}
	return len(pending), nil
}

// Down rolls back the newest applied migrations, one when steps <= 0.
func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	all, err := r.Migrations()
	if err != nil {
		return 0, err
	}
	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return 0, err
	}

	known := make(map[int64]bool, len(all))
	for _, m := range all {
		known[m.Version] = true
	}
	for version := range applied {
		if !known[version] {
			return 0, fmt.Errorf("applied migration %d has no scripts", version)
		}
	}

	done := 0
	for i := len(all) - 1; i >= 0 && done < steps; i-- {
		m := all[i]
		if !applied[m.Version] {
			continue
		}
		err := inTx(ctx, db, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx, `DELETE FROM `+versionTable+` WHERE version = $1`, m.Version)
			return err
		})
		if err != nil {
			return done, fmt.Errorf("roll back migration %d (%s): %w", m.Version, m.Name, err)
		}
		done++
	}
	return done, nil
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]bool, error) {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	name TEXT NOT NULL,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return nil, fmt.Errorf("create %s: %w", versionTable, err)
	}

	rows, err := db.QueryContext(ctx, `SELECT version FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("read applied migrations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("read applied migrations: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func inTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// parseScriptName splits "000001_query_run.up.sql" into its parts.
func parseScriptName(name string) (version int64, label, direction string, ok bool) {
	stem, found := strings.CutSuffix(name, ".sql")
	if !found {
		return 0, "", "", false
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot < 0 {
		return 0, "", "", false
	}
	stem, direction = stem[:dot], stem[dot+1:]
	if direction != "up" && direction != "down" {
		return 0, "", "", false
	}
	digits, label, found := strings.Cut(stem, "_")
	if !found || label == "" {
		return 0, "", "", false
	}
	version, err := strconv.ParseInt(digits, 10, 64)
	if err != nil || version <= 0 {
		return 0, "", "", false
	}
	return version, label, direction, true
}
