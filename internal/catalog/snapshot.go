// internal/catalog/snapshot.go
//
// Writing SQLite catalog snapshots.
// Responsibilities:
//   - Opening the target database with safe defaults (WAL, busy timeout).
//   - Applying the embedded migrations in sql/*.sql (idempotent, recorded in
//     _migrations).
//   - Replacing the dishes table with a validated catalog in one transaction.
//
// The server itself only ever reads snapshots (see sqlite.go); this is the
// publishing side, used by the "snapshot" command.

package catalog

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog/log"
)

//go:embed sql/*.sql
var migrations embed.FS

// openWritable opens (and creates if missing) a SQLite database file.
func openWritable(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	db, err := sql.Open("sqlite3", "file:"+path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL;`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	return db, nil
}

// migrate applies the embedded migrations in lexical order, skipping files
// already recorded in _migrations. Each file runs in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS _migrations (name TEXT PRIMARY KEY);`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	files, err := fs.Glob(migrations, "sql/*.sql")
	if err != nil {
		return fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		name := filepath.Base(f)
		var done int
		err := db.QueryRowContext(ctx, `SELECT 1 FROM _migrations WHERE name=?`, name).Scan(&done)
		if err == nil {
			log.Debug().Str("migration", name).Msg("already applied")
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("query _migrations: %w", err)
		}

		body, err := migrations.ReadFile(f)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}

		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, string(body)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO _migrations(name) VALUES (?)`, name); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
		log.Info().Str("migration", name).Msg("applied")
	}
	return nil
}

// WriteSQLite publishes c as a snapshot at path, replacing any dishes the
// file already holds.
func WriteSQLite(ctx context.Context, path string, c *Catalog) error {
	db, err := openWritable(path)
	if err != nil {
		return fmt.Errorf("catalog: open %s: %w", path, err)
	}
	defer db.Close()

	if err := migrate(ctx, db); err != nil {
		return fmt.Errorf("catalog: migrate %s: %w", path, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM dishes`); err != nil {
		return fmt.Errorf("catalog: clear dishes: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO dishes
            (id, name, image_url, category, diet, carb_source, price_student, env_score, allergens)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("catalog: prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, d := range c.dishes {
		if _, err := stmt.ExecContext(ctx,
			d.ID, d.Name, d.ImageRef, d.Category, d.Diet, d.CarbSource,
			d.PriceStudent.StringFixed(2), d.EnvScore, strings.Join(d.Allergens, ","),
		); err != nil {
			return fmt.Errorf("catalog: insert dish %d: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("catalog: commit: %w", err)
	}

	log.Info().Str("path", path).Int("dishes", len(c.dishes)).Msg("wrote sqlite catalog")
	return nil
}
