package sessions

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationsFS embed.FS

const migrationsTable = "teller_migrations"

// Migration is one embedded schema change, identified by its file stem
// (for example 0001_conversations).
type Migration struct {
	ID      string
	UpSQL   string
	DownSQL string
}

// AppliedMigration is a row of the migrations table.
type AppliedMigration struct {
	ID        string
	AppliedAt time.Time
}

// Migrator applies the embedded schema migrations for one dialect. Each
// migration runs in its own transaction together with its bookkeeping row.
type Migrator struct {
	db         *sql.DB
	dialect    Dialect
	migrations []Migration
}

// NewMigrator creates a migrator backed by the given db.
func NewMigrator(db *sql.DB, dialect Dialect) (*Migrator, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	migrations, err := loadMigrations(dialect)
	if err != nil {
		return nil, err
	}
	return &Migrator{db: db, dialect: dialect, migrations: migrations}, nil
}

// Migrations returns the embedded migrations in apply order.
func (m *Migrator) Migrations() []Migration {
	return append([]Migration(nil), m.migrations...)
}

// Up applies pending migrations in order. steps <= 0 applies all of them.
func (m *Migrator) Up(ctx context.Context, steps int) ([]string, error) {
	_, pending, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > 0 && steps < len(pending) {
		pending = pending[:steps]
	}

	var done []string
	for _, migration := range pending {
		if strings.TrimSpace(migration.UpSQL) == "" {
			return done, fmt.Errorf("migration %s has no up script", migration.ID)
		}
		err := m.step(ctx, migration.ID, migration.UpSQL,
			`INSERT INTO `+migrationsTable+` (id, applied_at) VALUES ($1, $2)`,
			migration.ID, time.Now().UTC())
		if err != nil {
			return done, fmt.Errorf("apply migration %s: %w", migration.ID, err)
		}
		done = append(done, migration.ID)
	}
	return done, nil
}

// Down rolls back the most recently applied migrations, newest first.
// steps <= 0 rolls back one.
func (m *Migrator) Down(ctx context.Context, steps int) ([]string, error) {
	if steps <= 0 {
		steps = 1
	}
	applied, _, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	if steps > len(applied) {
		steps = len(applied)
	}

	var done []string
	for i := len(applied) - 1; i >= len(applied)-steps; i-- {
		id := applied[i].ID
		migration, ok := m.lookup(id)
		if !ok {
			return done, fmt.Errorf("applied migration %s is not embedded in this build", id)
		}
		if strings.TrimSpace(migration.DownSQL) == "" {
			return done, fmt.Errorf("migration %s has no down script", id)
		}
		err := m.step(ctx, id, migration.DownSQL,
			`DELETE FROM `+migrationsTable+` WHERE id = $1`, id)
		if err != nil {
			return done, fmt.Errorf("roll back migration %s: %w", id, err)
		}
		done = append(done, id)
	}
	return done, nil
}

// Status returns the applied migrations ordered by ID and the embedded
// migrations not yet applied.
func (m *Migrator) Status(ctx context.Context) ([]AppliedMigration, []Migration, error) {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+migrationsTable+` (
		id TEXT PRIMARY KEY,
		applied_at TIMESTAMP NOT NULL
	)`); err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", migrationsTable, err)
	}

	rows, err := m.db.QueryContext(ctx, `SELECT id, applied_at FROM `+migrationsTable+` ORDER BY id`)
	if err != nil {
		return nil, nil, fmt.Errorf("query %s: %w", migrationsTable, err)
	}
	defer rows.Close()

	var applied []AppliedMigration
	seen := map[string]bool{}
	for rows.Next() {
		var entry AppliedMigration
		if err := rows.Scan(&entry.ID, &entry.AppliedAt); err != nil {
			return nil, nil, fmt.Errorf("scan %s: %w", migrationsTable, err)
		}
		applied = append(applied, entry)
		seen[entry.ID] = true
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", migrationsTable, err)
	}

	var pending []Migration
	for _, migration := range m.migrations {
		if !seen[migration.ID] {
			pending = append(pending, migration)
		}
	}
	return applied, pending, nil
}

// step runs script and the bookkeeping statement in one transaction.
func (m *Migrator) step(ctx context.Context, id, script, bookkeeping string, args ...any) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if _, err := tx.ExecContext(ctx, script); err != nil {
		_ = tx.Rollback()
		return err
	}
	if _, err := tx.ExecContext(ctx, m.dialect.rebind(bookkeeping), args...); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record %s: %w", id, err)
	}
	return tx.Commit()
}

func (m *Migrator) lookup(id string) (Migration, bool) {
	for _, migration := range m.migrations {
		if migration.ID == id {
			return migration, true
		}
	}
	return Migration{}, false
}

// loadMigrations pairs the <id>.up.sql and <id>.down.sql files of a
// dialect directory and sorts them by ID.
func loadMigrations(dialect Dialect) ([]Migration, error) {
	dir := path.Join("migrations", string(dialect))
	files, err := fs.Glob(migrationsFS, dir+"/*.sql")
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	byID := map[string]*Migration{}
	for _, file := range files {
		id, direction, ok := parseMigrationName(path.Base(file))
		if !ok {
			continue
		}
		data, err := migrationsFS.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", file, err)
		}
		entry := byID[id]
		if entry == nil {
			entry = &Migration{ID: id}
			byID[id] = entry
		}
		if direction == "up" {
			entry.UpSQL = string(data)
		} else {
			entry.DownSQL = string(data)
		}
	}

	migrations := make([]Migration, 0, len(byID))
	for _, entry := range byID {
		migrations = append(migrations, *entry)
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].ID < migrations[j].ID })
	return migrations, nil
}

func parseMigrationName(name string) (id, direction string, ok bool) {
	stem, found := strings.CutSuffix(name, ".sql")
	if !found {
		return "", "", false
	}
	dot := strings.LastIndexByte(stem, '.')
	if dot <= 0 {
		return "", "", false
	}
	direction = stem[dot+1:]
	if direction != "up" && direction != "down" {
		return "", "", false
	}
	return stem[:dot], direction, true
}
