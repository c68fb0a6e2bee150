package db

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/solatis/gears/migrations"
)

// MigrationStatus represents the state of a single migration.
type MigrationStatus struct {
	ID          string
	Checksum    string
	Applied     bool
	AppliedAt   *time.Time
	ExecutionMs int64
}

// migration is one embedded SQL file.
type migration struct {
	ID       string
	Checksum string
	SQL      string
}

// appliedRow is one row of the migrations table.
type appliedRow struct {
	ID          string `db:"migration_id"`
	Checksum    string `db:"checksum"`
	AppliedAt   string `db:"applied_at"`
	ExecutionMs int64  `db:"execution_ms"`
}

// Migrator applies the embedded schema. Applied files are checksummed and a
// changed or unknown file aborts before anything runs.
type Migrator struct {
	db     *sqlx.DB
	files  []migration
	logger *zap.Logger
}

// NewMigrator loads the migrations embedded for db's driver.
func NewMigrator(db *sqlx.DB, logger *zap.Logger) (*Migrator, error) {
	fsys, err := migrations.For(db.DriverName())
	if err != nil {
		return nil, err
	}
	files, err := loadMigrations(fsys)
	if err != nil {
		return nil, fmt.Errorf("failed to parse migrations: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Migrator{db: db, files: files, logger: logger.Named("migrate")}, nil
}

// Up applies every pending migration in file name order and returns the ids
// it applied. Each migration and its bookkeeping row commit together.
func (m *Migrator) Up(ctx context.Context) ([]string, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}
	if err := m.verify(applied); err != nil {
		return nil, fmt.Errorf("migration checksum validation failed: %w", err)
	}

	var done []string
	for _, mig := range m.files {
		if _, ok := applied[mig.ID]; ok {
			continue
		}
		if err := m.apply(ctx, mig); err != nil {
			return done, err
		}
		done = append(done, mig.ID)
	}
	return done, nil
}

// Status lists every embedded migration with its applied state.
func (m *Migrator) Status(ctx context.Context) ([]MigrationStatus, error) {
	applied, err := m.applied(ctx)
	if err != nil {
		return nil, err
	}

	statuses := make([]MigrationStatus, 0, len(m.files))
	for _, mig := range m.files {
		row, ok := applied[mig.ID]
		if !ok {
			statuses = append(statuses, MigrationStatus{ID: mig.ID, Checksum: mig.Checksum})
			continue
		}
		st := MigrationStatus{
			ID:          row.ID,
			Checksum:    row.Checksum,
			Applied:     true,
			ExecutionMs: row.ExecutionMs,
		}
		if ts, err := time.Parse(time.RFC3339Nano, row.AppliedAt); err == nil {
			st.AppliedAt = &ts
		}
		statuses = append(statuses, st)
	}
	return statuses, nil
}

// Pending returns the ids of migrations not yet applied.
func (m *Migrator) Pending(ctx context.Context) ([]string, error) {
	statuses, err := m.Status(ctx)
	if err != nil {
		return nil, err
	}
	var pending []string
	for _, st := range statuses {
		if !st.Applied {
			pending = append(pending, st.ID)
		}
	}
	return pending, nil
}

func (m *Migrator) apply(ctx context.Context, mig migration) error {
	start := time.Now()
	tx, err := m.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for migration %s: %w", mig.ID, err)
	}
	defer tx.Rollback()

	for i, stmt := range splitStatements(mig.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %s statement %d: %w", mig.ID, i+1, err)
		}
	}

	elapsed := time.Since(start)
	_, err = tx.ExecContext(ctx,
		tx.Rebind("INSERT INTO migrations (migration_id, checksum, applied_at, execution_ms) VALUES (?, ?, ?, ?)"),
		mig.ID, mig.Checksum, m.appliedAt(time.Now()), elapsed.Milliseconds())
	if err != nil {
		return fmt.Errorf("failed to record migration %s: %w", mig.ID, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration %s: %w", mig.ID, err)
	}

	m.logger.Info("migration applied", zap.String("id", mig.ID), zap.Duration("took", elapsed))
	return nil
}

// appliedAt renders the timestamp for the driver's column type.
func (m *Migrator) appliedAt(t time.Time) any {
	t = t.UTC()
	if m.db.DriverName() == "sqlite3" {
		return t.Format(time.RFC3339)
	}
	return t
}

// applied reads the migrations table, creating it first if needed.
// applied_at is TEXT on sqlite and TIMESTAMP on postgres; both scan into a string.
func (m *Migrator) applied(ctx context.Context) (map[string]appliedRow, error) {
	if _, err := m.db.ExecContext(ctx, m.createTableSQL()); err != nil {
		return nil, fmt.Errorf("failed to create migrations table: %w", err)
	}

	var rows []appliedRow
	if err := m.db.SelectContext(ctx, &rows, "SELECT migration_id, checksum, applied_at, execution_ms FROM migrations"); err != nil {
		return nil, fmt.Errorf("failed to query migrations: %w", err)
	}
	out := make(map[string]appliedRow, len(rows))
	for _, r := range rows {
		out[r.ID] = r
	}
	return out, nil
}

// verify rejects applied migrations that no longer match the embedded files.
func (m *Migrator) verify(applied map[string]appliedRow) error {
	embedded := make(map[string]string, len(m.files))
	for _, mig := range m.files {
		embedded[mig.ID] = mig.Checksum
	}
	for id, row := range applied {
		want, ok := embedded[id]
		if !ok {
			return fmt.Errorf("migration %s exists in database but not in embedded files", id)
		}
		if row.Checksum != want {
			return fmt.Errorf("checksum mismatch for migration %s: expected %s, got %s", id, want, row.Checksum)
		}
	}
	return nil
}

// createTableSQL must stay in step with the migrations table in 001_initial_schema.sql.
func (m *Migrator) createTableSQL() string {
	if m.db.DriverName() == "sqlite3" {
		return `CREATE TABLE IF NOT EXISTS migrations (
			migration_id TEXT PRIMARY KEY,
			checksum TEXT NOT NULL,
			applied_at TEXT NOT NULL,
			execution_ms INTEGER NOT NULL
		)`
	}
	return `CREATE TABLE IF NOT EXISTS migrations (
		migration_id TEXT PRIMARY KEY,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMP WITHOUT TIME ZONE NOT NULL,
		execution_ms INTEGER NOT NULL
	)`
}

// loadMigrations reads every .sql file at the root of fsys, sorted by name.
func loadMigrations(fsys fs.FS) ([]migration, error) {
	names, err := fs.Glob(fsys, "*.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)

	out := make([]migration, 0, len(names))
	for _, name := range names {
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		out = append(out, migration{
			ID:       name,
			Checksum: hex.EncodeToString(sum[:]),
			SQL:      string(content),
		})
	}
	return out, nil
}

// splitStatements splits a migration on semicolons, since lib/pq rejects
// multiple statements per Exec. Line comments are dropped first.
func splitStatements(sql string) []string {
	var b strings.Builder
	for _, line := range strings.Split(sql, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	var out []string
	for _, stmt := range strings.Split(b.String(), ";") {
		if stmt = strings.TrimSpace(stmt); stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
