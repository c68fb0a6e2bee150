package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/gears/internal/rules"
	"github.com/solatis/gears/internal/types"
)

func openTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	ctx := context.Background()
	conn, err := Open(ctx, "sqlite://"+filepath.Join(t.TempDir(), "gears.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	m, err := NewMigrator(conn, nil)
	if err != nil {
		t.Fatalf("NewMigrator() error = %v", err)
	}
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	return conn
}

func TestParseURL(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		wantDriver string
		wantDSN    string
		wantErr    bool
	}{
		{"sqlite relative", "sqlite://gears.db", "sqlite3", "gears.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", false},
		{"sqlite absolute", "sqlite:///var/lib/gears.db", "sqlite3", "/var/lib/gears.db?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL", false},
		{"sqlite keeps explicit option", "sqlite://gears.db?_busy_timeout=100", "sqlite3", "gears.db?_busy_timeout=100&_foreign_keys=on&_journal_mode=WAL", false},
		{"postgres", "postgres://u:p@db:5432/gears?sslmode=disable", "postgres", "postgres://u:p@db:5432/gears?sslmode=disable", false},
		{"postgresql alias", "postgresql://db/gears", "postgres", "postgresql://db/gears", false},
		{"sqlite without path", "sqlite://", "", "", true},
		{"unknown scheme", "mysql://localhost/gears", "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			driver, dsn, err := ParseURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseURL() error = %v, wantErr %v", err, tt.wantErr)
			}
			if driver != tt.wantDriver || dsn != tt.wantDSN {
				t.Errorf("ParseURL() = (%q, %q), want (%q, %q)", driver, dsn, tt.wantDriver, tt.wantDSN)
			}
		})
	}
}

func TestMigrator_UpIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	m, err := NewMigrator(conn, nil)
	if err != nil {
		t.Fatal(err)
	}

	applied, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if len(applied) != 0 {
		t.Errorf("second Up() applied %v, want nothing", applied)
	}

	statuses, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status() error = %v", err)
	}
	if len(statuses) != 2 {
		t.Fatalf("len(statuses) = %d, want 2", len(statuses))
	}
	for _, s := range statuses {
		if !s.Applied {
			t.Errorf("migration %s not applied", s.ID)
		}
		if s.AppliedAt == nil {
			t.Errorf("migration %s has no applied_at", s.ID)
		}
	}

	pending, err := m.Pending(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(pending) != 0 {
		t.Errorf("Pending() = %v, want none", pending)
	}
}

func TestMigrator_RejectsChangedChecksum(t *testing.T) {
	ctx := context.Background()
	conn := openTestDB(t)
	if _, err := conn.ExecContext(ctx, "UPDATE migrations SET checksum = 'tampered'"); err != nil {
		t.Fatal(err)
	}

	m, err := NewMigrator(conn, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Up(ctx); err == nil {
		t.Error("Up() error = nil, want checksum mismatch")
	}
}

func TestSplitStatements(t *testing.T) {
	sql := "-- header\nCREATE TABLE a (x INT);\n\n-- second\nCREATE INDEX i ON a (x);\n"
	got := splitStatements(sql)
	want := []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}
	if len(got) != len(want) {
		t.Fatalf("splitStatements() = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("statement %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRunLog(t *testing.T) {
	conn := openTestDB(t)
	q, err := LoadQueries(conn)
	if err != nil {
		t.Fatalf("LoadQueries() error = %v", err)
	}
	ctx := context.Background()
	log := NewRunLog(q, nil)

	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	prov := rules.Provenance{StoryID: 5, Name: "when(true)"}

	log.Observe(ctx, rules.Outcome{DeliveryID: "d1", EventID: 1, EntityType: "story", Provenance: prov, Phase: rules.PhasePredicate, Result: rules.ResultMiss, StartedAt: base})
	log.Observe(ctx, rules.Outcome{DeliveryID: "d1", EventID: 1, EntityType: "story", Provenance: prov, Phase: rules.PhasePredicate, Result: rules.ResultMatch, StartedAt: base.Add(time.Second)})
	log.Observe(ctx, rules.Outcome{DeliveryID: "d1", EventID: 1, EntityType: "story", Provenance: prov, Phase: rules.PhaseAction, Result: rules.ResultError, Err: errors.New("boom"), StartedAt: base.Add(2 * time.Second), Duration: 1500 * time.Millisecond})

	runs, err := log.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error = %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2 (misses skipped)", len(runs))
	}
	if runs[0].Phase != "action" || runs[0].Error != "boom" || runs[0].DurationMs != 1500 {
		t.Errorf("newest run = %+v", runs[0])
	}
	if runs[1].Result != "match" || runs[1].StoryID != 5 {
		t.Errorf("older run = %+v", runs[1])
	}

	log.Observe(ctx, rules.Outcome{DeliveryID: "d2", EventID: 2, EntityType: "story", Provenance: prov, Phase: rules.PhasePredicate, Result: rules.ResultMatch, StartedAt: base.Add(3 * time.Second)})
	forD1, err := log.ForDelivery(ctx, "d1", 10)
	if err != nil {
		t.Fatalf("ForDelivery() error = %v", err)
	}
	if len(forD1) != 2 || forD1[0].Phase != "predicate" || forD1[1].Phase != "action" {
		t.Errorf("ForDelivery(d1) = %+v, want predicate then action", forD1)
	}

	n, err := log.Prune(ctx, base.Add(1500*time.Millisecond))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if n != 1 {
		t.Errorf("Prune() = %d, want 1", n)
	}
}

func TestQueries_InTxRollsBack(t *testing.T) {
	conn := openTestDB(t)
	q, err := LoadQueries(conn)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	boom := errors.New("boom")
	err = q.InTx(ctx, func(tx *Queries) error {
		if _, err := tx.Exec(ctx, "insert-label", "gears"); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx() error = %v, want boom", err)
	}

	var label types.Label
	if err := q.Get(ctx, "get-label-by-name", &label, "gears"); err == nil {
		t.Error("label visible after rollback")
	}
}
