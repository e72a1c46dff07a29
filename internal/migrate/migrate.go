// Package migrate applies the embedded schema migrations exactly once per
// database, recording each in the schema_migrations ledger.
package migrate

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/llehouerou/shelf/internal/db"
	"github.com/llehouerou/shelf/internal/logger"
	"github.com/llehouerou/shelf/internal/retry"
)

var log = logger.WithName("migrate")

//go:embed migrations/*.sql
var embedded embed.FS

const ledgerDDL = `CREATE TABLE IF NOT EXISTS schema_migrations (
	identifier TEXT PRIMARY KEY,
	applied_at TEXT NOT NULL
)`

// Migration is one named schema change.
type Migration struct {
	ID  string
	SQL string
}

// State is the outcome of a migration in a run.
type State int

const (
	Pending State = iota
	Applied
	SkippedAlreadyPresent
)

func (s State) String() string {
	switch s {
	case Pending:
		return "pending"
	case Applied:
		return "applied"
	case SkippedAlreadyPresent:
		return "skipped-already-present"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Report lists what a run did, by migration identifier.
type Report struct {
	Applied         []string
	Skipped         []string // some statement found its object already present
	AlreadyRecorded []string
}

// SchemaError aborts startup: a migration statement failed for a reason
// other than its object already existing.
type SchemaError struct {
	Migration string
	Statement string
	Err       error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("migration %s: %v", e.Migration, e.Err)
}

func (e *SchemaError) Unwrap() error { return e.Err }

// LedgerEntry is one row of schema_migrations.
type LedgerEntry struct {
	Identifier string
	AppliedAt  time.Time
}

// Load reads every *.sql file under dir in fsys, ordered by file name.
func Load(fsys fs.FS, dir string) ([]Migration, error) {
	names, err := fs.Glob(fsys, path.Join(dir, "*.sql"))
	if err != nil {
		return nil, fmt.Errorf("list migrations: %w", err)
	}
	sort.Strings(names)

	out := make([]Migration, 0, len(names))
	for _, name := range names {
		body, err := fs.ReadFile(fsys, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		out = append(out, Migration{ID: path.Base(name), SQL: string(body)})
	}
	return out, nil
}

// Embedded returns the migrations compiled into the binary.
func Embedded() ([]Migration, error) {
	return Load(embedded, "migrations")
}

// Runner applies migrations through a guard using the schema retry budget.
type Runner struct {
	guard      *db.Guard
	migrations []Migration
	now        func() time.Time
}

// NewRunner returns a runner for the given migrations.
func NewRunner(g *db.Guard, migrations []Migration) *Runner {
	return &Runner{
		guard:      g.WithPolicy(retry.Schema()),
		migrations: migrations,
		now:        time.Now,
	}
}

// Run applies the embedded migrations.
func Run(ctx context.Context, g *db.Guard) (Report, error) {
	migrations, err := Embedded()
	if err != nil {
		return Report{}, err
	}
	return NewRunner(g, migrations).Run(ctx)
}

// Run applies every migration missing from the ledger, in order.
func (r *Runner) Run(ctx context.Context) (Report, error) {
	var report Report

	if _, err := r.guard.Execute(ctx, ledgerDDL); err != nil {
		return report, fmt.Errorf("create schema_migrations: %w", err)
	}
	recorded, err := r.recorded(ctx)
	if err != nil {
		return report, err
	}

	for _, m := range r.migrations {
		if recorded[m.ID] {
			report.AlreadyRecorded = append(report.AlreadyRecorded, m.ID)
			continue
		}

		state, err := r.apply(ctx, m)
		if err != nil {
			return report, err
		}
		if err := r.record(ctx, m.ID); err != nil {
			return report, err
		}

		switch state {
		case Applied:
			report.Applied = append(report.Applied, m.ID)
			log.WithField("migration", m.ID).Info("migration applied")
		case SkippedAlreadyPresent:
			report.Skipped = append(report.Skipped, m.ID)
			log.WithField("migration", m.ID).Warn("migration already present, recorded as applied")
		}
	}
	return report, nil
}

// apply runs each statement of m. Statements whose objects already exist
// are tolerated so a half-applied migration can be re-run.
func (r *Runner) apply(ctx context.Context, m Migration) (State, error) {
	state := Applied
	for _, stmt := range splitStatements(m.SQL) {
		if err := ctx.Err(); err != nil {
			return Pending, err
		}
		_, err := r.guard.Execute(ctx, stmt)
		if err == nil {
			continue
		}
		if !alreadyPresent(stmt, err) {
			return Pending, &SchemaError{Migration: m.ID, Statement: stmt, Err: err}
		}
		log.WithField("migration", m.ID).WithError(err).Warn("schema object already present")
		state = SkippedAlreadyPresent
	}
	return state, nil
}

func (r *Runner) record(ctx context.Context, id string) error {
	_, err := r.guard.Execute(ctx,
		"INSERT OR IGNORE INTO schema_migrations (identifier, applied_at) VALUES (?, ?)",
		id, r.now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("record migration %s: %w", id, err)
	}
	return nil
}

func (r *Runner) recorded(ctx context.Context) (map[string]bool, error) {
	ids, err := db.QueryRows(ctx, r.guard, func(s db.RowScanner) (string, error) {
		var id string
		return id, s.Scan(&id)
	}, "SELECT identifier FROM schema_migrations")
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set, nil
}

// Ledger lists applied migrations in identifier order.
func (r *Runner) Ledger(ctx context.Context) ([]LedgerEntry, error) {
	return Ledger(ctx, r.guard)
}

// Ledger reads schema_migrations.
func Ledger(ctx context.Context, g *db.Guard) ([]LedgerEntry, error) {
	return db.QueryRows(ctx, g, func(s db.RowScanner) (LedgerEntry, error) {
		var (
			e       LedgerEntry
			applied string
		)
		if err := s.Scan(&e.Identifier, &applied); err != nil {
			return e, err
		}
		t, err := time.Parse(time.RFC3339, applied)
		if err != nil {
			return e, fmt.Errorf("ledger entry %s: %w", e.Identifier, err)
		}
		e.AppliedAt = t
		return e, nil
	}, "SELECT identifier, applied_at FROM schema_migrations ORDER BY identifier")
}

// alreadyPresent reports whether err only says the statement's effect is
// already in place.
func alreadyPresent(stmt string, err error) bool {
	var encErr *db.EncodingError
	if errors.As(err, &encErr) {
		return false
	}
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "duplicate column name") || strings.Contains(msg, "already exists") {
		return true
	}
	if isDrop(stmt) {
		return strings.Contains(msg, "no such") || strings.Contains(msg, "not supported")
	}
	return false
}

func isDrop(stmt string) bool {
	fields := strings.Fields(stripComments(stmt))
	return len(fields) > 0 && strings.EqualFold(fields[0], "DROP")
}
