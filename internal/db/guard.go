// Package db owns the library database handle. Every statement issued by the
// rest of the module goes through a Guard, which picks the binding strategy
// (see Encode) and retries lock errors according to a retry.Policy.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/llehouerou/shelf/internal/logger"
	"github.com/llehouerou/shelf/internal/retry"
)

var log = logger.WithName("db")

// DefaultBusyTimeout is how long the engine itself waits on a lock before
// reporting SQLITE_BUSY to the guard.
const DefaultBusyTimeout = 250 * time.Millisecond

// Conn is the part of *sql.DB the guard relies on.
type Conn interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	PingContext(ctx context.Context) error
	Close() error
}

// RowScanner is implemented by *sql.Rows and *sql.Row.
type RowScanner interface {
	Scan(dest ...any) error
}

// ErrConnect is matched by every *ConnectError.
var ErrConnect = errors.New("cannot open database")

// ConnectError reports a database that could not be opened or reached.
type ConnectError struct {
	Path string
	Err  error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("open database %s: %v", e.Path, e.Err)
}

func (e *ConnectError) Unwrap() []error { return []error{ErrConnect, e.Err} }

// Guard wraps the shared connection pool.
type Guard struct {
	conn        Conn
	path        string
	policy      retry.Policy
	sleep       retry.SleepFunc
	busyTimeout time.Duration
}

// Option configures a Guard.
type Option func(*Guard)

// WithRetryPolicy sets the retry budget for every call.
func WithRetryPolicy(p retry.Policy) Option {
	return func(g *Guard) { g.policy = p }
}

// WithSleep replaces the backoff sleep, mostly for tests.
func WithSleep(fn retry.SleepFunc) Option {
	return func(g *Guard) { g.sleep = fn }
}

// WithBusyTimeout sets the engine-level busy timeout used by Open.
func WithBusyTimeout(d time.Duration) Option {
	return func(g *Guard) { g.busyTimeout = d }
}

// New wraps an already opened handle.
func New(conn Conn, opts ...Option) *Guard {
	g := &Guard{
		conn:        conn,
		policy:      retry.Default(),
		sleep:       retry.Sleep,
		busyTimeout: DefaultBusyTimeout,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Open opens (creating if needed) the database at path in WAL mode and
// checks that it answers. Failures are *ConnectError.
func Open(ctx context.Context, path string, opts ...Option) (*Guard, error) {
	g := New(nil, opts...)
	g.path = path

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, &ConnectError{Path: path, Err: err}
		}
	}

	conn, err := sql.Open("sqlite", dsn(path, g.busyTimeout))
	if err != nil {
		return nil, &ConnectError{Path: path, Err: err}
	}
	g.conn = conn
	if err := g.Ping(ctx); err != nil {
		conn.Close()
		return nil, &ConnectError{Path: path, Err: err}
	}

	log.WithField("path", path).Debug("database opened")
	return g, nil
}

func dsn(path string, busy time.Duration) string {
	return fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)",
		path, busy.Milliseconds())
}

// WithPolicy returns a guard sharing the same handle with another retry budget.
func (g *Guard) WithPolicy(p retry.Policy) *Guard {
	c := *g
	c.policy = p
	return &c
}

// Policy returns the guard's retry budget.
func (g *Guard) Policy() retry.Policy { return g.policy }

// Path returns the file the guard was opened on, if any.
func (g *Guard) Path() string { return g.path }

// Close releases the handle. Guards derived with WithPolicy share it.
func (g *Guard) Close() error {
	return g.conn.Close()
}

// Ping is the health check.
func (g *Guard) Ping(ctx context.Context) error {
	return g.do(ctx, func() error { return g.conn.PingContext(ctx) })
}

func (g *Guard) do(ctx context.Context, op func() error) error {
	return retry.Do(ctx, g.policy, g.sleep, op)
}

// Execute runs a statement and returns the number of affected rows.
func (g *Guard) Execute(ctx context.Context, query string, args ...any) (int64, error) {
	stmt, err := Encode(query, args...)
	if err != nil {
		return 0, err
	}
	var n int64
	err = g.do(ctx, func() error {
		res, err := g.conn.ExecContext(ctx, stmt.Query, stmt.Args...)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n, err
}

// ExecReturningID runs an INSERT or upsert ending in "RETURNING <key>" and
// returns the key of the written row.
func (g *Guard) ExecReturningID(ctx context.Context, query string, args ...any) (int64, error) {
	return QueryScalar[int64](ctx, g, query, args...)
}

// query runs a statement and feeds rows to each until it returns false.
// reset is called before every attempt so partial results never leak
// across retries.
func (g *Guard) query(ctx context.Context, query string, args []any, reset func(), each func(RowScanner) (bool, error)) error {
	stmt, err := Encode(query, args...)
	if err != nil {
		return err
	}
	return g.do(ctx, func() error {
		reset()
		rows, err := g.conn.QueryContext(ctx, stmt.Query, stmt.Args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			more, err := each(rows)
			if err != nil {
				return err
			}
			if !more {
				break
			}
		}
		return rows.Err()
	})
}

// QueryRows maps every result row through scan.
func QueryRows[T any](ctx context.Context, g *Guard, scan func(RowScanner) (T, error), query string, args ...any) ([]T, error) {
	var out []T
	err := g.query(ctx, query, args, func() { out = nil }, func(r RowScanner) (bool, error) {
		v, err := scan(r)
		if err != nil {
			return false, err
		}
		out = append(out, v)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// QueryOptional maps the first result row, reporting false when there is none.
func QueryOptional[T any](ctx context.Context, g *Guard, scan func(RowScanner) (T, error), query string, args ...any) (T, bool, error) {
	var (
		out   T
		found bool
	)
	err := g.query(ctx, query, args, func() {
		var zero T
		out, found = zero, false
	}, func(r RowScanner) (bool, error) {
		v, err := scan(r)
		if err != nil {
			return false, err
		}
		out, found = v, true
		return false, nil
	})
	if err != nil {
		var zero T
		return zero, false, err
	}
	return out, found, nil
}

// QueryOne is QueryOptional that treats a missing row as sql.ErrNoRows.
func QueryOne[T any](ctx context.Context, g *Guard, scan func(RowScanner) (T, error), query string, args ...any) (T, error) {
	v, ok, err := QueryOptional(ctx, g, scan, query, args...)
	if err != nil {
		return v, err
	}
	if !ok {
		return v, sql.ErrNoRows
	}
	return v, nil
}

// Scalar scans a single-column row into T. It fits the scan argument of
// QueryRows and friends.
func Scalar[T any](r RowScanner) (T, error) {
	var v T
	err := r.Scan(&v)
	return v, err
}

// QueryScalarOptional reads the first column of the first row.
func QueryScalarOptional[T any](ctx context.Context, g *Guard, query string, args ...any) (T, bool, error) {
	return QueryOptional(ctx, g, Scalar[T], query, args...)
}

// QueryScalar reads the first column of the first row; no row is sql.ErrNoRows.
func QueryScalar[T any](ctx context.Context, g *Guard, query string, args ...any) (T, error) {
	return QueryOne(ctx, g, Scalar[T], query, args...)
}

// Blob is one column of a blob-only follow-up write.
type Blob struct {
	Column string
	Data   []byte
}

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// WriteBlobs stores blobs on an existing row in a statement that binds
// nothing but blobs. The key is inlined as an integer literal. Blobs with
// nil Data are left untouched.
func (g *Guard) WriteBlobs(ctx context.Context, table, keyColumn string, id int64, blobs ...Blob) error {
	for _, ident := range append([]string{table, keyColumn}, columns(blobs)...) {
		if !identRe.MatchString(ident) {
			return &EncodingError{Arg: -1, Reason: fmt.Sprintf("invalid identifier %q", ident)}
		}
	}

	sets := make([]string, 0, len(blobs))
	args := make([]any, 0, len(blobs))
	for _, b := range blobs {
		if b.Data == nil {
			continue
		}
		sets = append(sets, b.Column+" = ?")
		args = append(args, b.Data)
	}
	if len(sets) == 0 {
		return nil
	}

	q := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %d", table, strings.Join(sets, ", "), keyColumn, id)
	n, err := g.Execute(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("write %s blobs for %s %d: %w", table, keyColumn, id, err)
	}
	if n == 0 {
		return fmt.Errorf("write %s blobs for %s %d: %w", table, keyColumn, id, sql.ErrNoRows)
	}
	return nil
}

func columns(blobs []Blob) []string {
	out := make([]string, len(blobs))
	for i, b := range blobs {
		out[i] = b.Column
	}
	return out
}
