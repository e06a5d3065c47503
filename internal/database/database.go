package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/TobiSchelling/socialshares/internal/logging"
)

// Dialect selects the SQL flavor spoken by the underlying store.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

var (
	// ErrStaleSnapshot is returned when a guarded update finds the stored
	// total no longer matches the value read at selection time.
	ErrStaleSnapshot = errors.New("snapshot changed since it was read")
	// ErrSnapshotNotFound is returned when an update matches no row.
	ErrSnapshotNotFound = errors.New("snapshot not found")
	// ErrEmptySelection is returned when an id selection has no ids.
	ErrEmptySelection = errors.New("no content ids given")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Options configures table names and the connection pool.
type Options struct {
	ContentTable  string
	SnapshotTable string
	MaxOpenConns  int
	Now           func() time.Time
	Logger        logging.Logger
}

// DB wraps the content/snapshot store. Postgres is the production backend;
// SQLite serves local runs and tests.
type DB struct {
	conn     *sql.DB
	dialect  Dialect
	content  string
	snapshot string
	now      func() time.Time
	log      logging.Logger
}

// DetectDialect maps a connection string to a dialect, driver name and DSN.
// postgres:// and postgresql:// URLs and key=value DSNs select Postgres;
// anything else is treated as a SQLite path (an optional sqlite:// prefix is
// stripped).
func DetectDialect(url string) (Dialect, string, string) {
	lower := strings.ToLower(url)
	switch {
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"),
		strings.Contains(lower, "host=") && strings.Contains(lower, "dbname="):
		return Postgres, "postgres", url
	}
	path := strings.TrimPrefix(strings.TrimPrefix(url, "sqlite://"), "sqlite:")
	return SQLite, "sqlite", path
}

// Open connects to the store named by url and brings the schema up to date.
func Open(url string, opts Options) (*DB, error) {
	if strings.TrimSpace(url) == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	dialect, driver, dsn := DetectDialect(url)

	if dialect == SQLite {
		if dir := filepath.Dir(dsn); dir != "" && !strings.HasPrefix(dsn, "file:") {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("creating data directory: %w", err)
			}
		}
		dsn = sqliteDSN(dsn)
	}

	conn, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.PingContext(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	if dialect == SQLite {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("setting journal mode: %w", err)
		}
	}

	db, err := New(conn, dialect, opts)
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}

	return db, nil
}

// New wraps an existing connection without running migrations.
func New(conn *sql.DB, dialect Dialect, opts Options) (*DB, error) {
	content := opts.ContentTable
	if content == "" {
		content = "coverage_log"
	}
	snapshot := opts.SnapshotTable
	if snapshot == "" {
		snapshot = "coverage_social_shares"
	}
	for _, name := range []string{content, snapshot} {
		if !identRe.MatchString(name) {
			return nil, fmt.Errorf("invalid table name %q", name)
		}
	}
	if opts.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(opts.MaxOpenConns)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &DB{conn: conn, dialect: dialect, content: content, snapshot: snapshot, now: now, log: logger}, nil
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dialect reports the SQL flavor of the store.
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// Ping checks that the store is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// rebind rewrites ? placeholders into $n for Postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 16)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// withTx runs fn inside a transaction that is committed on success and
// rolled back on any error.
func (db *DB) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// timestamp normalizes a time for binding so SQLite's text comparison and
// Postgres' timestamptz agree.
func timestamp(t time.Time) time.Time {
	return t.UTC()
}

func sqliteDSN(path string) string {
	sep := "?"
	if strings.Contains(path, "?") {
		sep = "&"
	}
	return path + sep + "_pragma=busy_timeout(5000)&_time_format=sqlite"
}
