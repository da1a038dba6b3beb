package sink

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/openjobspec/ojs-jobrunner/internal/core"

	// database/sql drivers selectable with db.type
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/mattn/go-sqlite3"
)

// Drivers accepted by Open.
const (
	DriverSQLite   = "sqlite3"
	DriverMySQL    = "mysql"
	DriverPostgres = "pgx"
)

// minStatementLen is the shortest text treated as a real statement; shorter
// output is dropped with a warning.
const minStatementLen = 20

// SQL applies statements to a database through database/sql.
type SQL struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// Options configures the connection pool.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// Open connects to the database and verifies the connection.
func Open(ctx context.Context, driver, dsn string, opts Options, logger *slog.Logger) (*SQL, error) {
	switch driver {
	case DriverSQLite, DriverMySQL, DriverPostgres:
	case "postgres", "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}
	if logger == nil {
		logger = slog.Default()
	}

	db, err := sqlx.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", driver, err)
	}
	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", driver, err)
	}
	return &SQL{db: db, logger: logger}, nil
}

// NewSQL wraps an existing connection.
func NewSQL(db *sqlx.DB, logger *slog.Logger) *SQL {
	if logger == nil {
		logger = slog.Default()
	}
	return &SQL{db: db, logger: logger}
}

// DB exposes the underlying connection.
func (s *SQL) DB() *sqlx.DB { return s.db }

// Apply executes the statement.
func (s *SQL) Apply(ctx context.Context, statement string) error {
	if len(statement) < minStatementLen {
		s.logger.Warn("statement too short, skipped", "sql", statement)
		return nil
	}
	res, err := s.db.ExecContext(ctx, statement)
	if err != nil {
		return core.NewSinkError(err)
	}
	if n, err := res.RowsAffected(); err == nil {
		s.logger.Debug("statement applied", "rows", n)
	}
	return nil
}

// Close closes the database.
func (s *SQL) Close() error { return s.db.Close() }
