package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/joseph-ayodele/batchwatch/internal/common"
)

type dialect string

const (
	dialectPostgres dialect = "postgres"
	dialectSQLite   dialect = "sqlite"
)

// DB is the archive connection. Postgres DSNs go through a pgx pool; anything else
// is treated as a SQLite path or URI.
type DB struct {
	sql     *sql.DB
	pool    *pgxpool.Pool
	dialect dialect
	logger  *slog.Logger
}

func isPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}

// Open connects to the archive and ensures the schema exists.
func Open(ctx context.Context, cfg common.HistoryConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DSN == "" {
		return nil, common.NewAppError(common.CodeConfig, "HISTORY_DSN is required", common.ErrInvalidInput)
	}

	var db *DB
	var err error
	if isPostgres(cfg.DSN) {
		db, err = openPostgres(ctx, cfg, logger)
	} else {
		db, err = openSQLite(cfg, logger)
	}
	if err != nil {
		return nil, err
	}

	if err := db.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	logger.Info("history.open.ok", "dialect", string(db.dialect))
	return db, nil
}

func openPostgres(ctx context.Context, cfg common.HistoryConfig, logger *slog.Logger) (*DB, error) {
	logger.Info("connecting to history database", "dialect", "postgres")
	pc, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		logger.Error("failed to parse history dsn", "error", err)
		return nil, common.WrapError(fmt.Errorf("%w: %v", common.ErrDatabase, err), "parse dsn")
	}
	if cfg.MaxConns > 0 {
		pc.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		pc.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		pc.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	pc.ConnConfig.RuntimeParams["application_name"] = "batchwatch"

	dialTimeout := cfg.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()
	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		logger.Error("failed to connect to history database", "error", err)
		return nil, common.WrapError(fmt.Errorf("%w: %v", common.ErrDatabase, err), "connect")
	}

	return &DB{
		sql:     stdlib.OpenDBFromPool(pool),
		pool:    pool,
		dialect: dialectPostgres,
		logger:  logger,
	}, nil
}

func openSQLite(cfg common.HistoryConfig, logger *slog.Logger) (*DB, error) {
	logger.Info("opening history database", "dialect", "sqlite", "dsn", cfg.DSN)
	sqldb, err := sql.Open("sqlite", cfg.DSN)
	if err != nil {
		return nil, common.WrapError(fmt.Errorf("%w: %v", common.ErrDatabase, err), "open sqlite")
	}
	// A single writer keeps SQLite from returning SQLITE_BUSY under the inbox queue.
	sqldb.SetMaxOpenConns(1)
	return &DB{sql: sqldb, dialect: dialectSQLite, logger: logger}, nil
}

// Close closes the database connections.
func (db *DB) Close() {
	if db == nil {
		return
	}
	db.logger.Info("closing history database")
	if err := db.sql.Close(); err != nil {
		db.logger.Error("failed to close history database", "error", err)
	}
	if db.pool != nil {
		db.pool.Close()
	}
}

// HealthCheck pings the archive.
func (db *DB) HealthCheck(ctx context.Context, timeout time.Duration) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	if err := db.sql.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", common.ErrDatabase, err)
	}
	return nil
}

func (db *DB) migrate(ctx context.Context) error {
	ts := "TIMESTAMPTZ"
	if db.dialect == dialectSQLite {
		ts = "DATETIME"
	}
	ddl := `CREATE TABLE IF NOT EXISTS runs (
	id                 TEXT PRIMARY KEY,
	task_id            TEXT NOT NULL,
	document_name      TEXT NOT NULL,
	affiliation_type   TEXT NOT NULL,
	submitter_name     TEXT NOT NULL,
	state              TEXT NOT NULL,
	total_records      INTEGER NOT NULL DEFAULT 0,
	processed_records  INTEGER NOT NULL DEFAULT 0,
	successful_records INTEGER NOT NULL DEFAULT 0,
	error_records      INTEGER NOT NULL DEFAULT 0,
	download_ref       TEXT NOT NULL DEFAULT '',
	error_code         TEXT NOT NULL DEFAULT '',
	error_message      TEXT NOT NULL DEFAULT '',
	timeline           TEXT NOT NULL,
	started_at         ` + ts + ` NOT NULL,
	finished_at        ` + ts + ` NOT NULL
)`
	if _, err := db.sql.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("%w: create runs: %v", common.ErrDatabase, err)
	}
	if _, err := db.sql.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS runs_finished_at_idx ON runs (finished_at)`); err != nil {
		return fmt.Errorf("%w: create index: %v", common.ErrDatabase, err)
	}
	return nil
}

// rebind rewrites ? placeholders to $n for Postgres.
func (db *DB) rebind(q string) string {
	if db.dialect != dialectPostgres {
		return q
	}
	var b strings.Builder
	n := 0
	for _, r := range q {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
