package db

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "pgx"
)

//go:embed schema.sql
var sqliteSchema string

// DB wraps a database/sql handle together with the dialect it speaks.
type DB struct {
	sql    *sql.DB
	driver string
	logger *zap.Logger
}

// Config holds database connection parameters
type Config struct {
	Driver string

	// SQLite
	Path string

	// Postgres
	Host     string
	Password string
	User     string
	Database string
	SSLMode  string
	Port     int
}

// Open connects to the configured driver and verifies the connection.
// SQLite databases get the embedded schema applied; Postgres is expected to
// be migrated by cmd/migrator.
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	switch cfg.Driver {
	case DriverSQLite, "":
		return openSQLite(ctx, cfg, logger)
	case DriverPostgres:
		return openPostgres(ctx, cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported db driver: %s", cfg.Driver)
	}
}

func openSQLite(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	path := cfg.Path
	if path == "" {
		path = ":memory:"
	}
	dsn := "file:" + path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"

	conn, err := sql.Open(DriverSQLite, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// one writer; also keeps an in-memory database alive on a single connection
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if _, err := conn.ExecContext(ctx, sqliteSchema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply sqlite schema: %w", err)
	}

	logger.Info("database connection established",
		zap.String("driver", DriverSQLite),
		zap.String("path", path),
	)

	return &DB{sql: conn, driver: DriverSQLite, logger: logger}, nil
}

func openPostgres(ctx context.Context, cfg Config, logger *zap.Logger) (*DB, error) {
	var dsn string
	if cfg.Password != "" {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
		)
	} else {
		dsn = fmt.Sprintf(
			"host=%s port=%d user=%s dbname=%s sslmode=%s",
			cfg.Host, cfg.Port, cfg.User, cfg.Database, cfg.SSLMode,
		)
	}

	conn, err := sql.Open(DriverPostgres, dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(1 * time.Hour)
	conn.SetConnMaxIdleTime(30 * time.Minute)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connection established",
		zap.String("driver", DriverPostgres),
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
	)

	return &DB{sql: conn, driver: DriverPostgres, logger: logger}, nil
}

// Close closes the underlying handle
func (db *DB) Close() error {
	db.logger.Info("closing database connection", zap.String("driver", db.driver))
	return db.sql.Close()
}

// Health checks if the database is reachable
func (db *DB) Health(ctx context.Context) error {
	return db.sql.PingContext(ctx)
}

// Stats exposes pool statistics for metrics.
func (db *DB) Stats() sql.DBStats {
	return db.sql.Stats()
}

// rebind rewrites "?" placeholders to "$n" for postgres.
func (db *DB) rebind(query string) string {
	if db.driver != DriverPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
