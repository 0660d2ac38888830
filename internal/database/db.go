package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	_ "modernc.org/sqlite"

	"github.com/ubicatec/ubicatec-api/internal/config"
)

// Open connects to the configured engine and verifies the connection.
// MySQL is the production engine; SQLite serves local development and tests.
func Open(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	switch cfg.DBDriver {
	case "mysql":
		return OpenMySQL(ctx, cfg)
	case "sqlite":
		return OpenSQLite(ctx, cfg.DBPath)
	default:
		return nil, fmt.Errorf("database: unsupported driver %q", cfg.DBDriver)
	}
}

// OpenMySQL builds the DSN with mysql.Config so credentials never need
// escaping by hand.
func OpenMySQL(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	mc := mysql.NewConfig()
	mc.User = cfg.DBUser
	mc.Passwd = cfg.DBPass
	mc.Net = "tcp"
	mc.Addr = cfg.DBHost + ":" + cfg.DBPort
	mc.DBName = cfg.DBName
	mc.Loc = time.UTC
	// DATE/TIME/DATETIME are scanned as text so both engines share one row format
	mc.ParseTime = false
	// RowsAffected must report matched rows, not changed rows, for the
	// conditional updates in the repository layer
	mc.ClientFoundRows = true
	mc.Params = map[string]string{"charset": "utf8mb4"}
	mc.Timeout = 5 * time.Second

	db, err := sql.Open("mysql", mc.FormatDSN())
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxOpenConns)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// OpenSQLite opens a file database.  SQLite has a single writer, so the pool
// is capped at one connection and transactions are serialized by the pool
// itself instead of failing with SQLITE_BUSY.
func OpenSQLite(ctx context.Context, path string) (*sql.DB, error) {
	return OpenSQLitePool(ctx, path, 1)
}

// OpenSQLitePool opens a file database in WAL mode with up to conns
// connections.  Writers queue on busy_timeout; a transaction whose first
// statement writes takes the write lock before reading, so it sees every
// commit that preceded it.
func OpenSQLitePool(ctx context.Context, path string, conns int) (*sql.DB, error) {
	if conns < 1 {
		conns = 1
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(10000)&_pragma=foreign_keys(1)&_pragma=journal_mode(wal)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(conns)
	if err := ping(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

func ping(ctx context.Context, db *sql.DB) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return db.PingContext(ctx)
}
