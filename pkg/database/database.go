// Package database persists the last-known merged view so a restarted
// server renders the previous map before the first fresh fetch lands.
// Only the current per-source entity sets are stored, mirroring the
// orchestrator's replace-by-source merge rule; this is a warm-start
// cache, not a history.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"
)

// Database wraps the SQL connection together with the normalized driver
// name so SQL builders can stay declarative about placeholder syntax.
type Database struct {
	DB     *sql.DB
	Driver string
}

// Config holds the connection details for the snapshot store.
type Config struct {
	DBType    string // sqlite, chai, genji, duckdb, or pgx (postgresql)
	DBPath    string // file path for file-based drivers
	DBConn    string // raw DSN for network drivers
	DBHost    string
	DBPort    int
	DBUser    string
	DBPass    string
	DBName    string
	PGSSLMode string
	Port      int // server port, used in default database file naming
}

// New opens the store and configures connection pooling. File-based
// engines are forced into single-connection mode: one physical
// connection, no concurrent statements at the DB layer.
func New(cfg Config) (*Database, error) {
	driverName := strings.ToLower(strings.TrimSpace(cfg.DBType))
	var (
		dsn          string
		applyPragmas bool
		fileBased    bool
	)

	switch driverName {
	case "sqlite":
		applyPragmas = true
		fileBased = true
		dsn = cfg.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("snapshot-%d.sqlite", cfg.Port)
		}
	case "chai", "genji":
		// Chai reuses sqlite-style file DSNs but manages its own
		// transaction and caching strategy, so pragmas are skipped.
		fileBased = true
		dsn = cfg.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("snapshot-%d.%s", cfg.Port, driverName)
		}
	case "duckdb":
		fileBased = true
		dsn = cfg.DBPath
		if dsn == "" {
			dsn = fmt.Sprintf("snapshot-%d.duckdb", cfg.Port)
		}
	case "pgx":
		if strings.TrimSpace(cfg.DBConn) != "" {
			dsn = cfg.DBConn
		} else {
			dsn = fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
				cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName, cfg.PGSSLMode)
		}
	default:
		return nil, fmt.Errorf("unsupported database type: %s", cfg.DBType)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if fileBased {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
		db.SetConnMaxLifetime(0)
		if applyPragmas {
			tuneCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := tuneSQLiteConnection(tuneCtx, db); err != nil {
				log.Printf("sqlite tuning skipped: %v", err)
			}
			cancel()
		}
	} else {
		db.SetMaxOpenConns(4)
		db.SetMaxIdleConns(4)
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	// Liveness probe with a timeout so startup never hangs on a dead
	// database.
	{
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("connect to database: %w", err)
		}
	}

	log.Printf("snapshot store: driver=%s dsn=%s", driverName, dsn)
	return &Database{DB: db, Driver: driverName}, nil
}

// Close releases the underlying connection.
func (db *Database) Close() error {
	if db == nil || db.DB == nil {
		return nil
	}
	return db.DB.Close()
}

// tuneSQLiteConnection applies WAL/synchronous/busy pragmas so snapshot
// writes keep up with per-source merge bursts.
func tuneSQLiteConnection(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA busy_timeout=5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("%s: %w", strings.TrimSuffix(p, ";"), err)
		}
	}
	return nil
}

// newPlaceholderGenerator returns a closure producing the placeholder
// syntax for the configured driver, so the same SQL assembly serves both
// postgres-style `$n` and everything else's `?`.
func newPlaceholderGenerator(driver string) func() string {
	if strings.ToLower(driver) == "pgx" {
		counter := 0
		return func() string {
			counter++
			return fmt.Sprintf("$%d", counter)
		}
	}
	return func() string { return "?" }
}
