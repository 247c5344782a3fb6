package database

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/TheGojiOG/CfxSM/internal/logging"
	_ "modernc.org/sqlite"
)

// pragmas are applied by the driver to every new connection
var pragmas = []string{
	"foreign_keys(ON)",
	"busy_timeout(5000)",
	"journal_mode(WAL)",
	"synchronous(NORMAL)",
}

// DB is the manager's sqlite state database
type DB struct {
	*sql.DB
	path string
}

// NewDB opens the database file at path, creating it and its directory
// when missing.
func NewDB(path string) (*DB, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve database path: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite", dsn(absPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL lets readers run beside a writer; busy_timeout queues writers
	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database %s: %w", absPath, err)
	}

	return &DB{DB: conn, path: absPath}, nil
}

// Path is the absolute location of the database file
func (db *DB) Path() string {
	return db.path
}

func dsn(path string) string {
	return "file:" + filepath.ToSlash(path) + "?_pragma=" + strings.Join(pragmas, "&_pragma=")
}

// Migrate applies every pending migration in order
func (db *DB) Migrate() error {
	if err := db.ensureMigrationsTable(); err != nil {
		return err
	}

	applied, err := db.Applied()
	if err != nil {
		return err
	}
	done := make(map[string]bool, len(applied))
	for _, version := range applied {
		done[version] = true
	}

	for _, migration := range migrations {
		if done[migration.Version] {
			continue
		}
		err := db.inTx(func(tx *sql.Tx) error {
			if _, err := tx.Exec(migration.Up); err != nil {
				return fmt.Errorf("failed to execute migration %s: %w", migration.Version, err)
			}
			if _, err := tx.Exec("INSERT INTO migrations (version, applied_at) VALUES (?, ?)", migration.Version, time.Now().UTC()); err != nil {
				return fmt.Errorf("failed to record migration %s: %w", migration.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}
		logging.L().Info("database_migration_applied", "version", migration.Version)
	}

	return nil
}

// Rollback reverts the newest applied migration and returns its version.
// An empty version means nothing was applied.
func (db *DB) Rollback() (string, error) {
	if err := db.ensureMigrationsTable(); err != nil {
		return "", err
	}

	applied, err := db.Applied()
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "", nil
	}

	version := applied[len(applied)-1]
	migration, ok := findMigration(version)
	if !ok {
		return "", fmt.Errorf("applied migration %s is unknown to this binary", version)
	}

	err = db.inTx(func(tx *sql.Tx) error {
		if _, err := tx.Exec(migration.Down); err != nil {
			return fmt.Errorf("failed to revert migration %s: %w", version, err)
		}
		if _, err := tx.Exec("DELETE FROM migrations WHERE version = ?", version); err != nil {
			return fmt.Errorf("failed to unrecord migration %s: %w", version, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}

	logging.L().Info("database_migration_reverted", "version", version)
	return version, nil
}

// Applied lists the applied migration versions, oldest first
func (db *DB) Applied() ([]string, error) {
	rows, err := db.Query("SELECT version FROM migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("failed to list migrations: %w", err)
	}
	defer rows.Close()

	versions := []string{}
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		versions = append(versions, version)
	}
	return versions, rows.Err()
}

func (db *DB) ensureMigrationsTable() error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS migrations (
			version TEXT PRIMARY KEY,
			applied_at DATETIME NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}
	return nil
}

func (db *DB) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}
