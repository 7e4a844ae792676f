// Package db provides the SQLite store behind the balance ledger and task history.
package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// ConnectionConfig holds configuration for SQLite connections.
type ConnectionConfig struct {
	Path            string
	BusyTimeout     time.Duration
	MaxOpenConns    int
	ConnMaxLifetime time.Duration // 0 = reuse forever
}

// DefaultConnectionConfig returns defaults for a single-writer WAL database.
// Balance debits run in transactions, so one open connection is enough to
// serialize writers.
func DefaultConnectionConfig(path string) ConnectionConfig {
	return ConnectionConfig{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 1,
	}
}

// dsn encodes the pragmas into the connection string so that every
// connection the pool opens gets them, not only the first one.
func (c ConnectionConfig) dsn() string {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", c.BusyTimeout.Milliseconds()))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(ON)")
	q.Add("_txlock", "immediate")
	return "file:" + c.Path + "?" + q.Encode()
}

// NewSQLiteConnection opens the database described by config and checks
// that WAL journaling took effect.
func NewSQLiteConnection(config ConnectionConfig) (*sql.DB, error) {
	if config.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	conn, err := sql.Open("sqlite", config.dsn())
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.Path, err)
	}
	conn.SetMaxOpenConns(config.MaxOpenConns)
	conn.SetMaxIdleConns(config.MaxOpenConns)
	conn.SetConnMaxLifetime(config.ConnMaxLifetime)

	var mode string
	if err := conn.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		conn.Close()
		return nil, fmt.Errorf("open %s: %w", config.Path, err)
	}
	if !strings.EqualFold(mode, "wal") {
		conn.Close()
		return nil, fmt.Errorf("open %s: journal mode is %q, want wal", config.Path, mode)
	}
	return conn, nil
}
