// Package db opens the sqlite database backing the message log and the profiles.
package db

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var sqlFiles embed.FS

// Open opens the sqlite database at filePath, creating it and its tables if needed.
func Open(filePath string) (*sql.DB, error) {
	if err := os.MkdirAll(filepath.Dir(filePath), 0o750); err != nil {
		return nil, fmt.Errorf("error creating db directory: %w", err)
	}

	// WAL + synchronous=FULL: a committed append survives a crash before it is broadcast
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)&_pragma=busy_timeout(5000)", filePath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening db: %w", err)
	}
	// single connection, writes are serialized by the relay
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("error pinging db: %w", err)
	}

	// Create tables
	schema, _ := sqlFiles.ReadFile("schema.sql")
	if _, err = db.Exec(string(schema)); err != nil {
		db.Close()
		return nil, fmt.Errorf("error creating tables: %w", err)
	}
	return db, nil
}
