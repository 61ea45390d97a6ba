// Package history persists loaded message history to a local SQLite
// database, so a reopened client can render a room immediately while the
// fresh load runs. It implements chat.History.
package history

import (
	"database/sql"
	"fmt"
	"os"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"
)

// Open opens (creating if needed) the cache database at file and runs the
// goose migrations found in migrationDir. The cache is a throwaway local
// artifact: callers may delete the file at any time and start fresh.
func Open(file, migrationDir string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?mode=rwc&cache=shared&journal_mode=WAL", file)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := migrate(db, migrationDir); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate history db: %w", err)
	}
	return db, nil
}

func migrate(db *sql.DB, migrationDir string) error {
	goose.SetBaseFS(os.DirFS(migrationDir))
	if err := goose.SetDialect("sqlite3"); err != nil {
		return err
	}
	return goose.Up(db, ".")
}
