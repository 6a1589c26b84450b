package database

import (
	"database/sql"

	_ "modernc.org/sqlite" // SQLite driver
)

// New creates a new database connection pool.
func New(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dataSourceName+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, err
	}
	if err = db.Ping(); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate runs the SQL statements to set up the database schema.
func Migrate(db *sql.DB) error {
	const sqlStmt = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT NOT NULL PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT NOT NULL UNIQUE,
		phone_number TEXT NOT NULL UNIQUE,
		company_name TEXT,
		number_of_employees INTEGER,
		profile_picture TEXT,
		role_id INTEGER NOT NULL DEFAULT 1,
		password_hash TEXT NOT NULL,
		-- Unix milliseconds
		created_at INTEGER NOT NULL
	);
	`
	_, err := db.Exec(sqlStmt)
	return err
}
