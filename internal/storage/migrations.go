package storage

import (
	"time"
)

// Migration represents a database migration
type Migration struct {
	Version     string    `db:"version"`
	Description string    `db:"description"`
	SQL         string    `db:"sql"`
	AppliedAt   time.Time `db:"applied_at"`
}

// GetSQLiteMigrations returns SQLite migration scripts
func GetSQLiteMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create bins table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bins (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					created_at DATETIME NOT NULL,
					modified_at DATETIME NOT NULL
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entries (
					bin_id TEXT NOT NULL REFERENCES bins(id) ON DELETE CASCADE,
					log_number INTEGER NOT NULL,
					timestamp TEXT NOT NULL,
					method TEXT NOT NULL,
					url TEXT NOT NULL,
					headers TEXT NOT NULL, -- JSON
					body TEXT,             -- JSON
					PRIMARY KEY (bin_id, log_number)
				);

				CREATE INDEX IF NOT EXISTS idx_entries_bin_id ON entries(bin_id);
			`,
		},
	}
}

// GetPostgresMigrations returns PostgreSQL migration scripts
func GetPostgresMigrations() []*Migration {
	return []*Migration{
		{
			Version:     "001",
			Description: "Create bins table",
			SQL: `
				CREATE TABLE IF NOT EXISTS bins (
					id TEXT PRIMARY KEY,
					name TEXT NOT NULL,
					created_at TIMESTAMPTZ NOT NULL,
					modified_at TIMESTAMPTZ NOT NULL
				);
			`,
		},
		{
			Version:     "002",
			Description: "Create entries table",
			SQL: `
				CREATE TABLE IF NOT EXISTS entries (
					bin_id TEXT NOT NULL REFERENCES bins(id) ON DELETE CASCADE,
					log_number BIGINT NOT NULL,
					timestamp TEXT NOT NULL,
					method TEXT NOT NULL,
					url TEXT NOT NULL,
					headers JSONB NOT NULL,
					body JSONB,
					PRIMARY KEY (bin_id, log_number)
				);

				CREATE INDEX IF NOT EXISTS idx_entries_bin_id ON entries(bin_id);
			`,
		},
	}
}
