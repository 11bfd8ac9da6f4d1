package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/pkg/utils"
)

// SQLiteStore implements BinStore using SQLite. Log number assignment is
// delegated to the insert statement itself (COALESCE(MAX(log_number),0)+1
// scoped to the bin), which is atomic per statement, so concurrent appends
// to the same bin each receive a distinct, increasing number.
type SQLiteStore struct {
	db         *sql.DB
	config     *StoreConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewSQLiteStore creates a new SQLite bin store instance
func NewSQLiteStore(config *StoreConfig) *SQLiteStore {
	return &SQLiteStore{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetSQLiteMigrations(),
	}
}

// Connect establishes database connection
func (s *SQLiteStore) Connect() error {
	// Ensure directory exists
	dir := filepath.Dir(s.config.ConnectionString)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage, "Failed to create database directory", err.Error())
		}
	}

	db, err := sql.Open("sqlite", s.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to open SQLite database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(s.config.MaxConnections)
	db.SetMaxIdleConns(s.config.MaxConnections / 2)
	db.SetConnMaxLifetime(s.config.MaxIdleTime)

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to enable WAL mode", err.Error())
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to enable foreign keys", err.Error())
	}

	// Wait for locks instead of failing when writers overlap
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to set busy timeout", err.Error())
	}

	s.db = db
	s.logger.Info("SQLite database connected", "path", s.config.ConnectionString)

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		err := s.db.Close()
		s.db = nil
		s.logger.Info("SQLite database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (s *SQLiteStore) Ping() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Database not connected", "")
	}
	return s.db.Ping()
}

// Migrate runs database migrations
func (s *SQLiteStore) Migrate() error {
	if s.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Database not connected", "")
	}

	s.logger.Info("Starting database migrations")

	for _, migration := range s.migrations {
		s.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)

		if _, err := s.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	s.logger.Info("Database migrations completed")
	return nil
}

// CreateBin allocates storage for a new bin with an empty entry log
func (s *SQLiteStore) CreateBin(ctx context.Context, id, name string) error {
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO bins (id, name, created_at, modified_at) VALUES (?, ?, ?, ?)`,
		id, name, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return utils.NewAppError(utils.ErrCodeAlreadyExists, "Bin already exists", id)
		}
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to create bin", err.Error())
	}

	s.logger.Debug("Bin created", "id", id)
	return nil
}

// DeleteBin removes the bin and all its entries
func (s *SQLiteStore) DeleteBin(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bin_id = ?`, id); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete bin entries", err.Error())
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM bins WHERE id = ?`, id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete bin", err.Error())
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to read rows affected", err.Error())
	}
	if rows == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Bin not found", id)
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to commit transaction", err.Error())
	}

	s.logger.Debug("Bin deleted", "id", id)
	return nil
}

// RenameBin updates the bin's display name
func (s *SQLiteStore) RenameBin(ctx context.Context, id, name string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE bins SET name = ?, modified_at = ? WHERE id = ?`,
		name, time.Now().UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to rename bin", err.Error())
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to read rows affected", err.Error())
	}
	if rows == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Bin not found", id)
	}

	return nil
}

// GetBin retrieves a single bin's metadata
func (s *SQLiteStore) GetBin(ctx context.Context, id string) (*models.Bin, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, modified_at FROM bins WHERE id = ?`, id)

	var bin models.Bin
	err := row.Scan(&bin.ID, &bin.Name, &bin.CreatedAt, &bin.ModifiedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Bin not found", id)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to get bin", err.Error())
	}

	return &bin, nil
}

// ListBins returns one summary row per known bin
func (s *SQLiteStore) ListBins(ctx context.Context) ([]*models.BinSummary, error) {
	query := `
		SELECT b.id, b.name, b.created_at, b.modified_at,
		       COUNT(e.log_number),
		       (SELECT timestamp FROM entries WHERE bin_id = b.id ORDER BY log_number ASC LIMIT 1),
		       (SELECT timestamp FROM entries WHERE bin_id = b.id ORDER BY log_number DESC LIMIT 1)
		FROM bins b
		LEFT JOIN entries e ON e.bin_id = b.id
		GROUP BY b.id
		ORDER BY b.created_at DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to list bins", err.Error())
	}
	defer rows.Close()

	summaries := []*models.BinSummary{}
	for rows.Next() {
		var summary models.BinSummary
		var first, last sql.NullString

		err := rows.Scan(&summary.ID, &summary.Name, &summary.CreatedAt, &summary.ModifiedAt,
			&summary.EntryCount, &first, &last)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan bin summary", err.Error())
		}

		if first.Valid {
			summary.FirstTimestamp = &first.String
		}
		if last.Valid {
			summary.LastTimestamp = &last.String
		}

		summaries = append(summaries, &summary)
	}

	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to iterate bins", err.Error())
	}

	return summaries, nil
}

// AppendEntry assigns the next log number for the bin and durably stores
// the entry
func (s *SQLiteStore) AppendEntry(ctx context.Context, id string, entry *models.LogEntry) (int64, error) {
	headersJSON, err := json.Marshal(entry.Headers)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to marshal entry headers", err.Error())
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	// Touching the bin row first both surfaces NOT_FOUND and bumps
	// modified_at in the same transaction as the insert.
	res, err := tx.ExecContext(ctx,
		`UPDATE bins SET modified_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to touch bin", err.Error())
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to read rows affected", err.Error())
	}
	if rows == 0 {
		return 0, utils.NewAppError(utils.ErrCodeNotFound, "Bin not found", id)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO entries (bin_id, log_number, timestamp, method, url, headers, body)
		SELECT ?, COALESCE(MAX(log_number), 0) + 1, ?, ?, ?, ?, ?
		FROM entries WHERE bin_id = ?
	`, id, entry.Timestamp, entry.Method, entry.URL, string(headersJSON), nullableBody(entry.Body), id)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to insert entry", err.Error())
	}

	var logNumber int64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(log_number) FROM entries WHERE bin_id = ?`, id).Scan(&logNumber); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to read assigned log number", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to commit transaction", err.Error())
	}

	s.logger.Debug("Entry appended", "bin", id, "log_number", logNumber)
	return logNumber, nil
}

// ListEntries returns the bin's entries in descending log number order
func (s *SQLiteStore) ListEntries(ctx context.Context, id string) ([]*models.LogEntry, error) {
	if _, err := s.GetBin(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT log_number, timestamp, method, url, headers, body
		FROM entries WHERE bin_id = ?
		ORDER BY log_number DESC
	`, id)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to list entries", err.Error())
	}
	defer rows.Close()

	return scanEntries(rows)
}

// DeleteEntries removes the given log numbers, or all entries when
// logNumbers is empty. Absent log numbers are silently ignored.
func (s *SQLiteStore) DeleteEntries(ctx context.Context, id string, logNumbers []int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE bins SET modified_at = ? WHERE id = ?`, time.Now().UTC(), id)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to touch bin", err.Error())
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to read rows affected", err.Error())
	}
	if rows == 0 {
		return utils.NewAppError(utils.ErrCodeNotFound, "Bin not found", id)
	}

	if len(logNumbers) == 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM entries WHERE bin_id = ?`, id)
	} else {
		placeholders := make([]string, len(logNumbers))
		args := make([]interface{}, 0, len(logNumbers)+1)
		args = append(args, id)
		for i, n := range logNumbers {
			placeholders[i] = "?"
			args = append(args, n)
		}
		query := fmt.Sprintf(`DELETE FROM entries WHERE bin_id = ? AND log_number IN (%s)`,
			strings.Join(placeholders, ", "))
		_, err = tx.ExecContext(ctx, query, args...)
	}
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete entries", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to commit transaction", err.Error())
	}

	return nil
}

// Stats returns storage statistics
func (s *SQLiteStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{Backend: "sqlite"}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bins`).Scan(&stats.TotalBins); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to count bins", err.Error())
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&stats.TotalEntries); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to count entries", err.Error())
	}

	return stats, nil
}

// nullableBody converts an optional JSON body to a driver value
func nullableBody(body []byte) interface{} {
	if len(body) == 0 {
		return nil
	}
	return string(body)
}

// scanEntries scans entry rows shared by the SQL backends
func scanEntries(rows *sql.Rows) ([]*models.LogEntry, error) {
	entries := []*models.LogEntry{}
	for rows.Next() {
		var entry models.LogEntry
		var headersJSON string
		var body sql.NullString

		err := rows.Scan(&entry.LogNumber, &entry.Timestamp, &entry.Method,
			&entry.URL, &headersJSON, &body)
		if err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to scan entry", err.Error())
		}

		if err := json.Unmarshal([]byte(headersJSON), &entry.Headers); err != nil {
			return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to unmarshal entry headers", err.Error())
		}
		if body.Valid {
			entry.Body = []byte(body.String)
		}

		entries = append(entries, &entry)
	}

	if err := rows.Err(); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to iterate entries", err.Error())
	}

	return entries, nil
}
