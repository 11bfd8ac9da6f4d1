package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/pkg/utils"
)

// PostgresStore implements BinStore using PostgreSQL. Appends take a row
// lock on the bin (the modified_at touch) before computing the next log
// number, so concurrent appends to the same bin serialize on the row and
// never collide on the (bin_id, log_number) primary key.
type PostgresStore struct {
	db         *sql.DB
	config     *StoreConfig
	logger     *logrus.Logger
	migrations []*Migration
}

// NewPostgresStore creates a new PostgreSQL bin store instance
func NewPostgresStore(config *StoreConfig) *PostgresStore {
	return &PostgresStore{
		config:     config,
		logger:     utils.GetLogger(),
		migrations: GetPostgresMigrations(),
	}
}

// Connect establishes database connection
func (p *PostgresStore) Connect() error {
	db, err := sql.Open("postgres", p.config.ConnectionString)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to open PostgreSQL database", err.Error())
	}

	// Configure connection pool
	db.SetMaxOpenConns(p.config.MaxConnections)
	db.SetMaxIdleConns(p.config.MaxConnections / 2)
	db.SetConnMaxLifetime(p.config.MaxIdleTime)

	// Test connection
	if err := db.Ping(); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to ping PostgreSQL database", err.Error())
	}

	p.db = db
	p.logger.Info("PostgreSQL database connected", "connection", p.config.ConnectionString)

	return nil
}

// Close closes the database connection
func (p *PostgresStore) Close() error {
	if p.db != nil {
		err := p.db.Close()
		p.db = nil
		p.logger.Info("PostgreSQL database connection closed")
		return err
	}
	return nil
}

// Ping checks database connectivity
func (p *PostgresStore) Ping() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Database not connected", "")
	}
	return p.db.Ping()
}

// Migrate runs database migrations
func (p *PostgresStore) Migrate() error {
	if p.db == nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Database not connected", "")
	}

	p.logger.Info("Starting PostgreSQL database migrations")

	for _, migration := range p.migrations {
		p.logger.Info("Applying migration", "version", migration.Version, "description", migration.Description)

		if _, err := p.db.Exec(migration.SQL); err != nil {
			return utils.NewAppError(utils.ErrCodeStorage,
				fmt.Sprintf("Migration %s failed", migration.Version),
				err.Error())
		}
	}

	p.logger.Info("PostgreSQL database migrations completed")
	return nil
}

// CreateBin allocates storage for a new bin with an empty entry log
func (p *PostgresStore) CreateBin(ctx context.Context, id, name string) error {
	now := time.Now().UTC()

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO bins (id, name, created_at, modified_at) VALUES ($1, $2, $3, $4)`,
		id, name, now, now)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return utils.NewAppError(utils.ErrCodeAlreadyExists, "Bin already exists", id)
		}
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to create bin", err.Error())
	}

	p.logger.Debug("Bin created", "id", id)
	return nil
}

// DeleteBin removes the bin and all its entries
func (p *PostgresStore) DeleteBin(ctx context.Context, id string) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM entries WHERE bin_id = $1`, id); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete bin entries", err.Error())
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM bins WHERE id = $1`, id)
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

	p.logger.Debug("Bin deleted", "id", id)
	return nil
}

// RenameBin updates the bin's display name
func (p *PostgresStore) RenameBin(ctx context.Context, id, name string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE bins SET name = $1, modified_at = $2 WHERE id = $3`,
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
func (p *PostgresStore) GetBin(ctx context.Context, id string) (*models.Bin, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, name, created_at, modified_at FROM bins WHERE id = $1`, id)

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
func (p *PostgresStore) ListBins(ctx context.Context) ([]*models.BinSummary, error) {
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

	rows, err := p.db.QueryContext(ctx, query)
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
func (p *PostgresStore) AppendEntry(ctx context.Context, id string, entry *models.LogEntry) (int64, error) {
	headersJSON, err := json.Marshal(entry.Headers)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to marshal entry headers", err.Error())
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	// Row lock on the bin serializes appends for the same id.
	res, err := tx.ExecContext(ctx,
		`UPDATE bins SET modified_at = $1 WHERE id = $2`, time.Now().UTC(), id)
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

	var logNumber int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO entries (bin_id, log_number, timestamp, method, url, headers, body)
		SELECT $1, COALESCE(MAX(log_number), 0) + 1, $2, $3, $4, $5, $6
		FROM entries WHERE bin_id = $7
		RETURNING log_number
	`, id, entry.Timestamp, entry.Method, entry.URL, string(headersJSON), nullableBody(entry.Body), id).Scan(&logNumber)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to insert entry", err.Error())
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.NewAppError(utils.ErrCodeStorage, "Failed to commit transaction", err.Error())
	}

	p.logger.Debug("Entry appended", "bin", id, "log_number", logNumber)
	return logNumber, nil
}

// ListEntries returns the bin's entries in descending log number order
func (p *PostgresStore) ListEntries(ctx context.Context, id string) ([]*models.LogEntry, error) {
	if _, err := p.GetBin(ctx, id); err != nil {
		return nil, err
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT log_number, timestamp, method, url, headers, body
		FROM entries WHERE bin_id = $1
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
func (p *PostgresStore) DeleteEntries(ctx context.Context, id string, logNumbers []int64) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to begin transaction", err.Error())
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE bins SET modified_at = $1 WHERE id = $2`, time.Now().UTC(), id)
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
		_, err = tx.ExecContext(ctx, `DELETE FROM entries WHERE bin_id = $1`, id)
	} else {
		placeholders := make([]string, len(logNumbers))
		args := make([]interface{}, 0, len(logNumbers)+1)
		args = append(args, id)
		for i, n := range logNumbers {
			placeholders[i] = fmt.Sprintf("$%d", i+2)
			args = append(args, n)
		}
		query := fmt.Sprintf(`DELETE FROM entries WHERE bin_id = $1 AND log_number IN (%s)`,
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
func (p *PostgresStore) Stats(ctx context.Context) (*StoreStats, error) {
	stats := &StoreStats{Backend: "postgres"}

	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM bins`).Scan(&stats.TotalBins); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to count bins", err.Error())
	}
	if err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM entries`).Scan(&stats.TotalEntries); err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to count entries", err.Error())
	}

	return stats, nil
}
