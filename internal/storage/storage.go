package storage

import (
	"context"
	"time"

	"github.com/hookbin/hookbin/internal/models"
)

// BinStore defines the interface for bin storage operations. All three
// backends (file, sqlite, postgres) expose the same contract:
//
//   - log numbers are assigned by the store at insert time, one greater
//     than the bin's current maximum (1 if empty), and are never reused
//     while the entry exists;
//   - deletions may leave gaps and entries are never resequenced;
//   - CreateBin fails with ALREADY_EXISTS when storage for the id is
//     already present (uniform policy across backends);
//   - operations on an absent bin fail with NOT_FOUND, except that
//     DeleteEntries silently ignores absent log numbers.
type BinStore interface {
	// Connection management
	Connect() error
	Close() error
	Ping() error
	Migrate() error

	// Bin operations
	CreateBin(ctx context.Context, id, name string) error
	DeleteBin(ctx context.Context, id string) error
	RenameBin(ctx context.Context, id, name string) error
	GetBin(ctx context.Context, id string) (*models.Bin, error)
	ListBins(ctx context.Context) ([]*models.BinSummary, error)

	// Entry operations
	AppendEntry(ctx context.Context, id string, entry *models.LogEntry) (int64, error)
	ListEntries(ctx context.Context, id string) ([]*models.LogEntry, error)
	DeleteEntries(ctx context.Context, id string, logNumbers []int64) error

	// Statistics
	Stats(ctx context.Context) (*StoreStats, error)
}

// StoreStats provides storage statistics
type StoreStats struct {
	Backend      string `json:"backend"`
	TotalBins    int64  `json:"total_bins"`
	TotalEntries int64  `json:"total_entries"`
}

// StoreConfig holds bin store configuration
type StoreConfig struct {
	Type             string        `json:"type"`
	ConnectionString string        `json:"connection_string"`
	DataDir          string        `json:"data_dir"`
	MaxConnections   int           `json:"max_connections"`
	MaxIdleTime      time.Duration `json:"max_idle_time"`
}
