package storage

import (
	"strings"

	"github.com/hookbin/hookbin/internal/config"
	"github.com/hookbin/hookbin/pkg/utils"
)

// NewBinStore creates a new bin store instance based on configuration
func NewBinStore(cfg *config.StorageConfig) (BinStore, error) {
	storeConfig := &StoreConfig{
		Type:             cfg.Type,
		ConnectionString: cfg.ConnectionString,
		DataDir:          cfg.DataDir,
		MaxConnections:   cfg.MaxConnections,
		MaxIdleTime:      cfg.MaxIdleTime,
	}

	switch strings.ToLower(cfg.Type) {
	case "file":
		return NewFileStore(storeConfig), nil
	case "sqlite":
		return NewSQLiteStore(storeConfig), nil
	case "postgres", "postgresql":
		return NewPostgresStore(storeConfig), nil
	default:
		return nil, utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", cfg.Type)
	}
}

// ValidateStorageConfig validates storage configuration
func ValidateStorageConfig(cfg *config.StorageConfig) error {
	if cfg.Type == "" {
		return utils.NewAppError(utils.ErrCodeConfiguration, "Storage type is required", "")
	}

	switch strings.ToLower(cfg.Type) {
	case "file":
		if cfg.DataDir == "" {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Data directory is required for file storage", "")
		}
	case "sqlite", "postgres", "postgresql":
		if cfg.ConnectionString == "" {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Storage connection string is required", "")
		}
		if cfg.MaxConnections <= 0 {
			return utils.NewAppError(utils.ErrCodeConfiguration, "Max connections must be positive", "")
		}
	default:
		return utils.NewAppError(utils.ErrCodeConfiguration,
			"Unsupported storage type", "Supported types: file, sqlite, postgres")
	}

	return nil
}

// GetDefaultStoreConfig returns default bin store configuration
func GetDefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Type:           "file",
		DataDir:        "./data/bins",
		MaxConnections: 25,
	}
}
