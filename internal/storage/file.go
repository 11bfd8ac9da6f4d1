package storage

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/pkg/utils"
)

// FileStore implements BinStore with one JSON document per bin under a
// data directory. Every mutation is a whole-document read-modify-write,
// serialized per bin by a keyed mutex; mutations to different bins never
// block each other. Writes go through a temp file and rename so readers
// never observe a partially written document.
type FileStore struct {
	config *StoreConfig
	logger *logrus.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// binDocument is the persisted shape of one bin
type binDocument struct {
	Name       string             `json:"name"`
	CreatedAt  time.Time          `json:"createdAt"`
	ModifiedAt time.Time          `json:"modifiedAt"`
	Requests   []*models.LogEntry `json:"requests"`
}

// NewFileStore creates a new flat-file bin store instance
func NewFileStore(config *StoreConfig) *FileStore {
	return &FileStore{
		config: config,
		logger: utils.GetLogger(),
		locks:  make(map[string]*sync.Mutex),
	}
}

// Connect creates the data directory if it does not exist
func (f *FileStore) Connect() error {
	if err := os.MkdirAll(f.config.DataDir, 0755); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to create data directory", err.Error())
	}

	f.logger.Info("File store connected", "dir", f.config.DataDir)
	return nil
}

// Close is a no-op for the file backend
func (f *FileStore) Close() error {
	return nil
}

// Ping checks that the data directory is accessible
func (f *FileStore) Ping() error {
	info, err := os.Stat(f.config.DataDir)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Data directory not accessible", err.Error())
	}
	if !info.IsDir() {
		return utils.NewAppError(utils.ErrCodeStorage, "Data path is not a directory", f.config.DataDir)
	}
	return nil
}

// Migrate is a no-op for the file backend
func (f *FileStore) Migrate() error {
	return nil
}

// binLock returns the mutex serializing mutations for one bin id
func (f *FileStore) binLock(id string) *sync.Mutex {
	f.mu.Lock()
	defer f.mu.Unlock()

	lock, ok := f.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		f.locks[id] = lock
	}
	return lock
}

// releaseLock drops the per-bin mutex once the bin is gone
func (f *FileStore) releaseLock(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.locks, id)
}

func (f *FileStore) binPath(id string) string {
	return filepath.Join(f.config.DataDir, id+".json")
}

// readDocument loads and parses one bin document
func (f *FileStore) readDocument(id string) (*binDocument, error) {
	data, err := os.ReadFile(f.binPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, utils.NewAppError(utils.ErrCodeNotFound, "Bin not found", id)
		}
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to read bin document", err.Error())
	}

	var doc binDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		// Malformed persisted state is a storage failure, not a 404.
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to parse bin document", err.Error())
	}

	return &doc, nil
}

// writeDocument persists one bin document atomically
func (f *FileStore) writeDocument(id string, doc *binDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to marshal bin document", err.Error())
	}

	path := f.binPath(id)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to write bin document", err.Error())
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to replace bin document", err.Error())
	}

	return nil
}

// CreateBin allocates storage for a new bin with an empty entry log
func (f *FileStore) CreateBin(ctx context.Context, id, name string) error {
	lock := f.binLock(id)
	lock.Lock()
	defer lock.Unlock()

	if _, err := os.Stat(f.binPath(id)); err == nil {
		return utils.NewAppError(utils.ErrCodeAlreadyExists, "Bin already exists", id)
	} else if !os.IsNotExist(err) {
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to stat bin document", err.Error())
	}

	now := time.Now().UTC()
	doc := &binDocument{
		Name:       name,
		CreatedAt:  now,
		ModifiedAt: now,
		Requests:   []*models.LogEntry{},
	}

	if err := f.writeDocument(id, doc); err != nil {
		return err
	}

	f.logger.Debug("Bin created", "id", id)
	return nil
}

// DeleteBin removes the bin's document
func (f *FileStore) DeleteBin(ctx context.Context, id string) error {
	lock := f.binLock(id)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(f.binPath(id)); err != nil {
		if os.IsNotExist(err) {
			return utils.NewAppError(utils.ErrCodeNotFound, "Bin not found", id)
		}
		return utils.NewAppError(utils.ErrCodeStorage, "Failed to delete bin document", err.Error())
	}

	f.releaseLock(id)
	f.logger.Debug("Bin deleted", "id", id)
	return nil
}

// RenameBin updates the bin's display name
func (f *FileStore) RenameBin(ctx context.Context, id, name string) error {
	lock := f.binLock(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := f.readDocument(id)
	if err != nil {
		return err
	}

	doc.Name = name
	doc.ModifiedAt = time.Now().UTC()

	return f.writeDocument(id, doc)
}

// GetBin retrieves a single bin's metadata
func (f *FileStore) GetBin(ctx context.Context, id string) (*models.Bin, error) {
	doc, err := f.readDocument(id)
	if err != nil {
		return nil, err
	}

	return &models.Bin{
		ID:         id,
		Name:       doc.Name,
		CreatedAt:  doc.CreatedAt,
		ModifiedAt: doc.ModifiedAt,
	}, nil
}

// ListBins returns one summary row per known bin
func (f *FileStore) ListBins(ctx context.Context) ([]*models.BinSummary, error) {
	dirEntries, err := os.ReadDir(f.config.DataDir)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrCodeStorage, "Failed to read data directory", err.Error())
	}

	summaries := []*models.BinSummary{}
	for _, dirEntry := range dirEntries {
		name := dirEntry.Name()
		if dirEntry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		id := strings.TrimSuffix(name, ".json")

		doc, err := f.readDocument(id)
		if err != nil {
			// A bin deleted between ReadDir and read is not an error.
			if utils.IsNotFound(err) {
				continue
			}
			return nil, err
		}

		summary := &models.BinSummary{
			ID:         id,
			Name:       doc.Name,
			CreatedAt:  doc.CreatedAt,
			ModifiedAt: doc.ModifiedAt,
			EntryCount: int64(len(doc.Requests)),
		}
		if len(doc.Requests) > 0 {
			// Requests are held in ascending log number order.
			summary.FirstTimestamp = &doc.Requests[0].Timestamp
			summary.LastTimestamp = &doc.Requests[len(doc.Requests)-1].Timestamp
		}

		summaries = append(summaries, summary)
	}

	return summaries, nil
}

// AppendEntry assigns the next log number for the bin and durably stores
// the entry
func (f *FileStore) AppendEntry(ctx context.Context, id string, entry *models.LogEntry) (int64, error) {
	lock := f.binLock(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := f.readDocument(id)
	if err != nil {
		return 0, err
	}

	var maxLogNumber int64
	for _, existing := range doc.Requests {
		if existing.LogNumber > maxLogNumber {
			maxLogNumber = existing.LogNumber
		}
	}

	stored := *entry
	stored.LogNumber = maxLogNumber + 1
	doc.Requests = append(doc.Requests, &stored)
	doc.ModifiedAt = time.Now().UTC()

	if err := f.writeDocument(id, doc); err != nil {
		return 0, err
	}

	f.logger.Debug("Entry appended", "bin", id, "log_number", stored.LogNumber)
	return stored.LogNumber, nil
}

// ListEntries returns the bin's entries in descending log number order
func (f *FileStore) ListEntries(ctx context.Context, id string) ([]*models.LogEntry, error) {
	doc, err := f.readDocument(id)
	if err != nil {
		return nil, err
	}

	entries := make([]*models.LogEntry, len(doc.Requests))
	for i, entry := range doc.Requests {
		entries[len(doc.Requests)-1-i] = entry
	}

	return entries, nil
}

// DeleteEntries removes the given log numbers, or all entries when
// logNumbers is empty. Absent log numbers are silently ignored.
func (f *FileStore) DeleteEntries(ctx context.Context, id string, logNumbers []int64) error {
	lock := f.binLock(id)
	lock.Lock()
	defer lock.Unlock()

	doc, err := f.readDocument(id)
	if err != nil {
		return err
	}

	if len(logNumbers) == 0 {
		doc.Requests = []*models.LogEntry{}
	} else {
		doomed := make(map[int64]bool, len(logNumbers))
		for _, n := range logNumbers {
			doomed[n] = true
		}

		kept := doc.Requests[:0]
		for _, entry := range doc.Requests {
			if !doomed[entry.LogNumber] {
				kept = append(kept, entry)
			}
		}
		doc.Requests = kept
	}

	doc.ModifiedAt = time.Now().UTC()
	return f.writeDocument(id, doc)
}

// Stats returns storage statistics
func (f *FileStore) Stats(ctx context.Context) (*StoreStats, error) {
	summaries, err := f.ListBins(ctx)
	if err != nil {
		return nil, err
	}

	stats := &StoreStats{Backend: "file", TotalBins: int64(len(summaries))}
	for _, summary := range summaries {
		stats.TotalEntries += summary.EntryCount
	}

	return stats, nil
}
