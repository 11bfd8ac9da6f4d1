package storage

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbin/hookbin/pkg/utils"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	utils.InitLogger("error", "text", "stdout", "")

	store := NewSQLiteStore(&StoreConfig{
		Type:             "sqlite",
		ConnectionString: filepath.Join(t.TempDir(), "bins.db"),
		MaxConnections:   10,
	})
	require.NoError(t, store.Connect())
	require.NoError(t, store.Migrate())
	require.NoError(t, store.Ping())

	return store
}

func TestSQLiteStoreContract(t *testing.T) {
	store := newTestSQLiteStore(t)
	defer store.Close()

	testBinStoreContract(t, store)
}

func TestSQLiteStoreConcurrentAppends(t *testing.T) {
	store := newTestSQLiteStore(t)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.CreateBin(ctx, "bin-conc", "Untitled"))

	const writers = 10

	var wg sync.WaitGroup
	numbers := make(chan int64, writers)

	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			n, err := store.AppendEntry(ctx, "bin-conc", makeEntry("POST", "/bin-conc/x"))
			if err != nil {
				t.Errorf("concurrent append failed: %v", err)
				return
			}
			numbers <- n
		}()
	}
	wg.Wait()
	close(numbers)

	seen := make(map[int64]bool)
	for n := range numbers {
		assert.False(t, seen[n], "log number %d assigned twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, writers)
}

// writeCorruptDocument overwrites a file-backed bin document with garbage;
// declared here so the file store tests can share the helper without
// exporting anything.
func writeCorruptDocument(store *FileStore, id string) error {
	return os.WriteFile(store.binPath(id), []byte("{not json"), 0644)
}
