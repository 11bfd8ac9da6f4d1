package storage

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hookbin/hookbin/internal/models"
	"github.com/hookbin/hookbin/pkg/utils"
)

// testBinStoreContract exercises the BinStore contract shared by every
// backend.
func testBinStoreContract(t *testing.T, store BinStore) {
	ctx := context.Background()

	t.Run("CreateAndGet", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-create", "Untitled"))

		bin, err := store.GetBin(ctx, "bin-create")
		require.NoError(t, err)
		assert.Equal(t, "bin-create", bin.ID)
		assert.Equal(t, "Untitled", bin.Name)
		assert.False(t, bin.CreatedAt.IsZero())

		entries, err := store.ListEntries(ctx, "bin-create")
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("CreateDuplicate", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-dup", "first"))

		err := store.CreateBin(ctx, "bin-dup", "second")
		require.Error(t, err)
		assert.True(t, utils.IsAlreadyExists(err))

		// The original bin is untouched
		bin, err := store.GetBin(ctx, "bin-dup")
		require.NoError(t, err)
		assert.Equal(t, "first", bin.Name)
	})

	t.Run("AppendAssignsSequentialNumbers", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-seq", "Untitled"))

		for i := 1; i <= 5; i++ {
			n, err := store.AppendEntry(ctx, "bin-seq", makeEntry("GET", "/bin-seq/ping"))
			require.NoError(t, err)
			assert.Equal(t, int64(i), n)
		}

		entries, err := store.ListEntries(ctx, "bin-seq")
		require.NoError(t, err)
		require.Len(t, entries, 5)

		// Descending by log number
		for i, entry := range entries {
			assert.Equal(t, int64(5-i), entry.LogNumber)
		}
	})

	t.Run("AppendToUnknownBin", func(t *testing.T) {
		_, err := store.AppendEntry(ctx, "no-such-bin", makeEntry("GET", "/no-such-bin/x"))
		require.Error(t, err)
		assert.True(t, utils.IsNotFound(err))
	})

	t.Run("EntryRoundTrip", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-round", "Untitled"))

		entry := makeEntry("POST", "/bin-round/hook?x=1")
		entry.Headers = map[string][]string{"X-Token": {"abc"}, "Accept": {"application/json", "text/plain"}}
		entry.Body = json.RawMessage(`{"hello":"world"}`)

		_, err := store.AppendEntry(ctx, "bin-round", entry)
		require.NoError(t, err)

		entries, err := store.ListEntries(ctx, "bin-round")
		require.NoError(t, err)
		require.Len(t, entries, 1)

		got := entries[0]
		assert.Equal(t, "POST", got.Method)
		assert.Equal(t, "/bin-round/hook?x=1", got.URL)
		assert.Equal(t, []string{"abc"}, got.Headers["X-Token"])
		assert.Equal(t, []string{"application/json", "text/plain"}, got.Headers["Accept"])
		assert.JSONEq(t, `{"hello":"world"}`, string(got.Body))
		assert.Equal(t, entry.Timestamp, got.Timestamp)
	})

	t.Run("DeleteOneEntryLeavesGap", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-gap", "Untitled"))
		for i := 0; i < 3; i++ {
			_, err := store.AppendEntry(ctx, "bin-gap", makeEntry("GET", "/bin-gap/x"))
			require.NoError(t, err)
		}

		require.NoError(t, store.DeleteEntries(ctx, "bin-gap", []int64{2}))

		entries, err := store.ListEntries(ctx, "bin-gap")
		require.NoError(t, err)
		require.Len(t, entries, 2)
		// No resequencing: 3 and 1 survive with their numbers
		assert.Equal(t, int64(3), entries[0].LogNumber)
		assert.Equal(t, int64(1), entries[1].LogNumber)

		// The next append continues past the maximum
		n, err := store.AppendEntry(ctx, "bin-gap", makeEntry("GET", "/bin-gap/x"))
		require.NoError(t, err)
		assert.Equal(t, int64(4), n)
	})

	t.Run("DeleteAbsentEntriesIgnored", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-absent", "Untitled"))
		_, err := store.AppendEntry(ctx, "bin-absent", makeEntry("GET", "/bin-absent/x"))
		require.NoError(t, err)

		require.NoError(t, store.DeleteEntries(ctx, "bin-absent", []int64{42, 99}))

		entries, err := store.ListEntries(ctx, "bin-absent")
		require.NoError(t, err)
		assert.Len(t, entries, 1)
	})

	t.Run("DeleteAllEmptiesLogNotBin", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-clear", "keeper"))
		for i := 0; i < 3; i++ {
			_, err := store.AppendEntry(ctx, "bin-clear", makeEntry("GET", "/bin-clear/x"))
			require.NoError(t, err)
		}

		require.NoError(t, store.DeleteEntries(ctx, "bin-clear", nil))

		entries, err := store.ListEntries(ctx, "bin-clear")
		require.NoError(t, err)
		assert.Empty(t, entries)

		summaries, err := store.ListBins(ctx)
		require.NoError(t, err)
		found := false
		for _, summary := range summaries {
			if summary.ID == "bin-clear" {
				found = true
				assert.Equal(t, int64(0), summary.EntryCount)
				assert.Nil(t, summary.FirstTimestamp)
				assert.Nil(t, summary.LastTimestamp)
			}
		}
		assert.True(t, found, "cleared bin should still be listed")
	})

	t.Run("DeleteEntriesUnknownBin", func(t *testing.T) {
		err := store.DeleteEntries(ctx, "no-such-bin", nil)
		require.Error(t, err)
		assert.True(t, utils.IsNotFound(err))
	})

	t.Run("Rename", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-rename", "before"))
		_, err := store.AppendEntry(ctx, "bin-rename", makeEntry("GET", "/bin-rename/x"))
		require.NoError(t, err)

		require.NoError(t, store.RenameBin(ctx, "bin-rename", "after"))

		bin, err := store.GetBin(ctx, "bin-rename")
		require.NoError(t, err)
		assert.Equal(t, "after", bin.Name)

		// Entry log untouched
		entries, err := store.ListEntries(ctx, "bin-rename")
		require.NoError(t, err)
		assert.Len(t, entries, 1)

		err = store.RenameBin(ctx, "no-such-bin", "x")
		require.Error(t, err)
		assert.True(t, utils.IsNotFound(err))
	})

	t.Run("ListBinsSummaries", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-summary", "Untitled"))
		first := makeEntry("GET", "/bin-summary/a")
		first.Timestamp = "2026-01-01T00:00:00Z"
		last := makeEntry("GET", "/bin-summary/b")
		last.Timestamp = "2026-01-02T00:00:00Z"

		_, err := store.AppendEntry(ctx, "bin-summary", first)
		require.NoError(t, err)
		_, err = store.AppendEntry(ctx, "bin-summary", last)
		require.NoError(t, err)

		summaries, err := store.ListBins(ctx)
		require.NoError(t, err)

		var summary *models.BinSummary
		for _, s := range summaries {
			if s.ID == "bin-summary" {
				summary = s
			}
		}
		require.NotNil(t, summary)
		assert.Equal(t, int64(2), summary.EntryCount)
		require.NotNil(t, summary.FirstTimestamp)
		require.NotNil(t, summary.LastTimestamp)
		assert.Equal(t, "2026-01-01T00:00:00Z", *summary.FirstTimestamp)
		assert.Equal(t, "2026-01-02T00:00:00Z", *summary.LastTimestamp)
	})

	t.Run("DeleteBin", func(t *testing.T) {
		require.NoError(t, store.CreateBin(ctx, "bin-delete", "Untitled"))
		_, err := store.AppendEntry(ctx, "bin-delete", makeEntry("GET", "/bin-delete/x"))
		require.NoError(t, err)

		require.NoError(t, store.DeleteBin(ctx, "bin-delete"))

		_, err = store.GetBin(ctx, "bin-delete")
		require.Error(t, err)
		assert.True(t, utils.IsNotFound(err))

		_, err = store.ListEntries(ctx, "bin-delete")
		require.Error(t, err)
		assert.True(t, utils.IsNotFound(err))

		err = store.DeleteBin(ctx, "bin-delete")
		require.Error(t, err)
		assert.True(t, utils.IsNotFound(err))
	})

	t.Run("Stats", func(t *testing.T) {
		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Greater(t, stats.TotalBins, int64(0))
		assert.Greater(t, stats.TotalEntries, int64(0))
	})
}

func makeEntry(method, url string) *models.LogEntry {
	return &models.LogEntry{
		Timestamp: "2026-01-01T12:00:00.000000000Z",
		Method:    method,
		URL:       url,
		Headers:   map[string][]string{"User-Agent": {"contract-test"}},
	}
}
