package reportstore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andrej220/autopilot/pkg/tasks"
)

func sampleRecord() RunRecord {
	done := time.Date(2025, 3, 1, 10, 0, 5, 0, time.UTC)
	return RunRecord{
		ID:     uuid.NewString(),
		Status: StatusCompleted,
		Reports: []*tasks.Report{tasks.NewReport("basic", []tasks.Outcome{{
			Index:  1,
			Type:   "shell",
			Status: tasks.StatusSucceeded,
			Lines:  []string{"✅ Shell script executed successfully."},
		}})},
		Text:       "Task #1: type = shell\n",
		CreatedAt:  time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		FinishedAt: &done,
	}
}

func TestStores(t *testing.T) {
	fs, err := NewFileStore(filepath.Join(t.TempDir(), "reports"))
	require.NoError(t, err)

	stores := map[string]Store{
		"memory": NewMemory(),
		"file":   fs,
	}
	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			rec := sampleRecord()

			_, err := store.Load(ctx, rec.ID)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, store.Save(ctx, rec))
			got, err := store.Load(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, rec.Status, got.Status)
			assert.Equal(t, rec.Text, got.Text)
			require.Len(t, got.Reports, 1)
			assert.Equal(t, "basic", got.Reports[0].Phase)
			assert.True(t, got.Finished())

			rec.Status = StatusFailed
			rec.Error = "boom"
			require.NoError(t, store.Save(ctx, rec))
			got, err = store.Load(ctx, rec.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Equal(t, "boom", got.Error)
		})
	}
}

func TestFileStoreRejectsForeignIDs(t *testing.T) {
	dir := t.TempDir()
	fs, err := NewFileStore(dir)
	require.NoError(t, err)

	rec := sampleRecord()
	rec.ID = "../escape"
	assert.Error(t, fs.Save(context.Background(), rec))

	_, err = fs.Load(context.Background(), "../escape")
	assert.ErrorIs(t, err, ErrNotFound)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMemoryRequiresID(t *testing.T) {
	assert.Error(t, NewMemory().Save(context.Background(), RunRecord{}))
}

func TestFinished(t *testing.T) {
	assert.False(t, RunRecord{Status: StatusQueued}.Finished())
	assert.False(t, RunRecord{Status: StatusRunning}.Finished())
	assert.True(t, RunRecord{Status: StatusCompleted}.Finished())
}
