package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Name    string   `yaml:"name" toml:"name" json:"name"`
	Workers int      `yaml:"workers" toml:"workers" json:"workers"`
	Tags    []string `yaml:"tags" toml:"tags" json:"tags"`
}

func TestFormatOf(t *testing.T) {
	assert.Equal(t, FormatYAML, FormatOf("a.yaml"))
	assert.Equal(t, FormatYAML, FormatOf("a.yml"))
	assert.Equal(t, FormatYAML, FormatOf("settings"))
	assert.Equal(t, FormatTOML, FormatOf("a.TOML"))
	assert.Equal(t, FormatJSON, FormatOf("/etc/a.json"))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	for _, ext := range []string{".yaml", ".toml", ".json"} {
		t.Run(ext, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "settings"+ext)
			store := New(path)
			in := sample{Name: "autopilot", Workers: 3, Tags: []string{"a", "b"}}
			require.NoError(t, store.Save(context.Background(), in))

			info, err := os.Stat(path)
			require.NoError(t, err)
			assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

			var out sample
			require.NoError(t, store.Load(context.Background(), &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	var out sample

	err := New(filepath.Join(dir, "missing.yaml")).Load(context.Background(), &out)
	assert.ErrorIs(t, err, os.ErrNotExist)

	empty := filepath.Join(dir, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("  \n"), 0o600))
	assert.ErrorContains(t, New(empty).Load(context.Background(), &out), "is empty")

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0o600))
	assert.ErrorContains(t, New(bad).Load(context.Background(), &out), "failed to parse json")

	assert.Error(t, New(bad).Load(context.Background(), nil))
}

func TestWatchNotifiesOnWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: a\n"), 0o600))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changed := make(chan struct{}, 8)
	store := New(path)
	require.NoError(t, store.Watch(ctx, func() { changed <- struct{}{} }))

	require.NoError(t, store.Save(context.Background(), sample{Name: "b"}))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("no change notification")
	}
	assert.Error(t, store.Watch(ctx, nil))
}
