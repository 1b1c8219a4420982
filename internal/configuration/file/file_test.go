package file

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/stretchr/testify/require"

	"github.com/anvil-platform/strata/internal/configuration"
)

func TestReader_ReadsFlatDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
core.default.recordDataTTL: 7
core.default.enabled: true
agent.default.rules:
  - a
  - b
unset.key: ~
`), 0o600))

	got, err := Reader{Path: path}.Read(context.Background(), []string{
		"core.default.recordDataTTL", "core.default.enabled", "agent.default.rules", "unset.key", "missing.key",
	})
	require.NoError(t, err)
	require.Equal(t, map[string]string{
		"core.default.recordDataTTL": "7",
		"core.default.enabled":       "true",
		"agent.default.rules":        "- a\n- b\n",
	}, got)
}

func TestReader_MissingFileIsEmpty(t *testing.T) {
	got, err := Reader{Path: filepath.Join(t.TempDir(), "absent.yaml")}.Read(context.Background(), []string{"a"})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestReader_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dynamic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: [unclosed"), 0o600))
	_, err := Reader{Path: path}.Read(context.Background(), []string{"a"})
	require.Error(t, err)
}

func TestFollow_SignalsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "dynamic.yaml")
	require.NoError(t, os.WriteFile(path, []byte("a: 1\n"), 0o600))

	watcher, err := fsnotify.NewWatcher()
	require.NoError(t, err)
	defer watcher.Close()
	require.NoError(t, watcher.Add(dir))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	changed := make(chan struct{}, 1)
	go Follow(ctx, watcher, path, changed, logr.Discard())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(path, []byte("a: 2\n"), 0o600))

	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatalf("no change signal for %s", path)
	}

	reg := configuration.NewWatcherRegister(Reader{Path: path}, logr.Discard())
	w := configuration.NewValueWatcher("a", "1", nil)
	require.NoError(t, reg.RegisterWatcher(w))
	require.NoError(t, reg.Sync(ctx))
	require.Equal(t, "2", w.Value())
}
