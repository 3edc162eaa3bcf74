package settingsfile

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"theme":"dark"}`), 0644))

	events := make(chan map[string]any, 4)
	w, err := Watch(path, func(out map[string]any, err error) {
		require.NoError(t, err)
		events <- out
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte(`{"theme":"light"}`), 0644))

	select {
	case out := <-events:
		require.Equal(t, "light", out["theme"])
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}
}

func TestWatchIgnoresUnrelatedFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	events := make(chan map[string]any, 4)
	w, err := Watch(path, func(out map[string]any, err error) {
		events <- out
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.json"), []byte(`{}`), 0644))

	select {
	case <-events:
		t.Fatal("unrelated file write should not trigger a reload")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatchCloseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{}`), 0644))

	w, err := Watch(path, func(map[string]any, error) {})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
}
