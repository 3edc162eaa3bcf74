package settingsfile

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadJSON(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"theme":"dark","retries":3}`), 0644))

	out, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "dark", out["theme"])
	require.EqualValues(t, 3, out["retries"])
}

func TestLoadJSONC(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.jsonc")
	content := `{
		// comment
		"theme": "light" /* inline */
	}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	out, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "light", out["theme"])
}

func TestLoadYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("theme: dark\nnested:\n  key: value\n"), 0644))

	out, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "dark", out["theme"])
	nested, ok := out["nested"].(map[string]any)
	require.True(t, ok)
	require.Equal(t, "value", nested["key"])
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load("/nonexistent/settings.json")
	require.Error(t, err)
}
