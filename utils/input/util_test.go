package input

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapCacheDir(t *testing.T) {
	dir := t.TempDir()
	assert.Equal(t, dir, mapCacheDir(dir))
	assert.Empty(t, mapCacheDir(""))
	assert.Empty(t, mapCacheDir(filepath.Join(dir, "missing")))

	file := filepath.Join(dir, "map.pb")
	require.NoError(t, os.WriteFile(file, nil, 0o644))
	assert.Empty(t, mapCacheDir(file))
}
