package afero

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

func TestOsFs_AtomicWriteAndSymlinkSwap(t *testing.T) {
	fs := NewOsFs()
	dir := t.TempDir()
	log := logging.Discard()

	dest := filepath.Join(dir, "meta", "progress.json")
	require.NoError(t, AtomicWriteFile(fs, dest, []byte(`{"last_iid":"x"}`), 0o644, log))
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, `{"last_iid":"x"}`, string(data))

	entries, err := os.ReadDir(filepath.Join(dir, "meta"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must not be left behind")

	first := filepath.Join(dir, "first")
	second := filepath.Join(dir, "second")
	require.NoError(t, os.Mkdir(first, 0o755))
	require.NoError(t, os.Mkdir(second, 0o755))

	link := filepath.Join(dir, "A_final")
	require.NoError(t, ReplaceSymlink(fs, first, link, log))
	require.NoError(t, ReplaceSymlink(fs, second, link, log))

	assert.True(t, IsSymlink(fs, link))
	got, err := os.Readlink(link)
	require.NoError(t, err)
	assert.Equal(t, second, got)
}
