package afero

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

func TestMemMapFs_Symlinks(t *testing.T) {
	fs := NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/runs/r1/trainA/final_merged_A", 0o755))
	require.NoError(t, WriteFile(fs, "/runs/r1/trainA/final_merged_A/config.json", []byte("{}"), 0o644))

	t.Run("link resolves to target directory", func(t *testing.T) {
		require.NoError(t, fs.SymlinkIfPossible("/runs/r1/trainA/final_merged_A", "/runs/A_final"))
		assert.True(t, IsSymlink(fs, "/runs/A_final"))
		assert.True(t, IsDir(fs, "/runs/A_final"))

		target, err := fs.ReadlinkIfPossible("/runs/A_final")
		require.NoError(t, err)
		assert.Equal(t, "/runs/r1/trainA/final_merged_A", target)
	})

	t.Run("linking over an existing name fails", func(t *testing.T) {
		err := fs.SymlinkIfPossible("/elsewhere", "/runs/A_final")
		assert.Error(t, err)
	})

	t.Run("regular files are not links", func(t *testing.T) {
		assert.False(t, IsSymlink(fs, "/runs/r1/trainA/final_merged_A/config.json"))
		_, err := fs.ReadlinkIfPossible("/runs/r1/trainA/final_merged_A/config.json")
		assert.Error(t, err)
	})

	t.Run("remove drops only the link", func(t *testing.T) {
		require.NoError(t, fs.Remove("/runs/A_final"))
		assert.False(t, IsSymlink(fs, "/runs/A_final"))
		assert.True(t, IsDir(fs, "/runs/r1/trainA/final_merged_A"))
	})
}

func TestReplaceSymlink(t *testing.T) {
	fs := NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/runs/old/final_merged_A", 0o755))
	require.NoError(t, fs.MkdirAll("/runs/new/final_merged_A", 0o755))
	log := logging.Discard()

	require.NoError(t, ReplaceSymlink(fs, "/runs/old/final_merged_A", "/runs/A_final", log))
	require.NoError(t, ReplaceSymlink(fs, "/runs/new/final_merged_A", "/runs/A_final", log))

	target, err := fs.ReadlinkIfPossible("/runs/A_final")
	require.NoError(t, err)
	assert.Equal(t, "/runs/new/final_merged_A", target)
}

func TestAtomicWriteFile(t *testing.T) {
	fs := NewMemMapFs()
	log := logging.Discard()

	require.NoError(t, AtomicWriteFile(fs, "/runs/r1/swe/preds.json", []byte("{}"), 0o644, log))
	require.NoError(t, AtomicWriteFile(fs, "/runs/r1/swe/preds.json", []byte(`{"a":1}`), 0o644, log))

	data, err := ReadFile(fs, "/runs/r1/swe/preds.json")
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
}
