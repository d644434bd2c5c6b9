package hub

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownload(t *testing.T) {
	srv := newTestServer(t)
	srv.PutFile(RepoTypeDataset, "alice/swe", "swe/preds.json", []byte(`{"a":1}`))
	client := newTestClient(t, srv)
	ctx := context.Background()
	dir := t.TempDir()

	p, err := client.Download(ctx, "alice/swe", "swe/preds.json", WithRepoType(RepoTypeDataset), WithLocalDir(dir))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "swe", "preds.json"), p)

	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))
	assert.NoFileExists(t, p+".incomplete")

	t.Run("existing file is kept", func(t *testing.T) {
		require.NoError(t, os.WriteFile(p, []byte("local"), 0o644))
		_, err := client.Download(ctx, "alice/swe", "swe/preds.json", WithRepoType(RepoTypeDataset), WithLocalDir(dir))
		require.NoError(t, err)
		data, _ := os.ReadFile(p)
		assert.Equal(t, "local", string(data))
	})

	t.Run("force download overwrites", func(t *testing.T) {
		_, err := client.Download(ctx, "alice/swe", "swe/preds.json",
			WithRepoType(RepoTypeDataset), WithLocalDir(dir), WithForceDownload(true))
		require.NoError(t, err)
		data, _ := os.ReadFile(p)
		assert.Equal(t, `{"a":1}`, string(data))
	})

	t.Run("missing entry", func(t *testing.T) {
		_, err := client.Download(ctx, "alice/swe", "swe/progress.json", WithRepoType(RepoTypeDataset), WithLocalDir(dir))
		require.Error(t, err)
		var notFound *EntryNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "swe/progress.json", notFound.Path)
		assert.NoFileExists(t, filepath.Join(dir, "swe", "progress.json"))
	})

	t.Run("path traversal", func(t *testing.T) {
		_, err := client.Download(ctx, "alice/swe", "../escape", WithLocalDir(dir))
		assert.Error(t, err)
	})
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	srv := newTestServer(t)
	srv.PutFile(RepoTypeModel, "alice/A", "config.json", []byte("{}"))
	srv.FailNext["/alice/A/resolve"] = 2
	client := newTestClient(t, srv)

	p, err := client.Download(context.Background(), "alice/A", "config.json", WithLocalDir(t.TempDir()))
	require.NoError(t, err)
	assert.FileExists(t, p)
}

func TestDownload_GivesUpAfterMaxRetries(t *testing.T) {
	srv := newTestServer(t)
	srv.PutFile(RepoTypeModel, "alice/A", "config.json", []byte("{}"))
	srv.FailNext["/alice/A/resolve"] = 10
	client := newTestClient(t, srv)

	_, err := client.Download(context.Background(), "alice/A", "config.json", WithLocalDir(t.TempDir()))
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, 500, httpErr.StatusCode)
}

func TestSnapshotDownload(t *testing.T) {
	srv := newTestServer(t)
	srv.PutFile(RepoTypeModel, "alice/A-ckpt", "checkpoint-20/adapter_model.safetensors", []byte("weights"))
	srv.PutFile(RepoTypeModel, "alice/A-ckpt", "checkpoint-20/trainer_state.json", []byte(`{"global_step":20}`))
	srv.PutFile(RepoTypeModel, "alice/A-ckpt", "checkpoint-20/optimizer.bin", []byte("big"))
	srv.PutFile(RepoTypeModel, "alice/A-ckpt", "checkpoint-10/adapter_model.safetensors", []byte("old"))
	client := newTestClient(t, srv)
	dir := t.TempDir()

	out, err := client.SnapshotDownload(context.Background(), "alice/A-ckpt", dir,
		WithPatterns([]string{"checkpoint-20/*"}, []string{"*.bin"}))
	require.NoError(t, err)
	assert.Equal(t, dir, out)

	assert.FileExists(t, filepath.Join(dir, "checkpoint-20", "adapter_model.safetensors"))
	assert.FileExists(t, filepath.Join(dir, "checkpoint-20", "trainer_state.json"))
	assert.NoFileExists(t, filepath.Join(dir, "checkpoint-20", "optimizer.bin"))
	assert.NoDirExists(t, filepath.Join(dir, "checkpoint-10"))
}
