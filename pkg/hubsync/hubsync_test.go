package hubsync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub/hubtest"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	testutils "github.com/sgl-project/ome-loop/pkg/testing"
)

func newSyncer(t *testing.T, srv *hubtest.Server, token string) *Syncer {
	t.Helper()
	t.Setenv("HF_TOKEN", "")

	opts := []hub.HubOption{
		hub.WithLogger(logging.Discard()),
		hub.WithEndpoint(srv.URL),
		hub.WithRetryConfig(1, time.Millisecond),
		hub.WithProgressBars(false),
	}
	if token != "" {
		opts = append(opts, hub.WithToken(token))
	}
	config, err := hub.NewHubConfig(opts...)
	require.NoError(t, err)
	client, err := hub.NewHubClient(config)
	require.NoError(t, err)
	return NewSyncer(client, logging.Discard(), metrics.NewMetrics("test"))
}

func newServer(t *testing.T) *hubtest.Server {
	t.Helper()
	srv := hubtest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

func TestResolveToken(t *testing.T) {
	root := t.TempDir()

	t.Run("env wins", func(t *testing.T) {
		t.Setenv("HF_TOKEN", " hf_env \n")
		require.NoError(t, testutils.WriteTree(root, map[string]string{"secrets/hf_token": "hf_file"}))
		tok, err := ResolveToken(root)
		require.NoError(t, err)
		assert.Equal(t, "hf_env", tok)
	})

	t.Run("file fallback", func(t *testing.T) {
		t.Setenv("HF_TOKEN", "")
		require.NoError(t, testutils.WriteTree(root, map[string]string{"secrets/hf_token": "  hf_file\n"}))
		tok, err := ResolveToken(root)
		require.NoError(t, err)
		assert.Equal(t, "hf_file", tok)
	})

	t.Run("none", func(t *testing.T) {
		t.Setenv("HF_TOKEN", "")
		tok, err := ResolveToken(t.TempDir())
		require.NoError(t, err)
		assert.Empty(t, tok)
	})
}

func TestMissingToken(t *testing.T) {
	srv := newServer(t)
	s := newSyncer(t, srv, "")
	ctx := context.Background()

	assert.ErrorIs(t, s.EnsureRepo(ctx, "alice/x", hub.RepoTypeDataset), ErrMissingToken)
	assert.ErrorIs(t, s.UploadPath(ctx, "alice/x", t.TempDir(), hub.RepoTypeDataset), ErrMissingToken)
	assert.ErrorIs(t, s.DownloadFolderPrefix(ctx, "alice/x", "checkpoint-1", t.TempDir()), ErrMissingToken)
	assert.False(t, s.MaybeDownloadFile(ctx, "alice/x", "preds.json", hub.RepoTypeDataset, filepath.Join(t.TempDir(), "preds.json")))
	_, ok := s.LatestCheckpoint(ctx, "alice/x")
	assert.False(t, ok)
	assert.Empty(t, srv.Requests())
}

func TestEnsureRepo_Idempotent(t *testing.T) {
	srv := newServer(t)
	s := newSyncer(t, srv, "hf_test")
	ctx := context.Background()

	require.NoError(t, s.EnsureRepo(ctx, "alice/qwen3-loop-swe-r1", hub.RepoTypeDataset))
	require.NoError(t, s.EnsureRepo(ctx, "alice/qwen3-loop-swe-r1", hub.RepoTypeDataset))
	assert.True(t, srv.RepoExists(hub.RepoTypeDataset, "alice/qwen3-loop-swe-r1"))
}

func TestUploadPath(t *testing.T) {
	srv := newServer(t)
	srv.CreateRepo(hub.RepoTypeDataset, "alice/ds")
	s := newSyncer(t, srv, "hf_test")
	ctx := context.Background()

	dir := t.TempDir()
	require.NoError(t, testutils.WriteTree(dir, map[string]string{
		"preds.json":          "{}",
		"traces/a.traj":       "trace",
		"sub/optimizer.pt":    "x",
		"sub/deep/rng.bin":    "x",
		"top.pt":              "kept",
		".git/config":         "x",
		"nested/.git/objects": "x",
	}))

	require.NoError(t, s.UploadPath(ctx, "alice/ds", dir, hub.RepoTypeDataset))
	assert.Equal(t, []string{"preds.json", "top.pt", "traces/a.traj"}, srv.Files(hub.RepoTypeDataset, "alice/ds"))

	file := filepath.Join(dir, "traces", "a.traj")
	require.NoError(t, s.UploadPath(ctx, "alice/ds", file, hub.RepoTypeDataset))
	assert.Contains(t, srv.Files(hub.RepoTypeDataset, "alice/ds"), "a.traj")

	err := s.UploadPath(ctx, "alice/ds", filepath.Join(dir, "missing"), hub.RepoTypeDataset)
	assert.Error(t, err)
}

func TestPushFolder(t *testing.T) {
	srv := newServer(t)
	s := newSyncer(t, srv, "hf_test")

	ckpt := t.TempDir()
	require.NoError(t, testutils.WriteTree(ckpt, map[string]string{
		"adapter_model.safetensors": "w",
		"trainer_state.json":        "{}",
		"optimizer.pt":              "x",
		"scheduler.bin":             "x",
	}))

	require.NoError(t, s.PushFolder(context.Background(), "alice/A-ckpt", ckpt, "checkpoint-50", []string{"*.bin", "*.pt", ".git/*"}))
	assert.Equal(t, []string{
		"checkpoint-50/adapter_model.safetensors",
		"checkpoint-50/trainer_state.json",
	}, srv.Files(hub.RepoTypeModel, "alice/A-ckpt"))
}

func TestMaybeDownloadFile(t *testing.T) {
	srv := newServer(t)
	srv.PutFile(hub.RepoTypeDataset, "alice/ds", "preds.json", []byte(`{"a":{}}`))
	s := newSyncer(t, srv, "hf_test")
	ctx := context.Background()
	dir := filepath.Join(t.TempDir(), "runs", "r1", "swe")

	local := filepath.Join(dir, "preds.json")
	assert.True(t, s.MaybeDownloadFile(ctx, "alice/ds", "preds.json", hub.RepoTypeDataset, local))
	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, `{"a":{}}`, string(data))

	missing := filepath.Join(dir, "progress.json")
	assert.False(t, s.MaybeDownloadFile(ctx, "alice/ds", "progress.json", hub.RepoTypeDataset, missing))
	assert.NoFileExists(t, missing)

	assert.False(t, s.MaybeDownloadFile(ctx, "alice/none", "preds.json", hub.RepoTypeDataset, filepath.Join(dir, "x.json")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "staging directories are cleaned up")
}

func TestCheckpointPrefixes(t *testing.T) {
	got := CheckpointPrefixes([]string{
		"README.md",
		"checkpoint-100/adapter.safetensors",
		"checkpoint-20/adapter.safetensors",
		"checkpoint-20/trainer_state.json",
		"checkpoint-final/adapter.safetensors",
		"nested/checkpoint-999/x",
		"checkpoint-3/x",
	})
	assert.Equal(t, []string{"checkpoint-final", "checkpoint-3", "checkpoint-20", "checkpoint-100"}, got)
	assert.Empty(t, CheckpointPrefixes(nil))
}

func TestLatestCheckpointAndDownloadFolderPrefix(t *testing.T) {
	srv := newServer(t)
	srv.PutFile(hub.RepoTypeModel, "alice/A-ckpt", "checkpoint-10/adapter_model.safetensors", []byte("w10"))
	srv.PutFile(hub.RepoTypeModel, "alice/A-ckpt", "checkpoint-10/trainer_state.json", []byte(`{"global_step":10}`))
	srv.PutFile(hub.RepoTypeModel, "alice/A-ckpt", "checkpoint-9/adapter_model.safetensors", []byte("w9"))
	srv.PutFile(hub.RepoTypeModel, "alice/A-ckpt", "checkpoint-100x/other", []byte("x"))
	s := newSyncer(t, srv, "hf_test")
	ctx := context.Background()

	latest, ok := s.LatestCheckpoint(ctx, "alice/A-ckpt")
	require.True(t, ok)
	assert.Equal(t, "checkpoint-100x", latest)

	out := t.TempDir()
	require.NoError(t, s.DownloadFolderPrefix(ctx, "alice/A-ckpt", "checkpoint-10", out))
	assert.FileExists(t, filepath.Join(out, "checkpoint-10", "adapter_model.safetensors"))
	assert.FileExists(t, filepath.Join(out, "checkpoint-10", "trainer_state.json"))
	assert.NoDirExists(t, filepath.Join(out, "checkpoint-100x"))
	assert.NoDirExists(t, filepath.Join(out, "checkpoint-9"))

	_, ok = s.LatestCheckpoint(ctx, "alice/missing")
	assert.False(t, ok)
	assert.Error(t, s.DownloadFolderPrefix(ctx, "alice/missing", "checkpoint-1", out))
}
