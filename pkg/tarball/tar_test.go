package tarball

import (
	"archive/tar"
	"compress/gzip"
	"io"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	testutils "github.com/sgl-project/ome-loop/pkg/testing"
)

// readArchive returns name -> content for every entry (directories map to "").
func readArchive(t *testing.T, archive string) map[string]string {
	t.Helper()
	f, err := os.Open(archive)
	require.NoError(t, err)
	defer f.Close()

	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	tr := tar.NewReader(gz)

	out := map[string]string{}
	for {
		h, err := tr.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		b, err := io.ReadAll(tr)
		require.NoError(t, err)
		out[h.Name] = string(b)
	}
	return out
}

func names(m map[string]string) []string {
	var out []string
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func TestTarGz_ExcludesAndArcnames(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, testutils.WriteTree(root, map[string]string{
		"conf/config.yaml":          "hf_username: alice",
		"conf/runs/stale.json":      "x",
		"conf/.cache/blob":          "x",
		"pipeline/run.sh":           "#!/bin/sh",
		"pipeline/logs/out.log":     "x",
		"secrets/hf_token":          "hf_secret",
		"secrets/readme.txt":        "keep",
		"bin/kill-port":             "bin",
		"bin/results/summary.json":  "x",
		"pipeline/nested/.hf/token": "x",
	}))

	out := filepath.Join(root, "runs", "r1", "meta", "code.tar.gz")
	srcs := Sources(
		filepath.Join(root, "env"),
		filepath.Join(root, "conf"),
		filepath.Join(root, "pipeline"),
		filepath.Join(root, "bin"),
		filepath.Join(root, "secrets"),
	)
	n, err := TarGz(srcs, out, Options{Excludes: []string{".hf/", ".cache/", "runs/", "logs/", "results/", "secrets/hf_token"}})
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	got := readArchive(t, out)
	assert.Equal(t, []string{
		"bin/kill-port",
		"conf/config.yaml",
		"pipeline/run.sh",
		"secrets/readme.txt",
	}, names(got))
	assert.Equal(t, "hf_username: alice", got["conf/config.yaml"])
}

func TestTarGz_CustomArcnameWithDirs(t *testing.T) {
	root := t.TempDir()
	swe := filepath.Join(root, "runs", "r1", "swe")
	require.NoError(t, testutils.WriteTree(swe, map[string]string{
		"preds.json":            "{}",
		"trajs/django_1.traj":   "t",
		"progress.json":         `{"last_iid":"a"}`,
		"all-preds.jsonl":       "",
		"trajs/nested/x.output": "o",
	}))

	out := filepath.Join(swe, "traces.tgz")
	n, err := TarGz([]Source{{Path: swe, Arcname: "swe"}}, out, Options{IncludeDirs: true})
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	assert.Equal(t, []string{
		"swe/",
		"swe/all-preds.jsonl",
		"swe/preds.json",
		"swe/progress.json",
		"swe/trajs/",
		"swe/trajs/django_1.traj",
		"swe/trajs/nested/",
		"swe/trajs/nested/x.output",
	}, names(readArchive(t, out)))
}

func TestTarGz_MissingSources(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "empty.tar.gz")

	n, err := TarGz(Sources(filepath.Join(root, "nope")), out, Options{})
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, readArchive(t, out))
}

func TestTarGz_Symlink(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, testutils.WriteTree(root, map[string]string{"logs/vllm.log": "ok"}))
	require.NoError(t, os.Symlink("vllm.log", filepath.Join(root, "logs", "latest.log")))

	out := filepath.Join(root, "logs.tar.gz")
	n, err := TarGz(Sources(filepath.Join(root, "logs")), out, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"logs/latest.log", "logs/vllm.log"}, names(readArchive(t, out)))
}
