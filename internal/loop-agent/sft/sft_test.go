package sft

import (
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/predstore"
)

func TestStripThinking(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no thinking", "diff --git a/x b/x", "diff --git a/x b/x"},
		{"single block", "<think>plan</think>\ndiff", "diff"},
		{"multiline and case", "<THINK>line1\nline2</Think>  patch  ", "patch"},
		{"non greedy", "<think>a</think>keep<think>b</think>", "keep"},
		{"stray open", "<think>unterminated reasoning\ncmd", "unterminated reasoning\ncmd"},
		{"stray close", "reasoning</think>\ncmd", "reasoning\ncmd"},
		{"only whitespace left", "  <think>x</think>\n\t", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripThinking(tt.in))
		})
	}
}

func TestBuildExamples(t *testing.T) {
	preds := predstore.NewPredictions()
	preds.Set("django__django-11099", predstore.Prediction{InstanceID: "django__django-11099", ModelPatch: "<think>hmm</think>diff A"})
	preds.Set("astropy__astropy-12907", predstore.Prediction{InstanceID: "astropy__astropy-12907", ModelPatch: "diff B"})

	got := BuildExamples(preds)
	require.Len(t, got, 2)
	assert.Equal(t, Example{
		ID:          "django__django-11099",
		Instruction: "Solve SWE-bench issue django__django-11099. Provide only the final patch diff or commands, no hidden thinking.",
		Output:      "diff A",
	}, got[0])
	assert.Equal(t, "astropy__astropy-12907", got[1].ID)
}

func writePreds(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	preds := predstore.NewPredictions()
	preds.Set("b__b-2", predstore.Prediction{ModelNameOrPath: "m", InstanceID: "b__b-2", ModelPatch: "<think>x</think>\n--- a\n+++ b & <c>"})
	preds.Set("a__a-1", predstore.Prediction{ModelNameOrPath: "m", InstanceID: "a__a-1", ModelPatch: ""})
	require.NoError(t, predstore.WritePredictionsFile(fs, path, preds, logging.Discard()))
}

func TestDistiller_Start(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePreds(t, fs, "/runs/r1/swe/preds.json")

	config, err := NewConfig(
		WithAnotherLog(logging.Discard()),
		WithFs(fs),
		WithPaths("/runs/r1/swe/preds.json", "/runs/r1/sft/sft_qwenA_from_B_mini.jsonl"),
	)
	require.NoError(t, err)
	d, err := NewDistiller(config)
	require.NoError(t, err)
	require.NoError(t, d.Start())

	data, err := afero.ReadFile(fs, "/runs/r1/sft/sft_qwenA_from_B_mini.jsonl")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"id":"b__b-2","instruction":"Solve SWE-bench issue b__b-2. Provide only the final patch diff or commands, no hidden thinking.","output":"--- a\n+++ b & <c>"}`, lines[0])
	assert.Contains(t, lines[1], `"id":"a__a-1"`)
	assert.Contains(t, lines[1], `"output":""`)
}

func TestDistiller_MissingPredsWritesEmptyFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	n, err := WriteExamples(fs, "/nope/preds.json", "/out/sft.jsonl", logging.Discard())
	require.NoError(t, err)
	assert.Zero(t, n)

	exists, err := afero.Exists(fs, "/out/sft.jsonl")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestDistiller_MirrorIsIdempotent(t *testing.T) {
	fs := afero.NewMemMapFs()
	writePreds(t, fs, "/swe/preds.json")

	config, err := NewConfig(WithAnotherLog(logging.Discard()), WithFs(fs), WithPaths("/swe/preds.json", "/swe/all-preds.jsonl"))
	require.NoError(t, err)
	d, err := NewDistiller(config)
	require.NoError(t, err)

	require.NoError(t, d.Mirror())
	first, err := afero.ReadFile(fs, "/swe/all-preds.jsonl")
	require.NoError(t, err)
	require.NoError(t, d.Mirror())
	second, err := afero.ReadFile(fs, "/swe/all-preds.jsonl")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(string(first), `{"instance_id":"b__b-2","model_name_or_path":"m"`))
}

func TestNewDistiller_RequiresPaths(t *testing.T) {
	config, err := NewConfig(WithAnotherLog(logging.Discard()), WithFs(afero.NewMemMapFs()))
	require.NoError(t, err)
	_, err = NewDistiller(config)
	assert.Error(t, err)
}
