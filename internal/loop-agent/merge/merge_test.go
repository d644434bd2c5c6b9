package merge

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logrustest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	utilexec "k8s.io/utils/exec"
	fakeexec "k8s.io/utils/exec/testing"
	"sigs.k8s.io/yaml"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
	testutils "github.com/sgl-project/ome-loop/pkg/testing"
)

const template = `merge_method: task_arithmetic
base_model: Qwen/Qwen3-1.7B
models:
  - model: __NEW_A__
    parameters:
      weight: 0.5
  - model: /models/B
    parameters:
      weight: 0.5
dtype: bfloat16
`

func TestRenderTemplate(t *testing.T) {
	out, replaced, err := RenderTemplate([]byte(template), "/work/runs/A_final")
	require.NoError(t, err)
	assert.Equal(t, 1, replaced)

	var got map[string]interface{}
	require.NoError(t, yaml.Unmarshal(out, &got))
	models := got["models"].([]interface{})
	assert.Equal(t, "/work/runs/A_final", models[0].(map[string]interface{})["model"])
	assert.Equal(t, "/models/B", models[1].(map[string]interface{})["model"])
	assert.Equal(t, "task_arithmetic", got["merge_method"])
	assert.Equal(t, "bfloat16", got["dtype"])
}

func TestRenderTemplate_Errors(t *testing.T) {
	_, _, err := RenderTemplate([]byte("models: [unterminated"), "/a")
	assert.Error(t, err)

	_, _, err = RenderTemplate([]byte(""), "/a")
	assert.Error(t, err)

	_, replaced, err := RenderTemplate([]byte("models:\n  - model: /x\n"), "/a")
	require.NoError(t, err)
	assert.Zero(t, replaced)
}

type fixture struct {
	fs     aferoutil.Fs
	fcmd   *fakeexec.FakeCmd
	merger *Merger
	recipe []byte
	logs   *logrustest.Hook
}

func newFixture(t *testing.T, runErr error) *fixture {
	t.Helper()
	f := &fixture{fs: aferoutil.NewMemMapFs()}

	f.fcmd = &fakeexec.FakeCmd{
		RunScript: []fakeexec.FakeAction{
			func() ([]byte, []byte, error) {
				data, err := aferoutil.ReadFile(f.fs, f.fcmd.Argv[1])
				require.NoError(t, err)
				f.recipe = data
				return nil, nil, runErr
			},
		},
	}
	fexec := &fakeexec.FakeExec{
		CommandScript: []fakeexec.FakeCommandAction{
			func(cmd string, args ...string) utilexec.Cmd { return fakeexec.InitFakeCmd(f.fcmd, cmd, args...) },
		},
	}

	rc, err := runconfig.NewConfig(
		runconfig.WithHFUsername("alice"),
		runconfig.WithRunID("r1"),
		runconfig.WithRoot("/work"),
	)
	require.NoError(t, err)

	var logger logging.Interface
	logger, f.logs = testutils.NewCapturingLogger()
	config, err := NewConfig(
		WithAnotherLog(logger),
		WithRunConfig(rc),
		WithFs(f.fs),
		WithRunner(common.NewRunner(fexec, logging.Discard(), nil)),
	)
	require.NoError(t, err)
	f.merger, err = NewMerger(config)
	require.NoError(t, err)

	require.NoError(t, aferoutil.WriteFile(f.fs, "/work/conf/mk_apply_template.yml", []byte(template), 0o644))
	return f
}

func (f *fixture) linkFinalA(t *testing.T) {
	t.Helper()
	require.NoError(t, f.fs.MkdirAll("/work/runs/r1/trainA/final_merged_A", 0o755))
	require.NoError(t, aferoutil.ReplaceSymlink(f.fs, "/work/runs/r1/trainA/final_merged_A", "/work/runs/A_final", logging.Discard()))
}

func TestMerger_Start(t *testing.T) {
	f := newFixture(t, nil)
	f.linkFinalA(t)

	require.NoError(t, f.merger.Start(context.Background()))

	require.Len(t, f.fcmd.RunLog, 1)
	argv := f.fcmd.RunLog[0]
	require.Len(t, argv, 3)
	assert.Equal(t, "mergekit-yaml", argv[0])
	assert.Equal(t, "mk.yml", argv[1][len(argv[1])-len("mk.yml"):])
	assert.Equal(t, "/work/runs/r1/B_new", argv[2])
	assert.True(t, aferoutil.IsDir(f.fs, "/work/runs/r1/B_new"))
	assert.Contains(t, string(f.recipe), "model: /work/runs/A_final")

	exists, err := aferoutil.Exists(f.fs, argv[1])
	require.NoError(t, err)
	assert.False(t, exists, "temporary recipe is removed")
}

func TestMerger_MissingFinalA(t *testing.T) {
	f := newFixture(t, nil)

	err := f.merger.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "A_final not found: /work/runs/A_final")
	assert.Empty(t, f.fcmd.RunLog)
}

func TestMerger_MergekitFails(t *testing.T) {
	f := newFixture(t, &fakeexec.FakeExitError{Status: 1})
	f.linkFinalA(t)

	err := f.merger.Start(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "mergekit-yaml exited with status 1")
}

func TestMerger_TemplateWithoutPlaceholder(t *testing.T) {
	f := newFixture(t, nil)
	f.linkFinalA(t)
	require.NoError(t, aferoutil.WriteFile(f.fs, "/work/conf/mk_apply_template.yml",
		[]byte("merge_method: linear\nmodels:\n  - model: /models/B\n"), 0o644))

	require.NoError(t, f.merger.Start(context.Background()))
	assert.Contains(t, testutils.Messages(f.logs, logrus.WarnLevel), "Merge template does not reference the new model")
	assert.NotContains(t, string(f.recipe), "A_final")
}
