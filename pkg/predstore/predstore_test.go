package predstore

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

const dir = "/work/runs/r1/swe"

func newStore(t *testing.T) (*Store, afero.Fs) {
	t.Helper()
	fs := afero.NewMemMapFs()
	return NewStore(fs, dir, logging.Discard()), fs
}

func pred(iid, patch string) Prediction {
	return Prediction{ModelNameOrPath: "hosted_vllm/qwen3", InstanceID: iid, ModelPatch: patch}
}

func readString(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	b, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	return string(b)
}

func TestPredictions_OrderAndEncoding(t *testing.T) {
	in := `{"z__z-1": {"model_name_or_path": "m", "instance_id": "z__z-1", "model_patch": "a"},
	        "a__a-2": {"model_name_or_path": "m", "instance_id": "a__a-2", "model_patch": "diff --git a/x b/x\n<&>"}}`

	var p Predictions
	require.NoError(t, json.Unmarshal([]byte(in), &p))
	assert.Equal(t, []string{"z__z-1", "a__a-2"}, p.IDs())

	p.Set("m__m-3", pred("m__m-3", "c"))
	p.Set("z__z-1", pred("z__z-1", "updated"))
	assert.Equal(t, []string{"z__z-1", "a__a-2", "m__m-3"}, p.IDs())

	out, err := marshalIndent(&p)
	require.NoError(t, err)
	s := string(out)
	assert.Less(t, strings.Index(s, "z__z-1"), strings.Index(s, "a__a-2"))
	assert.Less(t, strings.Index(s, "a__a-2"), strings.Index(s, "m__m-3"))
	assert.Contains(t, s, `<&>`)
	assert.Contains(t, s, "\n  \"z__z-1\": {\n    \"model_name_or_path\"")

	got, ok := p.Get("z__z-1")
	require.True(t, ok)
	assert.Equal(t, "updated", got.ModelPatch)
}

func TestPredictions_InvalidJSON(t *testing.T) {
	var p Predictions
	assert.Error(t, json.Unmarshal([]byte(`["a"]`), &p))
	require.NoError(t, json.Unmarshal([]byte(`null`), &p))
	assert.Zero(t, p.Len())
}

func TestStore_LoadPredictions(t *testing.T) {
	s, fs := newStore(t)

	preds, err := s.LoadPredictions()
	require.NoError(t, err)
	assert.Zero(t, preds.Len())

	require.NoError(t, afero.WriteFile(fs, s.PredictionsPath(), []byte("{not json"), 0o644))
	_, err = s.LoadPredictions()
	assert.Error(t, err)

	require.NoError(t, afero.WriteFile(fs, s.PredictionsPath(), nil, 0o644))
	preds, err = s.LoadPredictions()
	require.NoError(t, err)
	assert.Zero(t, preds.Len())
}

func TestStore_SaveAndLoadRoundTrip(t *testing.T) {
	s, _ := newStore(t)
	preds := NewPredictions()
	preds.Set("b", pred("b", "2"))
	preds.Set("a", pred("a", "1"))

	require.NoError(t, s.SavePredictions(preds))
	loaded, err := s.LoadPredictions()
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, loaded.IDs())

	require.NoError(t, s.SaveProgress(Progress{LastIID: "a", Status: "Submitted"}))
	p, ok, err := s.LoadProgress()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Progress{LastIID: "a", Status: "Submitted"}, p)
}

func TestStore_ReconcileMirror(t *testing.T) {
	preds := NewPredictions()
	preds.Set("a", pred("a", "1"))
	preds.Set("b", pred("b", "2"))

	t.Run("absent mirror is written", func(t *testing.T) {
		s, fs := newStore(t)
		rebuilt, err := s.ReconcileMirror(preds)
		require.NoError(t, err)
		assert.True(t, rebuilt)
		assert.Equal(t,
			`{"instance_id":"a","model_name_or_path":"hosted_vllm/qwen3","model_patch":"1"}`+"\n"+
				`{"instance_id":"b","model_name_or_path":"hosted_vllm/qwen3","model_patch":"2"}`+"\n",
			readString(t, fs, s.MirrorPath()))
	})

	t.Run("superset mirror is kept", func(t *testing.T) {
		s, fs := newStore(t)
		content := `{"instance_id":"b"}` + "\n" + "garbage\n" + `{"instance_id":"a"}` + "\n" + `{"instance_id":"c"}`
		require.NoError(t, afero.WriteFile(fs, s.MirrorPath(), []byte(content), 0o644))

		rebuilt, err := s.ReconcileMirror(preds)
		require.NoError(t, err)
		assert.False(t, rebuilt)
		assert.Equal(t, content, readString(t, fs, s.MirrorPath()))
	})

	t.Run("lagging mirror is rebuilt", func(t *testing.T) {
		s, fs := newStore(t)
		require.NoError(t, afero.WriteFile(fs, s.MirrorPath(), []byte(`{"instance_id":"a"}`+"\n"+`{"no_id":true}`+"\n"), 0o644))

		rebuilt, err := s.ReconcileMirror(preds)
		require.NoError(t, err)
		assert.True(t, rebuilt)

		ids, exists, err := ReadMirrorIDs(fs, s.MirrorPath())
		require.NoError(t, err)
		assert.True(t, exists)
		assert.True(t, ids.HasAll(preds.IDs()...))
	})
}

func TestStore_RebuildIsIdempotent(t *testing.T) {
	s, fs := newStore(t)
	preds := NewPredictions()
	preds.Set("x", pred("x", "<think>hm</think>\ndiff"))
	preds.Set("y", pred("y", ""))

	require.NoError(t, s.RebuildMirror(preds))
	first := readString(t, fs, s.MirrorPath())
	require.NoError(t, s.RebuildMirror(preds))
	assert.Equal(t, first, readString(t, fs, s.MirrorPath()))
	assert.Contains(t, first, "<think>")
}

func TestStore_Record(t *testing.T) {
	s, fs := newStore(t)
	preds := NewPredictions()
	preds.Set("a", pred("a", "1"))
	_, err := s.ReconcileMirror(preds)
	require.NoError(t, err)

	require.NoError(t, s.Record(preds, "b", pred("b", "2"), "Submitted"))
	require.NoError(t, s.Record(preds, "c", pred("c", "3"), "LimitsExceeded"))

	loaded, err := s.LoadPredictions()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, loaded.IDs())

	p, ok, err := s.LoadProgress()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Progress{LastIID: "c", Status: "LimitsExceeded"}, p)

	lines := strings.Split(strings.TrimSuffix(readString(t, fs, s.MirrorPath()), "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], `"instance_id":"c"`)

	t.Run("already mirrored ids are not duplicated", func(t *testing.T) {
		require.NoError(t, s.Record(preds, "c", pred("c", "3b"), "Submitted"))
		lines := strings.Split(strings.TrimSuffix(readString(t, fs, s.MirrorPath()), "\n"), "\n")
		assert.Len(t, lines, 3)
	})

	t.Run("mirror deleted behind our back is rebuilt", func(t *testing.T) {
		require.NoError(t, fs.Remove(s.MirrorPath()))
		s2 := NewStore(fs, dir, logging.Discard())
		require.NoError(t, s2.Record(preds, "d", pred("d", "4"), "Submitted"))

		ids, _, err := ReadMirrorIDs(fs, s2.MirrorPath())
		require.NoError(t, err)
		assert.True(t, ids.HasAll("a", "b", "c", "d"))
	})
}

func TestStore_Artifacts(t *testing.T) {
	s, _ := newStore(t)
	assert.Equal(t, []string{
		dir + "/preds.json",
		dir + "/progress.json",
		dir + "/all-preds.jsonl",
	}, s.Artifacts())
}
