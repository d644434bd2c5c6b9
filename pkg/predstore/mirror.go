package predstore

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"os"

	"github.com/spf13/afero"
	"k8s.io/apimachinery/pkg/util/sets"
)

// MirrorRecord is one line of all-preds.jsonl.
type MirrorRecord struct {
	InstanceID      string `json:"instance_id"`
	ModelNameOrPath string `json:"model_name_or_path"`
	ModelPatch      string `json:"model_patch"`
}

// EncodeMirror renders the whole mirror for preds, one line per entry in
// dictionary order. The dictionary key is the line's instance_id.
func EncodeMirror(preds *Predictions) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	preds.Each(func(iid string, pred Prediction) {
		if err != nil {
			return
		}
		err = writeMirrorLine(&buf, MirrorRecord{
			InstanceID:      iid,
			ModelNameOrPath: pred.ModelNameOrPath,
			ModelPatch:      pred.ModelPatch,
		})
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func writeMirrorLine(w io.Writer, rec MirrorRecord) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return enc.Encode(rec)
}

// ReadMirrorIDs returns the instance ids present in a mirror file. Lines
// that don't parse or have no instance_id are ignored. A missing file
// yields an empty set and exists=false.
func ReadMirrorIDs(fs afero.Fs, path string) (ids sets.Set[string], exists bool, err error) {
	ids = sets.New[string]()

	f, err := fs.Open(path)
	if os.IsNotExist(err) {
		return ids, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadBytes('\n')
		if len(bytes.TrimSpace(line)) > 0 {
			var rec struct {
				InstanceID *string `json:"instance_id"`
			}
			if json.Unmarshal(line, &rec) == nil && rec.InstanceID != nil {
				ids.Insert(*rec.InstanceID)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return nil, true, readErr
		}
	}
	return ids, true, nil
}
