package swebench

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
)

// Instance is one benchmark problem.
type Instance struct {
	InstanceID       string `json:"instance_id"`
	ProblemStatement string `json:"problem_statement"`
	ImageName        string `json:"image_name,omitempty"`
	AltImage         string `json:"image,omitempty"`
}

// ResolveDataset checks the configured dataset is the mini subset and
// returns the dataset actually evaluated.
func ResolveDataset(configured string) (string, error) {
	if !strings.Contains(strings.ToLower(configured), constants.MiniDatasetMarker) {
		return "", fmt.Errorf("swe.dataset_repo must be the k-means mini subset (e.g., SWE-bench-verified-mini), got %q", configured)
	}
	return constants.MiniDatasetName, nil
}

func stringField(row map[string]interface{}, key string) string {
	if v, ok := row[key].(string); ok {
		return v
	}
	return ""
}

// InstanceFromRow converts a datasets-server row.
func InstanceFromRow(row map[string]interface{}) (Instance, error) {
	inst := Instance{
		InstanceID:       stringField(row, "instance_id"),
		ProblemStatement: stringField(row, "problem_statement"),
		ImageName:        stringField(row, "image_name"),
		AltImage:         stringField(row, "image"),
	}
	if inst.InstanceID == "" {
		return Instance{}, errors.New("dataset row has no instance_id")
	}
	return inst, nil
}

// ReadInstancesJSONL reads one instance per non-blank line.
func ReadInstancesJSONL(r io.Reader) ([]Instance, error) {
	var out []Instance
	br := bufio.NewReader(r)
	for n := 1; ; n++ {
		line, err := br.ReadBytes('\n')
		if trimmed := strings.TrimSpace(string(line)); trimmed != "" {
			var inst Instance
			if uerr := json.Unmarshal([]byte(trimmed), &inst); uerr != nil {
				return nil, errors.Wrapf(uerr, "dataset line %d", n)
			}
			if inst.InstanceID == "" {
				return nil, fmt.Errorf("dataset line %d has no instance_id", n)
			}
			out = append(out, inst)
		}
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
	}
}

// datasetSource loads the benchmark instances.
type datasetSource struct {
	client  *hub.HubClient
	fs      afero.Fs
	baseURL string
	file    string
}

func (d datasetSource) load(ctx context.Context, dataset, split string) ([]Instance, error) {
	if d.file != "" {
		f, err := d.fs.Open(d.file)
		if err != nil {
			return nil, errors.Wrap(err, "opening dataset file")
		}
		defer f.Close()
		return ReadInstancesJSONL(f)
	}

	rows, err := d.client.DatasetRows(ctx, d.baseURL, dataset, "", split, constants.DatasetRowsPageSize)
	if err != nil {
		return nil, errors.Wrapf(err, "loading %s (%s)", dataset, split)
	}
	out := make([]Instance, 0, len(rows))
	for i, row := range rows {
		inst, err := InstanceFromRow(row)
		if err != nil {
			return nil, errors.Wrapf(err, "row %d", i)
		}
		out = append(out, inst)
	}
	return out, nil
}
