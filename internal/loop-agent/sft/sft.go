// Package sft turns benchmark predictions into supervised fine-tuning
// examples with the model's hidden reasoning removed.
package sft

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/predstore"
)

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"

	instructionFormat = "Solve SWE-bench issue %s. Provide only the final patch diff or commands, no hidden thinking."
)

var thinkBlock = regexp.MustCompile(`(?is)<think>.*?</think>`)

// StripThinking removes <think>...</think> blocks (any case, across lines,
// shortest match), then any stray tags, then surrounding whitespace.
func StripThinking(s string) string {
	s = thinkBlock.ReplaceAllString(s, "")
	s = strings.ReplaceAll(s, thinkOpen, "")
	s = strings.ReplaceAll(s, thinkClose, "")
	return strings.TrimSpace(s)
}

// Example is one SFT row.
type Example struct {
	ID          string `json:"id"`
	Instruction string `json:"instruction"`
	Output      string `json:"output"`
}

// BuildExamples converts preds to examples in dictionary order.
func BuildExamples(preds *predstore.Predictions) []Example {
	examples := make([]Example, 0, preds.Len())
	preds.Each(func(iid string, pred predstore.Prediction) {
		examples = append(examples, Example{
			ID:          iid,
			Instruction: fmt.Sprintf(instructionFormat, iid),
			Output:      StripThinking(pred.ModelPatch),
		})
	})
	return examples
}

// EncodeExamples renders examples as JSON lines.
func EncodeExamples(examples []Example) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, ex := range examples {
		if err := enc.Encode(ex); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// Distiller writes the SFT file and the predictions mirror.
type Distiller struct {
	logger logging.Interface
	config Config
}

// NewDistiller validates config and returns a Distiller.
func NewDistiller(config *Config) (*Distiller, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("sft config invalid: %w", err)
	}
	return &Distiller{logger: config.AnotherLogger, config: *config}, nil
}

// Start writes the SFT examples for the configured predictions.
func (d *Distiller) Start() error {
	n, err := WriteExamples(d.config.Fs, d.config.PredsJSON, d.config.OutJSONL, d.logger)
	if err != nil {
		return err
	}
	d.logger.WithField("examples", n).
		WithField("out", d.config.OutJSONL).
		Info("Wrote SFT JSONL")
	return nil
}

// Mirror rebuilds a predictions mirror (all-preds.jsonl) at the output path.
func (d *Distiller) Mirror() error {
	preds, err := predstore.LoadPredictionsFile(d.config.Fs, d.config.PredsJSON)
	if err != nil {
		return err
	}
	if err := predstore.WriteMirrorFile(d.config.Fs, d.config.OutJSONL, preds, d.logger); err != nil {
		return errors.Wrap(err, "writing mirror")
	}
	d.logger.WithField("records", preds.Len()).
		WithField("out", d.config.OutJSONL).
		Info("Wrote predictions mirror")
	return nil
}

// WriteExamples reads predsPath and writes its SFT examples to outPath,
// returning how many were written.
func WriteExamples(fs afero.Fs, predsPath, outPath string, logger logging.Interface) (int, error) {
	preds, err := predstore.LoadPredictionsFile(fs, predsPath)
	if err != nil {
		return 0, err
	}

	examples := BuildExamples(preds)
	data, err := EncodeExamples(examples)
	if err != nil {
		return 0, err
	}
	if err := fs.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return 0, err
	}
	if err := aferoutil.AtomicWriteFile(fs, outPath, data, 0o644, logger); err != nil {
		return 0, errors.Wrapf(err, "writing %s", outPath)
	}
	return len(examples), nil
}
