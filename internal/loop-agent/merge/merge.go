// Package merge applies the freshly trained model to the merge recipe and
// runs mergekit to produce the next B model.
package merge

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"sigs.k8s.io/yaml"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/logging"
)

// Merger runs the merge stage.
type Merger struct {
	logger logging.Interface
	config Config
}

func NewMerger(config *Config) (*Merger, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("merge config invalid: %w", err)
	}
	return &Merger{logger: config.AnotherLogger, config: *config}, nil
}

// RenderTemplate replaces every models[].model equal to the placeholder with
// modelPath and reports how many were replaced. Everything else in the
// recipe is passed through.
func RenderTemplate(data []byte, modelPath string) ([]byte, int, error) {
	var recipe map[string]interface{}
	if err := yaml.Unmarshal(data, &recipe); err != nil {
		return nil, 0, errors.Wrap(err, "parsing merge template")
	}
	if recipe == nil {
		return nil, 0, errors.New("merge template is empty")
	}

	models, _ := recipe["models"].([]interface{})
	replaced := 0
	for _, m := range models {
		entry, ok := m.(map[string]interface{})
		if !ok {
			continue
		}
		if entry["model"] == constants.MergeTemplatePlaceholder {
			entry["model"] = modelPath
			replaced++
		}
	}
	out, err := yaml.Marshal(recipe)
	return out, replaced, err
}

func (m *Merger) templatePath() string {
	if filepath.IsAbs(m.config.TemplatePath) {
		return m.config.TemplatePath
	}
	return m.config.Run.Path(m.config.TemplatePath)
}

// Start merges runs/A_final into runs/<run_id>/B_new.
func (m *Merger) Start(ctx context.Context) error {
	fs := m.config.Fs
	rc := m.config.Run

	modelA, err := filepath.Abs(rc.AFinalLink())
	if err != nil {
		return err
	}
	if !aferoutil.IsDir(fs, modelA) {
		return fmt.Errorf("A_final not found: %s", modelA)
	}

	tmpl, err := aferoutil.ReadFile(fs, m.templatePath())
	if err != nil {
		return errors.Wrap(err, "reading merge template")
	}
	recipe, replaced, err := RenderTemplate(tmpl, modelA)
	if err != nil {
		return err
	}
	if replaced == 0 {
		m.logger.WithField("placeholder", constants.MergeTemplatePlaceholder).
			Warn("Merge template does not reference the new model")
	}

	tmp, err := aferoutil.TempDir(fs, "", "mk-")
	if err != nil {
		return err
	}
	defer func() { _ = fs.RemoveAll(tmp) }()

	recipePath := filepath.Join(tmp, constants.MergeConfigFileName)
	if err := aferoutil.WriteFile(fs, recipePath, recipe, 0o644); err != nil {
		return errors.Wrap(err, "writing merge recipe")
	}

	out := rc.BNewDir()
	if err := fs.MkdirAll(out, 0o755); err != nil {
		return err
	}

	m.logger.WithField("model_a", modelA).WithField("out", out).Info("Merging")
	if err := m.config.Runner.Run(ctx, common.Command{
		Argv: []string{constants.MergeKitCommand, recipePath, out},
	}); err != nil {
		return err
	}
	m.logger.WithField("out", out).Info("Merge complete")
	return nil
}
