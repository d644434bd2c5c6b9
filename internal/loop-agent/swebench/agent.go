package swebench

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	cp "github.com/otiai10/copy"
	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	"github.com/sgl-project/ome-loop/pkg/constants"
)

// Files exchanged with the agent inside an episode directory.
const (
	episodeConfigFile  = "agent.yaml"
	episodeProblemFile = "problem.md"
	episodeResultFile  = "result.json"

	trajectoriesDir = "trajs"
)

// AgentSettings is the agent YAML: model, environment and agent sections.
type AgentSettings struct {
	Model       map[string]interface{} `yaml:"model"`
	Environment map[string]interface{} `yaml:"environment"`
	Agent       map[string]interface{} `yaml:"agent"`
}

// LoadAgentSettings reads the agent YAML and checks it names a model.
func LoadAgentSettings(fs afero.Fs, path string) (*AgentSettings, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrap(err, "reading agent config")
	}
	var s AgentSettings
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	if s.ModelName() == "" {
		return nil, fmt.Errorf("%s: model.model_name is not set", path)
	}
	return &s, nil
}

// ModelName is model.model_name, recorded with every prediction.
func (s *AgentSettings) ModelName() string {
	name, _ := s.Model["model_name"].(string)
	return name
}

// ForInstance returns the settings of one episode: the environment runs
// under singularity with the instance's image.
func (s *AgentSettings) ForInstance(image string) AgentSettings {
	env := make(map[string]interface{}, len(s.Environment)+2)
	for k, v := range s.Environment {
		env[k] = v
	}
	env["environment_class"] = constants.SingularityEnvironmentClass
	env["image"] = image
	return AgentSettings{Model: s.Model, Environment: env, Agent: s.Agent}
}

// episodeResult is what the agent writes to result.json.
type episodeResult struct {
	ExitStatus string `json:"exit_status"`
	Submission string `json:"submission"`
}

func readEpisodeResult(path string) (episodeResult, error) {
	var res episodeResult
	data, err := os.ReadFile(path)
	if err != nil {
		return res, errors.Wrap(err, "agent wrote no result")
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return res, errors.Wrap(err, "parsing agent result")
	}
	return res, nil
}

// episode runs the agent on one instance. The environment cleanup command
// runs whatever the outcome; its failure is logged and otherwise ignored.
func (r *Runner) episode(ctx context.Context, inst Instance, settings *AgentSettings) (status, patch string, err error) {
	agent := r.config.Run.SWE.Agent

	dir := filepath.Join(r.config.ScratchDir, "episode-"+uuid.NewString())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", "", err
	}
	defer os.RemoveAll(dir)

	cfgPath := filepath.Join(dir, episodeConfigFile)
	problemPath := filepath.Join(dir, episodeProblemFile)
	resultPath := filepath.Join(dir, episodeResultFile)

	cfg, err := yaml.Marshal(settings.ForInstance(inst.Image()))
	if err != nil {
		return "", "", err
	}
	if err := os.WriteFile(cfgPath, cfg, 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(problemPath, []byte(inst.ProblemStatement), 0o644); err != nil {
		return "", "", err
	}

	argv := append(append([]string{}, agent.Command...),
		"--config", cfgPath,
		"--instance-id", inst.InstanceID,
		"--task-file", problemPath,
		"--output", resultPath)

	var res episodeResult
	runErr := r.config.Exec.Run(ctx, common.Command{Name: "agent", Argv: argv, Dir: dir})
	if runErr == nil {
		res, runErr = readEpisodeResult(resultPath)
	}

	cleanupErr := r.cleanup(ctx, cfgPath)
	r.keepTrajectory(dir, inst.InstanceID)

	if runErr != nil {
		if cleanupErr != nil {
			r.logger.WithError(multierror.Append(runErr, cleanupErr)).
				WithField("instance_id", inst.InstanceID).
				Error("Agent and environment cleanup failed")
		}
		return "", "", fmt.Errorf("agent failed on %s: %w", inst.InstanceID, runErr)
	}
	if cleanupErr != nil {
		r.logger.WithError(cleanupErr).
			WithField("instance_id", inst.InstanceID).
			Warn("Environment cleanup failed")
	}
	return res.ExitStatus, res.Submission, nil
}

func (r *Runner) cleanup(ctx context.Context, cfgPath string) error {
	cmd := r.config.Run.SWE.Agent.CleanupCommand
	if len(cmd) == 0 {
		return nil
	}
	argv := append(append([]string{}, cmd...), "--config", cfgPath)
	return r.config.Exec.Run(ctx, common.Command{Name: "agent-cleanup", Argv: argv})
}

// keepTrajectory copies the episode directory under swe/trajs/<iid> so it
// ships with traces.tgz.
func (r *Runner) keepTrajectory(dir, instanceID string) {
	dest := filepath.Join(r.config.Run.SWEDir(), trajectoriesDir, instanceID)
	if err := cp.Copy(dir, dest); err != nil {
		r.logger.WithError(err).
			WithField("instance_id", instanceID).
			Warn("Could not keep agent trajectory")
	}
}
