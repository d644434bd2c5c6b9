// Package runconfig loads the per-run configuration shared by every stage
// of the loop: the Hub user, the run id, the formatted repository names and
// the training and benchmark settings from conf/config.yaml.
package runconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/sgl-project/ome-loop/pkg/configutils"
	"github.com/sgl-project/ome-loop/pkg/constants"
)

// TrainConfig holds the trainer hyperparameters and the commands driving it.
type TrainConfig struct {
	MaxLen       int     `mapstructure:"max_len" validate:"gte=0"`
	BatchSize    int     `mapstructure:"bsz" validate:"gte=0"`
	GradAcc      int     `mapstructure:"grad_acc" validate:"gte=0"`
	LearningRate float64 `mapstructure:"lr" validate:"gte=0"`
	Epochs       float64 `mapstructure:"epochs" validate:"gte=0"`
	SaveSteps    int     `mapstructure:"save_steps" validate:"gte=0"`

	// RequireGPU defaults to true; set false to train on CPU-only hosts.
	RequireGPU bool `mapstructure:"require_gpu"`
	// Command is the trainer argv; hyperparameter flags are appended.
	Command []string `mapstructure:"command"`
	// ExportCommand writes a merged model; --adapter and --out are appended.
	ExportCommand []string `mapstructure:"export_command"`
}

// AgentConfig describes the external agent episode runner.
type AgentConfig struct {
	Command        []string `mapstructure:"command"`
	CleanupCommand []string `mapstructure:"cleanup_command"`
	ConfigFile     string   `mapstructure:"config_file"`
}

// SWEConfig selects the benchmark dataset and agent.
type SWEConfig struct {
	DatasetRepo     string      `mapstructure:"dataset_repo"`
	Split           string      `mapstructure:"split"`
	DatasetFile     string      `mapstructure:"dataset_file"`
	DatasetsBaseURL string      `mapstructure:"datasets_server_url"`
	Agent           AgentConfig `mapstructure:"agent"`
}

// Config is the run configuration. RunID comes from RUN_ID, never the file.
type Config struct {
	HFUsername string            `mapstructure:"hf_username" validate:"required"`
	RunID      string            `mapstructure:"-" validate:"required"`
	Repos      map[string]string `mapstructure:"repos"`
	ModelABase string            `mapstructure:"model_a_base"`
	Train      TrainConfig       `mapstructure:"train"`
	SWE        SWEConfig         `mapstructure:"swe"`

	// Root is the directory the runs/ and conf/ trees are relative to.
	Root string `mapstructure:"root"`

	// ReposFmt holds Repos with {user} and {run_id} substituted.
	ReposFmt map[string]string `mapstructure:"-"`
}

type Option func(*Config) error

// Apply applies the given options to the configuration.
func (c *Config) Apply(opts ...Option) error {
	for _, o := range opts {
		if o == nil {
			continue
		}
		if err := o(c); err != nil {
			return err
		}
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		RunID: constants.DefaultRunID,
		Root:  ".",
		Train: TrainConfig{RequireGPU: true},
		SWE: SWEConfig{
			Split:           "test",
			DatasetsBaseURL: constants.DefaultDatasetsServerURL,
			Agent:           AgentConfig{ConfigFile: constants.AgentConfigFilePath},
		},
	}
}

// NewConfig builds a run configuration from the given options and derives
// the formatted repository names.
func NewConfig(opts ...Option) (*Config, error) {
	c := defaultConfig()
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	if c.RunID == "" {
		c.RunID = constants.DefaultRunID
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.ReposFmt = FormatRepos(c.Repos, c.HFUsername, c.RunID)
	return c, nil
}

// WithViper loads the configuration from viper. RUN_ID wins over any
// run_id key in the file.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if v == nil {
			return errors.New("viper instance is nil")
		}
		if err := configutils.BindEnvsRecursive(v, c, ""); err != nil {
			return fmt.Errorf("error occurred when binding environment variables: %+v", err)
		}
		if err := v.Unmarshal(c); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		c.RunID = RunIDFromEnv()
		return nil
	}
}

// WithRunID overrides the run id.
func WithRunID(runID string) Option {
	return func(c *Config) error {
		c.RunID = runID
		return nil
	}
}

// WithHFUsername sets the Hub user repository templates are formatted with.
func WithHFUsername(user string) Option {
	return func(c *Config) error {
		c.HFUsername = user
		return nil
	}
}

// WithRepos sets the repository name templates.
func WithRepos(templates map[string]string) Option {
	return func(c *Config) error {
		c.Repos = templates
		return nil
	}
}

// WithRoot sets the directory run artifacts are relative to.
func WithRoot(root string) Option {
	return func(c *Config) error {
		if root != "" {
			c.Root = root
		}
		return nil
	}
}

func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "invalid run configuration")
	}
	return nil
}

// RunIDFromEnv returns RUN_ID or the default run id.
func RunIDFromEnv() string {
	if id := strings.TrimSpace(os.Getenv(constants.RunIDEnvVarKey)); id != "" {
		return id
	}
	return constants.DefaultRunID
}

// FormatRepos substitutes {user} and {run_id} in every template.
func FormatRepos(templates map[string]string, user, runID string) map[string]string {
	r := strings.NewReplacer("{user}", user, "{run_id}", runID)
	out := make(map[string]string, len(templates))
	for k, tmpl := range templates {
		out[k] = r.Replace(tmpl)
	}
	return out
}

// Repo returns the formatted repository id for key.
func (c *Config) Repo(key string) (string, error) {
	id, ok := c.ReposFmt[key]
	if !ok || id == "" {
		return "", fmt.Errorf("repos.%s is not configured", key)
	}
	return id, nil
}

// CodeDatasetRepo is repos.code_dataset or <user>/qwen3-loop-code-<run_id>.
func (c *Config) CodeDatasetRepo() string {
	if id := c.ReposFmt[constants.RepoKeyCodeDataset]; id != "" {
		return id
	}
	return constants.GetDefaultCodeDatasetRepo(c.HFUsername, c.RunID)
}

// LogsDatasetRepo is repos.logs_dataset or <user>/qwen3-loop-logs-<run_id>.
func (c *Config) LogsDatasetRepo() string {
	if id := c.ReposFmt[constants.RepoKeyLogsDataset]; id != "" {
		return id
	}
	return constants.GetDefaultLogsDatasetRepo(c.HFUsername, c.RunID)
}

// Path joins elem under Root.
func (c *Config) Path(elem ...string) string {
	return filepath.Join(append([]string{c.Root}, elem...)...)
}

// RunDir is runs/<run_id>.
func (c *Config) RunDir() string { return c.Path(constants.RunsDirectory, c.RunID) }

// SWEDir is runs/<run_id>/swe.
func (c *Config) SWEDir() string { return filepath.Join(c.RunDir(), constants.SWEDirectoryName) }

// SFTDir is runs/<run_id>/sft.
func (c *Config) SFTDir() string { return filepath.Join(c.RunDir(), constants.SFTDirectoryName) }

// TrainADir is runs/<run_id>/trainA.
func (c *Config) TrainADir() string {
	return filepath.Join(c.RunDir(), constants.TrainADirectoryName)
}

// MetaDir is runs/<run_id>/meta.
func (c *Config) MetaDir() string { return filepath.Join(c.RunDir(), constants.MetaDirectoryName) }

// BNewDir is runs/<run_id>/B_new.
func (c *Config) BNewDir() string { return filepath.Join(c.RunDir(), constants.BNewDirectoryName) }

// AFinalLink is runs/A_final, shared across runs.
func (c *Config) AFinalLink() string {
	return c.Path(constants.RunsDirectory, constants.AFinalLinkName)
}

// SFTDataFile is the training data written from the benchmark predictions.
func (c *Config) SFTDataFile() string {
	return filepath.Join(c.SFTDir(), constants.SFTTrainingDataFile)
}
