package merge

import (
	"github.com/go-playground/validator/v10"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type Config struct {
	AnotherLogger logging.Interface `validate:"required"`
	Run           *runconfig.Config `validate:"required"`
	Fs            aferoutil.Fs      `validate:"required"`
	Runner        *common.Runner    `validate:"required"`

	// TemplatePath is relative to the run root unless absolute.
	TemplatePath string `validate:"required"`
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

// NewConfig builds and returns a new configuration from the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{TemplatePath: constants.MergeTemplateFilePath}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		c.AnotherLogger = logger
		return nil
	}
}

func WithRunConfig(rc *runconfig.Config) Option {
	return func(c *Config) error {
		c.Run = rc
		return nil
	}
}

func WithFs(fs aferoutil.Fs) Option {
	return func(c *Config) error {
		c.Fs = fs
		return nil
	}
}

func WithRunner(r *common.Runner) Option {
	return func(c *Config) error {
		c.Runner = r
		return nil
	}
}

// WithTemplatePath overrides conf/mk_apply_template.yml.
func WithTemplatePath(path string) Option {
	return func(c *Config) error {
		if path != "" {
			c.TemplatePath = path
		}
		return nil
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
