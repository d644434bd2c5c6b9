package swebench

import (
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type Config struct {
	AnotherLogger logging.Interface `validate:"required"`
	Run           *runconfig.Config `validate:"required"`
	Syncer        *hubsync.Syncer   `validate:"required"`
	Client        *hub.HubClient    `validate:"required"`
	Exec          *common.Runner    `validate:"required"`
	Fs            afero.Fs          `validate:"required"`
	Metrics       *metrics.Metrics

	// ScratchDir holds the per-episode directories.
	ScratchDir string `validate:"required"`
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
	c := &Config{ScratchDir: os.TempDir()}
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

// WithHub sets the Hub client used for the dataset and the Syncer used for
// the resume artifacts.
func WithHub(client *hub.HubClient, syncer *hubsync.Syncer) Option {
	return func(c *Config) error {
		c.Client = client
		c.Syncer = syncer
		return nil
	}
}

func WithExec(r *common.Runner) Option {
	return func(c *Config) error {
		c.Exec = r
		return nil
	}
}

func WithFs(fs afero.Fs) Option {
	return func(c *Config) error {
		c.Fs = fs
		return nil
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Config) error {
		c.Metrics = m
		return nil
	}
}

func WithScratchDir(dir string) Option {
	return func(c *Config) error {
		if dir != "" {
			c.ScratchDir = dir
		}
		return nil
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
