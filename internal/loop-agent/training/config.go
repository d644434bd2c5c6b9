package training

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type Config struct {
	AnotherLogger logging.Interface `validate:"required"`
	Run           *runconfig.Config `validate:"required"`
	Syncer        *hubsync.Syncer   `validate:"required"`
	Runner        *common.Runner    `validate:"required"`
	Fs            aferoutil.Fs      `validate:"required"`
	Metrics       *metrics.Metrics

	// PollInterval rescans the output directory between watcher events.
	PollInterval time.Duration `validate:"gt=0"`
	// SettleTimeout is how long a checkpoint may lack trainer_state.json
	// before it is pushed anyway.
	SettleTimeout time.Duration `validate:"gt=0"`
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
	c := &Config{
		PollInterval:  constants.CheckpointPollInterval,
		SettleTimeout: constants.CheckpointSettleTimeout,
	}
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

func WithSyncer(s *hubsync.Syncer) Option {
	return func(c *Config) error {
		c.Syncer = s
		return nil
	}
}

func WithRunner(r *common.Runner) Option {
	return func(c *Config) error {
		c.Runner = r
		return nil
	}
}

func WithFs(fs aferoutil.Fs) Option {
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

// WithIntervals overrides the checkpoint poll interval and settle timeout.
func WithIntervals(poll, settle time.Duration) Option {
	return func(c *Config) error {
		c.PollInterval = poll
		c.SettleTimeout = settle
		return nil
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
