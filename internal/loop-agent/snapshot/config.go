package snapshot

import (
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type Config struct {
	AnotherLogger logging.Interface `validate:"required"`
	Run           *runconfig.Config `validate:"required"`
	Syncer        *hubsync.Syncer   `validate:"required"`

	// Now stamps archive names; defaults to time.Now.
	Now func() time.Time
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
	c := &Config{Now: time.Now}
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

// WithClock overrides the clock used for archive names.
func WithClock(now func() time.Time) Option {
	return func(c *Config) error {
		c.Now = now
		return nil
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
