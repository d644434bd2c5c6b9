package serving

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sys/unix"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	"github.com/sgl-project/ome-loop/pkg/constants"
	"github.com/sgl-project/ome-loop/pkg/logging"
)

type Config struct {
	AnotherLogger logging.Interface `validate:"required"`
	Runner        *common.Runner    `validate:"required"`
	HTTPClient    *http.Client      `validate:"required"`

	ReadyTimeout time.Duration `validate:"gt=0"`
	PollInterval time.Duration `validate:"gt=0"`
	ProbeTimeout time.Duration `validate:"gt=0"`

	// Kill signals one process.
	Kill func(pid int) error `validate:"required"`
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

func sigkill(pid int) error {
	return unix.Kill(pid, unix.SIGKILL)
}

// NewConfig builds and returns a new configuration from the given options.
func NewConfig(opts ...Option) (*Config, error) {
	c := &Config{
		HTTPClient:   &http.Client{},
		ReadyTimeout: constants.ServingReadyTimeout,
		PollInterval: constants.ServingReadyPollInterval,
		ProbeTimeout: constants.ServingReadyProbeTimeout,
		Kill:         sigkill,
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

func WithRunner(r *common.Runner) Option {
	return func(c *Config) error {
		c.Runner = r
		return nil
	}
}

// WithTimeouts overrides the readiness timings; zero values keep the defaults.
func WithTimeouts(total, poll, probe time.Duration) Option {
	return func(c *Config) error {
		if total > 0 {
			c.ReadyTimeout = total
		}
		if poll > 0 {
			c.PollInterval = poll
		}
		if probe > 0 {
			c.ProbeTimeout = probe
		}
		return nil
	}
}

func WithKill(kill func(pid int) error) Option {
	return func(c *Config) error {
		c.Kill = kill
		return nil
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
