package sft

import (
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/afero"
	"github.com/spf13/viper"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

type Config struct {
	AnotherLogger logging.Interface `validate:"required"`
	Fs            afero.Fs          `validate:"required"`

	PredsJSON string `mapstructure:"preds_json" validate:"required"`
	OutJSONL  string `mapstructure:"out_jsonl" validate:"required"`
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
	c := &Config{}
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}
	return c, nil
}

// WithAnotherLog sets the logger for the configuration.
func WithAnotherLog(logger logging.Interface) Option {
	return func(c *Config) error {
		c.AnotherLogger = logger
		return nil
	}
}

// WithFs sets the filesystem predictions are read from and examples written to.
func WithFs(fs afero.Fs) Option {
	return func(c *Config) error {
		c.Fs = fs
		return nil
	}
}

// WithPaths sets the input predictions and the output file.
func WithPaths(predsJSON, outJSONL string) Option {
	return func(c *Config) error {
		c.PredsJSON = predsJSON
		c.OutJSONL = outJSONL
		return nil
	}
}

// WithViper reads preds_json and out_jsonl, normally bound to flags.
func WithViper(v *viper.Viper) Option {
	return func(c *Config) error {
		if err := v.Unmarshal(c); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %+v", err)
		}
		return nil
	}
}

func (c *Config) Validate() error {
	return validator.New().Struct(c)
}
