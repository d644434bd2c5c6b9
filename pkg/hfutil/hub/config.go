package hub

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/sgl-project/ome-loop/pkg/configutils"
	"github.com/sgl-project/ome-loop/pkg/logging"
)

// ConfigKey is the viper key holding the hub client settings.
const ConfigKey = "hub"

// HubConfig represents the configuration for the Hugging Face Hub client
type HubConfig struct {
	Logger     logging.Interface `validate:"required"`
	HTTPClient *http.Client

	Token               string        `mapstructure:"hf_token"`
	Endpoint            string        `mapstructure:"endpoint" validate:"required,url"`
	UserAgent           string        `mapstructure:"user_agent"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout" validate:"gt=0"`
	DownloadTimeout     time.Duration `mapstructure:"download_timeout" validate:"gt=0"`
	UploadTimeout       time.Duration `mapstructure:"upload_timeout" validate:"gt=0"`
	MaxRetries          int           `mapstructure:"max_retries" validate:"gte=0"`
	RetryInterval       time.Duration `mapstructure:"retry_interval"`
	DisableProgressBars bool          `mapstructure:"disable_progress_bars"`
	EnableDetailedLogs  bool          `mapstructure:"enable_detailed_logs"`
}

func defaultHubConfig() *HubConfig {
	return &HubConfig{
		Endpoint:            GetEndpoint(),
		UserAgent:           DefaultUserAgent,
		RequestTimeout:      DefaultRequestTimeout,
		DownloadTimeout:     DownloadTimeout,
		UploadTimeout:       UploadTimeout,
		MaxRetries:          DefaultMaxRetries,
		RetryInterval:       DefaultRetryInterval,
		DisableProgressBars: progressDisabledByEnv(),
		Token:               GetHfToken(),
	}
}

// HubOption represents a configuration option function
type HubOption func(*HubConfig) error

// Apply applies the given options to the configuration
func (c *HubConfig) Apply(opts ...HubOption) error {
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

// NewHubConfig builds and returns a new configuration from the given options
func NewHubConfig(opts ...HubOption) (*HubConfig, error) {
	c := defaultHubConfig()
	if err := c.Apply(opts...); err != nil {
		return nil, err
	}

	return c, nil
}

// WithLogger specifies the logger
func WithLogger(logger logging.Interface) HubOption {
	return func(c *HubConfig) error {
		if logger == nil {
			return errors.New("invalid logger nil")
		}

		c.Logger = logger
		return nil
	}
}

// WithToken specifies the HF token. Surrounding whitespace is dropped since
// tokens are usually read from files.
func WithToken(token string) HubOption {
	return func(c *HubConfig) error {
		c.Token = strings.TrimSpace(token)
		return nil
	}
}

// WithEndpoint specifies the Hub endpoint
func WithEndpoint(endpoint string) HubOption {
	return func(c *HubConfig) error {
		if endpoint == "" {
			return errors.New("endpoint cannot be empty")
		}
		c.Endpoint = strings.TrimRight(endpoint, "/")
		return nil
	}
}

// WithHTTPClient replaces the shared pooled client, mostly for tests.
func WithHTTPClient(client *http.Client) HubOption {
	return func(c *HubConfig) error {
		c.HTTPClient = client
		return nil
	}
}

// WithTimeouts specifies various timeout values. Zero keeps the current value.
func WithTimeouts(request, download, upload time.Duration) HubOption {
	return func(c *HubConfig) error {
		if request > 0 {
			c.RequestTimeout = request
		}
		if download > 0 {
			c.DownloadTimeout = download
		}
		if upload > 0 {
			c.UploadTimeout = upload
		}
		return nil
	}
}

// WithRetryConfig specifies retry configuration
func WithRetryConfig(maxRetries int, retryInterval time.Duration) HubOption {
	return func(c *HubConfig) error {
		if maxRetries < 0 {
			return errors.New("max retries cannot be negative")
		}
		c.MaxRetries = maxRetries
		c.RetryInterval = retryInterval
		return nil
	}
}

// WithProgressBars enables or disables progress bars
func WithProgressBars(enabled bool) HubOption {
	return func(c *HubConfig) error {
		c.DisableProgressBars = !enabled
		return nil
	}
}

// WithDetailedLogs enables or disables per-file logging
func WithDetailedLogs(enabled bool) HubOption {
	return func(c *HubConfig) error {
		c.EnableDetailedLogs = enabled
		return nil
	}
}

// WithViper resolves the settings under the "hub" key. Environment variables
// LOOP_AGENT_HUB_* override the file.
func WithViper(v *viper.Viper) HubOption {
	return func(c *HubConfig) error {
		if v == nil {
			return errors.New("nil Viper")
		}

		if err := configutils.BindEnvsRecursive(v, c, ConfigKey); err != nil {
			return fmt.Errorf("error occurred when binding envs: %w", err)
		}

		if err := v.UnmarshalKey(ConfigKey, c); err != nil {
			return fmt.Errorf("error occurred when unmarshalling config: %w", err)
		}
		c.Endpoint = strings.TrimRight(c.Endpoint, "/")
		return nil
	}
}

// ValidateConfig validates the configuration
func (c *HubConfig) ValidateConfig() error {
	return validator.New().Struct(c)
}

// CreateProgressManager creates a progress manager from the configuration
func (c *HubConfig) CreateProgressManager() *ProgressManager {
	return NewProgressManager(
		c.Logger,
		!c.DisableProgressBars,
		c.EnableDetailedLogs,
	)
}
