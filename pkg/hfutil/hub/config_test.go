package hub

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

func TestNewHubConfig_Defaults(t *testing.T) {
	t.Setenv(EnvHfToken, "  hf_env  \n")
	t.Setenv(EnvHfEndpoint, "https://mirror.example/")

	c, err := NewHubConfig(WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.Equal(t, "hf_env", c.Token)
	assert.Equal(t, "https://mirror.example", c.Endpoint)
	assert.Equal(t, DefaultMaxRetries, c.MaxRetries)
	require.NoError(t, c.ValidateConfig())
}

func TestNewHubConfig_Options(t *testing.T) {
	c, err := NewHubConfig(
		WithLogger(logging.Discard()),
		WithToken("hf_x\n"),
		WithEndpoint("http://127.0.0.1:9999/"),
		WithTimeouts(time.Second, 0, 3*time.Second),
		WithRetryConfig(1, time.Millisecond),
		WithProgressBars(false),
	)
	require.NoError(t, err)
	assert.Equal(t, "hf_x", c.Token)
	assert.Equal(t, "http://127.0.0.1:9999", c.Endpoint)
	assert.Equal(t, time.Second, c.RequestTimeout)
	assert.Equal(t, DownloadTimeout, c.DownloadTimeout)
	assert.Equal(t, 3*time.Second, c.UploadTimeout)
	assert.True(t, c.DisableProgressBars)

	_, err = NewHubConfig(WithRetryConfig(-1, 0))
	assert.Error(t, err)
	_, err = NewHubConfig(WithEndpoint(""))
	assert.Error(t, err)
	_, err = NewHubConfig(WithLogger(nil))
	assert.Error(t, err)
}

func TestNewHubConfig_Viper(t *testing.T) {
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(`
hub:
  endpoint: https://hub.internal/
  max_retries: 7
  retry_interval: 3s
  disable_progress_bars: true
`)))

	c, err := NewHubConfig(WithViper(v), WithLogger(logging.Discard()))
	require.NoError(t, err)
	assert.Equal(t, "https://hub.internal", c.Endpoint)
	assert.Equal(t, 7, c.MaxRetries)
	assert.Equal(t, 3*time.Second, c.RetryInterval)
	assert.True(t, c.DisableProgressBars)
}

func TestValidateConfig(t *testing.T) {
	c, err := NewHubConfig(WithLogger(logging.Discard()))
	require.NoError(t, err)

	c.Endpoint = "not a url"
	assert.Error(t, c.ValidateConfig())

	c.Endpoint = DefaultEndpoint
	c.Logger = nil
	assert.Error(t, c.ValidateConfig())
}
