package hub

import (
	"fmt"
	"net/http"
	"net/url"

	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

// HubClientParams represents the parameters that can be injected into the Hub client
type HubClientParams struct {
	fx.In

	Logger logging.Interface `name:"hub_logger"`
	// Token overrides any token from config or environment when set, e.g.
	// one read from a secrets file.
	Token string `name:"hf_token" optional:"true"`
}

// HubClient talks to the Hugging Face Hub HTTP API.
type HubClient struct {
	config       *HubConfig
	logger       logging.Interface
	httpClient   *http.Client
	endpointHost string
}

// NewHubClient creates a new Hub client with the provided configuration
func NewHubClient(config *HubConfig) (*HubClient, error) {
	if err := config.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("invalid hub config: %w", err)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = GetHTTPClient()
	}

	endpoint, err := url.Parse(config.Endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid hub endpoint: %w", err)
	}

	return &HubClient{
		config:       config,
		logger:       config.Logger,
		httpClient:   httpClient,
		endpointHost: endpoint.Host,
	}, nil
}

// GetConfig returns the client configuration
func (c *HubClient) GetConfig() *HubConfig {
	return c.config
}

// HasToken reports whether requests will be authenticated.
func (c *HubClient) HasToken() bool {
	return c.config.Token != ""
}

// Module provides the fx module for dependency injection
var Module = fx.Provide(
	func(v *viper.Viper, params HubClientParams) (*HubClient, error) {
		opts := []HubOption{WithViper(v), WithLogger(params.Logger)}
		if params.Token != "" {
			opts = append(opts, WithToken(params.Token))
		}

		config, err := NewHubConfig(opts...)
		if err != nil {
			return nil, fmt.Errorf("error creating hub config: %w", err)
		}

		return NewHubClient(config)
	})
