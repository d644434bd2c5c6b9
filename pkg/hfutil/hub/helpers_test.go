package hub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/hfutil/hub/hubtest"
	"github.com/sgl-project/ome-loop/pkg/logging"
)

func newTestClient(t *testing.T, srv *hubtest.Server) *HubClient {
	t.Helper()

	config, err := NewHubConfig(
		WithLogger(logging.Discard()),
		WithEndpoint(srv.URL),
		WithToken("hf_test"),
		WithRetryConfig(2, time.Millisecond),
		WithProgressBars(false),
	)
	require.NoError(t, err)

	client, err := NewHubClient(config)
	require.NoError(t, err)
	return client
}

func newTestServer(t *testing.T) *hubtest.Server {
	t.Helper()
	srv := hubtest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}
