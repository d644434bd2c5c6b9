// Package hubsynctest wires a hubsync.Syncer to an in-process fake Hub.
package hubsynctest

import (
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub/hubtest"
	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
)

// T is the subset of testing.TB the helpers need; GinkgoT() satisfies it.
type T interface {
	Helper()
	Cleanup(func())
	Setenv(key, value string)
	Errorf(format string, args ...interface{})
	FailNow()
}

// Token is the token NewSyncer authenticates with.
const Token = "hf_test"

// NewServer starts a fake Hub closed at test cleanup.
func NewServer(t T) *hubtest.Server {
	t.Helper()
	srv := hubtest.NewServer()
	t.Cleanup(srv.Close)
	return srv
}

// NewClient returns a Hub client for srv. An empty token leaves the client
// unauthenticated.
func NewClient(t T, srv *hubtest.Server, token string) *hub.HubClient {
	t.Helper()
	t.Setenv("HF_TOKEN", "")
	opts := []hub.HubOption{
		hub.WithLogger(logging.Discard()),
		hub.WithEndpoint(srv.URL),
		hub.WithRetryConfig(1, time.Millisecond),
		hub.WithProgressBars(false),
	}
	if token != "" {
		opts = append(opts, hub.WithToken(token))
	}
	config, err := hub.NewHubConfig(opts...)
	require.NoError(t, err)
	client, err := hub.NewHubClient(config)
	require.NoError(t, err)
	return client
}

// NewSyncer returns a Syncer for srv authenticated with token.
func NewSyncer(t T, srv *hubtest.Server, token string, m *metrics.Metrics) *hubsync.Syncer {
	t.Helper()
	return hubsync.NewSyncer(NewClient(t, srv, token), logging.Discard(), m)
}
