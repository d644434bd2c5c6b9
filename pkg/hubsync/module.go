package hubsync

import (
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type syncerParams struct {
	fx.In

	Client  *hub.HubClient
	Logger  logging.Interface `name:"hub_logger"`
	Metrics *metrics.Metrics  `optional:"true"`
}

type tokenResult struct {
	fx.Out

	Token string `name:"hf_token"`
}

// Module resolves the Hub token for the hub client and provides the Syncer.
var Module = fx.Options(
	hub.Module,
	fx.Provide(
		func(rc *runconfig.Config) (tokenResult, error) {
			tok, err := ResolveToken(rc.Root)
			return tokenResult{Token: tok}, err
		},
		func(p syncerParams) *Syncer {
			return NewSyncer(p.Client, p.Logger, p.Metrics)
		},
	),
)
