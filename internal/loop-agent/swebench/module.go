package swebench

import (
	"fmt"

	"github.com/spf13/afero"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	"github.com/sgl-project/ome-loop/pkg/hfutil/hub"
	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type runnerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"stage_log"`
	Run           *runconfig.Config
	Client        *hub.HubClient
	Syncer        *hubsync.Syncer
	Exec          *common.Runner
	Fs            afero.Fs
	Metrics       *metrics.Metrics `optional:"true"`
}

var Module = fx.Provide(
	func(params runnerParams) (*Runner, error) {
		config, err := NewConfig(
			WithAnotherLog(params.AnotherLogger),
			WithRunConfig(params.Run),
			WithHub(params.Client, params.Syncer),
			WithExec(params.Exec),
			WithFs(params.Fs),
			WithMetrics(params.Metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating swebench config: %+v", err)
		}
		return NewRunner(config)
	})
