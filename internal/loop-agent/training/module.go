package training

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/metrics"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type trainerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"stage_log"`
	Run           *runconfig.Config
	Syncer        *hubsync.Syncer
	Runner        *common.Runner
	Fs            aferoutil.Fs
	Metrics       *metrics.Metrics `optional:"true"`
}

var Module = fx.Provide(
	func(params trainerParams) (*Trainer, error) {
		config, err := NewConfig(
			WithAnotherLog(params.AnotherLogger),
			WithRunConfig(params.Run),
			WithSyncer(params.Syncer),
			WithRunner(params.Runner),
			WithFs(params.Fs),
			WithMetrics(params.Metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating training config: %+v", err)
		}
		return NewTrainer(config)
	})
