package merge

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	aferoutil "github.com/sgl-project/ome-loop/pkg/afero"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type mergeParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"stage_log"`
	Run           *runconfig.Config
	Fs            aferoutil.Fs
	Runner        *common.Runner
}

var Module = fx.Provide(
	func(params mergeParams) (*Merger, error) {
		config, err := NewConfig(
			WithAnotherLog(params.AnotherLogger),
			WithRunConfig(params.Run),
			WithFs(params.Fs),
			WithRunner(params.Runner),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating merge config: %+v", err)
		}
		return NewMerger(config)
	})
