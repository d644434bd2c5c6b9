package snapshot

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/pkg/hubsync"
	"github.com/sgl-project/ome-loop/pkg/logging"
	"github.com/sgl-project/ome-loop/pkg/runconfig"
)

type snapshotParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"stage_log"`
	Run           *runconfig.Config
	Syncer        *hubsync.Syncer
}

var Module = fx.Provide(
	func(params snapshotParams) (*Snapshotter, error) {
		config, err := NewConfig(
			WithAnotherLog(params.AnotherLogger),
			WithRunConfig(params.Run),
			WithSyncer(params.Syncer),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating snapshot config: %+v", err)
		}
		return NewSnapshotter(config)
	})
