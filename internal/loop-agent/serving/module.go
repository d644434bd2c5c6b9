package serving

import (
	"fmt"

	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/internal/loop-agent/common"
	"github.com/sgl-project/ome-loop/pkg/logging"
)

type servingParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"stage_log"`
	Runner        *common.Runner
}

var Module = fx.Provide(
	func(params servingParams) (*Server, error) {
		config, err := NewConfig(
			WithAnotherLog(params.AnotherLogger),
			WithRunner(params.Runner),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating serving config: %+v", err)
		}
		return NewServer(config)
	})
