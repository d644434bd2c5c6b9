package sft

import (
	"fmt"

	"github.com/spf13/afero"
	"github.com/spf13/viper"
	"go.uber.org/fx"

	"github.com/sgl-project/ome-loop/pkg/logging"
)

type distillerParams struct {
	fx.In

	AnotherLogger logging.Interface `name:"stage_log"`
	Fs            afero.Fs
}

var Module = fx.Provide(
	func(v *viper.Viper, params distillerParams) (*Distiller, error) {
		config, err := NewConfig(
			WithViper(v),
			WithAnotherLog(params.AnotherLogger),
			WithFs(params.Fs),
		)
		if err != nil {
			return nil, fmt.Errorf("error creating sft config: %+v", err)
		}
		return NewDistiller(config)
	})
