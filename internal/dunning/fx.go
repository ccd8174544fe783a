package dunning

import (
	"github.com/smallbiznis/kitchenbill/internal/dunning/render"
	"github.com/smallbiznis/kitchenbill/internal/dunning/service"
	"go.uber.org/fx"
)

var Module = fx.Module("dunning.service",
	fx.Provide(render.NewRenderer),
	fx.Provide(service.NewService),
)
