package subscription

import (
	"github.com/smallbiznis/tably/internal/subscription/repository"
	"github.com/smallbiznis/tably/internal/subscription/service"
	"go.uber.org/fx"
)

var Module = fx.Module("subscription",
	fx.Provide(
		repository.Provide,
		service.NewService,
	),
)
