package plan

import (
	"github.com/smallbiznis/tably/internal/plan/repository"
	"github.com/smallbiznis/tably/internal/plan/service"
	"go.uber.org/fx"
)

var Module = fx.Module("plan",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
