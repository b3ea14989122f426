package migration

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, genID *snowflake.Node) error {
		if err := Run(conn); err != nil {
			return err
		}
		return SeedPlans(conn, genID)
	}),
)
