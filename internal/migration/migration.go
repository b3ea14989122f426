// Package migration creates the schema on startup so local and self-hosted
// deployments work out of the box, and seeds the default plan catalog when
// it is empty.
package migration

import (
	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

func Run(db *gorm.DB) error {
	return db.AutoMigrate(
		&plandomain.Plan{},
		&subscriptiondomain.Subscription{},
	)
}

// SeedPlans inserts the default catalog if no plans exist. Prices are in
// rupees.
func SeedPlans(db *gorm.DB, genID *snowflake.Node) error {
	var count int64
	if err := db.Model(&plandomain.Plan{}).Count(&count).Error; err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	plans := []plandomain.Plan{
		{
			ID:           genID.Generate(),
			Name:         "starter",
			Description:  "Single hotel, small team",
			MonthlyPrice: 999,
			YearlyPrice:  9990,
			Currency:     "INR",
			Features: datatypes.JSONMap{
				"qr_menu":          true,
				"online_ordering":  false,
				"custom_branding":  false,
				"priority_support": false,
			},
			MaxHotels:         1,
			MaxBranches:       1,
			MaxManagers:       2,
			MaxStaff:          10,
			MaxTables:         20,
			MaxOrdersPerMonth: 1000,
			MaxStorageGB:      1,
			IsActive:          true,
		},
		{
			ID:           genID.Generate(),
			Name:         "growth",
			Description:  "Multiple branches, online ordering",
			MonthlyPrice: 2499,
			YearlyPrice:  24990,
			Currency:     "INR",
			Features: datatypes.JSONMap{
				"qr_menu":          true,
				"online_ordering":  true,
				"custom_branding":  false,
				"priority_support": false,
			},
			MaxHotels:         3,
			MaxBranches:       10,
			MaxManagers:       10,
			MaxStaff:          50,
			MaxTables:         100,
			MaxOrdersPerMonth: 10000,
			MaxStorageGB:      10,
			IsActive:          true,
		},
		{
			ID:           genID.Generate(),
			Name:         "enterprise",
			Description:  "Chains with custom branding and support",
			MonthlyPrice: 7999,
			YearlyPrice:  79990,
			Currency:     "INR",
			Features: datatypes.JSONMap{
				"qr_menu":          true,
				"online_ordering":  true,
				"custom_branding":  true,
				"priority_support": true,
			},
			MaxHotels:         25,
			MaxBranches:       100,
			MaxManagers:       100,
			MaxStaff:          1000,
			MaxTables:         2000,
			MaxOrdersPerMonth: 200000,
			MaxStorageGB:      100,
			IsActive:          true,
		},
	}
	return db.Create(&plans).Error
}
