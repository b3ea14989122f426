// Package domain contains reference data models for subscription plans.
package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
)

// ResourceType identifies a quota-limited resource on a plan.
type ResourceType string

const (
	ResourceHotels          ResourceType = "hotels"
	ResourceBranches        ResourceType = "branches"
	ResourceManagers        ResourceType = "managers"
	ResourceStaff           ResourceType = "staff"
	ResourceTables          ResourceType = "tables"
	ResourceOrdersThisMonth ResourceType = "orders_this_month"
	ResourceStorageGB       ResourceType = "storage_gb"
)

// AllResourceTypes enumerates every quota-limited resource.
var AllResourceTypes = []ResourceType{
	ResourceHotels,
	ResourceBranches,
	ResourceManagers,
	ResourceStaff,
	ResourceTables,
	ResourceOrdersThisMonth,
	ResourceStorageGB,
}

// Plan is reference data: price per cycle, feature flags and resource limits.
// Identity is immutable once issued; subscriptions reference it by ID.
type Plan struct {
	ID                snowflake.ID      `gorm:"primaryKey"`
	Name              string            `gorm:"type:text;not null;uniqueIndex"`
	Description       string            `gorm:"type:text"`
	MonthlyPrice      int64             `gorm:"not null"`
	YearlyPrice       int64             `gorm:"not null"`
	Currency          string            `gorm:"type:text;not null;default:INR"`
	Features          datatypes.JSONMap `gorm:"type:jsonb"`
	MaxHotels         int               `gorm:"not null"`
	MaxBranches       int               `gorm:"not null"`
	MaxManagers       int               `gorm:"not null"`
	MaxStaff          int               `gorm:"not null"`
	MaxTables         int               `gorm:"not null"`
	MaxOrdersPerMonth int               `gorm:"not null"`
	MaxStorageGB      int               `gorm:"not null"`
	IsActive          bool              `gorm:"not null;default:true"`
	CreatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
	UpdatedAt         time.Time         `gorm:"not null;default:CURRENT_TIMESTAMP"`
}

// TableName sets the database table name.
func (Plan) TableName() string { return "subscription_plans" }

// LimitFor maps a resource type to its limit column. The mapping is explicit
// so an unknown resource fails here instead of at a dynamic field lookup.
func (p Plan) LimitFor(resource ResourceType) (int, error) {
	switch resource {
	case ResourceHotels:
		return p.MaxHotels, nil
	case ResourceBranches:
		return p.MaxBranches, nil
	case ResourceManagers:
		return p.MaxManagers, nil
	case ResourceStaff:
		return p.MaxStaff, nil
	case ResourceTables:
		return p.MaxTables, nil
	case ResourceOrdersThisMonth:
		return p.MaxOrdersPerMonth, nil
	case ResourceStorageGB:
		return p.MaxStorageGB, nil
	default:
		return 0, ErrUnknownResource
	}
}

// PriceFor returns the plan's current rate for a billing cycle.
func (p Plan) PriceFor(cycle string) (int64, error) {
	switch cycle {
	case "monthly":
		return p.MonthlyPrice, nil
	case "yearly":
		return p.YearlyPrice, nil
	default:
		return 0, ErrInvalidBillingCycle
	}
}

// HasFeature reports whether a feature flag is enabled on the plan.
func (p Plan) HasFeature(name string) bool {
	if p.Features == nil {
		return false
	}
	enabled, ok := p.Features[name].(bool)
	return ok && enabled
}

var (
	ErrPlanNotFound        = errors.New("plan_not_found")
	ErrPlanInactive        = errors.New("plan_inactive")
	ErrUnknownResource     = errors.New("unknown_resource_type")
	ErrInvalidBillingCycle = errors.New("invalid_billing_cycle")
)
