package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
)

// CheckResult reports whether a tenant may create another unit of a
// resource under its current plan.
type CheckResult struct {
	Resource plandomain.ResourceType `json:"resource"`
	Current  float64                 `json:"current"`
	Limit    float64                 `json:"limit"`
	Allowed  bool                    `json:"allowed"`
}

// Service tracks per-subscription resource counters against plan limits.
// Counters other than the monthly order count are maintained by the
// catalog and order subsystems; this service only reads them.
type Service interface {
	// Reinitialize zeroes every counter. Called on activation.
	Reinitialize(ctx context.Context, subscriptionID snowflake.ID) error
	// ResetMonthlyOrders zeroes only the monthly order counter, leaving
	// the structural counters untouched.
	ResetMonthlyOrders(ctx context.Context, subscriptionID snowflake.ID) error
	Check(ctx context.Context, subscriptionID snowflake.ID, resource plandomain.ResourceType) (CheckResult, error)
	HasFeature(ctx context.Context, subscriptionID snowflake.ID, feature string) (bool, error)
	Snapshot(ctx context.Context, subscriptionID snowflake.ID) (Snapshot, error)
}

// Snapshot pairs the decoded counters with the plan limits they are
// measured against.
type Snapshot struct {
	Counters map[plandomain.ResourceType]float64 `json:"counters"`
	Limits   map[plandomain.ResourceType]float64 `json:"limits"`
}
