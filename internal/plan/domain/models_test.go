package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func testPlan() Plan {
	return Plan{
		Name:              "growth",
		MonthlyPrice:      2499,
		YearlyPrice:       24990,
		Currency:          "INR",
		MaxHotels:         3,
		MaxBranches:       10,
		MaxManagers:       10,
		MaxStaff:          50,
		MaxTables:         100,
		MaxOrdersPerMonth: 10000,
		MaxStorageGB:      10,
		Features: datatypes.JSONMap{
			"online_ordering": true,
			"custom_branding": false,
			"seat_count":      4,
		},
	}
}

func TestLimitForEveryResource(t *testing.T) {
	plan := testPlan()

	expected := map[ResourceType]int{
		ResourceHotels:          3,
		ResourceBranches:        10,
		ResourceManagers:        10,
		ResourceStaff:           50,
		ResourceTables:          100,
		ResourceOrdersThisMonth: 10000,
		ResourceStorageGB:       10,
	}
	require.Len(t, expected, len(AllResourceTypes))

	for _, resource := range AllResourceTypes {
		limit, err := plan.LimitFor(resource)
		require.NoError(t, err, resource)
		assert.Equal(t, expected[resource], limit, resource)
	}
}

func TestLimitForUnknownResource(t *testing.T) {
	_, err := testPlan().LimitFor("seats")
	assert.ErrorIs(t, err, ErrUnknownResource)
}

func TestPriceFor(t *testing.T) {
	plan := testPlan()

	monthly, err := plan.PriceFor("monthly")
	require.NoError(t, err)
	assert.Equal(t, int64(2499), monthly)

	yearly, err := plan.PriceFor("yearly")
	require.NoError(t, err)
	assert.Equal(t, int64(24990), yearly)

	_, err = plan.PriceFor("weekly")
	assert.ErrorIs(t, err, ErrInvalidBillingCycle)
}

func TestHasFeature(t *testing.T) {
	plan := testPlan()

	assert.True(t, plan.HasFeature("online_ordering"))
	assert.False(t, plan.HasFeature("custom_branding"))
	assert.False(t, plan.HasFeature("unknown_flag"))
	// Non-boolean values never count as enabled.
	assert.False(t, plan.HasFeature("seat_count"))

	var bare Plan
	assert.False(t, bare.HasFeature("online_ordering"))
}
