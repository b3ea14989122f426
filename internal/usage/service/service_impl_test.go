package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tably/internal/clock"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	planrepository "github.com/smallbiznis/tably/internal/plan/repository"
	planservice "github.com/smallbiznis/tably/internal/plan/service"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/tably/internal/subscription/repository"
	usagedomain "github.com/smallbiznis/tably/internal/usage/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type usageFixture struct {
	svc   usagedomain.Service
	db    *gorm.DB
	node  *snowflake.Node
	subID snowflake.ID
}

func setupUsage(t *testing.T, initial subscriptiondomain.Usage) *usageFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, db.AutoMigrate(&plandomain.Plan{}, &subscriptiondomain.Subscription{}))

	node, err := snowflake.NewNode(3)
	require.NoError(t, err)
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	plan := plandomain.Plan{
		ID:                node.Generate(),
		Name:              "starter",
		MonthlyPrice:      999,
		YearlyPrice:       9990,
		Currency:          "INR",
		MaxHotels:         1,
		MaxBranches:       2,
		MaxManagers:       2,
		MaxStaff:          10,
		MaxTables:         20,
		MaxOrdersPerMonth: 1000,
		MaxStorageGB:      5,
		Features:          datatypes.JSONMap{"qr_menu": true},
		IsActive:          true,
	}
	require.NoError(t, db.Create(&plan).Error)

	usage, err := subscriptiondomain.EncodeUsage(initial)
	require.NoError(t, err)
	history, err := subscriptiondomain.EncodePayments(nil)
	require.NoError(t, err)
	sub := subscriptiondomain.Subscription{
		ID:             node.Generate(),
		AdminID:        node.Generate(),
		PlanID:         plan.ID,
		Status:         subscriptiondomain.StatusActive,
		BillingCycle:   subscriptiondomain.BillingCycleMonthly,
		StartDate:      now,
		EndDate:        now.AddDate(0, 1, 0),
		AutoRenew:      true,
		PaymentHistory: history,
		Usage:          usage,
		CreatedAt:      now,
		LastUpdated:    now,
	}
	require.NoError(t, db.Create(&sub).Error)

	log := zap.NewNop()
	svc := NewService(Params{
		DB:      db,
		Log:     log,
		Clock:   clock.NewFakeClock(now),
		Repo:    subscriptionrepository.Provide(),
		PlanSvc: planservice.NewService(planservice.Params{DB: db, Log: log, Repo: planrepository.Provide()}),
	})

	return &usageFixture{svc: svc, db: db, node: node, subID: sub.ID}
}

func TestCheckUnderLimit(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{Tables: 12})

	result, err := f.svc.Check(context.Background(), f.subID, plandomain.ResourceTables)
	require.NoError(t, err)
	assert.True(t, result.Allowed)
	assert.Equal(t, float64(12), result.Current)
	assert.Equal(t, float64(20), result.Limit)
}

func TestCheckAtLimit(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{Hotels: 1})

	result, err := f.svc.Check(context.Background(), f.subID, plandomain.ResourceHotels)
	require.NoError(t, err)
	assert.False(t, result.Allowed)
}

func TestCheckUnknownResource(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{})

	_, err := f.svc.Check(context.Background(), f.subID, "seats")
	assert.ErrorIs(t, err, plandomain.ErrUnknownResource)
}

func TestCheckMissingSubscription(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{})

	_, err := f.svc.Check(context.Background(), f.node.Generate(), plandomain.ResourceHotels)
	assert.ErrorIs(t, err, subscriptiondomain.ErrSubscriptionNotFound)
}

func TestResetMonthlyOrdersKeepsStructuralCounters(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{Hotels: 1, Staff: 4, OrdersThisMonth: 731, StorageUsedGB: 2.5})

	require.NoError(t, f.svc.ResetMonthlyOrders(context.Background(), f.subID))

	snap, err := f.svc.Snapshot(context.Background(), f.subID)
	require.NoError(t, err)
	assert.Equal(t, float64(0), snap.Counters[plandomain.ResourceOrdersThisMonth])
	assert.Equal(t, float64(1), snap.Counters[plandomain.ResourceHotels])
	assert.Equal(t, float64(4), snap.Counters[plandomain.ResourceStaff])
	assert.Equal(t, 2.5, snap.Counters[plandomain.ResourceStorageGB])
}

func TestReinitializeZeroesEverything(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{Hotels: 1, Branches: 2, OrdersThisMonth: 55})

	require.NoError(t, f.svc.Reinitialize(context.Background(), f.subID))

	snap, err := f.svc.Snapshot(context.Background(), f.subID)
	require.NoError(t, err)
	for _, resource := range plandomain.AllResourceTypes {
		assert.Equal(t, float64(0), snap.Counters[resource], resource)
	}
}

func TestHasFeature(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{})

	enabled, err := f.svc.HasFeature(context.Background(), f.subID, "qr_menu")
	require.NoError(t, err)
	assert.True(t, enabled)

	enabled, err = f.svc.HasFeature(context.Background(), f.subID, "custom_branding")
	require.NoError(t, err)
	assert.False(t, enabled)
}

func TestSnapshotLimits(t *testing.T) {
	f := setupUsage(t, subscriptiondomain.Usage{})

	snap, err := f.svc.Snapshot(context.Background(), f.subID)
	require.NoError(t, err)
	assert.Equal(t, float64(1000), snap.Limits[plandomain.ResourceOrdersThisMonth])
	assert.Equal(t, float64(5), snap.Limits[plandomain.ResourceStorageGB])
}
