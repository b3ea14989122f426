package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/smallbiznis/tably/internal/clock"
	ledgerservice "github.com/smallbiznis/tably/internal/ledger/service"
	"github.com/smallbiznis/tably/internal/notification"
	plandomain "github.com/smallbiznis/tably/internal/plan/domain"
	planrepository "github.com/smallbiznis/tably/internal/plan/repository"
	planservice "github.com/smallbiznis/tably/internal/plan/service"
	subscriptiondomain "github.com/smallbiznis/tably/internal/subscription/domain"
	subscriptionrepository "github.com/smallbiznis/tably/internal/subscription/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type fixture struct {
	svc    subscriptiondomain.Service
	repo   subscriptiondomain.Repository
	db     *gorm.DB
	clock  *clock.FakeClock
	node   *snowflake.Node
	planID snowflake.ID
}

func setupFixture(t *testing.T) *fixture {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, db.AutoMigrate(&plandomain.Plan{}, &subscriptiondomain.Subscription{}))

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	fake := clock.NewFakeClock(time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC))

	plan := plandomain.Plan{
		ID:           node.Generate(),
		Name:         "growth",
		MonthlyPrice: 2499,
		YearlyPrice:  24990,
		Currency:     "INR",
		Features: datatypes.JSONMap{
			"online_ordering": true,
		},
		MaxHotels:         3,
		MaxBranches:       10,
		MaxManagers:       10,
		MaxStaff:          50,
		MaxTables:         100,
		MaxOrdersPerMonth: 10000,
		MaxStorageGB:      10,
		IsActive:          true,
	}
	require.NoError(t, db.Create(&plan).Error)

	log := zap.NewNop()
	planSvc := planservice.NewService(planservice.Params{
		DB:   db,
		Log:  log,
		Repo: planrepository.Provide(),
	})
	repo := subscriptionrepository.Provide()
	ledgerSvc := ledgerservice.NewService(ledgerservice.Params{
		DB:   db,
		Log:  log,
		Repo: repo,
	})

	svc := NewService(Params{
		DB:         db,
		Log:        log,
		GenID:      node,
		Clock:      fake,
		Repo:       repo,
		PlanSvc:    planSvc,
		LedgerSvc:  ledgerSvc,
		Dispatcher: notification.NoOpDispatcher{},
	})

	return &fixture{
		svc:    svc,
		repo:   repo,
		db:     db,
		clock:  fake,
		node:   node,
		planID: plan.ID,
	}
}

// serviceWith rebuilds the lifecycle service on the same database and clock
// but with a substituted repository.
func (f *fixture) serviceWith(t *testing.T, repo subscriptiondomain.Repository) subscriptiondomain.Service {
	t.Helper()
	log := zap.NewNop()
	return NewService(Params{
		DB:    f.db,
		Log:   log,
		GenID: f.node,
		Clock: f.clock,
		Repo:  repo,
		PlanSvc: planservice.NewService(planservice.Params{
			DB:   f.db,
			Log:  log,
			Repo: planrepository.Provide(),
		}),
		LedgerSvc: ledgerservice.NewService(ledgerservice.Params{
			DB:   f.db,
			Log:  log,
			Repo: repo,
		}),
		Dispatcher: notification.NoOpDispatcher{},
	})
}

func (f *fixture) createPending(t *testing.T) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.CreatePending(context.Background(), subscriptiondomain.CreatePendingRequest{
		AdminID:      f.node.Generate(),
		PlanID:       f.planID,
		BillingCycle: subscriptiondomain.BillingCycleMonthly,
	})
	require.NoError(t, err)
	return sub
}

func (f *fixture) activate(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	err := f.svc.Activate(context.Background(), id, subscriptiondomain.ActivationPayment{
		TransactionID: "pay_" + id.String(),
		AmountMinor:   249900,
		Currency:      "INR",
		Method:        "upi",
	})
	require.NoError(t, err)
	return f.reload(t, id)
}

func (f *fixture) reload(t *testing.T, id snowflake.ID) subscriptiondomain.Subscription {
	t.Helper()
	sub, err := f.svc.GetByID(context.Background(), id)
	require.NoError(t, err)
	return sub
}

func TestCreatePendingValidations(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreatePending(ctx, subscriptiondomain.CreatePendingRequest{
		AdminID:      f.node.Generate(),
		PlanID:       f.planID,
		BillingCycle: "weekly",
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidBillingCycle)

	_, err = f.svc.CreatePending(ctx, subscriptiondomain.CreatePendingRequest{
		AdminID:      f.node.Generate(),
		PlanID:       f.node.Generate(),
		BillingCycle: subscriptiondomain.BillingCycleMonthly,
	})
	assert.ErrorIs(t, err, plandomain.ErrPlanNotFound)
}

func TestCreatePendingRejectsSecondActiveSubscription(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	f.activate(t, sub.ID)

	_, err := f.svc.CreatePending(context.Background(), subscriptiondomain.CreatePendingRequest{
		AdminID:      sub.AdminID,
		PlanID:       f.planID,
		BillingCycle: subscriptiondomain.BillingCycleMonthly,
	})
	assert.ErrorIs(t, err, subscriptiondomain.ErrAdminHasSubscription)
}

func TestActivateStartsWindowAtCaptureTime(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)

	f.clock.Advance(48 * time.Hour)
	now := f.clock.Now()
	activated := f.activate(t, sub.ID)

	assert.Equal(t, subscriptiondomain.StatusActive, activated.Status)
	assert.True(t, activated.StartDate.Equal(now))
	assert.True(t, activated.EndDate.Equal(now.AddDate(0, 1, 0)))

	records, err := activated.Payments()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, subscriptiondomain.PaymentStatusSuccess, records[0].Status)
	// 249900 paise -> 2499 rupees
	assert.Equal(t, int64(2499), records[0].Amount)
}

func TestActivateRedeliveryIsNoOp(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	f.activate(t, sub.ID)

	// Gateway redelivers the same capture.
	err := f.svc.Activate(context.Background(), sub.ID, subscriptiondomain.ActivationPayment{
		TransactionID: "pay_duplicate",
		AmountMinor:   249900,
	})
	require.NoError(t, err)

	reloaded := f.reload(t, sub.ID)
	records, err := reloaded.Payments()
	require.NoError(t, err)
	assert.Len(t, records, 1, "redelivery must not append a second success entry")
}

func TestPaiseConversion(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)

	err := f.svc.Activate(context.Background(), sub.ID, subscriptiondomain.ActivationPayment{
		TransactionID: "pay_1",
		AmountMinor:   50000,
	})
	require.NoError(t, err)

	reloaded := f.reload(t, sub.ID)
	records, err := reloaded.Payments()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, int64(500), records[0].Amount)
}

func TestRecordFailedPaymentKeepsPending(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)

	err := f.svc.RecordFailedPayment(context.Background(), sub.ID, "card_declined")
	require.NoError(t, err)

	reloaded := f.reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusPendingPayment, reloaded.Status)
	records, err := reloaded.Payments()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, subscriptiondomain.PaymentStatusFailed, records[0].Status)
	assert.Equal(t, "card_declined", records[0].Note)
}

func TestRecordFailedPaymentIgnoredOnceActive(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	f.activate(t, sub.ID)

	// An out-of-order payment.failed delivery lands after activation; the
	// pending-only self-loop must skip it, not pollute the audit trail.
	err := f.svc.RecordFailedPayment(context.Background(), sub.ID, "late failure")
	require.NoError(t, err)

	reloaded := f.reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusActive, reloaded.Status)
	records, err := reloaded.Payments()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, subscriptiondomain.PaymentStatusSuccess, records[0].Status)
}

// renewWriteFailRepo fails the renewal write itself while letting every
// other conditional update (the compensation included) through.
type renewWriteFailRepo struct {
	subscriptiondomain.Repository
	err error
}

func (r *renewWriteFailRepo) UpdateIf(ctx context.Context, db *gorm.DB, id snowflake.ID, pre subscriptiondomain.Precondition, m subscriptiondomain.Mutation, now time.Time) (bool, error) {
	if m.AppendPayment != nil && m.AppendPayment.Status == subscriptiondomain.PaymentStatusAutoRenewed {
		return false, r.err
	}
	return r.Repository.UpdateIf(ctx, db, id, pre, m, now)
}

func TestRenewPersistenceFailureCompensates(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	sub := f.createPending(t)
	activated := f.activate(t, sub.ID)
	require.NoError(t, f.svc.SetAutoRenew(ctx, sub.ID, true))

	svc := f.serviceWith(t, &renewWriteFailRepo{
		Repository: f.repo,
		err:        fmt.Errorf("update payment_history: disk I/O error"),
	})

	err := svc.Renew(ctx, sub.ID)
	require.Error(t, err)

	reloaded := f.reload(t, sub.ID)
	assert.False(t, reloaded.AutoRenew, "compensation must disable auto-renew")
	assert.Equal(t, subscriptiondomain.StatusActive, reloaded.Status)
	assert.True(t, reloaded.StartDate.Equal(activated.StartDate))
	assert.True(t, reloaded.EndDate.Equal(activated.EndDate))
	records, err := reloaded.Payments()
	require.NoError(t, err)
	assert.Len(t, records, 1, "no renewal entry may land when the write failed")
}

func TestRefundCancelsWithNegativeEntry(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	f.activate(t, sub.ID)

	err := f.svc.Refund(context.Background(), sub.ID, subscriptiondomain.RefundPayment{
		TransactionID: "rfnd_1",
		AmountMinor:   249900,
	})
	require.NoError(t, err)

	reloaded := f.reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusCancelled, reloaded.Status)
	assert.False(t, reloaded.AutoRenew)

	records, err := reloaded.Payments()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, subscriptiondomain.PaymentStatusRefunded, records[1].Status)
	assert.Equal(t, int64(-2499), records[1].Amount)
}

func TestCancelRequiresReason(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	f.activate(t, sub.ID)

	err := f.svc.Cancel(context.Background(), sub.ID, "")
	assert.ErrorIs(t, err, subscriptiondomain.ErrInvalidReason)

	err = f.svc.Cancel(context.Background(), sub.ID, "switching providers")
	require.NoError(t, err)

	reloaded := f.reload(t, sub.ID)
	assert.Equal(t, subscriptiondomain.StatusCancelled, reloaded.Status)
	require.NotNil(t, reloaded.CancellationReason)
	assert.Equal(t, "switching providers", *reloaded.CancellationReason)
	require.NotNil(t, reloaded.CancelledAt)
	assert.False(t, reloaded.AutoRenew)
}

func TestCancelFromNonActiveIsNoOp(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)

	err := f.svc.Cancel(context.Background(), sub.ID, "changed my mind")
	require.NoError(t, err)
	assert.Equal(t, subscriptiondomain.StatusPendingPayment, f.reload(t, sub.ID).Status)
}

func TestExpireThenArchiveAfterCooldown(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	activated := f.activate(t, sub.ID)

	f.clock.SetTime(activated.EndDate.Add(time.Hour))
	require.NoError(t, f.svc.Expire(context.Background(), sub.ID))
	assert.Equal(t, subscriptiondomain.StatusExpired, f.reload(t, sub.ID).Status)

	// Cooldown not elapsed: archive is a logged skip.
	require.NoError(t, f.svc.Archive(context.Background(), sub.ID))
	assert.Equal(t, subscriptiondomain.StatusExpired, f.reload(t, sub.ID).Status)

	f.clock.Advance(subscriptiondomain.ArchiveCooldown + time.Hour)
	require.NoError(t, f.svc.Archive(context.Background(), sub.ID))
	assert.Equal(t, subscriptiondomain.StatusArchived, f.reload(t, sub.ID).Status)
}

func TestArchivedIsTerminal(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	activated := f.activate(t, sub.ID)

	f.clock.SetTime(activated.EndDate.Add(time.Hour))
	require.NoError(t, f.svc.Expire(context.Background(), sub.ID))
	f.clock.Advance(subscriptiondomain.ArchiveCooldown + time.Hour)
	require.NoError(t, f.svc.Archive(context.Background(), sub.ID))

	// No edge leaves archived.
	require.NoError(t, f.svc.Expire(context.Background(), sub.ID))
	require.NoError(t, f.svc.Cancel(context.Background(), sub.ID, "too late"))
	require.NoError(t, f.svc.Renew(context.Background(), sub.ID))
	assert.Equal(t, subscriptiondomain.StatusArchived, f.reload(t, sub.ID).Status)
}

func TestRenewExtendsFromOldEndDate(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	activated := f.activate(t, sub.ID)
	oldEnd := activated.EndDate

	// Renewal fires a day before expiry; the new window must begin at the
	// old end date, not at "now".
	f.clock.SetTime(oldEnd.Add(-24 * time.Hour))
	require.NoError(t, f.svc.Renew(context.Background(), sub.ID))

	reloaded := f.reload(t, sub.ID)
	assert.True(t, reloaded.StartDate.Equal(oldEnd))
	assert.True(t, reloaded.EndDate.Equal(oldEnd.AddDate(0, 1, 0)))

	records, err := reloaded.Payments()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, subscriptiondomain.PaymentStatusAutoRenewed, records[1].Status)
	assert.Equal(t, int64(2499), records[1].Amount)
}

func TestRenewStaleEndDatePreconditionFails(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	activated := f.activate(t, sub.ID)
	oldEnd := activated.EndDate

	require.NoError(t, f.svc.Renew(context.Background(), sub.ID))

	// A concurrent worker holding the pre-renewal end date loses the CAS.
	active := subscriptiondomain.StatusActive
	updated, err := f.repo.UpdateIf(context.Background(), f.db, sub.ID,
		subscriptiondomain.Precondition{
			Statuses: []subscriptiondomain.Status{subscriptiondomain.StatusActive},
			EndDate:  &oldEnd,
		},
		subscriptiondomain.Mutation{Status: &active},
		f.clock.Now(),
	)
	require.NoError(t, err)
	assert.False(t, updated)
}

func TestUpgradeSwitchesPlanWithPendingEntry(t *testing.T) {
	f := setupFixture(t)

	premium := plandomain.Plan{
		ID:           f.node.Generate(),
		Name:         "enterprise",
		MonthlyPrice: 7999,
		YearlyPrice:  79990,
		Currency:     "INR",
		IsActive:     true,
	}
	require.NoError(t, f.db.Create(&premium).Error)

	sub := f.createPending(t)
	f.activate(t, sub.ID)

	err := f.svc.Upgrade(context.Background(), subscriptiondomain.UpgradeRequest{
		SubscriptionID: sub.ID,
		NewPlanID:      premium.ID,
		BillingCycle:   subscriptiondomain.BillingCycleYearly,
	})
	require.NoError(t, err)

	reloaded := f.reload(t, sub.ID)
	assert.Equal(t, premium.ID, reloaded.PlanID)
	assert.Equal(t, subscriptiondomain.BillingCycleYearly, reloaded.BillingCycle)

	records, err := reloaded.Payments()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, subscriptiondomain.PaymentStatusPending, records[1].Status)
	assert.Equal(t, int64(79990), records[1].Amount)
}

func TestSetAutoRenew(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)
	f.activate(t, sub.ID)

	require.NoError(t, f.svc.SetAutoRenew(context.Background(), sub.ID, false))
	assert.False(t, f.reload(t, sub.ID).AutoRenew)

	require.NoError(t, f.svc.SetAutoRenew(context.Background(), sub.ID, true))
	assert.True(t, f.reload(t, sub.ID).AutoRenew)
}

func TestLedgerOrderPreserved(t *testing.T) {
	f := setupFixture(t)
	sub := f.createPending(t)

	require.NoError(t, f.svc.RecordFailedPayment(context.Background(), sub.ID, "insufficient_funds"))
	f.clock.Advance(time.Minute)
	require.NoError(t, f.svc.RecordFailedPayment(context.Background(), sub.ID, "card_declined"))
	f.clock.Advance(time.Minute)
	f.activate(t, sub.ID)

	reloaded := f.reload(t, sub.ID)
	records, err := reloaded.Payments()
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "insufficient_funds", records[0].Note)
	assert.Equal(t, "card_declined", records[1].Note)
	assert.Equal(t, subscriptiondomain.PaymentStatusSuccess, records[2].Status)
	assert.True(t, records[0].Date.Before(records[2].Date))
}
